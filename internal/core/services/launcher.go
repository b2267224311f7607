package services

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/fleecy/participant/internal/core/ports"
	"github.com/fleecy/participant/internal/domain"
	"github.com/fleecy/participant/internal/infrastructure/logger"
)

type LaunchResult struct {
	Output       string
	Listing      string
	ProcessCheck string
	PID          int
	Status       domain.TaskStatus
	ExitCode     *int
	// Ambiguous is set when the probe could not confirm the process. The
	// launch itself still counts as a success.
	Ambiguous bool
}

// Launcher starts a workload detached from the session so it survives
// disconnect. The pid and exit status are left beside the log for the probe.
type Launcher struct {
	probeTimeout time.Duration
	logger       *logger.Logger
}

func NewLauncher(probeTimeout time.Duration, log *logger.Logger) *Launcher {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &Launcher{probeTimeout: probeTimeout, logger: log}
}

// envLoader exports each non-empty KEY=VALUE line of the env file as is.
// Values are never evaluated by the shell.
const envLoader = `while IFS= read -r l || [ -n "$l" ]; do if [ -n "$l" ]; then export "$l"; fi; done < ./%s`

// LaunchCommand is the exact shell line used to start a task. Only the
// workload is backgrounded, so a broken .env fails the launch synchronously
// and no process keeps the session's output streams open. The exit recorder
// sits on its own line so a trailing `&` or comment cannot swallow it.
func LaunchCommand(ws, taskID string, spec domain.CommandSpec) string {
	inner := spec.ShellCommand() + "\necho $? > " + domain.ExitFileName(taskID)
	return fmt.Sprintf(
		"cd %s && "+envLoader+" && { nohup sh -c %s > %s 2>&1 < /dev/null & echo $! > %s; }",
		shellQuote(ws),
		domain.EnvFileName,
		shellQuote(inner),
		domain.LogFileName(taskID),
		shellQuote(path.Join(ws, domain.PIDFileName(taskID))),
	)
}

func (l *Launcher) Launch(ctx context.Context, session ports.RemoteSession, ws, taskID string, spec domain.CommandSpec) (*LaunchResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}

	res, err := session.Run(ctx, LaunchCommand(ws, taskID, spec))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}
	if stderr := stripBenignStderr(res.Stderr); stderr != "" || res.ExitStatus != 0 {
		if stderr == "" {
			stderr = fmt.Sprintf("launch exited with status %d", res.ExitStatus)
		}
		return nil, fmt.Errorf("%w: %s", ErrLaunchFailed, stderr)
	}

	result := &LaunchResult{Output: res.Stdout}

	if listing, err := session.Run(ctx, "ls -la "+shellQuote(ws)); err == nil {
		result.Listing = listing.Stdout
		l.logger.Debugw("workspace_listing", "task_id", taskID, "listing", listing.Stdout)
	}

	pr, err := probe(ctx, session, l.probeTimeout, ws, taskID, spec.ProbeToken())
	if err != nil {
		l.logger.Warnw("launch_probe_failed", "task_id", taskID, "error", err)
	}
	result.PID = pr.PID
	if result.PID == 0 {
		result.PID = readPID(ctx, session, ws, taskID)
	}
	result.Status = pr.TaskStatus()
	result.ExitCode = pr.ExitCode
	result.ProcessCheck = pr.Describe()
	result.Ambiguous = !pr.Running() && pr.State != probeExited
	if result.Status == domain.TaskStatusUnknown {
		result.Status = domain.TaskStatusSubmitted
	}

	l.logger.Infow("task_launched",
		"task_id", taskID,
		"command", spec.Label(),
		"pid", result.PID,
		"status", result.Status,
		"ambiguous", result.Ambiguous,
	)
	return result, nil
}

// readPID is used when the probe lost the race with a very short workload.
func readPID(ctx context.Context, session ports.RemoteSession, ws, taskID string) int {
	res, err := session.Run(ctx, "cat "+shellQuote(path.Join(ws, domain.PIDFileName(taskID))))
	if err != nil || res.ExitStatus != 0 {
		return 0
	}
	var pid int
	_, _ = fmt.Sscanf(strings.TrimSpace(res.Stdout), "%d", &pid)
	return pid
}
