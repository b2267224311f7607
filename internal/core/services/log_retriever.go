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

type LogFetchOptions struct {
	// TailLines limits the output to the last N lines when positive.
	TailLines int
}

type LogFetchResult struct {
	Content string
	// ReadError is set when the log could not be read, typically because the
	// workload has not written it yet. It is not a failure of the fetch.
	ReadError      string
	ProcessRunning bool
	ProcessInfo    string
	Status         domain.TaskStatus
	PID            int
	ExitCode       *int
}

type LogRetriever struct {
	baseDir      string
	probeTimeout time.Duration
	logger       *logger.Logger
}

func NewLogRetriever(baseDir string, probeTimeout time.Duration, log *logger.Logger) *LogRetriever {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &LogRetriever{baseDir: baseDir, probeTimeout: probeTimeout, logger: log}
}

// Fetch reads the task log and checks liveness over an open session. Only
// transport failures are returned as errors.
func (r *LogRetriever) Fetch(ctx context.Context, session ports.RemoteSession, taskID string, opts LogFetchOptions) (*LogFetchResult, error) {
	if _, err := domain.CleanRelativePath(taskID); err != nil || strings.Contains(taskID, "/") {
		return nil, fmt.Errorf("%w: task id %q", ErrInvalidTask, taskID)
	}

	ws := domain.WorkspacePath(r.baseDir, taskID)
	logPath := shellQuote(path.Join(ws, domain.LogFileName(taskID)))

	cmd := "cat " + logPath
	if opts.TailLines > 0 {
		cmd = fmt.Sprintf("tail -n %d %s", opts.TailLines, logPath)
	}

	res, err := session.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLogFetch, err)
	}

	out := &LogFetchResult{Content: res.Stdout}
	if res.ExitStatus != 0 || strings.TrimSpace(res.Stderr) != "" {
		out.ReadError = strings.TrimSpace(res.Stderr)
		if out.ReadError == "" {
			out.ReadError = fmt.Sprintf("log read exited with status %d", res.ExitStatus)
		}
	}

	pr, err := probe(ctx, session, r.probeTimeout, ws, taskID, taskID)
	if err != nil {
		r.logger.Warnw("log_probe_failed", "task_id", taskID, "error", err)
	}
	out.ProcessRunning = pr.Running()
	out.ProcessInfo = pr.Info
	if pr.State != probeUnknown {
		out.ProcessInfo = strings.TrimSpace(pr.Describe())
	}
	out.Status = pr.TaskStatus()
	out.PID = pr.PID
	out.ExitCode = pr.ExitCode

	return out, nil
}
