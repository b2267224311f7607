package services

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/fleecy/participant/internal/core/ports"
	"github.com/fleecy/participant/internal/domain"
)

type probeState string

const (
	probeRunning probeState = "running"
	probeExited  probeState = "exited"
	probeGone    probeState = "gone"
	probeUnknown probeState = "unknown"
)

// probeResult is what the remote process table says about one task.
type probeResult struct {
	State    probeState
	PID      int
	ExitCode *int
	Info     string
}

// Running reports liveness. Without a pid sentinel any process matching the
// fallback token counts as running.
func (p probeResult) Running() bool {
	switch p.State {
	case probeRunning:
		return true
	case probeUnknown:
		return p.Info != ""
	default:
		return false
	}
}

func (p probeResult) TaskStatus() domain.TaskStatus {
	switch p.State {
	case probeRunning:
		return domain.TaskStatusRunning
	case probeExited:
		if p.ExitCode != nil && *p.ExitCode == 0 {
			return domain.TaskStatusCompleted
		}
		return domain.TaskStatusFailed
	case probeUnknown:
		if p.Info != "" {
			return domain.TaskStatusRunning
		}
	}
	return domain.TaskStatusUnknown
}

// Describe renders the probe for humans, as reported in process_check.
func (p probeResult) Describe() string {
	switch p.State {
	case probeRunning:
		if p.Info != "" {
			return p.Info
		}
		return fmt.Sprintf("process %d running", p.PID)
	case probeExited:
		if p.ExitCode != nil {
			return fmt.Sprintf("process exited with code %d", *p.ExitCode)
		}
		return "process exited"
	case probeGone:
		return fmt.Sprintf("process %d is no longer running", p.PID)
	default:
		if p.Info != "" {
			return p.Info
		}
		return "Process check unavailable"
	}
}

// probeScript prints one status line followed by process details. A pid
// sentinel decides when present; otherwise the process table is searched for
// fallbackToken.
func probeScript(ws, taskID, fallbackToken string) string {
	if fallbackToken == "" {
		fallbackToken = taskID
	}
	pidFile := shellQuote(path.Join(ws, domain.PIDFileName(taskID)))
	exitFile := shellQuote(path.Join(ws, domain.ExitFileName(taskID)))

	return strings.Join([]string{
		"if [ -f " + pidFile + " ]; then",
		"  pid=$(cat " + pidFile + ")",
		`  if [ -n "$pid" ] && kill -0 "$pid" 2>/dev/null && ! ps -o stat= -p "$pid" 2>/dev/null | grep -q Z; then`,
		`    echo "running $pid"`,
		`    ps -o pid=,etime=,args= -p "$pid" 2>/dev/null`,
		"  elif [ -s " + exitFile + " ]; then",
		`    echo "exited $(cat ` + exitFile + `)"`,
		"  else",
		`    echo "gone $pid"`,
		"  fi",
		"else",
		"  echo unknown",
		"  ps aux | grep -F -- " + shellQuote(fallbackToken) + " | grep -v grep",
		"fi",
	}, "\n")
}

func parseProbe(output string) probeResult {
	output = strings.TrimRight(output, "\n")
	first, rest, _ := strings.Cut(output, "\n")
	fields := strings.Fields(first)

	res := probeResult{State: probeUnknown, Info: strings.TrimSpace(rest)}
	if len(fields) == 0 {
		return res
	}

	switch probeState(fields[0]) {
	case probeRunning, probeGone:
		res.State = probeState(fields[0])
		if len(fields) > 1 {
			res.PID, _ = strconv.Atoi(fields[1])
		}
	case probeExited:
		res.State = probeExited
		if len(fields) > 1 {
			if code, err := strconv.Atoi(fields[1]); err == nil {
				res.ExitCode = &code
			}
		}
	}
	return res
}

// probe runs the shared liveness check under its own timeout.
func probe(ctx context.Context, session ports.RemoteSession, timeout time.Duration, ws, taskID, fallbackToken string) (probeResult, error) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := session.Run(probeCtx, probeScript(ws, taskID, fallbackToken))
	if err != nil {
		return probeResult{State: probeUnknown}, err
	}
	return parseProbe(res.Stdout), nil
}
