package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleecy/participant/internal/domain"
	"github.com/fleecy/participant/internal/infrastructure/logger"
)

func TestLaunchCommand(t *testing.T) {
	got := LaunchCommand("/tmp/fl-workspace/fl-task-1", "fl-task-1", domain.EntryPointCommand("python3", "main.py"))
	exp := "cd '/tmp/fl-workspace/fl-task-1' && " +
		`while IFS= read -r l || [ -n "$l" ]; do if [ -n "$l" ]; then export "$l"; fi; done < ./.env && ` +
		"{ nohup sh -c 'python3 main.py\necho $? > fl-task-1.exit' > fl-task-1.log 2>&1 < /dev/null & " +
		"echo $! > '/tmp/fl-workspace/fl-task-1/fl-task-1.pid'; }"
	assert.Equal(t, exp, got)

	quoted := LaunchCommand("/w", "t", domain.ExplicitCommand("echo 'hi'"))
	assert.Contains(t, quoted, "nohup sh -c 'echo '\"'\"'hi'\"'\"'\necho $? > t.exit'")
}

func TestLauncherLaunch(t *testing.T) {
	tests := map[string]struct {
		responses    map[string]domain.CommandResult
		runErr       error
		expErr       error
		expStatus    domain.TaskStatus
		expPID       int
		expAmbiguous bool
		expCheck     string
	}{
		"Running process should be confirmed by the pid sentinel.": {
			responses: map[string]domain.CommandResult{
				"if [ -f": {Stdout: "running 4242\n 4242 00:01 python3 main.py\n"},
			},
			expStatus: domain.TaskStatusRunning,
			expPID:    4242,
			expCheck:  "4242 00:01 python3 main.py",
		},
		"Nohup notice on stderr should be benign.": {
			responses: map[string]domain.CommandResult{
				"cd ":     {Stderr: "nohup: ignoring input\n"},
				"if [ -f": {Stdout: "running 7\n"},
			},
			expStatus: domain.TaskStatusRunning,
			expPID:    7,
			expCheck:  "process 7 running",
		},
		"Quickly finished workload should report its exit code.": {
			responses: map[string]domain.CommandResult{
				"if [ -f": {Stdout: "exited 0\n"},
				"cat ":    {Stdout: "99\n"},
			},
			expStatus: domain.TaskStatusCompleted,
			expPID:    99,
			expCheck:  "process exited with code 0",
		},
		"Unconfirmed process should still be a success.": {
			responses: map[string]domain.CommandResult{
				"if [ -f": {Stdout: "unknown\n"},
			},
			expStatus:    domain.TaskStatusSubmitted,
			expAmbiguous: true,
			expCheck:     "Process check unavailable",
		},
		"Other stderr output should fail the launch.": {
			responses: map[string]domain.CommandResult{
				"cd ": {Stderr: "sh: 1: .: cannot open ./.env: No such file\n", ExitStatus: 2},
			},
			expErr: ErrLaunchFailed,
		},
		"Transport failure should fail the launch.": {
			runErr: errors.New("connection reset"),
			expErr: ErrLaunchFailed,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			session := newFakeSession()
			for k, v := range test.responses {
				session.responses[k] = v
			}
			session.runErr = test.runErr

			l := NewLauncher(0, logger.NewNop())
			res, err := l.Launch(context.Background(), session, "/w", "t", domain.EntryPointCommand("python3", "main.py"))
			if test.expErr != nil {
				assert.ErrorIs(t, err, test.expErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expStatus, res.Status)
			assert.Equal(t, test.expPID, res.PID)
			assert.Equal(t, test.expAmbiguous, res.Ambiguous)
			assert.Equal(t, test.expCheck, res.ProcessCheck)
		})
	}
}

func TestLauncherRejectsInvalidCommand(t *testing.T) {
	session := newFakeSession()
	_, err := NewLauncher(0, logger.NewNop()).Launch(context.Background(), session, "/w", "t", domain.ExplicitCommand(""))
	assert.ErrorIs(t, err, ErrInvalidTask)
	assert.Empty(t, session.commands)
}

func TestParseProbe(t *testing.T) {
	code1 := 1
	tests := map[string]struct {
		out        string
		expState   probeState
		expPID     int
		expCode    *int
		expRunning bool
		expStatus  domain.TaskStatus
	}{
		"Running line should carry the pid.": {
			out: "running 12\n 12 01:02 sh -c x\n", expState: probeRunning, expPID: 12, expRunning: true, expStatus: domain.TaskStatusRunning,
		},
		"Non-zero exit should be failed.": {
			out: "exited 1\n", expState: probeExited, expCode: &code1, expStatus: domain.TaskStatusFailed,
		},
		"Vanished process should be unknown and not running.": {
			out: "gone 12\n", expState: probeGone, expPID: 12, expStatus: domain.TaskStatusUnknown,
		},
		"Fallback match should count as running.": {
			out: "unknown\nubuntu 5 python3 main.py\n", expState: probeUnknown, expRunning: true, expStatus: domain.TaskStatusRunning,
		},
		"Fallback without match should be unknown.": {
			out: "unknown\n", expState: probeUnknown, expStatus: domain.TaskStatusUnknown,
		},
		"Empty output should be unknown.": {
			out: "", expState: probeUnknown, expStatus: domain.TaskStatusUnknown,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			pr := parseProbe(test.out)
			assert.Equal(t, test.expState, pr.State)
			assert.Equal(t, test.expPID, pr.PID)
			assert.Equal(t, test.expCode, pr.ExitCode)
			assert.Equal(t, test.expRunning, pr.Running())
			assert.Equal(t, test.expStatus, pr.TaskStatus())
		})
	}
}
