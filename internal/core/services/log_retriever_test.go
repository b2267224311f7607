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

func TestLogRetrieverFetch(t *testing.T) {
	tests := map[string]struct {
		responses  map[string]domain.CommandResult
		opts       LogFetchOptions
		expContent string
		expReadErr string
		expRunning bool
		expStatus  domain.TaskStatus
		expCmd     string
	}{
		"Existing log of a running task.": {
			responses: map[string]domain.CommandResult{
				"cat ":    {Stdout: "round 1\n"},
				"if [ -f": {Stdout: "running 10\n 10 00:05 python3 main.py\n"},
			},
			expContent: "round 1\n",
			expRunning: true,
			expStatus:  domain.TaskStatusRunning,
			expCmd:     "cat '/tmp/fl-workspace/t1/t1.log'",
		},
		"Tail option should use tail.": {
			responses: map[string]domain.CommandResult{
				"tail ":   {Stdout: "last\n"},
				"if [ -f": {Stdout: "exited 0\n"},
			},
			opts:       LogFetchOptions{TailLines: 5},
			expContent: "last\n",
			expStatus:  domain.TaskStatusCompleted,
			expCmd:     "tail -n 5 '/tmp/fl-workspace/t1/t1.log'",
		},
		"Missing log should be a soft error.": {
			responses: map[string]domain.CommandResult{
				"cat ":    {Stderr: "cat: /tmp/fl-workspace/t1/t1.log: No such file or directory\n", ExitStatus: 1},
				"if [ -f": {Stdout: "unknown\n"},
			},
			expReadErr: "cat: /tmp/fl-workspace/t1/t1.log: No such file or directory",
			expStatus:  domain.TaskStatusUnknown,
			expCmd:     "cat '/tmp/fl-workspace/t1/t1.log'",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			session := newFakeSession()
			for k, v := range test.responses {
				session.responses[k] = v
			}
			r := NewLogRetriever("/tmp/fl-workspace", 0, logger.NewNop())

			res, err := r.Fetch(context.Background(), session, "t1", test.opts)
			require.NoError(t, err)
			assert.Equal(t, test.expContent, res.Content)
			assert.Equal(t, test.expReadErr, res.ReadError)
			assert.Equal(t, test.expRunning, res.ProcessRunning)
			assert.Equal(t, test.expStatus, res.Status)
			require.NotEmpty(t, session.commands)
			assert.Equal(t, test.expCmd, session.commands[0])
		})
	}
}

func TestLogRetrieverErrors(t *testing.T) {
	r := NewLogRetriever("/tmp/fl-workspace", 0, logger.NewNop())

	session := newFakeSession()
	_, err := r.Fetch(context.Background(), session, "../etc", LogFetchOptions{})
	assert.ErrorIs(t, err, ErrInvalidTask)
	assert.Empty(t, session.commands)

	session.runErr = errors.New("broken pipe")
	_, err = r.Fetch(context.Background(), session, "t1", LogFetchOptions{})
	assert.ErrorIs(t, err, ErrLogFetch)
}
