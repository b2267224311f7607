package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleecy/participant/internal/config"
	"github.com/fleecy/participant/internal/core/ports"
	"github.com/fleecy/participant/internal/domain"
	"github.com/fleecy/participant/internal/infrastructure/logger"
)

// fakeExecutor writes a line per invocation and answers with the exit code
// registered for the first matching argument.
type fakeExecutor struct {
	mu    sync.Mutex
	codes map[string]int
	errs  map[string]error
	calls []ProcessSpec
}

func (f *fakeExecutor) Run(_ context.Context, spec ProcessSpec, onStart func(pid int)) (int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, spec)
	f.mu.Unlock()

	fmt.Fprintf(spec.Output, "ran %s\n", strings.Join(spec.Args, " "))
	if onStart != nil {
		onStart(4242)
	}
	for _, arg := range spec.Args {
		if err, ok := f.errs[arg]; ok {
			return -1, err
		}
		if code, ok := f.codes[arg]; ok {
			return code, nil
		}
	}
	return 0, nil
}

func localFiles() map[string]string {
	return map[string]string{
		"client_app.py": "print('client')",
		"task.py":       "def load(): pass",
		"data/part.csv": "a,b\n",
	}
}

func newTestLocalRunner(t *testing.T, exec ProcessExecutor) *LocalRunnerService {
	t.Helper()
	return NewLocalRunnerService(context.Background(), config.LocalConfig{
		WorkRoot: t.TempDir(),
		Python:   "python3",
		Packages: []string{"flwr", "torch"},
	}, exec, logger.NewNop())
}

func TestLocalRunnerStart(t *testing.T) {
	tests := map[string]struct {
		executor  *fakeExecutor
		expStatus domain.LocalRunStatus
		expExit   *int
		expErrMsg string
	}{
		"Successful client should complete.": {
			executor:  &fakeExecutor{},
			expStatus: domain.LocalRunStatusCompleted,
			expExit:   intPtr(0),
		},
		"Failing package install should fail the run.": {
			executor:  &fakeExecutor{codes: map[string]int{"flwr": 1}},
			expStatus: domain.LocalRunStatusFailed,
			expExit:   intPtr(1),
			expErrMsg: "package installation",
		},
		"Failing pip upgrade should not fail the run.": {
			executor:  &fakeExecutor{codes: map[string]int{"--upgrade": 2}},
			expStatus: domain.LocalRunStatusCompleted,
			expExit:   intPtr(0),
		},
		"Client exit code should be recorded.": {
			executor:  &fakeExecutor{codes: map[string]int{"--server-address": 7}},
			expStatus: domain.LocalRunStatusFailed,
			expExit:   intPtr(7),
			expErrMsg: "exited with code 7",
		},
		"Client timeout should fail without an exit code.": {
			executor:  &fakeExecutor{errs: map[string]error{"--server-address": errors.New("process timed out")}},
			expStatus: domain.LocalRunStatusFailed,
			expErrMsg: "timed out",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			svc := newTestLocalRunner(t, test.executor)

			run, err := svc.Start(context.Background(), ports.LocalRunInput{
				Files:         localFiles(),
				ServerAddress: "10.0.0.1:9092",
				LocalEpochs:   2,
			})
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(run.TaskID, "fl-local-"))
			assert.Equal(t, domain.LocalRunStatusInstalling, run.Status)

			content, err := os.ReadFile(filepath.Join(run.Dir, "data", "part.csv"))
			require.NoError(t, err)
			assert.Equal(t, "a,b\n", string(content))

			svc.Wait()

			got, err := svc.GetRun(run.TaskID)
			require.NoError(t, err)
			assert.Equal(t, test.expStatus, got.Status)
			assert.Equal(t, test.expExit, got.ExitCode)
			if test.expErrMsg != "" {
				assert.Contains(t, got.Error, test.expErrMsg)
			} else {
				assert.Empty(t, got.Error)
			}

			logContent, err := svc.ReadLog(run.TaskID, 0)
			require.NoError(t, err)
			assert.Contains(t, logContent, "ran -m pip install --upgrade pip")
		})
	}
}

func TestLocalRunnerClientInvocation(t *testing.T) {
	executor := &fakeExecutor{}
	svc := newTestLocalRunner(t, executor)

	run, err := svc.Start(context.Background(), ports.LocalRunInput{
		Files:         localFiles(),
		ServerAddress: "10.0.0.1:9092",
	})
	require.NoError(t, err)
	svc.Wait()

	require.Len(t, executor.calls, 3)
	assert.Equal(t, []string{"-m", "pip", "install", "flwr", "torch"}, executor.calls[1].Args)

	client := executor.calls[2]
	assert.Equal(t, "python3", client.Name)
	assert.Equal(t, run.Dir, client.Dir)
	assert.Equal(t, []string{filepath.Join(run.Dir, "client_app.py"), "--server-address", "10.0.0.1:9092", "--local-epochs", "1"}, client.Args)
	assert.Contains(t, client.Env, "PYTHONPATH="+run.Dir)

	got, err := svc.GetRun(run.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 4242, got.PID)
}

func TestLocalRunnerStartValidation(t *testing.T) {
	tests := map[string]struct {
		input  ports.LocalRunInput
		expErr error
	}{
		"Missing server address should be rejected.": {
			input:  ports.LocalRunInput{Files: localFiles()},
			expErr: ErrLocalRunInvalid,
		},
		"Missing task module should be rejected.": {
			input: ports.LocalRunInput{
				Files:         map[string]string{"client_app.py": "x"},
				ServerAddress: "10.0.0.1:9092",
			},
			expErr: ErrLocalRunInvalid,
		},
		"Escaping path should be rejected.": {
			input: ports.LocalRunInput{
				Files:         map[string]string{"client_app.py": "x", "task.py": "y", "../evil.py": "z"},
				ServerAddress: "10.0.0.1:9092",
			},
			expErr: ErrLocalRunInvalid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			executor := &fakeExecutor{}
			svc := newTestLocalRunner(t, executor)

			_, err := svc.Start(context.Background(), test.input)
			assert.ErrorIs(t, err, test.expErr)
			assert.Empty(t, executor.calls)
		})
	}
}

func TestLocalRunnerStartWriteFailureRemovesWorkdir(t *testing.T) {
	executor := &fakeExecutor{}
	svc := newTestLocalRunner(t, executor)

	// "data" cannot be both a file and the parent of data/part.csv.
	files := localFiles()
	files["data"] = "not a directory"

	_, err := svc.Start(context.Background(), ports.LocalRunInput{Files: files, ServerAddress: "10.0.0.1:9092"})
	assert.ErrorIs(t, err, ErrLocalRunFailed)
	assert.Empty(t, executor.calls)

	leftovers, err := filepath.Glob(filepath.Join(svc.cfg.WorkRoot, "fl_client_*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestLocalRunnerTaskIDCollision(t *testing.T) {
	svc := newTestLocalRunner(t, &fakeExecutor{})
	fixed := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	in := ports.LocalRunInput{Files: localFiles(), ServerAddress: "10.0.0.1:9092"}
	first, err := svc.Start(context.Background(), in)
	require.NoError(t, err)
	second, err := svc.Start(context.Background(), in)
	require.NoError(t, err)
	svc.Wait()

	assert.Equal(t, "fl-local-20240501-123000", first.TaskID)
	assert.NotEqual(t, first.TaskID, second.TaskID)
	assert.True(t, strings.HasPrefix(second.TaskID, first.TaskID+"-"))
}

func TestLocalRunnerUnknownRun(t *testing.T) {
	svc := newTestLocalRunner(t, &fakeExecutor{})

	_, err := svc.GetRun("fl-local-missing")
	assert.ErrorIs(t, err, ErrLocalRunNotFound)

	_, err = svc.ReadLog("fl-local-missing", 10)
	assert.ErrorIs(t, err, ErrLocalRunNotFound)
}

func TestOSExecutor(t *testing.T) {
	tests := map[string]struct {
		script  string
		timeout time.Duration
		expCode int
		expOut  string
		expErr  bool
	}{
		"Zero exit should report zero.": {
			script:  "echo ok",
			timeout: 5 * time.Second,
			expCode: 0,
			expOut:  "ok\n",
		},
		"Non-zero exit should be a code, not an error.": {
			script:  "echo bad >&2; exit 4",
			timeout: 5 * time.Second,
			expCode: 4,
			expOut:  "bad\n",
		},
		"Timeout should be an error.": {
			script:  "sleep 5",
			timeout: 200 * time.Millisecond,
			expCode: -1,
			expErr:  true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), test.timeout)
			defer cancel()

			var out bytes.Buffer
			var pid int
			code, err := OSExecutor{}.Run(ctx, ProcessSpec{
				Dir:    t.TempDir(),
				Output: &out,
				Name:   "sh",
				Args:   []string{"-c", test.script},
			}, func(p int) { pid = p })

			assert.Equal(t, test.expCode, code)
			assert.NotZero(t, pid)
			if test.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expOut, out.String())
		})
	}
}

func TestTail(t *testing.T) {
	assert.Equal(t, "c\nd\n", tail("a\nb\nc\nd\n", 2))
	assert.Equal(t, "c\nd", tail("a\nb\nc\nd", 2))
	assert.Equal(t, "a\nb\n", tail("a\nb\n", 5))
	assert.Equal(t, "a\nb\n", tail("a\nb\n", 0))
}

func intPtr(v int) *int {
	return &v
}
