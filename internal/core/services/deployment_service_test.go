package services

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleecy/participant/internal/config"
	"github.com/fleecy/participant/internal/core/ports"
	"github.com/fleecy/participant/internal/domain"
	"github.com/fleecy/participant/internal/infrastructure/logger"
	"github.com/fleecy/participant/internal/infrastructure/remote"
	"github.com/fleecy/participant/internal/infrastructure/remote/remotetest"
)

func newTestDeploymentService(inv ports.InventoryResolver, dialer ports.SessionDialer, baseDir string, strict bool) ports.DeploymentService {
	log := logger.NewNop()
	return NewDeploymentService(DeploymentServiceConfig{
		Inventory:    inv,
		Dialer:       dialer,
		Deployer:     NewWorkspaceDeployer(config.WorkspaceConfig{BaseDir: baseDir}, log),
		Launcher:     NewLauncher(2*time.Second, log),
		Retriever:    NewLogRetriever(baseDir, 2*time.Second, log),
		Tasks:        NewTaskService(100, "fl-task"),
		Logger:       log,
		StrictLookup: strict,
	})
}

func defaultInput(vmID string) ports.DeployInput {
	return ports.DeployInput{
		VMID:        vmID,
		Files:       map[string]string{"main.py": "print(1)"},
		Environment: map[string]string{},
		Command:     domain.EntryPointCommand("python3", "main.py"),
	}
}

func TestDeploymentServiceDeployResolution(t *testing.T) {
	tests := map[string]struct {
		vms    []domain.VMRecord
		input  ports.DeployInput
		expErr error
		expMsg string
	}{
		"Empty inventory should be a resolution failure.": {
			vms:    nil,
			input:  defaultInput("vm-1"),
			expErr: ErrVMNotFound,
			expMsg: "vm-1",
		},
		"Missing VM should mention the id.": {
			vms:    []domain.VMRecord{{ID: "vm-1", FloatingIP: "10.0.0.5"}},
			input:  defaultInput("vm-missing"),
			expErr: ErrVMNotFound,
			expMsg: "vm-missing",
		},
		"VM without address should never be dialled.": {
			vms:    []domain.VMRecord{{ID: "vm-1"}},
			input:  defaultInput("vm-1"),
			expErr: ErrVMNoAddress,
			expMsg: "vm-1",
		},
		"Traversing file path should be rejected.": {
			vms: []domain.VMRecord{{ID: "vm-1", FloatingIP: "10.0.0.5"}},
			input: ports.DeployInput{
				VMID:    "vm-1",
				Files:   map[string]string{"../../etc/cron.d/x": "boom"},
				Command: domain.EntryPointCommand("python3", "main.py"),
			},
			expErr: ErrInvalidTask,
			expMsg: "escapes",
		},
		"Empty command should be rejected.": {
			vms: []domain.VMRecord{{ID: "vm-1", FloatingIP: "10.0.0.5"}},
			input: ports.DeployInput{
				VMID:    "vm-1",
				Files:   map[string]string{"main.py": ""},
				Command: domain.ExplicitCommand(" "),
			},
			expErr: ErrInvalidTask,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			dialer := &fakeDialer{session: newFakeSession()}
			svc := newTestDeploymentService(&fakeInventory{vms: test.vms}, dialer, "/tmp/fl-workspace", false)

			report := svc.Deploy(context.Background(), test.input)
			assert.False(t, report.Success)
			assert.ErrorIs(t, report.Err, test.expErr)
			assert.Contains(t, report.Error, test.expMsg)
			assert.Empty(t, dialer.dials)
		})
	}
}

func TestDeploymentServiceDeployConnectFailure(t *testing.T) {
	dialErr := errors.Join(remote.ErrSSHTimeout, errors.New("i/o timeout"))
	dialer := &fakeDialer{err: dialErr}
	svc := newTestDeploymentService(&fakeInventory{vms: []domain.VMRecord{{ID: "vm-1", FloatingIP: "10.0.0.5"}}}, dialer, "/tmp/fl-workspace", false)

	report := svc.Deploy(context.Background(), defaultInput("vm-1"))
	assert.False(t, report.Success)
	assert.ErrorIs(t, report.Err, remote.ErrSSHTimeout)
	assert.NotEmpty(t, report.TaskID)
	assert.Equal(t, []string{"10.0.0.5"}, dialer.dials)

	task, err := svc.GetTask(report.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
}

func TestDeploymentServiceDeployWithFakeHost(t *testing.T) {
	session := newFakeSession()
	session.responses["if [ -f"] = domain.CommandResult{Stdout: "running 31\n"}
	dialer := &fakeDialer{session: session}
	svc := newTestDeploymentService(&fakeInventory{vms: []domain.VMRecord{{ID: "vm-1", FloatingIP: "10.0.0.5"}}}, dialer, "/tmp/fl-workspace", false)

	report := svc.Deploy(context.Background(), defaultInput("vm-1"))
	require.True(t, report.Success, report.Error)
	assert.Equal(t, "10.0.0.5", report.TargetAddress)
	assert.Equal(t, "/tmp/fl-workspace/"+report.TaskID, report.RemotePath)
	assert.Equal(t, 31, report.PID)
	assert.Equal(t, "main.py", report.EntryPoint)
	assert.True(t, session.closed)

	task, err := svc.GetTask(report.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusRunning, task.Status)
	assert.Equal(t, report.RemotePath, task.RemotePath)
}

func TestDeploymentServiceGetLogsLookup(t *testing.T) {
	inv := &fakeInventory{vms: []domain.VMRecord{{ID: "vm-1", FloatingIP: "10.0.0.5"}, {ID: "vm-2"}}}

	tests := map[string]struct {
		strict bool
		input  ports.LogsInput
		expErr error
	}{
		"Strict lookup should reject unknown tasks.": {
			strict: true,
			input:  ports.LogsInput{TaskID: "fl-task-x", VMID: "vm-1"},
			expErr: ErrTaskNotFound,
		},
		"Unknown VM should be not found.": {
			input:  ports.LogsInput{TaskID: "fl-task-x", VMID: "vm-9"},
			expErr: ErrVMNotFound,
		},
		"Addressless VM should fail without dialling.": {
			input:  ports.LogsInput{TaskID: "fl-task-x", VMID: "vm-2"},
			expErr: ErrVMNoAddress,
		},
		"Unknown task without vm id should be invalid.": {
			input:  ports.LogsInput{TaskID: "fl-task-x"},
			expErr: ErrInvalidTask,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			dialer := &fakeDialer{session: newFakeSession()}
			svc := newTestDeploymentService(inv, dialer, "/tmp/fl-workspace", test.strict)

			report := svc.GetLogs(context.Background(), test.input)
			assert.False(t, report.Success)
			assert.ErrorIs(t, report.Err, test.expErr)
			require.NotNil(t, report.Error)
			assert.Empty(t, dialer.dials)
		})
	}
}

func newHostFixture(t *testing.T) (ports.DeploymentService, *remotetest.Server) {
	t.Helper()

	server := remotetest.NewServer(t)
	dialer := remote.NewDialer(config.SSHConfig{
		User:           "ubuntu",
		KeyPath:        server.KeyPath,
		Port:           server.Port(),
		ConnectTimeout: 5 * time.Second,
	})
	inv := &fakeInventory{vms: []domain.VMRecord{{ID: "vm-1", FloatingIP: server.Host()}}}
	return newTestDeploymentService(inv, dialer, t.TempDir(), false), server
}

func TestDeployAndFetchLogsEndToEnd(t *testing.T) {
	tests := map[string]struct {
		interpreter string
		files       map[string]string
		entry       string
	}{
		"Shell workload.": {
			interpreter: "sh",
			files:       map[string]string{"main.sh": "echo $GREETING\necho 1\n"},
			entry:       "main.sh",
		},
		"Python workload.": {
			interpreter: "python3",
			files:       map[string]string{"main.py": "import os\nprint(os.environ['GREETING'])\nprint(1)\n"},
			entry:       "main.py",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := exec.LookPath(test.interpreter); err != nil {
				t.Skipf("%s not available", test.interpreter)
			}
			svc, _ := newHostFixture(t)
			ctx := context.Background()

			report := svc.Deploy(ctx, ports.DeployInput{
				VMID:        "vm-1",
				Files:       test.files,
				Environment: map[string]string{"GREETING": "hello"},
				Command:     domain.EntryPointCommand(test.interpreter, test.entry),
			})
			require.True(t, report.Success, report.Error)
			assert.True(t, strings.HasSuffix(report.RemotePath, report.TaskID))
			assert.True(t, strings.HasPrefix(report.TaskID, "fl-task-"))

			var logs *domain.LogReport
			require.Eventually(t, func() bool {
				logs = svc.GetLogs(ctx, ports.LogsInput{TaskID: report.TaskID, VMID: "vm-1"})
				return logs.Success && logs.Status == domain.TaskStatusCompleted
			}, 10*time.Second, 100*time.Millisecond)

			assert.Equal(t, "hello\n1\n", logs.LogContent)
			assert.False(t, logs.ProcessRunning)
			require.NotNil(t, logs.ExitCode)
			assert.Equal(t, 0, *logs.ExitCode)
			assert.Nil(t, logs.Error)

			task, err := svc.GetTask(report.TaskID)
			require.NoError(t, err)
			assert.Equal(t, domain.TaskStatusCompleted, task.Status)
		})
	}
}

func TestGetLogsForUnknownTaskEndToEnd(t *testing.T) {
	svc, _ := newHostFixture(t)

	logs := svc.GetLogs(context.Background(), ports.LogsInput{TaskID: "fl-task-never", VMID: "vm-1"})
	require.True(t, logs.Success)
	assert.Empty(t, logs.LogContent)
	assert.False(t, logs.ProcessRunning)
	require.NotNil(t, logs.Error)
	assert.Contains(t, *logs.Error, "No such file")
	assert.Equal(t, domain.TaskStatusUnknown, logs.Status)
}

func TestDeployFailingWorkloadEndToEnd(t *testing.T) {
	svc, _ := newHostFixture(t)
	ctx := context.Background()

	report := svc.Deploy(ctx, ports.DeployInput{
		VMID:    "vm-1",
		Files:   map[string]string{"run.sh": "echo failing >&2\nexit 3\n"},
		Command: domain.ExplicitCommand("sh run.sh"),
	})
	require.True(t, report.Success, report.Error)

	require.Eventually(t, func() bool {
		logs := svc.GetLogs(ctx, ports.LogsInput{TaskID: report.TaskID})
		return logs.Success && logs.Status == domain.TaskStatusFailed &&
			logs.ExitCode != nil && *logs.ExitCode == 3 &&
			strings.Contains(logs.LogContent, "failing")
	}, 10*time.Second, 100*time.Millisecond)
}

func TestDeployEnvironmentValuesAreLiteralEndToEnd(t *testing.T) {
	svc, _ := newHostFixture(t)
	ctx := context.Background()
	marker := filepath.Join(t.TempDir(), "evaluated")

	env := map[string]string{
		"MODEL_NAME": "my model",
		"SHAPE":      "[64 32]",
		"TOKEN":      "$(touch " + marker + ")",
		"ARGS":       "--lr=0.1 --momentum 0.9",
	}
	report := svc.Deploy(ctx, ports.DeployInput{
		VMID:        "vm-1",
		Files:       map[string]string{"main.sh": `printf '%s|%s|%s|%s\n' "$MODEL_NAME" "$SHAPE" "$TOKEN" "$ARGS"` + "\n"},
		Environment: env,
		Command:     domain.EntryPointCommand("sh", "main.sh"),
	})
	require.True(t, report.Success, report.Error)

	var logs *domain.LogReport
	require.Eventually(t, func() bool {
		logs = svc.GetLogs(ctx, ports.LogsInput{TaskID: report.TaskID, VMID: "vm-1"})
		return logs.Success && logs.Status == domain.TaskStatusCompleted
	}, 10*time.Second, 100*time.Millisecond)

	assert.Equal(t, "my model|[64 32]|$(touch "+marker+")|--lr=0.1 --momentum 0.9\n", logs.LogContent)
	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err), "env value must not be executed")
}

func TestDeployExplicitCommandEndingsEndToEnd(t *testing.T) {
	tests := map[string]struct {
		command string
	}{
		"Trailing comment should still record the exit status.": {
			command: "sh run.sh # training run",
		},
		"Trailing ampersand should still run the workload.": {
			command: "sh run.sh &",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			svc, _ := newHostFixture(t)
			ctx := context.Background()

			report := svc.Deploy(ctx, ports.DeployInput{
				VMID:    "vm-1",
				Files:   map[string]string{"run.sh": "echo done\n"},
				Command: domain.ExplicitCommand(test.command),
			})
			require.True(t, report.Success, report.Error)

			var logs *domain.LogReport
			require.Eventually(t, func() bool {
				logs = svc.GetLogs(ctx, ports.LogsInput{TaskID: report.TaskID, VMID: "vm-1"})
				return logs.Success && logs.Status == domain.TaskStatusCompleted && strings.Contains(logs.LogContent, "done")
			}, 10*time.Second, 100*time.Millisecond)

			assert.NotContains(t, logs.LogContent, "Syntax error")
			require.NotNil(t, logs.ExitCode)
			assert.Equal(t, 0, *logs.ExitCode)
		})
	}
}
