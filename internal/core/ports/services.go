package ports

import (
	"context"

	"github.com/fleecy/participant/internal/domain"
)

// RemoteSession is one authenticated connection to a target VM.
type RemoteSession interface {
	Run(ctx context.Context, cmd string) (domain.CommandResult, error)
	WriteFile(ctx context.Context, remotePath string, content []byte) error
	ReadFile(ctx context.Context, remotePath string) ([]byte, error)
	Close() error
}

type SessionDialer interface {
	Dial(ctx context.Context, address string) (RemoteSession, error)
}

type InventoryResolver interface {
	ListVMs(ctx context.Context) []domain.VMRecord
	FindVM(ctx context.Context, id string) (*domain.VMRecord, error)
}

type DeploymentService interface {
	ListVMs(ctx context.Context) []domain.VMRecord
	Deploy(ctx context.Context, input DeployInput) *domain.DeploymentReport
	GetLogs(ctx context.Context, input LogsInput) *domain.LogReport
	GetTask(taskID string) (*domain.Task, error)
}

type DeployInput struct {
	VMID         string
	Files        map[string]string
	Environment  map[string]string
	Command      domain.CommandSpec
	Requirements []string
}

type LogsInput struct {
	TaskID    string
	VMID      string
	TailLines int
}

type LocalRunnerService interface {
	Start(ctx context.Context, input LocalRunInput) (*domain.LocalRun, error)
	GetRun(taskID string) (*domain.LocalRun, error)
	ReadLog(taskID string, tailLines int) (string, error)
}

type LocalRunInput struct {
	Files         map[string]string
	ServerAddress string
	LocalEpochs   int
}
