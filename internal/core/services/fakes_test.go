package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/fleecy/participant/internal/core/ports"
	"github.com/fleecy/participant/internal/domain"
)

type fakeInventory struct {
	vms []domain.VMRecord
}

func (f *fakeInventory) ListVMs(context.Context) []domain.VMRecord {
	return f.vms
}

func (f *fakeInventory) FindVM(_ context.Context, id string) (*domain.VMRecord, error) {
	for _, vm := range f.vms {
		if vm.ID == id {
			return &vm, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrVMNotFound, id)
}

// fakeSession answers commands by prefix and records everything it was
// asked to do.
type fakeSession struct {
	mu        sync.Mutex
	responses map[string]domain.CommandResult
	runErr    error
	writeErr  error
	commands  []string
	files     map[string]string
	closed    bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{responses: map[string]domain.CommandResult{}, files: map[string]string{}}
}

func (f *fakeSession) Run(_ context.Context, cmd string) (domain.CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.commands = append(f.commands, cmd)
	if f.runErr != nil {
		return domain.CommandResult{ExitStatus: -1}, f.runErr
	}
	for prefix, res := range f.responses {
		if strings.HasPrefix(cmd, prefix) {
			return res, nil
		}
	}
	return domain.CommandResult{}, nil
}

func (f *fakeSession) WriteFile(_ context.Context, remotePath string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return f.writeErr
	}
	f.files[remotePath] = string(content)
	return nil
}

func (f *fakeSession) ReadFile(_ context.Context, remotePath string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.files[remotePath]
	if !ok {
		return nil, fmt.Errorf("no such file %s", remotePath)
	}
	return []byte(c), nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeDialer struct {
	session *fakeSession
	err     error
	dials   []string
}

func (f *fakeDialer) Dial(_ context.Context, address string) (ports.RemoteSession, error) {
	f.dials = append(f.dials, address)
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}
