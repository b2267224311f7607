package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleecy/participant/internal/config"
	"github.com/fleecy/participant/internal/core/ports"
	"github.com/fleecy/participant/internal/domain"
	"github.com/fleecy/participant/internal/infrastructure/logger"
	"github.com/fleecy/participant/internal/infrastructure/metrics"
)

// Files a local client run must carry.
var localRequiredFiles = []string{"client_app.py", "task.py"}

type ProcessSpec struct {
	Dir    string
	Env    []string
	Output io.Writer
	Name   string
	Args   []string
}

// ProcessExecutor runs a local process to completion. onStart receives the
// pid once the process exists. A non-zero exit is returned as the code, not
// as an error.
type ProcessExecutor interface {
	Run(ctx context.Context, spec ProcessSpec, onStart func(pid int)) (int, error)
}

type OSExecutor struct{}

func (OSExecutor) Run(ctx context.Context, spec ProcessSpec, onStart func(pid int)) (int, error) {
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdout = spec.Output
	cmd.Stderr = spec.Output
	cmd.WaitDelay = 5 * time.Second

	if err := cmd.Start(); err != nil {
		return -1, err
	}
	if onStart != nil {
		onStart(cmd.Process.Pid)
	}

	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if ctx.Err() != nil {
		return -1, fmt.Errorf("process timed out: %w", ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// LocalRunnerService runs the FL client on this host instead of a VM. Runs
// are tracked in memory only.
type LocalRunnerService struct {
	cfg      config.LocalConfig
	executor ProcessExecutor
	baseCtx  context.Context
	logger   *logger.Logger
	now      func() time.Time

	mu   sync.RWMutex
	runs map[string]*domain.LocalRun
	wg   sync.WaitGroup
}

// NewLocalRunnerService binds background runs to baseCtx, which should live
// as long as the server.
func NewLocalRunnerService(baseCtx context.Context, cfg config.LocalConfig, executor ProcessExecutor, log *logger.Logger) *LocalRunnerService {
	if executor == nil {
		executor = OSExecutor{}
	}
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.InstallTimeout <= 0 {
		cfg.InstallTimeout = 10 * time.Minute
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = time.Hour
	}
	return &LocalRunnerService{
		cfg:      cfg,
		executor: executor,
		baseCtx:  baseCtx,
		logger:   log,
		now:      time.Now,
		runs:     make(map[string]*domain.LocalRun),
	}
}

var _ ports.LocalRunnerService = (*LocalRunnerService)(nil)

// Start writes the files to a fresh directory and returns immediately; the
// dependency install and the client itself run in the background.
func (s *LocalRunnerService) Start(ctx context.Context, input ports.LocalRunInput) (*domain.LocalRun, error) {
	if strings.TrimSpace(input.ServerAddress) == "" {
		return nil, fmt.Errorf("%w: server_address is required", ErrLocalRunInvalid)
	}
	var missing []string
	for _, name := range localRequiredFiles {
		if _, ok := input.Files[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: required files missing: %s", ErrLocalRunInvalid, strings.Join(missing, ", "))
	}
	if err := (domain.TaskBundle{Files: input.Files}).Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocalRunInvalid, err)
	}
	if input.LocalEpochs <= 0 {
		input.LocalEpochs = 1
	}

	dir, err := os.MkdirTemp(s.cfg.WorkRoot, "fl_client_")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocalRunFailed, err)
	}
	if err := writeLocalFiles(dir, input.Files); err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			s.logger.Warnw("local_workdir_cleanup_failed", "path", dir, "error", rmErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrLocalRunFailed, err)
	}

	args := []string{
		filepath.Join(dir, "client_app.py"),
		"--server-address", input.ServerAddress,
		"--local-epochs", strconv.Itoa(input.LocalEpochs),
	}
	now := s.now()
	run := &domain.LocalRun{
		ServerAddress: input.ServerAddress,
		LocalEpochs:   input.LocalEpochs,
		Dir:           dir,
		Command:       s.cfg.Python + " " + strings.Join(args, " "),
		Status:        domain.LocalRunStatusInstalling,
		SubmittedAt:   now,
		UpdatedAt:     now,
	}

	s.mu.Lock()
	run.TaskID = fmt.Sprintf("fl-local-%s", now.Format("20060102-150405"))
	if _, exists := s.runs[run.TaskID]; exists {
		run.TaskID = run.TaskID + "-" + uuid.New().String()[:8]
	}
	s.runs[run.TaskID] = run
	snapshot := *run
	s.mu.Unlock()

	s.logger.Infow("local_run_submitted", "task_id", run.TaskID, "dir", dir, "server_address", input.ServerAddress)
	metrics.LocalRunsActive.Inc()

	s.wg.Add(1)
	go s.execute(run.TaskID, dir, args)

	return &snapshot, nil
}

func (s *LocalRunnerService) execute(taskID, dir string, args []string) {
	defer s.wg.Done()
	defer metrics.LocalRunsActive.Dec()

	logFile, err := os.Create(filepath.Join(dir, domain.LogFileName(taskID)))
	if err != nil {
		s.finish(taskID, nil, fmt.Errorf("create log: %w", err))
		return
	}
	defer logFile.Close()

	env := append(os.Environ(), "PYTHONPATH="+dir)
	spec := func(args ...string) ProcessSpec {
		return ProcessSpec{Dir: dir, Env: env, Output: logFile, Name: s.cfg.Python, Args: args}
	}

	installCtx, cancel := context.WithTimeout(s.baseCtx, s.cfg.InstallTimeout)
	defer cancel()

	// Upgrading pip is best effort.
	if code, err := s.executor.Run(installCtx, spec("-m", "pip", "install", "--upgrade", "pip"), nil); err != nil || code != 0 {
		s.logger.Warnw("local_pip_upgrade_failed", "task_id", taskID, "exit_code", code, "error", err)
	}

	if len(s.cfg.Packages) > 0 {
		code, err := s.executor.Run(installCtx, spec(append([]string{"-m", "pip", "install"}, s.cfg.Packages...)...), nil)
		if err != nil {
			s.finish(taskID, nil, fmt.Errorf("package installation failed: %w", err))
			return
		}
		if code != 0 {
			s.finish(taskID, &code, fmt.Errorf("package installation exited with code %d", code))
			return
		}
		s.logger.Infow("local_packages_installed", "task_id", taskID)
	}

	runCtx, cancelRun := context.WithTimeout(s.baseCtx, s.cfg.RunTimeout)
	defer cancelRun()

	code, err := s.executor.Run(runCtx, spec(args...), func(pid int) {
		s.update(taskID, func(r *domain.LocalRun) {
			r.PID = pid
			r.Status = domain.LocalRunStatusRunning
		})
		s.logger.Infow("local_run_started", "task_id", taskID, "pid", pid)
	})
	if err != nil {
		s.finish(taskID, nil, err)
		return
	}
	if code != 0 {
		s.finish(taskID, &code, fmt.Errorf("client exited with code %d", code))
		return
	}
	s.finish(taskID, &code, nil)
}

func (s *LocalRunnerService) finish(taskID string, exitCode *int, err error) {
	status := domain.LocalRunStatusCompleted
	if err != nil {
		status = domain.LocalRunStatusFailed
	}
	s.update(taskID, func(r *domain.LocalRun) {
		r.Status = status
		r.ExitCode = exitCode
		if err != nil {
			r.Error = err.Error()
		}
	})

	metrics.LocalRunsTotal.WithLabelValues(string(status)).Inc()
	if err != nil {
		s.logger.Errorw("local_run_failed", "task_id", taskID, "error", err)
		return
	}
	s.logger.Infow("local_run_completed", "task_id", taskID)
}

func (s *LocalRunnerService) update(taskID string, fn func(*domain.LocalRun)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run, ok := s.runs[taskID]; ok {
		fn(run)
		run.UpdatedAt = s.now()
	}
}

func (s *LocalRunnerService) GetRun(taskID string) (*domain.LocalRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocalRunNotFound, taskID)
	}
	runCopy := *run
	return &runCopy, nil
}

// ReadLog returns the run's combined output, limited to the last tailLines
// lines when positive.
func (s *LocalRunnerService) ReadLog(taskID string, tailLines int) (string, error) {
	run, err := s.GetRun(taskID)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(run.Dir, domain.LogFileName(taskID)))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return tail(string(data), tailLines), nil
}

// Prune forgets finished runs last updated before now minus olderThan and
// removes their directories. It returns the number of runs dropped.
func (s *LocalRunnerService) Prune(olderThan time.Duration) int {
	cutoff := s.now().Add(-olderThan)

	s.mu.Lock()
	var dirs []string
	for id, run := range s.runs {
		finished := run.Status == domain.LocalRunStatusCompleted || run.Status == domain.LocalRunStatusFailed
		if finished && run.UpdatedAt.Before(cutoff) {
			dirs = append(dirs, run.Dir)
			delete(s.runs, id)
		}
	}
	s.mu.Unlock()

	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warnw("local_run_dir_remove_failed", "dir", dir, "error", err)
		}
	}
	return len(dirs)
}

// Wait blocks until every background run has finished.
func (s *LocalRunnerService) Wait() {
	s.wg.Wait()
}

func tail(content string, n int) string {
	if n <= 0 {
		return content
	}
	lines := strings.SplitAfter(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) <= n {
		return content
	}
	return strings.Join(lines[len(lines)-n:], "")
}

func writeLocalFiles(dir string, files map[string]string) error {
	for p, content := range files {
		rel, _ := domain.CleanRelativePath(p)
		target := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}
