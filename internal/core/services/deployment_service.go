package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fleecy/participant/internal/core/ports"
	"github.com/fleecy/participant/internal/domain"
	"github.com/fleecy/participant/internal/infrastructure/logger"
	"github.com/fleecy/participant/internal/infrastructure/metrics"
)

type contextKey string

// ContextKeyRequestID carries the HTTP request id into timeline metadata.
const ContextKeyRequestID contextKey = "request_id"

type deploymentService struct {
	inventory    ports.InventoryResolver
	dialer       ports.SessionDialer
	deployer     *WorkspaceDeployer
	launcher     *Launcher
	retriever    *LogRetriever
	tasks        *TaskService
	timelineRepo ports.TimelineRepository
	logger       *logger.Logger
	strictLookup bool
}

type DeploymentServiceConfig struct {
	Inventory    ports.InventoryResolver
	Dialer       ports.SessionDialer
	Deployer     *WorkspaceDeployer
	Launcher     *Launcher
	Retriever    *LogRetriever
	Tasks        *TaskService
	TimelineRepo ports.TimelineRepository
	Logger       *logger.Logger
	// StrictLookup rejects log queries for task ids this process never
	// registered instead of asking the remote host.
	StrictLookup bool
}

func NewDeploymentService(cfg DeploymentServiceConfig) ports.DeploymentService {
	return &deploymentService{
		inventory:    cfg.Inventory,
		dialer:       cfg.Dialer,
		deployer:     cfg.Deployer,
		launcher:     cfg.Launcher,
		retriever:    cfg.Retriever,
		tasks:        cfg.Tasks,
		timelineRepo: cfg.TimelineRepo,
		logger:       cfg.Logger,
		strictLookup: cfg.StrictLookup,
	}
}

func (s *deploymentService) ListVMs(ctx context.Context) []domain.VMRecord {
	return s.inventory.ListVMs(ctx)
}

func (s *deploymentService) GetTask(taskID string) (*domain.Task, error) {
	return s.tasks.GetTask(taskID)
}

// Deploy resolves the VM, provisions its workspace and launches the workload.
// Failures at any stage are reported in the returned report; Err keeps the
// cause for callers that map it to a status.
func (s *deploymentService) Deploy(ctx context.Context, input ports.DeployInput) *domain.DeploymentReport {
	start := time.Now()
	report := &domain.DeploymentReport{
		VMID:        input.VMID,
		SubmittedAt: start,
		EntryPoint:  input.Command.Label(),
	}
	s.logger.Infow("deploy_request", "vm_id", input.VMID, "files", len(input.Files), "command", input.Command.Label())

	fail := func(err error, msg string) *domain.DeploymentReport {
		report.Success = false
		report.Message = msg
		report.Error = err.Error()
		report.Err = err
		result := metrics.ResultFailure
		if errors.Is(err, ErrVMNotFound) {
			result = metrics.ResultNotFound
		}
		metrics.DeploymentsTotal.WithLabelValues(result).Inc()
		metrics.DeployDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
		s.logger.Errorw("deploy_failed", "vm_id", input.VMID, "task_id", report.TaskID, "error", err)
		if report.TaskID != "" {
			_ = s.tasks.FailTask(report.TaskID, err.Error())
			s.logEvent(ctx, report.TaskID, domain.EventTypeDeployFailed, domain.EventStatusFailed, msg, map[string]interface{}{
				"vm_id": input.VMID,
				"error": err.Error(),
			})
		}
		return report
	}

	bundle := domain.TaskBundle{Files: input.Files, Environment: input.Environment, Requirements: input.Requirements}
	if err := bundle.Validate(); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInvalidTask, err), "Invalid task payload")
	}
	if len(input.Files) == 0 {
		return fail(fmt.Errorf("%w: no files to deploy", ErrInvalidTask), "Invalid task payload")
	}
	if err := input.Command.Validate(); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInvalidTask, err), "Invalid task payload")
	}

	vm, err := s.inventory.FindVM(ctx, input.VMID)
	if err != nil {
		return fail(err, fmt.Sprintf("VM with ID %s not found", input.VMID))
	}
	if !vm.HasAddress() {
		return fail(fmt.Errorf("%w: %s", ErrVMNoAddress, input.VMID), fmt.Sprintf("VM %s has no floating IP assigned", input.VMID))
	}
	report.TargetAddress = vm.FloatingIP

	task := s.tasks.CreateTask(vm.ID, vm.FloatingIP, input.Command.Mode)
	report.TaskID = task.ID
	bundle.TaskID = task.ID
	s.logEvent(ctx, task.ID, domain.EventTypeDeploySubmitted, domain.EventStatusPending, "Deployment submitted", map[string]interface{}{
		"vm_id":          vm.ID,
		"target_address": vm.FloatingIP,
		"command":        input.Command.Label(),
	})
	s.logger.Infow("deploy_target_resolved", "task_id", task.ID, "vm_id", vm.ID, "address", vm.FloatingIP)

	session, err := s.dialer.Dial(ctx, vm.FloatingIP)
	if err != nil {
		return fail(err, "Failed to connect to the target VM")
	}
	defer session.Close()

	ws, err := s.deployer.Provision(ctx, session, bundle)
	if err != nil {
		return fail(err, "Failed to deploy workload files")
	}
	report.RemotePath = ws
	_ = s.tasks.UpdateTask(task.ID, func(t *domain.Task) { t.RemotePath = ws })
	s.logEvent(ctx, task.ID, domain.EventTypeDeployUploaded, domain.EventStatusSuccess, "Workspace provisioned", map[string]interface{}{
		"remote_path": ws,
		"files":       len(input.Files),
	})

	launch, err := s.launcher.Launch(ctx, session, ws, task.ID, input.Command)
	if err != nil {
		return fail(err, "Failed to start the workload")
	}

	_ = s.tasks.UpdateTask(task.ID, func(t *domain.Task) {
		t.Status = launch.Status
		t.PID = launch.PID
		t.ExitCode = launch.ExitCode
	})

	report.Success = true
	report.Message = fmt.Sprintf("Workload deployed and started in %s", ws)
	report.Output = launch.Output
	report.ProcessCheck = launch.ProcessCheck
	report.PID = launch.PID

	s.logEvent(ctx, task.ID, domain.EventTypeDeployLaunched, domain.EventStatusSuccess, report.Message, map[string]interface{}{
		"pid":       launch.PID,
		"status":    string(launch.Status),
		"ambiguous": launch.Ambiguous,
	})
	metrics.DeploymentsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	metrics.DeployDuration.WithLabelValues(metrics.ResultSuccess).Observe(time.Since(start).Seconds())
	s.logger.Infow("deploy_completed", "task_id", task.ID, "vm_id", vm.ID, "duration", time.Since(start))

	return report
}

// GetLogs fetches a task's log and liveness from its VM. Task ids the
// registry does not know are still looked up remotely unless strict lookup
// is enabled.
func (s *deploymentService) GetLogs(ctx context.Context, input ports.LogsInput) *domain.LogReport {
	report := &domain.LogReport{
		TaskID:    input.TaskID,
		VMID:      input.VMID,
		Status:    domain.TaskStatusUnknown,
		Timestamp: time.Now(),
	}

	fail := func(err error) *domain.LogReport {
		msg := err.Error()
		report.Success = false
		report.Error = &msg
		report.Err = err
		result := metrics.ResultFailure
		if errors.Is(err, ErrVMNotFound) || errors.Is(err, ErrTaskNotFound) {
			result = metrics.ResultNotFound
		}
		metrics.LogFetchTotal.WithLabelValues(result).Inc()
		s.logger.Warnw("log_fetch_failed", "task_id", input.TaskID, "vm_id", input.VMID, "error", err)
		return report
	}

	known, lookupErr := s.tasks.GetTask(input.TaskID)
	if lookupErr != nil && s.strictLookup {
		return fail(lookupErr)
	}
	if report.VMID == "" && known != nil {
		report.VMID = known.VMID
	}
	if report.VMID == "" {
		return fail(fmt.Errorf("%w: vm_id is required", ErrInvalidTask))
	}

	vm, err := s.inventory.FindVM(ctx, report.VMID)
	if err != nil {
		return fail(err)
	}
	if !vm.HasAddress() {
		return fail(fmt.Errorf("%w: %s", ErrVMNoAddress, report.VMID))
	}

	session, err := s.dialer.Dial(ctx, vm.FloatingIP)
	if err != nil {
		return fail(err)
	}
	defer session.Close()

	res, err := s.retriever.Fetch(ctx, session, input.TaskID, LogFetchOptions{TailLines: input.TailLines})
	if err != nil {
		return fail(err)
	}

	report.Success = true
	report.LogContent = res.Content
	report.ProcessRunning = res.ProcessRunning
	report.ProcessInfo = res.ProcessInfo
	report.Status = res.Status
	report.ExitCode = res.ExitCode
	if res.ReadError != "" {
		readErr := res.ReadError
		report.Error = &readErr
	}

	if known != nil && res.Status != domain.TaskStatusUnknown {
		_ = s.tasks.UpdateTask(known.ID, func(t *domain.Task) {
			t.Status = res.Status
			t.ExitCode = res.ExitCode
			if res.PID != 0 {
				t.PID = res.PID
			}
		})
	}

	metrics.LogFetchTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	s.logger.Infow("log_fetch_ok", "task_id", input.TaskID, "vm_id", report.VMID, "bytes", len(res.Content), "running", res.ProcessRunning)
	return report
}

func (s *deploymentService) logEvent(ctx context.Context, taskID, etype string, status domain.EventStatus, msg string, meta map[string]interface{}) {
	if s.timelineRepo == nil {
		return
	}

	metadata := domain.JSONB{}
	for k, v := range meta {
		metadata[k] = v
	}
	if v := ctx.Value(ContextKeyRequestID); v != nil {
		metadata["request_id"] = v
	}

	event := &domain.TimelineEvent{
		Type:         etype,
		Status:       status,
		Message:      msg,
		ResourceType: domain.ResourceTypeTask,
		ResourceID:   taskID,
		Meta:         metadata,
		CreatedAt:    time.Now(),
	}
	if err := s.timelineRepo.Create(ctx, event); err != nil {
		s.logger.Errorw("failed to log timeline event", "task_id", taskID, "error", err)
	}
}
