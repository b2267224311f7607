package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/fleecy/participant/internal/core/ports"
	"github.com/fleecy/participant/internal/domain"
	"github.com/fleecy/participant/internal/infrastructure/hoststats"
	"github.com/fleecy/participant/internal/infrastructure/logger"
	"github.com/fleecy/participant/internal/transport/http/dto"
)

type LocalHandler struct {
	runner       ports.LocalRunnerService
	stats        *hoststats.Collector
	timelineRepo ports.TimelineRepository
	logger       *logger.Logger
}

func NewLocalHandler(runner ports.LocalRunnerService, stats *hoststats.Collector, timelineRepo ports.TimelineRepository, logger *logger.Logger) *LocalHandler {
	return &LocalHandler{runner: runner, stats: stats, timelineRepo: timelineRepo, logger: logger}
}

func (h *LocalHandler) Execute(c *fiber.Ctx) error {
	var req dto.ExecuteLocalRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("local_execute_body_parse_failed", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "invalid request body",
		})
	}

	if errors := req.Validate(); len(errors) > 0 {
		h.logger.Warnw("local_execute_validation_failed", "details", errors)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error:   "validation failed",
			Details: errors,
		})
	}

	run, err := h.runner.Start(c.UserContext(), req.ToInput())
	if err != nil {
		h.logger.Errorw("local_execute_failed", "error", err)
		return c.Status(statusForError(err)).JSON(dto.ErrorResponse{
			Error: err.Error(),
		})
	}

	h.logEvent(c.UserContext(), run)
	return c.Status(fiber.StatusCreated).JSON(dto.LocalRunResponse{
		LocalRun: run,
		Success:  true,
		Message:  "Federated Learning client started successfully",
	})
}

type localRunStatus struct {
	*domain.LocalRun
	Log     string                  `json:"log"`
	Process *hoststats.ProcessStats `json:"process,omitempty"`
}

func (h *LocalHandler) GetRun(c *fiber.Ctx) error {
	taskID := c.Params("task_id")
	run, err := h.runner.GetRun(taskID)
	if err != nil {
		return c.Status(statusForError(err)).JSON(dto.ErrorResponse{
			Error: err.Error(),
		})
	}

	content, err := h.runner.ReadLog(taskID, c.QueryInt("tail", 100))
	if err != nil {
		h.logger.Warnw("local_log_read_failed", "task_id", taskID, "error", err)
	}

	resp := localRunStatus{LocalRun: run, Log: content}
	if run.Status == domain.LocalRunStatusRunning && h.stats != nil {
		resp.Process = h.stats.Process(run.PID)
	}
	return c.JSON(resp)
}

func (h *LocalHandler) logEvent(ctx context.Context, run *domain.LocalRun) {
	if h.timelineRepo == nil {
		return
	}
	event := &domain.TimelineEvent{
		Type:         domain.EventTypeLocalRun,
		Status:       domain.EventStatusPending,
		Message:      "Local client run submitted",
		ResourceType: domain.ResourceTypeTask,
		ResourceID:   run.TaskID,
		Meta: domain.JSONB{
			"server_address": run.ServerAddress,
			"local_epochs":   run.LocalEpochs,
			"dir":            run.Dir,
		},
		CreatedAt: time.Now(),
	}
	if err := h.timelineRepo.Create(ctx, event); err != nil {
		h.logger.Errorw("failed to log timeline event", "task_id", run.TaskID, "error", err)
	}
}
