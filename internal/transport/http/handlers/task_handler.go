package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/fleecy/participant/internal/core/ports"
	"github.com/fleecy/participant/internal/core/services"
	"github.com/fleecy/participant/internal/domain"
	"github.com/fleecy/participant/internal/infrastructure/logger"
	"github.com/fleecy/participant/internal/transport/http/dto"
)

type TaskHandler struct {
	service     ports.DeploymentService
	interpreter string
	logger      *logger.Logger
}

func NewTaskHandler(service ports.DeploymentService, interpreter string, logger *logger.Logger) *TaskHandler {
	if interpreter == "" {
		interpreter = "python3"
	}
	return &TaskHandler{service: service, interpreter: interpreter, logger: logger}
}

func (h *TaskHandler) CreateTask(c *fiber.Ctx) error {
	var req dto.DeployTaskRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("task_create_body_parse_failed", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "invalid request body",
		})
	}

	if errors := req.Validate(); len(errors) > 0 {
		h.logger.Warnw("task_create_validation_failed", "details", errors)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error:   "validation failed",
			Details: errors,
		})
	}

	h.logger.Infow("task_create_request", "vm_id", req.VMID, "files", len(req.Files), "entry_point", req.GetEntryPoint(), "command", req.Command)
	report := h.service.Deploy(c.UserContext(), req.ToInput(h.interpreter))
	return h.respondDeploy(c, report)
}

// ExecuteFlower deploys a Flower client project together with its
// generated launcher script.
func (h *TaskHandler) ExecuteFlower(c *fiber.Ctx) error {
	var req dto.ExecuteFlowerRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("flower_execute_body_parse_failed", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "invalid request body",
		})
	}

	if errors := req.Validate(); len(errors) > 0 {
		h.logger.Warnw("flower_execute_validation_failed", "details", errors)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error:   "validation failed",
			Details: errors,
		})
	}

	bundle, err := services.BuildFlowerBundle(services.FlowerBundleInput{
		Files:             req.Files,
		AggregatorAddress: req.AggregatorAddress,
		PartitionID:       req.PartitionID,
		NumPartitions:     req.NumPartitions,
		LocalEpochs:       req.LocalEpochs,
	})
	if err != nil {
		h.logger.Warnw("flower_bundle_invalid", "vm_id", req.VMID, "error", err)
		return c.Status(statusForError(err)).JSON(dto.ErrorResponse{
			Error: err.Error(),
		})
	}

	h.logger.Infow("flower_execute_request", "vm_id", req.VMID, "project", bundle.ProjectName, "aggregator", req.AggregatorAddress)
	report := h.service.Deploy(c.UserContext(), ports.DeployInput{
		VMID:        req.VMID,
		Files:       bundle.Files,
		Environment: dto.EnvironmentFromConfig(req.EnvConfig),
		Command:     bundle.Command,
	})
	report.EntryPoint = services.FlowerLaunchLabel
	return h.respondDeploy(c, report)
}

func (h *TaskHandler) respondDeploy(c *fiber.Ctx, report *domain.DeploymentReport) error {
	if report.Success {
		h.logger.Infow("task_create_success", "task_id", report.TaskID, "vm_id", report.VMID)
		return c.Status(fiber.StatusCreated).JSON(report)
	}

	status := statusForError(report.Err)
	h.logger.Warnw("task_create_failed", "task_id", report.TaskID, "vm_id", report.VMID, "status", status, "error", report.Error)
	return c.Status(status).JSON(report)
}

func (h *TaskHandler) GetTask(c *fiber.Ctx) error {
	task, err := h.service.GetTask(c.Params("task_id"))
	if err != nil {
		return c.Status(statusForError(err)).JSON(dto.ErrorResponse{
			Error: err.Error(),
		})
	}
	return c.JSON(task)
}
