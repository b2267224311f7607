package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/fleecy/participant/internal/core/ports"
	"github.com/fleecy/participant/internal/infrastructure/logger"
	"github.com/fleecy/participant/internal/transport/http/dto"
)

type VMHandler struct {
	service ports.DeploymentService
	logger  *logger.Logger
}

func NewVMHandler(service ports.DeploymentService, logger *logger.Logger) *VMHandler {
	return &VMHandler{service: service, logger: logger}
}

// ListVMs never fails: an unreachable controller yields an empty list.
func (h *VMHandler) ListVMs(c *fiber.Ctx) error {
	vms := h.service.ListVMs(c.UserContext())
	h.logger.Infow("vms_list_success", "count", len(vms))
	return c.JSON(dto.NewVMListResponse(vms))
}
