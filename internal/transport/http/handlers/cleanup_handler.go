package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/fleecy/participant/internal/core/services"
	"github.com/fleecy/participant/internal/infrastructure/logger"
	"github.com/fleecy/participant/internal/transport/http/dto"
)

// Sweeper runs one retention pass.
type Sweeper interface {
	Sweep(ctx context.Context) (services.CleanupResult, error)
}

type CleanupHandler struct {
	cleanupService Sweeper
	logger         *logger.Logger
}

func NewCleanupHandler(cleanupService Sweeper, logger *logger.Logger) *CleanupHandler {
	return &CleanupHandler{cleanupService: cleanupService, logger: logger}
}

// Sweep applies retention now instead of waiting for the next tick.
func (h *CleanupHandler) Sweep(c *fiber.Ctx) error {
	res, err := h.cleanupService.Sweep(c.UserContext())
	if err != nil {
		h.logger.Errorw("cleanup_failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error:   "retention sweep failed",
			Details: []string{err.Error()},
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"removed": res,
	})
}
