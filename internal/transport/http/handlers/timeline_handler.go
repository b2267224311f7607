package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/fleecy/participant/internal/core/ports"
	"github.com/fleecy/participant/internal/domain"
	"github.com/fleecy/participant/internal/transport/http/dto"
)

type TimelineHandler struct {
	repo ports.TimelineRepository
}

func NewTimelineHandler(repo ports.TimelineRepository) *TimelineHandler {
	return &TimelineHandler{repo: repo}
}

// GetEvents lists recent events, or the history of one task when
// resource_id is given.
func (h *TimelineHandler) GetEvents(c *fiber.Ctx) error {
	if rid := c.Query("resource_id"); rid != "" {
		rtype := c.Query("resource_type", domain.ResourceTypeTask)
		events, err := h.repo.GetByResource(c.UserContext(), rtype, rid)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		return c.JSON(nonNil(events))
	}

	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	events, err := h.repo.GetAll(c.UserContext(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(nonNil(events))
}

func nonNil(events []domain.TimelineEvent) []domain.TimelineEvent {
	if events == nil {
		return []domain.TimelineEvent{}
	}
	return events
}
