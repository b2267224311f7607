package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/fleecy/participant/internal/infrastructure/hoststats"
)

type HealthHandler struct {
	stats *hoststats.Collector
}

func NewHealthHandler(stats *hoststats.Collector) *HealthHandler {
	return &HealthHandler{stats: stats}
}

func (h *HealthHandler) Home(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"message":   "Fleecy Cloud Participant Server",
		"status":    "running",
		"timestamp": time.Now(),
	})
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now(),
	}
	if h.stats != nil && c.QueryBool("stats", true) {
		resp["host"] = h.stats.Collect()
	}
	return c.JSON(resp)
}
