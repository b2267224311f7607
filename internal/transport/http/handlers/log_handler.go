package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/fleecy/participant/internal/core/ports"
	"github.com/fleecy/participant/internal/domain"
	"github.com/fleecy/participant/internal/infrastructure/logger"
	"github.com/fleecy/participant/internal/transport/http/dto"
)

type LogHandler struct {
	service  ports.DeploymentService
	interval time.Duration
	logger   *logger.Logger
}

func NewLogHandler(service ports.DeploymentService, interval time.Duration, logger *logger.Logger) *LogHandler {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &LogHandler{service: service, interval: interval, logger: logger}
}

func (h *LogHandler) GetLogs(c *fiber.Ctx) error {
	taskID := c.Params("task_id")
	tail := c.QueryInt("tail", 0)
	if tail < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "tail must not be negative",
		})
	}

	report := h.service.GetLogs(c.UserContext(), ports.LogsInput{
		TaskID:    taskID,
		VMID:      c.Query("vm_id"),
		TailLines: tail,
	})
	if !report.Success {
		return c.Status(statusForError(report.Err)).JSON(report)
	}
	return c.JSON(report)
}

type logFrame struct {
	Type    string            `json:"type"`
	Data    string            `json:"data,omitempty"`
	Status  domain.TaskStatus `json:"status,omitempty"`
	Running bool              `json:"process_running"`
	Error   string            `json:"error,omitempty"`
}

// Stream polls the task log and pushes new content until the task finishes
// or the client goes away.
func (h *LogHandler) Stream(c *websocket.Conn) {
	taskID := c.Params("task_id")
	vmID := c.Query("vm_id")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reading is only needed to notice the close frame.
	go func() {
		defer cancel()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Infow("log_stream_open", "task_id", taskID, "vm_id", vmID)
	defer h.logger.Infow("log_stream_closed", "task_id", taskID)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var sent string
	for {
		report := h.service.GetLogs(ctx, ports.LogsInput{TaskID: taskID, VMID: vmID})
		if !report.Success {
			frame := logFrame{Type: "error", Status: report.Status}
			if report.Error != nil {
				frame.Error = *report.Error
			}
			_ = c.WriteJSON(frame)
			return
		}

		chunk := report.LogContent
		if strings.HasPrefix(report.LogContent, sent) {
			chunk = report.LogContent[len(sent):]
		}
		sent = report.LogContent

		if err := c.WriteJSON(logFrame{
			Type:    "log",
			Data:    chunk,
			Status:  report.Status,
			Running: report.ProcessRunning,
		}); err != nil {
			return
		}

		if report.Status == domain.TaskStatusCompleted || report.Status == domain.TaskStatusFailed {
			_ = c.WriteJSON(logFrame{Type: "done", Status: report.Status})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
