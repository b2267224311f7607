package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/fleecy/participant/internal/core/services"
	"github.com/fleecy/participant/internal/domain"
)

// statusForError maps orchestrator errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.Is(err, services.ErrVMNotFound),
		errors.Is(err, services.ErrTaskNotFound),
		errors.Is(err, services.ErrLocalRunNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrVMNoAddress),
		errors.Is(err, services.ErrInvalidTask),
		errors.Is(err, services.ErrLocalRunInvalid),
		errors.Is(err, services.ErrBundleMissingFile),
		errors.Is(err, services.ErrBundleInvalidTOML),
		errors.Is(err, domain.ErrUnsafePath),
		errors.Is(err, domain.ErrDuplicatePath):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}
