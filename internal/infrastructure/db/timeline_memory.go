package db

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/fleecy/participant/internal/core/ports"
	"github.com/fleecy/participant/internal/domain"
	"github.com/fleecy/participant/internal/infrastructure/logger"
)

// MemoryTimelineRepo keeps the most recent events in memory. It is used when
// no database is configured.
type MemoryTimelineRepo struct {
	logger   *logger.Logger
	capacity int

	mu     sync.RWMutex
	nextID uint
	events []domain.TimelineEvent
}

func NewMemoryTimelineRepo(capacity int, log *logger.Logger) *MemoryTimelineRepo {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryTimelineRepo{logger: log, capacity: capacity}
}

var _ ports.TimelineRepository = (*MemoryTimelineRepo)(nil)

func (r *MemoryTimelineRepo) Create(_ context.Context, event *domain.TimelineEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	event.ID = r.nextID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.UpdatedAt = event.CreatedAt

	r.events = append(r.events, *event)
	if len(r.events) > r.capacity {
		r.events = r.events[len(r.events)-r.capacity:]
	}

	r.logger.Debugw("timeline event",
		"type", event.Type,
		"status", event.Status,
		"message", event.Message,
		"resource_type", event.ResourceType,
		"resource_id", event.ResourceID,
	)
	return nil
}

func (r *MemoryTimelineRepo) GetByID(_ context.Context, id uint) (*domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.events {
		if r.events[i].ID == id {
			event := r.events[i]
			return &event, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

// GetByResource returns matching events oldest first.
func (r *MemoryTimelineRepo) GetByResource(_ context.Context, resourceType string, resourceID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.TimelineEvent
	for _, e := range r.events {
		if e.ResourceType == resourceType && e.ResourceID == resourceID {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetAll returns up to limit events, newest first.
func (r *MemoryTimelineRepo) GetAll(_ context.Context, limit int) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.events) {
		limit = len(r.events)
	}
	out := make([]domain.TimelineEvent, 0, limit)
	for i := len(r.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.events[i])
	}
	return out, nil
}

func (r *MemoryTimelineRepo) CleanupOld(_ context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.events[:0]
	for _, e := range r.events {
		if !e.CreatedAt.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	deleted := int64(len(r.events) - len(kept))
	r.events = kept
	return deleted, nil
}
