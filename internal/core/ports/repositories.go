package ports

import (
	"context"
	"time"

	"github.com/fleecy/participant/internal/domain"
)

type TimelineRepository interface {
	Create(ctx context.Context, event *domain.TimelineEvent) error
	GetByID(ctx context.Context, id uint) (*domain.TimelineEvent, error)
	GetByResource(ctx context.Context, resourceType string, resourceID string) ([]domain.TimelineEvent, error)
	GetAll(ctx context.Context, limit int) ([]domain.TimelineEvent, error)
	// CleanupOld deletes events created before now minus olderThan and
	// reports how many went.
	CleanupOld(ctx context.Context, olderThan time.Duration) (int64, error)
}
