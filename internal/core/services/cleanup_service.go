package services

import (
	"context"
	"time"

	"github.com/fleecy/participant/internal/config"
	"github.com/fleecy/participant/internal/core/ports"
	"github.com/fleecy/participant/internal/domain"
	"github.com/fleecy/participant/internal/infrastructure/logger"
	"github.com/fleecy/participant/internal/infrastructure/metrics"
)

// RunPruner drops finished local runs.
type RunPruner interface {
	Prune(olderThan time.Duration) int
}

// CleanupResult is what one sweep removed.
type CleanupResult struct {
	TimelineEvents int64 `json:"timeline_events"`
	LocalRuns      int   `json:"local_runs"`
}

// CleanupService enforces retention on the timeline and on local runs.
type CleanupService struct {
	logger       *logger.Logger
	cfg          config.RetentionConfig
	timelineRepo ports.TimelineRepository
	runs         RunPruner
}

func NewCleanupService(cfg config.RetentionConfig, timelineRepo ports.TimelineRepository, runs RunPruner, logger *logger.Logger) *CleanupService {
	return &CleanupService{
		logger:       logger,
		cfg:          cfg,
		timelineRepo: timelineRepo,
		runs:         runs,
	}
}

// Sweep runs one retention pass. A failure on the timeline does not stop the
// local runs from being pruned.
func (s *CleanupService) Sweep(ctx context.Context) (CleanupResult, error) {
	var (
		res      CleanupResult
		firstErr error
	)

	if s.timelineRepo != nil && s.cfg.Timeline > 0 {
		n, err := s.timelineRepo.CleanupOld(ctx, s.cfg.Timeline)
		if err != nil {
			s.logger.Errorw("retention_timeline_failed", "error", err)
			firstErr = err
		}
		res.TimelineEvents = n
		metrics.RetentionPrunedTotal.WithLabelValues("timeline").Add(float64(n))
	}

	if s.runs != nil && s.cfg.LocalRuns > 0 {
		res.LocalRuns = s.runs.Prune(s.cfg.LocalRuns)
		metrics.RetentionPrunedTotal.WithLabelValues("local_run").Add(float64(res.LocalRuns))
	}

	if res.TimelineEvents > 0 || res.LocalRuns > 0 {
		s.logger.Infow("retention_sweep_done", "timeline_events", res.TimelineEvents, "local_runs", res.LocalRuns)
		s.logCleanupEvent(ctx, res)
	}
	return res, firstErr
}

// Run sweeps every interval until ctx is done.
func (s *CleanupService) Run(ctx context.Context) {
	if s.cfg.Interval <= 0 {
		s.logger.Info("retention sweep disabled")
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Sweep(ctx)
		}
	}
}

func (s *CleanupService) logCleanupEvent(ctx context.Context, res CleanupResult) {
	if s.timelineRepo == nil {
		return
	}

	event := &domain.TimelineEvent{
		Type:         domain.EventTypeRetentionSweep,
		Status:       domain.EventStatusSuccess,
		Message:      "retention sweep removed expired records",
		ResourceType: domain.ResourceTypeSystem,
		Meta: domain.JSONB{
			"timeline_events": res.TimelineEvents,
			"local_runs":      res.LocalRuns,
		},
		CreatedAt: time.Now(),
	}
	if err := s.timelineRepo.Create(ctx, event); err != nil {
		s.logger.Errorw("cleanup_timeline_event_failed", "error", err)
	}
}
