package sync

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"marketplace-sync-service/internal/config"
	"marketplace-sync-service/internal/logger"
	"marketplace-sync-service/internal/marketplace"
	"marketplace-sync-service/internal/store"
)

// Scheduler drives periodic syncs per resource type and the staleness sweep
// that reclassifies runs a crashed process left behind in running state.
type Scheduler struct {
	cfg        config.SchedulerConfig
	manager    *Manager
	store      store.Store
	staleAfter time.Duration
	cron       *cron.Cron
}

func NewScheduler(cfg config.SchedulerConfig, manager *Manager, st store.Store, staleAfter time.Duration) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		manager:    manager,
		store:      st,
		staleAfter: staleAfter,
		cron:       cron.New(),
	}
}

func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return
	}

	entries := map[marketplace.ResourceType]string{
		marketplace.ResourceProducts: s.cfg.Products,
		marketplace.ResourceOrders:   s.cfg.Orders,
	}
	for resource, spec := range entries {
		if spec == "" {
			continue
		}
		resource := resource
		if _, err := s.cron.AddFunc(spec, func() { s.triggerSync(resource) }); err != nil {
			logger.Log.Error("Failed to schedule sync job",
				zap.String("resource", string(resource)),
				zap.String("spec", spec),
				zap.Error(err),
			)
			continue
		}
		logger.Log.Info("Scheduled periodic sync",
			zap.String("resource", string(resource)), zap.String("spec", spec))
	}

	if _, err := s.cron.AddFunc(s.cfg.GetSweepInterval(), s.sweepStaleRuns); err != nil {
		logger.Log.Error("Failed to schedule staleness sweep", zap.Error(err))
	}

	s.cron.Start()
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) triggerSync(resource marketplace.ResourceType) {
	logger.Log.Info("Triggering scheduled sync", zap.String("resource", string(resource)))

	_, err := s.manager.Start(Request{
		ResourceType: resource,
		Mode:         ModeIncremental,
	})
	if errors.Is(err, ErrSyncInProgress) {
		logger.Log.Info("Sync already running, skipping scheduled run",
			zap.String("resource", string(resource)))
		return
	}
	if err != nil {
		logger.Log.Error("Failed to start scheduled sync",
			zap.String("resource", string(resource)), zap.Error(err))
	}
}

func (s *Scheduler) sweepStaleRuns() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.store.MarkStaleRuns(ctx, s.staleAfter); err != nil {
		logger.Log.Error("Staleness sweep failed", zap.Error(err))
	}
}
