package sync

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"sheet-sync-service/internal/config"
	"sheet-sync-service/internal/logger"
)

// Scheduler runs the periodic jobs: reaping connections whose heartbeats
// went quiet, and the injected notification sweep (deadline checks).
type Scheduler struct {
	cfg      config.SchedulerConfig
	registry *Registry
	sweep    func()
	cron     *cron.Cron
}

func NewScheduler(cfg config.SchedulerConfig, registry *Registry, sweep func()) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		registry: registry,
		sweep:    sweep,
		cron:     cron.New(),
	}
}

func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return
	}

	logger.Log.Info("Starting scheduler",
		zap.String("reapInterval", s.cfg.ReapInterval),
		zap.String("sweepInterval", s.cfg.SweepInterval),
	)

	if _, err := s.cron.AddFunc(s.cfg.ReapInterval, s.reapStale); err != nil {
		logger.Log.Error("Failed to schedule connection reaper", zap.Error(err))
	}

	if s.sweep != nil {
		if _, err := s.cron.AddFunc(s.cfg.SweepInterval, s.sweep); err != nil {
			logger.Log.Error("Failed to schedule notification sweep", zap.Error(err))
		}
	}

	s.cron.Start()
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) reapStale() {
	if reaped := s.registry.ReapStale(); reaped > 0 {
		logger.Log.Info("Reaped stale connections", zap.Int("count", reaped))
	}
}
