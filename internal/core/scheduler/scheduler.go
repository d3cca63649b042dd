package scheduler

import (
	"context"
	"time"

	"github.com/lumenhub/lumen-backend-go/internal/core/coordinator"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// LifecycleView is the read-only slice of the lifecycle manager the
// maintenance sweeps need
type LifecycleView interface {
	LoadedEntryIDs() []string
	Coordinator(entryID string) *coordinator.UpdateCoordinator
}

// Scheduler runs periodic maintenance: a health sweep logging degraded
// coordinators and a nightly full refresh of every loaded entry.
type Scheduler struct {
	lifecycle LifecycleView
	logger    *logrus.Logger
	cron      *cron.Cron
}

// New creates a scheduler; Start registers and begins the jobs
func New(lifecycle LifecycleView, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		lifecycle: lifecycle,
		logger:    logger,
		cron:      cron.New(),
	}
}

// Start registers the maintenance jobs and begins the cron loop
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("*/5 * * * *", s.healthSweep); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("0 3 * * *", s.refreshAll); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("Maintenance scheduler started")
	return nil
}

// Stop halts the cron loop, waiting for a running job to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Maintenance scheduler stopped")
}

// healthSweep logs every loaded entry whose coordinator has crossed its
// failure threshold and updates the degraded gauge
func (s *Scheduler) healthSweep() {
	degraded := 0
	for _, entryID := range s.lifecycle.LoadedEntryIDs() {
		coord := s.lifecycle.Coordinator(entryID)
		if coord == nil {
			continue
		}
		if !coord.Healthy() {
			degraded++
			s.logger.WithFields(logrus.Fields{
				"entry_id": entryID,
				"domain":   coord.Domain(),
				"error":    coord.LastError(),
			}).Warn("Coordinator unhealthy")
		}
	}
	degradedCoordinators.Set(float64(degraded))
	s.logger.WithField("degraded", degraded).Debug("Health sweep completed")
}

// refreshAll requests an out-of-band refresh from every loaded entry's
// coordinator
func (s *Scheduler) refreshAll() {
	for _, entryID := range s.lifecycle.LoadedEntryIDs() {
		coord := s.lifecycle.Coordinator(entryID)
		if coord == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if err := coord.RequestRefresh(ctx); err != nil {
			s.logger.WithError(err).WithField("entry_id", entryID).Debug("Nightly refresh failed")
		}
		cancel()
	}
	s.logger.Debug("Nightly refresh completed")
}
