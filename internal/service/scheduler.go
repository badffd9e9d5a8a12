package service

import (
	"context"
	"sync"
	"time"

	"kvrelay/internal/constants"
	"kvrelay/internal/kv"
	"kvrelay/internal/metrics"

	"github.com/sirupsen/logrus"
)

// Scheduler periodically removes expired entries from stores that have no
// native expiry. Backends like redis never need one.
type Scheduler struct {
	sweeper  kv.Sweeper
	interval time.Duration
	logger   *logrus.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewScheduler(sweeper kv.Sweeper, intervalSec int, logger *logrus.Logger) *Scheduler {
	if intervalSec <= 0 {
		intervalSec = constants.DefaultSweepIntervalSec
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		sweeper:  sweeper,
		interval: time.Duration(intervalSec) * time.Second,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.interval.String()).Info("Starting expiry sweeper")

	s.runSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sweeper context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Sweeper stop signal received, stopping")
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Scheduler) runSweep(ctx context.Context) {
	start := time.Now()

	removed, err := s.sweeper.SweepExpired(ctx)
	if err != nil {
		metrics.IncrementCounter("sweep_failures_total", nil, "Failed expiry sweeps")
		s.logger.WithError(err).Error("Failed to sweep expired entries")
		return
	}

	metrics.AddToCounter("entries_expired_total", float64(removed), nil, "Entries removed by the expiry sweeper")
	metrics.RecordTimer("sweep_duration", time.Since(start), nil, "Expiry sweep duration")

	s.logger.WithFields(logrus.Fields{
		LogFieldDeleted:  removed,
		LogFieldDuration: time.Since(start).Milliseconds(),
	}).Debug("Expiry sweep completed")
}
