package performance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RecomputeScheduler runs the bulk metrics recompute on a fixed interval.
//
// Routing reads metrics snapshots only, so freshness is bounded by this
// interval. Thread safety: Start/Stop are guarded by a mutex; the run loop
// owns no shared state beyond the analyzer.
type RecomputeScheduler struct {
	interval time.Duration
	analyzer *Analyzer
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// SchedulerOption configures a RecomputeScheduler.
type SchedulerOption func(*RecomputeScheduler)

// WithInterval sets the recompute interval. Defaults to 1 hour.
func WithInterval(interval time.Duration) SchedulerOption {
	return func(s *RecomputeScheduler) {
		s.interval = interval
	}
}

// NewRecomputeScheduler creates a scheduler. It does not start
// automatically; call Start.
func NewRecomputeScheduler(analyzer *Analyzer, logger *zap.Logger, opts ...SchedulerOption) (*RecomputeScheduler, error) {
	if analyzer == nil {
		return nil, fmt.Errorf("analyzer cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &RecomputeScheduler{
		interval: time.Hour,
		analyzer: analyzer,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", s.interval)
	}
	return s, nil
}

// Start begins periodic recomputation. Returns an error if already running.
func (s *RecomputeScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx, s.stopCh, s.doneCh)

	s.logger.Info("metrics recompute scheduler started",
		zap.Duration("interval", s.interval))
	return nil
}

// Stop halts the scheduler and waits for the current run to finish.
func (s *RecomputeScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.logger.Info("metrics recompute scheduler stopped")
}

func (s *RecomputeScheduler) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := s.analyzer.BulkUpdateAllBrokerMetrics(ctx); err != nil {
				s.logger.Warn("bulk metrics recompute finished with errors",
					zap.Duration("elapsed", time.Since(start)),
					zap.Error(err))
				continue
			}
			s.logger.Debug("bulk metrics recompute complete",
				zap.Duration("elapsed", time.Since(start)))
		}
	}
}
