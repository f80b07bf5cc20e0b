/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"p2p-escrow-mediator/internal/lock"
	"p2p-escrow-mediator/internal/metrics"
	"p2p-escrow-mediator/internal/models"
	"p2p-escrow-mediator/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	cycleLockKey = "poll-cycle"

	defaultPollInterval = 60 * time.Second
	defaultWorkers      = 4
	defaultGracePeriod  = 30 * time.Second
	defaultLockTTL      = 5 * time.Minute
)

// Reconciler is the per-escrow work unit run by each cycle.
type Reconciler interface {
	Reconcile(ctx context.Context, escrowId string) (bool, error)
}

// PollSchedulerConfig contains configuration for PollScheduler
type PollSchedulerConfig struct {
	Escrows      store.EscrowStore
	Reconciler   Reconciler
	Locker       lock.Locker
	PollInterval time.Duration
	Workers      int
	GracePeriod  time.Duration
	LockTTL      time.Duration
	Console      io.Writer
}

// PollScheduler periodically reconciles every escrow awaiting a deposit. The
// next cycle is scheduled only after the previous one finished.
type PollScheduler struct {
	escrows    store.EscrowStore
	reconciler Reconciler
	locker     lock.Locker
	console    io.Writer

	pollInterval time.Duration
	workers      int
	gracePeriod  time.Duration
	lockTTL      time.Duration

	// Control channels
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	cancel   context.CancelFunc
}

// NewPollScheduler creates a scheduler; zero durations and counts take defaults.
func NewPollScheduler(cfg PollSchedulerConfig) *PollScheduler {
	s := &PollScheduler{
		escrows:      cfg.Escrows,
		reconciler:   cfg.Reconciler,
		locker:       cfg.Locker,
		console:      cfg.Console,
		pollInterval: cfg.PollInterval,
		workers:      cfg.Workers,
		gracePeriod:  cfg.GracePeriod,
		lockTTL:      cfg.LockTTL,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
	if s.locker == nil {
		s.locker = lock.NewLocal()
	}
	if s.console == nil {
		s.console = os.Stdout
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	if s.workers <= 0 {
		s.workers = defaultWorkers
	}
	if s.gracePeriod <= 0 {
		s.gracePeriod = defaultGracePeriod
	}
	if s.lockTTL <= 0 {
		s.lockTTL = defaultLockTTL
	}
	return s
}

// Start launches the poll loop. The first cycle runs immediately.
func (s *PollScheduler) Start(ctx context.Context) error {
	if s.escrows == nil || s.reconciler == nil {
		return fmt.Errorf("scheduler requires an escrow store and a reconciler")
	}
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler already started")
	}
	select {
	case <-s.stopChan:
		// Stop may already be waiting on doneChan
		close(s.doneChan)
		return fmt.Errorf("scheduler already stopped")
	default:
	}

	zap.L().Info("Starting poll scheduler",
		zap.Duration("poll_interval", s.pollInterval),
		zap.Int("workers", s.workers),
		zap.Duration("grace_period", s.gracePeriod))

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.pollLoop(runCtx)
	return nil
}

// Stop waits for the in-flight cycle up to the grace period, then cancels it.
func (s *PollScheduler) Stop() {
	s.stopOnce.Do(func() {
		zap.L().Info("Stopping poll scheduler")
		close(s.stopChan)
		if !s.started.Load() {
			return
		}

		grace := time.NewTimer(s.gracePeriod)
		defer grace.Stop()

		select {
		case <-s.doneChan:
		case <-grace.C:
			zap.L().Warn("Grace period elapsed, cancelling in-flight cycle",
				zap.Duration("grace_period", s.gracePeriod))
			if s.cancel != nil {
				s.cancel()
			}
			<-s.doneChan
		}
		if s.cancel != nil {
			s.cancel()
		}
		zap.L().Info("Poll scheduler stopped")
	})
}

// pollLoop runs cycles until stopped. The timer is re-armed after each cycle
// so slow cycles never overlap.
func (s *PollScheduler) pollLoop(ctx context.Context) {
	defer close(s.doneChan)

	s.cycle(ctx)

	timer := time.NewTimer(s.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			s.cycle(ctx)
			timer.Reset(s.pollInterval)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *PollScheduler) cycle(ctx context.Context) {
	select {
	case <-s.stopChan:
		return
	default:
	}
	if _, err := s.RunOnce(ctx); err != nil {
		zap.L().Error("Poll cycle failed", zap.Error(err))
	}
}

// ANSI color helpers for console output.
const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
	colorGray  = "\033[90m"
)

// RunOnce performs a single cycle over all escrows awaiting a deposit. A
// cycle held by another instance is skipped without error.
func (s *PollScheduler) RunOnce(ctx context.Context) (models.CycleStats, error) {
	var stats models.CycleStats
	start := time.Now()

	unlock, err := s.locker.Acquire(ctx, cycleLockKey, s.lockTTL)
	if errors.Is(err, lock.ErrLockHeld) {
		zap.L().Debug("Poll cycle held by another instance, skipping")
		return stats, nil
	}
	if err != nil {
		return stats, fmt.Errorf("failed to acquire cycle lock: %w", err)
	}
	defer unlock()

	pending, err := s.escrows.ListEscrowsByStatus(ctx, models.StatusAwaitingDeposit)
	if err != nil {
		return stats, fmt.Errorf("failed to list escrows awaiting deposit: %w", err)
	}
	stats.Pending = len(pending)

	cycleCtx := models.WithPollCycleContext(ctx, &models.PollCycleContext{
		CycleId:   uuid.New().String()[:8],
		StartedAt: start.UTC(),
	})

	fmt.Fprintf(s.console, "\n%s[%s] Reconciling %d escrows awaiting deposit%s\n",
		colorCyan, start.Format("15:04:05"), len(pending), colorReset)

	var funded, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.workers)

	for _, e := range pending {
		e := e // per-iteration copy (go directive < 1.22)
		g.Go(func() error {
			ok, err := s.reconciler.Reconcile(cycleCtx, e.Id)
			switch {
			case err != nil:
				failed.Add(1)
				fmt.Fprintf(s.console, "  %s✗ %s %s %s: %s%s\n",
					colorRed, shortId(e.Id), e.Asset, e.Amount.String(), err, colorReset)
				zap.L().Error("Failed to reconcile escrow",
					zap.String("escrow_id", e.Id),
					zap.String("asset", e.Asset.String()),
					zap.Error(err))
			case ok:
				funded.Add(1)
				fmt.Fprintf(s.console, "  %s✓ %s %s %s funded%s\n",
					colorGreen, shortId(e.Id), e.Asset, e.Amount.String(), colorReset)
			default:
				fmt.Fprintf(s.console, "  %s· %s %s %s waiting%s\n",
					colorGray, shortId(e.Id), e.Asset, e.Amount.String(), colorReset)
			}
			// one escrow's failure never cancels the others
			return nil
		})
	}
	_ = g.Wait()

	stats.Funded = int(funded.Load())
	stats.Failed = int(failed.Load())
	stats.Duration = time.Since(start)
	metrics.Mediator().ObserveCycle(stats.Pending, stats.Failed, stats.Duration)

	zap.L().Debug("Poll cycle completed",
		zap.Int("pending", stats.Pending),
		zap.Int("funded", stats.Funded),
		zap.Int("failed", stats.Failed),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

func shortId(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
