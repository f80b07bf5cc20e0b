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

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"p2p-escrow-mediator/internal/common"
	"p2p-escrow-mediator/internal/config"
	"p2p-escrow-mediator/internal/scheduler"
	"p2p-escrow-mediator/internal/server"

	"go.uber.org/zap"
)

func main() {
	once := flag.Bool("once", false, "Run a single reconcile cycle and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger, _ := zap.NewProduction()
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger(cfg.Logging)
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting P2P escrow mediator",
		zap.String("store_backend", cfg.StoreBackend),
		zap.Duration("poll_interval", cfg.Scheduler.PollInterval))

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	poller := scheduler.NewPollScheduler(scheduler.PollSchedulerConfig{
		Escrows:      services.Store,
		Reconciler:   services.Reconciler,
		Locker:       services.Locker,
		PollInterval: cfg.Scheduler.PollInterval,
		Workers:      cfg.Scheduler.Workers,
		GracePeriod:  cfg.Scheduler.GracePeriod,
		LockTTL:      cfg.Scheduler.LockTTL,
	})

	if *once {
		stats, err := poller.RunOnce(ctx)
		if err != nil {
			zap.L().Fatal("Reconcile cycle failed", zap.Error(err))
		}
		zap.L().Info("Reconcile cycle completed",
			zap.Int("pending", stats.Pending),
			zap.Int("funded", stats.Funded),
			zap.Int("failed", stats.Failed),
			zap.Duration("duration", stats.Duration))
		return
	}

	ops := server.New(server.Config{Addr: cfg.Server.MetricsAddr, Backend: services.Escrow})
	go func() {
		if err := ops.ListenAndServe(); err != nil {
			zap.L().Error("Ops server failed", zap.Error(err))
		}
	}()

	if err := poller.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start poll scheduler", zap.Error(err))
	}

	zap.L().Info("Mediator running", zap.String("ops_addr", cfg.Server.MetricsAddr))
	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping scheduler...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Scheduler.GracePeriod+5*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		poller.Stop()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("Scheduler stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
	}

	if err := ops.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("Ops server shutdown failed", zap.Error(err))
	}
}
