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

package common

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"p2p-escrow-mediator/internal/api"
	"p2p-escrow-mediator/internal/database"
	"p2p-escrow-mediator/internal/journal"
	"p2p-escrow-mediator/internal/lock"
	"p2p-escrow-mediator/internal/models"
	"p2p-escrow-mediator/internal/notify"
	"p2p-escrow-mediator/internal/oracle"
	"p2p-escrow-mediator/internal/postgres"
	"p2p-escrow-mediator/internal/reconciler"
	"p2p-escrow-mediator/internal/release"
	"p2p-escrow-mediator/internal/settings"
	"p2p-escrow-mediator/internal/store"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Services holds every wired collaborator of the mediator.
type Services struct {
	Store       store.Store
	Redis       *redis.Client
	Assets      map[models.Asset]models.AssetConfig
	Oracle      *oracle.Service
	Journal     journal.Journal
	Notifier    notify.Sink
	Locker      lock.Locker
	Settings    *settings.Reader
	Reconciler  *reconciler.Reconciler
	Coordinator *release.Coordinator
	Escrow      *api.EscrowService
}

func InitializeLogger(cfg models.LoggingConfig) (*zap.Logger, func()) {
	var logger *zap.Logger
	if cfg.File == "" && !cfg.Debug {
		l, err := zap.NewProduction()
		if err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
		logger = l
	} else {
		logger = newTeeLogger(cfg)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// newTeeLogger writes JSON to stderr and, when configured, to a rotated file.
func newTeeLogger(cfg models.LoggingConfig) *zap.Logger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Debug {
		level.SetLevel(zapcore.DebugLevel)
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

// InitializeStore opens the configured store backend without the rest of the
// services. Useful for settings and read-only CLI commands.
func InitializeStore(ctx context.Context, cfg *models.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case models.BackendPostgres:
		pg, err := postgres.NewService(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case models.BackendSQLite, "":
		db, err := database.NewService(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// NewRedisClient connects to url and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	zap.L().Info("Redis connected", zap.String("addr", opts.Addr))
	return client, nil
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	assets, err := LoadAssetConfig(cfg.AssetsFile)
	if err != nil {
		return nil, err
	}
	ApplyContractOverride(assets, cfg.Oracle.USDTContract)

	st, err := InitializeStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &Services{Store: st, Assets: assets}

	s.Oracle, err = oracle.NewService(cfg.Oracle, assets)
	if err != nil {
		s.Close()
		return nil, err
	}

	sinks := notify.Multi{notify.LogSink{}}
	s.Locker = lock.NewLocal()
	if cfg.Redis.URL != "" {
		s.Redis, err = NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Locker = lock.NewRedis(s.Redis)
		sinks = append(sinks, notify.NewRedisSink(s.Redis, cfg.Redis.EventsChannel))
	}
	s.Notifier = sinks

	s.Journal = journal.Noop{}
	if cfg.Formance.StackURL != "" {
		fj, err := journal.NewFormance(ctx, cfg.Formance, assets)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Journal = fj
	}

	s.Settings = settings.NewReader(st, assets, cfg.Fees)
	s.Reconciler = reconciler.New(reconciler.Config{
		Escrows:  st,
		Wallets:  st,
		Settings: s.Settings,
		Oracle:   s.Oracle,
		Notifier: s.Notifier,
		Journal:  s.Journal,
	})
	s.Coordinator = release.NewCoordinator(release.Config{
		Escrows:  st,
		Notifier: s.Notifier,
		Journal:  s.Journal,
		AdminIds: cfg.Admin.AdminIds,
	})
	s.Escrow, err = api.NewEscrowService(api.EscrowServiceConfig{
		Store:       st,
		Settings:    s.Settings,
		Reconciler:  s.Reconciler,
		Coordinator: s.Coordinator,
		BotUsername: cfg.BotUsername,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	zap.L().Info("Services initialized",
		zap.String("store_backend", cfg.StoreBackend),
		zap.Bool("redis", s.Redis != nil),
		zap.Bool("journal", cfg.Formance.StackURL != ""),
		zap.Int("admins", len(cfg.Admin.AdminIds)))
	return s, nil
}

func (cs *Services) Close() {
	if cs.Redis != nil {
		if err := cs.Redis.Close(); err != nil {
			zap.L().Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if cs.Store != nil {
		cs.Store.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
