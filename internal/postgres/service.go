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

// Package postgres is the pgx-backed store for multi-instance deployments.
// Escrow read-modify-write sections hold a row lock (SELECT ... FOR UPDATE)
// for the duration of the mutation.
package postgres

import (
	"context"
	"fmt"
	"time"

	"p2p-escrow-mediator/internal/models"
	"p2p-escrow-mediator/internal/store"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.Store.
var _ store.Store = (*Service)(nil)

type Service struct {
	pool *pgxpool.Pool
}

func NewService(ctx context.Context, cfg models.PostgresConfig) (*Service, error) {
	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping postgres: %w", err)
	}

	service := &Service{pool: pool}
	if err := service.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Postgres pool created", zap.Int32("max_conns", poolCfg.MaxConns))
	return service, nil
}

func poolConfig(cfg models.PostgresConfig) (*pgxpool.Config, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN cannot be empty")
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres DSN: %w", err)
	}

	poolCfg.MaxConns = 20
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = 2
	if poolCfg.MinConns > poolCfg.MaxConns {
		poolCfg.MinConns = poolCfg.MaxConns
	}
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	return poolCfg, nil
}

func (s *Service) Close() {
	s.pool.Close()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Service) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS escrows (
			id TEXT PRIMARY KEY,
			buyer_id TEXT NOT NULL,
			seller_id TEXT NOT NULL DEFAULT '',
			asset TEXT NOT NULL DEFAULT '',
			amount TEXT NOT NULL DEFAULT '0',
			fee TEXT NOT NULL DEFAULT '0',
			net_amount TEXT NOT NULL DEFAULT '0',
			status TEXT NOT NULL,
			funded BOOLEAN NOT NULL DEFAULT FALSE,
			buyer_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
			seller_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
			disputed_by TEXT NOT NULL DEFAULT '',
			disputed_from TEXT NOT NULL DEFAULT '',
			resolved_by TEXT NOT NULL DEFAULT '',
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_escrows_status ON escrows(status);
		CREATE INDEX IF NOT EXISTS idx_escrows_buyer ON escrows(buyer_id);
		CREATE INDEX IF NOT EXISTS idx_escrows_seller ON escrows(seller_id);

		CREATE TABLE IF NOT EXISTS escrow_transactions (
			id TEXT PRIMARY KEY,
			escrow_id TEXT NOT NULL REFERENCES escrows(id) ON DELETE CASCADE,
			asset TEXT NOT NULL,
			address TEXT NOT NULL,
			tx_hash TEXT NOT NULL,
			amount TEXT NOT NULL,
			confirmations INTEGER NOT NULL DEFAULT 0,
			confirmed BOOLEAN NOT NULL DEFAULT FALSE,
			detected_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (asset, tx_hash)
		);
		CREATE INDEX IF NOT EXISTS idx_escrow_transactions_escrow ON escrow_transactions(escrow_id);

		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS wallets (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			asset TEXT NOT NULL,
			address TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (user_id, asset)
		);
		CREATE INDEX IF NOT EXISTS idx_wallets_address ON wallets(address);
	`)
	return err
}
