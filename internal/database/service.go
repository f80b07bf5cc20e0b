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

package database

import (
	"context"
	"database/sql"
	"fmt"

	"p2p-escrow-mediator/internal/models"
	"p2p-escrow-mediator/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.Store.
var _ store.Store = (*Service)(nil)

type Service struct {
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db}
	if err := service.initSchema(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

// dsn builds the go-sqlite3 connection string. Write transactions start with
// BEGIN IMMEDIATE so concurrent read-modify-write sections serialize on the
// database write lock instead of failing at commit.
func dsn(cfg models.DatabaseConfig) string {
	busy := cfg.BusyTimeout.Milliseconds()
	if busy <= 0 {
		busy = 5000
	}
	return fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_busy_timeout=%d&_txlock=immediate&_foreign_keys=1",
		cfg.Path, busy)
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Service) initSchema(ctx context.Context) error {
	schema := `
	-- Create escrows table
	CREATE TABLE IF NOT EXISTS escrows (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL,
		seller_id TEXT NOT NULL DEFAULT '',
		asset TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL DEFAULT '0',
		fee TEXT NOT NULL DEFAULT '0',
		net_amount TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		funded BOOLEAN NOT NULL DEFAULT 0,
		buyer_confirmed BOOLEAN NOT NULL DEFAULT 0,
		seller_confirmed BOOLEAN NOT NULL DEFAULT 0,
		disputed_by TEXT NOT NULL DEFAULT '',
		disputed_from TEXT NOT NULL DEFAULT '',
		resolved_by TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	-- Create index for the poll scheduler
	CREATE INDEX IF NOT EXISTS idx_escrows_status ON escrows(status);
	-- Create indexes for participant lookups
	CREATE INDEX IF NOT EXISTS idx_escrows_buyer ON escrows(buyer_id);
	CREATE INDEX IF NOT EXISTS idx_escrows_seller ON escrows(seller_id);

	-- Create escrow_transactions table; a ledger transaction funds at most one escrow
	CREATE TABLE IF NOT EXISTS escrow_transactions (
		id TEXT PRIMARY KEY,
		escrow_id TEXT NOT NULL REFERENCES escrows(id) ON DELETE CASCADE,
		asset TEXT NOT NULL,
		address TEXT NOT NULL,
		tx_hash TEXT NOT NULL,
		amount TEXT NOT NULL,
		confirmations INTEGER NOT NULL DEFAULT 0,
		confirmed BOOLEAN NOT NULL DEFAULT 0,
		detected_at TIMESTAMP NOT NULL,
		UNIQUE(asset, tx_hash)
	);

	CREATE INDEX IF NOT EXISTS idx_escrow_transactions_escrow ON escrow_transactions(escrow_id);

	-- Create settings table
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Create wallets table holding registered deposit addresses
	CREATE TABLE IF NOT EXISTS wallets (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		asset TEXT NOT NULL,
		address TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, asset)
	);

	CREATE INDEX IF NOT EXISTS idx_wallets_address ON wallets(address);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
