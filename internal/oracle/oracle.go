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

// Package oracle reads incoming deposits and balances from public ledger
// explorers. It holds no state; every answer comes from the explorer.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"p2p-escrow-mediator/internal/metrics"
	"p2p-escrow-mediator/internal/models"

	"github.com/shopspring/decimal"
)

// ErrUnavailable wraps every explorer failure: transport errors, non-200
// responses, malformed payloads, explorer error envelopes and timeouts.
var ErrUnavailable = errors.New("ledger oracle unavailable")

const defaultTimeout = 10 * time.Second

// Client is the read-only view of the ledgers the reconciler consumes.
type Client interface {
	FetchDeposits(ctx context.Context, asset models.Asset, address string) ([]models.Observation, error)
	FetchBalance(ctx context.Context, asset models.Asset, address string) (decimal.Decimal, error)
}

// backend is one explorer family.
type backend interface {
	name() string
	fetchDeposits(ctx context.Context, cfg models.AssetConfig, address string) ([]models.Observation, error)
	fetchBalance(ctx context.Context, cfg models.AssetConfig, address string) (decimal.Decimal, error)
}

// Compile-time check: *Service must satisfy Client.
var _ Client = (*Service)(nil)

// Service routes each asset to its explorer backend and bounds every call
// with a timeout that covers retries.
type Service struct {
	assets   map[models.Asset]models.AssetConfig
	backends map[string]backend
	timeout  time.Duration
}

func NewService(cfg models.OracleConfig, assets map[models.Asset]models.AssetConfig) (*Service, error) {
	if assets == nil {
		assets = models.DefaultAssetConfigs()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient, err := newHTTPClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create explorer http client: %w", err)
	}

	return &Service{
		assets: assets,
		backends: map[string]backend{
			models.ExplorerUTXO:    newBlockCypher(httpClient, cfg),
			models.ExplorerAccount: newEtherscan(httpClient, cfg),
		},
		timeout: timeout,
	}, nil
}

func (s *Service) route(asset models.Asset) (models.AssetConfig, backend, error) {
	cfg, ok := s.assets[asset]
	if !ok {
		return models.AssetConfig{}, nil, fmt.Errorf("no asset configuration for %s", asset)
	}
	b, ok := s.backends[cfg.Explorer]
	if !ok {
		return models.AssetConfig{}, nil, fmt.Errorf("unknown explorer %q for %s", cfg.Explorer, asset)
	}
	return cfg, b, nil
}

// FetchDeposits returns incoming transfers to address, newest first.
func (s *Service) FetchDeposits(ctx context.Context, asset models.Asset, address string) ([]models.Observation, error) {
	cfg, b, err := s.route(asset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	observations, err := b.fetchDeposits(ctx, cfg, address)
	metrics.Mediator().ObserveOracle(b.name(), err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%w: %s deposits for %s: %v", ErrUnavailable, asset, address, err)
	}
	return observations, nil
}

// FetchBalance returns the confirmed balance of address in whole units.
func (s *Service) FetchBalance(ctx context.Context, asset models.Asset, address string) (decimal.Decimal, error) {
	cfg, b, err := s.route(asset)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	balance, err := b.fetchBalance(ctx, cfg, address)
	metrics.Mediator().ObserveOracle(b.name(), err, time.Since(start))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s balance for %s: %v", ErrUnavailable, asset, address, err)
	}
	return balance, nil
}
