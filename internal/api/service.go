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

// Package api is the escrow service facade called by the chat transport and
// the operator CLI. It owns no state; every call goes through the store, the
// state machine and the release coordinator.
package api

import (
	"context"
	"errors"
	"fmt"

	"p2p-escrow-mediator/internal/reconciler"
	"p2p-escrow-mediator/internal/release"
	"p2p-escrow-mediator/internal/settings"
	"p2p-escrow-mediator/internal/store"
)

// EscrowServiceConfig contains the collaborators of EscrowService.
type EscrowServiceConfig struct {
	Store       store.Store
	Settings    *settings.Reader
	Reconciler  *reconciler.Reconciler
	Coordinator *release.Coordinator
	BotUsername string
}

// EscrowService exposes escrow operations to the bot transport
type EscrowService struct {
	store       store.Store
	settings    *settings.Reader
	reconciler  *reconciler.Reconciler
	coordinator *release.Coordinator
	botUsername string
}

func NewEscrowService(cfg EscrowServiceConfig) (*EscrowService, error) {
	if cfg.Store == nil || cfg.Settings == nil || cfg.Reconciler == nil || cfg.Coordinator == nil {
		return nil, errors.New("escrow service requires store, settings, reconciler and coordinator")
	}
	return &EscrowService{
		store:       cfg.Store,
		settings:    cfg.Settings,
		reconciler:  cfg.Reconciler,
		coordinator: cfg.Coordinator,
		botUsername: cfg.BotUsername,
	}, nil
}

func (s *EscrowService) HealthCheck(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// IsAdmin reports whether actorId is configured as an admin.
func (s *EscrowService) IsAdmin(actorId string) bool {
	return s.coordinator.IsAdmin(actorId)
}
