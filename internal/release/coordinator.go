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

// Package release implements the two-of-two confirmation protocol, dispute
// escalation and admin overrides on top of the escrow state machine.
package release

import (
	"context"
	"errors"
	"fmt"

	"p2p-escrow-mediator/internal/escrow"
	"p2p-escrow-mediator/internal/journal"
	"p2p-escrow-mediator/internal/metrics"
	"p2p-escrow-mediator/internal/models"
	"p2p-escrow-mediator/internal/notify"
	"p2p-escrow-mediator/internal/store"

	"go.uber.org/zap"
)

const maxAttempts = 3

// Config contains the collaborators of a Coordinator.
type Config struct {
	Escrows  store.EscrowStore
	Notifier notify.Sink
	Journal  journal.Journal
	AdminIds []string
}

// Coordinator drives party and admin actions that end or pause an escrow.
type Coordinator struct {
	escrows  store.EscrowStore
	notifier notify.Sink
	journal  journal.Journal
	admins   map[string]struct{}
}

// ConfirmationResult reports what one RecordConfirmation call did.
type ConfirmationResult struct {
	Escrow           *models.Escrow
	AlreadyConfirmed bool
	Released         bool
}

// Err returns escrow.ErrAlreadyConfirmed for a repeated confirmation.
func (r ConfirmationResult) Err() error {
	if r.AlreadyConfirmed {
		return escrow.ErrAlreadyConfirmed
	}
	return nil
}

func NewCoordinator(cfg Config) *Coordinator {
	admins := make(map[string]struct{}, len(cfg.AdminIds))
	for _, id := range cfg.AdminIds {
		if id != "" {
			admins[id] = struct{}{}
		}
	}
	j := cfg.Journal
	if j == nil {
		j = journal.Noop{}
	}
	return &Coordinator{
		escrows:  cfg.Escrows,
		notifier: cfg.Notifier,
		journal:  j,
		admins:   admins,
	}
}

// IsAdmin reports whether actorId may override, resolve and delete escrows.
func (c *Coordinator) IsAdmin(actorId string) bool {
	_, ok := c.admins[actorId]
	return ok
}

func (c *Coordinator) requireAdmin(actorId string) error {
	if !c.IsAdmin(actorId) {
		return fmt.Errorf("%w: %s is not an admin", escrow.ErrUnauthorized, actorId)
	}
	return nil
}

// RecordConfirmation sets the actor's release flag and releases the escrow
// once both parties have confirmed. Only the call that performs the release
// reports Released and emits the event.
func (c *Coordinator) RecordConfirmation(ctx context.Context, escrowId, actorId string) (ConfirmationResult, error) {
	var result ConfirmationResult
	updated, err := c.update(ctx, escrowId, func(e *models.Escrow) (bool, error) {
		already, released, err := escrow.Confirm(e, actorId)
		if err != nil {
			return false, err
		}
		result.AlreadyConfirmed = already
		result.Released = released
		return !already, nil
	})
	if err != nil {
		return ConfirmationResult{}, err
	}
	result.Escrow = updated

	zap.L().Info("Release confirmation recorded",
		zap.String("escrow_id", escrowId),
		zap.String("actor_id", actorId),
		zap.Bool("already_confirmed", result.AlreadyConfirmed),
		zap.Bool("released", result.Released))

	if result.Released {
		c.released(ctx, updated)
	}
	return result, nil
}

// OpenDispute escalates a funded or awaiting-deposit escrow.
func (c *Coordinator) OpenDispute(ctx context.Context, escrowId, actorId string) (*models.Escrow, error) {
	updated, err := c.update(ctx, escrowId, func(e *models.Escrow) (bool, error) {
		return true, escrow.OpenDispute(e, actorId)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Dispute opened",
		zap.String("escrow_id", escrowId),
		zap.String("actor_id", actorId),
		zap.String("disputed_from", updated.DisputedFrom.String()))
	c.emit(ctx, updated.Id, models.EventDisputed)
	return updated, nil
}

// WithdrawDispute lets the opener take a dispute back.
func (c *Coordinator) WithdrawDispute(ctx context.Context, escrowId, actorId string) (*models.Escrow, error) {
	return c.endDispute(ctx, escrowId, actorId, escrow.WithdrawDispute)
}

// ResolveDispute returns a disputed escrow to its prior status. Admin only.
func (c *Coordinator) ResolveDispute(ctx context.Context, escrowId, adminId string) (*models.Escrow, error) {
	if err := c.requireAdmin(adminId); err != nil {
		return nil, err
	}
	return c.endDispute(ctx, escrowId, adminId, escrow.ResolveDispute)
}

func (c *Coordinator) endDispute(ctx context.Context, escrowId, actorId string,
	end func(*models.Escrow, string) (bool, error)) (*models.Escrow, error) {

	var released bool
	updated, err := c.update(ctx, escrowId, func(e *models.Escrow) (bool, error) {
		r, err := end(e, actorId)
		released = r
		return true, err
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Dispute closed",
		zap.String("escrow_id", escrowId),
		zap.String("actor_id", actorId),
		zap.String("status", updated.Status.String()))
	if released {
		c.released(ctx, updated)
	}
	return updated, nil
}

// Cancel ends a non-terminal escrow on behalf of a participant or an admin.
func (c *Coordinator) Cancel(ctx context.Context, escrowId, actorId string) (*models.Escrow, error) {
	isAdmin := c.IsAdmin(actorId)
	updated, err := c.update(ctx, escrowId, func(e *models.Escrow) (bool, error) {
		return true, escrow.Cancel(e, actorId, isAdmin)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Escrow cancelled",
		zap.String("escrow_id", escrowId),
		zap.String("actor_id", actorId),
		zap.Bool("funded", updated.Funded))
	c.cancelled(ctx, updated)
	return updated, nil
}

// AdminOverride forces release or cancel regardless of confirmation flags.
func (c *Coordinator) AdminOverride(ctx context.Context, escrowId, adminId string, action models.OverrideAction) (*models.Escrow, error) {
	if err := c.requireAdmin(adminId); err != nil {
		zap.L().Warn("Rejected admin override",
			zap.String("escrow_id", escrowId),
			zap.String("actor_id", adminId),
			zap.String("action", string(action)))
		return nil, err
	}

	var from models.Status
	updated, err := c.update(ctx, escrowId, func(e *models.Escrow) (bool, error) {
		from = e.Status
		return true, escrow.AdminOverride(e, adminId, action)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Warn("Admin override applied",
		zap.Bool("admin_override", true),
		zap.String("escrow_id", escrowId),
		zap.String("admin_id", adminId),
		zap.String("action", string(action)),
		zap.String("from_status", from.String()),
		zap.String("to_status", updated.Status.String()))

	switch updated.Status {
	case models.StatusReleased:
		c.released(ctx, updated)
	case models.StatusCancelled:
		c.cancelled(ctx, updated)
	}
	return updated, nil
}

// ForceResolve hard-deletes an escrow and its transaction records. Admin only.
func (c *Coordinator) ForceResolve(ctx context.Context, escrowId, adminId string) error {
	if err := c.requireAdmin(adminId); err != nil {
		return err
	}
	if err := c.escrows.DeleteEscrow(ctx, escrowId); err != nil {
		return err
	}
	zap.L().Warn("Escrow force-resolved",
		zap.Bool("admin_override", true),
		zap.String("escrow_id", escrowId),
		zap.String("admin_id", adminId))
	return nil
}

// update retries the atomic section when another writer bumped the version.
func (c *Coordinator) update(ctx context.Context, escrowId string, fn store.MutateFunc) (*models.Escrow, error) {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var updated *models.Escrow
		updated, err = c.escrows.UpdateEscrow(ctx, escrowId, fn)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, store.ErrConcurrentModification) {
			return nil, err
		}
		zap.L().Debug("Concurrent escrow update, retrying",
			zap.String("escrow_id", escrowId),
			zap.Int("attempt", attempt+1))
	}
	return nil, err
}

func (c *Coordinator) released(ctx context.Context, e *models.Escrow) {
	zap.L().Info("Escrow released",
		zap.String("escrow_id", e.Id),
		zap.String("seller_id", e.SellerId),
		zap.String("net_amount", e.NetAmount.String()),
		zap.String("fee", e.Fee.String()),
		zap.String("resolved_by", e.ResolvedBy))
	c.emit(ctx, e.Id, models.EventReleased)
	if err := c.journal.RecordRelease(ctx, e); err != nil {
		zap.L().Warn("Failed to journal release", zap.String("escrow_id", e.Id), zap.Error(err))
	}
}

func (c *Coordinator) cancelled(ctx context.Context, e *models.Escrow) {
	c.emit(ctx, e.Id, models.EventCancelled)
	if err := c.journal.RecordRefund(ctx, e); err != nil {
		zap.L().Warn("Failed to journal refund", zap.String("escrow_id", e.Id), zap.Error(err))
	}
}

func (c *Coordinator) emit(ctx context.Context, escrowId string, kind models.EventKind) {
	metrics.Mediator().RecordEvent(string(kind))
	notify.Send(ctx, c.notifier, escrowId, kind)
}
