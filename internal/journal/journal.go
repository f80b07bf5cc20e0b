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

// Package journal mirrors escrow money movements into a double-entry ledger
// for audit. The mediator never moves funds itself; postings describe what
// the release decision implies. Posting is best effort and idempotent.
package journal

import (
	"context"

	"p2p-escrow-mediator/internal/models"

	"github.com/shopspring/decimal"
)

// Journal records the money side of escrow lifecycle events.
type Journal interface {
	RecordFunding(ctx context.Context, e *models.Escrow, rec models.TransactionRecord) error
	RecordRelease(ctx context.Context, e *models.Escrow) error
	RecordRefund(ctx context.Context, e *models.Escrow) error
	EscrowBalance(ctx context.Context, e *models.Escrow) (decimal.Decimal, error)
}

// Noop is used when no ledger stack is configured.
type Noop struct{}

func (Noop) RecordFunding(context.Context, *models.Escrow, models.TransactionRecord) error {
	return nil
}

func (Noop) RecordRelease(context.Context, *models.Escrow) error { return nil }

func (Noop) RecordRefund(context.Context, *models.Escrow) error { return nil }

func (Noop) EscrowBalance(context.Context, *models.Escrow) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

var (
	_ Journal = Noop{}
	_ Journal = (*Formance)(nil)
)
