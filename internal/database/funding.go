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
	"errors"
	"fmt"
	"time"

	"p2p-escrow-mediator/internal/models"
	"p2p-escrow-mediator/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FundEscrow applies fn and records the funding transaction in one unit. A
// transaction already attributed to a different escrow is rejected with
// store.ErrDuplicateTransaction; the same escrow seeing it again is a no-op insert.
func (s *Service) FundEscrow(ctx context.Context, escrowId string, rec models.TransactionRecord, fn store.MutateFunc) (*models.Escrow, error) {
	if rec.TxHash == "" {
		return nil, fmt.Errorf("transaction hash cannot be empty")
	}

	return s.mutate(ctx, escrowId, fn, func(ctx context.Context, tx *sql.Tx, current, _ *models.Escrow) error {
		var owner string
		err := tx.QueryRowContext(ctx, queryGetTransactionOwner, string(rec.Asset), rec.TxHash).Scan(&owner)
		switch {
		case err == nil && owner != current.Id:
			return fmt.Errorf("%w: %s already funds escrow %s", store.ErrDuplicateTransaction, rec.TxHash, owner)
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to check transaction %s: %w", rec.TxHash, err)
		}

		if rec.Id == "" {
			rec.Id = uuid.New().String()
		}
		if rec.DetectedAt.IsZero() {
			rec.DetectedAt = time.Now().UTC()
		}
		res, err := tx.ExecContext(ctx, queryInsertTransaction,
			rec.Id, current.Id, string(rec.Asset), rec.Address, rec.TxHash,
			rec.Amount.String(), rec.Confirmations, rec.Confirmed, rec.DetectedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to record transaction %s: %w", rec.TxHash, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			zap.L().Debug("Transaction already recorded",
				zap.String("escrow_id", current.Id),
				zap.String("tx_hash", rec.TxHash))
		}
		return nil
	})
}

func (s *Service) ListTransactions(ctx context.Context, escrowId string) ([]models.TransactionRecord, error) {
	rows, err := s.db.QueryContext(ctx, queryListTransactions, escrowId)
	if err != nil {
		zap.L().Error("Failed to query escrow transactions", zap.String("escrow_id", escrowId), zap.Error(err))
		return nil, err
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var records []models.TransactionRecord
	for rows.Next() {
		var (
			rec           models.TransactionRecord
			asset, amount string
		)
		err := rows.Scan(&rec.Id, &rec.EscrowId, &asset, &rec.Address, &rec.TxHash,
			&amount, &rec.Confirmations, &rec.Confirmed, &rec.DetectedAt)
		if err != nil {
			zap.L().Error("Failed to scan transaction row", zap.Error(err))
			return nil, err
		}
		rec.Asset = models.Asset(asset)
		if rec.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("invalid amount for transaction %s: %w", rec.TxHash, err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Row iteration error", zap.Error(err))
		return nil, err
	}

	return records, nil
}
