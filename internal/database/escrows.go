package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"p2p-escrow-mediator/internal/models"
	"p2p-escrow-mediator/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEscrow(row rowScanner) (*models.Escrow, error) {
	var (
		e                      models.Escrow
		asset, status, from    string
		amount, fee, netAmount string
	)
	err := row.Scan(&e.Id, &e.BuyerId, &e.SellerId, &asset, &amount, &fee, &netAmount, &status,
		&e.Funded, &e.BuyerConfirmed, &e.SellerConfirmed, &e.DisputedBy, &from, &e.ResolvedBy,
		&e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	e.Asset = models.Asset(asset)
	e.Status = models.Status(status)
	e.DisputedFrom = models.Status(from)
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid amount for escrow %s: %w", e.Id, err)
	}
	if e.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("invalid fee for escrow %s: %w", e.Id, err)
	}
	if e.NetAmount, err = decimal.NewFromString(netAmount); err != nil {
		return nil, fmt.Errorf("invalid net amount for escrow %s: %w", e.Id, err)
	}
	return &e, nil
}

func (s *Service) CreateEscrow(ctx context.Context, e *models.Escrow) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	if e.Version == 0 {
		e.Version = 1
	}

	_, err := s.db.ExecContext(ctx, queryInsertEscrow,
		e.Id, e.BuyerId, e.SellerId, string(e.Asset),
		e.Amount.String(), e.Fee.String(), e.NetAmount.String(), string(e.Status),
		e.Funded, e.BuyerConfirmed, e.SellerConfirmed,
		e.DisputedBy, string(e.DisputedFrom), e.ResolvedBy,
		e.Version, e.CreatedAt.UTC(), e.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create escrow %s: %w", e.Id, err)
	}

	zap.L().Debug("Created escrow",
		zap.String("escrow_id", e.Id),
		zap.String("buyer_id", e.BuyerId))
	return nil
}

func (s *Service) GetEscrow(ctx context.Context, escrowId string) (*models.Escrow, error) {
	e, err := scanEscrow(s.db.QueryRowContext(ctx, queryGetEscrow, escrowId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrEscrowNotFound, escrowId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get escrow %s: %w", escrowId, err)
	}
	return e, nil
}

func (s *Service) ListEscrowsByStatus(ctx context.Context, status models.Status) ([]models.Escrow, error) {
	return s.listEscrows(ctx, queryListEscrowsByStatus, string(status))
}

func (s *Service) ListEscrowsByUser(ctx context.Context, userId string) ([]models.Escrow, error) {
	return s.listEscrows(ctx, queryListEscrowsByUser, userId, userId)
}

func (s *Service) listEscrows(ctx context.Context, query string, args ...any) ([]models.Escrow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		zap.L().Error("Failed to query escrows", zap.Error(err))
		return nil, err
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var escrows []models.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			zap.L().Error("Failed to scan escrow row", zap.Error(err))
			return nil, err
		}
		escrows = append(escrows, *e)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Row iteration error", zap.Error(err))
		return nil, err
	}

	zap.L().Debug("Retrieved escrows", zap.Int("count", len(escrows)))
	return escrows, nil
}

func (s *Service) UpdateEscrow(ctx context.Context, escrowId string, fn store.MutateFunc) (*models.Escrow, error) {
	return s.mutate(ctx, escrowId, fn, nil)
}

// mutate runs one read-modify-write section. The transaction begins with
// BEGIN IMMEDIATE (see dsn) so only one writer holds the row between the
// read and the versioned update. beforeWrite runs inside the same transaction.
func (s *Service) mutate(ctx context.Context, escrowId string, fn store.MutateFunc,
	beforeWrite func(ctx context.Context, tx *sql.Tx, current, next *models.Escrow) error) (*models.Escrow, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			zap.L().Warn("Failed to rollback transaction", zap.Error(err))
		}
	}()

	current, err := scanEscrow(tx.QueryRowContext(ctx, queryGetEscrow, escrowId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrEscrowNotFound, escrowId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load escrow %s: %w", escrowId, err)
	}

	next := current.Clone()
	changed, err := fn(next)
	if err != nil {
		return nil, err
	}
	if !changed {
		return current, nil
	}

	if beforeWrite != nil {
		if err := beforeWrite(ctx, tx, current, next); err != nil {
			return nil, err
		}
	}

	next.UpdatedAt = time.Now().UTC()
	res, err := tx.ExecContext(ctx, queryUpdateEscrow,
		next.SellerId, string(next.Asset),
		next.Amount.String(), next.Fee.String(), next.NetAmount.String(), string(next.Status),
		next.Funded, next.BuyerConfirmed, next.SellerConfirmed,
		next.DisputedBy, string(next.DisputedFrom), next.ResolvedBy,
		next.UpdatedAt, next.Id, current.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to update escrow %s: %w", escrowId, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: escrow %s version %d", store.ErrConcurrentModification, escrowId, current.Version)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit escrow %s: %w", escrowId, err)
	}

	next.Version = current.Version + 1
	return next, nil
}

func (s *Service) DeleteEscrow(ctx context.Context, escrowId string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			zap.L().Warn("Failed to rollback transaction", zap.Error(err))
		}
	}()

	if _, err := tx.ExecContext(ctx, queryDeleteTransactions, escrowId); err != nil {
		return fmt.Errorf("failed to delete transactions of escrow %s: %w", escrowId, err)
	}
	res, err := tx.ExecContext(ctx, queryDeleteEscrow, escrowId)
	if err != nil {
		return fmt.Errorf("failed to delete escrow %s: %w", escrowId, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", store.ErrEscrowNotFound, escrowId)
	}

	return tx.Commit()
}
