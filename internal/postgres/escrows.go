package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"p2p-escrow-mediator/internal/models"
	"p2p-escrow-mediator/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const escrowColumns = `id, buyer_id, seller_id, asset, amount, fee, net_amount, status,
	funded, buyer_confirmed, seller_confirmed, disputed_by, disputed_from, resolved_by,
	version, created_at, updated_at`

const uniqueViolation = "23505"

func scanEscrow(row pgx.Row) (*models.Escrow, error) {
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *Service) CreateEscrow(ctx context.Context, e *models.Escrow) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	if e.Version == 0 {
		e.Version = 1
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO escrows (`+escrowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, e.Id, e.BuyerId, e.SellerId, string(e.Asset),
		e.Amount.String(), e.Fee.String(), e.NetAmount.String(), string(e.Status),
		e.Funded, e.BuyerConfirmed, e.SellerConfirmed,
		e.DisputedBy, string(e.DisputedFrom), e.ResolvedBy,
		e.Version, e.CreatedAt, e.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("escrow %s already exists: %w", e.Id, err)
	}
	if err != nil {
		return fmt.Errorf("failed to create escrow %s: %w", e.Id, err)
	}
	return nil
}

func (s *Service) GetEscrow(ctx context.Context, escrowId string) (*models.Escrow, error) {
	e, err := scanEscrow(s.pool.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, escrowId))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrEscrowNotFound, escrowId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get escrow %s: %w", escrowId, err)
	}
	return e, nil
}

func (s *Service) ListEscrowsByStatus(ctx context.Context, status models.Status) ([]models.Escrow, error) {
	return s.listEscrows(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE status = $1 ORDER BY created_at`, string(status))
}

func (s *Service) ListEscrowsByUser(ctx context.Context, userId string) ([]models.Escrow, error) {
	return s.listEscrows(ctx, `SELECT `+escrowColumns+` FROM escrows
		WHERE buyer_id = $1 OR seller_id = $1 ORDER BY created_at DESC`, userId)
}

func (s *Service) listEscrows(ctx context.Context, query string, args ...any) ([]models.Escrow, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query escrows: %w", err)
	}
	defer rows.Close()

	var escrows []models.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		escrows = append(escrows, *e)
	}
	return escrows, rows.Err()
}

func (s *Service) UpdateEscrow(ctx context.Context, escrowId string, fn store.MutateFunc) (*models.Escrow, error) {
	return s.mutate(ctx, escrowId, fn, nil)
}

func (s *Service) FundEscrow(ctx context.Context, escrowId string, rec models.TransactionRecord, fn store.MutateFunc) (*models.Escrow, error) {
	if rec.TxHash == "" {
		return nil, fmt.Errorf("transaction hash cannot be empty")
	}

	return s.mutate(ctx, escrowId, fn, func(ctx context.Context, tx pgx.Tx, current *models.Escrow) error {
		var owner string
		err := tx.QueryRow(ctx, `SELECT escrow_id FROM escrow_transactions WHERE asset = $1 AND tx_hash = $2`,
			string(rec.Asset), rec.TxHash).Scan(&owner)
		switch {
		case err == nil && owner != current.Id:
			return fmt.Errorf("%w: %s already funds escrow %s", store.ErrDuplicateTransaction, rec.TxHash, owner)
		case err != nil && !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("failed to check transaction %s: %w", rec.TxHash, err)
		}

		if rec.Id == "" {
			rec.Id = uuid.New().String()
		}
		if rec.DetectedAt.IsZero() {
			rec.DetectedAt = time.Now().UTC()
		}
		// A concurrent funder may have claimed the hash after the check above;
		// DO NOTHING then returns no row and the owner is re-read.
		var inserted string
		err = tx.QueryRow(ctx, `
			INSERT INTO escrow_transactions
				(id, escrow_id, asset, address, tx_hash, amount, confirmations, confirmed, detected_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (asset, tx_hash) DO NOTHING
			RETURNING escrow_id
		`, rec.Id, current.Id, string(rec.Asset), rec.Address, rec.TxHash,
			rec.Amount.String(), rec.Confirmations, rec.Confirmed, rec.DetectedAt).Scan(&inserted)
		if errors.Is(err, pgx.ErrNoRows) {
			if err := tx.QueryRow(ctx, `SELECT escrow_id FROM escrow_transactions WHERE asset = $1 AND tx_hash = $2`,
				string(rec.Asset), rec.TxHash).Scan(&owner); err != nil {
				return fmt.Errorf("failed to check transaction %s: %w", rec.TxHash, err)
			}
			if owner != current.Id {
				return fmt.Errorf("%w: %s already funds escrow %s", store.ErrDuplicateTransaction, rec.TxHash, owner)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to record transaction %s: %w", rec.TxHash, err)
		}
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, escrowId string, fn store.MutateFunc,
	beforeWrite func(ctx context.Context, tx pgx.Tx, current *models.Escrow) error) (*models.Escrow, error) {

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			zap.L().Warn("Failed to rollback transaction", zap.Error(err))
		}
	}()

	current, err := scanEscrow(tx.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1 FOR UPDATE`, escrowId))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrEscrowNotFound, escrowId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock escrow %s: %w", escrowId, err)
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
		if err := beforeWrite(ctx, tx, current); err != nil {
			return nil, err
		}
	}

	next.UpdatedAt = time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE escrows
		SET seller_id = $1, asset = $2, amount = $3, fee = $4, net_amount = $5, status = $6,
		    funded = $7, buyer_confirmed = $8, seller_confirmed = $9,
		    disputed_by = $10, disputed_from = $11, resolved_by = $12,
		    version = version + 1, updated_at = $13
		WHERE id = $14 AND version = $15
	`, next.SellerId, string(next.Asset),
		next.Amount.String(), next.Fee.String(), next.NetAmount.String(), string(next.Status),
		next.Funded, next.BuyerConfirmed, next.SellerConfirmed,
		next.DisputedBy, string(next.DisputedFrom), next.ResolvedBy,
		next.UpdatedAt, next.Id, current.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to update escrow %s: %w", escrowId, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: escrow %s version %d", store.ErrConcurrentModification, escrowId, current.Version)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit escrow %s: %w", escrowId, err)
	}

	next.Version = current.Version + 1
	return next, nil
}

func (s *Service) DeleteEscrow(ctx context.Context, escrowId string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM escrow_transactions WHERE escrow_id = $1`, escrowId); err != nil {
		return fmt.Errorf("failed to delete transactions of escrow %s: %w", escrowId, err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM escrows WHERE id = $1`, escrowId)
	if err != nil {
		return fmt.Errorf("failed to delete escrow %s: %w", escrowId, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", store.ErrEscrowNotFound, escrowId)
	}
	return tx.Commit(ctx)
}

func (s *Service) ListTransactions(ctx context.Context, escrowId string) ([]models.TransactionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, escrow_id, asset, address, tx_hash, amount, confirmations, confirmed, detected_at
		FROM escrow_transactions
		WHERE escrow_id = $1
		ORDER BY detected_at
	`, escrowId)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var records []models.TransactionRecord
	for rows.Next() {
		var (
			rec           models.TransactionRecord
			asset, amount string
		)
		if err := rows.Scan(&rec.Id, &rec.EscrowId, &asset, &rec.Address, &rec.TxHash,
			&amount, &rec.Confirmations, &rec.Confirmed, &rec.DetectedAt); err != nil {
			return nil, err
		}
		rec.Asset = models.Asset(asset)
		if rec.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("invalid amount for transaction %s: %w", rec.TxHash, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
