package api

import (
	"context"
	"fmt"
	"time"

	"p2p-escrow-mediator/internal/escrow"
	"p2p-escrow-mediator/internal/fees"
	"p2p-escrow-mediator/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateEscrow opens a new escrow for buyerId and returns its id.
func (s *EscrowService) CreateEscrow(ctx context.Context, buyerId string) (string, error) {
	e := escrow.New(uuid.New().String(), buyerId, time.Now().UTC())
	if err := escrow.Create(e, buyerId); err != nil {
		return "", err
	}
	if err := s.store.CreateEscrow(ctx, e); err != nil {
		return "", fmt.Errorf("failed to create escrow: %w", err)
	}

	zap.L().Info("Escrow created",
		zap.String("escrow_id", e.Id),
		zap.String("buyer_id", buyerId))
	return e.Id, nil
}

// BindSeller accepts userId as the counterparty. A second join returns
// escrow.ErrAlreadyBound.
func (s *EscrowService) BindSeller(ctx context.Context, escrowId, userId string) (*models.Escrow, error) {
	e, err := s.store.UpdateEscrow(ctx, escrowId, func(e *models.Escrow) (bool, error) {
		return true, escrow.BindSeller(e, userId)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Seller joined escrow",
		zap.String("escrow_id", escrowId),
		zap.String("seller_id", userId))
	return e, nil
}

// SetAsset chooses or re-chooses the asset until the amount is locked.
func (s *EscrowService) SetAsset(ctx context.Context, escrowId string, asset models.Asset) (*models.Escrow, error) {
	asset, err := models.ParseAsset(string(asset))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", escrow.ErrInvalidState, err)
	}

	e, err := s.store.UpdateEscrow(ctx, escrowId, func(e *models.Escrow) (bool, error) {
		if e.Asset == asset && e.Status == models.StatusAwaitingAmount {
			return false, nil
		}
		return true, escrow.SetAsset(e, asset)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Escrow asset set",
		zap.String("escrow_id", escrowId),
		zap.String("asset", asset.String()))
	return e, nil
}

// LockAmount prices gross with the current fee settings and fixes amount,
// fee and net on the escrow.
func (s *EscrowService) LockAmount(ctx context.Context, escrowId string, gross decimal.Decimal) (models.Quote, error) {
	current, err := s.store.GetEscrow(ctx, escrowId)
	if err != nil {
		return models.Quote{}, err
	}
	pricedAsset := current.Asset

	percent, err := s.settings.FeePercent(ctx)
	if err != nil {
		return models.Quote{}, err
	}
	minFee, err := s.settings.MinFee(ctx, pricedAsset)
	if err != nil {
		return models.Quote{}, err
	}
	quote, err := fees.ComputeFee(gross, percent, minFee)
	if err != nil {
		return models.Quote{}, err
	}

	_, err = s.store.UpdateEscrow(ctx, escrowId, func(e *models.Escrow) (bool, error) {
		if e.Asset != pricedAsset {
			return false, fmt.Errorf("%w: asset changed while pricing", escrow.ErrInvalidState)
		}
		return true, escrow.LockAmount(e, quote)
	})
	if err != nil {
		return models.Quote{}, err
	}

	zap.L().Info("Escrow amount locked",
		zap.String("escrow_id", escrowId),
		zap.String("asset", pricedAsset.String()),
		zap.String("gross", quote.Gross.String()),
		zap.String("fee", quote.Fee.String()),
		zap.String("net", quote.Net.String()))
	return quote, nil
}

// GetStatus returns a full snapshot of the escrow.
func (s *EscrowService) GetStatus(ctx context.Context, escrowId string) (*models.Escrow, error) {
	return s.store.GetEscrow(ctx, escrowId)
}

// ListEscrows returns every escrow where userId is buyer or seller, newest first.
func (s *EscrowService) ListEscrows(ctx context.Context, userId string) ([]models.Escrow, error) {
	return s.store.ListEscrowsByUser(ctx, userId)
}

// ListByStatus is used by operators to inspect one lifecycle stage.
func (s *EscrowService) ListByStatus(ctx context.Context, status models.Status) ([]models.Escrow, error) {
	return s.store.ListEscrowsByStatus(ctx, status)
}

func (s *EscrowService) GetTransactions(ctx context.Context, escrowId string) ([]models.TransactionRecord, error) {
	if _, err := s.store.GetEscrow(ctx, escrowId); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, escrowId)
}
