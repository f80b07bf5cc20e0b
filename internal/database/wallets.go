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
	"go.uber.org/zap"
)

// RegisterWallet stores the deposit address for (user, asset), replacing any
// earlier registration.
func (s *Service) RegisterWallet(ctx context.Context, params store.RegisterWalletParams) (*models.Wallet, error) {
	if params.UserId == "" || params.Address == "" {
		return nil, fmt.Errorf("user id and address are required")
	}

	var (
		w     models.Wallet
		asset string
	)
	err := s.db.QueryRowContext(ctx, queryUpsertWallet,
		uuid.New().String(), params.UserId, string(params.Asset), params.Address, time.Now().UTC()).
		Scan(&w.Id, &w.UserId, &asset, &w.Address, &w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to register wallet: %w", err)
	}
	w.Asset = models.Asset(asset)

	zap.L().Info("Registered deposit wallet",
		zap.String("user_id", w.UserId),
		zap.String("asset", string(w.Asset)),
		zap.String("address", w.Address))
	return &w, nil
}

func (s *Service) GetDepositAddress(ctx context.Context, userId string, asset models.Asset) (string, bool, error) {
	var address string
	err := s.db.QueryRowContext(ctx, queryGetDepositAddress, userId, string(asset)).Scan(&address)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get deposit address: %w", err)
	}
	return address, true, nil
}

func (s *Service) GetUserWallets(ctx context.Context, userId string) ([]models.Wallet, error) {
	rows, err := s.db.QueryContext(ctx, queryGetUserWallets, userId)
	if err != nil {
		zap.L().Error("Failed to query wallets", zap.String("user_id", userId), zap.Error(err))
		return nil, err
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var wallets []models.Wallet
	for rows.Next() {
		var (
			w     models.Wallet
			asset string
		)
		if err := rows.Scan(&w.Id, &w.UserId, &asset, &w.Address, &w.CreatedAt); err != nil {
			zap.L().Error("Failed to scan wallet row", zap.Error(err))
			return nil, err
		}
		w.Asset = models.Asset(asset)
		wallets = append(wallets, w)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Row iteration error", zap.Error(err))
		return nil, err
	}

	zap.L().Debug("Retrieved wallets", zap.String("user_id", userId), zap.Int("count", len(wallets)))
	return wallets, nil
}
