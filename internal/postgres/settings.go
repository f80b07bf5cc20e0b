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
)

func (s *Service) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Service) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

func (s *Service) ListSettings(ctx context.Context) ([]models.Setting, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	var settings []models.Setting
	for rows.Next() {
		var st models.Setting
		if err := rows.Scan(&st.Key, &st.Value, &st.UpdatedAt); err != nil {
			return nil, err
		}
		settings = append(settings, st)
	}
	return settings, rows.Err()
}

func (s *Service) RegisterWallet(ctx context.Context, params store.RegisterWalletParams) (*models.Wallet, error) {
	if params.UserId == "" || params.Address == "" {
		return nil, fmt.Errorf("user id and address are required")
	}

	var (
		w     models.Wallet
		asset string
	)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO wallets (id, user_id, asset, address, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, asset) DO UPDATE SET address = EXCLUDED.address
		RETURNING id, user_id, asset, address, created_at
	`, uuid.New().String(), params.UserId, string(params.Asset), params.Address, time.Now().UTC()).
		Scan(&w.Id, &w.UserId, &asset, &w.Address, &w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to register wallet: %w", err)
	}
	w.Asset = models.Asset(asset)
	return &w, nil
}

func (s *Service) GetDepositAddress(ctx context.Context, userId string, asset models.Asset) (string, bool, error) {
	var address string
	err := s.pool.QueryRow(ctx, `SELECT address FROM wallets WHERE user_id = $1 AND asset = $2`,
		userId, string(asset)).Scan(&address)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get deposit address: %w", err)
	}
	return address, true, nil
}

func (s *Service) GetUserWallets(ctx context.Context, userId string) ([]models.Wallet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, asset, address, created_at FROM wallets
		WHERE user_id = $1 ORDER BY asset
	`, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallets: %w", err)
	}
	defer rows.Close()

	var wallets []models.Wallet
	for rows.Next() {
		var (
			w     models.Wallet
			asset string
		)
		if err := rows.Scan(&w.Id, &w.UserId, &asset, &w.Address, &w.CreatedAt); err != nil {
			return nil, err
		}
		w.Asset = models.Asset(asset)
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}
