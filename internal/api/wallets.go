package api

import (
	"context"
	"fmt"
	"strings"

	"p2p-escrow-mediator/internal/models"
	"p2p-escrow-mediator/internal/oracle"
	"p2p-escrow-mediator/internal/store"
)

// RegisterWallet validates address for asset and stores it as userId's
// deposit address, replacing any previous one.
func (s *EscrowService) RegisterWallet(ctx context.Context, userId string, asset models.Asset, address string) (*models.Wallet, error) {
	asset, err := models.ParseAsset(string(asset))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", oracle.ErrInvalidAddress, err)
	}
	address = strings.TrimSpace(address)
	if err := oracle.ValidateAddress(asset, address); err != nil {
		return nil, err
	}
	return s.store.RegisterWallet(ctx, store.RegisterWalletParams{
		UserId:  userId,
		Asset:   asset,
		Address: address,
	})
}

func (s *EscrowService) GetUserWallets(ctx context.Context, userId string) ([]models.Wallet, error) {
	return s.store.GetUserWallets(ctx, userId)
}
