package store

import (
	"context"
	"errors"

	"p2p-escrow-mediator/internal/models"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrEscrowNotFound         = errors.New("escrow not found")
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// MutateFunc edits an escrow inside an atomic section. It returns false when
// nothing changed, in which case the backend skips the write. Returning an
// error aborts the section and leaves the stored row untouched.
type MutateFunc func(e *models.Escrow) (bool, error)

// RegisterWalletParams contains the parameters for registering a deposit wallet.
type RegisterWalletParams struct {
	UserId  string
	Asset   models.Asset
	Address string
}

// EscrowStore persists escrows and their observed deposits. Every method that
// changes an escrow runs as one atomic read-modify-write on that escrow's row.
type EscrowStore interface {
	CreateEscrow(ctx context.Context, e *models.Escrow) error
	GetEscrow(ctx context.Context, escrowId string) (*models.Escrow, error)
	ListEscrowsByStatus(ctx context.Context, status models.Status) ([]models.Escrow, error)
	ListEscrowsByUser(ctx context.Context, userId string) ([]models.Escrow, error)

	// UpdateEscrow locks the row, applies fn and persists the result.
	UpdateEscrow(ctx context.Context, escrowId string, fn MutateFunc) (*models.Escrow, error)

	// FundEscrow applies fn and inserts-or-ignores rec in the same atomic unit.
	FundEscrow(ctx context.Context, escrowId string, rec models.TransactionRecord, fn MutateFunc) (*models.Escrow, error)

	// DeleteEscrow hard-deletes the escrow and its transaction records.
	DeleteEscrow(ctx context.Context, escrowId string) error

	ListTransactions(ctx context.Context, escrowId string) ([]models.TransactionRecord, error)
}

// SettingsStore is the process-wide key/value settings table.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context) ([]models.Setting, error)
}

// WalletRegistry maps (user, asset) to the address deposits are watched on.
type WalletRegistry interface {
	RegisterWallet(ctx context.Context, params RegisterWalletParams) (*models.Wallet, error)
	GetDepositAddress(ctx context.Context, userId string, asset models.Asset) (string, bool, error)
	GetUserWallets(ctx context.Context, userId string) ([]models.Wallet, error)
}

// Store is the full contract every backend (SQLite, Postgres) must satisfy.
type Store interface {
	EscrowStore
	SettingsStore
	WalletRegistry

	// --- Lifecycle ---
	Ping(ctx context.Context) error
	Close()
}
