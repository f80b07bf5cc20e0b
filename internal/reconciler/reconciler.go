// Package reconciler matches ledger observations against escrows awaiting a
// deposit and performs the one-time funded transition.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"p2p-escrow-mediator/internal/escrow"
	"p2p-escrow-mediator/internal/journal"
	"p2p-escrow-mediator/internal/metrics"
	"p2p-escrow-mediator/internal/models"
	"p2p-escrow-mediator/internal/notify"
	"p2p-escrow-mediator/internal/oracle"
	"p2p-escrow-mediator/internal/settings"
	"p2p-escrow-mediator/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Reconcile outcomes exported as metric labels.
const (
	OutcomeFunded      = "funded"
	OutcomePending     = "pending"
	OutcomeOracleError = "oracle_error"
	OutcomeNoWallet    = "no_wallet"
	OutcomeDuplicate   = "duplicate"
)

// Config contains the collaborators of a Reconciler. Notifier and Journal
// are optional.
type Config struct {
	Escrows  store.EscrowStore
	Wallets  store.WalletRegistry
	Settings *settings.Reader
	Oracle   oracle.Client
	Notifier notify.Sink
	Journal  journal.Journal
}

type Reconciler struct {
	escrows  store.EscrowStore
	wallets  store.WalletRegistry
	settings *settings.Reader
	oracle   oracle.Client
	notifier notify.Sink
	journal  journal.Journal
}

func New(cfg Config) *Reconciler {
	j := cfg.Journal
	if j == nil {
		j = journal.Noop{}
	}
	return &Reconciler{
		escrows:  cfg.Escrows,
		wallets:  cfg.Wallets,
		settings: cfg.Settings,
		oracle:   cfg.Oracle,
		notifier: cfg.Notifier,
		journal:  j,
	}
}

// Reconcile checks one escrow for a qualifying deposit. It returns true only
// when this call moved the escrow to funded. Oracle failures and missing
// wallets are logged and reported as (false, nil); store failures are returned.
func (r *Reconciler) Reconcile(ctx context.Context, escrowId string) (bool, error) {
	e, err := r.escrows.GetEscrow(ctx, escrowId)
	if err != nil {
		return false, fmt.Errorf("failed to load escrow %s: %w", escrowId, err)
	}
	if e.Status != models.StatusAwaitingDeposit {
		return false, nil
	}
	asset := e.Asset.String()

	address, ok, err := r.wallets.GetDepositAddress(ctx, e.BuyerId, e.Asset)
	if err != nil {
		return false, fmt.Errorf("failed to resolve deposit address: %w", err)
	}
	if !ok {
		zap.L().Warn("Buyer has no registered wallet for escrow asset",
			zap.String("escrow_id", e.Id),
			zap.String("buyer_id", e.BuyerId),
			zap.String("asset", asset))
		metrics.Mediator().RecordReconcile(asset, OutcomeNoWallet)
		return false, nil
	}

	required, err := r.settings.RequiredConfirmations(ctx, e.Asset)
	if err != nil {
		return false, err
	}

	observations, err := r.oracle.FetchDeposits(ctx, e.Asset, address)
	if err != nil {
		zap.L().Warn("Ledger oracle unavailable, treating as no observations",
			zap.String("escrow_id", e.Id),
			zap.String("asset", asset),
			zap.String("address", address),
			zap.Error(err))
		metrics.Mediator().RecordReconcile(asset, OutcomeOracleError)
		return false, nil
	}

	candidates := qualifying(observations, e.Amount, required)
	if len(candidates) == 0 {
		zap.L().Debug("No qualifying deposit yet",
			zap.String("escrow_id", e.Id),
			zap.String("asset", asset),
			zap.Int("observations", len(observations)),
			zap.Int("required_confirmations", required),
			zap.String("expected_amount", e.Amount.String()))
		metrics.Mediator().RecordReconcile(asset, OutcomePending)
		return false, nil
	}

	for _, obs := range candidates {
		funded, err := r.fund(ctx, e, address, obs)
		if errors.Is(err, store.ErrDuplicateTransaction) {
			zap.L().Warn("Deposit already attributed to another escrow, trying next",
				zap.String("escrow_id", e.Id),
				zap.String("tx_hash", obs.TxHash))
			continue
		}
		return funded, err
	}

	metrics.Mediator().RecordReconcile(asset, OutcomeDuplicate)
	return false, nil
}

func (r *Reconciler) fund(ctx context.Context, e *models.Escrow, address string, obs models.Observation) (bool, error) {
	rec := models.TransactionRecord{
		EscrowId:      e.Id,
		Asset:         e.Asset,
		Address:       address,
		TxHash:        obs.TxHash,
		Amount:        obs.Amount,
		Confirmations: obs.Confirmations,
		Confirmed:     true,
		DetectedAt:    time.Now().UTC(),
	}

	var transitioned bool
	updated, err := r.escrows.FundEscrow(ctx, e.Id, rec, func(current *models.Escrow) (bool, error) {
		if current.Status != models.StatusAwaitingDeposit {
			return false, nil
		}
		if err := escrow.MarkFunded(current); err != nil {
			return false, err
		}
		transitioned = true
		return true, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateTransaction) {
			return false, err
		}
		return false, fmt.Errorf("failed to mark escrow %s funded: %w", e.Id, err)
	}
	if !transitioned {
		return false, nil
	}

	zap.L().Info("Escrow funded",
		zap.String("escrow_id", updated.Id),
		zap.String("asset", updated.Asset.String()),
		zap.String("tx_hash", obs.TxHash),
		zap.String("amount", obs.Amount.String()),
		zap.Int("confirmations", obs.Confirmations))

	metrics.Mediator().RecordReconcile(updated.Asset.String(), OutcomeFunded)
	metrics.Mediator().RecordEvent(string(models.EventFunded))
	notify.Send(ctx, r.notifier, updated.Id, models.EventFunded)

	if err := r.journal.RecordFunding(ctx, updated, rec); err != nil {
		zap.L().Warn("Failed to journal funding",
			zap.String("escrow_id", updated.Id),
			zap.Error(err))
	}
	return true, nil
}

// SelectDeposit returns the first observation, in oracle order, that pays at
// least amount with at least required confirmations.
func SelectDeposit(observations []models.Observation, amount decimal.Decimal, required int) (models.Observation, bool) {
	for _, obs := range observations {
		if matches(obs, amount, required) {
			return obs, true
		}
	}
	return models.Observation{}, false
}

// qualifying returns every matching observation in oracle order; the first
// element is the SelectDeposit result.
func qualifying(observations []models.Observation, amount decimal.Decimal, required int) []models.Observation {
	var out []models.Observation
	for _, obs := range observations {
		if matches(obs, amount, required) {
			out = append(out, obs)
		}
	}
	return out
}

func matches(obs models.Observation, amount decimal.Decimal, required int) bool {
	return obs.TxHash != "" &&
		obs.Amount.GreaterThanOrEqual(amount) &&
		obs.Confirmations >= required
}
