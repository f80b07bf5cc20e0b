package journal

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"p2p-escrow-mediator/internal/models"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultLedger = "p2p-escrow-mediator"

const numscriptFunded = `vars {
  asset $asset
  number $amount
  account $escrow
  string $escrow_id
  string $tx_hash
  string $deposit_address
  string $observed_amount
  string $cycle_id
}

send [$asset $amount] (
  source = @world
  destination = $escrow
)

set_tx_meta("event_type", "escrow_funded")
set_tx_meta("escrow_id", $escrow_id)
set_tx_meta("tx_hash", $tx_hash)
set_tx_meta("deposit_address", $deposit_address)
set_tx_meta("observed_amount", $observed_amount)
set_tx_meta("cycle_id", $cycle_id)
`

const numscriptReleased = `vars {
  asset $asset
  number $net
  number $fee
  account $escrow
  account $seller
  string $escrow_id
  string $resolved_by
}

send [$asset $net] (
  source = $escrow
  destination = $seller
)

send [$asset $fee] (
  source = $escrow
  destination = @platform:fees
)

set_tx_meta("event_type", "escrow_released")
set_tx_meta("escrow_id", $escrow_id)
set_tx_meta("resolved_by", $resolved_by)
`

const numscriptRefunded = `vars {
  asset $asset
  number $amount
  account $escrow
  account $buyer
  string $escrow_id
  string $resolved_by
}

send [$asset $amount] (
  source = $escrow
  destination = $buyer
)

set_tx_meta("event_type", "escrow_refunded")
set_tx_meta("escrow_id", $escrow_id)
set_tx_meta("resolved_by", $resolved_by)
`

// Formance posts Numscript transactions to a Formance Stack ledger.
type Formance struct {
	client *v3.Formance
	ledger string
	assets map[models.Asset]models.AssetConfig
}

// NewFormance connects to the stack and creates the ledger if needed.
func NewFormance(ctx context.Context, cfg models.FormanceConfig, assets map[models.Asset]models.AssetConfig) (*Formance, error) {
	if cfg.StackURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("formance config requires StackURL, ClientID, and ClientSecret")
	}
	if cfg.LedgerName == "" {
		cfg.LedgerName = defaultLedger
	}
	if assets == nil {
		assets = models.DefaultAssetConfigs()
	}

	zap.L().Info("Connecting to Formance Stack",
		zap.String("stack_url", cfg.StackURL),
		zap.String("ledger", cfg.LedgerName))

	client := v3.New(
		v3.WithServerURL(cfg.StackURL),
		v3.WithSecurity(shared.Security{
			ClientID:     v3.Pointer(cfg.ClientID),
			ClientSecret: v3.Pointer(cfg.ClientSecret),
		}),
	)

	f := &Formance{client: client, ledger: cfg.LedgerName, assets: assets}
	if err := f.ensureLedger(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger exists: %w", err)
	}

	zap.L().Info("Settlement journal initialized", zap.String("ledger", cfg.LedgerName))
	return f, nil
}

func (f *Formance) ensureLedger(ctx context.Context) error {
	_, err := f.client.Ledger.V2.CreateLedger(ctx, operations.V2CreateLedgerRequest{
		Ledger: f.ledger,
		V2CreateLedgerRequest: shared.V2CreateLedgerRequest{
			Metadata: map[string]string{
				"application": defaultLedger,
			},
		},
	})
	if err != nil {
		var apiErr *sdkerrors.V2ErrorResponse
		if errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumLedgerAlreadyExists {
			zap.L().Info("Ledger already exists", zap.String("ledger", f.ledger))
			return nil
		}
		return err
	}
	zap.L().Info("Ledger created", zap.String("ledger", f.ledger))
	return nil
}

// RecordFunding moves the locked gross amount from the outside world into
// the escrow's holding account.
func (f *Formance) RecordFunding(ctx context.Context, e *models.Escrow, rec models.TransactionRecord) error {
	p := f.precision(e.Asset)
	var cycleId string
	if pc := models.GetPollCycleContext(ctx); pc != nil {
		cycleId = pc.CycleId
	}

	return f.post(ctx, reference(e.Id, "funded"), numscriptFunded, map[string]string{
		"asset":           formanceAsset(e.Asset, p),
		"amount":          toUnits(e.Amount, p).String(),
		"escrow":          escrowAccount(e.Id),
		"escrow_id":       e.Id,
		"tx_hash":         rec.TxHash,
		"deposit_address": rec.Address,
		"observed_amount": rec.Amount.String(),
		"cycle_id":        cycleId,
	}, rec.DetectedAt)
}

// RecordRelease pays the net amount to the seller and the fee to the platform.
func (f *Formance) RecordRelease(ctx context.Context, e *models.Escrow) error {
	if !e.Funded {
		return nil
	}
	p := f.precision(e.Asset)
	net, fee := splitUnits(e.Amount, e.NetAmount, p)

	return f.post(ctx, reference(e.Id, "released"), numscriptReleased, map[string]string{
		"asset":       formanceAsset(e.Asset, p),
		"net":         net.String(),
		"fee":         fee.String(),
		"escrow":      escrowAccount(e.Id),
		"seller":      userAccount(e.SellerId),
		"escrow_id":   e.Id,
		"resolved_by": e.ResolvedBy,
	}, e.UpdatedAt)
}

// RecordRefund returns the held amount to the buyer after a cancellation.
func (f *Formance) RecordRefund(ctx context.Context, e *models.Escrow) error {
	if !e.Funded {
		return nil
	}
	p := f.precision(e.Asset)

	return f.post(ctx, reference(e.Id, "refunded"), numscriptRefunded, map[string]string{
		"asset":       formanceAsset(e.Asset, p),
		"amount":      toUnits(e.Amount, p).String(),
		"escrow":      escrowAccount(e.Id),
		"buyer":       userAccount(e.BuyerId),
		"escrow_id":   e.Id,
		"resolved_by": e.ResolvedBy,
	}, e.UpdatedAt)
}

// EscrowBalance returns what the journal still holds for the escrow.
func (f *Formance) EscrowBalance(ctx context.Context, e *models.Escrow) (decimal.Decimal, error) {
	resp, err := f.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  f.ledger,
		Address: escrowAccount(e.Id),
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		var apiErr *sdkerrors.V2ErrorResponse
		if errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumNotFound {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to get escrow account: %w", err)
	}

	p := f.precision(e.Asset)
	bal := volumeBalance(resp.V2AccountResponse.Data.Volumes, formanceAsset(e.Asset, p))
	return fromUnits(bal, p), nil
}

func (f *Formance) post(ctx context.Context, ref, script string, vars map[string]string, at time.Time) error {
	postTx := shared.V2PostTransaction{
		Reference: strPtr(ref),
		Script: &shared.V2PostTransactionScript{
			Plain: script,
			Vars:  vars,
		},
	}
	if !at.IsZero() {
		postTx.Timestamp = &at
	}

	_, err := f.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            f.ledger,
		V2PostTransaction: postTx,
	})
	if err != nil {
		if isConflictError(err) {
			return nil // idempotent
		}
		return fmt.Errorf("error posting %s: %w", ref, err)
	}

	zap.L().Info("Journal posting recorded",
		zap.String("reference", ref),
		zap.String("asset", vars["asset"]))
	return nil
}

func (f *Formance) precision(asset models.Asset) int {
	if cfg, ok := f.assets[asset]; ok && cfg.Decimals > 0 {
		return cfg.Decimals
	}
	return 8
}

// ---------- helpers ----------

func reference(escrowId, event string) string {
	return "escrow-" + escrowId + "-" + event
}

func escrowAccount(escrowId string) string { return "escrows:" + escrowId }

func userAccount(userId string) string { return "users:" + userId }

// formanceAsset returns the Formance UMN notation, e.g. "USDT/6".
func formanceAsset(asset models.Asset, precision int) string {
	return fmt.Sprintf("%s/%d", asset, precision)
}

// toUnits converts a decimal amount to smallest units, truncating dust
// below the asset precision.
func toUnits(amount decimal.Decimal, precision int) *big.Int {
	return amount.Shift(int32(precision)).BigInt()
}

// splitUnits returns (net, fee) in smallest units such that net+fee equals
// the gross amount exactly.
func splitUnits(gross, net decimal.Decimal, precision int) (*big.Int, *big.Int) {
	g := toUnits(gross, precision)
	n := toUnits(net, precision)
	return n, new(big.Int).Sub(g, n)
}

func fromUnits(raw *big.Int, precision int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(precision))
}

// volumeBalance extracts the balance for a specific asset from volumes.
func volumeBalance(vols map[string]shared.V2Volume, fAsset string) *big.Int {
	vol, ok := vols[fAsset]
	if !ok {
		return nil
	}
	if vol.Balance != nil {
		return vol.Balance
	}
	if vol.Input == nil {
		return nil
	}
	result := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		result.Sub(result, vol.Output)
	}
	return result
}

// isConflictError checks whether a Formance SDK error is a CONFLICT (duplicate reference).
func isConflictError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumConflict
}

func strPtr(s string) *string { return &s }
