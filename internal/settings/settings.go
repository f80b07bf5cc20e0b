package settings

import (
	"context"
	"fmt"
	"strconv"

	"p2p-escrow-mediator/internal/models"
	"p2p-escrow-mediator/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Setting keys. Per-asset variants append "." and the asset symbol.
const (
	KeyFeePercent            = "fee_percent"
	KeyMinFee                = "min_fee"
	KeyRequiredConfirmations = "required_confirmations"
)

// AssetKey returns the per-asset variant of key, e.g. "min_fee.BTC".
func AssetKey(key string, asset models.Asset) string {
	return key + "." + string(asset)
}

// Reader resolves typed settings on every call. Nothing is cached so
// operators can tune values while the mediator runs.
type Reader struct {
	store    store.SettingsStore
	assets   map[models.Asset]models.AssetConfig
	defaults models.FeeConfig
}

func NewReader(s store.SettingsStore, assets map[models.Asset]models.AssetConfig, defaults models.FeeConfig) *Reader {
	if assets == nil {
		assets = models.DefaultAssetConfigs()
	}
	return &Reader{store: s, assets: assets, defaults: defaults}
}

// FeePercent returns the fee percentage (5 means 5%).
func (r *Reader) FeePercent(ctx context.Context) (decimal.Decimal, error) {
	v, ok, err := r.decimal(ctx, KeyFeePercent)
	if err != nil || ok {
		return v, err
	}
	return r.defaults.DefaultPercent, nil
}

// MinFee returns the minimum fee for asset: per-asset setting, global setting, configured default.
func (r *Reader) MinFee(ctx context.Context, asset models.Asset) (decimal.Decimal, error) {
	if v, ok, err := r.decimal(ctx, AssetKey(KeyMinFee, asset)); err != nil || ok {
		return v, err
	}
	if v, ok, err := r.decimal(ctx, KeyMinFee); err != nil || ok {
		return v, err
	}
	return r.defaults.DefaultMinFee, nil
}

// RequiredConfirmations returns the confirmation threshold for asset:
// per-asset setting, global setting, asset default.
func (r *Reader) RequiredConfirmations(ctx context.Context, asset models.Asset) (int, error) {
	for _, key := range []string{AssetKey(KeyRequiredConfirmations, asset), KeyRequiredConfirmations} {
		raw, ok, err := r.store.GetSetting(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("failed to read setting %s: %w", key, err)
		}
		if !ok {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			zap.L().Warn("Ignoring malformed confirmation setting",
				zap.String("key", key),
				zap.String("value", raw))
			continue
		}
		return n, nil
	}

	if cfg, ok := r.assets[asset]; ok {
		return cfg.RequiredConfirmations, nil
	}
	return 1, nil
}

// AssetConfig returns the on-chain description of asset.
func (r *Reader) AssetConfig(asset models.Asset) (models.AssetConfig, bool) {
	cfg, ok := r.assets[asset]
	return cfg, ok
}

func (r *Reader) decimal(ctx context.Context, key string) (decimal.Decimal, bool, error) {
	raw, ok, err := r.store.GetSetting(ctx, key)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	if !ok {
		return decimal.Zero, false, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil || v.IsNegative() {
		zap.L().Warn("Ignoring malformed decimal setting",
			zap.String("key", key),
			zap.String("value", raw))
		return decimal.Zero, false, nil
	}
	return v, true, nil
}

// Validate checks a value before it is written through the CLI.
func Validate(key, value string) error {
	base := key
	for _, k := range []string{KeyMinFee, KeyRequiredConfirmations} {
		if len(key) > len(k) && key[:len(k)+1] == k+"." {
			if _, err := models.ParseAsset(key[len(k)+1:]); err != nil {
				return err
			}
			base = k
		}
	}

	switch base {
	case KeyFeePercent, KeyMinFee:
		v, err := decimal.NewFromString(value)
		if err != nil {
			return fmt.Errorf("%s must be a decimal: %w", key, err)
		}
		if v.IsNegative() {
			return fmt.Errorf("%s cannot be negative", key)
		}
	case KeyRequiredConfirmations:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", key, err)
		}
		if n < 0 {
			return fmt.Errorf("%s cannot be negative", key)
		}
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}
