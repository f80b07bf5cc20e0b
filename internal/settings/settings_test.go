package settings

import (
	"context"
	"errors"
	"testing"

	"p2p-escrow-mediator/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSettings map[string]string

func (m mapSettings) GetSetting(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m mapSettings) SetSetting(_ context.Context, key, value string) error {
	m[key] = value
	return nil
}

func (m mapSettings) ListSettings(_ context.Context) ([]models.Setting, error) {
	out := make([]models.Setting, 0, len(m))
	for k, v := range m {
		out = append(out, models.Setting{Key: k, Value: v})
	}
	return out, nil
}

type failingSettings struct{ mapSettings }

func (failingSettings) GetSetting(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk on fire")
}

func newReader(m mapSettings) *Reader {
	return NewReader(m, nil, models.FeeConfig{
		DefaultPercent: decimal.NewFromInt(1),
		DefaultMinFee:  decimal.Zero,
	})
}

func TestFeeSettings_Precedence(t *testing.T) {
	ctx := context.Background()
	m := mapSettings{}
	r := newReader(m)

	pct, err := r.FeePercent(ctx)
	require.NoError(t, err)
	assert.True(t, pct.Equal(decimal.NewFromInt(1)))

	minFee, err := r.MinFee(ctx, models.AssetUSDT)
	require.NoError(t, err)
	assert.True(t, minFee.IsZero())

	m[KeyFeePercent] = "5"
	m[KeyMinFee] = "5"
	m[AssetKey(KeyMinFee, models.AssetBTC)] = "0.0001"

	pct, err = r.FeePercent(ctx)
	require.NoError(t, err)
	assert.True(t, pct.Equal(decimal.NewFromInt(5)))

	minFee, err = r.MinFee(ctx, models.AssetUSDT)
	require.NoError(t, err)
	assert.True(t, minFee.Equal(decimal.NewFromInt(5)))

	minFee, err = r.MinFee(ctx, models.AssetBTC)
	require.NoError(t, err)
	assert.True(t, minFee.Equal(decimal.RequireFromString("0.0001")))
}

func TestRequiredConfirmations_Precedence(t *testing.T) {
	ctx := context.Background()
	m := mapSettings{}
	r := newReader(m)

	n, err := r.RequiredConfirmations(ctx, models.AssetBTC)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = r.RequiredConfirmations(ctx, models.AssetETH)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	m[KeyRequiredConfirmations] = "3"
	n, err = r.RequiredConfirmations(ctx, models.AssetETH)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	m[AssetKey(KeyRequiredConfirmations, models.AssetETH)] = "30"
	n, err = r.RequiredConfirmations(ctx, models.AssetETH)
	require.NoError(t, err)
	assert.Equal(t, 30, n)

	// settings are read live, never cached
	m[AssetKey(KeyRequiredConfirmations, models.AssetETH)] = "31"
	n, err = r.RequiredConfirmations(ctx, models.AssetETH)
	require.NoError(t, err)
	assert.Equal(t, 31, n)
}

func TestMalformedSettingsFallBack(t *testing.T) {
	ctx := context.Background()
	m := mapSettings{
		KeyFeePercent:            "lots",
		KeyRequiredConfirmations: "-4",
	}
	r := newReader(m)

	pct, err := r.FeePercent(ctx)
	require.NoError(t, err)
	assert.True(t, pct.Equal(decimal.NewFromInt(1)))

	n, err := r.RequiredConfirmations(ctx, models.AssetLTC)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestStoreErrorsSurface(t *testing.T) {
	r := NewReader(failingSettings{}, nil, models.FeeConfig{})
	_, err := r.FeePercent(context.Background())
	assert.Error(t, err)
	_, err = r.RequiredConfirmations(context.Background(), models.AssetBTC)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("fee_percent", "2.5"))
	assert.NoError(t, Validate("min_fee.USDT", "1"))
	assert.NoError(t, Validate("required_confirmations.BTC", "3"))

	assert.Error(t, Validate("fee_percent", "-1"))
	assert.Error(t, Validate("fee_percent.BTC", "1"))
	assert.Error(t, Validate("min_fee.DOGE", "1"))
	assert.Error(t, Validate("required_confirmations", "two"))
	assert.Error(t, Validate("colour", "blue"))
}
