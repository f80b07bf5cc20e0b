package fees

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestComputeFee_Examples(t *testing.T) {
	tests := []struct {
		name    string
		gross   string
		percent string
		minFee  string
		wantFee string
		wantNet string
	}{
		{"percent equals minimum", "100", "5", "5", "5", "95"},
		{"minimum dominates", "50", "5", "5", "5", "45"},
		{"percent dominates", "1000", "5", "5", "50", "950"},
		{"zero minimum", "0.5", "1", "0", "0.005", "0.495"},
		{"rounded to eight digits", "0.123456789", "1", "0", "0.00123457", "0.122222219"},
		{"zero percent", "10", "0", "0.0001", "0.0001", "9.9999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := ComputeFee(d(tt.gross), d(tt.percent), d(tt.minFee))
			require.NoError(t, err)
			assert.True(t, q.Fee.Equal(d(tt.wantFee)), "fee = %s, want %s", q.Fee, tt.wantFee)
			assert.True(t, q.Net.Equal(d(tt.wantNet)), "net = %s, want %s", q.Net, tt.wantNet)
			assert.True(t, q.Gross.Equal(d(tt.gross)))
		})
	}
}

func TestComputeFee_Identities(t *testing.T) {
	percent := d("2.5")
	minFee := d("0.0002")

	for _, raw := range []string{"0.00000001", "0.0001", "0.008", "0.01", "1", "3.14159265", "77.7", "12345.6789"} {
		gross := d(raw)
		q, err := ComputeFee(gross, percent, minFee)
		require.NoError(t, err, raw)

		assert.True(t, q.Fee.GreaterThanOrEqual(minFee), "fee %s below minimum for %s", q.Fee, raw)
		assert.True(t, q.Fee.Add(q.Net).Equal(gross), "fee+net != gross for %s", raw)

		want := decimal.Max(gross.Mul(percent).Div(decimal.NewFromInt(100)), minFee).Round(Precision)
		assert.True(t, q.Fee.Equal(want), "fee %s, want %s for %s", q.Fee, want, raw)
	}
}

func TestComputeFee_InvalidAmount(t *testing.T) {
	for _, raw := range []string{"0", "-1", "-0.00000001"} {
		_, err := ComputeFee(d(raw), d("5"), d("5"))
		assert.True(t, errors.Is(err, ErrInvalidAmount), "gross %s: got %v", raw, err)
	}

	_, err := ComputeFee(d("10"), d("-1"), d("0"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ComputeFee(d("10"), d("1"), d("-1"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestParseAmount(t *testing.T) {
	amt, err := ParseAmount("0.5")
	require.NoError(t, err)
	assert.True(t, amt.Equal(d("0.5")))

	for _, raw := range []string{"", "abc", "0", "-2", "1e"} {
		_, err := ParseAmount(raw)
		assert.ErrorIs(t, err, ErrInvalidAmount, raw)
	}
}
