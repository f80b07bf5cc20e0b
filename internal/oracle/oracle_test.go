package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"p2p-escrow-mediator/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ethAddress = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

func newTestService(t *testing.T, cfg models.OracleConfig) *Service {
	t.Helper()
	if cfg.RequestsPerSec == 0 {
		cfg.RequestsPerSec = 1000
	}
	s, err := NewService(cfg, nil)
	require.NoError(t, err)
	for _, b := range s.backends {
		switch v := b.(type) {
		case *blockCypher:
			v.fetch.retryWait = time.Millisecond
		case *etherscan:
			v.fetch.retryWait = time.Millisecond
		}
	}
	return s
}

func TestBlockCypher_FetchDeposits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/btc/main/addrs/bc1qbuyer", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("token"))
		fmt.Fprint(w, `{
			"address": "bc1qbuyer",
			"balance": 50010000,
			"unconfirmed_txrefs": [
				{"tx_hash": "u1", "tx_input_n": -1, "tx_output_n": 0, "value": 5000, "confirmations": 0}
			],
			"txrefs": [
				{"tx_hash": "t1", "tx_input_n": -1, "tx_output_n": 0, "value": 30000000, "confirmations": 3},
				{"tx_hash": "t1", "tx_input_n": -1, "tx_output_n": 2, "value": 20000000, "confirmations": 3},
				{"tx_hash": "spend", "tx_input_n": 0, "tx_output_n": -1, "value": 999, "confirmations": 4},
				{"tx_hash": "t2", "tx_input_n": -1, "tx_output_n": 1, "value": 10000, "confirmations": 10}
			]
		}`)
	}))
	defer srv.Close()

	s := newTestService(t, models.OracleConfig{BlockCypherURL: srv.URL, BlockCypherToken: "secret"})
	obs, err := s.FetchDeposits(context.Background(), models.AssetBTC, "bc1qbuyer")
	require.NoError(t, err)
	require.Len(t, obs, 3)

	assert.Equal(t, "u1", obs[0].TxHash)
	assert.Equal(t, 0, obs[0].Confirmations)
	assert.Equal(t, "t1", obs[1].TxHash)
	assert.True(t, obs[1].Amount.Equal(decimal.RequireFromString("0.5")), obs[1].Amount.String())
	assert.Equal(t, 3, obs[1].Confirmations)
	assert.True(t, obs[2].Amount.Equal(decimal.RequireFromString("0.0001")))
}

func TestBlockCypher_Balance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/ltc/main/addrs/ltc1qbuyer", r.URL.Path)
		fmt.Fprint(w, `{"address": "ltc1qbuyer", "balance": 150000000}`)
	}))
	defer srv.Close()

	s := newTestService(t, models.OracleConfig{BlockCypherURL: srv.URL})
	bal, err := s.FetchBalance(context.Background(), models.AssetLTC, "ltc1qbuyer")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("1.5")))
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			fmt.Fprint(w, `{"address": "bc1qbuyer", "txrefs": []}`)
		}
	}))
	defer srv.Close()

	s := newTestService(t, models.OracleConfig{BlockCypherURL: srv.URL, MaxRetries: 3})
	obs, err := s.FetchDeposits(context.Background(), models.AssetBTC, "bc1qbuyer")
	require.NoError(t, err)
	assert.Empty(t, obs)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_Unavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		cfg     models.OracleConfig
	}{
		{
			name:    "client error",
			handler: func(w http.ResponseWriter, r *http.Request) { http.Error(w, "not found", http.StatusNotFound) },
		},
		{
			name:    "server error exhausts retries",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) },
			cfg:     models.OracleConfig{MaxRetries: 1},
		},
		{
			name:    "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `{"txrefs": [`) },
		},
		{
			name:    "explorer error field",
			handler: func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `{"error": "Limits reached."}`) },
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(2 * time.Second):
				case <-r.Context().Done():
				}
			},
			cfg: models.OracleConfig{Timeout: 50 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			cfg := tt.cfg
			cfg.BlockCypherURL = srv.URL
			s := newTestService(t, cfg)

			_, err := s.FetchDeposits(context.Background(), models.AssetBTC, "bc1qbuyer")
			assert.ErrorIs(t, err, ErrUnavailable)
		})
	}
}

func TestFetch_UnknownAsset(t *testing.T) {
	s := newTestService(t, models.OracleConfig{})
	_, err := s.FetchDeposits(context.Background(), models.Asset("DOGE"), "D123")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEtherscan_NativeTransfers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "txlist", q.Get("action"))
		assert.Equal(t, "desc", q.Get("sort"))
		assert.Equal(t, "1", q.Get("chainid"))
		assert.Equal(t, "key", q.Get("apikey"))
		fmt.Fprint(w, `{"status": "1", "message": "OK", "result": [
			{"hash": "0xin", "to": "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", "value": "1500000000000000000", "confirmations": "15", "isError": "0"},
			{"hash": "0xout", "to": "0x0000000000000000000000000000000000000001", "value": "1000", "confirmations": "20", "isError": "0"},
			{"hash": "0xfailed", "to": "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", "value": "9000000000000000000", "confirmations": "30", "isError": "1"},
			{"hash": "0xzero", "to": "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", "value": "0", "confirmations": "30", "isError": "0"}
		]}`)
	}))
	defer srv.Close()

	s := newTestService(t, models.OracleConfig{EtherscanURL: srv.URL, EtherscanAPIKey: "key"})
	obs, err := s.FetchDeposits(context.Background(), models.AssetETH, ethAddress)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "0xin", obs[0].TxHash)
	assert.Equal(t, 15, obs[0].Confirmations)
	assert.True(t, obs[0].Amount.Equal(decimal.RequireFromString("1.5")))
}

func TestEtherscan_TokenTransfersFilteredByContract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "tokentx", q.Get("action"))
		assert.Equal(t, models.DefaultUSDTContract, q.Get("contractaddress"))
		fmt.Fprintf(w, `{"status": "1", "message": "OK", "result": [
			{"hash": "0xfake", "to": "%[1]s", "value": "500000000", "confirmations": "40", "contractAddress": "0x1111111111111111111111111111111111111111", "tokenDecimal": "6"},
			{"hash": "0xusdt", "to": "%[1]s", "value": "100000000", "confirmations": "12", "contractAddress": "0xdac17f958d2ee523a2206206994597c13d831ec7", "tokenDecimal": "6"}
		]}`, ethAddress)
	}))
	defer srv.Close()

	s := newTestService(t, models.OracleConfig{EtherscanURL: srv.URL})
	obs, err := s.FetchDeposits(context.Background(), models.AssetUSDT, ethAddress)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "0xusdt", obs[0].TxHash)
	assert.True(t, obs[0].Amount.Equal(decimal.NewFromInt(100)))
}

func TestEtherscan_Envelopes(t *testing.T) {
	t.Run("no transactions", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"status": "0", "message": "No transactions found", "result": []}`)
		}))
		defer srv.Close()

		s := newTestService(t, models.OracleConfig{EtherscanURL: srv.URL})
		obs, err := s.FetchDeposits(context.Background(), models.AssetETH, ethAddress)
		require.NoError(t, err)
		assert.Empty(t, obs)
	})

	t.Run("error envelope", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"status": "0", "message": "NOTOK", "result": "Invalid API Key"}`)
		}))
		defer srv.Close()

		s := newTestService(t, models.OracleConfig{EtherscanURL: srv.URL})
		_, err := s.FetchDeposits(context.Background(), models.AssetETH, ethAddress)
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.Contains(t, err.Error(), "Invalid API Key")
	})
}

func TestEtherscan_Balance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("action") {
		case "balance":
			fmt.Fprint(w, `{"status": "1", "message": "OK", "result": "2000000000000000000"}`)
		case "tokenbalance":
			fmt.Fprint(w, `{"status": "1", "message": "OK", "result": "2500000"}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	s := newTestService(t, models.OracleConfig{EtherscanURL: srv.URL})
	eth, err := s.FetchBalance(context.Background(), models.AssetETH, ethAddress)
	require.NoError(t, err)
	assert.True(t, eth.Equal(decimal.NewFromInt(2)))

	usdt, err := s.FetchBalance(context.Background(), models.AssetUSDT, ethAddress)
	require.NoError(t, err)
	assert.True(t, usdt.Equal(decimal.RequireFromString("2.5")))
}
