package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"p2p-escrow-mediator/internal/models"

	"github.com/shopspring/decimal"
)

const (
	defaultEtherscanURL = "https://api.etherscan.io/v2/api"
	defaultChainId      = "1"
	etherscanPerSec     = 5
	noTransactionsFound = "No transactions found"
)

type etherscanEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type etherscanTx struct {
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	Confirmations   string `json:"confirmations"`
	IsError         string `json:"isError"`
	ContractAddress string `json:"contractAddress"`
	TokenDecimal    string `json:"tokenDecimal"`
}

// etherscan reads ETH transfers and ERC-20 token transfers from an
// Etherscan-compatible explorer.
type etherscan struct {
	fetch   *fetcher
	baseURL string
	apiKey  string
	chainId string
}

func newEtherscan(client *http.Client, cfg models.OracleConfig) *etherscan {
	base := cfg.EtherscanURL
	if base == "" {
		base = defaultEtherscanURL
	}
	chainId := cfg.EtherscanChainId
	if chainId == "" {
		chainId = defaultChainId
	}
	perSec := cfg.RequestsPerSec
	if perSec <= 0 {
		perSec = etherscanPerSec
	}
	return &etherscan{
		fetch:   newFetcher(client, "etherscan", perSec, 1, cfg.MaxRetries),
		baseURL: base,
		apiKey:  cfg.EtherscanAPIKey,
		chainId: chainId,
	}
}

func (e *etherscan) name() string { return "etherscan" }

func (e *etherscan) call(ctx context.Context, params url.Values, out any) error {
	params.Set("chainid", e.chainId)
	params.Set("module", "account")
	if e.apiKey != "" {
		params.Set("apikey", e.apiKey)
	}

	var env etherscanEnvelope
	if err := e.fetch.getJSON(ctx, e.baseURL+"?"+params.Encode(), &env); err != nil {
		return err
	}
	if env.Status != "1" {
		if strings.EqualFold(env.Message, noTransactionsFound) {
			return nil
		}
		var detail string
		_ = json.Unmarshal(env.Result, &detail)
		return fmt.Errorf("explorer error: %s %s", env.Message, detail)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func (e *etherscan) fetchDeposits(ctx context.Context, cfg models.AssetConfig, address string) ([]models.Observation, error) {
	params := url.Values{}
	params.Set("address", address)
	params.Set("sort", "desc")
	if cfg.Contract != "" {
		params.Set("action", "tokentx")
		params.Set("contractaddress", cfg.Contract)
	} else {
		params.Set("action", "txlist")
	}

	var txs []etherscanTx
	if err := e.call(ctx, params, &txs); err != nil {
		return nil, err
	}
	return incomingTransfers(txs, cfg, address), nil
}

// incomingTransfers keeps successful transfers paying address. Token
// transfers must come from cfg.Contract.
func incomingTransfers(txs []etherscanTx, cfg models.AssetConfig, address string) []models.Observation {
	var observations []models.Observation
	for _, tx := range txs {
		if !strings.EqualFold(tx.To, address) || tx.Hash == "" {
			continue
		}
		if tx.IsError != "" && tx.IsError != "0" {
			continue
		}
		decimals := cfg.Decimals
		if cfg.Contract != "" {
			if !strings.EqualFold(tx.ContractAddress, cfg.Contract) {
				continue
			}
			if d, err := strconv.Atoi(tx.TokenDecimal); err == nil && d > 0 {
				decimals = d
			}
		}

		raw, err := decimal.NewFromString(tx.Value)
		if err != nil || !raw.IsPositive() {
			continue
		}
		confirmations, err := strconv.Atoi(tx.Confirmations)
		if err != nil {
			confirmations = 0
		}
		observations = append(observations, models.Observation{
			TxHash:        tx.Hash,
			Amount:        raw.Shift(-int32(decimals)),
			Confirmations: confirmations,
		})
	}
	return observations
}

func (e *etherscan) fetchBalance(ctx context.Context, cfg models.AssetConfig, address string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("address", address)
	params.Set("tag", "latest")
	if cfg.Contract != "" {
		params.Set("action", "tokenbalance")
		params.Set("contractaddress", cfg.Contract)
	} else {
		params.Set("action", "balance")
	}

	var raw string
	if err := e.call(ctx, params, &raw); err != nil {
		return decimal.Zero, err
	}
	if raw == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid balance %q: %w", raw, err)
	}
	return v.Shift(-int32(cfg.Decimals)), nil
}
