package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"p2p-escrow-mediator/internal/models"

	"github.com/shopspring/decimal"
)

const (
	defaultBlockCypherURL = "https://api.blockcypher.com"
	blockCypherPerSec     = 3
	blockCypherTxLimit    = 50
)

type blockCypherAddress struct {
	Address           string             `json:"address"`
	Balance           int64              `json:"balance"`
	TxRefs            []blockCypherTxRef `json:"txrefs"`
	UnconfirmedTxRefs []blockCypherTxRef `json:"unconfirmed_txrefs"`
	Error             string             `json:"error"`
}

type blockCypherTxRef struct {
	TxHash        string `json:"tx_hash"`
	TxInputN      int    `json:"tx_input_n"`
	TxOutputN     int    `json:"tx_output_n"`
	Value         int64  `json:"value"`
	Confirmations int    `json:"confirmations"`
}

// blockCypher reads BTC and LTC addresses from a BlockCypher-compatible explorer.
type blockCypher struct {
	fetch   *fetcher
	baseURL string
	token   string
}

func newBlockCypher(client *http.Client, cfg models.OracleConfig) *blockCypher {
	base := cfg.BlockCypherURL
	if base == "" {
		base = defaultBlockCypherURL
	}
	perSec := cfg.RequestsPerSec
	if perSec <= 0 {
		perSec = blockCypherPerSec
	}
	return &blockCypher{
		fetch:   newFetcher(client, "blockcypher", perSec, 1, cfg.MaxRetries),
		baseURL: strings.TrimRight(base, "/"),
		token:   cfg.BlockCypherToken,
	}
}

func (b *blockCypher) name() string { return "blockcypher" }

func (b *blockCypher) addressURL(chain, address string) string {
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", blockCypherTxLimit))
	if b.token != "" {
		q.Set("token", b.token)
	}
	return fmt.Sprintf("%s/v1/%s/main/addrs/%s?%s", b.baseURL, chain, url.PathEscape(address), q.Encode())
}

func (b *blockCypher) lookup(ctx context.Context, cfg models.AssetConfig, address string) (*blockCypherAddress, error) {
	var resp blockCypherAddress
	if err := b.fetch.getJSON(ctx, b.addressURL(cfg.Chain, address), &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("explorer error: %s", resp.Error)
	}
	return &resp, nil
}

func (b *blockCypher) fetchDeposits(ctx context.Context, cfg models.AssetConfig, address string) ([]models.Observation, error) {
	resp, err := b.lookup(ctx, cfg, address)
	if err != nil {
		return nil, err
	}

	// Unconfirmed refs are newer than confirmed ones; both lists are newest first.
	refs := make([]blockCypherTxRef, 0, len(resp.UnconfirmedTxRefs)+len(resp.TxRefs))
	refs = append(refs, resp.UnconfirmedTxRefs...)
	refs = append(refs, resp.TxRefs...)

	return sumOutputs(refs, cfg.Decimals), nil
}

// sumOutputs keeps outputs paying the address (tx_input_n == -1) and sums
// several outputs of one transaction, preserving first-seen order.
func sumOutputs(refs []blockCypherTxRef, decimals int) []models.Observation {
	index := make(map[string]int)
	var observations []models.Observation
	for _, ref := range refs {
		if ref.TxInputN != -1 || ref.Value <= 0 || ref.TxHash == "" {
			continue
		}
		amount := decimal.New(ref.Value, -int32(decimals))
		if i, ok := index[ref.TxHash]; ok {
			observations[i].Amount = observations[i].Amount.Add(amount)
			continue
		}
		index[ref.TxHash] = len(observations)
		observations = append(observations, models.Observation{
			TxHash:        ref.TxHash,
			Amount:        amount,
			Confirmations: ref.Confirmations,
		})
	}
	return observations
}

func (b *blockCypher) fetchBalance(ctx context.Context, cfg models.AssetConfig, address string) (decimal.Decimal, error) {
	resp, err := b.lookup(ctx, cfg, address)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(resp.Balance, -int32(cfg.Decimals)), nil
}
