package reconciler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"p2p-escrow-mediator/internal/database"
	"p2p-escrow-mediator/internal/escrow"
	"p2p-escrow-mediator/internal/models"
	"p2p-escrow-mediator/internal/oracle"
	"p2p-escrow-mediator/internal/settings"
	"p2p-escrow-mediator/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const buyerAddress = "bc1qbuyeraddress"

type fakeOracle struct {
	mu           sync.Mutex
	observations []models.Observation
	err          error
	calls        int
}

func (f *fakeOracle) set(obs ...models.Observation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observations = obs
}

func (f *fakeOracle) FetchDeposits(_ context.Context, _ models.Asset, _ string) ([]models.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.observations, f.err
}

func (f *fakeOracle) FetchBalance(context.Context, models.Asset, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.EventKind
}

func (s *recordingSink) Notify(_ context.Context, _ string, kind models.EventKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, kind)
	return nil
}

type recordingJournal struct {
	funded []string
}

func (j *recordingJournal) RecordFunding(_ context.Context, _ *models.Escrow, rec models.TransactionRecord) error {
	j.funded = append(j.funded, rec.TxHash)
	return nil
}
func (j *recordingJournal) RecordRelease(context.Context, *models.Escrow) error { return nil }
func (j *recordingJournal) RecordRefund(context.Context, *models.Escrow) error  { return nil }
func (j *recordingJournal) EscrowBalance(context.Context, *models.Escrow) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type fixture struct {
	db      *database.Service
	oracle  *fakeOracle
	sink    *recordingSink
	journal *recordingJournal
	rec     *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	f := &fixture{db: db, oracle: &fakeOracle{}, sink: &recordingSink{}, journal: &recordingJournal{}}
	f.rec = New(Config{
		Escrows:  db,
		Wallets:  db,
		Settings: settings.NewReader(db, nil, models.FeeConfig{}),
		Oracle:   f.oracle,
		Notifier: f.sink,
		Journal:  f.journal,
	})
	return f
}

func (f *fixture) seed(t *testing.T, id string, amount string, status models.Status) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.db.CreateEscrow(ctx, &models.Escrow{
		Id:        id,
		BuyerId:   "buyer",
		SellerId:  "seller",
		Asset:     models.AssetBTC,
		Amount:    decimal.RequireFromString(amount),
		Fee:       decimal.Zero,
		NetAmount: decimal.RequireFromString(amount),
		Status:    status,
	}))
	_, err := f.db.RegisterWallet(ctx, store.RegisterWalletParams{UserId: "buyer", Asset: models.AssetBTC, Address: buyerAddress})
	require.NoError(t, err)
}

func obs(hash, amount string, confirmations int) models.Observation {
	return models.Observation{TxHash: hash, Amount: decimal.RequireFromString(amount), Confirmations: confirmations}
}

func TestSelectDeposit(t *testing.T) {
	amount := decimal.RequireFromString("0.5")
	tests := []struct {
		name     string
		obs      []models.Observation
		wantHash string
		found    bool
	}{
		{"empty", nil, "", false},
		{"under amount", []models.Observation{obs("a", "0.4999", 10)}, "", false},
		{"under confirmed", []models.Observation{obs("a", "0.5", 1)}, "", false},
		{"exact", []models.Observation{obs("a", "0.5", 2)}, "a", true},
		{"first match wins", []models.Observation{obs("a", "0.1", 5), obs("b", "0.6", 2), obs("c", "0.5", 9)}, "b", true},
		{"empty hash ignored", []models.Observation{obs("", "1", 9)}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectDeposit(tt.obs, amount, 2)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.wantHash, got.TxHash)
		})
	}
}

func TestReconcile_BTCConfirmationThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "esc-1", "0.5", models.StatusAwaitingDeposit)

	f.oracle.set(obs("tx1", "0.5", 1))
	funded, err := f.rec.Reconcile(ctx, "esc-1")
	require.NoError(t, err)
	assert.False(t, funded)

	e, err := f.db.GetEscrow(ctx, "esc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingDeposit, e.Status)
	assert.False(t, e.Funded)

	f.oracle.set(obs("tx1", "0.5", 2))
	funded, err = f.rec.Reconcile(ctx, "esc-1")
	require.NoError(t, err)
	assert.True(t, funded)

	e, err = f.db.GetEscrow(ctx, "esc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFunded, e.Status)
	assert.True(t, e.Funded)

	txs, err := f.db.ListTransactions(ctx, "esc-1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "tx1", txs[0].TxHash)
	assert.Equal(t, buyerAddress, txs[0].Address)
	assert.True(t, txs[0].Confirmed)

	assert.Equal(t, []models.EventKind{models.EventFunded}, f.sink.events)
	assert.Equal(t, []string{"tx1"}, f.journal.funded)
}

func TestReconcile_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "esc-1", "0.5", models.StatusAwaitingDeposit)
	f.oracle.set(obs("tx1", "0.5", 3))

	for i := 0; i < 5; i++ {
		funded, err := f.rec.Reconcile(ctx, "esc-1")
		require.NoError(t, err)
		assert.Equal(t, i == 0, funded, "call %d", i)
	}

	txs, err := f.db.ListTransactions(ctx, "esc-1")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.Len(t, f.sink.events, 1)
	// funded escrows short-circuit before the oracle
	assert.Equal(t, 1, f.oracle.calls)
}

func TestReconcile_UnderAmountNeverFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "esc-1", "0.5", models.StatusAwaitingDeposit)
	f.oracle.set(obs("tx1", "0.49999999", 100))

	funded, err := f.rec.Reconcile(ctx, "esc-1")
	require.NoError(t, err)
	assert.False(t, funded)

	txs, err := f.db.ListTransactions(ctx, "esc-1")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestReconcile_RequiredConfirmationsSetting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "esc-1", "0.5", models.StatusAwaitingDeposit)
	require.NoError(t, f.db.SetSetting(ctx, settings.AssetKey(settings.KeyRequiredConfirmations, models.AssetBTC), "4"))

	f.oracle.set(obs("tx1", "0.5", 3))
	funded, err := f.rec.Reconcile(ctx, "esc-1")
	require.NoError(t, err)
	assert.False(t, funded)

	f.oracle.set(obs("tx1", "0.5", 4))
	funded, err = f.rec.Reconcile(ctx, "esc-1")
	require.NoError(t, err)
	assert.True(t, funded)
}

func TestReconcile_NotAwaitingDeposit(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "esc-1", "0.5", models.StatusAwaitingAmount)
	f.oracle.set(obs("tx1", "0.5", 10))

	funded, err := f.rec.Reconcile(context.Background(), "esc-1")
	require.NoError(t, err)
	assert.False(t, funded)
	assert.Zero(t, f.oracle.calls)
}

func TestReconcile_OracleErrorIsNotFound(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "esc-1", "0.5", models.StatusAwaitingDeposit)
	f.oracle.err = fmt.Errorf("%w: explorer down", oracle.ErrUnavailable)

	funded, err := f.rec.Reconcile(context.Background(), "esc-1")
	require.NoError(t, err)
	assert.False(t, funded)
}

func TestReconcile_MissingWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.db.CreateEscrow(ctx, &models.Escrow{
		Id: "esc-1", BuyerId: "walletless", Asset: models.AssetBTC,
		Amount: decimal.NewFromInt(1), NetAmount: decimal.NewFromInt(1),
		Status: models.StatusAwaitingDeposit,
	}))

	funded, err := f.rec.Reconcile(ctx, "esc-1")
	require.NoError(t, err)
	assert.False(t, funded)
	assert.Zero(t, f.oracle.calls)
}

func TestReconcile_UnknownEscrow(t *testing.T) {
	f := newFixture(t)
	_, err := f.rec.Reconcile(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrEscrowNotFound)
}

func TestReconcile_HashOwnedByAnotherEscrowFallsThrough(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "esc-1", "0.5", models.StatusAwaitingDeposit)
	f.seed(t, "esc-2", "0.5", models.StatusAwaitingDeposit)

	f.oracle.set(obs("tx1", "0.5", 5))
	funded, err := f.rec.Reconcile(ctx, "esc-1")
	require.NoError(t, err)
	require.True(t, funded)

	// esc-2 watches the same buyer address; tx1 is taken
	funded, err = f.rec.Reconcile(ctx, "esc-2")
	require.NoError(t, err)
	assert.False(t, funded)

	f.oracle.set(obs("tx1", "0.5", 6), obs("tx2", "0.5", 2))
	funded, err = f.rec.Reconcile(ctx, "esc-2")
	require.NoError(t, err)
	assert.True(t, funded)

	txs, err := f.db.ListTransactions(ctx, "esc-2")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "tx2", txs[0].TxHash)
}

// interleavingStore runs a competing state change after the reconciler's
// initial read and before its atomic fund section.
type interleavingStore struct {
	*database.Service
	before func(ctx context.Context, escrowId string) error
}

func (s *interleavingStore) FundEscrow(ctx context.Context, escrowId string, rec models.TransactionRecord, fn store.MutateFunc) (*models.Escrow, error) {
	if err := s.before(ctx, escrowId); err != nil {
		return nil, err
	}
	return s.Service.FundEscrow(ctx, escrowId, rec, fn)
}

func TestReconcile_StatusChangedBeforeFunding(t *testing.T) {
	tests := []struct {
		name   string
		change func(e *models.Escrow) error
		want   models.Status
	}{
		{"cancelled", func(e *models.Escrow) error { return escrow.Cancel(e, "buyer", false) }, models.StatusCancelled},
		{"disputed", func(e *models.Escrow) error { return escrow.OpenDispute(e, "seller") }, models.StatusDisputed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.seed(t, "esc-race", "0.5", models.StatusAwaitingDeposit)
			f.oracle.set(obs("tx-race", "0.5", 6))

			wrapped := &interleavingStore{
				Service: f.db,
				before: func(ctx context.Context, escrowId string) error {
					_, err := f.db.UpdateEscrow(ctx, escrowId, func(e *models.Escrow) (bool, error) {
						return true, tt.change(e)
					})
					return err
				},
			}
			rec := New(Config{
				Escrows:  wrapped,
				Wallets:  f.db,
				Settings: settings.NewReader(f.db, nil, models.FeeConfig{}),
				Oracle:   f.oracle,
				Notifier: f.sink,
				Journal:  f.journal,
			})

			funded, err := rec.Reconcile(ctx, "esc-race")
			require.NoError(t, err)
			assert.False(t, funded)

			e, err := f.db.GetEscrow(ctx, "esc-race")
			require.NoError(t, err)
			assert.Equal(t, tt.want, e.Status)
			assert.False(t, e.Funded)

			txs, err := f.db.ListTransactions(ctx, "esc-race")
			require.NoError(t, err)
			assert.Empty(t, txs)
			assert.Empty(t, f.sink.events)
			assert.Empty(t, f.journal.funded)
		})
	}
}
