package release

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"p2p-escrow-mediator/internal/database"
	"p2p-escrow-mediator/internal/escrow"
	"p2p-escrow-mediator/internal/models"
	"p2p-escrow-mediator/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	buyer    = "buyer-1"
	seller   = "seller-1"
	stranger = "stranger-1"
	admin    = "admin-1"
)

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

func (s *recordingSink) count(kind models.EventKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, k := range s.events {
		if k == kind {
			n++
		}
	}
	return n
}

func newCoordinator(t *testing.T, cfg models.DatabaseConfig) (*Coordinator, *database.Service, *recordingSink) {
	t.Helper()
	db, err := database.NewService(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	sink := &recordingSink{}
	c := NewCoordinator(Config{Escrows: db, Notifier: sink, AdminIds: []string{admin}})
	return c, db, sink
}

func memoryConfig() models.DatabaseConfig {
	return models.DatabaseConfig{Path: ":memory:", MaxOpenConns: 1, MaxIdleConns: 1, PingTimeout: time.Second}
}

func seed(t *testing.T, db store.EscrowStore, id string, status models.Status) {
	t.Helper()
	require.NoError(t, db.CreateEscrow(context.Background(), &models.Escrow{
		Id:        id,
		BuyerId:   buyer,
		SellerId:  seller,
		Asset:     models.AssetETH,
		Amount:    decimal.RequireFromString("1"),
		Fee:       decimal.RequireFromString("0.05"),
		NetAmount: decimal.RequireFromString("0.95"),
		Status:    status,
		Funded:    status == models.StatusFunded,
	}))
}

func TestRecordConfirmation_DualRelease(t *testing.T) {
	c, db, sink := newCoordinator(t, memoryConfig())
	ctx := context.Background()
	seed(t, db, "esc-1", models.StatusFunded)

	res, err := c.RecordConfirmation(ctx, "esc-1", buyer)
	require.NoError(t, err)
	assert.False(t, res.Released)
	assert.False(t, res.AlreadyConfirmed)
	assert.NoError(t, res.Err())
	assert.Equal(t, models.StatusFunded, res.Escrow.Status)

	res, err = c.RecordConfirmation(ctx, "esc-1", buyer)
	require.NoError(t, err)
	assert.True(t, res.AlreadyConfirmed)
	assert.ErrorIs(t, res.Err(), escrow.ErrAlreadyConfirmed)
	assert.False(t, res.Released)

	res, err = c.RecordConfirmation(ctx, "esc-1", seller)
	require.NoError(t, err)
	assert.True(t, res.Released)
	assert.Equal(t, models.StatusReleased, res.Escrow.Status)

	stored, err := db.GetEscrow(ctx, "esc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReleased, stored.Status)
	assert.Equal(t, 1, sink.count(models.EventReleased))
}

func TestRecordConfirmation_NonParticipant(t *testing.T) {
	c, db, sink := newCoordinator(t, memoryConfig())
	ctx := context.Background()
	seed(t, db, "esc-1", models.StatusFunded)
	before, err := db.GetEscrow(ctx, "esc-1")
	require.NoError(t, err)

	_, err = c.RecordConfirmation(ctx, "esc-1", stranger)
	assert.ErrorIs(t, err, escrow.ErrUnauthorized)

	after, err := db.GetEscrow(ctx, "esc-1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, sink.events)
}

func TestRecordConfirmation_ConcurrentReleasesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "release.db")
	c, db, sink := newCoordinator(t, models.DatabaseConfig{
		Path:         path,
		MaxOpenConns: 8,
		MaxIdleConns: 8,
		PingTimeout:  time.Second,
		BusyTimeout:  10 * time.Second,
	})
	ctx := context.Background()
	seed(t, db, "esc-1", models.StatusFunded)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		released int
	)
	for _, actor := range []string{buyer, seller, buyer, seller, buyer, seller} {
		wg.Add(1)
		go func(actor string) {
			defer wg.Done()
			res, err := c.RecordConfirmation(ctx, "esc-1", actor)
			if err != nil {
				// late callers find the escrow already released
				assert.ErrorIs(t, err, escrow.ErrInvalidState)
				return
			}
			if res.Released {
				mu.Lock()
				released++
				mu.Unlock()
			}
		}(actor)
	}
	wg.Wait()

	assert.Equal(t, 1, released)
	assert.Equal(t, 1, sink.count(models.EventReleased))

	stored, err := db.GetEscrow(ctx, "esc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReleased, stored.Status)
}

func TestDisputeFlow(t *testing.T) {
	c, db, sink := newCoordinator(t, memoryConfig())
	ctx := context.Background()
	seed(t, db, "esc-1", models.StatusFunded)

	_, err := c.RecordConfirmation(ctx, "esc-1", buyer)
	require.NoError(t, err)

	e, err := c.OpenDispute(ctx, "esc-1", seller)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisputed, e.Status)
	assert.True(t, e.BuyerConfirmed)

	res, err := c.RecordConfirmation(ctx, "esc-1", seller)
	require.NoError(t, err)
	assert.False(t, res.Released)

	_, err = c.ResolveDispute(ctx, "esc-1", buyer)
	assert.ErrorIs(t, err, escrow.ErrUnauthorized)

	e, err = c.WithdrawDispute(ctx, "esc-1", seller)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReleased, e.Status)

	assert.Equal(t, 1, sink.count(models.EventDisputed))
	assert.Equal(t, 1, sink.count(models.EventReleased))
}

func TestResolveDispute_ByAdmin(t *testing.T) {
	c, db, _ := newCoordinator(t, memoryConfig())
	ctx := context.Background()
	seed(t, db, "esc-1", models.StatusAwaitingDeposit)

	_, err := c.OpenDispute(ctx, "esc-1", buyer)
	require.NoError(t, err)

	e, err := c.ResolveDispute(ctx, "esc-1", admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingDeposit, e.Status)
}

func TestCancel(t *testing.T) {
	c, db, sink := newCoordinator(t, memoryConfig())
	ctx := context.Background()
	seed(t, db, "esc-1", models.StatusFunded)

	_, err := c.Cancel(ctx, "esc-1", stranger)
	assert.ErrorIs(t, err, escrow.ErrUnauthorized)

	e, err := c.Cancel(ctx, "esc-1", buyer)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, e.Status)
	assert.Equal(t, 1, sink.count(models.EventCancelled))

	_, err = c.Cancel(ctx, "esc-1", admin)
	assert.ErrorIs(t, err, escrow.ErrInvalidTransition)
}

func TestCancelAfterRelease(t *testing.T) {
	c, db, _ := newCoordinator(t, memoryConfig())
	ctx := context.Background()
	seed(t, db, "esc-1", models.StatusFunded)

	_, err := c.RecordConfirmation(ctx, "esc-1", buyer)
	require.NoError(t, err)
	_, err = c.RecordConfirmation(ctx, "esc-1", seller)
	require.NoError(t, err)

	_, err = c.Cancel(ctx, "esc-1", buyer)
	assert.ErrorIs(t, err, escrow.ErrInvalidState)
}

func TestAdminOverride(t *testing.T) {
	c, db, sink := newCoordinator(t, memoryConfig())
	ctx := context.Background()
	seed(t, db, "esc-1", models.StatusFunded)

	_, err := c.OpenDispute(ctx, "esc-1", buyer)
	require.NoError(t, err)

	_, err = c.AdminOverride(ctx, "esc-1", buyer, models.OverrideRelease)
	assert.ErrorIs(t, err, escrow.ErrUnauthorized)

	e, err := c.AdminOverride(ctx, "esc-1", admin, models.OverrideRelease)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReleased, e.Status)
	assert.Equal(t, admin, e.ResolvedBy)
	assert.Equal(t, 1, sink.count(models.EventReleased))

	_, err = c.AdminOverride(ctx, "esc-1", admin, models.OverrideCancel)
	assert.ErrorIs(t, err, escrow.ErrInvalidTransition)

	stored, err := db.GetEscrow(ctx, "esc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReleased, stored.Status)
}

func TestForceResolve(t *testing.T) {
	c, db, _ := newCoordinator(t, memoryConfig())
	ctx := context.Background()
	seed(t, db, "esc-1", models.StatusDisputed)

	assert.ErrorIs(t, c.ForceResolve(ctx, "esc-1", seller), escrow.ErrUnauthorized)
	require.NoError(t, c.ForceResolve(ctx, "esc-1", admin))

	_, err := db.GetEscrow(ctx, "esc-1")
	assert.ErrorIs(t, err, store.ErrEscrowNotFound)
	assert.ErrorIs(t, c.ForceResolve(ctx, "esc-1", admin), store.ErrEscrowNotFound)
}
