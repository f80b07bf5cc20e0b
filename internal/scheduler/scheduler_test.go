package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"p2p-escrow-mediator/internal/database"
	"p2p-escrow-mediator/internal/lock"
	"p2p-escrow-mediator/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReconciler struct {
	mu      sync.Mutex
	seen    []string
	cycles  map[string]bool
	calls   atomic.Int64
	results map[string]bool
	errs    map[string]error
	block   bool
}

func (f *fakeReconciler) Reconcile(ctx context.Context, escrowId string) (bool, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.seen = append(f.seen, escrowId)
	if pc := models.GetPollCycleContext(ctx); pc != nil {
		if f.cycles == nil {
			f.cycles = make(map[string]bool)
		}
		f.cycles[pc.CycleId] = true
	}
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return f.results[escrowId], f.errs[escrowId]
}

func setupStore(t *testing.T, statuses map[string]models.Status) *database.Service {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	for id, status := range statuses {
		require.NoError(t, db.CreateEscrow(context.Background(), &models.Escrow{
			Id:      id,
			BuyerId: "buyer",
			Asset:   models.AssetLTC,
			Amount:  decimal.NewFromInt(2),
			Status:  status,
		}))
	}
	return db
}

func TestRunOnce(t *testing.T) {
	db := setupStore(t, map[string]models.Status{
		"esc-a": models.StatusAwaitingDeposit,
		"esc-b": models.StatusAwaitingDeposit,
		"esc-c": models.StatusAwaitingDeposit,
		"esc-d": models.StatusFunded,
	})
	rec := &fakeReconciler{
		results: map[string]bool{"esc-a": true},
		errs:    map[string]error{"esc-b": errors.New("store down")},
	}
	s := NewPollScheduler(PollSchedulerConfig{Escrows: db, Reconciler: rec, Workers: 2, Console: io.Discard})

	stats, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Pending)
	assert.Equal(t, 1, stats.Funded)
	assert.Equal(t, 1, stats.Failed)
	assert.ElementsMatch(t, []string{"esc-a", "esc-b", "esc-c"}, rec.seen)
	assert.Len(t, rec.cycles, 1, "every escrow in a cycle shares one cycle id")
}

func TestRunOnce_SkipsWhenLockHeld(t *testing.T) {
	db := setupStore(t, map[string]models.Status{"esc-a": models.StatusAwaitingDeposit})
	locker := lock.NewLocal()
	unlock, err := locker.Acquire(context.Background(), cycleLockKey, time.Minute)
	require.NoError(t, err)
	defer unlock()

	rec := &fakeReconciler{}
	s := NewPollScheduler(PollSchedulerConfig{Escrows: db, Reconciler: rec, Locker: locker, Console: io.Discard})

	stats, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
	assert.Zero(t, rec.calls.Load())
}

func TestStartStop(t *testing.T) {
	db := setupStore(t, map[string]models.Status{"esc-a": models.StatusAwaitingDeposit})
	rec := &fakeReconciler{}
	s := NewPollScheduler(PollSchedulerConfig{
		Escrows:      db,
		Reconciler:   rec,
		PollInterval: 10 * time.Millisecond,
		Console:      io.Discard,
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return rec.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	calls := rec.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, rec.calls.Load(), "no cycles after Stop")

	// second Stop is a no-op
	s.Stop()
}

func TestStop_CancelsAfterGracePeriod(t *testing.T) {
	db := setupStore(t, map[string]models.Status{"esc-a": models.StatusAwaitingDeposit})
	rec := &fakeReconciler{block: true}
	s := NewPollScheduler(PollSchedulerConfig{
		Escrows:     db,
		Reconciler:  rec,
		GracePeriod: 20 * time.Millisecond,
		Console:     io.Discard,
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return rec.calls.Load() == 1 }, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the grace period")
	}
}

func TestStart_RequiresCollaborators(t *testing.T) {
	s := NewPollScheduler(PollSchedulerConfig{})
	assert.Error(t, s.Start(context.Background()))
}

func stopWithin(t *testing.T, s *PollScheduler, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("Stop did not return")
	}
}

func TestStop_WithoutStart(t *testing.T) {
	s := NewPollScheduler(PollSchedulerConfig{GracePeriod: 10 * time.Millisecond, Console: io.Discard})
	stopWithin(t, s, time.Second)

	db := setupStore(t, nil)
	s = NewPollScheduler(PollSchedulerConfig{Escrows: db, Reconciler: &fakeReconciler{}, Console: io.Discard})
	stopWithin(t, s, time.Second)
	assert.Error(t, s.Start(context.Background()), "a stopped scheduler cannot start")
}

func TestStop_AfterFailedStart(t *testing.T) {
	s := NewPollScheduler(PollSchedulerConfig{GracePeriod: 10 * time.Millisecond, Console: io.Discard})
	require.Error(t, s.Start(context.Background()))
	stopWithin(t, s, time.Second)
}

func TestStart_Twice(t *testing.T) {
	db := setupStore(t, nil)
	s := NewPollScheduler(PollSchedulerConfig{
		Escrows:      db,
		Reconciler:   &fakeReconciler{},
		PollInterval: time.Hour,
		Console:      io.Discard,
	})
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	stopWithin(t, s, 2*time.Second)
}
