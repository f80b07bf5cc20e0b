package store_test

import (
	"errors"
	"testing"

	"p2p-escrow-mediator/internal/database"
	"p2p-escrow-mediator/internal/postgres"
	"p2p-escrow-mediator/internal/store"
)

// Both backends must satisfy the full contract.
var (
	_ store.Store = (*database.Service)(nil)
	_ store.Store = (*postgres.Service)(nil)
)

func TestSentinelErrorsAreDistinct(t *testing.T) {
	sentinels := []error{
		store.ErrEscrowNotFound,
		store.ErrDuplicateTransaction,
		store.ErrConcurrentModification,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("%v must not match %v", a, b)
			}
		}
	}
}
