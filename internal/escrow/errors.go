package escrow

import (
	"errors"
	"fmt"

	"p2p-escrow-mediator/internal/fees"
	"p2p-escrow-mediator/internal/store"
)

var (
	// ErrInvalidState is returned when an action is not allowed from the current status.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidTransition is returned for any action on a terminal escrow.
	ErrInvalidTransition = fmt.Errorf("%w: invalid transition", ErrInvalidState)

	ErrUnauthorized     = errors.New("unauthorized")
	ErrAlreadyBound     = errors.New("seller already bound")
	ErrAlreadyConfirmed = errors.New("already confirmed")

	ErrInvalidAmount = fees.ErrInvalidAmount
	ErrNotFound      = store.ErrEscrowNotFound
)

// IsBenign reports whether err is an "already done" signal rather than a failure.
func IsBenign(err error) bool {
	return errors.Is(err, ErrAlreadyBound) || errors.Is(err, ErrAlreadyConfirmed)
}
