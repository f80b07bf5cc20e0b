/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package escrow is the authoritative state machine for one escrow record.
// Every function validates the transition against the table below and
// mutates the record in place; persistence and locking belong to the caller.
package escrow

import (
	"fmt"
	"time"

	"p2p-escrow-mediator/internal/models"
)

// validTransitions lists the statuses reachable from each status through
// normal (non-override) actions.
var validTransitions = map[models.Status][]models.Status{
	models.StatusSetup:           {models.StatusAwaitingSeller, models.StatusCancelled},
	models.StatusAwaitingSeller:  {models.StatusParticipantsSet, models.StatusCancelled},
	models.StatusParticipantsSet: {models.StatusAwaitingAsset, models.StatusCancelled},
	models.StatusAwaitingAsset:   {models.StatusAwaitingAmount, models.StatusCancelled},
	models.StatusAwaitingAmount:  {models.StatusAwaitingDeposit, models.StatusCancelled},
	models.StatusAwaitingDeposit: {models.StatusFunded, models.StatusDisputed, models.StatusCancelled},
	models.StatusFunded:          {models.StatusReleased, models.StatusDisputed, models.StatusCancelled},
	models.StatusDisputed:        {models.StatusFunded, models.StatusAwaitingDeposit, models.StatusReleased, models.StatusCancelled},
	models.StatusReleased:        {},
	models.StatusCancelled:       {},
}

// CanTransition reports whether from -> to is a legal normal transition.
func CanTransition(from, to models.Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func transition(e *models.Escrow, to models.Status) error {
	if e.Status.IsTerminal() {
		return fmt.Errorf("%w: escrow %s is %s", ErrInvalidTransition, e.Id, e.Status)
	}
	if !CanTransition(e.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, e.Status, to)
	}
	e.Status = to
	return nil
}

// requireStatus fails with ErrInvalidTransition on terminal escrows and
// ErrInvalidState when the status is not one of allowed.
func requireStatus(e *models.Escrow, action string, allowed ...models.Status) error {
	if e.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot %s, escrow %s is %s", ErrInvalidTransition, action, e.Id, e.Status)
	}
	for _, s := range allowed {
		if e.Status == s {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidState, action, e.Status)
}

// New returns an escrow in the setup state.
func New(id, buyerId string, now time.Time) *models.Escrow {
	return &models.Escrow{
		Id:        id,
		BuyerId:   buyerId,
		Status:    models.StatusSetup,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Create moves a fresh escrow to awaiting_seller. Only the buyer may do this, once.
func Create(e *models.Escrow, actorId string) error {
	if actorId == "" || actorId != e.BuyerId {
		return fmt.Errorf("%w: only the buyer can create escrow %s", ErrUnauthorized, e.Id)
	}
	if e.Status != models.StatusSetup {
		return fmt.Errorf("%w: escrow %s already created", ErrInvalidTransition, e.Id)
	}
	return transition(e, models.StatusAwaitingSeller)
}

// BindSeller accepts the first joining identity as seller and advances to
// awaiting_asset through participants_set.
func BindSeller(e *models.Escrow, userId string) error {
	if userId == "" {
		return fmt.Errorf("%w: empty seller identity", ErrUnauthorized)
	}
	if e.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot bind seller, escrow %s is %s", ErrInvalidTransition, e.Id, e.Status)
	}
	if e.SellerId != "" {
		return fmt.Errorf("%w: escrow %s", ErrAlreadyBound, e.Id)
	}
	if userId == e.BuyerId {
		return fmt.Errorf("%w: buyer cannot join escrow %s as seller", ErrUnauthorized, e.Id)
	}
	if err := requireStatus(e, "bind seller", models.StatusAwaitingSeller); err != nil {
		return err
	}

	e.SellerId = userId
	if err := transition(e, models.StatusParticipantsSet); err != nil {
		return err
	}
	return transition(e, models.StatusAwaitingAsset)
}

// SetAsset chooses the asset. It may be re-chosen until the amount is locked.
func SetAsset(e *models.Escrow, asset models.Asset) error {
	canonical, err := models.ParseAsset(string(asset))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if err := requireStatus(e, "set asset", models.StatusAwaitingAsset, models.StatusAwaitingAmount); err != nil {
		return err
	}

	e.Asset = canonical
	if e.Status == models.StatusAwaitingAsset {
		return transition(e, models.StatusAwaitingAmount)
	}
	return nil
}

// LockAmount stores the priced amount and starts waiting for the deposit.
func LockAmount(e *models.Escrow, quote models.Quote) error {
	if err := requireStatus(e, "lock amount", models.StatusAwaitingAmount); err != nil {
		return err
	}
	if e.Asset == "" {
		return fmt.Errorf("%w: asset not chosen", ErrInvalidState)
	}
	if e.AmountLocked() {
		return fmt.Errorf("%w: amount already locked", ErrInvalidState)
	}
	if !quote.Gross.IsPositive() || !quote.Net.IsPositive() {
		return fmt.Errorf("%w: gross %s leaves net %s", ErrInvalidAmount, quote.Gross.String(), quote.Net.String())
	}

	e.Amount = quote.Gross
	e.Fee = quote.Fee
	e.NetAmount = quote.Net
	return transition(e, models.StatusAwaitingDeposit)
}

// MarkFunded records a confirmed deposit. Only the deposit reconciler calls it.
func MarkFunded(e *models.Escrow) error {
	if err := requireStatus(e, "mark funded", models.StatusAwaitingDeposit); err != nil {
		return err
	}
	if e.Funded {
		return fmt.Errorf("%w: escrow %s already funded", ErrInvalidState, e.Id)
	}
	e.Funded = true
	return transition(e, models.StatusFunded)
}

// Confirm sets the actor's release flag. It reports whether the flag was
// already set and whether this call released the escrow.
func Confirm(e *models.Escrow, actorId string) (already bool, released bool, err error) {
	role := e.RoleOf(actorId)
	if role != models.RoleBuyer && role != models.RoleSeller {
		return false, false, fmt.Errorf("%w: %s is not a participant of escrow %s", ErrUnauthorized, actorId, e.Id)
	}
	if err := requireStatus(e, "confirm release", models.StatusFunded, models.StatusDisputed); err != nil {
		return false, false, err
	}

	switch role {
	case models.RoleBuyer:
		already = e.BuyerConfirmed
		e.BuyerConfirmed = true
	case models.RoleSeller:
		already = e.SellerConfirmed
		e.SellerConfirmed = true
	}
	if already {
		return true, false, nil
	}

	released, err = releaseIfConfirmed(e, actorId)
	return false, released, err
}

// releaseIfConfirmed releases a funded escrow once both parties confirmed.
func releaseIfConfirmed(e *models.Escrow, actorId string) (bool, error) {
	if e.Status != models.StatusFunded || !e.BuyerConfirmed || !e.SellerConfirmed {
		return false, nil
	}
	if err := transition(e, models.StatusReleased); err != nil {
		return false, err
	}
	e.ResolvedBy = actorId
	return true, nil
}

// OpenDispute escalates a funded or awaiting-deposit escrow. Flags are kept.
func OpenDispute(e *models.Escrow, actorId string) error {
	role := e.RoleOf(actorId)
	if role != models.RoleBuyer && role != models.RoleSeller {
		return fmt.Errorf("%w: %s is not a participant of escrow %s", ErrUnauthorized, actorId, e.Id)
	}
	if err := requireStatus(e, "open dispute", models.StatusFunded, models.StatusAwaitingDeposit); err != nil {
		return err
	}

	from := e.Status
	if err := transition(e, models.StatusDisputed); err != nil {
		return err
	}
	e.DisputedBy = actorId
	e.DisputedFrom = from
	return nil
}

// WithdrawDispute lets the party who opened the dispute take it back.
func WithdrawDispute(e *models.Escrow, actorId string) (bool, error) {
	if err := requireStatus(e, "withdraw dispute", models.StatusDisputed); err != nil {
		return false, err
	}
	if actorId == "" || actorId != e.DisputedBy {
		return false, fmt.Errorf("%w: only %s can withdraw this dispute", ErrUnauthorized, e.DisputedBy)
	}
	return endDispute(e, actorId)
}

// ResolveDispute returns a disputed escrow to where it was. Callers must have
// verified adminId is an admin.
func ResolveDispute(e *models.Escrow, adminId string) (bool, error) {
	if err := requireStatus(e, "resolve dispute", models.StatusDisputed); err != nil {
		return false, err
	}
	return endDispute(e, adminId)
}

func endDispute(e *models.Escrow, actorId string) (bool, error) {
	back := e.DisputedFrom
	if back == "" {
		back = models.StatusFunded
		if !e.Funded {
			back = models.StatusAwaitingDeposit
		}
	}
	if err := transition(e, back); err != nil {
		return false, err
	}
	e.DisputedBy = ""
	e.DisputedFrom = ""
	return releaseIfConfirmed(e, actorId)
}

// Cancel ends a non-terminal escrow. Participants and admins may cancel.
func Cancel(e *models.Escrow, actorId string, isAdmin bool) error {
	if !isAdmin {
		role := e.RoleOf(actorId)
		if role != models.RoleBuyer && role != models.RoleSeller {
			return fmt.Errorf("%w: %s cannot cancel escrow %s", ErrUnauthorized, actorId, e.Id)
		}
	}
	if err := transition(e, models.StatusCancelled); err != nil {
		return err
	}
	e.BuyerConfirmed = false
	e.SellerConfirmed = false
	e.ResolvedBy = actorId
	return nil
}

// AdminOverride forces release or cancel from any non-terminal status,
// bypassing the dual-confirmation gate. Callers must have verified adminId.
func AdminOverride(e *models.Escrow, adminId string, action models.OverrideAction) error {
	if e.Status.IsTerminal() {
		return fmt.Errorf("%w: escrow %s is %s", ErrInvalidTransition, e.Id, e.Status)
	}

	switch action {
	case models.OverrideRelease:
		e.Status = models.StatusReleased
	case models.OverrideCancel:
		e.Status = models.StatusCancelled
		e.BuyerConfirmed = false
		e.SellerConfirmed = false
	default:
		return fmt.Errorf("%w: unknown override action %q", ErrInvalidState, action)
	}
	e.ResolvedBy = adminId
	return nil
}
