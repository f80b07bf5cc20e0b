package api

import (
	"context"

	"p2p-escrow-mediator/internal/models"
	"p2p-escrow-mediator/internal/release"
)

// Reconcile checks the escrow for a confirmed deposit now instead of
// waiting for the next poll cycle.
func (s *EscrowService) Reconcile(ctx context.Context, escrowId string) (bool, error) {
	return s.reconciler.Reconcile(ctx, escrowId)
}

func (s *EscrowService) RecordConfirmation(ctx context.Context, escrowId, actorId string) (release.ConfirmationResult, error) {
	return s.coordinator.RecordConfirmation(ctx, escrowId, actorId)
}

func (s *EscrowService) OpenDispute(ctx context.Context, escrowId, actorId string) (*models.Escrow, error) {
	return s.coordinator.OpenDispute(ctx, escrowId, actorId)
}

func (s *EscrowService) WithdrawDispute(ctx context.Context, escrowId, actorId string) (*models.Escrow, error) {
	return s.coordinator.WithdrawDispute(ctx, escrowId, actorId)
}

func (s *EscrowService) ResolveDispute(ctx context.Context, escrowId, adminId string) (*models.Escrow, error) {
	return s.coordinator.ResolveDispute(ctx, escrowId, adminId)
}

func (s *EscrowService) Cancel(ctx context.Context, escrowId, actorId string) (*models.Escrow, error) {
	return s.coordinator.Cancel(ctx, escrowId, actorId)
}

// AdminOverride forces release or cancel. Non-admins get escrow.ErrUnauthorized.
func (s *EscrowService) AdminOverride(ctx context.Context, escrowId, actorId string, action models.OverrideAction) (*models.Escrow, error) {
	return s.coordinator.AdminOverride(ctx, escrowId, actorId, action)
}

// ForceResolve hard-deletes an escrow and its transaction records.
func (s *EscrowService) ForceResolve(ctx context.Context, escrowId, adminId string) error {
	return s.coordinator.ForceResolve(ctx, escrowId, adminId)
}
