// Package notify delivers escrow lifecycle events to the chat transport and
// any other listener. Delivery is best effort; callers log failures and move on.
package notify

import (
	"context"
	"errors"
	"time"

	"p2p-escrow-mediator/internal/models"

	"go.uber.org/zap"
)

// Sink receives one event per lifecycle transition.
type Sink interface {
	Notify(ctx context.Context, escrowId string, kind models.EventKind) error
}

// Event is the wire form of a notification.
type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func NewEvent(escrowId string, kind models.EventKind, at time.Time) Event {
	return Event{
		Type: string(kind),
		Payload: map[string]any{
			"escrow_id": escrowId,
			"at":        at.UTC().Format(time.RFC3339),
		},
	}
}

// EscrowId returns the escrow the event refers to.
func (e Event) EscrowId() string {
	id, _ := e.Payload["escrow_id"].(string)
	return id
}

// LogSink writes events to the global logger.
type LogSink struct{}

func (LogSink) Notify(_ context.Context, escrowId string, kind models.EventKind) error {
	zap.L().Info("Escrow event",
		zap.String("escrow_id", escrowId),
		zap.String("event", string(kind)))
	return nil
}

// Multi fans an event out to every sink; one failing sink does not stop the others.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, escrowId string, kind models.EventKind) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, escrowId, kind); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Send delivers through sink and logs a failure instead of returning it.
func Send(ctx context.Context, sink Sink, escrowId string, kind models.EventKind) {
	if sink == nil {
		return
	}
	if err := sink.Notify(ctx, escrowId, kind); err != nil {
		zap.L().Warn("Failed to deliver escrow event",
			zap.String("escrow_id", escrowId),
			zap.String("event", string(kind)),
			zap.Error(err))
	}
}
