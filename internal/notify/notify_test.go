package notify

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"p2p-escrow-mediator/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []models.EventKind
	err    error
}

func (r *recordingSink) Notify(_ context.Context, _ string, kind models.EventKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind)
	return r.err
}

func TestMultiFansOutDespiteFailures(t *testing.T) {
	failing := &recordingSink{err: errors.New("chat down")}
	ok := &recordingSink{}

	err := Multi{failing, nil, LogSink{}, ok}.Notify(context.Background(), "esc-1", models.EventReleased)
	assert.ErrorContains(t, err, "chat down")
	assert.Equal(t, []models.EventKind{models.EventReleased}, failing.events)
	assert.Equal(t, []models.EventKind{models.EventReleased}, ok.events)
}

func TestSendSwallowsErrors(t *testing.T) {
	failing := &recordingSink{err: errors.New("chat down")}
	Send(context.Background(), failing, "esc-1", models.EventFunded)
	Send(context.Background(), nil, "esc-1", models.EventFunded)
	assert.Len(t, failing.events, 1)
}

func TestNewEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := NewEvent("esc-1", models.EventDisputed, at)
	assert.Equal(t, "disputed", e.Type)
	assert.Equal(t, "esc-1", e.EscrowId())
	assert.Equal(t, "2026-03-01T12:00:00Z", e.Payload["at"])
}

func TestRedisSink_RoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channel := "escrow-events-test"
	received := make(chan Event, 1)
	require.NoError(t, Subscribe(ctx, client, channel, func(e Event) { received <- e }))

	require.NoError(t, NewRedisSink(client, channel).Notify(ctx, "esc-1", models.EventFunded))

	select {
	case e := <-received:
		assert.Equal(t, "funded", e.Type)
		assert.Equal(t, "esc-1", e.EscrowId())
	case <-ctx.Done():
		t.Fatal("event not received")
	}
}
