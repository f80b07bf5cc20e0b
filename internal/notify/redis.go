package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"p2p-escrow-mediator/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "escrow-events"

// RedisSink publishes events on a pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Notify(ctx context.Context, escrowId string, kind models.EventKind) error {
	data, err := json.Marshal(NewEvent(escrowId, kind, time.Now()))
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel, string(data)).Err(); err != nil {
		return fmt.Errorf("publish %s for escrow %s: %w", kind, escrowId, err)
	}
	return nil
}

// Subscribe calls handler for every event on channel until ctx is done.
func Subscribe(ctx context.Context, client *redis.Client, channel string, handler func(Event)) error {
	if channel == "" {
		channel = DefaultChannel
	}
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					zap.L().Error("Failed to unmarshal event", zap.Error(err))
					continue
				}
				handler(event)
			}
		}
	}()

	return nil
}
