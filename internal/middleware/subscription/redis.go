package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wudi/prefixgate/internal/logging"
)

// Message is the JSON payload carried on a subscription channel.
type Message struct {
	Action string `json:"action"`
	Key    string `json:"key"`
}

// ParseMessage decodes a channel payload into an Event.
func ParseMessage(payload []byte) (Event, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Event{}, fmt.Errorf("decoding subscription message: %w", err)
	}
	action, err := ParseAction(m.Action)
	if err != nil {
		return Event{}, err
	}
	if m.Key == "" {
		return Event{}, fmt.Errorf("subscription message without key")
	}
	return Event{Action: action, Key: m.Key}, nil
}

// EncodeMessage builds the channel payload for ev.
func EncodeMessage(ev Event) ([]byte, error) {
	return json.Marshal(Message{Action: ev.Action.String(), Key: ev.Key})
}

// RedisSource feeds a gate from a Redis pub/sub channel.
type RedisSource struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisSource creates a source listening on channel.
func NewRedisSource(client redis.UniversalClient, channel string) *RedisSource {
	return &RedisSource{client: client, channel: channel}
}

// Run subscribes to the channel and publishes each valid message until ctx
// is cancelled. Malformed messages are logged and skipped. Lost
// subscriptions are re-established with exponential backoff.
func (s *RedisSource) Run(ctx context.Context, pub Publisher) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // never give up

	for {
		err := s.listen(ctx, pub, bo.Reset)
		if ctx.Err() != nil {
			return nil
		}

		wait := bo.NextBackOff()
		logging.Warn("subscription channel lost, reconnecting",
			zap.String("channel", s.channel),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}

// listen runs one subscription. connected is called once Redis confirms it.
func (s *RedisSource) listen(ctx context.Context, pub Publisher, connected func()) error {
	ps := s.client.Subscribe(ctx, s.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", s.channel, err)
	}
	connected()

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("channel %s closed", s.channel)
			}
			ev, err := ParseMessage([]byte(msg.Payload))
			if err != nil {
				logging.Warn("ignoring subscription message",
					zap.String("channel", s.channel),
					zap.Error(err),
				)
				continue
			}
			if err := pub.Publish(ctx, ev); err != nil {
				return err
			}
		}
	}
}
