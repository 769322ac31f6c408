package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

type RedisNotifier struct {
	client  *redis.Client
	channel string
	origin  string
}

func NewRedisNotifier(client *redis.Client, channel, origin string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel, origin: origin}
}

// Notify publishes the subscription id covering recordType on the push channel.
func (n *RedisNotifier) Notify(ctx context.Context, recordType string) error {
	id, ok := SubscriptionFor(recordType)
	if !ok {
		return fmt.Errorf("no subscription for record type %q", recordType)
	}
	data, err := json.Marshal(Payload{SubscriptionID: id, Origin: n.origin})
	if err != nil {
		return fmt.Errorf("failed to encode push payload: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish push notification: %w", err)
	}
	return nil
}

type RedisListener struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *slog.Logger
}

func NewRedisListener(client *redis.Client, channel, origin string, logger *slog.Logger) *RedisListener {
	return &RedisListener{client: client, channel: channel, origin: origin, logger: logger}
}

// Run delivers every payload published by other instances to handle until ctx
// is cancelled. Payloads from this instance and undecodable ones are skipped.
func (l *RedisListener) Run(ctx context.Context, handle func(Payload)) error {
	sub := l.client.Subscribe(ctx, l.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe to %s: %w", l.channel, err)
	}
	l.logger.Info("listening for push notifications", "channel", l.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			p, err := DecodePayload([]byte(msg.Payload))
			if err != nil {
				l.logger.Warn("ignoring push notification", "error", err)
				continue
			}
			if l.origin != "" && p.Origin == l.origin {
				continue
			}
			handle(p)
		}
	}
}
