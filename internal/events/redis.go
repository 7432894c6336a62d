package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultRedisPrefix = "smartqueue:"

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher forwards events to Redis pub/sub so every API instance can
// relay them to its own realtime clients.
type RedisPublisher struct {
	client redisPublisher
	prefix string
}

func NewRedisPublisher(client redisPublisher, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.prefix+event.Channel, body).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", event.Name, err)
	}
	return nil
}

// RedisRelay subscribes to every prefixed channel and republishes decoded
// events to a local emitter, usually the realtime hub.
type RedisRelay struct {
	client *redis.Client
	prefix string
	target Emitter
	log    zerolog.Logger
}

func NewRedisRelay(client *redis.Client, prefix string, target Emitter, log zerolog.Logger) *RedisRelay {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisRelay{client: client, prefix: prefix, target: target, log: log}
}

func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			event, err := DecodeMessage(r.prefix, msg.Channel, msg.Payload)
			if err != nil {
				r.log.Warn().Err(err).Str("channel", msg.Channel).Msg("drop malformed event")
				continue
			}
			if err := r.target.Publish(ctx, event); err != nil {
				r.log.Warn().Err(err).Str("event", event.Name).Msg("relay publish failed")
			}
		}
	}
}

// DecodeMessage parses a relayed payload. The Redis channel wins over the
// channel recorded in the payload.
func DecodeMessage(prefix, channel, payload string) (Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if trimmed := strings.TrimPrefix(channel, prefix); trimmed != channel && trimmed != "" {
		event.Channel = trimmed
	}
	if event.Name == "" || event.Channel == "" {
		return Event{}, fmt.Errorf("decode event: missing name or channel")
	}
	return event, nil
}
