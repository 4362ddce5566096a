package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/zendure-tools/zendure-poller/internal/coordinator"
	"github.com/zendure-tools/zendure-poller/internal/logging"
)

const (
	// DefaultPrefix namespaces every key and channel
	DefaultPrefix = "zendure"

	// DefaultWriteTimeout bounds one Redis round trip from a listener
	DefaultWriteTimeout = 2 * time.Second
)

// Message is the JSON document stored and published per snapshot
type Message struct {
	ID                  string `json:"id"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	coordinator.Snapshot
}

// NewMessage builds the message for one device snapshot
func NewMessage(id string, failures int, s coordinator.Snapshot) Message {
	return Message{ID: id, ConsecutiveFailures: failures, Snapshot: s}
}

// redisWriter is the part of redis.UniversalClient the publisher uses
type redisWriter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// NewRedisClient connects to a redis:// or rediss:// URL
func NewRedisClient(url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// RedisPublisher mirrors the latest snapshot of each device into Redis.
//
// The snapshot is stored under "<prefix>:<id>" with a TTL, so a key that
// stops being refreshed expires, and is also published on
// "<prefix>:<id>:updates".
type RedisPublisher struct {
	client  redisWriter
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

// NewRedisPublisher creates a publisher. A zero ttl keeps keys forever.
func NewRedisPublisher(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisPublisher {
	return newRedisPublisher(client, prefix, ttl)
}

func newRedisPublisher(client redisWriter, prefix string, ttl time.Duration) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisPublisher{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		timeout: DefaultWriteTimeout,
	}
}

// Key returns the key holding the latest snapshot of id
func (p *RedisPublisher) Key(id string) string {
	return p.prefix + ":" + id
}

// Channel returns the channel snapshots of id are published on
func (p *RedisPublisher) Channel(id string) string {
	return p.Key(id) + ":updates"
}

// Publish stores and publishes one snapshot
func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("can't marshal snapshot of %s: %w", msg.ID, err)
	}

	if err := p.client.Set(ctx, p.Key(msg.ID), payload, p.ttl).Err(); err != nil {
		return fmt.Errorf("can't write snapshot of %s to redis (key='%s'): %w", msg.ID, p.Key(msg.ID), err)
	}
	if err := p.client.Publish(ctx, p.Channel(msg.ID), payload).Err(); err != nil {
		return fmt.Errorf("can't publish snapshot of %s (channel='%s'): %w", msg.ID, p.Channel(msg.ID), err)
	}
	return nil
}

// Listener returns a coordinator listener publishing every snapshot of c
// under id. Redis errors are logged and never reach the coordinator.
func (p *RedisPublisher) Listener(id string, c *coordinator.Coordinator) coordinator.Listener {
	return coordinator.ListenerFunc(func(s coordinator.Snapshot) {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if err := p.Publish(ctx, NewMessage(id, c.ConsecutiveFailures(), s)); err != nil {
			logging.Warn("Redis publish failed", zap.String("id", id), zap.Error(err))
		}
	})
}
