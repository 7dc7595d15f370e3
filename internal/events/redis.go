package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pdf-batch/backend/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Prefix   string
}

// RedisBus publishes events on one Redis channel per collection, so several
// service processes observe the same record writes. Filtering happens
// locally on each subscriber.
type RedisBus struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[*redisSub]struct{}
}

type redisSub struct {
	bus    *RedisBus
	pubsub *redis.PubSub
	once   sync.Once
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(cfg RedisConfig, logger zerolog.Logger) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisBusFromClient(client, cfg.Prefix, logger), nil
}

// NewRedisBusFromClient wraps an existing client.
func NewRedisBusFromClient(client *redis.Client, prefix string, logger zerolog.Logger) *RedisBus {
	if prefix == "" {
		prefix = "extractord:"
	}
	return &RedisBus{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "events.redis").Logger(),
		subs:   make(map[*redisSub]struct{}),
	}
}

// Channel returns the Redis channel used for a collection.
func (b *RedisBus) Channel(coll models.Collection) string {
	return b.prefix + string(coll)
}

// Publish sends ev to the collection channel.
func (b *RedisBus) Publish(ctx context.Context, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.Channel(ev.Collection), data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe waits for Redis to confirm the subscription before returning.
func (b *RedisBus) Subscribe(ctx context.Context, f Filter, handler Handler) (Subscription, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	pubsub := b.client.Subscribe(ctx, b.Channel(f.Collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	s := &redisSub{bus: b, pubsub: pubsub}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		for msg := range pubsub.Channel() {
			var ev models.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("discarding malformed event")
				continue
			}
			if f.Matches(ev) {
				handler(ev)
			}
		}
	}()

	return s, nil
}

// Close releases every subscription and the client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*redisSub]struct{})
	b.mu.Unlock()

	for s := range subs {
		s.close()
	}
	return b.client.Close()
}

func (s *redisSub) close() {
	s.once.Do(func() { _ = s.pubsub.Close() })
}

// Unsubscribe closes the underlying Redis subscription.
func (s *redisSub) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	s.close()
}
