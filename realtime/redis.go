package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker fans messages out across API instances with Redis PUBLISH /
// SUBSCRIBE. Messages published while nobody is subscribed are lost, which
// matches the refetch contract: a reconnecting client refetches anyway.
type RedisBroker struct {
	client *redis.Client
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	subs   map[*redisSubscription]struct{}
	closed bool
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisBroker connects to Redis and pings it before returning.
func NewRedisBroker(ctx context.Context, opts RedisOptions, logger *slog.Logger) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("realtime: ping redis at %s: %w", opts.Addr, err)
	}
	return newRedisBroker(client, logger), nil
}

func newRedisBroker(client *redis.Client, logger *slog.Logger) *RedisBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBroker{
		client: client,
		logger: logger,
		now:    time.Now,
		subs:   make(map[*redisSubscription]struct{}),
	}
}

func (b *RedisBroker) Publish(ctx context.Context, channel, event string, payload any) error {
	msg, err := newMessage(channel, event, payload, b.now())
	if err != nil {
		return err
	}
	data, err := encodeWire(msg)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("realtime: redis publish %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel, event string, h Handler) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.mu.Unlock()

	pubsub := b.client.Subscribe(ctx, channel)
	// Wait for the subscription to be confirmed so that nothing published
	// after Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("realtime: redis subscribe %s: %w", channel, err)
	}

	sub := &redisSubscription{broker: b, pubsub: pubsub, done: make(chan struct{})}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer close(sub.done)
		for raw := range pubsub.Channel() {
			msg, err := decodeWire(raw.Channel, []byte(raw.Payload))
			if err != nil {
				b.logger.Warn("dropping malformed realtime message", slog.String("channel", raw.Channel), slog.Any("error", err))
				continue
			}
			if matches(event, msg) {
				h(msg)
			}
		}
	}()
	return sub, nil
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := make([]*redisSubscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	return b.client.Close()
}

type redisSubscription struct {
	broker *RedisBroker
	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *redisSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.err = s.pubsub.Close()
		<-s.done
		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()
	})
	return s.err
}
