package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/autopeer-io/spotpeer/internal/spotpeer/connection"
	"github.com/autopeer-io/spotpeer/pkg/log"
)

// RedisConfig configures RedisDialer.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces the pub/sub channels: {prefix}:{kind}.
	Prefix string
}

// RedisDialer dials Redis pub/sub sessions subscribed to every inbound kind.
type RedisDialer struct {
	cfg    RedisConfig
	logger log.Logger
}

var _ connection.Dialer = (*RedisDialer)(nil)

// NewRedisDialer returns a dialer for cfg.
func NewRedisDialer(cfg RedisConfig, logger log.Logger) *RedisDialer {
	if cfg.Prefix == "" {
		cfg.Prefix = "spotpeer"
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &RedisDialer{cfg: cfg, logger: logger.WithName("redis-channel")}
}

func (d *RedisDialer) channel(kind string) string { return d.cfg.Prefix + ":" + kind }

// Dial implements connection.Dialer.
func (d *RedisDialer) Dial(ctx context.Context, onMessage func(connection.Message)) (connection.Session, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       d.cfg.Addr,
		Password:   d.cfg.Password,
		DB:         d.cfg.DB,
		MaxRetries: -1,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", d.cfg.Addr, err)
	}

	channels := make([]string, 0, len(kindSuffixes))
	for kind := range kindSuffixes {
		channels = append(channels, d.channel(kind))
	}
	pubsub := client.Subscribe(ctx, channels...)
	// The first reply confirms the subscription.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("subscribe redis channels: %w", err)
	}

	s := &redisSession{
		dialer: d,
		client: client,
		pubsub: pubsub,
		done:   make(chan struct{}),
	}
	go s.receive(onMessage)

	d.logger.Info("Redis session established", "addr", d.cfg.Addr, "channels", channels)
	return s, nil
}

type redisSession struct {
	dialer *RedisDialer
	client *redis.Client
	pubsub *redis.PubSub

	mu      sync.Mutex
	err     error
	closing bool
	done    chan struct{}
	once    sync.Once
}

// receive ends the session on the first receive error instead of letting the
// client reconnect behind the connection manager's back.
func (s *redisSession) receive(onMessage func(connection.Message)) {
	prefix := s.dialer.cfg.Prefix + ":"
	for {
		msg, err := s.pubsub.ReceiveMessage(context.Background())
		if err != nil {
			s.finish(err)
			return
		}
		kind, ok := strings.CutPrefix(msg.Channel, prefix)
		if !ok {
			continue
		}
		onMessage(connection.Message{Kind: kind, Payload: []byte(msg.Payload)})
	}
}

func (s *redisSession) finish(reason error) {
	s.mu.Lock()
	if !s.closing && s.err == nil {
		s.err = reason
	}
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

func (s *redisSession) Publish(ctx context.Context, kind string, payload []byte) error {
	return s.client.Publish(ctx, s.dialer.channel(kind), payload).Err()
}

func (s *redisSession) Done() <-chan struct{} { return s.done }

func (s *redisSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *redisSession) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.err = nil
	s.mu.Unlock()

	err := errors.Join(s.pubsub.Close(), s.client.Close())
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return err
}
