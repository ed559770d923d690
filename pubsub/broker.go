package pubsub

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Broker wraps a Source implementation and allows switching between
// backends (memory, redis) without the rest of the library caring
// which one is behind it.
type Broker struct {
	impl Source
	mu   sync.RWMutex // protects impl across Close
}

// BrokerOption configures the Broker.
type BrokerOption func(*brokerOptions)

type brokerOptions struct {
	redisClient redis.Cmdable
	redisOpts   []RedisOption
}

// WithRedisClient selects the Redis backend using the given client.
func WithRedisClient(client redis.Cmdable, opts ...RedisOption) BrokerOption {
	return func(o *brokerOptions) {
		o.redisClient = client
		o.redisOpts = opts
	}
}

// New creates a Broker. The memory backend is the default; pass
// WithRedisClient to fan occurrences out through Redis instead.
func New(opts ...BrokerOption) (*Broker, error) {
	options := &brokerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	var src Source
	if options.redisClient != nil {
		log.Info().Msg("initializing broker with redis occurrence source")
		src = NewRedisSource(options.redisClient, options.redisOpts...)
	} else {
		log.Info().Msg("initializing broker with memory occurrence source")
		src = NewMemorySource()
	}

	return &Broker{impl: src}, nil
}

// Subscribe delegates to the underlying Source.
func (b *Broker) Subscribe(ctx context.Context, kind Kind, name string, handler Handler) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.impl == nil {
		return "", errors.New("pubsub: broker not initialized")
	}
	return b.impl.Subscribe(ctx, kind, name, handler)
}

// Unsubscribe delegates to the underlying Source.
func (b *Broker) Unsubscribe(ctx context.Context, id string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.impl == nil {
		return errors.New("pubsub: broker not initialized")
	}
	return b.impl.Unsubscribe(ctx, id)
}

// Publish delegates to the underlying Source.
func (b *Broker) Publish(ctx context.Context, kind Kind, name string, arg any) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.impl == nil {
		return errors.New("pubsub: broker not initialized")
	}
	return b.impl.Publish(ctx, kind, name, arg)
}

// Close closes the underlying Source.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.impl == nil {
		return nil // already closed or never initialized
	}
	err := b.impl.Close()
	b.impl = nil
	return err
}

// Ensure Broker itself satisfies the Source interface.
var _ Source = (*Broker)(nil)
