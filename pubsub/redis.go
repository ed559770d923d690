package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	// Redis set of queue keys subscribed to a (kind, name) pair.
	redisSubSetPrefix = "burst:subs:"
	// Per-subscription Redis list the occurrences are queued on.
	redisQueuePrefix = "burst:queue:"

	defaultBlockTime = 5 * time.Second
)

// envelope is the JSON wire form of one occurrence.
type envelope struct {
	Arg any `json:"arg"`
}

type redisSub struct {
	id       string
	key      topicKey
	queueKey string
	handler  Handler
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// RedisSource implements Source across processes. Every subscription
// owns a Redis list; publishing fans the occurrence out by pushing to
// each queue listed in the topic's subscriber set, and a poller
// goroutine per subscription BRPOPs its queue and invokes the handler.
type RedisSource struct {
	rdb       redis.Cmdable
	blockTime time.Duration
	mu        sync.Mutex
	closed    bool
	subs      map[string]*redisSub
}

// RedisOption configures a RedisSource.
type RedisOption func(*RedisSource)

// WithBlockTime sets how long each BRPOP blocks waiting for an
// occurrence. Defaults to 5 seconds.
func WithBlockTime(d time.Duration) RedisOption {
	return func(r *RedisSource) {
		if d > 0 {
			r.blockTime = d
		}
	}
}

// NewRedisSource creates a Redis-backed occurrence source. It requires
// a redis.Cmdable (e.g. *redis.Client or *redis.ClusterClient).
func NewRedisSource(client redis.Cmdable, opts ...RedisOption) *RedisSource {
	if client == nil {
		panic("pubsub: redis client cannot be nil")
	}
	r := &RedisSource{
		rdb:       client,
		blockTime: defaultBlockTime,
		subs:      make(map[string]*redisSub),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func subSetKey(key topicKey) string {
	return fmt.Sprintf("%s%s:%s", redisSubSetPrefix, key.kind, key.name)
}

func queueKey(key topicKey, subID string) string {
	return fmt.Sprintf("%s%s:%s:%s", redisQueuePrefix, key.kind, key.name, subID)
}

// Subscribe registers handler for occurrences of name within kind and
// starts a poller goroutine on the subscription's queue.
func (r *RedisSource) Subscribe(ctx context.Context, kind Kind, name string, handler Handler) (string, error) {
	if name == "" {
		return "", ErrEmptyName
	}
	if handler == nil {
		return "", ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrClosed
	}

	sub := &redisSub{
		id:       uuid.NewString(),
		key:      topicKey{kind: kind, name: name},
		handler:  handler,
		stopChan: make(chan struct{}),
	}
	sub.queueKey = queueKey(sub.key, sub.id)

	if err := r.rdb.SAdd(ctx, subSetKey(sub.key), sub.queueKey).Err(); err != nil {
		return "", fmt.Errorf("failed to register subscriber queue: %w", err)
	}

	r.subs[sub.id] = sub
	sub.wg.Add(1)
	go r.poll(sub)

	log.Debug().Str("subscription_id", sub.id).Str("kind", kind.String()).Str("name", name).Str("queue_key", sub.queueKey).Msg("redis subscription created")
	return sub.id, nil
}

// poll runs the BRPOP loop for one subscription until it is stopped.
func (r *RedisSource) poll(sub *redisSub) {
	defer sub.wg.Done()

	l := log.With().Str("subscription_id", sub.id).Str("queue_key", sub.queueKey).Logger()
	l.Debug().Msg("queue poller started")

	for {
		select {
		case <-sub.stopChan:
			l.Debug().Msg("queue poller stopping")
			return
		default:
		}

		res, err := r.rdb.BRPop(context.Background(), r.blockTime, sub.queueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // block timeout, nothing queued
			}
			select {
			case <-sub.stopChan:
				return
			default:
			}
			l.Error().Err(err).Msg("BRPOP failed, backing off")
			time.Sleep(time.Second)
			continue
		}
		if len(res) != 2 {
			l.Error().Int("result_len", len(res)).Msg("unexpected BRPOP result shape")
			continue
		}

		var env envelope
		if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
			l.Error().Err(err).Msg("failed to decode occurrence envelope, dropping")
			continue
		}
		sub.handler(env.Arg)
	}
}

// Unsubscribe stops the subscription's poller, removes its queue from
// the topic's subscriber set and deletes the queue. Unknown IDs are a
// no-op.
func (r *RedisSource) Unsubscribe(ctx context.Context, id string) error {
	r.mu.Lock()
	sub, ok := r.subs[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.subs, id)
	r.mu.Unlock() // release before waiting on the poller

	return r.teardown(ctx, sub)
}

func (r *RedisSource) teardown(ctx context.Context, sub *redisSub) error {
	close(sub.stopChan)
	sub.wg.Wait()

	var errs []error
	if err := r.rdb.SRem(ctx, subSetKey(sub.key), sub.queueKey).Err(); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove subscriber queue from set: %w", err))
	}
	if err := r.rdb.Del(ctx, sub.queueKey).Err(); err != nil {
		errs = append(errs, fmt.Errorf("failed to delete subscriber queue: %w", err))
	}

	log.Debug().Str("subscription_id", sub.id).Str("queue_key", sub.queueKey).Msg("redis subscription removed")
	return errors.Join(errs...)
}

// Publish pushes one occurrence onto every queue registered in the
// topic's subscriber set.
func (r *RedisSource) Publish(ctx context.Context, kind Kind, name string, arg any) error {
	if name == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	payload, err := json.Marshal(envelope{Arg: arg})
	if err != nil {
		return fmt.Errorf("failed to marshal occurrence envelope: %w", err)
	}

	key := topicKey{kind: kind, name: name}
	queues, err := r.rdb.SMembers(ctx, subSetKey(key)).Result()
	if err != nil {
		return fmt.Errorf("failed to list subscriber queues: %w", err)
	}

	for _, q := range queues {
		if err := r.rdb.RPush(ctx, q, payload).Err(); err != nil {
			log.Error().Err(err).Str("queue_key", q).Str("kind", kind.String()).Str("name", name).Msg("failed to push occurrence to subscriber queue")
			return fmt.Errorf("failed to push occurrence to %s: %w", q, err)
		}
	}
	return nil
}

// Close stops all pollers and removes every subscription's queue.
func (r *RedisSource) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subsToStop := make([]*redisSub, 0, len(r.subs))
	for _, sub := range r.subs {
		subsToStop = append(subsToStop, sub)
	}
	r.subs = make(map[string]*redisSub)
	r.mu.Unlock()

	var errs []error
	for _, sub := range subsToStop {
		if err := r.teardown(context.Background(), sub); err != nil {
			errs = append(errs, err)
		}
	}

	log.Info().Int("subscription_count", len(subsToStop)).Msg("redis occurrence source closed")
	return errors.Join(errs...)
}

// Ensure RedisSource implements the Source interface.
var _ Source = (*RedisSource)(nil)
