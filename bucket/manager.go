package bucket

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/toolink/burst/depreg"
	"github.com/toolink/burst/pubsub"
	"github.com/toolink/burst/sched"
)

var (
	ErrMissingDependency = errors.New("bucket: required dependency unavailable")
	ErrNilOwner          = errors.New("bucket: owner cannot be nil")
	ErrNoNames           = errors.New("bucket: at least one event or message name is required")
	ErrEmptyName         = errors.New("bucket: occurrence name cannot be empty")
	ErrBadInterval       = errors.New("bucket: interval must be a positive duration")
	ErrMissingCallback   = errors.New("bucket: callback is required when registering multiple names")
	ErrBadCallback       = errors.New("bucket: callback must be a func(map[string]uint64) or a method name string")
	ErrUnknownMethod     = errors.New("bucket: owner has no matching method")
)

// Manager is the registration façade. It owns the registry, wires
// buckets to the occurrence source and the timer scheduler, and runs
// the accumulate/flush protocol.
//
// All bucket state is guarded by the manager mutex; occurrence
// handlers and timer firings serialize through it, so an occurrence
// delivered between two flushes is always counted by exactly one of
// them. Consumer callbacks run outside the lock and may re-enter
// registration operations.
type Manager struct {
	src  pubsub.Source
	sch  sched.Scheduler
	disp *Dispatcher

	mu  sync.Mutex
	reg *registry
}

// Option configures a Manager.
type Option func(*Manager)

// WithSink routes callback-failure reports to sink instead of the
// default zerolog sink.
func WithSink(s Sink) Option {
	return func(m *Manager) {
		m.disp = NewDispatcher(s)
	}
}

// New creates a Manager on top of the given occurrence source and
// timer scheduler. Both are required; a missing collaborator is a
// fatal construction error, named in the returned error.
func New(src pubsub.Source, sch sched.Scheduler, opts ...Option) (*Manager, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: occurrence source", ErrMissingDependency)
	}
	if sch == nil {
		return nil, fmt.Errorf("%w: timer scheduler", ErrMissingDependency)
	}

	m := &Manager{
		src:  src,
		sch:  sch,
		disp: NewDispatcher(nil),
		reg:  newRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// FromRegistry builds a Manager from collaborators registered in a
// dependency registry. Missing collaborators surface as
// ErrMissingDependency naming what could not be resolved.
func FromRegistry(reg *depreg.Registry, opts ...Option) (*Manager, error) {
	var src pubsub.Source
	if err := reg.Get(&src); err != nil {
		return nil, fmt.Errorf("%w: occurrence source: %w", ErrMissingDependency, err)
	}
	var sch sched.Scheduler
	if err := reg.Get(&sch); err != nil {
		return nil, fmt.Errorf("%w: timer scheduler: %w", ErrMissingDependency, err)
	}
	return New(src, sch, opts...)
}

// RegisterForEvent creates a bucket counting occurrences of the named
// events on behalf of owner and returns its handle.
//
// callback may be a func(map[string]uint64), a Callback, or the name
// of such a method on owner. When exactly one name is given and
// callback is nil, the name itself is used as the method name. The
// method is resolved once, here, never during flush.
func (m *Manager) RegisterForEvent(ctx context.Context, owner any, names []string, interval time.Duration, callback any) (Handle, error) {
	return m.register(ctx, pubsub.KindEvent, owner, names, interval, callback)
}

// RegisterForMessage is RegisterForEvent for the message namespace.
func (m *Manager) RegisterForMessage(ctx context.Context, owner any, names []string, interval time.Duration, callback any) (Handle, error) {
	return m.register(ctx, pubsub.KindMessage, owner, names, interval, callback)
}

func (m *Manager) register(ctx context.Context, kind pubsub.Kind, owner any, names []string, interval time.Duration, callback any) (Handle, error) {
	if owner == nil {
		return "", ErrNilOwner
	}
	if len(names) == 0 {
		return "", ErrNoNames
	}
	for _, name := range names {
		if name == "" {
			return "", ErrEmptyName
		}
	}
	if interval <= 0 {
		return "", fmt.Errorf("%w: got %v", ErrBadInterval, interval)
	}
	cb, err := resolveCallback(owner, names, callback)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	b := m.reg.acquire()
	b.owner = owner
	b.callback = cb
	b.interval = interval
	b.handle = Handle(uuid.NewString())
	gen := b.gen
	m.mu.Unlock()

	// Subscriptions are made outside the lock; the redis source does
	// network I/O here. Occurrences arriving mid-loop already count:
	// the bucket is fully configured.
	subIDs := make([]string, 0, len(names))
	handler := func(arg any) { m.onOccurrence(b, gen, arg) }
	for _, name := range names {
		id, err := m.src.Subscribe(ctx, kind, name, handler)
		if err != nil {
			m.rollback(ctx, b, subIDs)
			return "", fmt.Errorf("bucket: failed to subscribe to %s %q: %w", kind, name, err)
		}
		subIDs = append(subIDs, id)
	}

	m.mu.Lock()
	b.subIDs = append(b.subIDs, subIDs...)
	m.reg.put(b.handle, b)
	handle := b.handle
	m.mu.Unlock()

	log.Debug().Str("handle", string(handle)).Str("kind", kind.String()).Strs("names", names).Dur("interval", interval).Msg("bucket registered")
	return handle, nil
}

// rollback undoes a partially subscribed registration so no trace of
// it survives the error.
func (m *Manager) rollback(ctx context.Context, b *Bucket, subIDs []string) {
	for _, id := range subIDs {
		if err := m.src.Unsubscribe(ctx, id); err != nil {
			log.Error().Err(err).Str("subscription_id", id).Msg("failed to roll back subscription")
		}
	}
	m.mu.Lock()
	m.sch.Cancel(b.timer)
	m.reg.release(b)
	m.mu.Unlock()
}

// resolveCallback turns the caller-supplied callback argument into a
// typed Callback, resolving method names against owner via reflection
// exactly once.
func resolveCallback(owner any, names []string, callback any) (Callback, error) {
	if callback == nil {
		if len(names) != 1 {
			return nil, ErrMissingCallback
		}
		callback = names[0]
	}

	switch cb := callback.(type) {
	case Callback:
		if cb == nil {
			return nil, ErrBadCallback
		}
		return cb, nil
	case func(map[string]uint64):
		if cb == nil {
			return nil, ErrBadCallback
		}
		return cb, nil
	case string:
		method := reflect.ValueOf(owner).MethodByName(cb)
		if !method.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, cb)
		}
		fn, ok := method.Interface().(func(map[string]uint64))
		if !ok {
			return nil, fmt.Errorf("%w: %q must have signature func(map[string]uint64)", ErrUnknownMethod, cb)
		}
		return fn, nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrBadCallback, callback)
	}
}

// onOccurrence is the bucket's occurrence handler: count the payload's
// key and, if the bucket was idle, arm the flush timer.
func (m *Manager) onOccurrence(b *Bucket, gen uint64, arg any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b.gen != gen {
		return // registration this subscription belonged to is gone
	}

	b.count(arg)

	if b.timer == sched.None {
		h, err := m.sch.After(b.interval, func() { m.flush(b, gen) })
		if err != nil {
			log.Error().Err(err).Str("handle", string(b.handle)).Msg("failed to arm flush timer, bucket stays idle")
			return
		}
		b.timer = h
		log.Debug().Str("handle", string(b.handle)).Dur("interval", b.interval).Msg("bucket armed")
	}
}

// flush runs once per timer firing. An empty table means a full quiet
// interval passed, so the bucket goes idle; otherwise the counts are
// delivered through the dispatcher and the timer is re-armed
// regardless of how the callback fares.
func (m *Manager) flush(b *Bucket, gen uint64) {
	m.mu.Lock()

	if b.gen != gen {
		m.mu.Unlock()
		return // fired against a released (possibly reused) bucket
	}

	if len(b.received) == 0 {
		b.timer = sched.None
		m.mu.Unlock()
		log.Debug().Str("handle", string(b.handle)).Msg("quiet interval, bucket idle")
		return
	}

	batch := b.drain()
	cb := b.callback
	h, err := m.sch.After(b.interval, func() { m.flush(b, gen) })
	if err != nil {
		b.timer = sched.None
		log.Error().Err(err).Str("handle", string(b.handle)).Msg("failed to re-arm flush timer, bucket goes idle")
	} else {
		b.timer = h
	}
	m.mu.Unlock()

	m.disp.Invoke(cb, batch)
}

// Unregister tears the handle's bucket down: unsubscribes it from the
// source, cancels any pending timer, clears its counts and returns it
// to the pool. Unregistering an unknown or already-unregistered handle
// is a no-op.
func (m *Manager) Unregister(ctx context.Context, h Handle) error {
	m.mu.Lock()
	b, ok := m.reg.get(h)
	if !ok {
		m.mu.Unlock()
		return nil // idempotent
	}
	subIDs := append([]string(nil), b.subIDs...)
	m.sch.Cancel(b.timer)
	m.reg.remove(h)
	m.reg.release(b)
	m.mu.Unlock()

	// Outside the lock: the redis source waits for its poller here,
	// and that poller may be blocked delivering into onOccurrence.
	var errs []error
	for _, id := range subIDs {
		if err := m.src.Unsubscribe(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}

	log.Debug().Str("handle", string(h)).Msg("bucket unregistered")
	return errors.Join(errs...)
}

// UnregisterAll unregisters every bucket owned by owner, in no
// particular order.
func (m *Manager) UnregisterAll(ctx context.Context, owner any) error {
	if owner == nil {
		return nil
	}

	m.mu.Lock()
	handles := m.reg.byOwner(owner)
	m.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := m.Unregister(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}

	if len(handles) > 0 {
		log.Debug().Int("count", len(handles)).Msg("unregistered all buckets for owner")
	}
	return errors.Join(errs...)
}

// Active reports how many registrations are currently live. Intended
// for diagnostics and tests.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reg.entries)
}
