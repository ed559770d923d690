// Package embed grants consumer objects the bucket operations as if
// they were their own. Instead of copying methods onto the target, a
// Binding composes the manager with one owner; the Embedder tracks
// bindings and releases all of an owner's buckets when the owner is
// deactivated.
package embed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/toolink/burst/bucket"
)

var (
	ErrNilTarget       = errors.New("embed: target cannot be nil")
	ErrAlreadyEmbedded = errors.New("embed: target is already embedded")
	ErrNotEmbedded     = errors.New("embed: target is not embedded")
)

// Binding exposes the four bucket operations bound to a single owner.
type Binding struct {
	mgr   *bucket.Manager
	owner any
}

// Owner returns the consumer this binding acts for.
func (b *Binding) Owner() any {
	return b.owner
}

// RegisterBucketForEvent registers an event bucket owned by this
// binding's target.
func (b *Binding) RegisterBucketForEvent(ctx context.Context, names []string, interval time.Duration, callback any) (bucket.Handle, error) {
	return b.mgr.RegisterForEvent(ctx, b.owner, names, interval, callback)
}

// RegisterBucketForMessage registers a message bucket owned by this
// binding's target.
func (b *Binding) RegisterBucketForMessage(ctx context.Context, names []string, interval time.Duration, callback any) (bucket.Handle, error) {
	return b.mgr.RegisterForMessage(ctx, b.owner, names, interval, callback)
}

// UnregisterBucket releases one bucket. Unknown handles are a no-op.
func (b *Binding) UnregisterBucket(ctx context.Context, h bucket.Handle) error {
	return b.mgr.Unregister(ctx, h)
}

// UnregisterAllBuckets releases every bucket owned by this binding's
// target.
func (b *Binding) UnregisterAllBuckets(ctx context.Context) error {
	return b.mgr.UnregisterAll(ctx, b.owner)
}

// Embedder hands out bindings and acts as the deactivation hook: when
// a target is deactivated, all of its buckets are unregistered so no
// orphaned subscriptions or timers survive it.
type Embedder struct {
	mgr      *bucket.Manager
	mu       sync.Mutex
	bindings map[any]*Binding
}

// NewEmbedder creates an Embedder delegating to mgr.
func NewEmbedder(mgr *bucket.Manager) (*Embedder, error) {
	if mgr == nil {
		return nil, fmt.Errorf("%w: bucket manager", bucket.ErrMissingDependency)
	}
	return &Embedder{
		mgr:      mgr,
		bindings: make(map[any]*Binding),
	}, nil
}

// Embed grants target the bucket operations and records it as
// embedded. Embedding the same target twice is an error.
func (e *Embedder) Embed(target any) (*Binding, error) {
	if target == nil {
		return nil, ErrNilTarget
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.bindings[target]; exists {
		return nil, fmt.Errorf("%w: %T", ErrAlreadyEmbedded, target)
	}
	b := &Binding{mgr: e.mgr, owner: target}
	e.bindings[target] = b

	log.Debug().Str("target", fmt.Sprintf("%T", target)).Msg("target embedded")
	return b, nil
}

// Binding returns the live binding for target, if any.
func (e *Embedder) Binding(target any) (*Binding, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.bindings[target]
	return b, ok
}

// Deactivate is the host's disable hook: it unregisters every bucket
// owned by target and forgets the binding. Deactivating a target that
// was never embedded returns ErrNotEmbedded.
func (e *Embedder) Deactivate(ctx context.Context, target any) error {
	e.mu.Lock()
	_, ok := e.bindings[target]
	if ok {
		delete(e.bindings, target)
	}
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %T", ErrNotEmbedded, target)
	}

	log.Debug().Str("target", fmt.Sprintf("%T", target)).Msg("target deactivated, releasing its buckets")
	return e.mgr.UnregisterAll(ctx, target)
}

// Close deactivates every embedded target, collecting any errors.
func (e *Embedder) Close(ctx context.Context) error {
	e.mu.Lock()
	targets := make([]any, 0, len(e.bindings))
	for target := range e.bindings {
		targets = append(targets, target)
	}
	e.bindings = make(map[any]*Binding)
	e.mu.Unlock()

	var errs []error
	for _, target := range targets {
		if err := e.mgr.UnregisterAll(ctx, target); err != nil {
			errs = append(errs, fmt.Errorf("embed: failed to release buckets for %T: %w", target, err))
		}
	}
	return errors.Join(errs...)
}
