package embed

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolink/burst/bucket"
	"github.com/toolink/burst/pubsub"
	"github.com/toolink/burst/sched"
)

// manualScheduler lets tests fire flush timers deterministically.
type manualScheduler struct {
	mu      sync.Mutex
	nextID  int
	pending map[sched.Handle]func()
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{pending: make(map[sched.Handle]func())}
}

func (s *manualScheduler) After(delay time.Duration, fn func()) (sched.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	h := sched.Handle(fmt.Sprintf("manual-%d", s.nextID))
	s.pending[h] = fn
	return h, nil
}

func (s *manualScheduler) Cancel(h sched.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, h)
}

func (s *manualScheduler) Close() error { return nil }

func (s *manualScheduler) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *manualScheduler) fire() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.pending))
	for h, fn := range s.pending {
		fns = append(fns, fn)
		delete(s.pending, h)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type guildFrame struct {
	mu      sync.Mutex
	batches []map[string]uint64
}

func (f *guildFrame) record(counts map[string]uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make(map[string]uint64, len(counts))
	for k, v := range counts {
		copied[k] = v
	}
	f.batches = append(f.batches, copied)
}

func newTestEmbedder(t *testing.T) (*Embedder, *bucket.Manager, *pubsub.MemorySource, *manualScheduler) {
	t.Helper()
	src := pubsub.NewMemorySource()
	sch := newManualScheduler()
	mgr, err := bucket.New(src, sch)
	require.NoError(t, err)
	e, err := NewEmbedder(mgr)
	require.NoError(t, err)
	return e, mgr, src, sch
}

func TestNewEmbedderRequiresManager(t *testing.T) {
	_, err := NewEmbedder(nil)
	assert.ErrorIs(t, err, bucket.ErrMissingDependency)
}

func TestEmbedGrantsOperations(t *testing.T) {
	ctx := context.Background()
	e, _, src, sch := newTestEmbedder(t)

	frame := &guildFrame{}
	binding, err := e.Embed(frame)
	require.NoError(t, err)
	assert.Same(t, frame, binding.Owner())

	h, err := binding.RegisterBucketForEvent(ctx, []string{"heal"}, time.Second, frame.record)
	require.NoError(t, err)
	require.NotEmpty(t, h)

	require.NoError(t, src.Publish(ctx, pubsub.KindEvent, "heal", "tank"))
	sch.fire()

	frame.mu.Lock()
	defer frame.mu.Unlock()
	require.Len(t, frame.batches, 1)
	assert.Equal(t, map[string]uint64{"tank": 1}, frame.batches[0])
}

func TestEmbedRejectsDuplicates(t *testing.T) {
	e, _, _, _ := newTestEmbedder(t)
	frame := &guildFrame{}

	_, err := e.Embed(frame)
	require.NoError(t, err)
	_, err = e.Embed(frame)
	assert.ErrorIs(t, err, ErrAlreadyEmbedded)

	_, err = e.Embed(nil)
	assert.ErrorIs(t, err, ErrNilTarget)
}

func TestDeactivateReleasesAllBuckets(t *testing.T) {
	ctx := context.Background()
	e, mgr, src, sch := newTestEmbedder(t)

	frame := &guildFrame{}
	binding, err := e.Embed(frame)
	require.NoError(t, err)

	_, err = binding.RegisterBucketForEvent(ctx, []string{"heal"}, time.Second, frame.record)
	require.NoError(t, err)
	_, err = binding.RegisterBucketForMessage(ctx, []string{"sync"}, time.Second, frame.record)
	require.NoError(t, err)
	require.NoError(t, src.Publish(ctx, pubsub.KindEvent, "heal", nil))
	require.Equal(t, 2, mgr.Active())
	require.Equal(t, 1, sch.pendingCount())

	require.NoError(t, e.Deactivate(ctx, frame))
	assert.Equal(t, 0, mgr.Active())
	assert.Equal(t, 0, sch.pendingCount(), "deactivation must cancel pending timers")

	_, ok := e.Binding(frame)
	assert.False(t, ok)

	// Deactivating again reports the target as not embedded.
	assert.ErrorIs(t, e.Deactivate(ctx, frame), ErrNotEmbedded)
}

func TestEmbedderClose(t *testing.T) {
	ctx := context.Background()
	e, mgr, _, _ := newTestEmbedder(t)

	frameA := &guildFrame{}
	frameB := &guildFrame{}
	bindA, err := e.Embed(frameA)
	require.NoError(t, err)
	_, err = e.Embed(frameB)
	require.NoError(t, err)

	_, err = bindA.RegisterBucketForEvent(ctx, []string{"heal"}, time.Second, frameA.record)
	require.NoError(t, err)

	require.NoError(t, e.Close(ctx))
	assert.Equal(t, 0, mgr.Active())
	_, ok := e.Binding(frameA)
	assert.False(t, ok)
	_, ok = e.Binding(frameB)
	assert.False(t, ok)
}
