package bucket

import (
	"github.com/rs/zerolog/log"
	"github.com/toolink/burst/sched"
)

// registry maps handles to live buckets and keeps a free list of
// retired ones so frequent register/unregister cycles do not churn
// allocations. It has no locking of its own; the Manager's mutex
// guards all access.
type registry struct {
	entries map[Handle]*Bucket
	free    []*Bucket
}

func newRegistry() *registry {
	return &registry{
		entries: make(map[Handle]*Bucket),
	}
}

// acquire returns a bucket ready for configuration, reusing a pooled
// one when available. A pooled bucket is guaranteed to have an empty
// count table and no pending timer.
func (r *registry) acquire() *Bucket {
	if n := len(r.free); n > 0 {
		b := r.free[n-1]
		r.free[n-1] = nil
		r.free = r.free[:n-1]
		if len(b.received) != 0 || b.timer != sched.None {
			// A dirty pooled bucket means a reset was skipped; refuse
			// to reuse it rather than leak counts across registrations.
			log.Error().Int("stale_keys", len(b.received)).Msg("discarding dirty pooled bucket")
			return newBucket()
		}
		return b
	}
	return newBucket()
}

// put records a live registration.
func (r *registry) put(h Handle, b *Bucket) {
	r.entries[h] = b
}

// get looks a live bucket up by handle.
func (r *registry) get(h Handle) (*Bucket, bool) {
	b, ok := r.entries[h]
	return b, ok
}

// remove drops the handle's entry without touching the bucket.
func (r *registry) remove(h Handle) {
	delete(r.entries, h)
}

// release resets the bucket and returns it to the free list. The
// caller must have removed its registry entry and cancelled its timer
// already.
func (r *registry) release(b *Bucket) {
	b.reset()
	r.free = append(r.free, b)
}

// byOwner collects the handles of every live bucket registered by
// owner.
func (r *registry) byOwner(owner any) []Handle {
	var handles []Handle
	for h, b := range r.entries {
		if b.owner == owner {
			handles = append(handles, h)
		}
	}
	return handles
}
