// Package bucket implements interval-bucketed event aggregation: a
// registered bucket counts occurrences per derived key and hands the
// accumulated counts to its callback once per interval, instead of
// invoking the consumer once per occurrence. A bucket that sees no
// occurrences for a full interval goes idle and costs nothing until
// the next occurrence arms it again.
package bucket

import (
	"fmt"
	"time"

	"github.com/toolink/burst/sched"
)

// Handle addresses one active registration. It is the only identity a
// bucket has outside the registry.
type Handle string

// Callback receives the counts accumulated during one interval, keyed
// by derived occurrence key. The map is a snapshot owned by the
// callback; the bucket's own table is already cleared for the next
// interval.
type Callback func(counts map[string]uint64)

// NoArgKey is the reserved key occurrences without a payload are
// counted under, so "occurred with no payload" stays distinguishable
// from "never occurred".
const NoArgKey = "<no-arg>"

// deriveKey maps an occurrence payload to a stable string key. Raw
// payload references are never used as keys, only identifiers derived
// at delivery time.
func deriveKey(arg any) string {
	switch v := arg.(type) {
	case nil:
		return NoArgKey
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Bucket is one aggregation unit. All fields are guarded by the
// owning Manager's mutex; a Bucket is never shared between two
// registrations at the same time.
//
// A bucket is idle when timer is sched.None and received is empty,
// active otherwise. gen increments every time the bucket is returned
// to the pool, which lets late timer firings and stray occurrence
// deliveries detect that the registration they belonged to is gone.
type Bucket struct {
	received map[string]uint64
	owner    any
	callback Callback
	interval time.Duration
	timer    sched.Handle
	gen      uint64
	subIDs   []string
	handle   Handle
}

func newBucket() *Bucket {
	return &Bucket{
		received: make(map[string]uint64),
	}
}

// count records one occurrence of the given payload.
func (b *Bucket) count(arg any) {
	b.received[deriveKey(arg)]++
}

// drain moves the accumulated counts into a fresh snapshot and clears
// the bucket's own table for the next interval.
func (b *Bucket) drain() map[string]uint64 {
	batch := make(map[string]uint64, len(b.received))
	for k, v := range b.received {
		batch[k] = v
		delete(b.received, k)
	}
	return batch
}

// reset clears every per-registration field so the bucket can be
// pooled and later reused. The caller must already have cancelled any
// pending timer.
func (b *Bucket) reset() {
	for k := range b.received {
		delete(b.received, k)
	}
	b.owner = nil
	b.callback = nil
	b.interval = 0
	b.timer = sched.None
	b.subIDs = b.subIDs[:0]
	b.handle = ""
	b.gen++
}
