// Package sched provides the one-shot timer service buckets use to
// schedule their flushes. Scheduling is fire-once: re-arming after a
// callback is the caller's responsibility.
package sched

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed      = errors.New("sched: scheduler is closed")
	ErrNilCallback = errors.New("sched: callback cannot be nil")
	ErrBadDelay    = errors.New("sched: delay must be positive")
)

// Handle identifies one pending timer. The zero value means "no timer".
type Handle string

// None is the absent Handle.
const None Handle = ""

// Scheduler hands out cancellable one-shot timers.
type Scheduler interface {
	// After arranges for fn to run once after delay and returns a
	// handle the pending timer can be cancelled with. fn runs on its
	// own goroutine.
	After(delay time.Duration, fn func()) (Handle, error)

	// Cancel stops the pending timer. Cancelling a handle whose timer
	// already fired or was already cancelled is a no-op.
	Cancel(h Handle)

	// Close cancels every pending timer and rejects further After
	// calls.
	Close() error
}

// TimerScheduler implements Scheduler on top of time.AfterFunc with a
// handle-keyed table of pending timers.
type TimerScheduler struct {
	mu     sync.Mutex
	closed bool
	timers map[Handle]*time.Timer
}

// NewTimerScheduler creates a ready-to-use TimerScheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{
		timers: make(map[Handle]*time.Timer),
	}
}

// After implements Scheduler.
func (s *TimerScheduler) After(delay time.Duration, fn func()) (Handle, error) {
	if fn == nil {
		return None, ErrNilCallback
	}
	if delay <= 0 {
		return None, ErrBadDelay
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return None, ErrClosed
	}

	h := Handle(uuid.NewString())
	s.timers[h] = time.AfterFunc(delay, func() {
		// Drop the table entry before running fn so Cancel on a fired
		// handle is a no-op rather than stopping a future reuse.
		s.mu.Lock()
		_, live := s.timers[h]
		delete(s.timers, h)
		s.mu.Unlock()
		if !live {
			return // cancelled between firing and acquiring the lock
		}
		fn()
	})

	log.Debug().Str("timer_handle", string(h)).Dur("delay", delay).Msg("one-shot timer scheduled")
	return h, nil
}

// Cancel implements Scheduler.
func (s *TimerScheduler) Cancel(h Handle) {
	if h == None {
		return
	}

	s.mu.Lock()
	t, ok := s.timers[h]
	if ok {
		delete(s.timers, h)
	}
	s.mu.Unlock()

	if !ok {
		return // already fired or cancelled
	}
	t.Stop()
	log.Debug().Str("timer_handle", string(h)).Msg("pending timer cancelled")
}

// Close implements Scheduler.
func (s *TimerScheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	for h, t := range s.timers {
		t.Stop()
		delete(s.timers, h)
	}

	log.Info().Msg("timer scheduler closed")
	return nil
}

// Ensure TimerScheduler implements the Scheduler interface.
var _ Scheduler = (*TimerScheduler)(nil)
