package sched

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAfterFiresOnce(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Close()

	fired := make(chan struct{}, 2)
	h, err := s.After(10*time.Millisecond, func() { fired <- struct{}{} })
	require.NoError(t, err)
	require.NotEqual(t, None, h)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	// One-shot: no second firing.
	select {
	case <-fired:
		t.Fatal("one-shot timer fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAfterValidation(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Close()

	_, err := s.After(time.Millisecond, nil)
	assert.ErrorIs(t, err, ErrNilCallback)

	_, err = s.After(0, func() {})
	assert.ErrorIs(t, err, ErrBadDelay)

	_, err = s.After(-time.Second, func() {})
	assert.ErrorIs(t, err, ErrBadDelay)
}

func TestCancelStopsPendingTimer(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Close()

	var mu sync.Mutex
	fired := false
	h, err := s.After(50*time.Millisecond, func() {
		mu.Lock()
		fired = true
		mu.Unlock()
	})
	require.NoError(t, err)

	s.Cancel(h)
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, fired, "cancelled timer must not fire")
}

func TestCancelIsIdempotent(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Close()

	h, err := s.After(time.Hour, func() {})
	require.NoError(t, err)

	s.Cancel(h)
	s.Cancel(h)               // second cancel is a no-op
	s.Cancel(Handle("bogus")) // unknown handle too
	s.Cancel(None)
}

func TestCloseCancelsEverything(t *testing.T) {
	s := NewTimerScheduler()

	var mu sync.Mutex
	fired := 0
	for i := 0; i < 5; i++ {
		_, err := s.After(50*time.Millisecond, func() {
			mu.Lock()
			fired++
			mu.Unlock()
		})
		require.NoError(t, err)
	}

	require.NoError(t, s.Close())
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	assert.Zero(t, fired)
	mu.Unlock()

	// Closed scheduler rejects new work but Close stays idempotent.
	_, err := s.After(time.Millisecond, func() {})
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, s.Close())
}
