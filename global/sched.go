package global

import (
	"sync/atomic"

	"github.com/toolink/burst/sched"
)

func defaultScheduler() *atomic.Value {
	v := &atomic.Value{}
	v.Store(sched.NewTimerScheduler())
	return v
}

var globalScheduler = defaultScheduler()

// SetScheduler sets the global timer scheduler.
func SetScheduler(s *sched.TimerScheduler) {
	globalScheduler.Store(s)
}

// GetScheduler retrieves the current global timer scheduler.
func GetScheduler() *sched.TimerScheduler {
	return globalScheduler.Load().(*sched.TimerScheduler)
}
