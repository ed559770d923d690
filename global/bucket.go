package global

import (
	"sync/atomic"

	"github.com/toolink/burst/bucket"
)

func defaultManager() *atomic.Value {
	v := &atomic.Value{}
	// The default manager rides on the default broker and scheduler.
	// Panic on error: both defaults are always non-nil.
	mgr, err := bucket.New(GetBroker(), GetScheduler())
	if err != nil {
		panic("failed to initialize default global bucket manager: " + err.Error())
	}
	v.Store(mgr)
	return v
}

var globalManager = defaultManager()

// SetManager sets the global bucket manager.
func SetManager(m *bucket.Manager) {
	globalManager.Store(m)
}

// GetManager retrieves the current global bucket manager.
func GetManager() *bucket.Manager {
	return globalManager.Load().(*bucket.Manager)
}
