package global

import (
	"sync/atomic"

	"github.com/toolink/burst/depreg"
)

func defaultDependencyRegistry() *atomic.Value {
	v := &atomic.Value{}
	v.Store(depreg.New())
	return v
}

var globalDependencyRegistry = defaultDependencyRegistry()

// SetDependencyRegistry sets the global dependency registry.
func SetDependencyRegistry(r *depreg.Registry) {
	globalDependencyRegistry.Store(r)
}

// GetDependencyRegistry returns the global dependency registry.
func GetDependencyRegistry() *depreg.Registry {
	return globalDependencyRegistry.Load().(*depreg.Registry)
}
