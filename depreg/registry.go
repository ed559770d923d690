// Package depreg provides a small type-keyed dependency registry used
// to hand the library its collaborators (occurrence source, timer
// scheduler, error sink) without resorting to package-level state.
package depreg

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	ErrNotFound      = errors.New("depreg: dependency not found")
	ErrInvalidTarget = errors.New("depreg: target must be a non-nil pointer")
	ErrAmbiguous     = errors.New("depreg: multiple registered types implement the requested interface")
)

// Registry stores dependencies keyed by their concrete type.
type Registry struct {
	mu    sync.RWMutex
	store map[reflect.Type]reflect.Value
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		store: make(map[reflect.Type]reflect.Value),
	}
}

// Set registers one or more dependencies under their concrete types.
// Registering a type twice overwrites the earlier value with a
// warning; nil values are ignored.
func (r *Registry) Set(deps ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, dep := range deps {
		if dep == nil {
			log.Warn().Msg("ignoring nil dependency passed to Set")
			continue
		}
		rv := reflect.ValueOf(dep)
		rt := rv.Type()
		if _, exists := r.store[rt]; exists {
			log.Warn().Str("type", rt.String()).Msg("overwriting existing dependency registration")
		}
		r.store[rt] = rv
		log.Debug().Str("type", rt.String()).Msg("dependency registered")
	}
}

// Get resolves dependencies into the given targets, which must be
// non-nil pointers (e.g. &myVar). An exact type match wins; when the
// target is an interface with no exact match, a uniquely matching
// registered implementation is used instead.
func (r *Registry) Get(targets ...any) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, target := range targets {
		tv := reflect.ValueOf(target)
		if tv.Kind() != reflect.Ptr || tv.IsNil() {
			return fmt.Errorf("%w: received %T", ErrInvalidTarget, target)
		}
		elem := tv.Elem()

		found, err := r.lookup(elem.Type())
		if err != nil {
			return err
		}
		elem.Set(found)
	}
	return nil
}

// MustGet is Get but panics on failure. Intended for essential
// dependencies during startup.
func (r *Registry) MustGet(targets ...any) {
	if err := r.Get(targets...); err != nil {
		log.Panic().Err(err).Msg("failed to resolve required dependencies")
	}
}

// lookup finds a stored value assignable to want. Caller holds the
// read lock.
func (r *Registry) lookup(want reflect.Type) (reflect.Value, error) {
	if v, ok := r.store[want]; ok {
		return v, nil
	}

	if want.Kind() == reflect.Interface {
		var match reflect.Value
		matches := 0
		for rt, v := range r.store {
			if rt.Implements(want) {
				match = v
				matches++
			}
		}
		switch matches {
		case 1:
			return match, nil
		case 0:
			// fall through to not found
		default:
			return reflect.Value{}, fmt.Errorf("%w: %s has %d implementations registered", ErrAmbiguous, want, matches)
		}
	}

	return reflect.Value{}, fmt.Errorf("%w: %s", ErrNotFound, want)
}
