// Package pubsub provides the occurrence source that buckets subscribe
// to: named event and message channels, each occurrence carrying at
// most one scalar payload.
package pubsub

import (
	"context"
	"errors"
)

// Kind selects which of the two subscription namespaces a name lives
// in. Events and messages are delivered identically; they differ only
// in which namespace publishers and subscribers address.
type Kind int

const (
	KindEvent Kind = iota
	KindMessage
)

// String returns the namespace label used in keys and log fields.
func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindMessage:
		return "message"
	default:
		return "unknown"
	}
}

var (
	ErrClosed     = errors.New("pubsub: source is closed")
	ErrEmptyName  = errors.New("pubsub: occurrence name cannot be empty")
	ErrNilHandler = errors.New("pubsub: handler cannot be nil")
)

// Handler receives a single occurrence. arg is the occurrence's scalar
// payload, nil when the occurrence carried none. Handlers run in the
// source's own delivery context and must not panic.
type Handler func(arg any)

// Source is the publish/subscribe surface for occurrences.
type Source interface {
	// Subscribe registers handler for every occurrence of name within
	// kind and returns a unique subscription ID.
	Subscribe(ctx context.Context, kind Kind, name string, handler Handler) (string, error)

	// Unsubscribe removes the subscription with the given ID.
	// Unsubscribing an unknown ID is a no-op.
	Unsubscribe(ctx context.Context, id string) error

	// Publish delivers one occurrence of name to every subscriber of
	// (kind, name). arg may be nil for a payload-free occurrence.
	Publish(ctx context.Context, kind Kind, name string, arg any) error

	// Close shuts the source down and releases all subscriptions.
	Close() error
}
