// Package event carries the authentication lifecycle events that decouple the
// verification protocol from throttling, auditing, and metrics.
package event

import (
	"context"
	"sync"
	"time"
)

// Type identifies a lifecycle event.
type Type string

const (
	// TypeRequire fires when a principal is wrapped into an MFA token.
	TypeRequire Type = "require"
	// TypeAttempt fires before any code inspection on the check endpoint.
	// Listener errors abort the attempt (rate limiting gates here).
	TypeAttempt Type = "attempt"
	// TypeSuccess fires when a provider validates a submitted code.
	TypeSuccess Type = "success"
	// TypeFailure fires when a submitted code is rejected.
	TypeFailure Type = "failure"
	// TypeComplete fires when the last required provider completes and the
	// wrapped principal becomes the active session token.
	TypeComplete Type = "complete"
	// TypeForm fires when a provider's challenge form is rendered.
	TypeForm Type = "form"
)

// Event is the payload dispatched to listeners.
type Event struct {
	Type      Type
	RealmName string
	SubjectID string
	Provider  string
	// ClientKey identifies the caller for throttling (usually the client IP).
	ClientKey string
	At        time.Time
}

// Listener consumes lifecycle events. Returning an error from an attempt
// listener rejects the attempt before validation runs.
type Listener interface {
	HandleAuthEvent(ctx context.Context, e Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, e Event) error

func (f ListenerFunc) HandleAuthEvent(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Bus dispatches events synchronously to listeners in subscription order.
type Bus struct {
	mu        sync.RWMutex
	listeners []Listener
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers l for all event types. Order of subscription is the
// order of delivery.
func (b *Bus) Subscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Dispatch delivers e to every listener in order and stops at the first
// error. At is stamped if unset.
func (b *Bus) Dispatch(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.RLock()
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()
	for _, l := range listeners {
		if err := l.HandleAuthEvent(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
