package throttle

import (
	"context"

	"mfa-gateway/internal/event"
)

// Listener wires a Limiter to the lifecycle event bus: attempts consume
// budget, successes restore it. Because the bus stops dispatch on the first
// listener error, returning ErrTooManyAttempts from the attempt event rejects
// the request before any code is inspected.
type Listener struct {
	limiter Limiter
}

// NewListener returns the bus listener for limiter.
func NewListener(limiter Limiter) *Listener {
	return &Listener{limiter: limiter}
}

// HandleAuthEvent implements event.Listener.
func (l *Listener) HandleAuthEvent(ctx context.Context, e event.Event) error {
	key := e.ClientKey
	if key == "" {
		key = e.SubjectID
	}
	if key == "" {
		return nil
	}
	switch e.Type {
	case event.TypeAttempt:
		return l.limiter.Consume(ctx, key)
	case event.TypeSuccess:
		return l.limiter.Reset(ctx, key)
	}
	return nil
}
