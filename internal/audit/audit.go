// Package audit records the authentication lifecycle. User-visible responses
// are deliberately generic; this trail is where failures stay distinguishable.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"mfa-gateway/internal/event"
)

// Entry is one recorded lifecycle event.
type Entry struct {
	ID        string
	RealmName string
	SubjectID string
	EventType string
	Provider  string
	ClientKey string
	CreatedAt time.Time
}

// Repository persists audit entries.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	ListBySubject(ctx context.Context, subjectID string, limit int) ([]*Entry, error)
}

// Listener subscribes to the event bus and persists every lifecycle event.
// Recording is best-effort: persistence failures are logged and never fail
// the authentication request.
type Listener struct {
	repo Repository
}

// NewListener returns the bus listener writing to repo.
func NewListener(repo Repository) *Listener {
	return &Listener{repo: repo}
}

// HandleAuthEvent implements event.Listener.
func (l *Listener) HandleAuthEvent(ctx context.Context, e event.Event) error {
	if l.repo == nil {
		return nil
	}
	entry := &Entry{
		ID:        uuid.New().String(),
		RealmName: e.RealmName,
		SubjectID: e.SubjectID,
		EventType: string(e.Type),
		Provider:  e.Provider,
		ClientKey: e.ClientKey,
		CreatedAt: e.At,
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to record %s event for %s: %v", e.Type, e.SubjectID, err)
	}
	return nil
}
