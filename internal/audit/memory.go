package audit

import (
	"context"
	"sync"
)

// MemoryRepository keeps audit entries in memory, newest last.
type MemoryRepository struct {
	mu      sync.Mutex
	entries []*Entry
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Create appends a copy of the entry.
func (r *MemoryRepository) Create(ctx context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.entries = append(r.entries, &cp)
	return nil
}

// ListBySubject returns up to limit entries for subjectID, newest first.
func (r *MemoryRepository) ListBySubject(ctx context.Context, subjectID string, limit int) ([]*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Entry
	for i := len(r.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.entries[i].SubjectID == subjectID {
			cp := *r.entries[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}
