package audit

import (
	"context"
	"database/sql"
)

// PostgresRepository persists audit entries to the auth_events table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a repository over db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the entry.
func (r *PostgresRepository) Create(ctx context.Context, e *Entry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auth_events (id, realm_name, subject_id, event_type, provider, client_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.RealmName, e.SubjectID, e.EventType, e.Provider, e.ClientKey, e.CreatedAt,
	)
	return err
}

// ListBySubject returns up to limit entries for subjectID, newest first.
func (r *PostgresRepository) ListBySubject(ctx context.Context, subjectID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, realm_name, subject_id, event_type, provider, client_key, created_at
		FROM auth_events
		WHERE subject_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		subjectID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.RealmName, &e.SubjectID, &e.EventType, &e.Provider, &e.ClientKey, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
