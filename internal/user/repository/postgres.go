package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"mfa-gateway/internal/user/domain"
)

// PostgresRepository persists users in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for
// persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, email, name, roles, status, password_hash, preferred_provider,
	trusted_device_version, totp_secret, gauth_secret, email_mfa_enabled,
	email_code_hash, email_code_expires_at, webauthn_handle,
	webauthn_credentials, webauthn_session, backup_code_hashes,
	created_at, updated_at`

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the user with the given email, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// Create persists the user. The user must have ID set; it is not assigned by
// this method.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	roles, backup, err := encodeLists(u)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		u.ID, u.Email, nullString(u.Name), roles, string(u.Status),
		nullString(u.PasswordHash),
		nullString(u.PreferredProvider), u.TrustedDeviceVersion,
		nullString(u.TOTPSecret), nullString(u.GAuthSecret), u.EmailMFAEnabled,
		nullString(u.EmailCodeHash), nullTime(u.EmailCodeExpiresAt),
		u.WebAuthnHandle, u.WebAuthnCredentials, u.WebAuthnSession, backup,
		u.CreatedAt, u.UpdatedAt,
	)
	return err
}

// Update replaces the stored user record for u.ID.
func (r *PostgresRepository) Update(ctx context.Context, u *domain.User) error {
	roles, backup, err := encodeLists(u)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE users SET
			email = $2, name = $3, roles = $4, status = $5,
			password_hash = $6, preferred_provider = $7,
			trusted_device_version = $8,
			totp_secret = $9, gauth_secret = $10, email_mfa_enabled = $11,
			email_code_hash = $12, email_code_expires_at = $13,
			webauthn_handle = $14, webauthn_credentials = $15,
			webauthn_session = $16, backup_code_hashes = $17, updated_at = $18
		WHERE id = $1`,
		u.ID, u.Email, nullString(u.Name), roles, string(u.Status),
		nullString(u.PasswordHash),
		nullString(u.PreferredProvider), u.TrustedDeviceVersion,
		nullString(u.TOTPSecret), nullString(u.GAuthSecret), u.EmailMFAEnabled,
		nullString(u.EmailCodeHash), nullTime(u.EmailCodeExpiresAt),
		u.WebAuthnHandle, u.WebAuthnCredentials, u.WebAuthnSession, backup,
		time.Now().UTC(),
	)
	return err
}

func encodeLists(u *domain.User) (roles, backup []byte, err error) {
	roles, err = json.Marshal(u.Roles)
	if err != nil {
		return nil, nil, err
	}
	backup, err = json.Marshal(u.BackupCodeHashes)
	if err != nil {
		return nil, nil, err
	}
	return roles, backup, nil
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var (
		u               domain.User
		name            sql.NullString
		roles           []byte
		status          string
		passwordHash    sql.NullString
		preferred       sql.NullString
		totpSecret      sql.NullString
		gauthSecret     sql.NullString
		emailCodeHash   sql.NullString
		emailCodeExpiry sql.NullTime
		backup          []byte
	)
	err := row.Scan(&u.ID, &u.Email, &name, &roles, &status, &passwordHash, &preferred,
		&u.TrustedDeviceVersion, &totpSecret, &gauthSecret, &u.EmailMFAEnabled,
		&emailCodeHash, &emailCodeExpiry, &u.WebAuthnHandle,
		&u.WebAuthnCredentials, &u.WebAuthnSession, &backup,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Name = name.String
	u.Status = domain.UserStatus(status)
	u.PasswordHash = passwordHash.String
	u.PreferredProvider = preferred.String
	u.TOTPSecret = totpSecret.String
	u.GAuthSecret = gauthSecret.String
	u.EmailCodeHash = emailCodeHash.String
	if emailCodeExpiry.Valid {
		t := emailCodeExpiry.Time
		u.EmailCodeExpiresAt = &t
	}
	if len(roles) > 0 {
		if err := json.Unmarshal(roles, &u.Roles); err != nil {
			return nil, err
		}
	}
	if len(backup) > 0 {
		if err := json.Unmarshal(backup, &u.BackupCodeHashes); err != nil {
			return nil, err
		}
	}
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
