package domain

import (
	"errors"
	"time"
)

// User is the directory record the gateway consults for factor applicability
// and mutates during challenge preparation (e.g. a freshly generated email
// code).
type User struct {
	ID     string
	Email  string
	Name   string
	Roles  []string
	Status UserStatus

	// PasswordHash is the bcrypt hash checked by the primary login.
	PasswordHash string

	// PreferredProvider, when set, is moved to the front of the pending
	// provider order at wrap time.
	PreferredProvider string
	// TrustedDeviceVersion invalidates all previously issued trusted-device
	// tokens when bumped.
	TrustedDeviceVersion int

	// TOTPSecret is the base32 secret for the generic TOTP factor; empty
	// means the factor is not enrolled.
	TOTPSecret string
	// GAuthSecret is the base32 secret for the Google-Authenticator-
	// compatible factor (fixed SHA1/6 digits/30s period).
	GAuthSecret string

	// EmailMFAEnabled turns on the emailed-code factor; codes go to Email.
	EmailMFAEnabled bool
	// EmailCodeHash is the SHA-256 hex hash of the last emailed code.
	EmailCodeHash string
	// EmailCodeExpiresAt bounds the emailed code's validity.
	EmailCodeExpiresAt *time.Time

	// WebAuthnHandle is the user handle presented to authenticators.
	WebAuthnHandle []byte
	// WebAuthnCredentials holds the registered credentials, JSON-encoded.
	WebAuthnCredentials []byte
	// WebAuthnSession holds in-flight assertion ceremony state, JSON-encoded.
	WebAuthnSession []byte

	// BackupCodeHashes are bcrypt hashes of unused single-use backup codes.
	BackupCodeHashes []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// Validate validates the user for persistence. Returns an error describing
// the first validation failure.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("id is required")
	}
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}
