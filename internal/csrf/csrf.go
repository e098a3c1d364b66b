// Package csrf issues and verifies per-session CSRF tokens for the
// verification form.
package csrf

import (
	"context"
	"crypto/subtle"
	"fmt"

	"mfa-gateway/internal/security"
	"mfa-gateway/internal/session"
)

const keyPrefix = "csrf."

// Manager stores one token per token id in the session.
type Manager struct{}

// NewManager returns a Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Token returns the session's token for tokenID, generating and storing one
// on first use.
func (m *Manager) Token(ctx context.Context, sess session.Store, tokenID string) (string, error) {
	key := keyPrefix + tokenID
	if existing, ok, err := sess.Get(ctx, key); err != nil {
		return "", fmt.Errorf("read csrf token: %w", err)
	} else if ok && existing != "" {
		return existing, nil
	}
	token, err := security.RandomToken(32)
	if err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	if err := sess.Set(ctx, key, token); err != nil {
		return "", fmt.Errorf("store csrf token: %w", err)
	}
	return token, nil
}

// Verify compares presented against the session's token for tokenID in
// constant time. A session without a token never verifies.
func (m *Manager) Verify(ctx context.Context, sess session.Store, tokenID, presented string) (bool, error) {
	stored, ok, err := sess.Get(ctx, keyPrefix+tokenID)
	if err != nil {
		return false, fmt.Errorf("read csrf token: %w", err)
	}
	if !ok || stored == "" || presented == "" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1, nil
}
