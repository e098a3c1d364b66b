// Package backup manages single-use backup codes. Backup codes are a
// fallback consulted by the verification protocol on every failed primary
// validation; they are never a pending provider themselves.
package backup

import (
	"context"
	"fmt"
	"strings"

	"mfa-gateway/internal/security"
	"mfa-gateway/internal/user/domain"
	userrepo "mfa-gateway/internal/user/repository"
)

// Manager generates and consumes backup codes stored bcrypt-hashed on the
// user record.
type Manager struct {
	users  userrepo.Repository
	hasher *security.Hasher
}

// NewManager returns a Manager persisting through users.
func NewManager(users userrepo.Repository, hasher *security.Hasher) *Manager {
	return &Manager{users: users, hasher: hasher}
}

// Generate replaces the user's backup codes with count fresh ones and
// returns the plaintext codes. The plaintext is shown to the user exactly
// once; only hashes are stored.
func (m *Manager) Generate(ctx context.Context, u *domain.User, count int) ([]string, error) {
	if count <= 0 {
		count = 10
	}
	codes := make([]string, 0, count)
	hashes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		code, err := security.RandomToken(6)
		if err != nil {
			return nil, fmt.Errorf("generate backup code: %w", err)
		}
		hash, err := m.hasher.Hash([]byte(code))
		if err != nil {
			return nil, fmt.Errorf("hash backup code: %w", err)
		}
		codes = append(codes, code)
		hashes = append(hashes, hash)
	}
	u.BackupCodeHashes = hashes
	if err := m.users.Update(ctx, u); err != nil {
		return nil, fmt.Errorf("persist backup codes: %w", err)
	}
	return codes, nil
}

// Consume checks code against the user's unused backup codes; on a match the
// code is invalidated and persisted before returning true. A consumed code
// can never match again.
func (m *Manager) Consume(ctx context.Context, u *domain.User, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if code == "" || len(u.BackupCodeHashes) == 0 {
		return false, nil
	}
	for i, hash := range u.BackupCodeHashes {
		if m.hasher.Compare(hash, []byte(code)) == nil {
			u.BackupCodeHashes = append(u.BackupCodeHashes[:i], u.BackupCodeHashes[i+1:]...)
			if err := m.users.Update(ctx, u); err != nil {
				return false, fmt.Errorf("invalidate backup code: %w", err)
			}
			return true, nil
		}
	}
	return false, nil
}
