// Package email implements the emailed one-time-code factor. Prepare
// generates a code, stores its hash on the user, persists, and sends;
// Validate compares hashes in constant time within the code's lifetime.
package email

import (
	"context"
	"fmt"
	"time"

	"mfa-gateway/internal/mail"
	"mfa-gateway/internal/provider"
	"mfa-gateway/internal/security"
	"mfa-gateway/internal/user/domain"
	userrepo "mfa-gateway/internal/user/repository"
)

// Options configure the email factor.
type Options struct {
	// Digits is the code length (default 6).
	Digits int
	// CodeTTL bounds the emailed code's validity (default 10m).
	CodeTTL time.Duration
}

// Strategy is the emailed-code verification factor.
type Strategy struct {
	sender mail.CodeSender
	users  userrepo.Repository
	opts   Options
}

// New returns the strategy. sender delivers codes; users persists the code
// hash written during Prepare.
func New(sender mail.CodeSender, users userrepo.Repository, opts Options) *Strategy {
	if opts.Digits == 0 {
		opts.Digits = 6
	}
	if opts.CodeTTL == 0 {
		opts.CodeTTL = 10 * time.Minute
	}
	return &Strategy{sender: sender, users: users, opts: opts}
}

// IsApplicable reports whether the user opted into email codes and has an
// address on record.
func (s *Strategy) IsApplicable(ctx context.Context, u *domain.User) bool {
	return u.EmailMFAEnabled && u.Email != ""
}

// Prepare generates a fresh code, stores its hash and expiry on the user,
// persists the user, then sends the code. The caller enforces idempotence
// per pending cycle through the token's prepared set, so a page reload does
// not trigger a second mail.
func (s *Strategy) Prepare(ctx context.Context, u *domain.User) error {
	if u.Email == "" {
		return fmt.Errorf("%w: user %s has no email address", provider.ErrProviderLogic, u.ID)
	}
	code, err := security.GenerateCode(s.opts.Digits)
	if err != nil {
		return fmt.Errorf("generate email code: %w", err)
	}
	expiry := time.Now().UTC().Add(s.opts.CodeTTL)
	u.EmailCodeHash = security.HashCode(code)
	u.EmailCodeExpiresAt = &expiry
	if err := s.users.Update(ctx, u); err != nil {
		return fmt.Errorf("persist email code: %w", err)
	}
	if err := s.sender.SendCode(ctx, u.Email, code); err != nil {
		return fmt.Errorf("send email code: %w", err)
	}
	return nil
}

// Validate compares the submitted code against the stored hash. Expired or
// never-issued codes fail closed.
func (s *Strategy) Validate(ctx context.Context, u *domain.User, code string) (bool, error) {
	if u.EmailCodeHash == "" {
		return false, fmt.Errorf("%w: no email code issued for user %s", provider.ErrProviderLogic, u.ID)
	}
	if u.EmailCodeExpiresAt == nil || !u.EmailCodeExpiresAt.After(time.Now().UTC()) {
		return false, nil
	}
	code = provider.NormalizeCode(code)
	if code == "" {
		return false, nil
	}
	return security.CodeEqual(code, u.EmailCodeHash), nil
}

// FormTemplate names the one-time-code entry form.
func (s *Strategy) FormTemplate() string {
	return "auth_code_form"
}
