// Package totp implements the RFC 6238 time-based one-time-password factor.
package totp

import (
	"context"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"mfa-gateway/internal/provider"
	"mfa-gateway/internal/user/domain"
)

// Options configure the TOTP strategy. Zero values fall back to the RFC
// defaults (6 digits, 30s period, SHA1, ±1 period of clock skew).
type Options struct {
	Digits    int
	Period    uint
	Skew      uint
	Algorithm otp.Algorithm
	Issuer    string
}

// Strategy validates codes against the user's enrolled TOTP secret.
type Strategy struct {
	opts Options
}

// New returns a TOTP strategy with the given options.
func New(opts Options) *Strategy {
	if opts.Digits == 0 {
		opts.Digits = 6
	}
	if opts.Period == 0 {
		opts.Period = 30
	}
	if opts.Skew == 0 {
		opts.Skew = 1
	}
	return &Strategy{opts: opts}
}

// IsApplicable reports whether the user has a TOTP secret enrolled.
func (s *Strategy) IsApplicable(ctx context.Context, u *domain.User) bool {
	return u.TOTPSecret != ""
}

// Prepare is a no-op: the user's authenticator app generates the code.
func (s *Strategy) Prepare(ctx context.Context, u *domain.User) error {
	return nil
}

// Validate checks the submitted code against the current time window with
// the configured skew. An empty secret fails closed.
func (s *Strategy) Validate(ctx context.Context, u *domain.User, code string) (bool, error) {
	if u.TOTPSecret == "" {
		return false, fmt.Errorf("%w: empty TOTP secret for user %s", provider.ErrProviderLogic, u.ID)
	}
	code = provider.NormalizeCode(code)
	if code == "" {
		return false, nil
	}
	ok, err := totp.ValidateCustom(code, u.TOTPSecret, time.Now().UTC(), totp.ValidateOpts{
		Period:    s.opts.Period,
		Skew:      s.opts.Skew,
		Digits:    otp.Digits(s.opts.Digits),
		Algorithm: s.opts.Algorithm,
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", provider.ErrProviderLogic, err)
	}
	return ok, nil
}

// FormTemplate names the one-time-code entry form.
func (s *Strategy) FormTemplate() string {
	return "auth_code_form"
}

// GenerateSecret creates a fresh base32 secret for enrollment and returns the
// secret and its otpauth:// provisioning URI.
func (s *Strategy) GenerateSecret(accountName string) (secret, uri string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.opts.Issuer,
		AccountName: accountName,
		Period:      s.opts.Period,
		Digits:      otp.Digits(s.opts.Digits),
		Algorithm:   s.opts.Algorithm,
	})
	if err != nil {
		return "", "", fmt.Errorf("generate TOTP secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}
