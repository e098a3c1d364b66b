// Package gauth implements the Google-Authenticator-compatible TOTP factor:
// SHA1, six digits, 30-second period, non-negotiable. Kept separate from the
// generic TOTP factor so deployments can enroll both with distinct secrets.
package gauth

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"mfa-gateway/internal/provider"
	"mfa-gateway/internal/user/domain"
)

// Strategy validates Google-Authenticator codes against u.GAuthSecret.
type Strategy struct {
	issuer string
	skew   uint
}

// New returns the strategy. issuer appears in provisioning URIs; skew is the
// number of 30s periods of clock drift tolerated (default 1).
func New(issuer string, skew uint) *Strategy {
	if skew == 0 {
		skew = 1
	}
	return &Strategy{issuer: issuer, skew: skew}
}

// IsApplicable reports whether the user has a Google Authenticator secret
// enrolled.
func (s *Strategy) IsApplicable(ctx context.Context, u *domain.User) bool {
	return u.GAuthSecret != ""
}

// Prepare is a no-op: the authenticator app generates the code.
func (s *Strategy) Prepare(ctx context.Context, u *domain.User) error {
	return nil
}

// Validate checks the submitted code with Google Authenticator's fixed
// parameters. An empty secret fails closed.
func (s *Strategy) Validate(ctx context.Context, u *domain.User, code string) (bool, error) {
	if u.GAuthSecret == "" {
		return false, fmt.Errorf("%w: empty Google Authenticator secret for user %s", provider.ErrProviderLogic, u.ID)
	}
	code = provider.NormalizeCode(code)
	if code == "" {
		return false, nil
	}
	ok, err := totp.ValidateCustom(code, u.GAuthSecret, time.Now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      s.skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
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

// ProvisioningURI renders the otpauth:// URI for enrolling the user's secret
// in an authenticator app. QR rendering is the caller's concern.
func (s *Strategy) ProvisioningURI(u *domain.User) string {
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s&algorithm=SHA1&digits=6&period=30",
		url.PathEscape(s.issuer), url.PathEscape(u.Email), u.GAuthSecret, url.QueryEscape(s.issuer))
}
