// Package webauthnfactor implements the hardware-backed WebAuthn assertion
// factor. The cryptographic ceremony is delegated to
// github.com/go-webauthn/webauthn; this package adapts the user record and
// the prepare/validate cycle around it.
package webauthnfactor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"mfa-gateway/internal/provider"
	"mfa-gateway/internal/user/domain"
	userrepo "mfa-gateway/internal/user/repository"
)

// Strategy verifies WebAuthn assertions against the user's registered
// credentials.
type Strategy struct {
	web   *webauthn.WebAuthn
	users userrepo.Repository
}

// New returns the strategy backed by the given relying-party configuration.
func New(web *webauthn.WebAuthn, users userrepo.Repository) *Strategy {
	return &Strategy{web: web, users: users}
}

// waUser adapts a directory user to the webauthn.User interface.
type waUser struct {
	u     *domain.User
	creds []webauthn.Credential
}

func (w waUser) WebAuthnID() []byte                         { return w.u.WebAuthnHandle }
func (w waUser) WebAuthnName() string                       { return w.u.Email }
func (w waUser) WebAuthnDisplayName() string                { return w.u.Name }
func (w waUser) WebAuthnCredentials() []webauthn.Credential { return w.creds }

func adaptUser(u *domain.User) (waUser, error) {
	var creds []webauthn.Credential
	if len(u.WebAuthnCredentials) > 0 {
		if err := json.Unmarshal(u.WebAuthnCredentials, &creds); err != nil {
			return waUser{}, fmt.Errorf("%w: corrupt credential store for user %s", provider.ErrProviderLogic, u.ID)
		}
	}
	return waUser{u: u, creds: creds}, nil
}

// ceremony is the in-flight assertion state persisted on the user between
// Prepare and Validate.
type ceremony struct {
	Session   *webauthn.SessionData         `json:"session"`
	Assertion *protocol.CredentialAssertion `json:"assertion"`
}

// IsApplicable reports whether the user has at least one registered
// credential.
func (s *Strategy) IsApplicable(ctx context.Context, u *domain.User) bool {
	return len(u.WebAuthnHandle) > 0 && len(u.WebAuthnCredentials) > 0
}

// Prepare begins the assertion ceremony and persists its state on the user.
// The challenge options rendered to the client come from ChallengeOptions.
func (s *Strategy) Prepare(ctx context.Context, u *domain.User) error {
	wu, err := adaptUser(u)
	if err != nil {
		return err
	}
	if len(wu.creds) == 0 {
		return fmt.Errorf("%w: no WebAuthn credentials for user %s", provider.ErrProviderLogic, u.ID)
	}
	assertion, session, err := s.web.BeginLogin(wu)
	if err != nil {
		return fmt.Errorf("begin WebAuthn assertion: %w", err)
	}
	raw, err := json.Marshal(ceremony{Session: session, Assertion: assertion})
	if err != nil {
		return err
	}
	u.WebAuthnSession = raw
	if err := s.users.Update(ctx, u); err != nil {
		return fmt.Errorf("persist WebAuthn ceremony: %w", err)
	}
	return nil
}

// ChallengeOptions returns the JSON credential-request options produced by
// the last Prepare, for the form endpoint to hand to the client.
func (s *Strategy) ChallengeOptions(u *domain.User) ([]byte, error) {
	if len(u.WebAuthnSession) == 0 {
		return nil, fmt.Errorf("%w: no WebAuthn ceremony in flight for user %s", provider.ErrProviderLogic, u.ID)
	}
	var c ceremony
	if err := json.Unmarshal(u.WebAuthnSession, &c); err != nil {
		return nil, err
	}
	return json.Marshal(c.Assertion)
}

// Validate finishes the ceremony against the raw assertion response payload.
// Malformed or unverifiable assertions return false; only missing ceremony
// state is a provider logic error.
func (s *Strategy) Validate(ctx context.Context, u *domain.User, code string) (bool, error) {
	if len(u.WebAuthnSession) == 0 {
		return false, fmt.Errorf("%w: no WebAuthn ceremony in flight for user %s", provider.ErrProviderLogic, u.ID)
	}
	var c ceremony
	if err := json.Unmarshal(u.WebAuthnSession, &c); err != nil || c.Session == nil {
		return false, fmt.Errorf("%w: corrupt WebAuthn ceremony for user %s", provider.ErrProviderLogic, u.ID)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return false, nil
	}
	parsed, err := protocol.ParseCredentialRequestResponseBody(strings.NewReader(code))
	if err != nil {
		return false, nil
	}
	wu, err := adaptUser(u)
	if err != nil {
		return false, err
	}
	if _, err := s.web.ValidateLogin(wu, *c.Session, parsed); err != nil {
		return false, nil
	}
	return true, nil
}

// FormTemplate names the WebAuthn assertion form.
func (s *Strategy) FormTemplate() string {
	return "webauthn_form"
}
