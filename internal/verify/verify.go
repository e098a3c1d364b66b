// Package verify implements the per-request verification state machine: one
// code submission against the current pending provider, with throttle,
// CSRF, backup-code fallback, and completion semantics.
package verify

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"mfa-gateway/internal/backup"
	"mfa-gateway/internal/csrf"
	"mfa-gateway/internal/event"
	"mfa-gateway/internal/provider"
	"mfa-gateway/internal/realm"
	"mfa-gateway/internal/session"
	"mfa-gateway/internal/token"
	"mfa-gateway/internal/user/domain"
)

var (
	// ErrAccessDenied marks a protocol violation: the check or form
	// endpoint was hit outside an MFA session, or before the current
	// provider was prepared. Not retryable.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidCode covers wrong codes and invalid CSRF tokens alike, so
	// responses never reveal which check failed. Retryable up to the
	// throttle limit.
	ErrInvalidCode = errors.New("invalid code")
)

const deferredCookiePrefix = "remember_me.cookie."

// DeferCookie records a Set-Cookie header value on the token instead of the
// response. Deferred cookies are replayed exactly once, when MFA completes.
func DeferCookie(t *token.MfaToken, headerValue string) {
	for i := 0; ; i++ {
		key := deferredCookiePrefix + strconv.Itoa(i)
		if _, ok := t.Attribute(key); !ok {
			t.SetAttribute(key, headerValue)
			return
		}
	}
}

func takeDeferredCookies(t *token.MfaToken) []string {
	var cookies []string
	for i := 0; ; i++ {
		key := deferredCookiePrefix + strconv.Itoa(i)
		v, ok := t.Attribute(key)
		if !ok {
			return cookies
		}
		cookies = append(cookies, v)
		t.RemoveAttribute(key)
	}
}

// CheckInput is one code submission.
type CheckInput struct {
	Token *token.MfaToken
	User  *domain.User
	Realm *realm.Config

	Code      string
	CSRFToken string

	// TrustRequested is the trust-device checkbox from the form.
	TrustRequested bool

	// ClientKey keys the throttle, normally the client IP.
	ClientKey string

	Session session.Store
}

// Result is the outcome of a successful Check.
type Result struct {
	// Complete reports full MFA completion. The unwrapped principal is the
	// session's new active token and Token is nil.
	Complete  bool
	Principal token.Principal
	Token     *token.MfaToken

	Redirect string

	// DeferredCookies are remember-me cookies captured during the wrapped
	// state, to be written onto this response.
	DeferredCookies []string

	// TrustDevice tells the caller to mark this device trusted.
	TrustDevice bool
}

// FormView describes the challenge form for the current provider.
type FormView struct {
	Provider           string
	Template           string
	AvailableProviders []string
	AuthCodeParam      string
	TrustedParam       string
	CSRFParam          string
	CSRFToken          string
	CheckPath          string
}

// Service runs the verification protocol. Throttling happens through the
// event bus: the attempt event is dispatched before any code inspection, and
// a listener error rejects the whole request.
type Service struct {
	registry *provider.Registry
	backup   *backup.Manager
	csrf     *csrf.Manager
	bus      *event.Bus
}

// NewService wires the protocol's collaborators. backup and csrf may be nil
// to disable the respective checks.
func NewService(registry *provider.Registry, backupCodes *backup.Manager, csrfManager *csrf.Manager, bus *event.Bus) *Service {
	return &Service{registry: registry, backup: backupCodes, csrf: csrfManager, bus: bus}
}

// Check runs one verification attempt. The input token is mutated in place;
// callers persist it back to the session afterwards regardless of outcome.
func (s *Service) Check(ctx context.Context, in *CheckInput) (*Result, error) {
	if in.Token == nil {
		return nil, fmt.Errorf("%w: no MFA session in progress", ErrAccessDenied)
	}
	// Whatever the outcome, the submitted code never survives the attempt:
	// callers persist the token back to the session.
	defer in.Token.EraseCredentials()

	if err := s.dispatch(ctx, in, event.TypeAttempt, ""); err != nil {
		return nil, err
	}

	current, ok := in.Token.CurrentProvider()
	if !ok {
		return nil, fmt.Errorf("%w: no pending provider", ErrAccessDenied)
	}
	if !in.Token.IsProviderPrepared(current) {
		return nil, fmt.Errorf("%w: provider %s was never prepared", ErrAccessDenied, current)
	}

	if in.Realm.CSRFEnabled() && s.csrf != nil {
		ok, err := s.csrf.Verify(ctx, in.Session, in.Realm.CSRFTokenID(), in.CSRFToken)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, s.fail(ctx, in, current)
		}
	}

	strategy, err := s.registry.Get(current)
	if err != nil {
		return nil, err
	}

	valid, err := strategy.Validate(ctx, in.User, in.Code)
	if err != nil {
		if errors.Is(err, provider.ErrProviderLogic) {
			return nil, s.fail(ctx, in, current)
		}
		return nil, err
	}
	if !valid && s.backup != nil {
		valid, err = s.backup.Consume(ctx, in.User, in.Code)
		if err != nil {
			return nil, err
		}
	}
	if !valid {
		return nil, s.fail(ctx, in, current)
	}

	if err := in.Token.MarkProviderComplete(current); err != nil {
		return nil, err
	}
	if err := s.dispatch(ctx, in, event.TypeSuccess, current); err != nil {
		return nil, err
	}

	done := in.Token.AllProvidersComplete()
	if !in.Realm.MultiFactor() {
		// any one provider suffices
		done = true
	}
	if !done {
		return &Result{Token: in.Token}, nil
	}

	cookies := takeDeferredCookies(in.Token)
	trust := in.TrustRequested
	if in.Realm.RememberMeSetsTrusted() && len(cookies) > 0 {
		trust = true
	}
	if err := s.dispatch(ctx, in, event.TypeComplete, current); err != nil {
		return nil, err
	}
	return &Result{
		Complete:        true,
		Principal:       in.Token.Wrapped(),
		Redirect:        in.Realm.PostSuccessRedirect(),
		DeferredCookies: cookies,
		TrustDevice:     trust,
	}, nil
}

func (s *Service) fail(ctx context.Context, in *CheckInput, current string) error {
	if err := s.dispatch(ctx, in, event.TypeFailure, current); err != nil {
		return err
	}
	return ErrInvalidCode
}

// Form resolves the current provider's challenge form, preparing the
// provider first if this pending cycle has not prepared it yet. Preparation
// is idempotent per cycle: re-rendering the form never re-sends a code.
func (s *Service) Form(ctx context.Context, in *CheckInput) (*FormView, error) {
	if in.Token == nil {
		return nil, fmt.Errorf("%w: no MFA session in progress", ErrAccessDenied)
	}
	current, ok := in.Token.CurrentProvider()
	if !ok {
		return nil, fmt.Errorf("%w: no pending provider", ErrAccessDenied)
	}
	strategy, err := s.registry.Get(current)
	if err != nil {
		return nil, err
	}

	if !in.Token.IsProviderPrepared(current) {
		if err := strategy.Prepare(ctx, in.User); err != nil {
			return nil, fmt.Errorf("prepare provider %s: %w", current, err)
		}
		if err := in.Token.MarkProviderPrepared(current); err != nil {
			return nil, err
		}
	}

	view := &FormView{
		Provider:           current,
		Template:           strategy.FormTemplate(),
		AvailableProviders: in.Token.PendingProviders(),
		AuthCodeParam:      in.Realm.AuthCodeParam(),
		TrustedParam:       in.Realm.TrustedParam(),
		CSRFParam:          in.Realm.CSRFParam(),
		CheckPath:          in.Realm.CheckPath(),
	}
	if in.Realm.CSRFEnabled() && s.csrf != nil {
		t, err := s.csrf.Token(ctx, in.Session, in.Realm.CSRFTokenID())
		if err != nil {
			return nil, err
		}
		view.CSRFToken = t
	}
	if err := s.dispatch(ctx, in, event.TypeForm, current); err != nil {
		return nil, err
	}
	return view, nil
}

func (s *Service) dispatch(ctx context.Context, in *CheckInput, typ event.Type, providerName string) error {
	if s.bus == nil {
		return nil
	}
	subject := ""
	if in.User != nil {
		subject = in.User.ID
	}
	return s.bus.Dispatch(ctx, event.Event{
		Type:      typ,
		RealmName: in.Realm.Name(),
		SubjectID: subject,
		Provider:  providerName,
		ClientKey: in.ClientKey,
	})
}
