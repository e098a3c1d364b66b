package orchestration

import (
	"context"
	"testing"
	"time"

	"mfa-gateway/internal/condition"
	"mfa-gateway/internal/event"
	"mfa-gateway/internal/provider"
	"mfa-gateway/internal/realm"
	"mfa-gateway/internal/token"
	"mfa-gateway/internal/trusteddevice"
	"mfa-gateway/internal/user/domain"
)

type countingStrategy struct {
	applicable      bool
	applicableCalls int
}

func (s *countingStrategy) IsApplicable(ctx context.Context, u *domain.User) bool {
	s.applicableCalls++
	return s.applicable
}
func (s *countingStrategy) Prepare(ctx context.Context, u *domain.User) error { return nil }
func (s *countingStrategy) Validate(ctx context.Context, u *domain.User, code string) (bool, error) {
	return false, nil
}
func (s *countingStrategy) FormTemplate() string { return "auth_code_form" }

func testRealm(t *testing.T) *realm.Config {
	t.Helper()
	return realm.MustNew(realm.Params{Name: "main"})
}

func testUser() *domain.User {
	return &domain.User{ID: "u-1", Email: "alice@example.com", Status: domain.UserStatusActive, TrustedDeviceVersion: 1}
}

func testRequest(t *testing.T) *Request {
	t.Helper()
	return &Request{
		Principal: token.NewUserPrincipal("u-1", "alice@example.com", []string{"user"}),
		User:      testUser(),
		Realm:     testRealm(t),
		TokenType: "form_login",
		ClientIP:  "203.0.113.7",
	}
}

func TestWrapsWhenProvidersApply(t *testing.T) {
	reg := provider.NewRegistry()
	reg.MustRegister("email", &countingStrategy{applicable: true})
	reg.MustRegister("totp", &countingStrategy{applicable: true})

	var events []event.Event
	bus := event.NewBus()
	bus.Subscribe(event.ListenerFunc(func(ctx context.Context, e event.Event) error {
		events = append(events, e)
		return nil
	}))

	svc := NewService(reg, condition.NewChain(), bus, false, "form_login")
	got, err := svc.BeginAuthentication(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	mfa, ok := got.(*token.MfaToken)
	if !ok {
		t.Fatalf("expected MfaToken, got %T", got)
	}
	pending := mfa.PendingProviders()
	if len(pending) != 2 || pending[0] != "email" || pending[1] != "totp" {
		t.Fatalf("pending = %v", pending)
	}
	if len(events) != 1 || events[0].Type != event.TypeRequire {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Provider != "email" {
		t.Fatalf("require event provider = %q", events[0].Provider)
	}
}

func TestReturnsPrincipalWhenNoProviderApplies(t *testing.T) {
	reg := provider.NewRegistry()
	reg.MustRegister("totp", &countingStrategy{applicable: false})

	svc := NewService(reg, condition.NewChain(), event.NewBus(), false)
	req := testRequest(t)
	got, err := svc.BeginAuthentication(context.Background(), req)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if got != req.Principal {
		t.Fatal("expected the original principal back")
	}
}

func TestUnsupportedTokenTypeSkips(t *testing.T) {
	strategy := &countingStrategy{applicable: true}
	reg := provider.NewRegistry()
	reg.MustRegister("totp", strategy)

	svc := NewService(reg, condition.NewChain(), event.NewBus(), false, "form_login")
	req := testRequest(t)
	req.TokenType = "api_token"
	got, err := svc.BeginAuthentication(context.Background(), req)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if got != req.Principal {
		t.Fatal("expected the original principal back")
	}
	if strategy.applicableCalls != 0 {
		t.Fatalf("strategies consulted %d times for an excused session", strategy.applicableCalls)
	}
}

func TestConditionVetoSkips(t *testing.T) {
	strategy := &countingStrategy{applicable: true}
	reg := provider.NewRegistry()
	reg.MustRegister("totp", strategy)

	veto := condition.Func(func(ctx context.Context, req *condition.Request) (bool, error) {
		return false, nil
	})
	svc := NewService(reg, condition.NewChain(veto), event.NewBus(), false)
	req := testRequest(t)
	got, err := svc.BeginAuthentication(context.Background(), req)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if got != req.Principal {
		t.Fatal("expected the original principal back")
	}
	if strategy.applicableCalls != 0 {
		t.Fatalf("strategies consulted %d times for a vetoed session", strategy.applicableCalls)
	}
}

func TestTrustedDeviceShortCircuitsAndRenews(t *testing.T) {
	strategy := &countingStrategy{applicable: true}
	reg := provider.NewRegistry()
	reg.MustRegister("totp", strategy)

	m := trusteddevice.NewManager([]byte("key"), "mfa-gateway", time.Hour)
	seed := m.ParseCookie("")
	if err := seed.Add("u-1", "main", 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	devices := m.ParseCookie(seed.CookieValue())

	svc := NewService(reg, condition.NewChain(), event.NewBus(), true)
	req := testRequest(t)
	req.Devices = devices
	got, err := svc.BeginAuthentication(context.Background(), req)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if got != req.Principal {
		t.Fatal("expected the original principal back")
	}
	if strategy.applicableCalls != 0 {
		t.Fatalf("strategies consulted %d times despite trusted device", strategy.applicableCalls)
	}
	if !devices.Dirty() {
		t.Fatal("trusted entry not renewed")
	}
}

func TestPreferredProviderReorders(t *testing.T) {
	reg := provider.NewRegistry()
	reg.MustRegister("email", &countingStrategy{applicable: true})
	reg.MustRegister("totp", &countingStrategy{applicable: true})

	svc := NewService(reg, condition.NewChain(), event.NewBus(), false)
	req := testRequest(t)
	req.PreferredProvider = "totp"
	got, err := svc.BeginAuthentication(context.Background(), req)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	current, ok := got.(*token.MfaToken).CurrentProvider()
	if !ok || current != "totp" {
		t.Fatalf("current provider = %q", current)
	}
}

func TestStalePreferenceIsIgnored(t *testing.T) {
	reg := provider.NewRegistry()
	reg.MustRegister("email", &countingStrategy{applicable: true})

	svc := NewService(reg, condition.NewChain(), event.NewBus(), false)
	req := testRequest(t)
	req.User.PreferredProvider = "sms"
	got, err := svc.BeginAuthentication(context.Background(), req)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	current, ok := got.(*token.MfaToken).CurrentProvider()
	if !ok || current != "email" {
		t.Fatalf("current provider = %q", current)
	}
}

func TestAlreadyWrappedPassesThrough(t *testing.T) {
	reg := provider.NewRegistry()
	reg.MustRegister("email", &countingStrategy{applicable: true})

	svc := NewService(reg, condition.NewChain(), event.NewBus(), false)
	req := testRequest(t)
	wrapped, err := token.Wrap(req.Principal, "main", []string{"email"})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	req.Principal = wrapped
	got, err := svc.BeginAuthentication(context.Background(), req)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if got != wrapped {
		t.Fatal("wrapped token replaced")
	}
}
