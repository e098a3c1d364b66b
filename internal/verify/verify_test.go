package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"mfa-gateway/internal/backup"
	"mfa-gateway/internal/csrf"
	"mfa-gateway/internal/event"
	"mfa-gateway/internal/provider"
	"mfa-gateway/internal/realm"
	"mfa-gateway/internal/security"
	"mfa-gateway/internal/session"
	"mfa-gateway/internal/throttle"
	"mfa-gateway/internal/token"
	"mfa-gateway/internal/user/domain"
	userrepo "mfa-gateway/internal/user/repository"
)

type fakeStrategy struct {
	code          string
	prepareCalls  int
	validateCalls int
	validateErr   error
}

func (s *fakeStrategy) IsApplicable(ctx context.Context, u *domain.User) bool { return true }
func (s *fakeStrategy) Prepare(ctx context.Context, u *domain.User) error {
	s.prepareCalls++
	return nil
}
func (s *fakeStrategy) Validate(ctx context.Context, u *domain.User, code string) (bool, error) {
	s.validateCalls++
	if s.validateErr != nil {
		return false, s.validateErr
	}
	return code == s.code, nil
}
func (s *fakeStrategy) FormTemplate() string { return "auth_code_form" }

type fixture struct {
	svc      *Service
	registry *provider.Registry
	bus      *event.Bus
	users    userrepo.Repository
	user     *domain.User
	events   *[]event.Event
}

func newFixture(t *testing.T, strategies map[string]*fakeStrategy) *fixture {
	t.Helper()
	reg := provider.NewRegistry()
	for _, name := range []string{"email", "totp", "webauthn"} {
		if s, ok := strategies[name]; ok {
			reg.MustRegister(name, s)
		}
	}
	bus := event.NewBus()
	events := &[]event.Event{}
	bus.Subscribe(event.ListenerFunc(func(ctx context.Context, e event.Event) error {
		*events = append(*events, e)
		return nil
	}))

	users := userrepo.NewMemoryRepository()
	u := &domain.User{ID: "u-1", Email: "alice@example.com", Status: domain.UserStatusActive}
	if err := users.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}

	hasher := security.NewHasher(4)
	return &fixture{
		svc:      NewService(reg, backup.NewManager(users, hasher), csrf.NewManager(), bus),
		registry: reg,
		bus:      bus,
		users:    users,
		user:     u,
		events:   events,
	}
}

func (f *fixture) input(t *testing.T, rl *realm.Config, providers ...string) *CheckInput {
	t.Helper()
	tok, err := token.Wrap(token.NewUserPrincipal("u-1", "alice@example.com", []string{"user"}), rl.Name(), providers)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	return &CheckInput{
		Token:     tok,
		User:      f.user,
		Realm:     rl,
		ClientKey: "203.0.113.7",
		Session:   session.NewMemoryStore(),
	}
}

func (f *fixture) prepared(t *testing.T, in *CheckInput) {
	t.Helper()
	current, ok := in.Token.CurrentProvider()
	if !ok {
		t.Fatal("no current provider")
	}
	if err := in.Token.MarkProviderPrepared(current); err != nil {
		t.Fatalf("mark prepared: %v", err)
	}
}

func (f *fixture) eventTypes() []event.Type {
	types := make([]event.Type, 0, len(*f.events))
	for _, e := range *f.events {
		types = append(types, e.Type)
	}
	return types
}

func singleRealm(t *testing.T) *realm.Config {
	t.Helper()
	return realm.MustNew(realm.Params{Name: "main"})
}

func multiRealm(t *testing.T) *realm.Config {
	t.Helper()
	return realm.MustNew(realm.Params{Name: "main", MultiFactor: true})
}

func TestCheckOutsideMfaSessionIsDenied(t *testing.T) {
	f := newFixture(t, map[string]*fakeStrategy{"email": {code: "123456"}})
	_, err := f.svc.Check(context.Background(), &CheckInput{Realm: singleRealm(t), Session: session.NewMemoryStore()})
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}

func TestCheckRequiresPreparedProvider(t *testing.T) {
	strategy := &fakeStrategy{code: "123456"}
	f := newFixture(t, map[string]*fakeStrategy{"email": strategy})
	in := f.input(t, singleRealm(t), "email")
	in.Code = "123456"

	_, err := f.svc.Check(context.Background(), in)
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if strategy.validateCalls != 0 {
		t.Fatalf("validate called %d times against an unissued challenge", strategy.validateCalls)
	}
}

func TestCheckSuccessUnwrapsSingleFactor(t *testing.T) {
	f := newFixture(t, map[string]*fakeStrategy{"email": {code: "123456"}, "totp": {code: "654321"}})
	in := f.input(t, singleRealm(t), "email", "totp")
	f.prepared(t, in)
	in.Code = "123456"

	res, err := f.svc.Check(context.Background(), in)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Complete {
		t.Fatal("any-one realm did not complete on first success")
	}
	if res.Principal == nil || res.Principal.ID() != "u-1" {
		t.Fatalf("unexpected principal: %+v", res.Principal)
	}
	if _, ok := res.Principal.(*token.MfaToken); ok {
		t.Fatal("principal is still wrapped")
	}
	if in.Token.Credentials() != "" {
		t.Fatal("credentials not erased")
	}

	types := f.eventTypes()
	want := []event.Type{event.TypeAttempt, event.TypeSuccess, event.TypeComplete}
	if len(types) != len(want) {
		t.Fatalf("events = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v, want %v", types, want)
		}
	}
}

func TestCheckMultiFactorRequiresAllProviders(t *testing.T) {
	f := newFixture(t, map[string]*fakeStrategy{"email": {code: "111111"}, "totp": {code: "222222"}})
	in := f.input(t, multiRealm(t), "email", "totp")
	f.prepared(t, in)
	in.Code = "111111"

	res, err := f.svc.Check(context.Background(), in)
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	if res.Complete {
		t.Fatal("completed with a provider still pending")
	}
	current, _ := res.Token.CurrentProvider()
	if current != "totp" {
		t.Fatalf("current provider = %q after first success", current)
	}

	f.prepared(t, in)
	in.Code = "222222"
	res, err = f.svc.Check(context.Background(), in)
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if !res.Complete {
		t.Fatal("did not complete after all providers")
	}
}

func TestCheckWrongCodeFails(t *testing.T) {
	f := newFixture(t, map[string]*fakeStrategy{"email": {code: "123456"}})
	in := f.input(t, singleRealm(t), "email")
	f.prepared(t, in)
	in.Code = "000000"

	_, err := f.svc.Check(context.Background(), in)
	if !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if in.Token.Credentials() != "" {
		t.Fatal("credentials not erased on failure")
	}
	current, ok := in.Token.CurrentProvider()
	if !ok || current != "email" {
		t.Fatal("session left the pending state on failure")
	}

	types := f.eventTypes()
	if len(types) != 2 || types[0] != event.TypeAttempt || types[1] != event.TypeFailure {
		t.Fatalf("events = %v", types)
	}
}

func TestCheckProviderLogicErrorFailsClosed(t *testing.T) {
	f := newFixture(t, map[string]*fakeStrategy{"email": {validateErr: provider.ErrProviderLogic}})
	in := f.input(t, singleRealm(t), "email")
	f.prepared(t, in)
	in.Code = "123456"

	if _, err := f.svc.Check(context.Background(), in); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
}

func TestCheckBackupCodeFallbackIsSingleUse(t *testing.T) {
	f := newFixture(t, map[string]*fakeStrategy{"email": {code: "123456"}})

	hasher := security.NewHasher(4)
	mgr := backup.NewManager(f.users, hasher)
	codes, err := mgr.Generate(context.Background(), f.user, 2)
	if err != nil {
		t.Fatalf("generate backup codes: %v", err)
	}

	in := f.input(t, singleRealm(t), "email")
	f.prepared(t, in)
	in.Code = codes[0]
	res, err := f.svc.Check(context.Background(), in)
	if err != nil {
		t.Fatalf("check with backup code: %v", err)
	}
	if !res.Complete {
		t.Fatal("backup code did not complete")
	}

	in2 := f.input(t, singleRealm(t), "email")
	f.prepared(t, in2)
	in2.Code = codes[0]
	if _, err := f.svc.Check(context.Background(), in2); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("reused backup code: expected ErrInvalidCode, got %v", err)
	}
}

func TestCheckCSRFFailureLooksLikeBadCode(t *testing.T) {
	strategy := &fakeStrategy{code: "123456"}
	f := newFixture(t, map[string]*fakeStrategy{"email": strategy})
	rl := realm.MustNew(realm.Params{Name: "main", CSRFEnabled: true})

	in := f.input(t, rl, "email")
	f.prepared(t, in)
	in.Code = "123456"
	in.CSRFToken = "forged"

	_, err := f.svc.Check(context.Background(), in)
	if !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if strategy.validateCalls != 0 {
		t.Fatal("code validated despite CSRF failure")
	}
}

func TestCheckCSRFSuccess(t *testing.T) {
	f := newFixture(t, map[string]*fakeStrategy{"email": {code: "123456"}})
	rl := realm.MustNew(realm.Params{Name: "main", CSRFEnabled: true})

	in := f.input(t, rl, "email")
	view, err := f.svc.Form(context.Background(), in)
	if err != nil {
		t.Fatalf("form: %v", err)
	}
	in.Code = "123456"
	in.CSRFToken = view.CSRFToken

	res, err := f.svc.Check(context.Background(), in)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Complete {
		t.Fatal("did not complete with a valid CSRF token")
	}
}

func TestThrottleBlocksAttemptBeforeValidation(t *testing.T) {
	strategy := &fakeStrategy{code: "123456"}
	f := newFixture(t, map[string]*fakeStrategy{"email": strategy})
	f.bus.Subscribe(throttle.NewListener(throttle.NewFixedWindowLimiter(time.Minute, 4)))

	in := f.input(t, singleRealm(t), "email")
	f.prepared(t, in)
	in.Code = "000000"

	for i := 0; i < 4; i++ {
		if _, err := f.svc.Check(context.Background(), in); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("attempt %d: expected ErrInvalidCode, got %v", i+1, err)
		}
	}
	if strategy.validateCalls != 4 {
		t.Fatalf("validate called %d times, want 4", strategy.validateCalls)
	}

	in.Code = "123456"
	in.Token = in.Token.WithCredentials(in.Code)
	if _, err := f.svc.Check(context.Background(), in); !errors.Is(err, throttle.ErrTooManyAttempts) {
		t.Fatalf("fifth attempt: expected ErrTooManyAttempts, got %v", err)
	}
	if strategy.validateCalls != 4 {
		t.Fatalf("validate ran on a throttled attempt (%d calls)", strategy.validateCalls)
	}
	if in.Token.Credentials() != "" {
		t.Fatal("throttled attempt left credentials on the token")
	}
}

func TestDeferredCookiesReplayExactlyOnce(t *testing.T) {
	f := newFixture(t, map[string]*fakeStrategy{"email": {code: "111111"}, "totp": {code: "222222"}})
	in := f.input(t, multiRealm(t), "email", "totp")
	DeferCookie(in.Token, "REMEMBERME=abc; Path=/; HttpOnly")
	DeferCookie(in.Token, "OTHER=def; Path=/")

	f.prepared(t, in)
	in.Code = "111111"
	res, err := f.svc.Check(context.Background(), in)
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	if len(res.DeferredCookies) != 0 {
		t.Fatalf("cookies released before completion: %v", res.DeferredCookies)
	}

	f.prepared(t, in)
	in.Code = "222222"
	res, err = f.svc.Check(context.Background(), in)
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if len(res.DeferredCookies) != 2 {
		t.Fatalf("deferred cookies = %v", res.DeferredCookies)
	}
	if res.DeferredCookies[0] != "REMEMBERME=abc; Path=/; HttpOnly" {
		t.Fatalf("cookie order lost: %v", res.DeferredCookies)
	}
	if _, ok := in.Token.Attribute("remember_me.cookie.0"); ok {
		t.Fatal("deferred cookie still on token after replay")
	}
}

func TestRememberMeImpliesTrustedDevice(t *testing.T) {
	f := newFixture(t, map[string]*fakeStrategy{"email": {code: "123456"}})
	rl := realm.MustNew(realm.Params{Name: "main", RememberMeSetsTrusted: true})

	in := f.input(t, rl, "email")
	DeferCookie(in.Token, "REMEMBERME=abc")
	f.prepared(t, in)
	in.Code = "123456"

	res, err := f.svc.Check(context.Background(), in)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.TrustDevice {
		t.Fatal("remember-me completion did not request device trust")
	}
}

func TestTrustRequestedPropagates(t *testing.T) {
	f := newFixture(t, map[string]*fakeStrategy{"email": {code: "123456"}})
	in := f.input(t, singleRealm(t), "email")
	f.prepared(t, in)
	in.Code = "123456"
	in.TrustRequested = true

	res, err := f.svc.Check(context.Background(), in)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.TrustDevice {
		t.Fatal("trust checkbox ignored")
	}
}

func TestFormPreparesIdempotently(t *testing.T) {
	strategy := &fakeStrategy{code: "123456"}
	f := newFixture(t, map[string]*fakeStrategy{"email": strategy})
	in := f.input(t, singleRealm(t), "email")

	view, err := f.svc.Form(context.Background(), in)
	if err != nil {
		t.Fatalf("form: %v", err)
	}
	if view.Provider != "email" || view.Template != "auth_code_form" {
		t.Fatalf("view = %+v", view)
	}
	if strategy.prepareCalls != 1 {
		t.Fatalf("prepare calls = %d", strategy.prepareCalls)
	}

	if _, err := f.svc.Form(context.Background(), in); err != nil {
		t.Fatalf("second form: %v", err)
	}
	if strategy.prepareCalls != 1 {
		t.Fatalf("re-rendering the form re-prepared the provider (%d calls)", strategy.prepareCalls)
	}

	types := f.eventTypes()
	if len(types) != 2 || types[0] != event.TypeForm || types[1] != event.TypeForm {
		t.Fatalf("events = %v", types)
	}
}

func TestFormOutsideMfaSessionIsDenied(t *testing.T) {
	f := newFixture(t, map[string]*fakeStrategy{"email": {code: "123456"}})
	_, err := f.svc.Form(context.Background(), &CheckInput{Realm: singleRealm(t), Session: session.NewMemoryStore()})
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}
