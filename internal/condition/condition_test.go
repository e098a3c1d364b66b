package condition

import (
	"context"
	"errors"
	"testing"
	"time"

	"mfa-gateway/internal/realm"
	"mfa-gateway/internal/trusteddevice"
	"mfa-gateway/internal/user/domain"
)

func testRequest(t *testing.T) *Request {
	t.Helper()
	return &Request{
		Realm:     realm.MustNew(realm.Params{Name: "main"}),
		User:      &domain.User{ID: "u-1", TrustedDeviceVersion: 1},
		TokenType: "form_login",
		ClientIP:  "203.0.113.7",
	}
}

func TestChainShortCircuitsOnFirstBypass(t *testing.T) {
	calls := 0
	veto := Func(func(ctx context.Context, req *Request) (bool, error) {
		calls++
		return false, nil
	})
	never := Func(func(ctx context.Context, req *Request) (bool, error) {
		t.Fatal("condition after bypass was evaluated")
		return true, nil
	})

	enforce, err := NewChain(veto, never).ShouldEnforce(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if enforce {
		t.Fatal("expected bypass")
	}
	if calls != 1 {
		t.Fatalf("veto evaluated %d times", calls)
	}
}

func TestChainEnforcesWhenAllAgree(t *testing.T) {
	enforce, err := NewChain(AlwaysEnforce{}, AlwaysEnforce{}).ShouldEnforce(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if !enforce {
		t.Fatal("expected enforce")
	}
}

func TestChainPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	failing := Func(func(ctx context.Context, req *Request) (bool, error) {
		return false, boom
	})
	if _, err := NewChain(failing).ShouldEnforce(context.Background(), testRequest(t)); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestTokenTypeAllowlist(t *testing.T) {
	c := NewTokenTypeAllowlist("form_login")

	req := testRequest(t)
	enforce, err := c.ShouldEnforce(context.Background(), req)
	if err != nil || !enforce {
		t.Fatalf("form_login: enforce=%v err=%v", enforce, err)
	}

	req.TokenType = "api_token"
	enforce, err = c.ShouldEnforce(context.Background(), req)
	if err != nil || enforce {
		t.Fatalf("api_token: enforce=%v err=%v", enforce, err)
	}
}

func TestIPAllowlist(t *testing.T) {
	c, err := NewIPAllowlist("10.0.0.0/8", "192.0.2.1")
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	tests := []struct {
		ip      string
		enforce bool
	}{
		{"10.1.2.3", false},
		{"192.0.2.1", false},
		{"203.0.113.7", true},
		{"not-an-ip", true},
		{"", true},
	}
	for _, tt := range tests {
		req := testRequest(t)
		req.ClientIP = tt.ip
		enforce, err := c.ShouldEnforce(context.Background(), req)
		if err != nil {
			t.Fatalf("ip %q: %v", tt.ip, err)
		}
		if enforce != tt.enforce {
			t.Fatalf("ip %q: enforce=%v, want %v", tt.ip, enforce, tt.enforce)
		}
	}

	if _, err := NewIPAllowlist("999.999.0.0"); err == nil {
		t.Fatal("expected error for invalid entry")
	}
}

func TestTrustedDeviceBypassesAndRenews(t *testing.T) {
	m := trusteddevice.NewManager([]byte("key"), "mfa-gateway", time.Hour)
	set := m.ParseCookie("")
	if err := set.Add("u-1", "main", 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	devices := m.ParseCookie(set.CookieValue())

	req := testRequest(t)
	req.Devices = devices

	c := NewTrustedDevice(true)
	enforce, err := c.ShouldEnforce(context.Background(), req)
	if err != nil {
		t.Fatalf("should enforce: %v", err)
	}
	if enforce {
		t.Fatal("trusted device did not bypass")
	}
	if !devices.Dirty() {
		t.Fatal("extend-trust bypass did not renew the entry")
	}
}

func TestTrustedDeviceEnforcesWithoutCookie(t *testing.T) {
	c := NewTrustedDevice(false)
	enforce, err := c.ShouldEnforce(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("should enforce: %v", err)
	}
	if !enforce {
		t.Fatal("bypassed without a trusted-device cookie")
	}
}

func TestTrustedDeviceEnforcesOnVersionMismatch(t *testing.T) {
	m := trusteddevice.NewManager([]byte("key"), "mfa-gateway", time.Hour)
	set := m.ParseCookie("")
	if err := set.Add("u-1", "main", 1); err != nil {
		t.Fatalf("add: %v", err)
	}

	req := testRequest(t)
	req.User.TrustedDeviceVersion = 2
	req.Devices = m.ParseCookie(set.CookieValue())

	c := NewTrustedDevice(true)
	enforce, err := c.ShouldEnforce(context.Background(), req)
	if err != nil {
		t.Fatalf("should enforce: %v", err)
	}
	if !enforce {
		t.Fatal("stale device version bypassed")
	}
}
