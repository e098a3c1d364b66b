// Package condition decides whether a freshly authenticated session must
// perform MFA at all. Conditions answer "should we even try"; the
// orchestration layer answers "what do we do about it". New bypass rules are
// added here without touching orchestration.
package condition

import (
	"context"
	"fmt"
	"net"

	"mfa-gateway/internal/realm"
	"mfa-gateway/internal/trusteddevice"
	"mfa-gateway/internal/user/domain"
)

// Request carries the request-scoped facts conditions inspect.
type Request struct {
	Realm *realm.Config
	User  *domain.User

	// TokenType names how the primary authentication was performed, e.g.
	// "form_login" or "api_token".
	TokenType string

	// ClientIP is the resolved client address, X-Forwarded-For already
	// applied by the transport layer.
	ClientIP string

	// Devices is the parsed trusted-device cookie, nil when the client
	// presented none.
	Devices *trusteddevice.TokenSet
}

// Condition is a single enforce-or-bypass predicate.
type Condition interface {
	ShouldEnforce(ctx context.Context, req *Request) (bool, error)
}

// Func adapts a function to the Condition interface.
type Func func(ctx context.Context, req *Request) (bool, error)

// ShouldEnforce calls f.
func (f Func) ShouldEnforce(ctx context.Context, req *Request) (bool, error) {
	return f(ctx, req)
}

// Chain AND-composes conditions in order. The first condition voting bypass
// short-circuits the rest.
type Chain struct {
	conditions []Condition
}

// NewChain returns a chain over the given conditions. An empty chain always
// enforces.
func NewChain(conditions ...Condition) *Chain {
	return &Chain{conditions: conditions}
}

// ShouldEnforce runs the chain. Errors abort evaluation and fail closed at
// the caller.
func (c *Chain) ShouldEnforce(ctx context.Context, req *Request) (bool, error) {
	for _, cond := range c.conditions {
		enforce, err := cond.ShouldEnforce(ctx, req)
		if err != nil {
			return false, err
		}
		if !enforce {
			return false, nil
		}
	}
	return true, nil
}

// TokenTypeAllowlist enforces MFA only for the listed primary-authentication
// token types. Sessions established through other mechanisms, such as API
// tokens, bypass MFA.
type TokenTypeAllowlist struct {
	allowed map[string]bool
}

// NewTokenTypeAllowlist returns the allowlist condition.
func NewTokenTypeAllowlist(types ...string) *TokenTypeAllowlist {
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	return &TokenTypeAllowlist{allowed: allowed}
}

// ShouldEnforce votes bypass for token types outside the allowlist.
func (c *TokenTypeAllowlist) ShouldEnforce(ctx context.Context, req *Request) (bool, error) {
	return c.allowed[req.TokenType], nil
}

// IPAllowlist bypasses MFA for clients inside the configured networks.
type IPAllowlist struct {
	nets []*net.IPNet
	ips  []net.IP
}

// NewIPAllowlist parses the given addresses and CIDR ranges.
func NewIPAllowlist(entries ...string) (*IPAllowlist, error) {
	c := &IPAllowlist{}
	for _, e := range entries {
		if _, ipnet, err := net.ParseCIDR(e); err == nil {
			c.nets = append(c.nets, ipnet)
			continue
		}
		ip := net.ParseIP(e)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP allowlist entry %q", e)
		}
		c.ips = append(c.ips, ip)
	}
	return c, nil
}

// ShouldEnforce votes bypass when the client IP matches an allowlist entry.
// Unparseable client addresses always enforce.
func (c *IPAllowlist) ShouldEnforce(ctx context.Context, req *Request) (bool, error) {
	ip := net.ParseIP(req.ClientIP)
	if ip == nil {
		return true, nil
	}
	for _, allowed := range c.ips {
		if allowed.Equal(ip) {
			return false, nil
		}
	}
	for _, ipnet := range c.nets {
		if ipnet.Contains(ip) {
			return false, nil
		}
	}
	return true, nil
}

// TrustedDevice bypasses MFA when the client presents a valid trusted-device
// entry for (user, realm) at the user's current version. With extendTrust the
// entry is renewed on every qualifying bypass, keeping regularly used devices
// trusted indefinitely.
type TrustedDevice struct {
	extendTrust bool
}

// NewTrustedDevice returns the trusted-device condition.
func NewTrustedDevice(extendTrust bool) *TrustedDevice {
	return &TrustedDevice{extendTrust: extendTrust}
}

// ShouldEnforce votes bypass for trusted devices.
func (c *TrustedDevice) ShouldEnforce(ctx context.Context, req *Request) (bool, error) {
	if req.Devices == nil || req.User == nil {
		return true, nil
	}
	if !req.Devices.IsTrusted(req.User.ID, req.Realm.Name(), req.User.TrustedDeviceVersion) {
		return true, nil
	}
	if c.extendTrust {
		if err := req.Devices.Add(req.User.ID, req.Realm.Name(), req.User.TrustedDeviceVersion); err != nil {
			return false, fmt.Errorf("renew trusted device: %w", err)
		}
	}
	return false, nil
}

// AlwaysEnforce is the default tail condition.
type AlwaysEnforce struct{}

// ShouldEnforce always votes enforce.
func (AlwaysEnforce) ShouldEnforce(ctx context.Context, req *Request) (bool, error) {
	return true, nil
}
