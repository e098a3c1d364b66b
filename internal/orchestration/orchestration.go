// Package orchestration decides, right after primary authentication, whether
// a session enters MFA. Layers apply in a fixed order: token-type filter,
// condition chain, trusted-device short-circuit, provider fan-out. A session
// that any layer excuses keeps its original principal; callers cannot tell
// which layer excused it.
package orchestration

import (
	"context"
	"errors"
	"fmt"

	"mfa-gateway/internal/condition"
	"mfa-gateway/internal/event"
	"mfa-gateway/internal/provider"
	"mfa-gateway/internal/realm"
	"mfa-gateway/internal/token"
	"mfa-gateway/internal/trusteddevice"
	"mfa-gateway/internal/user/domain"
)

// Request carries everything BeginAuthentication inspects.
type Request struct {
	Principal token.Principal
	User      *domain.User
	Realm     *realm.Config

	// TokenType names the primary-authentication mechanism, e.g.
	// "form_login" or "api_token".
	TokenType string

	ClientIP string

	// Devices is the parsed trusted-device cookie, nil when absent.
	Devices *trusteddevice.TokenSet

	// PreferredProvider is the user-submitted provider choice. A stale or
	// unknown value is ignored, never an error.
	PreferredProvider string
}

// Service runs the begin-authentication layering.
type Service struct {
	registry    *provider.Registry
	conditions  *condition.Chain
	bus         *event.Bus
	supported   map[string]bool
	extendTrust bool
}

// NewService wires the layers. supportedTokenTypes lists the primary token
// types that can enter MFA; empty means all types qualify.
func NewService(registry *provider.Registry, conditions *condition.Chain, bus *event.Bus, extendTrust bool, supportedTokenTypes ...string) *Service {
	supported := make(map[string]bool, len(supportedTokenTypes))
	for _, t := range supportedTokenTypes {
		supported[t] = true
	}
	return &Service{
		registry:    registry,
		conditions:  conditions,
		bus:         bus,
		supported:   supported,
		extendTrust: extendTrust,
	}
}

// BeginAuthentication returns either req.Principal untouched, meaning no MFA
// is needed, or a freshly wrapped token holding the session's pending
// providers.
func (s *Service) BeginAuthentication(ctx context.Context, req *Request) (token.Principal, error) {
	if req.Principal == nil || req.User == nil || req.Realm == nil {
		return nil, fmt.Errorf("orchestration: principal, user, and realm are required")
	}

	// Already inside an MFA session; never wrap twice.
	if _, ok := req.Principal.(*token.MfaToken); ok {
		return req.Principal, nil
	}
	if len(s.supported) > 0 && !s.supported[req.TokenType] {
		return req.Principal, nil
	}

	if s.conditions != nil {
		enforce, err := s.conditions.ShouldEnforce(ctx, &condition.Request{
			Realm:     req.Realm,
			User:      req.User,
			TokenType: req.TokenType,
			ClientIP:  req.ClientIP,
			Devices:   req.Devices,
		})
		if err != nil {
			return nil, fmt.Errorf("evaluate conditions: %w", err)
		}
		if !enforce {
			return req.Principal, nil
		}
	}

	if req.Devices != nil && req.Devices.IsTrusted(req.User.ID, req.Realm.Name(), req.User.TrustedDeviceVersion) {
		if s.extendTrust {
			if err := req.Devices.Add(req.User.ID, req.Realm.Name(), req.User.TrustedDeviceVersion); err != nil {
				return nil, fmt.Errorf("renew trusted device: %w", err)
			}
		}
		return req.Principal, nil
	}

	active := s.registry.ActiveFor(ctx, req.User)
	if len(active) == 0 {
		return req.Principal, nil
	}

	t, err := token.Wrap(req.Principal, req.Realm.Name(), active)
	if err != nil {
		return nil, fmt.Errorf("wrap principal: %w", err)
	}

	preferred := req.PreferredProvider
	if preferred == "" {
		preferred = req.User.PreferredProvider
	}
	if preferred != "" {
		if err := t.PreferProvider(preferred); err != nil && !errors.Is(err, token.ErrUnknownProvider) {
			return nil, err
		}
	}

	current, _ := t.CurrentProvider()
	if s.bus != nil {
		if err := s.bus.Dispatch(ctx, event.Event{
			Type:      event.TypeRequire,
			RealmName: req.Realm.Name(),
			SubjectID: req.User.ID,
			Provider:  current,
			ClientKey: req.ClientIP,
		}); err != nil {
			return nil, err
		}
	}
	return t, nil
}
