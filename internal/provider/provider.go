// Package provider defines the pluggable verification strategy contract and
// the registry the orchestration and verification layers resolve strategies
// from. New factors register an entry; no core code changes required.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mfa-gateway/internal/user/domain"
)

// Sentinel errors; the verification protocol maps them to generic responses.
var (
	// ErrProviderNotFound is a registry lookup miss. Always a configuration
	// fault: a token referencing an unregistered provider means the
	// deployment drifted, and it surfaces as an authentication failure
	// rather than a silent skip.
	ErrProviderNotFound = errors.New("provider not registered")
	// ErrProviderLogic means a strategy cannot construct its verification
	// material (e.g. TOTP requested with an empty secret). Providers fail
	// closed on it.
	ErrProviderLogic = errors.New("provider cannot build verification material")
)

// Strategy is one verification factor.
type Strategy interface {
	// IsApplicable reports whether this factor is active for the user. Pure
	// decision, no side effects.
	IsApplicable(ctx context.Context, u *domain.User) bool
	// Prepare runs the out-of-band challenge step (e.g. emailing a code).
	// Callers must skip it when the token already marks the provider
	// prepared for the current cycle.
	Prepare(ctx context.Context, u *domain.User) error
	// Validate compares the submitted code against the expected value.
	// Implementations strip incidental whitespace from the input before
	// comparing and must not mutate user state on the validation path.
	Validate(ctx context.Context, u *domain.User, code string) (bool, error)
	// FormTemplate names the template the form endpoint renders for this
	// factor.
	FormTemplate() string
}

// Registry maps provider names to strategies. Registration order is
// significant: it determines the pending-provider order when several factors
// activate at once.
type Registry struct {
	order  []string
	byName map[string]Strategy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Strategy)}
}

// Register adds a named strategy. Duplicate names are rejected.
func (r *Registry) Register(name string, s Strategy) error {
	if name == "" {
		return errors.New("provider name is required")
	}
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.byName[name] = s
	r.order = append(r.order, name)
	return nil
}

// MustRegister is Register that panics on error; for wiring at startup.
func (r *Registry) MustRegister(name string, s Strategy) {
	if err := r.Register(name, s); err != nil {
		panic(err)
	}
}

// Get returns the strategy registered under name, or ErrProviderNotFound.
func (r *Registry) Get(name string) (Strategy, error) {
	s, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, name)
	}
	return s, nil
}

// Names returns the registered provider names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ActiveFor returns the names of all strategies applicable to the user, in
// registration order.
func (r *Registry) ActiveFor(ctx context.Context, u *domain.User) []string {
	var active []string
	for _, name := range r.order {
		if r.byName[name].IsApplicable(ctx, u) {
			active = append(active, name)
		}
	}
	return active
}

// NormalizeCode strips surrounding whitespace from user-submitted codes.
// Authenticator apps and mail clients routinely introduce it; this is the
// documented input normalization, applied by every strategy.
func NormalizeCode(code string) string {
	return strings.TrimSpace(code)
}
