// Package token holds the credential model for an in-progress multi-factor
// authentication: the wrapped principal, the ordered set of providers still to
// be satisfied, and the preparation/completion bookkeeping the verification
// protocol relies on.
package token

import (
	"errors"
	"fmt"
)

// Sentinel errors for the token model; callers map them to protocol outcomes.
var (
	// ErrNoActiveProviders is returned when wrapping a principal with an
	// empty provider list. Callers must check applicability before wrapping.
	ErrNoActiveProviders = errors.New("no active providers to wrap")
	// ErrUnknownProvider is returned when an operation names a provider that
	// is not in the token's pending set.
	ErrUnknownProvider = errors.New("provider not in pending set")
	// ErrProviderNotPrepared is returned when a provider is completed before
	// its out-of-band challenge was issued.
	ErrProviderNotPrepared = errors.New("provider not prepared")
)

// Principal is the authenticated identity produced by the primary login
// mechanism. The gateway treats it as opaque beyond a stable identifier,
// roles, and attribute access.
type Principal interface {
	ID() string
	Roles() []string
	Attribute(key string) (string, bool)
	SetAttribute(key, value string)
}

// MfaToken wraps a fully-authenticated principal while one or more
// verification providers remain unsatisfied. It is the active session token
// for the whole detour; once the last pending provider completes, callers
// must replace it with the wrapped principal.
//
// MfaToken itself implements Principal so it can be stored as the session
// token, but it exposes no roles: the wrapped identity is not trusted until
// every pending provider is satisfied.
type MfaToken struct {
	wrapped     Principal
	credentials string
	realmName   string
	pending     []string
	prepared    map[string]bool
	attributes  map[string]string
}

// Wrap constructs a new in-progress token for principal in the given realm.
// activeProviders is the evaluation order; duplicates are collapsed keeping
// the first occurrence. Returns ErrNoActiveProviders for an empty list.
func Wrap(principal Principal, realmName string, activeProviders []string) (*MfaToken, error) {
	pending := make([]string, 0, len(activeProviders))
	seen := make(map[string]bool, len(activeProviders))
	for _, name := range activeProviders {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		pending = append(pending, name)
	}
	if len(pending) == 0 {
		return nil, ErrNoActiveProviders
	}
	return &MfaToken{
		wrapped:    principal,
		realmName:  realmName,
		pending:    pending,
		prepared:   make(map[string]bool),
		attributes: make(map[string]string),
	}, nil
}

// ID returns the wrapped principal's identifier.
func (t *MfaToken) ID() string {
	return t.wrapped.ID()
}

// Roles returns nil: a principal mid-MFA carries no authority.
func (t *MfaToken) Roles() []string {
	return nil
}

// Wrapped returns the fully-authenticated principal this token guards.
func (t *MfaToken) Wrapped() Principal {
	return t.wrapped
}

// RealmName identifies the authentication boundary this token belongs to.
func (t *MfaToken) RealmName() string {
	return t.realmName
}

// Credentials returns the most recently submitted one-time code, or "" after
// erasure.
func (t *MfaToken) Credentials() string {
	return t.credentials
}

// EraseCredentials clears the submitted code. Called after every validation
// attempt, success or failure.
func (t *MfaToken) EraseCredentials() {
	t.credentials = ""
}

// WithCredentials returns a copy of the token carrying code as its
// credentials. The receiver is not mutated, so the session copy and the
// in-flight copy of one request never alias.
func (t *MfaToken) WithCredentials(code string) *MfaToken {
	c := t.clone()
	c.credentials = code
	return c
}

// PendingProviders returns the providers still to be satisfied, in evaluation
// order. The returned slice is a copy.
func (t *MfaToken) PendingProviders() []string {
	out := make([]string, len(t.pending))
	copy(out, t.pending)
	return out
}

// CurrentProvider returns the first pending provider. ok is false only when
// all providers are complete.
func (t *MfaToken) CurrentProvider() (name string, ok bool) {
	if len(t.pending) == 0 {
		return "", false
	}
	return t.pending[0], true
}

// AllProvidersComplete reports whether no providers remain pending.
func (t *MfaToken) AllProvidersComplete() bool {
	return len(t.pending) == 0
}

// PreferProvider moves name to the front of the pending order without
// changing membership. Returns ErrUnknownProvider when name is not pending,
// since that indicates a stale or forged preference.
func (t *MfaToken) PreferProvider(name string) error {
	idx := -1
	for i, p := range t.pending {
		if p == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("prefer %q: %w", name, ErrUnknownProvider)
	}
	if idx == 0 {
		return nil
	}
	reordered := make([]string, 0, len(t.pending))
	reordered = append(reordered, name)
	reordered = append(reordered, t.pending[:idx]...)
	reordered = append(reordered, t.pending[idx+1:]...)
	t.pending = reordered
	return nil
}

// MarkProviderPrepared records that name's out-of-band challenge has been
// issued. Idempotent. Returns ErrUnknownProvider when name is not pending.
func (t *MfaToken) MarkProviderPrepared(name string) error {
	if !t.isPending(name) {
		return fmt.Errorf("prepare %q: %w", name, ErrUnknownProvider)
	}
	t.prepared[name] = true
	return nil
}

// IsProviderPrepared reports whether name's challenge has been issued for the
// current cycle.
func (t *MfaToken) IsProviderPrepared(name string) bool {
	return t.prepared[name]
}

// MarkProviderComplete removes name from the pending set. Preparation must
// precede completion: completing an unprepared provider would accept a
// response to a challenge that was never issued.
func (t *MfaToken) MarkProviderComplete(name string) error {
	if !t.isPending(name) {
		return fmt.Errorf("complete %q: %w", name, ErrUnknownProvider)
	}
	if !t.prepared[name] {
		return fmt.Errorf("complete %q: %w", name, ErrProviderNotPrepared)
	}
	for i, p := range t.pending {
		if p == name {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			break
		}
	}
	delete(t.prepared, name)
	return nil
}

// Attribute returns the cross-cutting flag stored under key.
func (t *MfaToken) Attribute(key string) (string, bool) {
	v, ok := t.attributes[key]
	return v, ok
}

// SetAttribute stores a cross-cutting flag on the token (e.g. a deferred
// remember-me cookie payload).
func (t *MfaToken) SetAttribute(key, value string) {
	t.attributes[key] = value
}

// RemoveAttribute deletes the flag stored under key.
func (t *MfaToken) RemoveAttribute(key string) {
	delete(t.attributes, key)
}

func (t *MfaToken) isPending(name string) bool {
	for _, p := range t.pending {
		if p == name {
			return true
		}
	}
	return false
}

func (t *MfaToken) clone() *MfaToken {
	c := &MfaToken{
		wrapped:     t.wrapped,
		credentials: t.credentials,
		realmName:   t.realmName,
		pending:     make([]string, len(t.pending)),
		prepared:    make(map[string]bool, len(t.prepared)),
		attributes:  make(map[string]string, len(t.attributes)),
	}
	copy(c.pending, t.pending)
	for k, v := range t.prepared {
		c.prepared[k] = v
	}
	for k, v := range t.attributes {
		c.attributes[k] = v
	}
	return c
}
