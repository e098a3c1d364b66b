package token

import (
	"encoding/json"
	"errors"
	"fmt"
)

// codecVersion is bumped whenever the envelope layout changes; decoders
// reject versions they do not understand rather than guessing.
const codecVersion = 1

// ErrUnknownPrincipalType is returned when decoding a token whose principal
// type tag has no registered codec.
var ErrUnknownPrincipalType = errors.New("unknown principal type")

// PrincipalCodec encodes and decodes one concrete Principal implementation.
// The wrapped principal is polymorphic, so every implementation that can end
// up inside an MfaToken registers a codec under a stable type tag.
type PrincipalCodec interface {
	// Type is the stable tag written into the envelope.
	Type() string
	// Matches reports whether this codec handles the given principal.
	Matches(p Principal) bool
	Encode(p Principal) ([]byte, error)
	Decode(raw []byte) (Principal, error)
}

// Codec serializes MfaTokens for session storage with an explicit, versioned
// field layout. Default struct serialization is deliberately avoided: the
// wrapped principal needs a type tag to reconstruct correctly.
type Codec struct {
	order  []string
	byType map[string]PrincipalCodec
}

// NewCodec returns a Codec with the UserPrincipal codec pre-registered.
func NewCodec() *Codec {
	c := &Codec{byType: make(map[string]PrincipalCodec)}
	c.MustRegister(userPrincipalCodec{})
	return c
}

// Register adds a principal codec. Registering a duplicate type tag is an
// error.
func (c *Codec) Register(pc PrincipalCodec) error {
	if _, ok := c.byType[pc.Type()]; ok {
		return fmt.Errorf("principal codec %q already registered", pc.Type())
	}
	c.byType[pc.Type()] = pc
	c.order = append(c.order, pc.Type())
	return nil
}

// MustRegister is Register that panics on error; for wiring at startup.
func (c *Codec) MustRegister(pc PrincipalCodec) {
	if err := c.Register(pc); err != nil {
		panic(err)
	}
}

type envelope struct {
	V             int               `json:"v"`
	Realm         string            `json:"realm"`
	PrincipalType string            `json:"principal_type"`
	Principal     json.RawMessage   `json:"principal"`
	Credentials   string            `json:"credentials,omitempty"`
	Pending       []string          `json:"pending"`
	Prepared      []string          `json:"prepared,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// Encode serializes the token. The prepared set is written in pending order
// so encode/decode round-trips are byte-stable.
func (c *Codec) Encode(t *MfaToken) ([]byte, error) {
	pc := c.codecFor(t.wrapped)
	if pc == nil {
		return nil, fmt.Errorf("encode token: %w (%T)", ErrUnknownPrincipalType, t.wrapped)
	}
	rawPrincipal, err := pc.Encode(t.wrapped)
	if err != nil {
		return nil, fmt.Errorf("encode principal: %w", err)
	}
	env := envelope{
		V:             codecVersion,
		Realm:         t.realmName,
		PrincipalType: pc.Type(),
		Principal:     rawPrincipal,
		Credentials:   t.credentials,
		Pending:       t.PendingProviders(),
	}
	for _, name := range t.pending {
		if t.prepared[name] {
			env.Prepared = append(env.Prepared, name)
		}
	}
	if len(t.attributes) > 0 {
		env.Attributes = t.attributes
	}
	return json.Marshal(env)
}

// Decode reconstructs a token previously produced by Encode.
func (c *Codec) Decode(raw []byte) (*MfaToken, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if env.V != codecVersion {
		return nil, fmt.Errorf("decode token: unsupported version %d", env.V)
	}
	pc, ok := c.byType[env.PrincipalType]
	if !ok {
		return nil, fmt.Errorf("decode token: %w (%q)", ErrUnknownPrincipalType, env.PrincipalType)
	}
	principal, err := pc.Decode(env.Principal)
	if err != nil {
		return nil, fmt.Errorf("decode principal: %w", err)
	}
	t, err := Wrap(principal, env.Realm, env.Pending)
	if err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	t.credentials = env.Credentials
	for _, name := range env.Prepared {
		t.prepared[name] = true
	}
	for k, v := range env.Attributes {
		t.attributes[k] = v
	}
	return t, nil
}

func (c *Codec) codecFor(p Principal) PrincipalCodec {
	for _, tag := range c.order {
		if pc := c.byType[tag]; pc.Matches(p) {
			return pc
		}
	}
	return nil
}

type userPrincipalCodec struct{}

type userPrincipalPayload struct {
	UserID string            `json:"user_id"`
	Email  string            `json:"email,omitempty"`
	Roles  []string          `json:"roles,omitempty"`
	Attrs  map[string]string `json:"attrs,omitempty"`
}

func (userPrincipalCodec) Type() string { return "user" }

func (userPrincipalCodec) Matches(p Principal) bool {
	_, ok := p.(*UserPrincipal)
	return ok
}

func (userPrincipalCodec) Encode(p Principal) ([]byte, error) {
	up, ok := p.(*UserPrincipal)
	if !ok {
		return nil, fmt.Errorf("user principal codec: unexpected type %T", p)
	}
	return json.Marshal(userPrincipalPayload{
		UserID: up.UserID,
		Email:  up.Email,
		Roles:  up.RoleNames,
		Attrs:  up.Attrs,
	})
}

func (userPrincipalCodec) Decode(raw []byte) (Principal, error) {
	var payload userPrincipalPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	p := NewUserPrincipal(payload.UserID, payload.Email, payload.Roles)
	for k, v := range payload.Attrs {
		p.Attrs[k] = v
	}
	return p, nil
}
