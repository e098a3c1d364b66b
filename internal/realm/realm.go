// Package realm holds the per-firewall configuration consulted by the
// orchestration and verification layers. A Config is immutable once built;
// all access goes through read-only getters.
package realm

import (
	"fmt"
	"net/http"
	"time"
)

// CookieOptions describe the trusted-device cookie emitted for a realm.
type CookieOptions struct {
	Name     string
	Lifetime time.Duration
	Path     string
	Domain   string
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite
}

// Params are the raw settings a Config is built from. Zero values fall back
// to sensible defaults in New.
type Params struct {
	Name string

	// MultiFactor requires every applicable provider to complete. When
	// false, completing any one provider finishes the session.
	MultiFactor bool

	CheckPath string
	FormPath  string

	AuthCodeParam          string
	TrustedParam           string
	PreferredProviderParam string
	CSRFParam              string

	CSRFEnabled bool
	CSRFTokenID string

	PostSuccessRedirect string

	// RememberMeSetsTrusted marks the device trusted whenever a completed
	// session carried deferred remember-me cookies.
	RememberMeSetsTrusted bool

	TrustedCookie CookieOptions
}

// Config is the immutable resolved form of Params.
type Config struct {
	p Params
}

// New validates and freezes the given params into a Config.
func New(p Params) (*Config, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("realm name is required")
	}
	if p.CheckPath == "" {
		p.CheckPath = "/" + p.Name + "/mfa/check"
	}
	if p.FormPath == "" {
		p.FormPath = "/" + p.Name + "/mfa/form"
	}
	if p.AuthCodeParam == "" {
		p.AuthCodeParam = "auth_code"
	}
	if p.TrustedParam == "" {
		p.TrustedParam = "trusted"
	}
	if p.PreferredProviderParam == "" {
		p.PreferredProviderParam = "preferred_provider"
	}
	if p.CSRFParam == "" {
		p.CSRFParam = "csrf_token"
	}
	if p.CSRFEnabled && p.CSRFTokenID == "" {
		p.CSRFTokenID = "mfa"
	}
	if p.PostSuccessRedirect == "" {
		p.PostSuccessRedirect = "/"
	}
	if p.TrustedCookie.Name == "" {
		p.TrustedCookie.Name = "trusted_device"
	}
	if p.TrustedCookie.Lifetime == 0 {
		p.TrustedCookie.Lifetime = 60 * 24 * time.Hour
	}
	if p.TrustedCookie.Path == "" {
		p.TrustedCookie.Path = "/"
	}
	if p.TrustedCookie.SameSite == 0 {
		p.TrustedCookie.SameSite = http.SameSiteLaxMode
	}
	return &Config{p: p}, nil
}

// MustNew is New for static configuration that cannot fail.
func MustNew(p Params) *Config {
	c, err := New(p)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Config) Name() string                   { return c.p.Name }
func (c *Config) MultiFactor() bool              { return c.p.MultiFactor }
func (c *Config) CheckPath() string              { return c.p.CheckPath }
func (c *Config) FormPath() string               { return c.p.FormPath }
func (c *Config) AuthCodeParam() string          { return c.p.AuthCodeParam }
func (c *Config) TrustedParam() string           { return c.p.TrustedParam }
func (c *Config) PreferredProviderParam() string { return c.p.PreferredProviderParam }
func (c *Config) CSRFParam() string              { return c.p.CSRFParam }
func (c *Config) CSRFEnabled() bool              { return c.p.CSRFEnabled }
func (c *Config) CSRFTokenID() string            { return c.p.CSRFTokenID }
func (c *Config) PostSuccessRedirect() string    { return c.p.PostSuccessRedirect }
func (c *Config) RememberMeSetsTrusted() bool    { return c.p.RememberMeSetsTrusted }

// TrustedCookie returns a copy of the trusted-device cookie options.
func (c *Config) TrustedCookie() CookieOptions { return c.p.TrustedCookie }
