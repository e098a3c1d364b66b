// Package config loads and validates app config from env and an optional
// .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN; with an empty value the in-memory
	// repositories are used.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// SessionKey authenticates the session cookie. Required.
	SessionKey string `mapstructure:"SESSION_KEY"`
	// TrustedDeviceKey signs trusted-device entries. Required.
	TrustedDeviceKey string `mapstructure:"TRUSTED_DEVICE_KEY"`
	// TrustedDeviceTTL is the trusted-device entry lifetime (e.g. "1440h").
	TrustedDeviceTTL string `mapstructure:"TRUSTED_DEVICE_TTL"`
	// ExtendTrust renews a trusted-device entry on every qualifying bypass.
	ExtendTrust bool `mapstructure:"EXTEND_TRUST"`
	// Issuer labels TOTP provisioning URIs and trusted-device entries.
	Issuer string `mapstructure:"ISSUER"`
	// BcryptCost is the bcrypt cost factor (4-31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// RealmName names the single configured realm.
	RealmName string `mapstructure:"REALM_NAME"`
	// MultiFactor requires every applicable provider instead of any one.
	MultiFactor bool `mapstructure:"MULTI_FACTOR"`
	// CSRFEnabled turns on CSRF verification for the check endpoint.
	CSRFEnabled bool `mapstructure:"CSRF_ENABLED"`
	// PostSuccessRedirect is the redirect target after MFA completes.
	PostSuccessRedirect string `mapstructure:"POST_SUCCESS_REDIRECT"`
	// RememberMeSetsTrusted also marks the device trusted when a completed
	// session carried a deferred remember-me cookie.
	RememberMeSetsTrusted bool `mapstructure:"REMEMBER_ME_SETS_TRUSTED"`

	// IPAllowlist is a comma-separated list of IPs and CIDR ranges that
	// bypass MFA.
	IPAllowlist string `mapstructure:"IP_ALLOWLIST"`
	// BypassPolicy is an optional Rego policy deciding data.mfa.bypass.enforce.
	BypassPolicy string `mapstructure:"BYPASS_POLICY"`

	// ThrottleLimit is the attempt budget per key per window.
	ThrottleLimit int64 `mapstructure:"THROTTLE_LIMIT"`
	// ThrottleWindow is the throttle window (e.g. "1m").
	ThrottleWindow string `mapstructure:"THROTTLE_WINDOW"`
	// RedisAddr enables the Redis-backed throttle when set.
	RedisAddr string `mapstructure:"REDIS_ADDR"`

	// MailAPIKey authenticates against the mail delivery API.
	MailAPIKey string `mapstructure:"MAIL_API_KEY"`
	// MailAPIBaseURL is the mail delivery API endpoint.
	MailAPIBaseURL string `mapstructure:"MAIL_API_BASE_URL"`
	// MailSender is the from address for code emails.
	MailSender string `mapstructure:"MAIL_SENDER"`

	// WebAuthnRPID is the WebAuthn relying-party ID (e.g. "example.com").
	WebAuthnRPID string `mapstructure:"WEBAUTHN_RP_ID"`
	// WebAuthnRPOrigin is the allowed origin for WebAuthn ceremonies.
	WebAuthnRPOrigin string `mapstructure:"WEBAUTHN_RP_ORIGIN"`

	// MetricsAddr serves Prometheus metrics when set (e.g. :9090).
	MetricsAddr string `mapstructure:"METRICS_ADDR"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment via Viper. Missing .env is ignored. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SESSION_KEY", "")
	v.SetDefault("TRUSTED_DEVICE_KEY", "")
	v.SetDefault("TRUSTED_DEVICE_TTL", "1440h")
	v.SetDefault("EXTEND_TRUST", true)
	v.SetDefault("ISSUER", "mfa-gateway")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("REALM_NAME", "main")
	v.SetDefault("MULTI_FACTOR", false)
	v.SetDefault("CSRF_ENABLED", true)
	v.SetDefault("POST_SUCCESS_REDIRECT", "/")
	v.SetDefault("REMEMBER_ME_SETS_TRUSTED", false)
	v.SetDefault("IP_ALLOWLIST", "")
	v.SetDefault("BYPASS_POLICY", "")
	v.SetDefault("THROTTLE_LIMIT", 5)
	v.SetDefault("THROTTLE_WINDOW", "1m")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("MAIL_API_KEY", "")
	v.SetDefault("MAIL_API_BASE_URL", "")
	v.SetDefault("MAIL_SENDER", "")
	v.SetDefault("WEBAUTHN_RP_ID", "")
	v.SetDefault("WEBAUTHN_RP_ORIGIN", "")
	v.SetDefault("METRICS_ADDR", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.SessionKey == "" {
		return nil, errors.New("config: SESSION_KEY must be set")
	}
	if cfg.TrustedDeviceKey == "" {
		return nil, errors.New("config: TRUSTED_DEVICE_KEY must be set")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.ThrottleLimit <= 0 {
		return nil, errors.New("config: THROTTLE_LIMIT must be positive")
	}

	return &cfg, nil
}

// TrustedDeviceLifetime parses TrustedDeviceTTL. Returns 60 days if unset or
// invalid.
func (c *Config) TrustedDeviceLifetime() time.Duration {
	d, err := time.ParseDuration(c.TrustedDeviceTTL)
	if err != nil || d <= 0 {
		return 1440 * time.Hour
	}
	return d
}

// ThrottleWindowDuration parses ThrottleWindow. Returns 1m if unset or
// invalid.
func (c *Config) ThrottleWindowDuration() time.Duration {
	d, err := time.ParseDuration(c.ThrottleWindow)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// IPAllowlistEntries returns the allowlist as a slice, empty when unset.
func (c *Config) IPAllowlistEntries() []string {
	if c == nil || c.IPAllowlist == "" {
		return nil
	}
	parts := strings.Split(c.IPAllowlist, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
