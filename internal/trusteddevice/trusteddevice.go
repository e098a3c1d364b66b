// Package trusteddevice issues and verifies the signed trusted-device cookie.
// The cookie value is a semicolon-delimited list of per-(subject, realm) JWTs;
// storage is entirely client-side, so invalidating every device for a subject
// is a single version bump on the user record.
package trusteddevice

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a trusted-device entry is malformed,
// expired, or carries a bad signature.
var ErrInvalidToken = errors.New("invalid trusted device token")

// deviceClaims is the payload of a single trusted-device entry.
type deviceClaims struct {
	jwt.RegisteredClaims
	Realm   string `json:"realm"`
	Version int    `json:"version"`
}

// Manager signs and verifies trusted-device entries with an HS256 key.
type Manager struct {
	key      []byte
	issuer   string
	lifetime time.Duration
}

// NewManager returns a Manager. lifetime bounds each issued entry's validity.
func NewManager(key []byte, issuer string, lifetime time.Duration) *Manager {
	if lifetime == 0 {
		lifetime = 60 * 24 * time.Hour
	}
	return &Manager{key: key, issuer: issuer, lifetime: lifetime}
}

func (m *Manager) issue(subjectID, realmName string, version int) (string, error) {
	now := time.Now().UTC()
	claims := deviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.lifetime)),
		},
		Realm:   realmName,
		Version: version,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.key)
}

func (m *Manager) parse(raw string) (*deviceClaims, error) {
	token, err := jwt.ParseWithClaims(raw, &deviceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.key, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*deviceClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if m.issuer != "" && claims.Issuer != m.issuer {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

type entry struct {
	raw    string
	claims *deviceClaims
}

// TokenSet is the parsed form of one client's trusted-device cookie. A set is
// request-scoped and not safe for concurrent use.
type TokenSet struct {
	m       *Manager
	entries []entry
	dirty   bool
}

// ParseCookie splits the cookie value on ";" and verifies each entry.
// Entries that fail verification are dropped and the set is marked dirty so
// the cookie gets rewritten without them.
func (m *Manager) ParseCookie(value string) *TokenSet {
	set := &TokenSet{m: m}
	for _, raw := range strings.Split(value, ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		claims, err := m.parse(raw)
		if err != nil {
			set.dirty = true
			continue
		}
		set.entries = append(set.entries, entry{raw: raw, claims: claims})
	}
	return set
}

// IsTrusted reports whether the set holds a valid entry for (subjectID,
// realmName) at exactly currentVersion. Entries for the pair at any other
// version are pruned.
func (s *TokenSet) IsTrusted(subjectID, realmName string, currentVersion int) bool {
	trusted := false
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.claims.Subject == subjectID && e.claims.Realm == realmName {
			if e.claims.Version != currentVersion {
				s.dirty = true
				continue
			}
			trusted = true
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return trusted
}

// Add issues a fresh entry for (subjectID, realmName), replacing any existing
// entry for the pair, and marks the set dirty.
func (s *TokenSet) Add(subjectID, realmName string, version int) error {
	raw, err := s.m.issue(subjectID, realmName, version)
	if err != nil {
		return err
	}
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.claims.Subject == subjectID && e.claims.Realm == realmName {
			continue
		}
		kept = append(kept, e)
	}
	claims, err := s.m.parse(raw)
	if err != nil {
		return err
	}
	s.entries = append(kept, entry{raw: raw, claims: claims})
	s.dirty = true
	return nil
}

// Dirty reports whether the cookie needs rewriting.
func (s *TokenSet) Dirty() bool { return s.dirty }

// CookieValue renders the set back into its semicolon-delimited cookie form.
func (s *TokenSet) CookieValue() string {
	raws := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		raws = append(raws, e.raw)
	}
	return strings.Join(raws, ";")
}
