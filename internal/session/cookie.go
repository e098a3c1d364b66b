package session

import (
	"context"
	"net/http"

	"github.com/gorilla/sessions"
)

// CookieStores opens cookie-backed Stores, one per request, over a
// gorilla/sessions backend.
type CookieStores struct {
	backend sessions.Store
	name    string
}

// NewCookieStores wraps backend. name is the session cookie name.
func NewCookieStores(backend sessions.Store, name string) *CookieStores {
	if name == "" {
		name = "mfa_session"
	}
	return &CookieStores{backend: backend, name: name}
}

// Open returns the request's session as a Store. Writes go to w on every Set
// and Remove; gorilla serializes the whole session into the cookie each time.
func (c *CookieStores) Open(r *http.Request, w http.ResponseWriter) (Store, error) {
	sess, err := c.backend.Get(r, c.name)
	if err != nil {
		// a bad or stale cookie yields a fresh session alongside the error
		if sess == nil {
			return nil, err
		}
	}
	return &cookieSession{sess: sess, r: r, w: w}, nil
}

type cookieSession struct {
	sess *sessions.Session
	r    *http.Request
	w    http.ResponseWriter
}

func (s *cookieSession) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := s.sess.Values[key].(string)
	return v, ok, nil
}

func (s *cookieSession) Set(ctx context.Context, key, value string) error {
	s.sess.Values[key] = value
	return s.sess.Save(s.r, s.w)
}

func (s *cookieSession) Remove(ctx context.Context, key string) error {
	delete(s.sess.Values, key)
	return s.sess.Save(s.r, s.w)
}
