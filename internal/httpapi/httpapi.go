// Package httpapi exposes the gateway over HTTP: a login entry that runs the
// primary password check and begins MFA, plus the per-realm check and form
// endpoints. Every failure maps to a generic response; the audit trail keeps
// the distinguishable detail.
package httpapi

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"mfa-gateway/internal/orchestration"
	"mfa-gateway/internal/realm"
	"mfa-gateway/internal/request"
	"mfa-gateway/internal/security"
	"mfa-gateway/internal/session"
	"mfa-gateway/internal/throttle"
	"mfa-gateway/internal/token"
	"mfa-gateway/internal/trusteddevice"
	"mfa-gateway/internal/user/domain"
	userrepo "mfa-gateway/internal/user/repository"
	"mfa-gateway/internal/verify"
)

const (
	sessionTokenKey = "mfa_token"
	sessionUserKey  = "auth_user"

	rememberCookieName = "REMEMBERME"
	tokenTypeFormLogin = "form_login"
)

// SessionOpener yields the request's session store. session.CookieStores
// implements it.
type SessionOpener interface {
	Open(r *http.Request, w http.ResponseWriter) (session.Store, error)
}

// Server wires the gateway's HTTP surface.
type Server struct {
	realm    *realm.Config
	users    userrepo.Repository
	orch     *orchestration.Service
	verifier *verify.Service
	sessions SessionOpener
	devices  *trusteddevice.Manager
	codec    *token.Codec
	hasher   *security.Hasher

	// RememberMeLifetime bounds the deferred remember-me cookie.
	RememberMeLifetime time.Duration
}

// NewServer returns a Server over the given collaborators.
func NewServer(rl *realm.Config, users userrepo.Repository, orch *orchestration.Service, verifier *verify.Service, sessions SessionOpener, devices *trusteddevice.Manager, codec *token.Codec, hasher *security.Hasher) *Server {
	return &Server{
		realm:              rl,
		users:              users,
		orch:               orch,
		verifier:           verifier,
		sessions:           sessions,
		devices:            devices,
		codec:              codec,
		hasher:             hasher,
		RememberMeLifetime: 30 * 24 * time.Hour,
	}
}

// Router builds the mux router for the realm.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc(s.realm.CheckPath(), s.handleCheck).Methods(http.MethodPost)
	r.HandleFunc(s.realm.FormPath(), s.handleForm).Methods(http.MethodGet)
	return r
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vals, err := request.Parse(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request"})
		return
	}
	email, _ := vals.Get("email")
	password, _ := vals.Get("password")
	remember := isTruthy(vals, "remember_me")
	preferred, _ := vals.Get(s.realm.PreferredProviderParam())

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if u == nil || u.Status != domain.UserStatusActive || u.PasswordHash == "" ||
		s.hasher.Compare(u.PasswordHash, []byte(password)) != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication failed"})
		return
	}

	devices := s.readDevices(r)
	principal := token.NewUserPrincipal(u.ID, u.Email, u.Roles)
	out, err := s.orch.BeginAuthentication(ctx, &orchestration.Request{
		Principal:         principal,
		User:              u,
		Realm:             s.realm,
		TokenType:         tokenTypeFormLogin,
		ClientIP:          clientIP(r),
		Devices:           devices,
		PreferredProvider: preferred,
	})
	if err != nil {
		s.internalError(w, err)
		return
	}

	// Issue the remember-me cookie through a capture writer so it can be
	// held back while MFA is pending.
	capture := newCookieCapture(w, rememberCookieName)
	if remember {
		http.SetCookie(capture, s.rememberCookie(u))
	}

	sess, err := s.sessions.Open(r, w)
	if err != nil {
		s.internalError(w, err)
		return
	}

	if mfa, ok := out.(*token.MfaToken); ok {
		for _, c := range capture.Take() {
			verify.DeferCookie(mfa, c)
		}
		raw, err := s.codec.Encode(mfa)
		if err != nil {
			s.internalError(w, err)
			return
		}
		if err := sess.Set(ctx, sessionTokenKey, string(raw)); err != nil {
			s.internalError(w, err)
			return
		}
		s.writeDevices(w, devices)
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "mfa_required",
			"form":   s.realm.FormPath(),
		})
		return
	}

	capture.Release()
	if err := sess.Set(ctx, sessionUserKey, u.ID); err != nil {
		s.internalError(w, err)
		return
	}
	s.writeDevices(w, devices)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"redirect": s.realm.PostSuccessRedirect(),
	})
}

func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, err := s.sessions.Open(r, w)
	if err != nil {
		s.internalError(w, err)
		return
	}
	tok, u, ok := s.loadToken(ctx, w, sess)
	if !ok {
		return
	}

	view, err := s.verifier.Form(ctx, &verify.CheckInput{
		Token:     tok,
		User:      u,
		Realm:     s.realm,
		ClientKey: clientIP(r),
		Session:   sess,
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if !s.storeToken(ctx, w, sess, tok) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"provider":            view.Provider,
		"template":            view.Template,
		"available_providers": view.AvailableProviders,
		"auth_code_param":     view.AuthCodeParam,
		"trusted_param":       view.TrustedParam,
		"csrf_param":          view.CSRFParam,
		"csrf_token":          view.CSRFToken,
		"check_path":          view.CheckPath,
	})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vals, err := request.Parse(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request"})
		return
	}
	sess, err := s.sessions.Open(r, w)
	if err != nil {
		s.internalError(w, err)
		return
	}
	tok, u, ok := s.loadToken(ctx, w, sess)
	if !ok {
		return
	}

	code, err := vals.Get(s.realm.AuthCodeParam())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request"})
		return
	}
	csrfToken, _ := vals.Get(s.realm.CSRFParam())

	// The code rides the token as its credentials for the attempt; the
	// verifier erases it before the token goes back to the session.
	tok = tok.WithCredentials(code)

	res, err := s.verifier.Check(ctx, &verify.CheckInput{
		Token:          tok,
		User:           u,
		Realm:          s.realm,
		Code:           code,
		CSRFToken:      csrfToken,
		TrustRequested: isTruthy(vals, s.realm.TrustedParam()),
		ClientKey:      clientIP(r),
		Session:        sess,
	})
	if err != nil {
		// the mutated token goes back to the session even on failure
		if !s.storeToken(ctx, w, sess, tok) {
			return
		}
		s.writeFailure(w, err)
		return
	}

	if !res.Complete {
		if !s.storeToken(ctx, w, sess, res.Token) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "mfa_pending",
			"form":   s.realm.FormPath(),
		})
		return
	}

	if err := sess.Remove(ctx, sessionTokenKey); err != nil {
		s.internalError(w, err)
		return
	}
	if err := sess.Set(ctx, sessionUserKey, res.Principal.ID()); err != nil {
		s.internalError(w, err)
		return
	}
	for _, c := range res.DeferredCookies {
		w.Header().Add("Set-Cookie", c)
	}
	if res.TrustDevice {
		devices := s.readDevices(r)
		if err := devices.Add(u.ID, s.realm.Name(), u.TrustedDeviceVersion); err != nil {
			s.internalError(w, err)
			return
		}
		s.writeDevices(w, devices)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"redirect": res.Redirect,
	})
}

// loadToken reads and decodes the session's MFA token. A missing or
// undecodable token is a protocol violation and yields the generic
// access-denied response.
func (s *Server) loadToken(ctx context.Context, w http.ResponseWriter, sess session.Store) (*token.MfaToken, *domain.User, bool) {
	raw, ok, err := sess.Get(ctx, sessionTokenKey)
	if err != nil {
		s.internalError(w, err)
		return nil, nil, false
	}
	if !ok {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "access denied"})
		return nil, nil, false
	}
	tok, err := s.codec.Decode([]byte(raw))
	if err != nil {
		log.Printf("httpapi: undecodable session token: %v", err)
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "access denied"})
		return nil, nil, false
	}
	u, err := s.users.GetByID(ctx, tok.ID())
	if err != nil {
		s.internalError(w, err)
		return nil, nil, false
	}
	if u == nil {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "access denied"})
		return nil, nil, false
	}
	return tok, u, true
}

func (s *Server) storeToken(ctx context.Context, w http.ResponseWriter, sess session.Store, tok *token.MfaToken) bool {
	raw, err := s.codec.Encode(tok)
	if err != nil {
		s.internalError(w, err)
		return false
	}
	if err := sess.Set(ctx, sessionTokenKey, string(raw)); err != nil {
		s.internalError(w, err)
		return false
	}
	return true
}

// writeFailure maps the error taxonomy onto generic responses. Wrong code,
// bad CSRF, and provider misconfiguration are indistinguishable in the body.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, throttle.ErrTooManyAttempts):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many attempts"})
	case errors.Is(err, verify.ErrAccessDenied):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "access denied"})
	case errors.Is(err, request.ErrBadRequest):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request"})
	default:
		// verify.ErrInvalidCode and configuration faults alike
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication failed"})
	}
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	log.Printf("httpapi: %v", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

// readDevices parses the trusted-device cookie. The cookie value is
// URL-escaped on the wire because the raw token list contains semicolons.
func (s *Server) readDevices(r *http.Request) *trusteddevice.TokenSet {
	opts := s.realm.TrustedCookie()
	c, err := r.Cookie(opts.Name)
	if err != nil {
		return s.devices.ParseCookie("")
	}
	value, err := url.QueryUnescape(c.Value)
	if err != nil {
		return s.devices.ParseCookie("")
	}
	return s.devices.ParseCookie(value)
}

// writeDevices emits the trusted-device cookie only when the set changed
// during this request.
func (s *Server) writeDevices(w http.ResponseWriter, devices *trusteddevice.TokenSet) {
	if devices == nil || !devices.Dirty() {
		return
	}
	opts := s.realm.TrustedCookie()
	http.SetCookie(w, &http.Cookie{
		Name:     opts.Name,
		Value:    url.QueryEscape(devices.CookieValue()),
		Path:     opts.Path,
		Domain:   opts.Domain,
		MaxAge:   int(opts.Lifetime / time.Second),
		Secure:   opts.Secure,
		HttpOnly: opts.HTTPOnly,
		SameSite: opts.SameSite,
	})
}

func (s *Server) rememberCookie(u *domain.User) *http.Cookie {
	return &http.Cookie{
		Name:     rememberCookieName,
		Value:    u.ID,
		Path:     "/",
		MaxAge:   int(s.RememberMeLifetime / time.Second),
		HttpOnly: true,
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isTruthy(vals *request.Values, name string) bool {
	v, err := vals.Get(name)
	if err != nil {
		return false
	}
	switch strings.ToLower(v) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
