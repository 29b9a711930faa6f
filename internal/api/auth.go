package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bridgbox/bridgbox/internal/auth"
	"github.com/bridgbox/bridgbox/internal/session"
)

var errBadRequest = errors.New("bad request")

type addressKey struct{}

// authed rejects requests without a valid session cookie and passes the
// signed-in address through the request context.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address, err := s.sessionAddress(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), addressKey{}, address)))
	}
}

func addressFrom(r *http.Request) string {
	address, _ := r.Context().Value(addressKey{}).(string)
	return address
}

func (s *Server) sessionAddress(r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.deps.Auth.CookieName())
	if err != nil {
		return "", auth.ErrMissingSession
	}
	return s.deps.Auth.Parse(cookie.Value, s.now())
}

// session loads the caller's profile as an immutable session value.
func (s *Server) session(r *http.Request) (session.Session, error) {
	return session.Load(r.Context(), s.deps.Store, addressFrom(r))
}

func (s *Server) handleLoginChallenge(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Address string `json:"address"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		s.fail(w, r, err)
		return
	}
	challenge, err := s.deps.Auth.Challenge(payload.Address, s.cfg.Domain, s.now())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, challenge)
}

// handleLogin exchanges a signed challenge for a session cookie.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Address   string `json:"address"`
		Nonce     string `json:"nonce"`
		Signature string `json:"signature"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		s.fail(w, r, err)
		return
	}
	now := s.now()
	address, err := s.deps.Auth.VerifyLogin(payload.Address, s.cfg.Domain, payload.Nonce, payload.Signature, now)
	if err != nil {
		s.logger.Warn("sign-in rejected", "address", payload.Address, "error", err)
		s.fail(w, r, err)
		return
	}
	if err := s.deps.Store.UpsertUser(r.Context(), address, now); err != nil {
		s.fail(w, r, err)
		return
	}
	token, err := s.deps.Auth.Issue(address, now)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.setSessionCookie(w, token, now)
	s.logger.Info("user signed in", "address", address)
	s.respondJSON(w, http.StatusOK, map[string]string{"address": address})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.deps.Auth.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	Address     string `json:"address"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

func (s *Server) me(sess session.Session) meResponse {
	local := sess.Address()
	if sess.Username() != "" {
		local = sess.Username()
	}
	return meResponse{
		Address:     sess.Address(),
		Username:    sess.Username(),
		DisplayName: sess.DisplayName(),
		Email:       local + "@" + s.cfg.Domain,
	}
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.me(sess))
}

func (s *Server) handleSetUsername(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := s.session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	name, err := s.deps.Directory.Register(r.Context(), payload.Username, sess.Address())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.me(sess.WithUsername(name)))
}

func (s *Server) handleSetDisplayName(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DisplayName string `json:"displayName"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		s.fail(w, r, err)
		return
	}
	name := strings.TrimSpace(payload.DisplayName)
	sess, err := s.session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.deps.Store.SetDisplayName(r.Context(), sess.Address(), name); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.me(sess.WithDisplayName(name)))
}

// handleCheckPIN answers every method. Non-POST requests get the invalid
// request body.
func (s *Server) handleCheckPIN(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondJSON(w, http.StatusOK, auth.InvalidRequest())
		return
	}
	var payload struct {
		PIN any `json:"pin"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		s.respondJSON(w, http.StatusOK, auth.InvalidRequest())
		return
	}
	pin, _ := payload.PIN.(string)
	s.respondJSON(w, http.StatusOK, auth.CheckPIN(s.cfg.LegacyPIN, pin))
}

func (s *Server) setSessionCookie(w http.ResponseWriter, value string, now time.Time) {
	maxAge := int(s.deps.Auth.MaxAge().Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     s.deps.Auth.CookieName(),
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  now.Add(s.deps.Auth.MaxAge()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
