package http

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strings"

	"gastos/internal/auth"
	"gastos/internal/core"
	"gastos/internal/log"
	"gastos/internal/resilience"
)

type sessionKey struct{}

// requireSession loads the session named by the cookie, refreshing its
// token if needed, and rejects the request when there is none.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(SessionCookie); err == nil {
			id = c.Value
		}
		sess, err := s.sessions.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, auth.ErrSessionExpired) {
				s.clearCookie(w)
			}
			s.fail(w, r, err, msgSession)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey{}, sess)
		ctx = log.IntoContext(ctx, log.FromContext(ctx).With(
			log.FieldUserID, sess.Viewer.UserID.String(),
			log.FieldRole, string(sess.Viewer.Role)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !viewer(r).IsAdmin() {
			writeError(w, http.StatusForbidden, msgForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sessionOf(r *http.Request) *auth.Session {
	sess, _ := r.Context().Value(sessionKey{}).(*auth.Session)
	return sess
}

func viewer(r *http.Request) core.Viewer {
	if sess := sessionOf(r); sess != nil {
		return sess.Viewer
	}
	return core.Viewer{}
}

func (s *Server) setCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

type meResponse struct {
	ID      core.ID         `json:"id"`
	Email   string          `json:"email"`
	Role    core.Role       `json:"role"`
	Status  core.UserStatus `json:"status"`
	IsAdmin bool            `json:"is_admin"`
}

func newMe(sess *auth.Session) meResponse {
	return meResponse{
		ID:      sess.Viewer.UserID,
		Email:   sess.Viewer.Email,
		Role:    sess.Viewer.Role,
		Status:  sess.Status,
		IsAdmin: sess.Viewer.IsAdmin(),
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func readCredentials(w http.ResponseWriter, r *http.Request) (credentials, error) {
	var c credentials
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		err := decodeJSON(w, r, &c)
		return c, err
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := r.ParseForm(); err != nil {
		return c, badRequest("parse form: %v", err)
	}
	c.Email = r.PostForm.Get("email")
	c.Password = r.PostForm.Get("password")
	return c, nil
}

// handleLogin answers every credential problem with the same message so
// that it does not reveal which accounts exist.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	creds, err := readCredentials(w, r)
	if err != nil {
		s.fail(w, r, err, msgBadRequest)
		return
	}
	sess, err := s.sessions.SignIn(r.Context(), strings.TrimSpace(creds.Email), creds.Password)
	if err != nil {
		switch {
		case resilience.IsCanceled(err), errors.Is(err, auth.ErrInactiveUser):
			s.fail(w, r, err, msgLogin)
		case errors.Is(err, resilience.ErrOffline), errors.Is(err, resilience.ErrConnectivityLost):
			s.fail(w, r, err, msgConnection)
		default:
			log.FromContext(r.Context()).WarnContext(r.Context(), "Sign in failed",
				log.FieldClientIP, s.clientIP.Resolve(r),
				log.FieldError, err.Error())
			writeError(w, http.StatusUnauthorized, msgLogin)
		}
		return
	}
	s.setCookie(w, sess.ID)
	writeJSON(w, http.StatusOK, newMe(sess))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		if err := s.sessions.SignOut(r.Context(), c.Value); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Sign out failed", log.FieldError, err.Error())
		}
	}
	s.clearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newMe(sessionOf(r)))
}

// handleRefreshRole re-reads the role; a user deactivated meanwhile is
// signed out.
func (s *Server) handleRefreshRole(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.RefreshRole(r.Context(), sessionOf(r).ID)
	if err != nil {
		if errors.Is(err, auth.ErrInactiveUser) {
			s.clearCookie(w)
		}
		s.fail(w, r, err, msgSession)
		return
	}
	writeJSON(w, http.StatusOK, newMe(sess))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type readiness struct {
	Status   string `json:"status"`
	Online   bool   `json:"online"`
	Sessions int    `json:"sessions"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	body := readiness{Status: "ready", Online: s.connectivity.Online(), Sessions: s.sessions.Count()}
	status := http.StatusOK
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), resilience.ProbeTimeout)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			_, body.Error = translate(err, msgConnection)
			body.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}
	if !body.Online && status == http.StatusOK {
		body.Status = "unavailable"
		body.Error = msgOffline
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}
