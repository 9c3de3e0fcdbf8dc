package http

import (
	"context"
	"net/http"

	"gastos/internal/core"
	"gastos/internal/log"
)

const (
	msgListUsers  = "Error al cargar los usuarios"
	msgSaveUser   = "Error al actualizar el usuario"
	msgClearCache = "Error al limpiar la caché"
)

// durableClearer is implemented by durable stores that can drop every key.
type durableClearer interface {
	DeleteMatching(ctx context.Context, pattern string) (int64, error)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.records.ListUsers(r.Context(), viewer(r))
	if err != nil {
		s.fail(w, r, err, msgListUsers)
		return
	}
	if users == nil {
		users = []core.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

type roleRequest struct {
	Role core.Role `json:"role"`
}

type userStatusRequest struct {
	Status core.UserStatus `json:"status"`
}

func (s *Server) handleUserRole(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.fail(w, r, err, msgSaveUser)
		return
	}
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, msgSaveUser)
		return
	}
	if err := s.records.SetUserRole(r.Context(), viewer(r), id, req.Role); err != nil {
		s.fail(w, r, err, msgSaveUser)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.fail(w, r, err, msgSaveUser)
		return
	}
	var req userStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, msgSaveUser)
		return
	}
	if err := s.records.SetUserStatus(r.Context(), viewer(r), id, req.Status); err != nil {
		s.fail(w, r, err, msgSaveUser)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type clearResponse struct {
	Persisted int64 `json:"persisted"`
}

// handleClearCache drops every deduplicated query and, when the durable
// store supports it, every persisted snapshot.
func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	s.records.Registry().Invalidate()
	var resp clearResponse
	if c, ok := s.durable.(durableClearer); ok {
		n, err := c.DeleteMatching(r.Context(), "")
		if err != nil {
			s.fail(w, r, err, msgClearCache)
			return
		}
		resp.Persisted = n
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Caches cleared by admin", "persisted", resp.Persisted)
	writeJSON(w, http.StatusOK, resp)
}
