package http

import (
	"net/http"

	"gastos/internal/core"
	"gastos/internal/middleware/security"
)

const (
	msgListMetadata = "Error al cargar las opciones"
	msgSaveMetadata = "Error al guardar la opción"
)

// activeOnly is true unless an admin asks for hidden entries with all=1.
func activeOnly(r *http.Request) bool {
	return !(viewer(r).IsAdmin() && r.URL.Query().Get("all") == "1")
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	rows, err := s.records.ListCategories(r.Context(), viewer(r), activeOnly(r))
	if err != nil {
		s.fail(w, r, err, msgListMetadata)
		return
	}
	if rows == nil {
		rows = []core.Category{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	rows, err := s.records.ListPaymentMethods(r.Context(), viewer(r), activeOnly(r))
	if err != nil {
		s.fail(w, r, err, msgListMetadata)
		return
	}
	if rows == nil {
		rows = []core.PaymentMethod{}
	}
	writeJSON(w, http.StatusOK, rows)
}

type nameRequest struct {
	Name string `json:"nombre"`
}

type activeRequest struct {
	Active *bool `json:"activo"`
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, msgSaveMetadata)
		return
	}
	c, err := s.records.CreateCategory(r.Context(), viewer(r), security.CleanText(req.Name))
	if err != nil {
		s.fail(w, r, err, msgSaveMetadata)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleCreatePaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, msgSaveMetadata)
		return
	}
	m, err := s.records.CreatePaymentMethod(r.Context(), viewer(r), security.CleanText(req.Name))
	if err != nil {
		s.fail(w, r, err, msgSaveMetadata)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// readToggle reads the {id} and the activo flag of a PATCH request.
func readToggle(w http.ResponseWriter, r *http.Request) (core.ID, bool, error) {
	id, err := idParam(r)
	if err != nil {
		return "", false, err
	}
	var req activeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return "", false, err
	}
	if req.Active == nil {
		return "", false, badRequest("missing activo")
	}
	return id, *req.Active, nil
}

func (s *Server) handleCategoryActive(w http.ResponseWriter, r *http.Request) {
	id, active, err := readToggle(w, r)
	if err != nil {
		s.fail(w, r, err, msgSaveMetadata)
		return
	}
	if err := s.records.SetCategoryActive(r.Context(), viewer(r), id, active); err != nil {
		s.fail(w, r, err, msgSaveMetadata)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePaymentMethodActive(w http.ResponseWriter, r *http.Request) {
	id, active, err := readToggle(w, r)
	if err != nil {
		s.fail(w, r, err, msgSaveMetadata)
		return
	}
	if err := s.records.SetPaymentMethodActive(r.Context(), viewer(r), id, active); err != nil {
		s.fail(w, r, err, msgSaveMetadata)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
