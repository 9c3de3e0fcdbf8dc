package http

import (
	"net/http"
)

const msgDashboard = "Error al cargar el panel"

func (s *Server) handleAdminDashboard(w http.ResponseWriter, r *http.Request) {
	sel, err := parseSelection(r.URL.Query(), s.reports.Today())
	if err != nil {
		s.fail(w, r, err, msgDashboard)
		return
	}
	stats, err := s.reports.Admin(r.Context(), viewer(r), sel)
	if err != nil {
		s.fail(w, r, err, msgDashboard)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleEmployeeDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reports.Employee(r.Context(), viewer(r))
	if err != nil {
		s.fail(w, r, err, msgDashboard)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
