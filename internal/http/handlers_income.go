package http

import (
	"net/http"

	"gastos/internal/core"
	"gastos/internal/middleware/security"
)

const (
	msgListIncomes  = "Error al cargar los ingresos"
	msgSaveIncome   = "Error al guardar el ingreso"
	msgDeleteIncome = "Error al eliminar el ingreso"
)

func (s *Server) handleListIncomes(w http.ResponseWriter, r *http.Request) {
	f, err := parseIncomeFilter(r.URL.Query())
	if err != nil {
		s.fail(w, r, err, msgListIncomes)
		return
	}
	rows, err := s.records.FilterIncomes(r.Context(), viewer(r), f)
	if err != nil {
		s.fail(w, r, err, msgListIncomes)
		return
	}
	if rows == nil {
		rows = []core.Income{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func cleanIncome(in *core.IncomeInput) {
	in.Description = security.CleanText(in.Description)
	in.Source = security.CleanText(in.Source)
}

func (s *Server) handleCreateIncome(w http.ResponseWriter, r *http.Request) {
	in, att, err := readRecord[core.IncomeInput](w, r)
	if err != nil {
		s.fail(w, r, err, msgSaveIncome)
		return
	}
	cleanIncome(&in)
	inc, err := s.records.CreateIncome(r.Context(), viewer(r), in, att)
	if err != nil {
		s.fail(w, r, err, msgSaveIncome)
		return
	}
	writeJSON(w, http.StatusCreated, inc)
}

func (s *Server) handleUpdateIncome(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.fail(w, r, err, msgSaveIncome)
		return
	}
	in, att, err := readRecord[core.IncomeInput](w, r)
	if err != nil {
		s.fail(w, r, err, msgSaveIncome)
		return
	}
	cleanIncome(&in)
	inc, err := s.records.UpdateIncome(r.Context(), viewer(r), id, in, att)
	if err != nil {
		s.fail(w, r, err, msgSaveIncome)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleDeleteIncome(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.fail(w, r, err, msgDeleteIncome)
		return
	}
	if err := s.records.DeleteIncome(r.Context(), viewer(r), id); err != nil {
		s.fail(w, r, err, msgDeleteIncome)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
