package http

import (
	"net/http"

	"gastos/internal/core"
	"gastos/internal/middleware/security"
)

const (
	msgListExpenses  = "Error al cargar los gastos"
	msgSaveExpense   = "Error al guardar el gasto"
	msgDeleteExpense = "Error al eliminar el gasto"
)

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	f, err := parseExpenseFilter(r.URL.Query())
	if err != nil {
		s.fail(w, r, err, msgListExpenses)
		return
	}
	rows, err := s.records.ListExpenses(r.Context(), viewer(r), f)
	if err != nil {
		s.fail(w, r, err, msgListExpenses)
		return
	}
	if rows == nil {
		rows = []core.Expense{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	in, att, err := readRecord[core.ExpenseInput](w, r)
	if err != nil {
		s.fail(w, r, err, msgSaveExpense)
		return
	}
	in.Description = security.CleanText(in.Description)
	e, err := s.records.CreateExpense(r.Context(), viewer(r), in, att)
	if err != nil {
		s.fail(w, r, err, msgSaveExpense)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.fail(w, r, err, msgSaveExpense)
		return
	}
	in, att, err := readRecord[core.ExpenseInput](w, r)
	if err != nil {
		s.fail(w, r, err, msgSaveExpense)
		return
	}
	in.Description = security.CleanText(in.Description)
	e, err := s.records.UpdateExpense(r.Context(), viewer(r), id, in, att)
	if err != nil {
		s.fail(w, r, err, msgSaveExpense)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type statusRequest struct {
	Status core.ExpenseStatus `json:"estado"`
}

func (s *Server) handleExpenseStatus(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.fail(w, r, err, msgSaveExpense)
		return
	}
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, msgSaveExpense)
		return
	}
	e, err := s.records.SetExpenseStatus(r.Context(), viewer(r), id, req.Status)
	if err != nil {
		s.fail(w, r, err, msgSaveExpense)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.fail(w, r, err, msgDeleteExpense)
		return
	}
	if err := s.records.DeleteExpense(r.Context(), viewer(r), id); err != nil {
		s.fail(w, r, err, msgDeleteExpense)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
