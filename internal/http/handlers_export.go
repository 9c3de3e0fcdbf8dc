package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"gastos/internal/core"
	"gastos/internal/export"
)

const msgExport = "Error al exportar los datos"

// handleExportMonth downloads the month report. Both year and month are
// required.
func (s *Server) handleExportMonth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if strings.TrimSpace(q.Get("year")) == "" || strings.TrimSpace(q.Get("month")) == "" {
		writeError(w, http.StatusBadRequest, msgMonthYear)
		return
	}
	year, month, err := parseYearMonth(q, s.reports.Today())
	if err != nil || month < 1 || month > 12 || year < 2000 || year > 2100 {
		writeError(w, http.StatusBadRequest, msgMonthYear)
		return
	}

	rep, err := s.exporter.Month(r.Context(), viewer(r), year, month)
	if err != nil {
		s.fail(w, r, err, msgExport)
		return
	}
	if len(rep.Incomes) == 0 && len(rep.Expenses) == 0 {
		s.fail(w, r, export.ErrNoRows, msgExport)
		return
	}
	s.writeCSV(w, r, rep.Name(), rep.Rows())
}

// handleExportList downloads the filtered expense or income list.
func (s *Server) handleExportList(w http.ResponseWriter, r *http.Request) {
	var rows []export.Row
	switch collection := chi.URLParam(r, "collection"); collection {
	case core.CollectionExpenses:
		f, err := parseExpenseFilter(r.URL.Query())
		if err != nil {
			s.fail(w, r, err, msgExport)
			return
		}
		expenses, err := s.records.ListExpenses(r.Context(), viewer(r), f)
		if err != nil {
			s.fail(w, r, err, msgExport)
			return
		}
		rows = export.ExpenseRows(expenses)
	case core.CollectionIncomes:
		f, err := parseIncomeFilter(r.URL.Query())
		if err != nil {
			s.fail(w, r, err, msgExport)
			return
		}
		incomes, err := s.records.FilterIncomes(r.Context(), viewer(r), f)
		if err != nil {
			s.fail(w, r, err, msgExport)
			return
		}
		rows = export.IncomeRows(incomes)
	default:
		writeError(w, http.StatusNotFound, msgUnknownExport)
		return
	}
	s.writeCSV(w, r, chi.URLParam(r, "collection"), rows)
}
