package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"gastos/internal/auth"
	"gastos/internal/core"
	"gastos/internal/report"
	"gastos/internal/resilience"
	"gastos/internal/services"
)

func TestParseSelection(t *testing.T) {
	today := core.NewDate(2024, 5, 20)
	tests := []struct {
		name    string
		query   string
		want    report.Selection
		wantErr bool
	}{
		{"defaults", "", report.Selection{Period: report.PeriodMonth, Year: 2024, Month: 5}, false},
		{"explicit month", "period=month&year=2023&month=12", report.Selection{Period: report.PeriodMonth, Year: 2023, Month: 12}, false},
		{"week offset", "period=week&week=-2", report.Selection{Period: report.PeriodWeek, Year: 2024, Month: 5, Week: -2}, false},
		{"bad period", "period=decade", report.Selection{}, true},
		{"bad month", "month=13", report.Selection{}, true},
		{"not a number", "year=dos", report.Selection{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, _ := url.ParseQuery(tt.query)
			got, err := parseSelection(q, today)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseSelection(%q) = %+v, want error", tt.query, got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("parseSelection(%q) = %+v, want %+v", tt.query, got, tt.want)
			}
		})
	}
}

func TestParseExpenseFilter(t *testing.T) {
	q, _ := url.ParseQuery("categoria_id=7&estado=aprobado&q=%3Cscript%3Earriendo&desde=2024-05-01&hasta=2024-05-31")
	f, err := parseExpenseFilter(q)
	if err != nil {
		t.Fatal(err)
	}
	if f.CategoryID != "7" || f.Status != core.ExpenseApproved || f.Search != "arriendo" {
		t.Errorf("filter = %+v", f)
	}
	if f.From.String() != "2024-05-01" || f.To.String() != "2024-05-31" {
		t.Errorf("range = %s..%s", f.From, f.To)
	}

	for _, raw := range []string{"estado=pagado", "desde=ayer", "desde=2024-05-10&hasta=2024-05-01"} {
		q, _ := url.ParseQuery(raw)
		if _, err := parseExpenseFilter(q); err == nil {
			t.Errorf("parseExpenseFilter(%q) accepted", raw)
		}
	}
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"canceled", context.Canceled, statusClientClosed, ""},
		{"no session", auth.ErrNoSession, http.StatusUnauthorized, msgSession},
		{"inactive", auth.ErrInactiveUser, http.StatusForbidden, msgInactive},
		{"forbidden", fmt.Errorf("update: %w", services.ErrForbidden), http.StatusForbidden, msgForbidden},
		{"edit window", core.ErrEditWindowClosed, http.StatusForbidden, msgEditWindow},
		{"not found", services.ErrNotFound, http.StatusNotFound, msgNotFound},
		{"validation", fmt.Errorf("%w: -1", core.ErrInvalidAmount), http.StatusUnprocessableEntity, "El monto debe ser mayor a 0, con máximo 2 decimales."},
		{"bad request", badRequest("missing id"), http.StatusBadRequest, msgBadRequest},
		{"offline", resilience.ErrOffline, http.StatusServiceUnavailable, msgOffline},
		{"connectivity lost", fmt.Errorf("%w: %w", resilience.ErrRetriesExhausted, resilience.ErrConnectivityLost), http.StatusServiceUnavailable, msgConnection},
		{"duplicate", &resilience.BackendError{Status: 409, Code: resilience.CodeUniqueViolation}, http.StatusConflict, msgDuplicate},
		{"row not found", &resilience.BackendError{Status: 406, Code: resilience.CodeRowNotFound}, http.StatusNotFound, msgNotFound},
		{"jwt expired", &resilience.BackendError{Status: 401, Code: "PGRST301"}, http.StatusUnauthorized, msgSession},
		{"timeout", fmt.Errorf("%w: %w", resilience.ErrRetriesExhausted, resilience.ErrTimeout), http.StatusGatewayTimeout, msgTimeout},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := translate(tt.err, "fallback")
			if status != tt.wantStatus || msg != tt.wantMsg {
				t.Errorf("translate(%v) = %d %q, want %d %q", tt.err, status, msg, tt.wantStatus, tt.wantMsg)
			}
		})
	}
}
