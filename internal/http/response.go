package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"gastos/internal/core"
	"gastos/internal/export"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeCSV renders rows completely before sending so that a failure still
// produces a JSON error instead of a truncated file.
func (s *Server) writeCSV(w http.ResponseWriter, r *http.Request, name string, rows []export.Row) {
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, rows); err != nil {
		s.fail(w, r, err, "Error al exportar los datos")
		return
	}
	filename := export.Filename(name, core.DateOf(s.now().In(core.Bogota)))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
