package http

import (
	"bytes"
	"html/template"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"gastos/internal/core"
	"gastos/internal/log"
)

var templateFuncs = template.FuncMap{
	"cop":       func(d decimal.Decimal) string { return core.FormatCOP(d) },
	"monthName": core.MonthName,
	"months": func() []int {
		return []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	},
}

type pageData struct {
	SignedIn    bool
	Email       string
	IsAdmin     bool
	Today       string
	Year        int
	Month       int
	RefreshSecs int
}

// handleIndex renders the shell page. The page itself loads data through
// the API and the live socket.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	today := core.DateOf(s.now().In(core.Bogota))
	data := pageData{
		Today:       today.String(),
		Year:        today.Year(),
		Month:       int(today.Month()),
		RefreshSecs: int(s.autoRefresh / time.Second),
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		if sess, err := s.sessions.Get(r.Context(), c.Value); err == nil {
			data.SignedIn = true
			data.Email = sess.Viewer.Email
			data.IsAdmin = sess.Viewer.IsAdmin()
		}
	}

	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, "dashboard.html", data); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Template render failed", log.FieldError, err.Error())
		http.Error(w, "Error interno", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
