package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"gastos/internal/core"
	"gastos/internal/middleware/security"
	"gastos/internal/report"
	"gastos/internal/services"
)

const (
	maxJSONBody = 1 << 20
	// maxMultipartBody leaves room for the form fields around the file.
	maxMultipartBody = core.MaxAttachmentBytes + 1<<20

	fieldData = "datos"
	fieldFile = "archivo"
)

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// decodeJSON reads a single JSON object from the body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest("decode body: %v", err)
	}
	if dec.More() {
		return badRequest("trailing data after JSON body")
	}
	return nil
}

// readRecord decodes a record input either from a JSON body or from a
// multipart form with the JSON in "datos" and an optional file in "archivo".
func readRecord[T any](w http.ResponseWriter, r *http.Request) (T, *services.Attachment, error) {
	var in T
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return in, nil, decodeJSON(w, r, &in)
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBody)
	if err := r.ParseMultipartForm(maxMultipartBody); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return in, nil, fmt.Errorf("%w: request too large", core.ErrInvalidAttachment)
		}
		return in, nil, badRequest("parse multipart form: %v", err)
	}
	if err := json.Unmarshal([]byte(r.FormValue(fieldData)), &in); err != nil {
		return in, nil, badRequest("decode %s: %v", fieldData, err)
	}

	file, header, err := r.FormFile(fieldFile)
	if errors.Is(err, http.ErrMissingFile) {
		return in, nil, nil
	}
	if err != nil {
		return in, nil, badRequest("read %s: %v", fieldFile, err)
	}
	defer file.Close()
	if header.Size > core.MaxAttachmentBytes {
		return in, nil, fmt.Errorf("%w: larger than %d MB", core.ErrInvalidAttachment, core.MaxAttachmentBytes>>20)
	}
	data, err := io.ReadAll(io.LimitReader(file, core.MaxAttachmentBytes+1))
	if err != nil {
		return in, nil, badRequest("read %s: %v", fieldFile, err)
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return in, &services.Attachment{Data: data, ContentType: contentType}, nil
}

// idParam returns the {id} path parameter.
func idParam(r *http.Request) (core.ID, error) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		return "", badRequest("missing id")
	}
	return core.ID(id), nil
}

// intParam parses an optional integer query parameter.
func intParam(q url.Values, name string, def int) (int, error) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badRequest("%s: %q is not a number", name, v)
	}
	return n, nil
}

// dateParam parses an optional YYYY-MM-DD query parameter.
func dateParam(q url.Values, name string) (core.Date, error) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return core.Date{}, nil
	}
	d, err := core.ParseDate(v)
	if err != nil {
		return core.Date{}, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

// parseYearMonth reads year and month, defaulting to the month of today.
func parseYearMonth(q url.Values, today core.Date) (int, int, error) {
	year, err := intParam(q, "year", today.Year())
	if err != nil {
		return 0, 0, err
	}
	month, err := intParam(q, "month", int(today.Month()))
	if err != nil {
		return 0, 0, err
	}
	return year, month, nil
}

// parseSelection reads the dashboard period from period, year, month and week.
func parseSelection(q url.Values, today core.Date) (report.Selection, error) {
	period, err := report.ParsePeriod(q.Get("period"))
	if err != nil {
		return report.Selection{}, err
	}
	sel := report.NewSelection(period, today)
	if sel.Year, sel.Month, err = parseYearMonth(q, today); err != nil {
		return report.Selection{}, err
	}
	if sel.Week, err = intParam(q, "week", 0); err != nil {
		return report.Selection{}, err
	}
	if err := sel.Validate(); err != nil {
		return report.Selection{}, err
	}
	return sel, nil
}

func parseExpenseFilter(q url.Values) (services.ExpenseFilter, error) {
	f := services.ExpenseFilter{
		CategoryID: core.ID(strings.TrimSpace(q.Get("categoria_id"))),
		MethodID:   core.ID(strings.TrimSpace(q.Get("metodo_id"))),
		Status:     core.ExpenseStatus(strings.TrimSpace(q.Get("estado"))),
		Search:     security.CleanText(q.Get("q")),
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, fmt.Errorf("%w: %q", core.ErrInvalidStatus, f.Status)
	}
	var err error
	if f.From, err = dateParam(q, "desde"); err != nil {
		return f, err
	}
	if f.To, err = dateParam(q, "hasta"); err != nil {
		return f, err
	}
	return f, core.ValidateDateRange(f.From, f.To)
}

func parseIncomeFilter(q url.Values) (services.IncomeFilter, error) {
	f := services.IncomeFilter{
		MethodID: core.ID(strings.TrimSpace(q.Get("metodo_id"))),
		Kind:     core.IncomeKind(strings.TrimSpace(q.Get("tipo"))),
	}
	if f.Kind != "" && !f.Kind.Valid() {
		return f, fmt.Errorf("%w: %q", core.ErrInvalidKind, f.Kind)
	}
	var err error
	if f.From, err = dateParam(q, "desde"); err != nil {
		return f, err
	}
	if f.To, err = dateParam(q, "hasta"); err != nil {
		return f, err
	}
	return f, core.ValidateDateRange(f.From, f.To)
}
