// Package export turns record lists and month reports into CSV files that
// open cleanly in a Spanish-locale spreadsheet.
package export

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gastos/internal/core"
)

// bom makes spreadsheet programs read the file as UTF-8.
const bom = "\ufeff"

// ErrNoRows is returned when there is nothing to export.
var ErrNoRows = errors.New("nothing to export")

// Field is one named cell.
type Field struct {
	Name  string
	Value any
}

// Row is an ordered list of named cells. Rows of one export share the field
// names of the first row.
type Row []Field

// Get returns the value of the named field, or nil.
func (r Row) Get(name string) any {
	for _, f := range r {
		if f.Name == name {
			return f.Value
		}
	}
	return nil
}

// Table lays rows out as a header and string cells. The header is the
// field names of the first row; fields missing from later rows are empty.
func Table(rows []Row) (header []string, cells [][]string) {
	if len(rows) == 0 {
		return nil, nil
	}
	header = make([]string, len(rows[0]))
	for i, f := range rows[0] {
		header[i] = f.Name
	}
	cells = make([][]string, len(rows))
	for i, r := range rows {
		record := make([]string, len(header))
		for j, name := range header {
			record[j] = Cell(r.Get(name))
		}
		cells[i] = record
	}
	return header, cells
}

// Cell renders a value as CSV text. nil and nil pointers are empty.
func Cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case *string:
		if x == nil {
			return ""
		}
		return *x
	case decimal.Decimal:
		return x.String()
	case core.Date:
		return x.String()
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// WriteCSV writes rows as ';'-separated CSV prefixed with a UTF-8 BOM.
// Records are joined with CRLF and the last one has no terminator. Values
// are written unchanged except that those containing the separator, a
// quote, CR or LF are quoted with embedded quotes doubled.
func WriteCSV(w io.Writer, rows []Row) error {
	if len(rows) == 0 {
		return ErrNoRows
	}
	header, cells := Table(rows)

	var b strings.Builder
	b.WriteString(bom)
	writeRecord(&b, header)
	for _, record := range cells {
		b.WriteString("\r\n")
		writeRecord(&b, record)
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func writeRecord(b *strings.Builder, record []string) {
	for i, v := range record {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(escape(v))
	}
}

func escape(v string) string {
	if !strings.ContainsAny(v, ";\"\r\n") {
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

// Filename is <name>_<YYYY-MM-DD>.csv.
func Filename(name string, day core.Date) string {
	return fmt.Sprintf("%s_%s.csv", name, day.Format(time.DateOnly))
}
