package report

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gastos/internal/core"
	"gastos/internal/query"
)

// ErrInvalidSelection wraps every rejected period, year or month.
var ErrInvalidSelection = errors.New("invalid dashboard selection")

// Period is the span an admin dashboard covers.
type Period string

const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// ParsePeriod accepts week, month or year. An empty string is a month.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PeriodMonth, nil
	case PeriodWeek, PeriodMonth, PeriodYear:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown period %q", ErrInvalidSelection, s)
	}
}

// Range is an inclusive span of calendar days.
type Range struct {
	From core.Date `json:"desde"`
	To   core.Date `json:"hasta"`
}

// Contains reports whether d falls inside r.
func (r Range) Contains(d core.Date) bool {
	return !d.Before(r.From.Time) && !d.After(r.To.Time)
}

// Selection picks the dashboard period. Year and Month apply to month and
// year periods; Week is an offset in weeks from the current one and applies
// to week periods.
type Selection struct {
	Period Period `json:"periodo"`
	Year   int    `json:"anio"`
	Month  int    `json:"mes"`
	Week   int    `json:"semana"`
}

// NewSelection selects the current period containing today.
func NewSelection(p Period, today core.Date) Selection {
	return Selection{Period: p, Year: today.Year(), Month: int(today.Month())}
}

func (s Selection) Validate() error {
	if _, err := ParsePeriod(string(s.Period)); err != nil {
		return err
	}
	if s.Month < 1 || s.Month > 12 {
		return fmt.Errorf("%w: month %d out of range", ErrInvalidSelection, s.Month)
	}
	if s.Year < 1900 || s.Year > 9999 {
		return fmt.Errorf("%w: year %d out of range", ErrInvalidSelection, s.Year)
	}
	return nil
}

// Key is the query key of the admin dashboard for s:
// dashboard_admin_<period>_<y>_<m>_<w>.
func (s Selection) Key() string {
	return query.Key("dashboard", core.RoleAdmin, s.Period, s.Year, s.Month, s.Week)
}

// Ranges returns the selected span and the one before it. Weeks start on
// Sunday.
func (s Selection) Ranges(today core.Date) (current, previous Range) {
	switch s.Period {
	case PeriodWeek:
		start := today.AddDate(0, 0, -int(today.Weekday())+s.Week*7)
		current = Range{From: core.DateOf(start), To: core.DateOf(start.AddDate(0, 0, 6))}
		prev := start.AddDate(0, 0, -7)
		previous = Range{From: core.DateOf(prev), To: core.DateOf(prev.AddDate(0, 0, 6))}
	case PeriodYear:
		current = Range{From: core.NewDate(s.Year, 1, 1), To: core.NewDate(s.Year, 12, 31)}
		previous = Range{From: core.NewDate(s.Year-1, 1, 1), To: core.NewDate(s.Year-1, 12, 31)}
	default:
		current = monthRange(s.Year, s.Month)
		previous = monthRange(s.Year, s.Month-1)
	}
	return current, previous
}

// monthRange normalizes month overflow, so month 0 is December of the year
// before.
func monthRange(year, month int) Range {
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return Range{From: core.DateOf(first), To: core.DateOf(first.AddDate(0, 1, -1))}
}

// trendMonths lists the first day of the n months ending with today's,
// oldest first.
func trendMonths(today core.Date, n int) []core.Date {
	out := make([]core.Date, n)
	for i := range n {
		first := time.Date(today.Year(), today.Month()-time.Month(n-1-i), 1, 0, 0, 0, 0, time.UTC)
		out[i] = core.DateOf(first)
	}
	return out
}

// shortMonth is the abbreviated Spanish month name, e.g. "ene".
func shortMonth(m time.Month) string {
	name := core.MonthName(int(m))
	if len(name) < 3 {
		return name
	}
	return strings.ToLower(name[:3])
}
