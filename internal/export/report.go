package export

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"gastos/internal/core"
	"gastos/internal/log"
)

// Columns of the month report.
const (
	ColType        = "Tipo"
	ColDate        = "Fecha"
	ColTime        = "Hora"
	ColDescription = "Descripción"
	ColCategory    = "Categoría"
	ColAmount      = "Monto"
	ColMethod      = "Método"
	ColResponsible = "Responsable"
	ColStatus      = "Estado"
	ColSource      = "Origen"
)

var monthColumns = []string{ColType, ColDate, ColTime, ColDescription, ColCategory, ColAmount, ColMethod, ColResponsible}

// MonthReport holds one month of records for every user the viewer can see.
type MonthReport struct {
	Year     int
	Month    int
	Incomes  []core.Income
	Expenses []core.Expense
}

// MonthRange returns the first and last day of a month.
func MonthRange(year, month int) (core.Date, core.Date) {
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return core.DateOf(first), core.DateOf(first.AddDate(0, 1, -1))
}

// Name is reporte_<Mes>_<YYYY>.
func (r *MonthReport) Name() string {
	return fmt.Sprintf("reporte_%s_%d", core.MonthName(r.Month), r.Year)
}

// Tab is the spreadsheet tab the report is written to, YYYY-MM.
func (r *MonthReport) Tab() string {
	return fmt.Sprintf("%04d-%02d", r.Year, r.Month)
}

func (r *MonthReport) TotalIncomes() decimal.Decimal {
	total := decimal.Zero
	for _, i := range r.Incomes {
		total = total.Add(i.Amount)
	}
	return total
}

func (r *MonthReport) TotalExpenses() decimal.Decimal {
	total := decimal.Zero
	for _, e := range r.Expenses {
		total = total.Add(e.Amount)
	}
	return total
}

// Rows lays the report out as a summary block followed by the incomes and
// expenses sections, separated by blank rows.
func (r *MonthReport) Rows() []Row {
	incomes, expenses := r.TotalIncomes(), r.TotalExpenses()
	rows := make([]Row, 0, len(r.Incomes)+len(r.Expenses)+9)
	rows = append(rows,
		labelRow("=== RESUMEN DEL MES ===", nil),
		labelRow("Total Ingresos", incomes),
		labelRow("Total Gastos", expenses),
		labelRow("Balance", incomes.Sub(expenses)),
		labelRow("", nil),
		labelRow("=== INGRESOS ===", nil),
	)
	for _, i := range r.Incomes {
		origin := i.Source
		if origin == "" {
			origin = "-"
		}
		rows = append(rows, Row{
			{ColType, string(i.Kind)},
			{ColDate, core.FormatDay(i.Date)},
			{ColTime, clock(i.CreatedAt)},
			{ColDescription, i.Description},
			{ColCategory, origin},
			{ColAmount, i.Amount},
			{ColMethod, refName(i.Method)},
			{ColResponsible, email(i.User)},
		})
	}
	rows = append(rows, labelRow("", nil), labelRow("=== GASTOS ===", nil))
	for _, e := range r.Expenses {
		rows = append(rows, Row{
			{ColType, string(e.Status)},
			{ColDate, core.FormatDay(e.Date)},
			{ColTime, clock(e.CreatedAt)},
			{ColDescription, e.Description},
			{ColCategory, refName(e.Category)},
			{ColAmount, e.Amount},
			{ColMethod, refName(e.Method)},
			{ColResponsible, email(e.User)},
		})
	}
	return rows
}

// labelRow fills every month column, with label under Tipo and amount under
// Monto.
func labelRow(label string, amount any) Row {
	row := make(Row, len(monthColumns))
	for i, c := range monthColumns {
		row[i] = Field{Name: c, Value: ""}
	}
	row[0].Value = label
	if amount != nil {
		row[5].Value = amount
	}
	return row
}

// ExpenseRows is the expense table export.
func ExpenseRows(expenses []core.Expense) []Row {
	rows := make([]Row, 0, len(expenses))
	for _, e := range expenses {
		rows = append(rows, Row{
			{ColDate, core.FormatDay(e.Date)},
			{ColTime, clock(e.CreatedAt)},
			{ColDescription, e.Description},
			{ColCategory, refName(e.Category)},
			{ColAmount, e.Amount},
			{ColStatus, string(e.Status)},
			{ColMethod, refName(e.Method)},
			{ColResponsible, email(e.User)},
		})
	}
	return rows
}

// IncomeRows is the income table export.
func IncomeRows(incomes []core.Income) []Row {
	rows := make([]Row, 0, len(incomes))
	for _, i := range incomes {
		rows = append(rows, Row{
			{ColDate, core.FormatDay(i.Date)},
			{ColDescription, i.Description},
			{ColType, string(i.Kind)},
			{ColSource, i.Source},
			{ColAmount, i.Amount},
			{ColMethod, refName(i.Method)},
			{ColResponsible, email(i.User)},
		})
	}
	return rows
}

func clock(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return core.FormatClock(t)
}

func refName(ref *core.NameRef) any {
	if ref == nil {
		return nil
	}
	return ref.Name
}

func email(ref *core.EmailRef) any {
	if ref == nil {
		return nil
	}
	return ref.Email
}

// Source reads the records of a date range as seen by a viewer.
type Source interface {
	ExpensesBetween(ctx context.Context, v core.Viewer, from, to core.Date) ([]core.Expense, error)
	IncomesBetween(ctx context.Context, v core.Viewer, from, to core.Date) ([]core.Income, error)
}

// Exporter assembles month reports from a Source.
type Exporter struct {
	src    Source
	logger *log.Logger
}

func NewExporter(src Source, logger *log.Logger) *Exporter {
	if logger == nil {
		logger = log.Discard()
	}
	return &Exporter{src: src, logger: logger.WithComponent(log.ComponentExport)}
}

// Month reads the month's incomes and expenses concurrently. Employees get
// only their own records.
func (x *Exporter) Month(ctx context.Context, v core.Viewer, year, month int) (*MonthReport, error) {
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("invalid month: %d", month)
	}
	from, to := MonthRange(year, month)
	r := &MonthReport{Year: year, Month: month}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		r.Incomes, err = x.src.IncomesBetween(gctx, v, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		r.Expenses, err = x.src.ExpensesBetween(gctx, v, from, to)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("month report %d-%02d: %w", year, month, err)
	}

	x.logger.InfoContext(ctx, "Built month report",
		log.FieldYear, year,
		log.FieldMonth, month,
		log.FieldUserID, v.UserID.String(),
		"incomes", len(r.Incomes),
		"expenses", len(r.Expenses))
	return r, nil
}
