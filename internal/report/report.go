// Package report computes the admin and employee dashboards from the
// income and expense records.
package report

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"gastos/internal/core"
	"gastos/internal/log"
	"gastos/internal/query"
	"gastos/internal/remote"
	"gastos/internal/resilience"
)

const (
	topN         = 5
	recentN      = 10
	trendN       = 6
	unknownLabel = "Desconocido"
)

// ErrForbidden is returned when an employee asks for the admin dashboard.
var ErrForbidden = errors.New("dashboard requires an admin")

// Totals sums one span.
type Totals struct {
	Incomes  decimal.Decimal `json:"ingresos"`
	Expenses decimal.Decimal `json:"gastos"`
	Balance  decimal.Decimal `json:"balance"`
}

func newTotals(incomes, expenses decimal.Decimal) Totals {
	return Totals{Incomes: incomes, Expenses: expenses, Balance: incomes.Sub(expenses)}
}

// Ranked is one entry of a top list. Value is an amount for categories and
// a count for payment methods.
type Ranked struct {
	Name  string          `json:"name"`
	Value decimal.Decimal `json:"value"`
}

type TrendPoint struct {
	Label    string          `json:"mes"`
	Year     int             `json:"anio"`
	Month    int             `json:"numero_mes"`
	Incomes  decimal.Decimal `json:"ingresos"`
	Expenses decimal.Decimal `json:"gastos"`
}

// Transaction is an income or expense in the recent activity list.
type Transaction struct {
	Type        string          `json:"type"`
	ID          core.ID         `json:"id"`
	Date        core.Date       `json:"fecha"`
	Description string          `json:"descripcion"`
	Amount      decimal.Decimal `json:"monto"`
	Email       string          `json:"email,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

const (
	TypeIncome  = "ingreso"
	TypeExpense = "gasto"
)

type AdminStats struct {
	Selection     Selection     `json:"seleccion"`
	Range         Range         `json:"rango"`
	PreviousRange Range         `json:"rango_anterior"`
	Current       Totals        `json:"actual"`
	Previous      Totals        `json:"anterior"`
	IncomeChange  float64       `json:"cambio_ingresos"`
	ExpenseChange float64       `json:"cambio_gastos"`
	TopCategories []Ranked      `json:"top_categorias"`
	TopMethods    []Ranked      `json:"top_metodos"`
	Trend         []TrendPoint  `json:"tendencia"`
	Recent        []Transaction `json:"recientes"`
	GeneratedAt   time.Time     `json:"generado"`
}

type EmployeeStats struct {
	Month       Range           `json:"mes"`
	Incomes     decimal.Decimal `json:"mis_ingresos"`
	Expenses    decimal.Decimal `json:"mis_gastos"`
	Recent      []Transaction   `json:"actividad"`
	GeneratedAt time.Time       `json:"generado"`
}

// PercentChange is the change from previous to current in percent, rounded
// to one decimal. From zero it is 100 when current is positive and 0
// otherwise.
func PercentChange(current, previous decimal.Decimal) float64 {
	if previous.IsZero() {
		if current.IsPositive() {
			return 100
		}
		return 0
	}
	f, _ := current.Sub(previous).Div(previous).Mul(decimal.NewFromInt(100)).Round(1).Float64()
	return f
}

type Options struct {
	Registry  *query.Registry
	Retrier   *resilience.Retrier
	Timeout   time.Duration
	RateLimit time.Duration
	Logger    *log.Logger
	Now       func() time.Time
}

// Service builds dashboards. Results are deduplicated in query stores whose
// keys start with "dashboard", so record writes invalidate them.
type Service struct {
	rows    remote.Rows
	retrier *resilience.Retrier
	timeout time.Duration
	now     func() time.Time
	logger  *log.Logger

	admin    *query.Store[*AdminStats]
	employee *query.Store[*EmployeeStats]
}

func NewService(rows remote.Rows, opts Options) *Service {
	if opts.Registry == nil {
		opts.Registry = query.NewRegistry()
	}
	if opts.Retrier == nil {
		opts.Retrier = resilience.NewRetrier()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = resilience.ReportTimeout
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = query.DefaultRateLimit
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	storeOpts := []query.StoreOption{
		query.WithRateLimit(opts.RateLimit),
		query.WithClock(opts.Now),
		query.WithLogger(opts.Logger),
	}
	s := &Service{
		rows:     rows,
		retrier:  opts.Retrier,
		timeout:  opts.Timeout,
		now:      opts.Now,
		logger:   opts.Logger.WithComponent(log.ComponentReport),
		admin:    query.NewStore[*AdminStats]("dashboard_admin", storeOpts...),
		employee: query.NewStore[*EmployeeStats]("dashboard_employee", storeOpts...),
	}
	opts.Registry.Register(s.admin, s.employee)
	return s
}

// Today is the current calendar day in Bogotá.
func (s *Service) Today() core.Date {
	return core.DateOf(s.now().In(core.Bogota))
}

// Admin returns the admin dashboard for sel.
func (s *Service) Admin(ctx context.Context, v core.Viewer, sel Selection) (*AdminStats, error) {
	if !v.IsAdmin() {
		return nil, ErrForbidden
	}
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	return s.admin.Do(ctx, sel.Key(), func(ctx context.Context) (*AdminStats, error) {
		return resilience.Call(ctx, s.retrier, "dashboard.admin", s.timeout, func(ctx context.Context) (*AdminStats, error) {
			return s.buildAdmin(ctx, v, sel)
		})
	})
}

func (s *Service) buildAdmin(ctx context.Context, v core.Viewer, sel Selection) (*AdminStats, error) {
	today := s.Today()
	cur, prev := sel.Ranges(today)
	months := trendMonths(today, trendN)

	var (
		incomes       []core.Income
		expenses      []core.Expense
		prevIncomes   []core.Income
		prevExpenses  []core.Expense
		categories    []core.Category
		methods       []core.PaymentMethod
		trendIncomes  []core.Income
		trendExpenses []core.Expense
	)

	g, ctx := errgroup.WithContext(ctx)
	fetch := func(q remote.Query, dest any) {
		g.Go(func() error { return s.rows.Select(ctx, v.AccessToken, q, dest) })
	}
	fetch(remote.From(core.CollectionIncomes).
		Select("id, monto, metodo_id, fecha, descripcion, created_at, users(email)").
		Gte("fecha", cur.From).Lte("fecha", cur.To), &incomes)
	fetch(remote.From(core.CollectionExpenses).
		Select("id, monto, categoria_id, metodo_id, fecha, descripcion, created_at, users(email)").
		Gte("fecha", cur.From).Lte("fecha", cur.To), &expenses)
	fetch(remote.From(core.CollectionIncomes).Select("monto").
		Gte("fecha", prev.From).Lte("fecha", prev.To), &prevIncomes)
	fetch(remote.From(core.CollectionExpenses).Select("monto").
		Gte("fecha", prev.From).Lte("fecha", prev.To), &prevExpenses)
	fetch(remote.From(core.CollectionCategories).Select("id, nombre"), &categories)
	fetch(remote.From(core.CollectionPaymentMethods).Select("id, nombre"), &methods)
	fetch(remote.From(core.CollectionIncomes).Select("monto, fecha").Gte("fecha", months[0]), &trendIncomes)
	fetch(remote.From(core.CollectionExpenses).Select("monto, fecha").Gte("fecha", months[0]), &trendExpenses)
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := &AdminStats{
		Selection:     sel,
		Range:         cur,
		PreviousRange: prev,
		Current:       newTotals(sumIncomes(incomes), sumExpenses(expenses)),
		Previous:      newTotals(sumIncomes(prevIncomes), sumExpenses(prevExpenses)),
		TopCategories: topCategories(expenses, categories),
		TopMethods:    topMethods(incomes, expenses, methods),
		Trend:         trend(months, trendIncomes, trendExpenses),
		Recent:        recent(incomes, expenses, byDate),
		GeneratedAt:   s.now(),
	}
	stats.IncomeChange = PercentChange(stats.Current.Incomes, stats.Previous.Incomes)
	stats.ExpenseChange = PercentChange(stats.Current.Expenses, stats.Previous.Expenses)

	s.logger.DebugContext(ctx, "Built admin dashboard",
		"period", sel.Period,
		"from", cur.From.String(),
		"to", cur.To.String(),
		"incomes", len(incomes),
		"expenses", len(expenses))
	return stats, nil
}

// EmployeeKey is the query key of a viewer's monthly summary.
func EmployeeKey(v core.Viewer, today core.Date) string {
	return query.Key("dashboard", v.Role, v.UserID, today.Year(), int(today.Month()))
}

// Employee returns the viewer's own totals for the current month and their
// latest records in it.
func (s *Service) Employee(ctx context.Context, v core.Viewer) (*EmployeeStats, error) {
	today := s.Today()
	month := monthRange(today.Year(), int(today.Month()))
	return s.employee.Do(ctx, EmployeeKey(v, today), func(ctx context.Context) (*EmployeeStats, error) {
		return resilience.Call(ctx, s.retrier, "dashboard.employee", s.timeout, func(ctx context.Context) (*EmployeeStats, error) {
			var (
				incomes  []core.Income
				expenses []core.Expense
			)
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				q := remote.From(core.CollectionIncomes).Eq("usuario_id", v.UserID).
					Gte("fecha", month.From).OrderBy("created_at", false)
				return s.rows.Select(ctx, v.AccessToken, q, &incomes)
			})
			g.Go(func() error {
				q := remote.From(core.CollectionExpenses).Eq("usuario_id", v.UserID).
					Gte("fecha", month.From).OrderBy("created_at", false)
				return s.rows.Select(ctx, v.AccessToken, q, &expenses)
			})
			if err := g.Wait(); err != nil {
				return nil, err
			}
			return &EmployeeStats{
				Month:       month,
				Incomes:     sumIncomes(incomes),
				Expenses:    sumExpenses(expenses),
				Recent:      recent(incomes, expenses, byCreated),
				GeneratedAt: s.now(),
			}, nil
		})
	})
}

func sumIncomes(rows []core.Income) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Amount)
	}
	return total
}

func sumExpenses(rows []core.Expense) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Amount)
	}
	return total
}

func topCategories(expenses []core.Expense, categories []core.Category) []Ranked {
	names := make(map[core.ID]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}
	totals := make(map[string]decimal.Decimal)
	for _, e := range expenses {
		name, ok := names[e.CategoryID]
		if !ok {
			name = unknownLabel
		}
		totals[name] = totals[name].Add(e.Amount)
	}
	return rank(totals)
}

func topMethods(incomes []core.Income, expenses []core.Expense, methods []core.PaymentMethod) []Ranked {
	names := make(map[core.ID]string, len(methods))
	for _, m := range methods {
		names[m.ID] = m.Name
	}
	one := decimal.NewFromInt(1)
	counts := make(map[string]decimal.Decimal)
	count := func(id core.ID) {
		name, ok := names[id]
		if !ok {
			name = unknownLabel
		}
		counts[name] = counts[name].Add(one)
	}
	for _, i := range incomes {
		count(i.MethodID)
	}
	for _, e := range expenses {
		count(e.MethodID)
	}
	return rank(counts)
}

// rank sorts by value descending, then name, and keeps the first topN.
func rank(values map[string]decimal.Decimal) []Ranked {
	out := make([]Ranked, 0, len(values))
	for name, v := range values {
		out = append(out, Ranked{Name: name, Value: v})
	}
	slices.SortFunc(out, func(a, b Ranked) int {
		if c := b.Value.Cmp(a.Value); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

func trend(months []core.Date, incomes []core.Income, expenses []core.Expense) []TrendPoint {
	points := make([]TrendPoint, len(months))
	index := make(map[[2]int]int, len(months))
	for i, m := range months {
		points[i] = TrendPoint{
			Label:    shortMonth(m.Month()),
			Year:     m.Year(),
			Month:    int(m.Month()),
			Incomes:  decimal.Zero,
			Expenses: decimal.Zero,
		}
		index[[2]int{m.Year(), int(m.Month())}] = i
	}
	for _, r := range incomes {
		if i, ok := index[[2]int{r.Date.Year(), int(r.Date.Month())}]; ok {
			points[i].Incomes = points[i].Incomes.Add(r.Amount)
		}
	}
	for _, r := range expenses {
		if i, ok := index[[2]int{r.Date.Year(), int(r.Date.Month())}]; ok {
			points[i].Expenses = points[i].Expenses.Add(r.Amount)
		}
	}
	return points
}

func byDate(a, b Transaction) int {
	if c := b.Date.Compare(a.Date.Time); c != 0 {
		return c
	}
	return b.CreatedAt.Compare(a.CreatedAt)
}

func byCreated(a, b Transaction) int {
	return b.CreatedAt.Compare(a.CreatedAt)
}

// recent merges incomes and expenses and keeps the newest recentN under
// order.
func recent(incomes []core.Income, expenses []core.Expense, order func(a, b Transaction) int) []Transaction {
	out := make([]Transaction, 0, len(incomes)+len(expenses))
	for _, i := range incomes {
		t := Transaction{Type: TypeIncome, ID: i.ID, Date: i.Date, Description: i.Description, Amount: i.Amount, CreatedAt: i.CreatedAt}
		if i.User != nil {
			t.Email = i.User.Email
		}
		out = append(out, t)
	}
	for _, e := range expenses {
		t := Transaction{Type: TypeExpense, ID: e.ID, Date: e.Date, Description: e.Description, Amount: e.Amount, CreatedAt: e.CreatedAt}
		if e.User != nil {
			t.Email = e.User.Email
		}
		out = append(out, t)
	}
	slices.SortStableFunc(out, order)
	if len(out) > recentN {
		out = out[:recentN]
	}
	return out
}
