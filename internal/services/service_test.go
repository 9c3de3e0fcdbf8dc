package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gastos/internal/amqp"
	"gastos/internal/core"
	"gastos/internal/remote"
	"gastos/internal/remote/memory"
	"gastos/internal/resilience"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*amqp.ChangeEvent
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, e *amqp.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *fakePublisher) Events() []*amqp.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*amqp.ChangeEvent(nil), p.events...)
}

type fixture struct {
	svc      *Service
	store    *memory.Store
	clock    *clock
	pub      *fakePublisher
	admin    core.Viewer
	employee core.Viewer
	other    core.Viewer
	methodID core.ID
	catID    core.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := &clock{now: time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)}
	store := memory.New(memory.WithClock(clk.Now))
	if err := store.SeedDemo("Demo1234"); err != nil {
		t.Fatal(err)
	}
	otherID, err := store.AddUser("otro@gastos.local", "Demo1234", core.RoleEmployee)
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{store: store, clock: clk, pub: &fakePublisher{}}
	ctx := context.Background()
	var users []core.User
	if err := store.Select(ctx, "", remote.From(core.CollectionUsers), &users); err != nil {
		t.Fatal(err)
	}
	for _, u := range users {
		v := core.Viewer{UserID: u.ID, Email: u.Email, Role: u.Role}
		switch u.Email {
		case memory.DemoAdminEmail:
			f.admin = v
		case memory.DemoEmployeeEmail:
			f.employee = v
		}
	}
	f.other = core.Viewer{UserID: otherID, Email: "otro@gastos.local", Role: core.RoleEmployee}

	var methods []core.PaymentMethod
	store.Select(ctx, "", remote.From(core.CollectionPaymentMethods), &methods)
	var cats []core.Category
	store.Select(ctx, "", remote.From(core.CollectionCategories), &cats)
	f.methodID, f.catID = methods[0].ID, cats[0].ID

	f.svc = NewService(store, Options{
		Retrier:   resilience.NewRetrier(resilience.WithSleeper(func(context.Context, time.Duration) error { return nil })),
		Publisher: f.pub,
		Now:       clk.Now,
	})
	return f
}

func (f *fixture) putIncome(t *testing.T, owner core.Viewer, day core.Date, amount int64) core.ID {
	t.Helper()
	var out core.Income
	err := f.store.Insert(context.Background(), "", core.CollectionIncomes, core.IncomeInput{
		Amount:      decimal.NewFromInt(amount),
		MethodID:    f.methodID,
		Description: "venta",
		Kind:        core.IncomeSale,
		Date:        day,
		UserID:      owner.UserID,
	}, &out)
	if err != nil {
		t.Fatal(err)
	}
	return out.ID
}

func TestListIncomesRoleFilter(t *testing.T) {
	f := newFixture(t)
	f.putIncome(t, f.employee, core.NewDate(2024, 5, 10), 1000)
	f.putIncome(t, f.employee, core.NewDate(2024, 5, 12), 2000)
	f.putIncome(t, f.other, core.NewDate(2024, 5, 11), 3000)
	ctx := context.Background()

	if got, want := IncomesKey(f.employee), "ingresos_empleado_"+f.employee.UserID.String(); got != want {
		t.Errorf("IncomesKey() = %s, want %s", got, want)
	}

	mine, err := f.svc.ListIncomes(ctx, f.employee)
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 2 {
		t.Fatalf("employee sees %d incomes, want 2", len(mine))
	}
	for _, i := range mine {
		if i.UserID != f.employee.UserID {
			t.Errorf("employee sees income of %s", i.UserID)
		}
	}
	if mine[0].Date != core.NewDate(2024, 5, 12) {
		t.Errorf("not newest first: %v", mine[0].Date)
	}

	all, err := f.svc.ListIncomes(ctx, f.admin)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("admin sees %d incomes, want 3", len(all))
	}

	filtered, err := f.svc.FilterIncomes(ctx, f.admin, IncomeFilter{From: core.NewDate(2024, 5, 11)})
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 2 {
		t.Errorf("filtered = %d, want 2", len(filtered))
	}
}

func TestListIncomesDeduplicatesConcurrentCalls(t *testing.T) {
	f := newFixture(t)
	f.putIncome(t, f.employee, core.NewDate(2024, 5, 10), 1000)
	f.store.SetLatency(50 * time.Millisecond)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rows, err := f.svc.ListIncomes(context.Background(), f.employee)
			if err == nil && len(rows) != 1 {
				err = errors.New("wrong row count")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if n := f.store.Selects(core.CollectionIncomes); n != 1 {
		t.Errorf("backend selects = %d, want 1", n)
	}
}

func TestWritesInvalidateAndPublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.ListIncomes(ctx, f.employee); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ListIncomes(ctx, f.employee); err != nil {
		t.Fatal(err)
	}
	if n := f.store.Selects(core.CollectionIncomes); n != 1 {
		t.Fatalf("selects within the rate limit = %d, want 1", n)
	}

	created, err := f.svc.CreateIncome(ctx, f.employee, core.IncomeInput{
		Amount:      decimal.NewFromInt(50000),
		MethodID:    f.methodID,
		Description: "servicio técnico",
		Kind:        core.IncomeService,
		Date:        core.NewDate(2024, 5, 20),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if created.UserID != f.employee.UserID {
		t.Errorf("created for %s", created.UserID)
	}

	rows, err := f.svc.ListIncomes(ctx, f.employee)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || f.store.Selects(core.CollectionIncomes) != 2 {
		t.Errorf("list after create: %d rows, %d selects", len(rows), f.store.Selects(core.CollectionIncomes))
	}

	events := f.pub.Events()
	if len(events) != 1 {
		t.Fatalf("published %d events", len(events))
	}
	e := events[0]
	if e.Collection != core.CollectionIncomes || e.Op != amqp.OpCreate || e.RecordID != created.ID || e.Day != created.Date {
		t.Errorf("event = %+v", e)
	}
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")
	_, err := f.svc.CreateExpense(context.Background(), f.employee, core.ExpenseInput{
		Amount:      decimal.NewFromInt(12000),
		CategoryID:  f.catID,
		MethodID:    f.methodID,
		Description: "taxi",
		Date:        core.NewDate(2024, 5, 19),
		Status:      core.ExpenseApproved,
	}, nil)
	if err != nil {
		t.Fatalf("CreateExpense() error = %v", err)
	}
	rows, _ := f.svc.ListExpenses(context.Background(), f.employee, ExpenseFilter{})
	if len(rows) != 1 || rows[0].Status != core.ExpenseRegistered {
		t.Errorf("employee-created expense = %+v", rows)
	}
	if rows[0].Category == nil || rows[0].Category.Name == "" {
		t.Errorf("category not embedded: %+v", rows[0])
	}
}

func TestEditWindowAndOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.putIncome(t, f.employee, core.NewDate(2024, 5, 12), 1000)    // 8 days ago
	recent := f.putIncome(t, f.employee, core.NewDate(2024, 5, 15), 1000) // 5 days ago
	foreign := f.putIncome(t, f.other, core.NewDate(2024, 5, 19), 1000)

	tests := []struct {
		name    string
		viewer  core.Viewer
		id      core.ID
		day     core.Date
		wantErr error
	}{
		{"employee, 8 days old", f.employee, old, core.NewDate(2024, 5, 12), core.ErrEditWindowClosed},
		{"employee, 5 days old", f.employee, recent, core.NewDate(2024, 5, 15), nil},
		{"employee, someone else's", f.employee, foreign, core.NewDate(2024, 5, 19), ErrForbidden},
		{"admin, 8 days old", f.admin, old, core.NewDate(2024, 5, 12), nil},
		{"missing", f.admin, "nope", core.NewDate(2024, 5, 12), ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edit := core.IncomeInput{Amount: decimal.NewFromInt(2500), MethodID: f.methodID, Description: "corregido", Date: tt.day}
			got, err := f.svc.UpdateIncome(ctx, tt.viewer, tt.id, edit, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("UpdateIncome() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && (!got.Amount.Equal(decimal.NewFromInt(2500)) || got.UserID != f.employee.UserID) {
				t.Errorf("updated = %+v", got)
			}
		})
	}

	if err := f.svc.DeleteIncome(ctx, f.employee, old); !errors.Is(err, core.ErrEditWindowClosed) {
		t.Errorf("DeleteIncome(old) error = %v", err)
	}
	if err := f.svc.DeleteIncome(ctx, f.employee, recent); err != nil {
		t.Errorf("DeleteIncome(recent) error = %v", err)
	}
}

func TestAttachmentUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := core.ExpenseInput{
		Amount:      decimal.NewFromInt(80000),
		CategoryID:  f.catID,
		MethodID:    f.methodID,
		Description: "compra insumos",
		Date:        core.NewDate(2024, 5, 20),
	}

	_, err := f.svc.CreateExpense(ctx, f.employee, in, &Attachment{Data: []byte("x"), ContentType: "text/plain"})
	if !errors.Is(err, core.ErrInvalidAttachment) {
		t.Fatalf("error = %v, want ErrInvalidAttachment", err)
	}

	created, err := f.svc.CreateExpense(ctx, f.employee, in, &Attachment{Data: []byte("%PDF-1.4"), ContentType: "application/pdf"})
	if err != nil {
		t.Fatal(err)
	}
	url := created.AttachmentURL()
	prefix := "memory://" + core.BucketInvoices + "/" + f.employee.UserID.String() + "/"
	if !strings.HasPrefix(url, prefix) || !strings.HasSuffix(url, ".pdf") {
		t.Fatalf("invoice url = %q", url)
	}
	if b, ok := f.store.Object(core.BucketInvoices, strings.TrimPrefix(url, "memory://"+core.BucketInvoices+"/")); !ok || string(b) != "%PDF-1.4" {
		t.Errorf("stored object = %q, %v", b, ok)
	}
}

func TestTransientFailuresAreRetried(t *testing.T) {
	f := newFixture(t)
	f.putIncome(t, f.employee, core.NewDate(2024, 5, 10), 1000)
	f.store.FailNext(2, errors.New("connection reset by peer"))
	rows, err := f.svc.ListIncomes(context.Background(), f.employee)
	if err != nil {
		t.Fatalf("ListIncomes() error = %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("rows = %d", len(rows))
	}
	if n := f.store.Selects(core.CollectionIncomes); n != 1 {
		t.Errorf("successful selects = %d, want 1", n)
	}
}

func TestAdminOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.ListUsers(ctx, f.employee); !errors.Is(err, ErrForbidden) {
		t.Errorf("employee ListUsers error = %v", err)
	}
	users, err := f.svc.ListUsers(ctx, f.admin)
	if err != nil || len(users) != 3 {
		t.Fatalf("ListUsers() = %d, %v", len(users), err)
	}
	if err := f.svc.SetUserRole(ctx, f.admin, f.admin.UserID, core.RoleEmployee); !errors.Is(err, ErrForbidden) {
		t.Errorf("self demotion error = %v", err)
	}
	if err := f.svc.SetUserRole(ctx, f.admin, f.other.UserID, core.RoleAdmin); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.SetUserStatus(ctx, f.admin, f.other.UserID, "borrado"); !errors.Is(err, core.ErrInvalidStatus) {
		t.Errorf("bad status error = %v", err)
	}

	users, _ = f.svc.ListUsers(ctx, f.admin)
	for _, u := range users {
		if u.ID == f.other.UserID && u.Role != core.RoleAdmin {
			t.Errorf("role not updated: %+v", u)
		}
	}

	if _, err := f.svc.CreatePaymentMethod(ctx, f.employee, "Daviplata"); !errors.Is(err, ErrForbidden) {
		t.Errorf("employee CreatePaymentMethod error = %v", err)
	}
	if _, err := f.svc.CreatePaymentMethod(ctx, f.admin, "Daviplata"); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.SetPaymentMethodActive(ctx, f.admin, f.methodID, false); err != nil {
		t.Fatal(err)
	}
	active, err := f.svc.ListPaymentMethods(ctx, f.employee, true)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range active {
		if m.ID == f.methodID {
			t.Error("inactive method listed for forms")
		}
	}
	all, _ := f.svc.ListPaymentMethods(ctx, f.admin, false)
	if len(all) != len(active)+1 {
		t.Errorf("all = %d, active = %d", len(all), len(active))
	}
}

func TestHandleChangeAndForgetUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	baseline := f.store.Selects(core.CollectionCategories)
	f.svc.ListIncomes(ctx, f.employee)
	f.svc.ListCategories(ctx, f.employee, true)

	f.svc.HandleChange(ctx, amqp.NewChangeEvent(core.CollectionIncomes, amqp.OpCreate, "x", f.other.UserID, core.NewDate(2024, 5, 1)))
	f.svc.ListIncomes(ctx, f.employee)
	if n := f.store.Selects(core.CollectionIncomes); n != 2 {
		t.Errorf("selects after remote change = %d, want 2", n)
	}
	f.svc.ListCategories(ctx, f.employee, true)
	if n := f.store.Selects(core.CollectionCategories) - baseline; n != 1 {
		t.Errorf("unrelated namespace refetched: %d selects", n)
	}

	if removed := f.svc.ForgetUser(f.employee.UserID); removed != 1 {
		t.Errorf("ForgetUser() removed %d, want 1", removed)
	}

	if got := PatternsFor(core.CollectionPaymentMethods); strings.Join(got, ",") != "metadata,dashboard" {
		t.Errorf("PatternsFor(metodos_pago) = %v", got)
	}
}

// commitThenFail stores every insert and then reports a server error, the
// way a gateway timeout looks after the row was already written.
type commitThenFail struct {
	remote.Backend
	inserts int
}

func (b *commitThenFail) Insert(ctx context.Context, token, collection string, value, dest any) error {
	b.inserts++
	if err := b.Backend.Insert(ctx, token, collection, value, dest); err != nil {
		return err
	}
	return &resilience.BackendError{Message: "upstream request timeout", Status: 503}
}

func TestWritesAreNotRetried(t *testing.T) {
	tests := []struct {
		name       string
		collection string
		create     func(ctx context.Context, f *fixture, svc *Service) error
	}{
		{
			name:       "income",
			collection: core.CollectionIncomes,
			create: func(ctx context.Context, f *fixture, svc *Service) error {
				_, err := svc.CreateIncome(ctx, f.employee, core.IncomeInput{
					Amount:      decimal.NewFromInt(50000),
					MethodID:    f.methodID,
					Description: "servicio técnico",
					Kind:        core.IncomeService,
					Date:        core.NewDate(2024, 5, 20),
				}, nil)
				return err
			},
		},
		{
			name:       "expense",
			collection: core.CollectionExpenses,
			create: func(ctx context.Context, f *fixture, svc *Service) error {
				_, err := svc.CreateExpense(ctx, f.employee, core.ExpenseInput{
					Amount:      decimal.NewFromInt(12000),
					CategoryID:  f.catID,
					MethodID:    f.methodID,
					Description: "taxi",
					Date:        core.NewDate(2024, 5, 19),
				}, nil)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			be := &commitThenFail{Backend: f.store}
			svc := NewService(be, Options{
				Retrier: resilience.NewRetrier(resilience.WithSleeper(func(context.Context, time.Duration) error { return nil })),
				Now:     f.clock.Now,
			})

			if err := tt.create(ctx, f, svc); err == nil {
				t.Fatal("create error = nil, want the server error")
			}
			if be.inserts != 1 {
				t.Errorf("insert attempts = %d, want 1", be.inserts)
			}
			var rows []map[string]any
			if err := f.store.Select(ctx, "", remote.From(tt.collection), &rows); err != nil {
				t.Fatal(err)
			}
			if len(rows) != 1 {
				t.Errorf("stored rows = %d, want 1", len(rows))
			}
		})
	}
}
