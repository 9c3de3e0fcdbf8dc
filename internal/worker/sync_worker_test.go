package worker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gastos/internal/amqp"
	"gastos/internal/core"
	"gastos/internal/export"
	"gastos/internal/remote"
	rmemory "gastos/internal/remote/memory"
	"gastos/internal/resilience"
	"gastos/internal/services"
	smemory "gastos/internal/sheets/memory"
)

type fixture struct {
	worker *SyncWorker
	store  *rmemory.Store
	sheets *smemory.Store
	now    time.Time
}

func newFixture(t *testing.T, debounce time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		store:  rmemory.New(),
		sheets: smemory.New(),
		now:    time.Date(2024, 5, 20, 15, 0, 0, 0, time.UTC),
	}
	if err := f.store.SeedDemo("Demo1234"); err != nil {
		t.Fatal(err)
	}
	var methods []core.PaymentMethod
	if err := f.store.Select(context.Background(), "", remote.From(core.CollectionPaymentMethods), &methods); err != nil {
		t.Fatal(err)
	}
	err := f.store.Put(core.CollectionIncomes,
		core.Income{Amount: decimal.NewFromInt(1000), MethodID: methods[0].ID, Description: "venta", Kind: core.IncomeSale, Date: core.NewDate(2024, 5, 3)},
		core.Income{Amount: decimal.NewFromInt(400), MethodID: methods[0].ID, Description: "abril", Kind: core.IncomeSale, Date: core.NewDate(2024, 4, 9)},
	)
	if err != nil {
		t.Fatal(err)
	}

	svc := services.NewService(f.store, services.Options{
		Retrier: resilience.NewRetrier(resilience.WithSleeper(func(context.Context, time.Duration) error { return nil })),
	})
	exporter := export.NewExporter(svc, nil)
	viewer := core.Viewer{Role: core.RoleAdmin, AccessToken: "service-key"}
	f.worker = NewSyncWorker(exporter, f.sheets, viewer, debounce, nil)
	f.worker.now = func() time.Time { return f.now }
	return f
}

func event(collection string, day core.Date) *amqp.ChangeEvent {
	return amqp.NewChangeEvent(collection, amqp.OpCreate, "r1", "u1", day)
}

func TestHandleChange_SyncsImmediatelyWithoutDebounce(t *testing.T) {
	f := newFixture(t, 0)
	if err := f.worker.HandleChange(context.Background(), event(core.CollectionIncomes, core.NewDate(2024, 5, 3))); err != nil {
		t.Fatal(err)
	}
	rows, ok := f.sheets.Tab("2024-05")
	if !ok {
		t.Fatal("tab 2024-05 not written")
	}
	if rows[2][0] != "Total Ingresos" || rows[2][5] != "1000" {
		t.Errorf("summary row = %v", rows[2])
	}
}

func TestHandleChange_WriteFailureIsReturned(t *testing.T) {
	f := newFixture(t, 0)
	f.sheets.FailWith(errors.New("quota exceeded"))
	err := f.worker.HandleChange(context.Background(), event(core.CollectionExpenses, core.NewDate(2024, 5, 3)))
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("err = %v", err)
	}
}

func TestHandleChange_IgnoresUnrelatedEvents(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()
	f.worker.HandleChange(ctx, event(core.CollectionUsers, core.Date{}))
	f.worker.HandleChange(ctx, event(core.CollectionIncomes, core.Date{}))
	if p := f.worker.Pending(); len(p) != 0 {
		t.Errorf("pending = %v", p)
	}
}

func TestFlush_Debounces(t *testing.T) {
	f := newFixture(t, 10*time.Second)
	ctx := context.Background()

	f.worker.HandleChange(ctx, event(core.CollectionIncomes, core.NewDate(2024, 5, 3)))
	f.worker.HandleChange(ctx, event(core.CollectionExpenses, core.NewDate(2024, 5, 9)))
	f.worker.HandleChange(ctx, event(core.CollectionIncomes, core.NewDate(2024, 4, 9)))
	if p := f.worker.Pending(); strings.Join(p, ",") != "2024-04,2024-05" {
		t.Fatalf("pending = %v", p)
	}

	f.now = f.now.Add(5 * time.Second)
	if err := f.worker.Flush(ctx, false); err != nil {
		t.Fatal(err)
	}
	if f.sheets.Writes() != 0 {
		t.Fatalf("flushed %d months inside the debounce window", f.sheets.Writes())
	}

	f.now = f.now.Add(5 * time.Second)
	if err := f.worker.Flush(ctx, false); err != nil {
		t.Fatal(err)
	}
	if f.sheets.Writes() != 2 || len(f.worker.Pending()) != 0 {
		t.Errorf("writes = %d, pending = %v", f.sheets.Writes(), f.worker.Pending())
	}
}

func TestFlush_FailedMonthStaysDirty(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	f.worker.HandleChange(ctx, event(core.CollectionIncomes, core.NewDate(2024, 5, 3)))
	f.sheets.FailWith(errors.New("quota exceeded"))

	if err := f.worker.Flush(ctx, true); err == nil {
		t.Fatal("expected flush error")
	}
	if p := f.worker.Pending(); len(p) != 1 || p[0] != "2024-05" {
		t.Fatalf("pending = %v", p)
	}

	f.sheets.FailWith(nil)
	if err := f.worker.Flush(ctx, true); err != nil {
		t.Fatal(err)
	}
	if f.sheets.Writes() != 1 {
		t.Errorf("writes = %d", f.sheets.Writes())
	}
}

func TestMetadataChangeMarksCurrentMonth(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.worker.HandleChange(context.Background(), event(core.CollectionCategories, core.Date{}))
	if p := f.worker.Pending(); len(p) != 1 || p[0] != "2024-05" {
		t.Errorf("pending = %v", p)
	}
}

func TestStartupSyncCheck(t *testing.T) {
	f := newFixture(t, 0)
	if err := f.worker.StartupSyncCheck(context.Background()); err != nil {
		t.Fatal(err)
	}
	tabs, _ := f.sheets.Tabs(context.Background())
	if strings.Join(tabs, ",") != "2024-04,2024-05" {
		t.Errorf("tabs = %v", tabs)
	}
	april, _ := f.sheets.Tab("2024-04")
	if april[2][5] != "400" {
		t.Errorf("april total = %v", april[2])
	}
}
