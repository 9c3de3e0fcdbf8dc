package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gastos/internal/amqp"
	"gastos/internal/core"
	"gastos/internal/export"
	"gastos/internal/log"
	"gastos/internal/sheets"
)

// maxParallelSyncs bounds concurrent month writes to the spreadsheet.
const maxParallelSyncs = 2

type month struct {
	year  int
	month int
}

func (m month) String() string { return fmt.Sprintf("%04d-%02d", m.year, m.month) }

// SyncWorker mirrors month reports into a spreadsheet. Change events mark
// months dirty; a dirty month is re-exported once no further change for it
// arrived within the debounce interval.
type SyncWorker struct {
	exporter *export.Exporter
	sheets   sheets.ReportWriter
	viewer   core.Viewer
	debounce time.Duration
	now      func() time.Time
	logger   *log.Logger

	mu    sync.Mutex
	dirty map[month]time.Time
}

func NewSyncWorker(exporter *export.Exporter, writer sheets.ReportWriter, viewer core.Viewer, debounce time.Duration, logger *log.Logger) *SyncWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &SyncWorker{
		exporter: exporter,
		sheets:   writer,
		viewer:   viewer,
		debounce: debounce,
		now:      time.Now,
		logger:   logger.WithComponent(log.ComponentWorker),
		dirty:    make(map[month]time.Time),
	}
}

// HandleChange processes one change event from the durable queue. Without a
// debounce interval the month is synced before returning so that a failure
// is redelivered.
func (w *SyncWorker) HandleChange(ctx context.Context, e *amqp.ChangeEvent) error {
	m, ok := w.monthOf(e)
	if !ok {
		w.logger.DebugContext(ctx, "Ignoring change without a month",
			log.FieldEventID, e.ID,
			log.FieldCollection, e.Collection)
		return nil
	}
	w.logger.InfoContext(ctx, "Processing change event",
		log.FieldEventID, e.ID,
		log.FieldCollection, e.Collection,
		log.FieldOperation, e.Op,
		"month", m.String())

	if w.debounce <= 0 {
		return w.SyncMonth(ctx, m.year, m.month)
	}
	w.mu.Lock()
	w.dirty[m] = w.now()
	w.mu.Unlock()
	return nil
}

// monthOf maps an event to the month it changes. Record events carry their
// day; renaming a category or payment method affects the current month.
func (w *SyncWorker) monthOf(e *amqp.ChangeEvent) (month, bool) {
	switch e.Collection {
	case core.CollectionExpenses, core.CollectionIncomes:
		if e.Day.IsZero() {
			return month{}, false
		}
		y, m := e.Month()
		return month{y, m}, true
	case core.CollectionCategories, core.CollectionPaymentMethods:
		today := core.DateOf(w.now().In(core.Bogota))
		return month{today.Year(), int(today.Month())}, true
	default:
		return month{}, false
	}
}

// Pending lists dirty months, oldest first.
func (w *SyncWorker) Pending() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.dirty))
	for m := range w.dirty {
		out = append(out, m.String())
	}
	sort.Strings(out)
	return out
}

// Flush syncs every dirty month whose last change is older than the
// debounce interval, or every dirty month when force is set. Months that
// fail stay dirty.
func (w *SyncWorker) Flush(ctx context.Context, force bool) error {
	now := w.now()
	w.mu.Lock()
	var due []month
	for m, at := range w.dirty {
		if force || now.Sub(at) >= w.debounce {
			due = append(due, m)
			delete(w.dirty, m)
		}
	}
	w.mu.Unlock()
	if len(due) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelSyncs)
	for _, m := range due {
		g.Go(func() error {
			if err := w.SyncMonth(gctx, m.year, m.month); err != nil {
				w.mu.Lock()
				if _, again := w.dirty[m]; !again {
					w.dirty[m] = now
				}
				w.mu.Unlock()
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Run flushes due months every interval until ctx is done, then makes one
// last forced flush.
func (w *SyncWorker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			if err := w.Flush(flushCtx, true); err != nil {
				w.logger.Error("Final flush failed", log.FieldError, err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := w.Flush(ctx, false); err != nil {
				w.logger.WarnContext(ctx, "Flush failed, will retry", log.FieldError, err)
			}
		}
	}
}

// SyncMonth exports one month and writes it to the spreadsheet.
func (w *SyncWorker) SyncMonth(ctx context.Context, year, mon int) error {
	r, err := w.exporter.Month(ctx, w.viewer, year, mon)
	if err != nil {
		return fmt.Errorf("export month: %w", err)
	}
	ref, err := w.sheets.WriteMonth(ctx, r)
	if err != nil {
		return fmt.Errorf("write month to sheets: %w", err)
	}
	w.logger.InfoContext(ctx, "Successfully synced month",
		log.FieldYear, year,
		log.FieldMonth, mon,
		"sheets_ref", ref,
		"incomes", len(r.Incomes),
		"expenses", len(r.Expenses))
	return nil
}

// StartupSyncCheck re-exports the current and previous months to recover
// from events missed while the worker was down.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	today := core.DateOf(w.now().In(core.Bogota))
	first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	prev := first.AddDate(0, -1, 0)

	successCount, errorCount := 0, 0
	for _, t := range []time.Time{prev, first} {
		if err := w.SyncMonth(ctx, t.Year(), int(t.Month())); err != nil {
			w.logger.ErrorContext(ctx, "Failed to sync month during startup",
				log.FieldYear, t.Year(),
				log.FieldMonth, int(t.Month()),
				log.FieldError, err)
			errorCount++
			continue
		}
		successCount++
	}
	w.logger.InfoContext(ctx, "Startup sync completed", "synced", successCount, "errors", errorCount)
	if successCount == 0 {
		return fmt.Errorf("startup sync: %d months failed", errorCount)
	}
	return nil
}
