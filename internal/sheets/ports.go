package sheets

import (
	"context"

	"gastos/internal/export"
)

// Ports for outbound adapters.
type (
	// ReportWriter replaces the contents of a month tab with a report and
	// returns the range written.
	ReportWriter interface {
		WriteMonth(ctx context.Context, r *export.MonthReport) (rowRef string, err error)
	}

	// TabLister lists the tabs of the target spreadsheet.
	TabLister interface {
		Tabs(ctx context.Context) ([]string, error)
	}
)
