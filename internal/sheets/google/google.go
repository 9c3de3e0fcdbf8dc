package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"gastos/internal/export"
	"gastos/internal/log"
	ports "gastos/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Config selects the spreadsheet and the service account used to write it.
type Config struct {
	SpreadsheetID   string
	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	logger        *log.Logger

	mu   sync.Mutex
	tabs map[string]struct{}
}

// Ensure interface conformance
var (
	_ ports.ReportWriter = (*Client)(nil)
	_ ports.TabLister    = (*Client)(nil)
)

// New creates a Sheets client. Without opts it authenticates with the
// service account from cfg, falling back to GOOGLE_APPLICATION_CREDENTIALS.
func New(ctx context.Context, cfg Config, logger *log.Logger, opts ...goption.ClientOption) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentSheets)

	if len(opts) == 0 {
		creds, err := readCredentials(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		opts = []goption.ClientOption{
			goption.WithCredentialsJSON(creds),
			goption.WithScopes(gsheet.SpreadsheetsScope),
		}
	}
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	logger.InfoContext(ctx, "Google Sheets service created", "spreadsheet_id", spreadsheetID)

	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		logger:        logger,
		tabs:          make(map[string]struct{}),
	}, nil
}

// readCredentials returns the service account JSON from cfg or from the file
// named by GOOGLE_APPLICATION_CREDENTIALS.
func readCredentials(ctx context.Context, cfg Config, logger *log.Logger) ([]byte, error) {
	inline := strings.TrimSpace(cfg.CredentialsJSON)
	file := strings.TrimSpace(cfg.CredentialsFile)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case inline != "":
		logger.DebugContext(ctx, "Using inline JSON credentials", "json_length", len(inline))
		return []byte(inline), nil
	case file != "":
		logger.DebugContext(ctx, "Reading credentials from file", "path", file)
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_CREDENTIALS_JSON, GOOGLE_CREDENTIALS_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// WriteMonth replaces the contents of the report's tab, creating the tab on
// first use. Values are written RAW so that labels starting with '=' are not
// read as formulas.
func (c *Client) WriteMonth(ctx context.Context, r *export.MonthReport) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	tab := r.Tab()
	if err := c.ensureTab(ctx, tab); err != nil {
		return "", err
	}

	header, cells := export.Table(r.Rows())
	values := make([][]any, 0, len(cells)+1)
	values = append(values, toValues(header))
	for _, row := range cells {
		values = append(values, toValues(row))
	}

	clearRange := fmt.Sprintf("'%s'!A:H", tab)
	_, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, clearRange, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to clear %s: %w", clearRange, err)
	}

	rng := fmt.Sprintf("'%s'!A1:H%d", tab, len(values))
	resp, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to update %s: %w", rng, err)
	}
	ref := rng
	if resp.UpdatedRange != "" {
		ref = resp.UpdatedRange
	}

	c.logger.InfoContext(ctx, "Wrote month report",
		"tab", tab,
		"range", ref,
		"rows", len(values))
	return ref, nil
}

// Tabs lists the sheet titles of the spreadsheet and refreshes the known
// tab set.
func (c *Client) Tabs(ctx context.Context) ([]string, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	resp, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read spreadsheet %s: %w", c.spreadsheetID, err)
	}
	out := make([]string, 0, len(resp.Sheets))
	for _, s := range resp.Sheets {
		if s.Properties != nil {
			out = append(out, s.Properties.Title)
		}
	}

	c.mu.Lock()
	for _, t := range out {
		c.tabs[t] = struct{}{}
	}
	c.mu.Unlock()
	return out, nil
}

func (c *Client) ensureTab(ctx context.Context, tab string) error {
	c.mu.Lock()
	_, known := c.tabs[tab]
	c.mu.Unlock()
	if known {
		return nil
	}

	existing, err := c.Tabs(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(existing, tab) {
		return nil
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: tab}},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", tab, err)
	}
	c.logger.InfoContext(ctx, "Created sheet tab", "tab", tab)

	c.mu.Lock()
	c.tabs[tab] = struct{}{}
	c.mu.Unlock()
	return nil
}

func toValues(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
