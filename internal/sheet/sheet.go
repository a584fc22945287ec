package sheet

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Client writes summary rows into one worksheet tab of a spreadsheet.
// The tab is created with a header row on first use; rows land in a
// fixed range keyed by the configured start row, so re-running the
// agent overwrites the previous report instead of appending.

const (
	newSheetRows     = 1000
	valueInputOption = "USER_ENTERED"
)

// api is the slice of the Sheets service the client needs. Kept small
// so tests can substitute a fake.
type api interface {
	SheetTitles(ctx context.Context) ([]string, error)
	AddSheet(ctx context.Context, title string, cols int64) error
	Update(ctx context.Context, rng string, values [][]interface{}) error
}

type Client struct {
	api      api
	tab      string
	header   []string
	startRow int

	ensured bool
}

func NewClient(ctx context.Context, credentialsPath, spreadsheetID, tab string, header []string, startRow int) (*Client, error) {
	svc, err := sheets.NewService(ctx,
		option.WithCredentialsFile(credentialsPath),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newClient(&googleAPI{svc: svc, spreadsheetID: spreadsheetID}, tab, header, startRow), nil
}

func newClient(a api, tab string, header []string, startRow int) *Client {
	return &Client{api: a, tab: tab, header: header, startRow: startRow}
}

// Publish ensures the worksheet exists with its header, then overwrites
// the report region with rows. An empty batch writes nothing.
func (c *Client) Publish(ctx context.Context, rows [][]interface{}) error {
	if err := c.ensureSheet(ctx); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	end := c.startRow + len(rows) - 1
	rng := fmt.Sprintf("%s!A%d:%s%d", c.tab, c.startRow, columnLetter(len(c.header)), end)
	if err := c.api.Update(ctx, rng, rows); err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	return nil
}

func (c *Client) ensureSheet(ctx context.Context) error {
	if c.ensured {
		return nil
	}

	titles, err := c.api.SheetTitles(ctx)
	if err != nil {
		return fmt.Errorf("list sheets: %w", err)
	}
	for _, t := range titles {
		if t == c.tab {
			c.ensured = true
			return nil
		}
	}

	if err := c.api.AddSheet(ctx, c.tab, int64(len(c.header))); err != nil {
		return fmt.Errorf("add sheet %s: %w", c.tab, err)
	}
	hdr := make([]interface{}, len(c.header))
	for i, h := range c.header {
		hdr[i] = h
	}
	rng := fmt.Sprintf("%s!A1:%s1", c.tab, columnLetter(len(c.header)))
	if err := c.api.Update(ctx, rng, [][]interface{}{hdr}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	c.ensured = true
	return nil
}

// columnLetter is only ever called with header widths, all well under
// 27 columns.
func columnLetter(n int) string {
	return string(rune('A' + n - 1))
}

type googleAPI struct {
	svc           *sheets.Service
	spreadsheetID string
}

func (g *googleAPI) SheetTitles(ctx context.Context) ([]string, error) {
	resp, err := g.svc.Spreadsheets.Get(g.spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(resp.Sheets))
	for _, s := range resp.Sheets {
		if s.Properties != nil {
			titles = append(titles, s.Properties.Title)
		}
	}
	return titles, nil
}

func (g *googleAPI) AddSheet(ctx context.Context, title string, cols int64) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{
					Title: title,
					GridProperties: &sheets.GridProperties{
						RowCount:    newSheetRows,
						ColumnCount: cols,
					},
				},
			},
		}},
	}
	_, err := g.svc.Spreadsheets.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do()
	return err
}

func (g *googleAPI) Update(ctx context.Context, rng string, values [][]interface{}) error {
	vr := &sheets.ValueRange{Values: values}
	_, err := g.svc.Spreadsheets.Values.Update(g.spreadsheetID, rng, vr).
		ValueInputOption(valueInputOption).
		Context(ctx).Do()
	return err
}
