package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mesh-intelligence/ledgercache/internal/sqlite"
	"github.com/mesh-intelligence/ledgercache/pkg/types"
)

// fakeGateway serves a fixed header and data grid and records writes.
// The grid holds data rows only; row 0 of the grid is sheet row 2.
type fakeGateway struct {
	header []string
	grid   [][]any

	accessErr error
	sizeErr   error
	headerErr error
	fetchErr  error
	writeErr  error

	// Optional gate: FetchRanges signals fetchStarted, then blocks
	// until fetchRelease is closed.
	fetchStarted chan struct{}
	fetchRelease chan struct{}

	fetchCalls int
	writes     []types.ValueUpdate
}

func (g *fakeGateway) VerifyAccess(ctx context.Context, src types.Source) error {
	return g.accessErr
}

func (g *fakeGateway) QuerySize(ctx context.Context, src types.Source) (int, int, error) {
	if g.sizeErr != nil {
		return 0, 0, g.sizeErr
	}
	return len(g.grid) + 1, len(g.header), nil
}

func (g *fakeGateway) FetchHeader(ctx context.Context, src types.Source) ([]string, error) {
	if g.headerErr != nil {
		return nil, g.headerErr
	}
	return g.header, nil
}

func (g *fakeGateway) FetchRanges(ctx context.Context, src types.Source, ranges []string, opt types.RenderOption) ([]types.ValueRange, error) {
	g.fetchCalls++
	if g.fetchStarted != nil {
		g.fetchStarted <- struct{}{}
	}
	if g.fetchRelease != nil {
		<-g.fetchRelease
	}
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	out := make([]types.ValueRange, 0, len(ranges))
	for _, r := range ranges {
		vr, err := g.sliceRange(r)
		if err != nil {
			return nil, err
		}
		out = append(out, vr)
	}
	return out, nil
}

func (g *fakeGateway) BatchWrite(ctx context.Context, src types.Source, updates []types.ValueUpdate) error {
	if g.writeErr != nil {
		return g.writeErr
	}
	g.writes = append(g.writes, updates...)
	return nil
}

// sliceRange resolves an A1 range like "Expenses!B2:B4" or
// "Expenses!A1:D3" against the header and grid.
func (g *fakeGateway) sliceRange(r string) (types.ValueRange, error) {
	_, ref, ok := strings.Cut(r, "!")
	if !ok {
		return types.ValueRange{}, fmt.Errorf("bad range %q", r)
	}
	from, to, ok := strings.Cut(ref, ":")
	if !ok {
		to = from
	}
	fromCol, fromRow, err := splitCell(from)
	if err != nil {
		return types.ValueRange{}, err
	}
	toCol, toRow, err := splitCell(to)
	if err != nil {
		return types.ValueRange{}, err
	}

	var vr types.ValueRange
	for row := fromRow; row <= toRow; row++ {
		if row == 1 {
			var hdr []any
			for c := fromCol; c <= toCol && c < len(g.header); c++ {
				hdr = append(hdr, g.header[c])
			}
			vr.Values = append(vr.Values, hdr)
			continue
		}
		idx := row - 2
		if idx < 0 || idx >= len(g.grid) {
			continue
		}
		var cells []any
		for c := fromCol; c <= toCol && c < len(g.grid[idx]); c++ {
			cells = append(cells, g.grid[idx][c])
		}
		vr.Values = append(vr.Values, cells)
	}
	return vr, nil
}

func splitCell(ref string) (col, row int, err error) {
	i := 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		i++
	}
	if i == 0 || i == len(ref) {
		return 0, 0, fmt.Errorf("bad cell ref %q", ref)
	}
	for _, ch := range ref[:i] {
		col = col*26 + int(ch-'A') + 1
	}
	col--
	if _, err := fmt.Sscanf(ref[i:], "%d", &row); err != nil {
		return 0, 0, fmt.Errorf("bad cell ref %q: %v", ref, err)
	}
	return col, row, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) types.Config {
	t.Helper()
	return types.Config{
		Source: types.Source{SpreadsheetID: "sheet-1", Worksheet: "Expenses"},
		Columns: []types.Column{
			{Name: "Date", Type: types.ColumnDate},
			{Name: "Amount", Type: types.ColumnFloat},
			{Name: "Description", Type: types.ColumnString},
			{Name: "Category", Type: types.ColumnString},
		},
		Mapping: map[string]string{
			types.RoleDate:        "Date",
			types.RoleAmount:      "Amount",
			types.RoleDescription: "Description",
		},
		Locale: "en_GB",
		DBPath: filepath.Join(t.TempDir(), "cache.db"),
	}
}

var testHeader = []string{"Date", "Amount", "Description", "Category"}

func testGrid() [][]any {
	return [][]any{
		{"15/1/2024", 10.5, "coffee", "food"},
		{"16/1/2024", 42.0, "groceries", "food"},
		{"17/1/2024", 9.99, "book", "leisure"},
	}
}

// seededStore builds a cache whose rows mirror the given grid.
func seededStore(t *testing.T, cfg types.Config, grid [][]any) *sqlite.Store {
	return seededStoreWith(t, cfg, testHeader, grid)
}

func seededStoreWith(t *testing.T, cfg types.Config, header []string, grid [][]any) *sqlite.Store {
	t.Helper()
	store := sqlite.NewStore(cfg, testLogger())
	if err := store.Replace(context.Background(), header, grid); err != nil {
		t.Fatalf("seeding store failed: %v", err)
	}
	return store
}

// fastEngine returns an engine that does not wait between retries.
func fastEngine(gw types.RemoteGateway, store *sqlite.Store, queue *Queue, cfg types.Config) *Engine {
	e := NewEngine(gw, store, queue, cfg, testLogger())
	e.attempts = 2
	e.wait = 0
	return e
}
