package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mesh-intelligence/ledgercache/pkg/types"
)

func TestCommitUniqueMatch(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	store := seededStore(t, cfg, testGrid())
	gw := &fakeGateway{header: testHeader, grid: testGrid()}
	q := NewQueue(store, cfg, testLogger())
	e := fastEngine(gw, store, q, cfg)

	if err := q.Edit(ctx, 2, "Amount", 55.5); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}

	report, err := e.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if report.SessionID == "" {
		t.Error("missing session id")
	}
	res := report.Results[types.OpKey{LocalID: 2, Column: "Amount"}]
	if !res.OK {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if report.Applied != 1 || report.Failed() != 0 {
		t.Errorf("applied=%d failed=%d", report.Applied, report.Failed())
	}

	if len(gw.writes) != 1 {
		t.Fatalf("expected 1 remote write, got %d", len(gw.writes))
	}
	// Local row 2 lives at sheet row 3; Amount is column B.
	if gw.writes[0].Range != "Expenses!B3" {
		t.Errorf("write range = %q", gw.writes[0].Range)
	}
	if gw.writes[0].Value != 55.5 {
		t.Errorf("write value = %v", gw.writes[0].Value)
	}

	row, err := store.GetRow(ctx, 2)
	if err != nil {
		t.Fatalf("GetRow failed: %v", err)
	}
	if row.Values["Amount"] != 55.5 {
		t.Errorf("cache not updated, amount = %v", row.Values["Amount"])
	}
	if q.Len() != 0 {
		t.Errorf("queue not drained, %d ops left", q.Len())
	}
}

func TestCommitNoMatch(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	store := seededStore(t, cfg, testGrid())

	// The remote row drifted since the cache was built.
	remote := testGrid()
	remote[1][1] = 43.0
	gw := &fakeGateway{header: testHeader, grid: remote}
	q := NewQueue(store, cfg, testLogger())
	e := fastEngine(gw, store, q, cfg)

	if err := q.Edit(ctx, 2, "Amount", 55.5); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}

	report, err := e.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	res := report.Results[types.OpKey{LocalID: 2, Column: "Amount"}]
	if res.OK {
		t.Fatal("expected failure for a drifted row")
	}
	if !strings.Contains(res.Message, "no matching row") {
		t.Errorf("message = %q", res.Message)
	}
	if len(gw.writes) != 0 {
		t.Errorf("no write expected, got %d", len(gw.writes))
	}
	if q.Len() != 0 {
		t.Errorf("queue not drained, %d ops left", q.Len())
	}
}

func TestCommitDisambiguatesByRowOrder(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	dup := []any{"15/1/2024", 10.5, "coffee", "food"}
	grid := [][]any{dup, dup, {"17/1/2024", 9.99, "book", "leisure"}}
	store := seededStore(t, cfg, grid)
	gw := &fakeGateway{header: testHeader, grid: grid}
	q := NewQueue(store, cfg, testLogger())
	e := fastEngine(gw, store, q, cfg)

	if err := q.Edit(ctx, 1, "Amount", 11.0); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	if err := q.Edit(ctx, 2, "Amount", 12.0); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}

	report, err := e.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	for localID := int64(1); localID <= 2; localID++ {
		res := report.Results[types.OpKey{LocalID: localID, Column: "Amount"}]
		if !res.OK {
			t.Fatalf("row %d: expected success, got %q", localID, res.Message)
		}
		if !strings.Contains(res.Message, "disambiguated by cache row order") {
			t.Errorf("row %d: message = %q", localID, res.Message)
		}
	}
	if len(gw.writes) != 2 {
		t.Fatalf("expected 2 writes, got %d", len(gw.writes))
	}
	if gw.writes[0].Range != "Expenses!B2" || gw.writes[1].Range != "Expenses!B3" {
		t.Errorf("write ranges = %q, %q", gw.writes[0].Range, gw.writes[1].Range)
	}
	if report.Applied != 2 {
		t.Errorf("applied = %d", report.Applied)
	}
}

func TestCommitAmbiguousFailsClosed(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	dup := []any{"15/1/2024", 10.5, "coffee", "food"}

	// Three identical cached rows but only two identical remote rows:
	// the third edit's own position is not among the matches.
	store := seededStore(t, cfg, [][]any{dup, dup, dup})
	gw := &fakeGateway{header: testHeader, grid: [][]any{dup, dup}}
	q := NewQueue(store, cfg, testLogger())
	e := fastEngine(gw, store, q, cfg)

	if err := q.Edit(ctx, 3, "Amount", 11.0); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}

	report, err := e.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	res := report.Results[types.OpKey{LocalID: 3, Column: "Amount"}]
	if res.OK {
		t.Fatal("expected fail-closed on ambiguity")
	}
	if !strings.Contains(res.Message, "ambiguous match; 2 remote rows share this key") {
		t.Errorf("message = %q", res.Message)
	}
	if len(gw.writes) != 0 {
		t.Errorf("no write expected, got %d", len(gw.writes))
	}
}

func TestCommitConcurrentEditStaysPending(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	store := seededStore(t, cfg, testGrid())
	gw := &fakeGateway{
		header:       testHeader,
		grid:         testGrid(),
		fetchStarted: make(chan struct{}, 1),
		fetchRelease: make(chan struct{}),
	}
	q := NewQueue(store, cfg, testLogger())
	e := fastEngine(gw, store, q, cfg)

	if err := q.Edit(ctx, 2, "Amount", 55.5); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}

	done := make(chan struct{})
	var report *types.CommitReport
	var commitErr error
	go func() {
		defer close(done)
		report, commitErr = e.Commit(ctx)
	}()

	// While the commit is blocked on the remote fetch, edit the same
	// cell again. The drained operation must not pick up the value; it
	// was matched against the earlier snapshot only.
	<-gw.fetchStarted
	if err := q.Edit(ctx, 2, "Amount", 126.0); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	close(gw.fetchRelease)
	<-done

	if commitErr != nil {
		t.Fatalf("Commit failed: %v", commitErr)
	}
	res := report.Results[types.OpKey{LocalID: 2, Column: "Amount"}]
	if !res.OK {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if len(gw.writes) != 1 || gw.writes[0].Value != 55.5 {
		t.Errorf("remote write must carry the committed snapshot value, got %+v", gw.writes)
	}

	// The concurrent edit survives the commit as a new pending op.
	if q.Len() != 1 {
		t.Fatalf("expected 1 pending op after commit, got %d", q.Len())
	}
	op := q.Ops()[0]
	if op.NewValue != 126.0 {
		t.Errorf("pending op value = %v", op.NewValue)
	}
}

func TestCommitNoDataRows(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	store := seededStore(t, cfg, testGrid())
	gw := &fakeGateway{header: testHeader}
	q := NewQueue(store, cfg, testLogger())
	e := fastEngine(gw, store, q, cfg)

	if err := q.Edit(ctx, 1, "Amount", 11.0); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}

	report, err := e.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	res := report.Results[types.OpKey{LocalID: 1, Column: "Amount"}]
	if res.OK || !strings.Contains(res.Message, "no data rows") {
		t.Errorf("result = %+v", res)
	}
	if q.Len() != 0 {
		t.Errorf("queue not drained, %d ops left", q.Len())
	}
}

func TestCommitNoHeaderRow(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	store := seededStore(t, cfg, testGrid())
	// The sheet reports data rows but serves no header row.
	gw := &fakeGateway{grid: testGrid()}
	q := NewQueue(store, cfg, testLogger())
	e := fastEngine(gw, store, q, cfg)

	if err := q.Edit(ctx, 1, "Amount", 11.0); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}

	report, err := e.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	res := report.Results[types.OpKey{LocalID: 1, Column: "Amount"}]
	if res.OK || !strings.Contains(res.Message, "no header row") {
		t.Errorf("result = %+v", res)
	}
	if len(gw.writes) != 0 {
		t.Errorf("no write expected, got %d", len(gw.writes))
	}
}

func TestCommitRemoteHeaderDrift(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	store := seededStore(t, cfg, testGrid())
	gw := &fakeGateway{header: []string{"Date", "Amount", "Description"}, grid: testGrid()}
	q := NewQueue(store, cfg, testLogger())
	e := fastEngine(gw, store, q, cfg)

	if err := q.Edit(ctx, 1, "Amount", 11.0); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}

	report, err := e.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	res := report.Results[types.OpKey{LocalID: 1, Column: "Amount"}]
	if res.OK || !strings.Contains(res.Message, "missing configured columns") {
		t.Errorf("result = %+v", res)
	}
}

func TestCommitBatchWriteFailure(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	store := seededStore(t, cfg, testGrid())
	gw := &fakeGateway{
		header:   testHeader,
		grid:     testGrid(),
		writeErr: fmt.Errorf("writing batch: %w", types.ErrAccessDenied),
	}
	q := NewQueue(store, cfg, testLogger())
	e := fastEngine(gw, store, q, cfg)

	if err := q.Edit(ctx, 1, "Amount", 11.0); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	if err := q.Edit(ctx, 3, "Description", "novel"); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}

	report, err := e.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if report.Applied != 0 {
		t.Errorf("applied = %d", report.Applied)
	}
	for _, k := range []types.OpKey{
		{LocalID: 1, Column: "Amount"},
		{LocalID: 3, Column: "Description"},
	} {
		res := report.Results[k]
		if res.OK || !strings.Contains(res.Message, "batch write failed") {
			t.Errorf("%+v: result = %+v", k, res)
		}
	}

	// The cache must not reflect writes that never landed.
	row, err := store.GetRow(ctx, 1)
	if err != nil {
		t.Fatalf("GetRow failed: %v", err)
	}
	if row.Values["Amount"] != 10.5 {
		t.Errorf("cache mutated after failed write: %v", row.Values["Amount"])
	}
	if q.Len() != 0 {
		t.Errorf("queue not drained, %d ops left", q.Len())
	}
}

func TestCommitEmptyQueue(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	store := seededStore(t, cfg, testGrid())
	gw := &fakeGateway{header: testHeader, grid: testGrid()}
	q := NewQueue(store, cfg, testLogger())
	e := fastEngine(gw, store, q, cfg)

	report, err := e.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if len(report.Results) != 0 || report.Applied != 0 {
		t.Errorf("report = %+v", report)
	}
	if gw.fetchCalls != 0 {
		t.Error("no remote call expected for an empty queue")
	}
}

func TestCommitMatchesByIDAlias(t *testing.T) {
	ctx := context.Background()
	cfg := types.Config{
		Source: types.Source{SpreadsheetID: "sheet-1", Worksheet: "Expenses"},
		Columns: []types.Column{
			{Name: "ID", Type: types.ColumnInt},
			{Name: "Date", Type: types.ColumnDate},
			{Name: "Amount", Type: types.ColumnFloat},
			{Name: "Description", Type: types.ColumnString},
		},
		Mapping: map[string]string{
			types.RoleDate:        "Date",
			types.RoleAmount:      "Amount",
			types.RoleDescription: "Description",
		},
		Locale: "en_GB",
		DBPath: testConfig(t).DBPath,
	}
	header := []string{"ID", "Date", "Amount", "Description"}
	cached := [][]any{
		{1.0, "15/1/2024", 10.5, "coffee"},
		{2.0, "16/1/2024", 42.0, "groceries"},
	}
	store := seededStoreWith(t, cfg, header, cached)

	// The remote date drifted, which would break the composite key; the
	// id column alone still identifies the row.
	remote := [][]any{
		{1.0, "15/1/2024", 10.5, "coffee"},
		{2.0, "20/1/2024", 42.0, "groceries"},
	}
	gw := &fakeGateway{header: header, grid: remote}
	q := NewQueue(store, cfg, testLogger())
	e := fastEngine(gw, store, q, cfg)

	if err := q.Edit(ctx, 2, "Amount", 77.0); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}

	report, err := e.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	res := report.Results[types.OpKey{LocalID: 2, Column: "Amount"}]
	if !res.OK {
		t.Fatalf("expected id-based match, got %q", res.Message)
	}
	if len(gw.writes) != 1 || gw.writes[0].Range != "Expenses!C3" {
		t.Errorf("writes = %+v", gw.writes)
	}
}

func TestCommitSecondCallFailsFast(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	store := seededStore(t, cfg, testGrid())
	gw := &fakeGateway{header: testHeader, grid: testGrid()}
	q := NewQueue(store, cfg, testLogger())
	e := fastEngine(gw, store, q, cfg)

	if err := q.Edit(ctx, 1, "Amount", 11.0); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}

	e.commitMu.Lock()
	_, err := e.Commit(ctx)
	e.commitMu.Unlock()
	if !errors.Is(err, types.ErrCommitInFlight) {
		t.Fatalf("expected ErrCommitInFlight, got %v", err)
	}
	if q.Len() != 1 {
		t.Errorf("rejected commit must leave the queue intact, got %d ops", q.Len())
	}
}

func TestCommitAccessDenied(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	store := seededStore(t, cfg, testGrid())
	gw := &fakeGateway{
		header:    testHeader,
		grid:      testGrid(),
		accessErr: fmt.Errorf("checking access: %w", types.ErrAccessDenied),
	}
	q := NewQueue(store, cfg, testLogger())
	e := fastEngine(gw, store, q, cfg)

	if err := q.Edit(ctx, 1, "Amount", 11.0); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}

	report, err := e.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	res := report.Results[types.OpKey{LocalID: 1, Column: "Amount"}]
	if res.OK || !strings.Contains(res.Message, "access denied") {
		t.Errorf("result = %+v", res)
	}
	if gw.fetchCalls != 0 || len(gw.writes) != 0 {
		t.Error("no further remote calls expected after an access failure")
	}
	if q.Len() != 0 {
		t.Errorf("queue not drained, %d ops left", q.Len())
	}
}
