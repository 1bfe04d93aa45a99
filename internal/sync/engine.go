package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/ledgercache/internal/sqlite"
	"github.com/mesh-intelligence/ledgercache/pkg/types"
)

// Engine reconciles queued edits against the remote source. One commit
// may be in flight at a time; a second concurrent call fails fast with
// ErrCommitInFlight and leaves the queue untouched.
type Engine struct {
	gw    types.RemoteGateway
	store *sqlite.Store
	queue *Queue
	cfg   types.Config
	log   *slog.Logger

	commitMu stdsync.Mutex
	attempts int
	wait     time.Duration
}

// NewEngine wires the reconciliation engine to its collaborators.
func NewEngine(gw types.RemoteGateway, store *sqlite.Store, queue *Queue, cfg types.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		gw:       gw,
		store:    store,
		queue:    queue,
		cfg:      cfg,
		log:      logger,
		attempts: DefaultAttempts,
		wait:     DefaultWait,
	}
}

// accepted is one matched operation together with its one-based remote
// sheet row.
type accepted struct {
	op       *types.EditOperation
	sheetRow int
}

// Commit re-fetches the stable-key columns from the remote source,
// matches every queued edit against the fresh data, writes all unique
// matches in one atomic batch, and reflects successful writes into the
// local cache. The pending set is drained as the commit starts, so
// whatever the outcome every drained operation gets a result and edits
// queued while the commit runs stay pending for the next cycle.
func (e *Engine) Commit(ctx context.Context) (*types.CommitReport, error) {
	if !e.commitMu.TryLock() {
		return nil, types.ErrCommitInFlight
	}
	defer e.commitMu.Unlock()

	report := &types.CommitReport{
		SessionID: uuid.Must(uuid.NewV7()).String(),
		Results:   make(map[types.OpKey]types.Result),
	}
	ops := e.queue.Drain()
	if len(ops) == 0 {
		return report, nil
	}

	log := e.log.With("session", report.SessionID)
	log.Info("starting commit", "pending", len(ops))

	// failRest marks every operation without a recorded outcome failed.
	failRest := func(msg string) {
		for _, op := range ops {
			k := types.OpKey{LocalID: op.LocalID, Column: op.Column}
			if _, done := report.Results[k]; !done {
				report.Results[k] = types.Result{OK: false, Message: msg}
			}
		}
	}

	src := e.cfg.Source

	if err := callWithRetry(ctx, log, "verify access", e.attempts, e.wait, func() error {
		return e.gw.VerifyAccess(ctx, src)
	}); err != nil {
		failRest(err.Error())
		return report, nil
	}

	var rowCount int
	if err := callWithRetry(ctx, log, "query size", e.attempts, e.wait, func() error {
		var err error
		rowCount, _, err = e.gw.QuerySize(ctx, src)
		return err
	}); err != nil {
		failRest(err.Error())
		return report, nil
	}
	dataRows := rowCount - 1
	if dataRows <= 0 {
		failRest("remote sheet has no data rows")
		return report, nil
	}

	var header []string
	if err := callWithRetry(ctx, log, "fetch header", e.attempts, e.wait, func() error {
		var err error
		header, err = e.gw.FetchHeader(ctx, src)
		return err
	}); err != nil {
		failRest(err.Error())
		return report, nil
	}
	if len(header) == 0 {
		failRest("remote sheet has no header row")
		return report, nil
	}

	if err := verifyMapping(e.cfg, header); err != nil {
		failRest(err.Error())
		return report, nil
	}

	headerIdx := make(map[string]int, len(header))
	for i, h := range header {
		headerIdx[h] = i
	}

	fields := determineStableFields(header, ops)
	stableMap, err := buildStableHeaderMap(e.cfg, header, fields)
	if err != nil {
		failRest(err.Error())
		return report, nil
	}
	log.Debug("stable key fields resolved", "fields", strings.Join(fields, ","))

	// Ranged read of only the stable-key columns, one range per
	// backing column, in deterministic field order.
	type colRef struct {
		field string
		col   string
	}
	var refs []colRef
	var ranges []string
	for _, f := range fields {
		for _, col := range stableMap[f] {
			refs = append(refs, colRef{field: f, col: col})
			ranges = append(ranges, dataRange(src.Worksheet, columnLetters(headerIdx[col]), rowCount))
		}
	}

	var vrs []types.ValueRange
	if err := callWithRetry(ctx, log, "fetch stable columns", e.attempts, e.wait, func() error {
		var err error
		vrs, err = e.gw.FetchRanges(ctx, src, ranges, types.RenderUnformatted)
		return err
	}); err != nil {
		failRest(err.Error())
		return report, nil
	}
	if len(vrs) != len(refs) {
		failRest(fmt.Sprintf("remote returned %d ranges, want %d", len(vrs), len(refs)))
		return report, nil
	}

	// Normalize each fetched column, padded to the data row count.
	colVals := make(map[colRef][]string, len(refs))
	for i, ref := range refs {
		flat := make([]string, dataRows)
		for r := 0; r < dataRows; r++ {
			var v any
			if r < len(vrs[i].Values) && len(vrs[i].Values[r]) > 0 {
				v = vrs[i].Values[r][0]
			}
			flat[r] = normalizeKeyValue(ref.field, v, e.cfg.Locale)
		}
		colVals[ref] = flat
	}

	// Index composite key -> remote row positions. Rows whose whole key
	// is empty are never match targets.
	index := make(map[string][]int, dataRows)
	for r := 0; r < dataRows; r++ {
		tuples := make([][]string, len(fields))
		for fi, f := range fields {
			for _, col := range stableMap[f] {
				tuples[fi] = append(tuples[fi], colVals[colRef{field: f, col: col}][r])
			}
		}
		key, ok := keyString(tuples)
		if !ok {
			continue
		}
		index[key] = append(index[key], r)
	}

	// Match every operation in insertion order.
	var toWrite []accepted
	for _, op := range ops {
		k := types.OpKey{LocalID: op.LocalID, Column: op.Column}
		key, err := opKey(op, fields, e.cfg.Locale)
		if err != nil {
			report.Results[k] = types.Result{OK: false, Message: err.Error()}
			continue
		}
		matches := index[key]
		switch {
		case len(matches) == 1:
			toWrite = append(toWrite, accepted{op: op, sheetRow: matches[0] + 2})
			report.Results[k] = types.Result{OK: true}
		case len(matches) == 0:
			report.Results[k] = types.Result{
				OK:      false,
				Message: "no matching row found; the remote data may have changed",
			}
		default:
			// Local insertion order approximates the original remote row
			// order; accept only when the edit's own position is among the
			// matches, otherwise fail closed.
			want := int(op.LocalID) - 1
			if containsInt(matches, want) {
				toWrite = append(toWrite, accepted{op: op, sheetRow: want + 2})
				report.Results[k] = types.Result{OK: true, Message: "disambiguated by cache row order"}
			} else {
				report.Results[k] = types.Result{
					OK:      false,
					Message: fmt.Sprintf("ambiguous match; %d remote rows share this key", len(matches)),
				}
			}
		}
	}

	if len(toWrite) == 0 {
		log.Info("commit finished, nothing to write", "failed", report.Failed())
		return report, nil
	}

	// One atomic batch write for every accepted match.
	updates := make([]types.ValueUpdate, 0, len(toWrite))
	for _, a := range toWrite {
		idx, ok := headerIdx[a.op.Column]
		if !ok {
			report.Results[types.OpKey{LocalID: a.op.LocalID, Column: a.op.Column}] = types.Result{
				OK:      false,
				Message: fmt.Sprintf("column %q not found in remote header", a.op.Column),
			}
			continue
		}
		updates = append(updates, types.ValueUpdate{
			Range: cellRange(src.Worksheet, columnLetters(idx), a.sheetRow),
			Value: a.op.NewValue,
		})
	}

	if err := callWithRetry(ctx, log, "batch write", e.attempts, e.wait, func() error {
		return e.gw.BatchWrite(ctx, src, updates)
	}); err != nil {
		// The whole batch is aborted; fail every operation that was not
		// already individually failed during matching.
		for _, op := range ops {
			k := types.OpKey{LocalID: op.LocalID, Column: op.Column}
			if res, done := report.Results[k]; !done || res.OK {
				report.Results[k] = types.Result{
					OK:      false,
					Message: fmt.Sprintf("batch write failed: %v", err),
				}
			}
		}
		log.Error("batch write failed", "error", err)
		return report, nil
	}

	// Reflect successful writes into the local cache.
	for _, a := range toWrite {
		k := types.OpKey{LocalID: a.op.LocalID, Column: a.op.Column}
		if !report.Results[k].OK {
			continue
		}
		if err := e.store.UpdateCell(ctx, a.op.LocalID, a.op.Column, a.op.NewValue); err != nil {
			log.Error("failed to update local cache after remote write",
				"local_id", a.op.LocalID, "column", a.op.Column, "error", err)
			continue
		}
		report.Applied++
	}

	log.Info("commit finished", "applied", report.Applied, "failed", report.Failed())
	return report, nil
}

// verifyMapping re-validates the configured columns and role mapping
// against a freshly fetched remote header.
func verifyMapping(cfg types.Config, header []string) error {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}
	var missing []string
	for _, col := range cfg.ColumnNames() {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: remote sheet is missing configured columns: %s",
			types.ErrHeadersInvalid, strings.Join(missing, ", "))
	}
	for role, spec := range cfg.Mapping {
		for _, col := range types.ParseMappingSpec(spec) {
			if !present[col] {
				return fmt.Errorf("%w: role %q references column %q not found in the remote sheet",
					types.ErrMappingInvalid, role, col)
			}
		}
	}
	return nil
}

// determineStableFields picks the key fields for this commit: the id
// alias alone when the remote header has one, otherwise the composite
// key from the first queued operation's snapshot, in fixed order.
func determineStableFields(header []string, ops []*types.EditOperation) []string {
	if _, ok := idAliasColumn(header); ok {
		return []string{types.RoleID}
	}
	var fields []string
	for _, f := range []string{types.RoleDate, types.RoleAmount, types.RoleDescription} {
		if _, ok := ops[0].StableKeys[f]; ok {
			fields = append(fields, f)
		}
	}
	return fields
}

// buildStableHeaderMap resolves each stable field to its backing remote
// columns, filtered to columns actually present in the header.
func buildStableHeaderMap(cfg types.Config, header []string, fields []string) (map[string][]string, error) {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}
	out := make(map[string][]string, len(fields))
	for _, f := range fields {
		if f == types.RoleID {
			col, ok := idAliasColumn(header)
			if !ok {
				return nil, fmt.Errorf("%w: no id column found in the remote header", types.ErrMappingInvalid)
			}
			out[f] = []string{col}
			continue
		}
		var cols []string
		for _, col := range types.ParseMappingSpec(cfg.Mapping[f]) {
			if present[col] {
				cols = append(cols, col)
			}
		}
		if len(cols) == 0 {
			return nil, fmt.Errorf("%w: stable key %q maps to no remote column", types.ErrMappingInvalid, f)
		}
		out[f] = cols
	}
	return out, nil
}

// opKey encodes one operation's captured stable keys into the same
// composite form used for the remote index.
func opKey(op *types.EditOperation, fields []string, activeLocale string) (string, error) {
	tuples := make([][]string, len(fields))
	for i, f := range fields {
		tuple, ok := op.StableKeys[f]
		if !ok {
			return "", fmt.Errorf("edit is missing stable key %q", f)
		}
		for _, v := range tuple {
			tuples[i] = append(tuples[i], normalizeKeyValue(f, v, activeLocale))
		}
	}
	key, _ := keyString(tuples)
	return key, nil
}

func containsInt(xs []int, want int) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}
