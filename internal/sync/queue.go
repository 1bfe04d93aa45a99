// Package sync implements the pending-edit queue and the optimistic
// reconciliation engine that commits queued edits back to the remote
// source without locks: each edit is re-verified against freshly
// fetched remote data and written only on a unique stable-key match.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	stdsync "sync"

	"github.com/mesh-intelligence/ledgercache/internal/sqlite"
	"github.com/mesh-intelligence/ledgercache/pkg/types"
)

// Queue buffers cell edits until the next commit. Edits to the same
// (row, column) cell are squashed, keeping the first original value.
type Queue struct {
	mu       stdsync.Mutex
	ops      []*types.EditOperation
	store    *sqlite.Store
	cfg      types.Config
	log      *slog.Logger
	onChange []func(int)
}

// NewQueue returns an empty edit queue over the given cache store.
func NewQueue(store *sqlite.Store, cfg types.Config, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{store: store, cfg: cfg, log: logger}
}

// OnChange registers a callback invoked with the queue length after
// every mutation. Callbacks run synchronously on the mutating call.
func (q *Queue) OnChange(fn func(int)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onChange = append(q.onChange, fn)
}

// Edit queues one cell edit, capturing the row's stable keys at this
// instant. The column may be a logical role name or a physical column;
// roles backed by more than one physical column are rejected as
// ambiguous write targets.
func (q *Queue) Edit(ctx context.Context, localID int64, column string, newValue any) error {
	physical, err := q.resolveColumn(column)
	if err != nil {
		return err
	}

	row, err := q.store.GetRow(ctx, localID)
	if err != nil {
		return err
	}

	stable, err := stableKeys(q.cfg, row)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, op := range q.ops {
		if op.LocalID == localID && op.Column == physical {
			op.NewValue = newValue
			q.notify()
			return nil
		}
	}
	q.ops = append(q.ops, &types.EditOperation{
		LocalID:    localID,
		Column:     physical,
		OrigValue:  row.Values[physical],
		NewValue:   newValue,
		StableKeys: stable,
	})
	q.log.Debug("queued edit", "local_id", localID, "column", physical)
	q.notify()
	return nil
}

// resolveColumn maps a role name through the mapping, or validates a
// physical column name against the configuration.
func (q *Queue) resolveColumn(column string) (string, error) {
	if spec, ok := q.cfg.Mapping[column]; ok {
		cols := types.ParseMappingSpec(spec)
		if len(cols) > 1 {
			return "", fmt.Errorf("%w: role %q is backed by %d columns",
				types.ErrAmbiguousColumn, column, len(cols))
		}
		if len(cols) == 0 {
			return "", fmt.Errorf("%w: role %q has an empty mapping", types.ErrMappingInvalid, column)
		}
		return cols[0], nil
	}
	if _, err := q.cfg.ColumnType(column); err != nil {
		return "", err
	}
	return column, nil
}

// Ops returns a deep copy of the pending operations in insertion
// order. Later squashes never mutate a returned operation.
func (q *Queue) Ops() []*types.EditOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*types.EditOperation, len(q.ops))
	for i, op := range q.ops {
		out[i] = op.Clone()
	}
	return out
}

// Drain atomically removes and returns all pending operations. The
// caller owns the returned slice; edits queued afterwards form a new
// pending set and never alias an operation being committed.
func (q *Queue) Drain() []*types.EditOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	ops := q.ops
	q.ops = nil
	if len(ops) > 0 {
		q.notify()
	}
	return ops
}

// Len returns the number of pending operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Clear discards all pending edits. Called whenever the dataset is
// about to be replaced so stale edits are never applied against new
// data.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = nil
	q.notify()
}

// notify runs the registered callbacks. Caller holds q.mu.
func (q *Queue) notify() {
	n := len(q.ops)
	for _, fn := range q.onChange {
		fn(n)
	}
}

// stableKeys captures the row's stable-key snapshot: date, amount and
// description via the role mapping, plus the value of an id-alias
// column when the row has one.
func stableKeys(cfg types.Config, row types.Row) (map[string]types.KeyTuple, error) {
	keys := make(map[string]types.KeyTuple, 4)
	for _, role := range []string{types.RoleDate, types.RoleAmount, types.RoleDescription} {
		var tuple types.KeyTuple
		for _, col := range types.ParseMappingSpec(cfg.Mapping[role]) {
			if v, ok := row.Values[col]; ok {
				tuple = append(tuple, v)
			}
		}
		if len(tuple) == 0 {
			return nil, fmt.Errorf("%w: mapping for stable key %q references no valid column",
				types.ErrMappingInvalid, role)
		}
		keys[role] = tuple
	}
	if col, ok := idAliasColumn(columnNames(row)); ok {
		keys[types.RoleID] = types.KeyTuple{row.Values[col]}
	}
	return keys, nil
}

func columnNames(row types.Row) []string {
	names := make([]string, 0, len(row.Values))
	for name := range row.Values {
		names = append(names, name)
	}
	return names
}
