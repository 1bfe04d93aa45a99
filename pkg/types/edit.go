package types

// Row is one cached record: its cache-local identity plus one value per
// configured logical column.
type Row struct {
	LocalID int64
	Values  map[string]any
}

// KeyTuple holds the one-or-more underlying values backing a single
// logical stable-key field (a merged description spans several
// physical columns).
type KeyTuple []any

// EditOperation is one pending cell edit, snapshotted against the
// cached row it was based on. The stable-key snapshot is what the
// reconciliation engine re-verifies against fresh remote data before
// trusting a write target.
type EditOperation struct {
	LocalID    int64
	Column     string
	OrigValue  any
	NewValue   any
	StableKeys map[string]KeyTuple
}

// Clone returns a deep copy of the operation, including its stable-key
// snapshot.
func (op *EditOperation) Clone() *EditOperation {
	cp := *op
	cp.StableKeys = make(map[string]KeyTuple, len(op.StableKeys))
	for field, tuple := range op.StableKeys {
		cp.StableKeys[field] = append(KeyTuple(nil), tuple...)
	}
	return &cp
}

// OpKey identifies one edit operation in a commit result set.
type OpKey struct {
	LocalID int64
	Column  string
}

// Result is the per-operation outcome of a commit: success or a
// human-readable reason for failure.
type Result struct {
	OK      bool
	Message string
}

// CommitReport is the outcome of one commit cycle. Results holds one
// entry per drained operation; Applied counts the edits that landed
// remotely and were reflected back into the cache.
type CommitReport struct {
	SessionID string
	Results   map[OpKey]Result
	Applied   int
}

// Failed counts the operations that did not land.
func (r *CommitReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.OK {
			n++
		}
	}
	return n
}
