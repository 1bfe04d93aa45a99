package types

import "context"

// RenderOption selects how the remote source renders cell values.
type RenderOption string

const (
	// RenderUnformatted returns raw typed values (numbers, date serials).
	RenderUnformatted RenderOption = "UNFORMATTED_VALUE"
	// RenderFormatted returns values as displayed to the user.
	RenderFormatted RenderOption = "FORMATTED_VALUE"
)

// ValueRange is the cell block returned for one requested range, rows
// outermost. Trailing empty cells may be absent.
type ValueRange struct {
	Values [][]any
}

// ValueUpdate is one ranged cell write in a batch.
type ValueUpdate struct {
	Range string
	Value any
}

// RemoteGateway abstracts the remote tabular source. Implementations
// own the wire protocol and authentication; failures surface as
// wrapped sentinel errors (ErrServiceUnavailable, ErrNotFound,
// ErrAccessDenied, ErrAuthentication).
type RemoteGateway interface {
	// VerifyAccess checks that the source container and sub-table exist
	// and are reachable with the current credentials.
	VerifyAccess(ctx context.Context, src Source) error

	// QuerySize returns the sub-table's grid extents (rows, columns),
	// header row included.
	QuerySize(ctx context.Context, src Source) (rows, cols int, err error)

	// FetchHeader returns the first row of the sub-table.
	FetchHeader(ctx context.Context, src Source) ([]string, error)

	// FetchRanges performs one batched, ranged read. The result holds
	// one ValueRange per requested range, in request order.
	FetchRanges(ctx context.Context, src Source, ranges []string, opt RenderOption) ([]ValueRange, error)

	// BatchWrite applies all updates in a single atomic call: either
	// the whole batch lands or none of it does.
	BatchWrite(ctx context.Context, src Source, updates []ValueUpdate) error
}
