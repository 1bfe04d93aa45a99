package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mesh-intelligence/ledgercache/pkg/types"
)

// fetchBatchRows is the number of rows per range in a full-table read,
// keeping individual responses bounded on large sheets.
const fetchBatchRows = 3000

// FetchAll reads the whole sub-table in bounded ranged batches and
// returns its header and data rows, each row padded to the header
// width. Used by the full resync path; the reconciliation path never
// reads the full table.
func FetchAll(ctx context.Context, gw types.RemoteGateway, cfg types.Config, logger *slog.Logger) ([]string, [][]any, error) {
	if logger == nil {
		logger = slog.Default()
	}
	src := cfg.Source

	if err := gw.VerifyAccess(ctx, src); err != nil {
		return nil, nil, err
	}
	rowCount, colCount, err := gw.QuerySize(ctx, src)
	if err != nil {
		return nil, nil, err
	}
	if rowCount < 1 || colCount < 1 {
		return nil, nil, fmt.Errorf("%w: remote sheet is empty", types.ErrHeadersInvalid)
	}

	lastCol := columnLetters(colCount - 1)
	var ranges []string
	for start := 1; start <= rowCount; start += fetchBatchRows {
		end := start + fetchBatchRows - 1
		if end > rowCount {
			end = rowCount
		}
		ranges = append(ranges, fmt.Sprintf("%s!A%d:%s%d", src.Worksheet, start, lastCol, end))
	}

	logger.Info("fetching remote data", "rows", rowCount, "batches", len(ranges))
	vrs, err := gw.FetchRanges(ctx, src, ranges, types.RenderUnformatted)
	if err != nil {
		return nil, nil, err
	}

	var all [][]any
	for _, vr := range vrs {
		all = append(all, vr.Values...)
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("%w: no data found in the remote sheet", types.ErrHeadersInvalid)
	}

	header := make([]string, len(all[0]))
	for i, c := range all[0] {
		header[i] = fmt.Sprintf("%v", c)
	}
	rows := make([][]any, 0, len(all)-1)
	for _, raw := range all[1:] {
		row := make([]any, len(header))
		copy(row, raw)
		rows = append(rows, row)
	}
	return header, rows, nil
}
