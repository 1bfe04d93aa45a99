// Package sqlite implements the local cache store: a SQLite file
// holding one dynamically-shaped data table of remote rows plus a
// singleton metadata record driving the cache state machine.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/ledgercache/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

const (
	metaTable = "cache_meta"
	dataTable = "transactions"

	// Bounded delete retry: transient file locks are tolerated.
	deleteAttempts = 5
	deleteBaseWait = time.Second
	deleteWaitGrow = 1.5
	// Schema creation is attempted at most twice; the second attempt
	// runs against a freshly removed file.
	schemaAttempts = 2
)

// sqlTypes maps declared column types to SQLite storage classes.
var sqlTypes = map[types.ColumnType]string{
	types.ColumnDate:   "TEXT",
	types.ColumnInt:    "INTEGER",
	types.ColumnFloat:  "REAL",
	types.ColumnString: "TEXT",
}

// Store owns the persisted cache. Connections are short-lived and
// per-call; no transaction spans more than one logical operation.
type Store struct {
	cfg types.Config
	log *slog.Logger

	// test seams
	removeFile func(string) error
	sleep      func(time.Duration)
	now        func() time.Time
}

// NewStore returns a store over the configured cache path. A nil
// logger falls back to slog.Default.
func NewStore(cfg types.Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:        cfg,
		log:        logger,
		removeFile: os.Remove,
		sleep:      time.Sleep,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) open() (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+s.cfg.DBPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	return db, nil
}

// withConn runs fn against a connection opened for this call only.
func (s *Store) withConn(fn func(*sql.DB) error) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

// ensureSchema creates the metadata schema, rebuilding the store file
// once if creation fails on the existing file. A second failure is
// surfaced to the caller.
func (s *Store) ensureSchema() error {
	var lastErr error
	for attempt := 1; attempt <= schemaAttempts; attempt++ {
		lastErr = s.withConn(func(db *sql.DB) error {
			_, err := db.Exec(schemaSQL)
			return err
		})
		if lastErr == nil {
			return nil
		}
		s.log.Error("cache schema creation failed", "attempt", attempt, "error", lastErr)
		if attempt < schemaAttempts {
			if err := s.removeFile(s.cfg.DBPath); err != nil && !os.IsNotExist(err) {
				s.log.Error("could not remove corrupt cache file", "error", err)
			}
		}
	}
	return fmt.Errorf("%w: schema creation failed: %v", types.ErrCacheInvalid, lastErr)
}

func tableExists(db *sql.DB, name string) (bool, error) {
	var n string
	err := db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, name,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// dataColumns returns the data table's column names, local_id excluded.
func dataColumns(db *sql.DB) ([]string, error) {
	rows, err := db.Query(fmt.Sprintf(`SELECT * FROM %q LIMIT 0`, dataTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := cols[:0]
	for _, c := range cols {
		if c != "local_id" {
			out = append(out, c)
		}
	}
	return out, nil
}

// Verify drives the cache state machine and persists the resulting
// state. It returns a nil error only for the usable states (Valid,
// Empty); every other outcome carries a cache-invalid error with the
// reason. Read paths catch that error and degrade to an empty result;
// sync paths propagate it.
func (s *Store) Verify(ctx context.Context) (types.CacheState, error) {
	if _, err := os.Stat(s.cfg.DBPath); err != nil {
		if err := s.ensureSchema(); err != nil {
			return types.StateError, err
		}
		return s.fail(types.StateUninitialized, "cache is uninitialized: no local store")
	}

	var state types.CacheState
	var verr error
	err := s.withConn(func(db *sql.DB) error {
		ok, err := tableExists(db, metaTable)
		if err != nil {
			return err
		}
		if !ok {
			if err := s.ensureSchema(); err != nil {
				return err
			}
			state, verr = s.fail(types.StateUninitialized, "cache is uninitialized: metadata missing")
			return nil
		}

		var stateStr, sourceID, worksheet string
		var lastSync sql.NullString
		err = db.QueryRow(fmt.Sprintf(
			`SELECT state, last_sync, source_id, worksheet FROM %s WHERE meta_id=1`, metaTable,
		)).Scan(&stateStr, &lastSync, &sourceID, &worksheet)
		if errors.Is(err, sql.ErrNoRows) || isMalformedMeta(err) {
			if err := s.ensureSchema(); err != nil {
				return err
			}
			state, verr = s.fail(types.StateUninitialized, "cache is uninitialized: metadata unreadable")
			return nil
		}
		if err != nil {
			return err
		}

		// A blank stored identity means the cache was never built; the
		// identity drift check only applies to a previously synced cache.
		if sourceID != "" || worksheet != "" {
			if sourceID != s.cfg.Source.SpreadsheetID || worksheet != s.cfg.Source.Worksheet {
				state, verr = s.fail(types.StateStale,
					fmt.Sprintf("cache is stale: built from %s/%s, configured source is %s/%s",
						sourceID, worksheet, s.cfg.Source.SpreadsheetID, s.cfg.Source.Worksheet))
				return nil
			}
		}

		ok, err = tableExists(db, dataTable)
		if err != nil {
			return err
		}
		if !ok {
			state, verr = s.fail(types.StateUninitialized, "cache is uninitialized: no transactions table")
			return nil
		}

		cols, err := dataColumns(db)
		if err != nil {
			return err
		}
		if diff := symmetricDiff(cols, s.cfg.ColumnNames()); len(diff) > 0 {
			state, verr = s.fail(types.StateStale,
				fmt.Sprintf("cache is stale: column mismatch between config and cache: %s",
					strings.Join(diff, ", ")))
			return nil
		}

		if !lastSync.Valid || lastSync.String == "" {
			state, verr = s.fail(types.StateStale, "cache is stale: last sync date not found")
			return nil
		}
		synced, err := time.Parse(time.RFC3339Nano, lastSync.String)
		if err != nil {
			state, verr = s.fail(types.StateStale,
				fmt.Sprintf("cache is stale: invalid last sync date %q", lastSync.String))
			return nil
		}
		if s.now().Sub(synced) >= s.cfg.MaxAge() {
			state, verr = s.fail(types.StateStale,
				fmt.Sprintf("cache is stale: last sync %s", synced.Format(time.RFC3339)))
			return nil
		}

		var count int
		if err := db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %q`, dataTable)).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			state = types.StateEmpty
			s.setStateIn(db, types.StateEmpty)
			return nil
		}

		state = types.StateValid
		s.setStateIn(db, types.StateValid)
		s.log.Info("cache is valid", "rows", count, "columns", len(cols), "last_sync", synced)
		return nil
	})
	if err != nil {
		s.setState(types.StateError)
		return types.StateError, fmt.Errorf("%w: verification failed: %v", types.ErrCacheInvalid, err)
	}
	return state, verr
}

// fail records a non-usable state and builds its typed error.
func (s *Store) fail(state types.CacheState, msg string) (types.CacheState, error) {
	s.setState(state)
	return state, fmt.Errorf("%w: %s", types.ErrCacheInvalid, msg)
}

// isMalformedMeta reports whether a metadata scan error means the table
// shape is wrong (old schema) rather than a transient storage failure.
func isMalformedMeta(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such column")
}

// Replace drops and recreates the data table from the configured
// logical columns, coerces every cell, inserts all rows in a single
// statement, and stamps the metadata with now plus the current source
// identity. The incoming header must match the configuration exactly.
func (s *Store) Replace(ctx context.Context, header []string, rows [][]any) error {
	if diff := symmetricDiff(header, s.cfg.ColumnNames()); len(diff) > 0 {
		return fmt.Errorf("%w: columns differ between config and incoming data: %s",
			types.ErrHeadersInvalid, strings.Join(diff, ", "))
	}
	if err := s.ensureSchema(); err != nil {
		return err
	}

	return s.withConn(func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, dataTable)); err != nil {
			return fmt.Errorf("drop data table: %w", err)
		}

		defs := []string{`"local_id" INTEGER PRIMARY KEY AUTOINCREMENT`}
		for _, col := range header {
			t, err := s.cfg.ColumnType(col)
			if err != nil {
				return err
			}
			defs = append(defs, fmt.Sprintf("%q %s", col, sqlTypes[t]))
		}
		createSQL := fmt.Sprintf("CREATE TABLE %q (\n  %s\n)", dataTable, strings.Join(defs, ",\n  "))
		if _, err := db.ExecContext(ctx, createSQL); err != nil {
			return fmt.Errorf("create data table: %w", err)
		}

		if len(rows) > 0 {
			quoted := make([]string, len(header))
			for i, col := range header {
				quoted[i] = fmt.Sprintf("%q", col)
			}
			group := "(" + strings.TrimSuffix(strings.Repeat("?,", len(header)), ",") + ")"
			groups := make([]string, len(rows))
			args := make([]any, 0, len(rows)*len(header))
			for i, row := range rows {
				if len(row) != len(header) {
					return fmt.Errorf("%w: row %d has %d cells, want %d",
						types.ErrHeadersInvalid, i, len(row), len(header))
				}
				groups[i] = group
				for j, v := range row {
					typed, err := Cast(s.cfg, header[j], v)
					if err != nil {
						return err
					}
					args = append(args, typed)
				}
			}
			insertSQL := fmt.Sprintf("INSERT INTO %q (%s) VALUES %s",
				dataTable, strings.Join(quoted, ","), strings.Join(groups, ","))
			if _, err := db.ExecContext(ctx, insertSQL, args...); err != nil {
				return fmt.Errorf("insert rows: %w", err)
			}
		}

		state := types.StateValid
		if len(rows) == 0 {
			state = types.StateEmpty
		}
		s.setStateIn(db, state)
		if err := s.stampIn(db); err != nil {
			return err
		}
		s.log.Info("cached remote data", "rows", len(rows), "columns", len(header))
		return nil
	})
}

// Rows returns all cached rows in local identity order. A non-usable
// cache degrades to an empty result; only storage failures on a usable
// cache are returned as errors.
func (s *Store) Rows(ctx context.Context) ([]types.Row, error) {
	if _, err := s.Verify(ctx); err != nil {
		s.log.Warn("cache not usable, returning no rows", "reason", err)
		return nil, nil
	}

	var out []types.Row
	err := s.withConn(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			fmt.Sprintf(`SELECT * FROM %q ORDER BY local_id`, dataTable))
		if err != nil {
			return err
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return err
		}
		for rows.Next() {
			r, err := scanRow(rows, cols)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("read cached rows: %w", err)
	}
	return out, nil
}

// GetRow returns one cached row by local identity.
func (s *Store) GetRow(ctx context.Context, localID int64) (types.Row, error) {
	var row types.Row
	err := s.withConn(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			fmt.Sprintf(`SELECT * FROM %q WHERE local_id=?`, dataTable), localID)
		if err != nil {
			return err
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return err
		}
		if !rows.Next() {
			return fmt.Errorf("%w: no local row with id %d", types.ErrRowNotFound, localID)
		}
		row, err = scanRow(rows, cols)
		return err
	})
	if err != nil {
		return types.Row{}, err
	}
	return row, nil
}

// UpdateCell mutates one cell of one cached row in place, coercing the
// value to the column's declared type.
func (s *Store) UpdateCell(ctx context.Context, localID int64, column string, value any) error {
	typed, err := Cast(s.cfg, column, value)
	if err != nil {
		return err
	}
	return s.withConn(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %q SET %q=? WHERE local_id=?`, dataTable, column),
			typed, localID)
		if err != nil {
			return fmt.Errorf("update cell: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: no local row with id %d", types.ErrRowNotFound, localID)
		}
		return nil
	})
}

// Delete removes the persisted store, retrying with exponentially
// increasing backoff to tolerate transient file locks.
func (s *Store) Delete(ctx context.Context) error {
	if _, err := os.Stat(s.cfg.DBPath); os.IsNotExist(err) {
		return nil
	}
	wait := deleteBaseWait
	var lastErr error
	for attempt := 1; attempt <= deleteAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = s.removeFile(s.cfg.DBPath)
		if lastErr == nil || os.IsNotExist(lastErr) {
			s.log.Info("cache store removed", "path", s.cfg.DBPath, "attempt", attempt)
			return nil
		}
		s.log.Error("error removing cache store", "attempt", attempt, "error", lastErr)
		if attempt < deleteAttempts {
			s.sleep(wait)
			wait = time.Duration(float64(wait) * deleteWaitGrow)
		}
	}
	return fmt.Errorf("%w: failed to remove cache store after %d attempts: %v",
		types.ErrCacheInvalid, deleteAttempts, lastErr)
}

// State returns the persisted cache state without re-verifying.
func (s *Store) State(ctx context.Context) types.CacheState {
	state := types.StateError
	err := s.withConn(func(db *sql.DB) error {
		var raw string
		err := db.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT state FROM %s WHERE meta_id=1`, metaTable)).Scan(&raw)
		if err != nil {
			return err
		}
		state = types.ParseCacheState(raw)
		return nil
	})
	if err != nil {
		return types.StateError
	}
	return state
}

// LastSync returns the recorded last sync time, or the zero time if
// the cache was never stamped.
func (s *Store) LastSync(ctx context.Context) time.Time {
	var out time.Time
	_ = s.withConn(func(db *sql.DB) error {
		var raw sql.NullString
		err := db.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT last_sync FROM %s WHERE meta_id=1`, metaTable)).Scan(&raw)
		if err != nil || !raw.Valid {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, raw.String)
		if err != nil {
			s.log.Warn("invalid last sync date in metadata", "value", raw.String)
			return nil
		}
		out = t
		return nil
	})
	return out
}

func (s *Store) setState(state types.CacheState) {
	err := s.withConn(func(db *sql.DB) error {
		s.setStateIn(db, state)
		return nil
	})
	if err != nil {
		s.log.Error("could not persist cache state", "state", state, "error", err)
	}
}

func (s *Store) setStateIn(db *sql.DB, state types.CacheState) {
	if _, err := db.Exec(fmt.Sprintf(
		`UPDATE %s SET state=? WHERE meta_id=1`, metaTable), string(state)); err != nil {
		s.log.Error("could not persist cache state", "state", state, "error", err)
	}
}

// stampIn records now plus the current source identity in the metadata.
func (s *Store) stampIn(db *sql.DB) error {
	_, err := db.Exec(fmt.Sprintf(
		`UPDATE %s SET last_sync=?, source_id=?, worksheet=? WHERE meta_id=1`, metaTable),
		s.now().Format(time.RFC3339Nano),
		s.cfg.Source.SpreadsheetID,
		s.cfg.Source.Worksheet)
	if err != nil {
		return fmt.Errorf("stamp metadata: %w", err)
	}
	return nil
}

// scanRow reads the current result row into a Row, splitting off the
// local_id column and converting byte slices to strings.
func scanRow(rows *sql.Rows, cols []string) (types.Row, error) {
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return types.Row{}, err
	}
	r := types.Row{Values: make(map[string]any, len(cols)-1)}
	for i, col := range cols {
		v := vals[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		if col == "local_id" {
			id, ok := v.(int64)
			if !ok {
				return types.Row{}, fmt.Errorf("unexpected local_id value %v", vals[i])
			}
			r.LocalID = id
			continue
		}
		r.Values[col] = v
	}
	return r, nil
}

// symmetricDiff returns the names present in exactly one of the two
// column sets, sorted for stable messages.
func symmetricDiff(a, b []string) []string {
	inA := make(map[string]bool, len(a))
	for _, s := range a {
		inA[s] = true
	}
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}
	var diff []string
	for s := range inA {
		if !inB[s] {
			diff = append(diff, s)
		}
	}
	for s := range inB {
		if !inA[s] {
			diff = append(diff, s)
		}
	}
	sort.Strings(diff)
	return diff
}
