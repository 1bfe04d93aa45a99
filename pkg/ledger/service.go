// Package ledger composes the cache store, edit queue, and
// reconciliation engine into one service object constructed at startup
// and passed to callers. Dataset invalidation is wired through explicit
// observer callbacks rather than any event-loop framework.
package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mesh-intelligence/ledgercache/internal/sqlite"
	syncpkg "github.com/mesh-intelligence/ledgercache/internal/sync"
	"github.com/mesh-intelligence/ledgercache/pkg/types"
)

// Service is the entry point for callers: cached reads, edit queueing,
// full resync, and optimistic commit.
type Service struct {
	cfg    types.Config
	gw     types.RemoteGateway
	store  *sqlite.Store
	queue  *syncpkg.Queue
	engine *syncpkg.Engine
	log    *slog.Logger

	commitTimeout time.Duration

	mu              sync.Mutex
	onConfigChanged []func(types.Source)
	onResync        []func()
}

// New validates the configuration and wires a service over the given
// remote gateway. A nil logger falls back to slog.Default.
func New(cfg types.Config, gw types.RemoteGateway, logger *slog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	store := sqlite.NewStore(cfg, logger)
	queue := syncpkg.NewQueue(store, cfg, logger)
	return &Service{
		cfg:           cfg,
		gw:            gw,
		store:         store,
		queue:         queue,
		engine:        syncpkg.NewEngine(gw, store, queue, cfg, logger),
		log:           logger,
		commitTimeout: syncpkg.DefaultCommitTimeout,
	}, nil
}

// Store exposes the underlying cache store for local-only tooling.
func (s *Service) Store() *sqlite.Store {
	return s.store
}

// Verify runs the cache state machine.
func (s *Service) Verify(ctx context.Context) (types.CacheState, error) {
	return s.store.Verify(ctx)
}

// Rows returns all cached rows; a non-usable cache yields no rows.
func (s *Service) Rows(ctx context.Context) ([]types.Row, error) {
	return s.store.Rows(ctx)
}

// QueueEdit buffers one cell edit against the cached dataset.
func (s *Service) QueueEdit(ctx context.Context, localID int64, column string, newValue any) error {
	return s.queue.Edit(ctx, localID, column, newValue)
}

// PendingEdits returns the number of queued edits.
func (s *Service) PendingEdits() int {
	return s.queue.Len()
}

// OnQueueChanged registers a callback invoked with the queue length
// after every queue mutation.
func (s *Service) OnQueueChanged(fn func(int)) {
	s.queue.OnChange(fn)
}

// Commit reconciles all queued edits against the remote source under
// the configured total timeout.
func (s *Service) Commit(ctx context.Context) (*types.CommitReport, error) {
	ctx, cancel := context.WithTimeout(ctx, s.commitTimeout)
	defer cancel()
	return s.engine.Commit(ctx)
}

// Resync replaces the whole cache from the remote source. Pending
// edits are discarded first so stale edits are never applied against
// new data.
func (s *Service) Resync(ctx context.Context) error {
	s.queue.Clear()
	header, rows, err := syncpkg.FetchAll(ctx, s.gw, s.cfg, s.log)
	if err != nil {
		return err
	}
	return s.store.Replace(ctx, header, rows)
}

// OnSourceConfigChanged registers a callback fired when the source
// identity changes.
func (s *Service) OnSourceConfigChanged(fn func(types.Source)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConfigChanged = append(s.onConfigChanged, fn)
}

// OnResyncRequested registers a callback fired when a full resync is
// requested.
func (s *Service) OnResyncRequested(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onResync = append(s.onResync, fn)
}

// SourceChanged tells the service the remote source identity changed:
// pending edits are dropped, the next Verify reports the cache stale,
// and registered observers are notified.
func (s *Service) SourceChanged(src types.Source) {
	s.queue.Clear()
	s.log.Info("source configuration changed", "id", src.SpreadsheetID, "worksheet", src.Worksheet)
	s.mu.Lock()
	observers := append([]func(types.Source){}, s.onConfigChanged...)
	s.mu.Unlock()
	for _, fn := range observers {
		fn(src)
	}
}

// RequestResync notifies observers that a full resync should run.
func (s *Service) RequestResync() {
	s.mu.Lock()
	observers := append([]func(){}, s.onResync...)
	s.mu.Unlock()
	for _, fn := range observers {
		fn()
	}
}
