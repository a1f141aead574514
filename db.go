package rowan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/rowan/internal/persist"
	"github.com/roach88/rowan/internal/pending"
	"github.com/roach88/rowan/internal/syncer"
	"github.com/roach88/rowan/internal/tree"
	"github.com/roach88/rowan/internal/txn"
)

// Bridge is the transport to an authoritative tree server.
type Bridge = syncer.Bridge

// Writer is the optional raw-write capability of a bridge. The default
// in-process server implements it; a read-only bridge may not.
type Writer interface {
	Put(ctx context.Context, path tree.Path, value tree.Value) error
}

// Error code predicates, re-exported for callers handling transaction
// failures.
var (
	IsValidationError   = txn.IsValidationError
	IsPermissionError   = txn.IsPermissionError
	IsDisconnectedError = txn.IsDisconnectedError
)

// Option configures a Database.
type Option func(*config)

type config struct {
	bridge      Bridge
	storagePath string
	logger      *slog.Logger
}

// WithBridge replaces the default in-process server with a custom
// bridge.
func WithBridge(b Bridge) Option {
	return func(c *config) { c.bridge = b }
}

// WithStoragePath enables durable persistence at the given SQLite path:
// raw writes are journaled until acknowledged and server values are
// cached for reads while disconnected.
func WithStoragePath(path string) Option {
	return func(c *config) { c.storagePath = path }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// Database is one sync session: a bridge, the transaction engine, and
// optional durable storage.
type Database struct {
	bridge  Bridge
	manager *txn.Manager
	logger  *slog.Logger

	store *persist.Store // nil without WithStoragePath
	epoch int64
	seq   *txn.Clock // stamps cache entries

	mu     sync.Mutex
	closed bool
}

// Open creates a session. Without options it runs against a fresh
// in-process server, which is useful for tests and local prototyping.
func Open(opts ...Option) (*Database, error) {
	cfg := &config{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.bridge == nil {
		cfg.bridge = syncer.NewMemServer()
	}

	db := &Database{
		bridge:  cfg.bridge,
		manager: txn.NewManager(cfg.bridge, txn.WithLogger(cfg.logger)),
		logger:  cfg.logger,
		seq:     txn.NewClock(),
	}

	if cfg.storagePath != "" {
		store, err := persist.Open(cfg.storagePath)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		db.store = store

		ctx := context.Background()
		epoch, err := store.NextEpoch(ctx)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
		db.epoch = epoch

		if err := db.flushJournal(ctx); err != nil {
			db.logger.Warn("journal replay incomplete, writes retained", "error", err)
		}
	}

	return db, nil
}

// flushJournal re-submits writes journaled by a previous session. On
// success the journal is cleared; unacknowledged writes stay journaled
// for the next session.
func (db *Database) flushJournal(ctx context.Context) error {
	writer, ok := db.bridge.(Writer)
	if !ok {
		return errors.New("bridge does not accept raw writes")
	}

	writes, err := db.store.PendingWrites(ctx)
	if err != nil {
		return err
	}
	for _, w := range writes {
		if err := writer.Put(ctx, w.Path, w.Value); err != nil {
			return fmt.Errorf("replay write at %s: %w", w.Path, err)
		}
		db.logger.Debug("journaled write replayed", "path", w.Path.String())
	}
	if len(writes) > 0 {
		return db.store.ClearWrites(ctx)
	}
	return nil
}

// Ref returns a handle on the tree at path. The path must be absolute
// ("/a/b"); an invalid path yields a Ref whose operations fail with a
// validation error, mirroring how a bad URL fails at use, not at
// construction.
func (db *Database) Ref(path string) *Ref {
	p, err := tree.ParsePath(path)
	if err != nil {
		return &Ref{db: db, err: txn.NewValidationError(path, err.Error())}
	}
	return &Ref{db: db, path: p}
}

// Close aborts all queued transactions with a disconnect error and
// releases storage. Safe to call more than once.
func (db *Database) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	db.manager.AbortAll(syncer.ErrDisconnected)

	if db.store != nil {
		return db.store.Close()
	}
	return nil
}

// Stats aggregates the session's transaction counters.
type Stats struct {
	Started   int64
	Committed int64
	Aborted   int64
	Failed    int64
	Conflicts int64
}

// Stats returns a snapshot of the session's transaction counters.
func (db *Database) Stats() Stats {
	s := db.manager.Stats()
	return Stats{
		Started:   s.Started,
		Committed: s.Committed,
		Aborted:   s.Aborted,
		Failed:    s.Failed,
		Conflicts: s.Conflicts,
	}
}

// closedErr returns a disconnect error when the session is closed.
func (db *Database) closedErr(path string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return &txn.Error{
			Code:    txn.ErrCodeDisconnected,
			Message: "session closed",
			Path:    path,
		}
	}
	return nil
}

// registry exposes the pending-write registry to Refs.
func (db *Database) registry() *pending.Registry {
	return db.manager.Registry()
}
