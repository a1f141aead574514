package rowan

import (
	"context"
	"fmt"

	"github.com/roach88/rowan/internal/tree"
	"github.com/roach88/rowan/internal/txn"
)

// Ref is a handle on one path of the synchronized tree.
type Ref struct {
	db   *Database
	path tree.Path
	err  *txn.Error // set when the path failed to parse
}

// Path returns the ref's normalized path string.
func (r *Ref) Path() string {
	if r.err != nil {
		return r.err.Path
	}
	return r.path.String()
}

// Child returns a ref on a child path.
func (r *Ref) Child(segments ...string) *Ref {
	if r.err != nil {
		return r
	}
	p := r.path
	for _, seg := range segments {
		if seg == "" {
			return &Ref{db: r.db, err: txn.NewValidationError(r.path.String(), "empty child segment")}
		}
		p = p.Child(seg)
	}
	return &Ref{db: r.db, path: p}
}

// UpdateFunc is a transaction's read-modify-write function. It receives
// the locally visible value at the ref's path (nil when absent) as
// plain Go values: bool, int64, float64, string, []any, map[string]any.
// Returning write=false aborts the transaction without a network call.
//
// The function may run more than once; it must be free of side effects
// that cannot be repeated.
type UpdateFunc func(current any) (next any, write bool)

// TransactionResult is the terminal outcome of a transaction.
type TransactionResult struct {
	// Committed reports whether the server accepted a write.
	Committed bool

	// Snapshot is the value at the ref's path at completion, as plain
	// Go values.
	Snapshot any

	// Attempts is the number of update invocations.
	Attempts int

	// Cause carries the abort condition for externally aborted
	// transactions (e.g. a raw overwrite at an overlapping path). Nil
	// when the update function itself declined to write.
	Cause error
}

// TxnOption configures a single transaction.
type TxnOption func(*txnConfig)

type txnConfig struct {
	applyLocally bool
}

// WithApplyLocally controls whether the speculative value is visible to
// local reads while the write is in flight. Defaults to true.
func WithApplyLocally(visible bool) TxnOption {
	return func(c *txnConfig) { c.applyLocally = visible }
}

// Transaction atomically transforms the value at the ref's path. It
// blocks until the transaction commits, aborts, or fails; retries on
// conflict are unbounded. Cancel the context to stop waiting.
func (r *Ref) Transaction(ctx context.Context, fn UpdateFunc, opts ...TxnOption) (TransactionResult, error) {
	if r.err != nil {
		return TransactionResult{}, r.err
	}
	if err := r.db.closedErr(r.path.String()); err != nil {
		return TransactionResult{}, err
	}
	if fn == nil {
		return TransactionResult{}, txn.NewValidationError(r.path.String(), "update function is required")
	}

	cfg := &txnConfig{applyLocally: true}
	for _, opt := range opts {
		opt(cfg)
	}

	var convErr error
	update := func(current tree.Value) (tree.Value, bool) {
		next, write := fn(tree.ToGo(current))
		if !write {
			return nil, false
		}
		value, err := tree.FromGo(next)
		if err != nil {
			// Surface as a panic so the engine maps it onto the
			// transaction error taxonomy; record the cause for wrapping.
			convErr = err
			panic(fmt.Sprintf("unsupported transaction value: %v", err))
		}
		return value, true
	}

	res, err := r.db.manager.Run(ctx, r.path, update, cfg.applyLocally)
	if err != nil {
		if convErr != nil {
			return TransactionResult{}, txn.NewValidationError(r.path.String(), convErr.Error())
		}
		return TransactionResult{}, err
	}

	out := TransactionResult{
		Committed: res.Committed,
		Snapshot:  tree.ToGo(res.Snapshot),
		Attempts:  res.Attempts,
	}
	if res.Cause != nil {
		out.Cause = res.Cause
	}
	return out, nil
}

// Set applies a raw overwrite at the ref's path. Overlapping queued
// transactions abort immediately: a raw write invalidates their
// optimistic premise. The write stays locally visible and journaled
// until the server accepts it.
func (r *Ref) Set(ctx context.Context, value any) error {
	if r.err != nil {
		return r.err
	}
	if err := r.db.closedErr(r.path.String()); err != nil {
		return err
	}
	writer, ok := r.db.bridge.(Writer)
	if !ok {
		return fmt.Errorf("set %s: bridge does not accept raw writes", r.path)
	}

	tv, err := tree.FromGo(value)
	if err != nil {
		return txn.NewValidationError(r.path.String(), err.Error())
	}

	// Abort overlapping transactions before the write becomes visible.
	r.db.manager.NotifyOverwrite(r.path)

	// Locally visible and journaled until acknowledged.
	registry := r.db.registry()
	writeID := registry.Add(r.path, tv, true)
	if r.db.store != nil {
		w, _ := registry.Get(writeID)
		if err := r.db.store.AppendWrite(ctx, r.db.epoch, w); err != nil {
			r.db.logger.Warn("write not journaled", "path", r.path.String(), "error", err)
		}
	}

	putErr := writer.Put(ctx, r.path, tv)
	if putErr == nil {
		registry.Remove(writeID)
		if r.db.store != nil {
			if err := r.db.store.RemoveWrite(ctx, r.db.epoch, writeID); err != nil {
				r.db.logger.Warn("journal entry not cleared", "path", r.path.String(), "error", err)
			}
		}
		return nil
	}

	// The write failed outright; it will not be retried, so drop it
	// from the overlay and the journal.
	registry.Remove(writeID)
	if r.db.store != nil {
		_ = r.db.store.RemoveWrite(ctx, r.db.epoch, writeID)
	}
	return fmt.Errorf("set %s: %w", r.path, putErr)
}

// Get returns the locally visible value at the ref's path: the server
// value overlaid with pending local writes, as plain Go values (nil
// when absent). When the server is unreachable and storage is enabled,
// Get falls back to the cached server value.
func (r *Ref) Get(ctx context.Context) (any, error) {
	if r.err != nil {
		return nil, r.err
	}
	if err := r.db.closedErr(r.path.String()); err != nil {
		return nil, err
	}

	value, err := r.db.manager.OverlayedRead(ctx, r.path)
	if err != nil {
		if r.db.store != nil {
			cached, _, ok, cacheErr := r.db.store.ServerValue(ctx, r.path)
			if cacheErr == nil && ok {
				overlaid, _ := r.db.registry().OverlayedValue(r.path, cached)
				return tree.ToGo(overlaid), nil
			}
		}
		return nil, err
	}

	if r.db.store != nil {
		serverValue, token, readErr := r.db.bridge.Read(ctx, r.path)
		if readErr == nil {
			if err := r.db.store.PutServerValue(ctx, r.path, serverValue, token, r.db.seq.Next()); err != nil {
				r.db.logger.Warn("server value not cached", "path", r.path.String(), "error", err)
			}
		}
	}

	return tree.ToGo(value), nil
}

// Watch subscribes to locally relevant changes at the ref's path. The
// callback receives the new server value (overlaid with pending local
// writes) after each server-confirmed change. The returned cancel
// function is idempotent.
func (r *Ref) Watch(fn func(value any)) (cancel func(), err error) {
	if r.err != nil {
		return nil, r.err
	}
	if err := r.db.closedErr(r.path.String()); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, txn.NewValidationError(r.path.String(), "watch callback is required")
	}

	registry := r.db.registry()
	path := r.path
	return r.db.bridge.Subscribe(path, func(serverValue tree.Value, _ tree.VersionToken) {
		overlaid, _ := registry.OverlayedValue(path, serverValue)
		fn(tree.ToGo(overlaid))
	}), nil
}
