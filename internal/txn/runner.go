package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/rowan/internal/pending"
	"github.com/roach88/rowan/internal/syncer"
	"github.com/roach88/rowan/internal/tree"
)

// Manager owns the transaction queues and the pending-write registry
// for one sync session and drives every entry's state machine.
//
// Thread-safety model:
//   - Run(), NotifyOverwrite(), AbortAll(): safe from any goroutine
//   - all queue/entry mutation happens under one session mutex; the
//     registry carries its own lock so the public surface may touch it
//     directly for raw writes
//
// INVARIANTS:
//   - at most one entry per path is in flight (SENT/SENT_NEEDS_ABORT)
//   - an entry's result cell resolves exactly once
//   - a retry is never started before the previous attempt's verdict
//     is known
type Manager struct {
	mu       sync.Mutex
	bridge   syncer.Bridge
	registry *pending.Registry
	queues   *queueSet
	clock    *Clock
	tokens   TokenGenerator
	recorder Recorder
	logger   *slog.Logger
	stats    statsCounter
}

// Option configures a Manager.
type Option func(*Manager)

// WithTokenGenerator overrides the transaction token generator.
// Tests use FixedGenerator for deterministic traces.
func WithTokenGenerator(gen TokenGenerator) Option {
	return func(m *Manager) {
		m.tokens = gen
	}
}

// WithRecorder installs a trace recorder. Nil disables tracing.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a Manager bound to a bridge.
func NewManager(bridge syncer.Bridge, opts ...Option) *Manager {
	m := &Manager{
		bridge:   bridge,
		registry: pending.NewRegistry(),
		queues:   newQueueSet(),
		clock:    NewClock(),
		tokens:   UUIDv7Generator{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the session's pending-write registry. The public
// surface uses it to make raw writes locally visible until the server
// acknowledges them.
func (m *Manager) Registry() *pending.Registry {
	return m.registry
}

// Stats returns a snapshot of the session's transaction counters.
func (m *Manager) Stats() Stats {
	return m.stats.snapshot()
}

// QueueSize returns the number of queued entries. Diagnostics only.
func (m *Manager) QueueSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queues.size()
}

// SentCount returns the number of in-flight entries for path.
// Diagnostics only; the invariant is that it never exceeds 1.
func (m *Manager) SentCount(path tree.Path) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queues.sentCount(path.String())
}

// Run executes one transaction at path and blocks until its terminal
// outcome. The update function may run multiple times (once per
// attempt); retries are unbounded until commit, abort, or hard error.
//
// Validation failures (reserved meta-keys) surface before anything is
// queued. Context cancellation aborts the entry: an in-flight write is
// left to the server, but its verdict is discarded.
func (m *Manager) Run(ctx context.Context, path tree.Path, update UpdateFunc, applyLocally bool) (Result, error) {
	if update == nil {
		return Result{}, NewValidationError(path.String(), "update function is required")
	}
	if path.IsReserved() {
		return Result{}, NewValidationError(path.String(), "path contains a reserved meta-key segment")
	}

	e := &Entry{
		path:         path,
		key:          path.String(),
		token:        m.tokens.Generate(),
		ctx:          ctx,
		update:       update,
		applyLocally: applyLocally,
		order:        m.clock.Next(),
		status:       StatusRun,
		result:       newResultCell(),
	}

	m.stats.started()
	m.logger.Debug("transaction enqueued",
		"txn", e.token,
		"path", e.key,
		"apply_locally", applyLocally,
	)

	m.mu.Lock()
	m.queues.enqueue(e)
	m.recordLocked(Event{Kind: EventEnqueued, Txn: e.token, Path: e.key})
	runnable := m.queues.nextSendable(e.key) == e
	m.mu.Unlock()

	if runnable {
		go m.attempt(e)
	}

	select {
	case <-e.result.done:
	case <-ctx.Done():
		m.cancel(e, ctx.Err())
	}
	return e.result.wait()
}

// NotifyOverwrite reports a non-transactional write landing at path.
// Every queued transaction on an overlapping path aborts: the external
// overwrite invalidated its optimistic premise, so waiting for the
// server round trip would only delay the inevitable rejection.
func (m *Manager) NotifyOverwrite(path tree.Path) {
	m.mu.Lock()
	affected := m.queues.entriesOverlapping(path)
	freed := make(map[string]bool)
	for _, e := range affected {
		cause := newOverwriteCause(e.key, e.token)
		res := Result{
			Committed: false,
			Snapshot:  e.currentInput,
			Attempts:  e.attempts,
			Cause:     cause,
		}
		switch e.status {
		case StatusRun:
			m.completeLocked(e, res, nil)
			freed[e.key] = true
		case StatusSent:
			// Answer the caller now; park the entry so the in-flight
			// verdict is discarded when it lands. The entry keeps
			// blocking its queue until then.
			e.status = StatusSentNeedsAbort
			if e.result.resolve(res, nil) {
				m.stats.abort()
				m.recordLocked(Event{
					Kind:    EventCompleted,
					Txn:     e.token,
					Path:    e.key,
					Attempt: e.attempts,
					Value:   res.Snapshot,
					Detail:  string(cause.Code),
				})
			}
		}
	}
	m.mu.Unlock()

	for key := range freed {
		m.pumpKey(key)
	}
}

// AbortAll fails every queued transaction with a disconnect error.
// Used when the session's connection is lost or the database closes.
func (m *Manager) AbortAll(cause error) {
	m.mu.Lock()
	var all []*Entry
	for _, entries := range m.queues.queues {
		all = append(all, entries...)
	}
	for _, e := range all {
		err := &Error{
			Code:    ErrCodeDisconnected,
			Message: "transaction aborted: session disconnected",
			Path:    e.key,
			Txn:     e.token,
			Cause:   cause,
		}
		res := Result{Committed: false, Snapshot: e.currentInput, Attempts: e.attempts}
		switch e.status {
		case StatusRun:
			m.completeLocked(e, res, err)
		case StatusSent:
			e.status = StatusSentNeedsAbort
			if e.result.resolve(res, err) {
				m.stats.fail()
				m.recordLocked(Event{
					Kind:    EventCompleted,
					Txn:     e.token,
					Path:    e.key,
					Attempt: e.attempts,
					Detail:  string(ErrCodeDisconnected),
				})
			}
		}
	}
	m.mu.Unlock()
}

// OverlayedRead returns the locally visible value at path: the server
// value with all visible pending writes applied.
func (m *Manager) OverlayedRead(ctx context.Context, path tree.Path) (tree.Value, error) {
	serverValue, _, err := m.bridge.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	overlaid, _ := m.registry.OverlayedValue(path, serverValue)
	return overlaid, nil
}

// cancel aborts a single entry on context cancellation.
func (m *Manager) cancel(e *Entry, cause error) {
	m.mu.Lock()
	res := Result{Committed: false, Snapshot: e.currentInput, Attempts: e.attempts}
	switch e.status {
	case StatusRun:
		m.completeLocked(e, res, cause)
		key := e.key
		m.mu.Unlock()
		m.pumpKey(key)
		return
	case StatusSent:
		e.status = StatusSentNeedsAbort
		if e.result.resolve(res, cause) {
			m.stats.fail()
			m.recordLocked(Event{
				Kind:    EventCompleted,
				Txn:     e.token,
				Path:    e.key,
				Attempt: e.attempts,
				Detail:  "CANCELED",
			})
		}
	}
	m.mu.Unlock()
}

// attempt drives one RUN entry through a single try: read the locally
// visible input (unless a conflict already seeded it), invoke the
// update function, and either finish without a network call or send
// the conditional write.
func (m *Manager) attempt(e *Entry) {
	m.mu.Lock()
	if e.status != StatusRun || e.result.resolved() {
		m.mu.Unlock()
		return
	}
	seeded := e.seeded
	input := e.currentInput
	inputToken := e.currentInputToken
	m.mu.Unlock()

	if !seeded {
		serverValue, token, err := m.bridge.Read(e.ctx, e.path)
		if err != nil {
			m.completeWithBridgeError(e, err)
			return
		}
		input, _ = m.registry.OverlayedValue(e.path, serverValue)
		inputToken = token
	}

	m.mu.Lock()
	// Re-validate after the read suspension point: an overwrite or
	// cancellation may have resolved the entry meanwhile.
	if e.status != StatusRun || e.result.resolved() {
		m.mu.Unlock()
		return
	}

	e.attempts++
	e.currentInput = input
	e.currentInputToken = inputToken
	e.seeded = false
	m.recordLocked(Event{
		Kind:    EventAttempt,
		Txn:     e.token,
		Path:    e.key,
		Attempt: e.attempts,
		Value:   input,
	})

	next, write, updateErr := invokeUpdate(e.update, input)
	if updateErr != nil {
		var te *Error
		if errors.As(updateErr, &te) {
			te.Path = e.key
			te.Txn = e.token
		}
		m.completeLocked(e, Result{Committed: false, Snapshot: input, Attempts: e.attempts}, updateErr)
		key := e.key
		m.mu.Unlock()
		m.pumpKey(key)
		return
	}

	if !write {
		// Caller elected not to write: finish with the current
		// snapshot, zero network calls.
		m.completeLocked(e, Result{Committed: false, Snapshot: input, Attempts: e.attempts}, nil)
		key := e.key
		m.mu.Unlock()
		m.pumpKey(key)
		return
	}

	e.status = StatusSent
	e.currentOutput = next
	e.pendingWriteID = m.registry.Add(e.path, next, e.applyLocally)
	m.recordLocked(Event{
		Kind:    EventSent,
		Txn:     e.token,
		Path:    e.key,
		Attempt: e.attempts,
		Value:   next,
	})
	m.mu.Unlock()

	m.logger.Debug("conditional write submitted",
		"txn", e.token,
		"path", e.key,
		"attempt", e.attempts,
	)

	verdict, err := m.bridge.SubmitConditionalWrite(e.ctx, e.path, next, inputToken)
	m.handleVerdict(e, verdict, err)
}

// handleVerdict processes the server's answer to an in-flight write.
func (m *Manager) handleVerdict(e *Entry, verdict syncer.Verdict, err error) {
	// The speculative write is settled either way; removal is
	// idempotent in case an abort path already cleared it.
	m.registry.Remove(e.pendingWriteID)

	m.mu.Lock()

	if e.status == StatusSentNeedsAbort {
		// Caller was answered during the round trip; discard.
		e.status = StatusCompleted
		m.queues.remove(e)
		key := e.key
		m.mu.Unlock()
		m.pumpKey(key)
		return
	}

	if e.status != StatusSent {
		// Defensive: a verdict for an entry not in flight is a bug
		// upstream, but must not wedge the queue.
		m.logger.Error("verdict for entry not in flight",
			"txn", e.token,
			"path", e.key,
			"status", e.status.String(),
		)
		m.mu.Unlock()
		return
	}

	switch {
	case err != nil:
		m.mu.Unlock()
		m.completeWithBridgeError(e, err)
		return

	case verdict.Accepted:
		res := Result{Committed: true, Snapshot: verdict.ServerValue, Attempts: e.attempts}
		m.completeLocked(e, res, nil)
		key := e.key
		m.mu.Unlock()
		m.pumpKey(key)
		return

	default:
		// Precondition mismatch: retry from the authoritative value
		// the rejection carried, never from the cache that just proved
		// stale. Remaining pending writes still overlay it.
		m.stats.conflict()
		input, _ := m.registry.OverlayedValue(e.path, verdict.ServerValue)
		e.status = StatusRun
		e.seeded = true
		e.currentInput = input
		e.currentInputToken = verdict.ServerToken
		e.pendingWriteID = 0
		m.recordLocked(Event{
			Kind:    EventConflict,
			Txn:     e.token,
			Path:    e.key,
			Attempt: e.attempts,
			Value:   verdict.ServerValue,
		})
		m.mu.Unlock()

		m.logger.Debug("conditional write rejected, retrying",
			"txn", e.token,
			"path", e.key,
			"attempt", e.attempts,
		)
		go m.attempt(e)
		return
	}
}

// completeWithBridgeError finishes an entry with a hard error from the
// bridge, mapped onto the transaction error taxonomy.
func (m *Manager) completeWithBridgeError(e *Entry, err error) {
	te := &Error{
		Code:    ErrCodeUnavailable,
		Message: "conditional write failed",
		Path:    e.key,
		Txn:     e.token,
		Cause:   err,
	}
	switch {
	case errors.Is(err, syncer.ErrPermissionDenied):
		te.Code = ErrCodePermissionDenied
		te.Message = "write denied by server rules"
	case errors.Is(err, syncer.ErrDisconnected):
		te.Code = ErrCodeDisconnected
		te.Message = "session disconnected"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		m.mu.Lock()
		m.completeLocked(e, Result{Committed: false, Snapshot: e.currentInput, Attempts: e.attempts}, err)
		key := e.key
		m.mu.Unlock()
		m.pumpKey(key)
		return
	}

	m.mu.Lock()
	m.completeLocked(e, Result{Committed: false, Snapshot: e.currentInput, Attempts: e.attempts}, te)
	key := e.key
	m.mu.Unlock()
	m.pumpKey(key)
}

// completeLocked finishes an entry: terminal status, dequeue, stats,
// trace, and exactly-once result delivery. Caller holds m.mu.
func (m *Manager) completeLocked(e *Entry, res Result, err error) {
	if e.status == StatusCompleted {
		return
	}
	e.status = StatusCompleted
	m.queues.remove(e)

	if e.pendingWriteID != 0 {
		m.registry.Remove(e.pendingWriteID)
		e.pendingWriteID = 0
	}

	if !e.result.resolve(res, err) {
		return
	}

	detail := ""
	switch {
	case err != nil:
		m.stats.fail()
		var te *Error
		if errors.As(err, &te) {
			detail = string(te.Code)
		} else {
			detail = "ERROR"
		}
	case res.Committed:
		m.stats.commit()
	default:
		m.stats.abort()
		if res.Cause != nil {
			detail = string(res.Cause.Code)
		}
	}

	m.recordLocked(Event{
		Kind:      EventCompleted,
		Txn:       e.token,
		Path:      e.key,
		Attempt:   e.attempts,
		Value:     res.Snapshot,
		Committed: res.Committed,
		Detail:    detail,
	})

	m.logger.Debug("transaction completed",
		"txn", e.token,
		"path", e.key,
		"committed", res.Committed,
		"attempts", e.attempts,
		"error", err,
	)
}

// pumpKey starts the next sendable entry for a path queue, if any.
func (m *Manager) pumpKey(key string) {
	m.mu.Lock()
	next := m.queues.nextSendable(key)
	m.mu.Unlock()

	if next != nil {
		go m.attempt(next)
	}
}

// recordLocked emits a trace event stamped from the session clock.
// Caller holds m.mu, which keeps seq assignment and recording atomic.
func (m *Manager) recordLocked(ev Event) {
	if m.recorder == nil {
		return
	}
	ev.Seq = m.clock.Next()
	m.recorder.Record(ev)
}

// invokeUpdate calls the caller's update function, converting a panic
// into a terminal transaction error instead of unwinding the runner.
func invokeUpdate(fn UpdateFunc, input tree.Value) (next tree.Value, write bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{
				Code:    ErrCodeUpdatePanic,
				Message: fmt.Sprintf("update function panicked: %v", r),
			}
		}
	}()
	next, write = fn(input)
	return next, write, nil
}
