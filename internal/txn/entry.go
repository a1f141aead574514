package txn

import (
	"context"
	"sync"

	"github.com/roach88/rowan/internal/tree"
)

// Status is the state of a transaction entry.
type Status int

const (
	// StatusRun marks an entry queued and runnable: not yet attempted,
	// or re-attempting after a conflict.
	StatusRun Status = iota + 1

	// StatusSent marks an entry with a conditional write in flight.
	// At most one entry per path holds this status at a time.
	StatusSent

	// StatusSentNeedsAbort marks an in-flight entry whose caller has
	// already been answered (aborted); the verdict, when it arrives, is
	// discarded.
	StatusSentNeedsAbort

	// StatusCompleted is terminal: the entry is dequeued and its result
	// delivered.
	StatusCompleted
)

// String returns the status name for logs and traces.
func (s Status) String() string {
	switch s {
	case StatusRun:
		return "RUN"
	case StatusSent:
		return "SENT"
	case StatusSentNeedsAbort:
		return "SENT_NEEDS_ABORT"
	case StatusCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// UpdateFunc is the caller's pure read-modify-write function. It
// receives the locally visible value at the transaction path (Null if
// absent) and returns the value to write. Returning write=false aborts
// the transaction without a network call.
//
// The function may be invoked more than once per transaction - once per
// attempt - so it must not carry side effects that cannot be re-run.
// Only the invocation whose write the server accepts determines the
// final outcome.
type UpdateFunc func(current tree.Value) (next tree.Value, write bool)

// Result is the terminal outcome of a transaction, delivered exactly
// once per Run call.
type Result struct {
	// Committed reports whether the server accepted a write from this
	// transaction.
	Committed bool

	// Snapshot is the value at the transaction path at completion: the
	// accepted value on commit, or the value observed at abort time.
	// Always built from authoritative state, never from a stale local
	// overlay.
	Snapshot tree.Value

	// Attempts is the number of update-function invocations.
	Attempts int

	// Cause carries the abort condition for non-committed outcomes
	// triggered externally (e.g. an overlapping raw write). Nil when
	// the update function itself elected not to write.
	Cause *Error
}

// outcome pairs a Result with a hard error for the result cell.
type outcome struct {
	result Result
	err    error
}

// resultCell is a single-assignment asynchronous result. The first
// resolve wins; later calls are no-ops. wait blocks until resolution.
type resultCell struct {
	once sync.Once
	done chan struct{}
	out  outcome
}

func newResultCell() *resultCell {
	return &resultCell{done: make(chan struct{})}
}

// resolve delivers the outcome if the cell is still empty.
// Returns true if this call won the resolution.
func (c *resultCell) resolve(res Result, err error) bool {
	won := false
	c.once.Do(func() {
		c.out = outcome{result: res, err: err}
		close(c.done)
		won = true
	})
	return won
}

// wait blocks until the cell resolves.
func (c *resultCell) wait() (Result, error) {
	<-c.done
	return c.out.result, c.out.err
}

// resolved reports whether the cell has been resolved.
func (c *resultCell) resolved() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Entry is one queued transaction. Entries are owned exclusively by the
// Manager; callers interact only through Run's return values.
type Entry struct {
	path  tree.Path
	key   string // normalized path string, the queue key
	token string // transaction token for log correlation

	// ctx is the caller's context, carried so retries triggered from
	// another transaction's verdict goroutine still honor it.
	ctx context.Context

	update       UpdateFunc
	applyLocally bool

	order    int64 // queue position, assigned from the Manager clock
	status   Status
	attempts int

	// currentInput is the snapshot passed to the most recent update
	// invocation. After a conflict it holds the server-supplied
	// authoritative value for the next attempt (seeded=true), so the
	// retry never trusts the local cache that just proved stale.
	currentInput      tree.Value
	currentInputToken tree.VersionToken
	seeded            bool

	// currentOutput is the value produced by the most recent update
	// invocation, while its write is in flight.
	currentOutput tree.Value

	// pendingWriteID is the registry ID of the in-flight speculative
	// write, 0 when none is registered.
	pendingWriteID int64

	result *resultCell
}

// Token returns the entry's transaction token.
func (e *Entry) Token() string { return e.token }

// Path returns the entry's target path.
func (e *Entry) Path() tree.Path { return e.path }

// Status returns the entry's current status.
func (e *Entry) Status() Status { return e.status }

// Attempts returns the number of update invocations so far.
func (e *Entry) Attempts() int { return e.attempts }
