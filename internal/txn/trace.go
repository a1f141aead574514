package txn

import (
	"sync"

	"github.com/roach88/rowan/internal/tree"
)

// EventKind labels a trace event.
type EventKind string

const (
	// EventEnqueued fires when a transaction enters its path queue.
	EventEnqueued EventKind = "enqueued"
	// EventAttempt fires when the update function is about to run.
	EventAttempt EventKind = "attempt"
	// EventSent fires when a conditional write goes out.
	EventSent EventKind = "sent"
	// EventConflict fires when the server rejects a precondition.
	EventConflict EventKind = "conflict"
	// EventCompleted fires once per transaction with the terminal outcome.
	EventCompleted EventKind = "completed"
)

// Event is one step in a transaction trace. Seq comes from the
// Manager's logical clock; wall-clock time never appears in traces.
type Event struct {
	Seq     int64
	Kind    EventKind
	Txn     string
	Path    string
	Attempt int

	// Value carries the update output for sent/conflict events and the
	// final snapshot for completed events.
	Value tree.Value

	// Committed is meaningful only for EventCompleted.
	Committed bool

	// Detail carries the error code for failed completions and the
	// abort cause for aborted ones.
	Detail string
}

// Recorder consumes trace events. Implementations must be safe for
// concurrent use; the Manager calls Record from runner goroutines.
type Recorder interface {
	Record(Event)
}

// Stats aggregates transaction counters for observability. Retries are
// deliberately unbounded (optimistic-concurrency contract), so the
// conflict counter is the signal operators watch.
type Stats struct {
	Started   int64
	Committed int64
	Aborted   int64
	Failed    int64
	Conflicts int64
}

// statsCounter is the Manager-internal mutable view of Stats.
type statsCounter struct {
	mu sync.Mutex
	s  Stats
}

func (c *statsCounter) started()  { c.mu.Lock(); c.s.Started++; c.mu.Unlock() }
func (c *statsCounter) commit()   { c.mu.Lock(); c.s.Committed++; c.mu.Unlock() }
func (c *statsCounter) abort()    { c.mu.Lock(); c.s.Aborted++; c.mu.Unlock() }
func (c *statsCounter) fail()     { c.mu.Lock(); c.s.Failed++; c.mu.Unlock() }
func (c *statsCounter) conflict() { c.mu.Lock(); c.s.Conflicts++; c.mu.Unlock() }

func (c *statsCounter) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}
