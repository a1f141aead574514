package txn

import (
	"github.com/roach88/rowan/internal/tree"
)

// queueSet holds the per-path transaction queues. Entries at the same
// normalized path share one FIFO queue ordered by entry order; entries
// at unrelated paths never block each other.
//
// NOT thread-safe: the Manager serializes all access under its session
// mutex. Keeping the lock outside avoids lock-ordering questions
// between the queue and the pending-write registry.
type queueSet struct {
	queues map[string][]*Entry
}

func newQueueSet() *queueSet {
	return &queueSet{queues: make(map[string][]*Entry)}
}

// enqueue appends an entry to its path queue. Entries carry strictly
// increasing order values, so append preserves queue ordering.
func (q *queueSet) enqueue(e *Entry) {
	q.queues[e.key] = append(q.queues[e.key], e)
}

// nextSendable returns the earliest RUN entry for key, provided no
// entry for key has a write in flight. This is the at-most-one
// concurrent round trip rule: a SENT (or SENT_NEEDS_ABORT) entry
// blocks everything queued behind it.
func (q *queueSet) nextSendable(key string) *Entry {
	for _, e := range q.queues[key] {
		switch e.status {
		case StatusSent, StatusSentNeedsAbort:
			return nil
		case StatusRun:
			return e
		}
	}
	return nil
}

// remove deletes an entry from its queue. Idempotent.
func (q *queueSet) remove(e *Entry) {
	entries := q.queues[e.key]
	for i, candidate := range entries {
		if candidate == e {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(q.queues, e.key)
	} else {
		q.queues[e.key] = entries
	}
}

// entriesOverlapping returns all queued entries whose path overlaps
// path (ancestor, equal, or descendant), in order across queues.
func (q *queueSet) entriesOverlapping(path tree.Path) []*Entry {
	var out []*Entry
	for _, entries := range q.queues {
		if len(entries) == 0 || !entries[0].path.Overlaps(path) {
			continue
		}
		out = append(out, entries...)
	}
	return out
}

// sentCount returns the number of in-flight entries for key.
// Diagnostics only; the invariant is that it never exceeds 1.
func (q *queueSet) sentCount(key string) int {
	n := 0
	for _, e := range q.queues[key] {
		if e.status == StatusSent || e.status == StatusSentNeedsAbort {
			n++
		}
	}
	return n
}

// size returns the total number of queued entries.
func (q *queueSet) size() int {
	n := 0
	for _, entries := range q.queues {
		n += len(entries)
	}
	return n
}
