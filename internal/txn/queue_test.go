package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rowan/internal/tree"
)

func testEntry(t *testing.T, path string, order int64) *Entry {
	t.Helper()
	p, err := tree.ParsePath(path)
	require.NoError(t, err)
	return &Entry{
		path:   p,
		key:    p.String(),
		order:  order,
		status: StatusRun,
		result: newResultCell(),
	}
}

func TestQueueSet_NextSendableFIFO(t *testing.T) {
	q := newQueueSet()
	a := testEntry(t, "/x", 1)
	b := testEntry(t, "/x", 2)
	q.enqueue(a)
	q.enqueue(b)

	assert.Same(t, a, q.nextSendable("/x"), "earliest RUN entry goes first")
}

func TestQueueSet_SentBlocksQueue(t *testing.T) {
	q := newQueueSet()
	a := testEntry(t, "/x", 1)
	b := testEntry(t, "/x", 2)
	q.enqueue(a)
	q.enqueue(b)

	a.status = StatusSent
	assert.Nil(t, q.nextSendable("/x"), "in-flight entry blocks the queue")

	a.status = StatusSentNeedsAbort
	assert.Nil(t, q.nextSendable("/x"), "parked entry still blocks the queue")

	q.remove(a)
	assert.Same(t, b, q.nextSendable("/x"))
}

func TestQueueSet_UnrelatedPathsIndependent(t *testing.T) {
	q := newQueueSet()
	a := testEntry(t, "/x", 1)
	b := testEntry(t, "/y", 2)
	q.enqueue(a)
	q.enqueue(b)

	a.status = StatusSent
	assert.Same(t, b, q.nextSendable("/y"), "a SENT entry on /x does not block /y")
}

func TestQueueSet_RemoveIsIdempotent(t *testing.T) {
	q := newQueueSet()
	a := testEntry(t, "/x", 1)
	q.enqueue(a)

	q.remove(a)
	q.remove(a)
	assert.Zero(t, q.size())
}

func TestQueueSet_EntriesOverlapping(t *testing.T) {
	q := newQueueSet()
	users := testEntry(t, "/users", 1)
	alice := testEntry(t, "/users/alice", 2)
	games := testEntry(t, "/games", 3)
	q.enqueue(users)
	q.enqueue(alice)
	q.enqueue(games)

	got := q.entriesOverlapping(tree.MustParsePath("/users/alice/score"))
	require.Len(t, got, 2)
	for _, e := range got {
		assert.NotEqual(t, "/games", e.key)
	}

	got = q.entriesOverlapping(tree.RootPath)
	assert.Len(t, got, 3, "the root overlaps everything")
}

func TestResultCell_ExactlyOnce(t *testing.T) {
	c := newResultCell()

	assert.False(t, c.resolved())
	assert.True(t, c.resolve(Result{Committed: true}, nil))
	assert.False(t, c.resolve(Result{Committed: false}, nil), "second resolution loses")
	assert.True(t, c.resolved())

	res, err := c.wait()
	require.NoError(t, err)
	assert.True(t, res.Committed, "first resolution wins")

	// wait is repeatable
	res, _ = c.wait()
	assert.True(t, res.Committed)
}
