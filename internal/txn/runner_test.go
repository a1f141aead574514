package txn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rowan/internal/syncer"
	"github.com/roach88/rowan/internal/tree"
)

func newTestManager(t *testing.T, server *syncer.MemServer) *Manager {
	t.Helper()
	return NewManager(server, WithTokenGenerator(NewFixedGenerator()))
}

func increment(current tree.Value) (tree.Value, bool) {
	n, _ := current.(tree.Int)
	return n + 1, true
}

// Scenario A: single transaction, no concurrent writers.
func TestRun_CommitsWithoutConflict(t *testing.T) {
	server := syncer.NewMemServerWithValue(tree.Object{"counter": tree.Int(5)})
	m := newTestManager(t, server)

	res, err := m.Run(context.Background(), tree.MustParsePath("/counter"), increment, true)
	require.NoError(t, err)
	assert.True(t, res.Committed)
	assert.Equal(t, tree.Int(6), res.Snapshot)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, tree.Int(6), server.Value(tree.MustParsePath("/counter")))

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Committed)
	assert.Zero(t, stats.Conflicts)
}

// Scenario B: a conflicting write lands between read and commit; the
// retry sees the authoritative value and no update is lost.
func TestRun_RetriesOnConflict(t *testing.T) {
	server := syncer.NewMemServerWithValue(tree.Object{"counter": tree.Int(5)})
	m := newTestManager(t, server)
	p := tree.MustParsePath("/counter")

	// Sneak a raw write in after the transaction's read but before its
	// conditional write is evaluated. Only the first write races.
	raced := false
	server.SetBeforeWrite(func(tree.Path) {
		if raced {
			return
		}
		raced = true
		require.NoError(t, server.Put(context.Background(), p, tree.Int(41)))
	})

	res, err := m.Run(context.Background(), p, increment, true)
	require.NoError(t, err)
	assert.True(t, res.Committed)
	assert.Equal(t, tree.Int(42), res.Snapshot, "retry incremented the authoritative 41")
	assert.Equal(t, 2, res.Attempts, "one conflict, one accepted attempt")
	assert.Equal(t, int64(1), m.Stats().Conflicts)
}

func TestRun_TwoTransactionsSamePathSerialize(t *testing.T) {
	server := syncer.NewMemServerWithValue(tree.Object{"counter": tree.Int(5)})
	m := newTestManager(t, server)
	p := tree.MustParsePath("/counter")

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := m.Run(context.Background(), p, increment, true)
			require.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	assert.True(t, results[0].Committed)
	assert.True(t, results[1].Committed)
	assert.Equal(t, tree.Int(7), server.Value(p), "both increments applied, none lost")
	assert.Zero(t, m.QueueSize())
}

// Scenario C: update function declines to write.
func TestRun_UpdateDeclines_NoNetworkWrite(t *testing.T) {
	server := syncer.NewMemServerWithValue(tree.Object{"x": tree.Int(1)})
	m := newTestManager(t, server)

	writes := 0
	server.SetBeforeWrite(func(tree.Path) { writes++ })

	res, err := m.Run(context.Background(), tree.MustParsePath("/x"), func(current tree.Value) (tree.Value, bool) {
		return nil, false
	}, true)
	require.NoError(t, err)
	assert.False(t, res.Committed)
	assert.Equal(t, tree.Int(1), res.Snapshot, "snapshot is the current value at abort")
	assert.Nil(t, res.Cause, "caller-elected abort carries no cause")
	assert.Zero(t, writes, "zero conditional writes submitted")
	assert.Equal(t, int64(1), m.Stats().Aborted)
}

// Scenario D: a raw overwrite lands while the transaction is SENT.
func TestRun_OverwriteDuringSentAborts(t *testing.T) {
	server := syncer.NewMemServerWithValue(tree.Object{"x": tree.Int(1)})
	m := newTestManager(t, server)
	p := tree.MustParsePath("/x")

	gate := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	server.SetBeforeWrite(func(tree.Path) {
		once.Do(func() {
			close(entered)
			<-gate
		})
	})

	done := make(chan struct{})
	var res Result
	var runErr error
	go func() {
		defer close(done)
		res, runErr = m.Run(context.Background(), p, increment, true)
	}()

	// Wait for the conditional write to be in flight, then land the
	// overwrite and release the held write.
	<-entered
	require.NoError(t, server.Put(context.Background(), p, tree.Int(99)))
	m.NotifyOverwrite(p)
	close(gate)

	<-done
	require.NoError(t, runErr)
	assert.False(t, res.Committed, "overwritten transaction never commits")
	require.NotNil(t, res.Cause)
	assert.Equal(t, ErrCodeOverwritten, res.Cause.Code)

	// The discarded verdict must not leave the queue wedged.
	waitFor(t, func() bool { return m.QueueSize() == 0 })
	assert.Equal(t, tree.Int(99), server.Value(p), "raw write stands")
}

func TestRun_OverwriteAbortsQueuedRunEntries(t *testing.T) {
	server := syncer.NewMemServer()
	m := newTestManager(t, server)

	// No attempt has happened: entry sits in RUN behind nothing; abort
	// it before pumping by enqueuing with an overlapping overwrite.
	p := tree.MustParsePath("/a/b")

	gate := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	server.SetBeforeWrite(func(tree.Path) {
		once.Do(func() {
			close(entered)
			<-gate
		})
	})

	first := make(chan struct{})
	go func() {
		defer close(first)
		_, _ = m.Run(context.Background(), p, increment, true)
	}()
	<-entered

	// Second transaction on the same path queues behind the in-flight one.
	second := make(chan Result, 1)
	go func() {
		res, err := m.Run(context.Background(), p, increment, true)
		require.NoError(t, err)
		second <- res
	}()
	waitFor(t, func() bool { return m.QueueSize() == 2 })

	// Overwrite at the parent aborts both queued entries.
	m.NotifyOverwrite(tree.MustParsePath("/a"))
	close(gate)

	res := <-second
	assert.False(t, res.Committed)
	require.NotNil(t, res.Cause)
	assert.Equal(t, ErrCodeOverwritten, res.Cause.Code)
	<-first
}

func TestRun_AtMostOneSentPerPath(t *testing.T) {
	server := syncer.NewMemServer()
	m := newTestManager(t, server)
	p := tree.MustParsePath("/x")

	gate := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	server.SetBeforeWrite(func(tree.Path) {
		once.Do(func() {
			close(entered)
			<-gate
		})
	})

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := m.Run(context.Background(), p, increment, true)
			require.NoError(t, err)
			done <- struct{}{}
		}()
	}

	<-entered
	assert.Equal(t, 1, m.SentCount(p), "exactly one write in flight while held")
	close(gate)
	<-done
	<-done
	assert.Zero(t, m.SentCount(p))
}

func TestRun_ReservedPathFailsBeforeQueuing(t *testing.T) {
	server := syncer.NewMemServer()
	m := newTestManager(t, server)

	_, err := m.Run(context.Background(), tree.MustParsePath("/.info/connected"), increment, true)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Zero(t, m.QueueSize(), "nothing queued on validation failure")
	assert.Zero(t, m.Stats().Started+m.Stats().Failed, "rejected before counting")
}

func TestRun_NilUpdateRejected(t *testing.T) {
	m := newTestManager(t, syncer.NewMemServer())
	_, err := m.Run(context.Background(), tree.MustParsePath("/x"), nil, true)
	assert.True(t, IsValidationError(err))
}

func TestRun_PermissionDeniedIsTerminal(t *testing.T) {
	server := syncer.NewMemServer()
	server.Deny(tree.MustParsePath("/admin"))
	m := newTestManager(t, server)

	_, err := m.Run(context.Background(), tree.MustParsePath("/admin/flag"), increment, true)
	require.Error(t, err)
	assert.True(t, IsPermissionError(err))
	assert.ErrorIs(t, err, syncer.ErrPermissionDenied, "cause is preserved for errors.Is")
	assert.Equal(t, int64(1), m.Stats().Failed)
}

func TestRun_UpdatePanicBecomesError(t *testing.T) {
	m := newTestManager(t, syncer.NewMemServer())

	_, err := m.Run(context.Background(), tree.MustParsePath("/x"), func(tree.Value) (tree.Value, bool) {
		panic("boom")
	}, true)
	require.Error(t, err)
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ErrCodeUpdatePanic, te.Code)
	assert.Zero(t, m.QueueSize())
}

func TestRun_ContextCancellation(t *testing.T) {
	server := syncer.NewMemServer()
	m := newTestManager(t, server)
	p := tree.MustParsePath("/x")

	gate := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	server.SetBeforeWrite(func(tree.Path) {
		once.Do(func() {
			close(entered)
			<-gate
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.Run(ctx, p, increment, true)
		done <- err
	}()

	<-entered
	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	close(gate)

	waitFor(t, func() bool { return m.QueueSize() == 0 })
}

func TestRun_AbortAllFailsQueuedTransactions(t *testing.T) {
	server := syncer.NewMemServer()
	m := newTestManager(t, server)
	p := tree.MustParsePath("/x")

	gate := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	server.SetBeforeWrite(func(tree.Path) {
		once.Do(func() {
			close(entered)
			<-gate
		})
	})

	done := make(chan error, 1)
	go func() {
		_, err := m.Run(context.Background(), p, increment, true)
		done <- err
	}()

	<-entered
	m.AbortAll(errors.New("connection lost"))
	close(gate)

	err := <-done
	require.Error(t, err)
	assert.True(t, IsDisconnectedError(err))
}

func TestRun_ApplyLocallyControlsOverlayVisibility(t *testing.T) {
	server := syncer.NewMemServerWithValue(tree.Object{"x": tree.Int(1)})
	m := newTestManager(t, server)
	p := tree.MustParsePath("/x")

	gate := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	server.SetBeforeWrite(func(tree.Path) {
		once.Do(func() {
			close(entered)
			<-gate
		})
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := m.Run(context.Background(), p, increment, false)
		require.NoError(t, err)
	}()

	<-entered
	// applyLocally=false: the speculative value must not leak into
	// locally visible reads while the write is in flight.
	v, err := m.OverlayedRead(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, tree.Int(1), v)
	close(gate)
	<-done
}

func TestRun_ApplyLocallyTrueVisibleWhileSent(t *testing.T) {
	server := syncer.NewMemServerWithValue(tree.Object{"x": tree.Int(1)})
	m := newTestManager(t, server)
	p := tree.MustParsePath("/x")

	gate := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	server.SetBeforeWrite(func(tree.Path) {
		once.Do(func() {
			close(entered)
			<-gate
		})
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := m.Run(context.Background(), p, increment, true)
		require.NoError(t, err)
	}()

	<-entered
	v, err := m.OverlayedRead(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, tree.Int(2), v, "optimistic value visible to local readers")
	close(gate)
	<-done
}

func TestRun_TraceEventsOrdered(t *testing.T) {
	server := syncer.NewMemServerWithValue(tree.Object{"x": tree.Int(1)})
	rec := &captureRecorder{}
	m := NewManager(server,
		WithTokenGenerator(NewFixedGenerator("txn-a")),
		WithRecorder(rec),
	)

	_, err := m.Run(context.Background(), tree.MustParsePath("/x"), increment, true)
	require.NoError(t, err)

	kinds := rec.kinds()
	assert.Equal(t, []EventKind{EventEnqueued, EventAttempt, EventSent, EventCompleted}, kinds)

	events := rec.snapshot()
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq, "seq strictly increases")
	}
	for _, ev := range events {
		assert.Equal(t, "txn-a", ev.Txn)
	}
}

type captureRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *captureRecorder) Record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *captureRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *captureRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.FailNow(t, "condition not reached before deadline")
}
