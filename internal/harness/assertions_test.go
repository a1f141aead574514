package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rowan/internal/tree"
	"github.com/roach88/rowan/internal/txn"
)

func traceOf(kinds ...txn.EventKind) []txn.Event {
	events := make([]txn.Event, len(kinds))
	for i, k := range kinds {
		events[i] = txn.Event{Seq: int64(i + 1), Kind: k}
	}
	return events
}

func TestAssertFinalValue(t *testing.T) {
	result := &Result{
		FinalRoot: tree.Object{"counter": tree.Int(7)},
	}

	failures := EvaluateAssertions(result, []Assertion{
		{Type: AssertFinalValue, Path: "/counter", Value: 7},
	})
	assert.Empty(t, failures)

	failures = EvaluateAssertions(result, []Assertion{
		{Type: AssertFinalValue, Path: "/counter", Value: 8},
	})
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "final_value")
}

func TestAssertFinalValue_MissingPathIsNull(t *testing.T) {
	result := &Result{FinalRoot: tree.Object{}}

	failures := EvaluateAssertions(result, []Assertion{
		{Type: AssertFinalValue, Path: "/absent", Value: nil},
	})
	assert.Empty(t, failures, "an absent path compares equal to null")
}

func TestAssertStats(t *testing.T) {
	result := &Result{Stats: txn.Stats{Committed: 2, Conflicts: 1}}

	failures := EvaluateAssertions(result, []Assertion{
		{Type: AssertStats, Committed: 2, Conflicts: 1},
	})
	assert.Empty(t, failures)

	failures = EvaluateAssertions(result, []Assertion{
		{Type: AssertStats, Committed: 2},
	})
	require.Len(t, failures, 1, "omitted conflicts counter asserts zero")
	assert.Contains(t, failures[0], "conflicts")
}

func TestAssertTraceCount(t *testing.T) {
	result := &Result{Trace: traceOf(
		txn.EventEnqueued, txn.EventAttempt, txn.EventConflict,
		txn.EventAttempt, txn.EventCompleted,
	)}

	failures := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceCount, Kind: "attempt", Count: 2},
		{Type: AssertTraceCount, Kind: "conflict", Count: 1},
		{Type: AssertTraceCount, Kind: "sent", Count: 0},
	})
	assert.Empty(t, failures)

	failures = EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceCount, Kind: "attempt", Count: 3},
	})
	require.Len(t, failures, 1)
}

func TestAssertTraceOrder_Subsequence(t *testing.T) {
	result := &Result{Trace: traceOf(
		txn.EventEnqueued, txn.EventAttempt, txn.EventSent,
		txn.EventConflict, txn.EventAttempt, txn.EventSent, txn.EventCompleted,
	)}

	failures := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceOrder, Kinds: []string{"enqueued", "conflict", "completed"}},
	})
	assert.Empty(t, failures, "intervening events are allowed")

	failures = EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceOrder, Kinds: []string{"completed", "enqueued"}},
	})
	require.Len(t, failures, 1)
}
