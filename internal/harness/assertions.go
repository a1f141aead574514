package harness

import (
	"fmt"

	"github.com/roach88/rowan/internal/tree"
	"github.com/roach88/rowan/internal/txn"
)

// EvaluateAssertions checks every assertion against the result and
// returns the failure messages. An empty slice means all passed.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		var msg string
		switch a.Type {
		case AssertFinalValue:
			msg = assertFinalValue(result, &a)
		case AssertStats:
			msg = assertStats(result, &a)
		case AssertTraceCount:
			msg = assertTraceCount(result, &a)
		case AssertTraceOrder:
			msg = assertTraceOrder(result, &a)
		default:
			msg = fmt.Sprintf("unknown assertion type %q", a.Type)
		}
		if msg != "" {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %s", i, msg))
		}
	}
	return failures
}

func assertFinalValue(result *Result, a *Assertion) string {
	path, err := tree.ParsePath(a.Path)
	if err != nil {
		return fmt.Sprintf("final_value: bad path %q: %v", a.Path, err)
	}
	want, err := tree.FromGo(a.Value)
	if err != nil {
		return fmt.Sprintf("final_value: bad expected value: %v", err)
	}
	got := tree.GetAt(result.FinalRoot, path)
	if !tree.Equal(want, got) {
		return fmt.Sprintf("final_value at %s: got %v, expected %v",
			a.Path, tree.ToGo(got), tree.ToGo(want))
	}
	return ""
}

func assertStats(result *Result, a *Assertion) string {
	s := result.Stats
	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"committed", s.Committed, a.Committed},
		{"aborted", s.Aborted, a.Aborted},
		{"failed", s.Failed, a.Failed},
		{"conflicts", s.Conflicts, a.Conflicts},
	}
	for _, c := range checks {
		if c.got != c.want {
			return fmt.Sprintf("stats: %s = %d, expected %d", c.name, c.got, c.want)
		}
	}
	return ""
}

func assertTraceCount(result *Result, a *Assertion) string {
	count := 0
	for _, ev := range result.Trace {
		if ev.Kind == txn.EventKind(a.Kind) {
			count++
		}
	}
	if count != a.Count {
		return fmt.Sprintf("trace_count: %q appears %d times, expected %d", a.Kind, count, a.Count)
	}
	return ""
}

// assertTraceOrder checks that the given kinds appear as a subsequence
// of the trace. Intervening events are allowed.
func assertTraceOrder(result *Result, a *Assertion) string {
	next := 0
	for _, ev := range result.Trace {
		if next < len(a.Kinds) && ev.Kind == txn.EventKind(a.Kinds[next]) {
			next++
		}
	}
	if next != len(a.Kinds) {
		return fmt.Sprintf("trace_order: kind %q not found in order (matched %d of %d)",
			a.Kinds[next], next, len(a.Kinds))
	}
	return ""
}
