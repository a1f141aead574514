package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/rowan/internal/tree"
	"github.com/roach88/rowan/internal/txn"
)

// TraceSnapshot captures the trace of a scenario execution. Serialized
// as canonical JSON so golden files are byte-stable.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []txn.Event
}

// toValue converts the snapshot to a tree value for canonical
// serialization. Zero fields are omitted, except that completed events
// always carry their committed flag.
func (s *TraceSnapshot) toValue() tree.Value {
	events := make(tree.Array, len(s.Trace))
	for i, ev := range s.Trace {
		event := tree.Object{
			"seq":  tree.Int(ev.Seq),
			"kind": tree.String(string(ev.Kind)),
			"txn":  tree.String(ev.Txn),
			"path": tree.String(ev.Path),
		}
		if ev.Attempt > 0 {
			event["attempt"] = tree.Int(ev.Attempt)
		}
		if ev.Value != nil {
			event["value"] = ev.Value
		}
		if ev.Kind == txn.EventCompleted {
			event["committed"] = tree.Bool(ev.Committed)
		}
		if ev.Detail != "" {
			event["detail"] = tree.String(ev.Detail)
		}
		events[i] = event
	}

	return tree.Object{
		"scenario_name": tree.String(s.ScenarioName),
		"trace":         events,
	}
}

// RunWithGolden executes a scenario and compares its trace against the
// golden file testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if scenario execution fails; trace mismatches fail
// the test via goldie.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares a result's trace against the named golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
	}

	traceJSON, err := tree.MarshalCanonical(snapshot.toValue())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
