package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/rowan/internal/syncer"
	"github.com/roach88/rowan/internal/tree"
	"github.com/roach88/rowan/internal/txn"
)

// Result captures one scenario execution.
type Result struct {
	// Passed is true when every expect clause and assertion held.
	Passed bool

	// Trace is the full event trace in seq order.
	Trace []txn.Event

	// Stats is the engine's final counters.
	Stats txn.Stats

	// FinalRoot is the server tree after all steps.
	FinalRoot tree.Value

	// Errors lists expect and assertion failures, in order.
	Errors []string
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(format string, args ...any) {
	r.Passed = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// collectingRecorder gathers trace events in seq order. The manager
// records under its own lock, so append order is seq order.
type collectingRecorder struct {
	mu     sync.Mutex
	events []txn.Event
}

func (r *collectingRecorder) Record(ev txn.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *collectingRecorder) snapshot() []txn.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]txn.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-process server for isolation.
// Transaction tokens are deterministic ("txn-1", "txn-2", ...) so the
// trace is stable for golden comparison.
//
// Execution flow:
//  1. Seed the server with the initial tree and deny rules
//  2. Execute steps sequentially; transactions run to completion
//  3. Evaluate expect clauses per step and assertions at the end
func Run(scenario *Scenario) (*Result, error) {
	server := syncer.NewMemServer()
	if scenario.Initial != nil {
		root, err := tree.FromGo(scenario.Initial)
		if err != nil {
			return nil, fmt.Errorf("initial tree: %w", err)
		}
		if err := server.Put(context.Background(), tree.RootPath, root); err != nil {
			return nil, fmt.Errorf("seed initial tree: %w", err)
		}
	}
	for _, raw := range scenario.Deny {
		path, err := tree.ParsePath(raw)
		if err != nil {
			return nil, fmt.Errorf("deny path %q: %w", raw, err)
		}
		server.Deny(path)
	}

	recorder := &collectingRecorder{}
	manager := txn.NewManager(server,
		txn.WithTokenGenerator(txn.NewFixedGenerator()),
		txn.WithRecorder(recorder),
		txn.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	result := &Result{Passed: true}
	ctx := context.Background()

	for i, step := range scenario.Steps {
		switch {
		case step.Transaction != nil:
			if err := runTransactionStep(ctx, manager, i, step.Transaction, result); err != nil {
				return nil, err
			}

		case step.Put != nil:
			path, err := tree.ParsePath(step.Put.Path)
			if err != nil {
				return nil, fmt.Errorf("steps[%d].put: %w", i, err)
			}
			value, err := tree.FromGo(step.Put.Value)
			if err != nil {
				return nil, fmt.Errorf("steps[%d].put: %w", i, err)
			}
			// Local overwrite: abort overlapping transactions first, the
			// way the client surface does, then land the write.
			manager.NotifyOverwrite(path)
			if err := server.Put(ctx, path, value); err != nil {
				result.AddError("steps[%d].put: %v", i, err)
			}

		case step.RacePut != nil:
			if err := armRacePut(server, step.RacePut); err != nil {
				return nil, fmt.Errorf("steps[%d].race_put: %w", i, err)
			}
		}
	}

	result.Trace = recorder.snapshot()
	result.Stats = manager.Stats()
	result.FinalRoot = server.Value(tree.RootPath)

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError("%s", msg)
	}

	return result, nil
}

// runTransactionStep executes one transaction step and validates its
// expect clause.
func runTransactionStep(ctx context.Context, manager *txn.Manager, index int, step *TransactionStep, result *Result) error {
	path, err := tree.ParsePath(step.Path)
	if err != nil {
		return fmt.Errorf("steps[%d].transaction: %w", index, err)
	}

	update, err := buildUpdate(step)
	if err != nil {
		return fmt.Errorf("steps[%d].transaction: %w", index, err)
	}

	applyLocally := true
	if step.ApplyLocally != nil {
		applyLocally = *step.ApplyLocally
	}

	res, runErr := manager.Run(ctx, path, update, applyLocally)
	validateExpect(index, step.Expect, res, runErr, result)
	return nil
}

// buildUpdate maps a step's op to an update function.
func buildUpdate(step *TransactionStep) (txn.UpdateFunc, error) {
	switch step.Op {
	case "increment":
		by := step.By
		if by == 0 {
			by = 1
		}
		return func(current tree.Value) (tree.Value, bool) {
			n, _ := current.(tree.Int)
			return n + tree.Int(by), true
		}, nil

	case "set":
		value, err := tree.FromGo(step.Value)
		if err != nil {
			return nil, fmt.Errorf("set value: %w", err)
		}
		return func(tree.Value) (tree.Value, bool) {
			return value, true
		}, nil

	case "remove":
		return func(tree.Value) (tree.Value, bool) {
			return tree.Null{}, true
		}, nil

	case "decline":
		return func(tree.Value) (tree.Value, bool) {
			return nil, false
		}, nil

	default:
		return nil, fmt.Errorf("unknown op %q", step.Op)
	}
}

// validateExpect checks a transaction outcome against its expect clause.
func validateExpect(index int, expect *ExpectClause, res txn.Result, runErr error, result *Result) {
	if expect == nil {
		if runErr != nil {
			result.AddError("steps[%d]: transaction failed: %v", index, runErr)
		}
		return
	}

	if expect.Error != "" {
		code := outcomeCode(res, runErr)
		if code != expect.Error {
			result.AddError("steps[%d]: error = %q, expected %q", index, code, expect.Error)
		}
	} else if runErr != nil {
		result.AddError("steps[%d]: transaction failed: %v", index, runErr)
		return
	}

	if expect.Committed != nil && res.Committed != *expect.Committed {
		result.AddError("steps[%d]: committed = %t, expected %t", index, res.Committed, *expect.Committed)
	}
	if expect.Attempts > 0 && res.Attempts != expect.Attempts {
		result.AddError("steps[%d]: attempts = %d, expected %d", index, res.Attempts, expect.Attempts)
	}
	if expect.Snapshot != nil {
		want, err := tree.FromGo(expect.Snapshot)
		if err != nil {
			result.AddError("steps[%d]: bad expected snapshot: %v", index, err)
			return
		}
		if !tree.Equal(want, res.Snapshot) {
			result.AddError("steps[%d]: snapshot mismatch", index)
		}
	}
}

// outcomeCode extracts the error code of a failed or aborted outcome.
func outcomeCode(res txn.Result, runErr error) string {
	if runErr != nil {
		if te, ok := txn.AsError(runErr); ok {
			return string(te.Code)
		}
		return "ERROR"
	}
	if res.Cause != nil {
		return string(res.Cause.Code)
	}
	return ""
}

// armRacePut installs a one-shot hook that lands a raw overwrite after
// the next conditional write has read its input but before the server
// evaluates the precondition. This is the canonical conflict generator.
func armRacePut(server *syncer.MemServer, put *PutStep) error {
	path, err := tree.ParsePath(put.Path)
	if err != nil {
		return err
	}
	value, err := tree.FromGo(put.Value)
	if err != nil {
		return err
	}

	var once sync.Once
	server.SetBeforeWrite(func(tree.Path) {
		once.Do(func() {
			// Land the racing write, then disarm so the retry proceeds.
			_ = server.Put(context.Background(), path, value)
			server.SetBeforeWrite(nil)
		})
	})
	return nil
}
