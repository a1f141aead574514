package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one declarative engine test.
type Scenario struct {
	// Name uniquely identifies this scenario. Also the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Initial is the server tree before any step runs. YAML values are
	// converted to tree values; nil means an empty tree.
	Initial any `yaml:"initial,omitempty"`

	// Deny lists paths the server rejects writes at or below.
	Deny []string `yaml:"deny,omitempty"`

	// Steps run sequentially. Each step is exactly one of its fields.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final tree, stats, and trace.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one scenario action. Exactly one field must be set; the CUE
// schema enforces this before execution.
type Step struct {
	// Transaction runs an optimistic transaction and waits for its
	// terminal outcome.
	Transaction *TransactionStep `yaml:"transaction,omitempty"`

	// Put applies a raw overwrite and routes the overwrite notification
	// into the engine, aborting overlapping queued transactions.
	Put *PutStep `yaml:"put,omitempty"`

	// RacePut schedules a raw server-side overwrite to land between the
	// NEXT transaction's read and its conditional write. This is how
	// scenarios provoke a conflict rejection.
	RacePut *PutStep `yaml:"race_put,omitempty"`
}

// TransactionStep describes one transaction invocation.
type TransactionStep struct {
	// Path is the transaction target.
	Path string `yaml:"path"`

	// Op selects the built-in update function:
	//   - "increment": add By (default 1) to the current integer
	//   - "set": write Value unconditionally
	//   - "remove": write null, deleting the subtree
	//   - "decline": return no write, aborting without a network call
	Op string `yaml:"op"`

	// By is the increment amount for op "increment".
	By int64 `yaml:"by,omitempty"`

	// Value is the value written by op "set".
	Value any `yaml:"value,omitempty"`

	// ApplyLocally controls speculative visibility. Defaults to true.
	ApplyLocally *bool `yaml:"apply_locally,omitempty"`

	// Expect validates the transaction outcome. Nil skips validation.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// PutStep describes a raw overwrite.
type PutStep struct {
	Path  string `yaml:"path"`
	Value any    `yaml:"value,omitempty"`
}

// ExpectClause specifies the expected transaction outcome.
type ExpectClause struct {
	// Committed is the expected commit flag.
	Committed *bool `yaml:"committed,omitempty"`

	// Attempts is the expected number of update invocations. Zero means
	// unchecked.
	Attempts int `yaml:"attempts,omitempty"`

	// Snapshot is the expected terminal snapshot value.
	Snapshot any `yaml:"snapshot,omitempty"`

	// Error is the expected error code (e.g. "PERMISSION_DENIED"). When
	// set, the transaction must fail with that code. "OVERWRITTEN" also
	// matches the abort cause of a non-error aborted outcome.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates final state or trace shape.
type Assertion struct {
	// Type is one of final_value, stats, trace_count, trace_order.
	Type string `yaml:"type"`

	// Path and Value are used by final_value.
	Path  string `yaml:"path,omitempty"`
	Value any    `yaml:"value,omitempty"`

	// Stats counters, used by the stats assertion. Omitted counters
	// assert zero.
	Committed int64 `yaml:"committed,omitempty"`
	Aborted   int64 `yaml:"aborted,omitempty"`
	Failed    int64 `yaml:"failed,omitempty"`
	Conflicts int64 `yaml:"conflicts,omitempty"`

	// Kind and Count are used by trace_count.
	Kind  string `yaml:"kind,omitempty"`
	Count int    `yaml:"count,omitempty"`

	// Kinds is the expected subsequence of event kinds for trace_order.
	Kinds []string `yaml:"kinds,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalValue = "final_value"
	AssertStats      = "stats"
	AssertTraceCount = "trace_count"
	AssertTraceOrder = "trace_order"
)

// LoadScenario reads, schema-validates, and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or fails CUE schema validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario validates and parses scenario YAML bytes.
func ParseScenario(data []byte) (*Scenario, error) {
	// Schema validation first: CUE reports shape errors (wrong step
	// name, bad op) with better messages than a struct decode.
	if err := ValidateScenarioBytes(data); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	// Strict field validation catches typos the schema's open fields
	// would let through.
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks constraints the CUE schema cannot express
// against the decoded struct.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		set := 0
		if step.Transaction != nil {
			set++
		}
		if step.Put != nil {
			set++
		}
		if step.RacePut != nil {
			set++
		}
		if set != 1 {
			return fmt.Errorf("steps[%d]: exactly one of transaction, put, race_put is required", i)
		}

		if t := step.Transaction; t != nil {
			if t.Path == "" {
				return fmt.Errorf("steps[%d].transaction: path is required", i)
			}
			switch t.Op {
			case "increment", "set", "remove", "decline":
			default:
				return fmt.Errorf("steps[%d].transaction: unknown op %q", i, t.Op)
			}
			if t.Op == "set" && t.Value == nil {
				return fmt.Errorf("steps[%d].transaction: value is required for op set", i)
			}
		}
		if p := step.Put; p != nil && p.Path == "" {
			return fmt.Errorf("steps[%d].put: path is required", i)
		}
		if p := step.RacePut; p != nil && p.Path == "" {
			return fmt.Errorf("steps[%d].race_put: path is required", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertFinalValue:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for final_value", index)
		}
	case AssertStats:
		// All counters optional; zero value means "expect zero".
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for trace_order", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
