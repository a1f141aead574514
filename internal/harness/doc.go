// Package harness runs declarative YAML scenarios against an in-process
// server and the transaction engine, producing deterministic traces for
// golden-file comparison.
//
// A scenario seeds an initial tree, optionally installs deny rules,
// then executes a sequence of steps: transactions, raw overwrites, and
// raced overwrites injected between a transaction's read and its
// conditional write. Assertions check the final tree, the engine's
// counters, and the shape of the trace.
//
// Scenario files are validated against an embedded CUE schema before
// execution, so a typo in a step name fails loudly instead of silently
// skipping the step.
package harness
