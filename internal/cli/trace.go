package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/rowan/internal/harness"
	"github.com/roach88/rowan/internal/tree"
)

// TraceEvent is the JSON shape of one trace event for CLI output.
type TraceEvent struct {
	Seq       int64  `json:"seq"`
	Kind      string `json:"kind"`
	Txn       string `json:"txn"`
	Path      string `json:"path"`
	Attempt   int    `json:"attempt,omitempty"`
	Value     any    `json:"value,omitempty"`
	Committed bool   `json:"committed,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace <scenario-file>",
		Short: "Run a scenario and print its event trace",
		Long: `Run a single scenario and print every engine event in sequence
order: enqueued, attempt, sent, conflict, completed.

Useful for inspecting retry behavior and abort causes.

Example:
  rowan trace ./scenarios/conflict-retry.yaml
  rowan trace ./scenarios/commit.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runTrace(opts *RootOptions, file string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		_ = formatter.Error("E002", err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	result, err := harness.Run(scenario)
	if err != nil {
		_ = formatter.Error("E003", err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	if formatter.Format == "json" {
		events := make([]TraceEvent, len(result.Trace))
		for i, ev := range result.Trace {
			events[i] = TraceEvent{
				Seq:       ev.Seq,
				Kind:      string(ev.Kind),
				Txn:       ev.Txn,
				Path:      ev.Path,
				Attempt:   ev.Attempt,
				Committed: ev.Committed,
				Detail:    ev.Detail,
			}
			if ev.Value != nil {
				events[i].Value = tree.ToGo(ev.Value)
			}
		}
		if err := formatter.Success(events); err != nil {
			return err
		}
	} else {
		for _, ev := range result.Trace {
			line := fmt.Sprintf("%4d  %-9s %-8s %s", ev.Seq, ev.Kind, ev.Txn, ev.Path)
			if ev.Attempt > 0 {
				line += fmt.Sprintf("  attempt=%d", ev.Attempt)
			}
			if ev.Detail != "" {
				line += fmt.Sprintf("  %s", ev.Detail)
			}
			fmt.Fprintln(formatter.Writer, line)
		}
	}

	if !result.Passed {
		return NewExitError(ExitFailure, "scenario failed")
	}
	return nil
}
