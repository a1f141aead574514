package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/rowan/internal/harness"
)

// RunReport summarizes one scenario execution for CLI output.
type RunReport struct {
	Scenario  string   `json:"scenario"`
	Passed    bool     `json:"passed"`
	Events    int      `json:"events"`
	Committed int64    `json:"committed"`
	Aborted   int64    `json:"aborted"`
	Failed    int64    `json:"failed"`
	Conflicts int64    `json:"conflicts"`
	Errors    []string `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <scenario-file-or-dir>",
		Short: "Run scenarios against an in-process server",
		Long: `Run scenario files against a fresh in-process server and report
pass/fail per scenario.

Each scenario runs in isolation with deterministic transaction tokens.

Example:
  rowan run ./scenarios
  rowan run ./scenarios/conflict-retry.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runScenarios(opts *RootOptions, target string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	files, err := collectScenarioFiles(target)
	if err != nil {
		_ = formatter.Error("E001", err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	var reports []RunReport
	failures := 0
	for _, file := range files {
		scenario, err := harness.LoadScenario(file)
		if err != nil {
			_ = formatter.Error("E002", fmt.Sprintf("%s: %v", file, err), nil)
			return NewExitError(ExitCommandError, err.Error())
		}

		formatter.VerboseLog("Running scenario %q", scenario.Name)
		result, err := harness.Run(scenario)
		if err != nil {
			_ = formatter.Error("E003", fmt.Sprintf("%s: %v", scenario.Name, err), nil)
			return NewExitError(ExitCommandError, err.Error())
		}

		if !result.Passed {
			failures++
		}
		reports = append(reports, RunReport{
			Scenario:  scenario.Name,
			Passed:    result.Passed,
			Events:    len(result.Trace),
			Committed: result.Stats.Committed,
			Aborted:   result.Stats.Aborted,
			Failed:    result.Stats.Failed,
			Conflicts: result.Stats.Conflicts,
			Errors:    result.Errors,
		})
	}

	if formatter.Format == "json" {
		if err := formatter.Success(reports); err != nil {
			return err
		}
	} else {
		for _, r := range reports {
			mark := "✓"
			if !r.Passed {
				mark = "✗"
			}
			fmt.Fprintf(formatter.Writer, "%s %s (events=%d committed=%d conflicts=%d)\n",
				mark, r.Scenario, r.Events, r.Committed, r.Conflicts)
			for _, msg := range r.Errors {
				fmt.Fprintf(formatter.Writer, "    %s\n", msg)
			}
		}
	}

	if failures > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", failures, len(reports)))
	}
	return nil
}
