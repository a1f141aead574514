package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/rowan/internal/harness"
)

// ValidationResult holds validation results for one or more files.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError is one file's validation failure.
type ValidationError struct {
	File    string `json:"file"`
	Message string `json:"message"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenario-file-or-dir>",
		Short: "Validate scenario files without running them",
		Long: `Validate scenario YAML files against the scenario schema.

Performs YAML parsing, CUE schema validation, and structural checks
without executing any steps. Faster than run for development feedback.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, target string, cmd *cobra.Command) error {
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

	formatter.VerboseLog("Validating %d scenario file(s)", len(files))

	var validationErrors []ValidationError
	for _, file := range files {
		if _, err := harness.LoadScenario(file); err != nil {
			validationErrors = append(validationErrors, ValidationError{
				File:    file,
				Message: err.Error(),
			})
		}
	}

	if len(validationErrors) > 0 {
		if formatter.Format == "json" {
			_ = formatter.Error("E002", "validation failed", ValidationResult{
				Valid:  false,
				Errors: validationErrors,
			})
		} else {
			fmt.Fprintln(formatter.Writer, "✗ Validation failed")
			for _, ve := range validationErrors {
				fmt.Fprintf(formatter.Writer, "  %s: %s\n", ve.File, ve.Message)
			}
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(validationErrors)))
	}

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true})
	}
	fmt.Fprintf(formatter.Writer, "✓ %d scenario(s) valid\n", len(files))
	return nil
}

// collectScenarioFiles resolves a file or directory argument into an
// ordered list of scenario YAML files.
func collectScenarioFiles(target string) ([]string, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("scenario path not found: %s", target)
	}

	if !info.IsDir() {
		return []string{target}, nil
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		return nil, fmt.Errorf("read scenario directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(target, entry.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no scenario files found in %s", target)
	}
	sort.Strings(files)
	return files, nil
}
