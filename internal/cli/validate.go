package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/streamcore/internal/config"
	"github.com/roach88/streamcore/internal/harness"
)

// ErrCodeGeneric is the code of errors that carry no code of their own.
const ErrCodeGeneric = "E999"

// ValidationError is one problem found by validate.
type ValidationError struct {
	File    string `json:"file"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Config    *config.Config    `json:"config,omitempty"`
	Scenarios int               `json:"scenarios"`
	Errors    []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [scenario files or dirs...]",
		Short: "Validate a node config and scenarios without running them",
		Long: `Validate the config file given with --config against the schema,
and parse every scenario file or directory given as argument.

Examples:
  streamcore validate --config node.cue
  streamcore validate ./scenarios
  streamcore validate --config node.cue ./scenarios --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if opts.ConfigPath == "" && len(paths) == 0 {
		return NewExitError(ExitCommandError, "nothing to validate: pass --config and/or scenario paths")
	}

	var result ValidationResult
	if opts.ConfigPath != "" {
		formatter.VerboseLog("Validating config %s", opts.ConfigPath)
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			result.Errors = append(result.Errors, validationError(opts.ConfigPath, err))
		} else {
			result.Config = &cfg
		}
	}

	for _, path := range paths {
		files, err := scenarioPaths(path)
		if err != nil {
			result.Errors = append(result.Errors, validationError(path, err))
			continue
		}
		formatter.VerboseLog("Found %d scenario file(s) in %s", len(files), path)
		for _, file := range files {
			result.Scenarios++
			if _, err := harness.LoadScenario(file); err != nil {
				result.Errors = append(result.Errors, validationError(file, err))
			}
		}
	}
	result.Valid = len(result.Errors) == 0

	if formatter.JSON() {
		var failure *CLIError
		if !result.Valid {
			failure = &CLIError{Code: result.Errors[0].Code, Message: fmt.Sprintf("%d validation error(s)", len(result.Errors))}
		}
		if err := formatter.Result(result, failure); err != nil {
			return err
		}
	} else {
		outputValidateText(formatter, result)
	}

	if !result.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}

// scenarioPaths expands a scenario file or directory.
func scenarioPaths(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	return findScenarioFiles(path, "")
}

func validationError(file string, err error) ValidationError {
	var loadErr *config.LoadError
	if errors.As(err, &loadErr) {
		ve := ValidationError{File: file, Code: loadErr.Code, Message: loadErr.Message}
		if loadErr.Pos.IsValid() {
			ve.Line = loadErr.Pos.Line()
		}
		return ve
	}
	return ValidationError{File: file, Code: ErrCodeGeneric, Message: err.Error()}
}

func outputValidateText(f *OutputFormatter, result ValidationResult) {
	w := f.Writer
	if result.Valid {
		if result.Config != nil {
			fmt.Fprintf(w, "✓ config valid (%d partition(s), max %d)\n", result.Config.PartitionCount, result.Config.MaxPartitionCount)
		}
		if result.Scenarios > 0 {
			fmt.Fprintf(w, "✓ %d scenario(s) valid\n", result.Scenarios)
		}
		return
	}
	for _, e := range result.Errors {
		if e.Line > 0 {
			fmt.Fprintf(w, "✗ %s:%d: [%s] %s\n", e.File, e.Line, e.Code, e.Message)
		} else {
			fmt.Fprintf(w, "✗ %s: [%s] %s\n", e.File, e.Code, e.Message)
		}
	}
}
