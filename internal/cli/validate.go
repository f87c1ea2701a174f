package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/foldsweep/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                     `json:"valid"`
	Path   string                   `json:"path"`
	Errors []config.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config]",
		Short: "Validate a sweep config without running it",
		Long: `Validate a sweep config against the schema without touching any fold.

Reports every violation with its path, e.g. hparams.loss_asr_weight out of
range or an empty experiment_root. Defaults to the --config path.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Config
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	formatter.VerboseLog("Validating %s", path)

	cfg, err := config.Read(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to read config", err)
	}

	err = cfg.Validate()
	if err == nil {
		return outputValidateSuccess(formatter, path)
	}

	var verrs config.ValidationErrors
	if !errors.As(err, &verrs) {
		verrs = config.ValidationErrors{{Message: err.Error()}}
	}
	return outputValidationErrors(formatter, path, verrs)
}

func outputValidateSuccess(formatter *OutputFormatter, path string) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Path: path})
	}
	return formatter.Success(fmt.Sprintf("✓ %s is valid", path))
}

func outputValidationErrors(formatter *OutputFormatter, path string, errs config.ValidationErrors) error {
	if formatter.Format == "json" {
		if err := formatter.Error(ErrCodeConfig, "validation failed", ValidationResult{
			Valid:  false,
			Path:   path,
			Errors: errs,
		}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "validation failed")
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✗ %s: %d error(s)\n", path, len(errs))
	for _, e := range errs {
		fmt.Fprintf(w, "  %s\n", e.Error())
	}
	return NewExitError(ExitFailure, "validation failed")
}
