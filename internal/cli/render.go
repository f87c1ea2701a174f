package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/foldsweep/internal/hparams"
)

// RenderResult is the payload of the render command.
type RenderResult struct {
	Fold    int    `json:"fold"`
	Path    string `json:"path,omitempty"`
	Hash    string `json:"hash"`
	Content string `json:"content"`
}

// RenderOptions holds flags for the render command.
type RenderOptions struct {
	*RootOptions
	Write bool
}

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RenderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "render <fold>",
		Short: "Render one fold's hyperparameter file",
		Long: `Render the hyperparameter template for a single fold and print it.

With --write the result is also written to the configured target path,
exactly as the sweep would before launching that fold. No fold directory is
seeded and nothing is launched.

Example:
  foldsweep render 3 -c sweep.yaml
  foldsweep render 3 -c sweep.yaml --write --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Write, "write", false, "also write the rendered file to the target path")

	return cmd
}

func runRender(opts *RenderOptions, foldArg string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions, formatter, nil)
	if err != nil {
		return err
	}

	i, err := strconv.Atoi(foldArg)
	if err != nil || i < 1 || i > cfg.Folds {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric,
			fmt.Sprintf("fold must be an integer in 1..%d, got %q", cfg.Folds, foldArg), nil)
	}
	fold := cfg.Params().ForFold(i)

	result := RenderResult{Fold: i}
	if opts.Write {
		rendered, err := fold.Instantiate(cfg.Template, cfg.Target)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeRender, "failed to render template", err)
		}
		result.Path, result.Hash, result.Content = rendered.Path, rendered.Hash, rendered.Text
		formatter.VerboseLog("Wrote %s", rendered.Path)
	} else {
		tmpl, err := os.ReadFile(cfg.Template)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, "failed to read template", err)
		}
		text, err := fold.Render(string(tmpl))
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeRender, "failed to render template", err)
		}
		result.Content = text
		result.Hash = hparams.Hash(text)
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), result.Content)
	return err
}
