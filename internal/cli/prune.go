package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/foldsweep/internal/checkpoint"
)

// NewPruneCommand creates the prune command.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune <model-dir>...",
		Short: "Keep only the latest checkpoint of model directories",
		Long: `Prune each model directory down to its lexicographically latest
save/CKPT* checkpoint and delete that checkpoint's optimizer state.

This is the step the sweep applies to a freshly seeded fold directory.
Deleting the optimizer state cannot be undone.

Example:
  foldsweep prune /exp/mtl/Fold-1 /exp/mtl/Fold-2`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(rootOpts, args, cmd)
		},
	}

	return cmd
}

// PruneResult reports what was pruned in one directory.
type PruneResult struct {
	Dir string `json:"dir"`
	checkpoint.Result
}

func runPrune(opts *RootOptions, dirs []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	logger := newLogger(opts, cmd.ErrOrStderr())

	results := make([]PruneResult, 0, len(dirs))
	for _, dir := range dirs {
		res, err := checkpoint.Prune(logger, dir)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodePrune, fmt.Sprintf("failed to prune %s", dir), err)
		}
		results = append(results, PruneResult{Dir: dir, Result: res})
	}

	if opts.Format == "json" {
		return formatter.Success(results)
	}

	w := cmd.OutOrStdout()
	for _, r := range results {
		if r.Kept == "" {
			fmt.Fprintf(w, "- %s: no checkpoints\n", r.Dir)
			continue
		}
		fmt.Fprintf(w, "✓ %s: kept %s, deleted %d, optimizer removed: %v\n", r.Dir, r.Kept, len(r.Deleted), r.OptimizerRemoved)
	}
	return nil
}
