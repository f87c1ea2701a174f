package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/foldsweep/internal/config"
	"github.com/roach88/foldsweep/internal/launcher"
	"github.com/roach88/foldsweep/internal/port"
	"github.com/roach88/foldsweep/internal/store"
	"github.com/roach88/foldsweep/internal/sweep"
)

// DefaultDBPath is the ledger used when neither the config nor --db names one.
const DefaultDBPath = "foldsweep.db"

// SweepOptions holds flags for the sweep command.
type SweepOptions struct {
	*RootOptions
	Database       string
	ExperimentRoot string
	Device         string
	Resume         string
	SkipTrain      bool
	SkipEval       bool

	// Launcher, Evaluator, Ports and IDs override the process-backed
	// defaults (for testing).
	Launcher  launcher.Launcher
	Evaluator launcher.Evaluator
	Ports     sweep.PortSource
	IDs       sweep.RunIDGenerator
}

// SweepResult is the payload reported when a sweep finishes.
type SweepResult struct {
	RunID     string      `json:"run_id"`
	Folds     int         `json:"folds"`
	Attempts  map[int]int `json:"attempts"`
	Skipped   []int       `json:"skipped,omitempty"`
	Evaluated bool        `json:"evaluated"`
	Elapsed   string      `json:"elapsed"`
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SweepOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the fold sweep",
		Long: `Run every fold of the sweep in order, then the evaluation aggregator.

Each fold renders the hyperparameter template, seeds the fold directory from
the base model on first use, and launches training on a fresh port. A fold
that exits nonzero is retried under the retry policy before the next fold
starts. Every attempt is recorded in the ledger, so an interrupted or failed
run can be resumed with --resume.

Example:
  foldsweep sweep -c sweep.yaml
  foldsweep sweep -c sweep.yaml --device 1 --experiment-root /exp/MTL-0.3
  foldsweep sweep -c sweep.yaml --resume 0190a3c4-...
  foldsweep sweep -c sweep.yaml --skip-train`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite ledger (overrides config)")
	cmd.Flags().StringVar(&opts.ExperimentRoot, "experiment-root", "", "experiment root (overrides config)")
	cmd.Flags().StringVar(&opts.Device, "device", "", "CUDA_VISIBLE_DEVICES for training (overrides config)")
	cmd.Flags().StringVar(&opts.Resume, "resume", "", "resume the run with this id")
	cmd.Flags().BoolVar(&opts.SkipTrain, "skip-train", false, "skip training, only evaluate")
	cmd.Flags().BoolVar(&opts.SkipEval, "skip-eval", false, "skip evaluation")

	return cmd
}

func runSweep(opts *SweepOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	cfg, err := loadConfig(opts.RootOptions, formatter, func(c *config.Sweep) {
		if opts.ExperimentRoot != "" {
			c.ExperimentRoot = opts.ExperimentRoot
		}
		if opts.Device != "" {
			c.Device = opts.Device
		}
		if opts.Database != "" {
			c.DB = opts.Database
		}
	})
	if err != nil {
		return err
	}

	dbPath := cfg.DB
	if dbPath == "" {
		dbPath = DefaultDBPath
	}
	logger.Info("opening ledger", "path", dbPath)
	st, err := store.Open(dbPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	driver := buildDriver(opts, cfg, cmd, st, logger)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping sweep", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	res, err := driver.Run(ctx, sweep.Options{
		Folds:       cfg.Folds,
		Device:      cfg.Device,
		EvalMode:    cfg.Eval.Mode,
		SkipTrain:   opts.SkipTrain,
		SkipEval:    opts.SkipEval,
		ResumeRunID: opts.Resume,
		Summary:     cfg.Summary(),
	})
	if err != nil {
		return reportSweepError(formatter, res, err)
	}

	result := SweepResult{
		RunID:     res.RunID,
		Folds:     cfg.Folds,
		Attempts:  res.Attempts,
		Skipped:   res.Skipped,
		Evaluated: res.Evaluated,
		Elapsed:   res.Elapsed.Round(time.Second).String(),
	}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return outputSweepText(cmd.OutOrStdout(), result)
}

func buildDriver(opts *SweepOptions, cfg config.Sweep, cmd *cobra.Command, st *store.Store, logger *slog.Logger) *sweep.Driver {
	// Child output must not interleave with a JSON response on stdout.
	childOut := cmd.OutOrStdout()
	if opts.Format == "json" {
		childOut = cmd.ErrOrStderr()
	}

	l := opts.Launcher
	if l == nil {
		l = &launcher.Exec{
			Command: cfg.Train.Command,
			Script:  cfg.Train.Script,
			Dir:     cfg.Train.Workdir,
			LogDir:  cfg.Train.LogDir,
			Stdout:  childOut,
			Stderr:  cmd.ErrOrStderr(),
		}
	}
	ev := opts.Evaluator
	if ev == nil {
		ev = &launcher.ExecEvaluator{
			Command: cfg.Eval.Command,
			Dir:     cfg.Train.Workdir,
			Stdout:  childOut,
			Stderr:  cmd.ErrOrStderr(),
		}
	}
	ports := opts.Ports
	if ports == nil {
		ports = port.NewAllocator()
	}
	ids := opts.IDs
	if ids == nil {
		ids = sweep.UUIDv7Generator{}
	}

	return &sweep.Driver{
		Params: cfg.Params(),
		Instantiator: &sweep.FileInstantiator{
			Template:  cfg.Template,
			Target:    cfg.Target,
			BaseModel: cfg.BaseModel,
			Logger:    logger,
		},
		Ports:     ports,
		Launcher:  l,
		Evaluator: ev,
		Ledger:    st,
		Policy:    cfg.Retry.Policy(),
		IDs:       ids,
		Logger:    logger,
	}
}

func reportSweepError(f *OutputFormatter, res *sweep.Result, err error) error {
	msg := fmt.Sprintf("sweep failed: %v", err)
	if res != nil && res.RunID != "" {
		msg = fmt.Sprintf("sweep %s failed: %v", res.RunID, err)
	}

	var foldErr *sweep.FoldError
	var stageErr *sweep.StageError
	switch {
	case errors.Is(err, context.Canceled):
		return f.Fail(ExitFailure, ErrCodeCancelled, "sweep cancelled", err)
	case errors.As(err, &foldErr):
		return f.Fail(ExitFailure, ErrCodeFold, msg, err)
	case errors.As(err, &stageErr):
		return f.Fail(ExitFailure, ErrCodeStage, msg, err)
	case res == nil:
		// Rejected before any run was opened.
		return f.Fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("sweep not started: %v", err), err)
	default:
		return f.Fail(ExitFailure, ErrCodeGeneric, msg, err)
	}
}

func outputSweepText(w io.Writer, r SweepResult) error {
	fmt.Fprintf(w, "Run: %s\n", r.RunID)

	folds := make([]int, 0, len(r.Attempts))
	for fold := range r.Attempts {
		folds = append(folds, fold)
	}
	sort.Ints(folds)
	for _, fold := range folds {
		fmt.Fprintf(w, "  ✓ Fold %d: %d attempt(s)\n", fold, r.Attempts[fold])
	}
	if len(r.Skipped) > 0 {
		parts := make([]string, len(r.Skipped))
		for i, s := range r.Skipped {
			parts[i] = fmt.Sprint(s)
		}
		fmt.Fprintf(w, "  Skipped (already succeeded): %s\n", strings.Join(parts, ", "))
	}
	if r.Evaluated {
		fmt.Fprintln(w, "✓ Evaluation complete")
	}
	fmt.Fprintf(w, "Elapsed: %s\n", r.Elapsed)
	return nil
}
