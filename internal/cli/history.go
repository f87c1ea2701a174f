package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/foldsweep/internal/config"
	"github.com/roach88/foldsweep/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
}

// RunDetail is a run with its attempts.
type RunDetail struct {
	Run      store.Run       `json:"run"`
	Attempts []store.Attempt `json:"attempts"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs and attempts",
		Long: `Show the runs recorded in the ledger, oldest first.

With a run id, show that run's attempts in launch order: fold, attempt
number, port, exit code and duration. "latest" names the most recent run.

Examples:
  foldsweep history --db foldsweep.db
  foldsweep history --db foldsweep.db latest
  foldsweep history --db foldsweep.db 0190a3c4-... --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			return runHistory(opts, runID, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite ledger (default: the config's db, else "+DefaultDBPath+")")

	return cmd
}

func runHistory(opts *HistoryOptions, runID string, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd)

	dbPath, err := historyDBPath(opts)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to read config", err)
	}
	opts.Database = dbPath

	// Opening creates the file; a typo should not leave an empty ledger behind.
	if _, err := os.Stat(opts.Database); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "database not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, "failed to open database", err)
	}
	defer st.Close()

	if runID == "" {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeDatabase, "failed to list runs", err)
		}
		if opts.Format == "json" {
			return formatter.Success(runs)
		}
		return outputRunsText(cmd.OutOrStdout(), runs)
	}

	var run store.Run
	if runID == "latest" {
		run, err = st.LatestRun(ctx)
	} else {
		run, err = st.ReadRun(ctx, runID)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("run not found: %s", runID), nil)
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, "failed to read run", err)
	}

	attempts, err := st.ReadAttempts(ctx, run.ID)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, "failed to read attempts", err)
	}

	detail := RunDetail{Run: run, Attempts: attempts}
	if opts.Format == "json" {
		return formatter.Success(detail)
	}
	return outputRunDetailText(cmd.OutOrStdout(), detail, opts.Verbose)
}

// historyDBPath resolves the ledger path: the --db flag, then the db key of
// the sweep config, then DefaultDBPath. A missing config file is not an error.
func historyDBPath(opts *HistoryOptions) (string, error) {
	if opts.Database != "" {
		return opts.Database, nil
	}
	cfg, err := config.Read(opts.Config)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultDBPath, nil
	}
	if err != nil {
		return "", err
	}
	if cfg.DB == "" {
		return DefaultDBPath, nil
	}
	return cfg.DB, nil
}

func outputRunsText(w io.Writer, runs []store.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%s %s  %-9s %2d fold(s)  %s\n",
			statusMark(r.Status), r.ID, r.Status, r.Folds, r.StartedAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func outputRunDetailText(w io.Writer, d RunDetail, verbose bool) error {
	r := d.Run
	fmt.Fprintf(w, "%s Run: %s (%s)\n", statusMark(r.Status), r.ID, r.Status)
	fmt.Fprintf(w, "  Experiment root: %s\n", r.ExperimentRoot)
	fmt.Fprintf(w, "  Started: %s\n", r.StartedAt.UTC().Format(time.RFC3339))
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(w, "  Finished: %s\n", r.FinishedAt.UTC().Format(time.RFC3339))
	}
	if r.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", r.Error)
	}
	if verbose {
		for _, k := range slices.Sorted(maps.Keys(r.Params)) {
			fmt.Fprintf(w, "  %s = %s\n", k, r.Params[k])
		}
	}
	fmt.Fprintln(w)

	if len(d.Attempts) == 0 {
		fmt.Fprintln(w, "No attempts recorded")
		return nil
	}
	for _, a := range d.Attempts {
		mark := "✓"
		if !a.Succeeded() {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s Fold %2d attempt %d  port %d  exit %d  %s\n",
			mark, a.Fold, a.Attempt, a.Port, a.ExitCode, a.Duration.Round(time.Second))
	}
	return nil
}

func statusMark(s store.RunStatus) string {
	switch s {
	case store.RunSucceeded:
		return "✓"
	case store.RunRunning:
		return "…"
	default:
		return "✗"
	}
}
