package sweep

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/foldsweep/internal/checkpoint"
	"github.com/roach88/foldsweep/internal/hparams"
	"github.com/roach88/foldsweep/internal/launcher"
	"github.com/roach88/foldsweep/internal/retry"
	"github.com/roach88/foldsweep/internal/store"
)

// Instantiator materializes the configuration of one fold.
type Instantiator interface {
	Instantiate(fold hparams.Fold) (hparams.Rendered, error)
}

// PortSource hands out rendezvous ports.
type PortSource interface {
	Acquire() (int, error)
}

// Ledger records runs and attempts. *store.Store implements it.
type Ledger interface {
	CreateRun(ctx context.Context, run store.Run) (int64, error)
	ReadRun(ctx context.Context, id string) (store.Run, error)
	UpdateRunStatus(ctx context.Context, id string, status store.RunStatus, errMsg string, finishedAt time.Time) error
	WriteAttempt(ctx context.Context, a store.Attempt) (bool, error)
	SucceededFolds(ctx context.Context, runID string) ([]int, error)
	LastAttempt(ctx context.Context, runID string, fold int) (int, error)
}

// Clock reads wall time for attempt timestamps and durations.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// FileInstantiator renders the template to the target path and seeds the
// fold directory from the base model the first time it is seen.
type FileInstantiator struct {
	Template  string
	Target    string
	BaseModel string
	Logger    *slog.Logger
}

// Instantiate writes the fold's hyperparameter file and prepares its
// output directory.
func (fi *FileInstantiator) Instantiate(fold hparams.Fold) (hparams.Rendered, error) {
	rendered, err := fold.Instantiate(fi.Template, fi.Target)
	if err != nil {
		return hparams.Rendered{}, err
	}
	if _, err := checkpoint.Seed(fi.Logger, fi.BaseModel, fold.OutputDir); err != nil {
		return hparams.Rendered{}, err
	}
	return rendered, nil
}

// Options selects what a Run does.
type Options struct {
	// Folds is the number of folds; indices run 1..Folds.
	Folds int

	// Device is the CUDA_VISIBLE_DEVICES value for training processes.
	Device string

	// EvalMode is passed to the evaluator. Defaults to launcher.ModeMultiTask.
	EvalMode string

	// SkipTrain skips the fold loop and only evaluates.
	SkipTrain bool

	// SkipEval stops after the fold loop.
	SkipEval bool

	// ResumeRunID continues an existing run instead of creating one.
	// Requires a Ledger.
	ResumeRunID string

	// Summary is stored with a newly created run.
	Summary map[string]string
}

// Driver runs fold sweeps. Fields left nil fall back to defaults where one
// exists (Sleeper, Clock, IDs, Logger); Instantiator, Ports and Launcher are
// required, Evaluator unless SkipEval is set.
type Driver struct {
	Params       hparams.Params
	Instantiator Instantiator
	Ports        PortSource
	Launcher     launcher.Launcher
	Evaluator    launcher.Evaluator
	Ledger       Ledger
	Policy       retry.Policy
	Sleeper      retry.Sleeper
	Clock        Clock
	IDs          RunIDGenerator
	Logger       *slog.Logger
}

// Result summarizes a finished Run.
type Result struct {
	RunID string

	// Attempts counts launches per fold made by this invocation.
	Attempts map[int]int

	// Skipped lists folds already succeeded in a resumed run.
	Skipped []int

	Evaluated bool
	Elapsed   time.Duration
}

// Run executes the sweep. It returns a *FoldError when a fold exhausts its
// retry budget, ctx.Err() on cancellation and a *StageError for anything
// that stops the sweep without being retried.
func (d *Driver) Run(ctx context.Context, opts Options) (*Result, error) {
	d.applyDefaults()
	if err := d.check(opts); err != nil {
		return nil, err
	}

	start := d.Clock.Now()
	res := &Result{Attempts: make(map[int]int)}

	runID, done, err := d.openRun(ctx, opts)
	if err != nil {
		return nil, err
	}
	res.RunID = runID
	log := d.Logger.With("run_id", runID)

	if !opts.SkipTrain {
		for i := 1; i <= opts.Folds; i++ {
			if err := ctx.Err(); err != nil {
				d.closeRun(ctx, runID, err)
				return res, err
			}
			if done[i] {
				log.Info("fold already succeeded, skipping", "fold", i)
				res.Skipped = append(res.Skipped, i)
				continue
			}

			n, err := d.runFold(ctx, log, runID, i, opts.Device)
			res.Attempts[i] = n
			if err != nil {
				d.closeRun(ctx, runID, err)
				return res, err
			}
		}
		log.Info("training complete", "folds", opts.Folds, "elapsed", d.Clock.Now().Sub(start).Round(time.Second).String())
	}

	if !opts.SkipEval {
		mode := opts.EvalMode
		if mode == "" {
			mode = launcher.ModeMultiTask
		}
		log.Info("evaluating", "experiment_root", d.Params.ExperimentRoot, "mode", mode)
		if err := d.Evaluator.Evaluate(ctx, d.Params.ExperimentRoot, mode); err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			} else {
				err = &StageError{Stage: "evaluate", Err: err}
			}
			d.closeRun(ctx, runID, err)
			return res, err
		}
		res.Evaluated = true
	}

	res.Elapsed = d.Clock.Now().Sub(start)
	d.closeRun(ctx, runID, nil)
	log.Info("sweep finished", "elapsed", res.Elapsed.Round(time.Second).String())
	return res, nil
}

// runFold launches fold i until it exits cleanly or the policy gives up.
// Returns the number of launches made.
func (d *Driver) runFold(ctx context.Context, log *slog.Logger, runID string, i int, device string) (int, error) {
	attempt, err := d.lastAttempt(ctx, runID, i)
	if err != nil {
		return 0, err
	}

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return failures, err
		}
		attempt++

		code, err := d.launchOnce(ctx, log, runID, i, attempt, device)
		if err != nil {
			return failures, err
		}
		if code == 0 {
			return failures + 1, nil
		}

		failures++
		log.Warn("fold attempt failed", "fold", i, "attempt", attempt, "exit_code", code, "failures", failures)

		if d.Policy.Exhausted(failures) {
			return failures, &FoldError{Fold: i, Attempts: failures, ExitCode: code}
		}

		if delay := d.Policy.Delay(failures); delay > 0 {
			log.Info("backing off before retry", "fold", i, "delay", delay.String())
			if err := d.Sleeper.Sleep(ctx, delay); err != nil {
				return failures, err
			}
		}
	}
}

// launchOnce performs steps 1-3 for one attempt and records it.
func (d *Driver) launchOnce(ctx context.Context, log *slog.Logger, runID string, i, attempt int, device string) (int, error) {
	fold := d.Params.ForFold(i)

	rendered, err := d.Instantiator.Instantiate(fold)
	if err != nil {
		return 0, &StageError{Fold: i, Stage: "instantiate", Err: err}
	}

	port, err := d.Ports.Acquire()
	if err != nil {
		return 0, &StageError{Fold: i, Stage: "port", Err: err}
	}

	log.Info("launching fold", "fold", i, "attempt", attempt, "port", port, "device", device, "config", rendered.Path)

	started := d.Clock.Now()
	code, err := d.Launcher.Launch(ctx, launcher.Spec{
		Fold:       i,
		Attempt:    attempt,
		Port:       port,
		Device:     device,
		ConfigPath: rendered.Path,
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, &StageError{Fold: i, Stage: "launch", Err: err}
	}
	elapsed := d.Clock.Now().Sub(started)

	log.Info("fold process exited", "fold", i, "attempt", attempt, "exit_code", code, "duration", elapsed.Round(time.Second).String())

	if d.Ledger != nil {
		// The process ran; record it even if ctx was cancelled meanwhile.
		_, err := d.Ledger.WriteAttempt(context.WithoutCancel(ctx), store.Attempt{
			RunID:      runID,
			Fold:       i,
			Attempt:    attempt,
			Port:       port,
			ExitCode:   code,
			ConfigHash: rendered.Hash,
			StartedAt:  started,
			Duration:   elapsed,
		})
		if err != nil {
			return 0, &StageError{Fold: i, Stage: "record", Err: err}
		}
	}
	return code, nil
}

// openRun creates or resumes the run and returns the folds already done.
func (d *Driver) openRun(ctx context.Context, opts Options) (string, map[int]bool, error) {
	done := make(map[int]bool)

	if opts.ResumeRunID != "" {
		run, err := d.Ledger.ReadRun(ctx, opts.ResumeRunID)
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, fmt.Errorf("resume: run %q not found", opts.ResumeRunID)
		}
		if err != nil {
			return "", nil, fmt.Errorf("resume: %w", err)
		}
		if run.ExperimentRoot != d.Params.ExperimentRoot {
			return "", nil, fmt.Errorf("resume: run %q belongs to experiment root %s", run.ID, run.ExperimentRoot)
		}
		if run.Status == store.RunSucceeded {
			return "", nil, fmt.Errorf("resume: run %q already succeeded", run.ID)
		}

		folds, err := d.Ledger.SucceededFolds(ctx, run.ID)
		if err != nil {
			return "", nil, fmt.Errorf("resume: %w", err)
		}
		for _, f := range folds {
			done[f] = true
		}
		if err := d.Ledger.UpdateRunStatus(ctx, run.ID, store.RunRunning, "", time.Time{}); err != nil {
			return "", nil, fmt.Errorf("resume: %w", err)
		}
		return run.ID, done, nil
	}

	id := d.IDs.Generate()
	if d.Ledger != nil {
		_, err := d.Ledger.CreateRun(ctx, store.Run{
			ID:             id,
			ExperimentRoot: d.Params.ExperimentRoot,
			Folds:          opts.Folds,
			Status:         store.RunRunning,
			Params:         opts.Summary,
			StartedAt:      d.Clock.Now(),
		})
		if err != nil {
			return "", nil, fmt.Errorf("create run: %w", err)
		}
	}
	return id, done, nil
}

// closeRun records the final status. Uses a context that survives
// cancellation of ctx so a cancelled run is still marked as such.
func (d *Driver) closeRun(ctx context.Context, runID string, runErr error) {
	if d.Ledger == nil {
		return
	}

	status, msg := store.RunSucceeded, ""
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		status, msg = store.RunCancelled, runErr.Error()
	default:
		status, msg = store.RunFailed, runErr.Error()
	}

	if err := d.Ledger.UpdateRunStatus(context.WithoutCancel(ctx), runID, status, msg, d.Clock.Now()); err != nil {
		d.Logger.Error("failed to record run status", "run_id", runID, "status", status, "error", err)
	}
}

func (d *Driver) lastAttempt(ctx context.Context, runID string, fold int) (int, error) {
	if d.Ledger == nil {
		return 0, nil
	}
	n, err := d.Ledger.LastAttempt(ctx, runID, fold)
	if err != nil {
		return 0, &StageError{Fold: fold, Stage: "record", Err: err}
	}
	return n, nil
}

func (d *Driver) applyDefaults() {
	if d.Sleeper == nil {
		d.Sleeper = retry.TimerSleeper{}
	}
	if d.Clock == nil {
		d.Clock = systemClock{}
	}
	if d.IDs == nil {
		d.IDs = UUIDv7Generator{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
}

func (d *Driver) check(opts Options) error {
	if opts.Folds < 1 {
		return fmt.Errorf("folds must be >= 1, got %d", opts.Folds)
	}
	if opts.ResumeRunID != "" && d.Ledger == nil {
		return errors.New("resume requires a ledger")
	}
	if !opts.SkipTrain && (d.Instantiator == nil || d.Ports == nil || d.Launcher == nil) {
		return errors.New("training requires an instantiator, a port source and a launcher")
	}
	if !opts.SkipEval && d.Evaluator == nil {
		return errors.New("evaluation requires an evaluator")
	}
	return d.Policy.Validate()
}
