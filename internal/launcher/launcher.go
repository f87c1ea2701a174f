// Package launcher runs the external processes of a sweep: the distributed
// training entry point for each fold attempt and the evaluation aggregator
// after the last fold.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

// DeviceEnv pins the training process to a device ordinal.
const DeviceEnv = "CUDA_VISIBLE_DEVICES"

// DefaultTrainCommand is the distributed-training entry point prefix.
var DefaultTrainCommand = []string{"python", "-m", "torch.distributed.launch"}

// Spec describes one training launch.
type Spec struct {
	Fold       int
	Attempt    int
	Port       int
	Device     string
	ConfigPath string
}

// Launcher starts a training process and blocks until it exits.
//
// Launch returns the process exit code. A non-nil error means the process
// could not be run at all (or ctx was cancelled); the exit code is then
// meaningless.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (exitCode int, err error)
}

// Exec launches training as a child process.
type Exec struct {
	// Command is the entry point prefix. Defaults to DefaultTrainCommand.
	Command []string

	// Script is the training script passed after --master_port.
	Script string

	// Dir is the working directory of the child. Empty means inherit.
	Dir string

	// Stdout and Stderr receive the child's output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	// LogDir, if set, additionally captures each attempt's combined output
	// in LogDir/fold-<i>-attempt-<n>.log.
	LogDir string

	// GracePeriod is how long the child has to exit after an interrupt on
	// cancellation before it is killed.
	GracePeriod time.Duration
}

// Args returns the argument vector for spec, program first.
func (e *Exec) Args(spec Spec) []string {
	prefix := e.Command
	if len(prefix) == 0 {
		prefix = DefaultTrainCommand
	}
	args := make([]string, 0, len(prefix)+3)
	args = append(args, prefix...)
	args = append(args,
		"--master_port="+strconv.Itoa(spec.Port),
		e.Script,
		spec.ConfigPath,
	)
	return args
}

// Launch runs the training process for spec.
func (e *Exec) Launch(ctx context.Context, spec Spec) (int, error) {
	args := e.Args(spec)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = e.Dir
	cmd.Env = append(os.Environ(), DeviceEnv+"="+spec.Device)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = e.GracePeriod
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 30 * time.Second
	}

	stdout, stderr := e.Stdout, e.Stderr
	if e.LogDir != "" {
		f, err := e.openLog(spec)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		stdout = tee(stdout, f)
		stderr = tee(stderr, f)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, ctxErr
	}
	return exitCode(err)
}

func (e *Exec) openLog(spec Spec) (*os.File, error) {
	if err := os.MkdirAll(e.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := fmt.Sprintf("fold-%d-attempt-%d.log", spec.Fold, spec.Attempt)
	f, err := os.Create(filepath.Join(e.LogDir, name))
	if err != nil {
		return nil, fmt.Errorf("create attempt log: %w", err)
	}
	return f, nil
}

// Mode selects the evaluation flavour of the aggregator.
const ModeMultiTask = "mtl"

// DefaultEvalCommand is the evaluation aggregator entry point prefix.
var DefaultEvalCommand = []string{"python", "-m", "helper_scripts.evaluation"}

// Evaluator aggregates metrics over a finished experiment root.
type Evaluator interface {
	Evaluate(ctx context.Context, experimentRoot, mode string) error
}

// ExecEvaluator runs the aggregator as a child process with arguments
// <experiment_root> <mode>.
type ExecEvaluator struct {
	Command []string
	Dir     string
	Stdout  io.Writer
	Stderr  io.Writer
}

// Args returns the argument vector, program first.
func (e *ExecEvaluator) Args(experimentRoot, mode string) []string {
	prefix := e.Command
	if len(prefix) == 0 {
		prefix = DefaultEvalCommand
	}
	args := make([]string, 0, len(prefix)+2)
	args = append(args, prefix...)
	return append(args, experimentRoot, mode)
}

// Evaluate runs the aggregator and fails on a nonzero exit.
func (e *ExecEvaluator) Evaluate(ctx context.Context, experimentRoot, mode string) error {
	args := e.Args(experimentRoot, mode)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = e.Dir
	cmd.Stdout = e.Stdout
	cmd.Stderr = e.Stderr

	code, err := exitCode(cmd.Run())
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if code != 0 {
		return fmt.Errorf("evaluate: aggregator exited with code %d", code)
	}
	return nil
}

// exitCode separates "ran and exited nonzero" from "could not run".
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// -1 when terminated by a signal; still a failed attempt.
		return exitErr.ExitCode(), nil
	}
	return 0, fmt.Errorf("run process: %w", err)
}

func tee(w io.Writer, f io.Writer) io.Writer {
	if w == nil {
		return f
	}
	return io.MultiWriter(w, f)
}
