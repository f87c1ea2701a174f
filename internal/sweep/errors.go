package sweep

import (
	"errors"
	"fmt"
)

// FoldError reports a fold that exhausted its retry budget.
type FoldError struct {
	// Fold is the failing fold index.
	Fold int

	// Attempts is how many launches were made in this invocation.
	Attempts int

	// ExitCode is the exit code of the last launch.
	ExitCode int
}

// Error implements the error interface.
func (e *FoldError) Error() string {
	return fmt.Sprintf("fold %d failed after %d attempts (last exit code %d)", e.Fold, e.Attempts, e.ExitCode)
}

// IsFoldError returns true if err is or wraps a *FoldError.
func IsFoldError(err error) bool {
	var fe *FoldError
	return errors.As(err, &fe)
}

// StageError attributes a non-retryable failure to the step that raised it.
type StageError struct {
	Fold  int
	Stage string // "instantiate", "port", "launch", "record", "evaluate"
	Err   error
}

func (e *StageError) Error() string {
	if e.Fold == 0 {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("fold %d: %s: %v", e.Fold, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
