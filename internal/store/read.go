package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const runColumns = `id, experiment_root, folds, status, params, error, started_at, finished_at, seq`

const attemptColumns = `run_id, fold, attempt, port, exit_code, config_hash, started_at, duration_ms, seq`

// ReadRun retrieves a single run by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// LatestRun returns the most recently created run.
// Returns sql.ErrNoRows if the ledger is empty.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM runs
		ORDER BY seq DESC
		LIMIT 1
	`)
	return scanRun(row)
}

// ListRuns returns all runs ordered by seq ASC.
// Returns an empty slice (not nil) if there are none.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadAttempts returns all attempts of a run ordered by seq ASC.
// Returns an empty slice (not nil) if there are none.
func (s *Store) ReadAttempts(ctx context.Context, runID string) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attemptColumns+` FROM attempts
		WHERE run_id = ?
		ORDER BY seq ASC, id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	attempts := []Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

// SucceededFolds returns the folds of a run with at least one clean exit,
// ascending.
func (s *Store) SucceededFolds(ctx context.Context, runID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT fold FROM attempts
		WHERE run_id = ? AND exit_code = 0
		ORDER BY fold ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query succeeded folds: %w", err)
	}
	defer rows.Close()

	folds := []int{}
	for rows.Next() {
		var f int
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("scan fold: %w", err)
		}
		folds = append(folds, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folds: %w", err)
	}
	return folds, nil
}

// LastAttempt returns the highest attempt number recorded for a fold of a
// run, or 0 if there is none.
func (s *Store) LastAttempt(ctx context.Context, runID string, fold int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(attempt), 0) FROM attempts
		WHERE run_id = ? AND fold = ?
	`, runID, fold).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("last attempt: %w", err)
	}
	return n, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var status, paramsJSON, startedAt, finishedAt string

	if err := row.Scan(
		&run.ID, &run.ExperimentRoot, &run.Folds, &status, &paramsJSON,
		&run.Error, &startedAt, &finishedAt, &run.Seq,
	); err != nil {
		return Run{}, err
	}
	run.Status = RunStatus(status)

	params, err := unmarshalParams(paramsJSON)
	if err != nil {
		return Run{}, err
	}
	run.Params = params

	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return Run{}, err
	}
	if run.FinishedAt, err = parseTime(finishedAt); err != nil {
		return Run{}, err
	}
	return run, nil
}

func scanAttempt(row rowScanner) (Attempt, error) {
	var a Attempt
	var startedAt string
	var durationMS int64

	if err := row.Scan(
		&a.RunID, &a.Fold, &a.Attempt, &a.Port, &a.ExitCode,
		&a.ConfigHash, &startedAt, &durationMS, &a.Seq,
	); err != nil {
		return Attempt{}, err
	}

	var err error
	if a.StartedAt, err = parseTime(startedAt); err != nil {
		return Attempt{}, err
	}
	a.Duration = time.Duration(durationMS) * time.Millisecond
	return a, nil
}

var _ rowScanner = (*sql.Row)(nil)
