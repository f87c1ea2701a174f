package store

import (
	"context"
	"fmt"
	"time"
)

// CreateRun inserts a new run record.
// The run's Seq is assigned by the store and returned.
func (s *Store) CreateRun(ctx context.Context, run Run) (int64, error) {
	paramsJSON, err := marshalParams(run.Params)
	if err != nil {
		return 0, fmt.Errorf("create run: %w", err)
	}

	status := run.Status
	if status == "" {
		status = RunRunning
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("create run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("create run: next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, experiment_root, folds, status, params, error, started_at, finished_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.ExperimentRoot,
		run.Folds,
		string(status),
		paramsJSON,
		run.Error,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		seq,
	)
	if err != nil {
		return 0, fmt.Errorf("create run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("create run: commit: %w", err)
	}
	return seq, nil
}

// UpdateRunStatus sets the status of a run. A non-zero finishedAt also
// records the end time; errMsg is stored verbatim (empty clears it).
func (s *Store) UpdateRunStatus(ctx context.Context, id string, status RunStatus, errMsg string, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, string(status), errMsg, formatTime(finishedAt), id)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run status: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update run status: run %q not found", id)
	}
	return nil
}

// WriteAttempt inserts an attempt record.
// Uses ON CONFLICT(run_id, fold, attempt) DO NOTHING for idempotency.
// Returns whether a new row was inserted.
//
// Note: The run referenced by RunID must exist (foreign key constraint).
func (s *Store) WriteAttempt(ctx context.Context, a Attempt) (inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("write attempt: begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM attempts`).Scan(&seq); err != nil {
		return false, fmt.Errorf("write attempt: next seq: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO attempts
		(run_id, fold, attempt, port, exit_code, config_hash, started_at, duration_ms, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, fold, attempt) DO NOTHING
	`,
		a.RunID,
		a.Fold,
		a.Attempt,
		a.Port,
		a.ExitCode,
		a.ConfigHash,
		formatTime(a.StartedAt),
		a.Duration.Milliseconds(),
		seq,
	)
	if err != nil {
		return false, fmt.Errorf("write attempt: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write attempt: rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("write attempt: commit: %w", err)
	}
	return rowsAffected > 0, nil
}
