package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// createTestStore creates a new on-disk store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testEpoch = time.Date(2024, 3, 9, 18, 0, 0, 0, time.UTC)

// createTestRun inserts a running run with minimal required fields.
func createTestRun(t *testing.T, s *Store, id string) Run {
	t.Helper()
	run := Run{
		ID:             id,
		ExperimentRoot: "/exp/" + id,
		Folds:          12,
		Status:         RunRunning,
		StartedAt:      testEpoch,
	}
	seq, err := s.CreateRun(context.Background(), run)
	if err != nil {
		t.Fatalf("CreateRun() failed: %v", err)
	}
	run.Seq = seq
	return run
}

// createTestAttempt builds an attempt with minimal required fields.
func createTestAttempt(runID string, fold, attempt, exitCode int) Attempt {
	return Attempt{
		RunID:      runID,
		Fold:       fold,
		Attempt:    attempt,
		Port:       29500 + fold,
		ExitCode:   exitCode,
		ConfigHash: "test-hash",
		StartedAt:  testEpoch.Add(time.Duration(fold) * time.Hour),
		Duration:   90 * time.Second,
	}
}
