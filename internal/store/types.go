package store

import "time"

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Run is one sweep invocation.
type Run struct {
	ID             string            `json:"id"`
	ExperimentRoot string            `json:"experiment_root"`
	Folds          int               `json:"folds"`
	Status         RunStatus         `json:"status"`
	Params         map[string]string `json:"params,omitempty"`
	Error          string            `json:"error,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at,omitzero"`
	Seq            int64             `json:"seq"`
}

// Attempt is one training launch of one fold.
type Attempt struct {
	RunID      string        `json:"run_id"`
	Fold       int           `json:"fold"`
	Attempt    int           `json:"attempt"`
	Port       int           `json:"port"`
	ExitCode   int           `json:"exit_code"`
	ConfigHash string        `json:"config_hash"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	Seq        int64         `json:"seq"`
}

// Succeeded reports whether the attempt's process exited cleanly.
func (a Attempt) Succeeded() bool {
	return a.ExitCode == 0
}
