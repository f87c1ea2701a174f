package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
experiment_root: /exp/mtl
data_root: /data/frid
base_model: /models/pretrained
`

func TestParse_MinimalUsesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Folds)
	assert.Equal(t, "0", cfg.Device)
	assert.Equal(t, 120, cfg.HParams.Epochs)
	assert.Equal(t, 500, cfg.HParams.OutputNeurons)
	assert.Equal(t, 5e-4, cfg.HParams.LR)
	assert.Equal(t, 0.5, cfg.HParams.LossASRWeight)
	assert.True(t, cfg.HParams.ResetLR)
	assert.False(t, cfg.HParams.TrainFlag)
	assert.Equal(t, []string{"python", "-m", "torch.distributed.launch"}, cfg.Train.Command)
	assert.Equal(t, "train_multi-seq.py", cfg.Train.Script)
	assert.Equal(t, "mtl", cfg.Eval.Mode)
	assert.Zero(t, cfg.Retry.MaxAttempts)
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(minimal + `
folds: 3
device: "1"
hparams:
  lr: 1.0e-3
  freeze_arch: true
  loss_asr_weight: 0.8
retry:
  max_attempts: 4
  initial_backoff: 30s
  max_backoff: 5m
`))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Folds)
	assert.Equal(t, "1", cfg.Device)
	assert.Equal(t, 1e-3, cfg.HParams.LR)
	assert.True(t, cfg.HParams.FreezeArch)
	assert.Equal(t, 0.8, cfg.HParams.LossASRWeight)
	// Keys not mentioned in a nested block keep their defaults.
	assert.Equal(t, 120, cfg.HParams.Epochs)

	p := cfg.Retry.Policy()
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, 30*time.Second, p.InitialBackoff)
	assert.Equal(t, 5*time.Minute, p.MaxBackoff)
	assert.Equal(t, 2.0, p.Multiplier)
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := []struct {
		name  string
		extra string
		field string
	}{
		{"loss weight above one", "hparams:\n  loss_asr_weight: 1.5\n", "loss_asr_weight"},
		{"negative loss weight", "hparams:\n  loss_asr_weight: -0.1\n", "loss_asr_weight"},
		{"zero epochs", "hparams:\n  epochs: 0\n", "epochs"},
		{"zero folds", "folds: 0\n", "folds"},
		{"bad device", "device: gpu0\n", "device"},
		{"empty train command", "train:\n  command: []\n", "command"},
		{"multiplier below one", "retry:\n  multiplier: 0.5\n", "multiplier"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(minimal + tt.extra))
			require.Error(t, err)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs), "want ValidationErrors, got %T: %v", err, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestParse_UnknownKeyRejected(t *testing.T) {
	_, err := Parse([]byte(minimal + "epochs: 10\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode config")
}

func TestParse_EmptyDocumentNeedsPaths(t *testing.T) {
	cfg, err := Decode(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "experiment_root")
}

func TestRead_ThenOverrideThenValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_root: /d\nbase_model: /m\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)

	cfg, err := Read(path)
	require.NoError(t, err)
	cfg.ExperimentRoot = "/exp/override"
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestParams(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	p := cfg.Params()
	assert.Equal(t, "/data/frid", p.DataRoot)
	assert.Equal(t, "/exp/mtl", p.ExperimentRoot)

	fold := p.ForFold(5)
	assert.Equal(t, "/exp/mtl/Fold-5", fold.OutputDir)
	assert.Equal(t, "/data/frid/Fold_5", fold.DataDir)
}

func TestSummary(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	s := cfg.Summary()
	assert.Equal(t, "/data/frid", s["data_root"])
	assert.Equal(t, "0.0005", s["lr"])
	assert.Equal(t, "0", s["max_attempts"])
}

func TestExampleConfigIsValid(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "sweep.yaml"))
	require.NoError(t, err)
}
