package launcher

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shell builds a command prefix whose script sees the appended launch
// arguments as $1..$n.
func shell(script string) []string {
	return []string{"sh", "-c", script, "sh"}
}

func TestExec_Args(t *testing.T) {
	e := &Exec{Script: "train_multi-seq.py"}
	got := e.Args(Spec{Port: 29501, ConfigPath: "hparams/final.yml"})
	assert.Equal(t, []string{
		"python", "-m", "torch.distributed.launch",
		"--master_port=29501",
		"train_multi-seq.py",
		"hparams/final.yml",
	}, got)
}

func TestExec_PassesDeviceAndArguments(t *testing.T) {
	var out bytes.Buffer
	e := &Exec{
		Command: shell(`echo "$CUDA_VISIBLE_DEVICES|$1|$2|$3"`),
		Script:  "train.py",
		Stdout:  &out,
	}

	code, err := e.Launch(context.Background(), Spec{Fold: 1, Attempt: 1, Port: 4242, Device: "3", ConfigPath: "cfg.yml"})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "3|--master_port=4242|train.py|cfg.yml\n", out.String())
}

func TestExec_NonzeroExitIsNotAnError(t *testing.T) {
	e := &Exec{Command: shell("exit 7"), Script: "train.py"}

	code, err := e.Launch(context.Background(), Spec{Port: 1, Device: "0"})
	require.NoError(t, err)
	assert.Equal(t, 7, code)
}

func TestExec_MissingProgram(t *testing.T) {
	e := &Exec{Command: []string{filepath.Join(t.TempDir(), "no-such-binary")}, Script: "train.py"}

	_, err := e.Launch(context.Background(), Spec{Port: 1, Device: "0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run process")
}

func TestExec_WritesAttemptLog(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "logs")
	var out bytes.Buffer
	e := &Exec{
		Command: shell(`echo training; echo warning >&2; exit 1`),
		Script:  "train.py",
		Stdout:  &out,
		LogDir:  logDir,
	}

	code, err := e.Launch(context.Background(), Spec{Fold: 3, Attempt: 2, Port: 1, Device: "0"})
	require.NoError(t, err)
	assert.Equal(t, 1, code)

	raw, err := os.ReadFile(filepath.Join(logDir, "fold-3-attempt-2.log"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "training")
	assert.Contains(t, string(raw), "warning")
	assert.Equal(t, "training\n", out.String())
}

func TestExec_Cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	e := &Exec{Command: shell("sleep 30"), Script: "train.py", GracePeriod: time.Second}

	start := time.Now()
	_, err := e.Launch(ctx, Spec{Port: 1, Device: "0"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestExecEvaluator(t *testing.T) {
	var out bytes.Buffer
	ev := &ExecEvaluator{Command: shell(`echo "$1 $2"`), Stdout: &out}

	require.NoError(t, ev.Evaluate(context.Background(), "/exp/mtl", ModeMultiTask))
	assert.Equal(t, "/exp/mtl mtl", strings.TrimSpace(out.String()))
}

func TestExecEvaluator_Failure(t *testing.T) {
	ev := &ExecEvaluator{Command: shell("exit 2")}

	err := ev.Evaluate(context.Background(), "/exp", ModeMultiTask)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 2")
}

func TestExecEvaluator_DefaultArgs(t *testing.T) {
	ev := &ExecEvaluator{}
	assert.Equal(t,
		[]string{"python", "-m", "helper_scripts.evaluation", "/exp", "mtl"},
		ev.Args("/exp", ModeMultiTask))
}
