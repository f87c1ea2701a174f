package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// testEnv is a sweep laid out under a temp dir.
type testEnv struct {
	dir      string
	config   string
	template string
	target   string
	base     string
	expRoot  string
	db       string
}

const testTemplate = `output_folder: output_PLACEHOLDER
data_folder: frid_fold_PLACEHOLDER
number_of_epochs: epochs_PLACEHOLDER
lr: lr_PLACEHOLDER
`

// newTestEnv writes a template, a base model with two checkpoints and a
// three-fold sweep config. extra is appended to the config verbatim.
func newTestEnv(t *testing.T, extra string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:      dir,
		config:   filepath.Join(dir, "sweep.yaml"),
		template: filepath.Join(dir, "hparams", "base.yml"),
		target:   filepath.Join(dir, "hparams", "final.yml"),
		base:     filepath.Join(dir, "pretrained"),
		expRoot:  filepath.Join(dir, "exp"),
		db:       filepath.Join(dir, "ledger.db"),
	}

	require.NoError(t, os.MkdirAll(filepath.Dir(env.template), 0o755))
	require.NoError(t, os.WriteFile(env.template, []byte(testTemplate), 0o644))

	for _, name := range []string{"CKPT+2024-01-01+00-00-00+00", "CKPT+2024-02-01+00-00-00+00"} {
		ckpt := filepath.Join(env.base, "save", name)
		require.NoError(t, os.MkdirAll(ckpt, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(ckpt, "optimizer.ckpt"), []byte("o"), 0o644))
	}

	cfg := fmt.Sprintf(`experiment_root: %s
data_root: %s
base_model: %s
template: %s
target: %s
folds: 3
db: %s
%s`, env.expRoot, filepath.Join(dir, "data"), env.base, env.template, env.target, env.db, extra)
	require.NoError(t, os.WriteFile(env.config, []byte(cfg), 0o644))
	return env
}

// newTestCommand returns a bare command capturing stdout and stderr.
func newTestCommand() (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd, out, errOut
}

// executeRoot runs the full command tree with args.
func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
