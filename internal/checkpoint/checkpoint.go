// Package checkpoint prepares per-fold output directories from a base
// pretrained model.
//
// A fold directory is seeded once by copying the base model tree and pruning
// it down to a single checkpoint with no optimizer state:
//
//	<fold>/save/CKPT+2024-01-01+10-00-00+00   deleted
//	<fold>/save/CKPT+2024-03-09+18-41-07+00   kept (lexicographically latest)
//	<fold>/save/CKPT+2024-03-09+18-41-07+00/optimizer.ckpt   deleted
//
// Stripping the optimizer is irreversible: training restarts from the model
// weights with a fresh optimizer.
package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// SaveDir is the checkpoint root inside a model directory.
	SaveDir = "save"
	// Prefix marks checkpoint directories inside SaveDir.
	Prefix = "CKPT"
	// OptimizerFile is the optimizer state removed from the retained checkpoint.
	OptimizerFile = "optimizer.ckpt"
)

// Result describes what Prune did.
type Result struct {
	Kept             string   `json:"kept,omitempty"`
	Deleted          []string `json:"deleted,omitempty"`
	OptimizerRemoved bool     `json:"optimizer_removed"`
}

// Seed copies baseModel into dst if dst does not exist yet, then prunes it.
// Returns seeded=false without touching anything when dst already exists.
//
// The tree is assembled in a hidden sibling directory and renamed into
// place only once copied and pruned, so a failed seed leaves no dst behind
// and the next attempt seeds again.
func Seed(logger *slog.Logger, baseModel, dst string) (seeded bool, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Stat(dst); err == nil {
		logger.Debug("fold directory exists, skipping seed", "dir", dst)
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat fold dir: %w", err)
	}

	parent := filepath.Dir(dst)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return false, fmt.Errorf("create experiment root: %w", err)
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(dst)+".seed-")
	if err != nil {
		return false, fmt.Errorf("create staging dir: %w", err)
	}
	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(tmp); rmErr != nil {
				logger.Warn("failed to remove staging dir", "dir", tmp, "error", rmErr)
			}
		}
	}()

	logger.Info("seeding fold directory", "base_model", baseModel, "dir", dst)
	if err := CopyTree(baseModel, tmp); err != nil {
		return false, fmt.Errorf("seed %s: %w", dst, err)
	}
	if _, err := Prune(logger, tmp); err != nil {
		return false, fmt.Errorf("seed %s: %w", dst, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return false, fmt.Errorf("seed %s: %w", dst, err)
	}
	return true, nil
}

// Prune keeps only the latest checkpoint under dir/save and removes its
// optimizer state. A missing save directory or an empty one is logged and
// treated as success. Prune is idempotent.
func Prune(logger *slog.Logger, dir string) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	saveDir, err := filepath.Abs(filepath.Join(dir, SaveDir))
	if err != nil {
		return Result{}, fmt.Errorf("resolve save dir: %w", err)
	}

	entries, err := os.ReadDir(saveDir)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("no save directory found", "dir", saveDir)
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("read save dir: %w", err)
	}

	var ckpts []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), Prefix) {
			ckpts = append(ckpts, e.Name())
		}
	}
	if len(ckpts) == 0 {
		logger.Warn("no checkpoints found", "dir", saveDir)
		return Result{}, nil
	}

	// Names embed a year-to-second timestamp, so byte order is time order.
	sort.Sort(sort.Reverse(sort.StringSlice(ckpts)))

	res := Result{Kept: ckpts[0]}
	logger.Info("retaining latest checkpoint", "ckpt", res.Kept)

	for _, name := range ckpts[1:] {
		if err := os.RemoveAll(filepath.Join(saveDir, name)); err != nil {
			return res, fmt.Errorf("remove checkpoint %s: %w", name, err)
		}
		logger.Info("deleted checkpoint", "ckpt", name)
		res.Deleted = append(res.Deleted, name)
	}

	optim := filepath.Join(saveDir, res.Kept, OptimizerFile)
	switch err := os.Remove(optim); {
	case err == nil:
		res.OptimizerRemoved = true
		logger.Debug("removed optimizer state", "path", optim)
	case errors.Is(err, fs.ErrNotExist):
	default:
		return res, fmt.Errorf("remove optimizer state: %w", err)
	}

	return res, nil
}

// CopyTree recursively copies src into dst. Symlinks are followed and
// their targets copied, so the copy shares no files with src; dangling links
// are skipped. Directories get the source mode plus owner rwx, so a copy of
// a read-only model can still be written and pruned. File modes are kept.
func CopyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat base model: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("base model %s is not a directory", src)
	}
	return copyDir(src, dst, info, make(map[string]bool))
}

// copyDir copies the directory src; active holds the resolved paths of the
// directories being copied above it, to stop on link cycles.
func copyDir(src, dst string, info fs.FileInfo, active map[string]bool) error {
	resolved, err := filepath.EvalSymlinks(src)
	if err != nil {
		return err
	}
	if active[resolved] {
		return fmt.Errorf("symlink cycle at %s", src)
	}
	active[resolved] = true
	defer delete(active, resolved)

	perm := info.Mode().Perm() | 0o700
	if err := os.MkdirAll(dst, perm); err != nil {
		return err
	}
	if err := os.Chmod(dst, perm); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		path := filepath.Join(src, e.Name())
		target := filepath.Join(dst, e.Name())

		fi, err := os.Stat(path)
		if err != nil {
			if e.Type()&fs.ModeSymlink != 0 && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}

		switch {
		case fi.IsDir():
			err = copyDir(path, target, fi, active)
		case fi.Mode().IsRegular():
			err = copyFile(path, target, fi.Mode().Perm())
		default:
			err = fmt.Errorf("copy %s: unsupported file type %s", path, fi.Mode().Type())
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func copyFile(path, target string, perm fs.FileMode) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
