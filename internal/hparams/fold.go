package hparams

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Placeholder tokens recognised in hyperparameter templates.
const (
	PlaceholderDataDir       = "data_dir_PLACEHOLDER"
	PlaceholderTrainFlag     = "train_flag_PLACEHOLDER"
	PlaceholderResetLR       = "FT_start_PLACEHOLDER"
	PlaceholderEpochs        = "epochs_PLACEHOLDER"
	PlaceholderFold          = "frid_fold_PLACEHOLDER"
	PlaceholderOutput        = "output_PLACEHOLDER"
	PlaceholderOutputNeurons = "output_neurons_PLACEHOLDER"
	PlaceholderLR            = "lr_PLACEHOLDER"
	PlaceholderFreezeArch    = "freeze_ARCH_PLACEHOLDER"
	PlaceholderLossASRWeight = "loss_asr_weight_PLACEHOLDER"
)

// DomainHParams prefixes the content hash of rendered files.
const DomainHParams = "foldsweep/hparams/v1"

// ErrUnresolvedPlaceholder is returned when rendered text still contains a
// placeholder token.
var ErrUnresolvedPlaceholder = errors.New("unresolved placeholder")

var placeholderPattern = regexp.MustCompile(`[A-Za-z0-9_]+_PLACEHOLDER`)

// Params holds the run-wide values shared by every fold.
type Params struct {
	DataRoot       string
	ExperimentRoot string
	TrainFlag      bool
	ResetLR        bool
	Epochs         int
	OutputNeurons  int
	LR             float64
	FreezeArch     bool
	LossASRWeight  float64
}

// Fold is the hyperparameter set of a single fold.
// Values are copied in; a Fold is never mutated after ForFold returns it.
type Fold struct {
	Index         int
	DataDir       string
	TrainFlag     bool
	ResetLR       bool
	Epochs        int
	OutputDir     string
	OutputNeurons int
	LR            float64
	FreezeArch    bool
	LossASRWeight float64
}

// ForFold derives the configuration of fold i.
func (p Params) ForFold(i int) Fold {
	return Fold{
		Index:         i,
		DataDir:       DataDir(p.DataRoot, i),
		TrainFlag:     p.TrainFlag,
		ResetLR:       p.ResetLR,
		Epochs:        p.Epochs,
		OutputDir:     FoldDir(p.ExperimentRoot, i),
		OutputNeurons: p.OutputNeurons,
		LR:            p.LR,
		FreezeArch:    p.FreezeArch,
		LossASRWeight: p.LossASRWeight,
	}
}

// FoldDir returns the output directory of fold i under the experiment root.
func FoldDir(experimentRoot string, i int) string {
	return filepath.Join(experimentRoot, fmt.Sprintf("Fold-%d", i))
}

// DataDir returns the data directory of fold i under the data root.
func DataDir(dataRoot string, i int) string {
	return filepath.Join(dataRoot, fmt.Sprintf("Fold_%d", i))
}

// Values returns the placeholder substitutions for this fold.
func (f Fold) Values() map[string]string {
	return map[string]string{
		PlaceholderDataDir:       f.DataDir,
		PlaceholderTrainFlag:     formatBool(f.TrainFlag),
		PlaceholderResetLR:       formatBool(f.ResetLR),
		PlaceholderEpochs:        strconv.Itoa(f.Epochs),
		PlaceholderFold:          strconv.Itoa(f.Index),
		PlaceholderOutput:        f.OutputDir,
		PlaceholderOutputNeurons: strconv.Itoa(f.OutputNeurons),
		PlaceholderLR:            formatFloat(f.LR),
		PlaceholderFreezeArch:    formatBool(f.FreezeArch),
		PlaceholderLossASRWeight: formatFloat(f.LossASRWeight),
	}
}

// Render substitutes every placeholder in template.
// Substitution is a single pass: text produced by a value is never rescanned.
func (f Fold) Render(template string) (string, error) {
	values := f.Values()
	pairs := make([]string, 0, 2*len(values))
	for _, token := range Placeholders() {
		pairs = append(pairs, token, values[token])
	}
	out := strings.NewReplacer(pairs...).Replace(template)

	if left := Unresolved(out); len(left) > 0 {
		return "", fmt.Errorf("fold %d: %w: %s", f.Index, ErrUnresolvedPlaceholder, strings.Join(left, ", "))
	}
	return out, nil
}

// Rendered is the outcome of writing a fold's hyperparameter file.
type Rendered struct {
	Path string
	Text string
	Hash string
}

// Instantiate renders the template file at templatePath and writes the result
// to targetPath, replacing any previous content.
func (f Fold) Instantiate(templatePath, targetPath string) (Rendered, error) {
	raw, err := os.ReadFile(templatePath)
	if err != nil {
		return Rendered{}, fmt.Errorf("read template: %w", err)
	}

	text, err := f.Render(string(raw))
	if err != nil {
		return Rendered{}, err
	}

	if dir := filepath.Dir(targetPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Rendered{}, fmt.Errorf("create target dir: %w", err)
		}
	}
	if err := os.WriteFile(targetPath, []byte(text), 0o644); err != nil {
		return Rendered{}, fmt.Errorf("write hparams: %w", err)
	}

	return Rendered{Path: targetPath, Text: text, Hash: Hash(text)}, nil
}

// Placeholders lists every token Render substitutes, in substitution order.
func Placeholders() []string {
	return []string{
		PlaceholderDataDir,
		PlaceholderTrainFlag,
		PlaceholderResetLR,
		PlaceholderEpochs,
		PlaceholderFold,
		PlaceholderOutput,
		PlaceholderOutputNeurons,
		PlaceholderLR,
		PlaceholderFreezeArch,
		PlaceholderLossASRWeight,
	}
}

// Unresolved returns the distinct placeholder tokens present in text,
// in order of first appearance.
func Unresolved(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllString(text, -1) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// Hash computes the content address of rendered hyperparameter text.
// Format: hex(SHA256(domain + 0x00 + NFC(text)))
func Hash(text string) string {
	h := sha256.New()
	h.Write([]byte(DomainHParams))
	h.Write([]byte{0x00})
	h.Write(norm.NFC.Bytes([]byte(text)))
	return hex.EncodeToString(h.Sum(nil))
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// formatFloat mirrors the shortest round-trip repr the hyperparameter loader
// was written against: decimal notation between 1e-4 and 1e16, exponent
// notation outside it, and a trailing ".0" on integral values.
func formatFloat(v float64) string {
	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
