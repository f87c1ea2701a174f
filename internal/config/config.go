// Package config loads and validates sweep configuration files.
//
// A sweep file is YAML. Missing keys take the values of Default; the merged
// result is then checked against an embedded CUE schema, so range errors
// (a loss weight of 1.5, zero epochs) are reported with their path before
// any fold is touched.
//
//	experiment_root: /exp/mtl
//	data_root: /data/Fridriksson_para_best_Word
//	base_model: /models/pretrained
//	template: hparams/finetune_Scripts_base.yml
//	target: hparams/finetune_Scripts_final.yml
//	hparams:
//	  loss_asr_weight: 0.5
//	retry:
//	  max_attempts: 5
//	  initial_backoff: 30s
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/foldsweep/internal/hparams"
	"github.com/roach88/foldsweep/internal/launcher"
	"github.com/roach88/foldsweep/internal/retry"
)

//go:embed schema.cue
var schemaCUE string

// Sweep is the complete configuration of a fold sweep.
type Sweep struct {
	ExperimentRoot string `yaml:"experiment_root" json:"experiment_root"`
	DataRoot       string `yaml:"data_root" json:"data_root"`
	BaseModel      string `yaml:"base_model" json:"base_model"`
	Template       string `yaml:"template" json:"template"`
	Target         string `yaml:"target" json:"target"`
	Folds          int    `yaml:"folds" json:"folds"`
	Device         string `yaml:"device" json:"device"`
	DB             string `yaml:"db" json:"db"`

	Train   Train   `yaml:"train" json:"train"`
	Eval    Eval    `yaml:"eval" json:"eval"`
	HParams HParams `yaml:"hparams" json:"hparams"`
	Retry   Retry   `yaml:"retry" json:"retry"`
}

// Train configures the training process.
type Train struct {
	Command []string `yaml:"command" json:"command"`
	Script  string   `yaml:"script" json:"script"`
	Workdir string   `yaml:"workdir" json:"workdir"`
	LogDir  string   `yaml:"log_dir" json:"log_dir"`
}

// Eval configures the evaluation aggregator.
type Eval struct {
	Command []string `yaml:"command" json:"command"`
	Mode    string   `yaml:"mode" json:"mode"`
}

// HParams holds the values substituted into the template.
type HParams struct {
	TrainFlag     bool    `yaml:"train_flag" json:"train_flag"`
	ResetLR       bool    `yaml:"reset_lr" json:"reset_lr"`
	Epochs        int     `yaml:"epochs" json:"epochs"`
	OutputNeurons int     `yaml:"output_neurons" json:"output_neurons"`
	LR            float64 `yaml:"lr" json:"lr"`
	FreezeArch    bool    `yaml:"freeze_arch" json:"freeze_arch"`
	LossASRWeight float64 `yaml:"loss_asr_weight" json:"loss_asr_weight"`
}

// Retry configures the per-fold retry policy. MaxAttempts 0 is unbounded.
type Retry struct {
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" json:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier" json:"multiplier"`
}

// Default returns the configuration of the reference fine-tuning sweep,
// with the four paths left empty.
func Default() Sweep {
	return Sweep{
		Template: "hparams/finetune_Scripts_base.yml",
		Target:   "hparams/finetune_Scripts_final.yml",
		Folds:    12,
		Device:   "0",
		Train: Train{
			Command: append([]string(nil), launcher.DefaultTrainCommand...),
			Script:  "train_multi-seq.py",
		},
		Eval: Eval{
			Command: append([]string(nil), launcher.DefaultEvalCommand...),
			Mode:    launcher.ModeMultiTask,
		},
		HParams: HParams{
			TrainFlag:     false,
			ResetLR:       true,
			Epochs:        120,
			OutputNeurons: 500,
			LR:            5.0e-4,
			FreezeArch:    false,
			LossASRWeight: 0.5,
		},
		Retry: Retry{
			Multiplier: 2,
			MaxBackoff: 10 * time.Minute,
		},
	}
}

// Load reads a sweep file, applies defaults and validates the result.
func Load(path string) (Sweep, error) {
	cfg, err := Read(path)
	if err != nil {
		return Sweep{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Sweep{}, err
	}
	return cfg, nil
}

// Read reads a sweep file and applies defaults without validating, so
// callers can apply overrides first.
func Read(path string) (Sweep, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Sweep{}, fmt.Errorf("read config: %w", err)
	}
	return Decode(raw)
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (Sweep, error) {
	cfg, err := Decode(data)
	if err != nil {
		return Sweep{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Sweep{}, err
	}
	return cfg, nil
}

// Decode decodes YAML over Default. Unknown keys are rejected.
func Decode(data []byte) (Sweep, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty document decodes to io.EOF and leaves the defaults in place.
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Sweep{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// ValidationError is a schema violation at a configuration path.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// ValidationErrors collects every schema violation of one configuration.
type ValidationErrors []ValidationError

func (es ValidationErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Validate checks cfg against the embedded schema.
// Returns ValidationErrors when the configuration is rejected.
func (cfg Sweep) Validate() error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	value := ctx.CompileBytes(data, cue.Filename("sweep.json"))
	if err := value.Err(); err != nil {
		return fmt.Errorf("compile config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Sweep")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return toValidationErrors(err)
	}

	return cfg.Retry.Policy().Validate()
}

func toValidationErrors(err error) ValidationErrors {
	var out ValidationErrors
	seen := make(map[string]bool)
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		}
		if key := ve.Error(); !seen[key] {
			seen[key] = true
			out = append(out, ve)
		}
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

// Params returns the hyperparameter values shared by all folds.
func (cfg Sweep) Params() hparams.Params {
	return hparams.Params{
		DataRoot:       cfg.DataRoot,
		ExperimentRoot: cfg.ExperimentRoot,
		TrainFlag:      cfg.HParams.TrainFlag,
		ResetLR:        cfg.HParams.ResetLR,
		Epochs:         cfg.HParams.Epochs,
		OutputNeurons:  cfg.HParams.OutputNeurons,
		LR:             cfg.HParams.LR,
		FreezeArch:     cfg.HParams.FreezeArch,
		LossASRWeight:  cfg.HParams.LossASRWeight,
	}
}

// Policy converts the retry section to a retry.Policy.
func (r Retry) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    r.MaxAttempts,
		InitialBackoff: r.InitialBackoff,
		MaxBackoff:     r.MaxBackoff,
		Multiplier:     r.Multiplier,
	}
}

// Summary flattens the fields worth recording with a run.
func (cfg Sweep) Summary() map[string]string {
	return map[string]string{
		"data_root":       cfg.DataRoot,
		"base_model":      cfg.BaseModel,
		"template":        cfg.Template,
		"device":          cfg.Device,
		"epochs":          fmt.Sprint(cfg.HParams.Epochs),
		"output_neurons":  fmt.Sprint(cfg.HParams.OutputNeurons),
		"lr":              fmt.Sprint(cfg.HParams.LR),
		"freeze_arch":     fmt.Sprint(cfg.HParams.FreezeArch),
		"loss_asr_weight": fmt.Sprint(cfg.HParams.LossASRWeight),
		"max_attempts":    fmt.Sprint(cfg.Retry.MaxAttempts),
	}
}
