// Package testutil provides scripted stand-ins for the external processes
// and clocks a sweep depends on.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/roach88/foldsweep/internal/hparams"
	"github.com/roach88/foldsweep/internal/launcher"
)

// ScriptedLauncher returns predetermined exit codes per fold.
//
// Each launch of fold i consumes the next code from Codes[i]; once a fold's
// script is exhausted (or absent) launches exit 0.
//
// Thread-safety: ScriptedLauncher is safe for concurrent use via internal mutex.
type ScriptedLauncher struct {
	mu    sync.Mutex
	codes map[int][]int
	calls []launcher.Spec

	// OnLaunch, if set, runs before the exit code is returned.
	OnLaunch func(spec launcher.Spec)
}

// NewScriptedLauncher creates a launcher with the given per-fold scripts.
//
// Example:
//
//	l := NewScriptedLauncher(map[int][]int{3: {1, 1, 0}})
//	// fold 3 fails twice, then succeeds; every other fold succeeds first time
func NewScriptedLauncher(codes map[int][]int) *ScriptedLauncher {
	cp := make(map[int][]int, len(codes))
	for k, v := range codes {
		cp[k] = append([]int(nil), v...)
	}
	return &ScriptedLauncher{codes: cp}
}

// Launch records spec and returns the next scripted exit code for its fold.
func (l *ScriptedLauncher) Launch(ctx context.Context, spec launcher.Spec) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	l.calls = append(l.calls, spec)
	code := 0
	if script := l.codes[spec.Fold]; len(script) > 0 {
		code = script[0]
		l.codes[spec.Fold] = script[1:]
	}
	hook := l.OnLaunch
	l.mu.Unlock()

	if hook != nil {
		hook(spec)
	}
	return code, nil
}

// Calls returns every launch in order.
func (l *ScriptedLauncher) Calls() []launcher.Spec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]launcher.Spec(nil), l.calls...)
}

// Folds returns the fold index of every launch in order.
func (l *ScriptedLauncher) Folds() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int, len(l.calls))
	for i, c := range l.calls {
		out[i] = c.Fold
	}
	return out
}

// RecordingInstantiator renders folds in memory and counts calls.
//
// Thread-safety: RecordingInstantiator is safe for concurrent use via internal mutex.
type RecordingInstantiator struct {
	mu    sync.Mutex
	calls []hparams.Fold

	// Template is rendered for each fold. Defaults to a line per placeholder.
	Template string

	// Dir is reported as the directory of the rendered file.
	Dir string

	// FailFold, if non-zero, makes instantiation of that fold fail.
	FailFold int
}

// Instantiate records fold and renders it.
func (r *RecordingInstantiator) Instantiate(fold hparams.Fold) (hparams.Rendered, error) {
	r.mu.Lock()
	r.calls = append(r.calls, fold)
	r.mu.Unlock()

	if r.FailFold != 0 && fold.Index == r.FailFold {
		return hparams.Rendered{}, fmt.Errorf("instantiate fold %d: scripted failure", fold.Index)
	}

	tmpl := r.Template
	if tmpl == "" {
		for _, p := range hparams.Placeholders() {
			tmpl += p + "\n"
		}
	}
	text, err := fold.Render(tmpl)
	if err != nil {
		return hparams.Rendered{}, err
	}
	return hparams.Rendered{
		Path: filepath.Join(r.Dir, "finetune_final.yml"),
		Text: text,
		Hash: hparams.Hash(text),
	}, nil
}

// CallsFor returns how many times fold i was instantiated.
func (r *RecordingInstantiator) CallsFor(i int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.calls {
		if f.Index == i {
			n++
		}
	}
	return n
}

// Calls returns every instantiated fold in order.
func (r *RecordingInstantiator) Calls() []hparams.Fold {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]hparams.Fold(nil), r.calls...)
}

// SequentialPorts hands out consecutive port numbers from a base.
type SequentialPorts struct {
	mu   sync.Mutex
	next int
}

// NewSequentialPorts creates a port source starting at base.
func NewSequentialPorts(base int) *SequentialPorts {
	return &SequentialPorts{next: base}
}

// Acquire returns the next port.
func (p *SequentialPorts) Acquire() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	port := p.next
	p.next++
	return port, nil
}

// RecordingSleeper records requested waits without sleeping.
type RecordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

// Sleep records d and returns immediately unless ctx is done.
func (s *RecordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

// Delays returns every recorded wait in order.
func (s *RecordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// RecordingEvaluator records evaluation requests.
type RecordingEvaluator struct {
	mu    sync.Mutex
	calls [][2]string

	// Err is returned from every call.
	Err error
}

// Evaluate records (experimentRoot, mode).
func (e *RecordingEvaluator) Evaluate(ctx context.Context, experimentRoot, mode string) error {
	e.mu.Lock()
	e.calls = append(e.calls, [2]string{experimentRoot, mode})
	e.mu.Unlock()
	return e.Err
}

// Calls returns every (experimentRoot, mode) pair in order.
func (e *RecordingEvaluator) Calls() [][2]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][2]string(nil), e.calls...)
}

// FixedGenerator returns predetermined IDs for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined ID.
//
// Panics if all IDs have been consumed, to catch a test creating more runs
// than expected.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
