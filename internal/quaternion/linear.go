package quaternion

import (
	"fmt"
	"slices"
)

// Config configures a Linear layer.
type Config struct {
	// NNeurons is the number of output quaternions; output width is 4·NNeurons.
	NNeurons int

	// Bias adds a learned 4·NNeurons offset, initialised to zero.
	Bias bool

	// InitCriterion defaults to Glorot.
	InitCriterion InitCriterion

	// WeightInit defaults to InitQuaternion.
	WeightInit WeightInit

	// Autograd selects KernelRealization; false selects BlockRealization.
	Autograd bool

	// Seed makes init reproducible. Zero seeds from the runtime source.
	Seed uint64
}

// DefaultConfig returns a biased, glorot-initialised layer config.
func DefaultConfig(nNeurons int) Config {
	return Config{
		NNeurons:      nNeurons,
		Bias:          true,
		InitCriterion: Glorot,
		WeightInit:    InitQuaternion,
		Autograd:      true,
	}
}

// Linear is a quaternion-valued fully connected layer.
type Linear struct {
	in, out int
	impl    Realization

	// W holds the (in, out) weight components.
	W Weights

	// Bias has length 4·out, or is nil when the layer has no bias.
	Bias []float64
}

// Gradients of a scalar loss with respect to a Linear's input and parameters.
type Gradients struct {
	Input Tensor
	W     Weights
	Bias  []float64
}

// NewLinear builds a layer for inputs shaped like inputShape, whose
// trailing dimension must be divisible by 4.
func NewLinear(inputShape []int, cfg Config) (*Linear, error) {
	if err := checkQuaternionShape(inputShape); err != nil {
		return nil, err
	}
	if cfg.NNeurons <= 0 {
		return nil, fmt.Errorf("%w: n_neurons must be positive, got %d", ErrInvalidInput, cfg.NNeurons)
	}
	if cfg.InitCriterion == "" {
		cfg.InitCriterion = Glorot
	}
	if cfg.WeightInit == "" {
		cfg.WeightInit = InitQuaternion
	}

	in := inputShape[len(inputShape)-1] / 4
	w, err := initWeights(in, cfg.NNeurons, cfg.InitCriterion, cfg.WeightInit, newRand(cfg.Seed))
	if err != nil {
		return nil, err
	}

	l := &Linear{in: in, out: cfg.NNeurons, W: w, impl: BlockRealization{}}
	if cfg.Autograd {
		l.impl = KernelRealization{}
	}
	if cfg.Bias {
		l.Bias = make([]float64, 4*cfg.NNeurons)
	}
	return l, nil
}

// InFeatures is the number of input quaternions.
func (l *Linear) InFeatures() int { return l.in }

// OutFeatures is the number of output quaternions.
func (l *Linear) OutFeatures() int { return l.out }

// Realization reports which product implementation the layer uses.
func (l *Linear) Realization() Realization { return l.impl }

// WithRealization returns a copy of l sharing its parameters but using r.
func (l *Linear) WithRealization(r Realization) *Linear {
	cp := *l
	cp.impl = r
	return &cp
}

// Forward maps x of shape [..., 4·in] to [..., 4·out].
func (l *Linear) Forward(x Tensor) (Tensor, error) {
	if err := l.checkInput(x); err != nil {
		return Tensor{}, err
	}

	y := l.impl.Forward(l.W, x.matrix())
	if l.Bias != nil {
		rows, _ := y.Dims()
		for r := range rows {
			row := y.RawRowView(r)
			for c, b := range l.Bias {
				row[c] += b
			}
		}
	}
	return fromMatrix(x.Shape[:len(x.Shape)-1], y), nil
}

// Backward returns the gradients given the layer input x and the gradient
// of the loss with respect to the layer output.
func (l *Linear) Backward(x, gradOut Tensor) (Gradients, error) {
	if err := l.checkInput(x); err != nil {
		return Gradients{}, err
	}
	want := append(append([]int(nil), x.Shape[:len(x.Shape)-1]...), 4*l.out)
	if n, _ := volume(want); !slices.Equal(gradOut.Shape, want) || len(gradOut.Data) != n {
		return Gradients{}, fmt.Errorf("%w: output gradient shape %v, want %v", ErrInvalidInput, gradOut.Shape, want)
	}

	g := gradOut.matrix()
	dx, dw := l.impl.Backward(l.W, x.matrix(), g)

	grads := Gradients{Input: fromMatrix(x.Shape[:len(x.Shape)-1], dx), W: dw}
	if l.Bias != nil {
		grads.Bias = make([]float64, 4*l.out)
		rows, _ := g.Dims()
		for r := range rows {
			for c, v := range g.RawRowView(r) {
				grads.Bias[c] += v
			}
		}
	}
	return grads, nil
}

func (l *Linear) checkInput(x Tensor) error {
	if err := checkQuaternionShape(x.Shape); err != nil {
		return err
	}
	if x.Last() != 4*l.in {
		return fmt.Errorf("%w: trailing dimension %d, layer expects %d", ErrInvalidInput, x.Last(), 4*l.in)
	}
	if n, _ := volume(x.Shape); n != len(x.Data) {
		return fmt.Errorf("%w: shape %v needs %d values, got %d", ErrInvalidInput, x.Shape, n, len(x.Data))
	}
	return nil
}
