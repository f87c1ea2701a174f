package quaternion

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func randomTensor(rng *rand.Rand, shape ...int) Tensor {
	t := Zeros(shape...)
	for i := range t.Data {
		t.Data[i] = rng.Float64()
	}
	return t
}

func TestNewLinear_OutputShape(t *testing.T) {
	for _, autograd := range []bool{true, false} {
		cfg := DefaultConfig(100)
		cfg.Autograd = autograd
		cfg.Seed = 1

		lin, err := NewLinear([]int{10, 50, 40}, cfg)
		require.NoError(t, err)
		assert.Equal(t, 10, lin.InFeatures())
		assert.Equal(t, 100, lin.OutFeatures())

		y, err := lin.Forward(randomTensor(rand.New(rand.NewPCG(1, 2)), 10, 50, 40))
		require.NoError(t, err)
		assert.Equal(t, []int{10, 50, 400}, y.Shape)
		assert.Len(t, y.Data, 10*50*400)
	}
}

func TestNewLinear_RejectsIndivisibleInput(t *testing.T) {
	_, err := NewLinear([]int{10, 41}, DefaultConfig(100))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNewLinear_InvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		shape []int
		cfg   Config
	}{
		{"zero neurons", []int{8}, Config{NNeurons: 0}},
		{"empty shape", nil, DefaultConfig(2)},
		{"zero dimension", []int{0, 8}, DefaultConfig(2)},
		{"unknown criterion", []int{8}, Config{NNeurons: 2, InitCriterion: "xavier"}},
		{"unknown weight init", []int{8}, Config{NNeurons: 2, WeightInit: "orthogonal"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLinear(tt.shape, tt.cfg)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestForward_RejectsMismatchedInput(t *testing.T) {
	lin, err := NewLinear([]int{3, 8}, DefaultConfig(2))
	require.NoError(t, err)

	_, err = lin.Forward(Zeros(3, 12))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = lin.Forward(Zeros(3, 9))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = lin.Forward(Tensor{Shape: []int{3, 8}, Data: make([]float64, 5)})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestForward_AcceptsAnyLeadingShape(t *testing.T) {
	lin, err := NewLinear([]int{8}, Config{NNeurons: 3, Seed: 7})
	require.NoError(t, err)

	for _, shape := range [][]int{{8}, {2, 8}, {2, 3, 8}, {2, 1, 3, 8}} {
		y, err := lin.Forward(Zeros(shape...))
		require.NoError(t, err)
		want := append(append([]int(nil), shape[:len(shape)-1]...), 12)
		assert.Equal(t, want, y.Shape)
	}
}

func TestForward_HamiltonProduct(t *testing.T) {
	for _, r := range []Realization{KernelRealization{}, BlockRealization{}} {
		lin, err := NewLinear([]int{4}, Config{NNeurons: 1, Seed: 1})
		require.NoError(t, err)
		lin = lin.WithRealization(r)

		lin.W.R.Set(0, 0, 1)
		lin.W.I.Set(0, 0, 2)
		lin.W.J.Set(0, 0, 3)
		lin.W.K.Set(0, 0, 4)

		x, err := NewTensor([]int{4}, []float64{5, 6, 7, 8})
		require.NoError(t, err)

		y, err := lin.Forward(x)
		require.NoError(t, err)

		// (1 + 2i + 3j + 4k)(5 + 6i + 7j + 8k)
		assert.InDeltaSlice(t, []float64{-60, 12, 30, 24}, y.Data, 1e-12)
	}
}

func TestForward_AddsBias(t *testing.T) {
	lin, err := NewLinear([]int{2, 4}, DefaultConfig(1))
	require.NoError(t, err)
	require.Len(t, lin.Bias, 4)
	assert.Equal(t, []float64{0, 0, 0, 0}, lin.Bias)

	copy(lin.Bias, []float64{1, 2, 3, 4})
	y, err := lin.Forward(Zeros(2, 4))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 1, 2, 3, 4}, y.Data)

	nobias, err := NewLinear([]int{4}, Config{NNeurons: 1})
	require.NoError(t, err)
	assert.Nil(t, nobias.Bias)
}

func TestRealizations_Equivalent(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	lin, err := NewLinear([]int{6, 20}, Config{NNeurons: 7, Bias: true, Seed: 11})
	require.NoError(t, err)
	for i := range lin.Bias {
		lin.Bias[i] = rng.NormFloat64()
	}

	x := randomTensor(rng, 6, 20)
	g := randomTensor(rng, 6, 28)

	kern := lin.WithRealization(KernelRealization{})
	blk := lin.WithRealization(BlockRealization{})

	yk, err := kern.Forward(x)
	require.NoError(t, err)
	yb, err := blk.Forward(x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, yk.Data, yb.Data, 1e-9)

	gk, err := kern.Backward(x, g)
	require.NoError(t, err)
	gb, err := blk.Backward(x, g)
	require.NoError(t, err)

	assert.InDeltaSlice(t, gk.Input.Data, gb.Input.Data, 1e-9)
	assert.InDeltaSlice(t, gk.Bias, gb.Bias, 1e-9)
	for c := range 4 {
		assert.True(t, mat.EqualApprox(gk.W.component(c), gb.W.component(c), 1e-9), "component %d", c)
	}
}

func TestKernel_MatchesBlockLayout(t *testing.T) {
	w := zeroWeights(1, 1)
	w.R.Set(0, 0, 1)
	w.I.Set(0, 0, 2)
	w.J.Set(0, 0, 3)
	w.K.Set(0, 0, 4)

	want := mat.NewDense(4, 4, []float64{
		1, 2, 3, 4,
		-2, 1, 4, -3,
		-3, -4, 1, 2,
		-4, 3, -2, 1,
	})
	assert.True(t, mat.Equal(want, Kernel(w)))
}

// loss is Σ y·c, so dloss/dy = c.
func loss(t *testing.T, l *Linear, x Tensor, c []float64) float64 {
	t.Helper()
	y, err := l.Forward(x)
	require.NoError(t, err)
	var s float64
	for i, v := range y.Data {
		s += v * c[i]
	}
	return s
}

func TestBackward_FiniteDifference(t *testing.T) {
	const h = 1e-6
	rng := rand.New(rand.NewPCG(5, 6))

	for _, r := range []Realization{KernelRealization{}, BlockRealization{}} {
		base, err := NewLinear([]int{3, 8}, Config{NNeurons: 2, Bias: true, Seed: 9})
		require.NoError(t, err)
		lin := base.WithRealization(r)

		x := randomTensor(rng, 3, 8)
		c := randomTensor(rng, 3, 8)
		grads, err := lin.Backward(x, c)
		require.NoError(t, err)

		for i := range x.Data {
			orig := x.Data[i]
			x.Data[i] = orig + h
			up := loss(t, lin, x, c.Data)
			x.Data[i] = orig - h
			down := loss(t, lin, x, c.Data)
			x.Data[i] = orig
			assert.InDelta(t, (up-down)/(2*h), grads.Input.Data[i], 1e-6, "dx[%d]", i)
		}

		for comp := range 4 {
			wc := lin.W.component(comp)
			rows, cols := wc.Dims()
			for a := range rows {
				for b := range cols {
					orig := wc.At(a, b)
					wc.Set(a, b, orig+h)
					up := loss(t, lin, x, c.Data)
					wc.Set(a, b, orig-h)
					down := loss(t, lin, x, c.Data)
					wc.Set(a, b, orig)
					assert.InDelta(t, (up-down)/(2*h), grads.W.component(comp).At(a, b), 1e-6, "dW[%d][%d,%d]", comp, a, b)
				}
			}
		}

		for i := range lin.Bias {
			orig := lin.Bias[i]
			lin.Bias[i] = orig + h
			up := loss(t, lin, x, c.Data)
			lin.Bias[i] = orig - h
			down := loss(t, lin, x, c.Data)
			lin.Bias[i] = orig
			assert.InDelta(t, (up-down)/(2*h), grads.Bias[i], 1e-6, "db[%d]", i)
		}
	}
}

func TestBackward_RejectsMismatchedGradient(t *testing.T) {
	lin, err := NewLinear([]int{2, 4}, DefaultConfig(3))
	require.NoError(t, err)

	_, err = lin.Backward(Zeros(2, 4), Zeros(2, 8))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestInit_SeedIsReproducible(t *testing.T) {
	a, err := NewLinear([]int{16}, Config{NNeurons: 5, Seed: 42})
	require.NoError(t, err)
	b, err := NewLinear([]int{16}, Config{NNeurons: 5, Seed: 42})
	require.NoError(t, err)
	c, err := NewLinear([]int{16}, Config{NNeurons: 5, Seed: 43})
	require.NoError(t, err)

	assert.True(t, mat.Equal(Kernel(a.W), Kernel(b.W)))
	assert.False(t, mat.Equal(Kernel(a.W), Kernel(c.W)))
}

func TestInit_Unitary(t *testing.T) {
	lin, err := NewLinear([]int{40}, Config{NNeurons: 20, WeightInit: InitUnitary, Seed: 3})
	require.NoError(t, err)

	for a := range 10 {
		for b := range 20 {
			r, i, j, k := lin.W.R.At(a, b), lin.W.I.At(a, b), lin.W.J.At(a, b), lin.W.K.At(a, b)
			assert.InDelta(t, 1.0, math.Sqrt(r*r+i*i+j*j+k*k), 1e-2)
		}
	}
}

func TestInit_QuaternionVarianceScale(t *testing.T) {
	// E[chi(4)^2] = 4, so the mean squared modulus is 4·s².
	const in, out = 64, 64
	for _, tc := range []struct {
		crit InitCriterion
		s    float64
	}{
		{Glorot, 1 / math.Sqrt(2*(in+out))},
		{He, 1 / math.Sqrt(2*in)},
	} {
		lin, err := NewLinear([]int{4 * in}, Config{NNeurons: out, InitCriterion: tc.crit, Seed: 8})
		require.NoError(t, err)

		var sum float64
		for a := range in {
			for b := range out {
				r, i, j, k := lin.W.R.At(a, b), lin.W.I.At(a, b), lin.W.J.At(a, b), lin.W.K.At(a, b)
				sum += r*r + i*i + j*j + k*k
			}
		}
		mean := sum / (in * out)
		assert.InEpsilon(t, 4*tc.s*tc.s, mean, 0.1, "criterion %s", tc.crit)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig(100)
	assert.Equal(t, 100, cfg.NNeurons)
	assert.True(t, cfg.Bias)
	assert.True(t, cfg.Autograd)
	assert.Equal(t, Glorot, cfg.InitCriterion)
	assert.Equal(t, InitQuaternion, cfg.WeightInit)

	lin, err := NewLinear([]int{8}, cfg)
	require.NoError(t, err)
	assert.IsType(t, KernelRealization{}, lin.Realization())

	cfg.Autograd = false
	lin, err = NewLinear([]int{8}, cfg)
	require.NoError(t, err)
	assert.IsType(t, BlockRealization{}, lin.Realization())
}
