package quaternion

import "gonum.org/v1/gonum/mat"

// Weights holds the four (in, out) component matrices of a quaternion
// weight matrix.
type Weights struct {
	R, I, J, K *mat.Dense
}

func (w Weights) component(c int) *mat.Dense {
	switch c {
	case 0:
		return w.R
	case 1:
		return w.I
	case 2:
		return w.J
	default:
		return w.K
	}
}

func (w Weights) dims() (in, out int) {
	return w.R.Dims()
}

func zeroWeights(in, out int) Weights {
	return Weights{
		R: mat.NewDense(in, out, nil),
		I: mat.NewDense(in, out, nil),
		J: mat.NewDense(in, out, nil),
		K: mat.NewDense(in, out, nil),
	}
}

// hamilton[a][b] says which weight component, and with which sign, maps
// input block a to output block b:
//
//	      out r  out i  out j  out k
//	in r   +r     +i     +j     +k
//	in i   -i     +r     +k     -j
//	in j   -j     -k     +r     +i
//	in k   -k     +j     -i     +r
var hamilton = [4][4]struct {
	comp int
	sign float64
}{
	{{0, 1}, {1, 1}, {2, 1}, {3, 1}},
	{{1, -1}, {0, 1}, {3, 1}, {2, -1}},
	{{2, -1}, {3, -1}, {0, 1}, {1, 1}},
	{{3, -1}, {2, 1}, {1, -1}, {0, 1}},
}

// Realization computes the quaternion product of a batch of rows with W and
// its gradients. x is (m, 4·in); Forward returns (m, 4·out) without bias.
type Realization interface {
	Forward(w Weights, x *mat.Dense) *mat.Dense
	Backward(w Weights, x, grad *mat.Dense) (dx *mat.Dense, dw Weights)
}

// Kernel builds the real (4·in, 4·out) matrix equivalent to w.
func Kernel(w Weights) *mat.Dense {
	in, out := w.dims()
	k := mat.NewDense(4*in, 4*out, nil)
	for a := range 4 {
		for b := range 4 {
			h := hamilton[a][b]
			blk := k.Slice(a*in, (a+1)*in, b*out, (b+1)*out).(*mat.Dense)
			blk.Scale(h.sign, w.component(h.comp))
		}
	}
	return k
}

// KernelRealization materializes the full kernel on every call.
type KernelRealization struct{}

// Forward computes x·Kernel(w).
func (KernelRealization) Forward(w Weights, x *mat.Dense) *mat.Dense {
	kern := Kernel(w)
	m, _ := x.Dims()
	_, cols := kern.Dims()
	y := mat.NewDense(m, cols, nil)
	y.Mul(x, kern)
	return y
}

// Backward computes the input gradient through the full kernel and folds
// the kernel gradient back onto the four components.
func (KernelRealization) Backward(w Weights, x, grad *mat.Dense) (*mat.Dense, Weights) {
	in, out := w.dims()
	kern := Kernel(w)

	m, _ := grad.Dims()
	dx := mat.NewDense(m, 4*in, nil)
	dx.Mul(grad, kern.T())

	dk := mat.NewDense(4*in, 4*out, nil)
	dk.Mul(x.T(), grad)

	dw := zeroWeights(in, out)
	for a := range 4 {
		for b := range 4 {
			h := hamilton[a][b]
			blk := dk.Slice(a*in, (a+1)*in, b*out, (b+1)*out)
			accumulate(dw.component(h.comp), h.sign, blk)
		}
	}
	return dx, dw
}

// BlockRealization never forms the kernel; it multiplies each input block
// by each weight component directly.
type BlockRealization struct{}

// Forward computes y_b = Σ_a ±x_a·W_c for each output block b.
func (BlockRealization) Forward(w Weights, x *mat.Dense) *mat.Dense {
	in, out := w.dims()
	m, _ := x.Dims()
	y := mat.NewDense(m, 4*out, nil)

	for b := range 4 {
		yb := y.Slice(0, m, b*out, (b+1)*out).(*mat.Dense)
		for a := range 4 {
			h := hamilton[a][b]
			xa := x.Slice(0, m, a*in, (a+1)*in)
			var p mat.Dense
			p.Mul(xa, w.component(h.comp))
			accumulate(yb, h.sign, &p)
		}
	}
	return y
}

// Backward applies dx_a = Σ_b ±g_b·W_cᵀ and dW_c = Σ ±x_aᵀ·g_b.
func (BlockRealization) Backward(w Weights, x, grad *mat.Dense) (*mat.Dense, Weights) {
	in, out := w.dims()
	m, _ := x.Dims()
	dx := mat.NewDense(m, 4*in, nil)
	dw := zeroWeights(in, out)

	for a := range 4 {
		xa := x.Slice(0, m, a*in, (a+1)*in)
		dxa := dx.Slice(0, m, a*in, (a+1)*in).(*mat.Dense)
		for b := range 4 {
			h := hamilton[a][b]
			gb := grad.Slice(0, m, b*out, (b+1)*out)

			var p mat.Dense
			p.Mul(gb, w.component(h.comp).T())
			accumulate(dxa, h.sign, &p)

			var q mat.Dense
			q.Mul(xa.T(), gb)
			accumulate(dw.component(h.comp), h.sign, &q)
		}
	}
	return dx, dw
}

// accumulate adds sign·src into dst.
func accumulate(dst *mat.Dense, sign float64, src mat.Matrix) {
	if sign < 0 {
		dst.Sub(dst, src)
		return
	}
	dst.Add(dst, src)
}

var (
	_ Realization = KernelRealization{}
	_ Realization = BlockRealization{}
)
