package quaternion

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrInvalidInput is wrapped by every shape or configuration error.
var ErrInvalidInput = errors.New("quaternion: invalid input")

// Tensor is a dense row-major array of float64.
type Tensor struct {
	Shape []int
	Data  []float64
}

// NewTensor checks that data fills shape exactly.
func NewTensor(shape []int, data []float64) (Tensor, error) {
	n, err := volume(shape)
	if err != nil {
		return Tensor{}, err
	}
	if n != len(data) {
		return Tensor{}, fmt.Errorf("%w: shape %v needs %d values, got %d", ErrInvalidInput, shape, n, len(data))
	}
	return Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Zeros allocates a zero tensor.
func Zeros(shape ...int) Tensor {
	n, err := volume(shape)
	if err != nil {
		panic(err)
	}
	return Tensor{Shape: append([]int(nil), shape...), Data: make([]float64, n)}
}

// Last returns the trailing dimension, or 0 for a scalar.
func (t Tensor) Last() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[len(t.Shape)-1]
}

// matrix views t as (rows, Last()) without copying.
func (t Tensor) matrix() *mat.Dense {
	cols := t.Last()
	return mat.NewDense(len(t.Data)/cols, cols, t.Data)
}

// fromMatrix reshapes m back to lead dims followed by m's column count.
func fromMatrix(lead []int, m *mat.Dense) Tensor {
	_, c := m.Dims()
	shape := append(append([]int(nil), lead...), c)
	return Tensor{Shape: shape, Data: m.RawMatrix().Data}
}

func volume(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("%w: empty shape", ErrInvalidInput)
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("%w: non-positive dimension in shape %v", ErrInvalidInput, shape)
		}
		n *= d
	}
	return n, nil
}

// checkQuaternionShape reports whether the trailing dimension of shape can
// be split into four component blocks.
func checkQuaternionShape(shape []int) error {
	if _, err := volume(shape); err != nil {
		return err
	}
	last := shape[len(shape)-1]
	if last%4 != 0 {
		return fmt.Errorf("%w: trailing dimension %d is not divisible by 4 (shape %v)", ErrInvalidInput, last, shape)
	}
	return nil
}
