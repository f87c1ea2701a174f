package quaternion

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// InitCriterion selects the variance scaling of quaternion init.
type InitCriterion string

const (
	Glorot InitCriterion = "glorot"
	He     InitCriterion = "he"
)

// WeightInit selects how weight quaternions are drawn.
type WeightInit string

const (
	// InitQuaternion draws weights in polar form with a chi(4) modulus.
	InitQuaternion WeightInit = "quaternion"
	// InitUnitary draws weights uniformly on the unit 3-sphere.
	InitUnitary WeightInit = "unitary"
)

// normEps keeps normalization finite for near-zero samples.
const normEps = 1e-4

// scale returns the modulus scaling for a layer of in×out quaternions.
func scale(crit InitCriterion, in, out int) (float64, error) {
	switch crit {
	case Glorot:
		return 1 / math.Sqrt(2*float64(in+out)), nil
	case He:
		return 1 / math.Sqrt(2*float64(in)), nil
	default:
		return 0, fmt.Errorf("%w: unknown init criterion %q", ErrInvalidInput, crit)
	}
}

func initWeights(in, out int, crit InitCriterion, kind WeightInit, rng *rand.Rand) (Weights, error) {
	w := zeroWeights(in, out)

	var draw func() (r, i, j, k float64)
	switch kind {
	case InitQuaternion:
		s, err := scale(crit, in, out)
		if err != nil {
			return Weights{}, err
		}
		draw = func() (float64, float64, float64, float64) { return polar(rng, s) }
	case InitUnitary:
		// The criterion is still validated so a typo fails either way.
		if _, err := scale(crit, in, out); err != nil {
			return Weights{}, err
		}
		draw = func() (float64, float64, float64, float64) { return unit(rng) }
	default:
		return Weights{}, fmt.Errorf("%w: unknown weight init %q", ErrInvalidInput, kind)
	}

	for a := range in {
		for b := range out {
			r, i, j, k := draw()
			w.R.Set(a, b, r)
			w.I.Set(a, b, i)
			w.J.Set(a, b, j)
			w.K.Set(a, b, k)
		}
	}
	return w, nil
}

// polar draws modulus·(cos θ + u·sin θ) with modulus ~ s·chi(4),
// θ ~ U(-π, π) and u a unit pure quaternion.
func polar(rng *rand.Rand, s float64) (r, i, j, k float64) {
	var sq float64
	for range 4 {
		z := rng.NormFloat64()
		sq += z * z
	}
	mod := s * math.Sqrt(sq)
	phase := uniform(rng, -math.Pi, math.Pi)

	vi, vj, vk := uniform(rng, -1, 1), uniform(rng, -1, 1), uniform(rng, -1, 1)
	n := math.Sqrt(vi*vi+vj*vj+vk*vk) + normEps
	vi, vj, vk = vi/n, vj/n, vk/n

	sin := math.Sin(phase)
	return mod * math.Cos(phase), mod * vi * sin, mod * vj * sin, mod * vk * sin
}

// unit draws a U(-1,1)^4 sample and normalizes it.
func unit(rng *rand.Rand) (r, i, j, k float64) {
	r, i, j, k = uniform(rng, -1, 1), uniform(rng, -1, 1), uniform(rng, -1, 1), uniform(rng, -1, 1)
	n := math.Sqrt(r*r+i*i+j*j+k*k) + normEps
	return r / n, i / n, j / n, k / n
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*rng.Float64()
}

func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
