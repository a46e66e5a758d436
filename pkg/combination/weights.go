package combination

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"mecombine/pkg/echo"
)

// Algorithm selects the weighting scheme for echo combination.
type Algorithm string

const (
	// AlgoAverage gives every echo the same weight.
	AlgoAverage Algorithm = "average"

	// AlgoTE weights each echo by its echo time.
	AlgoTE Algorithm = "TE"

	// AlgoPAID weights each voxel by TE times its temporal
	// contrast-to-noise ratio (TE * mean/std over a calibration
	// window).
	AlgoPAID Algorithm = "PAID"
)

// ParseAlgorithm validates an algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(name) {
	case AlgoAverage, AlgoTE, AlgoPAID:
		return Algorithm(name), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}

// WeightKind discriminates the forms a weight specification can take.
type WeightKind int

const (
	// Uniform means every echo contributes equally.
	Uniform WeightKind = iota

	// Scalar means one weight per echo, applied to every voxel.
	Scalar

	// VoxelWise means a full spatial weight array per echo.
	VoxelWise
)

// WeightSpec describes how echoes are weighted during combination.
// Weights never need to be pre-normalized: the combiner renormalizes
// per voxel so they sum to one.
type WeightSpec struct {
	Kind WeightKind

	// Scalars holds one weight per echo when Kind is Scalar.
	Scalars []float64

	// Voxel holds one spatial array (SpatialLen elements) per echo
	// when Kind is VoxelWise.
	Voxel [][]float64
}

// ComputeWeights derives the weight specification for the given
// algorithm. nVols is the PAID calibration window size; it is capped
// at each echo's sample count.
func ComputeWeights(set echo.Set, algo Algorithm, nVols int) (WeightSpec, error) {
	switch algo {
	case AlgoAverage:
		return WeightSpec{Kind: Uniform}, nil
	case AlgoTE:
		return WeightSpec{Kind: Scalar, Scalars: set.TEs()}, nil
	case AlgoPAID:
		voxel, err := paidWeights(set, nVols)
		if err != nil {
			return WeightSpec{}, err
		}
		return WeightSpec{Kind: VoxelWise, Voxel: voxel}, nil
	default:
		return WeightSpec{}, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algo)
	}
}

// paidWeights computes the per-voxel PAID weight TE*mean/std for every
// echo, over the last min(nVols, sampleCount) temporal samples. The
// tail of the run is used rather than the head because early volumes
// are typically discarded for scanner stabilization.
//
// Background voxels with a constant-zero window divide by zero here;
// the resulting Inf/NaN values are carried through on purpose and
// neutralized only after the final average.
func paidWeights(set echo.Set, nVols int) ([][]float64, error) {
	weights := make([][]float64, len(set))
	for i, e := range set {
		vol := e.Volume
		if !vol.Is4D() {
			return nil, fmt.Errorf("%w: echo %s is 3D", ErrInsufficientDimensionality, e.Path)
		}

		window := nVols
		if vol.Nt < window {
			window = vol.Nt
		}
		start := vol.Nt - window

		nvox := vol.SpatialLen()
		w := make([]float64, nvox)
		samples := make([]float64, window)
		for v := 0; v < nvox; v++ {
			for t := 0; t < window; t++ {
				samples[t] = vol.At(v, start+t)
			}
			mean := stat.Mean(samples, nil)
			std := stat.PopStdDev(samples, nil)
			w[v] = e.TE * mean / std
		}
		weights[i] = w
	}
	return weights, nil
}
