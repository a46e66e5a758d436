// Package combination implements weighted multi-echo combination.
//
// Three weighting schemes are supported:
//
//  1. PAID    => TE * tSNR
//  2. TE      => TE
//  3. average => 1
//
// A run loads all echoes of an acquisition, reconciles their temporal
// sample counts, computes weights, and averages the echoes voxel by
// voxel with the weights renormalized per voxel.
package combination

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"mecombine/internal/models"
	"mecombine/pkg/echo"
	"mecombine/pkg/nifti"
	"mecombine/pkg/sidecar"
)

// Params holds the configuration of a single combination run.
type Params struct {
	// Pattern is the glob selecting the echo images to combine.
	Pattern string

	// OutputName is the combined image path. A bare filename is placed
	// in the input directory; when empty, the first echo's filename
	// with a _combined suffix is used.
	OutputName string

	// Algorithm selects the weighting scheme.
	Algorithm Algorithm

	// Weights optionally supplies explicit echo times for the files
	// matched by Pattern (positionally, before sorting by TE). When
	// nil, echo times are read from the JSON sidecars.
	Weights []float64

	// SaveWeights also writes the voxel-wise weight volume next to the
	// combined image. Only meaningful for PAID.
	SaveWeights bool

	// Volumes is the number of trailing temporal samples used as the
	// PAID calibration window.
	Volumes int
}

// Combiner runs the combination pipeline for one acquisition. Each
// instance handles a single run and holds no state shared across runs,
// so independent runs can be processed in parallel by the caller.
type Combiner struct {
	params   *Params
	logger   *zap.Logger
	set      echo.Set
	combined *models.Volume
}

// NewCombiner creates a combiner for one run.
func NewCombiner(params *Params, logger *zap.Logger) *Combiner {
	return &Combiner{params: params, logger: logger}
}

// Combined returns the combined volume after a successful Process.
func (c *Combiner) Combined() *models.Volume {
	return c.combined
}

// Process runs the full pipeline: load echoes, reconcile sample
// counts, compute weights, combine, and write the combined image plus
// its sidecar (and optionally the weight volume).
func (c *Combiner) Process() error {
	algo, err := ParseAlgorithm(string(c.params.Algorithm))
	if err != nil {
		return err
	}

	set, err := echo.Load(c.params.Pattern, c.params.Weights, c.logger)
	if err != nil {
		return err
	}
	c.set = set

	if err := Reconcile(set, c.logger); err != nil {
		return err
	}

	spec, err := ComputeWeights(set, algo, c.params.Volumes)
	if err != nil {
		return err
	}

	combined, err := Combine(set, spec)
	if err != nil {
		return err
	}
	c.combined = combined

	outputName := c.resolveOutputName()
	c.logger.Info("saving combined image", zap.String("path", outputName))
	if err := nifti.Write(outputName, combined); err != nil {
		return err
	}

	if c.params.SaveWeights && spec.Kind == VoxelWise {
		wname := weightsName(outputName)
		c.logger.Info("saving PAID weights", zap.String("path", wname))
		if err := nifti.Write(wname, WeightVolume(set, spec)); err != nil {
			return err
		}
	}

	// Derive the output sidecar from the first echo's, with the
	// effective combined echo time.
	te := EffectiveEchoTime(set, spec)
	if err := sidecar.WriteDerived(set[0].Path, outputName, te); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("no sidecar on first echo, skipping output sidecar",
				zap.String("echo", set[0].Path))
		} else {
			return err
		}
	}

	return nil
}

// Combine stacks the echoes along a trailing echo axis and computes the
// weighted mean along it, renormalizing weights per voxel. Every
// non-finite element of the result is replaced by zero; this is the
// single point where non-finite PAID weights are neutralized, after
// they have already been absorbed into the weighted sum.
func Combine(set echo.Set, spec WeightSpec) (*models.Volume, error) {
	if len(set) == 0 {
		return nil, fmt.Errorf("empty echo set")
	}
	first := set[0].Volume
	total := len(first.Data)
	nvox := first.SpatialLen()
	for _, e := range set[1:] {
		if len(e.Volume.Data) != total {
			return nil, fmt.Errorf("%w: echo %s has %d elements, want %d",
				ErrInconsistentAcquisition, e.Path, len(e.Volume.Data), total)
		}
	}

	switch spec.Kind {
	case Uniform:
	case Scalar:
		if len(spec.Scalars) != len(set) {
			return nil, fmt.Errorf("got %d scalar weights for %d echoes", len(spec.Scalars), len(set))
		}
	case VoxelWise:
		if len(spec.Voxel) != len(set) {
			return nil, fmt.Errorf("got %d weight volumes for %d echoes", len(spec.Voxel), len(set))
		}
		for i, w := range spec.Voxel {
			if len(w) != nvox {
				return nil, fmt.Errorf("weight volume %d has %d voxels, want %d", i, len(w), nvox)
			}
		}
	}

	out := make([]float64, total)
	vals := make([]float64, len(set))
	ws := make([]float64, len(set))
	for i := 0; i < total; i++ {
		for j, e := range set {
			vals[j] = e.Volume.Data[i]
		}
		switch spec.Kind {
		case Uniform:
			out[i] = stat.Mean(vals, nil)
		case Scalar:
			out[i] = stat.Mean(vals, spec.Scalars)
		case VoxelWise:
			for j := range set {
				ws[j] = spec.Voxel[j][i%nvox]
			}
			out[i] = stat.Mean(vals, ws)
		}
	}

	// Terminal cleanup: whatever Inf/NaN survived the averaging
	// (background voxels under PAID, all-non-finite weights) becomes
	// zero, so the output is always fully finite.
	for i, v := range out {
		if !isFinite(v) {
			out[i] = 0
		}
	}

	return &models.Volume{
		Data: out,
		Nx:   first.Nx, Ny: first.Ny, Nz: first.Nz, Nt: first.Nt,
		Header: first.Header,
	}, nil
}

// WeightVolume packs voxel-wise weights into a 4D volume with the echo
// index as the trailing axis, for persistence next to the combined
// image. The broadcast temporal axis is already squeezed out since
// weights are stored per voxel.
func WeightVolume(set echo.Set, spec WeightSpec) *models.Volume {
	first := set[0].Volume
	nvox := first.SpatialLen()
	data := make([]float64, 0, nvox*len(set))
	for _, w := range spec.Voxel {
		data = append(data, w...)
	}
	return &models.Volume{
		Data: data,
		Nx:   first.Nx, Ny: first.Ny, Nz: first.Nz, Nt: len(set),
		Header: first.Header,
	}
}

// EffectiveEchoTime returns the weight-averaged echo time of the
// combined image. Voxel-wise weightings have no single scalar weight
// per echo, so they fall back to the plain mean of the TEs.
func EffectiveEchoTime(set echo.Set, spec WeightSpec) float64 {
	if spec.Kind == Scalar {
		return stat.Mean(set.TEs(), spec.Scalars)
	}
	return stat.Mean(set.TEs(), nil)
}

// resolveOutputName applies the output naming policy.
func (c *Combiner) resolveOutputName() string {
	first := c.set[0].Path
	name := c.params.OutputName
	if name == "" {
		base, ext := splitImageExt(first)
		return base + "_combined" + ext
	}
	if name == filepath.Base(name) {
		return filepath.Join(filepath.Dir(first), name)
	}
	return name
}

// weightsName derives the weight-volume path from the combined image
// path.
func weightsName(outputName string) string {
	base, ext := splitImageExt(outputName)
	return base + "_weights" + ext
}

// splitImageExt splits off the image extension, treating .nii.gz as a
// single extension.
func splitImageExt(path string) (string, string) {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	if ext == ".gz" {
		inner := filepath.Ext(base)
		base = strings.TrimSuffix(base, inner)
		ext = inner + ext
	}
	return base, ext
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
