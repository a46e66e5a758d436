package echo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mecombine/internal/models"
	"mecombine/pkg/nifti"
)

// writeEchoFile stores a small constant-valued echo image, optionally
// with a sidecar carrying its echo time.
func writeEchoFile(t *testing.T, dir, name string, te float64, value float64, withSidecar bool) string {
	t.Helper()

	const nx, ny, nz = 2, 2, 2
	data := make([]float64, nx*ny*nz)
	for i := range data {
		data[i] = value
	}
	path := filepath.Join(dir, name)
	err := nifti.Write(path, &models.Volume{Data: data, Nx: nx, Ny: ny, Nz: nz})
	require.NoError(t, err)

	if withSidecar {
		base := path[:len(path)-len(".nii")]
		err = os.WriteFile(base+".json", []byte(fmt.Sprintf(`{"EchoTime": %g}`, te)), 0644)
		require.NoError(t, err)
	}
	return path
}

func TestLoadSortsByEchoTime(t *testing.T) {
	dir := t.TempDir()

	// File order deliberately disagrees with echo-time order
	writeEchoFile(t, dir, "run_echo-1.nii", 0.030, 1, true)
	writeEchoFile(t, dir, "run_echo-2.nii", 0.010, 2, true)
	writeEchoFile(t, dir, "run_echo-3.nii", 0.020, 3, true)

	set, err := Load(filepath.Join(dir, "run_echo-*.nii"), nil, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, set, 3)

	require.Equal(t, []float64{0.010, 0.020, 0.030}, set.TEs())

	// The volumes must have been re-ordered in lockstep with the TEs
	require.Equal(t, 2.0, set[0].Volume.Data[0])
	require.Equal(t, 3.0, set[1].Volume.Data[0])
	require.Equal(t, 1.0, set[2].Volume.Data[0])
}

func TestLoadNoMatches(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "*.nii"), nil, zap.NewNop())
	require.True(t, errors.Is(err, ErrNoData))
}

func TestLoadExplicitEchoTimes(t *testing.T) {
	dir := t.TempDir()

	// No sidecars: the caller supplies the TEs, aligned with the
	// sorted file list
	writeEchoFile(t, dir, "a.nii", 0, 1, false)
	writeEchoFile(t, dir, "b.nii", 0, 2, false)

	set, err := Load(filepath.Join(dir, "*.nii"), []float64{0.04, 0.01}, zap.NewNop())
	require.NoError(t, err)

	// b.nii (TE 0.01) must sort first even though a.nii globs first
	require.Equal(t, []float64{0.01, 0.04}, set.TEs())
	require.Equal(t, 2.0, set[0].Volume.Data[0])
}

func TestLoadExplicitEchoTimesCountMismatch(t *testing.T) {
	dir := t.TempDir()
	writeEchoFile(t, dir, "a.nii", 0, 1, false)
	writeEchoFile(t, dir, "b.nii", 0, 2, false)

	_, err := Load(filepath.Join(dir, "*.nii"), []float64{0.01}, zap.NewNop())
	require.Error(t, err)
}

func TestLoadTieKeepsFileOrder(t *testing.T) {
	dir := t.TempDir()
	writeEchoFile(t, dir, "a.nii", 0.02, 1, true)
	writeEchoFile(t, dir, "b.nii", 0.02, 2, true)

	set, err := Load(filepath.Join(dir, "*.nii"), nil, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 1.0, set[0].Volume.Data[0])
	require.Equal(t, 2.0, set[1].Volume.Data[0])
}

func TestLoadSpatialMismatch(t *testing.T) {
	dir := t.TempDir()
	writeEchoFile(t, dir, "a.nii", 0.01, 1, true)

	// Second echo on a different grid
	data := make([]float64, 3*3*3)
	err := nifti.Write(filepath.Join(dir, "b.nii"), &models.Volume{Data: data, Nx: 3, Ny: 3, Nz: 3})
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(dir, "b.json"), []byte(`{"EchoTime": 0.02}`), 0644)
	require.NoError(t, err)

	_, err = Load(filepath.Join(dir, "*.nii"), nil, zap.NewNop())
	require.ErrorContains(t, err, "spatial shape")
}

func TestLoadMissingSidecar(t *testing.T) {
	dir := t.TempDir()
	writeEchoFile(t, dir, "a.nii", 0, 1, false)

	_, err := Load(filepath.Join(dir, "*.nii"), nil, zap.NewNop())
	require.ErrorContains(t, err, "echo time")
}
