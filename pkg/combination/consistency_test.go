package combination

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mecombine/internal/models"
	"mecombine/pkg/echo"
)

func TestCheckSampleCounts(t *testing.T) {
	cases := []struct {
		name       string
		counts     []int
		wantTarget int
		wantTrunc  bool
		wantErr    bool
	}{
		{"AllEqual", []int{100, 100, 100}, 100, false, false},
		{"SingleTrailingDrop", []int{100, 100, 99}, 99, true, false},
		{"SingleLeadingDrop", []int{100, 99, 99}, 99, true, false},
		{"DropThenRecovery", []int{100, 99, 100}, 0, false, true},
		{"DropOfTwo", []int{100, 98, 98}, 0, false, true},
		{"TwoDrops", []int{100, 99, 98}, 0, false, true},
		{"Growing", []int{99, 100, 100}, 0, false, true},
		{"TwoEchoesDrop", []int{50, 49}, 49, true, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			target, trunc, err := CheckSampleCounts(tc.counts)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInconsistentAcquisition)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantTarget, target)
			require.Equal(t, tc.wantTrunc, trunc)
		})
	}
}

// make4DEcho builds an in-memory 4D echo with the given sample count.
func make4DEcho(te float64, nt int, fill float64) echo.Echo {
	const nx, ny, nz = 2, 2, 1
	data := make([]float64, nx*ny*nz*nt)
	for i := range data {
		data[i] = fill
	}
	return echo.Echo{
		TE:     te,
		Volume: &models.Volume{Data: data, Nx: nx, Ny: ny, Nz: nz, Nt: nt},
	}
}

func TestReconcileTruncates(t *testing.T) {
	set := echo.Set{
		make4DEcho(0.01, 100, 1),
		make4DEcho(0.02, 100, 2),
		make4DEcho(0.03, 99, 3),
	}

	require.NoError(t, Reconcile(set, zap.NewNop()))
	for i, e := range set {
		require.Equalf(t, 99, e.Volume.Nt, "echo %d", i)
		require.Lenf(t, e.Volume.Data, e.Volume.SpatialLen()*99, "echo %d", i)
	}
}

func TestReconcileInconsistent(t *testing.T) {
	set := echo.Set{
		make4DEcho(0.01, 100, 1),
		make4DEcho(0.02, 99, 2),
		make4DEcho(0.03, 100, 3),
	}
	require.ErrorIs(t, Reconcile(set, zap.NewNop()), ErrInconsistentAcquisition)
}

func TestReconcileAll3D(t *testing.T) {
	set := echo.Set{
		{TE: 0.01, Volume: &models.Volume{Data: make([]float64, 8), Nx: 2, Ny: 2, Nz: 2}},
		{TE: 0.02, Volume: &models.Volume{Data: make([]float64, 8), Nx: 2, Ny: 2, Nz: 2}},
	}
	require.NoError(t, Reconcile(set, zap.NewNop()))
}

func TestReconcileMixedDimensionality(t *testing.T) {
	set := echo.Set{
		{TE: 0.01, Volume: &models.Volume{Data: make([]float64, 4), Nx: 2, Ny: 2, Nz: 1}},
		make4DEcho(0.02, 10, 1),
	}
	require.ErrorIs(t, Reconcile(set, zap.NewNop()), ErrInconsistentAcquisition)
}
