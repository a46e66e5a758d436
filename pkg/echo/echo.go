// Package echo loads the echoes of a multi-echo acquisition. An echo
// is one NIfTI volume plus its echo time (TE); a set is the ordered
// sequence of echoes for a single run, sorted by ascending TE.
package echo

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"mecombine/internal/models"
	"mecombine/pkg/nifti"
	"mecombine/pkg/sidecar"
)

// ErrNoData indicates that a selection pattern matched no files.
var ErrNoData = errors.New("no matching input files found")

// Echo is one acquired volume and its echo time. The TE unit (seconds
// or milliseconds) is whatever the sidecars or the caller used; it
// only has to be consistent within a set.
type Echo struct {
	Volume *models.Volume
	TE     float64
	Path   string
}

// Set is an echo sequence ordered by ascending TE.
type Set []Echo

// TEs returns the echo times in set order.
func (s Set) TEs() []float64 {
	tes := make([]float64, len(s))
	for i, e := range s {
		tes[i] = e.TE
	}
	return tes
}

// SampleCounts returns each echo's temporal sample count in set order.
// 3D echoes report zero.
func (s Set) SampleCounts() []int {
	counts := make([]int, len(s))
	for i, e := range s {
		counts[i] = e.Volume.Nt
	}
	return counts
}

// Load resolves pattern to a list of echo files and loads them together
// with their echo times. Echo times come from the per-file JSON
// sidecars unless explicitTEs is non-nil, in which case they must align
// positionally with the sorted file list. The returned set is sorted by
// ascending TE; ties keep file order.
func Load(pattern string, explicitTEs []float64, logger *zap.Logger) (Set, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad selection pattern %q: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("pattern %q: %w", pattern, ErrNoData)
	}
	sort.Strings(paths)

	if explicitTEs != nil && len(explicitTEs) != len(paths) {
		return nil, fmt.Errorf("got %d echo times for %d files", len(explicitTEs), len(paths))
	}

	// Pair every file with its TE before sorting, so the two can
	// never drift out of sync.
	set := make(Set, len(paths))
	for i, path := range paths {
		te := 0.0
		if explicitTEs != nil {
			te = explicitTEs[i]
		} else {
			te, err = sidecar.ReadEchoTime(path)
			if err != nil {
				return nil, fmt.Errorf("echo time for %s: %w", path, err)
			}
		}
		set[i] = Echo{TE: te, Path: path}
	}
	sort.SliceStable(set, func(i, j int) bool { return set[i].TE < set[j].TE })

	logger.Info("loading echoes",
		zap.Strings("files", paths),
		zap.Float64s("echoTimes", set.TEs()))

	for i := range set {
		vol, err := nifti.Read(set[i].Path)
		if err != nil {
			return nil, err
		}
		set[i].Volume = vol
	}

	// All echoes of a run must share the acquisition grid; downstream
	// code relies on this and does not revalidate.
	first := set[0].Volume
	for _, e := range set[1:] {
		v := e.Volume
		if v.Nx != first.Nx || v.Ny != first.Ny || v.Nz != first.Nz {
			return nil, fmt.Errorf("echo %s has spatial shape (%d,%d,%d), want (%d,%d,%d)",
				e.Path, v.Nx, v.Ny, v.Nz, first.Nx, first.Ny, first.Nz)
		}
	}

	return set, nil
}
