package combination

import (
	"fmt"

	"go.uber.org/zap"

	"mecombine/pkg/echo"
)

// CheckSampleCounts classifies differing temporal sample counts, taken
// in echo-time order. Equal counts need no action. A single adjacent
// drop of exactly one sample, with every other adjacent difference
// zero, is the signature of an acquisition stopped mid-run and is
// recoverable by truncating to the minimum count. Any other pattern is
// fatal for the run.
//
// It returns the sample count every echo should be truncated to and
// whether truncation is needed at all.
func CheckSampleCounts(counts []int) (int, bool, error) {
	if len(counts) == 0 {
		return 0, false, nil
	}

	min := counts[0]
	drops := 0
	for i := 1; i < len(counts); i++ {
		switch d := counts[i] - counts[i-1]; d {
		case 0:
		case -1:
			drops++
		default:
			return 0, false, fmt.Errorf("%w: %v", ErrInconsistentAcquisition, counts)
		}
		if counts[i] < min {
			min = counts[i]
		}
	}
	switch drops {
	case 0:
		return min, false, nil
	case 1:
		return min, true, nil
	default:
		return 0, false, fmt.Errorf("%w: %v", ErrInconsistentAcquisition, counts)
	}
}

// Reconcile applies the truncation policy to a loaded set. 3D sets
// pass through untouched; mixing 3D and 4D echoes in one run is
// fatal.
func Reconcile(set echo.Set, logger *zap.Logger) error {
	n4d := 0
	for _, e := range set {
		if e.Volume.Is4D() {
			n4d++
		}
	}
	if n4d == 0 {
		return nil
	}
	if n4d != len(set) {
		return fmt.Errorf("%w: run mixes 3D and 4D echoes", ErrInconsistentAcquisition)
	}

	counts := set.SampleCounts()
	target, truncate, err := CheckSampleCounts(counts)
	if err != nil {
		return err
	}
	if truncate {
		logger.Warn("acquisition appears truncated, dropping trailing samples",
			zap.Ints("sampleCounts", counts),
			zap.Int("keep", target))
		for _, e := range set {
			e.Volume.Truncate(target)
		}
	}
	return nil
}
