package combination

import (
	"errors"

	"mecombine/pkg/echo"
)

// Fatal conditions for a single run. Numeric anomalies (division by
// zero, NaN from constant voxels) are deliberately not part of this
// taxonomy: they are expected intermediates and are cleaned up once,
// after the final average.
var (
	// ErrUnknownAlgorithm is returned for algorithm names outside
	// average, TE and PAID.
	ErrUnknownAlgorithm = errors.New("unknown combination algorithm")

	// ErrInsufficientDimensionality is returned when PAID weighting is
	// requested for echoes without a temporal axis.
	ErrInsufficientDimensionality = errors.New("PAID weighting requires 4D echoes")

	// ErrInconsistentAcquisition is returned when echo sample counts
	// differ in a pattern that a single truncation cannot explain.
	ErrInconsistentAcquisition = errors.New("inconsistent echo sample counts")
)

// ExitCode maps a run result to the process exit status: 0 success,
// 2 when no input files matched, 1 for every other failure.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, echo.ErrNoData):
		return 2
	default:
		return 1
	}
}
