package trends

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnreconstructibleLabels is returned when the observed cadence of a
// sample vector does not match any cadence the upstream service emits,
// or when the reconstructed last label disagrees with the window end.
var ErrUnreconstructibleLabels = errors.New("unreconstructible labels")

// cadences the upstream service labels samples with. The sub-hourly
// entries only occur on short windows; everything longer than 7 days is
// daily.
var cadences = []time.Duration{
	time.Minute,
	8 * time.Minute,
	time.Hour,
	4 * time.Hour,
	24 * time.Hour,
	7 * 24 * time.Hour,
}

// RestoreLabels reconstructs the ordered sequence of timestamps the
// upstream service implicitly labels each of n samples with, for the
// window [start, end]. The step is the window duration divided by n-1,
// snapped to the nearest supported cadence. Ambiguous cadences
// (equidistant candidates) are rejected rather than guessed, and the
// reconstructed last label must agree with end within half a step.
//
// The 8-minute cadence comes with a 4-minute initial offset when the
// sample count is even; the service drops the first half-bucket there.
//
// RestoreLabels is pure: no clock, no I/O.
func RestoreLabels(start, end time.Time, n int) ([]time.Time, error) {
	if n == 0 {
		return nil, nil
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("window %s..%s: %w", start, end, ErrUnreconstructibleLabels)
	}
	if n == 1 {
		// A single sample carries no cadence evidence.
		return nil, fmt.Errorf("single sample in %s window: %w", end.Sub(start), ErrUnreconstructibleLabels)
	}

	step, err := snapStep(end.Sub(start) / time.Duration(n-1))
	if err != nil {
		return nil, err
	}

	var offset time.Duration
	if step == 8*time.Minute && n%2 == 0 {
		offset = 4 * time.Minute
	}

	labels := make([]time.Time, n)
	for i := range labels {
		labels[i] = start.Add(offset + time.Duration(i)*step)
	}

	drift := end.Sub(labels[n-1])
	if drift < 0 {
		drift = -drift
	}
	if drift > step/2 {
		return nil, fmt.Errorf("last label %s vs window end %s: %w",
			labels[n-1].Format(time.DateTime), end.Format(time.DateTime), ErrUnreconstructibleLabels)
	}

	return labels, nil
}

// snapStep picks the supported cadence nearest to raw. A tie between two
// cadences means the input is ambiguous and is rejected.
func snapStep(raw time.Duration) (time.Duration, error) {
	best := cadences[0]
	bestDiff := absDuration(raw - best)
	tie := false
	for _, c := range cadences[1:] {
		d := absDuration(raw - c)
		switch {
		case d < bestDiff:
			best, bestDiff, tie = c, d, false
		case d == bestDiff:
			tie = true
		}
	}
	if tie {
		return 0, fmt.Errorf("cadence %s equidistant between supported resolutions: %w", raw, ErrUnreconstructibleLabels)
	}
	return best, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
