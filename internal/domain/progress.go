package domain

import (
	"math"
	"time"
)

// EstimateRemaining extrapolates the remaining run time linearly from the
// cumulative throughput so far. It returns nil until an item has been
// processed. The result is in whole seconds, rounded up.
func EstimateRemaining(total, processed int, elapsed time.Duration) *int64 {
	if processed <= 0 {
		return nil
	}

	remaining := total - processed
	if remaining < 0 {
		remaining = 0
	}
	if elapsed < 0 {
		elapsed = 0
	}

	perItem := elapsed.Seconds() / float64(processed)
	eta := int64(math.Ceil(float64(remaining) * perItem))
	return &eta
}

// RecomputeETA refreshes EstimatedTimeRemaining. Only running jobs carry an
// estimate; any other status clears it.
func (j *Job) RecomputeETA(now time.Time) {
	if j.Status != JobStatusRunning {
		j.EstimatedTimeRemaining = nil
		return
	}
	j.EstimatedTimeRemaining = EstimateRemaining(j.Total, j.Processed, now.Sub(j.StartTime))
}
