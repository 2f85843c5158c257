package loadgen

import (
	"math"
	"slices"
	"time"
)

// Summary covers successful requests only; failures are counted, not timed.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int

	Min, Max, Mean, Median, P95, StdDev time.Duration
}

func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}

	durations := make([]time.Duration, 0, len(results))
	for _, r := range results {
		if r.OK() {
			durations = append(durations, r.ExecTime)
		}
	}
	s.Succeeded = len(durations)
	s.Failed = s.Total - s.Succeeded
	if len(durations) == 0 {
		return s
	}

	slices.Sort(durations)
	s.Min, s.Max = durations[0], durations[len(durations)-1]

	var sum float64
	for _, d := range durations {
		sum += float64(d)
	}
	mean := sum / float64(len(durations))
	s.Mean = time.Duration(mean)

	mid := len(durations) / 2
	if len(durations)%2 == 0 {
		s.Median = (durations[mid-1] + durations[mid]) / 2
	} else {
		s.Median = durations[mid]
	}

	s.P95 = percentile(durations, 0.95)

	if len(durations) > 1 {
		var sq float64
		for _, d := range durations {
			diff := float64(d) - mean
			sq += diff * diff
		}
		s.StdDev = time.Duration(math.Sqrt(sq / float64(len(durations)-1)))
	}
	return s
}

// percentile uses nearest rank over a sorted slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := int(math.Ceil(p * float64(len(sorted))))
	return sorted[max(rank-1, 0)]
}
