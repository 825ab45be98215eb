// Package outlier flags channels whose interference score is both large in
// absolute terms and unusual relative to the rest of the batch.
package outlier

import (
	"github.com/montanaflynn/stats"
)

const (
	// DefaultPowerThreshold is instrument and unit dependent.
	DefaultPowerThreshold  = 1e9
	DefaultZScoreThreshold = 0.3
)

// Thresholds holds both guards; a channel is flagged only when its score
// exceeds Power and its population z-score exceeds ZScore. Both
// comparisons are strict.
type Thresholds struct {
	Power  float64
	ZScore float64
}

// DefaultThresholds returns the reference deployment values.
func DefaultThresholds() Thresholds {
	return Thresholds{Power: DefaultPowerThreshold, ZScore: DefaultZScoreThreshold}
}

// ZScores normalises scores to zero mean and unit population variance.
// It returns nil when the batch is empty or has no spread.
func ZScores(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	data := stats.Float64Data(scores)
	mean, err := stats.Mean(data)
	if err != nil {
		return nil
	}
	std, err := stats.StandardDeviationPopulation(data)
	if err != nil || std == 0 {
		return nil
	}

	z := make([]float64, len(scores))
	for i, s := range scores {
		z[i] = (s - mean) / std
	}
	return z
}

// Classify returns the ascending positions of contaminated channels.
// An empty result is valid and common.
func Classify(scores []float64, th Thresholds) []int {
	z := ZScores(scores)
	if z == nil {
		// no spread: nobody is an outlier relative to peers
		return []int{}
	}

	flagged := []int{}
	for i, s := range scores {
		if s > th.Power && z[i] > th.ZScore {
			flagged = append(flagged, i)
		}
	}
	return flagged
}
