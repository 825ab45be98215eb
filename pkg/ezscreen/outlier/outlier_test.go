package outlier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZScores(t *testing.T) {
	z := ZScores([]float64{1, 2, 3, 4})
	require.Len(t, z, 4)

	var sum, sq float64
	for _, v := range z {
		sum += v
		sq += v * v
	}
	assert.InDelta(t, 0, sum, 1e-12)
	assert.InDelta(t, 4, sq, 1e-12) // population variance of 1

	assert.Nil(t, ZScores(nil))
	assert.Nil(t, ZScores([]float64{5, 5, 5}))
}

func TestClassify(t *testing.T) {
	th := DefaultThresholds()

	tcs := map[string]struct {
		scores []float64
		want   []int
	}{
		"single outlier":           {scores: []float64{1.25e10, 500, 480, 520}, want: []int{0}},
		"outlier in the middle":    {scores: []float64{10, 20, 5e10, 30, 40}, want: []int{2}},
		"large but not an outlier": {scores: []float64{2e9, 2e9, 2e9, 2e9}, want: []int{}},
		"outlier below power":      {scores: []float64{9e8, 1, 1, 1}, want: []int{}},
		"exactly at threshold":     {scores: []float64{1e9, 0, 0, 0}, want: []int{}},
		"just above threshold":     {scores: []float64{1e9 + 1, 0, 0, 0}, want: []int{0}},
		"two outliers":             {scores: []float64{3e10, 10, 3e10, 10, 10, 10, 10, 10}, want: []int{0, 2}},
		"empty":                    {scores: nil, want: []int{}},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.scores, th))
		})
	}
}

func TestClassifyZScoreGuard(t *testing.T) {
	// every channel is above the power threshold, only the z-score separates them
	scores := []float64{1.1e9, 1.2e9, 1.3e9, 9e9}
	assert.Equal(t, []int{3}, Classify(scores, DefaultThresholds()))

	loose := Thresholds{Power: 1e9, ZScore: -10}
	assert.Equal(t, []int{0, 1, 2, 3}, Classify(scores, loose))
}

func TestClassifyIdempotent(t *testing.T) {
	scores := []float64{4e10, 1e3, 2e9, 7e3, 3e10, 12}
	first := Classify(scores, DefaultThresholds())
	second := Classify(scores, DefaultThresholds())
	assert.Equal(t, first, second)
	assert.Equal(t, []float64{4e10, 1e3, 2e9, 7e3, 3e10, 12}, scores, "input must not be modified")
}
