package interference

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(n int, sampleRate, freq, amp float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/sampleRate)
	}
	return s
}

func TestFrequencyAxis(t *testing.T) {
	axis := FrequencyAxis(2000, 2000)
	require.Len(t, axis, 1001)
	assert.Equal(t, 0.0, axis[0])
	assert.InDelta(t, 50.0, axis[50], 1e-12)
	assert.InDelta(t, 1000.0, axis[1000], 1e-12)

	assert.Len(t, FrequencyAxis(7, 2000), 4)
}

func TestBandIndexRange(t *testing.T) {
	start, end, err := BandIndexRange(2000, 2000, PowerlineBand)
	require.NoError(t, err)
	assert.Equal(t, 49, start)
	assert.Equal(t, 51, end)

	// 4000 samples: 0.5 Hz resolution, 48.5 .. 51.5
	start, end, err = BandIndexRange(4000, 2000, PowerlineBand)
	require.NoError(t, err)
	assert.Equal(t, 97, start)
	assert.Equal(t, 103, end)
}

func TestBandIndexRangeEmpty(t *testing.T) {
	tcs := map[string]struct {
		n          int
		sampleRate float64
	}{
		"nyquist below band": {n: 1000, sampleRate: 80},
		"too coarse":         {n: 4, sampleRate: 2000},
		"single sample":      {n: 1, sampleRate: 2000},
		"zero rate":          {n: 2000, sampleRate: 0},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			_, _, err := BandIndexRange(tc.n, tc.sampleRate, PowerlineBand)
			assert.ErrorIs(t, err, ErrEmptyBand)
		})
	}
}

func TestBandPowerPureTone(t *testing.T) {
	signal := sine(2000, 2000, 50, 1)
	start, end, err := BandIndexRange(len(signal), 2000, PowerlineBand)
	require.NoError(t, err)

	// |X[50]| = N/2, so power = (N/2)^2 / N = N/4
	assert.InDelta(t, 500.0, BandPower(signal, start, end), 1e-3)

	offBand := sine(2000, 2000, 10, 1)
	assert.InDelta(t, 0.0, BandPower(offBand, start, end), 1e-3)
}

func TestScoresShuffleChangesScore(t *testing.T) {
	signal := sine(2000, 2000, 50, 1)
	shuffled := append([]float64(nil), signal...)
	rng := rand.New(rand.NewPCG(1, 2))
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	est := NewEstimator(2000)
	scores, err := est.Scores(context.Background(), [][]float64{signal, shuffled})
	require.NoError(t, err)

	assert.NotEqual(t, scores[0], scores[1])
	assert.Less(t, scores[1], 100.0)
}

func TestScoresNonNegativeAndOrdered(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	channels := make([][]float64, 9)
	for i := range channels {
		ch := sine(2000, 2000, 50, float64(i+1))
		for j := range ch {
			ch[j] += rng.NormFloat64()
		}
		channels[i] = ch
	}

	sequential := &Estimator{SampleRate: 2000, Band: PowerlineBand, Workers: 1}
	parallel := &Estimator{SampleRate: 2000, Band: PowerlineBand, Workers: 4}

	want, err := sequential.Scores(context.Background(), channels)
	require.NoError(t, err)
	got, err := parallel.Scores(context.Background(), channels)
	require.NoError(t, err)

	assert.Equal(t, want, got)
	for i, s := range got {
		assert.GreaterOrEqual(t, s, 0.0, "channel %d", i)
		if i > 0 {
			// amplitude grows with the channel index
			assert.Greater(t, s, got[i-1])
		}
	}
}

func TestScoresErrors(t *testing.T) {
	est := NewEstimator(2000)

	_, err := est.Scores(context.Background(), [][]float64{make([]float64, 2000), make([]float64, 1999)})
	assert.ErrorIs(t, err, ErrInconsistentChannels)

	_, err = (&Estimator{SampleRate: 80, Band: PowerlineBand}).Scores(context.Background(), [][]float64{make([]float64, 500)})
	assert.ErrorIs(t, err, ErrEmptyBand)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = est.Scores(ctx, [][]float64{make([]float64, 2000)})
	assert.ErrorIs(t, err, context.Canceled)

	scores, err := est.Scores(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, scores)
}
