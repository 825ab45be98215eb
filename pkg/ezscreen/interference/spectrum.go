package interference

import (
	"context"
	"errors"
	"fmt"
	"math/cmplx"
	"runtime"

	"github.com/mjibson/go-dsp/fft"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrEmptyBand means no frequency sample lies strictly inside the band,
	// usually a misconfigured sample rate or a block that is too short.
	ErrEmptyBand = errors.New("no frequency sample inside interference band")

	// ErrInconsistentChannels means the channels of one block do not share a
	// sample count, so a single band index range cannot serve all of them.
	ErrInconsistentChannels = errors.New("channels differ in sample count")
)

// Band is an open frequency interval (Low, High) in Hz.
type Band struct {
	Low  float64
	High float64
}

// PowerlineBand brackets 50 Hz mains pickup.
var PowerlineBand = Band{Low: 48, High: 52}

// FrequencyAxis returns floor(n/2)+1 points evenly spaced from 0 to the
// Nyquist frequency.
func FrequencyAxis(n int, sampleRate float64) []float64 {
	half := n / 2
	axis := make([]float64, half+1)
	if half == 0 {
		return axis
	}
	nyquist := sampleRate / 2
	for k := range axis {
		axis[k] = nyquist * float64(k) / float64(half)
	}
	return axis
}

// BandIndexRange returns the first and last index (both inclusive) whose
// frequency is strictly inside band for a signal of n samples.
func BandIndexRange(n int, sampleRate float64, band Band) (start, end int, err error) {
	if n < 2 || sampleRate <= 0 {
		return 0, 0, fmt.Errorf("%w: %d samples at %g Hz", ErrEmptyBand, n, sampleRate)
	}

	start, end = -1, -1
	for k, f := range FrequencyAxis(n, sampleRate) {
		if f > band.Low && f < band.High {
			if start < 0 {
				start = k
			}
			end = k
		}
	}
	if start < 0 {
		return 0, 0, fmt.Errorf("%w: (%g, %g) Hz with %d samples at %g Hz",
			ErrEmptyBand, band.Low, band.High, n, sampleRate)
	}
	return start, end, nil
}

// BandPower sums the real part of X[k]*conj(X[k])/N over k in [start, end].
func BandPower(signal []float64, start, end int) float64 {
	spectrum := fft.FFTReal(signal)
	n := float64(len(signal))

	var sum float64
	for _, x := range spectrum[start : end+1] {
		sum += real(x*cmplx.Conj(x)) / n
	}
	return sum
}

// Estimator scores every channel of a block by its power in Band.
type Estimator struct {
	SampleRate float64
	Band       Band
	// Workers bounds the number of channels transformed concurrently.
	// Zero means GOMAXPROCS.
	Workers int
}

// NewEstimator returns an estimator for the powerline band.
func NewEstimator(sampleRate float64) *Estimator {
	return &Estimator{SampleRate: sampleRate, Band: PowerlineBand}
}

// Scores returns one non-negative interference score per channel, in the
// order of channels. The band index range is computed from channel 0 and
// reused for the rest, so all channels must share their sample count.
func (e *Estimator) Scores(ctx context.Context, channels [][]float64) ([]float64, error) {
	if len(channels) == 0 {
		return nil, nil
	}

	n := len(channels[0])
	for i, ch := range channels {
		if len(ch) != n {
			return nil, fmt.Errorf("%w: channel %d has %d samples, channel 0 has %d",
				ErrInconsistentChannels, i, len(ch), n)
		}
	}

	start, end, err := BandIndexRange(n, e.SampleRate, e.Band)
	if err != nil {
		return nil, err
	}

	workers := e.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	scores := make([]float64, len(channels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range channels {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			// each goroutine owns exactly one slot, keeping channel order
			scores[i] = BandPower(channels[i], start, end)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}
