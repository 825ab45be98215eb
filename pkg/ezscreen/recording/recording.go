package recording

import (
	"errors"
	"fmt"
)

// DefaultSampleRate is the acquisition rate of the reference deployment (Hz).
const DefaultSampleRate = 2000

// ErrInvalidRecording is returned when a block violates the shared
// length/rate invariant or carries no channels.
var ErrInvalidRecording = errors.New("invalid recording block")

// Recording is one processing block: a channel-major matrix of samples.
// Channels[i] is the signal of channel id i.
type Recording struct {
	SampleRate float64
	Channels   [][]float64
}

// New builds a recording and validates it.
func New(sampleRate float64, channels [][]float64) (*Recording, error) {
	r := &Recording{SampleRate: sampleRate, Channels: channels}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks that every channel shares the same sample count and that
// the rate is positive.
func (r *Recording) Validate() error {
	if r == nil || len(r.Channels) == 0 {
		return fmt.Errorf("%w: no channels", ErrInvalidRecording)
	}
	if r.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %g", ErrInvalidRecording, r.SampleRate)
	}
	n := len(r.Channels[0])
	for i, ch := range r.Channels {
		if len(ch) != n {
			return fmt.Errorf("%w: channel %d has %d samples, channel 0 has %d", ErrInvalidRecording, i, len(ch), n)
		}
	}
	return nil
}

// NumChannels returns the number of rows.
func (r *Recording) NumChannels() int { return len(r.Channels) }

// NumSamples returns the per-channel sample count.
func (r *Recording) NumSamples() int {
	if len(r.Channels) == 0 {
		return 0
	}
	return len(r.Channels[0])
}

// Rows returns the signals for the given channel ids, in the order given.
// The returned rows alias the recording's storage.
func (r *Recording) Rows(ids []int) ([][]float64, error) {
	rows := make([][]float64, len(ids))
	for i, id := range ids {
		if id < 0 || id >= len(r.Channels) {
			return nil, fmt.Errorf("%w: channel id %d outside %d rows", ErrInvalidRecording, id, len(r.Channels))
		}
		rows[i] = r.Channels[id]
	}
	return rows, nil
}
