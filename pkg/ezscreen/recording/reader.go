package recording

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WavInfo holds the format information of a decoded recording file.
type WavInfo struct {
	SampleRate  int
	NumChannels int
	BitDepth    int
	NumSamples  int // per channel
}

// ReadWAV decodes a multichannel PCM WAV file into a single recording.
// Samples keep their integer amplitude (no normalisation) so absolute
// power thresholds stay in acquisition units.
func ReadWAV(path string) (*Recording, *WavInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, nil, errors.New("not a valid WAV file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, nil, fmt.Errorf("reading PCM data: %w", err)
	}

	info := &WavInfo{
		SampleRate:  int(decoder.SampleRate),
		NumChannels: int(decoder.NumChans),
		BitDepth:    int(decoder.BitDepth),
	}
	channels, err := deinterleave(buf, info.NumChannels)
	if err != nil {
		return nil, nil, err
	}
	if len(channels) > 0 {
		info.NumSamples = len(channels[0])
	}

	rec, err := New(float64(info.SampleRate), channels)
	if err != nil {
		return nil, nil, err
	}
	return rec, info, nil
}

// ReadWAVBlocks decodes a WAV file and splits it into consecutive blocks of
// blockSeconds each. The trailing block may be shorter. A non-positive
// blockSeconds yields one block holding the whole file.
func ReadWAVBlocks(path string, blockSeconds float64) ([]*Recording, *WavInfo, error) {
	rec, info, err := ReadWAV(path)
	if err != nil {
		return nil, nil, err
	}
	return Split(rec, int(math.Round(blockSeconds*rec.SampleRate))), info, nil
}

// Split cuts a recording into blocks of blockSamples samples.
func Split(rec *Recording, blockSamples int) []*Recording {
	n := rec.NumSamples()
	if blockSamples <= 0 || blockSamples >= n {
		return []*Recording{rec}
	}

	blocks := make([]*Recording, 0, (n+blockSamples-1)/blockSamples)
	for start := 0; start < n; start += blockSamples {
		end := min(start+blockSamples, n)
		chans := make([][]float64, rec.NumChannels())
		for i, ch := range rec.Channels {
			chans[i] = ch[start:end]
		}
		blocks = append(blocks, &Recording{SampleRate: rec.SampleRate, Channels: chans})
	}
	return blocks
}

// WriteWAV encodes a recording as 16/24/32-bit integer PCM. It is used to
// produce fixtures and exported blocks; samples are rounded toward zero.
func WriteWAV(path string, rec *Recording, bitDepth int) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	numChans := rec.NumChannels()
	n := rec.NumSamples()
	data := make([]int, n*numChans)
	for s := 0; s < n; s++ {
		for c := 0; c < numChans; c++ {
			data[s*numChans+c] = int(rec.Channels[c][s])
		}
	}

	enc := wav.NewEncoder(f, int(rec.SampleRate), bitDepth, numChans, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: numChans, SampleRate: int(rec.SampleRate)},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encoding PCM data: %w", err)
	}
	return enc.Close()
}

func deinterleave(buf *audio.IntBuffer, numChans int) ([][]float64, error) {
	if numChans <= 0 {
		return nil, fmt.Errorf("%w: WAV declares %d channels", ErrInvalidRecording, numChans)
	}
	frames := len(buf.Data) / numChans
	channels := make([][]float64, numChans)
	for c := range channels {
		channels[c] = make([]float64, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < numChans; c++ {
			channels[c][i] = float64(buf.Data[i*numChans+c])
		}
	}
	return channels, nil
}
