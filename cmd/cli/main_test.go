package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/ezscreen/pkg/ezscreen/interference"
	"github.com/himanishpuri/ezscreen/pkg/ezscreen/recording"
)

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		positional []string
		flags      []string
	}{
		{name: "empty"},
		{name: "positional only", args: []string{"rec.wav"}, positional: []string{"rec.wav"}},
		{
			name:       "positional then flags",
			args:       []string{"rec.wav", "-montage", "m.yaml", "-block", "10"},
			positional: []string{"rec.wav"},
			flags:      []string{"-montage", "m.yaml", "-block", "10"},
		},
		{
			name:  "flags first",
			args:  []string{"-montage", "m.yaml", "rec.wav"},
			flags: []string{"-montage", "m.yaml", "rec.wav"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			positional, flags := splitArgs(tt.args)
			assert.Equal(t, tt.positional, positional)
			assert.Equal(t, tt.flags, flags)
		})
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("EZSCREEN_TEST_VALUE", "")
	assert.Equal(t, "fallback", getEnvOrDefault("EZSCREEN_TEST_VALUE", "fallback"))

	t.Setenv("EZSCREEN_TEST_VALUE", "set")
	assert.Equal(t, "set", getEnvOrDefault("EZSCREEN_TEST_VALUE", "fallback"))
}

func rampRecording(t *testing.T, samples int) *recording.Recording {
	t.Helper()
	channels := make([][]float64, 2)
	for c := range channels {
		channels[c] = make([]float64, samples)
		for i := range channels[c] {
			channels[c][i] = float64(c*samples + i)
		}
	}
	rec, err := recording.New(2000, channels)
	require.NoError(t, err)
	return rec
}

func TestMergeShortTail(t *testing.T) {
	rec := rampRecording(t, 2100)
	parts := recording.Split(rec, 1000)
	require.Len(t, parts, 3)

	merged := mergeShortTail(parts, interference.PowerlineBand)
	require.Len(t, merged, 2)
	assert.Equal(t, 1000, merged[0].NumSamples())
	assert.Equal(t, 1100, merged[1].NumSamples())
	assert.Equal(t, rec.Channels[1][1000:], merged[1].Channels[1])
	require.NoError(t, merged[1].Validate())

	_, _, err := interference.BandIndexRange(merged[1].NumSamples(), merged[1].SampleRate, interference.PowerlineBand)
	assert.NoError(t, err)
	assert.Len(t, parts, 3, "input blocks are left untouched")
	assert.Equal(t, 100, parts[2].NumSamples())
}

func TestMergeShortTailKeepsResolvableBlocks(t *testing.T) {
	parts := recording.Split(rampRecording(t, 3000), 1000)
	assert.Len(t, mergeShortTail(parts, interference.PowerlineBand), 3)

	single := recording.Split(rampRecording(t, 100), 0)
	assert.Len(t, mergeShortTail(single, interference.PowerlineBand), 1)
}

func TestReadLabels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("Fp1\n  Fp2 \n\nF3\r\n"), 0o644))

	labels, err := readLabels(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Fp1", "Fp2", "F3"}, labels)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n\n"), 0o644))
	_, err = readLabels(empty)
	assert.Error(t, err)

	_, err = readLabels(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}
