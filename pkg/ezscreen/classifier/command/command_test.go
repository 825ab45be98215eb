package command

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/ezscreen/pkg/ezscreen"
	"github.com/himanishpuri/ezscreen/pkg/logger"
)

// writeScript creates an executable shell script and skips the test when
// no shell is available.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "classifier.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func testPayload() *ezscreen.Payload {
	return &ezscreen.Payload{
		Data: ezscreen.PayloadData{
			MPChannels: [][]float64{{1, 2}, {3, 4}},
			BPChannels: [][]float64{{-1, -1}},
		},
		SupportBipolar: [][]float64{{-1, -1}},
		FileID:         "patient01",
		NBlocks:        1,
		BlockSize:      2,
		SRate:          2000,
		FileBlock:      "patient01_0",
		ChNamesMP:      []string{"C0", "C1"},
		ChNamesBP:      []string{"C2"},
		ChanList:       []string{"C0", "C1", "C2", "C3"},
	}
}

func TestClassifierRunsEntryPoint(t *testing.T) {
	script := writeScript(t, `
test -f "$2" || exit 3
printf '{"data":{"entry":"%s"},"metadata":{"file":"%s"}}' "$1" "$(basename "$2")"
`)
	tmp := t.TempDir()
	c := New("sh", WithArgs(script), WithTempDir(tmp), WithLogger(logger.Discard()))

	res, err := c.ClassifyScreened(context.Background(), testPayload())
	require.NoError(t, err)
	assert.JSONEq(t, `{"entry":"ez_bad_channel_temp"}`, string(res.Data))
	assert.JSONEq(t, `{"file":"patient01_0.json"}`, string(res.Metadata))

	res, err = c.ClassifyRaw(context.Background(), testPayload())
	require.NoError(t, err)
	assert.JSONEq(t, `{"entry":"ez_bad_channel_temp_lfp"}`, string(res.Data))

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "payload files should be removed")
}

func TestClassifierKeepsPayload(t *testing.T) {
	script := writeScript(t, `printf '{"data":[],"metadata":{}}'`)
	tmp := t.TempDir()
	c := New("sh", WithArgs(script), WithTempDir(tmp), KeepPayloads(), WithLogger(logger.Discard()))

	_, err := c.ClassifyScreened(context.Background(), testPayload())
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(tmp, "patient01_0.json"))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	for _, key := range []string{"data", "support_bipolar", "file_id", "n_blocks", "block_size",
		"srate", "file_block", "ch_names_bp", "ch_names_mp", "chanlist", "ez_montage"} {
		assert.Contains(t, got, key)
	}
	data := got["data"].(map[string]any)
	assert.Contains(t, data, "mp_channels")
	assert.Contains(t, data, "bp_channels")
}

func TestClassifierFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"non-zero exit", "echo boom >&2; exit 1", ezscreen.ErrExternalClassifier},
		{"not json", "echo hello", ezscreen.ErrMalformedResult},
		{"missing metadata", `printf '{"data":{}}'`, ezscreen.ErrMalformedResult},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := writeScript(t, tt.body)
			c := New("sh", WithArgs(script), WithTempDir(t.TempDir()), WithLogger(logger.Discard()))

			_, err := c.ClassifyScreened(context.Background(), testPayload())
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ezscreen.ErrExternalClassifier)
		})
	}
}

func TestClassifierStderrInError(t *testing.T) {
	script := writeScript(t, "echo 'engine exploded' >&2; exit 2")
	c := New("sh", WithArgs(script), WithTempDir(t.TempDir()), WithLogger(logger.Discard()))

	_, err := c.ClassifyRaw(context.Background(), testPayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine exploded")
}

func TestClassifierContextCanceled(t *testing.T) {
	script := writeScript(t, "exec sleep 5")
	c := New("sh", WithArgs(script), WithTempDir(t.TempDir()), WithLogger(logger.Discard()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.ClassifyScreened(ctx, testPayload())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestClassifierNoProgram(t *testing.T) {
	c := New("", WithLogger(logger.Discard()))
	_, err := c.ClassifyScreened(context.Background(), testPayload())
	assert.ErrorIs(t, err, ezscreen.ErrExternalClassifier)
}

func TestPayloadFileName(t *testing.T) {
	assert.Equal(t, "a_b.json", payloadFileName("a/b"))
	assert.Equal(t, "block.json", payloadFileName(""))
	assert.Equal(t, "p_3.json", payloadFileName("p_3"))
}
