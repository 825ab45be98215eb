package montage

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/ezscreen/pkg/ezscreen/recording"
)

func names(ids ...int) map[int]string {
	out := make(map[int]string, len(ids))
	for _, id := range ids {
		out[id] = fmt.Sprintf("CH%02d", id)
	}
	return out
}

func namesUpTo(n int) map[int]string {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	return names(ids...)
}

// rampRecording returns n channels where channel i is [i, 2i, 3i, ...].
func rampRecording(t *testing.T, n, samples int) *recording.Recording {
	t.Helper()
	chans := make([][]float64, n)
	for i := range chans {
		chans[i] = make([]float64, samples)
		for s := range chans[i] {
			chans[i][s] = float64(i * (s + 1))
		}
	}
	rec, err := recording.New(2000, chans)
	require.NoError(t, err)
	return rec
}

func TestNewValidation(t *testing.T) {
	tcs := map[string]Spec{
		"no names": {},
		"monopolar unnamed": {
			Names:              names(1, 2),
			SuggestedMonopolar: []int{1, 3},
		},
		"monopolar duplicate": {
			Names:              names(1, 2),
			SuggestedMonopolar: []int{1, 2, 1},
		},
		"bipolar without pair": {
			Names:            names(1, 2),
			SuggestedBipolar: []int{1},
			PairReferences:   map[int]int{2: 1},
		},
		"pair to unnamed": {
			Names:            names(1, 2),
			SuggestedBipolar: []int{1},
			PairReferences:   map[int]int{1: 9},
		},
		"pair from unnamed": {
			Names:          names(1, 2),
			PairReferences: map[int]int{9: 1},
		},
	}

	for name, spec := range tcs {
		t.Run(name, func(t *testing.T) {
			_, err := New(spec)
			assert.ErrorIs(t, err, ErrMontageInconsistency)
		})
	}
}

func TestMontageIsImmutable(t *testing.T) {
	spec := Spec{
		Names:              names(1, 2, 3),
		SuggestedMonopolar: []int{1, 2},
		SuggestedBipolar:   []int{3},
		PairReferences:     map[int]int{3: 2},
	}
	m, err := New(spec)
	require.NoError(t, err)

	spec.SuggestedMonopolar[0] = 3
	spec.Names[1] = "changed"
	spec.PairReferences[3] = 1

	assert.Equal(t, []int{1, 2}, m.SuggestedMonopolar())
	assert.Equal(t, "CH01", m.Name(1))
	ref, ok := m.Pair(3)
	assert.True(t, ok)
	assert.Equal(t, 2, ref)

	got := m.SuggestedMonopolar()
	got[0] = 99
	assert.Equal(t, []int{1, 2}, m.SuggestedMonopolar())
}

func TestLoadAndSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "montage.yaml")
	doc := `
names:
  0: Fp1
  1: Fp2
  2: F3
  3: F4
suggested_monopolar: [0, 1]
suggested_bipolar: [2]
pair_references:
  2: 3
  0: 2
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "F3", m.Name(2))
	assert.Equal(t, []int{0, 1}, m.SuggestedMonopolar())
	assert.Equal(t, []int{0, 2}, m.Pairable())
	assert.Equal(t, []string{"Fp1", "Fp2", "F3", "F4"}, m.ChannelList(4))

	out := filepath.Join(t.TempDir(), "copy.yaml")
	require.NoError(t, Save(out, m.Spec()))
	again, err := Load(out)
	require.NoError(t, err)
	assert.Equal(t, m.Spec(), again.Spec())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestChannelListCoversEveryRow(t *testing.T) {
	m, err := New(Spec{
		Names:              map[int]string{1: "A1", 3: "A3", 5: "A5"},
		SuggestedMonopolar: []int{1, 3, 5},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"ch0", "A1", "ch2", "A3", "ch4", "A5"}, m.ChannelList(6))
	assert.Equal(t, []string{"ch0", "A1"}, m.ChannelList(2))
	assert.Empty(t, m.ChannelList(0))
}

func TestDeriveScenario(t *testing.T) {
	m, err := New(Spec{
		Names:              names(10, 11, 12, 13, 20, 21),
		SuggestedMonopolar: []int{10, 11, 12},
		SuggestedBipolar:   []int{20},
		PairReferences:     map[int]int{20: 21, 10: 13},
	})
	require.NoError(t, err)
	rec := rampRecording(t, 22, 4)

	groups, err := Derive(rec, m, nil)
	require.NoError(t, err)

	require.Equal(t, 3, groups.Monopolar.Len())
	for _, sig := range groups.Monopolar.Signals {
		assert.Len(t, sig, 4)
	}
	assert.Equal(t, []string{"CH10", "CH11", "CH12"}, groups.Monopolar.Names)
	assert.Equal(t, []float64{11, 22, 33, 44}, groups.Monopolar.Signals[1])

	require.Equal(t, 1, groups.Bipolar.Len())
	assert.Equal(t, []float64{-1, -2, -3, -4}, groups.Bipolar.Signals[0])
	assert.Equal(t, []string{"CH20"}, groups.Bipolar.Names)

	require.Equal(t, 2, groups.SupportBipolar.Len())
	assert.ElementsMatch(t, []int{20, 10}, groups.SupportBipolar.IDs)
	assert.Equal(t, []int{10, 20}, groups.SupportBipolar.IDs)
	assert.Equal(t, []float64{-3, -6, -9, -12}, groups.SupportBipolar.Signals[0])
}

func TestDeriveFlagPropagation(t *testing.T) {
	m, err := New(Spec{
		Names:              names(1, 2, 3),
		SuggestedMonopolar: []int{1, 2, 3},
		PairReferences:     map[int]int{},
	})
	require.NoError(t, err)
	rec := rampRecording(t, 4, 8)

	groups, err := Derive(rec, m, map[int]struct{}{2: {}})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3}, groups.Monopolar.IDs)
	assert.Equal(t, []string{"CH01", "CH03"}, groups.Monopolar.Names)
	assert.Equal(t, rec.Channels[3], groups.Monopolar.Signals[1])
	assert.Zero(t, groups.Bipolar.Len())
	assert.Zero(t, groups.SupportBipolar.Len())
}

func TestDeriveSupportIgnoresFlags(t *testing.T) {
	m, err := New(Spec{
		Names:              namesUpTo(8),
		SuggestedMonopolar: []int{0, 1, 2, 3},
		SuggestedBipolar:   []int{4, 5},
		PairReferences:     map[int]int{4: 6, 5: 7, 0: 1, 2: 3},
	})
	require.NoError(t, err)
	rec := rampRecording(t, 8, 16)

	clean, err := Derive(rec, m, nil)
	require.NoError(t, err)

	for _, bad := range []map[int]struct{}{
		{0: {}},
		{0: {}, 2: {}},
		{0: {}, 1: {}, 2: {}, 3: {}},
		{4: {}, 6: {}},
	} {
		flagged, err := Derive(rec, m, bad)
		require.NoError(t, err)
		assert.Equal(t, clean.SupportBipolar, flagged.SupportBipolar)
		assert.Equal(t, clean.Bipolar, flagged.Bipolar)
		assert.Equal(t, len(m.SuggestedBipolar()), flagged.Bipolar.Len())
		assert.Equal(t, len(m.Pairable()), flagged.SupportBipolar.Len())
		for _, id := range flagged.Monopolar.IDs {
			_, isBad := bad[id]
			assert.False(t, isBad, "flagged channel %d kept", id)
		}
	}
}

func TestDeriveDoesNotAliasRecording(t *testing.T) {
	m, err := New(Spec{Names: names(0, 1), SuggestedMonopolar: []int{0}, PairReferences: map[int]int{0: 1}})
	require.NoError(t, err)
	rec := rampRecording(t, 2, 3)

	groups, err := Derive(rec, m, nil)
	require.NoError(t, err)
	groups.Monopolar.Signals[0][0] = 1000
	groups.SupportBipolar.Signals[0][0] = 1000

	assert.Equal(t, []float64{0, 0, 0}, rec.Channels[0])
	assert.Equal(t, []float64{1, 2, 3}, rec.Channels[1])
}

func TestDeriveChannelOutsideRecording(t *testing.T) {
	m, err := New(Spec{
		Names:            names(0, 1, 30),
		SuggestedBipolar: []int{0},
		PairReferences:   map[int]int{0: 30},
	})
	require.NoError(t, err)

	_, err = Derive(rampRecording(t, 2, 4), m, nil)
	assert.ErrorIs(t, err, ErrMontageInconsistency)

	m, err = New(Spec{Names: names(5), SuggestedMonopolar: []int{5}})
	require.NoError(t, err)
	_, err = Derive(rampRecording(t, 2, 4), m, nil)
	assert.ErrorIs(t, err, ErrMontageInconsistency)
}
