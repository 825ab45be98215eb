package montage

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/himanishpuri/ezscreen/pkg/ezscreen/recording"
)

// Group is one derived channel set; Names[i] and Signals[i] belong to IDs[i].
type Group struct {
	IDs     []int
	Names   []string
	Signals [][]float64
}

// Len returns the number of channels in the group.
func (g Group) Len() int { return len(g.IDs) }

// DerivedChannelGroups is what the deriver hands to the bad channel
// classifier.
type DerivedChannelGroups struct {
	Monopolar Group
	Bipolar   Group
	// SupportBipolar covers every pairable channel and ignores bad flags.
	SupportBipolar Group
}

// Derive builds the monopolar, bipolar and support-bipolar groups of rec.
// Channels in bad are dropped from the monopolar group only, keeping the
// suggested order. Signals are fresh copies; rec is never modified.
func Derive(rec *recording.Recording, m *Montage, bad map[int]struct{}) (*DerivedChannelGroups, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	mpIDs := slices.DeleteFunc(m.SuggestedMonopolar(), func(id int) bool {
		_, flagged := bad[id]
		return flagged
	})

	mp, err := monopolarGroup(rec, m, mpIDs)
	if err != nil {
		return nil, err
	}
	bp, err := bipolarGroup(rec, m, m.SuggestedBipolar())
	if err != nil {
		return nil, err
	}
	support, err := bipolarGroup(rec, m, m.Pairable())
	if err != nil {
		return nil, err
	}

	return &DerivedChannelGroups{Monopolar: mp, Bipolar: bp, SupportBipolar: support}, nil
}

func monopolarGroup(rec *recording.Recording, m *Montage, ids []int) (Group, error) {
	names, err := m.Names(ids)
	if err != nil {
		return Group{}, err
	}
	signals := make([][]float64, len(ids))
	for i, id := range ids {
		raw, err := row(rec, id)
		if err != nil {
			return Group{}, err
		}
		signals[i] = slices.Clone(raw)
	}
	return Group{IDs: ids, Names: names, Signals: signals}, nil
}

// bipolarGroup computes raw(id) - raw(pair(id)) for each id.
func bipolarGroup(rec *recording.Recording, m *Montage, ids []int) (Group, error) {
	names, err := m.Names(ids)
	if err != nil {
		return Group{}, err
	}
	signals := make([][]float64, len(ids))
	for i, id := range ids {
		ref, ok := m.Pair(id)
		if !ok {
			return Group{}, fmt.Errorf("%w: channel %d has no pair reference", ErrMontageInconsistency, id)
		}
		raw, err := row(rec, id)
		if err != nil {
			return Group{}, err
		}
		refRaw, err := row(rec, ref)
		if err != nil {
			return Group{}, err
		}
		signals[i] = floats.SubTo(make([]float64, len(raw)), raw, refRaw)
	}
	return Group{IDs: ids, Names: names, Signals: signals}, nil
}

func row(rec *recording.Recording, id int) ([]float64, error) {
	if id < 0 || id >= rec.NumChannels() {
		return nil, fmt.Errorf("%w: channel %d is outside the %d recorded channels",
			ErrMontageInconsistency, id, rec.NumChannels())
	}
	return rec.Channels[id], nil
}
