package montage

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ErrMontageInconsistency is a fatal configuration error: the montage
// references a channel it cannot resolve.
var ErrMontageInconsistency = errors.New("montage inconsistency")

// Spec is the serialised form of a montage as stored in montage files.
type Spec struct {
	Names              map[int]string `yaml:"names" json:"names"`
	SuggestedMonopolar []int          `yaml:"suggested_monopolar" json:"suggested_monopolar"`
	SuggestedBipolar   []int          `yaml:"suggested_bipolar" json:"suggested_bipolar"`
	PairReferences     map[int]int    `yaml:"pair_references" json:"pair_references"`
}

// Montage is the read-only wiring map of one recording session.
type Montage struct {
	names     map[int]string
	monopolar []int
	bipolar   []int
	pairs     map[int]int
	pairable  []int
}

// New validates spec and returns an immutable montage. Every id used by
// the suggested lists and the pair map must be named, and every suggested
// bipolar id must have a pair.
func New(spec Spec) (*Montage, error) {
	if len(spec.Names) == 0 {
		return nil, fmt.Errorf("%w: no channel names", ErrMontageInconsistency)
	}

	m := &Montage{
		names:     maps.Clone(spec.Names),
		monopolar: slices.Clone(spec.SuggestedMonopolar),
		bipolar:   slices.Clone(spec.SuggestedBipolar),
		pairs:     maps.Clone(spec.PairReferences),
	}
	if m.pairs == nil {
		m.pairs = map[int]int{}
	}

	if err := m.checkList("suggested_monopolar", m.monopolar); err != nil {
		return nil, err
	}
	if err := m.checkList("suggested_bipolar", m.bipolar); err != nil {
		return nil, err
	}
	for _, id := range m.bipolar {
		if _, ok := m.pairs[id]; !ok {
			return nil, fmt.Errorf("%w: suggested bipolar channel %d has no pair reference", ErrMontageInconsistency, id)
		}
	}
	for id, ref := range m.pairs {
		if !m.Has(id) {
			return nil, fmt.Errorf("%w: pair reference from unnamed channel %d", ErrMontageInconsistency, id)
		}
		if !m.Has(ref) {
			return nil, fmt.Errorf("%w: channel %d paired with unnamed channel %d", ErrMontageInconsistency, id, ref)
		}
	}

	m.pairable = slices.Sorted(maps.Keys(m.pairs))
	return m, nil
}

func (m *Montage) checkList(field string, ids []int) error {
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if !m.Has(id) {
			return fmt.Errorf("%w: %s references unnamed channel %d", ErrMontageInconsistency, field, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %s lists channel %d twice", ErrMontageInconsistency, field, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Load reads a YAML montage file.
func Load(path string) (*Montage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading montage: %w", err)
	}
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("decoding montage %s: %w", path, err)
	}
	return New(spec)
}

// Save writes spec as YAML.
func Save(path string, spec Spec) error {
	data, err := yaml.Marshal(spec)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Has reports whether id belongs to the montage's namespace.
func (m *Montage) Has(id int) bool {
	_, ok := m.names[id]
	return ok
}

// Name returns the label of id, or "" when id is not part of the montage.
func (m *Montage) Name(id int) string {
	return m.names[id]
}

// Names resolves ids to labels, failing on the first unknown id.
func (m *Montage) Names(ids []int) ([]string, error) {
	out := make([]string, len(ids))
	for i, id := range ids {
		name, ok := m.names[id]
		if !ok {
			return nil, fmt.Errorf("%w: channel %d is not named", ErrMontageInconsistency, id)
		}
		out[i] = name
	}
	return out, nil
}

// Pair returns the reference channel of id.
func (m *Montage) Pair(id int) (int, bool) {
	ref, ok := m.pairs[id]
	return ref, ok
}

// SuggestedMonopolar returns a copy of the monopolar-suggested ids.
func (m *Montage) SuggestedMonopolar() []int { return slices.Clone(m.monopolar) }

// SuggestedBipolar returns a copy of the bipolar-suggested ids.
func (m *Montage) SuggestedBipolar() []int { return slices.Clone(m.bipolar) }

// Pairable returns every id with a pair reference, ascending.
func (m *Montage) Pairable() []int { return slices.Clone(m.pairable) }

// ChannelList returns one label per recording row for a recording of rows
// channels. Rows the montage does not name get a positional label "ch<i>".
func (m *Montage) ChannelList(rows int) []string {
	out := make([]string, rows)
	for i := range out {
		if name, ok := m.names[i]; ok {
			out[i] = name
		} else {
			out[i] = fmt.Sprintf("ch%d", i)
		}
	}
	return out
}

// Spec returns a deep copy of the montage in its serialised form.
func (m *Montage) Spec() Spec {
	return Spec{
		Names:              maps.Clone(m.names),
		SuggestedMonopolar: slices.Clone(m.monopolar),
		SuggestedBipolar:   slices.Clone(m.bipolar),
		PairReferences:     maps.Clone(m.pairs),
	}
}
