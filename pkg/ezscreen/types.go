package ezscreen

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/himanishpuri/ezscreen/pkg/ezscreen/montage"
	"github.com/himanishpuri/ezscreen/pkg/ezscreen/recording"
)

// Variant selects the orchestration path of a block.
type Variant string

const (
	// VariantScreened runs interference screening before derivation.
	VariantScreened Variant = "screened"
	// VariantRaw skips screening; used for data that is interference-free
	// by construction (e.g. post-processed low-frequency blocks).
	VariantRaw Variant = "raw"
)

// RunMetadata identifies one block. The name lists are filled in by the
// pipeline on a fresh copy; the montage itself is never modified.
// ChanList labels every recording row; when nil it is built from the
// montage names, with "ch<i>" for rows the montage does not name.
type RunMetadata struct {
	FileID     string
	BlockIndex int
	NBlocks    int
	BlockSize  int
	SRate      float64
	FileBlock  string
	ChanList   []string
	Montage    *montage.Montage

	ChNamesMP      []string
	ChNamesBP      []string
	ChNamesSupport []string
}

// withDerived returns a copy of m completed with defaults from rec and the
// names of the derived groups.
func (m RunMetadata) withDerived(rec *recording.Recording, g *montage.DerivedChannelGroups) RunMetadata {
	out := m
	if out.BlockSize == 0 {
		out.BlockSize = rec.NumSamples()
	}
	if out.SRate == 0 {
		out.SRate = rec.SampleRate
	}
	if out.NBlocks == 0 {
		out.NBlocks = 1
	}
	if out.FileBlock == "" {
		out.FileBlock = fmt.Sprintf("%s_%d", out.FileID, out.BlockIndex)
	}
	if out.ChanList == nil && out.Montage != nil {
		out.ChanList = out.Montage.ChannelList(rec.NumChannels())
	} else {
		out.ChanList = slices.Clone(out.ChanList)
	}
	out.ChNamesMP = slices.Clone(g.Monopolar.Names)
	out.ChNamesBP = slices.Clone(g.Bipolar.Names)
	out.ChNamesSupport = slices.Clone(g.SupportBipolar.Names)
	return out
}

// Block is one unit of work: a recording block and its identifiers.
type Block struct {
	Recording *recording.Recording
	Meta      RunMetadata
}

// PayloadData holds the two derived signal matrices.
type PayloadData struct {
	MPChannels [][]float64 `json:"mp_channels"`
	BPChannels [][]float64 `json:"bp_channels"`
}

// Payload is what the external bad channel classifier receives for one
// block. Field names are part of the contract with that engine.
type Payload struct {
	Data           PayloadData  `json:"data"`
	SupportBipolar [][]float64  `json:"support_bipolar"`
	FileID         string       `json:"file_id"`
	NBlocks        int          `json:"n_blocks"`
	BlockSize      int          `json:"block_size"`
	SRate          float64      `json:"srate"`
	FileBlock      string       `json:"file_block"`
	ChNamesBP      []string     `json:"ch_names_bp"`
	ChNamesMP      []string     `json:"ch_names_mp"`
	ChanList       []string     `json:"chanlist"`
	EZMontage      montage.Spec `json:"ez_montage"`
}

func newPayload(meta RunMetadata, g *montage.DerivedChannelGroups) *Payload {
	p := &Payload{
		Data: PayloadData{
			MPChannels: g.Monopolar.Signals,
			BPChannels: g.Bipolar.Signals,
		},
		SupportBipolar: g.SupportBipolar.Signals,
		FileID:         meta.FileID,
		NBlocks:        meta.NBlocks,
		BlockSize:      meta.BlockSize,
		SRate:          meta.SRate,
		FileBlock:      meta.FileBlock,
		ChNamesBP:      meta.ChNamesBP,
		ChNamesMP:      meta.ChNamesMP,
		ChanList:       meta.ChanList,
	}
	if meta.Montage != nil {
		p.EZMontage = meta.Montage.Spec()
	}
	return p
}

// ClassifierResult is the updated (data, metadata) pair returned by the
// external classifier. Its content is opaque to this package.
type ClassifierResult struct {
	Data     json.RawMessage `json:"data"`
	Metadata json.RawMessage `json:"metadata"`
}

// Validate rejects results with a missing data or metadata part.
func (r *ClassifierResult) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: empty result", ErrMalformedResult)
	}
	if isEmptyJSON(r.Data) {
		return fmt.Errorf("%w: missing data", ErrMalformedResult)
	}
	if isEmptyJSON(r.Metadata) {
		return fmt.Errorf("%w: missing metadata", ErrMalformedResult)
	}
	return nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Screening is the outcome of interference screening over the
// monopolar-suggested channels. Index i of ChannelIDs, Scores and ZScores
// refers to the same channel.
type Screening struct {
	ChannelIDs []int
	Scores     []float64
	ZScores    []float64
	// Positions indexes ChannelIDs; Flagged holds the matching channel ids.
	Positions []int
	Flagged   []int
}

// ChannelScores returns one entry per screened channel, labelled with
// the names of m.
func (sc *Screening) ChannelScores(m *montage.Montage) []ChannelScore {
	flagged := make(map[int]bool, len(sc.Positions))
	for _, pos := range sc.Positions {
		flagged[pos] = true
	}
	out := make([]ChannelScore, len(sc.ChannelIDs))
	for i, id := range sc.ChannelIDs {
		out[i] = ChannelScore{
			Position:  i,
			ChannelID: id,
			Name:      m.Name(id),
			Flagged:   flagged[i],
		}
		if i < len(sc.Scores) {
			out[i].Score = sc.Scores[i]
		}
		if i < len(sc.ZScores) {
			out[i].ZScore = sc.ZScores[i]
		}
	}
	return out
}

// BlockResult is the outcome of one successfully processed block.
type BlockResult struct {
	RunID     string
	Variant   Variant
	Meta      RunMetadata
	Groups    *montage.DerivedChannelGroups
	Screening *Screening // nil for VariantRaw
	Output    *ClassifierResult
	Attempts  int
	Duration  time.Duration
}

// RunReport collects the outcome of a multi-block run. A failed block
// never prevents later blocks from being processed.
type RunReport struct {
	Results  []*BlockResult
	Failures []*BlockError
}

// Failed reports whether any block failed.
func (r *RunReport) Failed() bool { return len(r.Failures) > 0 }

// RunRecord is a ledger entry for one block.
type RunRecord struct {
	ID             string
	FileID         string
	FileBlock      string
	BlockIndex     int
	NBlocks        int
	Variant        Variant
	Status         string // "ok" or "failed"
	Stage          Stage  // failing stage, empty on success
	Attempts       int
	Flagged        []int
	MonopolarCount int
	BipolarCount   int
	SupportCount   int
	Error          string
	Duration       time.Duration
	CreatedAt      time.Time
}

// ChannelScore is the persisted interference score of a screened channel.
type ChannelScore struct {
	Position  int
	ChannelID int
	Name      string
	Score     float64
	ZScore    float64
	Flagged   bool
}

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)
