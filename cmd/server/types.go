package main

import (
	"encoding/json"
	"fmt"

	"github.com/himanishpuri/ezscreen/pkg/ezscreen/montage"
)

// BlockRequest is the request body for POST /api/blocks/screen and
// POST /api/blocks/raw.
type BlockRequest struct {
	FileID     string  `json:"file_id"`
	BlockIndex int     `json:"block_index"`
	NBlocks    int     `json:"n_blocks,omitempty"`
	FileBlock  string  `json:"file_block,omitempty"`
	SRate      float64 `json:"srate,omitempty"`

	// Channels holds one row of samples per recorded channel, indexed by
	// channel id. ChanList optionally labels each row; when omitted the
	// labels come from the montage.
	Channels [][]float64  `json:"channels"`
	ChanList []string     `json:"chanlist,omitempty"`
	Montage  montage.Spec `json:"montage"`
}

// Validate checks if the request is valid
func (r *BlockRequest) Validate() error {
	if r.FileID == "" {
		return fmt.Errorf("file_id is required")
	}
	if len(r.Channels) == 0 {
		return fmt.Errorf("channels cannot be empty")
	}
	if r.BlockIndex < 0 {
		return fmt.Errorf("block_index must not be negative")
	}
	if r.NBlocks != 0 && r.BlockIndex >= r.NBlocks {
		return fmt.Errorf("block_index %d out of range for %d blocks", r.BlockIndex, r.NBlocks)
	}
	return nil
}

// BlockResponse is the response for a processed block
type BlockResponse struct {
	RunID          string            `json:"run_id"`
	Variant        string            `json:"variant"`
	FileID         string            `json:"file_id"`
	FileBlock      string            `json:"file_block"`
	Flagged        []int             `json:"flagged"`
	FlaggedNames   []string          `json:"flagged_names"`
	ChNamesMP      []string          `json:"ch_names_mp"`
	ChNamesBP      []string          `json:"ch_names_bp"`
	ChNamesSupport []string          `json:"ch_names_support"`
	Scores         []ChannelScoreDTO `json:"scores,omitempty"`
	Attempts       int               `json:"attempts"`
	DurationMs     int64             `json:"duration_ms"`
	Data           json.RawMessage   `json:"data"`
	Metadata       json.RawMessage   `json:"metadata"`
}

// ChannelScoreDTO represents the interference score of one channel
type ChannelScoreDTO struct {
	Position  int     `json:"position"`
	ChannelID int     `json:"channel_id"`
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
	ZScore    float64 `json:"z_score"`
	Flagged   bool    `json:"flagged"`
}

// RunDTO represents a ledger entry in API responses
type RunDTO struct {
	ID             string `json:"id"`
	FileID         string `json:"file_id"`
	FileBlock      string `json:"file_block"`
	BlockIndex     int    `json:"block_index"`
	NBlocks        int    `json:"n_blocks"`
	Variant        string `json:"variant"`
	Status         string `json:"status"`
	Stage          string `json:"stage,omitempty"`
	Attempts       int    `json:"attempts"`
	Flagged        []int  `json:"flagged"`
	MonopolarCount int    `json:"monopolar_count"`
	BipolarCount   int    `json:"bipolar_count"`
	SupportCount   int    `json:"support_count"`
	Error          string `json:"error,omitempty"`
	DurationMs     int64  `json:"duration_ms"`
	CreatedAt      string `json:"created_at"`
}

// ListRunsResponse is the response for GET /api/runs
type ListRunsResponse struct {
	Runs  []RunDTO `json:"runs"`
	Count int      `json:"count"`
}

// ScoresResponse is the response for GET /api/runs/{id}/scores
type ScoresResponse struct {
	RunID  string            `json:"run_id"`
	Scores []ChannelScoreDTO `json:"scores"`
}

// DeleteRunsResponse is the response for DELETE /api/runs
type DeleteRunsResponse struct {
	Message string `json:"message"`
	FileID  string `json:"file_id"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error    string `json:"error"`
	Message  string `json:"message,omitempty"`
	Code     int    `json:"code,omitempty"`
	Stage    string `json:"stage,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}
