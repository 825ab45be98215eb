package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/himanishpuri/ezscreen/pkg/ezscreen"
	"github.com/himanishpuri/ezscreen/pkg/ezscreen/montage"
	"github.com/himanishpuri/ezscreen/pkg/ezscreen/recording"
	"github.com/himanishpuri/ezscreen/pkg/logger"
	"github.com/himanishpuri/ezscreen/pkg/utils"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service ezscreen.Service
	config  *ServerConfig
	log     ezscreen.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	DBPath         string
	SampleRate     float64
	MaxBodyBytes   int64
	AllowedOrigins []string
}

// NewServer creates a new server instance
func NewServer(service ezscreen.Service, config *ServerConfig) *Server {
	return &Server{
		service: service,
		config:  config,
		log:     logger.GetLogger().With("server"),
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// respondBlockError maps a failed block to a status code by cause
func (s *Server) respondBlockError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ezscreen.ErrClassifierTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, ezscreen.ErrExternalClassifier):
		status = http.StatusBadGateway
	case errors.Is(err, ezscreen.ErrInvalidRecording),
		errors.Is(err, ezscreen.ErrMontageInconsistency),
		errors.Is(err, ezscreen.ErrEmptyBand),
		errors.Is(err, ezscreen.ErrInconsistentChannels):
		status = http.StatusUnprocessableEntity
	}

	resp := ErrorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
		Code:    status,
	}
	var be *ezscreen.BlockError
	if errors.As(err, &be) {
		resp.Stage = string(be.Stage)
		resp.Attempts = be.Attempts
	}
	s.respondJSON(w, status, resp)
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "ezscreen API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":     "GET /health",
			"screen":     "POST /api/blocks/screen",
			"raw":        "POST /api/blocks/raw",
			"runs":       "GET /api/runs?file_id={file_id}",
			"deleteRuns": "DELETE /api/runs?file_id={file_id}",
			"scores":     "GET /api/runs/{id}/scores",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"time":            time.Now().Format(time.RFC3339),
		"abandoned_calls": s.service.AbandonedCalls(),
	})
}

// handleScreenBlock handles POST /api/blocks/screen
func (s *Server) handleScreenBlock(w http.ResponseWriter, r *http.Request) {
	s.handleBlock(w, r, ezscreen.VariantScreened)
}

// handleRawBlock handles POST /api/blocks/raw
func (s *Server) handleRawBlock(w http.ResponseWriter, r *http.Request) {
	s.handleBlock(w, r, ezscreen.VariantRaw)
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request, variant ezscreen.Variant) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)

	var req BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			s.respondError(w, http.StatusRequestEntityTooLarge,
				"Request body exceeds "+humanize.Bytes(uint64(mbe.Limit)))
			return
		}
		s.respondError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := montage.New(req.Montage)
	if err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	srate := req.SRate
	if srate == 0 {
		srate = s.config.SampleRate
	}
	rec, err := recording.New(srate, req.Channels)
	if err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	block := ezscreen.Block{
		Recording: rec,
		Meta: ezscreen.RunMetadata{
			FileID:     req.FileID,
			BlockIndex: req.BlockIndex,
			NBlocks:    req.NBlocks,
			FileBlock:  req.FileBlock,
			ChanList:   req.ChanList,
			Montage:    m,
		},
	}

	var res *ezscreen.BlockResult
	if variant == ezscreen.VariantRaw {
		res, err = s.service.ProcessRawBlock(r.Context(), block)
	} else {
		res, err = s.service.ScreenBlock(r.Context(), block)
	}
	if err != nil {
		s.respondBlockError(w, err)
		return
	}

	resp := BlockResponse{
		RunID:          res.RunID,
		Variant:        string(res.Variant),
		FileID:         res.Meta.FileID,
		FileBlock:      res.Meta.FileBlock,
		Flagged:        []int{},
		FlaggedNames:   []string{},
		ChNamesMP:      res.Meta.ChNamesMP,
		ChNamesBP:      res.Meta.ChNamesBP,
		ChNamesSupport: res.Meta.ChNamesSupport,
		Attempts:       res.Attempts,
		DurationMs:     res.Duration.Milliseconds(),
		Data:           res.Output.Data,
		Metadata:       res.Output.Metadata,
	}
	if sc := res.Screening; sc != nil {
		resp.Flagged = sc.Flagged
		resp.FlaggedNames, _ = m.Names(sc.Flagged)
		resp.Scores = toScoreDTOs(sc.ChannelScores(m))
	}

	s.respondJSON(w, http.StatusOK, resp)
}

// handleListRuns handles GET /api/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.service.Runs(r.URL.Query().Get("file_id"))
	if errors.Is(err, ezscreen.ErrNoLedger) {
		s.respondError(w, http.StatusServiceUnavailable, "Run ledger is disabled")
		return
	}
	if err != nil {
		s.log.Errorf("Failed to list runs: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve runs")
		return
	}

	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		flagged := run.Flagged
		if flagged == nil {
			flagged = []int{}
		}
		dtos[i] = RunDTO{
			ID:             run.ID,
			FileID:         run.FileID,
			FileBlock:      run.FileBlock,
			BlockIndex:     run.BlockIndex,
			NBlocks:        run.NBlocks,
			Variant:        string(run.Variant),
			Status:         run.Status,
			Stage:          string(run.Stage),
			Attempts:       run.Attempts,
			Flagged:        flagged,
			MonopolarCount: run.MonopolarCount,
			BipolarCount:   run.BipolarCount,
			SupportCount:   run.SupportCount,
			Error:          run.Error,
			DurationMs:     run.Duration.Milliseconds(),
			CreatedAt:      run.CreatedAt.Format(time.RFC3339),
		}
	}

	s.respondJSON(w, http.StatusOK, ListRunsResponse{Runs: dtos, Count: len(dtos)})
}

// handleDeleteRuns handles DELETE /api/runs
func (s *Server) handleDeleteRuns(w http.ResponseWriter, r *http.Request) {
	fileID := r.URL.Query().Get("file_id")
	if fileID == "" {
		s.respondError(w, http.StatusBadRequest, "file_id is required")
		return
	}

	err := s.service.DeleteRuns(fileID)
	if errors.Is(err, ezscreen.ErrNoLedger) {
		s.respondError(w, http.StatusServiceUnavailable, "Run ledger is disabled")
		return
	}
	if err != nil {
		s.log.Errorf("Failed to delete runs of %s: %v", fileID, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to delete runs")
		return
	}

	s.respondJSON(w, http.StatusOK, DeleteRunsResponse{
		Message: "Runs deleted successfully",
		FileID:  fileID,
	})
}

// handleRunScores handles GET /api/runs/{id}/scores
func (s *Server) handleRunScores(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if !utils.IsRunID(runID) {
		s.respondError(w, http.StatusBadRequest, "Invalid run id: "+runID)
		return
	}

	scores, err := s.service.Scores(runID)
	switch {
	case errors.Is(err, ezscreen.ErrRunNotFound):
		s.respondError(w, http.StatusNotFound, "Run not found")
		return
	case errors.Is(err, ezscreen.ErrNoLedger):
		s.respondError(w, http.StatusServiceUnavailable, "Run ledger is disabled")
		return
	case err != nil:
		s.log.Errorf("Failed to get scores of %s: %v", runID, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve scores")
		return
	}

	s.respondJSON(w, http.StatusOK, ScoresResponse{RunID: runID, Scores: toScoreDTOs(scores)})
}

func toScoreDTOs(scores []ezscreen.ChannelScore) []ChannelScoreDTO {
	dtos := make([]ChannelScoreDTO, len(scores))
	for i, sc := range scores {
		dtos[i] = ChannelScoreDTO{
			Position:  sc.Position,
			ChannelID: sc.ChannelID,
			Name:      sc.Name,
			Score:     sc.Score,
			ZScore:    sc.ZScore,
			Flagged:   sc.Flagged,
		}
	}
	return dtos
}
