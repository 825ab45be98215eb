package ezscreen

import (
	"time"

	"github.com/himanishpuri/ezscreen/pkg/ezscreen/storage"
)

// ledgerAdapter adapts storage.DBClient to the Ledger interface.
type ledgerAdapter struct {
	db *storage.DBClient
}

// NewSQLiteLedger opens (or creates) a run ledger at dbPath.
func NewSQLiteLedger(dbPath string) (Ledger, error) {
	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		return nil, err
	}
	return &ledgerAdapter{db: db}, nil
}

func (l *ledgerAdapter) RecordRun(run *RunRecord, scores []ChannelScore) error {
	row := &storage.BlockRun{
		ID:             run.ID,
		FileID:         run.FileID,
		BlockIndex:     run.BlockIndex,
		FileBlock:      run.FileBlock,
		NBlocks:        run.NBlocks,
		Variant:        string(run.Variant),
		Status:         run.Status,
		Stage:          string(run.Stage),
		Attempts:       run.Attempts,
		FlaggedIDs:     storage.JoinIDs(run.Flagged),
		MonopolarCount: run.MonopolarCount,
		BipolarCount:   run.BipolarCount,
		SupportCount:   run.SupportCount,
		Error:          run.Error,
		DurationMs:     run.Duration.Milliseconds(),
	}

	rows := make([]storage.ChannelScore, len(scores))
	for i, s := range scores {
		rows[i] = storage.ChannelScore{
			Position:  s.Position,
			ChannelID: s.ChannelID,
			Name:      s.Name,
			Score:     s.Score,
			ZScore:    s.ZScore,
			Flagged:   s.Flagged,
		}
	}

	if err := l.db.RecordRun(row, rows); err != nil {
		return err
	}
	run.ID = row.ID
	run.CreatedAt = row.CreatedAt
	return nil
}

func (l *ledgerAdapter) ListRuns(fileID string) ([]RunRecord, error) {
	rows, err := l.db.ListRuns(fileID)
	if err != nil {
		return nil, err
	}

	runs := make([]RunRecord, 0, len(rows))
	for _, r := range rows {
		flagged, err := storage.SplitIDs(r.FlaggedIDs)
		if err != nil {
			return nil, err
		}
		runs = append(runs, RunRecord{
			ID:             r.ID,
			FileID:         r.FileID,
			FileBlock:      r.FileBlock,
			BlockIndex:     r.BlockIndex,
			NBlocks:        r.NBlocks,
			Variant:        Variant(r.Variant),
			Status:         r.Status,
			Stage:          Stage(r.Stage),
			Attempts:       r.Attempts,
			Flagged:        flagged,
			MonopolarCount: r.MonopolarCount,
			BipolarCount:   r.BipolarCount,
			SupportCount:   r.SupportCount,
			Error:          r.Error,
			Duration:       time.Duration(r.DurationMs) * time.Millisecond,
			CreatedAt:      r.CreatedAt,
		})
	}
	return runs, nil
}

func (l *ledgerAdapter) GetScores(runID string) ([]ChannelScore, error) {
	if _, err := l.db.GetRun(runID); err != nil {
		return nil, err
	}
	rows, err := l.db.GetScores(runID)
	if err != nil {
		return nil, err
	}

	scores := make([]ChannelScore, len(rows))
	for i, r := range rows {
		scores[i] = ChannelScore{
			Position:  r.Position,
			ChannelID: r.ChannelID,
			Name:      r.Name,
			Score:     r.Score,
			ZScore:    r.ZScore,
			Flagged:   r.Flagged,
		}
	}
	return scores, nil
}

func (l *ledgerAdapter) DeleteRunsByFile(fileID string) error {
	return l.db.DeleteRunsByFile(fileID)
}

func (l *ledgerAdapter) Close() error {
	return l.db.Close()
}
