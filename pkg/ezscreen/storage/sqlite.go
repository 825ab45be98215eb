package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/himanishpuri/ezscreen/pkg/utils"
)

const DefaultDBFile = "ezscreen.sqlite3"
const errDBClientNil = "db client is nil"

// ErrRunNotFound is returned when a run id is not in the ledger.
var ErrRunNotFound = errors.New("run not found")

type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

// BlockRun is one processed block, successful or not.
type BlockRun struct {
	ID             string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	FileID         string `gorm:"index:idx_run_file,priority:1" json:"file_id"`
	BlockIndex     int    `gorm:"index:idx_run_file,priority:2" json:"block_index"`
	FileBlock      string `json:"file_block"`
	NBlocks        int    `json:"n_blocks"`
	Variant        string `gorm:"type:varchar(16)" json:"variant"`
	Status         string `gorm:"type:varchar(16);index:idx_run_status" json:"status"`
	Stage          string `gorm:"type:varchar(16)" json:"stage,omitempty"`
	Attempts       int    `json:"attempts"`
	FlaggedIDs     string `json:"flagged_ids"` // comma separated channel ids
	MonopolarCount int    `json:"monopolar_count"`
	BipolarCount   int    `json:"bipolar_count"`
	SupportCount   int    `json:"support_count"`
	Error          string `json:"error,omitempty"`
	DurationMs     int64  `json:"duration_ms"`
	CreatedAt      time.Time
}

// ChannelScore is the interference score of one screened channel.
type ChannelScore struct {
	ID        uint    `gorm:"primaryKey;autoIncrement"`
	RunID     string  `gorm:"type:varchar(36);index:idx_score_run" json:"run_id"`
	Position  int     `json:"position"`
	ChannelID int     `json:"channel_id"`
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
	ZScore    float64 `json:"z_score"`
	Flagged   bool    `json:"flagged"`
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := utils.MakeDir(dir); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_pragma=foreign_keys(1)"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&BlockRun{}, &ChannelScore{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// RecordRun stores a run and its channel scores in one transaction. An
// empty run ID is filled with a fresh UUID.
func (c *DBClient) RecordRun(run *BlockRun, scores []ChannelScore) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	if run.ID == "" {
		run.ID = utils.NewRunID()
	}

	return c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("creating run: %w", err)
		}
		if len(scores) == 0 {
			return nil
		}
		for i := range scores {
			scores[i].ID = 0
			scores[i].RunID = run.ID
		}
		if err := tx.CreateInBatches(scores, 500).Error; err != nil {
			return fmt.Errorf("batch insert scores: %w", err)
		}
		return nil
	})
}

func (c *DBClient) GetRun(runID string) (*BlockRun, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var run BlockRun
	if err := c.DB.Where("id = ?", runID).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return &run, nil
}

// ListRuns returns the runs of fileID (all runs when fileID is empty),
// ordered by file and block index.
func (c *DBClient) ListRuns(fileID string) ([]BlockRun, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	q := c.DB.Order("file_id, block_index, created_at")
	if fileID != "" {
		q = q.Where("file_id = ?", fileID)
	}
	var runs []BlockRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

func (c *DBClient) GetScores(runID string) ([]ChannelScore, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var rows []ChannelScore
	if err := c.DB.Where("run_id = ?", runID).Order("position").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying scores: %w", err)
	}
	return rows, nil
}

func (c *DBClient) DeleteRunsByFile(fileID string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	return c.DB.Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&BlockRun{}).Where("file_id = ?", fileID).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) > 0 {
			if err := tx.Where("run_id IN ?", ids).Delete(&ChannelScore{}).Error; err != nil {
				return err
			}
		}
		return tx.Where("file_id = ?", fileID).Delete(&BlockRun{}).Error
	})
}

// JoinIDs renders channel ids the way BlockRun.FlaggedIDs stores them.
func JoinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

// SplitIDs parses BlockRun.FlaggedIDs.
func SplitIDs(s string) ([]int, error) {
	if s == "" {
		return []int{}, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int, len(parts))
	for i, p := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("parsing channel id %q: %w", p, err)
		}
		ids[i] = id
	}
	return ids, nil
}
