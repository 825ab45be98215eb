package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates a client on a temporary database file
func setupTestDB(t *testing.T) (*DBClient, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test_ezscreen.sqlite3")
	client, err := NewDBClientWithPath(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, dbPath
}

func sampleRun(fileID string, block int) *BlockRun {
	return &BlockRun{
		FileID:         fileID,
		BlockIndex:     block,
		FileBlock:      fileID + "_" + string(rune('0'+block)),
		NBlocks:        3,
		Variant:        "screened",
		Status:         "ok",
		Attempts:       1,
		FlaggedIDs:     JoinIDs([]int{4, 7}),
		MonopolarCount: 10,
		BipolarCount:   4,
		SupportCount:   6,
		DurationMs:     120,
	}
}

func TestNewDBClientWithPath(t *testing.T) {
	client, dbPath := setupTestDB(t)
	assert.NotNil(t, client.DB)

	_, err := os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created")
}

func TestRecordAndGetRun(t *testing.T) {
	client, _ := setupTestDB(t)

	run := sampleRun("patient01", 0)
	scores := []ChannelScore{
		{Position: 0, ChannelID: 4, Name: "Fp1", Score: 2e10, ZScore: 1.7, Flagged: true},
		{Position: 1, ChannelID: 5, Name: "Fp2", Score: 10, ZScore: -0.6},
	}
	require.NoError(t, client.RecordRun(run, scores))
	require.NotEmpty(t, run.ID)

	got, err := client.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "patient01", got.FileID)
	assert.Equal(t, "screened", got.Variant)
	assert.Equal(t, "4,7", got.FlaggedIDs)
	assert.False(t, got.CreatedAt.IsZero())

	rows, err := client.GetScores(run.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Fp1", rows[0].Name)
	assert.True(t, rows[0].Flagged)
	assert.Equal(t, run.ID, rows[1].RunID)
}

func TestGetRunNotFound(t *testing.T) {
	client, _ := setupTestDB(t)
	_, err := client.GetRun("00000000-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListAndDeleteRuns(t *testing.T) {
	client, _ := setupTestDB(t)

	for _, block := range []int{2, 0, 1} {
		require.NoError(t, client.RecordRun(sampleRun("a", block), []ChannelScore{{ChannelID: block}}))
	}
	require.NoError(t, client.RecordRun(sampleRun("b", 0), nil))

	runs, err := client.ListRuns("a")
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for i, r := range runs {
		assert.Equal(t, i, r.BlockIndex)
	}

	all, err := client.ListRuns("")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	require.NoError(t, client.DeleteRunsByFile("a"))
	runs, err = client.ListRuns("a")
	require.NoError(t, err)
	assert.Empty(t, runs)

	scores, err := client.GetScores(all[0].ID)
	require.NoError(t, err)
	assert.Empty(t, scores)

	left, err := client.ListRuns("")
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestJoinSplitIDs(t *testing.T) {
	assert.Equal(t, "", JoinIDs(nil))
	assert.Equal(t, "3,1,12", JoinIDs([]int{3, 1, 12}))

	ids, err := SplitIDs("3,1,12")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 12}, ids)

	ids, err = SplitIDs("")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = SplitIDs("3,x")
	assert.Error(t, err)
}

func TestNilClient(t *testing.T) {
	var c *DBClient
	assert.NoError(t, c.Close())
	assert.Error(t, c.RecordRun(&BlockRun{}, nil))
	_, err := c.ListRuns("")
	assert.Error(t, err)
}
