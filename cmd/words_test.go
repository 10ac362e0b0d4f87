package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arcward/wordlebot/wordlebot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWordsImportCommand(t *testing.T) {
	resetConfig(t)
	dbPath := setTestDatabase(t)

	wordsFile := filepath.Join(t.TempDir(), "words.txt")
	require.NoError(t, os.WriteFile(wordsFile, []byte("zzzxq\nqqqqz\n"), 0o600))

	_, _, err := executeCommand(t, "init", "--words", wordsFile)
	require.NoError(t, err)

	moreWords := filepath.Join(t.TempDir(), "more.txt")
	require.NoError(t, os.WriteFile(moreWords, []byte("qqqqz\nxxxyz\n"), 0o600))

	initWordsFile = ""
	output, _, err := executeCommand(t, "words", "import", moreWords)
	require.NoError(t, err)
	assert.Contains(t, output, "added=1 duplicates=1 invalid=0 total=3")

	db := openTestDB(t, dbPath)
	var w wordlebot.Word
	require.NoError(t, db.Take(&w, "word = ?", "xxxyz").Error)
	assert.Equal(t, int64(3), w.ID)
}

func TestWordsImportCommand_RequiresFile(t *testing.T) {
	resetConfig(t)
	setTestDatabase(t)

	_, _, err := executeCommand(t, "words", "import")
	require.Error(t, err)
}

func TestResetCommand(t *testing.T) {
	resetConfig(t)
	dbPath := setTestDatabase(t)

	_, _, err := executeCommand(t, "init")
	require.NoError(t, err)

	db := openTestDB(t, dbPath)
	require.NoError(
		t,
		db.Create(
			[]wordlebot.Attempt{
				{ServerID: "guild-1", PlayerID: "user-1", Attempts: 3},
				{ServerID: "guild-1", PlayerID: "user-2", Attempts: 6},
				{ServerID: "guild-2", PlayerID: "user-1", Attempts: 1},
			},
		).Error,
	)

	output, _, err := executeCommand(t, "reset")
	require.NoError(t, err)
	assert.Contains(t, output, "rows_deleted=3")

	var count int64
	require.NoError(t, db.Model(&wordlebot.Attempt{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	var entry wordlebot.ResetLog
	require.NoError(t, db.Order("id desc").Take(&entry).Error)
	assert.Equal(t, wordlebot.ResetTriggerCLI, entry.Trigger)
	assert.Equal(t, int64(3), entry.RowsDeleted)
	assert.Empty(t, entry.Error)
}
