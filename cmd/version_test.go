package cmd

import (
	"fmt"
	"testing"

	"github.com/arcward/wordlebot/wordlebot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	resetConfig(t)

	originalVersion := wordlebot.Version
	originalCommitSHA := wordlebot.CommitSHA
	originalBuildTime := wordlebot.BuildTime

	t.Cleanup(
		func() {
			wordlebot.Version = originalVersion
			wordlebot.CommitSHA = originalCommitSHA
			wordlebot.BuildTime = originalBuildTime
		},
	)

	wordlebot.Version = "1.0.0"
	wordlebot.CommitSHA = "abc123"
	wordlebot.BuildTime = "2024-10-01T12:00:00Z"

	output, _, err := executeCommand(t, "version")
	require.NoError(t, err)

	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		wordlebot.Version,
		wordlebot.CommitSHA,
		wordlebot.BuildTime,
	)
	assert.Equal(t, expected, output)
}
