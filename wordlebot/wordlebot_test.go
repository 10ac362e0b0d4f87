package wordlebot

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidDatabaseType(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.DatabaseType = "mysql"
	_, err := New(cfg)
	assert.Error(t, err)
}

func runTestBot(t *testing.T, b *Bot) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	runErr := make(chan error, 1)
	go func() {
		runErr <- b.Run(ctx)
	}()
	return cancel, runErr
}

func TestBot_Run(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.Discord.CustomStatus = "guessing words"
	b, session := newTestBot(t, cfg)

	cancel, runErr := runTestBot(t, b)

	select {
	case <-b.signalReady:
	case err := <-runErr:
		t.Fatalf("bot exited before ready: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for bot to start")
	}

	session.mu.Lock()
	assert.Equal(t, 1, session.opened)
	assert.Len(t, session.handlers, 5)
	assert.Len(t, session.commands, 2)
	assert.Equal(t, discordgo.ActivityTypeCustom, session.identify.Presence.Game.Type)
	assert.Equal(t, "guessing words", session.identify.Presence.Game.State)
	assert.Equal(t, cfg.Discord.GatewayIntents, session.identify.Intents)
	session.mu.Unlock()

	assert.NotNil(t, b.webhookInteractionHandler)
	assert.False(t, b.resets.Next().IsZero())

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for shutdown")
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Equal(t, 1, session.closed)
}

func TestBot_RunOpenError(t *testing.T) {
	b, session := newTestBot(t, nil)
	session.mu.Lock()
	session.openErr = errTest
	session.mu.Unlock()

	_, runErr := runTestBot(t, b)
	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, errTest)
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for Run to fail")
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Equal(t, 0, session.opened)
	assert.Equal(t, 1, session.closed)
}

func TestBot_RunInvalidConfig(t *testing.T) {
	cfg := DefaultTestConfig(t)
	b, session := newTestBot(t, cfg)
	cfg.Discord.Token = ""

	_, runErr := runTestBot(t, b)
	select {
	case err := <-runErr:
		assert.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for Run to fail")
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Equal(t, 0, session.opened)
}

func TestBot_RunGatewayDisabled(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.Discord.GatewayEnabled = false
	b, session := newTestBot(t, cfg)

	cancel, runErr := runTestBot(t, b)
	select {
	case <-b.signalReady:
	case err := <-runErr:
		t.Fatalf("bot exited before ready: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for bot to start")
	}

	session.mu.Lock()
	assert.Equal(t, 0, session.opened)
	assert.Empty(t, session.commands)
	session.mu.Unlock()

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for shutdown")
	}
}

func TestBot_ImportWords(t *testing.T) {
	b, _ := newTestBot(t, nil)
	ctx := context.Background()

	count, err := b.words.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(len(testWords)), count)

	result, err := b.ImportWords(ctx, []string{"zesty", "house"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.Duplicates)

	count, err = b.words.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(testWords)+1), count)
}

func TestBot_ResetAttempts(t *testing.T) {
	b, _ := newTestBot(t, nil)
	fixClock(t, b, testRoundTime)
	ctx := context.Background()

	outcome, err := b.evaluator.EvaluateRound(ctx, testGuildID, testUserID, "crane")
	require.NoError(t, err)
	require.Equal(t, 1, outcome.Attempts)

	entry, err := b.ResetAttempts(ctx, ResetTriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, ResetTriggerCLI, entry.Trigger)
	assert.Equal(t, int64(1), entry.RowsDeleted)

	outcome, err = b.evaluator.EvaluateRound(ctx, testGuildID, testUserID, "crane")
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Attempts)
}
