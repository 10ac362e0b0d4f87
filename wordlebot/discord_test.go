package wordlebot

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDiscord(t *testing.T, cfg *Config) (*Discord, *mockDiscordSession) {
	t.Helper()
	if cfg == nil {
		cfg = DefaultTestConfig(t)
	}
	d, err := newDiscord(cfg.Discord, nil, testLogger(t))
	require.NoError(t, err)
	session := newMockDiscordSession()
	d.session = session
	return d, session
}

func TestDiscord_Commands(t *testing.T) {
	d, _ := newTestDiscord(t, nil)

	withAsk := d.commands(true)
	require.Len(t, withAsk, 2)
	assert.Equal(t, DiscordSlashCommandWordle, withAsk[0].Name)
	assert.Equal(t, DiscordSlashCommandAsk, withAsk[1].Name)

	withoutAsk := d.commands(false)
	require.Len(t, withoutAsk, 1)
	assert.Equal(t, DiscordSlashCommandWordle, withoutAsk[0].Name)

	wordle := withoutAsk[0]
	require.Len(t, wordle.Options, 1)
	guess := wordle.Options[0]
	assert.Equal(t, wordleCommandGuessOption, guess.Name)
	assert.True(t, guess.Required)
	require.NotNil(t, guess.MinLength)
	assert.Equal(t, WordLength, *guess.MinLength)
	assert.Equal(t, WordLength, guess.MaxLength)
	require.NotNil(t, wordle.DMPermission)
	assert.False(t, *wordle.DMPermission)
}

func TestDiscord_RegisterCommands(t *testing.T) {
	d, session := newTestDiscord(t, nil)

	created, err := d.registerCommands(false)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "command-1", created[0].ID)

	session.mu.Lock()
	session.commandErr = errTest
	session.mu.Unlock()
	_, err = d.registerCommands(true)
	assert.ErrorIs(t, err, errTest)
}

type emptyCommandSession struct {
	*mockDiscordSession
}

func (emptyCommandSession) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	_ []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	return nil, nil
}

func TestDiscord_RegisterCommandsNoneCreated(t *testing.T) {
	d, session := newTestDiscord(t, nil)
	d.session = emptyCommandSession{mockDiscordSession: session}

	_, err := d.registerCommands(true)
	assert.ErrorIs(t, err, errNoCommandsRegistered)
}

func TestDiscord_HandlerConnect(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.Discord.NotificationChannelID = "notifications"
	cfg.Discord.StartupMessage = "ready to play"
	d, session := newTestDiscord(t, cfg)

	d.handlerConnect()(nil, &discordgo.Connect{})
	assert.True(t, d.connected.Load())
	assert.Equal(t, int64(1), d.metricConnects.Load())

	sent := session.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "notifications", sent[0].ChannelID)
	assert.Equal(t, "ready to play", sent[0].Content)

	d.handlerDisconnect()(nil, &discordgo.Disconnect{})
	assert.False(t, d.connected.Load())
	assert.Equal(t, int64(1), d.metricDisconnects.Load())
}

func TestDiscord_HandlerConnectNoStartupMessage(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.Discord.NotificationChannelID = "notifications"
	d, session := newTestDiscord(t, cfg)

	d.handlerConnect()(nil, &discordgo.Connect{})
	assert.True(t, d.connected.Load())
	assert.Empty(t, session.sentMessages())
}

func TestDiscord_HandlerReady(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.Discord.CustomStatus = "guessing words"
	d, session := newTestDiscord(t, cfg)

	d.handlerReady()(
		nil,
		&discordgo.Ready{
			SessionID: "session-1",
			User:      &discordgo.User{ID: testAppID, Username: "wordlebot"},
		},
	)

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Equal(t, "guessing words", session.customStatus)
}

func TestDiscord_AckResponse(t *testing.T) {
	d, _ := newTestDiscord(t, nil)
	assert.Equal(
		t,
		discordgo.InteractionResponseDeferredChannelMessageWithSource,
		d.ackResponse().Type,
	)
}
