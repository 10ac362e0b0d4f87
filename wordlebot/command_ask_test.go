package wordlebot

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessagePrompt(t *testing.T) {
	testCases := []struct {
		content    string
		prefix     string
		wantPrompt string
		wantOK     bool
	}{
		{content: "!g what is a noun", prefix: "!g", wantPrompt: "what is a noun", wantOK: true},
		{content: "!gwhat", prefix: "!g", wantPrompt: "what", wantOK: true},
		{content: "!g", prefix: "!g", wantPrompt: "", wantOK: true},
		{content: "!g   ", prefix: "!g", wantPrompt: "", wantOK: true},
		{content: "hello !g there", prefix: "!g", wantOK: false},
		{content: "!G upper", prefix: "!g", wantOK: false},
		{content: "anything", prefix: "", wantOK: false},
	}
	for _, tc := range testCases {
		t.Run(
			tc.content, func(t *testing.T) {
				prompt, ok := messagePrompt(tc.content, tc.prefix)
				assert.Equal(t, tc.wantOK, ok)
				assert.Equal(t, tc.wantPrompt, prompt)
			},
		)
	}
}

func TestAskCommand(t *testing.T) {
	b, _ := newTestBot(t, nil)
	client := &fakeChatClient{response: chatResponse("a noun is a word")}
	b.generator.client = client

	i := newTestCommandInteraction(
		testGuildID,
		testChannelID,
		testUserID,
		DiscordSlashCommandAsk,
		stringOption(askCommandPromptOption, "what is a noun"),
	)
	handler := newStubInteractionHandler(t, i)
	b.handleAskCommand(context.Background(), handler, getDiscordUser(i))

	response := waitForResponse(t, handler, 5*time.Second)
	assert.Equal(t, discordgo.InteractionResponseDeferredChannelMessageWithSource, response.Type)

	select {
	case edit := <-handler.edits:
		require.NotNil(t, edit.Content)
		assert.Equal(t, "a noun is a word", *edit.Content)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for edit")
	}

	require.Len(t, client.requests, 1)
	assert.Equal(t, "what is a noun", client.requests[0].Messages[0].Content)

	var entry PromptLog
	require.NoError(t, b.db.Where("user_id = ?", testUserID).Take(&entry).Error)
	assert.Equal(t, PromptSourceCommand, entry.Source)
	assert.Equal(t, testChannelID, entry.ChannelID)
}

func TestAskCommand_LongResponse(t *testing.T) {
	b, _ := newTestBot(t, nil)
	b.generator.client = &fakeChatClient{response: chatResponse(strings.Repeat("word ", 1000))}

	i := newTestCommandInteraction(
		testGuildID,
		testChannelID,
		testUserID,
		DiscordSlashCommandAsk,
		stringOption(askCommandPromptOption, "say a lot"),
	)
	handler := newStubInteractionHandler(t, i)
	b.handleAskCommand(context.Background(), handler, getDiscordUser(i))

	_ = waitForResponse(t, handler, 5*time.Second)
	edit := <-handler.edits
	require.NotNil(t, edit.Content)
	assert.LessOrEqual(t, len(*edit.Content), discordMaxMessageLength)
	assert.True(t, strings.HasSuffix(*edit.Content, "**(output limit reached)**"))
}

func TestAskCommand_GenerateError(t *testing.T) {
	b, _ := newTestBot(t, nil)
	b.generator.client = &fakeChatClient{err: errTest}

	i := newTestCommandInteraction(
		testGuildID,
		testChannelID,
		testUserID,
		DiscordSlashCommandAsk,
		stringOption(askCommandPromptOption, "hello"),
	)
	handler := newStubInteractionHandler(t, i)
	b.handleAskCommand(context.Background(), handler, getDiscordUser(i))

	_ = waitForResponse(t, handler, 5*time.Second)
	edit := <-handler.edits
	require.NotNil(t, edit.Content)
	assert.Equal(t, b.config.Discord.ErrorMessage, *edit.Content)
}

func TestAskCommand_Disabled(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.Generative.Enabled = false
	b, _ := newTestBot(t, cfg)
	require.Nil(t, b.generator)

	i := newTestCommandInteraction(
		testGuildID,
		testChannelID,
		testUserID,
		DiscordSlashCommandAsk,
		stringOption(askCommandPromptOption, "hello"),
	)
	handler := newStubInteractionHandler(t, i)
	b.handleAskCommand(context.Background(), handler, getDiscordUser(i))

	response := waitForResponse(t, handler, 5*time.Second)
	assert.True(t, isEphemeral(response))
	assert.Equal(t, cfg.Discord.ErrorMessage, response.Data.Content)
	assert.Empty(t, handler.edits)
}

func newTestMessage(userID, content string, bot bool) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:        "message-1",
			ChannelID: testChannelID,
			GuildID:   testGuildID,
			Content:   content,
			Author:    &discordgo.User{ID: userID, Username: "player-" + userID, Bot: bot},
		},
	}
}

func TestHandleDiscordMessage(t *testing.T) {
	b, session := newTestBot(t, nil)
	client := &fakeChatClient{response: chatResponse("it's a noun")}
	b.generator.client = client
	ctx := context.Background()

	b.handleDiscordMessage(ctx, newTestMessage(testUserID, "!g what is a noun", false))

	messages := session.sentMessages()
	require.Len(t, messages, 1)
	assert.Equal(t, testChannelID, messages[0].ChannelID)
	assert.Equal(t, "it's a noun", messages[0].Content)
	require.NotNil(t, messages[0].Reference)
	assert.Equal(t, "message-1", messages[0].Reference.MessageID)

	require.Len(t, client.requests, 1)
	assert.Equal(t, "what is a noun", client.requests[0].Messages[0].Content)

	var entry PromptLog
	require.NoError(t, b.db.Take(&entry).Error)
	assert.Equal(t, PromptSourceMessage, entry.Source)
}

func TestHandleDiscordMessage_Ignored(t *testing.T) {
	b, session := newTestBot(t, nil)
	client := &fakeChatClient{response: chatResponse("unused")}
	b.generator.client = client
	ctx := context.Background()

	b.handleDiscordMessage(ctx, newTestMessage(testUserID, "hello there", false))
	b.handleDiscordMessage(ctx, newTestMessage("some-bot", "!g hello", true))
	b.handleDiscordMessage(ctx, newTestMessage(testAppID, "!g hello", false))
	b.handleDiscordMessage(ctx, nil)

	assert.Empty(t, session.sentMessages())
	assert.Empty(t, client.requests)
}

func TestHandleDiscordMessage_EmptyPrompt(t *testing.T) {
	b, session := newTestBot(t, nil)
	client := &fakeChatClient{response: chatResponse("unused")}
	b.generator.client = client

	b.handleDiscordMessage(context.Background(), newTestMessage(testUserID, "!g  ", false))

	messages := session.sentMessages()
	require.Len(t, messages, 1)
	assert.Equal(t, fmt.Sprintf(askUsageMessage, "!g"), messages[0].Content)
	assert.Empty(t, client.requests)
}
