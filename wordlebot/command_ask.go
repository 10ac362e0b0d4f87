package wordlebot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const askUsageMessage = "usage: `%s <prompt>`"

// handleAskCommand acknowledges `/ask`, then edits the generated
// response in once it's available
func (b *Bot) handleAskCommand(
	ctx context.Context,
	handler InteractionHandler,
	user *discordgo.User,
) {
	i := handler.GetInteraction()
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = handler.Logger()
	}

	if b.generator == nil || !b.config.Generative.Enabled {
		logger.WarnContext(ctx, "generative text disabled, ignoring /ask")
		_ = handler.Respond(ctx, ephemeralResponse(b.config.Discord.ErrorMessage))
		return
	}

	var prompt string
	if opt, exists := discordInteractionOptions(i)[askCommandPromptOption]; exists {
		prompt = opt.StringValue()
	}

	if ackErr := handler.Respond(ctx, b.discord.ackResponse()); ackErr != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(ackErr))
		return
	}

	content, err := b.generator.Generate(
		ctx,
		PromptRequest{
			Source:    PromptSourceCommand,
			Prompt:    prompt,
			UserID:    user.ID,
			Username:  user.Username,
			ChannelID: i.ChannelID,
			GuildID:   i.GuildID,
		},
	)
	if err != nil {
		logger.ErrorContext(ctx, "error generating response", tint.Err(err))
		content = b.config.Discord.ErrorMessage
	}
	content = shortenString(content, discordMaxMessageLength)
	_, _ = handler.Edit(ctx, &discordgo.WebhookEdit{Content: &content})
}

// messagePrompt returns the prompt following prefix in content, and
// whether content starts with prefix at all
func messagePrompt(content string, prefix string) (string, bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(content, prefix)), true
}

// handleDiscordMessage answers channel messages starting with the
// configured prefix. Messages from bots, including this one, are ignored.
func (b *Bot) handleDiscordMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || b.generator == nil || !b.config.Generative.Enabled {
		return
	}
	prefix := b.config.Generative.MessagePrefix
	prompt, ok := messagePrompt(m.Content, prefix)
	if !ok {
		return
	}

	user := m.Author
	if user == nil && m.Member != nil {
		user = m.Member.User
	}
	if user == nil {
		b.logger.WarnContext(ctx, "couldn't find user in discord message")
		return
	}
	if user.Bot || user.ID == b.config.Discord.ApplicationID {
		return
	}

	logger := b.discord.logger.With(
		slog.Group("message", "id", m.ID, "channel_id", m.ChannelID, "guild_id", m.GuildID),
		slog.Group("user", "id", user.ID, "username", user.Username),
	)
	ctx = WithLogger(ctx, logger)

	if !b.config.Development {
		defer func() {
			if rc := recover(); rc != nil {
				b.handleRecover(ctx, rc)
			}
		}()
	}

	reference := m.Reference()
	if prompt == "" {
		_, _ = b.discord.session.ChannelMessageSendReply(
			m.ChannelID,
			fmt.Sprintf(askUsageMessage, prefix),
			reference,
		)
		return
	}

	logger.InfoContext(ctx, "received prompt")
	content, err := b.generator.Generate(
		ctx,
		PromptRequest{
			Source:    PromptSourceMessage,
			Prompt:    prompt,
			UserID:    user.ID,
			Username:  user.Username,
			ChannelID: m.ChannelID,
			GuildID:   m.GuildID,
		},
	)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.ErrorContext(ctx, "error generating response", tint.Err(err))
		}
		content = b.config.Discord.ErrorMessage
	}

	_, _ = b.discord.session.ChannelMessageSendReply(
		m.ChannelID,
		shortenString(content, discordMaxMessageLength),
		reference,
	)
}
