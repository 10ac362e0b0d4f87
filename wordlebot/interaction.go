package wordlebot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// DiscordInteractionReceiveMethod is how an interaction reached the bot
type DiscordInteractionReceiveMethod string

const (
	discordInteractionReceiveMethodGateway DiscordInteractionReceiveMethod = "gateway"
	discordInteractionReceiveMethodWebhook DiscordInteractionReceiveMethod = "webhook"
)

// InteractionLog records every interaction received, before it's handled
//
//nolint:lll // struct tags can't be split
type InteractionLog struct {
	ModelUintID
	Method        DiscordInteractionReceiveMethod `json:"method" gorm:"size:16"`
	InteractionID string                          `json:"interaction_id" gorm:"not null;size:64"`
	Type          string                          `json:"type" gorm:"size:32"`
	Command       string                          `json:"command,omitempty" gorm:"size:32"`
	UserID        string                          `json:"user_id" gorm:"index;not null;size:64"`
	Username      string                          `json:"username"`
	AppID         string                          `json:"application_id" gorm:"size:64"`
	GuildID       string                          `json:"guild_id" gorm:"size:64"`
	ChannelID     string                          `json:"channel_id" gorm:"size:64"`
	Payload       string                          `json:"payload"`
	CreatedAt     int64                           `json:"created_at,omitempty" gorm:"autoCreateTime:milli"`
}

func newInteractionLog(
	i *discordgo.InteractionCreate,
	u *discordgo.User,
	method DiscordInteractionReceiveMethod,
) (*InteractionLog, error) {
	p, err := json.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("error marshaling interaction: %w", err)
	}

	interactionLog := &InteractionLog{
		Method:        method,
		InteractionID: i.ID,
		Type:          i.Type.String(),
		UserID:        u.ID,
		Username:      u.String(),
		AppID:         i.AppID,
		GuildID:       i.GuildID,
		ChannelID:     i.ChannelID,
		Payload:       string(p),
	}
	if i.Type == discordgo.InteractionApplicationCommand {
		interactionLog.Command = i.ApplicationCommandData().Name
	}
	return interactionLog, nil
}

// InteractionHandler responds to a single Discord interaction, regardless
// of whether it arrived over the gateway or the webhook server.
type InteractionHandler interface {
	// Respond sends the initial response to the interaction
	Respond(ctx context.Context, response *discordgo.InteractionResponse) error

	// Edit modifies the interaction's initial response
	Edit(
		ctx context.Context,
		e *discordgo.WebhookEdit,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// GetInteraction returns the original InteractionCreate event
	GetInteraction() *discordgo.InteractionCreate

	// InteractionReceiveMethod returns the method used to receive the
	// interaction (webhook or gateway)
	InteractionReceiveMethod() DiscordInteractionReceiveMethod

	Logger() *slog.Logger
}

// GatewayHandler implements [InteractionHandler] when receiving interactions
// via the discord websocket gateway.
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
}

func (GatewayHandler) InteractionReceiveMethod() DiscordInteractionReceiveMethod {
	return discordInteractionReceiveMethodGateway
}

func (w GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	err := w.session.InteractionRespond(w.interaction.Interaction, response)
	if err != nil {
		w.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	} else {
		w.logger.InfoContext(ctx, "responded to interaction")
	}
	return err
}

func (w GatewayHandler) Edit(
	ctx context.Context,
	wh *discordgo.WebhookEdit,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := w.session.InteractionResponseEdit(
		w.interaction.Interaction,
		wh,
		opts...,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	} else {
		w.logger.InfoContext(ctx, "edited interaction")
	}
	return msg, err
}

func (w GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w GatewayHandler) Logger() *slog.Logger {
	return w.logger
}

// handleInteraction logs the interaction, then routes it by type and
// command name. Interactions from bots are logged and ignored.
func (b *Bot) handleInteraction(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	logger := handler.Logger()

	if !b.config.Development {
		defer func() {
			if rc := recover(); rc != nil {
				b.handleRecover(WithLogger(ctx, logger), rc)
			}
		}()
	}

	if i.Type == discordgo.InteractionPing {
		_ = handler.Respond(
			ctx,
			&discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong},
		)
		return
	}

	discordUser := getDiscordUser(i)
	if discordUser == nil {
		logger.ErrorContext(
			ctx,
			"no user found in interaction",
			"interaction", structToSlogValue(i),
		)
		return
	}

	logger = logger.With(
		slog.Group("user", "id", discordUser.ID, "username", discordUser.Username),
	)
	ctx = WithLogger(ctx, logger)
	logger.InfoContext(ctx, "received new interaction")

	b.handlerWG.Add(1)
	go func() {
		defer b.handlerWG.Done()
		interactionLog, err := newInteractionLog(i, discordUser, handler.InteractionReceiveMethod())
		if err != nil {
			logger.ErrorContext(ctx, "error creating interaction log", tint.Err(err))
			return
		}
		if _, createErr := b.writeDB.Create(context.WithoutCancel(ctx), interactionLog); createErr != nil {
			logger.ErrorContext(ctx, "error logging interaction", tint.Err(createErr))
		}
	}()

	if discordUser.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring")
		return
	}

	if i.Type != discordgo.InteractionApplicationCommand {
		logger.WarnContext(ctx, "unhandled interaction type", "type", i.Type.String())
		return
	}

	switch commandName := i.ApplicationCommandData().Name; commandName {
	case DiscordSlashCommandWordle:
		b.handleWordleCommand(ctx, handler, discordUser)
	case DiscordSlashCommandAsk:
		b.handleAskCommand(ctx, handler, discordUser)
	default:
		logger.WarnContext(ctx, "unknown command", "command", commandName)
		_ = handler.Respond(ctx, ephemeralResponse(b.config.Discord.ErrorMessage))
	}
}

// ephemeralResponse returns a message response only visible to the user
// who invoked the command
func ephemeralResponse(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}

// channelResponse returns a message response visible to the whole channel
func channelResponse(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			AllowedMentions: &discordgo.MessageAllowedMentions{
				Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
			},
		},
	}
}
