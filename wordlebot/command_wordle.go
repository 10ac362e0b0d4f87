package wordlebot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	wordleGuildOnlyMessage    = "/wordle can only be played in a server"
	wordleWrongChannelMessage = "/wordle can only be played in <#%s>"
	wordleInvalidGuessMessage = "guesses must be exactly %d letters"
	wordleNotInListMessage    = "`%s` is not in the word list"
	wordleExhaustedMessage    = "no attempts left, come back after the reset"
)

// handleWordleCommand runs one round for the invoking user.
//
// The guess is trimmed, lowercased and checked for shape here, before
// the evaluator sees it. Replies that only concern the player (wrong
// channel, bad guess, no attempts left) are ephemeral. Scored guesses
// are posted to the channel.
func (b *Bot) handleWordleCommand(
	ctx context.Context,
	handler InteractionHandler,
	user *discordgo.User,
) {
	i := handler.GetInteraction()
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = handler.Logger()
	}

	if i.GuildID == "" {
		_ = handler.Respond(ctx, ephemeralResponse(wordleGuildOnlyMessage))
		return
	}

	channelID := b.config.Discord.WordleChannelID
	if channelID != "" && i.ChannelID != channelID {
		logger.InfoContext(ctx, "wordle used outside of designated channel")
		_ = handler.Respond(
			ctx,
			ephemeralResponse(fmt.Sprintf(wordleWrongChannelMessage, channelID)),
		)
		return
	}

	var guess string
	if opt, exists := discordInteractionOptions(i)[wordleCommandGuessOption]; exists {
		guess = opt.StringValue()
	}
	guess = normalizeWord(guess)
	if !isWordShape(guess) {
		_ = handler.Respond(
			ctx,
			ephemeralResponse(fmt.Sprintf(wordleInvalidGuessMessage, WordLength)),
		)
		return
	}

	outcome, err := b.evaluator.EvaluateRound(ctx, i.GuildID, user.ID, guess)
	if err != nil {
		logger.ErrorContext(
			ctx,
			"error evaluating round",
			tint.Err(err),
			"guess", guess,
			"store_unavailable", errors.Is(err, ErrStoreUnavailable),
			"ledger_unavailable", errors.Is(err, ErrLedgerUnavailable),
		)
		_ = handler.Respond(ctx, ephemeralResponse(b.config.Discord.ErrorMessage))
		return
	}

	logger.InfoContext(ctx, "round evaluated", "guess", guess, "outcome", outcome)

	var nextReset time.Time
	if b.resets != nil {
		nextReset = b.resets.Next()
	}
	content, ephemeral := wordleOutcomeMessage(outcome, guess, user.ID, nextReset)
	if ephemeral {
		_ = handler.Respond(ctx, ephemeralResponse(content))
		return
	}
	_ = handler.Respond(ctx, channelResponse(content))
}

// wordleOutcomeMessage renders the reply for a round, and whether it
// should only be shown to the player.
// A non-zero nextReset is included in the 'no attempts left' messages
// as a relative Discord timestamp.
func wordleOutcomeMessage(
	outcome Outcome,
	guess string,
	userID string,
	nextReset time.Time,
) (content string, ephemeral bool) {
	exhausted := wordleExhaustedMessage
	if !nextReset.IsZero() {
		exhausted = fmt.Sprintf("%s (<t:%d:R>)", wordleExhaustedMessage, nextReset.Unix())
	}

	switch outcome.Kind {
	case OutcomeExhausted:
		return exhausted, true
	case OutcomeInvalidWord:
		return fmt.Sprintf(wordleNotInListMessage, guess), true
	case OutcomeSolved:
		return fmt.Sprintf(
			"<@%s> solved today's word in %d/%d!\n%s",
			userID,
			outcome.Attempts,
			MaxAttempts,
			outcome.Pattern.String(),
		), false
	case OutcomeInProgress:
		var sb strings.Builder
		fmt.Fprintf(&sb, "<@%s>\n", userID)
		sb.WriteString(outcome.Pattern.String())
		sb.WriteString("\n`")
		sb.WriteString(spacedLetters(guess))
		fmt.Fprintf(&sb, "`  %d/%d", outcome.Attempts, MaxAttempts)
		if outcome.Remaining() == 0 {
			sb.WriteString("\n")
			sb.WriteString(exhausted)
		}
		return sb.String(), false
	default:
		slog.Default().Warn("unexpected outcome", "outcome", outcome)
		return "", true
	}
}

// spacedLetters renders a guess as uppercase letters separated by spaces
func spacedLetters(s string) string {
	upper := strings.ToUpper(s)
	parts := make([]string, 0, len(upper))
	for _, r := range upper {
		parts = append(parts, string(r))
	}
	return strings.Join(parts, " ")
}
