package wordlebot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
)

// MaxAttempts is the number of guesses a player gets per server per day
const MaxAttempts = 6

var (
	// ErrStoreUnavailable indicates the word store couldn't be queried.
	// The round is aborted without touching the attempt ledger.
	ErrStoreUnavailable = errors.New("word store unavailable")

	// ErrLedgerUnavailable indicates the attempt ledger couldn't be read
	// or written
	ErrLedgerUnavailable = errors.New("attempt ledger unavailable")
)

// OutcomeKind discriminates the result of [Evaluator.EvaluateRound]
type OutcomeKind uint8

const (
	// OutcomeExhausted means the player has no attempts left today
	OutcomeExhausted OutcomeKind = iota + 1

	// OutcomeInvalidWord means the guess isn't in the word store.
	// No attempt is used.
	OutcomeInvalidWord

	// OutcomeSolved means the guess matched today's target
	OutcomeSolved

	// OutcomeInProgress means the guess was scored and counted
	OutcomeInProgress
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeInvalidWord:
		return "invalid_word"
	case OutcomeSolved:
		return "solved"
	case OutcomeInProgress:
		return "in_progress"
	default:
		return "unknown"
	}
}

// Outcome is the result of evaluating one guess.
//
// Pattern is set for [OutcomeInProgress] (and is all [MarkCorrect] for
// [OutcomeSolved]). Attempts is the number of guesses used including this
// one for [OutcomeInProgress] and [OutcomeSolved], and the stored count
// otherwise.
type Outcome struct {
	Kind     OutcomeKind `json:"kind"`
	Pattern  Pattern     `json:"pattern"`
	Attempts int         `json:"attempts"`
}

func (o Outcome) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("kind", o.Kind.String()),
		slog.Int("attempts", o.Attempts),
	}
	if o.Kind == OutcomeInProgress {
		attrs = append(attrs, slog.String("pattern", o.Pattern.String()))
	}
	return slog.GroupValue(attrs...)
}

// Remaining returns the number of attempts the player has left today
func (o Outcome) Remaining() int {
	if o.Kind == OutcomeSolved || o.Kind == OutcomeExhausted {
		return 0
	}
	return max(MaxAttempts-o.Attempts, 0)
}

// Evaluator runs a single round of the daily game: it selects the day's
// target for the server, validates and scores the guess, and records the
// attempt.
type Evaluator struct {
	words    WordStore
	ledger   AttemptLedger
	location *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

// NewEvaluator returns an Evaluator using the given word store and
// attempt ledger. The calendar date used for target selection is
// taken in loc (UTC if nil).
func NewEvaluator(
	words WordStore,
	ledger AttemptLedger,
	loc *time.Location,
	logger *slog.Logger,
) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		words:    words,
		ledger:   ledger,
		location: loc,
		now:      time.Now,
		logger:   logger.With(loggerNameKey, "game"),
	}
}

// Today returns the date key for the current day
func (e *Evaluator) Today() string {
	return DateKey(e.now(), e.location)
}

// Target returns today's target word for the given server
func (e *Evaluator) Target(ctx context.Context, serverID string) (string, error) {
	return SelectTarget(ctx, e.words, serverID, e.Today())
}

// EvaluateRound evaluates guess for the given server and player.
//
// Exactly one [Outcome] kind is returned on success. Failure modes:
//
//   - [ErrStoreUnavailable]: the word store couldn't be queried. The
//     returned Outcome is empty and the ledger is left as it was.
//   - [ErrLedgerUnavailable] on read: the player is treated as having no
//     attempts left, so the returned Outcome is [OutcomeExhausted]
//     alongside the error.
//   - [ErrLedgerUnavailable] on write: the transaction is rolled back and
//     the returned Outcome is empty.
//
// A player with no attempts left is answered before the guess is looked
// up in the store. The ledger read, the lazy creation of a zero record,
// and the attempt update then run in one transaction, serialized per
// (server, player), which checks the attempt count again.
func (e *Evaluator) EvaluateRound(
	ctx context.Context,
	serverID string,
	playerID string,
	guess string,
) (Outcome, error) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = e.logger
	}
	logger = logger.With(
		slog.Group("round", "server_id", serverID, "player_id", playerID),
	)

	dateKey := e.Today()
	target, err := SelectTarget(ctx, e.words, serverID, dateKey)
	if err != nil {
		return Outcome{}, err
	}

	failClosed := func(err error) (Outcome, error) {
		logger.WarnContext(
			ctx,
			"unable to read attempts, treating player as exhausted",
			tint.Err(err),
		)
		return Outcome{Kind: OutcomeExhausted, Attempts: MaxAttempts},
			fmt.Errorf("%w: reading attempts: %w", ErrLedgerUnavailable, err)
	}

	used, _, err := e.ledger.Get(ctx, serverID, playerID)
	if err != nil {
		return failClosed(err)
	}
	if used >= MaxAttempts {
		return Outcome{Kind: OutcomeExhausted, Attempts: used}, nil
	}

	valid, err := isValidGuess(ctx, e.words, guess)
	if err != nil {
		return Outcome{}, err
	}

	var outcome Outcome
	var readOK bool

	txErr := e.ledger.Atomic(
		ctx, serverID, playerID, func(ctx context.Context, rec AttemptRecorder) error {
			attempts, found, getErr := rec.Get(ctx, serverID, playerID)
			if getErr != nil {
				return getErr
			}
			if !found {
				if upsertErr := rec.Upsert(ctx, serverID, playerID, 0); upsertErr != nil {
					return upsertErr
				}
			}
			readOK = true

			switch {
			case attempts >= MaxAttempts:
				outcome = Outcome{Kind: OutcomeExhausted, Attempts: attempts}
				return nil
			case !valid:
				outcome = Outcome{Kind: OutcomeInvalidWord, Attempts: attempts}
				return nil
			case guess == target:
				if upsertErr := rec.Upsert(ctx, serverID, playerID, MaxAttempts); upsertErr != nil {
					return upsertErr
				}
				outcome = Outcome{
					Kind:     OutcomeSolved,
					Pattern:  ScorePattern(target, guess),
					Attempts: attempts + 1,
				}
				return nil
			}

			attempts++
			if upsertErr := rec.Upsert(ctx, serverID, playerID, attempts); upsertErr != nil {
				return upsertErr
			}
			outcome = Outcome{
				Kind:     OutcomeInProgress,
				Pattern:  ScorePattern(target, guess),
				Attempts: attempts,
			}
			return nil
		},
	)

	if txErr != nil {
		if !readOK {
			return failClosed(txErr)
		}
		return Outcome{}, fmt.Errorf("%w: recording attempt: %w", ErrLedgerUnavailable, txErr)
	}

	logger.DebugContext(ctx, "round evaluated", "date", dateKey, "outcome", outcome)
	return outcome, nil
}

// isValidGuess reports whether word is exactly [WordLength] ASCII
// alphanumeric characters and present in the store.
// Malformed guesses never reach the store.
func isValidGuess(ctx context.Context, store WordStore, word string) (bool, error) {
	if len(word) != WordLength || !isAlphanumeric(word) {
		return false, nil
	}
	count, err := store.CountMatching(ctx, word)
	if err != nil {
		return false, fmt.Errorf("%w: checking word: %w", ErrStoreUnavailable, err)
	}
	return count > 0, nil
}

func isAlphanumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
