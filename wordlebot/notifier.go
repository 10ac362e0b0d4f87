package wordlebot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
)

const (
	postgresNotifyChannelWordsUpdated  = "wordlebot_words_updated"
	postgresNotifyChannelAttemptsReset = "wordlebot_attempts_reset"
)

var dbNotifierRetryInterval = 5 * time.Second

// DBNotifier tells other bot instances sharing the database that the
// word list changed or the attempt ledger was reset.
//
// Each notifier has a random ID sent as the notification payload, so
// listeners can skip their own notifications.
type DBNotifier interface {
	// ID returns the identifier for this notifier
	ID() string

	WordsUpdatedChannelName() string

	// WordsUpdated invalidates this instance's word cache and notifies
	// other instances to do the same
	WordsUpdated(ctx context.Context) bool

	AttemptsResetChannelName() string

	// AttemptsReset notifies other instances that the ledger was reset
	AttemptsReset(ctx context.Context) bool

	// Listen blocks, handling notifications on the given channel until
	// ctx is cancelled
	Listen(ctx context.Context, channel string) error
}

// notifierHandlers are called when a notification is received (or, for
// the local instance, sent)
type notifierHandlers struct {
	wordsUpdated  func()
	attemptsReset func()
}

func newDBNotifier(
	databaseType string,
	dsn string,
	db DBI,
	handlers notifierHandlers,
	logger *slog.Logger,
) (DBNotifier, error) {
	notifyID, err := generateRandomHexString(16)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With(loggerNameKey, "notifier")

	switch databaseType {
	case dbTypeSQLite:
		return &sqliteNotifier{
			id:       notifyID,
			handlers: handlers,
			logger:   log,
		}, nil
	case dbTypePostgres:
		return &postgresNotifier{
			id:       notifyID,
			dsn:      dsn,
			db:       db,
			handlers: handlers,
			logger:   log,
		}, nil
	default:
		return nil, errors.New("invalid database type")
	}
}

// sqliteNotifier only handles notifications locally, as a SQLite
// database isn't shared between instances
type sqliteNotifier struct {
	id       string
	handlers notifierHandlers
	logger   *slog.Logger
}

func (s *sqliteNotifier) ID() string {
	return s.id
}

func (sqliteNotifier) WordsUpdatedChannelName() string {
	return ""
}

func (sqliteNotifier) AttemptsResetChannelName() string {
	return ""
}

func (s *sqliteNotifier) WordsUpdated(context.Context) bool {
	s.logger.Debug("words updated")
	if s.handlers.wordsUpdated != nil {
		s.handlers.wordsUpdated()
	}
	return true
}

func (s *sqliteNotifier) AttemptsReset(context.Context) bool {
	s.logger.Debug("attempts reset")
	return true
}

func (s *sqliteNotifier) Listen(_ context.Context, channel string) error {
	s.logger.Debug("listener called", "channel", channel)
	return nil
}

// postgresNotifier sends notifications with pg_notify, and listens for
// them with LISTEN on a dedicated pgx connection
type postgresNotifier struct {
	id       string
	dsn      string
	db       DBI
	handlers notifierHandlers
	logger   *slog.Logger
}

func (p *postgresNotifier) ID() string {
	return p.id
}

func (postgresNotifier) WordsUpdatedChannelName() string {
	return postgresNotifyChannelWordsUpdated
}

func (postgresNotifier) AttemptsResetChannelName() string {
	return postgresNotifyChannelAttemptsReset
}

func (p *postgresNotifier) WordsUpdated(ctx context.Context) bool {
	if p.handlers.wordsUpdated != nil {
		p.handlers.wordsUpdated()
	}
	return p.notify(ctx, p.WordsUpdatedChannelName())
}

func (p *postgresNotifier) AttemptsReset(ctx context.Context) bool {
	return p.notify(ctx, p.AttemptsResetChannelName())
}

func (p *postgresNotifier) notify(ctx context.Context, channel string) bool {
	ctx, cancel := context.WithTimeout(ctx, dbNotifierSendTimeout)
	defer cancel()

	notifyErr := p.db.DB().WithContext(ctx).Exec(
		"SELECT pg_notify(?, ?)",
		channel,
		p.ID(),
	).Error
	if notifyErr != nil {
		p.logger.ErrorContext(
			ctx,
			"error sending NOTIFY",
			"channel", channel,
			tint.Err(notifyErr),
		)
		return false
	}
	p.logger.InfoContext(ctx, "sent notification", "channel", channel, "pg_notify_id", p.ID())
	return true
}

func (p *postgresNotifier) Listen(ctx context.Context, channel string) error {
	logger := p.logger.With("channel", channel)
	logger.InfoContext(ctx, "starting db listener")

	config, err := pgxpool.ParseConfig(p.dsn)
	if err != nil {
		logger.ErrorContext(ctx, "error parsing database config", tint.Err(err))
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		logger.ErrorContext(ctx, "error creating connection pool", tint.Err(err))
		return err
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "error acquiring connection", tint.Err(err))
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, fmt.Sprintf("LISTEN %s", channel)); err != nil {
		logger.ErrorContext(ctx, "error setting up listener", tint.Err(err))
		return err
	}
	logger.InfoContext(ctx, "started listening on channel")

	for ctx.Err() == nil {
		notification, e := conn.Conn().WaitForNotification(ctx)
		if e != nil {
			if ctx.Err() != nil {
				break
			}
			logger.ErrorContext(ctx, "error waiting for notification", tint.Err(e))
			select {
			case <-ctx.Done():
			case <-time.After(dbNotifierRetryInterval):
			}
			continue
		}
		if notification.Payload == p.ID() {
			logger.Debug("received notification from self, ignoring")
			continue
		}

		switch notification.Channel {
		case p.WordsUpdatedChannelName():
			logger.InfoContext(ctx, "received words updated notification")
			if p.handlers.wordsUpdated != nil {
				p.handlers.wordsUpdated()
			}
		case p.AttemptsResetChannelName():
			logger.InfoContext(ctx, "received attempts reset notification")
			if p.handlers.attemptsReset != nil {
				p.handlers.attemptsReset()
			}
		default:
			logger.Warn("received unknown notification", "notification_channel", notification.Channel)
		}
	}
	logger.InfoContext(ctx, "db listener stopped")
	return nil
}
