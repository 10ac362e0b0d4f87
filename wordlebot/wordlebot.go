package wordlebot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/arcward/wordlebot/wordlebot.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	defaultLogWriter io.Writer = os.Stdout
)

// Bot ties together the Discord session, the daily word game, the
// generative text client, the database and the HTTP servers.
type Bot struct {
	config *Config

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger     *slog.Logger
	logHandler slog.Handler

	// Read connection
	db *gorm.DB

	// gorm.DB wrapper for write/update/delete operations. When using
	// sqlite, writes are serialized with a mutex.
	writeDB DBI

	words      *GormWordStore
	ledger     *GormAttemptLedger
	evaluator  *Evaluator
	generator  *Generator
	resets     *ResetScheduler
	dbNotifier DBNotifier

	// location defines the calendar day for the game
	location *time.Location

	discord *Discord

	// Admin API
	api *API

	// Receives Discord interactions when the gateway isn't being used
	discordWebhookServer *DiscordWebhookServer

	// Handler for interactions received via webhook, set by Run
	webhookInteractionHandler func(c *gin.Context)

	// getInteractionHandlerFunc returns the InteractionHandler used to
	// respond to an interaction received via the gateway
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler

	// handlerWG tracks in-flight interaction and message handlers
	handlerWG sync.WaitGroup

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// signalReady has a value sent on it once Run has finished starting up
	signalReady chan struct{}

	// The time Run was called
	startedAt time.Time
}

// New creates a new [Bot]. Nothing is connected or opened until Run is
// called. Errors from each component are collected and returned together.
func New(config *Config) (*Bot, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	b := &Bot{
		config:      config,
		signalReady: make(chan struct{}, 1),
	}

	b.logHandler = newLogHandler(defaultLogWriter, config.LogLevel)
	b.logger = slog.New(b.logHandler)
	slog.SetDefault(b.logger)

	loc, err := config.Game.Location()
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid timezone: %w", err))
		loc = time.UTC
	}
	b.location = loc

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(defaultLogWriter, config.Discord.DiscordGoLogLevel),
	)

	disc, err := newDiscord(
		config.Discord,
		config.HTTPClient,
		slog.New(newLogHandler(defaultLogWriter, config.Discord.LogLevel)),
	)
	if err != nil {
		errs = append(errs, err)
	}
	b.discord = disc

	b.getInteractionHandlerFunc = func(
		_ context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler {
		return GatewayHandler{
			session:     b.discord.session,
			interaction: i,
			logger: b.discord.logger.With(
				slog.Group("interaction", interactionLogAttrs(*i)...),
			),
		}
	}

	if config.API.Enabled {
		api, e := newAPI(b, config.API)
		errs = append(errs, e)
		b.api = api
	}

	if config.Discord.WebhookServer.Enabled {
		webhookServer, e := newWebhookServer(b, config.Discord.WebhookServer)
		errs = append(errs, e)
		b.discordWebhookServer = webhookServer
	}

	return b, errors.Join(errs...)
}

func (b *Bot) ValidateConfig() error {
	return structValidator.Struct(b.config)
}

// initDB opens and migrates the database, then builds the components
// backed by it
func (b *Bot) initDB(ctx context.Context) error {
	if b.db != nil {
		return nil
	}
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = b.logger
	}

	gormLogger := newGORMLogger(
		newLogHandler(defaultLogWriter, b.config.DatabaseLogLevel),
		b.config.DatabaseSlowThreshold,
	)
	db, err := openDB(ctx, b.config.DatabaseType, b.config.Database, gormLogger)
	if err != nil {
		closeDB(ctx, db, logger)
		return err
	}
	b.db = db
	b.writeDB = NewDatabase(
		db,
		logger.With(loggerNameKey, "database"),
		b.config.DatabaseType == dbTypePostgres,
	)

	gameLogger := slog.New(newLogHandler(defaultLogWriter, b.config.Game.LogLevel))

	b.words = NewWordStore(b.writeDB, b.config.Game.WordCountTTL, gameLogger)
	b.ledger = NewAttemptLedger(b.writeDB, gameLogger)
	b.evaluator = NewEvaluator(b.words, b.ledger, b.location, gameLogger)

	if b.config.Generative.Enabled {
		b.generator = NewGenerator(
			b.config.Generative,
			b.writeDB,
			b.config.HTTPClient,
			slog.New(newLogHandler(defaultLogWriter, b.config.Generative.LogLevel)),
		)
	}

	notifier, err := newDBNotifier(
		b.config.DatabaseType,
		b.config.Database,
		b.writeDB,
		notifierHandlers{
			wordsUpdated: b.words.Invalidate,
			attemptsReset: func() {
				b.logger.Info("attempts were reset by another instance")
			},
		},
		logger,
	)
	if err != nil {
		return fmt.Errorf("error creating db notifier: %w", err)
	}
	b.dbNotifier = notifier

	var schedule string
	if b.config.Game.ResetEnabled {
		schedule = b.config.Game.ResetSchedule
	}
	resets, err := NewResetScheduler(b.ledger, b.writeDB, b.location, schedule, gameLogger)
	if err != nil {
		return err
	}
	resets.notifier = notifier
	b.resets = resets

	return nil
}

// initRun opens the database and creates the discord session
func (b *Bot) initRun(ctx context.Context) error {
	b.logger.DebugContext(ctx, "initializing DB...")
	if err := b.initDB(ctx); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	b.logger.DebugContext(ctx, "finished initializing DB")

	count, err := b.words.Count(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("error counting words: %w", err)
	case count == 0:
		b.logger.WarnContext(
			ctx,
			"word list is empty, /wordle will fail until words are imported",
		)
	default:
		b.logger.InfoContext(ctx, "word list loaded", "count", count)
	}

	if b.discord.session == nil {
		session, sessionErr := b.discord.newSession()
		if sessionErr != nil {
			return fmt.Errorf("error creating discord session: %w", sessionErr)
		}
		b.discord.session = session
	}
	return nil
}

// Run starts the bot, blocking until ctx is cancelled and shutdown
// completes.
func (b *Bot) Run(ctx context.Context) error {
	// prevents concurrent runs
	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.startedAt = time.Now()
	logger := b.logger

	if err := b.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", b.config))

	b.webhookInteractionHandler = webhookReceiveHandler(ctx, b)
	if b.signalReady == nil {
		b.signalReady = make(chan struct{}, 1)
	}

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		initErr <- b.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out: %w", startCtx.Err())
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			closeDB(context.Background(), b.db, logger)
			return err
		}
		logger.InfoContext(ctx, "init complete")
	}

	runtimeWG := &sync.WaitGroup{}

	if b.api != nil {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			httpErr := b.api.Serve(ctx)
			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
			}
		}()
	}

	if b.discordWebhookServer != nil {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			httpErr := b.discordWebhookServer.Serve(ctx)
			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "error serving webhook HTTP", tint.Err(httpErr))
			}
		}()
	} else if !b.config.Discord.GatewayEnabled {
		logger.WarnContext(ctx, "discord gateway and webhook server disabled")
	}

	for _, channel := range []string{
		b.dbNotifier.WordsUpdatedChannelName(),
		b.dbNotifier.AttemptsResetChannelName(),
	} {
		if channel == "" {
			continue
		}
		runtimeWG.Add(1)
		go func(ch string) {
			defer runtimeWG.Done()
			if e := b.dbNotifier.Listen(ctx, ch); e != nil {
				logger.ErrorContext(ctx, "error listening for notifications", "channel", ch, tint.Err(e))
			}
		}(channel)
	}

	b.resets.Start(ctx)

	b.initDiscordSession(ctx)
	if err := b.discordInit(ctx); err != nil {
		_ = b.shutdown(ctx, runtimeWG)
		return err
	}

	select {
	case b.signalReady <- struct{}{}:
		logger.InfoContext(ctx, "sent ready signal")
	default:
	}

	// block until something cancels the main runtime context
	<-ctx.Done()

	return b.shutdown(ctx, runtimeWG)
}

// initDiscordSession sets the gateway identify payload and adds the
// discordgo event handlers
func (b *Bot) initDiscordSession(ctx context.Context) {
	logger := b.logger.With(loggerNameKey, "discord_session")
	ctx = WithLogger(ctx, logger)

	b.discord.removeHandlers()

	identify := discordgo.Identify{Intents: b.config.Discord.GatewayIntents}
	if b.config.Discord.CustomStatus != "" {
		identify.Presence = discordgo.GatewayStatusUpdate{
			Status: string(discordgo.StatusOnline),
			Game: discordgo.Activity{
				Name:  "Custom Status",
				Type:  discordgo.ActivityTypeCustom,
				State: b.config.Discord.CustomStatus,
			},
		}
	}
	b.discord.session.SetIdentify(identify)

	b.discord.discordgoRemoveHandlerFuncs = []func(){
		b.discord.session.AddHandler(b.discord.handlerConnect()),
		b.discord.session.AddHandler(b.discord.handlerDisconnect()),
		b.discord.session.AddHandler(b.discord.handlerReady()),
		b.discord.session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				handler := b.getInteractionHandlerFunc(ctx, i)
				b.handlerWG.Add(1)
				go func() {
					defer b.handlerWG.Done()
					b.handleInteraction(ctx, handler)
				}()
			},
		),
		b.discord.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				b.handlerWG.Add(1)
				go func() {
					defer b.handlerWG.Done()
					b.handleDiscordMessage(ctx, m)
				}()
			},
		),
	}
}

// discordInit opens the gateway connection and registers commands, if
// the gateway is enabled
func (b *Bot) discordInit(ctx context.Context) error {
	if !b.config.Discord.GatewayEnabled {
		return nil
	}
	b.logger.InfoContext(ctx, "connecting to discord")
	if err := b.discord.session.Open(); err != nil {
		b.logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(err))
		return fmt.Errorf("error connecting to discord: %w", err)
	}
	if _, err := b.RegisterSlashCommands(); err != nil {
		b.logger.ErrorContext(ctx, "error registering commands", tint.Err(err))
	}
	return nil
}

// shutdown stops the reset schedule, closes the discord session, stops
// the HTTP servers and waits for in-flight handlers, forcing everything
// closed once ShutdownTimeout elapses
func (b *Bot) shutdown(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	b.logger.WarnContext(ctx, "shutting down")
	shutdownStart := time.Now()
	shutdownDeadline := shutdownStart.Add(b.config.ShutdownTimeout)

	b.logger.InfoContext(
		ctx,
		"exiting!",
		"shutdown_timeout", b.config.ShutdownTimeout,
		"shutdown_deadline", shutdownDeadline,
	)

	closeCtx, closeCancel := context.WithDeadline(context.Background(), shutdownDeadline)
	defer closeCancel()

	var errs []error

	if b.resets != nil {
		if err := b.resets.Stop(closeCtx); err != nil {
			errs = append(errs, err)
		}
	}

	if b.discord.session != nil {
		b.logger.InfoContext(ctx, "closing discord session")
		b.discord.removeHandlers()
		if err := b.discord.session.Close(); err != nil {
			b.logger.ErrorContext(ctx, "error closing discord session", tint.Err(err))
		}
	}

	g := errgroup.Group{}
	if b.api != nil && b.api.httpServer != nil {
		g.Go(
			func() error {
				b.logger.InfoContext(ctx, "stopping http server")
				return b.api.httpServer.Shutdown(closeCtx)
			},
		)
	}
	if b.discordWebhookServer != nil {
		g.Go(
			func() error {
				b.logger.InfoContext(ctx, "stopping webhook http server")
				return b.discordWebhookServer.httpServer.Shutdown(closeCtx)
			},
		)
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait()
		b.handlerWG.Wait()
		gracefulShutdownCh <- struct{}{}
	}()

	select {
	case <-gracefulShutdownCh:
		shutdownEnded := time.Now()
		b.logger.InfoContext(
			ctx,
			"shutdown complete",
			"shutdown_duration", shutdownEnded.Sub(shutdownStart),
		)
	case <-closeCtx.Done():
		b.logger.Warn("handlers did not stop in time, forcing close")
		if b.api != nil && b.api.httpServer != nil {
			_ = b.api.httpServer.Close()
		}
		if b.discordWebhookServer != nil {
			_ = b.discordWebhookServer.httpServer.Close()
		}
		errs = append(errs, errors.New("handlers did not stop in time"))
	}

	closeDB(context.Background(), b.db, b.logger)
	return errors.Join(errs...)
}

// ImportWords adds words to the word list, notifying other instances if
// any were added
func (b *Bot) ImportWords(ctx context.Context, words []string) (WordImportResult, error) {
	if err := b.initDB(ctx); err != nil {
		return WordImportResult{}, err
	}
	result, err := b.words.Import(ctx, words)
	if err != nil {
		return result, err
	}
	if result.Added > 0 {
		b.dbNotifier.WordsUpdated(ctx)
	}
	return result, nil
}

// ResetAttempts clears the attempt ledger immediately
func (b *Bot) ResetAttempts(ctx context.Context, trigger ResetTrigger) (ResetLog, error) {
	if err := b.initDB(ctx); err != nil {
		return ResetLog{}, err
	}
	return b.resets.Trigger(ctx, trigger)
}

// RegisterSlashCommands overwrites the application's commands with
// /wordle, and /ask if generative text is enabled
func (b *Bot) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	if b.discord.session == nil {
		session, err := b.discord.newSession()
		if err != nil {
			return nil, fmt.Errorf("error creating discord session: %w", err)
		}
		b.discord.session = session
	}
	return b.discord.registerCommands(b.config.Generative.Enabled, options...)
}

// Close closes the database, for use outside of Run
func (b *Bot) Close(ctx context.Context) {
	closeDB(ctx, b.db, b.logger)
	b.db = nil
}

// handleRecover logs a recovered panic with a stack trace. Used by
// handlers unless [Config.Development] is set.
func (*Bot) handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}
	stackTrace := string(debug.Stack())
	switch v := rc.(type) {
	case error:
		logger.ErrorContext(ctx, "recovered from panic", tint.Err(v), "stack_trace", stackTrace)
	case string:
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(errors.New(v)),
			"stack_trace", stackTrace,
		)
	default:
		logger.ErrorContext(ctx, "recovered from panic", "panic_arg", rc, "stack_trace", stackTrace)
	}
}
