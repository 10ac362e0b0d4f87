package wordlebot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// ResetTrigger identifies what started an attempt reset
type ResetTrigger string

const (
	ResetTriggerSchedule ResetTrigger = "schedule"
	ResetTriggerAPI      ResetTrigger = "api"
	ResetTriggerCLI      ResetTrigger = "cli"
)

// ResetLog records a single reset of the attempt ledger
type ResetLog struct {
	ModelUintID
	Trigger     ResetTrigger `json:"trigger" gorm:"size:16"`
	DateKey     string       `json:"date_key" gorm:"size:10"`
	RowsDeleted int64        `json:"rows_deleted"`
	Error       string       `json:"error,omitempty"`
	StartedAt   int64        `json:"started_at"`
	FinishedAt  int64        `json:"finished_at"`
	CreatedAt   int64        `json:"created_at" gorm:"autoCreateTime:milli"`
}

func (r ResetLog) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("trigger", string(r.Trigger)),
		slog.String("date_key", r.DateKey),
		slog.Int64("rows_deleted", r.RowsDeleted),
		slog.Duration("elapsed", time.Duration(r.FinishedAt-r.StartedAt)*time.Millisecond),
	}
	if r.Error != "" {
		attrs = append(attrs, slog.String("error", r.Error))
	}
	return slog.GroupValue(attrs...)
}

// ResetScheduler clears the attempt ledger on a cron schedule, and on
// demand via [ResetScheduler.Trigger].
//
// Resets never overlap: a scheduled run is skipped if one is still in
// progress, and Trigger waits for any running reset to finish.
type ResetScheduler struct {
	ledger   AttemptLedger
	db       DBI
	notifier DBNotifier
	location *time.Location
	schedule string
	cron     *cron.Cron
	entryID  cron.EntryID
	logger   *slog.Logger
	now      func() time.Time

	// ctx is passed to scheduled runs, and is set by Start
	ctx context.Context
	mu  sync.Mutex
}

// NewResetScheduler returns a scheduler which resets ledger on the given
// cron schedule, evaluated in loc. An empty schedule disables scheduled
// resets, leaving only [ResetScheduler.Trigger].
func NewResetScheduler(
	ledger AttemptLedger,
	db DBI,
	loc *time.Location,
	schedule string,
	logger *slog.Logger,
) (*ResetScheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(loggerNameKey, "reset")

	cronLog := cronLogger{logger: logger}
	r := &ResetScheduler{
		ledger:   ledger,
		db:       db,
		location: loc,
		schedule: schedule,
		logger:   logger,
		now:      time.Now,
		ctx:      context.Background(),
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
	}

	if schedule != "" {
		entryID, err := r.cron.AddFunc(
			schedule, func() {
				_, _ = r.Trigger(r.ctx, ResetTriggerSchedule)
			},
		)
		if err != nil {
			return nil, fmt.Errorf("invalid reset schedule %q: %w", schedule, err)
		}
		r.entryID = entryID
	}
	return r, nil
}

// Start runs the schedule in the background. ctx is passed to each
// scheduled reset.
func (r *ResetScheduler) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()

	r.cron.Start()
	r.logger.InfoContext(
		ctx,
		"reset scheduler started",
		"schedule", r.schedule,
		"location", r.location.String(),
		"next", r.Next(),
	)
}

// Stop stops the schedule, waiting for a running reset to finish or
// ctx to be done
func (r *ResetScheduler) Stop(ctx context.Context) error {
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
		r.logger.InfoContext(ctx, "reset scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for reset to finish: %w", ctx.Err())
	}
}

// Next returns the time of the next scheduled reset, or the zero time
// if resets aren't scheduled
func (r *ResetScheduler) Next() time.Time {
	if r.entryID == 0 {
		return time.Time{}
	}
	entry := r.cron.Entry(r.entryID)
	if entry.Valid() && !entry.Next.IsZero() {
		return entry.Next
	}
	sched, err := cron.ParseStandard(r.schedule)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(r.now().In(r.location))
}

// Trigger resets the attempt ledger now, records a [ResetLog], and
// notifies other instances.
func (r *ResetScheduler) Trigger(ctx context.Context, trigger ResetTrigger) (ResetLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = r.logger
	}

	started := r.now()
	entry := ResetLog{
		Trigger:   trigger,
		DateKey:   DateKey(started, r.location),
		StartedAt: started.UnixMilli(),
	}

	rows, err := r.ledger.Reset(ctx)
	entry.RowsDeleted = rows
	entry.FinishedAt = r.now().UnixMilli()
	if err != nil {
		entry.Error = err.Error()
		logger.ErrorContext(ctx, "error resetting attempts", tint.Err(err), "reset", entry)
	} else {
		logger.InfoContext(ctx, "attempts reset", "reset", entry)
	}

	if r.db != nil {
		if _, logErr := r.db.Create(ctx, &entry); logErr != nil {
			logger.ErrorContext(ctx, "error saving reset log", tint.Err(logErr))
		}
	}

	if err == nil && r.notifier != nil {
		r.notifier.AttemptsReset(ctx)
	}
	return entry, err
}

// LastReset returns the most recent [ResetLog], or nil if there
// hasn't been one
func (r *ResetScheduler) LastReset(ctx context.Context) (*ResetLog, error) {
	if r.db == nil {
		return nil, nil
	}
	ctx, cancel := dbContext(ctx)
	defer cancel()

	var entry ResetLog
	err := r.db.DB().WithContext(ctx).Order("id desc").Take(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// cronLogger implements [cron.Logger] on top of slog
type cronLogger struct {
	logger *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.logger.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.logger.Error(msg, append([]any{tint.Err(err)}, keysAndValues...)...)
}
