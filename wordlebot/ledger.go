package wordlebot

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnAttemptServerID  = "server_id"
	columnAttemptPlayerID  = "player_id"
	columnAttemptAttempts  = "attempts"
	columnAttemptUpdatedAt = "updated_at"
)

// Attempt is the number of guesses a player has used today on a
// given server. A solved round is recorded as [MaxAttempts].
type Attempt struct {
	ServerID  string `gorm:"primaryKey;size:64" json:"server_id"`
	PlayerID  string `gorm:"primaryKey;size:64" json:"player_id"`
	Attempts  int    `gorm:"not null" json:"attempts"`
	UpdatedAt int64  `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
}

// AttemptRecorder reads and writes attempt counts for a single
// (server, player) pair
type AttemptRecorder interface {
	// Get returns the current attempt count, and false if no
	// record exists yet
	Get(ctx context.Context, serverID, playerID string) (attempts int, found bool, err error)

	// Upsert inserts or replaces the attempt count, atomically per key
	Upsert(ctx context.Context, serverID, playerID string, attempts int) error
}

// AttemptLedger is the persistent per-(server, player) daily attempt counter
type AttemptLedger interface {
	AttemptRecorder

	// Atomic calls fn with a recorder scoped to one transaction for the
	// given pair. Concurrent calls for the same pair are serialized, and
	// writes made through the recorder are committed only if fn
	// returns nil.
	Atomic(
		ctx context.Context,
		serverID, playerID string,
		fn func(ctx context.Context, rec AttemptRecorder) error,
	) error

	// Reset clears every attempt record, returning the number removed.
	// It doesn't run concurrently with Atomic or Upsert.
	Reset(ctx context.Context) (int64, error)
}

// GormAttemptLedger implements [AttemptLedger] on top of the
// `attempts` table.
//
// resetMu is held shared by every write and exclusively by Reset, so a
// reset never interleaves with a round in progress. keys serializes
// rounds for the same pair within this process; on postgres the
// round's SELECT ... FOR UPDATE does the same across instances.
type GormAttemptLedger struct {
	db      DBI
	logger  *slog.Logger
	resetMu sync.RWMutex
	keys    *keyedMutex
}

func NewAttemptLedger(db DBI, logger *slog.Logger) *GormAttemptLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &GormAttemptLedger{
		db:     db,
		logger: logger.With(loggerNameKey, "attempt_ledger"),
		keys:   newKeyedMutex(),
	}
}

func (l *GormAttemptLedger) Get(
	ctx context.Context,
	serverID, playerID string,
) (int, bool, error) {
	ctx, cancel := dbContext(ctx)
	defer cancel()
	return getAttempts(l.db.DB().WithContext(ctx), serverID, playerID, false)
}

func (l *GormAttemptLedger) Upsert(
	ctx context.Context,
	serverID, playerID string,
	attempts int,
) error {
	l.resetMu.RLock()
	defer l.resetMu.RUnlock()

	return l.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			return upsertAttempts(tx, serverID, playerID, attempts)
		},
	)
}

func (l *GormAttemptLedger) Atomic(
	ctx context.Context,
	serverID, playerID string,
	fn func(ctx context.Context, rec AttemptRecorder) error,
) error {
	l.resetMu.RLock()
	defer l.resetMu.RUnlock()

	unlock := l.keys.Lock(attemptKey(serverID, playerID))
	defer unlock()

	return l.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			return fn(tx.Statement.Context, txAttemptRecorder{tx: tx})
		},
	)
}

func (l *GormAttemptLedger) Reset(ctx context.Context) (int64, error) {
	l.resetMu.Lock()
	defer l.resetMu.Unlock()

	rows, err := l.db.DeleteAll(ctx, &Attempt{})
	if err != nil {
		return rows, err
	}
	l.logger.InfoContext(ctx, "attempt ledger reset", "rows_deleted", rows)
	return rows, nil
}

// List returns the attempt records for a server, ordered by player ID
func (l *GormAttemptLedger) List(ctx context.Context, serverID string) ([]Attempt, error) {
	ctx, cancel := dbContext(ctx)
	defer cancel()

	var attempts []Attempt
	err := l.db.DB().WithContext(ctx).
		Where(columnAttemptServerID+" = ?", serverID).
		Order(columnAttemptPlayerID).
		Find(&attempts).Error
	return attempts, err
}

// txAttemptRecorder is the [AttemptRecorder] handed to [GormAttemptLedger.Atomic]
// callbacks, bound to the open transaction
type txAttemptRecorder struct {
	tx *gorm.DB
}

// Get reads the record with a row lock. A missing record is inserted
// as zero first, so a concurrent first guess from another instance
// blocks on the new row instead of overwriting it.
func (r txAttemptRecorder) Get(
	ctx context.Context,
	serverID, playerID string,
) (int, bool, error) {
	db := r.tx.WithContext(ctx)
	attempts, found, err := getAttempts(db, serverID, playerID, true)
	if err != nil || found {
		return attempts, found, err
	}

	created, err := insertZeroAttempts(db, serverID, playerID)
	if err != nil {
		return 0, false, err
	}
	if created {
		return 0, false, nil
	}
	return getAttempts(db, serverID, playerID, true)
}

func (r txAttemptRecorder) Upsert(
	ctx context.Context,
	serverID, playerID string,
	attempts int,
) error {
	return upsertAttempts(r.tx.WithContext(ctx), serverID, playerID, attempts)
}

func getAttempts(
	db *gorm.DB,
	serverID, playerID string,
	forUpdate bool,
) (int, bool, error) {
	if forUpdate && db.Dialector.Name() == dbTypePostgres {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var a Attempt
	err := db.Where(
		columnAttemptServerID+" = ? AND "+columnAttemptPlayerID+" = ?",
		serverID,
		playerID,
	).Take(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return a.Attempts, true, nil
}

// upsertAttempts is the INSERT ... ON CONFLICT (server_id, player_id)
// DO UPDATE write used for every attempt change
func upsertAttempts(db *gorm.DB, serverID, playerID string, attempts int) error {
	return db.Clauses(
		clause.OnConflict{
			Columns: []clause.Column{
				{Name: columnAttemptServerID},
				{Name: columnAttemptPlayerID},
			},
			DoUpdates: clause.AssignmentColumns(
				[]string{columnAttemptAttempts, columnAttemptUpdatedAt},
			),
		},
	).Create(
		&Attempt{
			ServerID: serverID,
			PlayerID: playerID,
			Attempts: attempts,
		},
	).Error
}

// insertZeroAttempts creates a zero record unless one already exists,
// reporting whether it was created. An existing record is left as is.
func insertZeroAttempts(db *gorm.DB, serverID, playerID string) (bool, error) {
	rv := db.Clauses(clause.OnConflict{DoNothing: true}).Create(
		&Attempt{
			ServerID: serverID,
			PlayerID: playerID,
		},
	)
	if rv.Error != nil {
		return false, rv.Error
	}
	return rv.RowsAffected > 0, nil
}

func attemptKey(serverID, playerID string) string {
	return serverID + recordSeparator + playerID
}
