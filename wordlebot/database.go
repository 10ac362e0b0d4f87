package wordlebot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite    = "sqlite"
	dbTypePostgres  = "postgres"
	recordSeparator = string(rune(30))
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
		"pragma busy_timeout = 5000;",
	}
	dbOperationTimeout    = 30 * time.Second
	dbNotifierSendTimeout = 15 * time.Second
)

// models migrated by [CreateDB] and on startup
var models = []any{
	&Word{},
	&Attempt{},
	&InteractionLog{},
	&PromptLog{},
	&ResetLog{},
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// database wraps a gorm connection, serializing writes with mu unless
// enableConcurrentWrites is set. SQLite only supports a single writer,
// so concurrent writes are only enabled for postgres.
type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	enableConcurrentWrites bool
}

// DBI defines the interface for database operations. [database]
// implements this interface for 'real' DB operations.
type DBI interface {
	Lock()
	Unlock()

	DB() *gorm.DB

	// Create inserts value, omitting the given columns
	Create(ctx context.Context, value any, omit ...string) (rowsAffected int64, err error)

	// Transaction runs fc in a transaction, committing if it returns nil
	Transaction(
		ctx context.Context,
		fc func(tx *gorm.DB) error,
		opts ...*sql.TxOptions,
	) (err error)

	// DeleteAll deletes every row of the given model's table
	DeleteAll(ctx context.Context, model any) (rowsAffected int64, err error)

	// Ping verifies the underlying connection is alive
	Ping(ctx context.Context) error
}

// NewDatabase returns a [DBI] backed by db. If log is nil, the default
// logger is used.
func NewDatabase(
	db *gorm.DB,
	log *slog.Logger,
	enableConcurrentWrites bool,
) DBI {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:                     db,
		logger:                 log.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) Lock() {
	if d.enableConcurrentWrites {
		return
	}
	d.mu.Lock()
}

func (d *database) Unlock() {
	if d.enableConcurrentWrites {
		return
	}
	d.mu.Unlock()
}

func (d *database) Create(ctx context.Context, value any, omit ...string) (
	rowsAffected int64,
	err error,
) {
	d.Lock()
	defer d.Unlock()

	ctx, cancel := dbContext(ctx)
	defer cancel()

	db := d.db.WithContext(ctx)
	if len(omit) > 0 {
		db = db.Omit(omit...)
	}
	rv := db.Create(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Transaction(
	ctx context.Context,
	fc func(tx *gorm.DB) error,
	opts ...*sql.TxOptions,
) (err error) {
	d.Lock()
	defer d.Unlock()

	ctx, cancel := dbContext(ctx)
	defer cancel()

	return d.db.WithContext(ctx).Transaction(fc, opts...)
}

func (d *database) DeleteAll(ctx context.Context, model any) (
	rowsAffected int64,
	err error,
) {
	d.Lock()
	defer d.Unlock()

	ctx, cancel := dbContext(ctx)
	defer cancel()

	rv := d.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(model)
	return rv.RowsAffected, rv.Error
}

func (d *database) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := dbContext(ctx)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// CreateDB opens the database and migrates every model, logging
// warnings and above to stdout.
//
//   - databaseType: must be 'sqlite' or 'postgres'
//   - database: the database connection string, or SQLite file path
func CreateDB(ctx context.Context, databaseType string, database string) (*gorm.DB, error) {
	handler := newLogHandler(os.Stdout, slog.LevelWarn)

	dbLogger := slog.New(handler)
	dbLogger.InfoContext(
		ctx,
		"initializing database",
		"database_type", databaseType,
		"database", database,
	)
	return openDB(
		ctx,
		databaseType,
		database,
		newGORMLogger(handler, DefaultDatabaseSlowThreshold),
	)
}

// openDB connects to the database, applies the SQLite connection
// settings if applicable, and migrates every model.
func openDB(
	ctx context.Context,
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if databaseType == dbTypeSQLite {
		if err = configureSQLite(ctx, db); err != nil {
			return db, err
		}
	}

	if err = migrate(ctx, db); err != nil {
		return db, err
	}
	return db, nil
}

func configureSQLite(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("error getting database connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
	sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
	sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)

	pragmaErrors := make([]error, 0, len(sqliteExecPragma))
	for _, p := range sqliteExecPragma {
		pragmaErrors = append(pragmaErrors, db.WithContext(ctx).Exec(p).Error)
	}
	return errors.Join(pragmaErrors...)
}

func migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			if err := tx.Migrator().AutoMigrate(models...); err != nil {
				return fmt.Errorf("error migrating database: %w", err)
			}
			return nil
		},
	)
}

// getDB initializes and returns a GORM database connection based on the
// specified database type.
//
//   - databaseType: must be 'sqlite' or 'postgres'
//   - database: database connection string, or SQLite file path
func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0o755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(sqlite.Open(database), gormConfig)
	case dbTypePostgres:
		return gorm.Open(postgres.Open(database), gormConfig)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}

// closeDB closes the underlying connection pool, logging any error
func closeDB(ctx context.Context, db *gorm.DB, logger *slog.Logger) {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.ErrorContext(ctx, "error getting database connection", tint.Err(err))
		return
	}
	if err = sqlDB.Close(); err != nil {
		logger.ErrorContext(ctx, "error closing database", tint.Err(err))
	}
}
