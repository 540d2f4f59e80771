// Package sqlite provides a SQLite implementation of the listing store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/c0deZ3R0/go-rental-sync/logging"
	"github.com/c0deZ3R0/go-rental-sync/storage/sqlstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS apartments (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    title         TEXT NOT NULL,
    description   TEXT,
    price         REAL NOT NULL,
    city          TEXT NOT NULL DEFAULT '',
    full_address  TEXT NOT NULL,
    latitude      REAL,
    longitude     REAL,
    lessor_id     TEXT NOT NULL,
    lessor_email  TEXT NOT NULL DEFAULT '',
    UNIQUE (lessor_id, full_address)
);
CREATE INDEX IF NOT EXISTS idx_apartments_city ON apartments (city);
`

// Config holds configuration options for the SQLite listing store.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:rental.db"
	DataSourceName string

	// EnableWAL appends "_journal_mode=WAL" to DataSourceName.
	EnableWAL bool

	// Logger receives store lifecycle messages. Defaults to logging.Default().
	Logger *logging.Logger

	MaxOpenConns    int           // Default: 25
	MaxIdleConns    int           // Default: 5
	ConnMaxLifetime time.Duration // Default: 1h
	ConnMaxIdleTime time.Duration // Default: 5m
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	// Every connection to a plain :memory: database sees its own empty
	// database.
	if strings.Contains(c.DataSourceName, ":memory:") && !strings.Contains(c.DataSourceName, "cache=shared") {
		c.MaxOpenConns = 1
	}
	if c.EnableWAL && !strings.Contains(c.DataSourceName, "_journal_mode=") {
		c.DataSourceName = withParam(c.DataSourceName, "_journal_mode=WAL")
	}
	if !strings.Contains(c.DataSourceName, "_busy_timeout=") {
		c.DataSourceName = withParam(c.DataSourceName, "_busy_timeout=5000")
	}
}

// DefaultConfig returns a Config with WAL enabled and pool defaults applied.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// New opens the database and creates the schema.
func New(ctx context.Context, config *Config) (*sqlstore.Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}
	config.setDefaults()

	logger := config.Logger.WithComponent(logging.Component("storage/sqlite"))
	logger.InfoContext(ctx, "Opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store, err := sqlstore.New(ctx, db, Dialect(), config.Logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Dialect returns the SQLite dialect.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:              "storage/sqlite",
		Schema:            schema,
		IsUniqueViolation: IsUniqueViolation,
	}
}

// IsUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func withParam(dsn, param string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}
	return dsn + "?" + param
}
