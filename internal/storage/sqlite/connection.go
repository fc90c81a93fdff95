package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jezel/internal/common"
	_ "modernc.org/sqlite"
)

// DB manages the SQLite database connection shared by all tables.
type DB struct {
	db       *sql.DB
	logger   arbor.ILogger
	config   *common.DatabaseConfig
	inMemory bool
}

// NewDB opens the database named by the configured URI.
// URIs of the sqlite family containing ":memory:" get a single-connection
// pool so every caller sees the same in-memory database.
func NewDB(logger arbor.ILogger, config *common.DatabaseConfig) (*DB, error) {
	path := dataSource(config.URI)

	inMemory := strings.Contains(path, ":memory:")
	if !inMemory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// modernc.org/sqlite uses "sqlite" driver name (not "sqlite3")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if inMemory {
		db.SetMaxOpenConns(1)
		logger.Warn().Str("uri", config.URI).Msg("Running in-memory database")
	}

	d := &DB{
		db:       db,
		logger:   logger,
		config:   config,
		inMemory: inMemory,
	}

	if err := d.configure(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	logger.Info().Str("uri", config.URI).Msg("SQLite database initialized")
	return d, nil
}

// dataSource strips the sqlite URI scheme so the bare path can be handed
// to the driver. Non-sqlite URIs pass through unchanged.
func dataSource(uri string) string {
	for _, prefix := range []string{"sqlite:///", "sqlite://", "sqlite:"} {
		if strings.HasPrefix(uri, prefix) {
			return strings.TrimPrefix(uri, prefix)
		}
	}
	return uri
}

func (d *DB) configure() error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", d.config.BusyTimeoutMS),
		"PRAGMA foreign_keys = OFF",
		"PRAGMA synchronous = NORMAL",
	}

	if d.config.WALMode && !d.inMemory {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}

	for _, pragma := range pragmas {
		if _, err := d.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

// DB returns the underlying database connection
func (d *DB) DB() *sql.DB {
	return d.db
}

// IsMemory reports whether the database lives in process memory only.
func (d *DB) IsMemory() bool {
	return d.inMemory
}

// Close closes the database connection
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// BeginTx starts a new transaction
func (d *DB) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return d.db.BeginTx(ctx, nil)
}

// Ping verifies the database connection
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}
