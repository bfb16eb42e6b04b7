package classcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"shadowbox.dev/pkg/shadowbox/internal/classcache/migrations"
)

const sqliteFileName = "classes.db"

func sqlitePath(dir string) string {
	return filepath.Join(dir, sqliteFileName)
}

// SQLiteConfig configures the SQLite cache.
type SQLiteConfig struct {
	DBPath string
}

func (c *SQLiteConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}

	return nil
}

// SQLiteCache stores entries in a single SQLite database.
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLiteCache opens the database and applies migrations.
func NewSQLiteCache(ctx context.Context, cfg SQLiteConfig) (*SQLiteCache, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o750); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.DBPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("could not open database: %w", err)
	}

	migrator, err := migrations.NewMigrator(db)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("could not create migrator: %w", err)
	}

	if err := migrator.Up(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	return &SQLiteCache{db: db}, nil
}

// Get reads the entry for key.
func (c *SQLiteCache) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	var data []byte

	query := `SELECT data FROM rewritten_classes WHERE original_hash = ? AND fingerprint = ?`

	err := c.db.QueryRowContext(ctx, query, key.OriginalHash, key.Fingerprint).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("could not read class cache entry: %w", err)
	}

	return data, true, nil
}

// Put stores data under key.
func (c *SQLiteCache) Put(ctx context.Context, key Key, data []byte) error {
	query := `
		INSERT INTO rewritten_classes (original_hash, fingerprint, data, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (original_hash, fingerprint) DO UPDATE SET data = excluded.data, created_at = excluded.created_at
	`

	if _, err := c.db.ExecContext(ctx, query, key.OriginalHash, key.Fingerprint, data, time.Now().Unix()); err != nil {
		return fmt.Errorf("could not write class cache entry: %w", err)
	}

	return nil
}

// Prune removes every entry whose fingerprint differs from keep and returns
// the number of removed rows.
func (c *SQLiteCache) Prune(ctx context.Context, keep string) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM rewritten_classes WHERE fingerprint <> ?`, keep)
	if err != nil {
		return 0, fmt.Errorf("could not prune class cache: %w", err)
	}

	return res.RowsAffected()
}

// Close closes the database connection.
func (c *SQLiteCache) Close() error { return c.db.Close() }
