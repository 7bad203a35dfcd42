package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// NewSQLiteStorage opens (or creates) a SQLite database at path, creating the
// parent directory when needed, and applies the schema.
func NewSQLiteStorage(ctx context.Context, path string, logger *zap.Logger) (*SQLStorage, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}

	storage := newSQLStorage(db, dialectSQLite, logger)
	if err := storage.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Opened SQLite database", zap.String("path", path))
	return storage, nil
}
