// Package corpus owns the physical storage for the three searchable
// corpora: personal (chat threads and messages), social (posts and
// comments), and published (sources and articles). It opens the SQLite
// database, applies versioned schema migrations, and detects whether the
// backend supports full-text ranking so the search layer can pick its
// query strategy.
package corpus

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// DB wraps the corpus database handle with backend capability flags.
type DB struct {
	*sql.DB
	fts    bool
	logger *zap.Logger
}

// Open initializes the corpus database at path, applying pragmas and
// migrations. The directory is created if missing.
func Open(path string, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("corpus")

	if dir := filepath.Dir(path); dir != "" && dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	sqldb, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	if _, err := sqldb.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.Debug("failed to set busy_timeout", zap.Error(err))
	}
	if _, err := sqldb.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logger.Debug("failed to set journal_mode=WAL", zap.Error(err))
	}
	if _, err := sqldb.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logger.Debug("failed to set synchronous=NORMAL", zap.Error(err))
	}

	db := &DB{DB: sqldb, logger: logger}
	db.fts = detectFTS(sqldb)
	if err := db.migrate(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("failed to migrate corpus schema: %w", err)
	}

	logger.Info("corpus database ready",
		zap.String("path", path),
		zap.Bool("full_text_ranking", db.fts))
	return db, nil
}

// FTS reports whether the backend supports full-text ranking. When true,
// the *_fts virtual tables exist and are maintained by triggers on every
// row write.
func (db *DB) FTS() bool { return db.fts }

// detectFTS probes for the fts5 module by creating and dropping a
// throwaway virtual table.
func detectFTS(db *sql.DB) bool {
	if _, err := db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS fts_probe USING fts5(probe)"); err != nil {
		return false
	}
	_, _ = db.Exec("DROP TABLE IF EXISTS fts_probe")
	return true
}
