package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB is the on-device SQLite store for the check-in queue and the sync log.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	dsn := path
	if path != ":memory:" {
		// Создаем директорию для БД, если её нет
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL", path)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		// Очередь отметок о приходе
		`CREATE TABLE IF NOT EXISTS checkin_queue (
            id TEXT PRIMARY KEY,
            target_hash TEXT NOT NULL,
            event_id TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            synced BOOLEAN NOT NULL DEFAULT 0,
            rejected BOOLEAN NOT NULL DEFAULT 0,
            resolution TEXT NOT NULL DEFAULT '',
            attempt_count INTEGER NOT NULL DEFAULT 0,
            last_attempt_at DATETIME,
            last_error TEXT
        )`,
		// Журнал проходов синхронизации
		`CREATE TABLE IF NOT EXISTS sync_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            pass_id TEXT NOT NULL,
            kind TEXT NOT NULL,
            trigger_source TEXT NOT NULL DEFAULT '',
            processed INTEGER NOT NULL DEFAULT 0,
            synced INTEGER NOT NULL DEFAULT 0,
            failed INTEGER NOT NULL DEFAULT 0,
            message TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_checkin_queue_synced ON checkin_queue(synced)`,
		`CREATE INDEX IF NOT EXISTS idx_checkin_queue_created_at ON checkin_queue(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_checkin_queue_event_id ON checkin_queue(event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_log_created_at ON sync_log(created_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}
