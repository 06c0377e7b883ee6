package database

import (
	"context"
	"fmt"
	"time"

	"checkinsync/internal/models"
)

// AppendSyncLog добавляет запись в журнал проходов
func (db *DB) AppendSyncLog(ctx context.Context, entry *models.SyncLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `INSERT INTO sync_log (pass_id, kind, trigger_source, processed, synced, failed, message, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		entry.PassID,
		entry.Kind,
		string(entry.Trigger),
		entry.Processed,
		entry.Synced,
		entry.Failed,
		entry.Message,
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

// RecentSyncLog возвращает последние записи журнала, новые первыми
func (db *DB) RecentSyncLog(ctx context.Context, limit int) ([]*models.SyncLogEntry, error) {
	if limit <= 0 {
		limit = models.DefaultSyncLogLimit
	}

	query := `SELECT id, pass_id, kind, trigger_source, processed, synced, failed, message, created_at
              FROM sync_log ORDER BY id DESC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync log: %w", err)
	}
	defer rows.Close()

	var entries []*models.SyncLogEntry
	for rows.Next() {
		var (
			e       models.SyncLogEntry
			trigger string
		)
		if err := rows.Scan(&e.ID, &e.PassID, &e.Kind, &trigger, &e.Processed, &e.Synced, &e.Failed, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		e.Trigger = models.Trigger(trigger)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
