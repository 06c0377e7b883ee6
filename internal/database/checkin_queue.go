package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"checkinsync/internal/domain"
	"checkinsync/internal/models"
)

// ErrNotFound is returned by Get for an unknown intent id.
var ErrNotFound = domain.ErrIntentNotFound

const intentColumns = `id, target_hash, event_id, created_at, synced, rejected, resolution, attempt_count, last_attempt_at, last_error`

// Get возвращает отметку по ID
func (db *DB) Get(ctx context.Context, id string) (*models.CheckInIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM checkin_queue WHERE id = ?`
	intent, err := scanIntent(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkin intent: %w", err)
	}
	return intent, nil
}

// Put вставляет или полностью перезаписывает отметку
func (db *DB) Put(ctx context.Context, intent *models.CheckInIntent) error {
	query := `INSERT INTO checkin_queue (` + intentColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                  target_hash = excluded.target_hash,
                  event_id = excluded.event_id,
                  synced = excluded.synced,
                  rejected = excluded.rejected,
                  resolution = excluded.resolution,
                  attempt_count = excluded.attempt_count,
                  last_attempt_at = excluded.last_attempt_at,
                  last_error = excluded.last_error`

	var lastAttempt interface{}
	if intent.LastAttemptAt != nil {
		lastAttempt = intent.LastAttemptAt.UTC()
	}

	_, err := db.ExecContext(ctx, query,
		intent.ID,
		intent.TargetHash,
		intent.EventID,
		intent.CreatedAt.UTC(),
		intent.Synced,
		intent.Rejected,
		string(intent.Resolution),
		intent.AttemptCount,
		lastAttempt,
		intent.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to put checkin intent: %w", err)
	}
	return nil
}

// Delete удаляет отметку; отсутствие записи ошибкой не считается
func (db *DB) Delete(ctx context.Context, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM checkin_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete checkin intent: %w", err)
	}
	return nil
}

// GetAll возвращает все отметки в порядке создания
func (db *DB) GetAll(ctx context.Context) ([]*models.CheckInIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM checkin_queue ORDER BY created_at ASC, id ASC`
	return db.queryIntents(ctx, query)
}

// GetAllByIndex выбирает отметки по вторичному индексу.
// IndexSynced ожидает bool, IndexEventID string, IndexCreatedAt time.Time (created_at >= value).
func (db *DB) GetAllByIndex(ctx context.Context, index domain.Index, value any) ([]*models.CheckInIntent, error) {
	var where string
	var arg interface{}

	switch index {
	case domain.IndexSynced:
		v, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("index %s expects bool, got %T", index, value)
		}
		where, arg = "synced = ?", v
	case domain.IndexEventID:
		v, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("index %s expects string, got %T", index, value)
		}
		where, arg = "event_id = ?", v
	case domain.IndexCreatedAt:
		v, ok := value.(time.Time)
		if !ok {
			return nil, fmt.Errorf("index %s expects time.Time, got %T", index, value)
		}
		where, arg = "created_at >= ?", v.UTC()
	default:
		return nil, fmt.Errorf("unknown index: %s", index)
	}

	query := `SELECT ` + intentColumns + ` FROM checkin_queue WHERE ` + where + ` ORDER BY created_at ASC, id ASC`
	return db.queryIntents(ctx, query, arg)
}

func (db *DB) queryIntents(ctx context.Context, query string, args ...interface{}) ([]*models.CheckInIntent, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkin intents: %w", err)
	}
	defer rows.Close()

	var intents []*models.CheckInIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkin intent: %w", err)
		}
		intents = append(intents, intent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkin intents: %w", err)
	}
	return intents, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIntent(row rowScanner) (*models.CheckInIntent, error) {
	var (
		intent      models.CheckInIntent
		resolution  string
		lastAttempt sql.NullTime
		lastError   sql.NullString
	)
	err := row.Scan(
		&intent.ID,
		&intent.TargetHash,
		&intent.EventID,
		&intent.CreatedAt,
		&intent.Synced,
		&intent.Rejected,
		&resolution,
		&intent.AttemptCount,
		&lastAttempt,
		&lastError,
	)
	if err != nil {
		return nil, err
	}

	intent.Resolution = models.Resolution(resolution)
	if lastAttempt.Valid {
		t := lastAttempt.Time
		intent.LastAttemptAt = &t
	}
	if lastError.Valid {
		msg := lastError.String
		intent.LastError = &msg
	}
	return &intent, nil
}
