package domain

import (
	"context"
	"errors"
	"time"

	"checkinsync/internal/models"
)

// ErrIntentNotFound is returned by collections for an unknown intent id.
var ErrIntentNotFound = errors.New("checkin intent not found")

// Index names a secondary lookup on the intent collection.
type Index string

const (
	IndexSynced    Index = "synced"
	IndexEventID   Index = "event_id"
	IndexCreatedAt Index = "created_at"
)

// IntentCollection is a persistent keyed collection of check-in intents with
// secondary indexes. Each call is atomic on its own.
type IntentCollection interface {
	Get(ctx context.Context, id string) (*models.CheckInIntent, error)
	Put(ctx context.Context, intent *models.CheckInIntent) error
	Delete(ctx context.Context, id string) error
	GetAll(ctx context.Context) ([]*models.CheckInIntent, error)
	GetAllByIndex(ctx context.Context, index Index, value any) ([]*models.CheckInIntent, error)
}

// SyncLog is the append-only diagnostic log of drain passes.
type SyncLog interface {
	AppendSyncLog(ctx context.Context, entry *models.SyncLogEntry) error
	RecentSyncLog(ctx context.Context, limit int) ([]*models.SyncLogEntry, error)
}

// CheckInService is the remote authoritative check-in endpoint.
type CheckInService interface {
	SubmitCheckIn(ctx context.Context, targetHash string) (*models.CheckInResult, error)
}

// CheckInStateLookup is implemented by remotes that can report reservation state.
type CheckInStateLookup interface {
	GetCheckInState(ctx context.Context, targetHash string) (*models.ServerState, error)
}

// NetworkMonitor reports connectivity and offline→online edges.
type NetworkMonitor interface {
	IsOnline() bool
	OnReconnect(cb func()) (unsubscribe func())
}

// Scheduler runs fn every interval until the returned stop func is called.
type Scheduler interface {
	Schedule(interval time.Duration, fn func()) (stop func())
}

// RunLock guards single-flight drain passes.
type RunLock interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// RunLockExtender is implemented by run locks whose hold expires on its own.
// Extend pushes the expiry out while the current hold is still ours.
type RunLockExtender interface {
	Extend(ctx context.Context) error
}
