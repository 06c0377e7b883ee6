package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"checkinsync/internal/domain"
	"checkinsync/internal/models"
)

// ErrNotFound is returned by Get for an unknown intent id.
var ErrNotFound = domain.ErrIntentNotFound

// MemoryIntentCollection is a non-durable IntentCollection for tests and dry runs.
type MemoryIntentCollection struct {
	mu      sync.RWMutex
	intents map[string]models.CheckInIntent
}

func NewMemoryIntentCollection() *MemoryIntentCollection {
	return &MemoryIntentCollection{intents: make(map[string]models.CheckInIntent)}
}

func (r *MemoryIntentCollection) Get(ctx context.Context, id string) (*models.CheckInIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	intent, ok := r.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneIntent(intent), nil
}

func (r *MemoryIntentCollection) Put(ctx context.Context, intent *models.CheckInIntent) error {
	if intent == nil || intent.ID == "" {
		return errors.New("intent id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents[intent.ID] = *cloneIntent(*intent)
	return nil
}

func (r *MemoryIntentCollection) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.intents, id)
	return nil
}

func (r *MemoryIntentCollection) GetAll(ctx context.Context) ([]*models.CheckInIntent, error) {
	return r.filter(func(models.CheckInIntent) bool { return true }), nil
}

func (r *MemoryIntentCollection) GetAllByIndex(ctx context.Context, index domain.Index, value any) ([]*models.CheckInIntent, error) {
	switch index {
	case domain.IndexSynced:
		v, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("index %s expects bool, got %T", index, value)
		}
		return r.filter(func(i models.CheckInIntent) bool { return i.Synced == v }), nil
	case domain.IndexEventID:
		v, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("index %s expects string, got %T", index, value)
		}
		return r.filter(func(i models.CheckInIntent) bool { return i.EventID == v }), nil
	case domain.IndexCreatedAt:
		v, ok := value.(time.Time)
		if !ok {
			return nil, fmt.Errorf("index %s expects time.Time, got %T", index, value)
		}
		return r.filter(func(i models.CheckInIntent) bool { return !i.CreatedAt.Before(v) }), nil
	default:
		return nil, fmt.Errorf("unknown index: %s", index)
	}
}

func (r *MemoryIntentCollection) filter(keep func(models.CheckInIntent) bool) []*models.CheckInIntent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.CheckInIntent
	for _, intent := range r.intents {
		if keep(intent) {
			out = append(out, cloneIntent(intent))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func cloneIntent(in models.CheckInIntent) *models.CheckInIntent {
	out := in
	if in.LastAttemptAt != nil {
		t := *in.LastAttemptAt
		out.LastAttemptAt = &t
	}
	if in.LastError != nil {
		msg := *in.LastError
		out.LastError = &msg
	}
	return &out
}

// MemorySyncLog keeps the diagnostic log in memory.
type MemorySyncLog struct {
	mu      sync.Mutex
	entries []models.SyncLogEntry
	nextID  int64
}

func NewMemorySyncLog() *MemorySyncLog {
	return &MemorySyncLog{}
}

func (l *MemorySyncLog) AppendSyncLog(ctx context.Context, entry *models.SyncLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	entry.ID = l.nextID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	l.entries = append(l.entries, *entry)
	return nil
}

func (l *MemorySyncLog) RecentSyncLog(ctx context.Context, limit int) ([]*models.SyncLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 {
		limit = models.DefaultSyncLogLimit
	}
	out := make([]*models.SyncLogEntry, 0, limit)
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := l.entries[i]
		out = append(out, &e)
	}
	return out, nil
}

// MemoryRunLock is a process-local single-flight flag.
type MemoryRunLock struct {
	held atomic.Bool
}

func NewMemoryRunLock() *MemoryRunLock {
	return &MemoryRunLock{}
}

func (l *MemoryRunLock) TryAcquire(ctx context.Context) (bool, error) {
	return l.held.CompareAndSwap(false, true), nil
}

func (l *MemoryRunLock) Release(ctx context.Context) error {
	l.held.Store(false)
	return nil
}

// Held reports whether the lock is currently taken.
func (l *MemoryRunLock) Held() bool {
	return l.held.Load()
}
