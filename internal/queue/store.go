// Package queue is the durable queue of check-in intents. Every mutation is
// written through to the backing collection before the call returns.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"checkinsync/internal/domain"
	"checkinsync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when an intent id is unknown.
	ErrNotFound = domain.ErrIntentNotFound
	// ErrEmptyTargetHash is returned by Enqueue for a blank target.
	ErrEmptyTargetHash = errors.New("target hash is required")
)

// Store wraps an IntentCollection with the queue operations. Read-modify-write
// updates are serialised so concurrent callers never lose an update.
type Store struct {
	coll   domain.IntentCollection
	logger *zerolog.Logger
	now    func() time.Time
	newID  func() (string, error)

	mu sync.Mutex
}

func NewStore(coll domain.IntentCollection, logger *zerolog.Logger) *Store {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "queue").Logger()
	return &Store{
		coll:   coll,
		logger: &l,
		now:    time.Now,
		newID:  newIntentID,
	}
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// newIntentID returns a UUIDv7: a millisecond timestamp followed by random bits.
func newIntentID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Enqueue records a new check-in intent. It never touches the network.
func (s *Store) Enqueue(ctx context.Context, targetHash, eventID string) (*models.CheckInIntent, error) {
	targetHash = strings.TrimSpace(targetHash)
	if targetHash == "" {
		return nil, ErrEmptyTargetHash
	}

	id, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("generate intent id: %w", err)
	}

	intent := &models.CheckInIntent{
		ID:         id,
		TargetHash: targetHash,
		EventID:    strings.TrimSpace(eventID),
		CreatedAt:  s.now(),
	}
	if err := s.coll.Put(ctx, intent); err != nil {
		return nil, fmt.Errorf("persist intent: %w", err)
	}

	s.logger.Debug().Str("intent_id", id).Str("target_hash", targetHash).Msg("intent enqueued")
	return intent, nil
}

// Get returns one intent by id.
func (s *Store) Get(ctx context.Context, id string) (*models.CheckInIntent, error) {
	intent, err := s.coll.Get(ctx, id)
	if err != nil {
		return nil, s.mapErr(id, err)
	}
	return intent, nil
}

// ListUnsynced returns every intent with synced=false, oldest first.
func (s *Store) ListUnsynced(ctx context.Context) ([]*models.CheckInIntent, error) {
	intents, err := s.coll.GetAllByIndex(ctx, domain.IndexSynced, false)
	if err != nil {
		return nil, fmt.Errorf("list unsynced: %w", err)
	}
	sortFIFO(intents)
	return intents, nil
}

// ListAll returns every intent, oldest first.
func (s *Store) ListAll(ctx context.Context) ([]*models.CheckInIntent, error) {
	intents, err := s.coll.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list all: %w", err)
	}
	sortFIFO(intents)
	return intents, nil
}

// ListByEvent returns the intents scoped to one event, oldest first.
func (s *Store) ListByEvent(ctx context.Context, eventID string) ([]*models.CheckInIntent, error) {
	intents, err := s.coll.GetAllByIndex(ctx, domain.IndexEventID, eventID)
	if err != nil {
		return nil, fmt.Errorf("list by event: %w", err)
	}
	sortFIFO(intents)
	return intents, nil
}

// MarkSynced flags the intent as accepted by the server. A synced intent is never resubmitted.
func (s *Store) MarkSynced(ctx context.Context, id string, resolution models.Resolution) (*models.CheckInIntent, error) {
	if resolution == models.ResolutionNone {
		resolution = models.ResolutionSubmitted
	}
	return s.update(ctx, id, func(intent *models.CheckInIntent, now time.Time) {
		intent.Synced = true
		intent.Resolution = resolution
		intent.LastAttemptAt = &now
	})
}

// MarkFailed records a retriable failed attempt.
func (s *Store) MarkFailed(ctx context.Context, id, errMsg string) (*models.CheckInIntent, error) {
	return s.update(ctx, id, func(intent *models.CheckInIntent, now time.Time) {
		intent.AttemptCount++
		intent.LastAttemptAt = &now
		intent.LastError = &errMsg
	})
}

// MarkRejected records a terminal, non-retriable failure. The intent stays in
// the queue unsynced for operator review.
func (s *Store) MarkRejected(ctx context.Context, id, reason string) (*models.CheckInIntent, error) {
	return s.update(ctx, id, func(intent *models.CheckInIntent, now time.Time) {
		intent.AttemptCount++
		intent.Rejected = true
		intent.Resolution = models.ResolutionRejected
		intent.LastAttemptAt = &now
		intent.LastError = &reason
	})
}

// PurgeSynced deletes all synced intents and returns how many were removed.
func (s *Store) PurgeSynced(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	synced, err := s.coll.GetAllByIndex(ctx, domain.IndexSynced, true)
	if err != nil {
		return 0, fmt.Errorf("list synced: %w", err)
	}

	removed := 0
	for _, intent := range synced {
		if !intent.Synced {
			continue
		}
		if err := s.coll.Delete(ctx, intent.ID); err != nil {
			return removed, fmt.Errorf("delete intent %s: %w", intent.ID, err)
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("synced intents purged")
	}
	return removed, nil
}

// Count returns the total and unsynced number of intents.
func (s *Store) Count(ctx context.Context) (models.QueueCounts, error) {
	all, err := s.coll.GetAll(ctx)
	if err != nil {
		return models.QueueCounts{}, fmt.Errorf("count intents: %w", err)
	}
	counts := models.QueueCounts{Total: len(all)}
	for _, intent := range all {
		if !intent.Synced {
			counts.Unsynced++
		}
	}
	return counts, nil
}

func (s *Store) update(ctx context.Context, id string, apply func(*models.CheckInIntent, time.Time)) (*models.CheckInIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, err := s.coll.Get(ctx, id)
	if err != nil {
		return nil, s.mapErr(id, err)
	}

	apply(intent, s.now())

	if err := s.coll.Put(ctx, intent); err != nil {
		return nil, fmt.Errorf("persist intent %s: %w", id, err)
	}
	return intent, nil
}

// mapErr wraps backend not-found errors with the intent id.
func (s *Store) mapErr(id string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("intent %s: %w", id, ErrNotFound)
	}
	return err
}

func sortFIFO(intents []*models.CheckInIntent) {
	sort.SliceStable(intents, func(i, j int) bool {
		if intents[i].CreatedAt.Equal(intents[j].CreatedAt) {
			return intents[i].ID < intents[j].ID
		}
		return intents[i].CreatedAt.Before(intents[j].CreatedAt)
	})
}
