package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"checkinsync/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverRunLock prefers the shared lock and falls back to a local one while
// the shared backend is unreachable, so syncing never stops because Redis is down.
type FailoverRunLock struct {
	primary  domain.RunLock
	fallback domain.RunLock
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
	// heldBy remembers which lock granted the current hold.
	heldBy domain.RunLock
}

func NewFailoverRunLock(primary, fallback domain.RunLock, logger *zerolog.Logger) *FailoverRunLock {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverRunLock{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// TryAcquire grants at most one hold per process. While a hold is active it
// reports false without asking either backend, whichever of them granted it.
func (r *FailoverRunLock) TryAcquire(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.heldBy != nil {
		return false, nil
	}

	// Try to recover after 1 minute
	if r.isDown.Load() && time.Since(r.lastCheck) > time.Minute {
		r.isDown.Store(false)
	}

	if !r.isDown.Load() {
		ok, err := r.primary.TryAcquire(ctx)
		if err == nil {
			if ok {
				r.heldBy = r.primary
			}
			return ok, nil
		}
		r.logger.Error().Err(err).Msg("Primary sync lock failed, falling back to local lock")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	ok, err := r.fallback.TryAcquire(ctx)
	if ok {
		r.heldBy = r.fallback
	}
	return ok, err
}

func (r *FailoverRunLock) Release(ctx context.Context) error {
	r.mu.Lock()
	holder := r.heldBy
	r.heldBy = nil
	r.mu.Unlock()

	if holder == nil {
		return nil
	}
	return holder.Release(ctx)
}

// Extend refreshes the hold on the backend that granted it, if that backend expires.
func (r *FailoverRunLock) Extend(ctx context.Context) error {
	r.mu.Lock()
	holder := r.heldBy
	r.mu.Unlock()

	ext, ok := holder.(domain.RunLockExtender)
	if !ok {
		return nil
	}
	return ext.Extend(ctx)
}
