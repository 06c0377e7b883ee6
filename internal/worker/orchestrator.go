package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"checkinsync/internal/conflict"
	"checkinsync/internal/domain"
	"checkinsync/internal/events"
	"checkinsync/internal/metrics"
	"checkinsync/internal/models"
	"checkinsync/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrSyncInProgress is returned by ResyncIntent while another pass holds the lock.
var ErrSyncInProgress = errors.New("sync already in progress")

const (
	passCompleted = "completed"
	passFailed    = "failed"
)

// IntentQueue is the subset of queue.Store the orchestrator mutates.
type IntentQueue interface {
	Get(ctx context.Context, id string) (*models.CheckInIntent, error)
	ListUnsynced(ctx context.Context) ([]*models.CheckInIntent, error)
	MarkSynced(ctx context.Context, id string, resolution models.Resolution) (*models.CheckInIntent, error)
	MarkFailed(ctx context.Context, id, errMsg string) (*models.CheckInIntent, error)
	MarkRejected(ctx context.Context, id, reason string) (*models.CheckInIntent, error)
}

// Orchestrator drains the check-in queue against the remote service. At most
// one pass runs at a time; triggers that arrive during a pass are dropped.
type Orchestrator struct {
	queue    IntentQueue
	remote   domain.CheckInService
	notifier *events.Notifier
	resolver *conflict.Resolver
	policy   RetryPolicy
	limiter  *rate.Limiter
	logger   *zerolog.Logger
	now      func() time.Time

	lock      domain.RunLock
	syncLog   domain.SyncLog
	monitor   domain.NetworkMonitor
	preflight domain.CheckInStateLookup

	mu     sync.Mutex
	status models.SyncRunStatus
	// publishMu orders status snapshots with their delivery, so observers
	// never receive an older status after a newer one.
	publishMu sync.Mutex
}

func NewOrchestrator(queue IntentQueue, remote domain.CheckInService, notifier *events.Notifier, policy RetryPolicy, logger *zerolog.Logger) *Orchestrator {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if notifier == nil {
		notifier = events.NewNotifier(logger)
	}
	policy = policy.withDefaults()
	l := logger.With().Str("component", "sync").Logger()

	limit := rate.Inf
	if policy.SubmitDelay > 0 {
		limit = rate.Every(policy.SubmitDelay)
	}

	return &Orchestrator{
		queue:    queue,
		remote:   remote,
		notifier: notifier,
		resolver: conflict.NewResolver(),
		policy:   policy,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   &l,
		now:      time.Now,
		lock:     repository.NewMemoryRunLock(),
	}
}

// UseLock replaces the default process-local lock, e.g. with a Redis lock
// shared by several agents.
func (o *Orchestrator) UseLock(lock domain.RunLock) {
	o.lock = lock
}

// UseDiagnostics attaches the append-only pass log.
func (o *Orchestrator) UseDiagnostics(log domain.SyncLog) {
	o.syncLog = log
}

// UseMonitor makes triggers no-ops while the monitor reports offline.
func (o *Orchestrator) UseMonitor(monitor domain.NetworkMonitor) {
	o.monitor = monitor
}

// UsePreflight enables a server-state lookup before each submission.
func (o *Orchestrator) UsePreflight(lookup domain.CheckInStateLookup) {
	o.preflight = lookup
}

// SetClock overrides the time source.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

func (o *Orchestrator) Policy() RetryPolicy {
	return o.policy
}

// Status returns the latest run status.
func (o *Orchestrator) Status() models.SyncRunStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// TriggerSync runs one drain pass unless one is already running or the
// device is offline. It reports whether a pass ran. A started pass runs to
// completion even if ctx is cancelled.
func (o *Orchestrator) TriggerSync(ctx context.Context, trigger models.Trigger) bool {
	if o.monitor != nil && !o.monitor.IsOnline() {
		o.logger.Debug().Str("trigger", string(trigger)).Msg("offline, sync skipped")
		return false
	}

	ctx = context.WithoutCancel(ctx)
	acquired, err := o.lock.TryAcquire(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to acquire sync lock")
		return false
	}
	if !acquired {
		o.logger.Debug().Str("trigger", string(trigger)).Msg("sync already running, trigger dropped")
		return false
	}
	defer o.releaseLock(ctx)

	o.runPass(ctx, trigger)
	return true
}

// ResyncIntent submits one unsynced intent regardless of its attempt count or
// rejection. It is the manual path for exhausted intents.
func (o *Orchestrator) ResyncIntent(ctx context.Context, id string) (models.SyncOutcome, error) {
	ctx = context.WithoutCancel(ctx)
	acquired, err := o.lock.TryAcquire(ctx)
	if err != nil {
		return models.SyncOutcome{}, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !acquired {
		return models.SyncOutcome{}, ErrSyncInProgress
	}
	defer o.releaseLock(ctx)

	intent, err := o.queue.Get(ctx, id)
	if err != nil {
		return models.SyncOutcome{}, err
	}
	if intent.Synced {
		return models.SyncOutcome{ID: intent.ID, TargetHash: intent.TargetHash, Success: true, Resolution: intent.Resolution}, nil
	}

	outcome, err := o.processIntent(ctx, intent)
	if err != nil {
		o.setLastError(err)
		return models.SyncOutcome{}, err
	}
	o.notifier.PublishOutcome(outcome)
	o.RefreshStatus(ctx)
	return outcome, nil
}

// RefreshStatus recomputes the queue counts and publishes them.
func (o *Orchestrator) RefreshStatus(ctx context.Context) models.SyncRunStatus {
	o.publishMu.Lock()
	defer o.publishMu.Unlock()

	pending, failed, err := o.counts(ctx)

	o.mu.Lock()
	if err != nil {
		o.status.LastError = err.Error()
	} else {
		o.status.PendingCount = pending
		o.status.FailedCount = failed
	}
	status := o.status
	o.mu.Unlock()

	metrics.SetQueueGauges(status.PendingCount, status.FailedCount)
	o.notifier.PublishStatus(status)
	return status
}

func (o *Orchestrator) releaseLock(ctx context.Context) {
	if err := o.lock.Release(ctx); err != nil {
		o.logger.Error().Err(err).Msg("failed to release sync lock")
	}
}

type passStats struct {
	processed int
	synced    int
	failed    int
}

func (o *Orchestrator) runPass(ctx context.Context, trigger models.Trigger) {
	passID := uuid.NewString()
	started := o.now()
	log := o.logger.With().Str("pass_id", passID).Str("trigger", string(trigger)).Logger()

	o.publishMu.Lock()
	o.mu.Lock()
	o.status.IsSyncing = true
	o.status.LastError = ""
	snapshot := o.status
	o.mu.Unlock()
	o.notifier.PublishStatus(snapshot)
	o.publishMu.Unlock()

	log.Info().Msg("sync pass started")
	o.appendLog(ctx, &models.SyncLogEntry{PassID: passID, Kind: models.LogPassStarted, Trigger: trigger})

	stats, passErr := o.drain(ctx, passID, &log)

	o.publishMu.Lock()
	defer o.publishMu.Unlock()

	pending, failed, countErr := o.counts(ctx)
	if passErr == nil && countErr != nil {
		passErr = countErr
	}

	finished := o.now()
	o.mu.Lock()
	o.status.IsSyncing = false
	o.status.LastSyncTime = &finished
	if countErr == nil {
		o.status.PendingCount = pending
		o.status.FailedCount = failed
	}
	if passErr != nil {
		o.status.LastError = passErr.Error()
	}
	final := o.status
	o.mu.Unlock()

	entry := &models.SyncLogEntry{
		PassID:    passID,
		Kind:      models.LogPassCompleted,
		Trigger:   trigger,
		Processed: stats.processed,
		Synced:    stats.synced,
		Failed:    stats.failed,
	}
	outcome := passCompleted
	if passErr != nil {
		entry.Kind = models.LogPassFailed
		entry.Message = passErr.Error()
		outcome = passFailed
		log.Error().Err(passErr).Int("processed", stats.processed).Msg("sync pass aborted")
	} else {
		log.Info().
			Int("processed", stats.processed).
			Int("synced", stats.synced).
			Int("failed", stats.failed).
			Int("pending", final.PendingCount).
			Dur("took", finished.Sub(started)).
			Msg("sync pass completed")
	}
	o.appendLog(ctx, entry)

	metrics.ObservePass(outcome, finished.Sub(started))
	metrics.SetQueueGauges(final.PendingCount, final.FailedCount)
	o.notifier.PublishStatus(final)
}

// drain submits eligible intents in FIFO order. Only storage errors stop it.
func (o *Orchestrator) drain(ctx context.Context, passID string, log *zerolog.Logger) (passStats, error) {
	var stats passStats

	intents, err := o.queue.ListUnsynced(ctx)
	if err != nil {
		return stats, fmt.Errorf("list unsynced: %w", err)
	}

	for _, intent := range intents {
		if !intent.Eligible(o.policy.MaxAttempts) {
			continue
		}
		if !o.policy.Due(intent, o.now()) {
			log.Debug().Str("intent_id", intent.ID).Msg("intent in backoff, skipped")
			continue
		}

		if err := o.limiter.Wait(ctx); err != nil {
			return stats, fmt.Errorf("submit delay: %w", err)
		}

		outcome, err := o.processIntent(ctx, intent)
		if err != nil {
			return stats, err
		}

		o.extendLock(ctx, log)

		stats.processed++
		if outcome.Success {
			stats.synced++
		} else {
			stats.failed++
		}
		o.notifier.PublishOutcome(outcome)
	}

	return stats, nil
}

// extendLock keeps an expiring run lock alive across a long pass. Losing it
// only weakens cross-instance exclusion; the pass itself continues.
func (o *Orchestrator) extendLock(ctx context.Context, log *zerolog.Logger) {
	ext, ok := o.lock.(domain.RunLockExtender)
	if !ok {
		return
	}
	if err := ext.Extend(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to extend sync lock")
	}
}

// processIntent runs the preflight lookup (if any), submits, and records the
// decision. The returned error is always a storage error.
func (o *Orchestrator) processIntent(ctx context.Context, intent *models.CheckInIntent) (models.SyncOutcome, error) {
	if o.preflight != nil {
		state, err := o.preflight.GetCheckInState(ctx, intent.TargetHash)
		if err != nil {
			o.logger.Debug().Err(err).Str("intent_id", intent.ID).Msg("state lookup failed, submitting anyway")
		} else {
			switch o.resolver.Resolve(intent, state) {
			case conflict.SkipAlreadyDone:
				return o.markSynced(ctx, intent, models.ResolutionAlreadyCheckedIn,
					&models.CheckInError{Code: models.CodeAlreadyCheckedIn, Message: "already checked in", OriginalCheckInTime: state.CheckedInAt}, nil)
			case conflict.SkipInvalid:
				return o.markRejected(ctx, intent, stateError(state))
			}
		}
	}

	result, err := o.remote.SubmitCheckIn(ctx, intent.TargetHash)
	if err != nil {
		checkInErr := models.AsCheckInError(err)
		switch o.resolver.ResolveError(intent, checkInErr) {
		case conflict.SkipAlreadyDone:
			return o.markSynced(ctx, intent, models.ResolutionAlreadyCheckedIn, checkInErr, nil)
		case conflict.SkipInvalid:
			return o.markRejected(ctx, intent, checkInErr)
		default:
			return o.markFailed(ctx, intent, checkInErr)
		}
	}

	switch o.resolver.ResolveResult(intent, result) {
	case conflict.SkipAlreadyDone:
		return o.markSynced(ctx, intent, models.ResolutionAlreadyCheckedIn,
			&models.CheckInError{Code: models.CodeAlreadyCheckedIn, Message: "already checked in", OriginalCheckInTime: &result.CheckedInAt}, result)
	case conflict.SkipInvalid:
		return o.markRejected(ctx, intent, stateError(&models.ServerState{TargetHash: intent.TargetHash, Status: result.Status}))
	default:
		return o.markSynced(ctx, intent, models.ResolutionSubmitted, nil, result)
	}
}

func (o *Orchestrator) markSynced(ctx context.Context, intent *models.CheckInIntent, resolution models.Resolution, origin *models.CheckInError, result *models.CheckInResult) (models.SyncOutcome, error) {
	if _, err := o.queue.MarkSynced(ctx, intent.ID, resolution); err != nil {
		return models.SyncOutcome{}, fmt.Errorf("mark synced %s: %w", intent.ID, err)
	}

	if resolution == models.ResolutionAlreadyCheckedIn {
		metrics.IncSubmission(metrics.ResultAlreadyCheckedIn)
		o.logger.Info().Str("intent_id", intent.ID).Str("target_hash", intent.TargetHash).Msg("target already checked in, intent converged")
	} else {
		metrics.IncSubmission(metrics.ResultSynced)
		o.logger.Debug().Str("intent_id", intent.ID).Msg("intent synced")
	}

	return models.SyncOutcome{
		ID:             intent.ID,
		TargetHash:     intent.TargetHash,
		Success:        true,
		Resolution:     resolution,
		Error:          origin,
		ServerResponse: result,
	}, nil
}

func (o *Orchestrator) markRejected(ctx context.Context, intent *models.CheckInIntent, cause *models.CheckInError) (models.SyncOutcome, error) {
	if _, err := o.queue.MarkRejected(ctx, intent.ID, cause.Error()); err != nil {
		return models.SyncOutcome{}, fmt.Errorf("mark rejected %s: %w", intent.ID, err)
	}

	metrics.IncSubmission(metrics.ResultRejected)
	o.logger.Warn().Str("intent_id", intent.ID).Str("target_hash", intent.TargetHash).Str("code", cause.Code).Msg("intent rejected")
	o.appendLog(ctx, &models.SyncLogEntry{Kind: models.LogIntentRejected, Failed: 1, Message: intent.ID + ": " + cause.Error()})

	return models.SyncOutcome{
		ID:         intent.ID,
		TargetHash: intent.TargetHash,
		Resolution: models.ResolutionRejected,
		Error:      cause,
	}, nil
}

func (o *Orchestrator) markFailed(ctx context.Context, intent *models.CheckInIntent, cause *models.CheckInError) (models.SyncOutcome, error) {
	updated, err := o.queue.MarkFailed(ctx, intent.ID, cause.Error())
	if err != nil {
		return models.SyncOutcome{}, fmt.Errorf("mark failed %s: %w", intent.ID, err)
	}

	metrics.IncSubmission(metrics.ResultRetry)
	if updated.AttemptCount >= o.policy.MaxAttempts {
		o.logger.Warn().Str("intent_id", intent.ID).Int("attempts", updated.AttemptCount).Err(cause).Msg("intent exhausted")
		o.appendLog(ctx, &models.SyncLogEntry{Kind: models.LogIntentExhausted, Failed: 1, Message: intent.ID + ": " + cause.Error()})
	} else {
		o.logger.Debug().Str("intent_id", intent.ID).Int("attempts", updated.AttemptCount).Err(cause).Msg("submission failed, will retry")
	}

	return models.SyncOutcome{
		ID:         intent.ID,
		TargetHash: intent.TargetHash,
		Error:      cause,
	}, nil
}

// counts splits the unsynced intents into pending and failed (exhausted or rejected).
func (o *Orchestrator) counts(ctx context.Context) (pending, failed int, err error) {
	intents, err := o.queue.ListUnsynced(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("count unsynced: %w", err)
	}
	for _, intent := range intents {
		if intent.Eligible(o.policy.MaxAttempts) {
			pending++
		} else {
			failed++
		}
	}
	return pending, failed, nil
}

func (o *Orchestrator) setLastError(err error) {
	o.mu.Lock()
	o.status.LastError = err.Error()
	o.mu.Unlock()
}

func (o *Orchestrator) appendLog(ctx context.Context, entry *models.SyncLogEntry) {
	if o.syncLog == nil {
		return
	}
	if err := o.syncLog.AppendSyncLog(ctx, entry); err != nil {
		o.logger.Warn().Err(err).Str("kind", entry.Kind).Msg("failed to write sync log")
	}
}

func stateError(state *models.ServerState) *models.CheckInError {
	code := models.CodeReservationCancelled
	if state.Status == models.ReservationNotFound {
		code = models.CodeReservationNotFound
	}
	return &models.CheckInError{Code: code, Message: "reservation " + state.Status}
}
