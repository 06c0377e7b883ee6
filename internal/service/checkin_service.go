package service

import (
	"context"
	"sync"
	"time"

	"checkinsync/internal/domain"
	"checkinsync/internal/events"
	"checkinsync/internal/models"
	"checkinsync/internal/queue"
	"checkinsync/internal/worker"

	"github.com/rs/zerolog"
)

type Options struct {
	SyncInterval  time.Duration
	SyncOnEnqueue bool
	// DiagnosticsLimit caps Diagnostics when the caller passes 0.
	DiagnosticsLimit int
}

// CheckInService is the surface the rest of the application uses. Nothing
// here returns per-intent sync errors; progress is observed via the notifier.
type CheckInService struct {
	store     *queue.Store
	orch      *worker.Orchestrator
	notifier  *events.Notifier
	monitor   domain.NetworkMonitor
	scheduler domain.Scheduler
	syncLog   domain.SyncLog
	opts      Options
	logger    *zerolog.Logger

	mu      sync.Mutex
	stops   []func()
	stopped bool
	// wg tracks every pass started by a trigger so Stop can wait for it.
	wg sync.WaitGroup
}

func NewCheckInService(store *queue.Store, orch *worker.Orchestrator, notifier *events.Notifier, monitor domain.NetworkMonitor, scheduler domain.Scheduler, opts Options, logger *zerolog.Logger) *CheckInService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = models.DefaultSyncInterval
	}
	if opts.DiagnosticsLimit <= 0 {
		opts.DiagnosticsLimit = models.DefaultSyncLogLimit
	}
	l := logger.With().Str("component", "checkin_service").Logger()
	return &CheckInService{
		store:     store,
		orch:      orch,
		notifier:  notifier,
		monitor:   monitor,
		scheduler: scheduler,
		opts:      opts,
		logger:    &l,
	}
}

// UseDiagnostics exposes the sync log through Diagnostics.
func (s *CheckInService) UseDiagnostics(log domain.SyncLog) {
	s.syncLog = log
}

// Start wires the reconnect and periodic triggers and runs an initial pass
// in the background when online.
func (s *CheckInService) Start(ctx context.Context) {
	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()

	s.orch.RefreshStatus(ctx)

	unsubscribe := s.monitor.OnReconnect(func() {
		s.triggerAsync(models.TriggerReconnect)
	})
	stopTicker := s.scheduler.Schedule(s.opts.SyncInterval, func() {
		s.runTracked(models.TriggerPeriodic)
	})

	s.mu.Lock()
	s.stops = append(s.stops, unsubscribe, stopTicker)
	s.mu.Unlock()

	if s.monitor.IsOnline() {
		s.triggerAsync(models.TriggerPeriodic)
	}

	s.logger.Info().Dur("interval", s.opts.SyncInterval).Bool("online", s.monitor.IsOnline()).Msg("check-in sync started")
}

// Stop removes the triggers and waits for background passes to finish,
// including one started by the scheduler. Triggers after Stop are ignored.
func (s *CheckInService) Stop() {
	s.mu.Lock()
	stops := s.stops
	s.stops = nil
	s.stopped = true
	s.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	s.wg.Wait()
}

// track registers a pass with wg. It reports false once Stop has begun.
func (s *CheckInService) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}

// runTracked runs a pass on the calling goroutine.
func (s *CheckInService) runTracked(trigger models.Trigger) {
	if !s.track() {
		return
	}
	defer s.wg.Done()
	s.orch.TriggerSync(context.Background(), trigger)
}

func (s *CheckInService) triggerAsync(trigger models.Trigger) {
	if !s.track() {
		return
	}
	go func() {
		defer s.wg.Done()
		s.orch.TriggerSync(context.Background(), trigger)
	}()
}

// Enqueue records a check-in locally. It succeeds offline.
func (s *CheckInService) Enqueue(ctx context.Context, targetHash, eventID string) (*models.CheckInIntent, error) {
	intent, err := s.store.Enqueue(ctx, targetHash, eventID)
	if err != nil {
		s.logger.Error().Err(err).Str("target_hash", targetHash).Msg("failed to enqueue check-in")
		return nil, err
	}

	s.orch.RefreshStatus(ctx)
	if s.opts.SyncOnEnqueue && s.monitor.IsOnline() {
		s.triggerAsync(models.TriggerEnqueue)
	}
	return intent, nil
}

func (s *CheckInService) Get(ctx context.Context, id string) (*models.CheckInIntent, error) {
	return s.store.Get(ctx, id)
}

func (s *CheckInService) ListUnsynced(ctx context.Context) ([]*models.CheckInIntent, error) {
	return s.store.ListUnsynced(ctx)
}

func (s *CheckInService) ListAll(ctx context.Context) ([]*models.CheckInIntent, error) {
	return s.store.ListAll(ctx)
}

func (s *CheckInService) ListByEvent(ctx context.Context, eventID string) ([]*models.CheckInIntent, error) {
	return s.store.ListByEvent(ctx, eventID)
}

// PurgeSynced removes synced intents. Safe to call during a pass.
func (s *CheckInService) PurgeSynced(ctx context.Context) (int, error) {
	removed, err := s.store.PurgeSynced(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to purge synced intents")
		return removed, err
	}
	s.orch.RefreshStatus(ctx)
	return removed, nil
}

func (s *CheckInService) Count(ctx context.Context) (models.QueueCounts, error) {
	return s.store.Count(ctx)
}

// TriggerSync runs a manual pass and reports whether it ran.
func (s *CheckInService) TriggerSync(ctx context.Context) bool {
	return s.orch.TriggerSync(ctx, models.TriggerManual)
}

func (s *CheckInService) ResyncIntent(ctx context.Context, id string) (models.SyncOutcome, error) {
	return s.orch.ResyncIntent(ctx, id)
}

func (s *CheckInService) Status() models.SyncRunStatus {
	return s.orch.Status()
}

func (s *CheckInService) OnStatusChange(cb func(models.SyncRunStatus)) func() {
	return s.notifier.OnStatusChange(cb)
}

func (s *CheckInService) OnIntentSynced(cb func(models.SyncOutcome)) func() {
	return s.notifier.OnIntentSynced(cb)
}

func (s *CheckInService) IsOnline() bool {
	return s.monitor.IsOnline()
}

// Diagnostics returns the most recent sync log entries, newest first.
func (s *CheckInService) Diagnostics(ctx context.Context, limit int) ([]*models.SyncLogEntry, error) {
	if s.syncLog == nil {
		return []*models.SyncLogEntry{}, nil
	}
	if limit <= 0 {
		limit = s.opts.DiagnosticsLimit
	}
	return s.syncLog.RecentSyncLog(ctx, limit)
}

// MaxAttempts is the automatic retry limit used to derive intent states.
func (s *CheckInService) MaxAttempts() int {
	return s.orch.Policy().MaxAttempts
}
