package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"checkinsync/internal/events"
	"checkinsync/internal/models"
	"checkinsync/internal/network"
	"checkinsync/internal/queue"
	"checkinsync/internal/repository"
	"checkinsync/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockScheduler struct {
	mock.Mock
	mu   sync.Mutex
	tick func()
}

func (m *mockScheduler) Schedule(interval time.Duration, fn func()) func() {
	m.mu.Lock()
	m.tick = fn
	m.mu.Unlock()
	args := m.Called(interval)
	return args.Get(0).(func())
}

func (m *mockScheduler) Tick() {
	m.mu.Lock()
	fn := m.tick
	m.mu.Unlock()
	fn()
}

type stubRemote struct {
	mu    sync.Mutex
	calls []string
	fail  bool
	// block, when set, holds every submission until it is closed.
	block chan struct{}
}

func (r *stubRemote) SubmitCheckIn(ctx context.Context, targetHash string) (*models.CheckInResult, error) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, targetHash)
	if r.fail {
		return nil, errors.New("connection reset")
	}
	return &models.CheckInResult{TargetHash: targetHash, Status: models.ReservationCheckedIn}, nil
}

func (r *stubRemote) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fixture struct {
	svc       *CheckInService
	remote    *stubRemote
	monitor   *network.Monitor
	scheduler *mockScheduler
	stopped   *bool
}

func newFixture(t *testing.T, online, syncOnEnqueue bool) *fixture {
	t.Helper()
	store := queue.NewStore(repository.NewMemoryIntentCollection(), nil)
	remote := &stubRemote{}
	notifier := events.NewNotifier(nil)
	monitor := network.NewMonitor(online, nil)
	orch := worker.NewOrchestrator(store, remote, notifier, worker.RetryPolicy{}, nil)
	orch.UseMonitor(monitor)
	syncLog := repository.NewMemorySyncLog()
	orch.UseDiagnostics(syncLog)

	stopped := false
	scheduler := &mockScheduler{}
	scheduler.On("Schedule", 30*time.Second).Return(func() { stopped = true })

	svc := NewCheckInService(store, orch, notifier, monitor, scheduler, Options{SyncInterval: 30 * time.Second, SyncOnEnqueue: syncOnEnqueue}, nil)
	svc.UseDiagnostics(syncLog)
	return &fixture{svc: svc, remote: remote, monitor: monitor, scheduler: scheduler, stopped: &stopped}
}

func TestCheckInService_OfflineEnqueueThenReconnect(t *testing.T) {
	f := newFixture(t, false, true)
	ctx := context.Background()
	f.svc.Start(ctx)
	defer f.svc.Stop()

	var statuses []models.SyncRunStatus
	var mu sync.Mutex
	f.svc.OnStatusChange(func(s models.SyncRunStatus) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	})

	intent, err := f.svc.Enqueue(ctx, "Q-42", "gala")
	require.NoError(t, err)
	assert.False(t, f.svc.IsOnline())

	counts, err := f.svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.QueueCounts{Total: 1, Unsynced: 1}, counts)
	assert.Equal(t, 1, f.svc.Status().PendingCount)
	assert.Empty(t, f.remote.Calls())

	f.monitor.SetOnline(true)
	require.Eventually(t, func() bool {
		got, err := f.svc.Get(ctx, intent.ID)
		return err == nil && got.Synced
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return f.svc.Status().PendingCount == 0 && !f.svc.Status().IsSyncing }, time.Second, 5*time.Millisecond)

	removed, err := f.svc.PurgeSynced(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	counts, err = f.svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Total)

	mu.Lock()
	assert.NotEmpty(t, statuses)
	mu.Unlock()
	f.scheduler.AssertExpectations(t)
}

func TestCheckInService_EnqueueTriggersSyncWhenOnline(t *testing.T) {
	f := newFixture(t, true, true)
	ctx := context.Background()

	var outcomes []models.SyncOutcome
	var mu sync.Mutex
	f.svc.OnIntentSynced(func(o models.SyncOutcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	})

	_, err := f.svc.Enqueue(ctx, "A", "")
	require.NoError(t, err)
	f.svc.Stop()

	assert.Equal(t, []string{"A"}, f.remote.Calls())
	mu.Lock()
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)
	mu.Unlock()
}

func TestCheckInService_EnqueueWithoutAutoSync(t *testing.T) {
	f := newFixture(t, true, false)
	ctx := context.Background()

	_, err := f.svc.Enqueue(ctx, "A", "")
	require.NoError(t, err)
	f.svc.Stop()
	assert.Empty(t, f.remote.Calls())

	assert.True(t, f.svc.TriggerSync(ctx))
	assert.Equal(t, []string{"A"}, f.remote.Calls())
}

func TestCheckInService_PeriodicTick(t *testing.T) {
	f := newFixture(t, false, false)
	ctx := context.Background()
	f.svc.Start(ctx)

	_, err := f.svc.Enqueue(ctx, "A", "")
	require.NoError(t, err)

	f.scheduler.Tick()
	assert.Empty(t, f.remote.Calls(), "offline tick is a no-op")

	f.monitor.SetOnline(true)
	require.Eventually(t, func() bool { return len(f.remote.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err = f.svc.Enqueue(ctx, "B", "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		f.scheduler.Tick()
		return len(f.remote.Calls()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"A", "B"}, f.remote.Calls())

	f.svc.Stop()
	assert.True(t, *f.stopped)
}

func TestCheckInService_StopWaitsForPeriodicPass(t *testing.T) {
	f := newFixture(t, true, false)
	ctx := context.Background()
	f.remote.block = make(chan struct{})

	f.svc.Start(ctx)
	require.Eventually(t, func() bool {
		st := f.svc.Status()
		return st.LastSyncTime != nil && !st.IsSyncing
	}, 2*time.Second, 5*time.Millisecond, "initial pass over the empty queue")

	_, err := f.svc.Enqueue(ctx, "A", "")
	require.NoError(t, err)

	go f.scheduler.Tick()
	require.Eventually(t, func() bool { return f.svc.Status().IsSyncing }, 2*time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		f.svc.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a periodic pass was still submitting")
	case <-time.After(50 * time.Millisecond):
	}

	close(f.remote.block)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the pass finished")
	}

	assert.False(t, f.svc.Status().IsSyncing)
	intent, err := f.svc.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, intent, 1)
	assert.True(t, intent[0].Synced)

	// ticks after Stop are ignored
	_, err = f.svc.Enqueue(ctx, "B", "")
	require.NoError(t, err)
	f.scheduler.Tick()
	assert.Equal(t, []string{"A"}, f.remote.Calls())
}

func TestCheckInService_Lists(t *testing.T) {
	f := newFixture(t, true, false)
	ctx := context.Background()

	a, _ := f.svc.Enqueue(ctx, "A", "evt-1")
	_, _ = f.svc.Enqueue(ctx, "B", "evt-2")
	f.svc.TriggerSync(ctx)
	c, _ := f.svc.Enqueue(ctx, "C", "evt-1")

	unsynced, err := f.svc.ListUnsynced(ctx)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	assert.Equal(t, c.ID, unsynced[0].ID)

	all, err := f.svc.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byEvent, err := f.svc.ListByEvent(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, byEvent, 2)
	assert.Equal(t, a.ID, byEvent[0].ID)

	entries, err := f.svc.Diagnostics(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCheckInService_EnqueueValidation(t *testing.T) {
	f := newFixture(t, true, true)
	_, err := f.svc.Enqueue(context.Background(), "", "")
	assert.ErrorIs(t, err, queue.ErrEmptyTargetHash)
	f.svc.Stop()
	assert.Empty(t, f.remote.Calls())
}

func TestCheckInService_Resync(t *testing.T) {
	f := newFixture(t, true, false)
	ctx := context.Background()
	f.remote.fail = true

	intent, _ := f.svc.Enqueue(ctx, "A", "")
	for i := 0; i < models.DefaultMaxAttempts; i++ {
		f.svc.TriggerSync(ctx)
	}
	assert.Equal(t, 1, f.svc.Status().FailedCount)

	f.remote.mu.Lock()
	f.remote.fail = false
	f.remote.mu.Unlock()

	outcome, err := f.svc.ResyncIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, 0, f.svc.Status().FailedCount)
}
