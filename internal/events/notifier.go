package events

import (
	"sync"

	"checkinsync/internal/models"

	"github.com/rs/zerolog"
)

// Notifier fans sync progress out to in-process observers and, through the
// bus, to any attached forwarders.
type Notifier struct {
	mu          sync.Mutex
	status      models.SyncRunStatus
	statusSubs  map[int]func(models.SyncRunStatus)
	outcomeSubs map[int]func(models.SyncOutcome)
	nextID      int

	bus    *EventBus
	logger *zerolog.Logger
}

func NewNotifier(logger *zerolog.Logger) *Notifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "notifier").Logger()
	return &Notifier{
		statusSubs:  make(map[int]func(models.SyncRunStatus)),
		outcomeSubs: make(map[int]func(models.SyncOutcome)),
		bus:         NewEventBus(),
		logger:      &l,
	}
}

// Bus exposes the underlying event bus for forwarders.
func (n *Notifier) Bus() *EventBus {
	return n.bus
}

// Status returns the latest published status.
func (n *Notifier) Status() models.SyncRunStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

// OnStatusChange registers cb and invokes it once immediately with the
// current status. Callbacks run on the publishing goroutine, in publish order,
// and must not themselves cause a status publish.
func (n *Notifier) OnStatusChange(cb func(models.SyncRunStatus)) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.statusSubs[id] = cb
	current := n.status
	n.mu.Unlock()

	cb(current)

	return n.unsubscriber(func() { delete(n.statusSubs, id) })
}

// OnIntentSynced registers cb for every per-intent outcome.
func (n *Notifier) OnIntentSynced(cb func(models.SyncOutcome)) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.outcomeSubs[id] = cb
	n.mu.Unlock()

	return n.unsubscriber(func() { delete(n.outcomeSubs, id) })
}

func (n *Notifier) unsubscriber(remove func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			remove()
			n.mu.Unlock()
		})
	}
}

// PublishStatus stores status as current and notifies observers.
func (n *Notifier) PublishStatus(status models.SyncRunStatus) {
	n.mu.Lock()
	n.status = status
	subs := make([]func(models.SyncRunStatus), 0, len(n.statusSubs))
	for _, cb := range n.statusSubs {
		subs = append(subs, cb)
	}
	n.mu.Unlock()

	for _, cb := range subs {
		cb(status)
	}
	if err := n.bus.PublishJSON(EventSyncStatus, status); err != nil {
		n.logger.Warn().Err(err).Msg("failed to forward sync status")
	}
}

// PublishOutcome notifies observers about one processed intent.
func (n *Notifier) PublishOutcome(outcome models.SyncOutcome) {
	n.mu.Lock()
	subs := make([]func(models.SyncOutcome), 0, len(n.outcomeSubs))
	for _, cb := range n.outcomeSubs {
		subs = append(subs, cb)
	}
	n.mu.Unlock()

	for _, cb := range subs {
		cb(outcome)
	}
	if err := n.bus.PublishJSON(EventIntentSynced, outcome); err != nil {
		n.logger.Warn().Err(err).Str("intent_id", outcome.ID).Msg("failed to forward intent outcome")
	}
}
