package events

import (
	"encoding/json"
	"errors"
	"testing"

	"checkinsync/internal/models"
)

func TestEventBusDeliversSyncStatus(t *testing.T) {
	bus := NewEventBus()

	var got []models.SyncRunStatus
	bus.Subscribe(EventSyncStatus, func(event *Event) error {
		var status models.SyncRunStatus
		if err := json.Unmarshal(event.Payload, &status); err != nil {
			return err
		}
		got = append(got, status)
		return nil
	})

	if err := bus.PublishJSON(EventSyncStatus, models.SyncRunStatus{IsSyncing: true, PendingCount: 2}); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}
	if err := bus.PublishJSON(EventIntentSynced, models.SyncOutcome{ID: "x", Success: true}); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected only the status event, got %d", len(got))
	}
	if !got[0].IsSyncing || got[0].PendingCount != 2 {
		t.Errorf("unexpected status %+v", got[0])
	}
}

func TestEventBusFansOutOutcomes(t *testing.T) {
	bus := NewEventBus()
	var seenByLog, seenByUI []string

	bus.Subscribe(EventIntentSynced, func(e *Event) error { seenByLog = append(seenByLog, string(e.Payload)); return nil })
	bus.Subscribe(EventIntentSynced, func(e *Event) error { seenByUI = append(seenByUI, string(e.Payload)); return nil })

	_ = bus.Publish(&Event{Type: EventIntentSynced, Payload: json.RawMessage(`{"id":"a"}`)})

	if len(seenByLog) != 1 || len(seenByUI) != 1 {
		t.Fatalf("expected both handlers once, got %d and %d", len(seenByLog), len(seenByUI))
	}
	if seenByLog[0] != seenByUI[0] {
		t.Errorf("handlers saw different payloads: %s vs %s", seenByLog[0], seenByUI[0])
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	unsub := bus.Subscribe(EventSyncStatus, func(_ *Event) error { count1++; return nil })
	bus.Subscribe(EventSyncStatus, func(_ *Event) error { count2++; return nil })

	_ = bus.Publish(&Event{Type: EventSyncStatus})
	unsub()
	_ = bus.Publish(&Event{Type: EventSyncStatus})

	if count1 != 1 {
		t.Errorf("expected unsubscribed handler to be called once, got %d", count1)
	}
	if count2 != 2 {
		t.Errorf("expected remaining handler to be called twice, got %d", count2)
	}
}

func TestEventBusHandlerError(t *testing.T) {
	bus := NewEventBus()
	boom := errors.New("boom")
	var secondCalled bool

	bus.Subscribe("event", func(_ *Event) error { return boom })
	bus.Subscribe("event", func(_ *Event) error { secondCalled = true; return nil })

	err := bus.Publish(&Event{Type: "event"})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if !secondCalled {
		t.Errorf("expected later handlers to run after an error")
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	if err := bus.Publish(&Event{Type: EventSyncStatus}); err != nil {
		t.Errorf("Publish without subscribers: %v", err)
	}
}

func TestNewJSONEvent(t *testing.T) {
	event, err := NewJSONEvent(EventSyncStatus, models.SyncRunStatus{PendingCount: 3})
	if err != nil {
		t.Fatalf("NewJSONEvent failed: %v", err)
	}

	if event.Type != EventSyncStatus {
		t.Errorf("expected %s, got %s", EventSyncStatus, event.Type)
	}

	if event.CreatedAt.IsZero() {
		t.Errorf("expected CreatedAt to be set")
	}

	var decoded models.SyncRunStatus
	if err := json.Unmarshal(event.Payload, &decoded); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}

	if decoded.PendingCount != 3 {
		t.Errorf("expected pending_count 3, got %d", decoded.PendingCount)
	}
}
