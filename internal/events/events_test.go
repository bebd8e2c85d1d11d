package events

import (
	"errors"
	"testing"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	handler := func(event *Event) error {
		received = event
		callCount++
		return nil
	}

	bus.Subscribe(EventQueueReplayed, handler)

	err := bus.PublishJSON(EventQueueReplayed, QueueReplayedPayload{Applied: 2, Remaining: 1})
	if err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}

	if received.Type != EventQueueReplayed {
		t.Errorf("expected type %s, got %s", EventQueueReplayed, received.Type)
	}

	var decoded QueueReplayedPayload
	if err := received.Decode(&decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}

	if decoded.Applied != 2 || decoded.Remaining != 1 {
		t.Errorf("unexpected payload %+v", decoded)
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var order []int

	bus.Subscribe("event", func(_ *Event) error { order = append(order, 1); return nil })
	bus.Subscribe("event", func(_ *Event) error { order = append(order, 2); return nil })

	if err := bus.Publish(&Event{Type: "event"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("expected handlers in subscription order, got %v", order)
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	unsubscribe := bus.Subscribe("event", func(_ *Event) error { count1++; return nil })
	bus.Subscribe("event", func(_ *Event) error { count2++; return nil })

	unsubscribe()
	unsubscribe()

	_ = bus.Publish(&Event{Type: "event"})

	if count1 != 0 {
		t.Errorf("expected unsubscribed handler not to run, got %d calls", count1)
	}
	if count2 != 1 {
		t.Errorf("expected remaining handler to run once, got %d", count2)
	}
}

func TestEventBusHandlerErrors(t *testing.T) {
	bus := NewEventBus()
	boom := errors.New("boom")
	var ran bool

	bus.Subscribe("event", func(_ *Event) error { return boom })
	bus.Subscribe("event", func(_ *Event) error { ran = true; return nil })

	err := bus.Publish(&Event{Type: "event"})
	if !errors.Is(err, boom) {
		t.Errorf("expected joined error to wrap boom, got %v", err)
	}
	if !ran {
		t.Errorf("expected second handler to run despite first failing")
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	if err := bus.Publish(&Event{Type: "unknown"}); err != nil {
		t.Errorf("Publish failed: %v", err)
	}
	if err := bus.PublishJSON("unknown", nil); err != nil {
		t.Errorf("PublishJSON failed: %v", err)
	}

	var nilBus *EventBus
	if err := nilBus.PublishJSON("unknown", nil); err != nil {
		t.Errorf("nil bus PublishJSON failed: %v", err)
	}
}

func TestNewJSONEvent(t *testing.T) {
	payload := PaymentEventPayload{PaymentID: "p-1", Amount: 1500}
	event, err := NewJSONEvent(EventPaymentAdded, payload)
	if err != nil {
		t.Fatalf("NewJSONEvent failed: %v", err)
	}

	if event.CreatedAt.IsZero() {
		t.Errorf("expected CreatedAt to be set")
	}

	var decoded PaymentEventPayload
	if err := event.Decode(&decoded); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}

	if decoded.PaymentID != "p-1" || decoded.Amount != 1500 {
		t.Errorf("unexpected payload %+v", decoded)
	}
}
