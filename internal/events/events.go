package events

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

const (
	EventMemberAdded         = "member_added"
	EventMemberUpdated       = "member_updated"
	EventAttendanceMarked    = "attendance_marked"
	EventPaymentAdded        = "payment_added"
	EventConnectivityChanged = "connectivity_changed"
	EventQueueReplayed       = "queue_replayed"
)

// MemberEventPayload is the member snapshot sent to event consumers.
type MemberEventPayload struct {
	MemberID          string    `json:"member_id"`
	Name              string    `json:"name"`
	SessionsRemaining *int      `json:"sessions_remaining,omitempty"`
	At                time.Time `json:"at"`
}

type PaymentEventPayload struct {
	PaymentID        string    `json:"payment_id"`
	MemberID         string    `json:"member_id"`
	Amount           float64   `json:"amount"`
	SubscriptionType string    `json:"subscription_type"`
	At               time.Time `json:"at"`
}

type ConnectivityEventPayload struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// QueueReplayedPayload announces that deferred actions were synced.
type QueueReplayedPayload struct {
	Applied   int       `json:"applied"`
	Remaining int       `json:"remaining"`
	At        time.Time `json:"at"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]subscription
	nextID      uint64
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]subscription)}
}

// Subscribe registers a handler for a given event type and returns a func
// that removes it. Calling the returned func more than once is a no-op.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(eventType, id) })
	}
}

func (b *EventBus) unsubscribe(eventType string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[eventType]
	for i, s := range subs {
		if s.id == id {
			b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish notifies subscribers of the event type. Handlers run synchronously
// in subscription order; their errors are joined.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, s := range subs {
		if err := s.handler(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	return b.Publish(&event)
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
