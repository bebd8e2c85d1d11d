package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gymtrack/internal/models"
)

// ActionType tags a deferred domain mutation.
type ActionType string

const (
	TypeMemberAdd      ActionType = "member-add"
	TypeMemberUpdate   ActionType = "member-update"
	TypePaymentAdd     ActionType = "payment-add"
	TypeAttendanceMark ActionType = "attendance-mark"
)

var (
	// ErrAlreadyApplied is returned by a Dispatcher when the mutation is
	// already reflected in the domain data. The queue counts it as success.
	ErrAlreadyApplied = errors.New("action already applied")

	ErrUnknownActionType = errors.New("unknown action type")
)

// Dispatcher applies replayed actions to the domain.
type Dispatcher interface {
	AddMember(ctx context.Context, member models.Member) error
	UpdateMember(ctx context.Context, member models.Member) error
	AddPayment(ctx context.Context, payment models.Payment) error
	MarkAttendance(ctx context.Context, memberID string, at time.Time) error
}

// Action is one of MemberAdd, MemberUpdate, PaymentAdd or AttendanceMark.
// The interface is sealed: apply is unexported, so every variant lives here
// and must say how it reaches the Dispatcher.
type Action interface {
	Type() ActionType
	apply(ctx context.Context, d Dispatcher) error
}

type MemberAdd struct {
	Member models.Member `json:"member"`
}

func (MemberAdd) Type() ActionType { return TypeMemberAdd }

func (a MemberAdd) apply(ctx context.Context, d Dispatcher) error {
	return d.AddMember(ctx, a.Member)
}

type MemberUpdate struct {
	Member models.Member `json:"member"`
}

func (MemberUpdate) Type() ActionType { return TypeMemberUpdate }

func (a MemberUpdate) apply(ctx context.Context, d Dispatcher) error {
	return d.UpdateMember(ctx, a.Member)
}

type PaymentAdd struct {
	Payment models.Payment `json:"payment"`
}

func (PaymentAdd) Type() ActionType { return TypePaymentAdd }

func (a PaymentAdd) apply(ctx context.Context, d Dispatcher) error {
	return d.AddPayment(ctx, a.Payment)
}

// AttendanceMark records a check-in; At is the time of the original attempt.
type AttendanceMark struct {
	MemberID string    `json:"member_id"`
	At       time.Time `json:"at"`
}

func (AttendanceMark) Type() ActionType { return TypeAttendanceMark }

func (a AttendanceMark) apply(ctx context.Context, d Dispatcher) error {
	return d.MarkAttendance(ctx, a.MemberID, a.At)
}

var decoders = map[ActionType]func(json.RawMessage) (Action, error){
	TypeMemberAdd:      decodeInto[MemberAdd],
	TypeMemberUpdate:   decodeInto[MemberUpdate],
	TypePaymentAdd:     decodeInto[PaymentAdd],
	TypeAttendanceMark: decodeInto[AttendanceMark],
}

func decodeInto[T Action](raw json.RawMessage) (Action, error) {
	var a T
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	return a, nil
}

// QueuedAction is the persisted form of a deferred action.
type QueuedAction struct {
	ID            string          `json:"id"`
	Type          ActionType      `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	Attempts      int             `json:"attempts,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	NextAttemptAt *time.Time      `json:"next_attempt_at,omitempty"`
}

// Action decodes the payload back into its variant.
func (q QueuedAction) Action() (Action, error) {
	decode, ok := decoders[q.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionType, q.Type)
	}
	a, err := decode(q.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", q.Type, err)
	}
	return a, nil
}

func (q QueuedAction) due(now time.Time) bool {
	return q.NextAttemptAt == nil || !q.NextAttemptAt.After(now)
}

func (q QueuedAction) clone() QueuedAction {
	c := q
	c.Payload = append(json.RawMessage(nil), q.Payload...)
	if q.NextAttemptAt != nil {
		t := *q.NextAttemptAt
		c.NextAttemptAt = &t
	}
	return c
}
