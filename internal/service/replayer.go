package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gymtrack/internal/models"
	"gymtrack/internal/queue"
)

// Replayer applies queued actions through the services' direct paths, so a
// replay never re-enters the offline queue.
type Replayer struct {
	members  *MemberService
	payments *PaymentService
}

var _ queue.Dispatcher = (*Replayer)(nil)

func NewReplayer(members *MemberService, payments *PaymentService) *Replayer {
	return &Replayer{members: members, payments: payments}
}

func (r *Replayer) AddMember(ctx context.Context, member models.Member) error {
	return replayed(r.members.applyAddMember(ctx, &member))
}

func (r *Replayer) UpdateMember(ctx context.Context, member models.Member) error {
	return r.members.applyUpdateMember(ctx, &member)
}

func (r *Replayer) AddPayment(ctx context.Context, payment models.Payment) error {
	return replayed(r.payments.applyAddPayment(ctx, &payment))
}

func (r *Replayer) MarkAttendance(ctx context.Context, memberID string, at time.Time) error {
	_, err := r.members.applyAttendance(ctx, memberID, at)
	return err
}

// replayed reports duplicates of already-applied adds to the queue as success.
func replayed(err error) error {
	if errors.Is(err, ErrAlreadyExists) {
		return fmt.Errorf("%w: %w", queue.ErrAlreadyApplied, err)
	}
	return err
}
