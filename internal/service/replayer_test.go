package service

import (
	"context"
	"testing"

	"gymtrack/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayer_OfflineSessionReplaysInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.reach.online = false

	member, err := f.members.AddMember(ctx, &models.Member{Name: "Ali", SubscriptionType: models.Subscription13Sessions})
	require.ErrorIs(t, err, ErrDeferred)

	_, err = f.members.MarkAttendance(ctx, member.ID)
	require.ErrorIs(t, err, ErrDeferred)

	payment, err := f.payments.AddPayment(ctx, &models.Payment{MemberID: member.ID, Amount: 1500, SubscriptionType: models.SubscriptionMonthly})
	require.ErrorIs(t, err, ErrDeferred)

	_, err = f.members.MarkAttendance(ctx, member.ID)
	require.ErrorIs(t, err, ErrDeferred)

	require.Equal(t, 4, f.queue.Status().Count)

	f.reach.online = true
	res := f.queue.ReplayAll(ctx)
	assert.Equal(t, 4, res.Applied)
	assert.Equal(t, 0, f.queue.Status().Count)

	stored, err := f.members.GetMember(ctx, member.ID)
	require.NoError(t, err)
	// 13 - 1 check-in, refilled to 13 by the payment, then one more check-in.
	assert.Equal(t, 12, *stored.SessionsRemaining)

	p, err := f.payments.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, "INV-0001", p.InvoiceNumber)
}

func TestReplayer_FailuresStayQueued(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.reach.online = false

	_, err := f.members.MarkAttendance(ctx, "not-yet-created")
	require.ErrorIs(t, err, ErrDeferred)
	_, err = f.members.AddMember(ctx, &models.Member{Name: "Sara"})
	require.ErrorIs(t, err, ErrDeferred)

	f.reach.online = true
	res := f.queue.ReplayAll(ctx)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 1, res.Failed)

	st := f.queue.Status()
	require.Equal(t, 1, st.Count)
	assert.Contains(t, st.Actions[0].LastError, ErrNotFound.Error())
}
