package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"gymtrack/internal/events"
	"gymtrack/internal/models"
	"gymtrack/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentService_AddPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	member, err := f.members.AddMember(ctx, &models.Member{
		Name:              "Ali",
		SubscriptionType:  models.Subscription30Sessions,
		SessionsRemaining: intPtr(2),
	})
	require.NoError(t, err)

	p, err := f.payments.AddPayment(ctx, &models.Payment{MemberID: member.ID, Amount: 1800})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)
	assert.Equal(t, models.PaymentMethodCash, p.PaymentMethod)
	assert.Equal(t, models.SubscriptionUnspecified, p.SubscriptionType)
	assert.Equal(t, "INV-0001", p.InvoiceNumber)
	assert.False(t, p.Date.IsZero())

	refreshed, err := f.members.GetMember(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, *refreshed.SessionsRemaining)

	activities, err := f.members.ListActivities(ctx, 0)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, models.ActivityPayment, activities[0].ActivityType)

	second, err := f.payments.AddPayment(ctx, &models.Payment{MemberID: member.ID, Amount: 200, Status: models.PaymentStatusPending})
	require.NoError(t, err)
	assert.Equal(t, "INV-0002", second.InvoiceNumber)

	pending, err := f.payments.PendingPayments(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)

	t.Run("validation", func(t *testing.T) {
		_, err := f.payments.AddPayment(ctx, &models.Payment{Amount: 100})
		assert.ErrorIs(t, err, ErrValidation)
		_, err = f.payments.AddPayment(ctx, &models.Payment{MemberID: member.ID})
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestPaymentService_OfflineReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.reach.online = false

	p, err := f.payments.AddPayment(ctx, &models.Payment{MemberID: "m-1", Amount: 1500})
	require.ErrorIs(t, err, ErrDeferred)
	require.NotEmpty(t, p.ID)

	replayer := NewReplayer(f.members, f.payments)
	require.NoError(t, replayer.AddPayment(ctx, *p))

	err = replayer.AddPayment(ctx, *p)
	assert.ErrorIs(t, err, queue.ErrAlreadyApplied)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	f.reach.online = true
	res := f.queue.ReplayAll(ctx)
	assert.Equal(t, 1, res.Applied)

	all, err := f.payments.ListPayments(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPaymentService_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p, err := f.payments.AddPayment(ctx, &models.Payment{MemberID: "m-1", Amount: 1500})
	require.NoError(t, err)

	updated, err := f.payments.UpdatePayment(ctx, &models.Payment{ID: p.ID, MemberID: "m-1", Amount: 1600})
	require.NoError(t, err)
	assert.Equal(t, p.InvoiceNumber, updated.InvoiceNumber)
	assert.True(t, p.Date.Equal(updated.Date))
	assert.Equal(t, 1600.0, updated.Amount)

	_, err = f.payments.UpdatePayment(ctx, &models.Payment{ID: "missing", MemberID: "m-1", Amount: 1})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.payments.DeletePayment(ctx, p.ID))
	_, err = f.payments.GetPayment(ctx, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPaymentService_SessionPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.payments.SavePricing(ctx, models.PricingSettings{SingleSession: 250}))

	p, memberID, err := f.payments.AddSessionPayment(ctx, "Walk In", "0550")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(memberID, "session_"))
	assert.Equal(t, memberID, p.MemberID)
	assert.Equal(t, 250.0, p.Amount)
	assert.Equal(t, models.SubscriptionSingleSession, p.SubscriptionType)
	assert.Contains(t, p.Notes, "Walk In (0550)")

	activities, err := f.members.ListActivities(ctx, 0)
	require.NoError(t, err)
	require.Len(t, activities, 2)
	types := []string{activities[0].ActivityType, activities[1].ActivityType}
	assert.ElementsMatch(t, []string{models.ActivityPayment, models.ActivityCheckIn}, types)

	_, _, err = f.payments.AddSessionPayment(ctx, " ", "")
	assert.ErrorIs(t, err, ErrValidation)

	t.Run("offline", func(t *testing.T) {
		f.reach.online = false
		p, memberID, err := f.payments.AddSessionPayment(ctx, "Late", "")
		require.ErrorIs(t, err, ErrDeferred)
		assert.Equal(t, memberID, p.MemberID)
	})
}

func TestPaymentService_Pricing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		subscription string
		want         float64
	}{
		{models.SubscriptionMonthly, 1500},
		{models.Subscription13Sessions, 1500},
		{models.Subscription15Sessions, 1800},
		{models.Subscription30Sessions, 1800},
		{models.SubscriptionSingleSession, 200},
		{"", 1500},
		{"yearly", 1500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.payments.CalculateSubscriptionPrice(ctx, tt.subscription), tt.subscription)
	}

	require.NoError(t, f.payments.SavePricing(ctx, models.PricingSettings{Sessions15: 2000}))
	assert.Equal(t, 2000.0, f.payments.CalculateSubscriptionPrice(ctx, models.Subscription15Sessions))
	assert.Equal(t, 200.0, f.payments.Pricing(ctx).SingleSession)

	assert.ErrorIs(t, f.payments.SavePricing(ctx, models.PricingSettings{Sessions30: -1}), ErrValidation)
}

func TestPaymentService_Statistics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	seed := []models.Payment{
		{MemberID: "a", Amount: 100, Date: now.Add(-time.Hour), SubscriptionType: models.SubscriptionSingleSession},
		{MemberID: "b", Amount: 200, Date: now.AddDate(0, 0, -3), SubscriptionType: models.Subscription13Sessions},
		{MemberID: "c", Amount: 300, Date: now.AddDate(0, 0, -20), SubscriptionType: models.Subscription13Sessions},
		{MemberID: "d", Amount: 400, Date: now.AddDate(0, -3, 0)},
	}
	for i := range seed {
		_, err := f.payments.AddPayment(ctx, &seed[i])
		require.NoError(t, err)
	}

	stats, err := f.payments.Statistics(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, stats.TotalRevenue)
	assert.Equal(t, 100.0, stats.TodayRevenue)
	assert.Equal(t, 300.0, stats.WeekRevenue)
	assert.Equal(t, 600.0, stats.MonthRevenue)
	assert.Equal(t, 4, stats.PaymentCount)
	assert.Equal(t, 250.0, stats.AveragePayment)
	assert.Equal(t, map[string]int{
		models.SubscriptionSingleSession: 1,
		models.Subscription13Sessions:    2,
		models.SubscriptionUnspecified:   1,
	}, stats.SubscriptionTypeBreakdown)
	require.Len(t, stats.RecentPayments, 4)
	assert.Equal(t, "a", stats.RecentPayments[0].MemberID)

	t.Run("empty", func(t *testing.T) {
		stats, err := newFixture(t).payments.Statistics(ctx, now)
		require.NoError(t, err)
		assert.Zero(t, stats.AveragePayment)
		assert.Empty(t, stats.RecentPayments)
	})
}

func TestPaymentService_AttendanceNotesLatestPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bus.Subscribe(events.EventAttendanceMarked, f.payments.AttendanceHandler(ctx))

	member, err := f.members.AddMember(ctx, &models.Member{Name: "Ali"})
	require.NoError(t, err)

	old, err := f.payments.AddPayment(ctx, &models.Payment{MemberID: member.ID, Amount: 100, Date: time.Now().AddDate(0, -1, 0)})
	require.NoError(t, err)
	latest, err := f.payments.AddPayment(ctx, &models.Payment{MemberID: member.ID, Amount: 200, Notes: "renewal"})
	require.NoError(t, err)

	_, err = f.members.MarkAttendance(ctx, member.ID)
	require.NoError(t, err)

	got, err := f.payments.GetPayment(ctx, latest.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastAttendanceDate)
	assert.True(t, strings.HasPrefix(got.Notes, "renewal | attended "))

	untouched, err := f.payments.GetPayment(ctx, old.ID)
	require.NoError(t, err)
	assert.Nil(t, untouched.LastAttendanceDate)
}
