package queue

import (
	"context"
	"testing"
	"time"

	"gymtrack/internal/models"
	"gymtrack/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	recorder
	members    []models.Member
	payments   []models.Payment
	attendedAt []time.Time
}

func (c *capture) AddMember(ctx context.Context, m models.Member) error {
	c.members = append(c.members, m)
	return c.recorder.AddMember(ctx, m)
}

func (c *capture) UpdateMember(ctx context.Context, m models.Member) error {
	c.members = append(c.members, m)
	return c.recorder.UpdateMember(ctx, m)
}

func (c *capture) AddPayment(ctx context.Context, p models.Payment) error {
	c.payments = append(c.payments, p)
	return c.recorder.AddPayment(ctx, p)
}

func (c *capture) MarkAttendance(ctx context.Context, memberID string, at time.Time) error {
	c.attendedAt = append(c.attendedAt, at)
	return c.recorder.MarkAttendance(ctx, memberID, at)
}

func TestQueue_LoadsBrowserClientQueue(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	raw := `[
		{"id":"1700000000001","type":"member_add","timestamp":"2025-11-14T22:13:20.000Z",
		 "data":{"id":"m-1","name":"Ali","subscriptionType":"13_sessions","sessionsRemaining":13,"imageUrl":"a.png"}},
		{"id":"1700000000002","type":"attendance_mark","timestamp":"2025-11-14T22:14:00.000Z",
		 "data":{"memberId":"m-1"}},
		{"id":"1700000000003","type":"payment_add","timestamp":"2025-11-14T22:15:00.000Z",
		 "data":{"memberId":"m-1","amount":1500,"paymentMethod":"card","subscriptionType":"13_sessions"}},
		{"id":"1700000000004","type":"member_update","timestamp":"2025-11-14T22:16:00.000Z",
		 "data":{"id":"m-1","name":"Ali B"}}
	]`
	require.NoError(t, store.Set(ctx, QueueKey, []byte(raw)))

	c := &capture{}
	q := New(store, c, Config{}, nil)
	require.NoError(t, q.Load(ctx))

	status := q.Status()
	require.Equal(t, 4, status.Count)
	assert.Equal(t, TypeMemberAdd, status.Actions[0].Type)
	assert.Equal(t, TypeAttendanceMark, status.Actions[1].Type)
	assert.Equal(t, TypePaymentAdd, status.Actions[2].Type)
	assert.Equal(t, TypeMemberUpdate, status.Actions[3].Type)

	res := q.ReplayAll(ctx)
	assert.Equal(t, 4, res.Applied)
	assert.Equal(t, 0, q.Status().Count)
	assert.Equal(t, []string{"add:Ali", "attendance:m-1", "payment:pwa-1700000000003", "update:Ali B"}, c.Calls())

	require.Len(t, c.members, 2)
	assert.Equal(t, "m-1", c.members[0].ID)
	assert.Equal(t, models.Subscription13Sessions, c.members[0].SubscriptionType)
	require.NotNil(t, c.members[0].SessionsRemaining)
	assert.Equal(t, 13, *c.members[0].SessionsRemaining)
	assert.Equal(t, "a.png", c.members[0].ImageURL)

	require.Len(t, c.payments, 1)
	assert.Equal(t, "m-1", c.payments[0].MemberID)
	assert.Equal(t, models.PaymentMethodCard, c.payments[0].PaymentMethod)
	assert.Equal(t, 1500.0, c.payments[0].Amount)

	require.Len(t, c.attendedAt, 1)
	assert.True(t, c.attendedAt[0].Equal(time.Date(2025, 11, 14, 22, 14, 0, 0, time.UTC)))
}

func TestQueue_BrowserClientUnknownTag(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	raw := `[{"id":"1","type":"member_delete","timestamp":"2025-11-14T22:13:20.000Z","data":{"id":"m-1"}}]`
	require.NoError(t, store.Set(ctx, QueueKey, []byte(raw)))

	q := New(store, &recorder{}, Config{}, nil)
	require.NoError(t, q.Load(ctx))

	res := q.ReplayAll(ctx)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, q.Status().Actions[0].LastError, ErrUnknownActionType.Error())
}

func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"memberId":            "member_id",
		"imageUrl":            "image_url",
		"membershipStartDate": "membership_start_date",
		"name":                "name",
	}
	for in, want := range cases {
		assert.Equal(t, want, snakeCase(in), in)
	}
}
