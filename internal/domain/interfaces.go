package domain

import (
	"context"
	"time"

	"gymtrack/internal/models"
)

// Store is a namespaced key-value store. Get reports absence with ok=false
// and a nil error; Remove of an absent key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Iterate(ctx context.Context, fn func(key string, value []byte) error) error
}

// StoreFactory opens the Store of a logical database.
type StoreFactory interface {
	Namespace(name string) Store
}

// Reachability answers whether the device is currently online.
type Reachability interface {
	IsOnline() bool
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type MemberService interface {
	AddMember(ctx context.Context, member *models.Member) (*models.Member, error)
	UpdateMember(ctx context.Context, member *models.Member) (*models.Member, error)
	GetMember(ctx context.Context, id string) (*models.Member, error)
	ListMembers(ctx context.Context) ([]*models.Member, error)
	SearchMembers(ctx context.Context, query string) ([]*models.Member, error)
	DeleteMember(ctx context.Context, id string) error
	MarkAttendance(ctx context.Context, memberID string) (*models.Member, error)
	ResetSessions(ctx context.Context, memberID string) (*models.Member, error)
	TodayAttendance(ctx context.Context, now time.Time) ([]*models.Member, error)
	AddActivity(ctx context.Context, activity *models.Activity) error
	ListActivities(ctx context.Context, limit int) ([]*models.Activity, error)
	Statistics(ctx context.Context, now time.Time) (*models.MemberStatistics, error)
}

type PaymentService interface {
	AddPayment(ctx context.Context, payment *models.Payment) (*models.Payment, error)
	UpdatePayment(ctx context.Context, payment *models.Payment) (*models.Payment, error)
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	ListPayments(ctx context.Context) ([]*models.Payment, error)
	PaymentsByMember(ctx context.Context, memberID string) ([]*models.Payment, error)
	PendingPayments(ctx context.Context) ([]*models.Payment, error)
	DeletePayment(ctx context.Context, id string) error
	AddSessionPayment(ctx context.Context, memberName, memberPhone string) (*models.Payment, string, error)
	CalculateSubscriptionPrice(ctx context.Context, subscriptionType string) float64
	Statistics(ctx context.Context, now time.Time) (*models.PaymentStatistics, error)
	Pricing(ctx context.Context) models.PricingSettings
	SavePricing(ctx context.Context, pricing models.PricingSettings) error
}
