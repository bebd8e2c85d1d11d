package models

const (
	MembershipActive  = "active"
	MembershipExpired = "expired"
	MembershipPending = "pending"
)

const (
	PaymentStatusCompleted = "completed"
	PaymentStatusPending   = "pending"
	PaymentStatusCancelled = "cancelled"
)

const (
	PaymentMethodCash     = "cash"
	PaymentMethodCard     = "card"
	PaymentMethodTransfer = "transfer"
)

const (
	SubscriptionMonthly       = "monthly"
	Subscription13Sessions    = "13_sessions"
	Subscription15Sessions    = "15_sessions"
	Subscription30Sessions    = "30_sessions"
	SubscriptionSingleSession = "single_session"
	SubscriptionUnspecified   = "unspecified"
)

const (
	ActivityCheckIn           = "check-in"
	ActivityMembershipRenewal = "membership-renewal"
	ActivityPayment           = "payment"
	ActivityOther             = "other"
)

// Storage namespaces, one per logical database.
const (
	NamespaceMembers      = "members"
	NamespacePayments     = "payments"
	NamespaceActivities   = "activities"
	NamespaceOfflineQueue = "offline_queue"
	NamespaceSettings     = "settings"
)

const (
	// RecentPaymentsLimit is the number of payments listed in statistics.
	RecentPaymentsLimit = 5

	// DefaultActivitiesLimit caps activity feed reads.
	DefaultActivitiesLimit = 50
)
