package models

import "time"

type Payment struct {
	ID                 string     `json:"id"`
	MemberID           string     `json:"member_id"`
	Amount             float64    `json:"amount"`
	Date               time.Time  `json:"date"`
	SubscriptionType   string     `json:"subscription_type"`
	PaymentMethod      string     `json:"payment_method"`
	Notes              string     `json:"notes,omitempty"`
	Status             string     `json:"status"`
	InvoiceNumber      string     `json:"invoice_number,omitempty"`
	ReceiptURL         string     `json:"receipt_url,omitempty"`
	LastAttendanceDate *time.Time `json:"last_attendance_date,omitempty"`
}

// PaymentStatistics aggregates revenue over the stored payments.
type PaymentStatistics struct {
	TotalRevenue              float64        `json:"total_revenue"`
	TodayRevenue              float64        `json:"today_revenue"`
	WeekRevenue               float64        `json:"week_revenue"`
	MonthRevenue              float64        `json:"month_revenue"`
	PaymentCount              int            `json:"payment_count"`
	AveragePayment            float64        `json:"average_payment"`
	SubscriptionTypeBreakdown map[string]int `json:"subscription_type_breakdown"`
	RecentPayments            []Payment      `json:"recent_payments"`
}

// MemberStatistics summarizes the member base.
type MemberStatistics struct {
	TotalMembers    int `json:"total_members"`
	ActiveMembers   int `json:"active_members"`
	ExpiredMembers  int `json:"expired_members"`
	PendingPayments int `json:"pending_payments"`
	TodayAttendance int `json:"today_attendance"`
}
