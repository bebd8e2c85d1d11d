package models

import "time"

// Member is a gym member record stored in the members namespace keyed by ID.
type Member struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	Phone               string     `json:"phone,omitempty"`
	Email               string     `json:"email,omitempty"`
	ImageURL            string     `json:"image_url,omitempty"`
	MembershipStatus    string     `json:"membership_status"`
	SubscriptionType    string     `json:"subscription_type,omitempty"`
	SubscriptionPrice   float64    `json:"subscription_price,omitempty"`
	SessionsRemaining   *int       `json:"sessions_remaining,omitempty"`
	PaymentStatus       string     `json:"payment_status,omitempty"`
	MembershipStartDate *time.Time `json:"membership_start_date,omitempty"`
	MembershipEndDate   *time.Time `json:"membership_end_date,omitempty"`
	LastAttendance      *time.Time `json:"last_attendance,omitempty"`
	Note                string     `json:"note,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// SessionBased reports whether attendance consumes sessions for this member.
func (m *Member) SessionBased() bool {
	return m.SubscriptionType != "" && m.SessionsRemaining != nil
}

// Activity is an entry of the member activity feed.
type Activity struct {
	ID           string    `json:"id"`
	MemberID     string    `json:"member_id"`
	MemberName   string    `json:"member_name,omitempty"`
	MemberImage  string    `json:"member_image,omitempty"`
	ActivityType string    `json:"activity_type"`
	Timestamp    time.Time `json:"timestamp"`
	Details      string    `json:"details"`
}
