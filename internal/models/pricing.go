package models

import "strings"

// PricingSettings holds the price list for subscriptions and walk-in sessions.
type PricingSettings struct {
	SingleSession float64 `yaml:"single_session" json:"single_session"`
	Sessions13    float64 `yaml:"sessions_13" json:"sessions_13"`
	Sessions15    float64 `yaml:"sessions_15" json:"sessions_15"`
	Sessions30    float64 `yaml:"sessions_30" json:"sessions_30"`
}

// DefaultPricing is used for every price left unset.
var DefaultPricing = PricingSettings{
	SingleSession: 200,
	Sessions13:    1500,
	Sessions15:    1800,
	Sessions30:    1800,
}

// WithDefaults fills zero prices from DefaultPricing.
func (p PricingSettings) WithDefaults() PricingSettings {
	if p.SingleSession == 0 {
		p.SingleSession = DefaultPricing.SingleSession
	}
	if p.Sessions13 == 0 {
		p.Sessions13 = DefaultPricing.Sessions13
	}
	if p.Sessions15 == 0 {
		p.Sessions15 = DefaultPricing.Sessions15
	}
	if p.Sessions30 == 0 {
		p.Sessions30 = DefaultPricing.Sessions30
	}
	return p
}

// PriceFor returns the price of a subscription type. Monthly and unknown
// types are billed as 13 sessions.
func (p PricingSettings) PriceFor(subscriptionType string) float64 {
	switch strings.TrimSpace(subscriptionType) {
	case Subscription15Sessions:
		return p.Sessions15
	case Subscription30Sessions:
		return p.Sessions30
	case SubscriptionSingleSession:
		return p.SingleSession
	default:
		return p.Sessions13
	}
}

// SessionsFor returns how many sessions a subscription grants, or false
// when the subscription is not session based.
func SessionsFor(subscriptionType string) (int, bool) {
	switch strings.TrimSpace(subscriptionType) {
	case SubscriptionMonthly, Subscription13Sessions:
		return 13, true
	case Subscription15Sessions:
		return 15, true
	case Subscription30Sessions:
		return 30, true
	case SubscriptionSingleSession:
		return 1, true
	default:
		return 0, false
	}
}

// KnownSubscription reports whether the type is one of the sold subscriptions.
func KnownSubscription(subscriptionType string) bool {
	_, ok := SessionsFor(subscriptionType)
	return ok
}
