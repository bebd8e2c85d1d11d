package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gymtrack/internal/domain"
	"gymtrack/internal/events"
	"gymtrack/internal/models"
	"gymtrack/internal/queue"
	"gymtrack/internal/repository"

	"github.com/rs/zerolog"
)

const (
	pricingKey        = "pricing"
	invoiceCounterKey = "invoice_counter"
)

type PaymentService struct {
	offlineRouter
	payments domain.Store
	settings domain.Store
	members  *MemberService
	defaults models.PricingSettings

	// invoiceMu serializes invoice counter updates.
	invoiceMu sync.Mutex
	// locks serializes writes per payment ID.
	locks keyedMutex
}

var _ domain.PaymentService = (*PaymentService)(nil)

func NewPaymentService(stores domain.StoreFactory, members *MemberService, pricing models.PricingSettings, reach domain.Reachability, eventBus domain.EventPublisher, logger *zerolog.Logger) *PaymentService {
	return &PaymentService{
		offlineRouter: newRouter(reach, eventBus, logger),
		payments:      stores.Namespace(models.NamespacePayments),
		settings:      stores.Namespace(models.NamespaceSettings),
		members:       members,
		defaults:      pricing.WithDefaults(),
	}
}

func validatePayment(p *models.Payment) error {
	if strings.TrimSpace(p.MemberID) == "" {
		return validationError("payment member id is required")
	}
	if p.Amount <= 0 {
		return validationError("payment amount must be greater than zero")
	}
	return nil
}

// AddPayment validates and records a payment. Offline, the prepared payment
// is queued and returned with ErrDeferred.
func (s *PaymentService) AddPayment(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	if payment == nil {
		return nil, validationError("payment is required")
	}
	p := *payment
	if err := validatePayment(&p); err != nil {
		return nil, err
	}

	if p.ID == "" {
		p.ID = newID()
	}
	if p.Status == "" {
		p.Status = models.PaymentStatusCompleted
	}
	if p.PaymentMethod == "" {
		p.PaymentMethod = models.PaymentMethodCash
	}
	if p.Date.IsZero() {
		p.Date = s.now()
	}
	if p.SubscriptionType == "" {
		p.SubscriptionType = models.SubscriptionUnspecified
	}

	if s.offline() {
		return &p, s.deferAction(ctx, queue.PaymentAdd{Payment: p})
	}
	if err := s.applyAddPayment(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PaymentService) applyAddPayment(ctx context.Context, p *models.Payment) error {
	if err := validatePayment(p); err != nil {
		return err
	}
	if err := s.insertPayment(ctx, p); err != nil {
		return err
	}
	s.logger.Info().Str("payment_id", p.ID).Str("member_id", p.MemberID).Float64("amount", p.Amount).Msg("payment added")

	s.afterPayment(ctx, p)
	s.publish(events.EventPaymentAdded, events.PaymentEventPayload{
		PaymentID:        p.ID,
		MemberID:         p.MemberID,
		Amount:           p.Amount,
		SubscriptionType: p.SubscriptionType,
		At:               p.Date,
	})
	return nil
}

// insertPayment stores a new payment, assigning the next invoice number when
// none is set. The payment lock is released before member side effects run.
func (s *PaymentService) insertPayment(ctx context.Context, p *models.Payment) error {
	defer s.locks.lock(p.ID)()

	_, exists, err := s.payments.Get(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("check payment %s: %w", p.ID, err)
	}
	if exists {
		return fmt.Errorf("payment %s: %w", p.ID, ErrAlreadyExists)
	}
	if p.InvoiceNumber == "" {
		invoice, err := s.nextInvoice(ctx)
		if err != nil {
			return err
		}
		p.InvoiceNumber = invoice
	}
	if err := repository.SetJSON(ctx, s.payments, p.ID, p); err != nil {
		return fmt.Errorf("save payment: %w", err)
	}
	return nil
}

// afterPayment records the payment in the member's feed and refills sessions
// for completed payments.
func (s *PaymentService) afterPayment(ctx context.Context, p *models.Payment) {
	if s.members == nil {
		return
	}
	member, err := s.members.GetMember(ctx, p.MemberID)
	if err != nil {
		if !isNotFound(err) {
			s.logger.Error().Err(err).Str("member_id", p.MemberID).Msg("load payment member")
		}
		return
	}

	if err := s.members.AddActivity(ctx, &models.Activity{
		MemberID:     member.ID,
		MemberName:   member.Name,
		MemberImage:  member.ImageURL,
		ActivityType: models.ActivityPayment,
		Timestamp:    s.now(),
		Details:      fmt.Sprintf("paid %.2f - %s", p.Amount, p.SubscriptionType),
	}); err != nil {
		s.logger.Error().Err(err).Str("member_id", member.ID).Msg("record payment activity")
	}

	if p.Status == models.PaymentStatusCompleted && models.KnownSubscription(member.SubscriptionType) {
		if _, err := s.members.ResetSessions(ctx, member.ID); err != nil {
			s.logger.Error().Err(err).Str("member_id", member.ID).Msg("reset sessions after payment")
		}
	}
}

func (s *PaymentService) nextInvoice(ctx context.Context) (string, error) {
	s.invoiceMu.Lock()
	defer s.invoiceMu.Unlock()

	var n int
	if _, err := repository.GetJSON(ctx, s.settings, invoiceCounterKey, &n); err != nil {
		return "", fmt.Errorf("read invoice counter: %w", err)
	}
	n++
	if err := repository.SetJSON(ctx, s.settings, invoiceCounterKey, n); err != nil {
		return "", fmt.Errorf("write invoice counter: %w", err)
	}
	return fmt.Sprintf("INV-%04d", n), nil
}

// UpdatePayment replaces a stored payment, keeping its date and invoice when
// the update leaves them empty.
func (s *PaymentService) UpdatePayment(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	if payment == nil || payment.ID == "" {
		return nil, validationError("payment id is required")
	}
	p := *payment
	if err := validatePayment(&p); err != nil {
		return nil, err
	}
	defer s.locks.lock(p.ID)()

	existing, err := s.GetPayment(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if p.Date.IsZero() {
		p.Date = existing.Date
	}
	if p.InvoiceNumber == "" {
		p.InvoiceNumber = existing.InvoiceNumber
	}
	if p.Status == "" {
		p.Status = models.PaymentStatusCompleted
	}
	if err := repository.SetJSON(ctx, s.payments, p.ID, &p); err != nil {
		return nil, fmt.Errorf("save payment: %w", err)
	}
	return &p, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	var p models.Payment
	ok, err := repository.GetJSON(ctx, s.payments, id, &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", id, ErrNotFound)
	}
	return &p, nil
}

// ListPayments returns every payment, newest first.
func (s *PaymentService) ListPayments(ctx context.Context) ([]*models.Payment, error) {
	payments, err := repository.ListJSON[models.Payment](ctx, s.payments, func(key string, err error) {
		s.logger.Warn().Err(err).Str("key", key).Msg("skipping undecodable payment")
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(payments, func(i, j int) bool {
		return payments[i].Date.After(payments[j].Date)
	})
	return payments, nil
}

func (s *PaymentService) PaymentsByMember(ctx context.Context, memberID string) ([]*models.Payment, error) {
	return s.filter(ctx, func(p *models.Payment) bool { return p.MemberID == memberID })
}

func (s *PaymentService) PendingPayments(ctx context.Context) ([]*models.Payment, error) {
	return s.filter(ctx, func(p *models.Payment) bool { return p.Status == models.PaymentStatusPending })
}

func (s *PaymentService) filter(ctx context.Context, keep func(*models.Payment) bool) ([]*models.Payment, error) {
	payments, err := s.ListPayments(ctx)
	if err != nil {
		return nil, err
	}
	var out []*models.Payment
	for _, p := range payments {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *PaymentService) DeletePayment(ctx context.Context, id string) error {
	defer s.locks.lock(id)()

	if _, err := s.GetPayment(ctx, id); err != nil {
		return err
	}
	return s.payments.Remove(ctx, id)
}

// AddSessionPayment charges a walk-in for a single session and checks them in.
// The walk-in gets a synthetic member id that is returned with the payment.
func (s *PaymentService) AddSessionPayment(ctx context.Context, memberName, memberPhone string) (*models.Payment, string, error) {
	memberName = strings.TrimSpace(memberName)
	if memberName == "" {
		return nil, "", validationError("member name is required")
	}

	memberID := "session_" + newID()
	price := s.CalculateSubscriptionPrice(ctx, models.SubscriptionSingleSession)

	notes := "single session - " + memberName
	if memberPhone != "" {
		notes += " (" + memberPhone + ")"
	}

	payment, err := s.AddPayment(ctx, &models.Payment{
		MemberID:         memberID,
		Amount:           price,
		Date:             s.now(),
		SubscriptionType: models.SubscriptionSingleSession,
		PaymentMethod:    models.PaymentMethodCash,
		Notes:            notes,
		Status:           models.PaymentStatusCompleted,
	})
	if err != nil && !errors.Is(err, ErrDeferred) {
		return nil, "", err
	}

	if s.members != nil {
		now := s.now()
		for _, a := range []models.Activity{
			{ActivityType: models.ActivityPayment, Details: fmt.Sprintf("single session paid %.2f", price)},
			{ActivityType: models.ActivityCheckIn, Details: "single session check-in"},
		} {
			a.MemberID = memberID
			a.MemberName = memberName
			a.Timestamp = now
			if aerr := s.members.AddActivity(ctx, &a); aerr != nil {
				s.logger.Error().Err(aerr).Str("member_id", memberID).Msg("record session activity")
			}
		}
	}
	return payment, memberID, err
}

// CalculateSubscriptionPrice looks the type up in the current price list.
func (s *PaymentService) CalculateSubscriptionPrice(ctx context.Context, subscriptionType string) float64 {
	return s.Pricing(ctx).PriceFor(subscriptionType)
}

// Pricing returns the saved price list, or the configured one when none
// was saved.
func (s *PaymentService) Pricing(ctx context.Context) models.PricingSettings {
	var p models.PricingSettings
	ok, err := repository.GetJSON(ctx, s.settings, pricingKey, &p)
	if err != nil {
		s.logger.Error().Err(err).Msg("load pricing settings")
	}
	if err != nil || !ok {
		return s.defaults
	}
	return p.WithDefaults()
}

func (s *PaymentService) SavePricing(ctx context.Context, pricing models.PricingSettings) error {
	if pricing.SingleSession < 0 || pricing.Sessions13 < 0 || pricing.Sessions15 < 0 || pricing.Sessions30 < 0 {
		return validationError("prices must not be negative")
	}
	return repository.SetJSON(ctx, s.settings, pricingKey, pricing.WithDefaults())
}

// Statistics aggregates revenue relative to now.
func (s *PaymentService) Statistics(ctx context.Context, now time.Time) (*models.PaymentStatistics, error) {
	payments, err := s.ListPayments(ctx)
	if err != nil {
		return nil, err
	}

	weekAgo := now.AddDate(0, 0, -7)
	monthAgo := now.AddDate(0, -1, 0)
	stats := &models.PaymentStatistics{
		PaymentCount:              len(payments),
		SubscriptionTypeBreakdown: make(map[string]int),
		RecentPayments:            []models.Payment{},
	}

	for _, p := range payments {
		stats.TotalRevenue += p.Amount
		if !p.Date.IsZero() {
			if sameDay(now, p.Date) {
				stats.TodayRevenue += p.Amount
			}
			if !p.Date.Before(weekAgo) {
				stats.WeekRevenue += p.Amount
			}
			if !p.Date.Before(monthAgo) {
				stats.MonthRevenue += p.Amount
			}
			if len(stats.RecentPayments) < models.RecentPaymentsLimit {
				stats.RecentPayments = append(stats.RecentPayments, *p)
			}
		}

		subscription := p.SubscriptionType
		if subscription == "" {
			subscription = models.SubscriptionUnspecified
		}
		stats.SubscriptionTypeBreakdown[subscription]++
	}
	if len(payments) > 0 {
		stats.AveragePayment = stats.TotalRevenue / float64(len(payments))
	}
	return stats, nil
}

// NoteAttendance stamps the member's latest payment with a check-in date.
// Members without payments are left alone.
func (s *PaymentService) NoteAttendance(ctx context.Context, memberID string, at time.Time) error {
	payments, err := s.PaymentsByMember(ctx, memberID)
	if err != nil {
		return err
	}
	if len(payments) == 0 {
		return nil
	}

	defer s.locks.lock(payments[0].ID)()

	latest, err := s.GetPayment(ctx, payments[0].ID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	latest.LastAttendanceDate = &at
	note := "attended " + at.Format("2006-01-02")
	if latest.Notes != "" {
		latest.Notes += " | " + note
	} else {
		latest.Notes = note
	}
	return repository.SetJSON(ctx, s.payments, latest.ID, latest)
}

// AttendanceHandler adapts NoteAttendance to attendance_marked events.
func (s *PaymentService) AttendanceHandler(ctx context.Context) events.EventHandler {
	return func(e *events.Event) error {
		var payload events.MemberEventPayload
		if err := e.Decode(&payload); err != nil {
			return fmt.Errorf("decode attendance event: %w", err)
		}
		return s.NoteAttendance(ctx, payload.MemberID, payload.At)
	}
}
