package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gymtrack/internal/domain"
	"gymtrack/internal/events"
	"gymtrack/internal/models"
	"gymtrack/internal/queue"
	"gymtrack/internal/repository"

	"github.com/rs/zerolog"
)

type MemberService struct {
	offlineRouter
	members    domain.Store
	activities domain.Store

	// locks serializes writes per member ID.
	locks keyedMutex
}

var _ domain.MemberService = (*MemberService)(nil)

func NewMemberService(stores domain.StoreFactory, reach domain.Reachability, eventBus domain.EventPublisher, logger *zerolog.Logger) *MemberService {
	return &MemberService{
		offlineRouter: newRouter(reach, eventBus, logger),
		members:       stores.Namespace(models.NamespaceMembers),
		activities:    stores.Namespace(models.NamespaceActivities),
	}
}

func validateMember(m *models.Member) error {
	if strings.TrimSpace(m.Name) == "" {
		return validationError("member name is required")
	}
	if m.SubscriptionType != "" && !models.KnownSubscription(m.SubscriptionType) {
		return validationError("unknown subscription type %q", m.SubscriptionType)
	}
	if m.SessionsRemaining != nil && *m.SessionsRemaining < 0 {
		return validationError("sessions remaining must not be negative")
	}
	return nil
}

// AddMember validates and stores a new member. Offline, the prepared member
// is queued and returned with ErrDeferred.
func (s *MemberService) AddMember(ctx context.Context, member *models.Member) (*models.Member, error) {
	if member == nil {
		return nil, validationError("member is required")
	}
	m := *member
	m.Name = strings.TrimSpace(m.Name)
	if err := validateMember(&m); err != nil {
		return nil, err
	}

	now := s.now()
	if m.ID == "" {
		m.ID = newID()
	}
	if m.MembershipStatus == "" {
		m.MembershipStatus = models.MembershipActive
	}
	if m.SessionsRemaining == nil {
		if n, ok := models.SessionsFor(m.SubscriptionType); ok {
			m.SessionsRemaining = &n
		}
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	if s.offline() {
		return &m, s.deferAction(ctx, queue.MemberAdd{Member: m})
	}
	if err := s.applyAddMember(ctx, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *MemberService) applyAddMember(ctx context.Context, m *models.Member) error {
	if err := validateMember(m); err != nil {
		return err
	}
	unlock := s.locks.lock(m.ID)
	_, exists, err := s.members.Get(ctx, m.ID)
	if err != nil {
		unlock()
		return fmt.Errorf("check member %s: %w", m.ID, err)
	}
	if exists {
		unlock()
		return fmt.Errorf("member %s: %w", m.ID, ErrAlreadyExists)
	}
	err = repository.SetJSON(ctx, s.members, m.ID, m)
	unlock()
	if err != nil {
		return fmt.Errorf("save member: %w", err)
	}

	s.logger.Info().Str("member_id", m.ID).Msg("member added")
	s.publishMember(events.EventMemberAdded, m)
	return nil
}

func (s *MemberService) UpdateMember(ctx context.Context, member *models.Member) (*models.Member, error) {
	if member == nil || member.ID == "" {
		return nil, validationError("member id is required")
	}
	m := *member
	m.Name = strings.TrimSpace(m.Name)
	if err := validateMember(&m); err != nil {
		return nil, err
	}
	m.UpdatedAt = s.now()

	if s.offline() {
		return &m, s.deferAction(ctx, queue.MemberUpdate{Member: m})
	}
	if err := s.applyUpdateMember(ctx, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *MemberService) applyUpdateMember(ctx context.Context, m *models.Member) error {
	if err := validateMember(m); err != nil {
		return err
	}
	if err := s.saveUpdate(ctx, m); err != nil {
		return err
	}
	s.publishMember(events.EventMemberUpdated, m)
	return nil
}

func (s *MemberService) saveUpdate(ctx context.Context, m *models.Member) error {
	defer s.locks.lock(m.ID)()

	existing, err := s.GetMember(ctx, m.ID)
	if err != nil {
		return err
	}
	m.CreatedAt = existing.CreatedAt
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = s.now()
	}
	if err := repository.SetJSON(ctx, s.members, m.ID, m); err != nil {
		return fmt.Errorf("save member: %w", err)
	}
	return nil
}

func (s *MemberService) GetMember(ctx context.Context, id string) (*models.Member, error) {
	var m models.Member
	ok, err := repository.GetJSON(ctx, s.members, id, &m)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("member %s: %w", id, ErrNotFound)
	}
	return &m, nil
}

// ListMembers returns every member sorted by name.
func (s *MemberService) ListMembers(ctx context.Context) ([]*models.Member, error) {
	members, err := repository.ListJSON[models.Member](ctx, s.members, func(key string, err error) {
		s.logger.Warn().Err(err).Str("key", key).Msg("skipping undecodable member")
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(members, func(i, j int) bool {
		return strings.ToLower(members[i].Name) < strings.ToLower(members[j].Name)
	})
	return members, nil
}

// SearchMembers matches name or phone, case-insensitively.
func (s *MemberService) SearchMembers(ctx context.Context, query string) ([]*models.Member, error) {
	members, err := s.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return members, nil
	}

	var out []*models.Member
	for _, m := range members {
		if strings.Contains(strings.ToLower(m.Name), q) || strings.Contains(m.Phone, q) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemberService) DeleteMember(ctx context.Context, id string) error {
	defer s.locks.lock(id)()

	if _, err := s.GetMember(ctx, id); err != nil {
		return err
	}
	return s.members.Remove(ctx, id)
}

// MarkAttendance checks a member in. Session-based members spend one session.
func (s *MemberService) MarkAttendance(ctx context.Context, memberID string) (*models.Member, error) {
	if memberID == "" {
		return nil, validationError("member id is required")
	}
	at := s.now()
	if s.offline() {
		return nil, s.deferAction(ctx, queue.AttendanceMark{MemberID: memberID, At: at})
	}
	return s.applyAttendance(ctx, memberID, at)
}

func (s *MemberService) applyAttendance(ctx context.Context, memberID string, at time.Time) (*models.Member, error) {
	if at.IsZero() {
		at = s.now()
	}
	m, err := s.spendSession(ctx, memberID, at)
	if err != nil {
		return nil, err
	}

	details := "attendance recorded"
	if m.SessionsRemaining != nil {
		details = fmt.Sprintf("attendance recorded, %d sessions left", *m.SessionsRemaining)
	}
	if err := s.AddActivity(ctx, &models.Activity{
		MemberID:     m.ID,
		MemberName:   m.Name,
		MemberImage:  m.ImageURL,
		ActivityType: models.ActivityCheckIn,
		Timestamp:    at,
		Details:      details,
	}); err != nil {
		s.logger.Error().Err(err).Str("member_id", m.ID).Msg("record check-in activity")
	}

	s.publish(events.EventAttendanceMarked, events.MemberEventPayload{
		MemberID:          m.ID,
		Name:              m.Name,
		SessionsRemaining: m.SessionsRemaining,
		At:                at,
	})
	return m, nil
}

// spendSession records the check-in and takes one session under the member lock.
func (s *MemberService) spendSession(ctx context.Context, memberID string, at time.Time) (*models.Member, error) {
	defer s.locks.lock(memberID)()

	m, err := s.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if m.SessionBased() {
		if *m.SessionsRemaining <= 0 {
			return nil, fmt.Errorf("member %s: %w", memberID, ErrNoSessionsRemaining)
		}
		left := *m.SessionsRemaining - 1
		m.SessionsRemaining = &left
	}
	m.LastAttendance = &at
	m.UpdatedAt = s.now()

	if err := repository.SetJSON(ctx, s.members, m.ID, m); err != nil {
		return nil, fmt.Errorf("save member: %w", err)
	}
	return m, nil
}

// ResetSessions refills the sessions granted by the member's subscription.
func (s *MemberService) ResetSessions(ctx context.Context, memberID string) (*models.Member, error) {
	defer s.locks.lock(memberID)()

	m, err := s.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	n, ok := models.SessionsFor(m.SubscriptionType)
	if !ok {
		return nil, validationError("member %s has no session subscription", memberID)
	}
	m.SessionsRemaining = &n
	m.UpdatedAt = s.now()
	if err := repository.SetJSON(ctx, s.members, m.ID, m); err != nil {
		return nil, fmt.Errorf("save member: %w", err)
	}
	return m, nil
}

// TodayAttendance lists members checked in on the calendar day of now.
func (s *MemberService) TodayAttendance(ctx context.Context, now time.Time) ([]*models.Member, error) {
	members, err := s.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	var out []*models.Member
	for _, m := range members {
		if m.LastAttendance != nil && sameDay(now, *m.LastAttendance) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemberService) AddActivity(ctx context.Context, activity *models.Activity) error {
	if activity == nil || activity.MemberID == "" {
		return validationError("activity member id is required")
	}
	if activity.ID == "" {
		activity.ID = newID()
	}
	if activity.Timestamp.IsZero() {
		activity.Timestamp = s.now()
	}
	if activity.ActivityType == "" {
		activity.ActivityType = models.ActivityOther
	}
	return repository.SetJSON(ctx, s.activities, activity.ID, activity)
}

// ListActivities returns the newest activities first.
func (s *MemberService) ListActivities(ctx context.Context, limit int) ([]*models.Activity, error) {
	if limit <= 0 {
		limit = models.DefaultActivitiesLimit
	}
	activities, err := repository.ListJSON[models.Activity](ctx, s.activities, nil)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(activities, func(i, j int) bool {
		return activities[i].Timestamp.After(activities[j].Timestamp)
	})
	if len(activities) > limit {
		activities = activities[:limit]
	}
	return activities, nil
}

func (s *MemberService) Statistics(ctx context.Context, now time.Time) (*models.MemberStatistics, error) {
	members, err := s.ListMembers(ctx)
	if err != nil {
		return nil, err
	}

	stats := &models.MemberStatistics{TotalMembers: len(members)}
	for _, m := range members {
		expired := m.MembershipStatus == models.MembershipExpired ||
			(m.MembershipEndDate != nil && m.MembershipEndDate.Before(now))
		switch {
		case expired:
			stats.ExpiredMembers++
		case m.MembershipStatus == models.MembershipActive:
			stats.ActiveMembers++
		}
		if m.PaymentStatus == models.PaymentStatusPending {
			stats.PendingPayments++
		}
		if m.LastAttendance != nil && sameDay(now, *m.LastAttendance) {
			stats.TodayAttendance++
		}
	}
	return stats, nil
}

func (s *MemberService) publishMember(eventType string, m *models.Member) {
	s.publish(eventType, events.MemberEventPayload{
		MemberID:          m.ID,
		Name:              m.Name,
		SessionsRemaining: m.SessionsRemaining,
		At:                m.UpdatedAt,
	})
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
