package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gymtrack/internal/domain"
	"gymtrack/internal/queue"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrAlreadyExists       = errors.New("already exists")
	ErrNoSessionsRemaining = errors.New("no sessions remaining")

	// ErrDeferred means the mutation was queued for replay because the
	// device is offline. The returned record is what will be applied.
	ErrDeferred = errors.New("deferred until connectivity returns")
)

// Deferrer accepts mutations attempted while offline.
type Deferrer interface {
	Enqueue(ctx context.Context, action queue.Action) string
}

// offlineRouter decides between applying a mutation now and deferring it.
type offlineRouter struct {
	reach    domain.Reachability
	deferrer Deferrer
	events   domain.EventPublisher
	logger   *zerolog.Logger
	now      func() time.Time
}

func newRouter(reach domain.Reachability, events domain.EventPublisher, logger *zerolog.Logger) offlineRouter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return offlineRouter{reach: reach, events: events, logger: logger, now: time.Now}
}

// SetDeferrer wires the offline queue. Without one every mutation is applied
// immediately.
func (r *offlineRouter) SetDeferrer(d Deferrer) {
	r.deferrer = d
}

func (r *offlineRouter) offline() bool {
	return r.deferrer != nil && r.reach != nil && !r.reach.IsOnline()
}

func (r *offlineRouter) deferAction(ctx context.Context, action queue.Action) error {
	id := r.deferrer.Enqueue(ctx, action)
	if id == "" {
		return fmt.Errorf("queue %s: offline queue unavailable", action.Type())
	}
	return ErrDeferred
}

func (r *offlineRouter) publish(eventType string, payload interface{}) {
	if r.events == nil {
		return
	}
	if err := r.events.PublishJSON(eventType, payload); err != nil {
		r.logger.Error().Err(err).Str("event_type", eventType).Msg("publish event error")
	}
}

// keyedMutex serializes read-modify-write cycles per record ID. The zero
// value is ready to use; entries are dropped once no caller holds them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func newID() string {
	return uuid.NewString()
}

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func sameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
