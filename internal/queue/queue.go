package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gymtrack/internal/domain"
	"gymtrack/internal/events"
	"gymtrack/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	QueueKey      = "offline_actions_queue"
	DeadLetterKey = "offline_actions_dead_letter"

	snapshotVersion = 1
)

// ErrUnsupportedVersion is returned by Load when the persisted snapshot was
// written by a newer schema. The snapshot is left untouched.
var ErrUnsupportedVersion = errors.New("unsupported queue snapshot version")

// Config tunes replay behaviour.
type Config struct {
	Retry         RetryPolicy
	ReplayTimeout time.Duration
	// ReplayRPS throttles dispatches during a pass; 0 disables the throttle.
	ReplayRPS float64
}

// Option customizes a Queue.
type Option func(*Queue)

// WithPublisher announces successful replay passes on the event bus.
func WithPublisher(p domain.EventPublisher) Option {
	return func(q *Queue) { q.publisher = p }
}

// OnReplayed registers a hook run after a pass that applied at least one action.
func OnReplayed(fn func(applied int)) Option {
	return func(q *Queue) { q.onReplayed = fn }
}

// WithClock overrides time.Now, used by tests driving backoff.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// ActionSummary describes a pending action without its payload.
type ActionSummary struct {
	ID         string     `json:"id"`
	Type       ActionType `json:"type"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"last_error,omitempty"`
}

type Status struct {
	Count       int             `json:"count"`
	DeadLetters int             `json:"dead_letters"`
	Actions     []ActionSummary `json:"actions"`
}

type ReplayResult struct {
	Attempted    int `json:"attempted"`
	Applied      int `json:"applied"`
	Failed       int `json:"failed"`
	Deferred     int `json:"deferred"`
	DeadLettered int `json:"dead_lettered"`
}

type snapshot struct {
	Version int            `json:"version"`
	Actions []QueuedAction `json:"actions"`
}

// Queue buffers domain mutations attempted while offline and replays them
// in insertion order once connectivity returns.
type Queue struct {
	store      domain.Store
	dispatcher Dispatcher
	retry      RetryPolicy
	timeout    time.Duration
	limiter    *rate.Limiter
	publisher  domain.EventPublisher
	onReplayed func(applied int)
	now        func() time.Time
	logger     *zerolog.Logger

	// mu guards the lists and serializes snapshot writes so the persisted
	// mirror always reflects the latest in-memory state.
	mu      sync.Mutex
	actions []QueuedAction
	dead    []QueuedAction
	frozen  bool
	closed  bool

	replayMu sync.Mutex
}

// New builds a queue over store. Call Load before use to restore pending
// actions from a previous run.
func New(store domain.Store, dispatcher Dispatcher, cfg Config, logger *zerolog.Logger, opts ...Option) *Queue {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if cfg.ReplayTimeout <= 0 {
		cfg.ReplayTimeout = 30 * time.Second
	}

	q := &Queue{
		store:      store,
		dispatcher: dispatcher,
		retry:      cfg.Retry,
		timeout:    cfg.ReplayTimeout,
		now:        time.Now,
		logger:     logger,
	}
	if cfg.ReplayRPS > 0 {
		q.limiter = rate.NewLimiter(rate.Limit(cfg.ReplayRPS), 1)
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Load restores the pending and dead-letter lists. Actions enqueued before
// Load are kept after the restored ones.
func (q *Queue) Load(ctx context.Context) error {
	pending, err := q.read(ctx, QueueKey)
	if err != nil {
		if errors.Is(err, ErrUnsupportedVersion) {
			q.mu.Lock()
			q.frozen = true
			q.mu.Unlock()
		}
		return fmt.Errorf("load pending actions: %w", err)
	}
	dead, err := q.read(ctx, DeadLetterKey)
	if err != nil {
		return fmt.Errorf("load dead letters: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.actions = append(pending, q.actions...)
	q.dead = append(dead, q.dead...)
	metrics.SetQueuePending(len(q.actions))
	q.logger.Info().Int("pending", len(q.actions)).Int("dead_letters", len(q.dead)).Msg("offline queue loaded")
	return nil
}

func (q *Queue) read(ctx context.Context, key string) ([]QueuedAction, error) {
	raw, ok, err := q.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok || len(raw) == 0 {
		return nil, nil
	}

	// Unversioned snapshots are a bare list, possibly from the browser client.
	if raw[0] == '[' {
		actions, err := decodeBareList(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		return actions, nil
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if snap.Version > snapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, snap.Version)
	}
	return snap.Actions, nil
}

// Enqueue records action and persists the queue, returning its ID. Persistence
// errors are logged and the action stays in memory. An empty ID means the
// action was refused: the queue is closed or its snapshot is read-only.
// Returns the assigned action ID, or "" when the action was not queued.
func (q *Queue) Enqueue(ctx context.Context, action Action) string {
	if action == nil {
		q.logger.Error().Msg("enqueue: nil action")
		return ""
	}

	payload, err := json.Marshal(action)
	if err != nil {
		q.logger.Error().Err(err).Str("type", string(action.Type())).Msg("enqueue: encode payload")
		return ""
	}

	qa := QueuedAction{
		ID:         newActionID(),
		Type:       action.Type(),
		Payload:    payload,
		EnqueuedAt: q.now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn().Str("type", string(qa.Type)).Msg("enqueue on closed queue ignored")
		return ""
	}
	if q.frozen {
		q.logger.Error().Str("type", string(qa.Type)).Msg("enqueue rejected: snapshot is read-only")
		return ""
	}

	q.actions = append(q.actions, qa)
	metrics.IncQueueEnqueued(string(qa.Type))
	metrics.SetQueuePending(len(q.actions))
	q.logger.Info().Str("id", qa.ID).Str("type", string(qa.Type)).Msg("action queued for replay")

	q.persistLocked(ctx, QueueKey, q.actions)
	return qa.ID
}

func newActionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

type outcome struct {
	applied bool
	dead    bool
	err     error
	next    *time.Time
}

// ReplayAll makes one pass over the pending actions in insertion order.
// Per-action failures never stop the pass. Concurrent calls are serialized.
func (q *Queue) ReplayAll(ctx context.Context) ReplayResult {
	q.replayMu.Lock()
	defer q.replayMu.Unlock()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ReplayResult{}
	}
	pending := make([]QueuedAction, len(q.actions))
	for i := range q.actions {
		pending[i] = q.actions[i].clone()
	}
	q.mu.Unlock()

	var res ReplayResult
	if len(pending) == 0 {
		return res
	}

	q.logger.Info().Int("pending", len(pending)).Msg("replaying offline actions")
	results := make(map[string]outcome, len(pending))

	for i := range pending {
		qa := &pending[i]
		if ctx.Err() != nil {
			break
		}
		if !qa.due(q.now()) {
			res.Deferred++
			metrics.IncQueueReplayed(string(qa.Type), metrics.OutcomeDeferred)
			continue
		}
		if q.limiter != nil {
			if err := q.limiter.Wait(ctx); err != nil {
				break
			}
		}

		res.Attempted++
		err := q.apply(ctx, qa)
		if err == nil || errors.Is(err, ErrAlreadyApplied) {
			res.Applied++
			results[qa.ID] = outcome{applied: true}
			metrics.IncQueueReplayed(string(qa.Type), metrics.OutcomeApplied)
			continue
		}

		attempts := qa.Attempts + 1
		o := outcome{err: err}
		log := q.logger.Warn().Err(err).Str("id", qa.ID).Str("type", string(qa.Type)).Int("attempt", attempts)
		if q.retry.Exhausted(attempts) {
			o.dead = true
			res.DeadLettered++
			metrics.IncQueueReplayed(string(qa.Type), metrics.OutcomeDeadLettered)
			log.Msg("replay failed, moved to dead letter")
		} else {
			if d := q.retry.NextDelay(attempts); d > 0 {
				next := q.now().Add(d)
				o.next = &next
			}
			res.Failed++
			metrics.IncQueueReplayed(string(qa.Type), metrics.OutcomeFailed)
			log.Msg("replay failed, action kept")
		}
		results[qa.ID] = o
	}

	remaining := q.commit(context.WithoutCancel(ctx), results)

	q.logger.Info().
		Int("applied", res.Applied).
		Int("failed", res.Failed).
		Int("deferred", res.Deferred).
		Int("dead_lettered", res.DeadLettered).
		Int("remaining", remaining).
		Msg("replay pass finished")

	if res.Applied > 0 {
		q.announce(res.Applied, remaining)
	}
	return res
}

func (q *Queue) announce(applied, remaining int) {
	if q.publisher != nil {
		if err := q.publisher.PublishJSON(events.EventQueueReplayed, events.QueueReplayedPayload{
			Applied:   applied,
			Remaining: remaining,
			At:        q.now(),
		}); err != nil {
			q.logger.Error().Err(err).Msg("publish queue_replayed")
		}
	}
	if q.onReplayed != nil {
		q.onReplayed(applied)
	}
}

// apply dispatches one action bounded by the replay timeout. A dispatcher
// that ignores its context is abandoned when the timeout fires.
func (q *Queue) apply(ctx context.Context, qa *QueuedAction) error {
	action, err := qa.Action()
	if err != nil {
		return err
	}

	actx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("dispatcher panic: %v", r)
			}
		}()
		done <- action.apply(actx, q.dispatcher)
	}()

	select {
	case err := <-done:
		return err
	case <-actx.Done():
		select {
		case err := <-done:
			return err
		default:
		}
		return fmt.Errorf("replay %s: %w", qa.Type, actx.Err())
	}
}

// commit folds pass outcomes into the live list by ID, so actions enqueued
// or cleared during the pass are respected.
func (q *Queue) commit(ctx context.Context, results map[string]outcome) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.actions[:0:0]
	deadChanged := false
	for _, qa := range q.actions {
		o, ok := results[qa.ID]
		switch {
		case !ok:
			kept = append(kept, qa)
		case o.applied:
		default:
			qa.Attempts++
			qa.LastError = o.err.Error()
			qa.NextAttemptAt = o.next
			if o.dead {
				q.dead = append(q.dead, qa)
				deadChanged = true
				continue
			}
			kept = append(kept, qa)
		}
	}
	q.actions = kept
	metrics.SetQueuePending(len(q.actions))

	if deadChanged {
		q.persistLocked(ctx, DeadLetterKey, q.dead)
	}
	q.persistLocked(ctx, QueueKey, q.actions)
	return len(q.actions)
}

// Status reports the pending actions without mutating the queue.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := Status{
		Count:       len(q.actions),
		DeadLetters: len(q.dead),
		Actions:     make([]ActionSummary, 0, len(q.actions)),
	}
	for _, qa := range q.actions {
		st.Actions = append(st.Actions, ActionSummary{
			ID:         qa.ID,
			Type:       qa.Type,
			EnqueuedAt: qa.EnqueuedAt,
			Attempts:   qa.Attempts,
			LastError:  qa.LastError,
		})
	}
	return st
}

// Pending returns a copy of the pending actions, payloads included.
func (q *Queue) Pending() []QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	return cloneAll(q.actions)
}

func (q *Queue) DeadLetters() []QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	return cloneAll(q.dead)
}

// RequeueDeadLetters moves dead letters back to the end of the pending list
// with their attempt counters reset. Returns how many were moved.
func (q *Queue) RequeueDeadLetters(ctx context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.dead)
	if n == 0 {
		return 0
	}
	for _, qa := range q.dead {
		qa.Attempts = 0
		qa.NextAttemptAt = nil
		q.actions = append(q.actions, qa)
	}
	q.dead = nil
	metrics.SetQueuePending(len(q.actions))

	q.persistLocked(ctx, QueueKey, q.actions)
	q.persistLocked(ctx, DeadLetterKey, q.dead)
	q.logger.Info().Int("count", n).Msg("dead letters requeued")
	return n
}

// Clear drops every pending action and persists the empty queue.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.actions = nil
	metrics.SetQueuePending(0)
	q.logger.Warn().Msg("offline queue cleared")
	return q.writeLocked(ctx, QueueKey, q.actions)
}

// Close stops accepting actions. Pending actions stay persisted for the next run.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

func (q *Queue) persistLocked(ctx context.Context, key string, actions []QueuedAction) {
	if err := q.writeLocked(ctx, key, actions); err != nil {
		metrics.IncQueuePersistError()
		q.logger.Error().Err(err).Str("key", key).Msg("persist offline queue")
	}
}

func (q *Queue) writeLocked(ctx context.Context, key string, actions []QueuedAction) error {
	if q.frozen {
		return fmt.Errorf("%w: snapshot is read-only", ErrUnsupportedVersion)
	}
	if actions == nil {
		actions = []QueuedAction{}
	}
	raw, err := json.Marshal(snapshot{Version: snapshotVersion, Actions: actions})
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := q.store.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func cloneAll(in []QueuedAction) []QueuedAction {
	out := make([]QueuedAction, len(in))
	for i := range in {
		out[i] = in[i].clone()
	}
	return out
}
