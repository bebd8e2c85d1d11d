package connectivity

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gymtrack/internal/config"
	"gymtrack/internal/domain"
	"gymtrack/internal/events"

	"github.com/rs/zerolog"
)

// Listener observes reachability transitions.
type Listener func(online bool)

// Monitor tracks whether the upstream is reachable and notifies listeners
// on every offline/online transition.
type Monitor struct {
	online atomic.Bool

	mu        sync.Mutex
	listeners map[uint64]Listener
	nextID    uint64
	closed    bool

	probeURL  string
	interval  time.Duration
	client    *http.Client
	publisher domain.EventPublisher
	logger    *zerolog.Logger
}

func New(cfg config.ConnectivityConfig, logger *zerolog.Logger) *Monitor {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	m := &Monitor{
		listeners: make(map[uint64]Listener),
		probeURL:  cfg.ProbeURL,
		interval:  cfg.ProbeInterval,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
	m.online.Store(cfg.StartOnline)
	return m
}

// SetPublisher announces transitions on the event bus.
func (m *Monitor) SetPublisher(p domain.EventPublisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publisher = p
}

func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// Subscribe registers fn and returns a func that removes it.
func (m *Monitor) Subscribe(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return func() {}
	}

	m.nextID++
	id := m.nextID
	m.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// SetOnline feeds a platform reachability signal. Repeated signals with the
// same state are ignored, so listeners run once per transition.
func (m *Monitor) SetOnline(online bool) {
	if m.online.Swap(online) == online {
		return
	}

	if online {
		m.logger.Info().Msg("connectivity restored")
	} else {
		m.logger.Warn().Msg("connectivity lost, mutations will be queued")
	}

	m.mu.Lock()
	ids := make([]uint64, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, m.listeners[id])
	}
	publisher := m.publisher
	m.mu.Unlock()

	if publisher != nil {
		err := publisher.PublishJSON(events.EventConnectivityChanged, events.ConnectivityEventPayload{
			Online: online,
			At:     time.Now(),
		})
		if err != nil {
			m.logger.Error().Err(err).Msg("publish connectivity_changed")
		}
	}

	for _, fn := range listeners {
		fn(online)
	}
}

// Probe checks the configured URL once. Any response below 500 counts as
// reachable.
func (m *Monitor) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, http.NoBody)
	if err != nil {
		m.logger.Error().Err(err).Str("url", m.probeURL).Msg("build probe request")
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug().Err(err).Msg("probe failed")
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Run probes the upstream until ctx is done. Without a probe URL it only
// waits, leaving state to SetOnline callers.
func (m *Monitor) Run(ctx context.Context) {
	if m.probeURL == "" || m.interval <= 0 {
		<-ctx.Done()
		return
	}

	m.logger.Info().Str("url", m.probeURL).Dur("interval", m.interval).Msg("connectivity probe started")
	defer m.logger.Info().Msg("connectivity probe stopped")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		online := m.Probe(ctx)
		if ctx.Err() != nil {
			return
		}
		m.SetOnline(online)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close drops every listener; later Subscribe calls are no-ops.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.listeners = make(map[uint64]Listener)
}
