package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gymtrack/internal/config"
	"gymtrack/internal/connectivity"
	"gymtrack/internal/events"
	"gymtrack/internal/export"
	"gymtrack/internal/models"
	"gymtrack/internal/queue"
	"gymtrack/internal/repository"
	"gymtrack/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	ts      *httptest.Server
	monitor *connectivity.Monitor
	queue   *queue.Queue
	stores  *repository.MemoryStores
}

func newTestEnv(t *testing.T, ready func(context.Context) error) *testEnv {
	t.Helper()
	stores := repository.NewMemoryStores()
	bus := events.NewEventBus()
	monitor := connectivity.New(config.ConnectivityConfig{StartOnline: true}, nil)
	t.Cleanup(monitor.Close)

	members := service.NewMemberService(stores, monitor, bus, nil)
	payments := service.NewPaymentService(stores, members, models.PricingSettings{}, monitor, bus, nil)
	q := queue.New(stores.Namespace(models.NamespaceOfflineQueue), service.NewReplayer(members, payments), queue.Config{}, nil)
	require.NoError(t, q.Load(context.Background()))
	t.Cleanup(q.Close)
	members.SetDeferrer(q)
	payments.SetDeferrer(q)

	srv := NewHTTPServer(config.APIConfig{Enabled: true}, Deps{
		Queue:        q,
		Connectivity: monitor,
		Members:      members,
		Payments:     payments,
		Exporter:     export.NewExporter(stores, payments, t.TempDir(), nil),
		Ready:        ready,
	}, nil)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, monitor: monitor, queue: q, stores: stores}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, map[string]json.RawMessage) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]json.RawMessage{}
	if strings.Contains(resp.Header.Get("Content-Type"), "json") && len(bytes.TrimSpace(data)) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

func decodeField[T any](t *testing.T, body map[string]json.RawMessage, key string) T {
	t.Helper()
	var v T
	raw, ok := body[key]
	require.True(t, ok, "missing %q", key)
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	status, body := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", decodeField[string](t, body, "status"))
	assert.True(t, decodeField[bool](t, body, "online"))

	down := newTestEnv(t, func(context.Context) error { return errors.New("disk gone") })
	status, body = down.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "degraded", decodeField[string](t, body, "status"))
}

func TestMembersCRUD(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := env.do(t, http.MethodPost, "/api/v1/members", map[string]any{
		"name": "Ali", "phone": "0550", "subscription_type": models.Subscription13Sessions,
	})
	require.Equal(t, http.StatusCreated, status)
	m := decodeField[models.Member](t, body, "member")
	require.NotEmpty(t, m.ID)

	status, body = env.do(t, http.MethodGet, "/api/v1/members/"+m.ID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Ali", decodeField[models.Member](t, body, "member").Name)

	status, body = env.do(t, http.MethodGet, "/api/v1/members?q=055", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decodeField[[]models.Member](t, body, "members"), 1)

	status, body = env.do(t, http.MethodPost, "/api/v1/members/"+m.ID+"/attendance", nil)
	require.Equal(t, http.StatusOK, status)
	after := decodeField[models.Member](t, body, "member")
	require.NotNil(t, after.SessionsRemaining)
	assert.Equal(t, 12, *after.SessionsRemaining)

	status, body = env.do(t, http.MethodGet, "/api/v1/attendance/today", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, decodeField[int](t, body, "count"))

	status, body = env.do(t, http.MethodGet, "/api/v1/activities?limit=1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decodeField[[]models.Activity](t, body, "activities"), 1)

	status, _ = env.do(t, http.MethodGet, "/api/v1/activities?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodDelete, "/api/v1/members/"+m.ID, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = env.do(t, http.MethodGet, "/api/v1/members/"+m.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestMembers_Errors(t *testing.T) {
	env := newTestEnv(t, nil)

	status, _ := env.do(t, http.MethodPost, "/api/v1/members", map[string]any{"name": " "})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodPost, "/api/v1/members", map[string]any{"unknown_field": 1})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodPost, "/api/v1/members", map[string]any{"id": "dup", "name": "A"})
	require.Equal(t, http.StatusCreated, status)
	status, _ = env.do(t, http.MethodPost, "/api/v1/members", map[string]any{"id": "dup", "name": "B"})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = env.do(t, http.MethodPost, "/api/v1/members", map[string]any{
		"id": "zero", "name": "C", "subscription_type": models.Subscription13Sessions, "sessions_remaining": 0,
	})
	require.Equal(t, http.StatusCreated, status)
	status, _ = env.do(t, http.MethodPost, "/api/v1/members/zero/attendance", nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestOfflineMutationsAreDeferred(t *testing.T) {
	env := newTestEnv(t, nil)

	status, _ := env.do(t, http.MethodPost, "/api/v1/connectivity", map[string]bool{"online": false})
	require.Equal(t, http.StatusOK, status)

	status, body := env.do(t, http.MethodPost, "/api/v1/members", map[string]any{"name": "Sara"})
	require.Equal(t, http.StatusAccepted, status)
	assert.True(t, decodeField[bool](t, body, "deferred"))
	m := decodeField[models.Member](t, body, "member")

	status, body = env.do(t, http.MethodGet, "/api/v1/queue", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, decodeField[int](t, body, "count"))

	status, _ = env.do(t, http.MethodGet, "/api/v1/members/"+m.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)

	env.monitor.SetOnline(true)
	status, body = env.do(t, http.MethodPost, "/api/v1/queue/replay", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, decodeField[queue.ReplayResult](t, body, "result").Applied)
	assert.Equal(t, 0, decodeField[int](t, body, "remaining"))

	status, _ = env.do(t, http.MethodGet, "/api/v1/members/"+m.ID, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestQueueAdmin(t *testing.T) {
	env := newTestEnv(t, nil)
	env.monitor.SetOnline(false)

	status, _ := env.do(t, http.MethodPost, "/api/v1/payments", map[string]any{"member_id": "m-1", "amount": 100})
	require.Equal(t, http.StatusAccepted, status)

	status, body := env.do(t, http.MethodGet, "/api/v1/connectivity", nil)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, decodeField[bool](t, body, "online"))

	status, _ = env.do(t, http.MethodPost, "/api/v1/connectivity", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = env.do(t, http.MethodGet, "/api/v1/queue/dead-letter", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, decodeField[[]queue.QueuedAction](t, body, "actions"))

	status, body = env.do(t, http.MethodPost, "/api/v1/queue/dead-letter/requeue", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, decodeField[int](t, body, "requeued"))

	status, _ = env.do(t, http.MethodDelete, "/api/v1/queue", nil)
	require.Equal(t, http.StatusNoContent, status)
	assert.Equal(t, 0, env.queue.Status().Count)
}

func TestPayments(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := env.do(t, http.MethodPost, "/api/v1/payments", map[string]any{
		"member_id": "m-1", "amount": 1500, "subscription_type": models.Subscription13Sessions,
	})
	require.Equal(t, http.StatusCreated, status)
	p := decodeField[models.Payment](t, body, "payment")
	assert.Equal(t, "INV-0001", p.InvoiceNumber)

	status, _ = env.do(t, http.MethodPost, "/api/v1/payments", map[string]any{
		"member_id": "m-2", "amount": 50, "status": models.PaymentStatusPending,
	})
	require.Equal(t, http.StatusCreated, status)

	status, body = env.do(t, http.MethodGet, "/api/v1/payments?member_id=m-1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decodeField[[]models.Payment](t, body, "payments"), 1)

	status, body = env.do(t, http.MethodGet, "/api/v1/payments?status=pending", nil)
	require.Equal(t, http.StatusOK, status)
	pending := decodeField[[]models.Payment](t, body, "payments")
	require.Len(t, pending, 1)
	assert.Equal(t, "m-2", pending[0].MemberID)

	status, body = env.do(t, http.MethodPost, "/api/v1/payments/session", map[string]string{"name": "Walk-in"})
	require.Equal(t, http.StatusCreated, status)
	assert.Contains(t, decodeField[string](t, body, "member_id"), "session_")

	status, body = env.do(t, http.MethodGet, "/api/v1/payments", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decodeField[[]models.Payment](t, body, "payments"), 3)

	status, _ = env.do(t, http.MethodDelete, "/api/v1/payments/"+p.ID, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = env.do(t, http.MethodGet, "/api/v1/payments/"+p.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestPricingAndStats(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := env.do(t, http.MethodGet, "/api/v1/pricing", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.DefaultPricing.SingleSession, decodeField[float64](t, body, "single_session"))

	status, _ = env.do(t, http.MethodPut, "/api/v1/pricing", map[string]float64{"single_session": -1})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = env.do(t, http.MethodPut, "/api/v1/pricing", map[string]float64{"single_session": 300})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 300.0, decodeField[float64](t, body, "single_session"))

	status, _ = env.do(t, http.MethodPost, "/api/v1/payments/session", map[string]string{"name": "Walk-in"})
	require.Equal(t, http.StatusCreated, status)

	status, body = env.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, status)
	stats := decodeField[models.PaymentStatistics](t, body, "payments")
	assert.Equal(t, 300.0, stats.TotalRevenue)
	assert.Equal(t, 1, stats.PaymentCount)
}

func TestExportImport(t *testing.T) {
	src := newTestEnv(t, nil)
	status, _ := src.do(t, http.MethodPost, "/api/v1/members", map[string]any{"id": "m-1", "name": "Ali"})
	require.Equal(t, http.StatusCreated, status)

	resp, err := http.Get(src.ts.URL + "/api/v1/export")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "gymtrack_backup_")
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	dst := newTestEnv(t, nil)
	importResp, err := http.Post(dst.ts.URL+"/api/v1/import", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer importResp.Body.Close()
	require.Equal(t, http.StatusOK, importResp.StatusCode)

	status, _ = dst.do(t, http.MethodGet, "/api/v1/members/m-1", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = dst.do(t, http.MethodPost, "/api/v1/import", map[string]int{"version": export.BundleVersion + 1})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := dst.do(t, http.MethodPost, "/api/v1/export/report", nil)
	require.Equal(t, http.StatusCreated, status)
	assert.NotEmpty(t, decodeField[string](t, body, "path"))
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, nil)
	status, _ := env.do(t, http.MethodGet, "/api/v1/nothing", nil)
	assert.Equal(t, http.StatusNotFound, status)
}
