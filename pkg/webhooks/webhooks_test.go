package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/observability"
)

type received struct {
	header http.Header
	body   []byte
}

// receiver answers with statuses in order, repeating the last one.
func receiver(t *testing.T, statuses ...int) (*httptest.Server, chan received) {
	t.Helper()
	got := make(chan received, 16)
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{header: r.Header.Clone(), body: body}
		n := int(atomic.AddInt32(&calls, 1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		w.WriteHeader(statuses[n])
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func newTestManager(t *testing.T, opts Options) (*Manager, *SQLStore, *observability.Metrics) {
	t.Helper()
	store := newTestStore(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	if opts.Retry.InitialDelay == 0 {
		opts.Retry = RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	}
	m := NewManager(context.Background(), store, opts, metrics)
	t.Cleanup(func() { m.Shutdown(5 * time.Second) })
	return m, store, metrics
}

func register(t *testing.T, m *Manager, url string, events ...models.EventType) *models.Webhook {
	t.Helper()
	hook := &models.Webhook{URL: url, Events: events, CreatedBy: 1}
	require.NoError(t, m.Register(context.Background(), hook))
	return hook
}

func waitDeliveries(t *testing.T, s Store, hookID int64, n int) []*models.WebhookDelivery {
	t.Helper()
	var deliveries []*models.WebhookDelivery
	require.Eventually(t, func() bool {
		var err error
		deliveries, _, err = s.ListDeliveries(context.Background(), hookID, models.NewPageRequest(1, 50))
		return err == nil && len(deliveries) >= n
	}, 5*time.Second, 10*time.Millisecond)
	return deliveries
}

func TestManager_RegisterValidation(t *testing.T) {
	m, _, _ := newTestManager(t, Options{})
	ctx := context.Background()

	tests := []struct {
		name string
		hook *models.Webhook
	}{
		{"relative url", &models.Webhook{URL: "/hook", Events: []models.EventType{models.EventImportFailed}}},
		{"ftp url", &models.Webhook{URL: "ftp://example.com", Events: []models.EventType{models.EventImportFailed}}},
		{"no events", &models.Webhook{URL: "https://example.com"}},
		{"unknown event", &models.Webhook{URL: "https://example.com", Events: []models.EventType{"module.created"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Register(ctx, tt.hook)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.NotValid))
		})
	}

	hook := register(t, m, "https://example.com/hook", models.EventImportFailed)
	assert.True(t, hook.Active)
	assert.Len(t, hook.Secret, 64)
}

func TestManager_DispatchSignsPayload(t *testing.T) {
	srv, got := receiver(t, http.StatusOK)
	m, store, metrics := newTestManager(t, Options{})
	hook := register(t, m, srv.URL, models.EventImportSucceeded)
	register(t, m, srv.URL, models.EventCollectionPublished)

	err := m.Dispatch(context.Background(), models.EventImportSucceeded, map[string]interface{}{
		"namespace": "acme", "name": "nginx", "task_id": 7,
	})
	require.NoError(t, err)

	var r received
	select {
	case r = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("no delivery")
	}

	assert.Equal(t, "import.succeeded", r.header.Get(HeaderEvent))
	assert.True(t, VerifySignature(r.body, r.header.Get(HeaderSignature), hook.Secret))
	assert.False(t, VerifySignature(r.body, r.header.Get(HeaderSignature), "other"))

	var event Event
	require.NoError(t, json.Unmarshal(r.body, &event))
	assert.Equal(t, r.header.Get(HeaderEventID), event.ID)
	assert.Equal(t, "acme", event.Data["namespace"])

	deliveries := waitDeliveries(t, store, hook.ID, 1)
	assert.True(t, deliveries[0].Success)
	assert.Equal(t, 1, deliveries[0].Attempt)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WebhookDeliveriesTotal.WithLabelValues("import.succeeded", "success")))

	select {
	case <-got:
		t.Fatal("the collection subscriber must not receive import events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_RetriesServerErrors(t *testing.T) {
	srv, _ := receiver(t, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusOK)
	m, store, _ := newTestManager(t, Options{})
	hook := register(t, m, srv.URL, models.EventImportFailed)

	require.NoError(t, m.Dispatch(context.Background(), models.EventImportFailed, nil))

	deliveries := waitDeliveries(t, store, hook.ID, 3)
	attempts := map[int]bool{}
	for _, d := range deliveries {
		attempts[d.Attempt] = d.Success
	}
	assert.Equal(t, map[int]bool{1: false, 2: false, 3: true}, attempts)
}

func TestManager_ClientErrorsAreFinal(t *testing.T) {
	srv, _ := receiver(t, http.StatusGone)
	m, store, _ := newTestManager(t, Options{})
	hook := register(t, m, srv.URL, models.EventImportFailed)

	require.NoError(t, m.Dispatch(context.Background(), models.EventImportFailed, nil))
	waitDeliveries(t, store, hook.ID, 1)

	time.Sleep(50 * time.Millisecond)
	deliveries, total, err := store.ListDeliveries(context.Background(), hook.ID, models.NewPageRequest(1, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, http.StatusGone, deliveries[0].StatusCode)
	assert.Contains(t, deliveries[0].Error, "410")
}

func TestManager_PerEndpointRateLimit(t *testing.T) {
	srv, _ := receiver(t, http.StatusOK)
	m, store, _ := newTestManager(t, Options{
		Workers:           1,
		PerEndpointPerMin: 1,
		Retry:             RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond},
	})
	hook := register(t, m, srv.URL, models.EventImportFailed)

	require.NoError(t, m.Dispatch(context.Background(), models.EventImportFailed, nil))
	require.NoError(t, m.Dispatch(context.Background(), models.EventImportFailed, nil))

	deliveries := waitDeliveries(t, store, hook.ID, 2)
	var limited int
	for _, d := range deliveries {
		if d.Error == errRateLimited.Error() {
			limited++
			assert.Zero(t, d.StatusCode)
		}
	}
	assert.Equal(t, 1, limited)
}

func TestManager_Unregister(t *testing.T) {
	m, store, _ := newTestManager(t, Options{})
	hook := register(t, m, "https://example.com", models.EventImportFailed)

	require.NoError(t, m.Unregister(context.Background(), hook.ID))
	_, err := store.GetWebhook(context.Background(), hook.ID)
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestSign(t *testing.T) {
	assert.True(t, strings.HasPrefix(Sign([]byte("{}"), "secret"), "sha256="))
	assert.Len(t, Sign([]byte("{}"), "secret"), len("sha256=")+64)
	sig := Sign([]byte(`{"a":1}`), "secret")
	assert.True(t, VerifySignature([]byte(`{"a":1}`), sig, "secret"))
	assert.False(t, VerifySignature([]byte(`{"a":2}`), sig, "secret"))
}
