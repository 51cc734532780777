package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/async"
	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/observability"
)

// Headers set on every outbound delivery.
const (
	HeaderEvent     = "X-Galaxy-Event"
	HeaderEventID   = "X-Galaxy-Event-ID"
	HeaderSignature = "X-Galaxy-Signature-256"
)

// KnownEvents lists the events a webhook may subscribe to.
var KnownEvents = []models.EventType{
	models.EventImportSucceeded,
	models.EventImportFailed,
	models.EventCollectionPublished,
	models.EventRepositoryDeleted,
	models.EventNamespaceCreated,
}

// Event is the JSON body of a delivery.
type Event struct {
	ID        string                 `json:"id"`
	Type      models.EventType       `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Dispatcher is the part of Manager that producers depend on.
type Dispatcher interface {
	Dispatch(ctx context.Context, event models.EventType, data map[string]interface{}) error
}

// Options tunes a Manager. Zero values take defaults.
type Options struct {
	Workers   int
	QueueSize int
	Retry     RetryConfig
	// PerEndpointPerMin caps attempts per webhook per minute; <= 0 is unlimited.
	PerEndpointPerMin int
	// AttemptTimeout bounds one HTTP request.
	AttemptTimeout time.Duration
	Client         *http.Client
}

// Manager registers webhooks and delivers events to them on a worker pool.
type Manager struct {
	store   Store
	client  *http.Client
	policy  *RetryPolicy
	limiter *RateLimiter
	pool    *async.WorkerPool
	timeout time.Duration
	metrics *observability.Metrics
}

// NewManager starts the delivery pool. It stops when ctx is cancelled or
// Shutdown is called. metrics may be nil.
func NewManager(ctx context.Context, store Store, opts Options, metrics *observability.Metrics) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 10 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.AttemptTimeout}
	}
	policy := NewRetryPolicy(opts.Retry)

	return &Manager{
		store:   store,
		client:  client,
		policy:  policy,
		limiter: NewRateLimiter(opts.PerEndpointPerMin, time.Minute),
		pool:    async.NewWorkerPool(ctx, opts.Workers, opts.QueueSize, "webhook delivery", policy.Budget(opts.AttemptTimeout)),
		timeout: opts.AttemptTimeout,
		metrics: metrics,
	}
}

// Store returns the subscription store.
func (m *Manager) Store() Store {
	return m.store
}

// Shutdown stops accepting events and waits for queued deliveries.
func (m *Manager) Shutdown(timeout time.Duration) error {
	return m.pool.Shutdown(timeout)
}

// Register validates hook, generates a secret when none was given and
// stores it active.
func (m *Manager) Register(ctx context.Context, hook *models.Webhook) error {
	if err := validateWebhook(hook); err != nil {
		return err
	}
	if hook.Secret == "" {
		secret, err := generateSecret()
		if err != nil {
			return err
		}
		hook.Secret = secret
	}
	hook.Active = true
	return m.store.CreateWebhook(ctx, hook)
}

// Unregister deletes a webhook and forgets its rate limit bucket.
func (m *Manager) Unregister(ctx context.Context, id int64) error {
	if err := m.store.DeleteWebhook(ctx, id); err != nil {
		return err
	}
	m.limiter.Reset(id)
	return nil
}

func validateWebhook(hook *models.Webhook) error {
	u, err := url.Parse(hook.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.WithType(fmt.Errorf("url must be an absolute http or https URL"), errors.NotValid)
	}
	if len(hook.Events) == 0 {
		return errors.WithType(fmt.Errorf("at least one event is required"), errors.NotValid)
	}
	for _, e := range hook.Events {
		if !knownEvent(e) {
			return errors.WithType(fmt.Errorf("unknown event %q", e), errors.NotValid)
		}
	}
	return nil
}

func knownEvent(e models.EventType) bool {
	for _, k := range KnownEvents {
		if k == e {
			return true
		}
	}
	return false
}

// Dispatch queues event for every active subscriber and returns without
// waiting for delivery. Failing to queue is logged as a failed delivery,
// never returned.
func (m *Manager) Dispatch(ctx context.Context, eventType models.EventType, data map[string]interface{}) error {
	hooks, err := m.store.ListSubscribers(ctx, eventType)
	if err != nil {
		return fmt.Errorf("failed to load subscribers: %w", err)
	}
	if len(hooks) == 0 {
		return nil
	}

	event := &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	for _, hook := range hooks {
		err := m.pool.TrySubmit(func(ctx context.Context) error {
			return m.deliver(ctx, hook, event)
		})
		if err != nil {
			m.record(ctx, &models.WebhookDelivery{
				ID:          uuid.NewString(),
				WebhookID:   hook.ID,
				Event:       eventType,
				Attempt:     1,
				Error:       err.Error(),
				DeliveredAt: time.Now().UTC(),
			}, "dropped")
		}
	}
	return nil
}

// deliver attempts one event until it succeeds, fails permanently or runs
// out of attempts.
func (m *Manager) deliver(ctx context.Context, hook *models.Webhook, event *Event) error {
	body, err := Payload(hook.URL, event)
	if err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		d, sendErr := m.attempt(ctx, hook, event, body, attempt)
		status := "success"
		if sendErr != nil {
			status = "failure"
		}
		m.record(ctx, d, status)

		if !m.policy.ShouldRetry(attempt, d.StatusCode, sendErr) {
			if sendErr != nil {
				return fmt.Errorf("webhook %d: %w", hook.ID, sendErr)
			}
			return nil
		}

		select {
		case <-time.After(m.policy.NextRetryDelay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manager) record(ctx context.Context, d *models.WebhookDelivery, status string) {
	if m.metrics != nil {
		m.metrics.WebhookDeliveriesTotal.WithLabelValues(string(d.Event), status).Inc()
	}
	if err := m.store.RecordDelivery(ctx, d); err != nil {
		observability.GetLogger(ctx).WithError(err).
			WithField("webhook_id", d.WebhookID).
			Warn("failed to record webhook delivery")
	}
}

// Sign returns the signature header value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by Sign in constant time.
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// EventTitle is a human readable headline for chat integrations.
func EventTitle(event *Event) string {
	subject, _ := dataString(event.Data, "fqn")
	if subject == "" {
		subject, _ = dataString(event.Data, "name")
	}
	title := getEventTitle(event.Type)
	if subject != "" {
		return title + ": " + subject
	}
	return title
}

func getEventTitle(eventType models.EventType) string {
	switch eventType {
	case models.EventImportSucceeded:
		return "Import Succeeded"
	case models.EventImportFailed:
		return "Import Failed"
	case models.EventCollectionPublished:
		return "Collection Published"
	case models.EventRepositoryDeleted:
		return "Repository Deleted"
	case models.EventNamespaceCreated:
		return "Namespace Created"
	default:
		return string(eventType)
	}
}

// getEventColor returns the Slack color for an event type
func getEventColor(eventType models.EventType) string {
	switch eventType {
	case models.EventImportSucceeded, models.EventCollectionPublished:
		return "good"
	case models.EventImportFailed, models.EventRepositoryDeleted:
		return "danger"
	default:
		return "#439FE0"
	}
}

// getEventThemeColor returns the Teams theme color for an event type
func getEventThemeColor(eventType models.EventType) string {
	switch eventType {
	case models.EventImportSucceeded, models.EventCollectionPublished:
		return "28a745"
	case models.EventImportFailed, models.EventRepositoryDeleted:
		return "dc3545"
	default:
		return "007bff"
	}
}

var _ Dispatcher = (*Manager)(nil)
