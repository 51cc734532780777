package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

// errRateLimited is retried like a network failure.
var errRateLimited = fmt.Errorf("per-endpoint rate limit exceeded")

// attempt sends body once and describes the outcome. The returned
// delivery is always non-nil; the error is nil only for a 2xx reply.
func (m *Manager) attempt(ctx context.Context, hook *models.Webhook, event *Event, body []byte, n int) (*models.WebhookDelivery, error) {
	d := &models.WebhookDelivery{
		ID:          uuid.NewString(),
		WebhookID:   hook.ID,
		Event:       event.Type,
		Attempt:     n,
		DeliveredAt: time.Now().UTC(),
	}

	if !m.limiter.Allow(hook.ID) {
		d.Error = errRateLimited.Error()
		return d, errRateLimited
	}

	start := time.Now()
	err := m.send(ctx, hook, event, body, d)
	d.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		d.Error = err.Error()
		return d, err
	}
	d.Success = true
	return d, nil
}

func (m *Manager) send(ctx context.Context, hook *models.Webhook, event *Event, body []byte, d *models.WebhookDelivery) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "galaxyhub-webhooks")
	req.Header.Set(HeaderEvent, string(event.Type))
	req.Header.Set(HeaderEventID, event.ID)
	req.Header.Set(HeaderSignature, Sign(body, hook.Secret))

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	// drain so the connection can be reused
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	d.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}
