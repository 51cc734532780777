package models

import "time"

// EventType is an outbound webhook event.
type EventType string

const (
	EventImportSucceeded     EventType = "import.succeeded"
	EventImportFailed        EventType = "import.failed"
	EventCollectionPublished EventType = "collection.published"
	EventRepositoryDeleted   EventType = "repository.deleted"
	EventNamespaceCreated    EventType = "namespace.created"
)

// Webhook is an outbound subscription managed by superusers.
type Webhook struct {
	ID          int64       `json:"id"`
	URL         string      `json:"url"`
	Secret      string      `json:"-"`
	Events      []EventType `json:"events"`
	Active      bool        `json:"active"`
	Description string      `json:"description,omitempty"`
	CreatedBy   int64       `json:"created_by"`
	Created     time.Time   `json:"created"`
}

// Subscribes reports whether the webhook wants event.
func (w *Webhook) Subscribes(event EventType) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// WebhookDelivery is one delivery attempt.
type WebhookDelivery struct {
	ID          string    `json:"id"`
	WebhookID   int64     `json:"webhook"`
	Event       EventType `json:"event"`
	StatusCode  int       `json:"status_code"`
	Success     bool      `json:"success"`
	Attempt     int       `json:"attempt"`
	Error       string    `json:"error,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	DeliveredAt time.Time `json:"delivered_at"`
}
