package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/galaxyhub/pkg/contextkeys"
)

// AuditEvent is one security-relevant action.
type AuditEvent struct {
	Action       string
	UserID       int64
	ResourceType string
	ResourceID   string
	IPAddress    string
	UserAgent    string
	Status       string
	Error        string
	Time         time.Time
}

// AuditLogger writes audit events as structured log lines tagged
// audit=true so they can be routed separately by the log pipeline.
type AuditLogger struct {
	entry *logrus.Entry
}

// NewAuditLogger creates an audit logger on top of l. A nil l uses the
// logrus standard logger.
func NewAuditLogger(l *logrus.Logger) *AuditLogger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &AuditLogger{entry: l.WithField("audit", true)}
}

// Log records ev. It is a no-op on a nil logger.
func (al *AuditLogger) Log(ctx context.Context, ev *AuditEvent) {
	if al == nil || ev == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.UserID == 0 {
		ev.UserID = contextkeys.User(ctx).ID
	}

	fields := logrus.Fields{
		"action":        ev.Action,
		"user_id":       ev.UserID,
		"resource_type": ev.ResourceType,
		"status":        ev.Status,
		"at":            ev.Time.UTC().Format(time.RFC3339),
	}
	if ev.ResourceID != "" {
		fields["resource_id"] = ev.ResourceID
	}
	if ev.IPAddress != "" {
		fields["ip"] = ev.IPAddress
	}
	if ev.UserAgent != "" {
		fields["user_agent"] = ev.UserAgent
	}
	if ev.Error != "" {
		fields["error"] = ev.Error
	}

	entry := al.entry.WithContext(ctx).WithFields(fields)
	if ev.Status == StatusSuccess {
		entry.Info(ev.Action)
	} else {
		entry.Warn(ev.Action)
	}
}

// LogFromRequest records an event with client details taken from r.
func (al *AuditLogger) LogFromRequest(r *http.Request, action, resourceType, resourceID, status string, err error) {
	ev := &AuditEvent{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    ClientIP(r),
		UserAgent:    r.UserAgent(),
		Status:       status,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	al.Log(r.Context(), ev)
}

// ClientIP returns the originating client address, preferring proxy headers.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

// Audit actions
const (
	ActionTokenCreate       = "token.create"
	ActionTokenRevoke       = "token.revoke"
	ActionUserCreate        = "user.create"
	ActionUserUpdate        = "user.update"
	ActionAuthFailure       = "auth.failure"
	ActionAccessDenied      = "access.denied"
	ActionRateLimitExceeded = "ratelimit.exceeded"
	ActionWebhookRejected   = "webhook.rejected"
)

// Status constants
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusDenied  = "denied"
)
