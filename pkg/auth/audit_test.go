package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/galaxyhub/pkg/contextkeys"
	"github.com/platinummonkey/galaxyhub/pkg/models"
)

func newTestAudit() (*AuditLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})
	return NewAuditLogger(l), &buf
}

func TestAuditLogger_LogFromRequest(t *testing.T) {
	al, buf := newTestAudit()

	r := httptest.NewRequest("DELETE", "/api/v1/tokens/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	r.Header.Set("User-Agent", "ansible-galaxy/2.9")
	r = r.WithContext(contextkeys.WithUser(r.Context(), &models.User{ID: 7, IsActive: true}))

	al.LogFromRequest(r, ActionTokenRevoke, "token", "3", StatusSuccess, nil)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, true, line["audit"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, ActionTokenRevoke, line["action"])
	assert.Equal(t, float64(7), line["user_id"])
	assert.Equal(t, "3", line["resource_id"])
	assert.Equal(t, "203.0.113.9", line["ip"])
	assert.Equal(t, "ansible-galaxy/2.9", line["user_agent"])
}

func TestAuditLogger_FailuresWarn(t *testing.T) {
	al, buf := newTestAudit()
	r := httptest.NewRequest("POST", "/api/v1/namespaces/", nil)

	al.LogFromRequest(r, ActionAccessDenied, "namespace", "", StatusDenied, errors.New("not an owner"))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warning", line["level"])
	assert.Equal(t, "not an owner", line["error"])
	assert.Equal(t, float64(0), line["user_id"])
	assert.NotContains(t, line, "resource_id")
}

func TestAuditLogger_NilIsNoop(t *testing.T) {
	var al *AuditLogger
	assert.NotPanics(t, func() {
		al.Log(httptest.NewRequest("GET", "/", nil).Context(), &AuditEvent{Action: ActionAuthFailure})
	})
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1:1234", ClientIP(r))

	r.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.5")
	assert.Equal(t, "203.0.113.5", ClientIP(r))
}
