package access

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/galaxyhub/pkg/auth"
	"github.com/platinummonkey/galaxyhub/pkg/contextkeys"
	"github.com/platinummonkey/galaxyhub/pkg/models"
)

func requestAs(method string, user *models.User) *http.Request {
	r := httptest.NewRequest(method, "/api/v1/namespaces/1/", nil)
	return r.WithContext(contextkeys.WithUser(r.Context(), user))
}

func TestModelAccessPermission_Check(t *testing.T) {
	f := newFixture(t)
	p := NewModelAccessPermission(f.registry, nil)

	tests := []struct {
		name   string
		method string
		user   *models.User
		obj    interface{}
		data   interface{}
		want   error
	}{
		{"anonymous list", http.MethodGet, models.AnonymousUser(), nil, nil, nil},
		{"anonymous detail", http.MethodGet, models.AnonymousUser(), f.ns, nil, nil},
		{"anonymous write", http.MethodPost, models.AnonymousUser(), nil, &models.Namespace{}, errors.Unauthorized},
		{"anonymous delete", http.MethodDelete, models.AnonymousUser(), f.ns, nil, errors.Unauthorized},
		{"inactive read", http.MethodGet, f.inactive, f.ns, nil, errors.Forbidden},
		{"owner change", http.MethodPut, f.owner, f.ns, nil, nil},
		{"stranger change", http.MethodPatch, f.stranger, f.ns, nil, errors.Forbidden},
		{"owner delete", http.MethodDelete, f.owner, f.ns, nil, errors.Forbidden},
		{"superuser delete", http.MethodDelete, f.root, f.ns, nil, nil},
		{"authenticated add", http.MethodPost, f.stranger, nil, &models.Namespace{Name: "new"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Check(requestAs(tt.method, tt.user), KindNamespace, tt.obj, tt.data)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestModelAccessPermission_AnonymousDeniedReadIs401(t *testing.T) {
	f := newFixture(t)
	p := NewModelAccessPermission(f.registry, nil)
	n := &models.Notification{ID: 1, UserID: f.owner.ID}

	err := p.Check(requestAs(http.MethodGet, models.AnonymousUser()), KindNotification, n, nil)
	assert.True(t, errors.Is(err, errors.Unauthorized))
}

func TestModelAccessPermission_SuperuserBypassesRegistry(t *testing.T) {
	p := NewModelAccessPermission(NewRegistry(), nil)
	root := &models.User{ID: 1, IsActive: true, IsSuperuser: true}
	assert.NoError(t, p.Check(requestAs(http.MethodDelete, root), KindWebhook, &models.Webhook{ID: 3}, nil))
	assert.Error(t, p.Check(requestAs(http.MethodDelete, &models.User{ID: 2, IsActive: true}), KindWebhook, &models.Webhook{ID: 3}, nil))
}

func TestModelAccessPermission_CheckParent(t *testing.T) {
	f := newFixture(t)
	p := NewModelAccessPermission(f.registry, nil)
	hidden := &models.CollectionVersion{ID: 5, CollectionID: f.coll.ID, Hidden: true}

	// A POST against a nested route still only needs read on the parent.
	r := requestAs(http.MethodPost, f.stranger)
	assert.NoError(t, p.CheckParent(r, KindCollection, f.coll))
	assert.Error(t, p.CheckParent(r, KindCollectionVersion, hidden))
}

func TestModelAccessPermission_AuditsDenials(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})
	p := NewModelAccessPermission(f.registry, auth.NewAuditLogger(l))

	require.Error(t, p.Check(requestAs(http.MethodPut, f.stranger), KindNamespace, f.ns, nil))
	assert.Contains(t, buf.String(), `"action":"access.denied"`)
	assert.Contains(t, buf.String(), `"resource_type":"namespace"`)
}

func TestModelAccessPermission_Require(t *testing.T) {
	f := newFixture(t)
	p := NewModelAccessPermission(f.registry, nil)
	h := p.Require(KindNamespace)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		method string
		user   *models.User
		want   int
	}{
		{http.MethodGet, models.AnonymousUser(), http.StatusNoContent},
		{http.MethodPost, models.AnonymousUser(), http.StatusUnauthorized},
		{http.MethodGet, f.inactive, http.StatusForbidden},
		{http.MethodPost, f.stranger, http.StatusNoContent},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, requestAs(tt.method, tt.user))
		assert.Equal(t, tt.want, w.Code, "%s as %q", tt.method, tt.user.Username)
		if tt.want == http.StatusUnauthorized {
			assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
		}
	}
}

func TestModelAccessPermission_AllowsDoesNotAudit(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	p := NewModelAccessPermission(f.registry, auth.NewAuditLogger(l))

	assert.False(t, p.Allows(requestAs(http.MethodGet, f.stranger), KindCollection, ActionChange, f.coll, nil))
	assert.False(t, p.Allows(requestAs(http.MethodGet, models.AnonymousUser()), KindCollection, ActionChange, f.coll, nil))
	assert.False(t, p.Allows(requestAs(http.MethodGet, f.inactive), KindCollection, ActionRead, f.coll, nil))
	assert.True(t, p.Allows(requestAs(http.MethodGet, f.owner), KindCollection, ActionChange, f.coll, nil))
	assert.True(t, p.Allows(requestAs(http.MethodGet, f.root), KindWebhook, ActionDelete, &models.Webhook{ID: 1}, nil))
	assert.Empty(t, buf.String())
}
