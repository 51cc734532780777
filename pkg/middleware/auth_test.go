package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/galaxyhub/pkg/auth"
	"github.com/platinummonkey/galaxyhub/pkg/contextkeys"
	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/storage/memory"
)

type mapAuthenticator map[string]*models.User

func (m mapAuthenticator) Authenticate(ctx context.Context, raw string) (*models.User, *models.APIToken, error) {
	if raw == "boom" {
		return nil, nil, errors.New("database down")
	}
	u, ok := m[raw]
	if !ok {
		return nil, nil, errors.Unauthorizedf("invalid token")
	}
	return u, &models.APIToken{ID: 1, UserID: u.ID}, nil
}

func echoUser(t *testing.T, got **models.User) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = contextkeys.User(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticate(t *testing.T) {
	alice := &models.User{ID: 5, Username: "alice", IsActive: true}
	authn := mapAuthenticator{"k1": alice}

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUserID int64
	}{
		{"no header is anonymous", "", http.StatusOK, 0},
		{"token scheme", "Token k1", http.StatusOK, 5},
		{"bearer scheme", "Bearer k1", http.StatusOK, 5},
		{"scheme is case insensitive", "token k1", http.StatusOK, 5},
		{"unknown key", "Token nope", http.StatusUnauthorized, 0},
		{"other schemes are anonymous", "Basic abc", http.StatusOK, 0},
		{"bare signature is anonymous", "c2lnbmF0dXJl", http.StatusOK, 0},
		{"missing key", "Token", http.StatusUnauthorized, 0},
		{"extra parts", "Token a b", http.StatusUnauthorized, 0},
		{"store failure", "Token boom", http.StatusInternalServerError, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *models.User
			h := Authenticate(authn, nil)(echoUser(t, &got))

			r := httptest.NewRequest(http.MethodGet, "/api/v1/me/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				require.NotNil(t, got)
				assert.Equal(t, tt.wantUserID, got.ID)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal(t, `Token realm="api"`, w.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestAuthenticate_WithTokenService(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	u := &models.User{Username: "bob", IsActive: true}
	require.NoError(t, store.CreateUser(ctx, u))
	tokens := auth.NewTokenService(store, 0)
	key, issued, err := tokens.Issue(ctx, u)
	require.NoError(t, err)

	var gotToken *models.APIToken
	h := Authenticate(tokens, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken, _ = contextkeys.Token(r.Context())
	}))

	r := httptest.NewRequest(http.MethodDelete, "/api/v1/tokens/", nil)
	r.Header.Set("Authorization", "Token "+key)
	h.ServeHTTP(httptest.NewRecorder(), r)

	require.NotNil(t, gotToken)
	assert.Equal(t, issued.ID, gotToken.ID)
}

func TestRequireUser(t *testing.T) {
	h := RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	tests := []struct {
		name string
		user *models.User
		want int
	}{
		{"anonymous", models.AnonymousUser(), http.StatusUnauthorized},
		{"inactive", &models.User{ID: 2, IsActive: false}, http.StatusForbidden},
		{"active", &models.User{ID: 2, IsActive: true}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/me/", nil)
			r = r.WithContext(contextkeys.WithUser(r.Context(), tt.user))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRequireSuperuser(t *testing.T) {
	h := RequireSuperuser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/webhooks/", nil)
	r = r.WithContext(contextkeys.WithUser(r.Context(), &models.User{ID: 2, IsActive: true}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)

	r = r.WithContext(contextkeys.WithUser(r.Context(), &models.User{ID: 1, IsActive: true, IsSuperuser: true}))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}
