package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/galaxyhub/pkg/auth"
	"github.com/platinummonkey/galaxyhub/pkg/importer"
	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/notify"
	"github.com/platinummonkey/galaxyhub/pkg/observability"
	"github.com/platinummonkey/galaxyhub/pkg/search"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
	"github.com/platinummonkey/galaxyhub/pkg/storage/memory"
)

// offlineSource has no repositories; role imports queued in tests fail in
// the background.
type offlineSource struct{}

func (offlineSource) GetRepository(ctx context.Context, owner, name string) (*importer.RepoInfo, error) {
	return nil, errors.NotFoundf("repository %s/%s", owner, name)
}

func (offlineSource) GetCommit(ctx context.Context, owner, name, ref string) (*importer.CommitInfo, error) {
	return nil, errors.NotFoundf("ref %s", ref)
}

func (offlineSource) GetFile(ctx context.Context, owner, name, ref, filePath string) ([]byte, error) {
	return nil, errors.NotFoundf("file %s", filePath)
}

func (offlineSource) GetReadme(ctx context.Context, owner, name, ref string) (*importer.Readme, error) {
	return nil, errors.NotFoundf("README")
}

func (offlineSource) ListTags(ctx context.Context, owner, name string) ([]importer.Tag, error) {
	return nil, nil
}

// fakeGitHub accepts any token of the form "gh-<login>".
type fakeGitHub struct{}

func (fakeGitHub) Verify(ctx context.Context, token string) (*auth.GitHubProfile, error) {
	if len(token) < 4 || token[:3] != "gh-" {
		return nil, errors.Unauthorizedf("github rejected the token")
	}
	return &auth.GitHubProfile{Login: token[3:], Name: "From GitHub"}, nil
}

type sentEvent struct {
	Type models.EventType
	Data map[string]interface{}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []sentEvent
}

func (e *eventRecorder) Dispatch(ctx context.Context, event models.EventType, data map[string]interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, sentEvent{Type: event, Data: data})
	return nil
}

func (e *eventRecorder) types() []models.EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.EventType
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

type testEnv struct {
	t         *testing.T
	store     *memory.Store
	artifacts *storage.FileSystemArtifacts
	server    *Server
	metrics   *observability.Metrics
	events    *eventRecorder

	owner, other, admin          *models.User
	ownerKey, otherKey, adminKey string

	ns   *models.Namespace
	pns  *models.ProviderNamespace
	repo *models.Repository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	e := &testEnv{t: t, store: memory.New(), events: &eventRecorder{}}

	tokens := auth.NewTokenService(e.store, time.Hour)
	issue := func(name string, superuser bool) (*models.User, string) {
		u := &models.User{Username: name, IsActive: true, IsSuperuser: superuser}
		require.NoError(t, e.store.CreateUser(ctx, u))
		key, _, err := tokens.Issue(ctx, u)
		require.NoError(t, err)
		return u, key
	}
	e.owner, e.ownerKey = issue("alice", false)
	e.other, e.otherKey = issue("bob", false)
	e.admin, e.adminKey = issue("root", true)

	e.ns = &models.Namespace{Name: "acme", Active: true, Owners: []int64{e.owner.ID}}
	require.NoError(t, e.store.CreateNamespace(ctx, e.ns))
	gh, err := e.store.GetProviderByName(ctx, models.ProviderGitHub)
	require.NoError(t, err)
	e.pns = &models.ProviderNamespace{Name: "acme-org", ProviderID: gh.ID, NamespaceID: &e.ns.ID}
	require.NoError(t, e.store.CreateProviderNamespace(ctx, e.pns))
	e.repo = &models.Repository{ProviderNamespaceID: e.pns.ID, Name: "nginx", OriginalName: "nginx", IsEnabled: true}
	require.NoError(t, e.store.CreateRepository(ctx, e.repo))

	e.artifacts, err = storage.NewFileSystemArtifacts(t.TempDir())
	require.NoError(t, err)
	e.metrics = observability.NewMetrics(prometheus.NewRegistry())
	engine, err := search.NewMemoryEngine(e.store)
	require.NoError(t, err)
	notifier := notify.NewService(e.store)

	imp := importer.New(ctx, importer.Deps{
		Store:     e.store,
		Artifacts: e.artifacts,
		Source:    offlineSource{},
		Indexer:   engine,
		Notifier:  notifier,
		Metrics:   e.metrics,
	}, importer.Options{Workers: 1, MaxArtifactBytes: 1 << 20})
	t.Cleanup(func() { _ = imp.Shutdown(5 * time.Second) })

	e.server = NewServer(Deps{
		Store:     e.store,
		Artifacts: e.artifacts,
		Importer:  imp,
		Notifier:  notifier,
		Surveys:   notify.NewSurveys(e.store, notifier),
		Tokens:    tokens,
		Exchanger: auth.NewExchanger(fakeGitHub{}, e.store, tokens, nil),
		Search:    search.NewService(engine, e.store, e.metrics, nil),
		Indexer:   engine,
		Events:    e.events,
		Metrics:   e.metrics,
	})
	return e
}

// do sends a JSON request as the holder of key; an empty key is anonymous.
func (e *testEnv) do(method, path, key string, body interface{}) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Token "+key)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type detail struct {
	Detail string              `json:"detail"`
	Errors map[string][]string `json:"errors"`
}

func TestMe(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(http.MethodGet, "/api/v1/me/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	anon := decode[map[string]interface{}](t, rec)
	assert.Equal(t, false, anon["authenticated"])

	rec = e.do(http.MethodGet, "/api/v1/me/", e.ownerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[map[string]interface{}](t, rec)
	assert.Equal(t, true, me["authenticated"])
	assert.Equal(t, "alice", me["username"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = e.do(http.MethodGet, "/api/v1/me/", "not-a-real-key", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokens_ExchangeAndRevoke(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(http.MethodPost, "/api/v1/tokens/", "", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[detail](t, rec).Errors, "github_token")

	rec = e.do(http.MethodPost, "/api/v1/tokens/", "", map[string]string{"github_token": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(http.MethodPost, "/api/v1/tokens/", "", map[string]string{"github_token": "gh-carol"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tok := decode[tokenResponse](t, rec)
	assert.Equal(t, "carol", tok.Username)

	rec = e.do(http.MethodGet, "/api/v1/me/", tok.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "carol", decode[map[string]interface{}](t, rec)["username"])

	rec = e.do(http.MethodDelete, "/api/v1/tokens/", tok.Token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do(http.MethodGet, "/api/v1/me/", tok.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(http.MethodDelete, "/api/v1/tokens/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInactiveUserIsForbidden(t *testing.T) {
	e := newTestEnv(t)
	e.other.IsActive = false
	require.NoError(t, e.store.UpdateUser(context.Background(), e.other))

	rec := e.do(http.MethodPost, "/api/v1/namespaces/", e.otherKey, map[string]string{"name": "mine"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Your account is inactive.", decode[detail](t, rec).Detail)

	rec = e.do(http.MethodGet, "/api/v1/me/notifications/", e.otherKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUnknownRouteIs404(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(http.MethodGet, "/api/v1/nothing-here/", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchRoutesAreMounted(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(http.MethodGet, "/api/v1/search/content/?q=nginx", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = e.do(http.MethodGet, "/api/v1/tags/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListsSurviveHugePages(t *testing.T) {
	e := newTestEnv(t)
	huge := "page=9223372036854775807&page_size=2"
	paths := []string{
		"/api/v1/namespaces/?" + huge,
		"/api/v1/providers/?" + huge,
		fmt.Sprintf("/api/v1/repositories/%d/versions/?%s", e.repo.ID, huge),
		"/api/v1/search/content/?" + huge,
		"/api/v1/search/collections/?" + huge,
		"/api/v1/tags/?" + huge,
		"/api/v1/platforms/?" + huge,
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			rec := e.do(http.MethodGet, path, "", nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			page := decode[models.Page[json.RawMessage]](t, rec)
			assert.Empty(t, page.Results)
			assert.Nil(t, page.Next)
			assert.NotNil(t, page.Previous)
		})
	}

	rec := e.do(http.MethodGet, "/api/v1/namespaces/?"+huge, "", nil)
	assert.Equal(t, int64(1), decode[models.Page[json.RawMessage]](t, rec).Count)
}

func TestAnonymousWritesAreRefusedBeforeValidation(t *testing.T) {
	e := newTestEnv(t)
	empty := map[string]interface{}{}
	writes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/namespaces/"},
		{http.MethodPut, fmt.Sprintf("/api/v1/namespaces/%d/", e.ns.ID)},
		{http.MethodDelete, "/api/v1/namespaces/999/"},
		{http.MethodPost, "/api/v1/provider_namespaces/"},
		{http.MethodPut, fmt.Sprintf("/api/v1/provider_namespaces/%d/", e.pns.ID)},
		{http.MethodPost, "/api/v1/repositories/"},
		{http.MethodPut, fmt.Sprintf("/api/v1/repositories/%d/", e.repo.ID)},
		{http.MethodDelete, "/api/v1/repositories/999/"},
		{http.MethodPost, "/api/v1/imports/"},
		{http.MethodPost, "/api/v2/collections/"},
		{http.MethodPut, "/api/v2/collections/acme/missing/"},
		{http.MethodPut, "/api/v2/collections/acme/missing/versions/1.0.0/"},
		{http.MethodPost, "/api/v1/community_surveys/repository/"},
		{http.MethodPut, "/api/v1/community_surveys/repository/999/"},
		{http.MethodPut, fmt.Sprintf("/api/v1/users/%d/", e.owner.ID)},
	}
	for _, w := range writes {
		t.Run(w.method+" "+w.path, func(t *testing.T) {
			rec := e.do(w.method, w.path, "", empty)
			assert.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())
			assert.Empty(t, decode[detail](t, rec).Errors)
		})
	}

	// an unknown provider namespace and a known one answer alike
	for _, pns := range []string{"acme-org", "nobody"} {
		rec := e.do(http.MethodPost, "/api/v1/imports/", "", map[string]string{"github_user": pns, "github_repo": "nginx"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, pns)
	}

	// the download counter stays open to anonymous callers
	assert.NotEqual(t, http.StatusUnauthorized, e.do(http.MethodPost, "/api/v1/roles/999/downloads/", "", nil).Code)
}

func TestInactiveWritesAreRefusedBeforeValidation(t *testing.T) {
	e := newTestEnv(t)
	e.other.IsActive = false
	require.NoError(t, e.store.UpdateUser(context.Background(), e.other))

	rec := e.do(http.MethodPost, "/api/v1/namespaces/", e.otherKey, map[string]interface{}{})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Your account is inactive.", decode[detail](t, rec).Detail)
}
