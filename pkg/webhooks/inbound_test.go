package webhooks

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/observability"
	"github.com/platinummonkey/galaxyhub/pkg/storage/memory"
)

type fakeTrigger struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeTrigger) TriggerImport(ctx context.Context, repo *models.Repository, reference string) (*models.ImportTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, repo.Name+"@"+reference)
	return &models.ImportTask{ID: int64(len(f.calls)), Type: models.TaskTypeRole, State: models.TaskPending, RepositoryID: &repo.ID}, nil
}

type inboundFixture struct {
	router  *mux.Router
	trigger *fakeTrigger
	metrics *observability.Metrics
	key     *rsa.PrivateKey
}

const githubSecret = "gh-secret"

func newInboundFixture(t *testing.T) *inboundFixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	gh, err := store.GetProviderByName(ctx, models.ProviderGitHub)
	require.NoError(t, err)
	pns := &models.ProviderNamespace{Name: "acme", ProviderID: gh.ID}
	require.NoError(t, store.CreateProviderNamespace(ctx, pns))
	require.NoError(t, store.CreateRepository(ctx, &models.Repository{
		ProviderNamespaceID: pns.ID, Name: "ansible-role-nginx", ImportBranch: "main", IsEnabled: true,
	}))
	require.NoError(t, store.CreateRepository(ctx, &models.Repository{
		ProviderNamespaceID: pns.ID, Name: "ansible-role-redis", IsEnabled: true,
	}))

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &inboundFixture{
		router:  mux.NewRouter(),
		trigger: &fakeTrigger{},
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
		key:     key,
	}
	cfg := InboundConfig{GitHubSecret: githubSecret, TravisPublicKey: &key.PublicKey}
	NewInboundHandlers(store, f.trigger, cfg, nil, f.metrics).RegisterRoutes(f.router)
	return f
}

func (f *inboundFixture) push(t *testing.T, event string, payload interface{}, secret string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/github/", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-Hub-Signature-256", Sign(body, secret))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func pushPayload(fullName, ref, defaultBranch string) map[string]interface{} {
	owner, name, _ := strings.Cut(fullName, "/")
	return map[string]interface{}{
		"ref": ref,
		"repository": map[string]interface{}{
			"name":           name,
			"full_name":      fullName,
			"default_branch": defaultBranch,
			"owner":          map[string]interface{}{"login": owner},
		},
	}
}

func TestGitHubPush_QueuesImport(t *testing.T) {
	f := newInboundFixture(t)

	w := f.push(t, "push", pushPayload("acme/ansible-role-nginx", "refs/heads/main", "main"), githubSecret)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var res InboundResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "queued", res.Result)
	require.NotNil(t, res.Task)
	assert.Equal(t, []string{"ansible-role-nginx@main"}, f.trigger.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WebhooksReceivedTotal.WithLabelValues("github", "queued")))
}

func TestGitHubPush_Ignored(t *testing.T) {
	f := newInboundFixture(t)

	tests := []struct {
		name    string
		event   string
		payload interface{}
	}{
		{"other branch", "push", pushPayload("acme/ansible-role-nginx", "refs/heads/feature", "main")},
		{"unknown repository", "push", pushPayload("acme/elsewhere", "refs/heads/main", "main")},
		{"unknown owner", "push", pushPayload("nobody/ansible-role-nginx", "refs/heads/main", "main")},
		{"ping", "ping", map[string]interface{}{"zen": "Keep it logically awesome."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.push(t, tt.event, tt.payload, githubSecret)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), `"ignored"`)
		})
	}
	assert.Empty(t, f.trigger.calls)
}

func TestGitHubPush_DefaultBranchFallback(t *testing.T) {
	f := newInboundFixture(t)

	w := f.push(t, "push", pushPayload("acme/ansible-role-redis", "refs/heads/develop", "master"), githubSecret)
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.push(t, "push", pushPayload("acme/ansible-role-redis", "refs/heads/master", "master"), githubSecret)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"ansible-role-redis@master"}, f.trigger.calls)
}

func TestGitHubPush_BadSignature(t *testing.T) {
	f := newInboundFixture(t)

	w := f.push(t, "push", pushPayload("acme/ansible-role-nginx", "refs/heads/main", "main"), "wrong")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, f.trigger.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WebhooksReceivedTotal.WithLabelValues("github", "rejected")))
}

func TestGitHubPush_NotConfigured(t *testing.T) {
	router := mux.NewRouter()
	NewInboundHandlers(memory.New(), &fakeTrigger{}, InboundConfig{}, nil, nil).RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/github/", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/notifications/", strings.NewReader("payload={}"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func (f *inboundFixture) travis(t *testing.T, payload string, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{"payload": {payload}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sign {
		digest := sha1.Sum([]byte(payload))
		sig, err := rsa.SignPKCS1v15(rand.Reader, f.key, crypto.SHA1, digest[:])
		require.NoError(t, err)
		req.Header.Set("Signature", base64.StdEncoding.EncodeToString(sig))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestTravis_QueuesPassedBuild(t *testing.T) {
	f := newInboundFixture(t)

	payload := `{"id":1,"type":"push","result":0,"status_message":"Passed","branch":"main",
		"repository":{"name":"ansible-role-nginx","owner_name":"acme"}}`
	w := f.travis(t, payload, true)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, []string{"ansible-role-nginx@main"}, f.trigger.calls)
}

func TestTravis_Ignored(t *testing.T) {
	f := newInboundFixture(t)

	failed := `{"type":"push","result":1,"status_message":"Broken","branch":"main",
		"repository":{"name":"ansible-role-nginx","owner_name":"acme"}}`
	pr := `{"type":"pull_request","result":0,"branch":"main",
		"repository":{"name":"ansible-role-nginx","owner_name":"acme"}}`
	for _, payload := range []string{failed, pr} {
		w := f.travis(t, payload, true)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "ignored")
	}
	assert.Empty(t, f.trigger.calls)
}

func TestTravis_RejectsUnsigned(t *testing.T) {
	f := newInboundFixture(t)

	w := f.travis(t, `{"result":0}`, false)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTravisNotification_Passed(t *testing.T) {
	zero, one := 0, 1
	assert.True(t, (&TravisNotification{Result: &zero}).Passed())
	assert.False(t, (&TravisNotification{Result: &one, StatusMessage: "Passed"}).Passed())
	assert.True(t, (&TravisNotification{StatusMessage: "Fixed"}).Passed())
	assert.False(t, (&TravisNotification{StatusMessage: "Still Failing"}).Passed())
}

func TestParseRSAPublicKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	parsed, err := ParseRSAPublicKey(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(parsed))

	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey)})
	parsed, err = ParseRSAPublicKey(pkcs1)
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(parsed))

	_, err = ParseRSAPublicKey([]byte("not pem"))
	assert.Error(t, err)

	none, err := LoadTravisPublicKey("")
	assert.NoError(t, err)
	assert.Nil(t, none)
}

func TestImportsBranch(t *testing.T) {
	assert.True(t, ImportsBranch(&models.Repository{ImportBranch: "main"}, "main", "master"))
	assert.False(t, ImportsBranch(&models.Repository{ImportBranch: "main"}, "master", "master"))
	assert.True(t, ImportsBranch(&models.Repository{}, "master", "master"))
	assert.True(t, ImportsBranch(&models.Repository{}, "anything", ""))
}
