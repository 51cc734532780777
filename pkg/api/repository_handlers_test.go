package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

func TestRepositories_CreateAndUpdate(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(http.MethodPost, "/api/v1/repositories/", e.otherKey, map[string]interface{}{
		"name": "redis", "provider_namespace": e.pns.ID,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodPost, "/api/v1/repositories/", e.ownerKey, map[string]interface{}{"name": "redis"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[detail](t, rec).Errors, "provider_namespace")

	rec = e.do(http.MethodPost, "/api/v1/repositories/", e.ownerKey, map[string]interface{}{
		"name": "redis", "provider_namespace": e.pns.ID, "description": "Redis role",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	repo := decode[models.Repository](t, rec)
	assert.Equal(t, "redis", repo.OriginalName)
	assert.True(t, repo.IsEnabled)
	path := fmt.Sprintf("/api/v1/repositories/%d/", repo.ID)

	rec = e.do(http.MethodPut, path, e.ownerKey, map[string]interface{}{"name": "renamed"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[detail](t, rec).Errors, "name")

	rec = e.do(http.MethodPut, path, e.otherKey, map[string]interface{}{"deprecated": true})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodPut, path, e.ownerKey, map[string]interface{}{"deprecated": true, "owners": []int64{e.other.ID}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[models.Repository](t, rec)
	assert.True(t, updated.Deprecated)

	// explicit repository owners may change it too
	rec = e.do(http.MethodPut, path, e.otherKey, map[string]interface{}{"deprecated": false})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(http.MethodGet, fmt.Sprintf("/api/v1/repositories/?provider_namespace=%d", e.pns.ID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), decode[models.Page[models.Repository]](t, rec).Count)
}

func TestRepositories_Delete(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	role := &models.Content{RepositoryID: e.repo.ID, NamespaceID: e.ns.ID, ContentType: models.ContentTypeRole, Name: "nginx"}
	require.NoError(t, e.store.UpsertContent(ctx, role))
	path := fmt.Sprintf("/api/v1/repositories/%d/", e.repo.ID)

	assert.Equal(t, http.StatusForbidden, e.do(http.MethodDelete, path, e.otherKey, nil).Code)
	require.Equal(t, http.StatusNoContent, e.do(http.MethodDelete, path, e.ownerKey, nil).Code)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, path, "", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, fmt.Sprintf("/api/v1/content/%d/", role.ID), "", nil).Code)

	e.events.mu.Lock()
	defer e.events.mu.Unlock()
	require.NotEmpty(t, e.events.events)
	last := e.events.events[len(e.events.events)-1]
	assert.Equal(t, models.EventRepositoryDeleted, last.Type)
	assert.Equal(t, "acme-org/nginx", last.Data["repository"])
}

func TestRepositories_Versions(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(http.MethodGet, fmt.Sprintf("/api/v1/repositories/%d/versions/", e.repo.ID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), decode[models.Page[models.RepositoryVersion]](t, rec).Count)

	rec = e.do(http.MethodGet, "/api/v1/repositories/9999/versions/", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestContent_RolesAndDownloads(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	role := &models.Content{RepositoryID: e.repo.ID, NamespaceID: e.ns.ID, ContentType: models.ContentTypeRole, Name: "nginx"}
	require.NoError(t, e.store.UpsertContent(ctx, role))
	module := &models.Content{RepositoryID: e.repo.ID, NamespaceID: e.ns.ID, ContentType: models.ContentTypeModule, Name: "nginx_conf"}
	require.NoError(t, e.store.UpsertContent(ctx, module))

	rec := e.do(http.MethodGet, "/api/v1/content/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), decode[models.Page[models.Content]](t, rec).Count)

	rec = e.do(http.MethodGet, "/api/v1/roles/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	roles := decode[models.Page[models.Content]](t, rec)
	require.Equal(t, int64(1), roles.Count)
	assert.Equal(t, "nginx", roles.Results[0].Name)

	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, fmt.Sprintf("/api/v1/content/%d/", module.ID), "", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, fmt.Sprintf("/api/v1/roles/%d/", module.ID), "", nil).Code)

	downloads := fmt.Sprintf("/api/v1/roles/%d/downloads/", role.ID)
	for want := int64(1); want <= 2; want++ {
		rec = e.do(http.MethodPost, downloads, "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, want, decode[map[string]int64](t, rec)["download_count"])
	}
	assert.Equal(t, float64(2), testutil.ToFloat64(e.metrics.DownloadsTotal.WithLabelValues("role")))

	rec = e.do(http.MethodPost, fmt.Sprintf("/api/v1/roles/%d/downloads/", module.ID), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	repo, err := e.store.GetRepository(ctx, e.repo.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), repo.DownloadCount)
}

func TestImports_Role(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(http.MethodPost, "/api/v1/imports/", e.ownerKey, map[string]interface{}{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/api/v1/imports/", e.otherKey, map[string]interface{}{
		"github_user": "acme-org", "github_repo": "brand-new",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = e.do(http.MethodGet, "/api/v1/repositories/?name=brand-new", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), decode[models.Page[models.Repository]](t, rec).Count, "a refused import must not create the repository")

	rec = e.do(http.MethodPost, "/api/v1/imports/", e.otherKey, map[string]interface{}{
		"github_user": "acme-org", "github_repo": "nginx",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodPost, "/api/v1/imports/", e.ownerKey, map[string]interface{}{
		"github_user": "unknown-org", "github_repo": "nginx",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/api/v1/imports/", e.ownerKey, map[string]interface{}{
		"github_user": "acme-org", "github_repo": "brand-new",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	task := decode[models.ImportTask](t, rec)
	assert.Equal(t, models.TaskTypeRole, task.Type)
	require.NotNil(t, task.RepositoryID)

	rec = e.do(http.MethodGet, fmt.Sprintf("/api/v1/imports/%d/", task.ID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, task.ID, decode[models.ImportTask](t, rec).ID)

	rec = e.do(http.MethodGet, fmt.Sprintf("/api/v1/imports/?repository=%d", *task.RepositoryID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decode[models.Page[models.ImportTask]](t, rec).Count)

	// role tasks are not visible through the collection import route
	rec = e.do(http.MethodGet, fmt.Sprintf("/api/v2/collection-imports/%d/", task.ID), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
