package api

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

func collectionTarball(t *testing.T, namespace, name, version string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	write := func(path string, body []byte) {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: path, Mode: 0644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write(body)
		require.NoError(t, err)
	}
	manifest, err := json.Marshal(map[string]interface{}{
		"format": 1,
		"collection_info": models.CollectionMetadata{
			Namespace:   namespace,
			Name:        name,
			Version:     version,
			Authors:     []string{"Alice"},
			Description: "Web server content",
			License:     []string{"MIT"},
			Tags:        []string{"web"},
			Repository:  "https://github.com/acme-org/web",
		},
	})
	require.NoError(t, err)
	write("MANIFEST.json", manifest)
	write("plugins/modules/nginx_site.py", []byte("# module"))
	write("roles/server/tasks/main.yml", []byte("---"))
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func (e *testEnv) upload(key, filename string, body []byte, checksum string) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(e.t, err)
		_, err = part.Write(body)
		require.NoError(e.t, err)
	}
	if checksum != "" {
		require.NoError(e.t, mw.WriteField("sha256", checksum))
	}
	require.NoError(e.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v2/collections/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if key != "" {
		req.Header.Set("Authorization", "Token "+key)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

// publish uploads a collection version and waits for its import.
func (e *testEnv) publish(namespace, name, version string) []byte {
	e.t.Helper()
	data := collectionTarball(e.t, namespace, name, version)
	sum := sha256.Sum256(data)
	rec := e.upload(e.ownerKey, fmt.Sprintf("%s-%s-%s.tar.gz", namespace, name, version), data, hex.EncodeToString(sum[:]))
	require.Equal(e.t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[uploadResponse](e.t, rec)
	assert.Equal(e.t, fmt.Sprintf("/api/v2/collection-imports/%d/", resp.ID), resp.Task)

	var task models.ImportTask
	require.Eventually(e.t, func() bool {
		rec := e.do(http.MethodGet, resp.Task, "", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		task = decode[models.ImportTask](e.t, rec)
		return task.State == models.TaskSuccess || task.State == models.TaskFailed
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(e.t, models.TaskSuccess, task.State, task.Error)
	return data
}

func TestCollections_UploadRejections(t *testing.T) {
	e := newTestEnv(t)
	data := collectionTarball(t, "acme", "web", "1.0.0")

	tests := []struct {
		name     string
		key      string
		filename string
		status   int
	}{
		{"anonymous", "", "acme-web-1.0.0.tar.gz", http.StatusUnauthorized},
		{"no file", e.ownerKey, "", http.StatusBadRequest},
		{"bad filename", e.ownerKey, "web.tar.gz", http.StatusBadRequest},
		{"bad version", e.ownerKey, "acme-web-one.tar.gz", http.StatusBadRequest},
		{"unknown namespace", e.ownerKey, "nobody-web-1.0.0.tar.gz", http.StatusBadRequest},
		{"not an owner", e.otherKey, "acme-web-1.0.0.tar.gz", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.upload(tt.key, tt.filename, data, "")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := e.upload(e.ownerKey, "acme-web-1.0.0.tar.gz", data, "00")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "checksum mismatch")
}

func TestCollections_PublishAndDownload(t *testing.T) {
	e := newTestEnv(t)
	e.publish("acme", "web", "1.0.0")
	latest := e.publish("acme", "web", "1.10.0")
	e.publish("acme", "web", "1.2.0")

	rec := e.upload(e.ownerKey, "acme-web-1.2.0.tar.gz", collectionTarball(t, "acme", "web", "1.2.0"), "")
	assert.Equal(t, http.StatusConflict, rec.Code, "a version can only be published once")

	rec = e.do(http.MethodGet, "/api/v2/collections/?namespace=acme", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[models.Page[collectionDetail]](t, rec)
	require.Equal(t, int64(1), list.Count)
	assert.Equal(t, "/api/v2/collections/acme/web/", list.Results[0].Href)

	rec = e.do(http.MethodGet, "/api/v2/collections/?namespace=nobody", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), decode[models.Page[collectionDetail]](t, rec).Count)

	rec = e.do(http.MethodGet, "/api/v2/collections/acme/web/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Name          string          `json:"name"`
		VersionsURL   string          `json:"versions_url"`
		LatestVersion *versionSummary `json:"latest_version"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "web", detail.Name)
	require.NotNil(t, detail.LatestVersion)
	assert.Equal(t, "1.10.0", detail.LatestVersion.Version)

	rec = e.do(http.MethodGet, "/api/v2/collections/acme/web/versions/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	versions := decode[models.Page[versionSummary]](t, rec)
	require.Len(t, versions.Results, 3)
	assert.Equal(t, "1.10.0", versions.Results[0].Version)
	assert.Equal(t, "1.2.0", versions.Results[1].Version)
	assert.Equal(t, "1.0.0", versions.Results[2].Version)

	rec = e.do(http.MethodGet, "/api/v2/collections/acme/web/versions/1.10.0/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode[versionDetail](t, rec)
	assert.Equal(t, "/api/v2/collections/acme/web/versions/1.10.0/artifact/", v.DownloadURL)
	assert.Equal(t, "acme", v.Collection.Namespace)

	rec = e.do(http.MethodGet, v.DownloadURL, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "acme-web-1.10.0.tar.gz")
	assert.Equal(t, latest, rec.Body.Bytes())
	sum := sha256.Sum256(latest)
	assert.Equal(t, hex.EncodeToString(sum[:]), rec.Header().Get("X-Checksum-Sha256"))

	c, err := e.store.GetCollectionByName(context.Background(), "acme", "web")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.DownloadCount)
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.DownloadsTotal.WithLabelValues("collection")))

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/v2/collections/acme/web/versions/9.9.9/", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/v2/collections/acme/nope/", "", nil).Code)
}

func TestCollections_HiddenVersions(t *testing.T) {
	e := newTestEnv(t)
	e.publish("acme", "web", "1.0.0")
	c, err := e.store.GetCollectionByName(context.Background(), "acme", "web")
	require.NoError(t, err)
	require.NoError(t, e.store.CreateCollectionVersion(context.Background(), &models.CollectionVersion{
		CollectionID: c.ID, Version: "2.0.0-rc1", Hidden: true,
	}))

	count := func(key string) int64 {
		rec := e.do(http.MethodGet, "/api/v2/collections/acme/web/versions/", key, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		return decode[models.Page[versionSummary]](t, rec).Count
	}
	assert.Equal(t, int64(1), count(""))
	assert.Equal(t, int64(1), count(e.otherKey))
	assert.Equal(t, int64(2), count(e.ownerKey))

	path := "/api/v2/collections/acme/web/versions/2.0.0-rc1/"
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, path, e.otherKey, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, path, e.ownerKey, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, path, e.adminKey, nil).Code)
}

func TestCollections_HideVersion(t *testing.T) {
	e := newTestEnv(t)
	e.publish("acme", "web", "1.0.0")
	e.publish("acme", "web", "1.1.0")
	path := "/api/v2/collections/acme/web/versions/1.1.0/"
	hide := map[string]bool{"hidden": true}

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPut, path, "", hide).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPut, path, e.otherKey, hide).Code)

	rec := e.do(http.MethodPut, path, e.ownerKey, map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[detail](t, rec).Errors, "hidden")

	rec = e.do(http.MethodPut, path, e.ownerKey, hide)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[versionDetail](t, rec).Hidden)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, path, "", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, path+"artifact/", e.otherKey, nil).Code)
	rec = e.do(http.MethodGet, "/api/v2/collections/acme/web/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	latest := decode[collectionDetail](t, rec).LatestVersion
	require.NotNil(t, latest)
	assert.Equal(t, "1.0.0", latest.Version, "hidden releases never become latest")

	rec = e.do(http.MethodPut, path, e.adminKey, map[string]bool{"hidden": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, path, "", nil).Code)
	rec = e.do(http.MethodGet, "/api/v2/collections/acme/web/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1.1.0", decode[collectionDetail](t, rec).LatestVersion.Version)
}

func TestCollections_DownloadAfterNamespaceRename(t *testing.T) {
	e := newTestEnv(t)
	data := e.publish("acme", "web", "1.0.0")

	rec := e.do(http.MethodPut, fmt.Sprintf("/api/v1/namespaces/%d/", e.ns.ID), e.ownerKey, map[string]string{"name": "acme2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/v2/collections/acme/web/", "", nil).Code)
	rec = e.do(http.MethodGet, "/api/v2/collections/acme2/web/versions/1.0.0/artifact/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, data, rec.Body.Bytes())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "acme-web-1.0.0.tar.gz")
}

func TestCollections_Deprecate(t *testing.T) {
	e := newTestEnv(t)
	e.publish("acme", "web", "1.0.0")
	path := "/api/v2/collections/acme/web/"

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPut, path, "", map[string]bool{"deprecated": true}).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPut, path, e.otherKey, map[string]bool{"deprecated": true}).Code)

	rec := e.do(http.MethodPut, path, e.ownerKey, map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[detail](t, rec).Errors, "deprecated")

	rec = e.do(http.MethodPut, path, e.ownerKey, map[string]bool{"deprecated": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[collectionDetail](t, rec).Deprecated)

	rec = e.do(http.MethodGet, "/api/v2/collections/?deprecated=false", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), decode[models.Page[collectionDetail]](t, rec).Count)
}
