package api

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/Masterminds/semver/v3"
	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/access"
	"github.com/platinummonkey/galaxyhub/pkg/contextkeys"
	"github.com/platinummonkey/galaxyhub/pkg/httputil"
	"github.com/platinummonkey/galaxyhub/pkg/importer"
	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/observability"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

// multipart parts beyond this are spooled to disk
const uploadMemory = 8 << 20

func (s *Server) registerCollectionRoutes() {
	base := "/api/v2/collections/{namespace}/{name}/"
	s.guard("/api/v2/collections/", access.KindCollectionVersion, s.uploadCollection, http.MethodPost)
	s.router.HandleFunc("/api/v2/collections/", s.listCollections).Methods(http.MethodGet)
	s.router.HandleFunc(base, s.getCollection).Methods(http.MethodGet)
	s.guard(base, access.KindCollection, s.updateCollection, http.MethodPut)
	s.router.HandleFunc(base+"versions/", s.listCollectionVersions).Methods(http.MethodGet)
	s.router.HandleFunc(base+"versions/{version}/", s.getCollectionVersion).Methods(http.MethodGet)
	s.guard(base+"versions/{version}/", access.KindCollectionVersion, s.updateCollectionVersion, http.MethodPut)
	s.router.HandleFunc(base+"versions/{version}/artifact/", s.downloadArtifact).Methods(http.MethodGet)
}

func collectionHref(c *models.Collection) string {
	return fmt.Sprintf("/api/v2/collections/%s/%s/", c.NamespaceName, c.Name)
}

func versionHref(c *models.Collection, version string) string {
	return collectionHref(c) + "versions/" + version + "/"
}

type versionSummary struct {
	Version string `json:"version"`
	Href    string `json:"href"`
}

type collectionDetail struct {
	*models.Collection
	Href          string          `json:"href"`
	VersionsURL   string          `json:"versions_url"`
	LatestVersion *versionSummary `json:"latest_version"`
}

type versionDetail struct {
	*models.CollectionVersion
	Href        string `json:"href"`
	DownloadURL string `json:"download_url"`
	Collection  struct {
		ID        int64  `json:"id"`
		Namespace string `json:"namespace"`
		Name      string `json:"name"`
		Href      string `json:"href"`
	} `json:"collection"`
}

type uploadResponse struct {
	Task string `json:"task"`
	ID   int64  `json:"id"`
}

// uploadCollection handles POST /api/v2/collections/, a multipart form
// with the tarball in "file" and an optional "sha256".
func (s *Server) uploadCollection(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.Importer.MaxArtifactBytes()+uploadMemory)
	if err := r.ParseMultipartForm(uploadMemory); err != nil {
		httputil.WriteBadRequest(w, "Invalid upload: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteValidationErrors(w, map[string][]string{"file": {"This field is required."}})
		return
	}
	defer file.Close()

	name, err := importer.ParseArtifactFilename(header.Filename)
	if err != nil {
		httputil.WriteValidationErrors(w, map[string][]string{"file": {err.Error()}})
		return
	}
	ns, err := s.Store.GetNamespaceByName(r.Context(), name.Namespace)
	if errors.Is(err, errors.NotFound) {
		httputil.WriteValidationErrors(w, map[string][]string{"file": {fmt.Sprintf("Namespace %q does not exist.", name.Namespace)}})
		return
	}
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if !s.authorize(w, r, access.KindCollectionVersion, nil, &models.Collection{NamespaceID: ns.ID, Name: name.Name}) {
		return
	}

	task, err := s.Importer.SubmitCollection(r.Context(), importer.CollectionUpload{
		Filename: header.Filename,
		SHA256:   r.FormValue("sha256"),
		Size:     header.Size,
		Body:     file,
	}, contextkeys.User(r.Context()).ID)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteAccepted(w, uploadResponse{
		Task: "/api/v2/collection-imports/" + strconv.FormatInt(task.ID, 10) + "/",
		ID:   task.ID,
	})
}

// listCollections handles GET /api/v2/collections/
func (s *Server) listCollections(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, access.KindCollection, nil, nil) {
		return
	}
	page, ok := pageOrError(w, r)
	if !ok {
		return
	}
	deprecated, ok := queryBool(w, r, "deprecated")
	if !ok {
		return
	}
	filter := storage.CollectionFilter{Name: r.URL.Query().Get("name"), Deprecated: deprecated}
	if nsName := r.URL.Query().Get("namespace"); nsName != "" {
		ns, err := s.Store.GetNamespaceByName(r.Context(), nsName)
		if errors.Is(err, errors.NotFound) {
			httputil.WritePage(w, r, []*collectionDetail{}, 0, page)
			return
		}
		if err != nil {
			httputil.WriteErr(w, r, err)
			return
		}
		filter.NamespaceID = ns.ID
	}

	items, total, err := s.Store.ListCollections(r.Context(), filter, page)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	out := make([]*collectionDetail, 0, len(items))
	for _, c := range items {
		d, err := s.describeCollection(r, c)
		if err != nil {
			httputil.WriteErr(w, r, err)
			return
		}
		out = append(out, d)
	}
	httputil.WritePage(w, r, out, total, page)
}

func (s *Server) describeCollection(r *http.Request, c *models.Collection) (*collectionDetail, error) {
	d := &collectionDetail{
		Collection:  c,
		Href:        collectionHref(c),
		VersionsURL: collectionHref(c) + "versions/",
	}
	if c.LatestVersionID == nil {
		return d, nil
	}
	v, err := s.Store.GetCollectionVersionByID(r.Context(), *c.LatestVersionID)
	if errors.Is(err, errors.NotFound) {
		return d, nil
	}
	if err != nil {
		return nil, err
	}
	d.LatestVersion = &versionSummary{Version: v.Version, Href: versionHref(c, v.Version)}
	return d, nil
}

// loadCollection resolves {namespace}/{name} and checks the request method
// against it.
func (s *Server) loadCollection(w http.ResponseWriter, r *http.Request) (*models.Collection, bool) {
	c, err := s.Store.GetCollectionByName(r.Context(), httputil.PathString(r, "namespace"), httputil.PathString(r, "name"))
	if err != nil {
		httputil.WriteErr(w, r, err)
		return nil, false
	}
	if !s.authorize(w, r, access.KindCollection, c, nil) {
		return nil, false
	}
	return c, true
}

// getCollection handles GET /api/v2/collections/{namespace}/{name}/
func (s *Server) getCollection(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCollection(w, r)
	if !ok {
		return
	}
	d, err := s.describeCollection(r, c)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteSuccess(w, d)
}

type collectionUpdate struct {
	Deprecated *bool `json:"deprecated"`
}

// updateCollection handles PUT /api/v2/collections/{namespace}/{name}/.
// Only the deprecated flag is writable.
func (s *Server) updateCollection(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCollection(w, r)
	if !ok {
		return
	}
	var req collectionUpdate
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Deprecated == nil {
		httputil.WriteValidationErrors(w, map[string][]string{"deprecated": {"This field is required."}})
		return
	}
	c.Deprecated = *req.Deprecated
	if err := s.Store.UpdateCollection(r.Context(), c); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if s.Indexer != nil {
		if err := s.Indexer.IndexCollection(r.Context(), c.ID); err != nil {
			observability.FromContext(r.Context()).WithError(err).WithField("collection", c.FQN()).Warn("failed to reindex collection")
		}
	}
	d, err := s.describeCollection(r, c)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteSuccess(w, d)
}

// sortVersions orders versions newest first by semver precedence.
func sortVersions(versions []*models.CollectionVersion) {
	parsed := make(map[*models.CollectionVersion]*semver.Version, len(versions))
	for _, v := range versions {
		if sv, err := semver.NewVersion(v.Version); err == nil {
			parsed[v] = sv
		}
	}
	sort.SliceStable(versions, func(i, j int) bool {
		a, b := parsed[versions[i]], parsed[versions[j]]
		if a == nil || b == nil {
			return versions[i].Version > versions[j].Version
		}
		return a.GreaterThan(b)
	})
}

// listCollectionVersions handles
// GET /api/v2/collections/{namespace}/{name}/versions/. Hidden versions are
// listed for owners only.
func (s *Server) listCollectionVersions(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCollection(w, r)
	if !ok {
		return
	}
	page, ok := pageOrError(w, r)
	if !ok {
		return
	}
	includeHidden := s.perm.Allows(r, access.KindCollection, access.ActionChange, c, nil)
	versions, err := s.Store.ListCollectionVersions(r.Context(), c.ID, includeHidden)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	sortVersions(versions)

	visible := window(versions, page)
	out := make([]versionSummary, 0, len(visible))
	for _, v := range visible {
		out = append(out, versionSummary{Version: v.Version, Href: versionHref(c, v.Version)})
	}
	httputil.WritePage(w, r, out, int64(len(versions)), page)
}

// loadVersion resolves {namespace}/{name}/versions/{version}. Hidden
// versions are reported as not found to those who may not see them.
func (s *Server) loadVersion(w http.ResponseWriter, r *http.Request) (*models.Collection, *models.CollectionVersion, bool) {
	c, ok := s.loadCollection(w, r)
	if !ok {
		return nil, nil, false
	}
	v, err := s.Store.GetCollectionVersion(r.Context(), c.ID, httputil.PathString(r, "version"))
	if err != nil {
		httputil.WriteErr(w, r, err)
		return nil, nil, false
	}
	if !s.perm.Allows(r, access.KindCollectionVersion, access.ActionRead, v, nil) {
		httputil.WriteNotFound(w)
		return nil, nil, false
	}
	return c, v, true
}

func describeVersion(c *models.Collection, v *models.CollectionVersion) versionDetail {
	d := versionDetail{
		CollectionVersion: v,
		Href:              versionHref(c, v.Version),
		DownloadURL:       versionHref(c, v.Version) + "artifact/",
	}
	d.Collection.ID = c.ID
	d.Collection.Namespace = c.NamespaceName
	d.Collection.Name = c.Name
	d.Collection.Href = collectionHref(c)
	return d
}

// getCollectionVersion handles
// GET /api/v2/collections/{namespace}/{name}/versions/{version}/
func (s *Server) getCollectionVersion(w http.ResponseWriter, r *http.Request) {
	c, v, ok := s.loadVersion(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, describeVersion(c, v))
}

type versionUpdate struct {
	Hidden *bool `json:"hidden"`
}

// updateCollectionVersion handles
// PUT /api/v2/collections/{namespace}/{name}/versions/{version}/. Owners
// hide or reveal a release; the collection's latest version is recomputed
// over what remains visible.
func (s *Server) updateCollectionVersion(w http.ResponseWriter, r *http.Request) {
	c, v, ok := s.loadVersion(w, r)
	if !ok {
		return
	}
	var req versionUpdate
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Hidden == nil {
		httputil.WriteValidationErrors(w, map[string][]string{"hidden": {"This field is required."}})
		return
	}
	ctx := r.Context()
	if err := s.Store.SetCollectionVersionHidden(ctx, v.ID, *req.Hidden); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	v.Hidden = *req.Hidden

	visible, err := s.Store.ListCollectionVersions(ctx, c.ID, false)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	c.LatestVersionID = nil
	if latest := importer.LatestRelease(visible); latest != nil {
		c.LatestVersionID = &latest.ID
		c.Tags = latest.Metadata.Tags
	}
	if err := s.Store.UpdateCollection(ctx, c); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if s.Indexer != nil {
		if err := s.Indexer.IndexCollection(ctx, c.ID); err != nil {
			observability.FromContext(ctx).WithError(err).WithField("collection", c.FQN()).Warn("failed to reindex collection")
		}
	}

	httputil.WriteSuccess(w, describeVersion(c, v))
}

// downloadArtifact handles
// GET /api/v2/collections/{namespace}/{name}/versions/{version}/artifact/
// and counts the download.
func (s *Server) downloadArtifact(w http.ResponseWriter, r *http.Request) {
	c, v, ok := s.loadVersion(w, r)
	if !ok {
		return
	}
	key := v.ArtifactKey
	if key == "" {
		key = models.ArtifactKey(c.NamespaceName, c.Name, v.Version)
	}
	body, err := s.Artifacts.Get(r.Context(), key)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	defer body.Close()

	if _, err := s.Store.IncrementCollectionDownloads(r.Context(), c.ID); err != nil {
		observability.FromContext(r.Context()).WithError(err).WithField("collection", c.FQN()).Warn("failed to count download")
	}
	if s.Metrics != nil {
		s.Metrics.DownloadsTotal.WithLabelValues("collection").Inc()
	}

	filename := v.ArtifactFilename
	if filename == "" {
		filename = models.ArtifactFilename(c.NamespaceName, c.Name, v.Version)
	}
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if v.ArtifactSize > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(v.ArtifactSize, 10))
	}
	if v.ArtifactSHA256 != "" {
		w.Header().Set("X-Checksum-Sha256", v.ArtifactSHA256)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		observability.FromContext(r.Context()).WithError(err).Debug("artifact download interrupted")
	}
}
