package importer

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/observability"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
	"github.com/platinummonkey/galaxyhub/pkg/storage/memory"
)

type fakeSource struct {
	repo   RepoInfo
	files  map[string]string
	readme *Readme
	tags   []Tag
}

func (f *fakeSource) GetRepository(ctx context.Context, owner, name string) (*RepoInfo, error) {
	if owner != f.repo.Owner || name != f.repo.Name {
		return nil, errors.NotFoundf("repository %s/%s", owner, name)
	}
	info := f.repo
	return &info, nil
}

func (f *fakeSource) GetCommit(ctx context.Context, owner, name, ref string) (*CommitInfo, error) {
	if ref != f.repo.DefaultBranch && ref != "main" {
		return nil, errors.NotFoundf("ref %s", ref)
	}
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return &CommitInfo{SHA: "abc123", Message: "release", URL: "https://github.com/acme/commit/abc123", Date: &date}, nil
}

func (f *fakeSource) GetFile(ctx context.Context, owner, name, ref, filePath string) ([]byte, error) {
	body, ok := f.files[filePath]
	if !ok {
		return nil, errors.NotFoundf("file %s", filePath)
	}
	return []byte(body), nil
}

func (f *fakeSource) GetReadme(ctx context.Context, owner, name, ref string) (*Readme, error) {
	if f.readme == nil {
		return nil, errors.NotFoundf("README")
	}
	return f.readme, nil
}

func (f *fakeSource) ListTags(ctx context.Context, owner, name string) ([]Tag, error) {
	return f.tags, nil
}

type fakeIndexer struct {
	mu          sync.Mutex
	content     []int64
	removed     []int64
	collections []int64
}

func (f *fakeIndexer) IndexContent(ctx context.Context, ids ...int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content = append(f.content, ids...)
	return nil
}

func (f *fakeIndexer) RemoveContent(ctx context.Context, ids ...int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, ids...)
	return nil
}

func (f *fakeIndexer) IndexCollection(ctx context.Context, ids ...int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections = append(f.collections, ids...)
	return nil
}

func (f *fakeIndexer) RemoveCollection(ctx context.Context, ids ...int64) error { return nil }
func (f *fakeIndexer) Rebuild(ctx context.Context) (int, error)                  { return 0, nil }

type recorder struct {
	mu        sync.Mutex
	finished  []models.TaskState
	published []string
	events    []models.EventType
	data      []map[string]interface{}
}

func (r *recorder) ImportFinished(ctx context.Context, task *models.ImportTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, task.State)
	return nil
}

func (r *recorder) CollectionPublished(ctx context.Context, c *models.Collection, v *models.CollectionVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, c.FQN()+" "+v.Version)
	return nil
}

func (r *recorder) Dispatch(ctx context.Context, event models.EventType, data map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.data = append(r.data, data)
	return nil
}

func (r *recorder) snapshot() ([]models.TaskState, []string, []models.EventType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.TaskState(nil), r.finished...), append([]string(nil), r.published...),
		append([]models.EventType(nil), r.events...)
}

// waitEvents blocks until n events were dispatched. Events go out after the
// task record is saved.
func (r *recorder) waitEvents(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.events) >= n
	}, 5*time.Second, 10*time.Millisecond)
}

type fixture struct {
	store     *memory.Store
	artifacts *storage.FileSystemArtifacts
	source    *fakeSource
	indexer   *fakeIndexer
	recorder  *recorder
	metrics   *observability.Metrics
	imp       *Importer
	ns        *models.Namespace
	pns       *models.ProviderNamespace
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	ns := &models.Namespace{Name: "acme", Active: true, Owners: []int64{7}}
	require.NoError(t, store.CreateNamespace(ctx, ns))
	gh, err := store.GetProviderByName(ctx, models.ProviderGitHub)
	require.NoError(t, err)
	pns := &models.ProviderNamespace{Name: "acme-org", ProviderID: gh.ID, NamespaceID: &ns.ID}
	require.NoError(t, store.CreateProviderNamespace(ctx, pns))

	artifacts, err := storage.NewFileSystemArtifacts(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		store:     store,
		artifacts: artifacts,
		source: &fakeSource{
			repo: RepoInfo{Owner: "acme-org", Name: "ansible-role-nginx", DefaultBranch: "master",
				Description: "from github", Stargazers: 12, Forks: 3},
			files:  map[string]string{"meta/main.yml": nginxMeta},
			readme: &Readme{Content: "# nginx", Type: "md"},
			tags:   []Tag{{Name: "v1.0.0", CommitSHA: "a"}, {Name: "v1.1.0", CommitSHA: "b"}},
		},
		indexer:  &fakeIndexer{},
		recorder: &recorder{},
		metrics:  observability.NewMetrics(prometheus.NewRegistry()),
		ns:       ns,
		pns:      pns,
	}
	f.imp = New(ctx, Deps{
		Store:     store,
		Artifacts: artifacts,
		Source:    f.source,
		Indexer:   f.indexer,
		Notifier:  f.recorder,
		Events:    f.recorder,
		Metrics:   f.metrics,
	}, Options{Workers: 1, MaxArtifactBytes: 1 << 20})
	t.Cleanup(func() { f.imp.Shutdown(5 * time.Second) })
	return f
}

func (f *fixture) wait(t *testing.T, taskID int64) *models.ImportTask {
	t.Helper()
	var task *models.ImportTask
	require.Eventually(t, func() bool {
		var err error
		task, err = f.store.GetImportTask(context.Background(), taskID)
		return err == nil && task.State.Finished()
	}, 5*time.Second, 10*time.Millisecond)
	return task
}

func (f *fixture) importRole(t *testing.T, req RoleImportRequest) *models.ImportTask {
	t.Helper()
	ctx := context.Background()
	repo, pns, err := f.imp.ResolveRepository(ctx, req)
	require.NoError(t, err)
	task, err := f.imp.ImportRole(ctx, repo, pns, req, 7)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, task.State)
	return f.wait(t, task.ID)
}

func TestImportRole_Succeeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.importRole(t, RoleImportRequest{GitHubUser: "acme-org", GitHubRepo: "ansible-role-nginx"})
	require.Equal(t, models.TaskSuccess, task.State, task.Error)
	assert.Equal(t, "abc123", task.CommitSHA)
	assert.Equal(t, "master", task.ImportBranch)
	assert.Equal(t, 1, task.WarningCount)
	assert.NotNil(t, task.Started)
	assert.NotNil(t, task.Finished)

	repo, err := f.store.GetRepository(ctx, *task.RepositoryID)
	require.NoError(t, err)
	assert.Equal(t, "abc123", repo.Commit)
	assert.Equal(t, 12, repo.Stargazers)
	assert.Equal(t, "# nginx", repo.Readme)
	assert.Equal(t, "master", repo.ImportBranch)
	require.NotNil(t, repo.QualityScore)
	assert.Equal(t, 4.75, *repo.QualityScore)

	items, total, err := f.store.ListContent(ctx, storage.ContentFilter{RepositoryID: repo.ID}, models.NewPageRequest(1, 10))
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	role := items[0]
	assert.Equal(t, "nginx", role.Name)
	assert.Equal(t, f.ns.ID, role.NamespaceID)
	assert.Equal(t, "Installs and configures nginx", role.Description)
	assert.Equal(t, []string{"web", "nginx"}, role.Tags)

	versions, err := f.store.ListRepositoryVersions(ctx, repo.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 2)

	assert.Equal(t, []int64{role.ID}, f.indexer.content)
	f.recorder.waitEvents(t, 1)
	finished, _, events := f.recorder.snapshot()
	assert.Equal(t, []models.TaskState{models.TaskSuccess}, finished)
	assert.Equal(t, []models.EventType{models.EventImportSucceeded}, events)
	assert.Equal(t, "acme.nginx", f.recorder.data[0]["fqn"])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ImportsTotal.WithLabelValues("role", "SUCCESS")))
}

func TestImportRole_AlternateNameAndReimport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.importRole(t, RoleImportRequest{GitHubUser: "acme-org", GitHubRepo: "ansible-role-nginx"})
	require.Equal(t, models.TaskSuccess, first.State)

	second := f.importRole(t, RoleImportRequest{
		GitHubUser: "acme-org", GitHubRepo: "ansible-role-nginx", AlternateRoleName: "web-server",
	})
	require.Equal(t, models.TaskSuccess, second.State, second.Error)
	assert.Equal(t, *first.RepositoryID, *second.RepositoryID)

	items, total, err := f.store.ListContent(ctx, storage.ContentFilter{RepositoryID: *second.RepositoryID}, models.NewPageRequest(1, 10))
	require.NoError(t, err)
	require.Equal(t, int64(1), total, "the renamed role replaces the old one")
	assert.Equal(t, "web_server", items[0].Name)
	assert.Len(t, f.indexer.removed, 1)
}

func TestImportRole_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*fakeSource)
		request RoleImportRequest
		want    string
	}{
		{"missing metadata", func(s *fakeSource) { s.files = nil }, RoleImportRequest{}, "meta/main.yml not found"},
		{"broken yaml", func(s *fakeSource) { s.files["meta/main.yml"] = "galaxy_info: [" }, RoleImportRequest{}, "invalid YAML"},
		{"unknown ref", func(s *fakeSource) {}, RoleImportRequest{GitHubReference: "feature"}, "ref feature not found"},
		{"invalid role name", func(s *fakeSource) {}, RoleImportRequest{AlternateRoleName: "a"}, "role name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.mutate(f.source)
			req := tt.request
			req.GitHubUser, req.GitHubRepo = "acme-org", "ansible-role-nginx"

			task := f.importRole(t, req)
			assert.Equal(t, models.TaskFailed, task.State)
			assert.Contains(t, task.Error, tt.want)
			last := task.Messages[len(task.Messages)-1]
			assert.Equal(t, models.LevelFailed, last.Level)

			f.recorder.waitEvents(t, 1)
			_, _, events := f.recorder.snapshot()
			assert.Equal(t, []models.EventType{models.EventImportFailed}, events)
		})
	}
}

func TestResolveRepository(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.imp.ResolveRepository(ctx, RoleImportRequest{GitHubUser: "nobody", GitHubRepo: "x"})
	assert.True(t, errors.Is(err, errors.NotValid))

	gh, err := f.store.GetProviderByName(ctx, models.ProviderGitHub)
	require.NoError(t, err)
	require.NoError(t, f.store.CreateProviderNamespace(ctx, &models.ProviderNamespace{Name: "loose", ProviderID: gh.ID}))
	_, _, err = f.imp.ResolveRepository(ctx, RoleImportRequest{GitHubUser: "loose", GitHubRepo: "x"})
	assert.True(t, errors.Is(err, errors.NotValid))

	missing, pns, err := f.imp.FindRepository(ctx, RoleImportRequest{GitHubUser: "acme-org", GitHubRepo: "role"})
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Equal(t, f.pns.ID, pns.ID)

	repo, pns, err := f.imp.ResolveRepository(ctx, RoleImportRequest{GitHubUser: "ACME-ORG", GitHubRepo: "role", GitHubReference: "dev"})
	require.NoError(t, err)
	assert.Equal(t, f.pns.ID, pns.ID)
	assert.Equal(t, "dev", repo.ImportBranch)
	again, _, err := f.imp.ResolveRepository(ctx, RoleImportRequest{GitHubUser: "acme-org", GitHubRepo: "role"})
	require.NoError(t, err)
	assert.Equal(t, repo.ID, again.ID)
}

func TestRoleImportRequest_Validate(t *testing.T) {
	req := RoleImportRequest{AlternateRoleName: "bad name!"}
	errs := req.Validate()
	assert.Contains(t, errs, "github_user")
	assert.Contains(t, errs, "github_repo")
	assert.Contains(t, errs, "alternate_role_name")

	req = RoleImportRequest{GitHubUser: "acme", GitHubRepo: "role", AlternateRoleName: "web-server"}
	assert.Empty(t, req.Validate())
}

func TestTriggerImport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	repo := &models.Repository{ProviderNamespaceID: f.pns.ID, Name: "ansible-role-nginx", Owners: []int64{9}}
	require.NoError(t, f.store.CreateRepository(ctx, repo))

	task, err := f.imp.TriggerImport(ctx, repo, "main")
	require.NoError(t, err)
	assert.Equal(t, int64(9), task.OwnerID)
	assert.Equal(t, "main", task.GitHubReference)

	done := f.wait(t, task.ID)
	assert.Equal(t, models.TaskSuccess, done.State, done.Error)
	assert.Equal(t, "main", done.ImportBranch)
}

func (f *fixture) upload(t *testing.T, filename string, data []byte) (*models.ImportTask, error) {
	t.Helper()
	return f.imp.SubmitCollection(context.Background(), CollectionUpload{
		Filename: filename,
		Size:     int64(len(data)),
		Body:     bytes.NewReader(data),
	}, 7)
}

func TestCollectionImport_PublishesVersions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for n, v := range []string{"1.0.0", "2.0.0-beta.1", "1.1.0"} {
		data := buildArtifact(t, collectionInfo("acme", "web", v), "plugins/modules/site.py")
		task, err := f.upload(t, "acme-web-"+v+".tar.gz", data)
		require.NoError(t, err)
		done := f.wait(t, task.ID)
		require.Equal(t, models.TaskSuccess, done.State, done.Error)
		require.NotNil(t, done.CollectionVersionID)
		f.recorder.waitEvents(t, 2*(n+1))
	}

	c, err := f.store.GetCollectionByName(ctx, "acme", "web")
	require.NoError(t, err)
	require.NotNil(t, c.LatestVersionID)
	latest, err := f.store.GetCollectionVersionByID(ctx, *c.LatestVersionID)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", latest.Version, "prereleases never become latest")
	assert.Equal(t, []models.CollectionContent{{Name: "site", ContentType: models.ContentTypeModule}}, latest.Contents)
	assert.Equal(t, 5.0, *latest.QualityScore)
	assert.Equal(t, "acme-web-1.1.0.tar.gz", latest.ArtifactFilename)
	assert.NotEmpty(t, latest.ArtifactSHA256)

	_, published, events := f.recorder.snapshot()
	assert.Equal(t, []string{"acme.web 1.0.0", "acme.web 2.0.0-beta.1", "acme.web 1.1.0"}, published)
	assert.Contains(t, events, models.EventCollectionPublished)
	assert.Len(t, f.indexer.collections, 3)

	_, err = f.upload(t, "acme-web-1.0.0.tar.gz", buildArtifact(t, collectionInfo("acme", "web", "1.0.0")))
	assert.True(t, errors.Is(err, errors.AlreadyExists))
}

func TestCollectionImport_ManifestMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateNamespace(ctx, &models.Namespace{Name: "other", Active: true}))

	tests := []struct {
		name     string
		filename string
		info     *models.CollectionMetadata
		want     string
	}{
		{"namespace", "other-web-1.0.0.tar.gz", collectionInfo("acme", "web", "1.0.0"), "does not match"},
		{"version", "acme-web-1.0.0.tar.gz", collectionInfo("acme", "web", "1.0.1"), "not the uploaded"},
		{"loose version", "acme-web-1.0.0.tar.gz", collectionInfo("acme", "web", "1.0"), "not a valid semantic version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, err := f.upload(t, tt.filename, buildArtifact(t, tt.info))
			require.NoError(t, err)
			done := f.wait(t, task.ID)
			assert.Equal(t, models.TaskFailed, done.State)
			assert.Contains(t, done.Error, tt.want)

			exists, err := f.artifacts.Exists(ctx, task.ArtifactKey)
			require.NoError(t, err)
			assert.False(t, exists, "rejected tarballs are removed")
		})
	}
}

func TestSubmitCollection_Rejects(t *testing.T) {
	f := newFixture(t)
	data := buildArtifact(t, collectionInfo("acme", "web", "1.0.0"))

	_, err := f.upload(t, "acme-web.tar.gz", data)
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = f.upload(t, "ghost-web-1.0.0.tar.gz", data)
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = f.imp.SubmitCollection(context.Background(), CollectionUpload{
		Filename: "acme-web-1.0.0.tar.gz",
		SHA256:   "00",
		Body:     bytes.NewReader(data),
	}, 7)
	assert.True(t, errors.Is(err, errors.NotValid), "checksum mismatch")

	_, err = f.imp.SubmitCollection(context.Background(), CollectionUpload{
		Filename: "acme-web-1.0.0.tar.gz",
		Size:     2 << 20,
		Body:     bytes.NewReader(data),
	}, 7)
	assert.True(t, errors.Is(err, errors.NotValid), "too large")
}

func TestFailStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started := time.Now().UTC().Add(-2 * time.Hour)
	stuck := &models.ImportTask{Type: models.TaskTypeRole, State: models.TaskRunning, Started: &started}
	require.NoError(t, f.store.CreateImportTask(ctx, stuck))
	recent := time.Now().UTC()
	running := &models.ImportTask{Type: models.TaskTypeRole, State: models.TaskRunning, Started: &recent}
	require.NoError(t, f.store.CreateImportTask(ctx, running))

	n, err := f.imp.FailStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.store.GetImportTask(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, got.State)
	assert.Contains(t, got.Error, "did not finish")
	got, err = f.store.GetImportTask(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskRunning, got.State)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StaleImportsFailed))
}

func TestFailStale_OrphanedPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	orphan := &models.ImportTask{Type: models.TaskTypeRole, State: models.TaskPending}
	require.NoError(t, f.store.CreateImportTask(ctx, orphan))
	f.imp.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }

	n, err := f.imp.FailStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.store.GetImportTask(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, got.State)
	assert.Contains(t, got.Error, "not started")
	require.NotNil(t, got.Finished)

	// a failed task is never picked up afterwards
	require.NoError(t, f.imp.Run(ctx, orphan.ID))
	got, err = f.store.GetImportTask(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, got.State)
}
