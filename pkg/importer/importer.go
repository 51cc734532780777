package importer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/juju/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/galaxyhub/pkg/async"
	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/observability"
	"github.com/platinummonkey/galaxyhub/pkg/search"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
	"github.com/platinummonkey/galaxyhub/pkg/webhooks"
)

var tracer = otel.Tracer("galaxyhub/importer")

// Notifier tells users about finished imports and new releases.
type Notifier interface {
	ImportFinished(ctx context.Context, task *models.ImportTask) error
	CollectionPublished(ctx context.Context, c *models.Collection, v *models.CollectionVersion) error
}

// Deps are the collaborators of an Importer. Indexer, Notifier, Events,
// Metrics and OTel may be nil.
type Deps struct {
	Store     storage.Store
	Artifacts storage.ArtifactStore
	Source    RepoSource
	Indexer   search.Indexer
	Notifier  Notifier
	Events    webhooks.Dispatcher
	Metrics   *observability.Metrics
	OTel      *observability.OTelMetrics
}

// Options tune the worker pool and upload limits.
type Options struct {
	Workers          int
	QueueSize        int
	TaskTimeout      time.Duration
	MaxArtifactBytes int64
	Rules            []Rule
}

// Importer runs role and collection imports on a bounded worker pool.
type Importer struct {
	Deps
	pool        *async.WorkerPool
	maxArtifact int64
	rules       []Rule
	now         func() time.Time
}

var _ webhooks.ImportTrigger = (*Importer)(nil)

// New starts an importer. Call Shutdown to drain it.
func New(ctx context.Context, deps Deps, opts Options) *Importer {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 10 * time.Minute
	}
	if opts.MaxArtifactBytes <= 0 {
		opts.MaxArtifactBytes = 20 << 20
	}
	return &Importer{
		Deps:        deps,
		pool:        async.NewWorkerPool(ctx, opts.Workers, opts.QueueSize, "imports", opts.TaskTimeout),
		maxArtifact: opts.MaxArtifactBytes,
		rules:       opts.Rules,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Shutdown stops accepting imports and waits for running ones.
func (i *Importer) Shutdown(timeout time.Duration) error {
	return i.pool.Shutdown(timeout)
}

// MaxArtifactBytes is the upload size limit.
func (i *Importer) MaxArtifactBytes() int64 {
	return i.maxArtifact
}

// RoleImportRequest asks for a GitHub repository to be imported as a role.
type RoleImportRequest struct {
	GitHubUser        string `json:"github_user"`
	GitHubRepo        string `json:"github_repo"`
	GitHubReference   string `json:"github_reference"`
	AlternateRoleName string `json:"alternate_role_name"`
}

// Validate reports missing or malformed fields by JSON name.
func (r *RoleImportRequest) Validate() map[string][]string {
	errs := map[string][]string{}
	if strings.TrimSpace(r.GitHubUser) == "" {
		errs["github_user"] = append(errs["github_user"], "This field is required.")
	}
	if strings.TrimSpace(r.GitHubRepo) == "" {
		errs["github_repo"] = append(errs["github_repo"], "This field is required.")
	}
	if r.AlternateRoleName != "" && !models.ValidName(RoleName("", r.AlternateRoleName)) {
		errs["alternate_role_name"] = append(errs["alternate_role_name"], "Must contain only letters, digits and underscores.")
	}
	return errs
}

// FindRepository looks up the provider namespace and repository a role
// import targets without creating anything. repo is nil when the repository
// has never been imported. The provider namespace must already exist and be
// linked to a namespace.
func (i *Importer) FindRepository(ctx context.Context, req RoleImportRequest) (*models.Repository, *models.ProviderNamespace, error) {
	provider, err := i.Store.GetProviderByName(ctx, models.ProviderGitHub)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load github provider: %w", err)
	}
	pns, err := i.Store.GetProviderNamespaceByName(ctx, provider.ID, req.GitHubUser)
	if errors.Is(err, errors.NotFound) {
		return nil, nil, errors.WithType(
			fmt.Errorf("provider namespace %q is not registered", req.GitHubUser), errors.NotValid)
	}
	if err != nil {
		return nil, nil, err
	}
	if pns.NamespaceID == nil {
		return nil, nil, errors.WithType(
			fmt.Errorf("provider namespace %q is not linked to a namespace", pns.Name), errors.NotValid)
	}

	repo, err := i.Store.GetRepositoryByName(ctx, pns.ID, req.GitHubRepo)
	if errors.Is(err, errors.NotFound) {
		return nil, pns, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return repo, pns, nil
}

// ResolveRepository is FindRepository that creates the repository under its
// provider namespace on first import.
func (i *Importer) ResolveRepository(ctx context.Context, req RoleImportRequest) (*models.Repository, *models.ProviderNamespace, error) {
	repo, pns, err := i.FindRepository(ctx, req)
	if err != nil || repo != nil {
		return repo, pns, err
	}
	repo = &models.Repository{
		ProviderNamespaceID: pns.ID,
		Name:                req.GitHubRepo,
		OriginalName:        req.GitHubRepo,
		Format:              models.FormatRole,
		ImportBranch:        req.GitHubReference,
		IsEnabled:           true,
	}
	if err := i.Store.CreateRepository(ctx, repo); err != nil {
		return nil, nil, fmt.Errorf("failed to create repository: %w", err)
	}
	return repo, pns, nil
}

// ImportRole queues a role import for repo on behalf of owner.
func (i *Importer) ImportRole(ctx context.Context, repo *models.Repository, pns *models.ProviderNamespace,
	req RoleImportRequest, ownerID int64) (*models.ImportTask, error) {

	task := &models.ImportTask{
		Type:              models.TaskTypeRole,
		State:             models.TaskPending,
		OwnerID:           ownerID,
		RepositoryID:      &repo.ID,
		NamespaceID:       pns.NamespaceID,
		GitHubUser:        pns.Name,
		GitHubRepo:        repo.OriginalName,
		GitHubReference:   req.GitHubReference,
		AlternateRoleName: req.AlternateRoleName,
		ImportBranch:      repo.ImportBranch,
	}
	if task.GitHubRepo == "" {
		task.GitHubRepo = repo.Name
	}
	if err := i.Store.CreateImportTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create import task: %w", err)
	}
	if err := i.submit(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// TriggerImport queues an import of reference for a repository the hub
// already knows. Inbound GitHub and Travis notifications use it.
func (i *Importer) TriggerImport(ctx context.Context, repo *models.Repository, reference string) (*models.ImportTask, error) {
	pns, err := i.Store.GetProviderNamespace(ctx, repo.ProviderNamespaceID)
	if err != nil {
		return nil, err
	}
	var owner int64
	if len(repo.Owners) > 0 {
		owner = repo.Owners[0]
	}
	return i.ImportRole(ctx, repo, pns, RoleImportRequest{
		GitHubUser:      pns.Name,
		GitHubRepo:      repo.Name,
		GitHubReference: reference,
	}, owner)
}

// CollectionUpload is a tarball posted to the collections endpoint.
type CollectionUpload struct {
	Filename string
	SHA256   string
	Size     int64
	Body     io.Reader
}

// SubmitCollection stores an uploaded tarball and queues its import. The
// namespace must exist and the version must be new.
func (i *Importer) SubmitCollection(ctx context.Context, upload CollectionUpload, ownerID int64) (*models.ImportTask, error) {
	name, err := ParseArtifactFilename(upload.Filename)
	if err != nil {
		return nil, err
	}
	if upload.Size > i.maxArtifact {
		return nil, errors.WithType(fmt.Errorf("artifact exceeds the %d byte limit", i.maxArtifact), errors.NotValid)
	}
	ns, err := i.Store.GetNamespaceByName(ctx, name.Namespace)
	if errors.Is(err, errors.NotFound) {
		return nil, errors.WithType(fmt.Errorf("namespace %q does not exist", name.Namespace), errors.NotValid)
	}
	if err != nil {
		return nil, err
	}
	if err := i.checkNewVersion(ctx, name); err != nil {
		return nil, err
	}

	key := models.ArtifactKey(name.Namespace, name.Name, name.Version)
	body := &limitedReader{r: upload.Body, max: i.maxArtifact}
	if _, err := i.Artifacts.Put(ctx, key, body, strings.ToLower(upload.SHA256)); err != nil {
		if errors.Is(err, errors.NotValid) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to store artifact: %w", err)
	}

	task := &models.ImportTask{
		Type:        models.TaskTypeCollection,
		State:       models.TaskPending,
		OwnerID:     ownerID,
		NamespaceID: &ns.ID,
		ArtifactKey: key,
	}
	if err := i.Store.CreateImportTask(ctx, task); err != nil {
		_ = i.Artifacts.Delete(ctx, key)
		return nil, fmt.Errorf("failed to create import task: %w", err)
	}
	if err := i.submit(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (i *Importer) checkNewVersion(ctx context.Context, name *ArtifactName) error {
	c, err := i.Store.GetCollectionByName(ctx, name.Namespace, name.Name)
	if errors.Is(err, errors.NotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = i.Store.GetCollectionVersion(ctx, c.ID, name.Version)
	if err == nil {
		return errors.AlreadyExistsf("%s.%s version %s", name.Namespace, name.Name, name.Version)
	}
	if errors.Is(err, errors.NotFound) {
		return nil
	}
	return err
}

// submit hands the task to the pool. A full queue fails the task at once.
func (i *Importer) submit(ctx context.Context, task *models.ImportTask) error {
	id := task.ID
	err := i.pool.TrySubmit(func(ctx context.Context) error {
		return i.Run(ctx, id)
	})
	if i.Metrics != nil {
		i.Metrics.ImportQueueDepth.Set(float64(i.pool.QueueDepth()))
	}
	if err == nil {
		return nil
	}
	task.State = models.TaskFailed
	task.Error = "the import queue is full, try again later"
	if errors.Is(err, async.ErrPoolClosed) {
		task.Error = "the importer is shutting down, try again later"
	}
	task.AddMessage(models.LevelFailed, "", task.Error)
	finished := i.now()
	task.Finished = &finished
	if uerr := i.Store.UpdateImportTask(ctx, task); uerr != nil {
		observability.GetLogger(ctx).WithError(uerr).Warn("failed to record rejected import")
	}
	return errors.WithType(errors.New(task.Error), errors.QuotaLimitExceeded)
}

// Run executes a queued task. Tasks that are no longer PENDING are left
// alone, so a task failed by FailStale is never run late.
func (i *Importer) Run(ctx context.Context, taskID int64) error {
	task, err := i.Store.GetImportTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to load import task %d: %w", taskID, err)
	}
	if task.State != models.TaskPending {
		return nil
	}

	ctx, span := tracer.Start(ctx, "Importer."+string(task.Type), trace.WithAttributes(
		attribute.Int64("import.task_id", task.ID),
		attribute.String("import.type", string(task.Type)),
	))
	defer span.End()

	logger := observability.GetLogger(ctx).WithFields(map[string]interface{}{
		"task_id": task.ID,
		"type":    task.Type,
	})

	started := i.now()
	task.State = models.TaskRunning
	task.Started = &started
	if err := i.Store.UpdateImportTask(ctx, task); err != nil {
		return fmt.Errorf("failed to start import task %d: %w", task.ID, err)
	}
	logger.Info("import started")

	var (
		runErr error
		out    *outcome
	)
	switch task.Type {
	case models.TaskTypeRole:
		out, runErr = i.importRole(ctx, task)
	case models.TaskTypeCollection:
		out, runErr = i.importCollection(ctx, task)
	default:
		runErr = fmt.Errorf("unknown task type %q", task.Type)
	}

	finished := i.now()
	task.Finished = &finished
	if runErr != nil {
		task.State = models.TaskFailed
		task.Error = runErr.Error()
		task.AddMessage(models.LevelFailed, "", task.Error)
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "import failed")
		logger.WithError(runErr).Warn("import failed")
	} else {
		task.State = models.TaskSuccess
		task.AddMessage(models.LevelInfo, "", "Import completed")
		logger.WithField("warnings", task.WarningCount).Info("import succeeded")
	}
	// the task record must land even when the pool deadline has passed
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := i.Store.UpdateImportTask(saveCtx, task); err != nil {
		return fmt.Errorf("failed to finish import task %d: %w", task.ID, err)
	}

	i.record(saveCtx, task, finished.Sub(started))
	i.announce(saveCtx, task, out)
	return nil
}

func (i *Importer) record(ctx context.Context, task *models.ImportTask, elapsed time.Duration) {
	if i.Metrics != nil {
		i.Metrics.ImportsTotal.WithLabelValues(string(task.Type), string(task.State)).Inc()
		i.Metrics.ImportDuration.WithLabelValues(string(task.Type)).Observe(elapsed.Seconds())
		i.Metrics.ImportQueueDepth.Set(float64(i.pool.QueueDepth()))
	}
	i.OTel.RecordImport(ctx, string(task.Type), string(task.State), elapsed, task.WarningCount, task.ErrorCount)
}

// outcome carries what a successful import produced to the announcers.
type outcome struct {
	repository *models.Repository
	collection *models.Collection
	version    *models.CollectionVersion
	name       string
	namespace  string
}

func (i *Importer) announce(ctx context.Context, task *models.ImportTask, out *outcome) {
	logger := observability.GetLogger(ctx).WithField("task_id", task.ID)
	if i.Notifier != nil {
		if err := i.Notifier.ImportFinished(ctx, task); err != nil {
			logger.WithError(err).Warn("failed to notify import owners")
		}
		if out != nil && out.version != nil {
			if err := i.Notifier.CollectionPublished(ctx, out.collection, out.version); err != nil {
				logger.WithError(err).Warn("failed to notify collection followers")
			}
		}
	}
	if i.Events == nil {
		return
	}

	data := map[string]interface{}{
		"task_id": task.ID,
		"type":    string(task.Type),
	}
	event := models.EventImportSucceeded
	if task.State == models.TaskFailed {
		event = models.EventImportFailed
		data["message"] = task.Error
	}
	if out != nil {
		data["namespace"] = out.namespace
		data["name"] = out.name
		data["fqn"] = out.namespace + "." + out.name
		if out.repository != nil {
			data["repository"] = out.repository.Name
			data["url"] = out.repository.CommitURL
		}
	} else if task.GitHubUser != "" {
		data["repository"] = task.GitHubUser + "/" + task.GitHubRepo
	}
	if err := i.Events.Dispatch(ctx, event, data); err != nil {
		logger.WithError(err).Warn("failed to dispatch import event")
	}

	if out != nil && out.version != nil {
		published := map[string]interface{}{
			"task_id":   task.ID,
			"namespace": out.namespace,
			"name":      out.name,
			"fqn":       out.namespace + "." + out.name,
			"version":   out.version.Version,
			"message":   fmt.Sprintf("%s.%s %s is available", out.namespace, out.name, out.version.Version),
		}
		if err := i.Events.Dispatch(ctx, models.EventCollectionPublished, published); err != nil {
			logger.WithError(err).Warn("failed to dispatch publish event")
		}
	}
}

// FailStale fails tasks that have made no progress within olderThan:
// RUNNING tasks whose worker died, and PENDING tasks whose queue was lost
// when their process restarted.
func (i *Importer) FailStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := i.now().Add(-olderThan)
	stale, err := i.Store.ListStaleImportTasks(ctx, models.TaskRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale imports: %w", err)
	}
	orphaned, err := i.Store.ListStaleImportTasks(ctx, models.TaskPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list orphaned imports: %w", err)
	}
	stale = append(stale, orphaned...)

	var failed int
	for _, task := range stale {
		finished := i.now()
		if task.State == models.TaskPending {
			task.Error = fmt.Sprintf("import was not started within %s", olderThan)
		} else {
			task.Error = fmt.Sprintf("import did not finish within %s", olderThan)
		}
		task.State = models.TaskFailed
		task.AddMessage(models.LevelFailed, "", task.Error)
		task.Finished = &finished
		if err := i.Store.UpdateImportTask(ctx, task); err != nil {
			return failed, fmt.Errorf("failed to fail import task %d: %w", task.ID, err)
		}
		failed++
		i.announce(ctx, task, nil)
	}
	if i.Metrics != nil {
		i.Metrics.StaleImportsFailed.Add(float64(failed))
	}
	return failed, nil
}

// addFindings copies lint findings onto the task as messages.
func addFindings(task *models.ImportTask, contentName string, findings []Finding) {
	for _, f := range findings {
		task.AddMessage(f.Level, contentName, f.Text)
		task.Messages[len(task.Messages)-1].RuleID = f.RuleID
	}
}
