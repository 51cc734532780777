package importer

import (
	"context"
	"fmt"

	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/observability"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

// importRole fetches the repository at the task's reference, lints its
// metadata and replaces the repository's role content and versions.
func (i *Importer) importRole(ctx context.Context, task *models.ImportTask) (*outcome, error) {
	if task.RepositoryID == nil {
		return nil, errors.New("role import has no repository")
	}
	repo, err := i.Store.GetRepository(ctx, *task.RepositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load repository: %w", err)
	}
	pns, err := i.Store.GetProviderNamespace(ctx, repo.ProviderNamespaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load provider namespace: %w", err)
	}
	owner, name := pns.Name, task.GitHubRepo
	if name == "" {
		name = repo.Name
	}

	info, err := i.Source.GetRepository(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	ref := task.GitHubReference
	if ref == "" {
		ref = repo.ImportBranch
	}
	if ref == "" {
		ref = info.DefaultBranch
	}
	task.AddMessage(models.LevelInfo, "", fmt.Sprintf("Importing %s/%s at %s", owner, name, ref))

	commit, err := i.Source.GetCommit(ctx, owner, name, ref)
	if err != nil {
		return nil, err
	}
	task.CommitSHA = commit.SHA
	task.CommitMessage = commit.Message
	task.ImportBranch = ref

	raw, err := i.fetchMeta(ctx, owner, name, commit.SHA)
	if err != nil {
		return nil, err
	}
	meta, err := ParseRoleMeta(raw)
	if err != nil {
		return nil, err
	}

	roleName := RoleName(repo.Name, firstNonEmpty(task.AlternateRoleName, meta.RoleName))
	if !models.ValidName(roleName) {
		return nil, errors.WithType(fmt.Errorf("role name %q must contain only letters, digits and underscores", roleName), errors.NotValid)
	}

	findings := Lint(meta, i.rules)
	addFindings(task, roleName, findings)
	warnings, errs := Counts(findings)
	score := QualityScore(warnings, errs)

	readme, err := i.Source.GetReadme(ctx, owner, name, commit.SHA)
	switch {
	case errors.Is(err, errors.NotFound):
		task.AddMessage(models.LevelWarning, roleName, "repository has no README")
		readme = &Readme{}
	case err != nil:
		return nil, err
	}

	tags, err := i.Source.ListTags(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	versions := VersionsFromTags(tags)
	if err := i.Store.ReplaceRepositoryVersions(ctx, repo.ID, versions); err != nil {
		return nil, fmt.Errorf("failed to save versions: %w", err)
	}
	if len(versions) > 0 {
		task.AddMessage(models.LevelInfo, roleName, fmt.Sprintf("Found %d versions, latest %s",
			len(versions), versions[len(versions)-1].Version))
	}

	var namespaceID int64
	if pns.NamespaceID != nil {
		namespaceID = *pns.NamespaceID
	}
	tagsKept := meta.Tags
	if len(tagsKept) > maxTags {
		tagsKept = tagsKept[:maxTags]
	}
	content := &models.Content{
		RepositoryID:      repo.ID,
		NamespaceID:       namespaceID,
		ContentType:       models.ContentTypeRole,
		Name:              roleName,
		OriginalName:      repo.Name,
		Description:       firstNonEmpty(meta.Description, info.Description),
		Author:            meta.Author,
		Company:           meta.Company,
		License:           meta.License,
		MinAnsibleVersion: meta.MinAnsibleVersion,
		Platforms:         meta.Platforms,
		CloudPlatforms:    meta.CloudPlatforms,
		Tags:              tagsKept,
		Dependencies:      meta.Dependencies,
		QualityScore:      &score,
		MetadataScore:     &score,
		Deprecated:        repo.Deprecated,
	}
	if err := i.Store.UpsertContent(ctx, content); err != nil {
		return nil, fmt.Errorf("failed to save role %s: %w", roleName, err)
	}
	removed, err := i.Store.DeleteStaleContent(ctx, repo.ID, []int64{content.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to remove stale content: %w", err)
	}

	repo.Description = content.Description
	repo.Format = models.FormatRole
	repo.Commit = commit.SHA
	repo.CommitMessage = commit.Message
	repo.CommitURL = commit.URL
	repo.CommitCreated = commit.Date
	repo.Stargazers = info.Stargazers
	repo.Watchers = info.Watchers
	repo.Forks = info.Forks
	repo.OpenIssues = info.OpenIssues
	repo.Readme = readme.Content
	repo.ReadmeType = readme.Type
	if repo.ImportBranch == "" {
		repo.ImportBranch = ref
	}
	repo.QualityScore, err = i.repositoryScore(ctx, repo.ID)
	if err != nil {
		return nil, err
	}
	if err := i.Store.UpdateRepository(ctx, repo); err != nil {
		return nil, fmt.Errorf("failed to update repository: %w", err)
	}

	i.reindexContent(ctx, []int64{content.ID}, removed)

	nsName := pns.Name
	if namespaceID != 0 {
		if ns, err := i.Store.GetNamespace(ctx, namespaceID); err == nil {
			nsName = ns.Name
		}
	}
	return &outcome{repository: repo, name: roleName, namespace: nsName}, nil
}

func (i *Importer) fetchMeta(ctx context.Context, owner, name, ref string) ([]byte, error) {
	for _, p := range metaPaths {
		raw, err := i.Source.GetFile(ctx, owner, name, ref, p)
		if err == nil {
			return raw, nil
		}
		if !errors.Is(err, errors.NotFound) {
			return nil, err
		}
	}
	return nil, errors.WithType(errors.New("meta/main.yml not found"), errors.NotValid)
}

// repositoryScore is the mean quality score of the repository's content.
func (i *Importer) repositoryScore(ctx context.Context, repoID int64) (*float64, error) {
	var scores []*float64
	page := models.NewPageRequest(1, 100)
	for {
		items, total, err := i.Store.ListContent(ctx, storage.ContentFilter{RepositoryID: repoID}, page)
		if err != nil {
			return nil, fmt.Errorf("failed to list repository content: %w", err)
		}
		for _, c := range items {
			scores = append(scores, c.QualityScore)
		}
		if int64(page.Offset()+len(items)) >= total || len(items) == 0 {
			break
		}
		page.Page++
	}
	return MeanScore(scores), nil
}

// reindexContent keeps the search index in step. Index failures are logged;
// the nightly rebuild repairs them.
func (i *Importer) reindexContent(ctx context.Context, indexed, removed []int64) {
	if i.Indexer == nil {
		return
	}
	logger := observability.GetLogger(ctx)
	if len(removed) > 0 {
		if err := i.Indexer.RemoveContent(ctx, removed...); err != nil {
			logger.WithError(err).Warn("failed to remove content from the search index")
		}
	}
	if err := i.Indexer.IndexContent(ctx, indexed...); err != nil {
		logger.WithError(err).Warn("failed to index content")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
