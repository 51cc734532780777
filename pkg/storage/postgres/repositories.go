package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/juju/errors"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

const repositoryColumns = `id, provider_namespace_id, name, original_name, description, format,
	import_branch, commit_hash, commit_message, commit_url, commit_created,
	stargazers_count, watchers_count, forks_count, open_issues_count, download_count,
	quality_score, community_score, community_survey_count, deprecated, is_enabled,
	readme, readme_type, created, modified`

const repositoryOwnersQuery = `SELECT repository_id, user_id FROM repository_owners
	WHERE repository_id = ANY($1) ORDER BY user_id`

func scanRepository(row rowScanner) (*models.Repository, error) {
	var r models.Repository
	var commitCreated sql.NullTime
	var quality, community sql.NullFloat64
	if err := row.Scan(&r.ID, &r.ProviderNamespaceID, &r.Name, &r.OriginalName, &r.Description, &r.Format,
		&r.ImportBranch, &r.Commit, &r.CommitMessage, &r.CommitURL, &commitCreated,
		&r.Stargazers, &r.Watchers, &r.Forks, &r.OpenIssues, &r.DownloadCount,
		&quality, &community, &r.CommunitySurveyCount, &r.Deprecated, &r.IsEnabled,
		&r.Readme, &r.ReadmeType, &r.Created, &r.Modified); err != nil {
		return nil, err
	}
	r.CommitCreated = timePtr(commitCreated)
	r.QualityScore = floatPtr(quality)
	r.CommunityScore = floatPtr(community)
	return &r, nil
}

func repositoryKey(id int64) string {
	return cacheKey("repository", strconv.FormatInt(id, 10))
}

func (s *Store) attachRepositoryOwners(ctx context.Context, repos ...*models.Repository) error {
	ids := make([]int64, len(repos))
	for i, r := range repos {
		ids[i] = r.ID
	}
	owners, err := loadIDs(ctx, s.replica(), repositoryOwnersQuery, ids)
	if err != nil {
		return fmt.Errorf("failed to load repository owners: %w", err)
	}
	for _, r := range repos {
		r.Owners = ownersOrEmpty(owners[r.ID])
	}
	return nil
}

func (s *Store) CreateRepository(ctx context.Context, repo *models.Repository) (err error) {
	ctx, span := startSpan(ctx, "CreateRepository", attribute.String("repository", repo.Name))
	defer func() { endSpan(span, err) }()

	what := fmt.Sprintf("repository %q", repo.Name)
	tx, err := s.primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO repositories (provider_namespace_id, name, original_name, description, format,
			import_branch, commit_hash, commit_message, commit_url, commit_created,
			stargazers_count, watchers_count, forks_count, open_issues_count,
			quality_score, community_score, community_survey_count, deprecated, is_enabled,
			readme, readme_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING id, created, modified`,
		repo.ProviderNamespaceID, repo.Name, repo.OriginalName, repo.Description, string(repo.Format),
		repo.ImportBranch, repo.Commit, repo.CommitMessage, repo.CommitURL, repo.CommitCreated,
		repo.Stargazers, repo.Watchers, repo.Forks, repo.OpenIssues,
		repo.QualityScore, repo.CommunityScore, repo.CommunitySurveyCount, repo.Deprecated, repo.IsEnabled,
		repo.Readme, repo.ReadmeType,
	).Scan(&repo.ID, &repo.Created, &repo.Modified)
	if err != nil {
		return classify(err, what)
	}
	if err = replaceOwners(ctx, tx, "repository_owners", "repository_id", repo.ID, repo.Owners); err != nil {
		return classify(err, what)
	}
	repo.Owners = ownersOrEmpty(repo.Owners)
	return tx.Commit()
}

func (s *Store) GetRepository(ctx context.Context, id int64) (*models.Repository, error) {
	key := repositoryKey(id)
	var cached models.Repository
	if s.cache.get(ctx, key, &cached) {
		return &cached, nil
	}

	r, err := scanRepository(s.replica().QueryRowContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE id = $1`, id))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("repository %d", id))
	}
	if err := s.attachRepositoryOwners(ctx, r); err != nil {
		return nil, err
	}
	s.cache.set(ctx, "repository", key, r)
	return r, nil
}

func (s *Store) GetRepositoryByName(ctx context.Context, providerNamespaceID int64, name string) (*models.Repository, error) {
	r, err := scanRepository(s.replica().QueryRowContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories
		 WHERE provider_namespace_id = $1 AND LOWER(name) = LOWER($2)`, providerNamespaceID, name))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("repository %q", name))
	}
	if err := s.attachRepositoryOwners(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateRepository writes every mutable column. The download counter is
// owned by IncrementRepositoryDownloads and is read back, not written.
func (s *Store) UpdateRepository(ctx context.Context, repo *models.Repository) (err error) {
	ctx, span := startSpan(ctx, "UpdateRepository", attribute.Int64("repository.id", repo.ID))
	defer func() { endSpan(span, err) }()

	what := fmt.Sprintf("repository %d", repo.ID)
	tx, err := s.primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		UPDATE repositories SET provider_namespace_id = $2, name = $3, original_name = $4, description = $5,
			format = $6, import_branch = $7, commit_hash = $8, commit_message = $9, commit_url = $10,
			commit_created = $11, stargazers_count = $12, watchers_count = $13, forks_count = $14,
			open_issues_count = $15, quality_score = $16, community_score = $17,
			community_survey_count = $18, deprecated = $19, is_enabled = $20, readme = $21,
			readme_type = $22, modified = NOW()
		WHERE id = $1
		RETURNING download_count, created, modified`,
		repo.ID, repo.ProviderNamespaceID, repo.Name, repo.OriginalName, repo.Description,
		string(repo.Format), repo.ImportBranch, repo.Commit, repo.CommitMessage, repo.CommitURL,
		repo.CommitCreated, repo.Stargazers, repo.Watchers, repo.Forks,
		repo.OpenIssues, repo.QualityScore, repo.CommunityScore,
		repo.CommunitySurveyCount, repo.Deprecated, repo.IsEnabled, repo.Readme,
		repo.ReadmeType,
	).Scan(&repo.DownloadCount, &repo.Created, &repo.Modified)
	if err != nil {
		return classify(err, what)
	}
	if err = replaceOwners(ctx, tx, "repository_owners", "repository_id", repo.ID, repo.Owners); err != nil {
		return classify(err, what)
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	repo.Owners = ownersOrEmpty(repo.Owners)
	s.cache.invalidate(ctx, repositoryKey(repo.ID))
	return nil
}

func (s *Store) DeleteRepository(ctx context.Context, id int64) error {
	what := fmt.Sprintf("repository %d", id)
	res, err := s.primary().ExecContext(ctx, `DELETE FROM repositories WHERE id = $1`, id)
	if err != nil {
		return classify(err, what)
	}
	if err := mustAffect(res, what); err != nil {
		return err
	}
	s.cache.invalidate(ctx, repositoryKey(id))
	return nil
}

func (s *Store) ListRepositories(ctx context.Context, filter storage.RepositoryFilter, page models.PageRequest) ([]*models.Repository, int64, error) {
	var c conds
	if filter.ProviderNamespaceID != 0 {
		c.add("provider_namespace_id = ?", filter.ProviderNamespaceID)
	}
	if filter.NamespaceID != 0 {
		c.add("provider_namespace_id IN (SELECT id FROM provider_namespaces WHERE namespace_id = ?)", filter.NamespaceID)
	}
	if filter.Name != "" {
		c.add("LOWER(name) = LOWER(?)", filter.Name)
	}
	if filter.OwnerID != 0 {
		c.add("id IN (SELECT repository_id FROM repository_owners WHERE user_id = ?)", filter.OwnerID)
	}

	total, err := s.count(ctx, "repositories", &c)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count repositories: %w", err)
	}
	limit, args := c.limit(page)
	rows, err := s.replica().QueryContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories`+c.where()+` ORDER BY id`+limit, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var out []*models.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := s.attachRepositoryOwners(ctx, out...); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) IncrementRepositoryDownloads(ctx context.Context, id int64) (int64, error) {
	var n int64
	err := s.primary().QueryRowContext(ctx,
		`UPDATE repositories SET download_count = download_count + 1 WHERE id = $1 RETURNING download_count`, id,
	).Scan(&n)
	if err != nil {
		return 0, classify(err, fmt.Sprintf("repository %d", id))
	}
	s.cache.invalidate(ctx, repositoryKey(id))
	return n, nil
}

func (s *Store) ReplaceRepositoryVersions(ctx context.Context, repoID int64, versions []*models.RepositoryVersion) error {
	what := fmt.Sprintf("repository %d", repoID)
	tx, err := s.primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM repositories WHERE id = $1)`, repoID).Scan(&exists); err != nil {
		return classify(err, what)
	}
	if !exists {
		return errors.NotFoundf("%s", what)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM repository_versions WHERE repository_id = $1`, repoID); err != nil {
		return classify(err, what)
	}
	for _, v := range versions {
		v.RepositoryID = repoID
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO repository_versions (repository_id, version, tag, commit_sha, commit_date)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			repoID, v.Version, v.Tag, v.CommitSHA, v.CommitDate,
		).Scan(&v.ID); err != nil {
			return classify(err, fmt.Sprintf("repository version %q", v.Version))
		}
	}
	return tx.Commit()
}

func (s *Store) ListRepositoryVersions(ctx context.Context, repoID int64) ([]*models.RepositoryVersion, error) {
	rows, err := s.replica().QueryContext(ctx, `
		SELECT id, repository_id, version, tag, commit_sha, commit_date
		FROM repository_versions WHERE repository_id = $1 ORDER BY id`, repoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list repository versions: %w", err)
	}
	defer rows.Close()

	out := []*models.RepositoryVersion{}
	for rows.Next() {
		var v models.RepositoryVersion
		var date sql.NullTime
		if err := rows.Scan(&v.ID, &v.RepositoryID, &v.Version, &v.Tag, &v.CommitSHA, &date); err != nil {
			return nil, err
		}
		v.CommitDate = timePtr(date)
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (s *Store) ListContentTypes(ctx context.Context) ([]*models.ContentType, error) {
	rows, err := s.replica().QueryContext(ctx, `SELECT id, name, description FROM content_types ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list content types: %w", err)
	}
	defer rows.Close()

	var out []*models.ContentType
	for rows.Next() {
		var ct models.ContentType
		if err := rows.Scan(&ct.ID, &ct.Name, &ct.Description); err != nil {
			return nil, err
		}
		s.lookup.Add("content_type:"+ct.Name, ct.ID)
		out = append(out, &ct)
	}
	return out, rows.Err()
}

func (s *Store) contentTypeID(ctx context.Context, name string) (int64, error) {
	if id, ok := s.lookup.Get("content_type:" + name); ok {
		return id, nil
	}
	var id int64
	err := s.replica().QueryRowContext(ctx, `SELECT id FROM content_types WHERE name = $1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.NotValidf("content type %q", name)
	} else if err != nil {
		return 0, fmt.Errorf("failed to resolve content type: %w", err)
	}
	s.lookup.Add("content_type:"+name, id)
	return id, nil
}

const contentSelect = `SELECT c.id, c.repository_id, c.namespace_id, ct.name, c.name, c.original_name,
	c.description, c.author, c.company, c.license, c.min_ansible_version, c.platforms,
	c.cloud_platforms, c.tags, c.dependencies, c.quality_score, c.metadata_score,
	c.compatibility_score, c.content_score, c.deprecated, r.download_count, c.created, c.modified
	FROM content c
	JOIN content_types ct ON ct.id = c.content_type_id
	JOIN repositories r ON r.id = c.repository_id`

func scanContent(row rowScanner) (*models.Content, error) {
	var c models.Content
	var nsID sql.NullInt64
	var platforms []byte
	var quality, metadata, compat, contentScore sql.NullFloat64
	if err := row.Scan(&c.ID, &c.RepositoryID, &nsID, &c.ContentType, &c.Name, &c.OriginalName,
		&c.Description, &c.Author, &c.Company, &c.License, &c.MinAnsibleVersion, &platforms,
		pq.Array(&c.CloudPlatforms), pq.Array(&c.Tags), pq.Array(&c.Dependencies), &quality, &metadata,
		&compat, &contentScore, &c.Deprecated, &c.DownloadCount, &c.Created, &c.Modified); err != nil {
		return nil, err
	}
	if nsID.Valid {
		c.NamespaceID = nsID.Int64
	}
	if err := json.Unmarshal(platforms, &c.Platforms); err != nil {
		return nil, fmt.Errorf("bad platforms for content %d: %w", c.ID, err)
	}
	c.QualityScore = floatPtr(quality)
	c.MetadataScore = floatPtr(metadata)
	c.CompatibilityScore = floatPtr(compat)
	c.ContentScore = floatPtr(contentScore)
	return &c, nil
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

// UpsertContent inserts content or updates the row with the same repository,
// type and name, refreshing its search vector.
func (s *Store) UpsertContent(ctx context.Context, content *models.Content) (err error) {
	ctx, span := startSpan(ctx, "UpsertContent", attribute.String("content", content.Name))
	defer func() { endSpan(span, err) }()

	typeID, err := s.contentTypeID(ctx, content.ContentType)
	if err != nil {
		return err
	}
	platforms, err := json.Marshal(nonNil(content.Platforms))
	if err != nil {
		return fmt.Errorf("failed to encode platforms: %w", err)
	}

	err = s.primary().QueryRowContext(ctx, `
		INSERT INTO content (repository_id, namespace_id, content_type_id, name, original_name, description,
			author, company, license, min_ansible_version, platforms, cloud_platforms, tags, dependencies,
			quality_score, metadata_score, compatibility_score, content_score, deprecated, search_vector)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
			setweight(to_tsvector('simple', $4), 'A') ||
			setweight(to_tsvector('simple', $6), 'B') ||
			setweight(to_tsvector('simple', array_to_string($13::text[], ' ')), 'B'))
		ON CONFLICT (repository_id, content_type_id, name) DO UPDATE SET
			namespace_id = EXCLUDED.namespace_id, original_name = EXCLUDED.original_name,
			description = EXCLUDED.description, author = EXCLUDED.author, company = EXCLUDED.company,
			license = EXCLUDED.license, min_ansible_version = EXCLUDED.min_ansible_version,
			platforms = EXCLUDED.platforms, cloud_platforms = EXCLUDED.cloud_platforms,
			tags = EXCLUDED.tags, dependencies = EXCLUDED.dependencies,
			quality_score = EXCLUDED.quality_score, metadata_score = EXCLUDED.metadata_score,
			compatibility_score = EXCLUDED.compatibility_score, content_score = EXCLUDED.content_score,
			deprecated = EXCLUDED.deprecated, search_vector = EXCLUDED.search_vector, modified = NOW()
		RETURNING id, created, modified`,
		content.RepositoryID, nullableID(content.NamespaceID), typeID, content.Name, content.OriginalName,
		content.Description, content.Author, content.Company, content.License, content.MinAnsibleVersion,
		platforms, pq.Array(nonNil(content.CloudPlatforms)), pq.Array(nonNil(content.Tags)),
		pq.Array(nonNil(content.Dependencies)), content.QualityScore, content.MetadataScore,
		content.CompatibilityScore, content.ContentScore, content.Deprecated,
	).Scan(&content.ID, &content.Created, &content.Modified)
	return classify(err, fmt.Sprintf("content %q", content.Name))
}

func (s *Store) GetContent(ctx context.Context, id int64) (*models.Content, error) {
	c, err := scanContent(s.replica().QueryRowContext(ctx, contentSelect+` WHERE c.id = $1`, id))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("content %d", id))
	}
	return c, nil
}

func (s *Store) ListContent(ctx context.Context, filter storage.ContentFilter, page models.PageRequest) ([]*models.Content, int64, error) {
	var c conds
	if filter.RepositoryID != 0 {
		c.add("c.repository_id = ?", filter.RepositoryID)
	}
	if filter.NamespaceID != 0 {
		c.add("c.namespace_id = ?", filter.NamespaceID)
	}
	if filter.ContentType != "" {
		c.add("ct.name = ?", filter.ContentType)
	}
	if filter.Name != "" {
		c.add("LOWER(c.name) = LOWER(?)", filter.Name)
	}

	total, err := s.count(ctx, "content c JOIN content_types ct ON ct.id = c.content_type_id", &c)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count content: %w", err)
	}
	limit, args := c.limit(page)
	rows, err := s.replica().QueryContext(ctx, contentSelect+c.where()+` ORDER BY c.id`+limit, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list content: %w", err)
	}
	defer rows.Close()

	var out []*models.Content
	for rows.Next() {
		item, err := scanContent(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, item)
	}
	return out, total, rows.Err()
}

func (s *Store) DeleteStaleContent(ctx context.Context, repoID int64, keep []int64) ([]int64, error) {
	rows, err := s.primary().QueryContext(ctx, `
		DELETE FROM content WHERE repository_id = $1 AND NOT (id = ANY($2))
		RETURNING id`, repoID, pq.Array(nonNil(keep)))
	if err != nil {
		return nil, fmt.Errorf("failed to delete stale content: %w", err)
	}
	defer rows.Close()

	var removed []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		removed = append(removed, id)
	}
	return removed, rows.Err()
}

var facetQueries = map[storage.FacetKind]string{
	storage.FacetTags: `SELECT LOWER(t), COUNT(*) FROM content, unnest(tags) AS t
		GROUP BY 1 ORDER BY 2 DESC, 1`,
	storage.FacetPlatforms: `SELECT p.name, COUNT(DISTINCT c.id)
		FROM content c, jsonb_to_recordset(c.platforms) AS p(name TEXT, release TEXT)
		GROUP BY 1 ORDER BY 2 DESC, 1`,
}

func (s *Store) ListFacets(ctx context.Context, facet storage.FacetKind) ([]models.Facet, error) {
	query, ok := facetQueries[facet]
	if !ok {
		return nil, errors.NotValidf("facet %q", facet)
	}
	rows, err := s.replica().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s facets: %w", facet, err)
	}
	defer rows.Close()

	out := []models.Facet{}
	for rows.Next() {
		var f models.Facet
		if err := rows.Scan(&f.Name, &f.Count); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
