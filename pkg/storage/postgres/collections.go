package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

const collectionSelect = `SELECT c.id, c.namespace_id, n.name, c.name, c.deprecated, c.download_count,
	c.community_score, c.community_survey_count, c.latest_version_id, c.tags, c.created, c.modified
	FROM collections c
	JOIN namespaces n ON n.id = c.namespace_id`

const collectionSearchVector = `setweight(to_tsvector('simple', coalesce(c.name, '')), 'A') ||
	setweight(to_tsvector('simple', array_to_string(c.tags, ' ')), 'B')`

func scanCollection(row rowScanner) (*models.Collection, error) {
	var c models.Collection
	var community sql.NullFloat64
	var latest sql.NullInt64
	if err := row.Scan(&c.ID, &c.NamespaceID, &c.NamespaceName, &c.Name, &c.Deprecated, &c.DownloadCount,
		&community, &c.CommunitySurveyCount, &latest, pq.Array(&c.Tags), &c.Created, &c.Modified); err != nil {
		return nil, err
	}
	c.CommunityScore = floatPtr(community)
	c.LatestVersionID = int64Ptr(latest)
	return &c, nil
}

func collectionKey(namespace, name string) string {
	return cacheKey("collection", namespace, name)
}

func (s *Store) CreateCollection(ctx context.Context, c *models.Collection) (err error) {
	ctx, span := startSpan(ctx, "CreateCollection", attribute.String("collection", c.Name))
	defer func() { endSpan(span, err) }()

	err = s.primary().QueryRowContext(ctx, `
		WITH inserted AS (
			INSERT INTO collections (namespace_id, name, deprecated, community_score,
				community_survey_count, latest_version_id, tags, search_vector)
			VALUES ($1, $2::text, $3, $4, $5, $6, $7::text[],
				setweight(to_tsvector('simple', $2::text), 'A') ||
				setweight(to_tsvector('simple', array_to_string($7::text[], ' ')), 'B'))
			RETURNING id, namespace_id, created, modified
		)
		SELECT i.id, n.name, i.created, i.modified FROM inserted i JOIN namespaces n ON n.id = i.namespace_id`,
		c.NamespaceID, c.Name, c.Deprecated, c.CommunityScore,
		c.CommunitySurveyCount, c.LatestVersionID, pq.Array(nonNil(c.Tags)),
	).Scan(&c.ID, &c.NamespaceName, &c.Created, &c.Modified)
	return classify(err, fmt.Sprintf("collection %q", c.Name))
}

func (s *Store) GetCollection(ctx context.Context, id int64) (*models.Collection, error) {
	c, err := scanCollection(s.replica().QueryRowContext(ctx, collectionSelect+` WHERE c.id = $1`, id))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("collection %d", id))
	}
	return c, nil
}

func (s *Store) GetCollectionByName(ctx context.Context, namespace, name string) (*models.Collection, error) {
	key := collectionKey(namespace, name)
	var cached models.Collection
	if s.cache.get(ctx, key, &cached) {
		return &cached, nil
	}

	c, err := scanCollection(s.replica().QueryRowContext(ctx,
		collectionSelect+` WHERE LOWER(n.name) = LOWER($1) AND LOWER(c.name) = LOWER($2)`, namespace, name))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("collection %s.%s", namespace, name))
	}
	s.cache.set(ctx, "collection", key, c)
	return c, nil
}

func (s *Store) UpdateCollection(ctx context.Context, c *models.Collection) (err error) {
	ctx, span := startSpan(ctx, "UpdateCollection", attribute.Int64("collection.id", c.ID))
	defer func() { endSpan(span, err) }()

	err = s.primary().QueryRowContext(ctx, `
		UPDATE collections c SET deprecated = $2, community_score = $3, community_survey_count = $4,
			latest_version_id = $5, tags = $6, modified = NOW()
		WHERE c.id = $1
		RETURNING c.download_count, c.created, c.modified,
			(SELECT n.name FROM namespaces n WHERE n.id = c.namespace_id)`,
		c.ID, c.Deprecated, c.CommunityScore, c.CommunitySurveyCount,
		c.LatestVersionID, pq.Array(nonNil(c.Tags)),
	).Scan(&c.DownloadCount, &c.Created, &c.Modified, &c.NamespaceName)
	if err != nil {
		return classify(err, fmt.Sprintf("collection %d", c.ID))
	}
	if _, err = s.primary().ExecContext(ctx,
		`UPDATE collections c SET search_vector = `+collectionSearchVector+` WHERE c.id = $1`, c.ID); err != nil {
		return fmt.Errorf("failed to refresh collection search vector: %w", err)
	}
	s.cache.invalidate(ctx, collectionKey(c.NamespaceName, c.Name))
	return nil
}

func (s *Store) DeleteCollection(ctx context.Context, id int64) error {
	var namespace, name string
	err := s.primary().QueryRowContext(ctx, `
		DELETE FROM collections c WHERE c.id = $1
		RETURNING (SELECT n.name FROM namespaces n WHERE n.id = c.namespace_id), c.name`, id,
	).Scan(&namespace, &name)
	if err != nil {
		return classify(err, fmt.Sprintf("collection %d", id))
	}
	s.cache.invalidate(ctx, collectionKey(namespace, name))
	return nil
}

func (s *Store) ListCollections(ctx context.Context, filter storage.CollectionFilter, page models.PageRequest) ([]*models.Collection, int64, error) {
	var c conds
	if filter.NamespaceID != 0 {
		c.add("c.namespace_id = ?", filter.NamespaceID)
	}
	if filter.Name != "" {
		c.add("LOWER(c.name) = LOWER(?)", filter.Name)
	}
	if filter.Deprecated != nil {
		c.add("c.deprecated = ?", *filter.Deprecated)
	}

	total, err := s.count(ctx, "collections c", &c)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count collections: %w", err)
	}
	limit, args := c.limit(page)
	rows, err := s.replica().QueryContext(ctx, collectionSelect+c.where()+` ORDER BY c.id`+limit, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var out []*models.Collection
	for rows.Next() {
		col, err := scanCollection(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, col)
	}
	return out, total, rows.Err()
}

func (s *Store) IncrementCollectionDownloads(ctx context.Context, id int64) (int64, error) {
	var n int64
	var namespace, name string
	err := s.primary().QueryRowContext(ctx, `
		UPDATE collections c SET download_count = download_count + 1 WHERE c.id = $1
		RETURNING c.download_count, (SELECT n.name FROM namespaces n WHERE n.id = c.namespace_id), c.name`, id,
	).Scan(&n, &namespace, &name)
	if err != nil {
		return 0, classify(err, fmt.Sprintf("collection %d", id))
	}
	s.cache.invalidate(ctx, collectionKey(namespace, name))
	return n, nil
}

const collectionVersionColumns = `id, collection_id, version, hidden, metadata, contents, quality_score,
	artifact_filename, artifact_key, artifact_sha256, artifact_size, import_task_id, created`

func scanCollectionVersion(row rowScanner) (*models.CollectionVersion, error) {
	var v models.CollectionVersion
	var metadata, contents []byte
	var quality sql.NullFloat64
	var task sql.NullInt64
	if err := row.Scan(&v.ID, &v.CollectionID, &v.Version, &v.Hidden, &metadata, &contents, &quality,
		&v.ArtifactFilename, &v.ArtifactKey, &v.ArtifactSHA256, &v.ArtifactSize, &task, &v.Created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(metadata, &v.Metadata); err != nil {
		return nil, fmt.Errorf("bad metadata for collection version %d: %w", v.ID, err)
	}
	if err := json.Unmarshal(contents, &v.Contents); err != nil {
		return nil, fmt.Errorf("bad contents for collection version %d: %w", v.ID, err)
	}
	v.QualityScore = floatPtr(quality)
	v.ImportTaskID = int64Ptr(task)
	return &v, nil
}

// CreateCollectionVersion stores a release. Visible releases also fold
// their description into the collection's search vector.
func (s *Store) CreateCollectionVersion(ctx context.Context, v *models.CollectionVersion) (err error) {
	ctx, span := startSpan(ctx, "CreateCollectionVersion", attribute.String("version", v.Version))
	defer func() { endSpan(span, err) }()

	metadata, err := json.Marshal(v.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	contents, err := json.Marshal(nonNil(v.Contents))
	if err != nil {
		return fmt.Errorf("failed to encode contents: %w", err)
	}

	tx, err := s.primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO collection_versions (collection_id, version, hidden, metadata, contents, quality_score,
			artifact_filename, artifact_key, artifact_sha256, artifact_size, import_task_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created`,
		v.CollectionID, v.Version, v.Hidden, metadata, contents, v.QualityScore,
		v.ArtifactFilename, v.ArtifactKey, v.ArtifactSHA256, v.ArtifactSize, v.ImportTaskID,
	).Scan(&v.ID, &v.Created)
	if err != nil {
		return classify(err, fmt.Sprintf("collection version %s", v.Version))
	}

	if !v.Hidden {
		if _, err = tx.ExecContext(ctx, `
			UPDATE collections c SET search_vector = `+collectionSearchVector+` ||
				setweight(to_tsvector('simple', $2), 'B')
			WHERE c.id = $1`, v.CollectionID, v.Metadata.Description); err != nil {
			return fmt.Errorf("failed to refresh collection search vector: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetCollectionVersion(ctx context.Context, collectionID int64, version string) (*models.CollectionVersion, error) {
	v, err := scanCollectionVersion(s.replica().QueryRowContext(ctx,
		`SELECT `+collectionVersionColumns+` FROM collection_versions WHERE collection_id = $1 AND version = $2`,
		collectionID, version))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("collection version %s", version))
	}
	return v, nil
}

func (s *Store) GetCollectionVersionByID(ctx context.Context, id int64) (*models.CollectionVersion, error) {
	v, err := scanCollectionVersion(s.replica().QueryRowContext(ctx,
		`SELECT `+collectionVersionColumns+` FROM collection_versions WHERE id = $1`, id))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("collection version %d", id))
	}
	return v, nil
}

func (s *Store) ListCollectionVersions(ctx context.Context, collectionID int64, includeHidden bool) ([]*models.CollectionVersion, error) {
	query := `SELECT ` + collectionVersionColumns + ` FROM collection_versions WHERE collection_id = $1`
	if !includeHidden {
		query += ` AND NOT hidden`
	}
	rows, err := s.replica().QueryContext(ctx, query+` ORDER BY id`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection versions: %w", err)
	}
	defer rows.Close()

	var out []*models.CollectionVersion
	for rows.Next() {
		v, err := scanCollectionVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SetCollectionVersionHidden flips a release's visibility. The collection
// row is evicted from the cache since its latest version may change.
func (s *Store) SetCollectionVersionHidden(ctx context.Context, id int64, hidden bool) (err error) {
	ctx, span := startSpan(ctx, "SetCollectionVersionHidden", attribute.Int64("collection_version.id", id))
	defer func() { endSpan(span, err) }()

	var namespace, name string
	err = s.primary().QueryRowContext(ctx, `
		UPDATE collection_versions v SET hidden = $2 FROM collections c, namespaces n
		WHERE v.id = $1 AND c.id = v.collection_id AND n.id = c.namespace_id
		RETURNING n.name, c.name`, id, hidden,
	).Scan(&namespace, &name)
	if err != nil {
		return classify(err, fmt.Sprintf("collection version %d", id))
	}
	s.cache.invalidate(ctx, collectionKey(namespace, name))
	return nil
}
