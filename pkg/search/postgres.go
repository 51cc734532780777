package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// PostgresEngine ranks with ts_rank over the search_vector columns kept by
// the postgres store, and computes the popularity and quality components in
// SQL.
type PostgresEngine struct {
	db *sql.DB
}

// NewPostgresEngine creates an engine over db.
func NewPostgresEngine(db *sql.DB) *PostgresEngine {
	return &PostgresEngine{db: db}
}

func (e *PostgresEngine) Name() string { return "postgres" }

// sqlArgs hands out $n placeholders in order.
type sqlArgs struct {
	values []any
}

func (a *sqlArgs) add(v any) string {
	a.values = append(a.values, v)
	return fmt.Sprintf("$%d", len(a.values))
}

type whereClause struct {
	clauses []string
}

func (w *whereClause) add(format string, args ...any) {
	w.clauses = append(w.clauses, fmt.Sprintf(format, args...))
}

func (w *whereClause) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.clauses, "\n\t\t\tAND ")
}

var contentOrderColumns = map[string]string{
	OrderRelevance:      "relevance",
	OrderDownloadCount:  "download_count",
	OrderName:           "name",
	OrderNamespace:      "namespace_name",
	OrderQualityScore:   "coalesce(quality_score, 0)",
	OrderCommunityScore: "coalesce(community_score, 0)",
	OrderCreated:        "created",
	OrderModified:       "modified",
}

// orderClause renders q.OrderBy with the name and id tie breakers.
func orderClause(orderBy string) string {
	key, desc := splitOrder(orderBy)
	col, ok := contentOrderColumns[key]
	if !ok {
		col, desc = "relevance", true
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	return fmt.Sprintf("ORDER BY %s %s, name ASC, id ASC", col, dir)
}

func (e *PostgresEngine) contentQuery(q *ParsedQuery) (string, string, []any) {
	var args sqlArgs
	var where whereClause

	searchRank := "0.0"
	if ts := q.ToTsQuery(); ts != "" {
		p := args.add(ts)
		searchRank = searchRankSQL("c.search_vector", p)
		where.add("c.search_vector @@ to_tsquery('simple', %s)", p)
	}
	if len(q.Namespaces) > 0 {
		where.add("LOWER(n.name) = ANY(%s)", args.add(pq.Array(q.Namespaces)))
	}
	if len(q.Names) > 0 {
		where.add("LOWER(c.name) = ANY(%s)", args.add(pq.Array(q.Names)))
	}
	if len(q.Tags) > 0 {
		where.add("c.tags && %s::text[]", args.add(pq.Array(q.Tags)))
	}
	if len(q.Platforms) > 0 {
		where.add("EXISTS (SELECT 1 FROM jsonb_array_elements(c.platforms) p WHERE LOWER(p->>'name') = ANY(%s))",
			args.add(pq.Array(q.Platforms)))
	}
	if len(q.CloudPlatforms) > 0 {
		where.add("c.cloud_platforms && %s::text[]", args.add(pq.Array(q.CloudPlatforms)))
	}
	if len(q.ContentTypes) > 0 {
		where.add("ct.name = ANY(%s)", args.add(pq.Array(q.ContentTypes)))
	}
	if !q.IncludeDeprecated() {
		where.add("c.deprecated = FALSE")
	}
	if q.Vendor != nil {
		where.add("coalesce(n.is_vendor, FALSE) = %s", args.add(*q.Vendor))
	}
	where.add("r.is_enabled = TRUE")

	from := `FROM content c
		JOIN content_types ct ON ct.id = c.content_type_id
		JOIN repositories r ON r.id = c.repository_id
		LEFT JOIN namespaces n ON n.id = c.namespace_id
		` + where.String()

	countQuery := "SELECT COUNT(*) " + from

	limit := args.add(q.Page.PageSize)
	offset := args.add(q.Page.Offset())
	query := fmt.Sprintf(`
		SELECT id, name, content_type, description, repository_id, repository_name, namespace_id,
			namespace_name, is_vendor, tags, platforms, cloud_platforms, deprecated, download_count,
			community_score, quality_score, created, modified,
			search_rank, %s AS download_rank, quality_rank,
			search_rank + %s + quality_rank AS relevance
		FROM (
			SELECT c.id, c.name, ct.name AS content_type, c.description, c.repository_id,
				r.name AS repository_name, coalesce(n.id, 0) AS namespace_id,
				coalesce(n.name, '') AS namespace_name, coalesce(n.is_vendor, FALSE) AS is_vendor,
				c.tags, c.platforms, c.cloud_platforms, c.deprecated, r.download_count,
				r.community_score, c.quality_score, c.created, c.modified,
				%s AS search_rank,
				%s AS download_ln,
				%s AS quality_rank
			%s
		) ranked
		%s
		LIMIT %s OFFSET %s`,
		downloadRankSQL("download_ln"), downloadRankSQL("download_ln"),
		searchRank, downloadLnSQL("r.community_score", "r.download_count"), qualityRankSQL("c.quality_score"),
		from, orderClause(q.OrderBy), limit, offset)

	return query, countQuery, args.values
}

// SearchContent implements Engine.
func (e *PostgresEngine) SearchContent(ctx context.Context, q *ParsedQuery) ([]*ContentResult, int64, error) {
	query, countQuery, args := e.contentQuery(q)

	total, err := e.count(ctx, countQuery, args[:len(args)-2])
	if err != nil {
		return nil, 0, err
	}

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute content search: %w", err)
	}
	defer rows.Close()

	results := make([]*ContentResult, 0, q.Page.PageSize)
	for rows.Next() {
		var r ContentResult
		var platforms []byte
		var community, quality sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.Name, &r.ContentType, &r.Description, &r.RepositoryID, &r.RepositoryName,
			&r.NamespaceID, &r.NamespaceName, &r.IsVendor, pq.Array(&r.Tags), &platforms,
			pq.Array(&r.CloudPlatforms), &r.Deprecated, &r.DownloadCount, &community, &quality,
			&r.Created, &r.Modified, &r.SearchRank, &r.DownloadRank, &r.QualityRank, &r.Relevance); err != nil {
			return nil, 0, fmt.Errorf("failed to scan content result: %w", err)
		}
		if len(platforms) > 0 {
			if err := json.Unmarshal(platforms, &r.Platforms); err != nil {
				return nil, 0, fmt.Errorf("bad platforms for content %d: %w", r.ID, err)
			}
		}
		r.CommunityScore = nullFloat(community)
		r.QualityScore = nullFloat(quality)
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating content results: %w", err)
	}
	return results, total, nil
}

func (e *PostgresEngine) collectionQuery(q *ParsedQuery) (string, string, []any) {
	var args sqlArgs
	var where whereClause

	searchRank := "0.0"
	if ts := q.ToTsQuery(); ts != "" {
		p := args.add(ts)
		searchRank = searchRankSQL("c.search_vector", p)
		where.add("c.search_vector @@ to_tsquery('simple', %s)", p)
	}
	if len(q.Namespaces) > 0 {
		where.add("LOWER(n.name) = ANY(%s)", args.add(pq.Array(q.Namespaces)))
	}
	if len(q.Names) > 0 {
		where.add("LOWER(c.name) = ANY(%s)", args.add(pq.Array(q.Names)))
	}
	if len(q.Tags) > 0 {
		where.add("c.tags && %s::text[]", args.add(pq.Array(q.Tags)))
	}
	if len(q.ContentTypes) > 0 {
		where.add("EXISTS (SELECT 1 FROM jsonb_array_elements(v.contents) x WHERE x->>'content_type' = ANY(%s))",
			args.add(pq.Array(q.ContentTypes)))
	}
	if !q.IncludeDeprecated() {
		where.add("c.deprecated = FALSE")
	}
	if q.Vendor != nil {
		where.add("n.is_vendor = %s", args.add(*q.Vendor))
	}
	where.add("c.latest_version_id IS NOT NULL")

	from := `FROM collections c
		JOIN namespaces n ON n.id = c.namespace_id
		LEFT JOIN collection_versions v ON v.id = c.latest_version_id
		` + where.String()

	countQuery := "SELECT COUNT(*) " + from

	limit := args.add(q.Page.PageSize)
	offset := args.add(q.Page.Offset())
	query := fmt.Sprintf(`
		SELECT id, name, namespace_id, namespace_name, is_vendor, description, latest_version, tags,
			deprecated, download_count, community_score, community_survey_count, quality_score,
			created, modified,
			search_rank, %s AS download_rank, quality_rank,
			search_rank + %s + quality_rank AS relevance
		FROM (
			SELECT c.id, c.name, c.namespace_id, n.name AS namespace_name, n.is_vendor,
				coalesce(v.metadata->>'description', '') AS description,
				coalesce(v.version, '') AS latest_version, c.tags, c.deprecated, c.download_count,
				c.community_score, c.community_survey_count, v.quality_score, c.created, c.modified,
				%s AS search_rank,
				%s AS download_ln,
				%s AS quality_rank
			%s
		) ranked
		%s
		LIMIT %s OFFSET %s`,
		downloadRankSQL("download_ln"), downloadRankSQL("download_ln"),
		searchRank, downloadLnSQL("c.community_score", "c.download_count"), qualityRankSQL("v.quality_score"),
		from, orderClause(q.OrderBy), limit, offset)

	return query, countQuery, args.values
}

// SearchCollections implements Engine. Collections without a visible
// version are never returned.
func (e *PostgresEngine) SearchCollections(ctx context.Context, q *ParsedQuery) ([]*CollectionResult, int64, error) {
	query, countQuery, args := e.collectionQuery(q)

	total, err := e.count(ctx, countQuery, args[:len(args)-2])
	if err != nil {
		return nil, 0, err
	}

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute collection search: %w", err)
	}
	defer rows.Close()

	results := make([]*CollectionResult, 0, q.Page.PageSize)
	for rows.Next() {
		var r CollectionResult
		var community, quality sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.Name, &r.NamespaceID, &r.NamespaceName, &r.IsVendor, &r.Description,
			&r.LatestVersion, pq.Array(&r.Tags), &r.Deprecated, &r.DownloadCount, &community,
			&r.CommunitySurveyCount, &quality, &r.Created, &r.Modified,
			&r.SearchRank, &r.DownloadRank, &r.QualityRank, &r.Relevance); err != nil {
			return nil, 0, fmt.Errorf("failed to scan collection result: %w", err)
		}
		r.CommunityScore = nullFloat(community)
		r.QualityScore = nullFloat(quality)
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating collection results: %w", err)
	}
	return results, total, nil
}

func (e *PostgresEngine) count(ctx context.Context, query string, args []any) (int64, error) {
	var total int64
	if err := e.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to get total count: %w", err)
	}
	return total, nil
}

func nullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

const contentVectorSQL = `setweight(to_tsvector('simple', c.name), 'A') ||
	setweight(to_tsvector('simple', c.description), 'B') ||
	setweight(to_tsvector('simple', array_to_string(c.tags, ' ')), 'B')`

const collectionVectorSQL = `setweight(to_tsvector('simple', coalesce(c.name, '')), 'A') ||
	setweight(to_tsvector('simple', array_to_string(c.tags, ' ')), 'B') ||
	setweight(to_tsvector('simple', coalesce((SELECT v.metadata->>'description'
		FROM collection_versions v WHERE v.id = c.latest_version_id), '')), 'B')`

// IndexContent recomputes the search vector of the given content rows.
func (e *PostgresEngine) IndexContent(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := e.db.ExecContext(ctx,
		`UPDATE content c SET search_vector = `+contentVectorSQL+` WHERE c.id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to index content: %w", err)
	}
	return nil
}

// RemoveContent is a no-op: a deleted row takes its vector with it.
func (e *PostgresEngine) RemoveContent(ctx context.Context, ids ...int64) error {
	return nil
}

// IndexCollection recomputes the search vector of the given collections,
// including their latest version's description.
func (e *PostgresEngine) IndexCollection(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := e.db.ExecContext(ctx,
		`UPDATE collections c SET search_vector = `+collectionVectorSQL+` WHERE c.id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to index collections: %w", err)
	}
	return nil
}

// RemoveCollection is a no-op, like RemoveContent.
func (e *PostgresEngine) RemoveCollection(ctx context.Context, ids ...int64) error {
	return nil
}

// Rebuild recomputes every search vector in one transaction.
func (e *PostgresEngine) Rebuild(ctx context.Context) (int, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin reindex: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for _, stmt := range []string{
		`UPDATE content c SET search_vector = ` + contentVectorSQL,
		`UPDATE collections c SET search_vector = ` + collectionVectorSQL,
	} {
		res, err := tx.ExecContext(ctx, stmt)
		if err != nil {
			return 0, fmt.Errorf("failed to rebuild search vectors: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit reindex: %w", err)
	}
	return int(total), nil
}
