package search

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

// Source is the part of the store the memory engine reads from. Documents
// are loaded fresh on every search so counters never go stale in the index.
type Source interface {
	GetContent(ctx context.Context, id int64) (*models.Content, error)
	ListContent(ctx context.Context, filter storage.ContentFilter, page models.PageRequest) ([]*models.Content, int64, error)
	GetRepository(ctx context.Context, id int64) (*models.Repository, error)
	GetNamespace(ctx context.Context, id int64) (*models.Namespace, error)
	GetCollection(ctx context.Context, id int64) (*models.Collection, error)
	ListCollections(ctx context.Context, filter storage.CollectionFilter, page models.PageRequest) ([]*models.Collection, int64, error)
	GetCollectionVersionByID(ctx context.Context, id int64) (*models.CollectionVersion, error)
}

// MemoryEngine keeps two in-memory bleve indexes and applies the ranking
// formula in Go. It backs the memory store in dev mode and tests.
type MemoryEngine struct {
	source Source

	mu          sync.RWMutex
	content     bleve.Index
	collections bleve.Index
}

type contentDoc struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

type collectionDoc struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// NewMemoryEngine creates empty indexes over source. Call Rebuild to load
// what the source already holds.
func NewMemoryEngine(source Source) (*MemoryEngine, error) {
	content, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create content search index: %w", err)
	}
	collections, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create collection search index: %w", err)
	}
	return &MemoryEngine{source: source, content: content, collections: collections}, nil
}

func (e *MemoryEngine) Name() string { return "memory" }

func docID(id int64) string { return strconv.FormatInt(id, 10) }

// IndexContent implements Indexer.
func (e *MemoryEngine) IndexContent(ctx context.Context, ids ...int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		c, err := e.source.GetContent(ctx, id)
		if errors.Is(err, errors.NotFound) {
			_ = e.content.Delete(docID(id))
			continue
		} else if err != nil {
			return err
		}
		doc := contentDoc{Name: c.Name, Description: c.Description, Tags: c.Tags}
		if err := e.content.Index(docID(id), doc); err != nil {
			return fmt.Errorf("failed to index content %d: %w", id, err)
		}
	}
	return nil
}

// RemoveContent implements Indexer.
func (e *MemoryEngine) RemoveContent(ctx context.Context, ids ...int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		if err := e.content.Delete(docID(id)); err != nil {
			return fmt.Errorf("failed to remove content %d: %w", id, err)
		}
	}
	return nil
}

// IndexCollection implements Indexer. The latest version's description is
// indexed with the collection.
func (e *MemoryEngine) IndexCollection(ctx context.Context, ids ...int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		c, err := e.source.GetCollection(ctx, id)
		if errors.Is(err, errors.NotFound) {
			_ = e.collections.Delete(docID(id))
			continue
		} else if err != nil {
			return err
		}
		doc := collectionDoc{Name: c.Name, Tags: c.Tags}
		if c.LatestVersionID != nil {
			if v, err := e.source.GetCollectionVersionByID(ctx, *c.LatestVersionID); err == nil {
				doc.Description = v.Metadata.Description
			}
		}
		if err := e.collections.Index(docID(id), doc); err != nil {
			return fmt.Errorf("failed to index collection %d: %w", id, err)
		}
	}
	return nil
}

// RemoveCollection implements Indexer.
func (e *MemoryEngine) RemoveCollection(ctx context.Context, ids ...int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		if err := e.collections.Delete(docID(id)); err != nil {
			return fmt.Errorf("failed to remove collection %d: %w", id, err)
		}
	}
	return nil
}

// Rebuild implements Indexer.
func (e *MemoryEngine) Rebuild(ctx context.Context) (int, error) {
	var contentIDs, collectionIDs []int64
	for page := models.NewPageRequest(1, models.MaxPageSize); ; page.Page++ {
		items, total, err := e.source.ListContent(ctx, storage.ContentFilter{}, page)
		if err != nil {
			return 0, err
		}
		for _, c := range items {
			contentIDs = append(contentIDs, c.ID)
		}
		if int64(page.Page*page.PageSize) >= total {
			break
		}
	}
	for page := models.NewPageRequest(1, models.MaxPageSize); ; page.Page++ {
		items, total, err := e.source.ListCollections(ctx, storage.CollectionFilter{}, page)
		if err != nil {
			return 0, err
		}
		for _, c := range items {
			collectionIDs = append(collectionIDs, c.ID)
		}
		if int64(page.Page*page.PageSize) >= total {
			break
		}
	}

	if err := e.IndexContent(ctx, contentIDs...); err != nil {
		return 0, err
	}
	if err := e.IndexCollection(ctx, collectionIDs...); err != nil {
		return 0, err
	}
	logrus.WithFields(logrus.Fields{
		"content":     len(contentIDs),
		"collections": len(collectionIDs),
	}).Debug("memory search indexes rebuilt")
	return len(contentIDs) + len(collectionIDs), nil
}

// keywordQuery requires every keyword, each matching either as an analyzed
// term or as a prefix, the same way the postgres engine uses "kw:*".
func keywordQuery(keywords []string) query.Query {
	if len(keywords) == 0 {
		return bleve.NewMatchAllQuery()
	}
	parts := make([]query.Query, 0, len(keywords))
	for _, k := range keywords {
		parts = append(parts, bleve.NewDisjunctionQuery(bleve.NewMatchQuery(k), bleve.NewPrefixQuery(strings.ToLower(k))))
	}
	return bleve.NewConjunctionQuery(parts...)
}

// hits returns every matching document id with its normalized search rank.
func hits(idx bleve.Index, keywords []string) (map[int64]float64, error) {
	n, err := idx.DocCount()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return map[int64]float64{}, nil
	}
	req := bleve.NewSearchRequestOptions(keywordQuery(keywords), int(n), 0, false)
	res, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	out := make(map[int64]float64, len(res.Hits))
	for _, h := range res.Hits {
		id, err := strconv.ParseInt(h.ID, 10, 64)
		if err != nil {
			continue
		}
		if len(keywords) > 0 {
			out[id] = NormalizeRank(h.Score)
		} else {
			out[id] = 0
		}
	}
	return out, nil
}

// SearchContent implements Engine.
func (e *MemoryEngine) SearchContent(ctx context.Context, q *ParsedQuery) ([]*ContentResult, int64, error) {
	e.mu.RLock()
	matched, err := hits(e.content, q.Keywords)
	e.mu.RUnlock()
	if err != nil {
		return nil, 0, err
	}

	repos := map[int64]*models.Repository{}
	namespaces := map[int64]*models.Namespace{}
	results := make([]*ContentResult, 0, len(matched))
	for id, rank := range matched {
		c, err := e.source.GetContent(ctx, id)
		if errors.Is(err, errors.NotFound) {
			continue
		} else if err != nil {
			return nil, 0, err
		}
		repo, err := cached(ctx, repos, c.RepositoryID, e.source.GetRepository)
		if err != nil {
			return nil, 0, err
		}
		if repo == nil || !repo.IsEnabled {
			continue
		}
		var ns *models.Namespace
		if c.NamespaceID != 0 {
			if ns, err = cached(ctx, namespaces, c.NamespaceID, e.source.GetNamespace); err != nil {
				return nil, 0, err
			}
		}
		r := newContentResult(c, repo, ns)
		if !matchContent(q, r) {
			continue
		}
		r.Ranks = Rank(rank, r.DownloadCount, r.CommunityScore, r.QualityScore)
		results = append(results, r)
	}

	sortResults(results, q.OrderBy, contentOrderFields)
	start, end := q.Page.Window(len(results))
	return results[start:end], int64(len(results)), nil
}

// cached loads id through get once per search; a missing object yields nil.
func cached[T any](ctx context.Context, m map[int64]*T, id int64, get func(context.Context, int64) (*T, error)) (*T, error) {
	if v, ok := m[id]; ok {
		return v, nil
	}
	v, err := get(ctx, id)
	if errors.Is(err, errors.NotFound) {
		v, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	m[id] = v
	return v, nil
}

func newContentResult(c *models.Content, repo *models.Repository, ns *models.Namespace) *ContentResult {
	r := &ContentResult{
		ID:             c.ID,
		Name:           c.Name,
		ContentType:    c.ContentType,
		Description:    c.Description,
		RepositoryID:   c.RepositoryID,
		RepositoryName: repo.Name,
		Tags:           c.Tags,
		Platforms:      c.Platforms,
		CloudPlatforms: c.CloudPlatforms,
		Deprecated:     c.Deprecated,
		DownloadCount:  repo.DownloadCount,
		CommunityScore: repo.CommunityScore,
		QualityScore:   c.QualityScore,
		Created:        c.Created,
		Modified:       c.Modified,
	}
	if ns != nil {
		r.NamespaceID = ns.ID
		r.NamespaceName = ns.Name
		r.IsVendor = ns.IsVendor
	}
	return r
}

func matchContent(q *ParsedQuery, r *ContentResult) bool {
	if r.Deprecated && !q.IncludeDeprecated() {
		return false
	}
	if q.Vendor != nil && r.IsVendor != *q.Vendor {
		return false
	}
	if !anyOf(q.Namespaces, r.NamespaceName) || !anyOf(q.Names, r.Name) || !anyOf(q.ContentTypes, r.ContentType) {
		return false
	}
	if !anyOf(q.Tags, r.Tags...) || !anyOf(q.CloudPlatforms, r.CloudPlatforms...) {
		return false
	}
	platforms := make([]string, 0, len(r.Platforms))
	for _, p := range r.Platforms {
		platforms = append(platforms, p.Name)
	}
	return anyOf(q.Platforms, platforms...)
}

// anyOf reports whether one of values is in want, ignoring case. An empty
// want matches everything.
func anyOf(want []string, values ...string) bool {
	if len(want) == 0 {
		return true
	}
	for _, v := range values {
		v = strings.ToLower(v)
		for _, w := range want {
			if v == w {
				return true
			}
		}
	}
	return false
}

// SearchCollections implements Engine.
func (e *MemoryEngine) SearchCollections(ctx context.Context, q *ParsedQuery) ([]*CollectionResult, int64, error) {
	e.mu.RLock()
	matched, err := hits(e.collections, q.Keywords)
	e.mu.RUnlock()
	if err != nil {
		return nil, 0, err
	}

	namespaces := map[int64]*models.Namespace{}
	results := make([]*CollectionResult, 0, len(matched))
	for id, rank := range matched {
		c, err := e.source.GetCollection(ctx, id)
		if errors.Is(err, errors.NotFound) {
			continue
		} else if err != nil {
			return nil, 0, err
		}
		if c.LatestVersionID == nil {
			continue
		}
		v, err := e.source.GetCollectionVersionByID(ctx, *c.LatestVersionID)
		if errors.Is(err, errors.NotFound) {
			continue
		} else if err != nil {
			return nil, 0, err
		}
		ns, err := cached(ctx, namespaces, c.NamespaceID, e.source.GetNamespace)
		if err != nil {
			return nil, 0, err
		}
		if ns == nil {
			continue
		}

		r := &CollectionResult{
			ID:                   c.ID,
			Name:                 c.Name,
			NamespaceID:          ns.ID,
			NamespaceName:        ns.Name,
			IsVendor:             ns.IsVendor,
			Description:          v.Metadata.Description,
			LatestVersion:        v.Version,
			Tags:                 c.Tags,
			Deprecated:           c.Deprecated,
			DownloadCount:        c.DownloadCount,
			CommunityScore:       c.CommunityScore,
			CommunitySurveyCount: c.CommunitySurveyCount,
			QualityScore:         v.QualityScore,
			Created:              c.Created,
			Modified:             c.Modified,
		}
		if !matchCollection(q, r, v) {
			continue
		}
		r.Ranks = Rank(rank, r.DownloadCount, r.CommunityScore, r.QualityScore)
		results = append(results, r)
	}

	sortResults(results, q.OrderBy, collectionOrderFields)
	start, end := q.Page.Window(len(results))
	return results[start:end], int64(len(results)), nil
}

func matchCollection(q *ParsedQuery, r *CollectionResult, v *models.CollectionVersion) bool {
	if r.Deprecated && !q.IncludeDeprecated() {
		return false
	}
	if q.Vendor != nil && r.IsVendor != *q.Vendor {
		return false
	}
	if !anyOf(q.Namespaces, r.NamespaceName) || !anyOf(q.Names, r.Name) || !anyOf(q.Tags, r.Tags...) {
		return false
	}
	types := make([]string, 0, len(v.Contents))
	for _, c := range v.Contents {
		types = append(types, c.ContentType)
	}
	return anyOf(q.ContentTypes, types...)
}

// orderFields are the sortable values of a result.
type orderFields struct {
	id        int64
	name      string
	namespace string
	relevance float64
	downloads float64
	quality   float64
	community float64
	created   time.Time
	modified  time.Time
}

func contentOrderFields(r *ContentResult) orderFields {
	return orderFields{
		id: r.ID, name: r.Name, namespace: r.NamespaceName,
		relevance: r.Relevance, downloads: float64(r.DownloadCount),
		quality: deref(r.QualityScore), community: deref(r.CommunityScore),
		created: r.Created, modified: r.Modified,
	}
}

func collectionOrderFields(r *CollectionResult) orderFields {
	return orderFields{
		id: r.ID, name: r.Name, namespace: r.NamespaceName,
		relevance: r.Relevance, downloads: float64(r.DownloadCount),
		quality: deref(r.QualityScore), community: deref(r.CommunityScore),
		created: r.Created, modified: r.Modified,
	}
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

func compareKey(key string, a, b orderFields) int {
	switch key {
	case OrderDownloadCount:
		return compareFloat(a.downloads, b.downloads)
	case OrderName:
		return strings.Compare(a.name, b.name)
	case OrderNamespace:
		return strings.Compare(a.namespace, b.namespace)
	case OrderQualityScore:
		return compareFloat(a.quality, b.quality)
	case OrderCommunityScore:
		return compareFloat(a.community, b.community)
	case OrderCreated:
		return compareTime(a.created, b.created)
	case OrderModified:
		return compareTime(a.modified, b.modified)
	default:
		return compareFloat(a.relevance, b.relevance)
	}
}

// sortResults orders by orderBy, then name ascending, then id ascending.
func sortResults[T any](results []T, orderBy string, fields func(T) orderFields) {
	key, desc := splitOrder(orderBy)
	sort.SliceStable(results, func(i, j int) bool {
		a, b := fields(results[i]), fields(results[j])
		c := compareKey(key, a, b)
		if desc {
			c = -c
		}
		if c == 0 {
			c = strings.Compare(a.name, b.name)
		}
		if c == 0 {
			c = compareFloat(float64(a.id), float64(b.id))
		}
		return c < 0
	})
}
