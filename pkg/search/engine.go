package search

import (
	"context"
	"time"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

// Engine runs ranked searches. Implementations must honor every filter in
// ParsedQuery, return only keyword matches when keywords are present and
// order by q.OrderBy with name then id as tie breakers.
type Engine interface {
	Name() string
	SearchContent(ctx context.Context, q *ParsedQuery) ([]*ContentResult, int64, error)
	SearchCollections(ctx context.Context, q *ParsedQuery) ([]*CollectionResult, int64, error)
}

// Indexer keeps an engine's index in step with the store. Callers invoke it
// after content or collections change.
type Indexer interface {
	IndexContent(ctx context.Context, ids ...int64) error
	RemoveContent(ctx context.Context, ids ...int64) error
	IndexCollection(ctx context.Context, ids ...int64) error
	RemoveCollection(ctx context.Context, ids ...int64) error
	// Rebuild reindexes everything and returns the number of documents.
	Rebuild(ctx context.Context) (int, error)
}

// ContentResult is a content search hit.
type ContentResult struct {
	ID             int64             `json:"id"`
	Name           string            `json:"name"`
	ContentType    string            `json:"content_type"`
	Description    string            `json:"description"`
	RepositoryID   int64             `json:"repository_id"`
	RepositoryName string            `json:"repository_name"`
	NamespaceID    int64             `json:"namespace_id"`
	NamespaceName  string            `json:"namespace_name"`
	IsVendor       bool              `json:"is_vendor"`
	Tags           []string          `json:"tags"`
	Platforms      []models.Platform `json:"platforms"`
	CloudPlatforms []string          `json:"cloud_platforms"`
	Deprecated     bool              `json:"deprecated"`
	DownloadCount  int64             `json:"download_count"`
	CommunityScore *float64          `json:"community_score"`
	QualityScore   *float64          `json:"quality_score"`
	Created        time.Time         `json:"created"`
	Modified       time.Time         `json:"modified"`
	Ranks
}

// CollectionResult is a collection search hit with its latest version.
type CollectionResult struct {
	ID                   int64     `json:"id"`
	Name                 string    `json:"name"`
	NamespaceID          int64     `json:"namespace_id"`
	NamespaceName        string    `json:"namespace_name"`
	IsVendor             bool      `json:"is_vendor"`
	Description          string    `json:"description"`
	LatestVersion        string    `json:"latest_version"`
	Tags                 []string  `json:"tags"`
	Deprecated           bool      `json:"deprecated"`
	DownloadCount        int64     `json:"download_count"`
	CommunityScore       *float64  `json:"community_score"`
	CommunitySurveyCount int       `json:"community_survey_count"`
	QualityScore         *float64  `json:"quality_score"`
	Created              time.Time `json:"created"`
	Modified             time.Time `json:"modified"`
	Ranks
}

var (
	_ Engine  = (*PostgresEngine)(nil)
	_ Indexer = (*PostgresEngine)(nil)
	_ Engine  = (*MemoryEngine)(nil)
	_ Indexer = (*MemoryEngine)(nil)
)
