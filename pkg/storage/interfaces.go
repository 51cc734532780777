package storage

import (
	"context"
	"io"
	"time"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

// UserStore persists accounts and API tokens.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	ListUsers(ctx context.Context, filter UserFilter, page models.PageRequest) ([]*models.User, int64, error)

	CreateToken(ctx context.Context, token *models.APIToken) error
	GetTokenByHash(ctx context.Context, hash string) (*models.APIToken, error)
	TouchToken(ctx context.Context, id int64, at time.Time) error
	DeleteToken(ctx context.Context, id int64) error
	DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error)
}

// NamespaceStore persists namespaces, providers and provider namespaces.
type NamespaceStore interface {
	CreateNamespace(ctx context.Context, ns *models.Namespace) error
	GetNamespace(ctx context.Context, id int64) (*models.Namespace, error)
	GetNamespaceByName(ctx context.Context, name string) (*models.Namespace, error)
	UpdateNamespace(ctx context.Context, ns *models.Namespace) error
	DeleteNamespace(ctx context.Context, id int64) error
	ListNamespaces(ctx context.Context, filter NamespaceFilter, page models.PageRequest) ([]*models.Namespace, int64, error)

	ListProviders(ctx context.Context) ([]*models.Provider, error)
	GetProvider(ctx context.Context, id int64) (*models.Provider, error)
	GetProviderByName(ctx context.Context, name string) (*models.Provider, error)

	CreateProviderNamespace(ctx context.Context, pns *models.ProviderNamespace) error
	GetProviderNamespace(ctx context.Context, id int64) (*models.ProviderNamespace, error)
	GetProviderNamespaceByName(ctx context.Context, providerID int64, name string) (*models.ProviderNamespace, error)
	UpdateProviderNamespace(ctx context.Context, pns *models.ProviderNamespace) error
	DeleteProviderNamespace(ctx context.Context, id int64) error
	ListProviderNamespaces(ctx context.Context, filter ProviderNamespaceFilter, page models.PageRequest) ([]*models.ProviderNamespace, int64, error)
}

// RepositoryStore persists repositories, their versions and their content.
type RepositoryStore interface {
	CreateRepository(ctx context.Context, repo *models.Repository) error
	GetRepository(ctx context.Context, id int64) (*models.Repository, error)
	GetRepositoryByName(ctx context.Context, providerNamespaceID int64, name string) (*models.Repository, error)
	UpdateRepository(ctx context.Context, repo *models.Repository) error
	DeleteRepository(ctx context.Context, id int64) error
	ListRepositories(ctx context.Context, filter RepositoryFilter, page models.PageRequest) ([]*models.Repository, int64, error)
	IncrementRepositoryDownloads(ctx context.Context, id int64) (int64, error)

	ReplaceRepositoryVersions(ctx context.Context, repoID int64, versions []*models.RepositoryVersion) error
	ListRepositoryVersions(ctx context.Context, repoID int64) ([]*models.RepositoryVersion, error)

	ListContentTypes(ctx context.Context) ([]*models.ContentType, error)
	UpsertContent(ctx context.Context, content *models.Content) error
	GetContent(ctx context.Context, id int64) (*models.Content, error)
	ListContent(ctx context.Context, filter ContentFilter, page models.PageRequest) ([]*models.Content, int64, error)
	DeleteStaleContent(ctx context.Context, repoID int64, keep []int64) ([]int64, error)
	ListFacets(ctx context.Context, facet FacetKind) ([]models.Facet, error)
}

// CollectionStore persists collections and their versions.
type CollectionStore interface {
	CreateCollection(ctx context.Context, c *models.Collection) error
	GetCollection(ctx context.Context, id int64) (*models.Collection, error)
	GetCollectionByName(ctx context.Context, namespace, name string) (*models.Collection, error)
	UpdateCollection(ctx context.Context, c *models.Collection) error
	DeleteCollection(ctx context.Context, id int64) error
	ListCollections(ctx context.Context, filter CollectionFilter, page models.PageRequest) ([]*models.Collection, int64, error)
	IncrementCollectionDownloads(ctx context.Context, id int64) (int64, error)

	CreateCollectionVersion(ctx context.Context, v *models.CollectionVersion) error
	GetCollectionVersion(ctx context.Context, collectionID int64, version string) (*models.CollectionVersion, error)
	GetCollectionVersionByID(ctx context.Context, id int64) (*models.CollectionVersion, error)
	ListCollectionVersions(ctx context.Context, collectionID int64, includeHidden bool) ([]*models.CollectionVersion, error)
	SetCollectionVersionHidden(ctx context.Context, id int64, hidden bool) error
}

// ImportStore persists import tasks.
type ImportStore interface {
	CreateImportTask(ctx context.Context, task *models.ImportTask) error
	GetImportTask(ctx context.Context, id int64) (*models.ImportTask, error)
	UpdateImportTask(ctx context.Context, task *models.ImportTask) error
	ListImportTasks(ctx context.Context, filter ImportFilter, page models.PageRequest) ([]*models.ImportTask, int64, error)
	ListStaleImportTasks(ctx context.Context, state models.TaskState, before time.Time) ([]*models.ImportTask, error)
}

// SurveyStore persists community surveys and keeps the aggregate scores of
// the rated object in step.
type SurveyStore interface {
	CreateSurvey(ctx context.Context, s *models.Survey) error
	GetSurvey(ctx context.Context, id int64) (*models.Survey, error)
	UpdateSurvey(ctx context.Context, s *models.Survey) error
	DeleteSurvey(ctx context.Context, id int64) error
	ListSurveys(ctx context.Context, filter SurveyFilter, page models.PageRequest) ([]*models.Survey, int64, error)
	RecomputeCommunityScore(ctx context.Context, kind models.SurveyKind, objectID int64) (*float64, int, error)
}

// NotificationStore persists notifications and per-user preferences.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetNotification(ctx context.Context, id int64) (*models.Notification, error)
	UpdateNotification(ctx context.Context, n *models.Notification) error
	DeleteNotification(ctx context.Context, id int64) error
	ListNotifications(ctx context.Context, userID int64, page models.PageRequest) ([]*models.Notification, int64, error)
	ClearNotifications(ctx context.Context, userID int64) (int64, error)
	PurgeNotifications(ctx context.Context, before time.Time) (int64, error)

	GetPreferences(ctx context.Context, userID int64) (*models.NotificationPreferences, error)
	SavePreferences(ctx context.Context, prefs *models.NotificationPreferences) error
}

// Store is the complete persistence surface of the hub.
type Store interface {
	UserStore
	NamespaceStore
	RepositoryStore
	CollectionStore
	ImportStore
	SurveyStore
	NotificationStore

	HealthCheck(ctx context.Context) error
	Close() error
}

// ArtifactStore holds collection tarballs.
type ArtifactStore interface {
	// Put stores r under key. When sha256 is non-empty the stored bytes must
	// hash to it or Put fails and nothing is kept.
	Put(ctx context.Context, key string, r io.Reader, sha256 string) (*ArtifactInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// ArtifactInfo describes a stored artifact.
type ArtifactInfo struct {
	Key    string
	Size   int64
	SHA256 string
}

// FacetKind selects the value set counted by ListFacets.
type FacetKind string

const (
	FacetTags      FacetKind = "tags"
	FacetPlatforms FacetKind = "platforms"
)

// UserFilter narrows ListUsers.
type UserFilter struct {
	Username string
	Active   *bool
}

// NamespaceFilter narrows ListNamespaces.
type NamespaceFilter struct {
	Name    string
	OwnerID int64
	Vendor  *bool
}

// ProviderNamespaceFilter narrows ListProviderNamespaces.
type ProviderNamespaceFilter struct {
	NamespaceID int64
	ProviderID  int64
	Name        string
}

// RepositoryFilter narrows ListRepositories.
type RepositoryFilter struct {
	ProviderNamespaceID int64
	NamespaceID         int64
	Name                string
	OwnerID             int64
}

// ContentFilter narrows ListContent.
type ContentFilter struct {
	RepositoryID int64
	NamespaceID  int64
	ContentType  string
	Name         string
}

// CollectionFilter narrows ListCollections.
type CollectionFilter struct {
	NamespaceID int64
	Name        string
	Deprecated  *bool
}

// ImportFilter narrows ListImportTasks.
type ImportFilter struct {
	OwnerID      int64
	RepositoryID int64
	NamespaceID  int64
	Type         models.TaskType
	State        models.TaskState
}

// SurveyFilter narrows ListSurveys.
type SurveyFilter struct {
	Kind     models.SurveyKind
	ObjectID int64
	UserID   int64
}

// Config for storage backends
type Config struct {
	Type string // "memory" or "postgres"

	// Artifact backend: "filesystem" or "s3"
	ArtifactBackend string
	FilesystemRoot  string

	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs []string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration

	// S3 config
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Cache config
	CacheEnabled bool
	CacheTTL     map[string]time.Duration
	L1CacheSize  int // entries
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:             "memory",
		ArtifactBackend:  "filesystem",
		FilesystemRoot:   "/tmp/galaxyhub",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheEnabled:     true,
		CacheTTL: map[string]time.Duration{
			"namespace":  10 * time.Minute,
			"collection": 5 * time.Minute,
			"repository": 5 * time.Minute,
		},
		L1CacheSize: 256,
	}
}
