// Package memory implements storage.Store in process memory. It backs the
// development server and the HTTP handler tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

var _ storage.Store = (*Store)(nil)

// Store is a mutex-guarded, map-backed storage.Store.
type Store struct {
	mu sync.RWMutex

	seq map[string]int64

	users         map[int64]*models.User
	tokens        map[int64]*models.APIToken
	namespaces    map[int64]*models.Namespace
	providers     map[int64]*models.Provider
	providerNS    map[int64]*models.ProviderNamespace
	repositories  map[int64]*models.Repository
	repoVersions  map[int64][]*models.RepositoryVersion
	contentTypes  []*models.ContentType
	content       map[int64]*models.Content
	collections   map[int64]*models.Collection
	collVersions  map[int64]*models.CollectionVersion
	importTasks   map[int64]*models.ImportTask
	surveys       map[int64]*models.Survey
	notifications map[int64]*models.Notification
	preferences   map[int64]*models.NotificationPreferences

	now func() time.Time
}

// New returns an empty store seeded with the GitHub provider and the known
// content types.
func New() *Store {
	s := &Store{
		seq:           make(map[string]int64),
		users:         make(map[int64]*models.User),
		tokens:        make(map[int64]*models.APIToken),
		namespaces:    make(map[int64]*models.Namespace),
		providers:     make(map[int64]*models.Provider),
		providerNS:    make(map[int64]*models.ProviderNamespace),
		repositories:  make(map[int64]*models.Repository),
		repoVersions:  make(map[int64][]*models.RepositoryVersion),
		content:       make(map[int64]*models.Content),
		collections:   make(map[int64]*models.Collection),
		collVersions:  make(map[int64]*models.CollectionVersion),
		importTasks:   make(map[int64]*models.ImportTask),
		surveys:       make(map[int64]*models.Survey),
		notifications: make(map[int64]*models.Notification),
		preferences:   make(map[int64]*models.NotificationPreferences),
		now:           func() time.Time { return time.Now().UTC() },
	}

	id := s.nextID("provider")
	s.providers[id] = &models.Provider{ID: id, Name: models.ProviderGitHub, Description: "Public GitHub", Active: true}

	for _, name := range models.KnownContentTypes {
		s.contentTypes = append(s.contentTypes, &models.ContentType{ID: s.nextID("content_type"), Name: name})
	}
	return s
}

func (s *Store) nextID(kind string) int64 {
	s.seq[kind]++
	return s.seq[kind]
}

// HealthCheck implements storage.Store.
func (s *Store) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return nil
}

func paginate[T any](items []T, page models.PageRequest) ([]T, int64) {
	start, end := page.Window(len(items))
	return items[start:end], int64(len(items))
}

func sortByID[T any](items []T, id func(T) int64) {
	sort.Slice(items, func(i, j int) bool { return id(items[i]) < id(items[j]) })
}

func cloneIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return slices.Clone(ids)
}
