package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

func (s *Store) copyCollection(c *models.Collection) *models.Collection {
	out := *c
	out.Tags = slices.Clone(c.Tags)
	if ns, ok := s.namespaces[c.NamespaceID]; ok {
		out.NamespaceName = ns.Name
	}
	return &out
}

func (s *Store) CreateCollection(ctx context.Context, c *models.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.namespaces[c.NamespaceID]; !ok {
		return errors.NotValidf("namespace %d", c.NamespaceID)
	}
	for _, existing := range s.collections {
		if existing.NamespaceID == c.NamespaceID && strings.EqualFold(existing.Name, c.Name) {
			return errors.AlreadyExistsf("collection %q", c.Name)
		}
	}
	c.ID = s.nextID("collection")
	c.Created = s.now()
	c.Modified = c.Created
	s.collections[c.ID] = s.copyCollection(c)
	c.NamespaceName = s.collections[c.ID].NamespaceName
	return nil
}

func (s *Store) GetCollection(ctx context.Context, id int64) (*models.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[id]
	if !ok {
		return nil, errors.NotFoundf("collection %d", id)
	}
	return s.copyCollection(c), nil
}

func (s *Store) GetCollectionByName(ctx context.Context, namespace, name string) (*models.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.collections {
		ns, ok := s.namespaces[c.NamespaceID]
		if ok && strings.EqualFold(ns.Name, namespace) && strings.EqualFold(c.Name, name) {
			return s.copyCollection(c), nil
		}
	}
	return nil, errors.NotFoundf("collection %s.%s", namespace, name)
}

func (s *Store) UpdateCollection(ctx context.Context, c *models.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.collections[c.ID]
	if !ok {
		return errors.NotFoundf("collection %d", c.ID)
	}
	c.Created = existing.Created
	c.DownloadCount = existing.DownloadCount
	c.Modified = s.now()
	s.collections[c.ID] = s.copyCollection(c)
	return nil
}

func (s *Store) DeleteCollection(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[id]; !ok {
		return errors.NotFoundf("collection %d", id)
	}
	for vid, v := range s.collVersions {
		if v.CollectionID == id {
			delete(s.collVersions, vid)
		}
	}
	delete(s.collections, id)
	return nil
}

func (s *Store) ListCollections(ctx context.Context, filter storage.CollectionFilter, page models.PageRequest) ([]*models.Collection, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Collection
	for _, c := range s.collections {
		if filter.NamespaceID != 0 && c.NamespaceID != filter.NamespaceID {
			continue
		}
		if filter.Name != "" && !strings.EqualFold(c.Name, filter.Name) {
			continue
		}
		if filter.Deprecated != nil && c.Deprecated != *filter.Deprecated {
			continue
		}
		out = append(out, s.copyCollection(c))
	}
	sortByID(out, func(c *models.Collection) int64 { return c.ID })
	items, total := paginate(out, page)
	return items, total, nil
}

func (s *Store) IncrementCollectionDownloads(ctx context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[id]
	if !ok {
		return 0, errors.NotFoundf("collection %d", id)
	}
	c.DownloadCount++
	return c.DownloadCount, nil
}

func copyVersion(v *models.CollectionVersion) *models.CollectionVersion {
	out := *v
	out.Contents = slices.Clone(v.Contents)
	return &out
}

func (s *Store) CreateCollectionVersion(ctx context.Context, v *models.CollectionVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[v.CollectionID]; !ok {
		return errors.NotValidf("collection %d", v.CollectionID)
	}
	for _, existing := range s.collVersions {
		if existing.CollectionID == v.CollectionID && existing.Version == v.Version {
			return errors.AlreadyExistsf("collection version %s", v.Version)
		}
	}
	v.ID = s.nextID("collection_version")
	v.Created = s.now()
	s.collVersions[v.ID] = copyVersion(v)
	return nil
}

func (s *Store) GetCollectionVersion(ctx context.Context, collectionID int64, version string) (*models.CollectionVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.collVersions {
		if v.CollectionID == collectionID && v.Version == version {
			return copyVersion(v), nil
		}
	}
	return nil, errors.NotFoundf("collection version %s", version)
}

func (s *Store) GetCollectionVersionByID(ctx context.Context, id int64) (*models.CollectionVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.collVersions[id]
	if !ok {
		return nil, errors.NotFoundf("collection version %d", id)
	}
	return copyVersion(v), nil
}

func (s *Store) ListCollectionVersions(ctx context.Context, collectionID int64, includeHidden bool) ([]*models.CollectionVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.CollectionVersion
	for _, v := range s.collVersions {
		if v.CollectionID != collectionID || (v.Hidden && !includeHidden) {
			continue
		}
		out = append(out, copyVersion(v))
	}
	sortByID(out, func(v *models.CollectionVersion) int64 { return v.ID })
	return out, nil
}

func (s *Store) SetCollectionVersionHidden(ctx context.Context, id int64, hidden bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.collVersions[id]
	if !ok {
		return errors.NotFoundf("collection version %d", id)
	}
	v.Hidden = hidden
	return nil
}
