package memory

import (
	"context"
	"slices"
	"sort"
	"strings"

	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

func copyRepository(r *models.Repository) *models.Repository {
	c := *r
	c.Owners = cloneIDs(r.Owners)
	return &c
}

func (s *Store) repositoryNamespace(r *models.Repository) int64 {
	if pns, ok := s.providerNS[r.ProviderNamespaceID]; ok && pns.NamespaceID != nil {
		return *pns.NamespaceID
	}
	return 0
}

func (s *Store) CreateRepository(ctx context.Context, repo *models.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.providerNS[repo.ProviderNamespaceID]; !ok {
		return errors.NotValidf("provider namespace %d", repo.ProviderNamespaceID)
	}
	for _, r := range s.repositories {
		if r.ProviderNamespaceID == repo.ProviderNamespaceID && strings.EqualFold(r.Name, repo.Name) {
			return errors.AlreadyExistsf("repository %q", repo.Name)
		}
	}
	repo.ID = s.nextID("repository")
	repo.Created = s.now()
	repo.Modified = repo.Created
	s.repositories[repo.ID] = copyRepository(repo)
	return nil
}

func (s *Store) GetRepository(ctx context.Context, id int64) (*models.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.repositories[id]
	if !ok {
		return nil, errors.NotFoundf("repository %d", id)
	}
	return copyRepository(r), nil
}

func (s *Store) GetRepositoryByName(ctx context.Context, providerNamespaceID int64, name string) (*models.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.repositories {
		if r.ProviderNamespaceID == providerNamespaceID && strings.EqualFold(r.Name, name) {
			return copyRepository(r), nil
		}
	}
	return nil, errors.NotFoundf("repository %q", name)
}

func (s *Store) UpdateRepository(ctx context.Context, repo *models.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.repositories[repo.ID]
	if !ok {
		return errors.NotFoundf("repository %d", repo.ID)
	}
	repo.Created = existing.Created
	repo.DownloadCount = existing.DownloadCount
	repo.Modified = s.now()
	s.repositories[repo.ID] = copyRepository(repo)
	return nil
}

func (s *Store) DeleteRepository(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.repositories[id]; !ok {
		return errors.NotFoundf("repository %d", id)
	}
	for cid, c := range s.content {
		if c.RepositoryID == id {
			delete(s.content, cid)
		}
	}
	delete(s.repoVersions, id)
	delete(s.repositories, id)
	return nil
}

func (s *Store) ListRepositories(ctx context.Context, filter storage.RepositoryFilter, page models.PageRequest) ([]*models.Repository, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Repository
	for _, r := range s.repositories {
		if filter.ProviderNamespaceID != 0 && r.ProviderNamespaceID != filter.ProviderNamespaceID {
			continue
		}
		if filter.NamespaceID != 0 && s.repositoryNamespace(r) != filter.NamespaceID {
			continue
		}
		if filter.Name != "" && !strings.EqualFold(r.Name, filter.Name) {
			continue
		}
		if filter.OwnerID != 0 && !r.HasOwner(filter.OwnerID) {
			continue
		}
		out = append(out, copyRepository(r))
	}
	sortByID(out, func(r *models.Repository) int64 { return r.ID })
	items, total := paginate(out, page)
	return items, total, nil
}

func (s *Store) IncrementRepositoryDownloads(ctx context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.repositories[id]
	if !ok {
		return 0, errors.NotFoundf("repository %d", id)
	}
	r.DownloadCount++
	return r.DownloadCount, nil
}

func (s *Store) ReplaceRepositoryVersions(ctx context.Context, repoID int64, versions []*models.RepositoryVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.repositories[repoID]; !ok {
		return errors.NotFoundf("repository %d", repoID)
	}
	stored := make([]*models.RepositoryVersion, 0, len(versions))
	for _, v := range versions {
		v.ID = s.nextID("repository_version")
		v.RepositoryID = repoID
		c := *v
		stored = append(stored, &c)
	}
	s.repoVersions[repoID] = stored
	return nil
}

func (s *Store) ListRepositoryVersions(ctx context.Context, repoID int64) ([]*models.RepositoryVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.RepositoryVersion, 0, len(s.repoVersions[repoID]))
	for _, v := range s.repoVersions[repoID] {
		c := *v
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) ListContentTypes(ctx context.Context) ([]*models.ContentType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.ContentType, 0, len(s.contentTypes))
	for _, ct := range s.contentTypes {
		c := *ct
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) copyContent(c *models.Content) *models.Content {
	out := *c
	out.Platforms = slices.Clone(c.Platforms)
	out.CloudPlatforms = slices.Clone(c.CloudPlatforms)
	out.Tags = slices.Clone(c.Tags)
	out.Dependencies = slices.Clone(c.Dependencies)
	if r, ok := s.repositories[c.RepositoryID]; ok {
		out.DownloadCount = r.DownloadCount
	}
	return &out
}

func (s *Store) UpsertContent(ctx context.Context, content *models.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.repositories[content.RepositoryID]; !ok {
		return errors.NotValidf("repository %d", content.RepositoryID)
	}
	known := false
	for _, ct := range s.contentTypes {
		if ct.Name == content.ContentType {
			known = true
			break
		}
	}
	if !known {
		return errors.NotValidf("content type %q", content.ContentType)
	}

	now := s.now()
	for _, existing := range s.content {
		if existing.RepositoryID == content.RepositoryID &&
			existing.ContentType == content.ContentType &&
			strings.EqualFold(existing.Name, content.Name) {
			content.ID = existing.ID
			content.Created = existing.Created
			content.Modified = now
			s.content[content.ID] = s.copyContent(content)
			return nil
		}
	}
	content.ID = s.nextID("content")
	content.Created = now
	content.Modified = now
	s.content[content.ID] = s.copyContent(content)
	return nil
}

func (s *Store) GetContent(ctx context.Context, id int64) (*models.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.content[id]
	if !ok {
		return nil, errors.NotFoundf("content %d", id)
	}
	return s.copyContent(c), nil
}

func (s *Store) ListContent(ctx context.Context, filter storage.ContentFilter, page models.PageRequest) ([]*models.Content, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Content
	for _, c := range s.content {
		if filter.RepositoryID != 0 && c.RepositoryID != filter.RepositoryID {
			continue
		}
		if filter.NamespaceID != 0 && c.NamespaceID != filter.NamespaceID {
			continue
		}
		if filter.ContentType != "" && c.ContentType != filter.ContentType {
			continue
		}
		if filter.Name != "" && !strings.EqualFold(c.Name, filter.Name) {
			continue
		}
		out = append(out, s.copyContent(c))
	}
	sortByID(out, func(c *models.Content) int64 { return c.ID })
	items, total := paginate(out, page)
	return items, total, nil
}

func (s *Store) DeleteStaleContent(ctx context.Context, repoID int64, keep []int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []int64
	for id, c := range s.content {
		if c.RepositoryID == repoID && !slices.Contains(keep, id) {
			delete(s.content, id)
			removed = append(removed, id)
		}
	}
	slices.Sort(removed)
	return removed, nil
}

func (s *Store) ListFacets(ctx context.Context, facet storage.FacetKind) ([]models.Facet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, c := range s.content {
		switch facet {
		case storage.FacetTags:
			for _, t := range c.Tags {
				counts[strings.ToLower(t)]++
			}
		case storage.FacetPlatforms:
			for _, p := range c.PlatformNames() {
				counts[p]++
			}
		default:
			return nil, errors.NotValidf("facet %q", facet)
		}
	}

	out := make([]models.Facet, 0, len(counts))
	for name, n := range counts {
		out = append(out, models.Facet{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
