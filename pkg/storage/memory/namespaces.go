package memory

import (
	"context"
	"strings"

	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

func copyNamespace(ns *models.Namespace) *models.Namespace {
	c := *ns
	c.Owners = cloneIDs(ns.Owners)
	return &c
}

func (s *Store) CreateNamespace(ctx context.Context, ns *models.Namespace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.namespaces {
		if strings.EqualFold(existing.Name, ns.Name) {
			return errors.AlreadyExistsf("namespace %q", ns.Name)
		}
	}
	ns.ID = s.nextID("namespace")
	ns.Created = s.now()
	ns.Modified = ns.Created
	s.namespaces[ns.ID] = copyNamespace(ns)
	return nil
}

func (s *Store) GetNamespace(ctx context.Context, id int64) (*models.Namespace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns, ok := s.namespaces[id]
	if !ok {
		return nil, errors.NotFoundf("namespace %d", id)
	}
	return copyNamespace(ns), nil
}

func (s *Store) GetNamespaceByName(ctx context.Context, name string) (*models.Namespace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ns := range s.namespaces {
		if strings.EqualFold(ns.Name, name) {
			return copyNamespace(ns), nil
		}
	}
	return nil, errors.NotFoundf("namespace %q", name)
}

func (s *Store) UpdateNamespace(ctx context.Context, ns *models.Namespace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.namespaces[ns.ID]
	if !ok {
		return errors.NotFoundf("namespace %d", ns.ID)
	}
	for _, other := range s.namespaces {
		if other.ID != ns.ID && strings.EqualFold(other.Name, ns.Name) {
			return errors.AlreadyExistsf("namespace %q", ns.Name)
		}
	}
	ns.Created = existing.Created
	ns.Modified = s.now()
	s.namespaces[ns.ID] = copyNamespace(ns)
	return nil
}

func (s *Store) DeleteNamespace(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.namespaces[id]; !ok {
		return errors.NotFoundf("namespace %d", id)
	}
	for _, c := range s.collections {
		if c.NamespaceID == id {
			return errors.NotValidf("namespace %d still has collections", id)
		}
	}
	for _, pns := range s.providerNS {
		if pns.NamespaceID != nil && *pns.NamespaceID == id {
			pns.NamespaceID = nil
		}
	}
	delete(s.namespaces, id)
	return nil
}

func (s *Store) ListNamespaces(ctx context.Context, filter storage.NamespaceFilter, page models.PageRequest) ([]*models.Namespace, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Namespace
	for _, ns := range s.namespaces {
		if filter.Name != "" && !strings.Contains(strings.ToLower(ns.Name), strings.ToLower(filter.Name)) {
			continue
		}
		if filter.OwnerID != 0 && !ns.HasOwner(filter.OwnerID) {
			continue
		}
		if filter.Vendor != nil && ns.IsVendor != *filter.Vendor {
			continue
		}
		out = append(out, copyNamespace(ns))
	}
	sortByID(out, func(n *models.Namespace) int64 { return n.ID })
	items, total := paginate(out, page)
	return items, total, nil
}

func (s *Store) ListProviders(ctx context.Context) ([]*models.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		c := *p
		out = append(out, &c)
	}
	sortByID(out, func(p *models.Provider) int64 { return p.ID })
	return out, nil
}

func (s *Store) GetProvider(ctx context.Context, id int64) (*models.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.providers[id]
	if !ok {
		return nil, errors.NotFoundf("provider %d", id)
	}
	c := *p
	return &c, nil
}

func (s *Store) GetProviderByName(ctx context.Context, name string) (*models.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.providers {
		if strings.EqualFold(p.Name, name) {
			c := *p
			return &c, nil
		}
	}
	return nil, errors.NotFoundf("provider %q", name)
}

func (s *Store) CreateProviderNamespace(ctx context.Context, pns *models.ProviderNamespace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.providers[pns.ProviderID]; !ok {
		return errors.NotValidf("provider %d", pns.ProviderID)
	}
	if pns.NamespaceID != nil {
		if _, ok := s.namespaces[*pns.NamespaceID]; !ok {
			return errors.NotValidf("namespace %d", *pns.NamespaceID)
		}
	}
	for _, existing := range s.providerNS {
		if existing.ProviderID == pns.ProviderID && strings.EqualFold(existing.Name, pns.Name) {
			return errors.AlreadyExistsf("provider namespace %q", pns.Name)
		}
	}
	pns.ID = s.nextID("provider_namespace")
	pns.Created = s.now()
	pns.Modified = pns.Created
	c := *pns
	s.providerNS[pns.ID] = &c
	return nil
}

func (s *Store) GetProviderNamespace(ctx context.Context, id int64) (*models.ProviderNamespace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pns, ok := s.providerNS[id]
	if !ok {
		return nil, errors.NotFoundf("provider namespace %d", id)
	}
	c := *pns
	return &c, nil
}

func (s *Store) GetProviderNamespaceByName(ctx context.Context, providerID int64, name string) (*models.ProviderNamespace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, pns := range s.providerNS {
		if pns.ProviderID == providerID && strings.EqualFold(pns.Name, name) {
			c := *pns
			return &c, nil
		}
	}
	return nil, errors.NotFoundf("provider namespace %q", name)
}

func (s *Store) UpdateProviderNamespace(ctx context.Context, pns *models.ProviderNamespace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.providerNS[pns.ID]
	if !ok {
		return errors.NotFoundf("provider namespace %d", pns.ID)
	}
	if pns.NamespaceID != nil {
		if _, ok := s.namespaces[*pns.NamespaceID]; !ok {
			return errors.NotValidf("namespace %d", *pns.NamespaceID)
		}
	}
	pns.Created = existing.Created
	pns.Modified = s.now()
	c := *pns
	s.providerNS[pns.ID] = &c
	return nil
}

func (s *Store) DeleteProviderNamespace(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.providerNS[id]; !ok {
		return errors.NotFoundf("provider namespace %d", id)
	}
	for _, r := range s.repositories {
		if r.ProviderNamespaceID == id {
			return errors.NotValidf("provider namespace %d still has repositories", id)
		}
	}
	delete(s.providerNS, id)
	return nil
}

func (s *Store) ListProviderNamespaces(ctx context.Context, filter storage.ProviderNamespaceFilter, page models.PageRequest) ([]*models.ProviderNamespace, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ProviderNamespace
	for _, pns := range s.providerNS {
		if filter.NamespaceID != 0 && (pns.NamespaceID == nil || *pns.NamespaceID != filter.NamespaceID) {
			continue
		}
		if filter.ProviderID != 0 && pns.ProviderID != filter.ProviderID {
			continue
		}
		if filter.Name != "" && !strings.EqualFold(pns.Name, filter.Name) {
			continue
		}
		c := *pns
		out = append(out, &c)
	}
	sortByID(out, func(p *models.ProviderNamespace) int64 { return p.ID })
	items, total := paginate(out, page)
	return items, total, nil
}
