package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

const namespaceColumns = `id, name, description, company, email, avatar_url, location,
	html_url, is_vendor, active, created, modified`

const namespaceOwnersQuery = `SELECT namespace_id, user_id FROM namespace_owners
	WHERE namespace_id = ANY($1) ORDER BY user_id`

func scanNamespace(row rowScanner) (*models.Namespace, error) {
	var ns models.Namespace
	if err := row.Scan(&ns.ID, &ns.Name, &ns.Description, &ns.Company, &ns.Email, &ns.AvatarURL,
		&ns.Location, &ns.HTMLURL, &ns.IsVendor, &ns.Active, &ns.Created, &ns.Modified); err != nil {
		return nil, err
	}
	return &ns, nil
}

func (s *Store) attachNamespaceOwners(ctx context.Context, nss ...*models.Namespace) error {
	ids := make([]int64, len(nss))
	for i, ns := range nss {
		ids[i] = ns.ID
	}
	owners, err := loadIDs(ctx, s.replica(), namespaceOwnersQuery, ids)
	if err != nil {
		return fmt.Errorf("failed to load namespace owners: %w", err)
	}
	for _, ns := range nss {
		ns.Owners = ownersOrEmpty(owners[ns.ID])
	}
	return nil
}

func (s *Store) CreateNamespace(ctx context.Context, ns *models.Namespace) (err error) {
	ctx, span := startSpan(ctx, "CreateNamespace", attribute.String("namespace", ns.Name))
	defer func() { endSpan(span, err) }()

	what := fmt.Sprintf("namespace %q", ns.Name)
	tx, err := s.primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO namespaces (name, description, company, email, avatar_url, location, html_url, is_vendor, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created, modified`,
		ns.Name, ns.Description, ns.Company, ns.Email, ns.AvatarURL, ns.Location, ns.HTMLURL, ns.IsVendor, ns.Active,
	).Scan(&ns.ID, &ns.Created, &ns.Modified)
	if err != nil {
		return classify(err, what)
	}
	if err = replaceOwners(ctx, tx, "namespace_owners", "namespace_id", ns.ID, ns.Owners); err != nil {
		return classify(err, what)
	}
	ns.Owners = ownersOrEmpty(ns.Owners)
	return tx.Commit()
}

func (s *Store) GetNamespace(ctx context.Context, id int64) (*models.Namespace, error) {
	ns, err := scanNamespace(s.replica().QueryRowContext(ctx,
		`SELECT `+namespaceColumns+` FROM namespaces WHERE id = $1`, id))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("namespace %d", id))
	}
	if err := s.attachNamespaceOwners(ctx, ns); err != nil {
		return nil, err
	}
	return ns, nil
}

func (s *Store) GetNamespaceByName(ctx context.Context, name string) (*models.Namespace, error) {
	key := cacheKey("namespace", name)
	var cached models.Namespace
	if s.cache.get(ctx, key, &cached) {
		return &cached, nil
	}

	ns, err := scanNamespace(s.replica().QueryRowContext(ctx,
		`SELECT `+namespaceColumns+` FROM namespaces WHERE LOWER(name) = LOWER($1)`, name))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("namespace %q", name))
	}
	if err := s.attachNamespaceOwners(ctx, ns); err != nil {
		return nil, err
	}
	s.cache.set(ctx, "namespace", key, ns)
	return ns, nil
}

func (s *Store) UpdateNamespace(ctx context.Context, ns *models.Namespace) (err error) {
	ctx, span := startSpan(ctx, "UpdateNamespace", attribute.Int64("namespace.id", ns.ID))
	defer func() { endSpan(span, err) }()

	what := fmt.Sprintf("namespace %d", ns.ID)
	tx, err := s.primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var oldName string
	if err = tx.QueryRowContext(ctx, `SELECT name FROM namespaces WHERE id = $1 FOR UPDATE`, ns.ID).Scan(&oldName); err != nil {
		return classify(err, what)
	}
	err = tx.QueryRowContext(ctx, `
		UPDATE namespaces SET name = $2, description = $3, company = $4, email = $5, avatar_url = $6,
			location = $7, html_url = $8, is_vendor = $9, active = $10, modified = NOW()
		WHERE id = $1
		RETURNING created, modified`,
		ns.ID, ns.Name, ns.Description, ns.Company, ns.Email, ns.AvatarURL,
		ns.Location, ns.HTMLURL, ns.IsVendor, ns.Active,
	).Scan(&ns.Created, &ns.Modified)
	if err != nil {
		return classify(err, fmt.Sprintf("namespace %q", ns.Name))
	}
	if err = replaceOwners(ctx, tx, "namespace_owners", "namespace_id", ns.ID, ns.Owners); err != nil {
		return classify(err, what)
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	ns.Owners = ownersOrEmpty(ns.Owners)
	s.cache.invalidate(ctx, cacheKey("namespace", oldName), cacheKey("namespace", ns.Name))
	return nil
}

func (s *Store) DeleteNamespace(ctx context.Context, id int64) error {
	what := fmt.Sprintf("namespace %d", id)
	var name string
	err := s.primary().QueryRowContext(ctx, `DELETE FROM namespaces WHERE id = $1 RETURNING name`, id).Scan(&name)
	if err != nil {
		return classify(err, what)
	}
	s.cache.invalidate(ctx, cacheKey("namespace", name))
	return nil
}

func (s *Store) ListNamespaces(ctx context.Context, filter storage.NamespaceFilter, page models.PageRequest) ([]*models.Namespace, int64, error) {
	var c conds
	if filter.Name != "" {
		c.add("name ILIKE ?", "%"+filter.Name+"%")
	}
	if filter.OwnerID != 0 {
		c.add("id IN (SELECT namespace_id FROM namespace_owners WHERE user_id = ?)", filter.OwnerID)
	}
	if filter.Vendor != nil {
		c.add("is_vendor = ?", *filter.Vendor)
	}

	total, err := s.count(ctx, "namespaces", &c)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count namespaces: %w", err)
	}
	limit, args := c.limit(page)
	rows, err := s.replica().QueryContext(ctx,
		`SELECT `+namespaceColumns+` FROM namespaces`+c.where()+` ORDER BY id`+limit, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list namespaces: %w", err)
	}
	defer rows.Close()

	var out []*models.Namespace
	for rows.Next() {
		ns, err := scanNamespace(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, ns)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := s.attachNamespaceOwners(ctx, out...); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func scanProvider(row rowScanner) (*models.Provider, error) {
	var p models.Provider
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Active); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProviders(ctx context.Context) ([]*models.Provider, error) {
	rows, err := s.replica().QueryContext(ctx, `SELECT id, name, description, active FROM providers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var out []*models.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetProvider(ctx context.Context, id int64) (*models.Provider, error) {
	p, err := scanProvider(s.replica().QueryRowContext(ctx,
		`SELECT id, name, description, active FROM providers WHERE id = $1`, id))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("provider %d", id))
	}
	return p, nil
}

// GetProviderByName resolves through the in-process lookup cache; provider
// rows are seeded once and never renamed.
func (s *Store) GetProviderByName(ctx context.Context, name string) (*models.Provider, error) {
	if id, ok := s.lookup.Get("provider:" + name); ok {
		return s.GetProvider(ctx, id)
	}
	p, err := scanProvider(s.replica().QueryRowContext(ctx,
		`SELECT id, name, description, active FROM providers WHERE LOWER(name) = LOWER($1)`, name))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("provider %q", name))
	}
	s.lookup.Add("provider:"+name, p.ID)
	return p, nil
}

const providerNamespaceColumns = `id, name, display_name, provider_id, namespace_id, description,
	company, email, avatar_url, html_url, followers, created, modified`

func scanProviderNamespace(row rowScanner) (*models.ProviderNamespace, error) {
	var p models.ProviderNamespace
	var nsID sql.NullInt64
	if err := row.Scan(&p.ID, &p.Name, &p.DisplayName, &p.ProviderID, &nsID, &p.Description,
		&p.Company, &p.Email, &p.AvatarURL, &p.HTMLURL, &p.Followers, &p.Created, &p.Modified); err != nil {
		return nil, err
	}
	p.NamespaceID = int64Ptr(nsID)
	return &p, nil
}

func (s *Store) CreateProviderNamespace(ctx context.Context, pns *models.ProviderNamespace) error {
	err := s.primary().QueryRowContext(ctx, `
		INSERT INTO provider_namespaces (name, display_name, provider_id, namespace_id, description,
			company, email, avatar_url, html_url, followers)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created, modified`,
		pns.Name, pns.DisplayName, pns.ProviderID, pns.NamespaceID, pns.Description,
		pns.Company, pns.Email, pns.AvatarURL, pns.HTMLURL, pns.Followers,
	).Scan(&pns.ID, &pns.Created, &pns.Modified)
	return classify(err, fmt.Sprintf("provider namespace %q", pns.Name))
}

func (s *Store) GetProviderNamespace(ctx context.Context, id int64) (*models.ProviderNamespace, error) {
	p, err := scanProviderNamespace(s.replica().QueryRowContext(ctx,
		`SELECT `+providerNamespaceColumns+` FROM provider_namespaces WHERE id = $1`, id))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("provider namespace %d", id))
	}
	return p, nil
}

func (s *Store) GetProviderNamespaceByName(ctx context.Context, providerID int64, name string) (*models.ProviderNamespace, error) {
	p, err := scanProviderNamespace(s.replica().QueryRowContext(ctx,
		`SELECT `+providerNamespaceColumns+` FROM provider_namespaces
		 WHERE provider_id = $1 AND LOWER(name) = LOWER($2)`, providerID, name))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("provider namespace %q", name))
	}
	return p, nil
}

func (s *Store) UpdateProviderNamespace(ctx context.Context, pns *models.ProviderNamespace) error {
	err := s.primary().QueryRowContext(ctx, `
		UPDATE provider_namespaces SET name = $2, display_name = $3, namespace_id = $4, description = $5,
			company = $6, email = $7, avatar_url = $8, html_url = $9, followers = $10, modified = NOW()
		WHERE id = $1
		RETURNING created, modified`,
		pns.ID, pns.Name, pns.DisplayName, pns.NamespaceID, pns.Description,
		pns.Company, pns.Email, pns.AvatarURL, pns.HTMLURL, pns.Followers,
	).Scan(&pns.Created, &pns.Modified)
	return classify(err, "provider namespace "+strconv.FormatInt(pns.ID, 10))
}

func (s *Store) DeleteProviderNamespace(ctx context.Context, id int64) error {
	what := fmt.Sprintf("provider namespace %d", id)
	res, err := s.primary().ExecContext(ctx, `DELETE FROM provider_namespaces WHERE id = $1`, id)
	if err != nil {
		return classify(err, what)
	}
	return mustAffect(res, what)
}

func (s *Store) ListProviderNamespaces(ctx context.Context, filter storage.ProviderNamespaceFilter, page models.PageRequest) ([]*models.ProviderNamespace, int64, error) {
	var c conds
	if filter.NamespaceID != 0 {
		c.add("namespace_id = ?", filter.NamespaceID)
	}
	if filter.ProviderID != 0 {
		c.add("provider_id = ?", filter.ProviderID)
	}
	if filter.Name != "" {
		c.add("LOWER(name) = LOWER(?)", filter.Name)
	}

	total, err := s.count(ctx, "provider_namespaces", &c)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count provider namespaces: %w", err)
	}
	limit, args := c.limit(page)
	rows, err := s.replica().QueryContext(ctx,
		`SELECT `+providerNamespaceColumns+` FROM provider_namespaces`+c.where()+` ORDER BY id`+limit, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list provider namespaces: %w", err)
	}
	defer rows.Close()

	var out []*models.ProviderNamespace
	for rows.Next() {
		p, err := scanProviderNamespace(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}
