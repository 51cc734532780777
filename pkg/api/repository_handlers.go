package api

import (
	"net/http"
	"strings"

	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/access"
	"github.com/platinummonkey/galaxyhub/pkg/httputil"
	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/observability"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

func (s *Server) registerRepositoryRoutes() {
	s.router.HandleFunc("/api/v1/repositories/", s.listRepositories).Methods(http.MethodGet)
	s.guard("/api/v1/repositories/", access.KindRepository, s.createRepository, http.MethodPost)
	s.router.HandleFunc("/api/v1/repositories/{id:[0-9]+}/", s.getRepository).Methods(http.MethodGet)
	s.guard("/api/v1/repositories/{id:[0-9]+}/", access.KindRepository, s.updateRepository, http.MethodPut)
	s.guard("/api/v1/repositories/{id:[0-9]+}/", access.KindRepository, s.deleteRepository, http.MethodDelete)
	s.router.HandleFunc("/api/v1/repositories/{id:[0-9]+}/versions/", s.listRepositoryVersions).Methods(http.MethodGet)
}

type repositoryRequest struct {
	ProviderNamespace *int64  `json:"provider_namespace"`
	Name              *string `json:"name"`
	OriginalName      *string `json:"original_name"`
	Description       *string `json:"description"`
	ImportBranch      *string `json:"import_branch"`
	Deprecated        *bool   `json:"deprecated"`
	IsEnabled         *bool   `json:"is_enabled"`
	Owners            []int64 `json:"owners"`
}

func (req *repositoryRequest) apply(repo *models.Repository) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&repo.Description, req.Description)
	set(&repo.ImportBranch, req.ImportBranch)
	if req.Deprecated != nil {
		repo.Deprecated = *req.Deprecated
	}
	if req.IsEnabled != nil {
		repo.IsEnabled = *req.IsEnabled
	}
	if req.Owners != nil {
		repo.Owners = req.Owners
	}
}

// listRepositories handles GET /api/v1/repositories/
func (s *Server) listRepositories(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, access.KindRepository, nil, nil) {
		return
	}
	page, ok := pageOrError(w, r)
	if !ok {
		return
	}
	var filter storage.RepositoryFilter
	for key, dst := range map[string]*int64{
		"provider_namespace": &filter.ProviderNamespaceID,
		"namespace":          &filter.NamespaceID,
		"owner":              &filter.OwnerID,
	} {
		v, ok := queryInt64(w, r, key)
		if !ok {
			return
		}
		*dst = v
	}
	filter.Name = r.URL.Query().Get("name")

	items, total, err := s.Store.ListRepositories(r.Context(), filter, page)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WritePage(w, r, items, total, page)
}

// createRepository handles POST /api/v1/repositories/. Repositories are
// normally created by the first import; this registers one up front.
func (s *Server) createRepository(w http.ResponseWriter, r *http.Request) {
	var req repositoryRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	repo := &models.Repository{Format: models.FormatRole, IsEnabled: true}
	if req.Name != nil {
		repo.Name = strings.TrimSpace(*req.Name)
		repo.OriginalName = repo.Name
	}
	if req.OriginalName != nil {
		repo.OriginalName = strings.TrimSpace(*req.OriginalName)
	}
	if req.ProviderNamespace != nil {
		repo.ProviderNamespaceID = *req.ProviderNamespace
	}
	req.apply(repo)

	fields := httputil.FieldErrors{}
	fields.Require("name", repo.Name)
	if repo.ProviderNamespaceID == 0 {
		fields.Add("provider_namespace", "This field is required.")
	} else if _, err := s.Store.GetProviderNamespace(r.Context(), repo.ProviderNamespaceID); errors.Is(err, errors.NotFound) {
		fields.Add("provider_namespace", "Provider namespace %d does not exist.", repo.ProviderNamespaceID)
	} else if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if err := s.validateOwners(r, repo.Owners, fields); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if fields.WriteIfAny(w) {
		return
	}
	if !s.authorize(w, r, access.KindRepository, nil, repo) {
		return
	}
	if err := s.Store.CreateRepository(r.Context(), repo); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteCreated(w, repo)
}

// getRepository handles GET /api/v1/repositories/{id}/
func (s *Server) getRepository(w http.ResponseWriter, r *http.Request) {
	repo, ok := loadByID(s, w, r, access.KindRepository, s.Store.GetRepository)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, repo)
}

// updateRepository handles PUT /api/v1/repositories/{id}/. Name and
// provider namespace are fixed once created.
func (s *Server) updateRepository(w http.ResponseWriter, r *http.Request) {
	repo, ok := loadByID(s, w, r, access.KindRepository, s.Store.GetRepository)
	if !ok {
		return
	}
	var req repositoryRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	fields := httputil.FieldErrors{}
	if req.Name != nil && !strings.EqualFold(strings.TrimSpace(*req.Name), repo.Name) {
		fields.Add("name", "The repository name cannot be changed.")
	}
	if req.ProviderNamespace != nil && *req.ProviderNamespace != repo.ProviderNamespaceID {
		fields.Add("provider_namespace", "The provider namespace cannot be changed.")
	}
	if err := s.validateOwners(r, req.Owners, fields); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if fields.WriteIfAny(w) {
		return
	}
	deprecated := repo.Deprecated
	req.apply(repo)

	if err := s.Store.UpdateRepository(r.Context(), repo); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if repo.Deprecated != deprecated {
		s.reindexRepository(r, repo.ID)
	}
	httputil.WriteSuccess(w, repo)
}

// deleteRepository handles DELETE /api/v1/repositories/{id}/. Its content
// leaves the search index with it.
func (s *Server) deleteRepository(w http.ResponseWriter, r *http.Request) {
	repo, ok := loadByID(s, w, r, access.KindRepository, s.Store.GetRepository)
	if !ok {
		return
	}
	contentIDs, err := s.repositoryContentIDs(r, repo.ID)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	pns, err := s.Store.GetProviderNamespace(r.Context(), repo.ProviderNamespaceID)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if err := s.Store.DeleteRepository(r.Context(), repo.ID); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}

	if s.Indexer != nil && len(contentIDs) > 0 {
		if err := s.Indexer.RemoveContent(r.Context(), contentIDs...); err != nil {
			observability.FromContext(r.Context()).WithError(err).Warn("failed to remove repository content from the search index")
		}
	}
	s.dispatch(r, models.EventRepositoryDeleted, map[string]interface{}{
		"repository_id": repo.ID,
		"repository":    pns.Name + "/" + repo.Name,
		"message":       "Repository " + pns.Name + "/" + repo.Name + " was deleted",
	})
	httputil.WriteNoContent(w)
}

// listRepositoryVersions handles GET /api/v1/repositories/{id}/versions/
func (s *Server) listRepositoryVersions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	repo, err := s.Store.GetRepository(r.Context(), id)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if !s.authorizeParent(w, r, access.KindRepository, repo) {
		return
	}
	page, ok := pageOrError(w, r)
	if !ok {
		return
	}
	versions, err := s.Store.ListRepositoryVersions(r.Context(), repo.ID)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WritePage(w, r, window(versions, page), int64(len(versions)), page)
}

func (s *Server) repositoryContentIDs(r *http.Request, repoID int64) ([]int64, error) {
	var ids []int64
	for p := 1; ; p++ {
		items, total, err := s.Store.ListContent(r.Context(), storage.ContentFilter{RepositoryID: repoID},
			models.NewPageRequest(p, models.MaxPageSize))
		if err != nil {
			return nil, err
		}
		for _, c := range items {
			ids = append(ids, c.ID)
		}
		if len(items) == 0 || int64(len(ids)) >= total {
			return ids, nil
		}
	}
}

// reindexRepository refreshes the search documents of a repository's
// content. Failures are logged; the index is rebuilt by maintenance.
func (s *Server) reindexRepository(r *http.Request, repoID int64) {
	if s.Indexer == nil {
		return
	}
	ids, err := s.repositoryContentIDs(r, repoID)
	if err == nil && len(ids) > 0 {
		err = s.Indexer.IndexContent(r.Context(), ids...)
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).WithField("repository_id", repoID).Warn("failed to reindex repository content")
	}
}
