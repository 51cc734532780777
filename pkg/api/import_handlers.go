package api

import (
	"net/http"

	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/access"
	"github.com/platinummonkey/galaxyhub/pkg/contextkeys"
	"github.com/platinummonkey/galaxyhub/pkg/httputil"
	"github.com/platinummonkey/galaxyhub/pkg/importer"
	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

func (s *Server) registerImportRoutes() {
	s.router.HandleFunc("/api/v1/imports/", s.listImports).Methods(http.MethodGet)
	s.guard("/api/v1/imports/", access.KindImportTask, s.createImport, http.MethodPost)
	s.router.HandleFunc("/api/v1/imports/{id:[0-9]+}/", s.getImport).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v2/collection-imports/{id:[0-9]+}/", s.getCollectionImport).Methods(http.MethodGet)
}

// listImports handles GET /api/v1/imports/
func (s *Server) listImports(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, access.KindImportTask, nil, nil) {
		return
	}
	page, ok := pageOrError(w, r)
	if !ok {
		return
	}
	filter := storage.ImportFilter{
		Type:  models.TaskType(r.URL.Query().Get("type")),
		State: models.TaskState(r.URL.Query().Get("state")),
	}
	for key, dst := range map[string]*int64{
		"owner":      &filter.OwnerID,
		"repository": &filter.RepositoryID,
		"namespace":  &filter.NamespaceID,
	} {
		v, ok := queryInt64(w, r, key)
		if !ok {
			return
		}
		*dst = v
	}
	items, total, err := s.Store.ListImportTasks(r.Context(), filter, page)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WritePage(w, r, items, total, page)
}

// createImport handles POST /api/v1/imports/. The caller must own the
// repository, or the namespace when the repository is new; only then is a
// new repository created.
func (s *Server) createImport(w http.ResponseWriter, r *http.Request) {
	var req importer.RoleImportRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		httputil.WriteValidationErrors(w, errs)
		return
	}

	repo, pns, err := s.Importer.FindRepository(r.Context(), req)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	draft := &models.ImportTask{Type: models.TaskTypeRole, NamespaceID: pns.NamespaceID}
	if repo != nil {
		draft.RepositoryID = &repo.ID
	}
	if !s.authorize(w, r, access.KindImportTask, nil, draft) {
		return
	}
	if repo == nil {
		if repo, pns, err = s.Importer.ResolveRepository(r.Context(), req); err != nil {
			httputil.WriteErr(w, r, err)
			return
		}
	}

	task, err := s.Importer.ImportRole(r.Context(), repo, pns, req, contextkeys.User(r.Context()).ID)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteAccepted(w, task)
}

// getImport handles GET /api/v1/imports/{id}/
func (s *Server) getImport(w http.ResponseWriter, r *http.Request) {
	task, ok := loadByID(s, w, r, access.KindImportTask, s.Store.GetImportTask)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, task)
}

// getCollectionImport handles GET /api/v2/collection-imports/{id}/
func (s *Server) getCollectionImport(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	task, err := s.Store.GetImportTask(r.Context(), id)
	if err == nil && task.Type != models.TaskTypeCollection {
		err = errors.NotFoundf("collection import %d", id)
	}
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if !s.authorize(w, r, access.KindImportTask, task, nil) {
		return
	}
	httputil.WriteSuccess(w, task)
}
