package api

import (
	"net/http"

	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/access"
	"github.com/platinummonkey/galaxyhub/pkg/httputil"
	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

func (s *Server) registerContentRoutes() {
	s.router.HandleFunc("/api/v1/content/", s.listContent("")).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/content/{id:[0-9]+}/", s.getContent("")).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/roles/", s.listContent(models.ContentTypeRole)).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/roles/{id:[0-9]+}/", s.getContent(models.ContentTypeRole)).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/roles/{id:[0-9]+}/downloads/", s.countRoleDownload).Methods(http.MethodPost)
}

// listContent serves the content list, pinned to contentType when set.
func (s *Server) listContent(contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(w, r, access.KindContent, nil, nil) {
			return
		}
		page, ok := pageOrError(w, r)
		if !ok {
			return
		}
		repoID, ok := queryInt64(w, r, "repository")
		if !ok {
			return
		}
		nsID, ok := queryInt64(w, r, "namespace")
		if !ok {
			return
		}
		filter := storage.ContentFilter{
			RepositoryID: repoID,
			NamespaceID:  nsID,
			ContentType:  r.URL.Query().Get("content_type"),
			Name:         r.URL.Query().Get("name"),
		}
		if contentType != "" {
			filter.ContentType = contentType
		}
		items, total, err := s.Store.ListContent(r.Context(), filter, page)
		if err != nil {
			httputil.WriteErr(w, r, err)
			return
		}
		httputil.WritePage(w, r, items, total, page)
	}
}

// loadContent fetches {id}, hiding content of another type as not found.
func (s *Server) loadContent(w http.ResponseWriter, r *http.Request, contentType string) (*models.Content, bool) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return nil, false
	}
	c, err := s.Store.GetContent(r.Context(), id)
	if err == nil && contentType != "" && c.ContentType != contentType {
		err = errors.NotFoundf("%s %d", contentType, id)
	}
	if err != nil {
		httputil.WriteErr(w, r, err)
		return nil, false
	}
	return c, true
}

func (s *Server) getContent(contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := s.loadContent(w, r, contentType)
		if !ok || !s.authorize(w, r, access.KindContent, c, nil) {
			return
		}
		httputil.WriteSuccess(w, c)
	}
}

// countRoleDownload handles POST /api/v1/roles/{id}/downloads/. The CLI
// reports installs anonymously, so this only needs read access.
func (s *Server) countRoleDownload(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadContent(w, r, models.ContentTypeRole)
	if !ok {
		return
	}
	if err := s.perm.CheckAction(r, access.KindContent, access.ActionRead, c, nil); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	n, err := s.Store.IncrementRepositoryDownloads(r.Context(), c.RepositoryID)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if s.Metrics != nil {
		s.Metrics.DownloadsTotal.WithLabelValues("role").Inc()
	}
	httputil.WriteSuccess(w, map[string]int64{"download_count": n})
}
