package api

import (
	"context"
	"net/http"

	"github.com/platinummonkey/galaxyhub/pkg/access"
	"github.com/platinummonkey/galaxyhub/pkg/httputil"
	"github.com/platinummonkey/galaxyhub/pkg/models"
)

// authorize runs the permission check for the request method and writes
// the error reply when it fails.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, kind access.Kind, obj, data interface{}) bool {
	if err := s.perm.Check(r, kind, obj, data); err != nil {
		httputil.WriteErr(w, r, err)
		return false
	}
	return true
}

// authorizeParent checks read access to the parent of a nested route.
func (s *Server) authorizeParent(w http.ResponseWriter, r *http.Request, kind access.Kind, parent interface{}) bool {
	if err := s.perm.CheckParent(r, kind, parent); err != nil {
		httputil.WriteErr(w, r, err)
		return false
	}
	return true
}

// pageOrError parses page parameters, writing a 400 when they are malformed.
func pageOrError(w http.ResponseWriter, r *http.Request) (models.PageRequest, bool) {
	page, err := httputil.ParsePage(r)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return page, false
	}
	return page, true
}

// loadByID reads the {id} path variable and fetches the object with get,
// then checks kind permissions on it. Every failure is written.
func loadByID[T any](s *Server, w http.ResponseWriter, r *http.Request, kind access.Kind, get func(context.Context, int64) (T, error)) (T, bool) {
	var zero T
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return zero, false
	}
	obj, err := get(r.Context(), id)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return zero, false
	}
	if !s.authorize(w, r, kind, obj, nil) {
		return zero, false
	}
	return obj, true
}

// queryInt64 reads an optional numeric filter, writing a 400 when malformed.
func queryInt64(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	v, err := httputil.ParseQueryInt64(r, key, 0)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return 0, false
	}
	return v, true
}

// queryBool reads an optional boolean filter, writing a 400 when malformed.
func queryBool(w http.ResponseWriter, r *http.Request, key string) (*bool, bool) {
	v, err := httputil.ParseQueryBool(r, key)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return nil, false
	}
	return v, true
}

// window slices an already loaded list for page.
func window[T any](items []T, page models.PageRequest) []T {
	start, end := page.Window(len(items))
	return items[start:end]
}
