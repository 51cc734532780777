package search

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/galaxyhub/pkg/httputil"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

// Handlers provides HTTP handlers for search
type Handlers struct {
	service *Service
	parser  *QueryParser
}

// NewHandlers creates new search handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service, parser: NewQueryParser()}
}

// RegisterRoutes registers search routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/search/content/", h.searchContent).Methods("GET")
	router.HandleFunc("/api/v1/search/collections/", h.searchCollections).Methods("GET")
	router.HandleFunc("/api/v1/tags/", h.facet(storage.FacetTags)).Methods("GET")
	router.HandleFunc("/api/v1/platforms/", h.facet(storage.FacetPlatforms)).Methods("GET")
}

// ParseRequest builds a query from q (the filter syntax) merged with the
// other URL parameters and the page parameters.
func (h *Handlers) ParseRequest(r *http.Request) (*ParsedQuery, error) {
	params := r.URL.Query()
	q, err := h.parser.Parse(params.Get("q"))
	if err != nil {
		return nil, err
	}
	if err := q.Merge(params); err != nil {
		return nil, err
	}
	if q.Page, err = httputil.ParsePage(r); err != nil {
		return nil, err
	}
	return q, nil
}

// searchContent handles GET /api/v1/search/content/
func (h *Handlers) searchContent(w http.ResponseWriter, r *http.Request) {
	q, err := h.ParseRequest(r)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	results, total, err := h.service.SearchContent(r.Context(), q)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WritePage(w, r, results, total, q.Page)
}

// searchCollections handles GET /api/v1/search/collections/
func (h *Handlers) searchCollections(w http.ResponseWriter, r *http.Request) {
	q, err := h.ParseRequest(r)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	results, total, err := h.service.SearchCollections(r.Context(), q)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WritePage(w, r, results, total, q.Page)
}

// facet handles GET /api/v1/tags/ and /api/v1/platforms/
func (h *Handlers) facet(kind storage.FacetKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := httputil.ParsePage(r)
		if err != nil {
			httputil.WriteErr(w, r, err)
			return
		}
		facets, err := h.service.Facets(r.Context(), kind)
		if err != nil {
			httputil.WriteErr(w, r, err)
			return
		}
		start, end := page.Window(len(facets))
		httputil.WritePage(w, r, facets[start:end], int64(len(facets)), page)
	}
}
