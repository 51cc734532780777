package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/galaxyhub/pkg/access"
	"github.com/platinummonkey/galaxyhub/pkg/auth"
	"github.com/platinummonkey/galaxyhub/pkg/httputil"
	"github.com/platinummonkey/galaxyhub/pkg/importer"
	"github.com/platinummonkey/galaxyhub/pkg/middleware"
	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/notify"
	"github.com/platinummonkey/galaxyhub/pkg/observability"
	"github.com/platinummonkey/galaxyhub/pkg/search"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
	"github.com/platinummonkey/galaxyhub/pkg/webhooks"
)

// Deps are the services the API is built from. Search, Indexer, Webhooks,
// Inbound, Events, RateLimit, Metrics, Audit and Logger may be nil.
type Deps struct {
	Store      storage.Store
	Artifacts  storage.ArtifactStore
	Importer   *importer.Importer
	Notifier   *notify.Service
	Surveys    *notify.Surveys
	Tokens     *auth.TokenService
	Exchanger  *auth.Exchanger
	Permission *access.ModelAccessPermission
	Search     *search.Service
	Indexer    search.Indexer
	Webhooks   *webhooks.Manager
	Inbound    *webhooks.InboundHandlers
	Events     webhooks.Dispatcher
	RateLimit  *middleware.RateLimitMiddleware
	Metrics    *observability.Metrics
	Audit      *auth.AuditLogger
	Logger     *observability.Logger

	// RequestTimeout bounds every request except uploads. Zero disables it.
	RequestTimeout time.Duration
	CORSOrigins    []string
}

// Server is the hub's HTTP API.
type Server struct {
	Deps
	router *mux.Router
	perm   *access.ModelAccessPermission
}

// NewServer builds the router and registers every route.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.GetLogger(context.Background())
	}
	if deps.Permission == nil {
		reg := access.NewRegistry()
		access.RegisterDefaults(reg, deps.Store)
		deps.Permission = access.NewModelAccessPermission(reg, deps.Audit)
	}
	s := &Server{
		Deps:   deps,
		router: mux.NewRouter(),
		perm:   deps.Permission,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(httputil.RecoveryMiddleware)
	s.router.Use(httputil.RequestIDMiddleware(s.Logger))
	s.router.Use(httputil.LoggingMiddleware)
	if len(s.CORSOrigins) > 0 {
		s.router.Use(httputil.CORSMiddleware(s.CORSOrigins))
	}
	if s.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.Metrics))
	}
	if s.RequestTimeout > 0 {
		s.router.Use(httputil.TimeoutMiddleware(s.RequestTimeout, "/api/v2/collections/"))
	}
	s.router.Use(middleware.Authenticate(s.Tokens, s.Audit))
	if s.RateLimit != nil {
		s.router.Use(s.RateLimit.Handler)
	}
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.registerAuthRoutes()
	s.registerUserRoutes()
	s.registerNamespaceRoutes()
	s.registerRepositoryRoutes()
	s.registerContentRoutes()
	s.registerImportRoutes()
	s.registerCollectionRoutes()
	s.registerSurveyRoutes()

	if s.Search != nil {
		search.NewHandlers(s.Search).RegisterRoutes(s.router)
	}
	// inbound hooks first: /api/v1/webhooks/github/ sits beside the
	// management routes
	if s.Inbound != nil {
		s.Inbound.RegisterRoutes(s.router)
	}
	if s.Webhooks != nil {
		webhooks.NewHandlers(s.Webhooks, s.perm).RegisterRoutes(s.router)
	}
}

// guard mounts h behind the account rules for kind, so anonymous writes
// and inactive accounts are refused before the body is read.
func (s *Server) guard(path string, kind access.Kind, h http.HandlerFunc, methods ...string) {
	s.router.Handle(path, s.perm.Require(kind)(h)).Methods(methods...)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router, e.g. for otelhttp wrapping.
func (s *Server) Router() *mux.Router {
	return s.router
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}

// dispatch emits an outbound webhook event. Failures are logged only.
func (s *Server) dispatch(r *http.Request, event models.EventType, data map[string]interface{}) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Dispatch(r.Context(), event, data); err != nil {
		observability.FromContext(r.Context()).WithError(err).WithField("event", event).Warn("failed to dispatch event")
	}
}
