package search

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/observability"
	"github.com/platinummonkey/galaxyhub/pkg/storage"
)

var searchTracer = otel.Tracer("galaxyhub/search")

const (
	targetContent     = "content"
	targetCollections = "collections"
)

// FacetSource lists distinct tag and platform values.
type FacetSource interface {
	ListFacets(ctx context.Context, facet storage.FacetKind) ([]models.Facet, error)
}

// Service fronts an Engine with tracing and metrics.
type Service struct {
	engine  Engine
	facets  FacetSource
	metrics *observability.Metrics
	otel    *observability.OTelMetrics
}

// NewService creates a search service. metrics and otelMetrics may be nil.
func NewService(engine Engine, facets FacetSource, metrics *observability.Metrics, otelMetrics *observability.OTelMetrics) *Service {
	return &Service{engine: engine, facets: facets, metrics: metrics, otel: otelMetrics}
}

// Engine returns the wrapped engine.
func (s *Service) Engine() Engine { return s.engine }

// SearchContent runs a ranked content search.
func (s *Service) SearchContent(ctx context.Context, q *ParsedQuery) ([]*ContentResult, int64, error) {
	ctx, span := s.startSpan(ctx, "SearchContent", q)
	defer span.End()

	start := time.Now()
	results, total, err := s.engine.SearchContent(ctx, q)
	s.finish(ctx, span, targetContent, start, total, err)
	return results, total, err
}

// SearchCollections runs a ranked collection search.
func (s *Service) SearchCollections(ctx context.Context, q *ParsedQuery) ([]*CollectionResult, int64, error) {
	ctx, span := s.startSpan(ctx, "SearchCollections", q)
	defer span.End()

	start := time.Now()
	results, total, err := s.engine.SearchCollections(ctx, q)
	s.finish(ctx, span, targetCollections, start, total, err)
	return results, total, err
}

// Facets lists tag or platform values with their counts.
func (s *Service) Facets(ctx context.Context, kind storage.FacetKind) ([]models.Facet, error) {
	ctx, span := searchTracer.Start(ctx, "Facets", trace.WithAttributes(attribute.String("facet", string(kind))))
	defer span.End()

	facets, err := s.facets.ListFacets(ctx, kind)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "facet listing failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("facet_count", len(facets)))
	return facets, nil
}

func (s *Service) startSpan(ctx context.Context, name string, q *ParsedQuery) (context.Context, trace.Span) {
	return searchTracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("search.engine", s.engine.Name()),
			attribute.String("search.query", q.String()),
			attribute.StringSlice("search.keywords", q.Keywords),
			attribute.Bool("search.has_filters", q.HasFilters()),
			attribute.String("search.order_by", q.OrderBy),
			attribute.Int("search.page", q.Page.Page),
			attribute.Int("search.page_size", q.Page.PageSize),
		),
	)
}

func (s *Service) finish(ctx context.Context, span trace.Span, target string, start time.Time, total int64, err error) {
	elapsed := time.Since(start)
	s.otel.RecordSearch(ctx, target, s.engine.Name(), elapsed, total, err)

	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		observability.GetLogger(ctx).WithError(err).WithField("target", target).Error("search failed")
	} else {
		span.SetAttributes(attribute.Int64("result_count", total))
		span.SetStatus(codes.Ok, "search completed")
	}

	if s.metrics != nil {
		s.metrics.SearchRequestsTotal.WithLabelValues(target, status).Inc()
		s.metrics.SearchDuration.WithLabelValues(target, s.engine.Name()).Observe(elapsed.Seconds())
		if err == nil {
			s.metrics.SearchResults.WithLabelValues(target).Observe(float64(total))
		}
	}
}
