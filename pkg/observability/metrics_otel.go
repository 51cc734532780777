package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds the OpenTelemetry instruments exported over OTLP next to
// the Prometheus registry. A nil *OTelMetrics records nothing.
type OTelMetrics struct {
	importsFinished  metric.Int64Counter
	importDuration   metric.Float64Histogram
	importMessages   metric.Int64Counter
	searchDuration   metric.Float64Histogram
	searchResults    metric.Int64Histogram
	artifactOps      metric.Int64Counter
	artifactBytes    metric.Int64Histogram
	webhookDelivered metric.Int64Counter
}

// NewOTelMetrics creates instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/platinummonkey/galaxyhub")

	m := &OTelMetrics{}
	var err error

	if m.importsFinished, err = meter.Int64Counter("galaxy.imports.finished",
		metric.WithDescription("Import tasks that reached a final state"),
		metric.WithUnit("{task}")); err != nil {
		return nil, fmt.Errorf("failed to create imports counter: %w", err)
	}
	if m.importDuration, err = meter.Float64Histogram("galaxy.import.duration",
		metric.WithDescription("Import task run time"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create import duration histogram: %w", err)
	}
	if m.importMessages, err = meter.Int64Counter("galaxy.import.messages",
		metric.WithDescription("Lint and progress messages emitted by imports"),
		metric.WithUnit("{message}")); err != nil {
		return nil, fmt.Errorf("failed to create import messages counter: %w", err)
	}
	if m.searchDuration, err = meter.Float64Histogram("galaxy.search.duration",
		metric.WithDescription("Search latency"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create search duration histogram: %w", err)
	}
	if m.searchResults, err = meter.Int64Histogram("galaxy.search.results",
		metric.WithDescription("Matches per search"),
		metric.WithUnit("{result}")); err != nil {
		return nil, fmt.Errorf("failed to create search results histogram: %w", err)
	}
	if m.artifactOps, err = meter.Int64Counter("galaxy.artifacts.operations",
		metric.WithDescription("Artifact store operations"),
		metric.WithUnit("{operation}")); err != nil {
		return nil, fmt.Errorf("failed to create artifact counter: %w", err)
	}
	if m.artifactBytes, err = meter.Int64Histogram("galaxy.artifacts.bytes",
		metric.WithDescription("Artifact bytes transferred"),
		metric.WithUnit("By")); err != nil {
		return nil, fmt.Errorf("failed to create artifact bytes histogram: %w", err)
	}
	if m.webhookDelivered, err = meter.Int64Counter("galaxy.webhooks.delivered",
		metric.WithDescription("Outbound webhook delivery attempts"),
		metric.WithUnit("{attempt}")); err != nil {
		return nil, fmt.Errorf("failed to create webhook counter: %w", err)
	}

	return m, nil
}

func errAttr(err error) attribute.KeyValue {
	return attribute.Bool("error", err != nil)
}

// RecordImport records a finished import task
func (m *OTelMetrics) RecordImport(ctx context.Context, taskType, state string, duration time.Duration, warnings, errs int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("import.type", taskType),
		attribute.String("import.state", state),
	)
	m.importsFinished.Add(ctx, 1, attrs)
	m.importDuration.Record(ctx, duration.Seconds(), attrs)
	m.importMessages.Add(ctx, int64(warnings), metric.WithAttributes(attribute.String("level", "warning")))
	m.importMessages.Add(ctx, int64(errs), metric.WithAttributes(attribute.String("level", "error")))
}

// RecordSearch records one search call
func (m *OTelMetrics) RecordSearch(ctx context.Context, target, engine string, duration time.Duration, results int64, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("search.target", target),
		attribute.String("search.engine", engine),
		errAttr(err),
	)
	m.searchDuration.Record(ctx, duration.Seconds(), attrs)
	if err == nil {
		m.searchResults.Record(ctx, results, attrs)
	}
}

// RecordArtifactOperation records a put/get/delete against the artifact store
func (m *OTelMetrics) RecordArtifactOperation(ctx context.Context, operation, backend string, bytes int64, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("storage.operation", operation),
		attribute.String("storage.type", backend),
		errAttr(err),
	)
	m.artifactOps.Add(ctx, 1, attrs)
	if bytes > 0 {
		m.artifactBytes.Record(ctx, bytes, attrs)
	}
}

// RecordWebhookDelivery records a single outbound delivery attempt
func (m *OTelMetrics) RecordWebhookDelivery(ctx context.Context, event string, statusCode int, err error) {
	if m == nil {
		return
	}
	m.webhookDelivered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("webhook.event", event),
		attribute.Int("http.status_code", statusCode),
		errAttr(err),
	))
}
