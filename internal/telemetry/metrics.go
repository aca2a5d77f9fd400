package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	RequestCounter      metric.Int64Counter
	RequestDuration     metric.Float64Histogram
	ImportRows          metric.Int64Counter
	EntityUpserts       metric.Int64Counter
	MirrorWrites        metric.Int64Counter
	CircuitBreakerState metric.Int64Counter
	AuditEventsLogged   metric.Int64Counter
	SearchDuration      metric.Float64Histogram
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("edu-data-console")

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	importRows, err := meter.Int64Counter(
		"import.rows.total",
		metric.WithDescription("Import rows processed by outcome"),
	)
	if err != nil {
		return nil, err
	}

	entityUpserts, err := meter.Int64Counter(
		"import.entity_upserts.total",
		metric.WithDescription("Document store upserts by entity type and outcome"),
	)
	if err != nil {
		return nil, err
	}

	mirrorWrites, err := meter.Int64Counter(
		"import.mirror_writes.total",
		metric.WithDescription("Relational and graph mirror writes by outcome"),
	)
	if err != nil {
		return nil, err
	}

	circuitBreakerState, err := meter.Int64Counter(
		"circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes"),
	)
	if err != nil {
		return nil, err
	}

	auditEventsLogged, err := meter.Int64Counter(
		"audit.events.logged",
		metric.WithDescription("Total audit events logged"),
	)
	if err != nil {
		return nil, err
	}

	searchDuration, err := meter.Float64Histogram(
		"search.duration",
		metric.WithDescription("Semantic search duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:      requestCounter,
		RequestDuration:     requestDuration,
		ImportRows:          importRows,
		EntityUpserts:       entityUpserts,
		MirrorWrites:        mirrorWrites,
		CircuitBreakerState: circuitBreakerState,
		AuditEventsLogged:   auditEventsLogged,
		SearchDuration:      searchDuration,
	}, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	}

	m.RequestCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.RequestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordImportRow(outcome string) {
	m.ImportRows.Add(context.Background(), 1, metric.WithAttributes(attribute.String("import.outcome", outcome)))
}

func (m *Metrics) RecordEntityUpsert(level, outcome string) {
	attrs := []attribute.KeyValue{
		attribute.String("entity.type", level),
		attribute.String("import.outcome", outcome),
	}

	m.EntityUpserts.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordMirrorWrite(stage, outcome string) {
	attrs := []attribute.KeyValue{
		attribute.String("mirror.stage", stage),
		attribute.String("import.outcome", outcome),
	}

	m.MirrorWrites.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// RecordBreakerState records circuit breaker state changes
func (m *Metrics) RecordBreakerState(service, state string) {
	attrs := []attribute.KeyValue{
		attribute.String("service", service),
		attribute.String("state", state),
	}

	m.CircuitBreakerState.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// RecordAuditEvent records audit event logging
func (m *Metrics) RecordAuditEvent(action, resource string) {
	attrs := []attribute.KeyValue{
		attribute.String("audit.action", action),
		attribute.String("audit.resource", resource),
	}

	m.AuditEventsLogged.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordSearch(duration float64, results int) {
	m.SearchDuration.Record(context.Background(), duration,
		metric.WithAttributes(attribute.Bool("search.empty", results == 0)))
}
