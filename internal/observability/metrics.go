package observability

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/sandeepkv93/clinic-survey-relay/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const instrumentationName = "github.com/sandeepkv93/clinic-survey-relay"

type AppMetrics struct {
	repositoryOps     metric.Int64Counter
	sessionsCreated   metric.Int64Counter
	resolutions       metric.Int64Counter
	submissions       metric.Int64Counter
	ingestions        metric.Int64Counter
	ingestDuration    metric.Float64Histogram
	relayOps          metric.Int64Counter
	coordinatorStates metric.Int64Counter
	negativeLookups   metric.Int64Counter
	rateLimitDecision metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	m, err := newAppMetrics(mp.Meter(instrumentationName))
	if err != nil {
		return nil, err
	}
	setAppMetrics(m)

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func newAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	var (
		m   AppMetrics
		err error
	)
	counter := func(name, desc string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	m.repositoryOps = counter("repository.operations", "Local store operations by repository, operation and outcome")
	m.sessionsCreated = counter("survey.sessions.created", "Sessions issued, split by relay mirroring outcome")
	m.resolutions = counter("survey.sessions.resolutions", "Token resolutions by result and source")
	m.submissions = counter("survey.submissions", "Submissions by path and outcome")
	m.ingestions = counter("relay.ingestions", "Relay record ingestions by trigger and outcome")
	m.relayOps = counter("relay.operations", "Relay store operations by operation and outcome")
	m.coordinatorStates = counter("sync.coordinator.transitions", "Sync coordinator state transitions")
	m.negativeLookups = counter("survey.negative_lookup.events", "Negative token lookup cache events")
	m.rateLimitDecision = counter("http.rate_limit.decisions", "Rate limiter decisions by scope and outcome")
	if err != nil {
		return nil, err
	}
	m.ingestDuration, err = meter.Float64Histogram("relay.ingest.duration",
		metric.WithDescription("Time spent ingesting one relay record"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func setAppMetrics(m *AppMetrics) {
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()
}

func currentMetrics() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordRepositoryOperation(ctx context.Context, repo, op, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.repositoryOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("repository", repo),
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}

func RecordSessionCreated(ctx context.Context, relayMirrored bool, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.sessionsCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("relay_mirrored", strconv.FormatBool(relayMirrored)),
		attribute.String("outcome", outcome),
	))
}

func RecordResolution(ctx context.Context, source, result string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.resolutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("result", result),
	))
}

func RecordSubmission(ctx context.Context, path, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.submissions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("path", path),
		attribute.String("outcome", outcome),
	))
}

func RecordIngestion(ctx context.Context, trigger, outcome string, elapsed time.Duration) {
	m := currentMetrics()
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("outcome", outcome),
	)
	m.ingestions.Add(ctx, 1, attrs)
	m.ingestDuration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

func RecordRelayOperation(ctx context.Context, op, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.relayOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}

func RecordCoordinatorTransition(ctx context.Context, from, to string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.coordinatorStates.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func RecordNegativeLookupEvent(ctx context.Context, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.negativeLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.rateLimitDecision.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("outcome", outcome),
	))
}
