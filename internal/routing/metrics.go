package routing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brokerd/internal/domain"
)

const routingInstrumentationName = "github.com/fyrsmithlabs/brokerd/internal/routing"

// Metrics holds routing-related instruments.
type Metrics struct {
	meter          metric.Meter
	logger         *zap.Logger
	decisionsTotal metric.Int64Counter
	decisionDur    metric.Float64Histogram
	fallbackTotal  metric.Int64Counter
	scoreHist      metric.Float64Histogram
}

// NewMetrics creates the routing instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Metrics{
		meter:  otel.Meter(routingInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.decisionsTotal, err = m.meter.Int64Counter(
		"brokerd.routing.decisions_total",
		metric.WithDescription("Total routing decisions labeled by method (score_based, fallback) and strategy."),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		m.logger.Warn("failed to create decisions counter", zap.Error(err))
	}

	m.decisionDur, err = m.meter.Float64Histogram(
		"brokerd.routing.decision_duration_seconds",
		metric.WithDescription("Routing decision latency in seconds, labeled by method."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.fallbackTotal, err = m.meter.Int64Counter(
		"brokerd.routing.fallbacks_total",
		metric.WithDescription("Routing requests that degraded to fallback, labeled by reason."),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		m.logger.Warn("failed to create fallback counter", zap.Error(err))
	}

	m.scoreHist, err = m.meter.Float64Histogram(
		"brokerd.routing.winning_score",
		metric.WithDescription("Score of the selected broker per decision."),
		metric.WithExplicitBucketBoundaries(10, 20, 30, 40, 50, 60, 70, 80, 90, 100),
	)
	if err != nil {
		m.logger.Warn("failed to create score histogram", zap.Error(err))
	}
}

// RecordDecision records one completed decision.
func (m *Metrics) RecordDecision(ctx context.Context, method domain.RoutingMethod, strategy string, score float64, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", string(method)),
		attribute.String("strategy", strategy),
	)
	if m.decisionsTotal != nil {
		m.decisionsTotal.Add(ctx, 1, attrs)
	}
	if m.decisionDur != nil {
		m.decisionDur.Record(ctx, elapsed.Seconds(),
			metric.WithAttributes(attribute.String("method", string(method))))
	}
	if m.scoreHist != nil {
		m.scoreHist.Record(ctx, score)
	}
}

// RecordFallback records one degraded decision with its cause.
func (m *Metrics) RecordFallback(ctx context.Context, reason string) {
	if m.fallbackTotal != nil {
		m.fallbackTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("reason", reason)))
	}
}
