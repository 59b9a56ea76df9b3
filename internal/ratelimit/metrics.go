package ratelimit

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics counts limiter decisions by purpose and outcome.
type Metrics struct {
	decisions metric.Int64Counter
}

// NewMetrics registers the decision counter on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("inkpost/ratelimit")

	decisions, err := meter.Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Number of rate limit decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{decisions: decisions}, nil
}

func (m *Metrics) record(ctx context.Context, purpose string, ok bool) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !ok {
		outcome = "denied"
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("purpose", purpose),
		attribute.String("outcome", outcome),
	))
}
