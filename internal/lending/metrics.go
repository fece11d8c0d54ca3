// internal/lending/metrics.go
package lending

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	outcomes        metric.Int64Counter
	compensations   metric.Int64Counter
	inconsistencies metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	outcomes, err1 := meter.Int64Counter("lending.outcomes",
		metric.WithDescription("Lending operations by outcome"))
	compensations, err2 := meter.Int64Counter("lending.compensations",
		metric.WithDescription("Reservations released because the loan could not be opened"))
	inconsistencies, err3 := meter.Int64Counter("lending.ledger_inconsistencies",
		metric.WithDescription("Returns whose stock was restored but whose loan could not be closed"))

	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, err
	}
	return &metrics{
		outcomes:        outcomes,
		compensations:   compensations,
		inconsistencies: inconsistencies,
	}, nil
}

func (m *metrics) outcome(ctx context.Context, operation string, o Outcome) {
	m.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", o.String()),
	))
}

func (m *metrics) compensation(ctx context.Context) {
	m.compensations.Add(ctx, 1)
}

func (m *metrics) inconsistency(ctx context.Context) {
	m.inconsistencies.Add(ctx, 1)
}
