package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/willexec/willexec/internal/domain/execution"
)

// Metrics holds the executor's instruments.
type Metrics struct {
	cycles        metric.Int64Counter
	cycleDuration metric.Float64Histogram
	probes        metric.Int64Counter
	payouts       metric.Int64Counter
	disbursed     metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	cycles, err := meter.Int64Counter("willexec.cycles",
		metric.WithDescription("Completed control loop cycles by outcome"))
	if err != nil {
		return nil, err
	}
	cycleDuration, err := meter.Float64Histogram("willexec.cycle.duration",
		metric.WithDescription("Cycle duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	probes, err := meter.Int64Counter("willexec.probes",
		metric.WithDescription("Liveness probe outcomes"))
	if err != nil {
		return nil, err
	}
	payouts, err := meter.Int64Counter("willexec.payouts",
		metric.WithDescription("Payouts by final status"))
	if err != nil {
		return nil, err
	}
	disbursed, err := meter.Int64Counter("willexec.disbursed",
		metric.WithDescription("Amount successfully transferred, in the smallest currency unit"))
	if err != nil {
		return nil, err
	}
	return &Metrics{
		cycles:        cycles,
		cycleDuration: cycleDuration,
		probes:        probes,
		payouts:       payouts,
		disbursed:     disbursed,
	}, nil
}

func (m *Metrics) CycleFinished(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.cycles.Add(ctx, 1, attrs)
	m.cycleDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) ProbeFinished(ctx context.Context, platform, evidence string, withinGrace bool) {
	m.probes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("platform", platform),
		attribute.String("evidence", evidence),
		attribute.Bool("within_grace", withinGrace),
	))
}

func (m *Metrics) PayoutFinished(ctx context.Context, status string, amount int64) {
	m.payouts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if status == string(execution.PayoutSucceeded) && amount > 0 {
		m.disbursed.Add(ctx, amount)
	}
}
