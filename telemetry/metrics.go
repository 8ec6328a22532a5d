package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"opsdesk/workitem"
)

// Metrics records work item transitions and notification outcomes.
type Metrics struct {
	transitions   metric.Int64Counter
	notifications metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	transitions, err := meter.Int64Counter("opsdesk.transitions",
		metric.WithDescription("Work item transition attempts by action and result"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: transitions counter: %w", err)
	}
	notifications, err := meter.Int64Counter("opsdesk.notifications",
		metric.WithDescription("Realtime notifications by event and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: notifications counter: %w", err)
	}
	return &Metrics{transitions: transitions, notifications: notifications}, nil
}

func (m *Metrics) RecordTransition(ctx context.Context, action string, err error) {
	result := "ok"
	if err != nil {
		result = workitem.Code(err)
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("result", result),
	))
}

func (m *Metrics) RecordNotification(ctx context.Context, event, result string) {
	m.notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("result", result),
	))
}
