package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Counters holds the webhook delivery instruments. All methods are safe on a
// nil receiver so callers can skip metric wiring entirely.
type Counters struct {
	deliveries metric.Int64Counter
	events     metric.Int64Counter
}

// NewCounters creates webhook delivery counters on the global meter.
func NewCounters() (*Counters, error) {
	meter := Meter("")

	deliveries, err := meter.Int64Counter("ticketbridge.webhook.deliveries",
		metric.WithDescription("Webhook deliveries received, by source and HTTP status"),
	)
	if err != nil {
		return nil, err
	}
	events, err := meter.Int64Counter("ticketbridge.webhook.events",
		metric.WithDescription("Normalized events processed, by source and outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &Counters{deliveries: deliveries, events: events}, nil
}

// Delivery records one inbound webhook delivery.
func (c *Counters) Delivery(ctx context.Context, source string, status int) {
	if c == nil {
		return
	}
	c.deliveries.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.Int("status", status),
		))
}

// Event records the outcome of one normalized event.
func (c *Counters) Event(ctx context.Context, source, outcome string) {
	if c == nil {
		return
	}
	c.events.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("outcome", outcome),
		))
}
