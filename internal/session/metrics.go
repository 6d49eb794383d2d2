package session

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/ProjectRStore/itemsync/internal/session"

type metrics struct {
	grabsAccepted  metric.Int64Counter
	grabsRejected  metric.Int64Counter
	actionsDropped metric.Int64Counter
	spoofed        metric.Int64Counter
}

func newMetrics() (*metrics, error) {
	m := otel.Meter(instrumentationName)
	var (
		out metrics
		err error
	)

	out.grabsAccepted, err = m.Int64Counter(
		"session.grabs.accepted",
		metric.WithDescription("Grabs applied to the hold table"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating grabs accepted counter: %w", err)
	}

	out.grabsRejected, err = m.Int64Counter(
		"session.grabs.rejected",
		metric.WithDescription("Grabs that lost against an existing holder"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating grabs rejected counter: %w", err)
	}

	out.actionsDropped, err = m.Int64Counter(
		"session.actions.dropped",
		metric.WithDescription("Received actions that were not applied"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating actions dropped counter: %w", err)
	}

	out.spoofed, err = m.Int64Counter(
		"session.messages.spoofed",
		metric.WithDescription("Messages whose sender did not match the claimed author"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating spoofed counter: %w", err)
	}

	return &out, nil
}

func (m *metrics) spoof(typ string) {
	m.spoofed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", typ)))
}
