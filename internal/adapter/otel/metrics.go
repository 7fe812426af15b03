package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "taskdesk"

// Metrics holds all taskdesk metric instruments.
type Metrics struct {
	SocketReconnects    metric.Int64Counter
	SocketFramesDropped metric.Int64Counter
	EventsReceived      metric.Int64Counter
	ActionsPerformed    metric.Int64Counter
	ActionsRolledBack   metric.Int64Counter
	ActionDuration      metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.SocketReconnects, err = meter.Int64Counter("taskdesk.socket.reconnects",
		metric.WithDescription("Number of scheduled socket reconnect attempts"))
	if err != nil {
		return nil, err
	}

	m.SocketFramesDropped, err = meter.Int64Counter("taskdesk.socket.frames_dropped",
		metric.WithDescription("Number of malformed inbound frames dropped"))
	if err != nil {
		return nil, err
	}

	m.EventsReceived, err = meter.Int64Counter("taskdesk.socket.events",
		metric.WithDescription("Number of well-formed inbound events"))
	if err != nil {
		return nil, err
	}

	m.ActionsPerformed, err = meter.Int64Counter("taskdesk.actions.performed",
		metric.WithDescription("Number of task actions issued"))
	if err != nil {
		return nil, err
	}

	m.ActionsRolledBack, err = meter.Int64Counter("taskdesk.actions.rolled_back",
		metric.WithDescription("Number of optimistic mutations rolled back"))
	if err != nil {
		return nil, err
	}

	m.ActionDuration, err = meter.Float64Histogram("taskdesk.action.duration_seconds",
		metric.WithDescription("Task action round trip duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
