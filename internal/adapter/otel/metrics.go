package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "sprintpilot"

// Metrics holds all sprintpilot metric instruments.
type Metrics struct {
	SessionsStarted   metric.Int64Counter
	SessionsCompleted metric.Int64Counter
	SessionsFailed    metric.Int64Counter
	SessionsPaused    metric.Int64Counter
	SessionsAborted   metric.Int64Counter
	QueueDepth        metric.Int64UpDownCounter
	SessionDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.SessionsStarted, err = meter.Int64Counter("sprintpilot.sessions.started",
		metric.WithDescription("Number of sessions started"))
	if err != nil {
		return nil, err
	}

	m.SessionsCompleted, err = meter.Int64Counter("sprintpilot.sessions.completed",
		metric.WithDescription("Number of sessions completed"))
	if err != nil {
		return nil, err
	}

	m.SessionsFailed, err = meter.Int64Counter("sprintpilot.sessions.failed",
		metric.WithDescription("Number of sessions failed"))
	if err != nil {
		return nil, err
	}

	m.SessionsPaused, err = meter.Int64Counter("sprintpilot.sessions.paused",
		metric.WithDescription("Number of circuit breaker pauses"))
	if err != nil {
		return nil, err
	}

	m.SessionsAborted, err = meter.Int64Counter("sprintpilot.sessions.aborted",
		metric.WithDescription("Number of sessions aborted"))
	if err != nil {
		return nil, err
	}

	m.QueueDepth, err = meter.Int64UpDownCounter("sprintpilot.queue.depth",
		metric.WithDescription("Pending sessions across all targets"))
	if err != nil {
		return nil, err
	}

	m.SessionDuration, err = meter.Float64Histogram("sprintpilot.session.duration_seconds",
		metric.WithDescription("Session duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
