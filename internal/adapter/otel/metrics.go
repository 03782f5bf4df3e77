package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the orchestration core's metric instruments.
type Metrics struct {
	ExecutionsStarted  metric.Int64Counter
	ExecutionsQueued   metric.Int64Counter
	ExecutionsFinished metric.Int64Counter
	EventsDispatched   metric.Int64Counter
	HandlerFailures    metric.Int64Counter
	ApprovalsResolved  metric.Int64Counter
	QueueWait          metric.Float64Histogram
	ApprovalWait       metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.ExecutionsStarted, err = meter.Int64Counter("orchd.executions.started",
		metric.WithDescription("Number of execution processes started"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsQueued, err = meter.Int64Counter("orchd.executions.queued",
		metric.WithDescription("Number of execution requests queued"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsFinished, err = meter.Int64Counter("orchd.executions.finished",
		metric.WithDescription("Number of execution processes that reached a terminal status"))
	if err != nil {
		return nil, err
	}

	m.EventsDispatched, err = meter.Int64Counter("orchd.events.dispatched",
		metric.WithDescription("Number of domain events dispatched"))
	if err != nil {
		return nil, err
	}

	m.HandlerFailures, err = meter.Int64Counter("orchd.handler.failures",
		metric.WithDescription("Number of event handler failures"))
	if err != nil {
		return nil, err
	}

	m.ApprovalsResolved, err = meter.Int64Counter("orchd.approvals.resolved",
		metric.WithDescription("Number of approval requests resolved"))
	if err != nil {
		return nil, err
	}

	m.QueueWait, err = meter.Float64Histogram("orchd.queue.wait_seconds",
		metric.WithDescription("Time entries spend in the execution queue"))
	if err != nil {
		return nil, err
	}

	m.ApprovalWait, err = meter.Float64Histogram("orchd.approval.wait_seconds",
		metric.WithDescription("Time approval requests wait for a decision"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
