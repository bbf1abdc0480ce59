package recon

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SchedulerMetrics defines the metrics recorded by the scheduler.
type SchedulerMetrics interface {
	IncTasksCreated(ctx context.Context, tool string)
	IncTasksDispatched(ctx context.Context, tool string)
	IncTasksSucceeded(ctx context.Context, tool string)
	IncTasksFailed(ctx context.Context, tool, reason string)
	IncTasksSkipped(ctx context.Context, tool string)
	IncScopeViolations(ctx context.Context)
	IncLateResults(ctx context.Context)
	IncBackpressure(ctx context.Context)
	IncConfirmations(ctx context.Context, approved, timedOut bool)
	AddInFlight(ctx context.Context, delta int64)
	ObserveTaskDuration(ctx context.Context, tool string, d time.Duration)
}

type schedulerMetrics struct {
	tasksCreated    metric.Int64Counter
	tasksDispatched metric.Int64Counter
	tasksSucceeded  metric.Int64Counter
	tasksFailed     metric.Int64Counter
	tasksSkipped    metric.Int64Counter
	scopeViolations metric.Int64Counter
	lateResults     metric.Int64Counter
	backpressure    metric.Int64Counter
	confirmations   metric.Int64Counter
	inFlight        metric.Int64UpDownCounter
	taskDuration    metric.Float64Histogram
}

const namespace = "reconpilot"

// NewSchedulerMetrics creates scheduler metrics on the given meter provider.
func NewSchedulerMetrics(mp metric.MeterProvider) (SchedulerMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(schedulerMetrics)
	var err error

	if m.tasksCreated, err = meter.Int64Counter(
		"tasks_created_total",
		metric.WithDescription("Total number of tasks admitted into a task graph"),
	); err != nil {
		return nil, err
	}

	if m.tasksDispatched, err = meter.Int64Counter(
		"tasks_dispatched_total",
		metric.WithDescription("Total number of tasks handed to a tool adapter"),
	); err != nil {
		return nil, err
	}

	if m.tasksSucceeded, err = meter.Int64Counter(
		"tasks_succeeded_total",
		metric.WithDescription("Total number of tasks that succeeded"),
	); err != nil {
		return nil, err
	}

	if m.tasksFailed, err = meter.Int64Counter(
		"tasks_failed_total",
		metric.WithDescription("Total number of tasks that failed, by reason"),
	); err != nil {
		return nil, err
	}

	if m.tasksSkipped, err = meter.Int64Counter(
		"tasks_skipped_total",
		metric.WithDescription("Total number of tasks skipped"),
	); err != nil {
		return nil, err
	}

	if m.scopeViolations, err = meter.Int64Counter(
		"scope_violations_total",
		metric.WithDescription("Total number of task specs refused by the scope filter"),
	); err != nil {
		return nil, err
	}

	if m.lateResults, err = meter.Int64Counter(
		"late_results_total",
		metric.WithDescription("Total number of adapter results discarded because the task had settled"),
	); err != nil {
		return nil, err
	}

	if m.backpressure, err = meter.Int64Counter(
		"dispatch_backpressure_total",
		metric.WithDescription("Times ready tasks waited because every slot was busy"),
	); err != nil {
		return nil, err
	}

	if m.confirmations, err = meter.Int64Counter(
		"confirmations_total",
		metric.WithDescription("Interactive confirmation decisions"),
	); err != nil {
		return nil, err
	}

	if m.inFlight, err = meter.Int64UpDownCounter(
		"tasks_in_flight",
		metric.WithDescription("Adapter invocations currently executing"),
	); err != nil {
		return nil, err
	}

	if m.taskDuration, err = meter.Float64Histogram(
		"task_duration_seconds",
		metric.WithDescription("Wall time of adapter invocations"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func toolAttr(tool string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("tool", tool))
}

func (m *schedulerMetrics) IncTasksCreated(ctx context.Context, tool string) {
	m.tasksCreated.Add(ctx, 1, toolAttr(tool))
}

func (m *schedulerMetrics) IncTasksDispatched(ctx context.Context, tool string) {
	m.tasksDispatched.Add(ctx, 1, toolAttr(tool))
}

func (m *schedulerMetrics) IncTasksSucceeded(ctx context.Context, tool string) {
	m.tasksSucceeded.Add(ctx, 1, toolAttr(tool))
}

func (m *schedulerMetrics) IncTasksFailed(ctx context.Context, tool, reason string) {
	m.tasksFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("reason", reason),
	))
}

func (m *schedulerMetrics) IncTasksSkipped(ctx context.Context, tool string) {
	m.tasksSkipped.Add(ctx, 1, toolAttr(tool))
}

func (m *schedulerMetrics) IncScopeViolations(ctx context.Context) { m.scopeViolations.Add(ctx, 1) }

func (m *schedulerMetrics) IncLateResults(ctx context.Context) { m.lateResults.Add(ctx, 1) }

func (m *schedulerMetrics) IncBackpressure(ctx context.Context) { m.backpressure.Add(ctx, 1) }

func (m *schedulerMetrics) IncConfirmations(ctx context.Context, approved, timedOut bool) {
	m.confirmations.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("approved", approved),
		attribute.Bool("timed_out", timedOut),
	))
}

func (m *schedulerMetrics) AddInFlight(ctx context.Context, delta int64) { m.inFlight.Add(ctx, delta) }

func (m *schedulerMetrics) ObserveTaskDuration(ctx context.Context, tool string, d time.Duration) {
	m.taskDuration.Record(ctx, d.Seconds(), toolAttr(tool))
}
