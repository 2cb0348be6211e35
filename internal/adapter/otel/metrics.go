package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "opforge"

// Metrics holds all OpForge metric instruments.
type Metrics struct {
	RunsStarted    metric.Int64Counter
	RunsCompleted  metric.Int64Counter
	RunsFailed     metric.Int64Counter
	JobsSubmitted  metric.Int64Counter
	StepRetries    metric.Int64Counter
	FactsCollected metric.Int64Counter
	RunDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("opforge.runs.started",
		metric.WithDescription("Number of sequence runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("opforge.runs.completed",
		metric.WithDescription("Number of runs that completed every step"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("opforge.runs.failed",
		metric.WithDescription("Number of runs that aborted, errored or partially failed"))
	if err != nil {
		return nil, err
	}

	m.JobsSubmitted, err = meter.Int64Counter("opforge.jobs.submitted",
		metric.WithDescription("Number of remote jobs submitted, including retries and fallbacks"))
	if err != nil {
		return nil, err
	}

	m.StepRetries, err = meter.Int64Counter("opforge.steps.retries",
		metric.WithDescription("Number of step retries after retryable failures"))
	if err != nil {
		return nil, err
	}

	m.FactsCollected, err = meter.Int64Counter("opforge.facts.collected",
		metric.WithDescription("Number of facts recorded from job reports"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("opforge.run.duration_seconds",
		metric.WithDescription("Run duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
