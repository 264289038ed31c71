// Package observe records application metrics through the OpenTelemetry
// Metrics API. InitProvider bridges them to a Prometheus /metrics endpoint.
//
// Every recording method is safe on a nil *Metrics, so components take an
// optional *Metrics and never check whether metrics are enabled.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/medical-examination-assistant"

// Metric names
const (
	MetricSTTDuration         = "medexam.stt.duration"
	MetricDiarizationDuration = "medexam.diarization.duration"
	MetricLLMDuration         = "medexam.llm.duration"
	MetricPipelineRuns        = "medexam.pipeline.runs"
	MetricExternalErrors      = "medexam.external.errors"
	MetricComparisonScore     = "medexam.comparison.score"
	MetricHTTPRequestDuration = "medexam.http.request.duration"
)

// Metrics holds the instruments
type Metrics struct {
	STTDuration         metric.Float64Histogram
	DiarizationDuration metric.Float64Histogram
	LLMDuration         metric.Float64Histogram
	PipelineRuns        metric.Int64Counter
	ExternalErrors      metric.Int64Counter
	ComparisonScore     metric.Float64Histogram
	HTTPRequestDuration metric.Float64Histogram
}

// audio uploads and LLM calls run for seconds, not milliseconds
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120,
}

var scoreBuckets = []float64{
	10, 20, 30, 40, 50, 60, 70, 80, 90, 100,
}

// NewMetrics creates the instruments on mp
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTDuration, err = m.Float64Histogram(MetricSTTDuration,
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DiarizationDuration, err = m.Float64Histogram(MetricDiarizationDuration,
		metric.WithDescription("Latency of speaker diarization."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram(MetricLLMDuration,
		metric.WithDescription("Latency of LLM calls by pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineRuns, err = m.Int64Counter(MetricPipelineRuns,
		metric.WithDescription("Agent pipeline runs by status."),
	); err != nil {
		return nil, err
	}
	if met.ExternalErrors, err = m.Int64Counter(MetricExternalErrors,
		metric.WithDescription("Failed calls to external services."),
	); err != nil {
		return nil, err
	}
	if met.ComparisonScore, err = m.Float64Histogram(MetricComparisonScore,
		metric.WithDescription("AI vs doctor match scores."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram(MetricHTTPRequestDuration,
		metric.WithDescription("HTTP request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordSTT records one transcription call
func (m *Metrics) RecordSTT(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.STTDuration.Record(ctx, d.Seconds())
}

// RecordDiarization records one diarization call
func (m *Metrics) RecordDiarization(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.DiarizationDuration.Record(ctx, d.Seconds())
}

// RecordLLM records one LLM call for stage
func (m *Metrics) RecordLLM(ctx context.Context, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.LLMDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordPipelineRun counts a pipeline run; status is ok, cached or error
func (m *Metrics) RecordPipelineRun(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.PipelineRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordExternalError counts a failed external call
func (m *Metrics) RecordExternalError(ctx context.Context, service string) {
	if m == nil {
		return
	}
	m.ExternalErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("service", service)))
}

// RecordComparisonScore records a match score
func (m *Metrics) RecordComparisonScore(ctx context.Context, score float64) {
	if m == nil {
		return
	}
	m.ComparisonScore.Record(ctx, score)
}

// RecordHTTPRequest records one served request
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	))
}
