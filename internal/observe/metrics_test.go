package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSTT(ctx, 1500*time.Millisecond)
	m.RecordDiarization(ctx, 3*time.Second)
	m.RecordLLM(ctx, "scribe", 2*time.Second)
	m.RecordLLM(ctx, "icd", time.Second)
	m.RecordComparisonScore(ctx, 82)
	m.RecordHTTPRequest(ctx, "GET", "/api/v1/patients", 200, 20*time.Millisecond)

	rm := collect(t, reader)

	tests := []struct {
		name   string
		points int
		count  uint64
	}{
		{MetricSTTDuration, 1, 1},
		{MetricDiarizationDuration, 1, 1},
		{MetricLLMDuration, 2, 1},
		{MetricComparisonScore, 1, 1},
		{MetricHTTPRequestDuration, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			met := findMetric(rm, tt.name)
			require.NotNil(t, met)
			hist, ok := met.Data.(metricdata.Histogram[float64])
			require.True(t, ok)
			require.Len(t, hist.DataPoints, tt.points)
			assert.Equal(t, tt.count, hist.DataPoints[0].Count)
		})
	}

	llm := findMetric(rm, MetricLLMDuration).Data.(metricdata.Histogram[float64])
	stages := map[string]bool{}
	for _, dp := range llm.DataPoints {
		v, ok := dp.Attributes.Value(attribute.Key("stage"))
		require.True(t, ok)
		stages[v.AsString()] = true
	}
	assert.Equal(t, map[string]bool{"scribe": true, "icd": true}, stages)
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPipelineRun(ctx, "ok")
	m.RecordPipelineRun(ctx, "ok")
	m.RecordExternalError(ctx, "diarization")

	rm := collect(t, reader)

	runs, ok := findMetric(rm, MetricPipelineRuns).Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, runs.DataPoints, 1)
	assert.Equal(t, int64(2), runs.DataPoints[0].Value)

	errs, ok := findMetric(rm, MetricExternalErrors).Data.(metricdata.Sum[int64])
	require.True(t, ok)
	v, _ := errs.DataPoints[0].Attributes.Value(attribute.Key("service"))
	assert.Equal(t, "diarization", v.AsString())
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordSTT(ctx, time.Second)
		m.RecordDiarization(ctx, time.Second)
		m.RecordLLM(ctx, "expert", time.Second)
		m.RecordPipelineRun(ctx, "error")
		m.RecordExternalError(ctx, "his")
		m.RecordComparisonScore(ctx, 50)
		m.RecordHTTPRequest(ctx, "GET", "/", 200, time.Second)
	})

	var p *Provider
	assert.NoError(t, p.Shutdown(ctx))
}

func TestInitProvider_ServesMetrics(t *testing.T) {
	p, err := InitProvider()
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	p.Metrics.RecordPipelineRun(context.Background(), "ok")

	rec := httptest.NewRecorder()
	p.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "medexam_pipeline_runs")
}
