package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/stagecraftai/stagecraft-oss/pkg/domain"
)

func TestRecordNodeMetrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
	})

	ResetMetricsForTest()

	RecordNodeMetrics(ctx, NodeMetrics{
		PipelineName: "support-triage",
		StageIndex:   3,
		NodeID:       "n2",
		NodeType:     domain.NodeAIPrompt,
		Suspended:    true,
		Err:          errors.New("provider unavailable"),
		Duration:     150 * time.Millisecond,
	})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}

	sumExec, ok := metrics["pipeline_node_executions_total"]
	if !ok {
		t.Fatalf("missing executions metric")
	}
	execData, ok := sumExec.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type for executions metric")
	}
	if len(execData.DataPoints) != 1 {
		t.Fatalf("expected 1 datapoint, got %d", len(execData.DataPoints))
	}
	if execData.DataPoints[0].Value != 1 {
		t.Fatalf("expected executions count 1, got %d", execData.DataPoints[0].Value)
	}
	if value, ok := execData.DataPoints[0].Attributes.Value(attribute.Key("node.type")); !ok || value.AsString() != string(domain.NodeAIPrompt) {
		t.Fatalf("expected node.type attribute to be ai_prompt, got %v", value)
	}
	if value, ok := execData.DataPoints[0].Attributes.Value(attribute.Key("pipeline.name")); !ok || value.AsString() != "support-triage" {
		t.Fatalf("expected pipeline.name attribute support-triage, got %v", value)
	}
	if value, ok := execData.DataPoints[0].Attributes.Value(attribute.Key("stage.index")); !ok || value.AsInt64() != 3 {
		t.Fatalf("expected stage.index attribute 3, got %v", value)
	}

	sumSuspend, ok := metrics["pipeline_node_suspensions_total"]
	if !ok {
		t.Fatalf("missing suspensions metric")
	}
	suspendData := sumSuspend.Data.(metricdata.Sum[int64])
	if suspendData.DataPoints[0].Value != 1 {
		t.Fatalf("expected suspension count 1, got %d", suspendData.DataPoints[0].Value)
	}

	sumErr, ok := metrics["pipeline_node_errors_total"]
	if !ok {
		t.Fatalf("missing errors metric")
	}
	errData := sumErr.Data.(metricdata.Sum[int64])
	if errData.DataPoints[0].Value != 1 {
		t.Fatalf("expected error count 1, got %d", errData.DataPoints[0].Value)
	}

	hist, ok := metrics["pipeline_node_duration_ms"]
	if !ok {
		t.Fatalf("missing duration metric")
	}
	histData := hist.Data.(metricdata.Histogram[float64])
	if histData.DataPoints[0].Count != 1 {
		t.Fatalf("expected histogram count 1, got %d", histData.DataPoints[0].Count)
	}
	if histData.DataPoints[0].Sum != 150 {
		t.Fatalf("expected histogram sum 150, got %v", histData.DataPoints[0].Sum)
	}
}

func TestRecordNodeMetricsSkipsOptionalInstruments(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
	})

	ResetMetricsForTest()

	RecordNodeMetrics(ctx, NodeMetrics{
		PipelineName: "support-triage",
		NodeID:       "n1",
		NodeType:     domain.NodeTemplate,
	})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}

	if _, ok := metrics["pipeline_node_executions_total"]; !ok {
		t.Fatalf("missing executions metric")
	}
	if m, ok := metrics["pipeline_node_suspensions_total"]; ok {
		if data, isSum := m.Data.(metricdata.Sum[int64]); isSum && len(data.DataPoints) > 0 {
			t.Fatalf("expected no suspension datapoints, got %d", len(data.DataPoints))
		}
	}
	if m, ok := metrics["pipeline_node_errors_total"]; ok {
		if data, isSum := m.Data.(metricdata.Sum[int64]); isSum && len(data.DataPoints) > 0 {
			t.Fatalf("expected no error datapoints, got %d", len(data.DataPoints))
		}
	}
	if m, ok := metrics["pipeline_node_duration_ms"]; ok {
		if data, isHist := m.Data.(metricdata.Histogram[float64]); isHist && len(data.DataPoints) > 0 {
			t.Fatalf("expected no duration datapoints for zero duration, got %d", len(data.DataPoints))
		}
	}
}
