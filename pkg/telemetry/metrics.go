// Package telemetry records node execution metrics and bootstraps the
// process-wide OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/stagecraftai/stagecraft-oss/pkg/domain"
)

var (
	metricsOnce          sync.Once
	metricsInitErr       error
	nodeExecutionCounter metric.Int64Counter
	nodeSuspendCounter   metric.Int64Counter
	nodeErrorCounter     metric.Int64Counter
	nodeLatencyHistogram metric.Float64Histogram
)

// NodeMetrics captures the fields needed to record pipeline node telemetry.
type NodeMetrics struct {
	PipelineName string
	StageIndex   int
	NodeID       string
	NodeType     domain.NodeType
	Suspended    bool
	Err          error
	Duration     time.Duration
}

// RecordNodeMetrics emits counters and a latency histogram describing node
// execution behaviour.
func RecordNodeMetrics(ctx context.Context, m NodeMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("pipeline.name", m.PipelineName),
		attribute.Int("stage.index", m.StageIndex),
		attribute.String("node.id", m.NodeID),
		attribute.String("node.type", string(m.NodeType)),
	}

	nodeExecutionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if m.Suspended {
		nodeSuspendCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.Err != nil {
		nodeErrorCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.Duration > 0 {
		nodeLatencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.Meter("stagecraft.engine")

		var err error
		nodeExecutionCounter, err = meter.Int64Counter("pipeline_node_executions_total",
			metric.WithDescription("Total pipeline node executions"))
		if err != nil {
			metricsInitErr = err
			return
		}
		nodeSuspendCounter, err = meter.Int64Counter("pipeline_node_suspensions_total",
			metric.WithDescription("Node executions that paused for human input"))
		if err != nil {
			metricsInitErr = err
			return
		}
		nodeErrorCounter, err = meter.Int64Counter("pipeline_node_errors_total",
			metric.WithDescription("Node executions that failed"))
		if err != nil {
			metricsInitErr = err
			return
		}
		nodeLatencyHistogram, err = meter.Float64Histogram("pipeline_node_duration_ms",
			metric.WithDescription("Node execution latency in milliseconds"))
		if err != nil {
			metricsInitErr = err
			return
		}
	})
	return metricsInitErr
}
