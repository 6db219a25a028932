// Package engine drives pipeline runs: it linearizes the graph, walks the
// order node by node, fans batch spans out across workers, and pauses at
// interactive checkpoints until a human resumes the run.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stagecraftai/stagecraft-oss/pkg/domain"
	"github.com/stagecraftai/stagecraft-oss/pkg/engine/handlers"
	"github.com/stagecraftai/stagecraft-oss/pkg/engine/runtime"
	"github.com/stagecraftai/stagecraft-oss/pkg/graph"
	"github.com/stagecraftai/stagecraft-oss/pkg/prompting"
	"github.com/stagecraftai/stagecraft-oss/pkg/telemetry"
)

// DefaultChunkWorkers bounds concurrent batch chunk execution when the
// caller does not configure a limit.
const DefaultChunkWorkers = 4

// Config holds the dependencies for creating a StageExecutor.
type Config struct {
	// Prompt serves ai_prompt nodes. Defaults to the deterministic local
	// client when unset.
	Prompt prompting.Client
	Logger *slog.Logger
	// ChunkWorkers caps how many batch chunks execute concurrently.
	ChunkWorkers int
}

// StageExecutor executes pipelines stage by stage with per-type node handlers.
type StageExecutor struct {
	handlers map[domain.NodeType]runtime.Handler
	logger   *slog.Logger
	workers  int
	tracer   trace.Tracer
}

// Checkpoint describes a suspended interactive node awaiting human input.
type Checkpoint struct {
	NodeID     string
	NodeType   domain.NodeType
	Label      string
	StageIndex int
	// Value is the inbound value surfaced for edit, approval, or entry.
	Value any
}

// Run is the mutable state of one pipeline execution. A run advances until it
// completes or suspends at a Checkpoint; Resume continues a suspended run.
type Run struct {
	Pipeline domain.Pipeline
	Order    []domain.Node
	Stages   []graph.Stage
	State    *runtime.State
	// Pending is non-nil while the run is suspended at a checkpoint.
	Pending *Checkpoint

	stageOf []int
	pos     int
	done    bool
}

// Done reports whether every node in the run has executed.
func (r *Run) Done() bool {
	return r.done
}

// NewStageExecutor creates an executor with the full handler registry.
func NewStageExecutor(cfg Config) *StageExecutor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prompt := cfg.Prompt
	if prompt == nil {
		prompt = prompting.NewLocalClient()
	}
	workers := cfg.ChunkWorkers
	if workers <= 0 {
		workers = DefaultChunkWorkers
	}

	checkpoint := handlers.NewCheckpointHandler(logger)
	registry := map[domain.NodeType]runtime.Handler{
		domain.NodeTemplate:     handlers.NewTemplateHandler(logger),
		domain.NodeAIPrompt:     handlers.NewPromptHandler(prompt, logger),
		domain.NodeParseList:    handlers.NewParseListHandler(logger),
		domain.NodeBatchLoop:    handlers.NewBatchHandler(logger),
		domain.NodeAggregate:    handlers.NewAggregateHandler(logger),
		domain.NodeUserEditList: checkpoint,
		domain.NodeUserReview:   checkpoint,
		domain.NodeUserInput:    checkpoint,
	}

	return &StageExecutor{
		handlers: registry,
		logger:   logger,
		workers:  workers,
		tracer:   otel.Tracer("stagecraft.engine"),
	}
}

// Start linearizes the pipeline and executes it until completion or the first
// checkpoint. The returned run carries the committed state either way.
func (e *StageExecutor) Start(ctx context.Context, pipeline domain.Pipeline, vars map[string]string) (*Run, error) {
	if err := graph.Validate(pipeline); err != nil {
		return nil, err
	}
	order, err := graph.Resolve(pipeline)
	if err != nil {
		return nil, err
	}
	stages := graph.GroupStages(order)

	stageOf := make([]int, 0, len(order))
	for i, stage := range stages {
		for range stage.Nodes {
			stageOf = append(stageOf, i)
		}
	}

	run := &Run{
		Pipeline: pipeline,
		Order:    order,
		Stages:   stages,
		State:    runtime.NewState(vars),
		stageOf:  stageOf,
	}

	e.logger.Info("starting pipeline run",
		"pipeline", pipeline.Name,
		"nodes", len(order),
		"stages", len(stages),
	)

	if err := e.advance(ctx, run); err != nil {
		return run, err
	}
	return run, nil
}

// Resume supplies human input to a suspended run and continues execution.
// A nil value confirms the surfaced value unchanged.
func (e *StageExecutor) Resume(ctx context.Context, run *Run, value any) error {
	if run.done {
		return fmt.Errorf("run for pipeline %q already complete", run.Pipeline.Name)
	}
	if run.Pending == nil {
		return fmt.Errorf("run for pipeline %q is not suspended", run.Pipeline.Name)
	}

	if value == nil {
		value = run.Pending.Value
	}
	run.State.Commit(run.Pending.NodeID, value)
	e.logger.Info("checkpoint resumed",
		"pipeline", run.Pipeline.Name,
		"node_id", run.Pending.NodeID,
		"node_type", string(run.Pending.NodeType),
	)
	run.Pending = nil
	run.pos++

	return e.advance(ctx, run)
}

// advance executes nodes from the run's current position until the order is
// exhausted or an interactive node suspends.
func (e *StageExecutor) advance(ctx context.Context, run *Run) error {
	for run.pos < len(run.Order) {
		if err := ctx.Err(); err != nil {
			return err
		}

		node := &run.Order[run.pos]
		if node.Type == domain.NodeBatchLoop {
			if err := e.executeBatchSpan(ctx, run); err != nil {
				return err
			}
			continue
		}

		result, err := e.executeNode(ctx, run, node, run.State)
		if err != nil {
			return fmt.Errorf("node %q execution failed: %w", node.ID, err)
		}

		if result.Outcome == runtime.OutcomeSuspend {
			run.Pending = &Checkpoint{
				NodeID:     node.ID,
				NodeType:   node.Type,
				Label:      node.Label,
				StageIndex: run.stageOf[run.pos],
				Value:      result.Output,
			}
			e.logger.Info("run suspended at checkpoint",
				"pipeline", run.Pipeline.Name,
				"node_id", node.ID,
				"node_type", string(node.Type),
			)
			return nil
		}

		run.State.Commit(node.ID, result.Output)
		run.pos++
	}

	run.done = true
	e.logger.Info("pipeline run complete", "pipeline", run.Pipeline.Name)
	return nil
}

// executeNode runs one node through its handler with a span and metrics.
func (e *StageExecutor) executeNode(ctx context.Context, run *Run, node *domain.Node, state *runtime.State) (runtime.Result, error) {
	handler, ok := e.handlers[node.Type]
	if !ok {
		return runtime.Result{}, fmt.Errorf("%w: %q", domain.ErrUnknownNodeType, node.Type)
	}

	nodeCtx, span := e.tracer.Start(ctx, "pipeline.node", trace.WithAttributes(
		attribute.String("pipeline.name", run.Pipeline.Name),
		attribute.String("node.id", node.ID),
		attribute.String("node.type", string(node.Type)),
	))
	defer span.End()

	start := time.Now()
	result, err := handler.Execute(nodeCtx, node, state)
	duration := time.Since(start)

	if err != nil {
		e.logger.Error("node execution failed",
			"pipeline", run.Pipeline.Name,
			"node_id", node.ID,
			"error", err,
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.String("node.outcome", string(result.Outcome)))
	}

	telemetry.RecordNodeMetrics(nodeCtx, telemetry.NodeMetrics{
		PipelineName: run.Pipeline.Name,
		StageIndex:   run.stageOf[run.pos],
		NodeID:       node.ID,
		NodeType:     node.Type,
		Suspended:    err == nil && result.Outcome == runtime.OutcomeSuspend,
		Err:          err,
		Duration:     duration,
	})

	return result, err
}

// executeBatchSpan fans the nodes between a batch_loop and its downstream
// aggregate out across chunks, executing each chunk against an isolated copy
// of the run state, then stages the ordered chunk results for the aggregate.
func (e *StageExecutor) executeBatchSpan(ctx context.Context, run *Run) error {
	batchNode := &run.Order[run.pos]

	spanEnd := run.pos + 1
	for spanEnd < len(run.Order) && run.Order[spanEnd].Type != domain.NodeAggregate {
		if run.Order[spanEnd].Type.Interactive() {
			return fmt.Errorf("node %q: interactive node %q inside batch span", batchNode.ID, run.Order[spanEnd].ID)
		}
		if run.Order[spanEnd].Type == domain.NodeBatchLoop {
			return fmt.Errorf("node %q: nested batch_loop %q before aggregate", batchNode.ID, run.Order[spanEnd].ID)
		}
		spanEnd++
	}
	if spanEnd == len(run.Order) {
		return fmt.Errorf("node %q has no downstream aggregate", batchNode.ID)
	}
	aggregateNode := run.Order[spanEnd]
	spanNodes := run.Order[run.pos+1 : spanEnd]

	result, err := e.executeNode(ctx, run, batchNode, run.State)
	if err != nil {
		return fmt.Errorf("node %q execution failed: %w", batchNode.ID, err)
	}
	chunks, ok := result.Output.([][]string)
	if !ok {
		return fmt.Errorf("node %q produced %T, want chunk list", batchNode.ID, result.Output)
	}
	run.State.Commit(batchNode.ID, chunks)

	chunkResults := make([]any, len(chunks))
	chunkErrs := make([]error, len(chunks))

	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		wg.Add(1)
		go func(i int, chunk []string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := ctx.Err(); err != nil {
				chunkErrs[i] = err
				return
			}
			chunkResults[i], chunkErrs[i] = e.executeChunk(ctx, run, batchNode.ID, spanNodes, chunk)
		}(i, chunk)
	}
	wg.Wait()

	for i, chunkErr := range chunkErrs {
		if chunkErr != nil {
			return fmt.Errorf("node %q chunk %d failed: %w", batchNode.ID, i, chunkErr)
		}
	}

	handlers.StageChunkResults(run.State, aggregateNode.ID, chunkResults)
	e.logger.Debug("batch span complete",
		"pipeline", run.Pipeline.Name,
		"node_id", batchNode.ID,
		"chunks", len(chunks),
		"span_nodes", len(spanNodes),
	)

	run.pos = spanEnd
	return nil
}

// executeChunk runs the span nodes sequentially against an isolated state
// seeded with the chunk as the batch node's output, returning the final
// span node's output (or the chunk itself for an empty span).
func (e *StageExecutor) executeChunk(ctx context.Context, run *Run, batchID string, spanNodes []domain.Node, chunk []string) (any, error) {
	state := run.State.Clone()
	state.Commit(batchID, chunk)

	var last any = chunk
	for i := range spanNodes {
		node := &spanNodes[i]
		result, err := e.executeNode(ctx, run, node, state)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", node.ID, err)
		}
		state.Commit(node.ID, result.Output)
		last = result.Output
	}
	return last, nil
}
