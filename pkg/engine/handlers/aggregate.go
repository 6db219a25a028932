package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stagecraftai/stagecraft-oss/pkg/domain"
	"github.com/stagecraftai/stagecraft-oss/pkg/engine/runtime"
)

// Merge flattens per-chunk outputs back into one sequence, preserving chunk
// order and within-chunk order. Chunk outputs may be lists or single text
// values (a chunk whose span ends in an ai_prompt produces text).
func Merge(chunkOutputs []any) ([]string, error) {
	var out []string
	for i, chunk := range chunkOutputs {
		switch v := chunk.(type) {
		case []string:
			out = append(out, v...)
		case string:
			out = append(out, v)
		case nil:
			return nil, fmt.Errorf("chunk %d produced no output", i)
		default:
			return nil, fmt.Errorf("chunk %d produced %T, want text or list", i, v)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// AggregateHandler merges the chunk outputs staged by the executor after a
// batch_loop fan-out. Outside a batch context it degrades to an identity
// pass-through of its list input.
type AggregateHandler struct {
	logger *slog.Logger
}

// NewAggregateHandler creates the aggregate executor.
func NewAggregateHandler(logger *slog.Logger) *AggregateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AggregateHandler{logger: logger}
}

// Execute merges chunk outputs recorded under the node's own id, falling back
// to the node's list input when no batch preceded it.
func (h *AggregateHandler) Execute(_ context.Context, node *domain.Node, state *runtime.State) (runtime.Result, error) {
	if staged, ok := state.Outputs[chunkResultsKey(node.ID)]; ok {
		chunks, ok := staged.([]any)
		if !ok {
			return runtime.Result{}, fmt.Errorf("staged chunk results for node %q are %T", node.ID, staged)
		}
		merged, err := Merge(chunks)
		if err != nil {
			return runtime.Result{}, err
		}
		h.logger.Debug("aggregate merged", "node_id", node.ID, "chunks", len(chunks), "items", len(merged))
		return runtime.Success(merged), nil
	}

	list, err := state.ListInput(node)
	if err != nil {
		return runtime.Result{}, fmt.Errorf("aggregate node %q: %w", node.ID, err)
	}
	return runtime.Success(list), nil
}

// chunkResultsKey names the state slot the executor uses to hand per-chunk
// outputs to an aggregate node.
func chunkResultsKey(nodeID string) string {
	return nodeID + "#chunks"
}

// StageChunkResults records per-chunk outputs for a downstream aggregate.
// Exposed for the executor; the key is private to this package's convention.
func StageChunkResults(state *runtime.State, aggregateID string, chunks []any) {
	state.Commit(chunkResultsKey(aggregateID), chunks)
}
