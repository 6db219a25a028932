package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/stagecraftai/stagecraft-oss/pkg/domain"
	"github.com/stagecraftai/stagecraft-oss/pkg/engine/runtime"
)

// Partition splits items into contiguous chunks of size elements each,
// preserving order. A size of zero means one chunk containing all elements;
// a negative size fails with ErrInvalidBatchSize.
func Partition(items []string, size int) ([][]string, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidBatchSize, size)
	}
	if size == 0 {
		return [][]string{append([]string(nil), items...)}, nil
	}
	chunks := make([][]string, 0, int(math.Ceil(float64(len(items))/float64(size))))
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, append([]string(nil), items[start:end]...))
	}
	return chunks, nil
}

// BatchSize reads the node's batch_size config, tolerating the float64 that
// generic JSON decoding produces.
func BatchSize(node *domain.Node) (int, error) {
	switch v := node.Config["batch_size"].(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %v is not an integer", domain.ErrInvalidBatchSize, v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("%w: batch_size is %T", domain.ErrInvalidBatchSize, v)
	}
}

// BatchHandler partitions its list input into chunks. The stage executor owns
// the per-chunk fan-out of the downstream span; this handler only produces
// the chunks.
type BatchHandler struct {
	logger *slog.Logger
}

// NewBatchHandler creates the batch_loop executor.
func NewBatchHandler(logger *slog.Logger) *BatchHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchHandler{logger: logger}
}

// Execute partitions the input list.
func (h *BatchHandler) Execute(_ context.Context, node *domain.Node, state *runtime.State) (runtime.Result, error) {
	size, err := BatchSize(node)
	if err != nil {
		return runtime.Result{}, err
	}
	items, err := state.ListInput(node)
	if err != nil {
		return runtime.Result{}, err
	}
	chunks, err := Partition(items, size)
	if err != nil {
		return runtime.Result{}, err
	}
	h.logger.Debug("batch_loop partitioned", "node_id", node.ID, "items", len(items), "chunks", len(chunks))
	return runtime.Success(chunks), nil
}
