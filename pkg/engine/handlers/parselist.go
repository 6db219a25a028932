package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stagecraftai/stagecraft-oss/pkg/domain"
	"github.com/stagecraftai/stagecraft-oss/pkg/engine/runtime"
	"github.com/stagecraftai/stagecraft-oss/pkg/engine/transform"
)

// ParseListHandler evaluates the node's user-authored transform program
// against its text input and returns the resulting ordered list. Programs run
// in the restricted in-process transform language: no ambient network,
// session, or storage access exists in that evaluation context.
type ParseListHandler struct {
	eval   *transform.Evaluator
	logger *slog.Logger
}

// NewParseListHandler creates the parse_list executor.
func NewParseListHandler(logger *slog.Logger) *ParseListHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ParseListHandler{
		eval:   transform.NewEvaluator(transform.Options{}),
		logger: logger,
	}
}

// Execute runs the transform program on the node's text input.
func (h *ParseListHandler) Execute(ctx context.Context, node *domain.Node, state *runtime.State) (runtime.Result, error) {
	program, _ := node.Config["script"].(string)
	if program == "" {
		return runtime.Result{}, fmt.Errorf("%w: node %q has no script", domain.ErrScriptExecution, node.ID)
	}

	text, err := state.TextInput(node)
	if err != nil {
		return runtime.Result{}, fmt.Errorf("%w: %v", domain.ErrScriptExecution, err)
	}

	list, err := h.eval.EvaluateList(ctx, program, text)
	if err != nil {
		// Cancellation is the caller's doing, not the script's.
		if errors.Is(err, context.Canceled) {
			return runtime.Result{}, err
		}
		return runtime.Result{}, fmt.Errorf("%w: node %q: %v", domain.ErrScriptExecution, node.ID, err)
	}

	h.logger.Debug("parse_list executed", "node_id", node.ID, "items", len(list))
	return runtime.Success(list), nil
}
