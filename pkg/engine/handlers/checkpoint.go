package handlers

import (
	"context"
	"log/slog"

	"github.com/stagecraftai/stagecraft-oss/pkg/domain"
	"github.com/stagecraftai/stagecraft-oss/pkg/engine/runtime"
)

// CheckpointHandler serves the user_edit_list, user_review, and user_input
// node types. A checkpoint is not a transform: it pauses the run and surfaces
// the inbound value for human edit, approval, or entry. The executor resumes
// with the value the human provides.
type CheckpointHandler struct {
	logger *slog.Logger
}

// NewCheckpointHandler creates the checkpoint executor.
func NewCheckpointHandler(logger *slog.Logger) *CheckpointHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckpointHandler{logger: logger}
}

// Execute surfaces the inbound value and suspends. user_input nodes have no
// inbound value requirement; they suspend with whatever (possibly nil) input
// is populated.
func (h *CheckpointHandler) Execute(_ context.Context, node *domain.Node, state *runtime.State) (runtime.Result, error) {
	value, _ := state.Input(node)
	h.logger.Debug("checkpoint reached", "node_id", node.ID, "node_type", string(node.Type))
	return runtime.Suspend(value), nil
}
