package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stagecraftai/stagecraft-oss/pkg/domain"
	"github.com/stagecraftai/stagecraft-oss/pkg/engine/runtime"
	"github.com/stagecraftai/stagecraft-oss/pkg/prompting"
)

// PromptHandler invokes the external prompting collaborator with the node's
// composed prompt. The inline prompt goes through template substitution
// first, so a prompt can reference run variables; a placeholder named after
// an upstream node id resolves to that node's latest output, with list
// outputs joined by newlines.
type PromptHandler struct {
	client prompting.Client
	logger *slog.Logger
}

// NewPromptHandler creates the ai_prompt executor.
func NewPromptHandler(client prompting.Client, logger *slog.Logger) *PromptHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PromptHandler{client: client, logger: logger}
}

// Execute composes and sends the prompt, returning the generated text.
func (h *PromptHandler) Execute(ctx context.Context, node *domain.Node, state *runtime.State) (runtime.Result, error) {
	inline, _ := node.Config["inline_prompt"].(string)
	if inline == "" {
		return runtime.Result{}, fmt.Errorf("%w: node %q has no inline_prompt", domain.ErrAIRequestFailed, node.ID)
	}

	vars := make(map[string]string, len(state.Variables))
	for k, v := range state.Variables {
		vars[k] = v
	}
	for _, in := range node.Inputs {
		switch v := state.Outputs[in].(type) {
		case string:
			vars[in] = v
		case []string:
			vars[in] = strings.Join(v, "\n")
		}
	}

	prompt := Substitute(inline, vars)
	if err := RequireResolved(prompt); err != nil {
		return runtime.Result{}, err
	}

	system, _ := node.Config["system_message"].(string)
	effort, _ := node.Config["reasoning_effort"].(string)

	output, err := h.client.Generate(ctx, prompting.Request{
		Prompt: prompt,
		System: system,
		Effort: prompting.Effort(effort),
	})
	if err != nil {
		return runtime.Result{}, err
	}

	h.logger.Info("ai prompt executed",
		"node_id", node.ID,
		"effort", effort,
		"output_bytes", len(output),
	)
	return runtime.Success(output), nil
}
