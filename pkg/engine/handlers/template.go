// Package handlers implements the per-type node executors dispatched by the
// stage executor.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/stagecraftai/stagecraft-oss/pkg/domain"
	"github.com/stagecraftai/stagecraft-oss/pkg/engine/runtime"
)

// variablePattern matches double-brace-wrapped identifiers, e.g. {{meeting_subject}}.
var variablePattern = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)

// ExtractVariables scans template text for variable placeholders. Duplicates
// collapse to one entry; first-seen order is preserved.
func ExtractVariables(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range variablePattern.FindAllStringSubmatch(text, -1) {
		name := m[1]
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// Substitute replaces each placeholder with the supplied value for that
// variable name. Unresolved placeholders stay literal: leaving them visible
// is a rendering concern, not a failure.
func Substitute(text string, vars map[string]string) string {
	return variablePattern.ReplaceAllStringFunc(text, func(match string) string {
		name := match[2 : len(match)-2]
		if value, ok := vars[name]; ok {
			return value
		}
		return match
	})
}

// UnresolvedVariables returns placeholders that remain after substitution,
// for callers that treat leftovers as MissingRequiredVariable.
func UnresolvedVariables(rendered string) []string {
	return ExtractVariables(rendered)
}

// RequireResolved fails with ErrMissingRequiredVariable when rendered text
// still contains placeholders.
func RequireResolved(rendered string) error {
	if leftover := UnresolvedVariables(rendered); len(leftover) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrMissingRequiredVariable, strings.Join(leftover, ", "))
	}
	return nil
}

// TemplateHandler renders template_text against the run's variables. Template
// nodes are interactive: the rendered result is surfaced for the user before
// the stage advances, so the handler suspends with the rendered text.
type TemplateHandler struct {
	logger *slog.Logger
}

// NewTemplateHandler creates the template executor.
func NewTemplateHandler(logger *slog.Logger) *TemplateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TemplateHandler{logger: logger}
}

// Execute renders the template and pauses for confirmation.
func (h *TemplateHandler) Execute(_ context.Context, node *domain.Node, state *runtime.State) (runtime.Result, error) {
	text, _ := node.Config["template_text"].(string)
	rendered := Substitute(text, state.Variables)

	h.logger.Debug("template rendered",
		"node_id", node.ID,
		"variables", len(ExtractVariables(text)),
		"unresolved", len(UnresolvedVariables(rendered)),
	)
	return runtime.Suspend(rendered), nil
}
