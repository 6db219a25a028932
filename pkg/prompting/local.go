package prompting

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// LocalClient is a deterministic in-process provider used for dry runs and
// tests. It echoes a digest of the composed prompt instead of calling out.
type LocalClient struct{}

// NewLocalClient creates the dry-run provider.
func NewLocalClient() *LocalClient {
	return &LocalClient{}
}

// Generate returns a deterministic response derived from the request.
func (c *LocalClient) Generate(_ context.Context, req Request) (string, error) {
	effort := req.Effort
	if effort == "" {
		effort = EffortMedium
	}
	prompt := strings.TrimSpace(req.Prompt)
	if len(prompt) > 80 {
		cut := 80
		for cut > 0 && !utf8.RuneStart(prompt[cut]) {
			cut--
		}
		prompt = prompt[:cut] + "…"
	}
	return fmt.Sprintf("[dry-run effort=%s] %s", effort, prompt), nil
}
