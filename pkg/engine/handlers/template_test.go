package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagecraftai/stagecraft-oss/pkg/domain"
	"github.com/stagecraftai/stagecraft-oss/pkg/engine/runtime"
)

func TestExtractVariables(t *testing.T) {
	vars := ExtractVariables("Hello {{name}}, see {{name}} again and {{other}}")
	assert.Equal(t, []string{"name", "other"}, vars)
}

func TestExtractVariablesEdgeCases(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "no placeholders", text: "plain text", want: nil},
		{name: "empty braces ignored", text: "{{}} and {{x}}", want: []string{"x"}},
		{name: "leading digit not an identifier", text: "{{1st}} {{first}}", want: []string{"first"}},
		{name: "underscore identifiers", text: "{{meeting_subject}}", want: []string{"meeting_subject"}},
		{name: "single braces ignored", text: "{name}", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractVariables(tt.text))
		})
	}
}

func TestSubstituteLeavesUnresolvedPlaceholders(t *testing.T) {
	got := Substitute("Hello {{name}}, see {{name}} again and {{other}}", map[string]string{"name": "World"})
	assert.Equal(t, "Hello World, see World again and {{other}}", got)
}

func TestRequireResolved(t *testing.T) {
	assert.NoError(t, RequireResolved("all done"))
	err := RequireResolved("still {{missing}}")
	assert.ErrorIs(t, err, domain.ErrMissingRequiredVariable)
}

func TestTemplateHandlerSuspendsWithRenderedText(t *testing.T) {
	h := NewTemplateHandler(nil)
	node := &domain.Node{
		ID:     "n1",
		Type:   domain.NodeTemplate,
		Config: map[string]any{"template_text": "Summarize {{meeting_subject}}"},
	}
	state := runtime.NewState(map[string]string{"meeting_subject": "the roadmap review"})

	res, err := h.Execute(context.Background(), node, state)
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeSuspend, res.Outcome)
	assert.Equal(t, "Summarize the roadmap review", res.Output)
}
