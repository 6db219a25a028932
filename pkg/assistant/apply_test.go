package assistant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagecraftai/stagecraft-oss/pkg/config"
	"github.com/stagecraftai/stagecraft-oss/pkg/domain"
	"github.com/stagecraftai/stagecraft-oss/pkg/graph"
)

func baseModel(t *testing.T) *graph.Model {
	t.Helper()
	payload := &config.PipelinePayload{
		Name: "base",
		Nodes: []config.NodePayload{
			{ID: "n1", NodeType: "user_input", Label: "Topic"},
			{ID: "n2", NodeType: "ai_prompt", Label: "Draft", InputFrom: []string{"n1"},
				Config: map[string]any{"inline_prompt": "Write about {{n1}}"}},
		},
		Edges: []config.EdgePayload{
			{Source: "n1", Target: "n2", Channel: "flow"},
		},
	}
	pipeline, err := config.ToPipeline(payload)
	require.NoError(t, err)
	return graph.NewModelFromPipeline(pipeline, nil)
}

func TestApplyReplaceInstallsProposal(t *testing.T) {
	model := baseModel(t)
	proposal := &config.PipelinePayload{
		Name: "replacement",
		Nodes: []config.NodePayload{
			{ID: "n1", NodeType: "template", Label: "Prompt",
				Config: map[string]any{"template_text": "Hello {{name}}"}},
		},
	}

	require.NoError(t, Apply(model, proposal, ApplyReplace))

	snap := model.Snapshot()
	assert.Equal(t, "replacement", snap.Name)
	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, domain.NodeTemplate, snap.Nodes[0].Type)
}

func TestApplyMergeFoldsNodesAndEdges(t *testing.T) {
	model := baseModel(t)
	proposal := &config.PipelinePayload{
		Name: "extended",
		Nodes: []config.NodePayload{
			{ID: "n2", NodeType: "ai_prompt", Label: "Redraft",
				Config: map[string]any{"inline_prompt": "Rewrite {{n1}}"}},
			{ID: "n3", NodeType: "parse_list", Label: "Split", InputFrom: []string{"n2"},
				Config: map[string]any{"script": "lines(text)"}},
		},
		Edges: []config.EdgePayload{
			{Source: "n2", Target: "n3", Channel: "flow"},
		},
	}

	require.NoError(t, Apply(model, proposal, ApplyMerge))

	snap := model.Snapshot()
	require.Len(t, snap.Nodes, 3)

	updated, ok := model.Node("n2")
	require.True(t, ok)
	assert.Equal(t, "Redraft", updated.Label)

	order, err := graph.Resolve(snap)
	require.NoError(t, err)
	assert.Len(t, order, 3)
}

func TestApplyRejectsInvalidProposalAtomically(t *testing.T) {
	tests := []struct {
		name     string
		proposal *config.PipelinePayload
	}{
		{
			name: "ghost edge endpoint",
			proposal: &config.PipelinePayload{
				Name:  "bad",
				Nodes: []config.NodePayload{{ID: "x1", NodeType: "template"}},
				Edges: []config.EdgePayload{{Source: "x1", Target: "ghost", Channel: "flow"}},
			},
		},
		{
			name: "unknown node type",
			proposal: &config.PipelinePayload{
				Name:  "bad",
				Nodes: []config.NodePayload{{ID: "x1", NodeType: "mystery"}},
			},
		},
		{
			name: "flow cycle",
			proposal: &config.PipelinePayload{
				Name: "bad",
				Nodes: []config.NodePayload{
					{ID: "x1", NodeType: "template"},
					{ID: "x2", NodeType: "template"},
				},
				Edges: []config.EdgePayload{
					{Source: "x1", Target: "x2", Channel: "flow"},
					{Source: "x2", Target: "x1", Channel: "flow"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := baseModel(t)
			before := model.Snapshot()

			require.Error(t, Apply(model, tt.proposal, ApplyReplace))
			assert.Equal(t, before, model.Snapshot(), "failed apply must leave the model unchanged")
		})
	}
}

func TestApplyMergeRejectsConflictingFlowEdge(t *testing.T) {
	model := baseModel(t)
	// n2 already has a flow predecessor; merging a second one must fail.
	proposal := &config.PipelinePayload{
		Nodes: []config.NodePayload{
			{ID: "n3", NodeType: "template"},
		},
		Edges: []config.EdgePayload{
			{Source: "n3", Target: "n2", Channel: "flow"},
		},
	}
	before := model.Snapshot()

	err := Apply(model, proposal, ApplyMerge)
	require.ErrorIs(t, err, domain.ErrFlowConflict)
	assert.Equal(t, before, model.Snapshot())
}

func TestApplyUnknownMode(t *testing.T) {
	model := baseModel(t)
	proposal := &config.PipelinePayload{Nodes: []config.NodePayload{}}
	require.Error(t, Apply(model, proposal, ApplyMode("upsert")))
}
