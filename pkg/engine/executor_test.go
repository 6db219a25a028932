package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagecraftai/stagecraft-oss/pkg/domain"
	"github.com/stagecraftai/stagecraft-oss/pkg/prompting"
)

// scriptedClient answers ai_prompt nodes from a test-provided function.
type scriptedClient struct {
	generate func(req prompting.Request) (string, error)
}

func (c *scriptedClient) Generate(_ context.Context, req prompting.Request) (string, error) {
	return c.generate(req)
}

func flowChain(nodeIDs ...string) []domain.Edge {
	edges := make([]domain.Edge, 0, len(nodeIDs)-1)
	for i := 1; i < len(nodeIDs); i++ {
		edges = append(edges, domain.Edge{
			ID:      "e" + nodeIDs[i],
			Source:  nodeIDs[i-1],
			Target:  nodeIDs[i],
			Channel: domain.ChannelFlow,
		})
	}
	return edges
}

func TestStartSuspendsAtUserInputAndResumeCompletes(t *testing.T) {
	pipeline := domain.Pipeline{
		Name: "book-list",
		Nodes: []domain.Node{
			{ID: "n1", Type: domain.NodeUserInput, Label: "Topic"},
			{ID: "n2", Type: domain.NodeAIPrompt, Config: map[string]any{
				"inline_prompt": "List five books about {{n1}}.",
			}, Inputs: []string{"n1"}},
			{ID: "n3", Type: domain.NodeParseList, Config: map[string]any{
				"script": "lines(text)",
			}, Inputs: []string{"n2"}},
		},
		Edges: flowChain("n1", "n2", "n3"),
	}

	exec := NewStageExecutor(Config{})
	run, err := exec.Start(context.Background(), pipeline, nil)
	require.NoError(t, err)
	require.NotNil(t, run.Pending)
	assert.False(t, run.Done())
	assert.Equal(t, "n1", run.Pending.NodeID)
	assert.Equal(t, domain.NodeUserInput, run.Pending.NodeType)
	assert.Equal(t, 0, run.Pending.StageIndex)

	require.NoError(t, exec.Resume(context.Background(), run, "gothic fiction"))
	require.True(t, run.Done())
	assert.Nil(t, run.Pending)

	assert.Equal(t, "gothic fiction", run.State.Outputs["n1"])
	assert.Equal(t, "[dry-run effort=medium] List five books about gothic fiction.", run.State.Outputs["n2"])
	assert.Equal(t, []string{"[dry-run effort=medium] List five books about gothic fiction."}, run.State.Outputs["n3"])
}

func TestTemplateCheckpointSurfacesRenderedText(t *testing.T) {
	pipeline := domain.Pipeline{
		Name: "greeting",
		Nodes: []domain.Node{
			{ID: "n1", Type: domain.NodeTemplate, Config: map[string]any{
				"template_text": "Hello {{name}}",
			}},
		},
	}
	exec := NewStageExecutor(Config{})

	t.Run("resume nil confirms rendered text", func(t *testing.T) {
		run, err := exec.Start(context.Background(), pipeline, map[string]string{"name": "Ada"})
		require.NoError(t, err)
		require.NotNil(t, run.Pending)
		assert.Equal(t, "Hello Ada", run.Pending.Value)

		require.NoError(t, exec.Resume(context.Background(), run, nil))
		assert.True(t, run.Done())
		assert.Equal(t, "Hello Ada", run.State.Outputs["n1"])
	})

	t.Run("resume with edit overrides rendered text", func(t *testing.T) {
		run, err := exec.Start(context.Background(), pipeline, map[string]string{"name": "Ada"})
		require.NoError(t, err)
		require.NotNil(t, run.Pending)

		require.NoError(t, exec.Resume(context.Background(), run, "Hello world"))
		assert.Equal(t, "Hello world", run.State.Outputs["n1"])
	})
}

func TestBatchSpanPreservesChunkOrderUnderConcurrency(t *testing.T) {
	client := &scriptedClient{generate: func(req prompting.Request) (string, error) {
		if req.Prompt == "seed" {
			return "a\nb\nc\nd\ne", nil
		}
		// Earlier chunks finish last so merge order cannot ride on
		// completion order.
		switch {
		case strings.Contains(req.Prompt, "a"):
			time.Sleep(40 * time.Millisecond)
		case strings.Contains(req.Prompt, "c"):
			time.Sleep(20 * time.Millisecond)
		}
		return req.Prompt, nil
	}}

	pipeline := domain.Pipeline{
		Name: "batched",
		Nodes: []domain.Node{
			{ID: "n1", Type: domain.NodeAIPrompt, Config: map[string]any{"inline_prompt": "seed"}},
			{ID: "n2", Type: domain.NodeParseList, Config: map[string]any{"script": "lines(text)"}, Inputs: []string{"n1"}},
			{ID: "n3", Type: domain.NodeBatchLoop, Config: map[string]any{"batch_size": 2}, Inputs: []string{"n2"}},
			{ID: "n4", Type: domain.NodeAIPrompt, Config: map[string]any{"inline_prompt": "items={{n3}}"}, Inputs: []string{"n3"}},
			{ID: "n5", Type: domain.NodeAggregate, Inputs: []string{"n4"}},
		},
		Edges: flowChain("n1", "n2", "n3", "n4", "n5"),
	}

	exec := NewStageExecutor(Config{Prompt: client, ChunkWorkers: 3})
	run, err := exec.Start(context.Background(), pipeline, nil)
	require.NoError(t, err)
	require.True(t, run.Done())

	chunks, ok := run.State.Outputs["n3"].([][]string)
	require.True(t, ok)
	assert.Len(t, chunks, 3)

	assert.Equal(t, []string{"items=a\nb", "items=c\nd", "items=e"}, run.State.Outputs["n5"])
}

func TestBatchSpanWithoutAggregateFails(t *testing.T) {
	client := &scriptedClient{generate: func(req prompting.Request) (string, error) {
		return "a\nb", nil
	}}
	pipeline := domain.Pipeline{
		Name: "dangling-batch",
		Nodes: []domain.Node{
			{ID: "n1", Type: domain.NodeAIPrompt, Config: map[string]any{"inline_prompt": "seed"}},
			{ID: "n2", Type: domain.NodeParseList, Config: map[string]any{"script": "lines(text)"}, Inputs: []string{"n1"}},
			{ID: "n3", Type: domain.NodeBatchLoop, Inputs: []string{"n2"}},
		},
		Edges: flowChain("n1", "n2", "n3"),
	}

	exec := NewStageExecutor(Config{Prompt: client})
	_, err := exec.Start(context.Background(), pipeline, nil)
	require.ErrorContains(t, err, "no downstream aggregate")
}

func TestBatchSpanRejectsInteractiveNode(t *testing.T) {
	client := &scriptedClient{generate: func(req prompting.Request) (string, error) {
		return "a\nb", nil
	}}
	pipeline := domain.Pipeline{
		Name: "interactive-batch",
		Nodes: []domain.Node{
			{ID: "n1", Type: domain.NodeAIPrompt, Config: map[string]any{"inline_prompt": "seed"}},
			{ID: "n2", Type: domain.NodeParseList, Config: map[string]any{"script": "lines(text)"}, Inputs: []string{"n1"}},
			{ID: "n3", Type: domain.NodeBatchLoop, Inputs: []string{"n2"}},
			{ID: "n4", Type: domain.NodeUserReview, Inputs: []string{"n3"}},
			{ID: "n5", Type: domain.NodeAggregate, Inputs: []string{"n4"}},
		},
		Edges: flowChain("n1", "n2", "n3", "n4", "n5"),
	}

	exec := NewStageExecutor(Config{Prompt: client})
	_, err := exec.Start(context.Background(), pipeline, nil)
	require.ErrorContains(t, err, "interactive node")
}

func TestProviderErrorsSurfaceThroughStart(t *testing.T) {
	client := &scriptedClient{generate: func(req prompting.Request) (string, error) {
		return "", domain.ErrQuotaExceeded
	}}
	pipeline := domain.Pipeline{
		Name: "over-quota",
		Nodes: []domain.Node{
			{ID: "n1", Type: domain.NodeAIPrompt, Config: map[string]any{"inline_prompt": "seed"}},
		},
	}

	exec := NewStageExecutor(Config{Prompt: client})
	run, err := exec.Start(context.Background(), pipeline, nil)
	require.ErrorIs(t, err, domain.ErrQuotaExceeded)
	require.NotNil(t, run)
	assert.False(t, run.Done())
}

func TestUnknownNodeTypeFailsExecution(t *testing.T) {
	pipeline := domain.Pipeline{
		Name: "mystery",
		Nodes: []domain.Node{
			{ID: "n1", Type: domain.NodeType("mystery")},
		},
	}

	exec := NewStageExecutor(Config{})
	_, err := exec.Start(context.Background(), pipeline, nil)
	require.ErrorIs(t, err, domain.ErrUnknownNodeType)
}

func TestResumeGuards(t *testing.T) {
	pipeline := domain.Pipeline{
		Name: "single-checkpoint",
		Nodes: []domain.Node{
			{ID: "n1", Type: domain.NodeUserInput},
		},
	}
	exec := NewStageExecutor(Config{})

	run, err := exec.Start(context.Background(), pipeline, nil)
	require.NoError(t, err)
	require.NoError(t, exec.Resume(context.Background(), run, "done"))
	require.True(t, run.Done())

	err = exec.Resume(context.Background(), run, "again")
	require.ErrorContains(t, err, "already complete")
}

func TestStartHonoursContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pipeline := domain.Pipeline{
		Name: "cancelled",
		Nodes: []domain.Node{
			{ID: "n1", Type: domain.NodeUserInput},
		},
	}

	exec := NewStageExecutor(Config{})
	_, err := exec.Start(ctx, pipeline, nil)
	require.ErrorIs(t, err, context.Canceled)
}
