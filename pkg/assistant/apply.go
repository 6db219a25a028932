package assistant

import (
	"fmt"

	"github.com/stagecraftai/stagecraft-oss/pkg/config"
	"github.com/stagecraftai/stagecraft-oss/pkg/graph"
)

// ApplyMode selects how a confirmed proposal lands in the model.
type ApplyMode string

const (
	// ApplyReplace discards the current graph in favour of the proposal.
	ApplyReplace ApplyMode = "replace"
	// ApplyMerge folds the proposal's nodes and edges into the current
	// graph. Nodes with matching ids are updated in place, and proposal
	// edges may reference existing nodes.
	ApplyMerge ApplyMode = "merge"
)

// Apply validates a proposal and, only if the resulting graph is
// structurally sound, installs it into the model. Proposals come from
// conversational text and are untrusted: they pass the same structural
// validation as user-authored edits, and a failed apply leaves the model
// untouched.
func Apply(model *graph.Model, proposal *config.PipelinePayload, mode ApplyMode) error {
	if proposal == nil {
		return fmt.Errorf("nil proposal")
	}

	var candidate *config.PipelinePayload
	switch mode {
	case ApplyReplace:
		candidate = proposal
	case ApplyMerge:
		candidate = mergePayloads(config.FromPipeline(model.Snapshot()), proposal)
	default:
		return fmt.Errorf("unknown apply mode %q", mode)
	}

	validated, err := config.ToPipeline(candidate)
	if err != nil {
		return fmt.Errorf("proposal rejected: %w", err)
	}
	model.Replace(validated)
	return nil
}

// mergePayloads folds the proposal into the base: existing node ids take the
// proposal's label, config, and inputs; new nodes and non-duplicate edges
// are appended.
func mergePayloads(base, proposal *config.PipelinePayload) *config.PipelinePayload {
	out := &config.PipelinePayload{
		Name:        base.Name,
		Description: base.Description,
		Nodes:       append([]config.NodePayload(nil), base.Nodes...),
		Edges:       append([]config.EdgePayload(nil), base.Edges...),
	}
	if proposal.Name != "" {
		out.Name = proposal.Name
	}
	if proposal.Description != "" {
		out.Description = proposal.Description
	}

	index := make(map[string]int, len(out.Nodes))
	for i, n := range out.Nodes {
		index[n.ID] = i
	}
	for _, n := range proposal.Nodes {
		if i, ok := index[n.ID]; ok {
			out.Nodes[i].Label = n.Label
			out.Nodes[i].Config = n.Config
			if len(n.InputFrom) > 0 {
				out.Nodes[i].InputFrom = n.InputFrom
			}
			continue
		}
		index[n.ID] = len(out.Nodes)
		out.Nodes = append(out.Nodes, n)
	}

	for _, e := range proposal.Edges {
		if !hasEdge(out.Edges, e) {
			out.Edges = append(out.Edges, e)
		}
	}
	return out
}

func hasEdge(edges []config.EdgePayload, e config.EdgePayload) bool {
	for _, existing := range edges {
		if existing.Source == e.Source && existing.Target == e.Target && existing.Channel == e.Channel {
			return true
		}
	}
	return false
}
