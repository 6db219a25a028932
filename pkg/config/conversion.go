package config

import (
	"fmt"

	"github.com/stagecraftai/stagecraft-oss/pkg/domain"
	"github.com/stagecraftai/stagecraft-oss/pkg/graph"
)

// ToPipeline validates a payload and converts it into the domain model. Every
// payload goes through the same structural validation regardless of author,
// user edits and assistant proposals alike: unique node ids, known node
// types, existing edge endpoints, at most one flow predecessor per node, and
// an acyclic flow subgraph. Edge ids are assigned sequentially at decode.
func ToPipeline(payload *PipelinePayload) (domain.Pipeline, error) {
	if payload == nil {
		return domain.Pipeline{}, fmt.Errorf("pipeline payload is nil")
	}

	p := domain.Pipeline{Name: payload.Name, Description: payload.Description}

	nodeIDs := make(map[string]struct{}, len(payload.Nodes))
	for i, n := range payload.Nodes {
		if n.ID == "" {
			return domain.Pipeline{}, fmt.Errorf("node[%d]: id is required", i)
		}
		if _, dup := nodeIDs[n.ID]; dup {
			return domain.Pipeline{}, fmt.Errorf("node[%d]: duplicate id %q", i, n.ID)
		}
		nodeIDs[n.ID] = struct{}{}

		typ := domain.NodeType(n.NodeType)
		if !typ.Valid() {
			return domain.Pipeline{}, fmt.Errorf("node %q: %w: %q", n.ID, domain.ErrUnknownNodeType, n.NodeType)
		}
		p.Nodes = append(p.Nodes, domain.Node{
			ID:     n.ID,
			Type:   typ,
			Label:  n.Label,
			Config: n.Config,
			Inputs: append([]string(nil), n.InputFrom...),
		})
	}

	for _, n := range p.Nodes {
		for _, in := range n.Inputs {
			if _, ok := nodeIDs[in]; !ok {
				return domain.Pipeline{}, fmt.Errorf("node %q input_from: %w: %q", n.ID, domain.ErrInvalidReference, in)
			}
		}
	}

	flowTargets := make(map[string]struct{})
	for i, e := range payload.Edges {
		channel := domain.Channel(e.Channel)
		if !channel.Valid() {
			return domain.Pipeline{}, fmt.Errorf("edge[%d]: unknown channel %q", i, e.Channel)
		}
		if _, ok := nodeIDs[e.Source]; !ok {
			return domain.Pipeline{}, fmt.Errorf("edge[%d]: %w: source %q", i, domain.ErrInvalidReference, e.Source)
		}
		if _, ok := nodeIDs[e.Target]; !ok {
			return domain.Pipeline{}, fmt.Errorf("edge[%d]: %w: target %q", i, domain.ErrInvalidReference, e.Target)
		}
		if channel == domain.ChannelFlow {
			if _, taken := flowTargets[e.Target]; taken {
				return domain.Pipeline{}, fmt.Errorf("edge[%d]: %w: %q", i, domain.ErrFlowConflict, e.Target)
			}
			flowTargets[e.Target] = struct{}{}
		}
		p.Edges = append(p.Edges, domain.Edge{
			ID:      fmt.Sprintf("e%d", i+1),
			Source:  e.Source,
			Target:  e.Target,
			Channel: channel,
		})

		// A data edge registers its source as a data input of the target,
		// mirroring graph.Model.AddEdge.
		if channel == domain.ChannelData {
			for j := range p.Nodes {
				if p.Nodes[j].ID != e.Target {
					continue
				}
				if !containsID(p.Nodes[j].Inputs, e.Source) {
					p.Nodes[j].Inputs = append(p.Nodes[j].Inputs, e.Source)
				}
			}
		}
	}

	// Acyclicity of the flow subgraph: resolving must visit every node.
	if _, err := graph.Resolve(p); err != nil {
		return domain.Pipeline{}, err
	}
	return p, nil
}

func containsID(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

// FromPipeline converts a domain pipeline back to its wire payload.
func FromPipeline(p domain.Pipeline) *PipelinePayload {
	payload := &PipelinePayload{Name: p.Name, Description: p.Description}
	for _, n := range p.Nodes {
		payload.Nodes = append(payload.Nodes, NodePayload{
			ID:        n.ID,
			NodeType:  string(n.Type),
			Label:     n.Label,
			InputFrom: append([]string(nil), n.Inputs...),
			Config:    n.Config,
		})
	}
	for _, e := range p.Edges {
		payload.Edges = append(payload.Edges, EdgePayload{
			Source:  e.Source,
			Target:  e.Target,
			Channel: string(e.Channel),
		})
	}
	return payload
}
