package graph

import (
	"fmt"

	"github.com/stagecraftai/stagecraft-oss/pkg/domain"
)

// Resolve linearizes the pipeline into a total execution order using Kahn's
// algorithm restricted to flow edges. Ties between independently-ready nodes
// are broken by registration order, which makes the order deterministic and
// reproducible across runs. Nodes connected only by data edges are all
// immediately ready and keep their registration order among themselves.
//
// If the flow subgraph contains a cycle the output would be shorter than the
// node count; that fails with ErrCycleDetected rather than silently dropping
// the unreachable nodes.
func Resolve(p domain.Pipeline) ([]domain.Node, error) {
	indegree := make(map[string]int, len(p.Nodes))
	successors := make(map[string][]string, len(p.Nodes))
	for _, n := range p.Nodes {
		indegree[n.ID] = 0
	}
	for _, e := range p.Edges {
		if e.Channel != domain.ChannelFlow {
			continue
		}
		successors[e.Source] = append(successors[e.Source], e.Target)
		indegree[e.Target]++
	}

	// Seed the queue in registration order; enqueue newly-ready nodes at the
	// back so the FIFO discipline preserves the tie-break.
	var queue []string
	for _, n := range p.Nodes {
		if indegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	byID := make(map[string]domain.Node, len(p.Nodes))
	for _, n := range p.Nodes {
		byID[n.ID] = n
	}

	order := make([]domain.Node, 0, len(p.Nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, byID[id])
		for _, next := range successors[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) < len(p.Nodes) {
		var stuck []string
		for _, n := range p.Nodes {
			if indegree[n.ID] > 0 {
				stuck = append(stuck, n.ID)
			}
		}
		return nil, &domain.DomainError{
			Err:     domain.ErrCycleDetected,
			Code:    "CYCLE_DETECTED",
			Message: fmt.Sprintf("flow cycle among %d node(s)", len(stuck)),
			Details: map[string]any{"nodes": stuck},
		}
	}
	return order, nil
}

// Validate checks a pipeline's structural invariants without mutating it:
// node ids are unique and typed, edge endpoints and data inputs reference
// existing nodes, no node has more than one inbound flow edge, and the flow
// subgraph is acyclic. Callers use it before persisting or executing a
// pipeline assembled outside the Model.
func Validate(p domain.Pipeline) error {
	ids := make(map[string]struct{}, len(p.Nodes))
	for _, n := range p.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node id is required")
		}
		if _, dup := ids[n.ID]; dup {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		if !n.Type.Valid() {
			return fmt.Errorf("node %q: %w: %q", n.ID, domain.ErrUnknownNodeType, n.Type)
		}
		ids[n.ID] = struct{}{}
	}

	for _, n := range p.Nodes {
		for _, in := range n.Inputs {
			if _, ok := ids[in]; !ok {
				return fmt.Errorf("node %q input: %w: %q", n.ID, domain.ErrInvalidReference, in)
			}
		}
	}

	flowTargets := make(map[string]struct{})
	for _, e := range p.Edges {
		if !e.Channel.Valid() {
			return fmt.Errorf("edge %q: unknown channel %q", e.ID, e.Channel)
		}
		if _, ok := ids[e.Source]; !ok {
			return fmt.Errorf("edge %q: %w: source %q", e.ID, domain.ErrInvalidReference, e.Source)
		}
		if _, ok := ids[e.Target]; !ok {
			return fmt.Errorf("edge %q: %w: target %q", e.ID, domain.ErrInvalidReference, e.Target)
		}
		if e.Channel == domain.ChannelFlow {
			if _, taken := flowTargets[e.Target]; taken {
				return fmt.Errorf("edge %q: %w: %q", e.ID, domain.ErrFlowConflict, e.Target)
			}
			flowTargets[e.Target] = struct{}{}
		}
	}

	_, err := Resolve(p)
	return err
}
