// Package graph implements the mutable pipeline graph model, the resolver that
// linearizes it into a deterministic execution order, and the grouping of that
// order into human-facing wizard stages.
package graph

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/stagecraftai/stagecraft-oss/pkg/domain"
)

// Model is the canonical in-memory representation of a pipeline under edit.
// A model has a single writer per editing session, so it carries no internal
// locking. All structural invariants (endpoint existence, flow acyclicity,
// single flow predecessor) are enforced eagerly; a failed mutation leaves the
// model unchanged.
type Model struct {
	name        string
	description string
	nodes       []domain.Node // registration order, load-bearing for the resolver
	edges       []domain.Edge
	nodeSeq     int
	edgeSeq     int
	logger      *slog.Logger
}

// NewModel creates an empty model.
func NewModel(logger *slog.Logger) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	return &Model{logger: logger}
}

// NewModelFromPipeline creates a model seeded from an existing pipeline. The
// pipeline is assumed to be validated (see config.ToPipeline); id counters are
// advanced past any numeric ids so freshly allocated ids never collide.
func NewModelFromPipeline(p domain.Pipeline, logger *slog.Logger) *Model {
	m := NewModel(logger)
	m.name = p.Name
	m.description = p.Description
	for _, n := range p.Nodes {
		m.nodes = append(m.nodes, n.Clone())
		m.nodeSeq = maxSeq(m.nodeSeq, n.ID, "n")
	}
	for _, e := range p.Edges {
		m.edges = append(m.edges, e)
		m.edgeSeq = maxSeq(m.edgeSeq, e.ID, "e")
	}
	return m
}

// maxSeq bumps seq past the numeric suffix of id when id matches prefix+digits.
func maxSeq(seq int, id, prefix string) int {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return seq
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= seq {
		return seq
	}
	return n
}

// Name returns the pipeline name.
func (m *Model) Name() string { return m.name }

// SetName updates the pipeline name.
func (m *Model) SetName(name string) { m.name = name }

// Description returns the pipeline description.
func (m *Model) Description() string { return m.description }

// SetDescription updates the pipeline description.
func (m *Model) SetDescription(d string) { m.description = d }

// Len returns the node count.
func (m *Model) Len() int { return len(m.nodes) }

// AddNode registers a new node and returns its freshly allocated id. Ids are
// allocated from a monotonic counter owned by the model and are never reused,
// even after removal.
func (m *Model) AddNode(typ domain.NodeType, label string, config map[string]any) (string, error) {
	if !typ.Valid() {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownNodeType, typ)
	}
	m.nodeSeq++
	id := fmt.Sprintf("n%d", m.nodeSeq)
	m.nodes = append(m.nodes, domain.Node{
		ID:     id,
		Type:   typ,
		Label:  label,
		Config: cloneConfig(config),
	})
	m.logger.Debug("node added", "node_id", id, "node_type", string(typ))
	return id, nil
}

// UpdateNode replaces the label and config of an existing node. The node type
// is immutable; a type change is delete plus recreate.
func (m *Model) UpdateNode(id, label string, config map[string]any) error {
	idx := m.nodeIndex(id)
	if idx < 0 {
		return fmt.Errorf("%w: %q", domain.ErrNodeNotFound, id)
	}
	m.nodes[idx].Label = label
	m.nodes[idx].Config = cloneConfig(config)
	return nil
}

// RemoveNode deletes a node and every edge incident to it. Other nodes keep
// their registration order.
func (m *Model) RemoveNode(id string) error {
	idx := m.nodeIndex(id)
	if idx < 0 {
		return fmt.Errorf("%w: %q", domain.ErrNodeNotFound, id)
	}
	m.nodes = append(m.nodes[:idx], m.nodes[idx+1:]...)

	kept := m.edges[:0]
	for _, e := range m.edges {
		if e.Source != id && e.Target != id {
			kept = append(kept, e)
		}
	}
	m.edges = kept

	// Drop dangling data-input references on surviving nodes.
	for i := range m.nodes {
		inputs := m.nodes[i].Inputs[:0]
		for _, in := range m.nodes[i].Inputs {
			if in != id {
				inputs = append(inputs, in)
			}
		}
		m.nodes[i].Inputs = inputs
	}
	m.logger.Debug("node removed", "node_id", id)
	return nil
}

// AddEdge connects source to target on the given channel and returns the edge
// id. Flow edges are cycle-checked eagerly via reachability from target back
// to source; data edges are unconstrained. A target may have at most one
// inbound flow edge.
func (m *Model) AddEdge(source, target string, channel domain.Channel) (string, error) {
	if !channel.Valid() {
		return "", &domain.DomainError{
			Err:     domain.ErrInvalidReference,
			Code:    "INVALID_CHANNEL",
			Message: fmt.Sprintf("unknown edge channel %q", channel),
		}
	}
	if m.nodeIndex(source) < 0 {
		return "", fmt.Errorf("%w: source %q", domain.ErrInvalidReference, source)
	}
	if m.nodeIndex(target) < 0 {
		return "", fmt.Errorf("%w: target %q", domain.ErrInvalidReference, target)
	}

	if channel == domain.ChannelFlow {
		for _, e := range m.edges {
			if e.Channel == domain.ChannelFlow && e.Target == target {
				return "", fmt.Errorf("%w: %q (existing edge %s)", domain.ErrFlowConflict, target, e.ID)
			}
		}
		if source == target || m.flowReachable(target, source) {
			return "", fmt.Errorf("%w: %s -> %s", domain.ErrCycleWouldForm, source, target)
		}
	}

	m.edgeSeq++
	id := fmt.Sprintf("e%d", m.edgeSeq)
	m.edges = append(m.edges, domain.Edge{ID: id, Source: source, Target: target, Channel: channel})

	// A data edge also registers the source as an ordered data input of the target.
	if channel == domain.ChannelData {
		idx := m.nodeIndex(target)
		if !contains(m.nodes[idx].Inputs, source) {
			m.nodes[idx].Inputs = append(m.nodes[idx].Inputs, source)
		}
	}
	m.logger.Debug("edge added", "edge_id", id, "source", source, "target", target, "channel", string(channel))
	return id, nil
}

// RemoveEdge deletes an edge by id.
func (m *Model) RemoveEdge(id string) error {
	for i, e := range m.edges {
		if e.ID != id {
			continue
		}
		m.edges = append(m.edges[:i], m.edges[i+1:]...)
		if e.Channel == domain.ChannelData {
			if idx := m.nodeIndex(e.Target); idx >= 0 {
				inputs := m.nodes[idx].Inputs[:0]
				for _, in := range m.nodes[idx].Inputs {
					if in != e.Source {
						inputs = append(inputs, in)
					}
				}
				m.nodes[idx].Inputs = inputs
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %q", domain.ErrEdgeNotFound, id)
}

// Node returns a copy of the node with the given id.
func (m *Model) Node(id string) (domain.Node, bool) {
	idx := m.nodeIndex(id)
	if idx < 0 {
		return domain.Node{}, false
	}
	return m.nodes[idx].Clone(), true
}

// Snapshot returns a deep copy of the current pipeline state.
func (m *Model) Snapshot() domain.Pipeline {
	p := domain.Pipeline{Name: m.name, Description: m.description}
	for _, n := range m.nodes {
		p.Nodes = append(p.Nodes, n.Clone())
	}
	p.Edges = append([]domain.Edge(nil), m.edges...)
	return p
}

// Replace swaps the model contents for the given pipeline, keeping id counters
// monotonic so ids from the previous generation are never reissued.
func (m *Model) Replace(p domain.Pipeline) {
	m.name = p.Name
	m.description = p.Description
	m.nodes = nil
	m.edges = nil
	for _, n := range p.Nodes {
		m.nodes = append(m.nodes, n.Clone())
		m.nodeSeq = maxSeq(m.nodeSeq, n.ID, "n")
	}
	for _, e := range p.Edges {
		m.edges = append(m.edges, e)
		m.edgeSeq = maxSeq(m.edgeSeq, e.ID, "e")
	}
}

func (m *Model) nodeIndex(id string) int {
	for i, n := range m.nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// flowReachable reports whether to is reachable from from following flow edges.
func (m *Model) flowReachable(from, to string) bool {
	adj := make(map[string][]string, len(m.nodes))
	for _, e := range m.edges {
		if e.Channel == domain.ChannelFlow {
			adj[e.Source] = append(adj[e.Source], e.Target)
		}
	}
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		for _, next := range adj[cur] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// cloneConfig copies a config map so callers cannot alias into the model.
func cloneConfig(config map[string]any) map[string]any {
	if config == nil {
		return nil
	}
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = v
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
