package domain

// NodeType identifies the behavior of a pipeline node. The set is closed:
// executors are registered per type and an unknown type is rejected at
// registration time rather than at execution time.
type NodeType string

const (
	// NodeTemplate renders template text by substituting {{variable}} placeholders.
	NodeTemplate NodeType = "template"
	// NodeAIPrompt invokes the external prompting collaborator with a composed prompt.
	NodeAIPrompt NodeType = "ai_prompt"
	// NodeParseList evaluates a user-authored transform program that turns text into a list.
	NodeParseList NodeType = "parse_list"
	// NodeBatchLoop partitions a list input into contiguous chunks for per-chunk execution.
	NodeBatchLoop NodeType = "batch_loop"
	// NodeAggregate merges per-chunk outputs back into a single ordered list.
	NodeAggregate NodeType = "aggregate"
	// NodeUserEditList pauses execution so a human can edit a list value.
	NodeUserEditList NodeType = "user_edit_list"
	// NodeUserReview pauses execution so a human can approve a value.
	NodeUserReview NodeType = "user_review"
	// NodeUserInput pauses execution so a human can enter a value.
	NodeUserInput NodeType = "user_input"
)

// NodeTypes lists every known node type in a stable order.
var NodeTypes = []NodeType{
	NodeTemplate,
	NodeAIPrompt,
	NodeParseList,
	NodeBatchLoop,
	NodeAggregate,
	NodeUserEditList,
	NodeUserReview,
	NodeUserInput,
}

// Valid reports whether t is a member of the closed node type set.
func (t NodeType) Valid() bool {
	for _, known := range NodeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Interactive reports whether nodes of this type open a new wizard stage and
// pause execution for human input.
func (t NodeType) Interactive() bool {
	switch t {
	case NodeTemplate, NodeUserEditList, NodeUserReview, NodeUserInput:
		return true
	default:
		return false
	}
}

// Channel tags an edge with its role in the graph.
type Channel string

const (
	// ChannelFlow edges define execution order only and carry no value.
	ChannelFlow Channel = "flow"
	// ChannelData edges define a value dependency independent of execution order.
	ChannelData Channel = "data"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelFlow || c == ChannelData
}

// Node is a single step in a pipeline. Type is immutable after creation;
// a type change is modeled as delete plus recreate so stale config cannot
// leak across types.
type Node struct {
	ID     string
	Type   NodeType
	Label  string
	Config map[string]any // type-specific attributes; unknown keys preserved and ignored
	Inputs []string       // ordered upstream node ids supplying data
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	out := n
	if n.Config != nil {
		out.Config = make(map[string]any, len(n.Config))
		for k, v := range n.Config {
			out.Config[k] = v
		}
	}
	if n.Inputs != nil {
		out.Inputs = append([]string(nil), n.Inputs...)
	}
	return out
}

// Edge is a directed relationship between two nodes.
type Edge struct {
	ID      string
	Source  string
	Target  string
	Channel Channel
}

// Pipeline is the aggregate graph: nodes in registration order plus edges.
// Registration order is load-bearing: the resolver uses it to break ties
// between independently-ready nodes.
type Pipeline struct {
	Name        string
	Description string
	Nodes       []Node
	Edges       []Edge
}

// Node returns the node with the given id, if present.
func (p *Pipeline) Node(id string) (Node, bool) {
	for _, n := range p.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// FlowEdges returns only the flow-channel edges.
func (p *Pipeline) FlowEdges() []Edge {
	var out []Edge
	for _, e := range p.Edges {
		if e.Channel == ChannelFlow {
			out = append(out, e)
		}
	}
	return out
}

// Clone returns a deep copy of the pipeline.
func (p *Pipeline) Clone() Pipeline {
	out := Pipeline{Name: p.Name, Description: p.Description}
	out.Nodes = make([]Node, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		out.Nodes = append(out.Nodes, n.Clone())
	}
	out.Edges = append([]Edge(nil), p.Edges...)
	return out
}
