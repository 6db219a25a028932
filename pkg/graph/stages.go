package graph

import "github.com/stagecraftai/stagecraft-oss/pkg/domain"

// Stage is a contiguous run of linearized nodes that drives one step of the
// wizard. A stage opens at every interactive node (and at the very first node
// regardless of type); the non-interactive nodes that follow fold into it.
type Stage struct {
	// Label and Type describe the representative (first) node for display.
	Label string
	Type  domain.NodeType
	Nodes []domain.Node
}

// GroupStages partitions a linear execution order into stages. Every node
// lands in exactly one stage, so concatenating all stages' member lists
// reproduces the input order.
func GroupStages(order []domain.Node) []Stage {
	var stages []Stage
	for _, n := range order {
		if len(stages) == 0 || n.Type.Interactive() {
			stages = append(stages, Stage{Label: n.Label, Type: n.Type})
		}
		last := &stages[len(stages)-1]
		last.Nodes = append(last.Nodes, n)
	}
	return stages
}
