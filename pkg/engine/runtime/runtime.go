// Package runtime defines the core contracts shared by the stage executor and
// node handlers, keeping node behavior decoupled from execution mechanics.
package runtime

import (
	"context"
	"fmt"

	"github.com/stagecraftai/stagecraft-oss/pkg/domain"
)

// Outcome classifies a node execution result.
type Outcome string

const (
	// OutcomeSuccess indicates the node produced its output.
	OutcomeSuccess Outcome = "success"
	// OutcomeSuspend indicates the node is an interactive checkpoint awaiting
	// human input; the executor pauses the run until resumed.
	OutcomeSuspend Outcome = "suspend"
)

// Result bundles the outcome and the node's produced value. For suspended
// checkpoints, Output carries the inbound value surfaced for human
// edit/approval/entry.
type Result struct {
	Outcome Outcome
	Output  any
}

// Success constructs a success result with the given output.
func Success(output any) Result {
	return Result{Outcome: OutcomeSuccess, Output: output}
}

// Suspend constructs a checkpoint result surfacing the inbound value.
func Suspend(value any) Result {
	return Result{Outcome: OutcomeSuspend, Output: value}
}

// State holds the mutable working values of one pipeline run: caller-supplied
// template variables and the committed output of each executed node.
type State struct {
	Variables map[string]string
	Outputs   map[string]any
}

// NewState creates an empty run state with the given variables.
func NewState(vars map[string]string) *State {
	if vars == nil {
		vars = map[string]string{}
	}
	return &State{Variables: vars, Outputs: map[string]any{}}
}

// Clone returns a copy sharing no mutable structure, used to give each batch
// chunk an isolated output scope.
func (s *State) Clone() *State {
	out := NewState(nil)
	for k, v := range s.Variables {
		out.Variables[k] = v
	}
	for k, v := range s.Outputs {
		out.Outputs[k] = v
	}
	return out
}

// Commit records a node output.
func (s *State) Commit(nodeID string, output any) {
	s.Outputs[nodeID] = output
}

// Input resolves the node's primary data input: the latest output of its
// first upstream data supplier.
func (s *State) Input(node *domain.Node) (any, bool) {
	for _, id := range node.Inputs {
		if v, ok := s.Outputs[id]; ok {
			return v, true
		}
	}
	return nil, false
}

// TextInput resolves the node's primary input as text.
func (s *State) TextInput(node *domain.Node) (string, error) {
	v, ok := s.Input(node)
	if !ok {
		return "", fmt.Errorf("node %q has no populated data input", node.ID)
	}
	switch t := v.(type) {
	case string:
		return t, nil
	default:
		return "", fmt.Errorf("node %q input is %T, want text", node.ID, v)
	}
}

// ListInput resolves the node's primary input as an ordered string list.
func (s *State) ListInput(node *domain.Node) ([]string, error) {
	v, ok := s.Input(node)
	if !ok {
		return nil, fmt.Errorf("node %q has no populated data input", node.ID)
	}
	switch t := v.(type) {
	case []string:
		return t, nil
	default:
		return nil, fmt.Errorf("node %q input is %T, want list", node.ID, v)
	}
}

// Handler executes a pipeline node against the run state and returns its
// classified result. Side effects (network calls, persistence) are delegated
// to external collaborators and treated as fallible and potentially slow.
type Handler interface {
	Execute(ctx context.Context, node *domain.Node, state *State) (Result, error)
}
