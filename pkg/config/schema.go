// Package config defines the wire schema for pipeline payloads, the
// conversion between payloads and the domain model, and a file-backed
// provider that reloads pipeline definitions on change.
package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// PipelinePayload is the external representation of a pipeline, produced and
// consumed by the assistant-authoring bridge and by persistence.
type PipelinePayload struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Nodes       []NodePayload `json:"nodes"`
	Edges       []EdgePayload `json:"edges,omitempty"`
}

// NodePayload carries one node. Type-specific and unknown fields live in
// Config and round-trip verbatim: they are flattened into the node object on
// encode and gathered back on decode.
type NodePayload struct {
	ID        string
	NodeType  string
	Label     string
	InputFrom []string
	Config    map[string]any
}

// EdgePayload carries one edge. Edge ids are an engine concern and are
// assigned at decode time.
type EdgePayload struct {
	Source  string `json:"source"`
	Target  string `json:"target"`
	Channel string `json:"channel"`
}

// reserved names the node object keys that map to struct fields rather than
// type-specific config.
var reserved = map[string]struct{}{
	"id":         {},
	"node_type":  {},
	"label":      {},
	"input_from": {},
}

// UnmarshalJSON decodes the fixed fields and gathers every remaining key into
// Config, preserving unknown fields.
func (n *NodePayload) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	get := func(key string, dst any) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		return json.Unmarshal(v, dst)
	}
	if err := get("id", &n.ID); err != nil {
		return fmt.Errorf("node id: %w", err)
	}
	if err := get("node_type", &n.NodeType); err != nil {
		return fmt.Errorf("node_type: %w", err)
	}
	if err := get("label", &n.Label); err != nil {
		return fmt.Errorf("label: %w", err)
	}
	if err := get("input_from", &n.InputFrom); err != nil {
		return fmt.Errorf("input_from: %w", err)
	}

	n.Config = nil
	for key, v := range raw {
		if _, skip := reserved[key]; skip {
			continue
		}
		var value any
		if err := json.Unmarshal(v, &value); err != nil {
			return fmt.Errorf("node field %q: %w", key, err)
		}
		if n.Config == nil {
			n.Config = make(map[string]any)
		}
		n.Config[key] = value
	}
	return nil
}

// MarshalJSON flattens Config back into the node object.
func (n NodePayload) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(n.Config)+4)
	for k, v := range n.Config {
		if _, skip := reserved[k]; skip {
			continue
		}
		out[k] = v
	}
	out["id"] = n.ID
	out["node_type"] = n.NodeType
	if n.Label != "" {
		out["label"] = n.Label
	}
	if len(n.InputFrom) > 0 {
		out["input_from"] = n.InputFrom
	}
	return json.Marshal(out)
}

// DecodePayload parses a JSON pipeline payload.
func DecodePayload(data []byte) (*PipelinePayload, error) {
	var p PipelinePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode pipeline payload: %w", err)
	}
	return &p, nil
}

// EncodePayload renders a pipeline payload as JSON.
func EncodePayload(p *PipelinePayload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode pipeline payload: %w", err)
	}
	return data, nil
}

// DecodeFileData parses payload bytes in the format implied by the file name:
// YAML for .yaml/.yml, JSON otherwise. YAML documents are normalized through
// generic decoding so the same flattening rules apply to both formats.
func DecodeFileData(path string, data []byte) (*PipelinePayload, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var generic any
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("decode yaml pipeline file: %w", err)
		}
		jsonData, err := json.Marshal(generic)
		if err != nil {
			return nil, fmt.Errorf("normalize yaml pipeline file: %w", err)
		}
		return DecodePayload(jsonData)
	default:
		return DecodePayload(data)
	}
}
