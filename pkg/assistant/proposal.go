// Package assistant bridges conversational authoring to the pipeline model:
// it manages chat sessions, extracts pipeline proposals from assistant
// replies, and applies confirmed proposals to the live graph.
package assistant

import (
	"encoding/json"
	"strings"

	"github.com/stagecraftai/stagecraft-oss/pkg/config"
)

// SegmentKind classifies one region of an assistant message.
type SegmentKind string

const (
	// SegmentText is plain prose outside any fenced region.
	SegmentText SegmentKind = "text"
	// SegmentCode is a fenced region rendered as opaque code.
	SegmentCode SegmentKind = "code"
	// SegmentProposal is a fenced region whose content parses as a
	// pipeline-shaped JSON object.
	SegmentProposal SegmentKind = "proposal"
)

// Segment is one contiguous region of an assistant message. Proposal
// segments carry the decoded payload; code segments keep their raw content
// and fence language tag.
type Segment struct {
	Kind     SegmentKind
	Content  string
	Language string
	Proposal *config.PipelinePayload
}

// ExtractSegments splits message text on triple-backtick fences and
// classifies each fenced region. A region is a pipeline proposal only when
// its content is a JSON object whose "nodes" field is an array; everything
// else fenced stays opaque code. Proposals are never applied here, only
// surfaced for explicit user action.
func ExtractSegments(text string) []Segment {
	var segments []Segment
	rest := text
	for {
		open := strings.Index(rest, "```")
		if open < 0 {
			break
		}
		if prose := rest[:open]; strings.TrimSpace(prose) != "" {
			segments = append(segments, Segment{Kind: SegmentText, Content: prose})
		}
		rest = rest[open+3:]

		end := strings.Index(rest, "```")
		if end < 0 {
			// Unterminated fence, treat the remainder as code.
			language, body := splitFenceHeader(rest)
			segments = append(segments, classifyRegion(language, body))
			return segments
		}
		language, body := splitFenceHeader(rest[:end])
		segments = append(segments, classifyRegion(language, body))
		rest = rest[end+3:]
	}
	if strings.TrimSpace(rest) != "" {
		segments = append(segments, Segment{Kind: SegmentText, Content: rest})
	}
	return segments
}

// ExtractProposal returns the first pipeline proposal embedded in the text,
// if any.
func ExtractProposal(text string) (*config.PipelinePayload, bool) {
	for _, seg := range ExtractSegments(text) {
		if seg.Kind == SegmentProposal {
			return seg.Proposal, true
		}
	}
	return nil, false
}

// splitFenceHeader separates the fence's language tag line from the body.
func splitFenceHeader(region string) (language, body string) {
	if nl := strings.IndexByte(region, '\n'); nl >= 0 {
		header := strings.TrimSpace(region[:nl])
		if header != "" && !strings.ContainsAny(header, "{}[]\"") {
			return header, region[nl+1:]
		}
	}
	return "", region
}

func classifyRegion(language, body string) Segment {
	if payload, ok := parseProposal(body); ok {
		return Segment{Kind: SegmentProposal, Content: body, Language: language, Proposal: payload}
	}
	return Segment{Kind: SegmentCode, Content: body, Language: language}
}

// parseProposal classifies body as pipeline-shaped: a JSON object whose
// "nodes" field is an array.
func parseProposal(body string) (*config.PipelinePayload, bool) {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &generic); err != nil {
		return nil, false
	}
	rawNodes, ok := generic["nodes"]
	if !ok {
		return nil, false
	}
	var nodes []json.RawMessage
	if err := json.Unmarshal(rawNodes, &nodes); err != nil {
		return nil, false
	}
	payload, err := config.DecodePayload([]byte(trimmed))
	if err != nil {
		return nil, false
	}
	return payload, true
}
