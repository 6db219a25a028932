package domain

import "errors"

// Common domain errors. Structural graph errors are rejected synchronously at
// edit time; execution errors abort the current stage without corrupting
// committed outputs.
var (
	ErrInvalidReference        = errors.New("edge endpoint references unknown node")
	ErrFlowConflict            = errors.New("node already has a flow predecessor")
	ErrCycleWouldForm          = errors.New("flow edge would form a cycle")
	ErrCycleDetected           = errors.New("flow cycle detected")
	ErrInvalidBatchSize        = errors.New("invalid batch size")
	ErrScriptExecution         = errors.New("script execution failed")
	ErrMissingRequiredVariable = errors.New("missing required template variable")
	ErrAIRequestFailed         = errors.New("ai request failed")
	ErrQuotaExceeded           = errors.New("insufficient credit")
	ErrSessionNotFound         = errors.New("session not found")
	ErrNodeNotFound            = errors.New("node not found")
	ErrEdgeNotFound            = errors.New("edge not found")
	ErrUnknownNodeType         = errors.New("unknown node type")
)

// DomainError wraps errors with additional context.
//
//nolint:revive // Name is intentionally verbose to distinguish domain-layer errors
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}
