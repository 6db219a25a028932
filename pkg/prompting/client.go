// Package prompting wraps the external AI prompting collaborator. The
// collaborator is consumed as an opaque service returning generated text;
// transport and provider failures surface as ErrAIRequestFailed, and the
// provider's insufficient-balance signal maps to the distinct, non-retriable
// ErrQuotaExceeded so callers can route the user to a top-up flow.
package prompting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/stagecraftai/stagecraft-oss/pkg/domain"
)

// Effort is the coarse compute/quality dial passed to the provider.
type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// Valid reports whether e is a known effort level.
func (e Effort) Valid() bool {
	return e == EffortLow || e == EffortMedium || e == EffortHigh
}

// Request describes one generation call.
type Request struct {
	Prompt string
	System string
	Effort Effort
}

// Client generates text for a composed prompt.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// HTTPClient talks to the prompting collaborator over HTTP.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// HTTPClientConfig holds the connection settings for the prompting service.
type HTTPClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewHTTPClient creates a client for the prompting service.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

type generateRequest struct {
	Prompt          string `json:"prompt"`
	SystemMessage   string `json:"system_message,omitempty"`
	ReasoningEffort string `json:"reasoning_effort"`
}

type generateResponse struct {
	Output string `json:"output"`
	Error  struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

const errCodeInsufficientCredit = "insufficient_credit"

// Generate composes the provider call and maps its failure modes onto the
// domain error kinds.
func (c *HTTPClient) Generate(ctx context.Context, req Request) (string, error) {
	effort := req.Effort
	if effort == "" {
		effort = EffortMedium
	}
	if !effort.Valid() {
		return "", fmt.Errorf("%w: unknown reasoning effort %q", domain.ErrAIRequestFailed, req.Effort)
	}

	body, err := json.Marshal(generateRequest{
		Prompt:          req.Prompt,
		SystemMessage:   req.System,
		ReasoningEffort: string(effort),
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", domain.ErrAIRequestFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", domain.ErrAIRequestFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrAIRequestFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", domain.ErrAIRequestFailed, err)
	}

	var decoded generateResponse
	_ = json.Unmarshal(data, &decoded) // tolerate non-JSON error bodies

	if resp.StatusCode == http.StatusPaymentRequired || decoded.Error.Code == errCodeInsufficientCredit {
		return "", fmt.Errorf("%w: %s", domain.ErrQuotaExceeded, decoded.Error.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: provider returned %d", domain.ErrAIRequestFailed, resp.StatusCode)
	}

	c.logger.Debug("prompt generated",
		"effort", string(effort),
		"duration_ms", time.Since(start).Milliseconds(),
		"output_bytes", len(decoded.Output),
	)
	return decoded.Output, nil
}
