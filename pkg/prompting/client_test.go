package prompting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/stagecraftai/stagecraft-oss/pkg/domain"
)

func newTestClient(handler http.HandlerFunc) (*HTTPClient, func()) {
	srv := httptest.NewServer(handler)
	client := NewHTTPClient(HTTPClientConfig{BaseURL: srv.URL, APIKey: "test-key"})
	return client, srv.Close
}

func TestGenerateSuccess(t *testing.T) {
	client, done := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/generate", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "summarize this", req.Prompt)
		assert.Equal(t, "high", req.ReasoningEffort)

		_ = json.NewEncoder(w).Encode(map[string]string{"output": "a summary"})
	})
	defer done()

	out, err := client.Generate(context.Background(), Request{
		Prompt: "summarize this",
		System: "be brief",
		Effort: EffortHigh,
	})
	require.NoError(t, err)
	assert.Equal(t, "a summary", out)
}

func TestGenerateQuotaExceeded(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "http 402",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusPaymentRequired)
			},
		},
		{
			name: "structured code",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":{"code":"insufficient_credit","message":"top up"}}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, done := newTestClient(tt.handler)
			defer done()

			_, err := client.Generate(context.Background(), Request{Prompt: "x"})
			assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
			assert.NotErrorIs(t, err, domain.ErrAIRequestFailed)
		})
	}
}

func TestGenerateTransportFailure(t *testing.T) {
	client, done := newTestClient(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	defer done()

	_, err := client.Generate(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, domain.ErrAIRequestFailed)
}

func TestGenerateUnreachableHost(t *testing.T) {
	client := NewHTTPClient(HTTPClientConfig{BaseURL: "http://127.0.0.1:1"})
	_, err := client.Generate(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, domain.ErrAIRequestFailed)
}

func TestGenerateRejectsUnknownEffort(t *testing.T) {
	client := NewHTTPClient(HTTPClientConfig{BaseURL: "http://unused"})
	_, err := client.Generate(context.Background(), Request{Prompt: "x", Effort: "extreme"})
	assert.ErrorIs(t, err, domain.ErrAIRequestFailed)
}

func TestGenerateEmitsClientSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider()
	tp.RegisterSpanProcessor(recorder)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	client, done := newTestClient(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"output": "ok"})
	})
	defer done()

	_, err := client.Generate(context.Background(), Request{Prompt: "trace me"})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, trace.SpanKindClient, spans[0].SpanKind())
}

func TestLocalClientDeterministic(t *testing.T) {
	client := NewLocalClient()
	a, err := client.Generate(context.Background(), Request{Prompt: "hello"})
	require.NoError(t, err)
	b, err := client.Generate(context.Background(), Request{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, a, "hello")
}
