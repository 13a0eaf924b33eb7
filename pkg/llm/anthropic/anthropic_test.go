package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/harvest/pkg/llm"
	"github.com/entrhq/harvest/pkg/llm/cache"
	"github.com/entrhq/harvest/pkg/types"
)

// scriptedTransport replays one body per call (repeating the last) and
// records every request.
type scriptedTransport struct {
	bodies   []string
	status   int
	calls    int
	requests []map[string]interface{}
	headers  []http.Header
}

func (t *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	payload, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, err
	}
	t.requests = append(t.requests, decoded)
	t.headers = append(t.headers, req.Header.Clone())

	body := t.bodies[len(t.bodies)-1]
	if t.calls < len(t.bodies) {
		body = t.bodies[t.calls]
	}
	t.calls++

	status := t.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}, nil
}

const toolUseBody = `{
	"id": "msg-1",
	"role": "assistant",
	"model": "claude-3-5-sonnet-20241022",
	"stop_reason": "tool_use",
	"content": [
		{"type": "text", "text": "Extracting now."},
		{"type": "tool_use", "id": "tu-1", "name": "print_extracted_data", "input": {"score": 0.93}}
	],
	"usage": {"input_tokens": 20, "output_tokens": 8}
}`

const textOnlyBody = `{
	"id": "msg-2",
	"role": "assistant",
	"model": "claude-3-5-sonnet-20241022",
	"stop_reason": "end_turn",
	"content": [{"type": "text", "text": "Here is what I found on the page."}],
	"usage": {"input_tokens": 20, "output_tokens": 12}
}`

func newTestProvider(t *testing.T, transport *scriptedTransport, opts ...ProviderOption) *Provider {
	t.Helper()
	opts = append(opts, WithHTTPClient(&http.Client{Transport: transport}))
	provider, err := NewProvider("test-key", opts...)
	require.NoError(t, err)
	return provider
}

func schemaRequest() *llm.CompletionRequest {
	return &llm.CompletionRequest{
		Messages: []types.Message{
			types.NewSystemMessage("extract data"),
			types.NewUserMessage("page text"),
		},
		ResponseSchema: &llm.ResponseSchema{
			Name: "product",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {"score": {"type": "number"}},
				"required": ["score"]
			}`),
		},
		RequestID: "req-1",
	}
}

func TestProvider_Complete_ToolForcing(t *testing.T) {
	t.Run("tool invocation yields the structured data", func(t *testing.T) {
		transport := &scriptedTransport{bodies: []string{toolUseBody}}
		provider := newTestProvider(t, transport)

		result, err := provider.Complete(context.Background(), schemaRequest())
		require.NoError(t, err)

		assert.Nil(t, result.Completion)
		assert.JSONEq(t, `{"score": 0.93}`, string(result.Data))
		assert.Equal(t, 1, transport.calls)
	})

	t.Run("the forcing tool carries the target schema", func(t *testing.T) {
		transport := &scriptedTransport{bodies: []string{toolUseBody}}
		provider := newTestProvider(t, transport)

		_, err := provider.Complete(context.Background(), schemaRequest())
		require.NoError(t, err)

		tools, ok := transport.requests[0]["tools"].([]interface{})
		require.True(t, ok)
		require.Len(t, tools, 1)
		forcing := tools[0].(map[string]interface{})
		assert.Equal(t, ExtractionToolName, forcing["name"])
		assert.NotNil(t, forcing["input_schema"])
	})

	t.Run("responses without tool use retry up to the attempt cap", func(t *testing.T) {
		transport := &scriptedTransport{bodies: []string{textOnlyBody}}
		provider := newTestProvider(t, transport)

		_, err := provider.Complete(context.Background(), schemaRequest())
		require.Error(t, err)
		assert.True(t, errors.Is(err, llm.ErrNoToolUse))
		assert.Equal(t, MaxToolAttempts, transport.calls)
	})

	t.Run("a late tool invocation still succeeds", func(t *testing.T) {
		transport := &scriptedTransport{bodies: []string{textOnlyBody, textOnlyBody, toolUseBody}}
		provider := newTestProvider(t, transport)

		result, err := provider.Complete(context.Background(), schemaRequest())
		require.NoError(t, err)
		assert.JSONEq(t, `{"score": 0.93}`, string(result.Data))
		assert.Equal(t, 3, transport.calls)
	})

	t.Run("tool input violating the schema fails", func(t *testing.T) {
		badInput := strings.Replace(toolUseBody, `{"score": 0.93}`, `{"score": "high"}`, 1)
		transport := &scriptedTransport{bodies: []string{badInput}}
		provider := newTestProvider(t, transport)

		_, err := provider.Complete(context.Background(), schemaRequest())
		assert.Error(t, err)
	})
}

func TestProvider_Complete_Raw(t *testing.T) {
	transport := &scriptedTransport{bodies: []string{textOnlyBody}}
	provider := newTestProvider(t, transport)

	req := schemaRequest()
	req.ResponseSchema = nil

	result, err := provider.Complete(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, result.Completion)
	assert.Equal(t, "Here is what I found on the page.", result.Completion.Choices[0].Message.Content)
	assert.Equal(t, "end_turn", result.Completion.Choices[0].FinishReason)
	assert.Equal(t, 32, result.Completion.Usage.TotalTokens)

	// Raw calls synthesize no tool.
	_, hasTools := transport.requests[0]["tools"]
	assert.False(t, hasTools)
}

func TestProvider_Complete_WireFormat(t *testing.T) {
	transport := &scriptedTransport{bodies: []string{toolUseBody}}
	provider := newTestProvider(t, transport)

	req := schemaRequest()
	req.Image = &llm.ImageAttachment{Buffer: []byte{0x89, 0x50}, Description: "screenshot of the page"}

	_, err := provider.Complete(context.Background(), req)
	require.NoError(t, err)

	wire := transport.requests[0]

	// The system message travels in its own field, never as a turn.
	assert.Equal(t, "extract data", wire["system"])
	messages, ok := wire["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, messages, 2)

	first := messages[0].(map[string]interface{})
	assert.Equal(t, "user", first["role"])

	// The image is its own trailing user turn with a caption block.
	last := messages[1].(map[string]interface{})
	assert.Equal(t, "user", last["role"])
	blocks := last["content"].([]interface{})
	require.Len(t, blocks, 2)
	assert.Equal(t, "image", blocks[0].(map[string]interface{})["type"])
	assert.Equal(t, "text", blocks[1].(map[string]interface{})["type"])

	// max_tokens is mandatory on the Messages API.
	assert.Equal(t, float64(defaultMaxTokens), wire["max_tokens"])

	headers := transport.headers[0]
	assert.Equal(t, "test-key", headers.Get("x-api-key"))
	assert.Equal(t, apiVersion, headers.Get("anthropic-version"))
}

func TestProvider_Complete_APIError(t *testing.T) {
	transport := &scriptedTransport{
		status: http.StatusBadRequest,
		bodies: []string{`{"error": {"type": "invalid_request_error", "message": "max_tokens required"}}`},
	}
	provider := newTestProvider(t, transport)

	_, err := provider.Complete(context.Background(), schemaRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_tokens required")
	assert.Contains(t, err.Error(), "invalid_request_error")
}

func TestProvider_Complete_Cache(t *testing.T) {
	t.Run("hit skips the network", func(t *testing.T) {
		transport := &scriptedTransport{bodies: []string{toolUseBody}}
		c := cache.NewMemoryCache()
		provider := newTestProvider(t, transport, WithCache(c))

		_, err := provider.Complete(context.Background(), schemaRequest())
		require.NoError(t, err)
		require.Equal(t, 1, transport.calls)

		again := schemaRequest()
		again.RequestID = "req-2"
		result, err := provider.Complete(context.Background(), again)
		require.NoError(t, err)

		assert.Equal(t, 1, transport.calls)
		assert.JSONEq(t, `{"score": 0.93}`, string(result.Data))
	})

	t.Run("exhausted retries cache nothing", func(t *testing.T) {
		transport := &scriptedTransport{bodies: []string{textOnlyBody}}
		c := cache.NewMemoryCache()
		provider := newTestProvider(t, transport, WithCache(c))

		_, err := provider.Complete(context.Background(), schemaRequest())
		require.Error(t, err)
		assert.Equal(t, 0, c.Len())
	})
}

func TestNewProvider(t *testing.T) {
	t.Run("requires an API key", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		_, err := NewProvider("")
		assert.Error(t, err)
	})

	t.Run("defaults", func(t *testing.T) {
		provider, err := NewProvider("key")
		require.NoError(t, err)
		assert.Equal(t, DefaultModel, provider.GetModel())
	})
}
