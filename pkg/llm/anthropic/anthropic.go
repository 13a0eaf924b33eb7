// Package anthropic provides the tool-call-forcing completion strategy for
// the Anthropic Messages API.
//
// The backend has no native structured-output decoding, so structured
// extraction synthesizes a single-purpose tool whose input schema is the
// caller's target schema and reads the first tool invocation's input as the
// result. When the model answers without invoking any tool the whole call is
// retried, up to MaxToolAttempts total attempts, before failing with
// llm.ErrNoToolUse.
//
// The Messages API differs from OpenAI-compatible APIs in several ways that
// this adapter normalizes: authentication uses the x-api-key header, the
// system message travels in its own request field, content is an array of
// typed blocks, and max_tokens is mandatory.
package anthropic

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/entrhq/harvest/pkg/llm"
	"github.com/entrhq/harvest/pkg/llm/cache"
	"github.com/entrhq/harvest/pkg/logging"
	"github.com/entrhq/harvest/pkg/types"
)

const (
	// DefaultBaseURL is the default Anthropic API base URL
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultModel is used when no model is configured
	DefaultModel = "claude-3-5-sonnet-20241022"

	// apiVersion is the anthropic-version header value
	apiVersion = "2023-06-01"

	// defaultMaxTokens is sent when the request does not specify a limit.
	// The Messages API rejects requests without max_tokens.
	defaultMaxTokens = 4096

	// ExtractionToolName is the synthesized tool whose input schema is the
	// caller's target schema.
	ExtractionToolName = "print_extracted_data"

	// MaxToolAttempts bounds the tool-forcing retry loop. The counter covers
	// total attempts, not retries after the first.
	MaxToolAttempts = 5
)

// Provider implements llm.Provider for the Anthropic Messages API using
// tool-call forcing for structured output.
type Provider struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
	cache      cache.Cache
	logger     *logging.Logger
}

// ProviderOption is a function that configures a Provider.
type ProviderOption func(*Provider)

// WithModel sets the model to use for completions.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		p.model = model
	}
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithCache enables response caching through the given cache.
func WithCache(c cache.Cache) ProviderOption {
	return func(p *Provider) {
		p.cache = c
	}
}

// WithLogger sets the logger for request/response auditing.
func WithLogger(logger *logging.Logger) ProviderOption {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// NewProvider creates a new Anthropic provider with the given API key.
//
// If apiKey is empty, it will attempt to read from the ANTHROPIC_API_KEY
// environment variable.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (provide via parameter or ANTHROPIC_API_KEY environment variable)")
	}

	p := &Provider{
		model:      DefaultModel,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		baseURL:    DefaultBaseURL,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// GetModel returns the model name being used.
func (p *Provider) GetModel() string {
	return p.model
}

// Wire types for the Messages API.

type messageContent struct {
	Type   string          `json:"type"`
	Text   string          `json:"text,omitempty"`
	ID     string          `json:"id,omitempty"`
	Name   string          `json:"name,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
	Source *imageSource    `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type message struct {
	Role    string           `json:"role"`
	Content []messageContent `json:"content"`
}

type tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Tools       []tool    `json:"tools,omitempty"`
}

type messagesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type messagesResponse struct {
	ID         string           `json:"id"`
	Role       string           `json:"role"`
	Content    []messageContent `json:"content"`
	Model      string           `json:"model"`
	StopReason string           `json:"stop_reason"`
	Usage      *messagesUsage   `json:"usage,omitempty"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one logical completion request, consulting the response
// cache first. With a ResponseSchema on the request the tool-forcing path
// runs, internally retrying up to MaxToolAttempts; callers observe a single
// call either way.
func (p *Provider) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.Result, error) {
	fingerprint := p.fingerprint(req)

	if cached, ok := cache.GetResult(p.cache, fingerprint, req); ok {
		p.logf("DEBUG", "cache hit", map[string]interface{}{
			"request_id":  req.RequestID,
			"fingerprint": fingerprint,
		})
		return cached, nil
	}

	p.logf("DEBUG", "cache miss, calling Anthropic", map[string]interface{}{
		"request_id":       req.RequestID,
		"model":            p.resolveModel(req),
		"estimated_tokens": llm.EstimateTokens(req.Messages),
	})

	var result *llm.Result
	var err error
	if req.ResponseSchema != nil {
		result, err = p.completeStructured(ctx, req)
	} else {
		result, err = p.completeRaw(ctx, req)
	}
	if err != nil {
		p.logf("ERROR", "Anthropic completion failed", map[string]interface{}{
			"request_id": req.RequestID,
			"error":      err.Error(),
		})
		return nil, err
	}

	cache.SetResult(p.cache, fingerprint, req, result)
	return result, nil
}

// completeRaw handles calls without structured output: one vendor call,
// transformed to the canonical completion.
func (p *Provider) completeRaw(ctx context.Context, req *llm.CompletionRequest) (*llm.Result, error) {
	resp, err := p.call(ctx, req, req.Tools)
	if err != nil {
		return nil, err
	}
	return &llm.Result{Completion: toCompletion(resp)}, nil
}

// completeStructured runs the tool-forcing loop. The retry state machine is
// an explicit counter, not unbounded recursion: each attempt reissues the
// identical call, and the first tool invocation in any response wins.
func (p *Provider) completeStructured(ctx context.Context, req *llm.CompletionRequest) (*llm.Result, error) {
	forcing := tool{
		Name:        ExtractionToolName,
		Description: "Prints the data extracted from the page, exactly matching the input schema.",
		InputSchema: req.ResponseSchema.Schema,
	}

	tools := append([]llm.ToolDefinition{}, req.Tools...)

	for attempt := 1; attempt <= MaxToolAttempts; attempt++ {
		resp, err := p.callWithForcingTool(ctx, req, tools, forcing)
		if err != nil {
			return nil, err
		}

		p.logf("DEBUG", "raw Anthropic response", map[string]interface{}{
			"request_id": req.RequestID,
			"attempt":    attempt,
			"response":   resp,
		})

		for _, block := range resp.Content {
			if block.Type == "tool_use" {
				data := block.Input
				if err := req.ResponseSchema.Validate(data); err != nil {
					return nil, err
				}
				return &llm.Result{Data: data}, nil
			}
		}

		p.logf("WARN", "model responded without tool use, retrying", map[string]interface{}{
			"request_id": req.RequestID,
			"attempt":    attempt,
		})
	}

	return nil, fmt.Errorf("%w after %d attempts", llm.ErrNoToolUse, MaxToolAttempts)
}

// callWithForcingTool issues one vendor call with the forcing tool appended
// to any caller-supplied tools.
func (p *Provider) callWithForcingTool(ctx context.Context, req *llm.CompletionRequest, callerTools []llm.ToolDefinition, forcing tool) (*messagesResponse, error) {
	wireTools := convertTools(callerTools)
	wireTools = append(wireTools, forcing)
	return p.doCall(ctx, req, wireTools)
}

// call issues one vendor call with only the caller-supplied tools.
func (p *Provider) call(ctx context.Context, req *llm.CompletionRequest, callerTools []llm.ToolDefinition) (*messagesResponse, error) {
	return p.doCall(ctx, req, convertTools(callerTools))
}

func (p *Provider) doCall(ctx context.Context, req *llm.CompletionRequest, wireTools []tool) (*messagesResponse, error) {
	system, rest := llm.SplitSystemMessage(req.Messages)

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	body := messagesRequest{
		Model:       p.resolveModel(req),
		Messages:    convertMessages(rest, req.Image),
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Tools:       wireTools,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := p.baseURL + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, readErrorMessage(resp.Body))
	}

	var parsed messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &parsed, nil
}

// resolveModel prefers the per-request model over the provider default.
func (p *Provider) resolveModel(req *llm.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.model
}

// fingerprint computes the cache key, or empty when caching is unavailable.
func (p *Provider) fingerprint(req *llm.CompletionRequest) string {
	if p.cache == nil {
		return ""
	}
	fingerprint, err := cache.Fingerprint(req)
	if err != nil {
		p.logf("WARN", "failed to fingerprint request, skipping cache", map[string]interface{}{
			"request_id": req.RequestID,
			"error":      err.Error(),
		})
		return ""
	}
	return fingerprint
}

func (p *Provider) logf(level, message string, aux map[string]interface{}) {
	if p.logger != nil {
		p.logger.Auxf(level, message, aux)
	}
}

// convertMessages maps canonical messages to Messages API turns. The system
// message has already been split off by the caller. The optional image
// attachment becomes its own user turn appended after all text turns, never
// interleaved, with the description as a trailing caption block.
func convertMessages(messages []types.Message, image *llm.ImageAttachment) []message {
	out := make([]message, 0, len(messages)+1)

	for _, msg := range messages {
		role := "user"
		if msg.Role == types.RoleAssistant {
			role = "assistant"
		}

		var blocks []messageContent
		for _, part := range msg.Content {
			switch part.Type {
			case types.ContentTypeText:
				blocks = append(blocks, messageContent{Type: "text", Text: part.Text})
			case types.ContentTypeImage:
				blocks = append(blocks, imageBlock(part.ImageData, part.MediaType))
			}
		}
		if len(blocks) > 0 {
			out = append(out, message{Role: role, Content: blocks})
		}
	}

	if image != nil {
		blocks := []messageContent{imageBlock(image.Buffer, "")}
		if image.Description != "" {
			blocks = append(blocks, messageContent{Type: "text", Text: image.Description})
		}
		out = append(out, message{Role: "user", Content: blocks})
	}

	return out
}

func imageBlock(data []byte, mediaType string) messageContent {
	if mediaType == "" {
		mediaType = "image/jpeg"
	}
	return messageContent{
		Type: "image",
		Source: &imageSource{
			Type:      "base64",
			MediaType: mediaType,
			Data:      base64.StdEncoding.EncodeToString(data),
		},
	}
}

func convertTools(defs []llm.ToolDefinition) []tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}
	return out
}

// toCompletion maps a Messages API response to the canonical completion.
// Text blocks concatenate into the message content; tool_use blocks become
// canonical tool calls.
func toCompletion(resp *messagesResponse) *llm.Completion {
	msg := llm.ChoiceMessage{Role: "assistant"}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			msg.Content += block.Text
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}

	completion := &llm.Completion{
		ID:    resp.ID,
		Model: resp.Model,
		Choices: []llm.Choice{{
			Message:      msg,
			FinishReason: resp.StopReason,
		}},
	}

	if resp.Usage != nil {
		completion.Usage = types.TokenUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}

	return completion
}

func readErrorMessage(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var parsed errorResponse
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error.Message != "" {
		return fmt.Sprintf("%s (type: %s)", parsed.Error.Message, parsed.Error.Type)
	}
	return string(data)
}
