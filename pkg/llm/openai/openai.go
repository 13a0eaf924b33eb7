// Package openai provides the native schema-constrained completion strategy
// for OpenAI-compatible APIs.
//
// The backend accepts a formal output schema directly, so structured
// extraction needs no retry logic: the schema rides along as a
// response-format constraint and the assistant's text content is parsed as
// the structured result. Content that fails to parse surfaces as an error
// immediately.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/openai/openai-go"

	"github.com/entrhq/harvest/pkg/llm"
	"github.com/entrhq/harvest/pkg/llm/cache"
	"github.com/entrhq/harvest/pkg/logging"
	"github.com/entrhq/harvest/pkg/types"
)

const (
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when no model is configured
	DefaultModel = "gpt-4o"
)

// Provider implements llm.Provider for OpenAI-compatible APIs using native
// structured-output decoding.
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

// WithBaseURL sets a custom base URL for OpenAI-compatible APIs.
// This enables using Azure OpenAI, local models, or other compatible services.
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

// NewProvider creates a new OpenAI provider with the given API key.
//
// If apiKey is empty, it will attempt to read from the OPENAI_API_KEY
// environment variable. If baseURL is not provided via WithBaseURL, the
// OPENAI_BASE_URL environment variable is checked.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (provide via parameter or OPENAI_API_KEY environment variable)")
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

	if p.baseURL == DefaultBaseURL {
		if envBaseURL := os.Getenv("OPENAI_BASE_URL"); envBaseURL != "" {
			p.baseURL = envBaseURL
		}
	}

	return p, nil
}

// GetModel returns the model name being used.
func (p *Provider) GetModel() string {
	return p.model
}

// chatRequest is the wire request body. Messages are built with the SDK's
// param unions so content-part encoding stays aligned with the official
// client; the call itself goes over raw HTTP for compatibility with
// OpenAI-compatible APIs.
type chatRequest struct {
	Model            string                                   `json:"model"`
	Messages         []openai.ChatCompletionMessageParamUnion `json:"messages"`
	Temperature      *float64                                 `json:"temperature,omitempty"`
	TopP             *float64                                 `json:"top_p,omitempty"`
	FrequencyPenalty *float64                                 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64                                 `json:"presence_penalty,omitempty"`
	MaxTokens        int                                      `json:"max_tokens,omitempty"`
	ResponseFormat   *responseFormat                          `json:"response_format,omitempty"`
	Tools            []chatTool                               `json:"tools,omitempty"`
}

type responseFormat struct {
	Type       string               `json:"type"`
	JSONSchema responseFormatSchema `json:"json_schema"`
}

type responseFormatSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

type chatTool struct {
	Type     string           `json:"type"`
	Function chatToolFunction `json:"function"`
}

type chatToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// chatResponse is the wire response body.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends one completion request, consulting the response cache first.
// With a ResponseSchema on the request, the result carries the parsed
// structured object; otherwise the canonical completion.
func (p *Provider) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.Result, error) {
	fingerprint := p.fingerprint(req)

	if cached, ok := p.cacheGet(fingerprint, req); ok {
		return cached, nil
	}

	p.logf("DEBUG", "cache miss, calling OpenAI", map[string]interface{}{
		"request_id":       req.RequestID,
		"model":            p.resolveModel(req),
		"estimated_tokens": llm.EstimateTokens(req.Messages),
	})

	completion, err := p.call(ctx, req)
	if err != nil {
		p.logf("ERROR", "OpenAI completion failed", map[string]interface{}{
			"request_id": req.RequestID,
			"error":      err.Error(),
		})
		return nil, err
	}

	result, err := p.interpret(req, completion)
	if err != nil {
		return nil, err
	}

	p.cacheSet(fingerprint, req, result)
	return result, nil
}

// resolveModel prefers the per-request model over the provider default.
func (p *Provider) resolveModel(req *llm.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.model
}

// call performs the vendor HTTP request and maps the response to the
// canonical completion shape.
func (p *Provider) call(ctx context.Context, req *llm.CompletionRequest) (*llm.Completion, error) {
	body := chatRequest{
		Model:            p.resolveModel(req),
		Messages:         convertMessages(req.Messages, req.Image),
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		MaxTokens:        req.MaxTokens,
	}

	if req.ResponseSchema != nil {
		body.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: responseFormatSchema{
				Name:   req.ResponseSchema.Name,
				Schema: req.ResponseSchema.Schema,
			},
		}
	}

	for _, tool := range req.Tools {
		body.Tools = append(body.Tools, chatTool{
			Type: "function",
			Function: chatToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("API request failed with status %d (failed to read error body: %w)", resp.StatusCode, readErr)
		}
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(errBody))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return toCompletion(parsed), nil
}

// interpret turns the canonical completion into the caller-facing result,
// parsing structured content when a schema was requested. The backend
// guarantees schema conformance at the protocol level, so a parse or
// validation failure is surfaced directly with no retry.
func (p *Provider) interpret(req *llm.CompletionRequest, completion *llm.Completion) (*llm.Result, error) {
	p.logf("DEBUG", "raw OpenAI completion", map[string]interface{}{
		"request_id": req.RequestID,
		"completion": completion,
	})

	if req.ResponseSchema == nil {
		return &llm.Result{Completion: completion}, nil
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("completion has no choices")
	}

	content := completion.Choices[0].Message.Content
	data := json.RawMessage(content)
	if !json.Valid(data) {
		return nil, fmt.Errorf("structured content is not valid JSON: %q", content)
	}
	if err := req.ResponseSchema.Validate(data); err != nil {
		return nil, err
	}

	return &llm.Result{Data: data}, nil
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

// cacheGet reads a cached value and reinterprets it for this request.
func (p *Provider) cacheGet(fingerprint string, req *llm.CompletionRequest) (*llm.Result, bool) {
	result, ok := cache.GetResult(p.cache, fingerprint, req)
	if ok {
		p.logf("DEBUG", "cache hit", map[string]interface{}{
			"request_id":  req.RequestID,
			"fingerprint": fingerprint,
		})
	}
	return result, ok
}

// cacheSet writes the result back under the fingerprint.
func (p *Provider) cacheSet(fingerprint string, req *llm.CompletionRequest, result *llm.Result) {
	cache.SetResult(p.cache, fingerprint, req, result)
}

func (p *Provider) logf(level, message string, aux map[string]interface{}) {
	if p.logger != nil {
		p.logger.Auxf(level, message, aux)
	}
}

// convertMessages maps canonical messages to the SDK's param unions. The
// optional image attachment is encoded as a base64 data URL appended to the
// final user turn, with the description as a trailing text caption. The
// system message never receives image parts.
func convertMessages(messages []types.Message, image *llm.ImageAttachment) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)

	lastUser := -1
	for i, msg := range messages {
		if msg.Role == types.RoleUser {
			lastUser = i
		}
	}

	for i, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			out = append(out, openai.SystemMessage(msg.TextContent()))
		case types.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.TextContent()))
		default:
			parts := contentParts(msg)
			if image != nil && i == lastUser {
				parts = append(parts, imagePart(image))
				if image.Description != "" {
					parts = append(parts, openai.TextContentPart(image.Description))
				}
			}
			out = append(out, openai.UserMessage(parts))
		}
	}

	// No user turn to anchor the image on: give it its own.
	if image != nil && lastUser == -1 {
		parts := []openai.ChatCompletionContentPartUnionParam{imagePart(image)}
		if image.Description != "" {
			parts = append(parts, openai.TextContentPart(image.Description))
		}
		out = append(out, openai.UserMessage(parts))
	}

	return out
}

func contentParts(msg types.Message) []openai.ChatCompletionContentPartUnionParam {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(msg.Content))
	for _, part := range msg.Content {
		switch part.Type {
		case types.ContentTypeText:
			parts = append(parts, openai.TextContentPart(part.Text))
		case types.ContentTypeImage:
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: dataURL(part.ImageData, part.MediaType),
			}))
		}
	}
	return parts
}

func imagePart(image *llm.ImageAttachment) openai.ChatCompletionContentPartUnionParam {
	return openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
		URL: dataURL(image.Buffer, ""),
	})
}

func dataURL(data []byte, mediaType string) string {
	if mediaType == "" {
		mediaType = "image/jpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(data))
}

// toCompletion maps the wire response to the canonical completion.
func toCompletion(parsed chatResponse) *llm.Completion {
	completion := &llm.Completion{
		ID:      parsed.ID,
		Model:   parsed.Model,
		Created: parsed.Created,
		Usage: types.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}

	for _, choice := range parsed.Choices {
		mapped := llm.Choice{
			Message: llm.ChoiceMessage{
				Role:    choice.Message.Role,
				Content: choice.Message.Content,
			},
			FinishReason: choice.FinishReason,
		}
		for _, tc := range choice.Message.ToolCalls {
			mapped.Message.ToolCalls = append(mapped.Message.ToolCalls, llm.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			})
		}
		completion.Choices = append(completion.Choices, mapped)
	}

	return completion
}
