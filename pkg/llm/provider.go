// Package llm defines the canonical completion contract shared by all LLM
// backend adapters.
//
// Providers normalize one vendor's chat-completion protocol into a single
// contract: Complete takes a backend-independent CompletionRequest and returns
// either a canonical Completion or, when the request carries a ResponseSchema,
// the parsed structured object. The two concrete strategies differ in how they
// obtain schema-conformant output:
//
//   - openai.Provider attaches the schema as a native response-format
//     constraint and parses the assistant's text content.
//   - anthropic.Provider synthesizes a single-purpose tool whose input schema
//     is the target schema and reads the first tool invocation's input,
//     retrying when the model answers without calling the tool.
//
// Both strategies share fingerprint-keyed response caching via pkg/llm/cache.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/entrhq/harvest/pkg/types"
)

// ErrNoToolUse is returned by the tool-forcing strategy after all attempts
// produced a response without the expected tool invocation.
var ErrNoToolUse = errors.New("no tool use in response")

// ResponseSchema constrains a completion to emit output conforming to the
// given JSON schema. The schema is passed through opaquely to the active
// backend adapter.
type ResponseSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

// Validate checks data against the response schema. A nil schema accepts
// anything.
func (r *ResponseSchema) Validate(data json.RawMessage) error {
	if r == nil || len(r.Schema) == 0 {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	name := r.Name
	if name == "" {
		name = "response"
	}
	resource := name + ".json"
	if err := compiler.AddResource(resource, strings.NewReader(string(r.Schema))); err != nil {
		return fmt.Errorf("failed to load response schema: %w", err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("failed to compile response schema: %w", err)
	}

	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("response does not conform to schema %q: %w", name, err)
	}
	return nil
}

// ToolDefinition describes a callable tool exposed to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolCall is a tool invocation emitted by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ImageAttachment is an optional image appended to the user turn as a base64
// part, with an optional trailing text caption.
type ImageAttachment struct {
	Buffer      []byte `json:"buffer"`
	Description string `json:"description,omitempty"`
}

// CompletionRequest is the canonical, backend-independent completion request.
type CompletionRequest struct {
	Model            string           `json:"model"`
	Messages         []types.Message  `json:"messages"`
	Temperature      *float64         `json:"temperature,omitempty"`
	TopP             *float64         `json:"top_p,omitempty"`
	FrequencyPenalty *float64         `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64         `json:"presence_penalty,omitempty"`
	MaxTokens        int              `json:"max_tokens,omitempty"`
	Image            *ImageAttachment `json:"image,omitempty"`
	ResponseSchema   *ResponseSchema  `json:"response_schema,omitempty"`
	Tools            []ToolDefinition `json:"tools,omitempty"`

	// RequestID is tracing metadata only. It never participates in cache
	// identity.
	RequestID string `json:"request_id,omitempty"`
}

// ChoiceMessage is the assistant message inside a completion choice.
type ChoiceMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Choice is one completion candidate.
type Choice struct {
	Message      ChoiceMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// Completion is the canonical completion result shared by all backends.
type Completion struct {
	ID      string           `json:"id"`
	Model   string           `json:"model"`
	Created int64            `json:"created"`
	Choices []Choice         `json:"choices"`
	Usage   types.TokenUsage `json:"usage"`
}

// Result is what Complete returns. Exactly one of the two fields is
// meaningful: Data when the request carried a ResponseSchema, Completion
// otherwise. Callers distinguish by whether they asked for a schema, not by
// inspecting the result's shape, and a cached value round-trips through the
// same rule.
type Result struct {
	Completion *Completion     `json:"completion,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Provider is the single capability interface over LLM backends.
type Provider interface {
	// Complete performs one logical completion call. Internal retries (the
	// tool-forcing strategy's bounded recursion) are not observable as
	// separate calls.
	Complete(ctx context.Context, req *CompletionRequest) (*Result, error)

	// GetModel returns the model name the provider targets by default.
	GetModel() string
}

// SplitSystemMessage segregates the system message from the rest: the first
// message whose content contains no image parts is selected as the single
// system message, and is always excluded from image handling. The remaining
// messages are returned in order.
func SplitSystemMessage(messages []types.Message) (system string, rest []types.Message) {
	taken := false
	for _, m := range messages {
		if !taken && m.Role == types.RoleSystem && !m.HasImage() {
			system = m.TextContent()
			taken = true
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
