package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/entrhq/harvest/pkg/llm"
)

// fingerprintInputs is the canonical serialization of a request's
// identity-relevant fields. Struct field order fixes the serialization order,
// so two requests with equal fields always hash identically. RequestID is
// deliberately absent: it is tracing metadata, not cache identity.
type fingerprintInputs struct {
	Model            string               `json:"model"`
	Messages         interface{}          `json:"messages"`
	Temperature      *float64             `json:"temperature,omitempty"`
	TopP             *float64             `json:"top_p,omitempty"`
	FrequencyPenalty *float64             `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64             `json:"presence_penalty,omitempty"`
	MaxTokens        int                  `json:"max_tokens,omitempty"`
	Image            *llm.ImageAttachment `json:"image,omitempty"`
	ResponseSchema   *llm.ResponseSchema  `json:"response_schema,omitempty"`
	Tools            []llm.ToolDefinition `json:"tools,omitempty"`
}

// Fingerprint computes the cache key for a completion request: the sha256 of
// the canonical JSON of every identity-relevant field. Two requests differing
// only in RequestID produce the same fingerprint.
func Fingerprint(req *llm.CompletionRequest) (string, error) {
	inputs := fingerprintInputs{
		Model:            req.Model,
		Messages:         req.Messages,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		MaxTokens:        req.MaxTokens,
		Image:            req.Image,
		ResponseSchema:   req.ResponseSchema,
		Tools:            req.Tools,
	}

	data, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("failed to serialize fingerprint inputs: %w", err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
