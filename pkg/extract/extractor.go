package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/entrhq/harvest/pkg/llm"
	"github.com/entrhq/harvest/pkg/logging"
	"github.com/entrhq/harvest/pkg/types"
)

// ErrExtractionIncomplete is returned when the model reports that the
// extraction did not fully satisfy the instruction. It is distinct from a
// failed call: the backend answered, but declined to mark the result
// complete, and incomplete data is never surfaced as a successful result.
var ErrExtractionIncomplete = errors.New("extraction incomplete")

// completedFlag is the transient metadata property injected into the outgoing
// schema and stripped from the returned object.
const completedFlag = "completed"

// ExtractionRequest describes one structured extraction.
type ExtractionRequest struct {
	// Instruction is the natural-language description of what to extract.
	Instruction string

	// Schema is the target shape of the extracted data.
	Schema *llm.ResponseSchema

	// PriorContent seeds the schema-shaped object the model should extend or
	// correct, supporting iterative extraction. May be nil.
	PriorContent map[string]interface{}

	// ModelName overrides the provider's default model when non-empty.
	ModelName string

	// RequestID is tracing metadata. Generated when empty.
	RequestID string

	// DOMSettleTimeoutMs bounds the pre-capture DOM settle wait.
	DOMSettleTimeoutMs float64
}

// Extractor is the structured extraction orchestrator: it delegates text
// production to the annotator, issues exactly one completion request, and
// gates the result on the model's completed flag.
type Extractor struct {
	provider  llm.Provider
	annotator *Annotator
	logger    *logging.Logger
}

// NewExtractor creates an extractor over the given provider and annotator.
// The logger may be nil.
func NewExtractor(provider llm.Provider, annotator *Annotator, logger *logging.Logger) *Extractor {
	return &Extractor{
		provider:  provider,
		annotator: annotator,
		logger:    logger,
	}
}

// Extract performs one structured extraction. It returns the schema-shaped
// data with the completed flag stripped, or ErrExtractionIncomplete when the
// model reports the instruction was not fully satisfied. There is no
// automatic re-query: single-shot-then-fail is the contract.
func (e *Extractor) Extract(ctx context.Context, req ExtractionRequest) (map[string]interface{}, error) {
	if req.Schema == nil {
		return nil, fmt.Errorf("extraction schema is required")
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	e.logf("DEBUG", "starting extraction", map[string]interface{}{
		"request_id":  requestID,
		"instruction": req.Instruction,
	})

	pageText, annotations, err := e.annotator.Capture(CaptureOptions{
		DOMSettleTimeoutMs: req.DOMSettleTimeoutMs,
	})
	if err != nil {
		e.logf("ERROR", "annotation capture failed", map[string]interface{}{
			"request_id": requestID,
			"error":      err.Error(),
		})
		return nil, fmt.Errorf("failed to capture page annotations: %w", err)
	}

	e.logf("DEBUG", "captured page text", map[string]interface{}{
		"request_id":  requestID,
		"annotations": len(annotations),
		"text_length": len(pageText),
	})

	schema, err := injectCompletedFlag(req.Schema)
	if err != nil {
		return nil, err
	}

	result, err := e.provider.Complete(ctx, &llm.CompletionRequest{
		Model: req.ModelName,
		Messages: []types.Message{
			types.NewSystemMessage(buildExtractionSystemPrompt()),
			types.NewUserMessage(buildExtractionUserPrompt(req.Instruction, pageText, req.PriorContent)),
		},
		ResponseSchema: schema,
		RequestID:      requestID,
	})
	if err != nil {
		e.logf("ERROR", "completion failed", map[string]interface{}{
			"request_id":  requestID,
			"instruction": req.Instruction,
			"error":       err.Error(),
		})
		return nil, err
	}

	var extracted map[string]interface{}
	if err := json.Unmarshal(result.Data, &extracted); err != nil {
		return nil, fmt.Errorf("failed to decode extracted data: %w", err)
	}

	completed, _ := extracted[completedFlag].(bool)
	delete(extracted, completedFlag)

	e.logf("DEBUG", "extraction response", map[string]interface{}{
		"request_id": requestID,
		"completed":  completed,
		"data":       extracted,
	})

	if !completed {
		e.logf("ERROR", "extraction reported incomplete", map[string]interface{}{
			"request_id":  requestID,
			"instruction": req.Instruction,
			"data":        extracted,
		})
		return nil, fmt.Errorf("instruction %q: %w", req.Instruction, ErrExtractionIncomplete)
	}

	return extracted, nil
}

// injectCompletedFlag returns a copy of the caller's schema with a required
// boolean completed property added. The caller's schema is never mutated.
func injectCompletedFlag(schema *llm.ResponseSchema) (*llm.ResponseSchema, error) {
	var parsed map[string]interface{}
	if err := json.Unmarshal(schema.Schema, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse extraction schema: %w", err)
	}

	properties, ok := parsed["properties"].(map[string]interface{})
	if !ok {
		properties = make(map[string]interface{})
		parsed["properties"] = properties
	}
	properties[completedFlag] = map[string]interface{}{
		"type":        "boolean",
		"description": "true only when the extraction fully satisfies the instruction",
	}

	var required []interface{}
	if existing, ok := parsed["required"].([]interface{}); ok {
		required = existing
	}
	parsed["required"] = append(required, completedFlag)

	encoded, err := json.Marshal(parsed)
	if err != nil {
		return nil, fmt.Errorf("failed to encode extraction schema: %w", err)
	}

	name := schema.Name
	if name == "" {
		name = "extraction"
	}
	return &llm.ResponseSchema{Name: name, Schema: encoded}, nil
}

func (e *Extractor) logf(level, message string, aux map[string]interface{}) {
	if e.logger != nil {
		e.logger.Auxf(level, message, aux)
	}
}
