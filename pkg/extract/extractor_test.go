package extract

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/harvest/pkg/llm"
	"github.com/entrhq/harvest/pkg/types"
)

// fakeProvider records the request and replies with a scripted result.
type fakeProvider struct {
	data json.RawMessage
	err  error

	requests []*llm.CompletionRequest
}

func (f *fakeProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Result{Data: f.data}, nil
}

func (f *fakeProvider) GetModel() string {
	return "fake-model"
}

func annotatedEvaluator() *fakeEvaluator {
	evaluator := newFakeEvaluator()
	evaluator.selectorMap = types.SelectorMap{0: {"/a"}}
	evaluator.boxes["/a"] = []types.BoundingBox{
		{Text: "Score: 0.93", Left: 10, Top: 30, Width: 40, Height: 10},
	}
	return evaluator
}

func productSchema() *llm.ResponseSchema {
	return &llm.ResponseSchema{
		Name: "product",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {"score": {"type": "number"}},
			"required": ["score"]
		}`),
	}
}

func TestExtractor_Extract(t *testing.T) {
	t.Run("returns data with the completed flag stripped", func(t *testing.T) {
		provider := &fakeProvider{data: json.RawMessage(`{"score": 0.93, "completed": true}`)}
		extractor := NewExtractor(provider, NewAnnotator(annotatedEvaluator(), nil), nil)

		data, err := extractor.Extract(context.Background(), ExtractionRequest{
			Instruction: "extract the score",
			Schema:      productSchema(),
		})
		require.NoError(t, err)

		assert.Equal(t, map[string]interface{}{"score": 0.93}, data)
		assert.NotContains(t, data, "completed")
	})

	t.Run("incomplete extraction is an error, never data", func(t *testing.T) {
		provider := &fakeProvider{data: json.RawMessage(`{"score": 0.93, "completed": false}`)}
		extractor := NewExtractor(provider, NewAnnotator(annotatedEvaluator(), nil), nil)

		data, err := extractor.Extract(context.Background(), ExtractionRequest{
			Instruction: "extract the score",
			Schema:      productSchema(),
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrExtractionIncomplete))
		assert.Nil(t, data)
	})

	t.Run("missing completed flag counts as incomplete", func(t *testing.T) {
		provider := &fakeProvider{data: json.RawMessage(`{"score": 0.93}`)}
		extractor := NewExtractor(provider, NewAnnotator(annotatedEvaluator(), nil), nil)

		_, err := extractor.Extract(context.Background(), ExtractionRequest{
			Instruction: "extract the score",
			Schema:      productSchema(),
		})
		assert.True(t, errors.Is(err, ErrExtractionIncomplete))
	})

	t.Run("exactly one completion call per extraction", func(t *testing.T) {
		provider := &fakeProvider{data: json.RawMessage(`{"score": 0.93, "completed": false}`)}
		extractor := NewExtractor(provider, NewAnnotator(annotatedEvaluator(), nil), nil)

		_, _ = extractor.Extract(context.Background(), ExtractionRequest{
			Instruction: "extract the score",
			Schema:      productSchema(),
		})
		assert.Len(t, provider.requests, 1)
	})

	t.Run("outgoing schema gains a required completed flag", func(t *testing.T) {
		provider := &fakeProvider{data: json.RawMessage(`{"score": 0.93, "completed": true}`)}
		extractor := NewExtractor(provider, NewAnnotator(annotatedEvaluator(), nil), nil)

		_, err := extractor.Extract(context.Background(), ExtractionRequest{
			Instruction: "extract the score",
			Schema:      productSchema(),
		})
		require.NoError(t, err)

		require.Len(t, provider.requests, 1)
		sent := provider.requests[0].ResponseSchema
		require.NotNil(t, sent)

		var parsed struct {
			Properties map[string]interface{} `json:"properties"`
			Required   []string               `json:"required"`
		}
		require.NoError(t, json.Unmarshal(sent.Schema, &parsed))
		assert.Contains(t, parsed.Properties, "completed")
		assert.Contains(t, parsed.Properties, "score")
		assert.Contains(t, parsed.Required, "completed")
		assert.Contains(t, parsed.Required, "score")
	})

	t.Run("the caller's schema is never mutated", func(t *testing.T) {
		schema := productSchema()
		original := string(schema.Schema)

		provider := &fakeProvider{data: json.RawMessage(`{"score": 0.93, "completed": true}`)}
		extractor := NewExtractor(provider, NewAnnotator(annotatedEvaluator(), nil), nil)

		_, err := extractor.Extract(context.Background(), ExtractionRequest{
			Instruction: "extract the score",
			Schema:      schema,
		})
		require.NoError(t, err)
		assert.JSONEq(t, original, string(schema.Schema))
	})

	t.Run("page text and prior content reach the prompt", func(t *testing.T) {
		provider := &fakeProvider{data: json.RawMessage(`{"score": 0.93, "completed": true}`)}
		extractor := NewExtractor(provider, NewAnnotator(annotatedEvaluator(), nil), nil)

		_, err := extractor.Extract(context.Background(), ExtractionRequest{
			Instruction:  "extract the score",
			Schema:       productSchema(),
			PriorContent: map[string]interface{}{"score": 0.5},
		})
		require.NoError(t, err)

		require.Len(t, provider.requests, 1)
		messages := provider.requests[0].Messages
		require.Len(t, messages, 2)
		assert.Equal(t, types.RoleSystem, messages[0].Role)

		user := messages[1].TextContent()
		assert.Contains(t, user, "extract the score")
		assert.Contains(t, user, "Score: 0.93 [x=0.0100, y=0.0800]")
		assert.Contains(t, user, `"score":0.5`)
	})

	t.Run("a missing schema is rejected up front", func(t *testing.T) {
		provider := &fakeProvider{}
		extractor := NewExtractor(provider, NewAnnotator(annotatedEvaluator(), nil), nil)

		_, err := extractor.Extract(context.Background(), ExtractionRequest{Instruction: "x"})
		require.Error(t, err)
		assert.Empty(t, provider.requests)
	})

	t.Run("provider errors pass through", func(t *testing.T) {
		providerErr := errors.New("backend unavailable")
		provider := &fakeProvider{err: providerErr}
		extractor := NewExtractor(provider, NewAnnotator(annotatedEvaluator(), nil), nil)

		_, err := extractor.Extract(context.Background(), ExtractionRequest{
			Instruction: "extract the score",
			Schema:      productSchema(),
		})
		assert.True(t, errors.Is(err, providerErr))
	})

	t.Run("capture failure aborts before the provider is called", func(t *testing.T) {
		evaluator := annotatedEvaluator()
		evaluator.settleErr = errors.New("never settled")

		provider := &fakeProvider{}
		extractor := NewExtractor(provider, NewAnnotator(evaluator, nil), nil)

		_, err := extractor.Extract(context.Background(), ExtractionRequest{
			Instruction: "extract the score",
			Schema:      productSchema(),
		})
		require.Error(t, err)
		assert.Empty(t, provider.requests)
	})

	t.Run("request ids are generated when absent", func(t *testing.T) {
		provider := &fakeProvider{data: json.RawMessage(`{"completed": true}`)}
		extractor := NewExtractor(provider, NewAnnotator(annotatedEvaluator(), nil), nil)

		_, err := extractor.Extract(context.Background(), ExtractionRequest{
			Instruction: "x",
			Schema:      &llm.ResponseSchema{Name: "any", Schema: json.RawMessage(`{"type":"object"}`)},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, provider.requests[0].RequestID)
	})
}

func TestInjectCompletedFlag(t *testing.T) {
	t.Run("schema without properties or required", func(t *testing.T) {
		schema, err := injectCompletedFlag(&llm.ResponseSchema{
			Name:   "bare",
			Schema: json.RawMessage(`{"type":"object"}`),
		})
		require.NoError(t, err)

		var parsed struct {
			Properties map[string]interface{} `json:"properties"`
			Required   []string               `json:"required"`
		}
		require.NoError(t, json.Unmarshal(schema.Schema, &parsed))
		assert.Contains(t, parsed.Properties, "completed")
		assert.Equal(t, []string{"completed"}, parsed.Required)
	})

	t.Run("unparseable schema errors", func(t *testing.T) {
		_, err := injectCompletedFlag(&llm.ResponseSchema{
			Name:   "broken",
			Schema: json.RawMessage(`{not json`),
		})
		assert.Error(t, err)
	})

	t.Run("empty name defaults", func(t *testing.T) {
		schema, err := injectCompletedFlag(&llm.ResponseSchema{
			Schema: json.RawMessage(`{"type":"object"}`),
		})
		require.NoError(t, err)
		assert.Equal(t, "extraction", schema.Name)
	})
}
