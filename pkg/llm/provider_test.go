package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/harvest/pkg/types"
)

func TestResponseSchema_Validate(t *testing.T) {
	schema := &ResponseSchema{
		Name: "product",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"price": {"type": "number"}
			},
			"required": ["name"]
		}`),
	}

	t.Run("accepts conforming data", func(t *testing.T) {
		err := schema.Validate(json.RawMessage(`{"name": "Widget", "price": 9.99}`))
		assert.NoError(t, err)
	})

	t.Run("rejects missing required field", func(t *testing.T) {
		err := schema.Validate(json.RawMessage(`{"price": 9.99}`))
		assert.Error(t, err)
	})

	t.Run("rejects wrong type", func(t *testing.T) {
		err := schema.Validate(json.RawMessage(`{"name": "Widget", "price": "expensive"}`))
		assert.Error(t, err)
	})

	t.Run("rejects invalid JSON", func(t *testing.T) {
		err := schema.Validate(json.RawMessage(`{not json`))
		assert.Error(t, err)
	})

	t.Run("nil schema accepts anything", func(t *testing.T) {
		var nilSchema *ResponseSchema
		assert.NoError(t, nilSchema.Validate(json.RawMessage(`"anything"`)))
	})

	t.Run("invalid schema surfaces a compile error", func(t *testing.T) {
		bad := &ResponseSchema{Name: "bad", Schema: json.RawMessage(`{"type": 42}`)}
		err := bad.Validate(json.RawMessage(`{}`))
		assert.Error(t, err)
	})
}

func TestSplitSystemMessage(t *testing.T) {
	t.Run("extracts the first image-free system message", func(t *testing.T) {
		messages := []types.Message{
			types.NewSystemMessage("you are an extractor"),
			types.NewUserMessage("extract the title"),
		}

		system, rest := SplitSystemMessage(messages)
		assert.Equal(t, "you are an extractor", system)
		require.Len(t, rest, 1)
		assert.Equal(t, types.RoleUser, rest[0].Role)
	})

	t.Run("system message with an image is not taken", func(t *testing.T) {
		withImage := types.Message{
			Role: types.RoleSystem,
			Content: []types.ContentPart{
				{Type: types.ContentTypeText, Text: "look at this"},
				{Type: types.ContentTypeImage, ImageData: []byte{0x1}},
			},
		}
		messages := []types.Message{withImage, types.NewSystemMessage("plain system")}

		system, rest := SplitSystemMessage(messages)
		assert.Equal(t, "plain system", system)
		require.Len(t, rest, 1)
		assert.True(t, rest[0].HasImage())
	})

	t.Run("only the first system message is taken", func(t *testing.T) {
		messages := []types.Message{
			types.NewSystemMessage("first"),
			types.NewSystemMessage("second"),
			types.NewUserMessage("hi"),
		}

		system, rest := SplitSystemMessage(messages)
		assert.Equal(t, "first", system)
		require.Len(t, rest, 2)
		assert.Equal(t, types.RoleSystem, rest[0].Role)
	})

	t.Run("no system message", func(t *testing.T) {
		messages := []types.Message{types.NewUserMessage("hi")}

		system, rest := SplitSystemMessage(messages)
		assert.Empty(t, system)
		assert.Len(t, rest, 1)
	})
}

func TestEstimateTokens(t *testing.T) {
	messages := []types.Message{
		types.NewSystemMessage("you are an extractor"),
		types.NewUserMessage("extract the product name and price from this page"),
	}

	count := EstimateTokens(messages)
	if count == 0 {
		t.Skip("token encoding unavailable")
	}
	// Exact counts depend on the encoding tables; the estimate must at least
	// cover the per-message overhead plus one token per word.
	assert.Greater(t, count, 8)

	assert.Equal(t, 0, EstimateTokens(nil))
}
