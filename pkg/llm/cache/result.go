package cache

import (
	"encoding/json"

	"github.com/entrhq/harvest/pkg/llm"
)

// GetResult reads a cached value and reinterprets it for the given request.
// The cache holds either a raw canonical completion or an already-parsed
// structured object; which one is decided by whether the request carries a
// ResponseSchema, never by inspecting the value's shape. A corrupt entry is
// a miss.
func GetResult(c Cache, fingerprint string, req *llm.CompletionRequest) (*llm.Result, bool) {
	if c == nil || fingerprint == "" {
		return nil, false
	}
	value, ok := c.Get(fingerprint, req.RequestID)
	if !ok {
		return nil, false
	}

	if req.ResponseSchema != nil {
		return &llm.Result{Data: json.RawMessage(value)}, true
	}

	var completion llm.Completion
	if err := json.Unmarshal(value, &completion); err != nil {
		return nil, false
	}
	return &llm.Result{Completion: &completion}, true
}

// SetResult stores the result verbatim as it would be returned to a fresh
// caller: the parsed structured object when the request carried a schema, the
// canonical completion otherwise. Returns false when nothing was written.
func SetResult(c Cache, fingerprint string, req *llm.CompletionRequest, result *llm.Result) bool {
	if c == nil || fingerprint == "" {
		return false
	}

	var value []byte
	if req.ResponseSchema != nil {
		value = []byte(result.Data)
	} else {
		encoded, err := json.Marshal(result.Completion)
		if err != nil {
			return false
		}
		value = encoded
	}
	c.Set(fingerprint, value, req.RequestID)
	return true
}
