package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/entrhq/harvest/pkg/types"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// EstimateTokens approximates the prompt token count of the given messages
// using the cl100k_base encoding. It is used for logging and as a usage
// fallback when a backend omits token counts; billing-accurate counts always
// come from the vendor response.
func EstimateTokens(messages []types.Message) int {
	encodingOnce.Do(func() {
		// Ignore the error: a failed init falls through to the zero estimate.
		encoding, _ = tiktoken.GetEncoding("cl100k_base")
	})
	if encoding == nil {
		return 0
	}

	total := 0
	for _, m := range messages {
		for _, part := range m.Content {
			if part.Type == types.ContentTypeText {
				total += len(encoding.Encode(part.Text, nil, nil))
			}
		}
		// Per-message framing overhead, matching OpenAI's chat format.
		total += 4
	}
	return total
}
