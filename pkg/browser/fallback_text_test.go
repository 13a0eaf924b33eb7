package browser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackText(t *testing.T) {
	t.Run("extracts title and visible text", func(t *testing.T) {
		html := `<html><head><title>Product Page</title></head>
			<body><h1>Widget</h1><p>Only $9.99 today</p></body></html>`

		text, err := FallbackText(html, 0)
		require.NoError(t, err)

		lines := strings.Split(text, "\n")
		assert.Equal(t, "Product Page", lines[0])
		assert.Contains(t, text, "Widget")
		assert.Contains(t, text, "Only $9.99 today")
	})

	t.Run("drops script and style content", func(t *testing.T) {
		html := `<html><body>
			<script>var secret = "tracking";</script>
			<style>.hidden { display: none; }</style>
			<noscript>enable javascript</noscript>
			<p>visible</p>
		</body></html>`

		text, err := FallbackText(html, 0)
		require.NoError(t, err)

		assert.Contains(t, text, "visible")
		assert.NotContains(t, text, "tracking")
		assert.NotContains(t, text, "display: none")
		assert.NotContains(t, text, "enable javascript")
	})

	t.Run("collapses internal whitespace", func(t *testing.T) {
		html := `<html><body><p>spread


			across     lines</p></body></html>`

		text, err := FallbackText(html, 0)
		require.NoError(t, err)
		assert.Contains(t, text, "spread across lines")
	})

	t.Run("truncates with a marker", func(t *testing.T) {
		html := `<html><body><p>` + strings.Repeat("word ", 200) + `</p></body></html>`

		text, err := FallbackText(html, 50)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(text, "[content truncated]"))
		assert.LessOrEqual(t, len(text), 50+len("\n[content truncated]"))
	})

	t.Run("empty document", func(t *testing.T) {
		text, err := FallbackText("", 0)
		require.NoError(t, err)
		assert.Empty(t, text)
	})
}
