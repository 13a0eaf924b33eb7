package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileCache(t *testing.T) {
	t.Run("round trip within one process", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cache.json")
		c, err := NewFileCache(path, nil)
		require.NoError(t, err)

		c.Set("fp", []byte(`{"title":"hello"}`), "req-1")

		value, ok := c.Get("fp", "req-2")
		require.True(t, ok)
		assert.JSONEq(t, `{"title":"hello"}`, string(value))
	})

	t.Run("entries survive a new cache over the same file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cache.json")

		first, err := NewFileCache(path, nil)
		require.NoError(t, err)
		first.Set("fp", []byte(`"persisted"`), "")

		second, err := NewFileCache(path, nil)
		require.NoError(t, err)

		value, ok := second.Get("fp", "")
		require.True(t, ok)
		assert.Equal(t, `"persisted"`, string(value))
	})

	t.Run("missing file is an empty cache", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "does-not-exist.json")
		c, err := NewFileCache(path, nil)
		require.NoError(t, err)

		_, ok := c.Get("fp", "")
		assert.False(t, ok)
	})

	t.Run("corrupt file degrades to a miss", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cache.json")
		require.NoError(t, os.WriteFile(path, []byte("{{{ not json"), 0600))

		c, err := NewFileCache(path, nil)
		require.NoError(t, err)

		_, ok := c.Get("fp", "")
		assert.False(t, ok)
	})

	t.Run("set recovers from a corrupt file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cache.json")
		require.NoError(t, os.WriteFile(path, []byte("{{{ not json"), 0600))

		c, err := NewFileCache(path, nil)
		require.NoError(t, err)
		c.Set("fp", []byte(`"fresh"`), "")

		value, ok := c.Get("fp", "")
		require.True(t, ok)
		assert.Equal(t, `"fresh"`, string(value))
	})

	t.Run("set creates missing parent directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dir", "cache.json")
		c, err := NewFileCache(path, nil)
		require.NoError(t, err)

		c.Set("fp", []byte(`"value"`), "")

		_, err = os.Stat(path)
		assert.NoError(t, err)
	})
}
