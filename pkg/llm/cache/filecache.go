package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/entrhq/harvest/pkg/logging"
)

// FileCache implements Cache using a single JSON file. Every Set rewrites the
// file through a temp-file rename so a crashed process never leaves a
// half-written cache behind. Any I/O or decode failure degrades to a miss.
type FileCache struct {
	path    string
	mu      sync.Mutex
	entries map[string]json.RawMessage
	loaded  bool
	logger  *logging.Logger
}

// NewFileCache creates a file-backed cache at path. If path is empty it
// defaults to ~/.harvest/cache.json. The logger may be nil.
func NewFileCache(path string, logger *logging.Logger) (*FileCache, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".harvest", "cache.json")
	}

	return &FileCache{
		path:    path,
		entries: make(map[string]json.RawMessage),
		logger:  logger,
	}, nil
}

// Path returns the file path of the cache.
func (c *FileCache) Path() string {
	return c.path
}

// Get returns the cached value for the fingerprint. Load failures are treated
// as misses.
func (c *FileCache) Get(fingerprint, requestID string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.load(); err != nil {
		c.logf("failed to load cache, treating as miss: %v (request_id=%s)", err, requestID)
		return nil, false
	}

	value, ok := c.entries[fingerprint]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true
}

// Set stores the value under the fingerprint. Write failures are logged and
// swallowed: a broken cache must never block the primary call.
func (c *FileCache) Set(fingerprint string, value []byte, requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.load(); err != nil {
		// Start from an empty table rather than refusing the write.
		c.entries = make(map[string]json.RawMessage)
		c.loaded = true
	}

	stored := make(json.RawMessage, len(value))
	copy(stored, value)
	c.entries[fingerprint] = stored

	if err := c.save(); err != nil {
		c.logf("failed to persist cache entry: %v (request_id=%s)", err, requestID)
	}
}

// load reads the cache file once per process. A missing file is an empty
// cache.
func (c *FileCache) load() error {
	if c.loaded {
		return nil
	}

	file, err := os.Open(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			c.loaded = true
			return nil
		}
		return fmt.Errorf("failed to open cache file: %w", err)
	}
	defer file.Close()

	var entries map[string]json.RawMessage
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return fmt.Errorf("failed to decode cache file: %w", err)
	}

	if entries != nil {
		c.entries = entries
	}
	c.loaded = true
	return nil
}

// save writes the full entry table atomically.
func (c *FileCache) save() error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tempPath := c.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(c.entries); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode cache: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempPath, c.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

func (c *FileCache) logf(format string, v ...interface{}) {
	if c.logger != nil {
		c.logger.Warnf(format, v...)
	}
}
