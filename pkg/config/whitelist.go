package config

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// SectionIDURLAllowlist is the identifier for the URL allowlist section
const SectionIDURLAllowlist = "url_allowlist"

// URLAllowlistSection restricts which URLs extraction sessions may navigate
// to. Patterns are globs matched against the host and the host plus path of
// the target URL, e.g. "*.example.com" or "news.ycombinator.com/item*".
// Denied patterns take precedence; an empty allowed list permits everything
// not denied.
type URLAllowlistSection struct {
	allowed []string
	denied  []string

	allowedGlobs []glob.Glob
	deniedGlobs  []glob.Glob
	mu           sync.RWMutex
}

// NewURLAllowlistSection creates an allowlist section with no restrictions.
func NewURLAllowlistSection() *URLAllowlistSection {
	return &URLAllowlistSection{}
}

// ID returns the section identifier.
func (s *URLAllowlistSection) ID() string {
	return SectionIDURLAllowlist
}

// Title returns the section title.
func (s *URLAllowlistSection) Title() string {
	return "URL Allowlist"
}

// Description returns the section description.
func (s *URLAllowlistSection) Description() string {
	return "Glob patterns matched against the host and path of navigation targets. Denied patterns win; an empty allowed list permits all URLs."
}

// Data returns the current configuration data.
func (s *URLAllowlistSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := make([]interface{}, len(s.allowed))
	for i, p := range s.allowed {
		allowed[i] = p
	}
	denied := make([]interface{}, len(s.denied))
	for i, p := range s.denied {
		denied[i] = p
	}

	return map[string]interface{}{
		"allowed": allowed,
		"denied":  denied,
	}
}

// SetData updates the configuration from the provided data.
func (s *URLAllowlistSection) SetData(data map[string]interface{}) error {
	if data == nil {
		return nil
	}

	allowed, err := stringPatterns(data, "allowed")
	if err != nil {
		return err
	}
	denied, err := stringPatterns(data, "denied")
	if err != nil {
		return err
	}

	allowedGlobs, err := compilePatterns(allowed)
	if err != nil {
		return err
	}
	deniedGlobs, err := compilePatterns(denied)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowed = allowed
	s.denied = denied
	s.allowedGlobs = allowedGlobs
	s.deniedGlobs = deniedGlobs
	return nil
}

// Validate validates the current configuration.
func (s *URLAllowlistSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := compilePatterns(s.allowed); err != nil {
		return err
	}
	if _, err := compilePatterns(s.denied); err != nil {
		return err
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *URLAllowlistSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowed = nil
	s.denied = nil
	s.allowedGlobs = nil
	s.deniedGlobs = nil
}

// SetPatterns replaces the allowed and denied pattern lists.
func (s *URLAllowlistSection) SetPatterns(allowed, denied []string) error {
	allowedGlobs, err := compilePatterns(allowed)
	if err != nil {
		return err
	}
	deniedGlobs, err := compilePatterns(denied)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowed = append([]string(nil), allowed...)
	s.denied = append([]string(nil), denied...)
	s.allowedGlobs = allowedGlobs
	s.deniedGlobs = deniedGlobs
	return nil
}

// IsURLAllowed reports whether navigation to the given URL is permitted.
// Unparseable URLs are never permitted.
func (s *URLAllowlistSection) IsURLAllowed(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}

	host := parsed.Host
	hostAndPath := host + parsed.Path

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, g := range s.deniedGlobs {
		if g.Match(host) || g.Match(hostAndPath) {
			return false
		}
	}

	if len(s.allowedGlobs) == 0 {
		return true
	}

	for _, g := range s.allowedGlobs {
		if g.Match(host) || g.Match(hostAndPath) {
			return true
		}
	}
	return false
}

// compilePatterns compiles glob patterns, rejecting empty ones.
func compilePatterns(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		if strings.TrimSpace(pattern) == "" {
			return nil, fmt.Errorf("allowlist pattern cannot be empty")
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid allowlist pattern %q: %w", pattern, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// stringPatterns extracts a []string from the generic section data shape.
func stringPatterns(data map[string]interface{}, key string) ([]string, error) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return nil, nil
	}

	slice, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid %s type: expected list, got %T", key, raw)
	}

	patterns := make([]string, 0, len(slice))
	for i, item := range slice {
		pattern, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("invalid %s pattern at index %d: expected string, got %T", key, i, item)
		}
		patterns = append(patterns, pattern)
	}
	return patterns, nil
}
