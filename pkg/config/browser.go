package config

import (
	"fmt"
	"sync"
)

// SectionIDBrowser is the identifier for the browser settings section
const SectionIDBrowser = "browser"

// BrowserSection manages browser session configuration settings.
type BrowserSection struct {
	Headless           bool
	ViewportWidth      int
	ViewportHeight     int
	TimeoutMs          float64
	DOMSettleTimeoutMs float64
	mu                 sync.RWMutex
}

// NewBrowserSection creates a new browser section with default settings.
func NewBrowserSection() *BrowserSection {
	return &BrowserSection{
		Headless: true,
	}
}

// ID returns the section identifier.
func (s *BrowserSection) ID() string {
	return SectionIDBrowser
}

// Title returns the section title.
func (s *BrowserSection) Title() string {
	return "Browser Settings"
}

// Description returns the section description.
func (s *BrowserSection) Description() string {
	return "Configure browser session behavior. Zero values fall back to the session defaults."
}

// Data returns the current configuration data.
func (s *BrowserSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"headless":              s.Headless,
		"viewport_width":        s.ViewportWidth,
		"viewport_height":       s.ViewportHeight,
		"timeout_ms":            s.TimeoutMs,
		"dom_settle_timeout_ms": s.DOMSettleTimeoutMs,
	}
}

// SetData updates the configuration from the provided data.
func (s *BrowserSection) SetData(data map[string]interface{}) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if headless, ok := data["headless"].(bool); ok {
		s.Headless = headless
	}

	if width, ok := numberValue(data["viewport_width"]); ok {
		s.ViewportWidth = int(width)
	}

	if height, ok := numberValue(data["viewport_height"]); ok {
		s.ViewportHeight = int(height)
	}

	if timeout, ok := numberValue(data["timeout_ms"]); ok {
		s.TimeoutMs = timeout
	}

	if settle, ok := numberValue(data["dom_settle_timeout_ms"]); ok {
		s.DOMSettleTimeoutMs = settle
	}

	return nil
}

// Validate validates the current configuration.
func (s *BrowserSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ViewportWidth < 0 || s.ViewportHeight < 0 {
		return fmt.Errorf("viewport dimensions cannot be negative")
	}
	if s.TimeoutMs < 0 || s.DOMSettleTimeoutMs < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *BrowserSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Headless = true
	s.ViewportWidth = 0
	s.ViewportHeight = 0
	s.TimeoutMs = 0
	s.DOMSettleTimeoutMs = 0
}

// GetHeadless returns whether sessions launch headless.
func (s *BrowserSection) GetHeadless() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Headless
}

// SetHeadless sets whether sessions launch headless.
func (s *BrowserSection) SetHeadless(headless bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Headless = headless
}

// GetViewport returns the configured viewport dimensions. Zero values mean
// the session defaults.
func (s *BrowserSection) GetViewport() (width, height int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ViewportWidth, s.ViewportHeight
}

// SetViewport sets the viewport dimensions.
func (s *BrowserSection) SetViewport(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ViewportWidth = width
	s.ViewportHeight = height
}

// GetTimeoutMs returns the default navigation timeout in milliseconds.
func (s *BrowserSection) GetTimeoutMs() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.TimeoutMs
}

// GetDOMSettleTimeoutMs returns the DOM settle wait bound in milliseconds.
func (s *BrowserSection) GetDOMSettleTimeoutMs() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.DOMSettleTimeoutMs
}

// numberValue normalizes the numeric types JSON decoding can produce.
func numberValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
