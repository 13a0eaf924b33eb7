package browser

import (
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// UpdateLastUsed updates the LastUsedAt timestamp to the current time.
func (s *Session) UpdateLastUsed() {
	s.LastUsedAt = time.Now()
}

// Navigate navigates the session's page to the specified URL.
func (s *Session) Navigate(url string, opts NavigateOptions) error {
	s.UpdateLastUsed()

	playwrightOpts := playwright.PageGotoOptions{}

	if opts.WaitUntil != "" {
		waitUntil := playwright.WaitUntilState(opts.WaitUntil)
		playwrightOpts.WaitUntil = &waitUntil
	}

	if opts.Timeout > 0 {
		playwrightOpts.Timeout = &opts.Timeout
	}

	_, err := s.Page.Goto(url, playwrightOpts)
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}

	s.CurrentURL = s.Page.URL()
	return nil
}

// FallbackText returns the cleaned visible text of the current page. The
// annotation pipeline uses it when a page yields no text bounding boxes at
// all, so the model still sees something to extract from.
func (s *Session) FallbackText(maxLength int) (string, error) {
	s.UpdateLastUsed()

	rawHTML, err := s.Page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return FallbackText(rawHTML, maxLength)
}

// Title returns the current page title, or empty on failure.
func (s *Session) Title() string {
	title, err := s.Page.Title()
	if err != nil {
		return ""
	}
	return title
}
