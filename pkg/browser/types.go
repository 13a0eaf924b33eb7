package browser

import (
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/harvest/pkg/types"
)

const (
	// DefaultViewportWidth is the default browser viewport width
	DefaultViewportWidth = 1280

	// DefaultViewportHeight is the default browser viewport height
	DefaultViewportHeight = 720

	// DefaultTimeout is the default operation timeout in milliseconds
	DefaultTimeout = 30000.0

	// DefaultMaxSessions is the default maximum number of concurrent sessions
	DefaultMaxSessions = 5

	// DefaultIdleTimeout is the default session idle timeout in seconds
	DefaultIdleTimeout = 300

	// DefaultDOMSettleTimeoutMs bounds the wait for the DOM to reach a
	// settled state before capture
	DefaultDOMSettleTimeoutMs = 30000.0
)

// Session represents an active browser session with its associated resources.
type Session struct {
	// Name is the unique identifier for this session
	Name string

	// Browser is the Playwright browser instance
	Browser playwright.Browser

	// Context is the browser context (isolated session)
	Context playwright.BrowserContext

	// Page is the current active page
	Page playwright.Page

	// Headless indicates if the browser is running in headless mode
	Headless bool

	// CreatedAt is the timestamp when the session was created
	CreatedAt time.Time

	// LastUsedAt is the timestamp of the last operation on this session
	LastUsedAt time.Time

	// CurrentURL is the URL of the current page
	CurrentURL string
}

// SessionOptions configures a new browser session.
type SessionOptions struct {
	// Headless controls whether the browser runs without a visible window
	Headless bool

	// Viewport sets the initial viewport size
	Viewport *types.Viewport

	// Timeout sets the default timeout for operations (in milliseconds)
	Timeout float64

	// InitScript is injected into every page of the session before any page
	// script runs. The DOM-processing helpers the evaluator invokes are
	// delivered this way.
	InitScript string
}

// NavigateOptions configures page navigation.
type NavigateOptions struct {
	// WaitUntil determines when navigation is considered complete
	// (load, domcontentloaded, networkidle)
	WaitUntil string

	// Timeout for the navigation in milliseconds
	Timeout float64
}
