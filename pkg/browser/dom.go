package browser

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/entrhq/harvest/pkg/types"
)

// PageEvaluator is the page evaluation boundary the extraction pipeline
// depends on. All methods are remote calls into the in-page DOM-processing
// helpers (injected as the session init script); from the caller's point of
// view they are synchronous.
type PageEvaluator interface {
	// WaitForSettledDOM blocks until the DOM reaches a settled state, bounded
	// by timeoutMs.
	WaitForSettledDOM(timeoutMs float64) error

	// SetDebugMode toggles the in-page debug instrumentation (element
	// highlighting).
	SetDebugMode(enabled bool) error

	// StoreDOM snapshots the current DOM verbatim for later restoration.
	StoreDOM() (string, error)

	// RestoreDOM restores a snapshot previously returned by StoreDOM.
	RestoreDOM(snapshot string) error

	// ProcessAllOfDOM computes a selector map covering all elements
	// considered for extraction.
	ProcessAllOfDOM() (types.SelectorMap, error)

	// CreateTextBoundingBoxes triggers creation of text bounding boxes in
	// the live page. The side effect is reversed by RestoreDOM.
	CreateTextBoundingBoxes() error

	// GetElementBoundingBoxes resolves a locator path to the bounding boxes
	// of the text it contains.
	GetElementBoundingBoxes(path string) ([]types.BoundingBox, error)

	// ViewportSize returns the page viewport dimensions in pixels.
	ViewportSize() (types.Viewport, error)
}

// Entry points of the injected DOM-processing script. The script itself ships
// separately; the Go side only invokes these.
const (
	scriptWaitForSettledDOM       = "(timeoutMs) => window.__harvest.waitForDomSettle(timeoutMs)"
	scriptSetDebugMode            = "(enabled) => window.__harvest.setDebugMode(enabled)"
	scriptStoreDOM                = "() => window.__harvest.storeDOM()"
	scriptRestoreDOM              = "(snapshot) => window.__harvest.restoreDOM(snapshot)"
	scriptProcessAllOfDOM         = "() => window.__harvest.processAllOfDom()"
	scriptCreateTextBoundingBoxes = "() => window.__harvest.createTextBoundingBoxes()"
	scriptGetElementBoundingBoxes = "(path) => window.__harvest.getElementBoundingBoxes(path)"
	scriptViewportSize            = "() => ({ width: window.innerWidth, height: window.innerHeight })"
)

// WaitForSettledDOM blocks until the in-page settle detector resolves.
func (s *Session) WaitForSettledDOM(timeoutMs float64) error {
	s.UpdateLastUsed()

	if timeoutMs <= 0 {
		timeoutMs = DefaultDOMSettleTimeoutMs
	}
	if _, err := s.Page.Evaluate(scriptWaitForSettledDOM, timeoutMs); err != nil {
		return fmt.Errorf("failed to wait for settled DOM: %w", err)
	}
	return nil
}

// SetDebugMode toggles the in-page debug instrumentation.
func (s *Session) SetDebugMode(enabled bool) error {
	s.UpdateLastUsed()

	if _, err := s.Page.Evaluate(scriptSetDebugMode, enabled); err != nil {
		return fmt.Errorf("failed to set debug mode: %w", err)
	}
	return nil
}

// StoreDOM snapshots the current DOM.
func (s *Session) StoreDOM() (string, error) {
	s.UpdateLastUsed()

	result, err := s.Page.Evaluate(scriptStoreDOM)
	if err != nil {
		return "", fmt.Errorf("failed to store DOM: %w", err)
	}
	snapshot, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("unexpected storeDOM result type %T", result)
	}
	return snapshot, nil
}

// RestoreDOM restores a previously stored snapshot.
func (s *Session) RestoreDOM(snapshot string) error {
	s.UpdateLastUsed()

	if _, err := s.Page.Evaluate(scriptRestoreDOM, snapshot); err != nil {
		return fmt.Errorf("failed to restore DOM: %w", err)
	}
	return nil
}

// ProcessAllOfDOM computes the selector map for the full page.
func (s *Session) ProcessAllOfDOM() (types.SelectorMap, error) {
	s.UpdateLastUsed()

	result, err := s.Page.Evaluate(scriptProcessAllOfDOM)
	if err != nil {
		return nil, fmt.Errorf("failed to process DOM: %w", err)
	}

	// The page returns { selectorMap: { "<id>": ["<path>", ...] } }. Element
	// ids arrive as JSON object keys, so they need numeric parsing.
	var parsed struct {
		SelectorMap map[string][]string `json:"selectorMap"`
	}
	if err := reencode(result, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode selector map: %w", err)
	}

	selectorMap := make(types.SelectorMap, len(parsed.SelectorMap))
	for key, paths := range parsed.SelectorMap {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("non-numeric selector map key %q: %w", key, err)
		}
		selectorMap[id] = paths
	}
	return selectorMap, nil
}

// CreateTextBoundingBoxes injects text bounding boxes into the live page.
func (s *Session) CreateTextBoundingBoxes() error {
	s.UpdateLastUsed()

	if _, err := s.Page.Evaluate(scriptCreateTextBoundingBoxes); err != nil {
		return fmt.Errorf("failed to create text bounding boxes: %w", err)
	}
	return nil
}

// GetElementBoundingBoxes resolves a locator path to its text bounding boxes.
func (s *Session) GetElementBoundingBoxes(path string) ([]types.BoundingBox, error) {
	s.UpdateLastUsed()

	result, err := s.Page.Evaluate(scriptGetElementBoundingBoxes, path)
	if err != nil {
		return nil, fmt.Errorf("failed to get bounding boxes for %q: %w", path, err)
	}

	var boxes []types.BoundingBox
	if err := reencode(result, &boxes); err != nil {
		return nil, fmt.Errorf("failed to decode bounding boxes: %w", err)
	}
	return boxes, nil
}

// ViewportSize returns the viewport dimensions.
func (s *Session) ViewportSize() (types.Viewport, error) {
	s.UpdateLastUsed()

	result, err := s.Page.Evaluate(scriptViewportSize)
	if err != nil {
		return types.Viewport{}, fmt.Errorf("failed to read viewport size: %w", err)
	}

	var viewport types.Viewport
	if err := reencode(result, &viewport); err != nil {
		return types.Viewport{}, fmt.Errorf("failed to decode viewport size: %w", err)
	}
	return viewport, nil
}

// reencode converts a loosely-typed page evaluation result into a typed Go
// value via a JSON round trip.
func reencode(value interface{}, target interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
