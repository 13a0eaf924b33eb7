// Package extract implements the perception-to-extraction pipeline: it turns
// a live DOM into a deduplicated, spatially-normalized sequence of text
// annotations and orchestrates structured extraction over an LLM backend.
package extract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/entrhq/harvest/pkg/browser"
	"github.com/entrhq/harvest/pkg/logging"
	"github.com/entrhq/harvest/pkg/types"
)

// fallbackTextLimit caps the cleaned-HTML fallback used when a page yields no
// annotations at all.
const fallbackTextLimit = 50000

// fallbackTexter is implemented by evaluators that can produce cleaned page
// text when annotation capture comes up empty. browser.Session implements it.
type fallbackTexter interface {
	FallbackText(maxLength int) (string, error)
}

// CaptureOptions configures one annotation capture.
type CaptureOptions struct {
	// DOMSettleTimeoutMs bounds the wait for the DOM to settle before
	// capture. Zero means the default.
	DOMSettleTimeoutMs float64
}

// Annotator captures the current page as a formatted annotation sequence.
type Annotator struct {
	evaluator browser.PageEvaluator
	logger    *logging.Logger
}

// NewAnnotator creates an annotator over the given page evaluator. The logger
// may be nil.
func NewAnnotator(evaluator browser.PageEvaluator, logger *logging.Logger) *Annotator {
	return &Annotator{
		evaluator: evaluator,
		logger:    logger,
	}
}

// Capture snapshots the live DOM, derives per-element text bounding boxes,
// deduplicates them into annotations, restores the DOM, and formats the
// result as one logical line per annotation in first-occurrence order.
//
// The DOM is always restored to its pre-capture state before Capture returns,
// even when collection fails partway; failures propagate after the
// best-effort restore and instrumentation teardown.
func (a *Annotator) Capture(opts CaptureOptions) (string, []types.TextAnnotation, error) {
	if err := a.evaluator.WaitForSettledDOM(opts.DOMSettleTimeoutMs); err != nil {
		return "", nil, err
	}

	scope, err := acquireDebugScope(a.evaluator)
	if err != nil {
		return "", nil, err
	}
	defer scope.Release()

	snapshot, err := a.evaluator.StoreDOM()
	if err != nil {
		return "", nil, err
	}

	annotations, err := a.collect()

	// Restore unconditionally: the live DOM was mutated by the bounding-box
	// injection and the page must be back in its original state before any
	// caller issues the next operation.
	if restoreErr := a.evaluator.RestoreDOM(snapshot); restoreErr != nil {
		if err == nil {
			err = restoreErr
		} else {
			a.logf("failed to restore DOM after capture error: %v", restoreErr)
		}
	}
	if err != nil {
		return "", nil, err
	}

	text, err := a.format(annotations)
	if err != nil {
		return "", nil, err
	}
	return text, annotations, nil
}

// collect walks the selector map and dedups the resulting bounding boxes into
// annotations. The caller owns DOM restoration.
func (a *Annotator) collect() ([]types.TextAnnotation, error) {
	selectorMap, err := a.evaluator.ProcessAllOfDOM()
	if err != nil {
		return nil, err
	}
	a.logf("selector map computed: %d entries", len(selectorMap))

	if err := a.evaluator.CreateTextBoundingBoxes(); err != nil {
		return nil, err
	}

	viewport, err := a.evaluator.ViewportSize()
	if err != nil {
		return nil, err
	}

	// Element ids ascend in document order; walking them sorted keeps the
	// annotation sequence stable across captures.
	ids := make([]int, 0, len(selectorMap))
	for id := range selectorMap {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	seen := make(map[string]struct{})
	var annotations []types.TextAnnotation

	for _, id := range ids {
		paths := selectorMap[id]
		if len(paths) == 0 {
			continue
		}
		// Only the first candidate path per element is used for geometry.
		boxes, err := a.evaluator.GetElementBoundingBoxes(paths[0])
		if err != nil {
			return nil, err
		}

		for _, box := range boxes {
			key := box.DedupKey()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			annotations = append(annotations, box.Annotation(float64(viewport.Width), float64(viewport.Height)))
		}
	}

	a.logf("collected %d unique annotations", len(annotations))
	return annotations, nil
}

// format renders the annotation sequence as the text block fed to the
// orchestrator: one line per annotation, stable first-occurrence order. When
// a page produced no annotations at all, the cleaned page text stands in so
// extraction still has content to work from.
func (a *Annotator) format(annotations []types.TextAnnotation) (string, error) {
	if len(annotations) == 0 {
		if ft, ok := a.evaluator.(fallbackTexter); ok {
			a.logf("no annotations collected, falling back to cleaned page text")
			text, err := ft.FallbackText(fallbackTextLimit)
			if err != nil {
				return "", fmt.Errorf("annotation fallback failed: %w", err)
			}
			return text, nil
		}
		return "", nil
	}

	var builder strings.Builder
	for _, annotation := range annotations {
		fmt.Fprintf(&builder, "%s [x=%.4f, y=%.4f]\n",
			annotation.Text,
			annotation.MidpointNormalized.X,
			annotation.MidpointNormalized.Y,
		)
	}
	return builder.String(), nil
}

func (a *Annotator) logf(format string, v ...interface{}) {
	if a.logger != nil {
		a.logger.Debugf(format, v...)
	}
}
