package extract

import (
	"fmt"
	"sync"

	"github.com/entrhq/harvest/pkg/browser"
)

// debugScope holds the in-page debug instrumentation for the duration of a
// capture. Release is idempotent, so every exit path (success, validation
// failure, extraction error) can release unconditionally and teardown still
// happens exactly once.
type debugScope struct {
	evaluator browser.PageEvaluator
	once      sync.Once
	err       error
}

// acquireDebugScope enables the instrumentation and returns the scope that
// owns its teardown.
func acquireDebugScope(evaluator browser.PageEvaluator) (*debugScope, error) {
	if err := evaluator.SetDebugMode(true); err != nil {
		return nil, fmt.Errorf("failed to enable debug instrumentation: %w", err)
	}
	return &debugScope{evaluator: evaluator}, nil
}

// Release tears the instrumentation down. Only the first call has effect.
func (d *debugScope) Release() error {
	d.once.Do(func() {
		d.err = d.evaluator.SetDebugMode(false)
	})
	return d.err
}
