package types

import "fmt"

// Point is a 2D position. Depending on context the coordinates are either
// viewport pixels or fractions of the viewport (0–1).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BoundingBox describes a rectangle of rendered text on the page, in
// viewport-relative pixels.
type BoundingBox struct {
	Text   string  `json:"text"`
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// TextAnnotation is one deduplicated piece of visible page text together with
// its position. Midpoint anchors at the bottom-left of the source box:
// (left, top+height). MidpointNormalized divides the same coordinates by the
// viewport dimensions; the x component stays the raw left edge, it is not
// re-centered. Downstream consumers depend on that exact shape.
type TextAnnotation struct {
	Text               string  `json:"text"`
	Midpoint           Point   `json:"midpoint"`
	MidpointNormalized Point   `json:"midpoint_normalized"`
	Width              float64 `json:"width"`
	Height             float64 `json:"height"`
}

// DedupKey returns the composite identity used to collapse duplicate boxes:
// identical text at the identical geometric center with identical dimensions
// yields the same key. Note the key uses the geometric center of the box,
// not the bottom-left midpoint stored on the annotation.
func (b BoundingBox) DedupKey() string {
	return fmt.Sprintf("%s_%.0f_%.0f_%.0f_%.0f",
		b.Text,
		b.Left+b.Width/2,
		b.Top+b.Height/2,
		b.Width,
		b.Height,
	)
}

// Annotation converts the box into a TextAnnotation using the given viewport
// dimensions for normalization.
func (b BoundingBox) Annotation(viewportWidth, viewportHeight float64) TextAnnotation {
	return TextAnnotation{
		Text: b.Text,
		Midpoint: Point{
			X: b.Left,
			Y: b.Top + b.Height,
		},
		MidpointNormalized: Point{
			X: b.Left / viewportWidth,
			Y: (b.Top + b.Height) / viewportHeight,
		},
		Width:  b.Width,
		Height: b.Height,
	}
}

// SelectorMap maps an opaque numeric element id to the ordered candidate
// locator expressions for that element. Only the first candidate per id is
// used for geometry lookup. The map is rebuilt for every extraction and never
// persisted.
type SelectorMap map[int][]string

// Viewport holds the page viewport dimensions in pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}
