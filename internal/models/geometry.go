package models

import "math"

// Point is a 2D coordinate in document space.
type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// IsFinite reports whether both coordinates are finite numbers.
func (p Point) IsFinite() bool {
	return !math.IsNaN(float64(p.X)) && !math.IsInf(float64(p.X), 0) &&
		!math.IsNaN(float64(p.Y)) && !math.IsInf(float64(p.Y), 0)
}

// Rect is an axis-aligned rectangle in document space.
// Top is the smaller Y coordinate for top-left-origin pages.
type Rect struct {
	Left   float32 `json:"left"`
	Top    float32 `json:"top"`
	Right  float32 `json:"right"`
	Bottom float32 `json:"bottom"`
}

// Width returns Right-Left.
func (r Rect) Width() float32 { return r.Right - r.Left }

// Height returns Bottom-Top.
func (r Rect) Height() float32 { return r.Bottom - r.Top }

// IsEmpty reports whether the rectangle has no area.
func (r Rect) IsEmpty() bool { return r.Right <= r.Left || r.Bottom <= r.Top }

// CenterX returns the horizontal center.
func (r Rect) CenterX() float32 { return (r.Left + r.Right) / 2 }

// CenterY returns the vertical center.
func (r Rect) CenterY() float32 { return (r.Top + r.Bottom) / 2 }

// Union returns the smallest rectangle containing both r and o.
func (r Rect) Union(o Rect) Rect {
	return Rect{
		Left:   minf(r.Left, o.Left),
		Top:    minf(r.Top, o.Top),
		Right:  maxf(r.Right, o.Right),
		Bottom: maxf(r.Bottom, o.Bottom),
	}
}

// UnionPoint grows r to contain p.
func (r Rect) UnionPoint(p Point) Rect {
	return Rect{
		Left:   minf(r.Left, p.X),
		Top:    minf(r.Top, p.Y),
		Right:  maxf(r.Right, p.X),
		Bottom: maxf(r.Bottom, p.Y),
	}
}

// Intersect returns the overlap of r and o and whether they intersect at all.
func (r Rect) Intersect(o Rect) (Rect, bool) {
	out := Rect{
		Left:   maxf(r.Left, o.Left),
		Top:    maxf(r.Top, o.Top),
		Right:  minf(r.Right, o.Right),
		Bottom: minf(r.Bottom, o.Bottom),
	}
	if out.IsEmpty() {
		return Rect{}, false
	}
	return out, true
}

// BoundsFromQuads returns the bounding rectangle of the given quad points,
// skipping nil entries, or false when fewer than one full quad is present.
func BoundsFromQuads(quads []*Point) (Rect, bool) {
	if len(quads) < 4 {
		return Rect{}, false
	}
	var out Rect
	set := false
	for _, p := range quads {
		if p == nil {
			continue
		}
		if !set {
			out = Rect{Left: p.X, Top: p.Y, Right: p.X, Bottom: p.Y}
			set = true
			continue
		}
		out = out.UnionPoint(*p)
	}
	if !set {
		return Rect{}, false
	}
	return out, true
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
