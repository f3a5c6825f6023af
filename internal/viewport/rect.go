package viewport

import "math"

// Axis aligned box in page coordinates. Y grows downwards.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Right() float64 {
	return r.X + r.Width
}

func (r Rect) Bottom() float64 {
	return r.Y + r.Height
}

func (r Rect) IsEmpty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Intersects reports whether r and other overlap or touch.
//
// Touching edges count, so a zero sized placeholder sitting on the boundary is visible.
func (r Rect) Intersects(other Rect) bool {
	return r.X <= other.Right() && other.X <= r.Right() &&
		r.Y <= other.Bottom() && other.Y <= r.Bottom()
}

// Grow returns r extended by dx on the left and right and dy on the top and bottom
func (r Rect) Grow(dx, dy float64) Rect {
	return Rect{
		X:      r.X - dx,
		Y:      r.Y - dy,
		Width:  r.Width + 2*dx,
		Height: r.Height + 2*dy,
	}
}

// How far outside the viewport an element may be while still being treated as visible.
//
// For each axis the larger of Pixels and Fraction times the viewport's extent on that axis is used.
type Margin struct {
	Pixels   float64
	Fraction float64
}

var DefaultMargin = Margin{Pixels: 50, Fraction: 0.1}

// Region returns the viewport grown by the margin
func (m Margin) Region(viewport Rect) Rect {
	dx := math.Max(m.Pixels, m.Fraction*viewport.Width)
	dy := math.Max(m.Pixels, m.Fraction*viewport.Height)
	return viewport.Grow(math.Max(dx, 0), math.Max(dy, 0))
}
