package preview

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Amund211/lazyimage/internal/viewport"
)

var ErrInvalidLayout = errors.New("invalid layout")

// Smallest scroll step in pixels
const minScrollStep = 1.0

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type ElementLayout struct {
	ID     string        `json:"id"`
	Src    string        `json:"src"`
	Bounds viewport.Rect `json:"bounds"`
	// Skip the viewport and load right away
	Eager bool `json:"eager"`
}

type Layout struct {
	Viewport   Size            `json:"viewport"`
	ScrollStep float64         `json:"scroll_step"`
	Elements   []ElementLayout `json:"elements"`
}

// PageHeight is the bottom of the lowest element, or the viewport height if that is larger
func (l Layout) PageHeight() float64 {
	height := l.Viewport.Height
	for _, element := range l.Elements {
		height = max(height, element.Bounds.Bottom())
	}
	return height
}

func ParseLayout(data []byte) (Layout, error) {
	var layout Layout
	if err := json.Unmarshal(data, &layout); err != nil {
		return Layout{}, fmt.Errorf("%w: failed to parse layout: %w", ErrInvalidLayout, err)
	}

	if layout.Viewport.Width <= 0 || layout.Viewport.Height <= 0 {
		return Layout{}, fmt.Errorf("%w: viewport must have a positive size", ErrInvalidLayout)
	}

	if layout.ScrollStep == 0 {
		layout.ScrollStep = max(layout.Viewport.Height/2, minScrollStep)
	}
	if layout.ScrollStep < minScrollStep {
		return Layout{}, fmt.Errorf("%w: scroll step must be at least %vpx", ErrInvalidLayout, minScrollStep)
	}

	seen := make(map[string]struct{}, len(layout.Elements))
	for i, element := range layout.Elements {
		if element.ID == "" {
			return Layout{}, fmt.Errorf("%w: element #%d has no id", ErrInvalidLayout, i)
		}
		if _, ok := seen[element.ID]; ok {
			return Layout{}, fmt.Errorf("%w: duplicate element id %q", ErrInvalidLayout, element.ID)
		}
		seen[element.ID] = struct{}{}

		if element.Bounds.Width < 0 || element.Bounds.Height < 0 {
			return Layout{}, fmt.Errorf("%w: element %q has negative size", ErrInvalidLayout, element.ID)
		}
	}

	return layout, nil
}
