package viewport

import (
	"errors"
	"fmt"
	"sync"
)

var ErrTrackingUnavailable = errors.New("viewport tracking unavailable")

// A placeholder that is waiting for its image.
//
// Implementations key the scheduler's entries, so they must be comparable. Use pointer types.
type Element interface {
	Bounds() Rect
	SetSource(src string)
}

type IntersectionFunc func(element Element)

// Watches elements and reports the ones that enter the tracked region.
//
// A tracked element may be reported more than once until it is untracked.
type Tracker interface {
	Track(element Element)
	Untrack(element Element)
	Close()
}

type TrackerFactory func(onIntersect IntersectionFunc) (Tracker, error)

type eagerTracker struct {
	onIntersect IntersectionFunc
}

// NewEagerTracker reports every element as soon as it is tracked, on the calling goroutine
func NewEagerTracker(onIntersect IntersectionFunc) Tracker {
	return &eagerTracker{onIntersect: onIntersect}
}

func (t *eagerTracker) Track(element Element) {
	t.onIntersect(element)
}

func (t *eagerTracker) Untrack(Element) {}

func (t *eagerTracker) Close() {}

// Tracks elements against a viewport that is moved with SetViewport.
//
// Intersections are recomputed when an element is tracked, when the viewport moves and on Refresh.
// They are reported in tracking order and without the tracker's lock held.
type GeometryTracker struct {
	lock        sync.Mutex
	viewport    Rect
	margin      Margin
	onIntersect IntersectionFunc

	elements []Element
	tracked  map[Element]struct{}
	closed   bool
}

func NewGeometryTracker(viewport Rect, margin Margin) *GeometryTracker {
	return &GeometryTracker{
		viewport: viewport,
		margin:   margin,
		tracked:  make(map[Element]struct{}),
	}
}

// Factory binds the tracker to a single intersection callback
func (t *GeometryTracker) Factory() TrackerFactory {
	return func(onIntersect IntersectionFunc) (Tracker, error) {
		t.lock.Lock()
		defer t.lock.Unlock()

		switch {
		case t.closed:
			return nil, fmt.Errorf("%w: tracker is closed", ErrTrackingUnavailable)
		case t.onIntersect != nil:
			return nil, fmt.Errorf("%w: tracker is already bound", ErrTrackingUnavailable)
		case t.viewport.IsEmpty():
			return nil, fmt.Errorf("%w: viewport has no area", ErrTrackingUnavailable)
		}

		t.onIntersect = onIntersect
		return t, nil
	}
}

func (t *GeometryTracker) Track(element Element) {
	t.lock.Lock()
	if t.closed {
		t.lock.Unlock()
		return
	}
	if _, ok := t.tracked[element]; ok {
		t.lock.Unlock()
		return
	}
	t.tracked[element] = struct{}{}
	t.elements = append(t.elements, element)
	region := t.margin.Region(t.viewport)
	t.lock.Unlock()

	if region.Intersects(element.Bounds()) {
		t.deliver(element)
	}
}

func (t *GeometryTracker) Untrack(element Element) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if _, ok := t.tracked[element]; !ok {
		return
	}
	delete(t.tracked, element)
	for i, tracked := range t.elements {
		if tracked == element {
			t.elements = append(t.elements[:i], t.elements[i+1:]...)
			break
		}
	}
}

func (t *GeometryTracker) Close() {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.closed = true
	t.elements = nil
	clear(t.tracked)
}

func (t *GeometryTracker) Viewport() Rect {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.viewport
}

// SetViewport moves or resizes the viewport and reports the elements that are now in range
func (t *GeometryTracker) SetViewport(viewport Rect) {
	t.lock.Lock()
	t.viewport = viewport
	t.lock.Unlock()

	t.Refresh()
}

// Refresh reports the elements in range. Call it when element bounds change.
func (t *GeometryTracker) Refresh() {
	t.lock.Lock()
	if t.closed || t.viewport.IsEmpty() {
		t.lock.Unlock()
		return
	}
	region := t.margin.Region(t.viewport)
	elements := append([]Element{}, t.elements...)
	t.lock.Unlock()

	for _, element := range elements {
		if region.Intersects(element.Bounds()) {
			t.deliver(element)
		}
	}
}

// Report element unless it stopped being tracked in the meantime
func (t *GeometryTracker) deliver(element Element) {
	t.lock.Lock()
	_, stillTracked := t.tracked[element]
	onIntersect := t.onIntersect
	t.lock.Unlock()

	if !stillTracked || onIntersect == nil {
		return
	}
	onIntersect(element)
}
