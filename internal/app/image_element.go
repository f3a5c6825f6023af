package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Amund211/lazyimage/internal/domain"
	"github.com/Amund211/lazyimage/internal/logging"
	"github.com/Amund211/lazyimage/internal/viewport"
)

type StateChangeFunc func(id string, state domain.LoadState)

type imageCache interface {
	Subscribe(ctx context.Context, key string, callback func(domain.LoadState)) (func(), error)
}

// A mounted image. Shows a placeholder until its source is set, then follows the cache.
type ImageElement struct {
	id       string
	cache    imageCache
	onChange StateChangeFunc
	// Used for the cache subscription once the source is set
	ctx context.Context

	lock        sync.Mutex
	bounds      viewport.Rect
	state       domain.LoadState
	src         string
	subscribed  bool
	unsubscribe func()
	unmounted   bool
}

func newImageElement(ctx context.Context, id string, bounds viewport.Rect, cache imageCache, onChange StateChangeFunc) *ImageElement {
	return &ImageElement{
		id:       id,
		cache:    cache,
		onChange: onChange,
		ctx:      ctx,
		bounds:   bounds,
		state:    domain.PendingState(),
	}
}

func (e *ImageElement) ID() string {
	return e.id
}

func (e *ImageElement) Bounds() viewport.Rect {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.bounds
}

// SetBounds moves the element. Refresh the tracker afterwards to pick up the change.
func (e *ImageElement) SetBounds(bounds viewport.Rect) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.bounds = bounds
}

func (e *ImageElement) State() domain.LoadState {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.state
}

// Source returns the source the element was asked to show, or "" while it is deferred
func (e *ImageElement) Source() string {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.src
}

// SetSource starts following the cache for src. Once a subscription is made, later calls have no effect.
// A failed subscription shows a failed state and leaves the element free to try again.
func (e *ImageElement) SetSource(src string) {
	e.lock.Lock()
	if e.unmounted || e.subscribed {
		e.lock.Unlock()
		return
	}
	e.subscribed = true
	e.src = src
	e.lock.Unlock()

	unsubscribe, err := e.cache.Subscribe(e.ctx, src, e.setState)
	if err != nil {
		logging.FromContext(e.ctx).WarnContext(
			e.ctx,
			"Could not subscribe to image",
			slog.String("id", e.id),
			slog.String("error", err.Error()),
		)
		e.lock.Lock()
		e.subscribed = false
		e.lock.Unlock()
		e.setState(domain.FailedState(err.Error()))
		return
	}

	e.lock.Lock()
	if e.unmounted {
		e.lock.Unlock()
		unsubscribe()
		return
	}
	e.unsubscribe = unsubscribe
	e.lock.Unlock()
}

func (e *ImageElement) setState(state domain.LoadState) {
	e.lock.Lock()
	if e.unmounted {
		e.lock.Unlock()
		return
	}
	e.state = state
	e.lock.Unlock()

	if e.onChange != nil {
		e.onChange(e.id, state)
	}
}

func (e *ImageElement) unmount() {
	e.lock.Lock()
	e.unmounted = true
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	e.lock.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}
