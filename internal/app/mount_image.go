package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Amund211/lazyimage/internal/logging"
	"github.com/Amund211/lazyimage/internal/strutils"
	"github.com/Amund211/lazyimage/internal/viewport"
)

// Mounts an image and returns it along with a function that unmounts it.
//
// Unmounting is idempotent. It never cancels a fetch that other images may share.
type MountImage func(ctx context.Context, id string, bounds viewport.Rect, src string, onChange StateChangeFunc) (*ImageElement, func(), error)

type imageScheduler interface {
	Observe(ctx context.Context, element viewport.Element, targetSrc string) error
	Unobserve(element viewport.Element)
}

// BuildMountLazyImage defers loading until the scheduler reports the image close to the viewport
func BuildMountLazyImage(scheduler imageScheduler, cache imageCache) MountImage {
	return func(ctx context.Context, id string, bounds viewport.Rect, src string, onChange StateChangeFunc) (*ImageElement, func(), error) {
		key, err := strutils.NormalizeLoadKey(src)
		if err != nil {
			return nil, nil, fmt.Errorf("could not mount image %s: %w", id, err)
		}
		ctx = logging.AddMetaToContext(ctx, slog.String("imageID", id))

		element := newImageElement(ctx, id, bounds, cache, onChange)
		if err := scheduler.Observe(ctx, element, string(key)); err != nil {
			return nil, nil, fmt.Errorf("could not defer image %s: %w", id, err)
		}

		var once sync.Once
		unmount := func() {
			once.Do(func() {
				scheduler.Unobserve(element)
				element.unmount()
			})
		}

		return element, unmount, nil
	}
}

// BuildMountEagerImage loads through the cache right away
func BuildMountEagerImage(cache imageCache) MountImage {
	return func(ctx context.Context, id string, bounds viewport.Rect, src string, onChange StateChangeFunc) (*ImageElement, func(), error) {
		key, err := strutils.NormalizeLoadKey(src)
		if err != nil {
			return nil, nil, fmt.Errorf("could not mount image %s: %w", id, err)
		}
		ctx = logging.AddMetaToContext(ctx, slog.String("imageID", id))

		element := newImageElement(ctx, id, bounds, cache, onChange)
		element.SetSource(string(key))

		var once sync.Once
		unmount := func() {
			once.Do(element.unmount)
		}

		return element, unmount, nil
	}
}
