// Package preview renders a page layout offscreen and reports how every image ended up.
package preview

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Amund211/lazyimage/internal/app"
	"github.com/Amund211/lazyimage/internal/domain"
	"github.com/Amund211/lazyimage/internal/logging"
	"github.com/Amund211/lazyimage/internal/viewport"
	"golang.org/x/sync/errgroup"
)

type Summary struct {
	ID        string
	Src       string
	Eager     bool
	Triggered bool
	State     domain.LoadState
}

type viewportMover interface {
	SetViewport(viewport viewport.Rect)
}

type mountedImage struct {
	layout  ElementLayout
	element *app.ImageElement
	unmount func()

	settleOnce sync.Once
	settled    chan struct{}
}

func (m *mountedImage) onChange(_ string, state domain.LoadState) {
	if state.Status().IsTerminal() {
		m.settleOnce.Do(func() {
			close(m.settled)
		})
	}
}

// Run mounts every element, scrolls from the top of the page to the bottom and waits until
// every image that was asked to load has settled, or until settleTimeout.
func Run(
	ctx context.Context,
	layout Layout,
	tracker viewportMover,
	mountLazy app.MountImage,
	mountEager app.MountImage,
	settleTimeout time.Duration,
) ([]Summary, error) {
	logger := logging.FromContext(ctx)

	images := make([]*mountedImage, 0, len(layout.Elements))
	defer func() {
		for _, image := range images {
			image.unmount()
		}
	}()

	// Start at the top of the page
	screen := viewport.Rect{X: 0, Y: 0, Width: layout.Viewport.Width, Height: layout.Viewport.Height}
	tracker.SetViewport(screen)

	for _, elementLayout := range layout.Elements {
		image := &mountedImage{
			layout:  elementLayout,
			settled: make(chan struct{}),
		}

		mount := mountLazy
		if elementLayout.Eager {
			mount = mountEager
		}

		element, unmount, err := mount(ctx, elementLayout.ID, elementLayout.Bounds, elementLayout.Src, image.onChange)
		if err != nil {
			return nil, fmt.Errorf("failed to mount %s: %w", elementLayout.ID, err)
		}
		image.element = element
		image.unmount = unmount
		images = append(images, image)
	}

	pageHeight := layout.PageHeight()
	for y := 0.0; y+layout.Viewport.Height < pageHeight+layout.ScrollStep; y += layout.ScrollStep {
		screen.Y = y
		tracker.SetViewport(screen)
		logger.DebugContext(ctx, "Scrolled", slog.Float64("y", y))
	}

	waitCtx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()

	g, waitCtx := errgroup.WithContext(waitCtx)
	for _, image := range images {
		if image.element.Source() == "" {
			continue
		}
		g.Go(func() error {
			select {
			case <-image.settled:
				return nil
			case <-waitCtx.Done():
				return fmt.Errorf("image %s did not settle: %w", image.layout.ID, waitCtx.Err())
			}
		})
	}
	waitErr := g.Wait()

	summaries := make([]Summary, 0, len(images))
	for _, image := range images {
		summaries = append(summaries, Summary{
			ID:        image.layout.ID,
			Src:       image.layout.Src,
			Eager:     image.layout.Eager,
			Triggered: image.element.Source() != "",
			State:     image.element.State(),
		})
	}

	if waitErr != nil {
		return summaries, fmt.Errorf("failed waiting for images: %w", waitErr)
	}
	return summaries, nil
}
