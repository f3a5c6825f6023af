package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Amund211/lazyimage/internal/app"
	"github.com/Amund211/lazyimage/internal/domain"
	"github.com/Amund211/lazyimage/internal/resourcecache"
	"github.com/Amund211/lazyimage/internal/viewport"
	"github.com/stretchr/testify/require"
)

type countingFetcher struct {
	lock  sync.Mutex
	calls map[domain.LoadKey]int
	fail  map[domain.LoadKey]int
}

func newCountingFetcher() *countingFetcher {
	return &countingFetcher{
		calls: make(map[domain.LoadKey]int),
		fail:  make(map[domain.LoadKey]int),
	}
}

// The first n fetches of key fail with a network error
func (f *countingFetcher) failFirst(key domain.LoadKey, n int) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.fail[key] = n
}

func (f *countingFetcher) Fetch(ctx context.Context, key domain.LoadKey) (string, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.calls[key]++
	if f.calls[key] <= f.fail[key] {
		return "", fmt.Errorf("%w: connection refused", domain.ErrNetwork)
	}
	return fmt.Sprintf("blob:%s-resolved", key), nil
}

func (f *countingFetcher) callsFor(key domain.LoadKey) int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.calls[key]
}

type stateLog struct {
	lock   sync.Mutex
	states map[string][]domain.LoadState
}

func newStateLog() *stateLog {
	return &stateLog{states: make(map[string][]domain.LoadState)}
}

func (l *stateLog) record(id string, state domain.LoadState) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.states[id] = append(l.states[id], state)
}

func (l *stateLog) count(id string) int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.states[id])
}

var screen = viewport.Rect{X: 0, Y: 0, Width: 400, Height: 800}

func at(y float64) viewport.Rect {
	return viewport.Rect{X: 0, Y: y, Width: 400, Height: 300}
}

func setup(t *testing.T, fetcher resourcecache.Fetcher) (*viewport.Scheduler, *viewport.GeometryTracker, *resourcecache.Cache) {
	t.Helper()

	c, err := resourcecache.New(fetcher)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	tracker := viewport.NewGeometryTracker(screen, viewport.DefaultMargin)
	scheduler, err := viewport.NewScheduler(t.Context(), tracker.Factory())
	require.NoError(t, err)
	t.Cleanup(func() {
		scheduler.Disconnect(context.Background())
	})

	return scheduler, tracker, c
}

func eventuallyState(t *testing.T, element *app.ImageElement, expected domain.LoadState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return element.State() == expected
	}, 2*time.Second, 2*time.Millisecond, "expected %v, got %v", expected, element.State())
}

func TestMountLazyImage(t *testing.T) {
	t.Parallel()

	t.Run("defers until close to the viewport", func(t *testing.T) {
		t.Parallel()

		fetcher := newCountingFetcher()
		scheduler, tracker, c := setup(t, fetcher)
		mount := app.BuildMountLazyImage(scheduler, c)

		element, _, err := mount(t.Context(), "hero", at(5000), "img://B", nil)
		require.NoError(t, err)
		require.Equal(t, "hero", element.ID())

		require.Equal(t, domain.LoadState{Loading: true}, element.State())
		require.Empty(t, element.Source())
		require.Equal(t, 0, fetcher.callsFor("img://B"))

		tracker.SetViewport(viewport.Rect{X: 0, Y: 4500, Width: 400, Height: 800})
		eventuallyState(t, element, domain.ReadyState("blob:img://B-resolved"))
		require.Equal(t, "img://B", element.Source())
		require.Equal(t, 1, fetcher.callsFor("img://B"))

		tracker.SetViewport(viewport.Rect{X: 0, Y: 5000, Width: 400, Height: 800})
		require.Equal(t, 1, fetcher.callsFor("img://B"))
	})

	t.Run("visible images share one fetch", func(t *testing.T) {
		t.Parallel()

		fetcher := newCountingFetcher()
		scheduler, _, c := setup(t, fetcher)
		mount := app.BuildMountLazyImage(scheduler, c)

		elements := make([]*app.ImageElement, 3)
		for i := range elements {
			element, _, err := mount(t.Context(), fmt.Sprintf("card-%d", i), at(float64(i)*100), "img://A", nil)
			require.NoError(t, err)
			elements[i] = element
		}

		for _, element := range elements {
			eventuallyState(t, element, domain.LoadState{Src: "blob:img://A-resolved", Loading: false, Error: false})
		}
		require.Equal(t, 1, fetcher.callsFor("img://A"))
	})

	t.Run("layout changes", func(t *testing.T) {
		t.Parallel()

		fetcher := newCountingFetcher()
		scheduler, tracker, c := setup(t, fetcher)
		mount := app.BuildMountLazyImage(scheduler, c)

		element, _, err := mount(t.Context(), "moved", at(3000), "img://moved", nil)
		require.NoError(t, err)

		element.SetBounds(at(200))
		tracker.Refresh()
		eventuallyState(t, element, domain.ReadyState("blob:img://moved-resolved"))
	})

	t.Run("unmount before trigger", func(t *testing.T) {
		t.Parallel()

		fetcher := newCountingFetcher()
		scheduler, tracker, c := setup(t, fetcher)
		mount := app.BuildMountLazyImage(scheduler, c)

		element, unmount, err := mount(t.Context(), "gone", at(5000), "img://gone", nil)
		require.NoError(t, err)
		require.Equal(t, 1, scheduler.Pending())

		unmount()
		unmount()
		require.Equal(t, 0, scheduler.Pending())

		tracker.SetViewport(viewport.Rect{X: 0, Y: 5000, Width: 400, Height: 800})
		require.Equal(t, 0, fetcher.callsFor("img://gone"))
		require.Equal(t, domain.PendingState(), element.State())
	})

	t.Run("unmount after load", func(t *testing.T) {
		t.Parallel()

		fetcher := newCountingFetcher()
		scheduler, _, c := setup(t, fetcher)
		mount := app.BuildMountLazyImage(scheduler, c)
		changes := newStateLog()

		element, unmount, err := mount(t.Context(), "done", at(0), "img://done", changes.record)
		require.NoError(t, err)
		eventuallyState(t, element, domain.ReadyState("blob:img://done-resolved"))
		require.Equal(t, 1, c.Stats().Subscribers)

		unmount()
		unmount()
		require.Equal(t, 0, c.Stats().Subscribers)
		require.Equal(t, 2, changes.count("done"))
	})

	t.Run("invalid source", func(t *testing.T) {
		t.Parallel()

		scheduler, _, c := setup(t, newCountingFetcher())
		mount := app.BuildMountLazyImage(scheduler, c)

		_, _, err := mount(t.Context(), "empty", at(0), " ", nil)
		require.ErrorIs(t, err, domain.ErrInvalidKey)
		require.Equal(t, 0, scheduler.Pending())
	})

	t.Run("disconnected scheduler", func(t *testing.T) {
		t.Parallel()

		scheduler, _, c := setup(t, newCountingFetcher())
		mount := app.BuildMountLazyImage(scheduler, c)
		scheduler.Disconnect(t.Context())

		_, _, err := mount(t.Context(), "late", at(0), "img://late", nil)
		require.ErrorIs(t, err, viewport.ErrDisconnected)
	})
}

func TestMountEagerImage(t *testing.T) {
	t.Parallel()

	t.Run("loads right away", func(t *testing.T) {
		t.Parallel()

		fetcher := newCountingFetcher()
		_, _, c := setup(t, fetcher)
		mount := app.BuildMountEagerImage(c)

		element, unmount, err := mount(t.Context(), "offscreen", at(5000), "img://eager", nil)
		require.NoError(t, err)
		defer unmount()

		eventuallyState(t, element, domain.ReadyState("blob:img://eager-resolved"))
		require.Equal(t, 1, fetcher.callsFor("img://eager"))
	})

	t.Run("lazy and eager images share the cache", func(t *testing.T) {
		t.Parallel()

		fetcher := newCountingFetcher()
		scheduler, _, c := setup(t, fetcher)
		mountLazy := app.BuildMountLazyImage(scheduler, c)
		mountEager := app.BuildMountEagerImage(c)

		eager, _, err := mountEager(t.Context(), "eager", at(5000), "img://shared", nil)
		require.NoError(t, err)
		eventuallyState(t, eager, domain.ReadyState("blob:img://shared-resolved"))

		lazy, _, err := mountLazy(t.Context(), "lazy", at(0), "img://shared", nil)
		require.NoError(t, err)
		require.Equal(t, domain.ReadyState("blob:img://shared-resolved"), lazy.State())

		require.Equal(t, 1, fetcher.callsFor("img://shared"))
	})

	t.Run("failed images retry when mounted again", func(t *testing.T) {
		t.Parallel()

		fetcher := newCountingFetcher()
		fetcher.failFirst("img://C", 1)
		_, _, c := setup(t, fetcher)
		mount := app.BuildMountEagerImage(c)

		first, _, err := mount(t.Context(), "first", at(0), "img://C", nil)
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			return first.State().Error
		}, 2*time.Second, 2*time.Millisecond)
		require.Contains(t, first.State().Message, "network error")

		second, _, err := mount(t.Context(), "second", at(0), "img://C", nil)
		require.NoError(t, err)

		eventuallyState(t, second, domain.ReadyState("blob:img://C-resolved"))
		eventuallyState(t, first, domain.ReadyState("blob:img://C-resolved"))
		require.Equal(t, 2, fetcher.callsFor("img://C"))
	})

	t.Run("state changes are reported", func(t *testing.T) {
		t.Parallel()

		var ready atomic.Bool
		fetcher := newCountingFetcher()
		_, _, c := setup(t, fetcher)
		mount := app.BuildMountEagerImage(c)

		changes := newStateLog()
		element, _, err := mount(t.Context(), "reported", at(0), "img://reported", func(id string, state domain.LoadState) {
			changes.record(id, state)
			if state.Status() == domain.StatusReady {
				ready.Store(true)
			}
		})
		require.NoError(t, err)

		require.Eventually(t, ready.Load, 2*time.Second, 2*time.Millisecond)
		require.Equal(t, domain.ReadyState("blob:img://reported-resolved"), element.State())
		require.Equal(t, 2, changes.count("reported"))
	})
}

type flakyCache struct {
	failures atomic.Int64
}

func (c *flakyCache) Subscribe(ctx context.Context, key string, callback func(domain.LoadState)) (func(), error) {
	if c.failures.Add(-1) >= 0 {
		return nil, errors.New("cache unavailable")
	}
	callback(domain.ReadyState(fmt.Sprintf("blob:%s", key)))
	return func() {}, nil
}

func TestImageElementSubscribeFailure(t *testing.T) {
	t.Parallel()

	c := &flakyCache{}
	c.failures.Store(1)
	mountEager := app.BuildMountEagerImage(c)

	element, unmount, err := mountEager(t.Context(), "avatar", viewport.Rect{Width: 10, Height: 10}, "img://avatar", nil)
	require.NoError(t, err)
	defer unmount()
	require.Equal(t, domain.FailedState("cache unavailable"), element.State())

	// The element can try again
	element.SetSource("img://avatar")
	require.Equal(t, domain.ReadyState("blob:img://avatar"), element.State())

	// Once subscribed, later sources are ignored
	element.SetSource("img://other")
	require.Equal(t, "img://avatar", element.Source())
	require.Equal(t, domain.ReadyState("blob:img://avatar"), element.State())
}
