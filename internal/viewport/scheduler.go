// Package viewport defers image loads until their placeholder comes close to the viewport.
//
// One Scheduler is shared by every consumer. It owns the only Tracker, registers elements with it,
// and hands each element its source the first time the tracker reports it.
package viewport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Amund211/lazyimage/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var ErrDisconnected = errors.New("scheduler is disconnected")
var ErrInvalidElement = errors.New("invalid element")

type watchEntry struct {
	// Carries the registering consumer's logger and reporting meta to the trigger
	ctx       context.Context
	element   Element
	targetSrc string
	triggered bool
}

type Scheduler struct {
	tracker Tracker
	eager   bool

	lock         sync.Mutex
	entries      map[Element]*watchEntry
	disconnected bool

	metrics schedulerMetricsCollection
}

// NewScheduler builds the scheduler and its tracker.
//
// When factory is nil or reports that tracking is unavailable, every element is triggered as
// soon as it is observed.
func NewScheduler(ctx context.Context, factory TrackerFactory) (*Scheduler, error) {
	const name = "lazyimage/viewport"

	metrics, err := setupSchedulerMetrics(otel.Meter(name))
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	s := &Scheduler{
		entries: make(map[Element]*watchEntry),
		metrics: metrics,
	}

	logger := logging.FromContext(ctx)
	if factory == nil {
		logger.WarnContext(ctx, "No viewport tracker available, loading every image eagerly")
		s.tracker = NewEagerTracker(s.handleIntersection)
		s.eager = true
		return s, nil
	}

	tracker, err := factory(s.handleIntersection)
	if err != nil {
		if !errors.Is(err, ErrTrackingUnavailable) {
			return nil, fmt.Errorf("failed to create viewport tracker: %w", err)
		}
		logger.WarnContext(
			ctx,
			"Viewport tracking unavailable, loading every image eagerly",
			slog.String("error", err.Error()),
		)
		s.tracker = NewEagerTracker(s.handleIntersection)
		s.eager = true
		return s, nil
	}

	s.tracker = tracker
	return s, nil
}

func (s *Scheduler) IsEager() bool {
	return s.eager
}

// Observe defers setting element's source to targetSrc until the element is near the viewport.
//
// Observing an element that is already waiting does nothing. With the eager fallback the source
// is set before Observe returns.
func (s *Scheduler) Observe(ctx context.Context, element Element, targetSrc string) error {
	if element == nil {
		return fmt.Errorf("%w: element is nil", ErrInvalidElement)
	}

	entry := &watchEntry{
		ctx:       ctx,
		element:   element,
		targetSrc: targetSrc,
	}

	s.lock.Lock()
	if s.disconnected {
		s.lock.Unlock()
		return ErrDisconnected
	}
	if _, ok := s.entries[element]; ok {
		s.lock.Unlock()
		return nil
	}
	s.entries[element] = entry
	s.lock.Unlock()

	s.metrics.observedCount.Add(ctx, 1, metric.WithAttributes(attribute.Bool("eager", s.eager)))

	// The tracker may report the element right away, which re-enters the scheduler
	s.tracker.Track(element)

	// An Unobserve that raced with Track may have untracked the element before it was tracked
	s.lock.Lock()
	_, registered := s.entries[element]
	stale := !registered && !entry.triggered
	s.lock.Unlock()
	if stale {
		s.tracker.Untrack(element)
	}

	return nil
}

// Unobserve stops waiting for element. It is safe to call after the element was triggered.
func (s *Scheduler) Unobserve(element Element) {
	if element == nil {
		return
	}

	s.lock.Lock()
	_, ok := s.entries[element]
	delete(s.entries, element)
	s.lock.Unlock()

	if ok {
		s.tracker.Untrack(element)
	}
}

// Disconnect stops all tracking and releases the tracker. Calling it again does nothing.
func (s *Scheduler) Disconnect(ctx context.Context) {
	s.lock.Lock()
	if s.disconnected {
		s.lock.Unlock()
		return
	}
	s.disconnected = true
	entries := s.entries
	s.entries = make(map[Element]*watchEntry)
	s.lock.Unlock()

	for element := range entries {
		s.tracker.Untrack(element)
	}
	s.tracker.Close()

	logging.FromContext(ctx).InfoContext(
		ctx,
		"Disconnected viewport scheduler",
		slog.Int("abandonedEntries", len(entries)),
	)
}

// Pending returns how many elements are still waiting to be triggered
func (s *Scheduler) Pending() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.entries)
}

func (s *Scheduler) handleIntersection(element Element) {
	s.lock.Lock()
	entry, ok := s.entries[element]
	if ok && !entry.triggered {
		entry.triggered = true
		delete(s.entries, element)
	} else {
		ok = false
	}
	s.lock.Unlock()

	// Also cleans up elements whose entry is already gone
	s.tracker.Untrack(element)

	if !ok {
		return
	}
	s.trigger(entry)
}

func (s *Scheduler) trigger(entry *watchEntry) {
	ctx := entry.ctx
	s.metrics.triggerCount.Add(ctx, 1, metric.WithAttributes(attribute.Bool("eager", s.eager)))
	logging.FromContext(ctx).DebugContext(
		ctx,
		"Triggering deferred image load",
		slog.String("targetSrc", entry.targetSrc),
		slog.Bool("eager", s.eager),
	)

	entry.element.SetSource(entry.targetSrc)
}
