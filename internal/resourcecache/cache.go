// Package resourcecache deduplicates and caches image loads in memory.
//
// Every key has at most one record. A record is pending while its fetch runs and then ready
// or failed. Any number of subscribers can watch a record, and all of them are notified from
// the goroutine that settles the fetch.
package resourcecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/Amund211/lazyimage/internal/domain"
	"github.com/Amund211/lazyimage/internal/logging"
	"github.com/Amund211/lazyimage/internal/reporting"
	"github.com/Amund211/lazyimage/internal/strutils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const defaultFetchTimeout = 10 * time.Second

type Fetcher interface {
	// Returns the source to render for key.
	//
	// Errors should wrap domain.ErrNetwork, domain.ErrDecode or domain.ErrNotFound.
	Fetch(ctx context.Context, key domain.LoadKey) (string, error)
}

type FetcherFunc func(ctx context.Context, key domain.LoadKey) (string, error)

func (f FetcherFunc) Fetch(ctx context.Context, key domain.LoadKey) (string, error) {
	return f(ctx, key)
}

// Decides how long terminal records without subscribers are kept around.
//
// Methods are called with the cache lock held. The expiry handler must not be
// invoked synchronously from Idle, Forget or Reset. Expiry may arrive late, so it is
// ignored for keys the policy Holds again.
type Retention interface {
	Idle(key string)
	Forget(key string)
	Holds(key string) bool
	Reset()
	OnExpire(fn func(key string))
	Len() int
	Close()
}

type Stats struct {
	Records     int
	Pending     int
	Ready       int
	Failed      int
	Subscribers int
	// Records held by the retention policy
	Idle int

	Fetches uint64
	Dedups  uint64
	Hits    uint64
}

type Cache struct {
	fetcher      Fetcher
	retention    Retention
	fetchTimeout time.Duration
	nowFunc      func() time.Time

	group singleflight.Group

	lock    sync.Mutex
	records map[domain.LoadKey]*record
	fetches uint64
	dedups  uint64
	hits    uint64

	metrics resourceCacheMetricsCollection
	tracer  trace.Tracer
}

type Option func(*Cache)

func WithRetention(retention Retention) Option {
	return func(c *Cache) {
		c.retention = retention
	}
}

// A non-positive timeout lets fetches run until the fetcher gives up
func WithFetchTimeout(timeout time.Duration) Option {
	return func(c *Cache) {
		c.fetchTimeout = timeout
	}
}

func WithNowFunc(nowFunc func() time.Time) Option {
	return func(c *Cache) {
		c.nowFunc = nowFunc
	}
}

type noRetention struct{}

func (noRetention) Idle(string)           {}
func (noRetention) Forget(string)         {}
func (noRetention) Holds(string) bool     { return false }
func (noRetention) Reset()                {}
func (noRetention) OnExpire(func(string)) {}
func (noRetention) Len() int              { return 0 }
func (noRetention) Close()                {}

func New(fetcher Fetcher, opts ...Option) (*Cache, error) {
	const name = "lazyimage/resourcecache"

	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}

	metrics, err := setupResourceCacheMetrics(otel.Meter(name))
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	c := &Cache{
		fetcher:      fetcher,
		retention:    noRetention{},
		fetchTimeout: defaultFetchTimeout,
		nowFunc:      time.Now,

		records: make(map[domain.LoadKey]*record),

		metrics: metrics,
		tracer:  otel.Tracer(name),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.retention.OnExpire(c.expire)

	return c, nil
}

// Subscribe to the load state of key.
//
// The callback receives the current state before Subscribe returns, and every later
// transition. A fresh subscription to a failed key retries the load. The returned function
// removes the subscription and is safe to call more than once. It never cancels a fetch.
//
// Callbacks may subscribe and unsubscribe, but must not block waiting for a load.
func (c *Cache) Subscribe(ctx context.Context, key string, callback func(domain.LoadState)) (func(), error) {
	return c.subscribe(ctx, key, func(state domain.LoadState, _ error) {
		if callback != nil {
			callback(state)
		}
	})
}

func (c *Cache) subscribe(ctx context.Context, rawKey string, callback func(domain.LoadState, error)) (func(), error) {
	key, err := strutils.NormalizeLoadKey(rawKey)
	if err != nil {
		return nil, fmt.Errorf("could not subscribe: %w", err)
	}
	ctx = logging.AddLoadKeyToContext(ctx, key)
	logger := logging.FromContext(ctx)

	sub := &subscriber{callback: callback}

	c.lock.Lock()
	rec, existed := c.records[key]
	if !existed {
		rec = newRecord(key)
		c.records[key] = rec
	} else if rec.isIdle() {
		c.retention.Forget(string(key))
	}

	// Everyone already watching a failed record sees it go back to pending
	var notify []*subscriber
	var event string
	switch {
	case !existed:
		event = "miss"
	case rec.status == domain.StatusFailed:
		rec.restart()
		notify = rec.snapshotSubscribers()
		event = "retry"
	case rec.status == domain.StatusPending:
		c.dedups++
		event = "dedup"
	default:
		c.hits++
		event = "hit"
	}

	rec.subscribers[sub] = struct{}{}
	current := rec.notification()
	c.lock.Unlock()

	switch event {
	case "miss":
		logger.InfoContext(ctx, "Loading image", "cache", event)
	case "retry":
		logger.InfoContext(ctx, "Retrying failed image load", "cache", event)
	case "dedup":
		c.metrics.dedupCount.Add(ctx, 1)
		logger.DebugContext(ctx, "Attaching to in-flight image load", "cache", event)
	case "hit":
		c.metrics.hitCount.Add(ctx, 1)
		logger.DebugContext(ctx, "Loading image", "cache", event)
	}

	for _, s := range notify {
		s.deliver(current)
	}
	sub.deliver(current)

	// Started after the pending notifications so they can not arrive after the settled state
	if event == "miss" || event == "retry" {
		c.startFetch(ctx, rec)
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			sub.close()
			c.unsubscribe(rec, sub)
		})
	}

	return unsubscribe, nil
}

func (c *Cache) unsubscribe(rec *record, sub *subscriber) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if _, ok := rec.subscribers[sub]; !ok {
		return
	}
	delete(rec.subscribers, sub)

	if rec.isIdle() && c.records[rec.key] == rec {
		c.retention.Idle(string(rec.key))
	}
}

// Get blocks until key has loaded and returns the source to render.
//
// Cancelling ctx stops the wait, not the fetch.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	type result struct {
		src string
		err error
	}
	done := make(chan result, 1)

	unsubscribe, err := c.subscribe(ctx, key, func(state domain.LoadState, err error) {
		if !state.Status().IsTerminal() {
			return
		}
		select {
		case done <- result{src: state.Src, err: err}:
		default:
		}
	})
	if err != nil {
		return "", err
	}
	defer unsubscribe()

	select {
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("failed to load image: %w", res.err)
		}
		return res.src, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Peek returns the current state of key without starting or retrying a load
func (c *Cache) Peek(key string) (domain.LoadState, bool) {
	normalized, err := strutils.NormalizeLoadKey(key)
	if err != nil {
		return domain.LoadState{}, false
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	rec, ok := c.records[normalized]
	if !ok {
		return domain.LoadState{}, false
	}
	return rec.notification().state, true
}

// Evict removes a settled record that nobody is subscribed to
func (c *Cache) Evict(key string) bool {
	normalized, err := strutils.NormalizeLoadKey(key)
	if err != nil {
		return false
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	rec, ok := c.records[normalized]
	if !ok || !rec.isIdle() {
		return false
	}

	delete(c.records, normalized)
	c.retention.Forget(string(normalized))
	return true
}

// Clear drops every record.
//
// Fetches in flight still settle and notify their current subscribers, but the result
// is not kept. A new subscription for a key that is still in flight joins that fetch.
func (c *Cache) Clear() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.records = make(map[domain.LoadKey]*record)
	c.retention.Reset()
}

func (c *Cache) Stats() Stats {
	c.lock.Lock()
	defer c.lock.Unlock()

	stats := Stats{
		Records: len(c.records),
		Fetches: c.fetches,
		Dedups:  c.dedups,
		Hits:    c.hits,
		Idle:    c.retention.Len(),
	}
	for _, rec := range c.records {
		switch rec.status {
		case domain.StatusPending:
			stats.Pending++
		case domain.StatusReady:
			stats.Ready++
		case domain.StatusFailed:
			stats.Failed++
		}
		stats.Subscribers += len(rec.subscribers)
	}
	return stats
}

func (c *Cache) Close() {
	c.retention.Close()
}

func (c *Cache) expire(key string) {
	c.lock.Lock()
	defer c.lock.Unlock()

	rec, ok := c.records[domain.LoadKey(key)]
	if !ok || !rec.isIdle() {
		return
	}
	// Idled again after this expiry was scheduled
	if c.retention.Holds(key) {
		return
	}
	delete(c.records, rec.key)
}

func (c *Cache) startFetch(ctx context.Context, rec *record) {
	c.lock.Lock()
	c.fetches++
	rec.attempts++
	attempt := rec.attempts
	inFlight := c.group.DoChan(string(rec.key), c.fetchFunc(ctx, rec.key, attempt))
	rec.inFlight = inFlight
	c.lock.Unlock()

	logging.FromContext(ctx).DebugContext(ctx, "Started image fetch", slog.Int("attempt", attempt))
	go c.awaitFetch(ctx, rec, inFlight, c.nowFunc())
}

func (c *Cache) fetchFunc(ctx context.Context, key domain.LoadKey, attempt int) func() (any, error) {
	return func() (result any, err error) {
		// The fetch outlives the subscriber that started it
		fetchCtx := context.WithoutCancel(ctx)
		if c.fetchTimeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, c.fetchTimeout)
			defer cancel()
		}

		fetchCtx = reporting.SetStartedAtInContext(fetchCtx, c.nowFunc())
		fetchCtx = reporting.AddTagsToContext(fetchCtx, map[string]string{"loadKey": string(key)})
		fetchCtx = reporting.AddExtrasToContext(fetchCtx, map[string]string{"attempt": strconv.Itoa(attempt)})

		fetchCtx, span := c.tracer.Start(fetchCtx, "ResourceCache.fetch", trace.WithAttributes(
			attribute.String("load_key", string(key)),
		))
		defer span.End()

		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic while fetching image: %v", r)
				reporting.Report(fetchCtx, err)
			}
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
		}()

		src, err := c.fetcher.Fetch(fetchCtx, key)
		if err != nil {
			return "", err
		}
		if src == "" {
			return "", fmt.Errorf("%w: fetcher returned an empty source", domain.ErrDecode)
		}
		return src, nil
	}
}

func (c *Cache) awaitFetch(ctx context.Context, rec *record, inFlight <-chan singleflight.Result, startedAt time.Time) {
	result := <-inFlight

	src, _ := result.Val.(string)

	c.lock.Lock()
	rec.settle(src, result.Err)
	settled := rec.notification()
	outcome := rec.status.String()
	subscribers := rec.snapshotSubscribers()
	if rec.isIdle() && c.records[rec.key] == rec {
		c.retention.Idle(string(rec.key))
	}
	c.lock.Unlock()

	category := domain.CategorizeError(result.Err)
	c.metrics.fetchCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("error_category", string(category)),
		attribute.Bool("shared", result.Shared),
	))
	c.metrics.fetchDuration.Record(ctx, c.nowFunc().Sub(startedAt).Seconds(), metric.WithAttributes(
		attribute.String("outcome", outcome),
	))

	logger := logging.FromContext(ctx)
	if result.Err != nil {
		// NOTE: Fetcher implementations handle their own error reporting
		logger.WarnContext(
			ctx,
			"Image load failed",
			slog.String("error", result.Err.Error()),
			slog.String("errorCategory", string(category)),
			slog.Int("subscribers", len(subscribers)),
		)
	} else {
		logger.InfoContext(
			ctx,
			"Image load settled",
			slog.Int("subscribers", len(subscribers)),
			slog.Bool("shared", result.Shared),
		)
	}

	for _, s := range subscribers {
		s.deliver(settled)
	}
}
