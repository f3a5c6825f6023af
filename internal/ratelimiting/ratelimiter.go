package ratelimiting

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

type RateLimiter interface {
	Wait(ctx context.Context, key string) error
}

type tokenBucketRateLimiter struct {
	limiterByKey    *ttlcache.Cache[string, *rate.Limiter]
	refillPerSecond int
	burstSize       int
}

func (rateLimiter *tokenBucketRateLimiter) limiterFor(key string) *rate.Limiter {
	limiter, _ := rateLimiter.limiterByKey.GetOrSet(key, rate.NewLimiter(rate.Limit(rateLimiter.refillPerSecond), rateLimiter.burstSize))
	return limiter.Value()
}

// Block until a token for key is available, the context is done, or the wait would outlast the deadline
func (rateLimiter *tokenBucketRateLimiter) Wait(ctx context.Context, key string) error {
	return rateLimiter.limiterFor(key).Wait(ctx)
}

type RefillPerSecond int
type BurstSize int

func NewTokenBucketRateLimiter(refillPerSecond RefillPerSecond, burstSize BurstSize) (RateLimiter, func()) {
	limiterTTLCache := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](30 * time.Minute),
	)
	go limiterTTLCache.Start()

	return &tokenBucketRateLimiter{
		limiterByKey:    limiterTTLCache,
		refillPerSecond: int(refillPerSecond),
		burstSize:       int(burstSize),
	}, limiterTTLCache.Stop
}

type URLRateLimiter interface {
	Wait(ctx context.Context, u *url.URL) error
}

type urlBasedRateLimiter struct {
	limiter RateLimiter
	keyFunc func(u *url.URL) string
}

func (rateLimiter *urlBasedRateLimiter) Wait(ctx context.Context, u *url.URL) error {
	err := rateLimiter.limiter.Wait(ctx, rateLimiter.keyFunc(u))
	if err != nil {
		return fmt.Errorf("failed to wait for rate limiter: %w", err)
	}
	return nil
}

func NewURLBasedRateLimiter(limiter RateLimiter, keyFunc func(u *url.URL) string) URLRateLimiter {
	return &urlBasedRateLimiter{
		limiter: limiter,
		keyFunc: keyFunc,
	}
}

// Images from the same origin share a bucket, regardless of port
func HostKeyFunc(u *url.URL) string {
	return fmt.Sprintf("host: %.100s", strings.ToLower(u.Hostname()))
}
