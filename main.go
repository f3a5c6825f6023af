package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/Amund211/lazyimage/internal/adapters/cache"
	"github.com/Amund211/lazyimage/internal/adapters/imagefetcher"
	"github.com/Amund211/lazyimage/internal/app"
	"github.com/Amund211/lazyimage/internal/config"
	"github.com/Amund211/lazyimage/internal/logging"
	"github.com/Amund211/lazyimage/internal/preview"
	"github.com/Amund211/lazyimage/internal/ratelimiting"
	"github.com/Amund211/lazyimage/internal/reporting"
	"github.com/Amund211/lazyimage/internal/resourcecache"
	"github.com/Amund211/lazyimage/internal/telemetry"
	"github.com/Amund211/lazyimage/internal/viewport"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	_ "golang.org/x/crypto/x509roots/fallback"
)

const serviceName = "lazyimage"

func main() {
	exitCode := 0
	// Registered first so every other deferred cleanup runs before exiting
	defer func() {
		os.Exit(exitCode)
	}()

	instanceID := uuid.New().String()
	logger := slog.New(logging.NewTraceLogHandler(slog.NewJSONHandler(os.Stdout, nil))).With("instanceID", instanceID)
	ctx := logging.AddToContext(context.Background(), logger)

	fail := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		fail("No layout file provided", "usage", fmt.Sprintf("%s <layout.json>", os.Args[0]))
	}

	config, err := config.ConfigFromEnv()
	if err != nil {
		fail("Failed to load config", "error", err.Error())
	}
	logger.Info("Loaded config", "config", config.NonSensitiveString())

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fail("Failed to read layout", "error", err.Error())
	}
	layout, err := preview.ParseLayout(data)
	if err != nil {
		fail("Failed to parse layout", "error", err.Error())
	}

	if config.OTelEnabled() {
		shutdown, err := telemetry.SetupOTelSDK(ctx, serviceName)
		if err != nil {
			fail("Failed to set up OpenTelemetry", "error", err.Error())
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error("Failed to shut down OpenTelemetry", "error", err.Error())
			}
		}()
		logger.Info("Initialized OpenTelemetry")
	}

	ctx, flush, err := reporting.NewSentryOrMock(ctx, config)
	if err != nil {
		fail("Failed to initialize Sentry", "error", err.Error())
	}
	defer flush()
	logger.Info("Initialized Sentry")

	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   config.FetchTimeout(),
	}

	hostLimiter, stopLimiter := ratelimiting.NewTokenBucketRateLimiter(
		ratelimiting.RefillPerSecond(config.HostRefillPerSecond()),
		ratelimiting.BurstSize(config.HostBurst()),
	)
	defer stopLimiter()

	fetcher, err := imagefetcher.NewHTTPFetcher(
		httpClient,
		ratelimiting.NewURLBasedRateLimiter(hostLimiter, ratelimiting.HostKeyFunc),
		config.MaxImageBytes(),
		time.Now,
	)
	if err != nil {
		fail("Failed to initialize image fetcher", "error", err.Error())
	}

	var retention resourcecache.Retention
	if config.UnboundedRetention() {
		retention = cache.NewBasicRetention()
	} else {
		retention = cache.NewTTLRetention(config.IdleTTL(), config.IdleCapacity())
	}

	imageCache, err := resourcecache.New(
		fetcher,
		resourcecache.WithRetention(retention),
		resourcecache.WithFetchTimeout(config.FetchTimeout()),
	)
	if err != nil {
		fail("Failed to initialize image cache", "error", err.Error())
	}
	defer imageCache.Close()

	tracker := viewport.NewGeometryTracker(
		viewport.Rect{Width: layout.Viewport.Width, Height: layout.Viewport.Height},
		viewport.Margin{
			Pixels:   config.ProximityMarginPixels(),
			Fraction: config.ProximityMarginFraction(),
		},
	)
	scheduler, err := viewport.NewScheduler(ctx, tracker.Factory())
	if err != nil {
		fail("Failed to initialize viewport scheduler", "error", err.Error())
	}
	defer scheduler.Disconnect(ctx)

	mountLazyImage := app.BuildMountLazyImage(scheduler, imageCache)
	mountEagerImage := app.BuildMountEagerImage(imageCache)

	logger.Info("Init complete", "elements", len(layout.Elements))

	// Every fetch has its own timeout, leave room for the rate limiter
	settleTimeout := 3 * config.FetchTimeout()
	summaries, runErr := preview.Run(ctx, layout, tracker, mountLazyImage, mountEagerImage, settleTimeout)
	for _, summary := range summaries {
		logger.Info(
			"Image summary",
			"id", summary.ID,
			"src", summary.Src,
			"eager", summary.Eager,
			"triggered", summary.Triggered,
			"status", summary.State.Status().String(),
			"resolvedSrc", summary.State.Src,
			"message", summary.State.Message,
		)
	}

	stats := imageCache.Stats()
	logger.Info(
		"Cache summary",
		"records", stats.Records,
		"ready", stats.Ready,
		"failed", stats.Failed,
		"pending", stats.Pending,
		"fetches", stats.Fetches,
		"dedups", stats.Dedups,
		"hits", stats.Hits,
		"idle", stats.Idle,
	)

	if runErr != nil {
		logger.Error("Preview did not complete", "error", runErr.Error())
		exitCode = 1
	}
}
