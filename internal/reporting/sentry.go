package reporting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/Amund211/lazyimage/internal/config"
	"github.com/Amund211/lazyimage/internal/logging"
	"github.com/getsentry/sentry-go"
)

var blobRx = regexp.MustCompile(`blob:[^\s"]+`)
var queryRx = regexp.MustCompile(`\?[^\s"]*`)
var uuidRx = regexp.MustCompile(`[0-9a-f]{8}-?([0-9a-f]{4}-?){3}[0-9a-f]{12}`)
var hostRx = regexp.MustCompile(`\[:{0,2}([0-9a-f]{0,4}:?){1,8}\]:\d+`)

// Signed CDN urls put a new token in the query string of every request
func sanitizeError(err string) string {
	err = blobRx.ReplaceAllString(err, "blob:<id>")
	err = queryRx.ReplaceAllString(err, "?<query>")
	err = uuidRx.ReplaceAllString(err, "<uuid>")
	err = hostRx.ReplaceAllString(err, "<host>")
	return err
}

func Report(ctx context.Context, err error, extras ...map[string]string) {
	hub := sentry.GetHubFromContext(ctx)
	logger := logging.FromContext(ctx)
	if hub == nil {
		logger.WarnContext(ctx, "Failed to get Sentry hub from context", "error", err, "extras", extras)
		return
	}

	if err == nil {
		err = errors.New("No error provided")
	}

	logger.ErrorContext(
		ctx,
		"Reporting error to Sentry",
		slog.String("error", err.Error()),
		slog.Any("extras", extras),
	)

	hub.WithScope(func(scope *sentry.Scope) {
		meta := MetaFromContext(ctx)
		scope.SetTags(meta.tags)
		for key, value := range meta.extras {
			scope.SetExtra(key, value)
		}
		if !meta.startedAt.IsZero() {
			scope.SetExtra("secondsSinceStart", time.Since(meta.startedAt).Seconds())
		}

		for _, extra := range extras {
			if extra == nil {
				continue
			}
			for key, value := range extra {
				scope.SetExtra(key, value)
			}
		}

		scope.SetFingerprint([]string{"{{ default }}", sanitizeError(err.Error())})
		hub.CaptureException(err)
	})
}

// Initialize the global Sentry client and return a context carrying a hub for it
func InitSentry(ctx context.Context, sentryDSN string) (context.Context, func(), error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              sentryDSN,
		EnableTracing:    true,
		TracesSampleRate: 1.0 / 100.0,
	})
	if err != nil {
		return nil, nil, err
	}

	ctx = sentry.SetHubOnContext(ctx, sentry.CurrentHub().Clone())

	flush := func() {
		sentry.Flush(5 * time.Second)
	}

	return ctx, flush, nil
}

func NewSentryOrMock(ctx context.Context, config config.Config) (context.Context, func(), error) {
	if config.SentryDSN() != "" {
		return InitSentry(ctx, config.SentryDSN())
	}

	if config.IsDevelopment() {
		flush := func() {}
		return ctx, flush, nil
	}

	return nil, nil, fmt.Errorf("Missing Sentry DSN in non-development environment")
}
