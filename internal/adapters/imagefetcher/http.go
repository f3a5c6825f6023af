package imagefetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Amund211/lazyimage/internal/constants"
	"github.com/Amund211/lazyimage/internal/domain"
	"github.com/Amund211/lazyimage/internal/logging"
	"github.com/Amund211/lazyimage/internal/ratelimiting"
	"github.com/Amund211/lazyimage/internal/reporting"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Loads http(s) images and resolves them to the URL they were served from
type HTTPFetcher struct {
	httpClient HttpClient
	limiter    ratelimiting.URLRateLimiter
	maxBytes   int64
	nowFunc    func() time.Time

	metrics imageFetcherMetricsCollection
}

func NewHTTPFetcher(httpClient HttpClient, limiter ratelimiting.URLRateLimiter, maxBytes int64, nowFunc func() time.Time) (*HTTPFetcher, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("max bytes must be positive, got %d", maxBytes)
	}

	metrics, err := setupImageFetcherMetrics(otel.Meter("lazyimage/adapters/imagefetcher"))
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	return &HTTPFetcher{
		httpClient: httpClient,
		limiter:    limiter,
		maxBytes:   maxBytes,
		nowFunc:    nowFunc,
		metrics:    metrics,
	}, nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, key domain.LoadKey) (string, error) {
	logger := logging.FromContext(ctx)

	u, err := url.Parse(string(key))
	if err != nil {
		err := fmt.Errorf("%w: could not parse url: %w", domain.ErrNotFound, err)
		f.recordRequest(ctx, 0, err)
		logger.InfoContext(ctx, "Not fetching image", slog.String("error", err.Error()))
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		err := fmt.Errorf("%w: unsupported scheme %q", domain.ErrNotFound, u.Scheme)
		f.recordRequest(ctx, 0, err)
		logger.InfoContext(ctx, "Not fetching image", slog.String("error", err.Error()))
		return "", err
	}

	if err := f.limiter.Wait(ctx, u); err != nil {
		err := fmt.Errorf("%w: %w", domain.ErrNetwork, err)
		f.recordRequest(ctx, 0, err)
		logger.WarnContext(ctx, "Gave up waiting for rate limit", slog.String("error", err.Error()))
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		err := fmt.Errorf("failed to create request: %w", err)
		f.recordRequest(ctx, 0, err)
		reporting.Report(ctx, err)
		return "", err
	}

	req.Header.Set("User-Agent", constants.USER_AGENT)
	req.Header.Set("Accept", "image/png,image/jpeg,image/gif,image/*;q=0.8")

	start := f.nowFunc()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		err := fmt.Errorf("%w: failed to send request: %w", domain.ErrNetwork, err)
		f.recordRequest(ctx, 0, err)
		logger.WarnContext(ctx, "Image request failed", slog.String("error", err.Error()))
		return "", err
	}

	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		err := fmt.Errorf("%w: failed to read response body: %w", domain.ErrNetwork, err)
		f.recordRequest(ctx, resp.StatusCode, err)
		logger.WarnContext(ctx, "Image request failed", slog.String("error", err.Error()))
		return "", err
	}

	logger.InfoContext(
		ctx,
		"Image request completed",
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(data)),
		slog.String("duration", f.nowFunc().Sub(start).String()),
	)

	finalURL := u
	if resp.Request != nil && resp.Request.URL != nil {
		// Follows redirects
		finalURL = resp.Request.URL
	}

	err = validateImageResponse(resp.StatusCode, data, f.maxBytes)
	f.recordRequest(ctx, resp.StatusCode, err)
	if err != nil {
		if errors.Is(err, domain.ErrDecode) {
			reporting.Report(ctx, err, map[string]string{
				"status":      strconv.Itoa(resp.StatusCode),
				"contentType": resp.Header.Get("Content-Type"),
				"bytes":       strconv.Itoa(len(data)),
			})
		} else {
			logger.WarnContext(ctx, "Image request was not successful", slog.String("error", err.Error()))
		}
		return "", err
	}

	return finalURL.String(), nil
}

func validateImageResponse(statusCode int, data []byte, maxBytes int64) error {
	switch statusCode {
	case http.StatusNotFound,
		http.StatusGone:
		return fmt.Errorf("%w: server returned status code %d", domain.ErrNotFound, statusCode)
	}

	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("%w: server returned status code %d", domain.ErrNetwork, statusCode)
	}

	if int64(len(data)) > maxBytes {
		return fmt.Errorf("%w: image is larger than %d bytes", domain.ErrDecode, maxBytes)
	}

	config, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: could not read image header: %w", domain.ErrDecode, err)
	}
	if config.Width <= 0 || config.Height <= 0 {
		return fmt.Errorf("%w: %s image has no pixels", domain.ErrDecode, format)
	}

	return nil
}

func (f *HTTPFetcher) recordRequest(ctx context.Context, statusCode int, err error) {
	f.metrics.requestCount.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("status_code", statusCode),
		attribute.String("error_category", string(domain.CategorizeError(err))),
	))
}
