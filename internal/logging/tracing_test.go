package logging_test

import (
	"log/slog"
	"testing"

	"github.com/Amund211/lazyimage/internal/logging"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceLogHandler(t *testing.T) {
	t.Parallel()

	t.Run("adds ids when a span is active", func(t *testing.T) {
		t.Parallel()

		w := newWriter(t)
		logger := slog.New(logging.NewTraceLogHandler(slog.NewJSONHandler(w, nil)))

		traceID, err := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
		require.NoError(t, err)
		spanID, err := trace.SpanIDFromHex("0102030405060708")
		require.NoError(t, err)

		ctx := trace.ContextWithSpanContext(t.Context(), trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     spanID,
			TraceFlags: trace.FlagsSampled,
		}))

		logger.With(slog.String("component", "cache")).InfoContext(ctx, "test")

		entry, ok := w.PopWithoutTime()
		require.True(t, ok)
		require.Equal(t, map[string]any{
			"level":     "INFO",
			"msg":       "test",
			"component": "cache",
			"trace_id":  "0102030405060708090a0b0c0d0e0f10",
			"span_id":   "0102030405060708",
		}, entry)
	})

	t.Run("no span", func(t *testing.T) {
		t.Parallel()

		w := newWriter(t)
		logger := slog.New(logging.NewTraceLogHandler(slog.NewJSONHandler(w, nil)))
		logger.InfoContext(t.Context(), "test")

		entry, ok := w.PopWithoutTime()
		require.True(t, ok)
		require.Equal(t, map[string]any{
			"level": "INFO",
			"msg":   "test",
		}, entry)
	})
}
