package reporting

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Amund211/lazyimage/internal/config"
	"github.com/stretchr/testify/require"
)

func TestSanitizeError(t *testing.T) {
	t.Parallel()

	t.Run("connection reset by peer", func(t *testing.T) {
		t.Parallel()

		err := `network error: failed to send request: Get "https://cdn.example.com/avatars/deadbeef8315465d9d44cfc238c64f71.png": read tcp [dead:beef:feb1:d745::c001]:64079->[dead:beef::6811:112a]:443: read: connection reset by peer`
		want := `network error: failed to send request: Get "https://cdn.example.com/avatars/<uuid>.png": read tcp <host>-><host>: read: connection reset by peer`
		require.Equal(t, want, sanitizeError(err))
	})
	t.Run("signed url", func(t *testing.T) {
		t.Parallel()

		err := `network error: failed to send request: Get "https://cdn.example.com/a.png?sig=abc123&exp=1700000000": context deadline exceeded (Client.Timeout exceeded while awaiting headers)`
		want := `network error: failed to send request: Get "https://cdn.example.com/a.png?<query>": context deadline exceeded (Client.Timeout exceeded while awaiting headers)`
		require.Equal(t, want, sanitizeError(err))
	})
	t.Run("blob source", func(t *testing.T) {
		t.Parallel()

		err := `decode error: blob:https://app.example.com/0f1e2d3c is not an image`
		want := `decode error: blob:<id> is not an image`
		require.Equal(t, want, sanitizeError(err))
	})
	t.Run("misc ipv6", func(t *testing.T) {
		t.Parallel()

		ips := []string{
			`1:2:3:4:5:6:7:8`,
			`1::`,
			`1:2:3:4:5:6:7::`,
			`1::8`,
			`1:2:3:4:5:6::8`,
			`1:2:3:4:5:6::8`,
			`1::7:8`,
			`1:2:3:4:5::7:8`,
			`1:2:3:4:5::8`,
			`1::6:7:8`,
			`1:2:3:4::6:7:8`,
			`1:2:3:4::8`,
			`1::5:6:7:8`,
			`1:2:3::5:6:7:8`,
			`1:2:3::8`,
			`1::4:5:6:7:8`,
			`1:2::4:5:6:7:8`,
			`1:2::8`,
			`1::3:4:5:6:7:8`,
			`1::3:4:5:6:7:8`,
			`1::8`,
			`::2:3:4:5:6:7:8`,
			`::8`,
			`::`,
		}
		for _, ip := range ips {
			t.Run(ip, func(t *testing.T) {
				t.Parallel()

				require.Equal(t, "<host>", sanitizeError(fmt.Sprintf("[%s]:1234", ip)))
			})
		}
	})
}

func TestReportWithoutHub(t *testing.T) {
	t.Parallel()

	// Don't crash when there is no hub in the context
	Report(t.Context(), errors.New("some error"), map[string]string{"key": "value"})
	Report(t.Context(), nil)
}

func TestNewSentryOrMock(t *testing.T) {
	t.Setenv("LAZYIMAGE_ENVIRONMENT", "development")
	t.Setenv("SENTRY_DSN", "")

	conf, err := config.ConfigFromEnv()
	require.NoError(t, err)

	ctx, flush, err := NewSentryOrMock(t.Context(), conf)
	require.NoError(t, err)
	require.NotNil(t, ctx)
	flush()
}

func TestMetaFromContext(t *testing.T) {
	t.Parallel()

	ctx := AddTagsToContext(t.Context(), map[string]string{"component": "resourcecache"})
	ctx = AddExtrasToContext(ctx, map[string]string{"loadKey": "img://A"})

	meta := MetaFromContext(ctx)
	require.Equal(t, map[string]string{"component": "resourcecache"}, meta.tags)
	require.Equal(t, map[string]string{"loadKey": "img://A"}, meta.extras)

	// The returned maps are copies
	meta.tags["component"] = "changed"
	require.Equal(t, "resourcecache", MetaFromContext(ctx).tags["component"])
}
