package strutils_test

import (
	"testing"

	"github.com/Amund211/lazyimage/internal/domain"
	"github.com/Amund211/lazyimage/internal/strutils"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLoadKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input    string
		expected domain.LoadKey
		invalid  bool
	}{
		{input: "https://example.com/a.png", expected: "https://example.com/a.png"},
		{input: "  https://example.com/a.png\n", expected: "https://example.com/a.png"},
		{input: "HTTPS://Example.COM/Path/A.png", expected: "https://example.com/Path/A.png"},
		{input: "https://example.com/a.png?size=Large", expected: "https://example.com/a.png?size=Large"},
		{input: "img://A", expected: "img://A"},
		{input: "IMG://A", expected: "img://A"},
		{input: "relative/path.png", expected: "relative/path.png"},
		{input: "/static/logo.svg", expected: "/static/logo.svg"},
		{input: "", invalid: true},
		{input: "   ", invalid: true},
	}

	for _, c := range cases {
		t.Run(c.input, func(t *testing.T) {
			t.Parallel()

			normalized, err := strutils.NormalizeLoadKey(c.input)
			if c.invalid {
				require.ErrorIs(t, err, domain.ErrInvalidKey)
				return
			}

			require.NoError(t, err)
			require.Equal(t, c.expected, normalized)

			// Normalizing is idempotent
			again, err := strutils.NormalizeLoadKey(string(normalized))
			require.NoError(t, err)
			require.Equal(t, normalized, again)
		})
	}
}
