package strutils

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Amund211/lazyimage/internal/domain"
)

// Trims whitespace, lowercases the scheme, and lowercases the host of http(s) keys
//
// Keys that do not parse as a URL with a scheme are kept verbatim after trimming.
func NormalizeLoadKey(key string) (domain.LoadKey, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty key", domain.ErrInvalidKey)
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Opaque != "" {
		return domain.LoadKey(trimmed), nil
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	if parsed.Scheme == "http" || parsed.Scheme == "https" {
		parsed.Host = strings.ToLower(parsed.Host)
	}

	return domain.LoadKey(parsed.String()), nil
}
