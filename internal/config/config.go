package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

var ErrMissingRequiredValue = errors.New("missing required value")
var ErrInvalidValue = errors.New("invalid value")

type environment string

const (
	production  environment = "production"
	staging     environment = "staging"
	development environment = "development"
)

const (
	defaultProximityMarginPixels   = 50.0
	defaultProximityMarginFraction = 0.1
	defaultIdleCapacity            = 256
	defaultIdleTTL                 = 10 * time.Minute
	defaultFetchTimeout            = 10 * time.Second
	defaultHostRefillPerSecond     = 8
	defaultHostBurst               = 32
	defaultMaxImageBytes           = 10 * 1024 * 1024
)

type Config struct {
	sentryDSN string
	env       environment

	proximityMarginPixels   float64
	proximityMarginFraction float64

	idleCapacity       uint64
	idleTTL            time.Duration
	unboundedRetention bool

	fetchTimeout        time.Duration
	hostRefillPerSecond int
	hostBurst           int
	maxImageBytes       int64

	otelEnabled bool
}

func (c *Config) SentryDSN() string {
	return c.sentryDSN
}

func (c *Config) ProximityMarginPixels() float64 {
	return c.proximityMarginPixels
}

func (c *Config) ProximityMarginFraction() float64 {
	return c.proximityMarginFraction
}

func (c *Config) IdleCapacity() uint64 {
	return c.idleCapacity
}

func (c *Config) IdleTTL() time.Duration {
	return c.idleTTL
}

// Keep every settled image for the lifetime of the process
func (c *Config) UnboundedRetention() bool {
	return c.unboundedRetention
}

func (c *Config) FetchTimeout() time.Duration {
	return c.fetchTimeout
}

func (c *Config) HostRefillPerSecond() int {
	return c.hostRefillPerSecond
}

func (c *Config) HostBurst() int {
	return c.hostBurst
}

func (c *Config) MaxImageBytes() int64 {
	return c.maxImageBytes
}

func (c *Config) OTelEnabled() bool {
	return c.otelEnabled
}

func (c *Config) IsProduction() bool {
	return c.env == production
}

func (c *Config) IsStaging() bool {
	return c.env == staging
}

func (c *Config) IsDevelopment() bool {
	return c.env == development
}

// Return a string representation suitable for logging etc
func (c *Config) NonSensitiveString() string {
	return fmt.Sprintf(
		"Config{env: %s, proximityMargin: %gpx/%g, idle: %d/%s unbounded %t, fetchTimeout: %s, host: %d/s burst %d, maxImageBytes: %d, otel: %t, ...}",
		string(c.env),
		c.proximityMarginPixels,
		c.proximityMarginFraction,
		c.idleCapacity,
		c.idleTTL,
		c.unboundedRetention,
		c.fetchTimeout,
		c.hostRefillPerSecond,
		c.hostBurst,
		c.maxImageBytes,
		c.otelEnabled,
	)
}

func invalidValue(key, raw string) error {
	return fmt.Errorf("%w: %s (%s)", ErrInvalidValue, key, raw)
}

func lookupFloat(key string, fallback float64) (float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value < 0 {
		return 0, invalidValue(key, raw)
	}
	return value, nil
}

func lookupInt(key string, fallback int64) (int64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		return 0, invalidValue(key, raw)
	}
	return value, nil
}

func lookupDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return 0, invalidValue(key, raw)
	}
	return value, nil
}

func lookupBool(key string, fallback bool) (bool, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, invalidValue(key, raw)
	}
	return value, nil
}

func ConfigFromEnv() (Config, error) {
	missingKey := func(key string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s", ErrMissingRequiredValue, key)
	}

	var env environment
	rawEnv, ok := os.LookupEnv("LAZYIMAGE_ENVIRONMENT")
	if !ok {
		return missingKey("LAZYIMAGE_ENVIRONMENT")
	}
	switch rawEnv {
	case "production":
		env = production
	case "staging":
		env = staging
	case "development":
		env = development
	default:
		return Config{}, fmt.Errorf("%w: LAZYIMAGE_ENVIRONMENT (%s)", ErrInvalidValue, rawEnv)
	}
	if string(env) == "" {
		panic("logic error: env is empty")
	}

	sentryDSN := os.Getenv("SENTRY_DSN")
	if env == production || env == staging {
		if sentryDSN == "" {
			return missingKey("SENTRY_DSN")
		}
	}

	proximityMarginPixels, err := lookupFloat("PROXIMITY_MARGIN_PX", defaultProximityMarginPixels)
	if err != nil {
		return Config{}, err
	}
	proximityMarginFraction, err := lookupFloat("PROXIMITY_MARGIN_FRACTION", defaultProximityMarginFraction)
	if err != nil {
		return Config{}, err
	}

	idleCapacity, err := lookupInt("IDLE_CAPACITY", defaultIdleCapacity)
	if err != nil {
		return Config{}, err
	}
	idleTTL, err := lookupDuration("IDLE_TTL", defaultIdleTTL)
	if err != nil {
		return Config{}, err
	}

	unboundedRetention, err := lookupBool("UNBOUNDED_RETENTION", false)
	if err != nil {
		return Config{}, err
	}

	fetchTimeout, err := lookupDuration("FETCH_TIMEOUT", defaultFetchTimeout)
	if err != nil {
		return Config{}, err
	}
	hostRefillPerSecond, err := lookupInt("HOST_REFILL_PER_SECOND", defaultHostRefillPerSecond)
	if err != nil {
		return Config{}, err
	}
	hostBurst, err := lookupInt("HOST_BURST", defaultHostBurst)
	if err != nil {
		return Config{}, err
	}
	maxImageBytes, err := lookupInt("MAX_IMAGE_BYTES", defaultMaxImageBytes)
	if err != nil {
		return Config{}, err
	}

	otelEnabled, err := lookupBool("OTEL_ENABLED", false)
	if err != nil {
		return Config{}, err
	}

	return Config{
		sentryDSN: sentryDSN,
		env:       env,

		proximityMarginPixels:   proximityMarginPixels,
		proximityMarginFraction: proximityMarginFraction,

		idleCapacity:       uint64(idleCapacity),
		idleTTL:            idleTTL,
		unboundedRetention: unboundedRetention,

		fetchTimeout:        fetchTimeout,
		hostRefillPerSecond: int(hostRefillPerSecond),
		hostBurst:           int(hostBurst),
		maxImageBytes:       maxImageBytes,

		otelEnabled: otelEnabled,
	}, nil
}
