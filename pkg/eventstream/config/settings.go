package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// EnvPrefix is prepended to the upper-cased key of every setting to form
// its environment variable, e.g. redis_url -> WATCHTOWER_REDIS_URL.
const EnvPrefix = "WATCHTOWER_"

// Setting keys, as used in config files.
const (
	KeyRedisURL            = "redis_url"
	KeyRedisPoolSize       = "redis_pool_size"
	KeyRedisSocketTimeout  = "redis_socket_timeout"
	KeyRedisConnectTimeout = "redis_connect_timeout"
	KeyStreamPrefix        = "stream_prefix"
	KeyConsumerGroup       = "consumer_group"
	KeyConsumerName        = "consumer_name"
	KeyBatchSize           = "batch_size"
	KeyBlock               = "block"
	KeyMaxLen              = "max_len"
	KeyErrorBackoff        = "error_backoff"
	KeyPendingCount        = "pending_count"
	KeyClaimMinIdle        = "claim_min_idle"
	KeyDeadLetterPath      = "dead_letter_path"
	KeyNATSURL             = "nats_url"
	KeyNATSSubjectPrefix   = "nats_subject_prefix"
	KeyLogLevel            = "log_level"
	KeyLogFormat           = "log_format"
	KeyEventTypes          = "event_types"
	KeyOTelEnabled         = "otel_enabled"
)

// Keys lists every setting key.
var Keys = []string{
	KeyRedisURL, KeyRedisPoolSize, KeyRedisSocketTimeout, KeyRedisConnectTimeout,
	KeyStreamPrefix, KeyConsumerGroup, KeyConsumerName,
	KeyBatchSize, KeyBlock, KeyMaxLen, KeyErrorBackoff, KeyPendingCount, KeyClaimMinIdle,
	KeyDeadLetterPath, KeyNATSURL, KeyNATSSubjectPrefix, KeyLogLevel, KeyLogFormat,
	KeyEventTypes, KeyOTelEnabled,
}

// Settings configures the broker connection and event runtime.
type Settings struct {
	RedisURL            string        // Default: redis://localhost:6379/0
	RedisPoolSize       int           // Default: 10
	RedisSocketTimeout  time.Duration // Default: 5s
	RedisConnectTimeout time.Duration // Default: 5s

	StreamPrefix  string // Default: watch_tower:events
	ConsumerGroup string // Default: watch_tower_consumers
	ConsumerName  string // Empty means <hostname>-<random>

	BatchSize    int64         // Default: 100
	Block        time.Duration // Default: 1s
	MaxLen       int64         // Default: 10000
	ErrorBackoff time.Duration // Default: 5s
	PendingCount int64         // Default: 100
	ClaimMinIdle time.Duration // Default: 60s

	DeadLetterPath string // SQLite path; empty keeps letters in memory

	NATSURL           string // Empty disables the NATS bridge
	NATSSubjectPrefix string // Default: watchtower.events

	LogLevel  string // debug, info, warn, error. Default: info
	LogFormat string // text or json. Default: text

	EventTypes  []string // Types consumed by default; empty means all
	OTelEnabled bool     // Export OpenTelemetry metrics and spans
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		RedisURL:            "redis://localhost:6379/0",
		RedisPoolSize:       10,
		RedisSocketTimeout:  5 * time.Second,
		RedisConnectTimeout: 5 * time.Second,
		StreamPrefix:        "watch_tower:events",
		ConsumerGroup:       "watch_tower_consumers",
		BatchSize:           100,
		Block:               time.Second,
		MaxLen:              10000,
		ErrorBackoff:        5 * time.Second,
		PendingCount:        100,
		ClaimMinIdle:        60 * time.Second,
		NATSSubjectPrefix:   "watchtower.events",
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// FromConfig reads Settings from cfg, using defaults for missing keys.
func FromConfig(cfg Config) Settings {
	d := DefaultSettings()
	return Settings{
		RedisURL:            cfg.String(KeyRedisURL, d.RedisURL),
		RedisPoolSize:       cfg.Int(KeyRedisPoolSize, d.RedisPoolSize),
		RedisSocketTimeout:  cfg.Duration(KeyRedisSocketTimeout, d.RedisSocketTimeout),
		RedisConnectTimeout: cfg.Duration(KeyRedisConnectTimeout, d.RedisConnectTimeout),
		StreamPrefix:        cfg.String(KeyStreamPrefix, d.StreamPrefix),
		ConsumerGroup:       cfg.String(KeyConsumerGroup, d.ConsumerGroup),
		ConsumerName:        cfg.String(KeyConsumerName, d.ConsumerName),
		BatchSize:           cfg.Int64(KeyBatchSize, d.BatchSize),
		Block:               cfg.Duration(KeyBlock, d.Block),
		MaxLen:              cfg.Int64(KeyMaxLen, d.MaxLen),
		ErrorBackoff:        cfg.Duration(KeyErrorBackoff, d.ErrorBackoff),
		PendingCount:        cfg.Int64(KeyPendingCount, d.PendingCount),
		ClaimMinIdle:        cfg.Duration(KeyClaimMinIdle, d.ClaimMinIdle),
		DeadLetterPath:      cfg.String(KeyDeadLetterPath, d.DeadLetterPath),
		NATSURL:             cfg.String(KeyNATSURL, d.NATSURL),
		NATSSubjectPrefix:   cfg.String(KeyNATSSubjectPrefix, d.NATSSubjectPrefix),
		LogLevel:            cfg.String(KeyLogLevel, d.LogLevel),
		LogFormat:           cfg.String(KeyLogFormat, d.LogFormat),
		EventTypes:          cfg.StringSlice(KeyEventTypes, d.EventTypes),
		OTelEnabled:         cfg.Bool(KeyOTelEnabled, d.OTelEnabled),
	}
}

// EnvOverrides returns the WATCHTOWER_* variables that are set, keyed by
// setting key.
func EnvOverrides() map[string]any {
	overrides := make(map[string]any)
	for _, key := range Keys {
		if v := os.Getenv(EnvName(key)); v != "" {
			overrides[key] = v
		}
	}
	return overrides
}

// EnvName returns the environment variable for a setting key.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(key)
}

// Load builds Settings from defaults, the optional file at path and the
// environment, then validates them.
func Load(path string) (Settings, error) {
	cfg := New(nil)
	if path != "" {
		fileCfg, err := FromFile(path)
		if err != nil {
			return Settings{}, err
		}
		cfg = fileCfg
	}

	s := FromConfig(cfg.With(EnvOverrides()))
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate reports every invalid setting.
func (s Settings) Validate() error {
	var errs []error
	if s.RedisURL == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyRedisURL))
	}
	if s.StreamPrefix == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyStreamPrefix))
	}
	if s.ConsumerGroup == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyConsumerGroup))
	}
	if s.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %d", KeyBatchSize, s.BatchSize))
	}
	if s.Block < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative, got %s", KeyBlock, s.Block))
	}
	if s.MaxLen < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative, got %d", KeyMaxLen, s.MaxLen))
	}
	if s.PendingCount <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %d", KeyPendingCount, s.PendingCount))
	}
	switch strings.ToLower(s.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("%s must be text or json, got %q", KeyLogFormat, s.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid settings: %w", errors.Join(errs...))
	}
	return nil
}
