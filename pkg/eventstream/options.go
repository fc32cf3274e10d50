package eventstream

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/watchtower/pkg/eventstream/config"
	"github.com/randalmurphal/watchtower/pkg/eventstream/deadletter"
	"github.com/randalmurphal/watchtower/pkg/eventstream/observability"
	"github.com/randalmurphal/watchtower/pkg/eventstream/stream"
)

// options holds configuration shared by Publisher, ConsumerGroup and Consumer.
type options struct {
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	prefix string
	maxLen int64

	consumerName string
	groupStart   string
	batchSize    int64
	block        time.Duration
	errorBackoff time.Duration
	pendingCount int64
	deadLetters  deadletter.Store
}

// defaultOptions mirrors config.DefaultSettings.
func defaultOptions() options {
	d := config.DefaultSettings()
	return options{
		metrics:      observability.NoopMetrics{},
		spans:        observability.NoopSpanManager{},
		prefix:       d.StreamPrefix,
		maxLen:       d.MaxLen,
		groupStart:   stream.StartNew,
		batchSize:    d.BatchSize,
		block:        d.Block,
		errorBackoff: d.ErrorBackoff,
		pendingCount: d.PendingCount,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures a Publisher, ConsumerGroup or Consumer.
type Option func(*options)

// WithSettings applies the stream, batching and backoff values of s, as
// returned by config.Load. Zero values keep the defaults, except MaxLen
// where zero disables trimming.
func WithSettings(s config.Settings) Option {
	return func(o *options) {
		if s.StreamPrefix != "" {
			o.prefix = s.StreamPrefix
		}
		if s.MaxLen >= 0 {
			o.maxLen = s.MaxLen
		}
		if s.ConsumerName != "" {
			o.consumerName = s.ConsumerName
		}
		if s.BatchSize > 0 {
			o.batchSize = s.BatchSize
		}
		if s.Block > 0 {
			o.block = s.Block
		}
		if s.ErrorBackoff > 0 {
			o.errorBackoff = s.ErrorBackoff
		}
		if s.PendingCount > 0 {
			o.pendingCount = s.PendingCount
		}
	}
}

// WithLogger sets the structured logger. Nil disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics enables metrics collection.
// Default: observability.NoopMetrics{}
//
// Example:
//
//	pub := eventstream.NewPublisher(store, eventstream.WithMetrics(observability.NewMetricsRecorder()))
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracing enables tracing spans for publish and delivery.
// Default: observability.NoopSpanManager{}
func WithTracing(sm observability.SpanManager) Option {
	return func(o *options) {
		if sm != nil {
			o.spans = sm
		}
	}
}

// WithStreamPrefix sets the stream name prefix.
// Default: "watch_tower:events"
func WithStreamPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithMaxLen sets the approximate length streams are trimmed to on publish.
// Default: 10000. Zero disables trimming.
func WithMaxLen(n int64) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxLen = n
		}
	}
}

// WithConsumerName sets the consumer identity.
// Default: DefaultConsumerName()
func WithConsumerName(name string) Option {
	return func(o *options) {
		o.consumerName = name
	}
}

// WithGroupStart sets where groups created by Consume begin reading.
// Default: stream.StartNew
func WithGroupStart(start string) Option {
	return func(o *options) {
		if start != "" {
			o.groupStart = start
		}
	}
}

// WithBatchSize sets the default maximum messages per read per stream.
// Default: 100
func WithBatchSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithBlock sets the default time a read waits for new messages.
// Default: 1s
func WithBlock(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.block = d
		}
	}
}

// WithErrorBackoff sets the pause after a broker error.
// Default: 5s
func WithErrorBackoff(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.errorBackoff = d
		}
	}
}

// WithPendingCount bounds how many pending entries Pending and ClaimPending look at.
// Default: 100
func WithPendingCount(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.pendingCount = n
		}
	}
}

// WithDeadLetters records undecodable, unhandled and failed messages in store.
func WithDeadLetters(store deadletter.Store) Option {
	return func(o *options) {
		o.deadLetters = store
	}
}
