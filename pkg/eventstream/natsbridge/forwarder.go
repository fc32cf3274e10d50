// Package natsbridge mirrors consumed events onto NATS subjects so that
// services without broker access can subscribe to them.
package natsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/randalmurphal/watchtower/pkg/eventstream/event"
)

// DefaultSubjectPrefix is the subject prefix used when none is configured.
const DefaultSubjectPrefix = "watchtower.events"

// Forwarder publishes every event it handles to "{prefix}.{event_type}".
// It is an eventstream.Handler.
type Forwarder struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
	owned  bool // conn was dialed by Connect
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithSubjectPrefix sets the subject prefix.
func WithSubjectPrefix(prefix string) Option {
	return func(f *Forwarder) {
		if prefix != "" {
			f.prefix = prefix
		}
	}
}

// WithLogger sets the logger used for connection state changes.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// Connect dials url with unlimited reconnects. Extra nats options are
// applied after the defaults.
func Connect(url string, opts []Option, natsOpts ...nats.Option) (*Forwarder, error) {
	f := newForwarder(opts)

	defaults := []nats.Option{
		nats.Name("watchtower-events"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if f.logger != nil && err != nil {
				f.logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			if f.logger != nil {
				f.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
			}
		}),
	}
	nc, err := nats.Connect(url, append(defaults, natsOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	f.conn = nc
	f.owned = true
	return f, nil
}

// New wraps an existing connection. Close does not close nc.
func New(nc *nats.Conn, opts ...Option) *Forwarder {
	f := newForwarder(opts)
	f.conn = nc
	return f
}

func newForwarder(opts []Option) *Forwarder {
	f := &Forwarder{prefix: DefaultSubjectPrefix}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Subject returns the subject events of type t are published to.
func (f *Forwarder) Subject(t event.Type) string {
	return f.prefix + "." + string(t)
}

// Name identifies the forwarder in logs and dead letters.
func (f *Forwarder) Name() string { return "nats-forwarder" }

// Handle publishes evt as a JSON object of its decoded record fields.
func (f *Forwarder) Handle(ctx context.Context, evt event.Event) error {
	rec, err := event.Encode(evt)
	if err != nil {
		return err
	}
	data, err := json.Marshal(event.DecodeRecord(rec))
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	subject := f.Subject(evt.Type())
	if err := f.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// Flush waits until published events have reached the server.
func (f *Forwarder) Flush(ctx context.Context) error {
	return f.conn.FlushWithContext(ctx)
}

// Close drains and closes a connection opened by Connect.
func (f *Forwarder) Close() error {
	if !f.owned {
		return nil
	}
	return f.conn.Drain()
}
