package eventstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/randalmurphal/watchtower/pkg/eventstream/deadletter"
	"github.com/randalmurphal/watchtower/pkg/eventstream/event"
	"github.com/randalmurphal/watchtower/pkg/eventstream/observability"
	"github.com/randalmurphal/watchtower/pkg/eventstream/stream"
)

// StreamName returns the stream holding events of type t.
func StreamName(prefix string, t event.Type) string {
	return prefix + ":" + string(t)
}

// Publisher appends events to their type's stream.
// It is safe for concurrent use.
type Publisher struct {
	store stream.Store
	opts  options
}

// NewPublisher creates a publisher over store.
func NewPublisher(store stream.Store, opts ...Option) *Publisher {
	return &Publisher{store: store, opts: buildOptions(opts)}
}

// StreamName returns the stream this publisher appends events of type t to.
func (p *Publisher) StreamName(t event.Type) string {
	return StreamName(p.opts.prefix, t)
}

// Publish encodes evt and appends it to its stream, returning the entry ID.
// Failures are returned as *PublishError and are not retried.
func (p *Publisher) Publish(ctx context.Context, evt event.Event) (string, error) {
	// Events built without event.New still get an ID, timestamp and version.
	if m := evt.Meta(); m.ID == "" || m.Timestamp.IsZero() || m.Version == "" {
		event.New(evt)
	}
	meta := evt.Meta()
	eventType := string(evt.Type())
	name := p.StreamName(evt.Type())

	ctx, span := p.opts.spans.StartPublishSpan(ctx, eventType, meta.ID, name)
	done := observability.TimedOperation()

	id, err := p.append(ctx, evt, name)

	p.opts.metrics.RecordPublish(ctx, eventType, done(), err)
	p.opts.spans.EndSpanWithError(span, err)
	if err != nil {
		observability.LogPublishError(p.opts.logger, eventType, meta.ID, name, err)
		return "", &PublishError{EventID: meta.ID, EventType: eventType, Stream: name, Err: err}
	}

	observability.LogPublished(p.opts.logger, eventType, meta.ID, name, id)
	return id, nil
}

func (p *Publisher) append(ctx context.Context, evt event.Event, name string) (string, error) {
	rec, err := event.Encode(evt)
	if err != nil {
		return "", err
	}
	return p.store.Append(ctx, name, rec, p.opts.maxLen)
}

// PublishBatch publishes evts in order. It stops at the first failure and
// returns the IDs appended before it together with the error.
func (p *Publisher) PublishBatch(ctx context.Context, evts []event.Event) ([]string, error) {
	ids := make([]string, 0, len(evts))
	for _, evt := range evts {
		id, err := p.Publish(ctx, evt)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// StreamInfo describes a stream. Error is set instead of returning an error.
type StreamInfo struct {
	Stream     string          `json:"stream"`
	Length     int64           `json:"length"`
	FirstEntry *stream.Message `json:"first_entry,omitempty"`
	LastEntry  *stream.Message `json:"last_entry,omitempty"`
	Groups     int64           `json:"groups"`
	Error      string          `json:"error,omitempty"`
}

// StreamInfo describes the stream of type t.
func (p *Publisher) StreamInfo(ctx context.Context, t event.Type) StreamInfo {
	name := p.StreamName(t)
	info, err := p.store.Info(ctx, name)
	if err != nil {
		return StreamInfo{Stream: name, Error: err.Error()}
	}
	return StreamInfo{
		Stream:     name,
		Length:     info.Length,
		FirstEntry: info.FirstEntry,
		LastEntry:  info.LastEntry,
		Groups:     info.Groups,
	}
}

// CreateConsumerGroup creates group on the stream of type t, starting at
// start (stream.StartBeginning or stream.StartNew). An existing group is
// left untouched and is not an error.
func (p *Publisher) CreateConsumerGroup(ctx context.Context, t event.Type, group, start string) error {
	name := p.StreamName(t)
	if err := ensureGroup(ctx, p.store, name, group, start); err != nil {
		return &BrokerError{Op: "create_group", Stream: name, Err: err}
	}
	return nil
}

// Replay appends the raw record of a dead letter back onto its stream.
func (p *Publisher) Replay(ctx context.Context, l *deadletter.Letter) (string, error) {
	if l.Stream == "" || len(l.Record) == 0 {
		return "", fmt.Errorf("dead letter %s has no record to replay", l.ID)
	}
	id, err := p.store.Append(ctx, l.Stream, l.Record, p.opts.maxLen)
	if err != nil {
		return "", &PublishError{EventID: l.EventID, EventType: l.EventType, Stream: l.Stream, Err: err}
	}
	return id, nil
}

func ensureGroup(ctx context.Context, store stream.Store, name, group, start string) error {
	err := store.CreateGroup(ctx, name, group, start)
	if err != nil && !errors.Is(err, stream.ErrGroupExists) {
		return err
	}
	return nil
}
