package eventstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/watchtower/pkg/eventstream/deadletter"
	"github.com/randalmurphal/watchtower/pkg/eventstream/event"
	"github.com/randalmurphal/watchtower/pkg/eventstream/observability"
	"github.com/randalmurphal/watchtower/pkg/eventstream/stream"
)

// ConsumerGroup reads event streams under a group name for one consumer
// identity and dispatches each event to the handlers registered for its type.
//
// Register handlers before calling Consume. A group runs at most one read
// loop at a time.
type ConsumerGroup struct {
	name     string
	consumer string
	store    stream.Store
	opts     options
	logger   *slog.Logger

	mu       sync.RWMutex
	handlers map[event.Type][]Handler
	types    []event.Type // registration order
	cancel   context.CancelFunc

	running   atomic.Bool
	backlog   atomic.Bool // own pending entries must be re-read before new ones
	processed atomic.Int64
}

// NewConsumerGroup creates a consumer group handle. The consumer identity
// comes from WithConsumerName, or DefaultConsumerName when unset.
func NewConsumerGroup(store stream.Store, name string, opts ...Option) *ConsumerGroup {
	return newConsumerGroup(store, name, buildOptions(opts))
}

func newConsumerGroup(store stream.Store, name string, opts options) *ConsumerGroup {
	if opts.consumerName == "" {
		opts.consumerName = DefaultConsumerName()
	}
	return &ConsumerGroup{
		name:     name,
		consumer: opts.consumerName,
		store:    store,
		opts:     opts,
		logger:   observability.EnrichLogger(opts.logger, name, opts.consumerName),
		handlers: make(map[event.Type][]Handler),
	}
}

// Name returns the group name.
func (g *ConsumerGroup) Name() string { return g.name }

// Consumer returns the consumer identity this group reads as.
func (g *ConsumerGroup) Consumer() string { return g.consumer }

// Running reports whether a read loop is active.
func (g *ConsumerGroup) Running() bool { return g.running.Load() }

// Processed returns the number of messages handled so far.
func (g *ConsumerGroup) Processed() int64 { return g.processed.Load() }

// RegisterHandler appends h to the handlers of event type t.
// Handlers of a type run in registration order.
func (g *ConsumerGroup) RegisterHandler(t event.Type, h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.handlers[t]; !ok {
		g.types = append(g.types, t)
	}
	g.handlers[t] = append(g.handlers[t], h)
}

// HandlerTypes returns the event types with at least one handler.
func (g *ConsumerGroup) HandlerTypes() []event.Type {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]event.Type, len(g.types))
	copy(out, g.types)
	return out
}

func (g *ConsumerGroup) handlersFor(t event.Type) []Handler {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.handlers[t]
}

// Consume runs the read loop over the streams of types until Stop is called
// or ctx is cancelled; both return nil. Empty types means every type with a
// registered handler. Non-positive batchSize and block fall back to the
// configured defaults.
//
// Groups are created on first use at the configured start position. The
// consumer's own pending entries are redelivered before new entries, both
// at startup and after every successful ClaimPending. Broker errors are
// logged and retried after the error backoff.
//
// Handlers receive ctx, not the loop's internal context: Stop lets the
// in-flight batch finish.
func (g *ConsumerGroup) Consume(ctx context.Context, types []event.Type, batchSize int64, block time.Duration) error {
	return g.run(ctx, nil, types, batchSize, block)
}

func (g *ConsumerGroup) run(ctx context.Context, stop <-chan struct{}, types []event.Type, batchSize int64, block time.Duration) error {
	if len(types) == 0 {
		types = g.HandlerTypes()
		if len(types) == 0 {
			return ErrNoHandlers
		}
	}

	// The running flag and cancel func change together so a Stop that
	// observes Running always finds a cancel to call.
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g.mu.Lock()
	if !g.running.CompareAndSwap(false, true) {
		g.mu.Unlock()
		return ErrAlreadyRunning
	}
	g.cancel = cancel
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.cancel = nil
		g.running.Store(false)
		g.mu.Unlock()
	}()

	if batchSize <= 0 {
		batchSize = g.opts.batchSize
	}
	if block <= 0 {
		block = g.opts.block
	}
	if stop != nil {
		go func() {
			select {
			case <-stop:
				cancel()
			case <-loopCtx.Done():
			}
		}()
	}

	streams := make([]string, len(types))
	for i, t := range types {
		streams[i] = StreamName(g.opts.prefix, t)
	}

	observability.LogConsumeStart(g.logger, streams, batchSize, block)
	defer func() {
		observability.LogConsumeStop(g.logger, g.processed.Load())
	}()

	g.backlog.Store(true)
	ensured := false

	for loopCtx.Err() == nil {
		if !ensured {
			if err := g.ensureGroups(loopCtx, streams); err != nil {
				if loopCtx.Err() != nil || g.backoff(loopCtx, "create_group", err) {
					break
				}
				continue
			}
			ensured = true
		}

		drain := g.backlog.Swap(false)
		start := stream.ReadNew
		if drain {
			start = stream.ReadPending
		}

		batches, err := g.store.ReadGroup(loopCtx, stream.ReadGroupArgs{
			Group:    g.name,
			Consumer: g.consumer,
			Streams:  streams,
			Start:    start,
			Count:    batchSize,
			Block:    block,
		})
		if err != nil {
			if loopCtx.Err() != nil {
				break
			}
			if drain {
				g.backlog.Store(true)
			}
			if errors.Is(err, stream.ErrNoGroup) {
				ensured = false
			}
			if g.backoff(loopCtx, "read", err) {
				break
			}
			continue
		}

		if drain && fullBatch(batches, batchSize) {
			g.backlog.Store(true)
		}

		for _, b := range batches {
			for _, msg := range b.Messages {
				g.processMessage(ctx, b.Stream, msg)
			}
		}
	}

	return nil
}

// fullBatch reports whether any stream returned a full batch, meaning more
// pending entries may remain.
func fullBatch(batches []stream.Messages, batchSize int64) bool {
	for _, b := range batches {
		if int64(len(b.Messages)) >= batchSize {
			return true
		}
	}
	return false
}

func (g *ConsumerGroup) ensureGroups(ctx context.Context, streams []string) error {
	for _, name := range streams {
		if err := ensureGroup(ctx, g.store, name, g.name, g.opts.groupStart); err != nil {
			return &BrokerError{Op: "create_group", Stream: name, Err: err}
		}
	}
	return nil
}

// backoff logs a broker failure and waits out the error backoff.
// Returns true if the loop was stopped while waiting.
func (g *ConsumerGroup) backoff(ctx context.Context, op string, err error) bool {
	observability.LogBrokerError(g.logger, op, err, g.opts.errorBackoff)
	g.opts.metrics.RecordBrokerError(ctx, op)

	timer := time.NewTimer(g.opts.errorBackoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

// processMessage decodes msg, runs its handlers and acknowledges it.
// Every outcome ends in an ack; failures are logged and dead-lettered.
func (g *ConsumerGroup) processMessage(ctx context.Context, streamName string, msg stream.Message) {
	ctx, span := g.opts.spans.StartDeliverySpan(ctx, streamName, msg.ID, g.name)
	g.opts.metrics.RecordDelivered(ctx, streamName)

	err := g.dispatch(ctx, streamName, msg)
	g.ack(ctx, streamName, msg.ID)
	g.processed.Add(1)

	g.opts.spans.EndSpanWithError(span, err)
}

func (g *ConsumerGroup) dispatch(ctx context.Context, streamName string, msg stream.Message) error {
	evt, err := event.Decode(msg.Values)
	if err != nil {
		observability.LogDecodeError(g.logger, streamName, msg.ID, err)
		g.deadLetter(ctx, deadletter.ReasonDecodeFailed, streamName, msg, "", err)
		return err
	}

	meta := evt.Meta()
	eventType := string(evt.Type())

	handlers := g.handlersFor(evt.Type())
	if len(handlers) == 0 {
		observability.LogUnhandled(g.logger, streamName, msg.ID, eventType)
		g.deadLetter(ctx, deadletter.ReasonUnhandled, streamName, msg, "",
			fmt.Errorf("no handler registered for %s", eventType))
		return nil
	}

	var (
		failures []error
		failed   []string
	)
	for _, h := range handlers {
		name := HandlerName(h)
		done := observability.TimedOperation()
		herr := invoke(ctx, h, evt)
		g.opts.metrics.RecordHandler(ctx, eventType, name, done(), herr)
		if herr == nil {
			continue
		}

		observability.LogHandlerError(g.logger, name, eventType, meta.ID, herr)
		g.opts.spans.AddSpanEvent(ctx, "handler.failed",
			attribute.String("handler", name),
			attribute.String("error", herr.Error()))
		failures = append(failures, &HandlerError{
			EventID:   meta.ID,
			EventType: eventType,
			Handler:   name,
			Err:       herr,
		})
		failed = append(failed, name)
	}

	if len(failures) == 0 {
		return nil
	}
	err = errors.Join(failures...)
	g.deadLetter(ctx, deadletter.ReasonHandlerFailed, streamName, msg, strings.Join(failed, ","), err)
	return err
}

func (g *ConsumerGroup) ack(ctx context.Context, streamName, msgID string) {
	// Ack even when the caller's context is already cancelled.
	ackCtx := context.WithoutCancel(ctx)

	n, err := g.store.Ack(ackCtx, streamName, g.name, msgID)
	if err != nil {
		observability.LogBrokerError(g.logger, "ack", &BrokerError{Op: "ack", Stream: streamName, Err: err}, 0)
		g.opts.metrics.RecordBrokerError(ackCtx, "ack")
		return
	}
	g.opts.metrics.RecordAck(ackCtx, streamName, n)
}

func (g *ConsumerGroup) deadLetter(ctx context.Context, reason deadletter.Reason, streamName string, msg stream.Message, handler string, cause error) {
	if g.opts.deadLetters == nil {
		return
	}

	l := deadletter.NewLetter(reason, streamName, msg.ID, msg.Values, cause)
	l.Group = g.name
	l.Consumer = g.consumer
	l.Handler = handler

	if err := g.opts.deadLetters.Put(context.WithoutCancel(ctx), l); err != nil {
		observability.LogDeadLetterError(g.logger, msg.ID, err)
		return
	}
	g.opts.metrics.RecordDeadLetter(ctx, string(reason))
}

// Pending lists delivered but unacknowledged entries of type t's stream,
// bounded by the configured pending count.
func (g *ConsumerGroup) Pending(ctx context.Context, t event.Type) ([]stream.PendingEntry, error) {
	name := StreamName(g.opts.prefix, t)
	entries, err := g.store.Pending(ctx, name, g.name, g.opts.pendingCount)
	if err != nil {
		return nil, &BrokerError{Op: "pending", Stream: name, Err: err}
	}
	return entries, nil
}

// ClaimPending takes over entries of type t's stream that have been idle for
// longer than minIdle and returns how many were claimed. A running loop
// redelivers claimed entries to its handlers before reading new ones.
func (g *ConsumerGroup) ClaimPending(ctx context.Context, t event.Type, minIdle time.Duration) (int, error) {
	name := StreamName(g.opts.prefix, t)

	entries, err := g.store.Pending(ctx, name, g.name, g.opts.pendingCount)
	if err != nil {
		return 0, &BrokerError{Op: "pending", Stream: name, Err: err}
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Idle > minIdle {
			ids = append(ids, e.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	claimed, err := g.store.Claim(ctx, stream.ClaimArgs{
		Stream:   name,
		Group:    g.name,
		Consumer: g.consumer,
		MinIdle:  minIdle,
		IDs:      ids,
	})
	if err != nil {
		return 0, &BrokerError{Op: "claim", Stream: name, Err: err}
	}

	if len(claimed) > 0 {
		g.backlog.Store(true)
		observability.LogClaimed(g.logger, name, len(claimed))
		g.opts.metrics.RecordClaim(ctx, name, len(claimed))
	}
	return len(claimed), nil
}

// Stop asks the read loop to exit after its in-flight batch. It does not
// wait and does not interrupt running handlers.
func (g *ConsumerGroup) Stop() {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.cancel != nil {
		g.cancel()
	}
}
