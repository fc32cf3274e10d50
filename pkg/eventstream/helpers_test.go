package eventstream_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/watchtower/pkg/eventstream"
	"github.com/randalmurphal/watchtower/pkg/eventstream/event"
	"github.com/randalmurphal/watchtower/pkg/eventstream/stream"
)

const positionStream = "watch_tower:events:position.updated"

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1700000000000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func samplePosition(truckID string) *event.PositionUpdated {
	return event.New(&event.PositionUpdated{
		TruckID:     truckID,
		TruckNumber: "TRUCK-001",
		Lat:         6.5244,
		Lng:         3.3792,
		Speed:       event.Ptr(45.5),
	})
}

// fastOptions keep read loops responsive in tests.
func fastOptions(extra ...eventstream.Option) []eventstream.Option {
	opts := []eventstream.Option{
		eventstream.WithBlock(20 * time.Millisecond),
		eventstream.WithErrorBackoff(10 * time.Millisecond),
		eventstream.WithGroupStart(stream.StartBeginning),
		eventstream.WithConsumerName("test-consumer"),
	}
	return append(opts, extra...)
}

// startConsume runs Consume in the background. The returned function stops
// the group and waits for Consume to return.
func startConsume(t *testing.T, g *eventstream.ConsumerGroup, types ...event.Type) func() error {
	t.Helper()

	done := make(chan error, 1)
	go func() {
		done <- g.Consume(context.Background(), types, 0, 0)
	}()
	require.Eventually(t, g.Running, time.Second, 5*time.Millisecond)

	return func() error {
		g.Stop()
		select {
		case err := <-done:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("Consume did not return after Stop")
			return nil
		}
	}
}

// recorder is a handler that remembers the events it saw.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
	err    error
}

func (r *recorder) Handle(_ context.Context, evt event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.err
}

func (r *recorder) Events() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) Count() int {
	return len(r.Events())
}

// flakyStore fails selected operations a fixed number of times.
type flakyStore struct {
	stream.Store
	appendOK    atomic.Int64 // appends allowed before failing; negative means unlimited
	readFails   atomic.Int64
	readErr     error // returned by failing reads; errBrokerDown when nil
	createCalls atomic.Int64
}

var errBrokerDown = errors.New("broker down")

func newFlakyStore(inner stream.Store) *flakyStore {
	s := &flakyStore{Store: inner}
	s.appendOK.Store(-1)
	return s
}

func (s *flakyStore) Append(ctx context.Context, name string, record map[string]string, maxLen int64) (string, error) {
	if s.appendOK.Load() == 0 {
		return "", errBrokerDown
	}
	if s.appendOK.Load() > 0 {
		s.appendOK.Add(-1)
	}
	return s.Store.Append(ctx, name, record, maxLen)
}

func (s *flakyStore) ReadGroup(ctx context.Context, args stream.ReadGroupArgs) ([]stream.Messages, error) {
	if s.readFails.Load() > 0 {
		s.readFails.Add(-1)
		if s.readErr != nil {
			return nil, s.readErr
		}
		return nil, errBrokerDown
	}
	return s.Store.ReadGroup(ctx, args)
}

func (s *flakyStore) CreateGroup(ctx context.Context, name, group, start string) error {
	s.createCalls.Add(1)
	return s.Store.CreateGroup(ctx, name, group, start)
}

// wrappingStore reports an existing group with extra context, the way a
// store decorator would.
type wrappingStore struct {
	stream.Store
}

func (s wrappingStore) CreateGroup(ctx context.Context, name, group, start string) error {
	if err := s.Store.CreateGroup(ctx, name, group, start); err != nil {
		return fmt.Errorf("create group %s on %s: %w", group, name, err)
	}
	return nil
}
