package stream_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/watchtower/pkg/eventstream/stream"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func TestMemoryStore_TrimsToMaxLen(t *testing.T) {
	ctx := context.Background()
	store := stream.NewMemoryStore()
	defer store.Close()

	for i := 0; i < 10; i++ {
		_, err := store.Append(ctx, "s", map[string]string{"i": "x"}, 3)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, store.Len("s"))
	assert.Equal(t, 0, store.Len("other"))
}

func TestMemoryStore_IDsWithinSameMillisecond(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.UnixMilli(1700000000000)}
	store := stream.NewMemoryStore(stream.WithClock(clock.Now))
	defer store.Close()

	id1, err := store.Append(ctx, "s", nil, 0)
	require.NoError(t, err)
	id2, err := store.Append(ctx, "s", nil, 0)
	require.NoError(t, err)

	assert.Equal(t, "1700000000000-0", id1)
	assert.Equal(t, "1700000000000-1", id2)
}

func TestMemoryStore_ClaimRespectsMinIdle(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.UnixMilli(1700000000000)}
	store := stream.NewMemoryStore(stream.WithClock(clock.Now))
	defer store.Close()

	require.NoError(t, store.CreateGroup(ctx, "s", "g", stream.StartBeginning))
	id, err := store.Append(ctx, "s", map[string]string{"n": "1"}, 0)
	require.NoError(t, err)

	_, err = store.ReadGroup(ctx, stream.ReadGroupArgs{
		Group: "g", Consumer: "dead", Streams: []string{"s"}, Block: -1,
	})
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	claimed, err := store.Claim(ctx, stream.ClaimArgs{
		Stream: "s", Group: "g", Consumer: "alive", MinIdle: time.Minute, IDs: []string{id},
	})
	require.NoError(t, err)
	assert.Empty(t, claimed, "entry is not idle long enough")

	clock.Advance(31 * time.Second)
	pending, err := store.Pending(ctx, "s", "g", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 61*time.Second, pending[0].Idle)

	claimed, err = store.Claim(ctx, stream.ClaimArgs{
		Stream: "s", Group: "g", Consumer: "alive", MinIdle: time.Minute, IDs: []string{id},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, claimed)

	pending, err = store.Pending(ctx, "s", "g", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "alive", pending[0].Consumer)
	assert.Equal(t, int64(2), pending[0].DeliveryCount)
	assert.Zero(t, pending[0].Idle)
}

func TestMemoryStore_ReadPendingAfterTrim(t *testing.T) {
	ctx := context.Background()
	store := stream.NewMemoryStore()
	defer store.Close()

	require.NoError(t, store.CreateGroup(ctx, "s", "g", stream.StartBeginning))
	id, err := store.Append(ctx, "s", map[string]string{"n": "1"}, 1)
	require.NoError(t, err)

	_, err = store.ReadGroup(ctx, stream.ReadGroupArgs{
		Group: "g", Consumer: "c1", Streams: []string{"s"}, Block: -1,
	})
	require.NoError(t, err)

	// Trims the delivered entry away while it is still pending.
	_, err = store.Append(ctx, "s", map[string]string{"n": "2"}, 1)
	require.NoError(t, err)

	batches, err := store.ReadGroup(ctx, stream.ReadGroupArgs{
		Group: "g", Consumer: "c1", Streams: []string{"s"}, Start: stream.ReadPending,
	})
	require.NoError(t, err)
	require.Equal(t, 1, stream.Total(batches))
	assert.Equal(t, id, batches[0].Messages[0].ID)
	assert.Nil(t, batches[0].Messages[0].Values)
}

func TestMemoryStore_Info(t *testing.T) {
	ctx := context.Background()
	store := stream.NewMemoryStore()
	defer store.Close()

	_, err := store.Info(ctx, "missing")
	assert.ErrorIs(t, err, stream.ErrNoStream)

	require.NoError(t, store.CreateGroup(ctx, "s", "g1", stream.StartNew))
	require.NoError(t, store.CreateGroup(ctx, "s", "g2", stream.StartNew))

	info, err := store.Info(ctx, "s")
	require.NoError(t, err)
	assert.Zero(t, info.Length)
	assert.Equal(t, int64(2), info.Groups)
	assert.Nil(t, info.FirstEntry)

	first, err := store.Append(ctx, "s", map[string]string{"n": "1"}, 0)
	require.NoError(t, err)
	last, err := store.Append(ctx, "s", map[string]string{"n": "2"}, 0)
	require.NoError(t, err)

	info, err = store.Info(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Length)
	require.NotNil(t, info.FirstEntry)
	require.NotNil(t, info.LastEntry)
	assert.Equal(t, first, info.FirstEntry.ID)
	assert.Equal(t, last, info.LastEntry.ID)
	assert.Equal(t, "2", info.LastEntry.Values["n"])
}

func TestMemoryStore_ReadGroupCancelled(t *testing.T) {
	store := stream.NewMemoryStore()
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, store.CreateGroup(ctx, "s", "g", stream.StartNew))

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := store.ReadGroup(ctx, stream.ReadGroupArgs{
		Group: "g", Consumer: "c1", Streams: []string{"s"}, Block: 0,
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_CloseWakesReaders(t *testing.T) {
	ctx := context.Background()
	store := stream.NewMemoryStore()
	require.NoError(t, store.CreateGroup(ctx, "s", "g", stream.StartNew))

	done := make(chan error, 1)
	go func() {
		_, err := store.ReadGroup(ctx, stream.ReadGroupArgs{
			Group: "g", Consumer: "c1", Streams: []string{"s"}, Block: 5 * time.Second,
		})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, store.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, stream.ErrStoreClosed)
	case <-time.After(time.Second):
		t.Fatal("reader was not woken by Close")
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := stream.NewMemoryStore()
	defer store.Close()

	require.NoError(t, store.CreateGroup(ctx, "s", "g", stream.StartBeginning))

	const producers = 10
	const perProducer = 50

	var wg sync.WaitGroup
	wg.Add(producers)
	for i := 0; i < producers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				_, _ = store.Append(ctx, "s", map[string]string{"j": "x"}, 0)
			}
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	for {
		batches, err := store.ReadGroup(ctx, stream.ReadGroupArgs{
			Group: "g", Consumer: "c1", Streams: []string{"s"}, Count: 64, Block: -1,
		})
		require.NoError(t, err)
		if stream.Total(batches) == 0 {
			break
		}
		for _, msg := range batches[0].Messages {
			assert.False(t, seen[msg.ID], "duplicate delivery of %s", msg.ID)
			seen[msg.ID] = true
		}
	}
	assert.Len(t, seen, producers*perProducer)
}
