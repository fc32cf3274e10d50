package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/watchtower/pkg/eventstream/deadletter"
	"github.com/randalmurphal/watchtower/pkg/eventstream/event"
)

// run executes the root command with args and returns its output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runContext(context.Background(), t, args...)
}

// runContext is run with a caller-controlled context, for commands that
// only return once ctx is done.
func runContext(ctx context.Context, t *testing.T, args ...string) (string, error) {
	t.Helper()

	resetFlags(rootCmd)
	publishFields = nil
	consumeTypes = nil

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

// resetFlags restores every flag of cmd and its subcommands to its default,
// so one test's flags do not leak into the next.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func TestPublishAndInfo(t *testing.T) {
	mr := miniredis.RunT(t)
	url := "redis://" + mr.Addr() + "/0"

	out, err := run(t, "--redis-url", url, "publish", "position.updated",
		"--field", "truck_id=T-1", "--field", "truck_number=TRUCK-001",
		"--field", "lat=6.5244", "--field", "lng=3.3792", "--field", "speed=45.5")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Published position.updated")
	assert.True(t, mr.Exists("watch_tower:events:position.updated"))

	out, err = run(t, "--redis-url", url, "--json", "info", "position.updated")
	require.NoError(t, err, out)

	var infos []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, float64(1), infos[0]["length"])
}

func TestPublish_InvalidEvent(t *testing.T) {
	mr := miniredis.RunT(t)

	_, err := run(t, "--redis-url", "redis://"+mr.Addr(), "publish", "position.updated", "--field", "lat=north")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid position.updated event")
	assert.False(t, mr.Exists("watch_tower:events:position.updated"))

	_, err = run(t, "--redis-url", "redis://"+mr.Addr(), "publish", "truck.exploded")
	assert.ErrorContains(t, err, "unknown event type")
}

func TestCreateGroupAndPending(t *testing.T) {
	mr := miniredis.RunT(t)
	url := "redis://" + mr.Addr()

	out, err := run(t, "--redis-url", url, "create-group", "alert.triggered", "--group", "ops", "--start", "0")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Group ops ready on watch_tower:events:alert.triggered")

	// Creating again is not an error.
	_, err = run(t, "--redis-url", url, "create-group", "alert.triggered", "--group", "ops", "--start", "0")
	require.NoError(t, err)

	out, err = run(t, "--redis-url", url, "pending", "alert.triggered", "--group", "ops")
	require.NoError(t, err, out)
	assert.Contains(t, out, "No pending entries")
}

func TestConsume_DeliversAndAcks(t *testing.T) {
	mr := miniredis.RunT(t)
	url := "redis://" + mr.Addr()

	_, err := run(t, "--redis-url", url, "create-group", "position.updated", "--group", "g", "--start", "0")
	require.NoError(t, err)
	_, err = run(t, "--redis-url", url, "publish", "position.updated",
		"--field", "truck_id=T-1", "--field", "truck_number=TRUCK-001", "--field", "lat=6.5", "--field", "lng=3.3")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, err := runContext(ctx, t, "--redis-url", url, "consume",
		"--types", "position.updated", "--group", "g", "--claim-every", "0")
	require.NoError(t, err, out)
	assert.Contains(t, out, "event received")
	assert.Contains(t, out, "event_type=position.updated")

	out, err = run(t, "--redis-url", url, "pending", "position.updated", "--group", "g")
	require.NoError(t, err, out)
	assert.Contains(t, out, "No pending entries")
}

func TestConsume_ExportsTelemetry(t *testing.T) {
	mr := miniredis.RunT(t)
	url := "redis://" + mr.Addr()

	_, err := run(t, "--redis-url", url, "create-group", "position.updated", "--group", "g", "--start", "0")
	require.NoError(t, err)
	_, err = run(t, "--redis-url", url, "publish", "position.updated",
		"--field", "truck_id=T-1", "--field", "truck_number=TRUCK-001", "--field", "lat=6.5", "--field", "lng=3.3")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, err := runContext(ctx, t, "--redis-url", url, "consume",
		"--types", "position.updated", "--group", "g", "--claim-every", "0", "--otel")
	require.NoError(t, err, out)
	assert.Contains(t, out, "watchtower.events.process")
	assert.Contains(t, out, "watchtower.events.delivered")
}

func TestClaim_TakesOverStaleEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	url := "redis://" + mr.Addr()

	_, err := run(t, "--redis-url", url, "create-group", "position.updated", "--group", "g", "--start", "0")
	require.NoError(t, err)
	_, err = run(t, "--redis-url", url, "publish", "position.updated",
		"--field", "truck_id=T-1", "--field", "truck_number=TRUCK-001", "--field", "lat=6.5", "--field", "lng=3.3")
	require.NoError(t, err)

	// A consumer reads the entry and dies without acking it.
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	res, err := client.XReadGroup(context.Background(), &redis.XReadGroupArgs{
		Group:    "g",
		Consumer: "crashed",
		Streams:  []string{"watch_tower:events:position.updated", ">"},
		Count:    10,
		Block:    -1,
	}).Result()
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Len(t, res[0].Messages, 1)

	time.Sleep(20 * time.Millisecond)

	out, err := run(t, "--redis-url", url, "claim", "position.updated",
		"--group", "g", "--consumer", "rescuer", "--min-idle", "1ms")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Claimed 1 entries for rescuer")

	out, err = run(t, "--redis-url", url, "--json", "pending", "position.updated", "--group", "g")
	require.NoError(t, err, out)
	assert.Contains(t, out, "rescuer")
	assert.NotContains(t, out, "crashed")
}

func TestDeadLettersListAndReplay(t *testing.T) {
	mr := miniredis.RunT(t)
	dbPath := filepath.Join(t.TempDir(), "dead.db")
	t.Setenv("WATCHTOWER_DEAD_LETTER_PATH", dbPath)

	rec, err := event.Encode(event.NewAlertTriggered("speeding", "high", "Speeding", "Over limit"))
	require.NoError(t, err)

	store, err := deadletter.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	l := deadletter.NewLetter(deadletter.ReasonHandlerFailed, "watch_tower:events:alert.triggered", "1-0", rec, assert.AnError)
	require.NoError(t, store.Put(context.Background(), l))
	require.NoError(t, store.Close())

	out, err := run(t, "dead-letters", "list")
	require.NoError(t, err, out)
	assert.Contains(t, out, l.ID)
	assert.Contains(t, out, "handler_failed")

	out, err = run(t, "--redis-url", "redis://"+mr.Addr(), "dead-letters", "replay", l.ID)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Replayed "+l.ID)
	assert.True(t, mr.Exists("watch_tower:events:alert.triggered"))

	out, err = run(t, "dead-letters", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No dead letters")
}

func TestDeadLetters_RequiresPath(t *testing.T) {
	t.Setenv("WATCHTOWER_DEAD_LETTER_PATH", "")

	_, err := run(t, "dead-letters", "list")
	assert.ErrorContains(t, err, "dead_letter_path")
}

func TestBuildRecord(t *testing.T) {
	publishCorrelationID = ""
	rec, err := buildRecord(event.TypeTruckStatusChanged,
		`{"truck_id":"T-1","truck_number":"TRUCK-001","old_status":"idle","new_status":"moving","count":3}`,
		[]string{"new_status=parked"}, strings.NewReader(""))
	require.NoError(t, err)

	assert.Equal(t, "truck.status_changed", rec["event_type"])
	assert.Equal(t, "parked", rec["new_status"], "--field wins over --data")
	assert.Equal(t, "3", rec["count"])
	assert.NotEmpty(t, rec["event_id"])
	assert.NotEmpty(t, rec["timestamp"])

	evt, err := event.Decode(rec)
	require.NoError(t, err)
	got := evt.(*event.TruckStatusChanged)
	assert.Equal(t, "parked", got.NewStatus)

	_, err = buildRecord(event.TypeTruckStatusChanged, "", []string{"novalue"}, nil)
	assert.Error(t, err)

	_, err = buildRecord(event.TypeTruckStatusChanged, "[1,2]", nil, nil)
	assert.Error(t, err)
}

func TestBuildRecord_Stdin(t *testing.T) {
	rec, err := buildRecord(event.TypeSyncCompleted, "-", nil, strings.NewReader(`{"sync_type":"trucks"}`))
	require.NoError(t, err)
	assert.Equal(t, "trucks", rec["sync_type"])
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	l, err := newLogger(&buf, "debug", "json")
	require.NoError(t, err)
	l.Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	l, err = newLogger(&buf, "warn", "text")
	require.NoError(t, err)
	l.Info("hidden")
	assert.Empty(t, buf.String())

	_, err = newLogger(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = newLogger(&buf, "info", "xml")
	assert.Error(t, err)
}

func TestParseTypes(t *testing.T) {
	all, err := parseTypes(nil)
	require.NoError(t, err)
	assert.Equal(t, event.Types(), all)

	_, err = parseTypes([]string{"trip.created", "nope"})
	assert.Error(t, err)
}
