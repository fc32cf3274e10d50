package event_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/randalmurphal/watchtower/pkg/eventstream/event"
)

func TestNew_StampsEnvelope(t *testing.T) {
	before := time.Now().UTC()
	evt := event.New(&event.TruckStatusChanged{TruckID: "T-1"})

	assert.NotEmpty(t, evt.ID)
	assert.Equal(t, event.DefaultVersion, evt.Version)
	assert.Empty(t, evt.CorrelationID)
	assert.NotNil(t, evt.Metadata)
	assert.False(t, evt.Timestamp.Before(before))
	assert.Equal(t, event.TypeTruckStatusChanged, evt.Type())
}

func TestNew_Options(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	evt := event.New(&event.TruckStatusChanged{},
		event.WithEventID("evt-1"),
		event.WithCorrelationID("corr-1"),
		event.WithTimestamp(ts),
		event.WithVersion("2.0"),
		event.WithMetadata(map[string]any{"a": 1}),
		event.WithMetadata(map[string]any{"b": 2}),
	)

	assert.Equal(t, "evt-1", evt.ID)
	assert.Equal(t, "corr-1", evt.CorrelationID)
	assert.Equal(t, ts, evt.Timestamp)
	assert.Equal(t, "2.0", evt.Version)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, evt.Metadata)
}

func TestNew_KeepsExistingEnvelope(t *testing.T) {
	evt := &event.TruckStatusChanged{}
	evt.ID = "fixed"
	event.New(evt, event.WithEventID("ignored"))

	assert.Equal(t, "fixed", evt.ID)
}

func TestNew_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := event.New(&event.SyncCompleted{}).ID
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestConstructorDefaults(t *testing.T) {
	wh := event.NewWebhookReceived("trip_update", nil, nil, false)
	assert.Equal(t, "loconav", wh.Source)

	alert := event.NewAlertTriggered("long_stop", "low", "Long stop", "Stopped 2h")
	assert.True(t, alert.NotifySlack)
	assert.False(t, alert.NotifyEmail)

	errEvt := event.NewErrorOccurred("transient", "timeout", "loconav", "poll")
	assert.True(t, errEvt.Recoverable)
	assert.Zero(t, errEvt.RetryCount)
}

func TestTypes(t *testing.T) {
	types := event.Types()
	assert.Len(t, types, 8)
	for _, typ := range types {
		assert.True(t, typ.Valid(), typ)
	}
	assert.False(t, event.Type("truck.exploded").Valid())
}

func TestSyncCompleted_Duration(t *testing.T) {
	evt := &event.SyncCompleted{DurationSeconds: 1.5}
	assert.Equal(t, 1500*time.Millisecond, evt.Duration())
}
