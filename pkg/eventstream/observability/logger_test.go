package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHandler captures log records for testing.
type testHandler struct {
	buf   *bytes.Buffer
	level slog.Level
	attrs []slog.Attr
}

func newTestHandler() *testHandler {
	return &testHandler{
		buf:   &bytes.Buffer{},
		level: slog.LevelDebug,
	}
}

func (h *testHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *testHandler) Handle(_ context.Context, r slog.Record) error {
	data := map[string]any{
		"level": r.Level.String(),
		"msg":   r.Message,
	}
	for _, attr := range h.attrs {
		data[attr.Key] = attr.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})
	return json.NewEncoder(h.buf).Encode(data)
}

func (h *testHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newH := &testHandler{
		buf:   h.buf,
		level: h.level,
		attrs: make([]slog.Attr, len(h.attrs)+len(attrs)),
	}
	copy(newH.attrs, h.attrs)
	copy(newH.attrs[len(h.attrs):], attrs)
	return newH
}

func (h *testHandler) WithGroup(string) slog.Handler {
	return h
}

func (h *testHandler) getLastRecord() map[string]any {
	lines := bytes.Split(h.buf.Bytes(), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if len(lines[i]) > 0 {
			var m map[string]any
			if err := json.Unmarshal(lines[i], &m); err == nil {
				return m
			}
		}
	}
	return nil
}

func TestEnrichLogger(t *testing.T) {
	t.Run("adds group and consumer", func(t *testing.T) {
		h := newTestHandler()
		enriched := EnrichLogger(slog.New(h), "watch_tower_consumers", "host-1")
		enriched.Info("test message")

		record := h.getLastRecord()
		require.NotNil(t, record)
		assert.Equal(t, "watch_tower_consumers", record["group"])
		assert.Equal(t, "host-1", record["consumer"])
		assert.Equal(t, "test message", record["msg"])
	})

	t.Run("nil logger returns nil", func(t *testing.T) {
		assert.Nil(t, EnrichLogger(nil, "g", "c"))
	})
}

func TestLogHelpers(t *testing.T) {
	testErr := errors.New("connection refused")

	tests := []struct {
		name   string
		log    func(*slog.Logger)
		level  string
		msg    string
		fields map[string]any
	}{
		{
			name:  "published",
			log:   func(l *slog.Logger) { LogPublished(l, "position.updated", "evt-1", "s", "1-0") },
			level: "DEBUG",
			msg:   "event published",
			fields: map[string]any{
				"event_type": "position.updated", "event_id": "evt-1", "stream": "s", "entry_id": "1-0",
			},
		},
		{
			name:   "publish error",
			log:    func(l *slog.Logger) { LogPublishError(l, "trip.created", "evt-2", "s", testErr) },
			level:  "ERROR",
			msg:    "event publish failed",
			fields: map[string]any{"event_id": "evt-2", "error": "connection refused"},
		},
		{
			name:   "consume stop",
			log:    func(l *slog.Logger) { LogConsumeStop(l, 42) },
			level:  "INFO",
			msg:    "consumer stopped",
			fields: map[string]any{"messages_processed": float64(42)},
		},
		{
			name:   "decode error",
			log:    func(l *slog.Logger) { LogDecodeError(l, "s", "7-0", testErr) },
			level:  "ERROR",
			msg:    "event decode failed",
			fields: map[string]any{"message_id": "7-0"},
		},
		{
			name:   "unhandled",
			log:    func(l *slog.Logger) { LogUnhandled(l, "s", "7-0", "sync.completed") },
			level:  "WARN",
			msg:    "no handler for event type",
			fields: map[string]any{"event_type": "sync.completed"},
		},
		{
			name:   "handler error",
			log:    func(l *slog.Logger) { LogHandlerError(l, "notifier", "alert.triggered", "evt-3", testErr) },
			level:  "ERROR",
			msg:    "event handler failed",
			fields: map[string]any{"handler": "notifier", "event_id": "evt-3"},
		},
		{
			name:   "broker error",
			log:    func(l *slog.Logger) { LogBrokerError(l, "read", testErr, 5*time.Second) },
			level:  "ERROR",
			msg:    "broker error",
			fields: map[string]any{"operation": "read"},
		},
		{
			name:   "claimed",
			log:    func(l *slog.Logger) { LogClaimed(l, "s", 3) },
			level:  "INFO",
			msg:    "claimed pending messages",
			fields: map[string]any{"count": float64(3)},
		},
		{
			name:   "dead letter error",
			log:    func(l *slog.Logger) { LogDeadLetterError(l, "7-0", testErr) },
			level:  "WARN",
			msg:    "dead letter not recorded",
			fields: map[string]any{"message_id": "7-0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler()
			tt.log(slog.New(h))

			record := h.getLastRecord()
			require.NotNil(t, record)
			assert.Equal(t, tt.level, record["level"])
			assert.Equal(t, tt.msg, record["msg"])
			for k, v := range tt.fields {
				assert.Equal(t, v, record[k], k)
			}
		})

		t.Run(tt.name+"/nil logger", func(t *testing.T) {
			assert.NotPanics(t, func() { tt.log(nil) })
		})
	}
}

func TestLogConsumeStart(t *testing.T) {
	h := newTestHandler()
	LogConsumeStart(slog.New(h), []string{"a", "b"}, 100, time.Second)

	record := h.getLastRecord()
	require.NotNil(t, record)
	assert.Equal(t, "consumer starting", record["msg"])
	assert.Equal(t, float64(100), record["batch_size"])

	assert.NotPanics(t, func() { LogConsumeStart(nil, nil, 0, 0) })
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(10 * time.Millisecond)
	assert.GreaterOrEqual(t, done(), 10*time.Millisecond)
}
