package event

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Record is the flat, string-encoded wire form of an event.
type Record map[string]string

// Values is a record after the decoding table has been applied.
// Values hold string, float64, int, bool, time.Time or JSON-decoded data.
type Values map[string]any

// Decoding table. Field names listed here are typed on the way in; every other
// field passes through as a string. Producers in other languages rely on this
// exact table.
var (
	jsonFields = fieldSet("metadata", "payload", "headers", "data", "context", "errors")
	timeFields = fieldSet("timestamp")

	floatFields = fieldSet(
		"lat", "lng", "speed", "altitude", "accuracy", "distance_from_last",
		"records_processed", "records_created", "records_updated",
		"records_failed", "duration_seconds", "retry_count",
	)
	intFields  = fieldSet("heading", "time_since_last")
	boolFields = fieldSet("ignition", "signature_valid", "notify_slack", "notify_email", "recoverable")
)

func fieldSet(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

// timestampLayouts are tried in order when parsing timestamp fields.
// Offset-less timestamps are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// FormatTimestamp renders t the way Encode does.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// DecodeRecord applies the decoding table to a raw record.
// Values that fail to parse are kept as their raw string.
func DecodeRecord(rec Record) Values {
	out := make(Values, len(rec))
	for key, raw := range rec {
		out[key] = decodeField(key, raw)
	}
	return out
}

func decodeField(key, raw string) any {
	if _, ok := jsonFields[key]; ok {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return raw
		}
		return v
	}
	if _, ok := timeFields[key]; ok {
		t, err := ParseTimestamp(raw)
		if err != nil {
			return raw
		}
		return t
	}
	if _, ok := floatFields[key]; ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return raw
		}
		return f
	}
	if _, ok := intFields[key]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return raw
		}
		return n
	}
	if _, ok := boolFields[key]; ok {
		return strings.EqualFold(raw, "true")
	}
	return raw
}

// Encode flattens an event into its wire record.
func Encode(evt Event) (Record, error) {
	w := &recordWriter{rec: make(Record, 16)}
	env := evt.Meta()

	w.str("event_id", env.ID)
	w.str("event_type", string(evt.Type()))
	w.time("timestamp", env.Timestamp)
	w.str("version", env.Version)
	if env.CorrelationID != "" {
		w.str("correlation_id", env.CorrelationID)
	}
	w.json("metadata", env.Metadata)

	evt.encodeFields(w)
	if w.err != nil {
		return nil, w.err
	}
	return w.rec, nil
}

// Decode rebuilds a typed event from its wire record.
func Decode(rec Record) (Event, error) {
	return DecodeValues(DecodeRecord(rec))
}

// DecodeValues maps already table-decoded values onto the variant named by
// their event_type field.
func DecodeValues(vals Values) (Event, error) {
	raw, ok := vals["event_type"]
	if !ok {
		return nil, &DecodeError{Field: "event_type", Message: "missing event type"}
	}
	tag, _ := raw.(string)
	ctor, ok := constructors[Type(tag)]
	if !ok {
		return nil, &DecodeError{Field: "event_type", Message: fmt.Sprintf("unknown event type %q", tag)}
	}

	evt := ctor()
	r := &valueReader{vals: vals}

	env := evt.Meta()
	env.ID = r.str("event_id")
	env.Timestamp = r.time("timestamp")
	env.Version = r.strOr("version", DefaultVersion)
	if id := r.optStr("correlation_id"); id != nil {
		env.CorrelationID = *id
	}
	env.Metadata = r.object("metadata")

	evt.decodeFields(r)
	if r.err != nil {
		return nil, r.err
	}
	return evt, nil
}

// recordWriter accumulates record fields. The first error sticks.
type recordWriter struct {
	rec Record
	err error
}

func (w *recordWriter) str(key, v string) {
	w.rec[key] = v
}

func (w *recordWriter) optStr(key string, v *string) {
	if v != nil {
		w.rec[key] = *v
	}
}

func (w *recordWriter) float(key string, v float64) {
	w.rec[key] = strconv.FormatFloat(v, 'f', -1, 64)
}

func (w *recordWriter) optFloat(key string, v *float64) {
	if v != nil {
		w.float(key, *v)
	}
}

func (w *recordWriter) int(key string, v int) {
	w.rec[key] = strconv.Itoa(v)
}

func (w *recordWriter) optInt(key string, v *int) {
	if v != nil {
		w.int(key, *v)
	}
}

func (w *recordWriter) bool(key string, v bool) {
	w.rec[key] = strconv.FormatBool(v)
}

func (w *recordWriter) optBool(key string, v *bool) {
	if v != nil {
		w.bool(key, *v)
	}
}

func (w *recordWriter) time(key string, v time.Time) {
	w.rec[key] = FormatTimestamp(v)
}

// json encodes maps and slices. Nil maps encode as {} and nil slices as [].
func (w *recordWriter) json(key string, v any) {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			v = map[string]any{}
		}
	case map[string]string:
		if val == nil {
			v = map[string]string{}
		}
	case []string:
		if val == nil {
			v = []string{}
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		if w.err == nil {
			w.err = fmt.Errorf("encode field %s: %w", key, err)
		}
		return
	}
	w.rec[key] = string(data)
}

// noneValue is how Python producers render an absent optional field.
const noneValue = "None"

// valueReader pulls typed fields out of Values. The first error sticks.
type valueReader struct {
	vals Values
	err  error
}

func (r *valueReader) fail(field, msg string, err error) {
	if r.err == nil {
		r.err = &DecodeError{Field: field, Message: msg, Err: err}
	}
}

func (r *valueReader) lookup(key string) (any, bool) {
	v, ok := r.vals[key]
	if !ok || v == nil {
		return nil, false
	}
	if s, isStr := v.(string); isStr && s == noneValue {
		return nil, false
	}
	return v, true
}

func (r *valueReader) str(key string) string {
	v, ok := r.lookup(key)
	if !ok {
		r.fail(key, "missing required field", nil)
		return ""
	}
	return asString(v)
}

func (r *valueReader) strOr(key, def string) string {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	return asString(v)
}

func (r *valueReader) optStr(key string) *string {
	v, ok := r.lookup(key)
	if !ok {
		return nil
	}
	s := asString(v)
	return &s
}

func (r *valueReader) float(key string) float64 {
	v, ok := r.lookup(key)
	if !ok {
		r.fail(key, "missing required field", nil)
		return 0
	}
	return r.toFloat(key, v)
}

func (r *valueReader) optFloat(key string) *float64 {
	v, ok := r.lookup(key)
	if !ok {
		return nil
	}
	f := r.toFloat(key, v)
	return &f
}

func (r *valueReader) toFloat(key string, v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			r.fail(key, "not a number", err)
		}
		return f
	}
	r.fail(key, fmt.Sprintf("unexpected %T for number", v), nil)
	return 0
}

func (r *valueReader) int(key string) int {
	v, ok := r.lookup(key)
	if !ok {
		r.fail(key, "missing required field", nil)
		return 0
	}
	return r.toInt(key, v)
}

func (r *valueReader) intOr(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	return r.toInt(key, v)
}

func (r *valueReader) optInt(key string) *int {
	v, ok := r.lookup(key)
	if !ok {
		return nil
	}
	n := r.toInt(key, v)
	return &n
}

func (r *valueReader) toInt(key string, v any) int {
	switch val := v.(type) {
	case int:
		return val
	case float64:
		if val != math.Trunc(val) {
			r.fail(key, "not an integer", nil)
		}
		return int(val)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			r.fail(key, "not an integer", err)
		}
		return n
	}
	r.fail(key, fmt.Sprintf("unexpected %T for integer", v), nil)
	return 0
}

func (r *valueReader) bool(key string) bool {
	v, ok := r.lookup(key)
	if !ok {
		r.fail(key, "missing required field", nil)
		return false
	}
	return toBool(v)
}

func (r *valueReader) boolOr(key string, def bool) bool {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	return toBool(v)
}

func (r *valueReader) optBool(key string) *bool {
	v, ok := r.lookup(key)
	if !ok {
		return nil
	}
	b := toBool(v)
	return &b
}

func toBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return strings.EqualFold(val, "true")
	}
	return false
}

func (r *valueReader) time(key string) time.Time {
	v, ok := r.lookup(key)
	if !ok {
		r.fail(key, "missing required field", nil)
		return time.Time{}
	}
	switch val := v.(type) {
	case time.Time:
		return val
	case string:
		t, err := ParseTimestamp(val)
		if err != nil {
			r.fail(key, "not a timestamp", err)
		}
		return t
	}
	r.fail(key, fmt.Sprintf("unexpected %T for timestamp", v), nil)
	return time.Time{}
}

// object reads a JSON object. Missing fields yield an empty map.
func (r *valueReader) object(key string) map[string]any {
	v, ok := r.lookup(key)
	if !ok {
		return map[string]any{}
	}
	switch val := v.(type) {
	case map[string]any:
		return val
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(val), &m); err != nil {
			r.fail(key, "not a JSON object", err)
			return map[string]any{}
		}
		if m == nil {
			m = map[string]any{}
		}
		return m
	}
	r.fail(key, fmt.Sprintf("unexpected %T for object", v), nil)
	return map[string]any{}
}

func (r *valueReader) stringMap(key string) map[string]string {
	obj := r.object(key)
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		out[k] = asString(v)
	}
	return out
}

// stringList reads a list of strings, either decoded or still JSON-encoded.
func (r *valueReader) stringList(key string) []string {
	v, ok := r.lookup(key)
	if !ok {
		return []string{}
	}
	switch val := v.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, asString(item))
		}
		return out
	case string:
		var list []string
		if err := json.Unmarshal([]byte(val), &list); err != nil {
			r.fail(key, "not a JSON list of strings", err)
			return []string{}
		}
		if list == nil {
			list = []string{}
		}
		return list
	}
	r.fail(key, fmt.Sprintf("unexpected %T for list", v), nil)
	return []string{}
}

func asString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return FormatTimestamp(val)
	}
	return fmt.Sprint(v)
}
