// Package event defines the Watch Tower event model.
//
// Every event is one variant of a closed set, identified by its Type. All
// variants embed Envelope, which carries identity, correlation and metadata:
//
//	evt := event.New(&event.PositionUpdated{
//	    TruckID:     "T-1",
//	    TruckNumber: "TRUCK-001",
//	    Lat:         6.5244,
//	    Lng:         3.3792,
//	    Speed:       event.Ptr(45.5),
//	}, event.WithCorrelationID(requestID))
//
// Events cross the broker as flat string records. Encode produces the record,
// Decode rebuilds the typed variant through a single field-name driven
// decoding table (see DecodeRecord).
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies an event variant and the stream it is appended to.
type Type string

// Event types. The set is closed: Decode rejects anything else.
const (
	TypeWebhookReceived    Type = "webhook.received"
	TypeTripCreated        Type = "trip.created"
	TypeTripStatusChanged  Type = "trip.status_changed"
	TypePositionUpdated    Type = "position.updated"
	TypeTruckStatusChanged Type = "truck.status_changed"
	TypeAlertTriggered     Type = "alert.triggered"
	TypeSyncCompleted      Type = "sync.completed"
	TypeErrorOccurred      Type = "error.occurred"
)

// DefaultVersion is the schema version stamped on new events.
const DefaultVersion = "1.0"

// Types returns every known event type in declaration order.
func Types() []Type {
	return []Type{
		TypeWebhookReceived,
		TypeTripCreated,
		TypeTripStatusChanged,
		TypePositionUpdated,
		TypeTruckStatusChanged,
		TypeAlertTriggered,
		TypeSyncCompleted,
		TypeErrorOccurred,
	}
}

// Valid reports whether t is one of the known event types.
func (t Type) Valid() bool {
	_, ok := constructors[t]
	return ok
}

// String returns the wire tag.
func (t Type) String() string {
	return string(t)
}

// Event is implemented by every variant in this package.
// The interface is sealed; the codec methods are unexported.
type Event interface {
	// Type returns the variant tag. It is fixed per variant.
	Type() Type

	// Meta returns the shared envelope.
	Meta() *Envelope

	encodeFields(w *recordWriter)
	decodeFields(r *valueReader)
}

// Envelope holds the fields common to every event.
type Envelope struct {
	ID            string         // Unique event identifier, generated at construction
	Timestamp     time.Time      // When the event was constructed
	Version       string         // Informational schema version
	CorrelationID string         // Optional, links related events
	Metadata      map[string]any // Open extension fields
}

// Meta returns the envelope itself. Variants get it through embedding.
func (e *Envelope) Meta() *Envelope {
	return e
}

// Option configures envelope fields at construction.
type Option func(*envelopeConfig)

type envelopeConfig struct {
	id            string
	correlationID string
	timestamp     time.Time
	version       string
	metadata      map[string]any
}

// WithEventID sets a specific event ID (default: random UUID).
func WithEventID(id string) Option {
	return func(cfg *envelopeConfig) {
		cfg.id = id
	}
}

// WithCorrelationID links the event to related events.
func WithCorrelationID(id string) Option {
	return func(cfg *envelopeConfig) {
		cfg.correlationID = id
	}
}

// WithTimestamp sets the construction timestamp (default: time.Now()).
func WithTimestamp(t time.Time) Option {
	return func(cfg *envelopeConfig) {
		cfg.timestamp = t
	}
}

// WithVersion sets the schema version tag (default: DefaultVersion).
func WithVersion(v string) Option {
	return func(cfg *envelopeConfig) {
		cfg.version = v
	}
}

// WithMetadata merges the given keys into the envelope metadata.
func WithMetadata(md map[string]any) Option {
	return func(cfg *envelopeConfig) {
		if cfg.metadata == nil {
			cfg.metadata = make(map[string]any, len(md))
		}
		for k, v := range md {
			cfg.metadata[k] = v
		}
	}
}

// New stamps the envelope of evt and returns it.
// Envelope fields already set on evt are kept; options override defaults only.
func New[E Event](evt E, opts ...Option) E {
	cfg := envelopeConfig{
		id:        uuid.New().String(),
		timestamp: time.Now().UTC(),
		version:   DefaultVersion,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	env := evt.Meta()
	if env.ID == "" {
		env.ID = cfg.id
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = cfg.timestamp
	}
	if env.Version == "" {
		env.Version = cfg.version
	}
	if env.CorrelationID == "" {
		env.CorrelationID = cfg.correlationID
	}
	if env.Metadata == nil {
		env.Metadata = make(map[string]any, len(cfg.metadata))
	}
	for k, v := range cfg.metadata {
		env.Metadata[k] = v
	}
	return evt
}

// Ptr returns a pointer to v. Handy for optional variant fields.
func Ptr[T any](v T) *T {
	return &v
}

// constructors maps each type to a zero value of its variant.
var constructors = map[Type]func() Event{
	TypeWebhookReceived:    func() Event { return &WebhookReceived{} },
	TypeTripCreated:        func() Event { return &TripCreated{} },
	TypeTripStatusChanged:  func() Event { return &TripStatusChanged{} },
	TypePositionUpdated:    func() Event { return &PositionUpdated{} },
	TypeTruckStatusChanged: func() Event { return &TruckStatusChanged{} },
	TypeAlertTriggered:     func() Event { return &AlertTriggered{} },
	TypeSyncCompleted:      func() Event { return &SyncCompleted{} },
	TypeErrorOccurred:      func() Event { return &ErrorOccurred{} },
}
