package event

import "time"

// WebhookReceived records an inbound webhook from the telemetry vendor.
type WebhookReceived struct {
	Envelope
	WebhookType    string            // e.g. "position_update", "trip_update"
	Source         string            // Default "loconav"
	Payload        map[string]any    // Raw webhook body
	Headers        map[string]string // Request headers
	SignatureValid bool
}

// NewWebhookReceived builds a WebhookReceived with the default source.
func NewWebhookReceived(webhookType string, payload map[string]any, headers map[string]string, signatureValid bool, opts ...Option) *WebhookReceived {
	return New(&WebhookReceived{
		WebhookType:    webhookType,
		Source:         "loconav",
		Payload:        payload,
		Headers:        headers,
		SignatureValid: signatureValid,
	}, opts...)
}

func (*WebhookReceived) Type() Type { return TypeWebhookReceived }

func (e *WebhookReceived) encodeFields(w *recordWriter) {
	w.str("webhook_type", e.WebhookType)
	w.str("source", e.Source)
	w.json("payload", e.Payload)
	w.json("headers", e.Headers)
	w.bool("signature_valid", e.SignatureValid)
}

func (e *WebhookReceived) decodeFields(r *valueReader) {
	e.WebhookType = r.str("webhook_type")
	e.Source = r.strOr("source", "loconav")
	e.Payload = r.object("payload")
	e.Headers = r.stringMap("headers")
	e.SignatureValid = r.bool("signature_valid")
}

// TripCreated records a new trip.
type TripCreated struct {
	Envelope
	TripID         string
	VPCID          string
	TruckID        string
	TruckNumber    string
	OriginLat      float64
	OriginLng      float64
	DestinationLat float64
	DestinationLng float64
	CreatedBy      string // "system", "api", "webhook"
}

func (*TripCreated) Type() Type { return TypeTripCreated }

func (e *TripCreated) encodeFields(w *recordWriter) {
	w.str("trip_id", e.TripID)
	w.str("vpc_id", e.VPCID)
	w.str("truck_id", e.TruckID)
	w.str("truck_number", e.TruckNumber)
	w.float("origin_lat", e.OriginLat)
	w.float("origin_lng", e.OriginLng)
	w.float("destination_lat", e.DestinationLat)
	w.float("destination_lng", e.DestinationLng)
	w.str("created_by", e.CreatedBy)
}

func (e *TripCreated) decodeFields(r *valueReader) {
	e.TripID = r.str("trip_id")
	e.VPCID = r.str("vpc_id")
	e.TruckID = r.str("truck_id")
	e.TruckNumber = r.str("truck_number")
	e.OriginLat = r.float("origin_lat")
	e.OriginLng = r.float("origin_lng")
	e.DestinationLat = r.float("destination_lat")
	e.DestinationLng = r.float("destination_lng")
	e.CreatedBy = r.str("created_by")
}

// TripStatusChanged records a trip status transition.
type TripStatusChanged struct {
	Envelope
	TripID      string
	VPCID       string
	TruckID     string
	OldStatus   string
	NewStatus   string
	Reason      *string
	LocationLat *float64
	LocationLng *float64
}

func (*TripStatusChanged) Type() Type { return TypeTripStatusChanged }

func (e *TripStatusChanged) encodeFields(w *recordWriter) {
	w.str("trip_id", e.TripID)
	w.str("vpc_id", e.VPCID)
	w.str("truck_id", e.TruckID)
	w.str("old_status", e.OldStatus)
	w.str("new_status", e.NewStatus)
	w.optStr("reason", e.Reason)
	w.optFloat("location_lat", e.LocationLat)
	w.optFloat("location_lng", e.LocationLng)
}

func (e *TripStatusChanged) decodeFields(r *valueReader) {
	e.TripID = r.str("trip_id")
	e.VPCID = r.str("vpc_id")
	e.TruckID = r.str("truck_id")
	e.OldStatus = r.str("old_status")
	e.NewStatus = r.str("new_status")
	e.Reason = r.optStr("reason")
	e.LocationLat = r.optFloat("location_lat")
	e.LocationLng = r.optFloat("location_lng")
}

// PositionUpdated records a GPS fix for a truck.
type PositionUpdated struct {
	Envelope
	TruckID     string
	TruckNumber string
	Lat         float64
	Lng         float64
	Speed       *float64
	Heading     *int
	Ignition    *bool
	Altitude    *float64
	Accuracy    *float64
	TripID      *string // Set when the truck is on a trip

	DistanceFromLast *float64 // Metres since the previous fix
	TimeSinceLast    *int     // Seconds since the previous fix
}

func (*PositionUpdated) Type() Type { return TypePositionUpdated }

func (e *PositionUpdated) encodeFields(w *recordWriter) {
	w.str("truck_id", e.TruckID)
	w.str("truck_number", e.TruckNumber)
	w.float("lat", e.Lat)
	w.float("lng", e.Lng)
	w.optFloat("speed", e.Speed)
	w.optInt("heading", e.Heading)
	w.optBool("ignition", e.Ignition)
	w.optFloat("altitude", e.Altitude)
	w.optFloat("accuracy", e.Accuracy)
	w.optStr("trip_id", e.TripID)
	w.optFloat("distance_from_last", e.DistanceFromLast)
	w.optInt("time_since_last", e.TimeSinceLast)
}

func (e *PositionUpdated) decodeFields(r *valueReader) {
	e.TruckID = r.str("truck_id")
	e.TruckNumber = r.str("truck_number")
	e.Lat = r.float("lat")
	e.Lng = r.float("lng")
	e.Speed = r.optFloat("speed")
	e.Heading = r.optInt("heading")
	e.Ignition = r.optBool("ignition")
	e.Altitude = r.optFloat("altitude")
	e.Accuracy = r.optFloat("accuracy")
	e.TripID = r.optStr("trip_id")
	e.DistanceFromLast = r.optFloat("distance_from_last")
	e.TimeSinceLast = r.optInt("time_since_last")
}

// TruckStatusChanged records a truck status transition.
type TruckStatusChanged struct {
	Envelope
	TruckID     string
	TruckNumber string
	OldStatus   string
	NewStatus   string
	Reason      *string
}

func (*TruckStatusChanged) Type() Type { return TypeTruckStatusChanged }

func (e *TruckStatusChanged) encodeFields(w *recordWriter) {
	w.str("truck_id", e.TruckID)
	w.str("truck_number", e.TruckNumber)
	w.str("old_status", e.OldStatus)
	w.str("new_status", e.NewStatus)
	w.optStr("reason", e.Reason)
}

func (e *TruckStatusChanged) decodeFields(r *valueReader) {
	e.TruckID = r.str("truck_id")
	e.TruckNumber = r.str("truck_number")
	e.OldStatus = r.str("old_status")
	e.NewStatus = r.str("new_status")
	e.Reason = r.optStr("reason")
}

// AlertTriggered records an operational alert and how to notify about it.
type AlertTriggered struct {
	Envelope
	AlertType   string // "geofence_exit", "speed_violation", "long_stop", ...
	Severity    string // "low", "medium", "high", "critical"
	TruckID     *string
	TripID      *string
	Title       string
	Description string
	LocationLat *float64
	LocationLng *float64
	Data        map[string]any

	NotifySlack bool
	NotifyEmail bool
	Recipients  []string
}

// NewAlertTriggered builds an alert that notifies Slack by default.
func NewAlertTriggered(alertType, severity, title, description string, opts ...Option) *AlertTriggered {
	return New(&AlertTriggered{
		AlertType:   alertType,
		Severity:    severity,
		Title:       title,
		Description: description,
		Data:        map[string]any{},
		NotifySlack: true,
	}, opts...)
}

func (*AlertTriggered) Type() Type { return TypeAlertTriggered }

func (e *AlertTriggered) encodeFields(w *recordWriter) {
	w.str("alert_type", e.AlertType)
	w.str("severity", e.Severity)
	w.optStr("truck_id", e.TruckID)
	w.optStr("trip_id", e.TripID)
	w.str("title", e.Title)
	w.str("description", e.Description)
	w.optFloat("location_lat", e.LocationLat)
	w.optFloat("location_lng", e.LocationLng)
	w.json("data", e.Data)
	w.bool("notify_slack", e.NotifySlack)
	w.bool("notify_email", e.NotifyEmail)
	w.json("recipients", e.Recipients)
}

func (e *AlertTriggered) decodeFields(r *valueReader) {
	e.AlertType = r.str("alert_type")
	e.Severity = r.str("severity")
	e.TruckID = r.optStr("truck_id")
	e.TripID = r.optStr("trip_id")
	e.Title = r.str("title")
	e.Description = r.str("description")
	e.LocationLat = r.optFloat("location_lat")
	e.LocationLng = r.optFloat("location_lng")
	e.Data = r.object("data")
	e.NotifySlack = r.boolOr("notify_slack", true)
	e.NotifyEmail = r.boolOr("notify_email", false)
	e.Recipients = r.stringList("recipients")
}

// SyncCompleted summarises a finished sync run.
type SyncCompleted struct {
	Envelope
	SyncType         string // "google_sheets", "loconav_trips", ...
	RecordsProcessed int
	RecordsCreated   int
	RecordsUpdated   int
	RecordsFailed    int
	DurationSeconds  float64
	Errors           []string
}

func (*SyncCompleted) Type() Type { return TypeSyncCompleted }

func (e *SyncCompleted) encodeFields(w *recordWriter) {
	w.str("sync_type", e.SyncType)
	w.int("records_processed", e.RecordsProcessed)
	w.int("records_created", e.RecordsCreated)
	w.int("records_updated", e.RecordsUpdated)
	w.int("records_failed", e.RecordsFailed)
	w.float("duration_seconds", e.DurationSeconds)
	w.json("errors", e.Errors)
}

func (e *SyncCompleted) decodeFields(r *valueReader) {
	e.SyncType = r.str("sync_type")
	e.RecordsProcessed = r.int("records_processed")
	e.RecordsCreated = r.int("records_created")
	e.RecordsUpdated = r.int("records_updated")
	e.RecordsFailed = r.int("records_failed")
	e.DurationSeconds = r.float("duration_seconds")
	e.Errors = r.stringList("errors")
}

// Duration returns DurationSeconds as a time.Duration.
func (e *SyncCompleted) Duration() time.Duration {
	return time.Duration(e.DurationSeconds * float64(time.Second))
}

// ErrorOccurred reports a failure inside one of the backend services.
type ErrorOccurred struct {
	Envelope
	ErrorType    string
	ErrorMessage string
	ErrorCode    *string
	Service      string // Service that failed
	Operation    string // Operation that was running
	Context      map[string]any
	StackTrace   *string
	RetryCount   int
	Recoverable  bool
}

// NewErrorOccurred builds a recoverable error event.
func NewErrorOccurred(errorType, message, service, operation string, opts ...Option) *ErrorOccurred {
	return New(&ErrorOccurred{
		ErrorType:    errorType,
		ErrorMessage: message,
		Service:      service,
		Operation:    operation,
		Context:      map[string]any{},
		Recoverable:  true,
	}, opts...)
}

func (*ErrorOccurred) Type() Type { return TypeErrorOccurred }

func (e *ErrorOccurred) encodeFields(w *recordWriter) {
	w.str("error_type", e.ErrorType)
	w.str("error_message", e.ErrorMessage)
	w.optStr("error_code", e.ErrorCode)
	w.str("service", e.Service)
	w.str("operation", e.Operation)
	w.json("context", e.Context)
	w.optStr("stack_trace", e.StackTrace)
	w.int("retry_count", e.RetryCount)
	w.bool("recoverable", e.Recoverable)
}

func (e *ErrorOccurred) decodeFields(r *valueReader) {
	e.ErrorType = r.str("error_type")
	e.ErrorMessage = r.str("error_message")
	e.ErrorCode = r.optStr("error_code")
	e.Service = r.str("service")
	e.Operation = r.str("operation")
	e.Context = r.object("context")
	e.StackTrace = r.optStr("stack_trace")
	e.RetryCount = r.intOr("retry_count", 0)
	e.Recoverable = r.boolOr("recoverable", true)
}
