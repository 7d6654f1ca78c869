package models

import (
	"encoding/json"
	"time"
)

// Defaults applied to optional fields the producer leaves out.
const (
	DefaultSchemaVersion = 1
	DefaultSource        = "ingest"
	DefaultEntityType    = "cell"
)

// CanonicalTimeLayout is the UTC form event_time is normalized to before storage.
const CanonicalTimeLayout = "2006-01-02T15:04:05.000Z"

// EventIngestRequest is the POST /v1/events payload.
// Required fields are kept raw so that absent, null and wrongly shaped values
// can be told apart during validation.
type EventIngestRequest struct {
	EventID       *string         `json:"event_id,omitempty"`
	SchemaVersion *int            `json:"schema_version,omitempty"`
	Source        *string         `json:"source,omitempty"`
	EventTime     json.RawMessage `json:"event_time"`
	EntityType    *string         `json:"entity_type,omitempty"`
	EntityID      json.RawMessage `json:"entity_id"`
	Metrics       json.RawMessage `json:"metrics"`
}

// Event is a validated, normalized PM measurement ready for the store.
// An empty EventID asks the store to generate one.
type Event struct {
	EventID       string             `json:"event_id"`
	SchemaVersion int                `json:"schema_version"`
	Source        string             `json:"source"`
	EventTime     time.Time          `json:"event_time"`
	EntityType    string             `json:"entity_type"`
	EntityID      string             `json:"entity_id"`
	Metrics       map[string]float64 `json:"metrics"`
}

// CanonicalEventTime renders EventTime in CanonicalTimeLayout.
func (e Event) CanonicalEventTime() string {
	return e.EventTime.UTC().Format(CanonicalTimeLayout)
}

// EventIngestResponse is returned with 201 Created.
type EventIngestResponse struct {
	EventID string `json:"event_id"`
}

// ErrorResponse is returned for every non-2xx outcome of POST /v1/events.
// EventID is only set for duplicate_event.
type ErrorResponse struct {
	Error   string `json:"error"`
	EventID string `json:"event_id,omitempty"`
}
