package handlers

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"

	"github.com/PratikDhanave/pm-event-ingest/internal/models"
)

// Reason codes returned as {"error": code}.
const (
	CodeMissingRequiredField = "missing_required_field"
	CodeInvalidMetricsShape  = "invalid_metrics_shape"
	CodeInvalidTimestamp     = "invalid_timestamp"
	CodeInvalidEventID       = "invalid_event_id"

	CodeInvalidJSON                = "invalid_json"
	CodeInvalidBody                = "invalid_body"
	CodePayloadTooLarge            = "payload_too_large"
	CodeUnsupportedContentEncoding = "unsupported_content_encoding"
	CodeDuplicateEvent             = "duplicate_event"
	CodeInternalServerError        = "internal_server_error"
)

// maxEpochMillis bounds numeric event_time values.
const maxEpochMillis = 8.64e15

// ValidationError is a client-caused rejection. It is never retried.
type ValidationError struct {
	Code string
}

func (e *ValidationError) Error() string { return "validation failed: " + e.Code }

func invalid(code string) *ValidationError { return &ValidationError{Code: code} }

// Validate checks req and returns the normalized event.
// Checks run in order and the first failure wins: required fields,
// metrics shape, timestamp, event id.
func Validate(req models.EventIngestRequest) (models.Event, *ValidationError) {
	entityID, ok := requiredString(req.EntityID)
	if isFalsy(req.EventTime) || !ok || isFalsy(req.Metrics) {
		return models.Event{}, invalid(CodeMissingRequiredField)
	}

	metrics, ok := parseMetrics(req.Metrics)
	if !ok {
		return models.Event{}, invalid(CodeInvalidMetricsShape)
	}

	eventTime, ok := parseEventTime(req.EventTime)
	if !ok {
		return models.Event{}, invalid(CodeInvalidTimestamp)
	}

	ev := models.Event{
		SchemaVersion: models.DefaultSchemaVersion,
		Source:        models.DefaultSource,
		EventTime:     eventTime.UTC().Truncate(time.Millisecond),
		EntityType:    models.DefaultEntityType,
		EntityID:      entityID,
		Metrics:       metrics,
	}
	if req.SchemaVersion != nil {
		ev.SchemaVersion = *req.SchemaVersion
	}
	if req.Source != nil && *req.Source != "" {
		ev.Source = *req.Source
	}
	if req.EntityType != nil && *req.EntityType != "" {
		ev.EntityType = *req.EntityType
	}

	if req.EventID != nil && *req.EventID != "" {
		id, err := uuid.Parse(strings.TrimSpace(*req.EventID))
		if err != nil {
			return models.Event{}, invalid(CodeInvalidEventID)
		}
		ev.EventID = id.String()
	}

	return ev, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// isFalsy reports absent, null, "", false and numeric zero. These count as
// missing for the required fields.
func isFalsy(raw json.RawMessage) bool {
	if isNull(raw) {
		return true
	}
	switch trimmed := string(bytes.TrimSpace(raw)); trimmed {
	case `""`, "false":
		return true
	default:
		var n json.Number
		if err := json.Unmarshal([]byte(trimmed), &n); err != nil {
			return false
		}
		f, err := n.Float64()
		return err == nil && f == 0
	}
}

// requiredString accepts only a non-empty JSON string.
func requiredString(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}

// parseMetrics accepts a JSON object whose values are all numbers.
func parseMetrics(raw json.RawMessage) (map[string]float64, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}

	out := make(map[string]float64, len(obj))
	for k, v := range obj {
		n, ok := v.(json.Number)
		if !ok {
			return nil, false
		}
		f, err := n.Float64()
		if err != nil || math.IsInf(f, 0) {
			return nil, false
		}
		out[k] = f
	}
	return out, true
}

// usZones are the named zones Date.parse understands besides UTC and GMT.
var usZones = map[string]int{
	"EST": -5 * 3600, "EDT": -4 * 3600,
	"CST": -6 * 3600, "CDT": -5 * 3600,
	"MST": -7 * 3600, "MDT": -6 * 3600,
	"PST": -8 * 3600, "PDT": -7 * 3600,
}

// resolveZone fixes times parsed with a zone abbreviation that the parser
// could not place. Such times carry the name with a zero offset. Known US
// zones get their real offset; anything else is rejected.
func resolveZone(t time.Time) (time.Time, bool) {
	name, offset := t.Zone()
	if offset != 0 {
		return t, true
	}
	switch strings.ToUpper(name) {
	case "", "UTC", "GMT", "Z", "UT":
		return t, true
	}
	off, ok := usZones[strings.ToUpper(name)]
	if !ok {
		return time.Time{}, false
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(),
		time.FixedZone(name, off)), true
}

// parseEventTime accepts a timestamp string or epoch milliseconds.
// Strings without a zone are read as UTC.
func parseEventTime(raw json.RawMessage) (time.Time, bool) {
	trimmed := bytes.TrimSpace(raw)

	var t time.Time
	switch {
	case len(trimmed) > 0 && trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return time.Time{}, false
		}
		s = strings.TrimSpace(s)
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			parsed, err = dateparse.ParseIn(s, time.UTC)
			if err != nil {
				return time.Time{}, false
			}
			zoned, ok := resolveZone(parsed)
			if !ok {
				return time.Time{}, false
			}
			parsed = zoned
		}
		t = parsed

	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return time.Time{}, false
		}
		ms, err := n.Float64()
		if err != nil || math.Abs(ms) > maxEpochMillis {
			return time.Time{}, false
		}
		t = time.UnixMilli(int64(ms))
	}

	if y := t.UTC().Year(); y < 1 || y > 9999 {
		return time.Time{}, false
	}
	return t, true
}
