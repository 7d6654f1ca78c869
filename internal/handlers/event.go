package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/pm-event-ingest/internal/models"
)

// EventStore performs the idempotent insert. inserted is false when an event
// with the same id already exists; eventID is the effective id either way.
type EventStore interface {
	InsertEvent(ctx context.Context, ev models.Event) (eventID string, inserted bool, err error)
}

// EventRoutes carries the dependencies of the ingestion endpoint.
type EventRoutes struct {
	Store        EventStore
	Logger       *slog.Logger
	Metrics      *Metrics
	MaxBodyBytes int64
}

// Register mounts the ingestion endpoint.
//
// POST /v1/events
// - 201 {"event_id"} when the event was stored
// - 409 {"error":"duplicate_event","event_id"} when the id already exists
// - 400 {"error":<code>} on validation failure, nothing is written
// - 500 {"error":"internal_server_error"} on storage failure; clients may retry
func (e EventRoutes) Register(r gin.IRoutes) {
	r.POST("/v1/events", e.postEvent)
}

func (e EventRoutes) postEvent(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, e.MaxBodyBytes)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			e.reject(c, http.StatusRequestEntityTooLarge, CodePayloadTooLarge)
			return
		}
		e.reject(c, http.StatusBadRequest, CodeInvalidBody)
		return
	}

	var req models.EventIngestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		e.reject(c, http.StatusBadRequest, CodeInvalidJSON)
		return
	}

	ev, verr := Validate(req)
	if verr != nil {
		e.reject(c, http.StatusBadRequest, verr.Code)
		return
	}

	id, inserted, err := e.Store.InsertEvent(c.Request.Context(), ev)
	if err != nil {
		e.Logger.Error("failed to insert event",
			"error", err,
			"event_id", id,
			"entity_id", ev.EntityID,
		)
		e.Metrics.EventsTotal.WithLabelValues(OutcomeError).Inc()
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: CodeInternalServerError})
		return
	}

	if !inserted {
		e.Logger.Info("duplicate event", "event_id", id)
		e.Metrics.EventsTotal.WithLabelValues(OutcomeDuplicate).Inc()
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: CodeDuplicateEvent, EventID: id})
		return
	}

	e.Metrics.EventsTotal.WithLabelValues(OutcomeCreated).Inc()
	c.JSON(http.StatusCreated, models.EventIngestResponse{EventID: id})
}

func (e EventRoutes) reject(c *gin.Context, status int, code string) {
	e.Logger.Debug("rejected event", "status", status, "error", code)
	e.Metrics.EventsTotal.WithLabelValues(OutcomeInvalid).Inc()
	c.JSON(status, models.ErrorResponse{Error: code})
}
