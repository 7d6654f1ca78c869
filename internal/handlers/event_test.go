package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/pm-event-ingest/internal/store/storetest"
)

const validPayload = `{
	"event_id": "22222222-2222-2222-2222-222222222222",
	"source": "jest-it",
	"event_time": "2026-01-01T00:00:00Z",
	"entity_type": "cell",
	"entity_id": "cell-it-001",
	"metrics": {"dl_prb_util_pct": 12.3, "ul_prb_util_pct": 4.5}
}`

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(st EventStore, maxBody int64) (*gin.Engine, *Metrics) {
	m := NewMetrics(prometheus.NewRegistry())
	r := gin.New()
	EventRoutes{
		Store:        st,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:      m,
		MaxBodyBytes: maxBody,
	}.Register(r)
	return r, m
}

func post(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), "body: %s", rr.Body.String())
	return out
}

func TestPostEvent_CreatedThenDuplicate(t *testing.T) {
	st := storetest.NewMemoryStore()
	r, m := newTestRouter(st, 1<<20)

	first := post(r, validPayload)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, map[string]string{"event_id": "22222222-2222-2222-2222-222222222222"}, decodeBody(t, first))

	second := post(r, validPayload)
	require.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, map[string]string{
		"error":    "duplicate_event",
		"event_id": "22222222-2222-2222-2222-222222222222",
	}, decodeBody(t, second))

	assert.Equal(t, 1, st.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues(OutcomeCreated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues(OutcomeDuplicate)))
}

func TestPostEvent_GeneratesDistinctIDs(t *testing.T) {
	st := storetest.NewMemoryStore()
	r, _ := newTestRouter(st, 1<<20)
	payload := `{"event_time":"2026-01-01T00:00:00Z","entity_id":"cell-1","metrics":{"dl_prb_util_pct":12.3}}`

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		rr := post(r, payload)
		require.Equal(t, http.StatusCreated, rr.Code)

		id := decodeBody(t, rr)["event_id"]
		_, err := uuid.Parse(id)
		require.NoError(t, err, "generated id %q must be a UUID", id)
		assert.False(t, seen[id], "id %s generated twice", id)
		seen[id] = true
	}
	assert.Equal(t, 20, st.Len())
}

func TestPostEvent_StoresNormalizedEvent(t *testing.T) {
	st := storetest.NewMemoryStore()
	r, _ := newTestRouter(st, 1<<20)

	rr := post(r, `{"event_time":"2026-01-01T02:00:00.5+02:00","entity_id":"cell-1","metrics":{"a":1}}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	ev, ok := st.Get(decodeBody(t, rr)["event_id"])
	require.True(t, ok)
	assert.Equal(t, "2026-01-01T00:00:00.500Z", ev.CanonicalEventTime())
	assert.Equal(t, "ingest", ev.Source)
	assert.Equal(t, "cell", ev.EntityType)
	assert.Equal(t, 1, ev.SchemaVersion)
}

func TestPostEvent_Rejections(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		maxBody        int64
		expectedStatus int
		expectedError  string
	}{
		{"empty object", `{}`, 1 << 20, http.StatusBadRequest, CodeMissingRequiredField},
		{"missing metrics", `{"event_time":"2026-01-01T00:00:00Z","entity_id":"c1"}`, 1 << 20, http.StatusBadRequest, CodeMissingRequiredField},
		{"array metrics", `{"event_time":"2026-01-01T00:00:00Z","entity_id":"c1","metrics":[1]}`, 1 << 20, http.StatusBadRequest, CodeInvalidMetricsShape},
		{"bad timestamp", `{"event_time":"yesterday-ish","entity_id":"c1","metrics":{"a":1}}`, 1 << 20, http.StatusBadRequest, CodeInvalidTimestamp},
		{"bad event_id", `{"event_id":"nope","event_time":"2026-01-01T00:00:00Z","entity_id":"c1","metrics":{"a":1}}`, 1 << 20, http.StatusBadRequest, CodeInvalidEventID},
		{"truncated json", `{"event_time":`, 1 << 20, http.StatusBadRequest, CodeInvalidJSON},
		{"array body", `[]`, 1 << 20, http.StatusBadRequest, CodeInvalidJSON},
		{"body too large", validPayload, 32, http.StatusRequestEntityTooLarge, CodePayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := storetest.NewMemoryStore()
			r, m := newTestRouter(st, tt.maxBody)

			rr := post(r, tt.body)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, map[string]string{"error": tt.expectedError}, decodeBody(t, rr))
			assert.Zero(t, st.Calls, "validation failures must not reach the store")
			assert.Zero(t, st.Len())
			assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues(OutcomeInvalid)))
		})
	}
}

func TestPostEvent_StorageFailureIsOpaque(t *testing.T) {
	st := storetest.NewMemoryStore()
	st.InsertErr = errors.New(`dial tcp 10.0.0.5:5432: connect: connection refused (user=telecom password=telecom)`)
	r, m := newTestRouter(st, 1<<20)

	rr := post(r, validPayload)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, map[string]string{"error": "internal_server_error"}, decodeBody(t, rr))
	assert.NotContains(t, rr.Body.String(), "10.0.0.5")
	assert.NotContains(t, rr.Body.String(), "password")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues(OutcomeError)))
}

func TestPostEvent_RetryAfterFailureSucceeds(t *testing.T) {
	st := storetest.NewMemoryStore()
	st.InsertErr = errors.New("timeout")
	r, _ := newTestRouter(st, 1<<20)

	require.Equal(t, http.StatusInternalServerError, post(r, validPayload).Code)

	st.InsertErr = nil
	assert.Equal(t, http.StatusCreated, post(r, validPayload).Code)
	assert.Equal(t, http.StatusConflict, post(r, validPayload).Code)
}

func TestPostEvent_ConcurrentSameIDExactlyOneCreated(t *testing.T) {
	st := storetest.NewMemoryStore()
	r, _ := newTestRouter(st, 1<<20)

	const n = 50
	var wg sync.WaitGroup
	codes := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewBufferString(validPayload))
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)
			codes <- rr.Code
		}()
	}
	wg.Wait()
	close(codes)

	counts := map[int]int{}
	for c := range codes {
		counts[c]++
	}
	assert.Equal(t, 1, counts[http.StatusCreated])
	assert.Equal(t, n-1, counts[http.StatusConflict])
	assert.Equal(t, 1, st.Len())
}
