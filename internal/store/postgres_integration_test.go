package store

import (
	"context"
	_ "embed"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//go:embed schema.sql
var schemaSQL string

// integrationStore connects to INGEST_TEST_DATABASE_URL and applies schema.sql.
// Tests using it are skipped when the variable is unset.
func integrationStore(t *testing.T) *PostgresStore {
	t.Helper()

	dbURL := os.Getenv("INGEST_TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("INGEST_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := NewPostgresStore(ctx, Options{URL: dbURL, ConnectTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	_, err = s.pool.Exec(ctx, schemaSQL)
	require.NoError(t, err, "apply schema")
	return s
}

func deleteEvent(t *testing.T, s *PostgresStore, id string) {
	t.Helper()
	t.Cleanup(func() {
		if _, err := s.pool.Exec(context.Background(), `DELETE FROM analytics.pm_events WHERE event_id = $1`, id); err != nil {
			t.Logf("cleanup %s: %v", id, err)
		}
	})
}

func TestIntegration_ConcurrentInsertSameID(t *testing.T) {
	s := integrationStore(t)
	ctx := context.Background()
	id := uuid.NewString()
	deleteEvent(t, s, id)

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, inserted, err := s.InsertEvent(ctx, sampleEvent(id))
			assert.NoError(t, err)
			if inserted {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one racer must create the row")

	var rows int
	require.NoError(t, s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM analytics.pm_events WHERE event_id = $1`, id).Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestIntegration_DuplicateDoesNotOverwrite(t *testing.T) {
	s := integrationStore(t)
	ctx := context.Background()
	id := uuid.NewString()
	deleteEvent(t, s, id)

	first := sampleEvent(id)
	_, inserted, err := s.InsertEvent(ctx, first)
	require.NoError(t, err)
	require.True(t, inserted)

	second := sampleEvent(id)
	second.EntityID = "cell-other"
	second.Metrics = map[string]float64{"ul_prb_util_pct": 99}
	_, inserted, err = s.InsertEvent(ctx, second)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "cell-1", got.EntityID)
	assert.Equal(t, first.Metrics, got.Metrics)
}

func TestIntegration_EventTimeRoundTrip(t *testing.T) {
	s := integrationStore(t)
	ctx := context.Background()

	ev := sampleEvent("")
	ev.EventTime = time.Date(2026, 3, 29, 1, 30, 15, 123_000_000, time.FixedZone("CEST", 2*3600)).UTC()

	id, inserted, err := s.InsertEvent(ctx, ev)
	require.NoError(t, err)
	require.True(t, inserted)
	deleteEvent(t, s, id)

	got, err := s.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.EventTime.Equal(ev.EventTime), "got %s want %s", got.EventTime, ev.EventTime)
	assert.Equal(t, ev.CanonicalEventTime(), got.CanonicalEventTime())
}

func TestIntegration_Ping(t *testing.T) {
	s := integrationStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
