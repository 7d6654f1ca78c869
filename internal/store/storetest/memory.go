package storetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/PratikDhanave/pm-event-ingest/internal/models"
	"github.com/PratikDhanave/pm-event-ingest/internal/store"
)

// MemoryStore is an in-memory stand-in for store.PostgresStore.
// Inserts are first-writer-wins per event_id, like the primary key.
type MemoryStore struct {
	mu      sync.Mutex
	events  map[string]models.Event
	Calls   int
	PingErr error
	// InsertErr, when set, is returned wrapped in store.ErrStorageUnavailable.
	InsertErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: map[string]models.Event{}}
}

func (m *MemoryStore) InsertEvent(ctx context.Context, ev models.Event) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++

	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if m.InsertErr != nil {
		return ev.EventID, false, unavailable(m.InsertErr)
	}
	if err := ctx.Err(); err != nil {
		return ev.EventID, false, unavailable(err)
	}
	if _, ok := m.events[ev.EventID]; ok {
		return ev.EventID, false, nil
	}
	m.events[ev.EventID] = ev
	return ev.EventID, true, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PingErr != nil {
		return unavailable(m.PingErr)
	}
	return nil
}

// Get returns the stored event for id.
func (m *MemoryStore) Get(id string) (models.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	return ev, ok
}

// Len is the number of stored events.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", store.ErrStorageUnavailable, err)
}
