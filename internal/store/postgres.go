package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/PratikDhanave/pm-event-ingest/internal/models"
)

// ErrStorageUnavailable wraps every failure to reach or query the database.
// A duplicate event_id is not an error.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrNotFound is returned by GetEvent when no row has the requested id.
var ErrNotFound = errors.New("event not found")

const (
	defaultConnectTimeout = 5 * time.Second
	defaultQueryTimeout   = 5 * time.Second

	maxConnLifetime = 10 * time.Minute
	maxConnIdleTime = 5 * time.Minute
)

const insertEventSQL = `
	INSERT INTO analytics.pm_events
		(event_id, schema_version, source, event_time, entity_type, entity_id, metrics)
	VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (event_id) DO NOTHING
`

const getEventSQL = `
	SELECT event_id::text, schema_version, source, event_time, entity_type, entity_id, metrics
	FROM analytics.pm_events
	WHERE event_id = $1
`

// pool is the subset of *pgxpool.Pool the store uses.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Options configures NewPostgresStore.
type Options struct {
	URL            string
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	MaxConns       int32
	MinConns       int32
}

// PostgresStore is the durable persistence layer for PM events.
type PostgresStore struct {
	pool         pool
	queryTimeout time.Duration
	tracer       trace.Tracer
}

// NewPostgresStore creates a connection pool and fails fast if the DB is
// unreachable within the connect timeout.
func NewPostgresStore(ctx context.Context, opts Options) (*PostgresStore, error) {
	pc, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	pc.ConnConfig.ConnectTimeout = connectTimeout
	if opts.MaxConns > 0 {
		pc.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		pc.MinConns = opts.MinConns
	}
	pc.MaxConnLifetime = maxConnLifetime
	pc.MaxConnIdleTime = maxConnIdleTime

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	p, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("%w: create pool: %w", ErrStorageUnavailable, err)
	}

	s := newPostgresStore(p, opts.QueryTimeout)
	if err := s.Ping(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

func newPostgresStore(p pool, queryTimeout time.Duration) *PostgresStore {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &PostgresStore{
		pool:         p,
		queryTimeout: queryTimeout,
		tracer:       otel.Tracer("github.com/PratikDhanave/pm-event-ingest/internal/store"),
	}
}

// Ping runs a trivial round-trip query. Used by the readiness endpoint.
func (p *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	var one int
	if err := p.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// InsertEvent persists ev and reports inserted=false when event_id already exists.
// A missing event_id is generated here. The returned id is the effective one.
//
// Duplicate detection is left to the primary key on event_id: concurrent
// inserts of the same id resolve inside Postgres, exactly one wins.
func (p *PostgresStore) InsertEvent(ctx context.Context, ev models.Event) (string, bool, error) {
	id := ev.EventID
	if id == "" {
		id = uuid.NewString()
	}

	ctx, span := p.tracer.Start(ctx, "store.InsertEvent",
		trace.WithAttributes(attribute.String("event.id", id)))
	defer span.End()

	metrics := ev.Metrics
	if metrics == nil {
		metrics = map[string]float64{}
	}
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return id, false, p.fail(span, fmt.Errorf("%w: encode metrics: %w", ErrStorageUnavailable, err))
	}

	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	tag, err := p.pool.Exec(ctx, insertEventSQL,
		id,
		ev.SchemaVersion,
		ev.Source,
		ev.EventTime.UTC(),
		ev.EntityType,
		ev.EntityID,
		metricsJSON,
	)
	if err != nil {
		return id, false, p.fail(span, fmt.Errorf("%w: insert event: %w", ErrStorageUnavailable, err))
	}

	inserted := tag.RowsAffected() == 1
	span.SetAttributes(attribute.Bool("event.inserted", inserted))
	return id, inserted, nil
}

// GetEvent reads back a stored event.
func (p *PostgresStore) GetEvent(ctx context.Context, id string) (models.Event, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Event{}, ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	var ev models.Event
	err := p.pool.QueryRow(ctx, getEventSQL, id).Scan(
		&ev.EventID,
		&ev.SchemaVersion,
		&ev.Source,
		&ev.EventTime,
		&ev.EntityType,
		&ev.EntityID,
		&ev.Metrics,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Event{}, ErrNotFound
	}
	if err != nil {
		return models.Event{}, fmt.Errorf("%w: get event: %w", ErrStorageUnavailable, err)
	}
	ev.EventTime = ev.EventTime.UTC()
	return ev, nil
}

func (p *PostgresStore) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "insert failed")
	return err
}
