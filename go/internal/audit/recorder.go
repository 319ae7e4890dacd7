// Package audit keeps an append-only Postgres log of room events. The log is
// never read back by the server, so no room state survives a restart.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/cuetimer/go/internal/dbconfig"
	"github.com/mcdev12/cuetimer/go/internal/events"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS room_events (
	id          UUID PRIMARY KEY,
	room_id     TEXT        NOT NULL,
	event_type  TEXT        NOT NULL,
	command     TEXT        NOT NULL DEFAULT '',
	snapshot    JSONB,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS room_events_room_occurred_idx ON room_events (room_id, occurred_at);
`

const insertEventSQL = `
INSERT INTO room_events (id, room_id, event_type, command, snapshot, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING
`

// Recorder writes room events to Postgres. It implements events.Publisher.
type Recorder struct {
	db *sql.DB
}

// NewRecorder wraps an open database handle
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// Open connects to Postgres and makes sure the schema exists
func Open(ctx context.Context, cfg dbconfig.Config) (*Recorder, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := NewRecorder(db)
	if err := r.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("audit log connected")
	return r, nil
}

// EnsureSchema creates the room_events table if missing
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create room_events table: %w", err)
	}
	return nil
}

// Publish inserts one event. Re-delivered events are ignored.
func (r *Recorder) Publish(ctx context.Context, event events.RoomEvent) error {
	row := toRow(event)
	if _, err := r.db.ExecContext(ctx, insertEventSQL,
		row.ID, row.RoomID, row.EventType, row.Command, row.Snapshot, row.OccurredAt,
	); err != nil {
		return fmt.Errorf("insert room event %s: %w", event.ID, err)
	}
	return nil
}

// Name identifies the recorder in health reports
func (r *Recorder) Name() string {
	return "audit"
}

// Ping checks the database connection
func (r *Recorder) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database handle
func (r *Recorder) Close() error {
	return r.db.Close()
}

type eventRow struct {
	ID         string
	RoomID     string
	EventType  string
	Command    string
	Snapshot   pqtype.NullRawMessage
	OccurredAt time.Time
}

func toRow(event events.RoomEvent) eventRow {
	return eventRow{
		ID:        event.ID.String(),
		RoomID:    event.RoomID,
		EventType: string(event.Type),
		Command:   event.Command,
		Snapshot: pqtype.NullRawMessage{
			RawMessage: event.Snapshot,
			Valid:      len(event.Snapshot) > 0,
		},
		OccurredAt: event.OccurredAt,
	}
}
