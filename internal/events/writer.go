package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"taskline/internal/domain"
)

// Writer appends mutation events to the events table.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

type Event struct {
	ID         int64        `json:"id"`
	TS         string       `json:"ts"`
	Type       string       `json:"type"`
	EntityKind string       `json:"entity_kind,omitempty"`
	EntityID   int          `json:"entity_id,omitempty"`
	Payload    EventPayload `json:"payload"`
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, m domain.Mutation, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339Nano)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, m.Type, nullable(string(m.Kind)), nullableID(m.EntityID), string(data))
	return err
}

// Tail returns the newest limit events, oldest first.
func (w Writer) Tail(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := w.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,entity_id,payload_json FROM (
		SELECT * FROM events ORDER BY id DESC LIMIT ?) ORDER BY id ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			e       Event
			kind    sql.NullString
			id      sql.NullInt64
			payload string
		)
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &kind, &id, &payload); err != nil {
			return nil, err
		}
		e.EntityKind = kind.String
		e.EntityID = int(id.Int64)
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("event %d payload: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableID(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
