package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"taskline/internal/domain"
	"taskline/internal/events"
)

// Mirror keeps the records table equal to the engine state and logs each
// mutation to the events table in the same transaction.
type Mirror struct {
	DB     *sql.DB
	Events events.Writer
	Logger *slog.Logger
}

func NewMirror(conn *sql.DB, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{DB: conn, Events: events.Writer{DB: conn}, Logger: logger}
}

// Load returns the stored records in their saved order.
func (m *Mirror) Load(ctx context.Context) ([]domain.Record, error) {
	rows, err := m.DB.QueryContext(ctx, `SELECT id,type,name,status,description,epic_id,duration,start_time FROM records ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Record
	for rows.Next() {
		var (
			r     domain.Record
			epic  sql.NullInt64
			start sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Type, &r.Name, &r.Status, &r.Description, &epic, &r.Minutes, &start); err != nil {
			return nil, err
		}
		r.EpicID = int(epic.Int64)
		if start.Valid {
			ts, err := time.Parse(time.RFC3339, start.String)
			if err != nil {
				return nil, fmt.Errorf("record %d start_time: %w", r.ID, err)
			}
			r.Start = &ts
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (m *Mirror) Save(ctx context.Context, mut domain.Mutation, records []domain.Record) error {
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records(id,position,type,name,status,description,epic_id,duration,start_time) VALUES (?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, r := range records {
		var epic, start any
		if r.EpicID != 0 {
			epic = r.EpicID
		}
		if r.Start != nil {
			start = r.Start.UTC().Format(time.RFC3339)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, i, string(r.Type), r.Name, string(r.Status), r.Description, epic, r.Minutes, start); err != nil {
			return fmt.Errorf("insert record %d: %w", r.ID, err)
		}
	}
	if err := m.Events.Append(ctx, tx, mut, events.EventPayload{"records": len(records)}); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	m.Logger.Debug("sqlite saved", "mutation", mut.Type, "records", len(records))
	return nil
}

// LatestEvents returns the newest n mutation events, oldest first.
func (m *Mirror) LatestEvents(ctx context.Context, n int) ([]events.Event, error) {
	return m.Events.Tail(ctx, n)
}
