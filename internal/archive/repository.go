// Package archive stores telemetry snapshots consumed from the broker and
// serves them back over HTTP.
package archive

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/g2-field-team/field-daq/internal/protocol"
)

//go:embed sql/insert-run.sql
var insertRunSQL string

//go:embed sql/upsert-channel.sql
var upsertChannelSQL string

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/get-channels.sql
var getChannelsSQL string

//go:embed sql/get-latest-readings.sql
var getLatestReadingsSQL string

//go:embed sql/get-readings.sql
var getReadingsSQL string

// tsLayout is fixed width so stored timestamps sort as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Channel struct {
	ID        string    `json:"hw_id"`
	Node      string    `json:"node"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

type Reading struct {
	ID          string    `json:"hw_id"`
	Time        time.Time `json:"ts"`
	Current     float64   `json:"current"`
	Temperature float64   `json:"temperature"`
	RunID       string    `json:"run_id"`
}

type Repository interface {
	StartRun(id, topic string, started time.Time) error
	InsertSnapshot(runID, node string, ts time.Time, readings []protocol.Reading) error
	ListChannels() ([]Channel, error)
	LatestReadings(id string, limit int) ([]Reading, error)
	Readings(id string, from, to time.Time, limit int) ([]Reading, error)
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) StartRun(id, topic string, started time.Time) error {
	if _, err := r.db.Exec(insertRunSQL, id, formatTS(started), topic); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// InsertSnapshot stores one snapshot atomically: every channel row is
// upserted and one reading per channel is written at ts.
func (r *repositoryImpl) InsertSnapshot(runID, node string, ts time.Time, readings []protocol.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	tsStr := formatTS(ts)

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, rd := range readings {
		if _, err := tx.Exec(upsertChannelSQL, rd.ID, node, tsStr, tsStr); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert channel %s: %w", rd.ID, err)
		}
		if _, err := tx.Exec(insertReadingSQL, rd.ID, tsStr, rd.Current, rd.Temperature, runID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert reading %s: %w", rd.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *repositoryImpl) ListChannels() ([]Channel, error) {
	rows, err := r.db.Query(getChannelsSQL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close channel rows", "error", err)
		}
	}()

	out := []Channel{}
	for rows.Next() {
		var (
			c           Channel
			first, last string
		)
		if err := rows.Scan(&c.ID, &c.Node, &first, &last); err != nil {
			return nil, err
		}
		if c.FirstSeen, err = parseTS(first); err != nil {
			return nil, err
		}
		if c.LastSeen, err = parseTS(last); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LatestReadings returns up to limit readings for id, newest first.
func (r *repositoryImpl) LatestReadings(id string, limit int) ([]Reading, error) {
	rows, err := r.db.Query(getLatestReadingsSQL, id, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close latest readings rows", "error", err)
		}
	}()
	return scanReadings(rows)
}

// Readings returns readings for id within [from, to], oldest first. A zero
// bound is open.
func (r *repositoryImpl) Readings(id string, from, to time.Time, limit int) ([]Reading, error) {
	fromArg, toArg := nullableTS(from), nullableTS(to)
	rows, err := r.db.Query(getReadingsSQL, id, fromArg, fromArg, toArg, toArg, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close readings rows", "error", err)
		}
	}()
	return scanReadings(rows)
}

func scanReadings(rows *sql.Rows) ([]Reading, error) {
	out := []Reading{}
	for rows.Next() {
		var (
			rec Reading
			ts  string
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.Current, &rec.Temperature, &rec.RunID); err != nil {
			return nil, err
		}
		t, err := parseTS(ts)
		if err != nil {
			return nil, err
		}
		rec.Time = t
		out = append(out, rec)
	}
	return out, rows.Err()
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullableTS(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTS(t)
}
