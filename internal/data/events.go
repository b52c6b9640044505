// Package data is the backend's Postgres layer: the history of suspicion
// scores, recording transitions and command responses that the REST read
// endpoints page through.
package data

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrRecordNotFound = errors.New("record not found")

// Event kinds stored in pipeline_events.
const (
	KindSuspicion = "suspicion"
	KindRecording = "recording"
	KindResponse  = "response"
)

// Event is one history row.
type Event struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Score      *float64  `json:"score,omitempty"`
	Recording  *bool     `json:"recording,omitempty"`
	Success    *bool     `json:"success,omitempty"`
	Message    string    `json:"message,omitempty"`
	RelatedTo  string    `json:"related_to,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RecordingSession is one recording window reconstructed from transitions.
type RecordingSession struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
}

// EventStore is what the broker bridge and the REST handlers need.
type EventStore interface {
	InsertSuspicion(ctx context.Context, score float64) error
	InsertRecording(ctx context.Context, recording bool) error
	InsertResponse(ctx context.Context, success bool, message, relatedTo string) error
	ListEvents(ctx context.Context, limit, offset int) ([]Event, error)
	ListRecordings(ctx context.Context, limit int) ([]RecordingSession, error)
}

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// EventModel implements EventStore on Postgres.
type EventModel struct {
	DB DBTX
	// NotifyFloor filters suspicion inserts: scores below it are noise and
	// not worth a row per frame.
	NotifyFloor float64
}

func (m EventModel) InsertSuspicion(ctx context.Context, score float64) error {
	if score < m.NotifyFloor {
		return nil
	}
	query := `
		INSERT INTO pipeline_events (id, kind, score, occurred_at)
		VALUES ($1, $2, $3, $4)`
	_, err := m.DB.ExecContext(ctx, query, uuid.New().String(), KindSuspicion, score, time.Now().UTC())
	return err
}

func (m EventModel) InsertRecording(ctx context.Context, recording bool) error {
	query := `
		INSERT INTO pipeline_events (id, kind, recording, occurred_at)
		VALUES ($1, $2, $3, $4)`
	_, err := m.DB.ExecContext(ctx, query, uuid.New().String(), KindRecording, recording, time.Now().UTC())
	return err
}

func (m EventModel) InsertResponse(ctx context.Context, success bool, message, relatedTo string) error {
	query := `
		INSERT INTO pipeline_events (id, kind, success, message, related_to, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := m.DB.ExecContext(ctx, query, uuid.New().String(), KindResponse, success, message, relatedTo, time.Now().UTC())
	return err
}

func (m EventModel) ListEvents(ctx context.Context, limit, offset int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT id, kind, score, recording, success, message, related_to, occurred_at
		FROM pipeline_events
		ORDER BY occurred_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := m.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var score sql.NullFloat64
		var recording, success sql.NullBool
		var message, relatedTo sql.NullString
		if err := rows.Scan(&e.ID, &e.Kind, &score, &recording, &success, &message, &relatedTo, &e.OccurredAt); err != nil {
			return nil, err
		}
		if score.Valid {
			e.Score = &score.Float64
		}
		if recording.Valid {
			e.Recording = &recording.Bool
		}
		if success.Valid {
			e.Success = &success.Bool
		}
		e.Message = message.String
		e.RelatedTo = relatedTo.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListRecordings pairs recording=true rows with the next recording=false row
// into sessions, newest first.
func (m EventModel) ListRecordings(ctx context.Context, limit int) ([]RecordingSession, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT id, recording, occurred_at
		FROM pipeline_events
		WHERE kind = $1
		ORDER BY occurred_at ASC`

	rows, err := m.DB.QueryContext(ctx, query, KindRecording)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []RecordingSession
	var open *RecordingSession
	for rows.Next() {
		var id string
		var recording bool
		var at time.Time
		if err := rows.Scan(&id, &recording, &at); err != nil {
			return nil, err
		}
		if recording {
			if open != nil {
				sessions = append(sessions, *open)
			}
			open = &RecordingSession{ID: id, StartedAt: at}
		} else if open != nil {
			stopped := at
			open.StoppedAt = &stopped
			sessions = append(sessions, *open)
			open = nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if open != nil {
		sessions = append(sessions, *open)
	}

	// Newest first, trimmed to the limit.
	for i, j := 0, len(sessions)-1; i < j; i, j = i+1, j-1 {
		sessions[i], sessions[j] = sessions[j], sessions[i]
	}
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}
