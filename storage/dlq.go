package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"go.uber.org/zap"
)

// DeadLetter is one rejected raw event
type DeadLetter struct {
	ID           int64
	SessionID    string
	Kind         string
	PID          uint32
	RawEvent     string
	ErrorReason  string
	ErrorDetails string
	CreatedAt    time.Time
}

// DeadLetterStore keeps raw events the sequencer rejected so malformed
// producer output can be inspected after the run
type DeadLetterStore struct {
	db      *SQLite
	session string
	logger  *zap.SugaredLogger
}

// NewDeadLetterStore records rejected events tagged with sessionID
func NewDeadLetterStore(db *SQLite, sessionID string, logger *zap.SugaredLogger) *DeadLetterStore {
	return &DeadLetterStore{db: db, session: sessionID, logger: logger}
}

// Add writes a rejected event
func (d *DeadLetterStore) Add(raw core.RawEvent, reason string, cause error) error {
	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal rejected event: %w", err)
	}
	details := ""
	if cause != nil {
		details = cause.Error()
	}

	query := `
		INSERT INTO dead_letter_queue
		(session_id, kind, pid, raw_event, error_reason, error_details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = d.db.WriteDB.Exec(query,
		d.session,
		string(raw.Kind),
		raw.PID,
		string(payload),
		reason,
		details,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to write event to dead letter queue: %w", err)
	}

	d.logger.Debugw("Event written to dead letter queue", "kind", raw.Kind, "reason", reason)
	return nil
}

// List returns up to limit rejected events, oldest first
func (d *DeadLetterStore) List(ctx context.Context, limit int) ([]DeadLetter, error) {
	query := `
		SELECT id, session_id, kind, pid, raw_event, error_reason, error_details, created_at
		FROM dead_letter_queue
		ORDER BY id ASC
		LIMIT ?
	`
	rows, err := d.db.ReadDB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letter queue: %w", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var (
			dl      DeadLetter
			created string
		)
		if err := rows.Scan(&dl.ID, &dl.SessionID, &dl.Kind, &dl.PID, &dl.RawEvent,
			&dl.ErrorReason, &dl.ErrorDetails, &created); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		if dl.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("failed to parse dead letter timestamp: %w", err)
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

// CountByReason returns the number of rejected events per reason
func (d *DeadLetterStore) CountByReason(ctx context.Context) (map[string]int64, error) {
	rows, err := d.db.ReadDB.QueryContext(ctx,
		"SELECT error_reason, COUNT(*) FROM dead_letter_queue GROUP BY error_reason")
	if err != nil {
		return nil, fmt.Errorf("failed to count dead letters: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			reason string
			n      int64
		)
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter count: %w", err)
		}
		out[reason] = n
	}
	return out, rows.Err()
}
