package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"go.uber.org/zap"
)

// ErrArchiveClosed is returned by Write after Close
var ErrArchiveClosed = errors.New("alert archive closed")

// AlertArchive stores every delivered alert in the alerts table. It
// satisfies the dispatcher's sink contract.
type AlertArchive struct {
	db      *SQLite
	session string
	logger  *zap.SugaredLogger
	closed  atomic.Bool
}

// NewAlertArchive writes alerts tagged with sessionID
func NewAlertArchive(db *SQLite, sessionID string, logger *zap.SugaredLogger) *AlertArchive {
	return &AlertArchive{db: db, session: sessionID, logger: logger}
}

// Name is the sink label used in metrics and logs
func (a *AlertArchive) Name() string { return "sqlite" }

// Write inserts one alert
func (a *AlertArchive) Write(ctx context.Context, alert *core.AlertRecord) error {
	if a.closed.Load() {
		return ErrArchiveClosed
	}

	query := `
		INSERT INTO alerts
		(session_id, timestamp, pid, image_path, target_path, rule_name, event_id,
		 alert_kind, note, opener_pid, opener_image, operation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := a.db.WriteDB.ExecContext(ctx, query,
		a.session,
		alert.Timestamp.UTC().Format(time.RFC3339Nano),
		alert.PID,
		alert.ImagePath,
		alert.TargetPath,
		alert.RuleName,
		alert.EventID,
		string(alert.Kind),
		alert.Note,
		nullInt(int64(alert.OpenerPID)),
		nullString(alert.OpenerImage),
		nullString(string(alert.Operation)),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// Close stops accepting writes. The database itself is closed by its owner.
func (a *AlertArchive) Close() error {
	a.closed.Store(true)
	return nil
}

// Recent returns up to limit alerts, newest first
func (a *AlertArchive) Recent(ctx context.Context, limit int) ([]*core.AlertRecord, error) {
	query := `
		SELECT timestamp, pid, image_path, target_path, rule_name, event_id, alert_kind, note,
		       COALESCE(opener_pid, 0), COALESCE(opener_image, ''), COALESCE(operation, '')
		FROM alerts
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := a.db.ReadDB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			a.logger.Debugw("Failed to close alert rows", "error", err)
		}
	}()

	var out []*core.AlertRecord
	for rows.Next() {
		var (
			rec  core.AlertRecord
			ts   string
			kind string
			op   string
		)
		if err := rows.Scan(&ts, &rec.PID, &rec.ImagePath, &rec.TargetPath, &rec.RuleName,
			&rec.EventID, &kind, &rec.Note, &rec.OpenerPID, &rec.OpenerImage, &op); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse alert timestamp %q: %w", ts, err)
		}
		rec.Timestamp = parsed
		rec.Kind = core.AlertKind(kind)
		rec.Operation = core.IOOp(op)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Count returns the number of archived alerts for the session, or for all
// sessions when sessionID is empty
func (a *AlertArchive) Count(ctx context.Context, sessionID string) (int64, error) {
	var (
		n   int64
		err error
	)
	if sessionID == "" {
		err = a.db.ReadDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts").Scan(&n)
	} else {
		err = a.db.ReadDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts WHERE session_id = ?", sessionID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
