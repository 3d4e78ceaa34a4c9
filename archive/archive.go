// CLAUDE:SUMMARY SQLite archive of recorded sessions and the geometry runs extracted from them.
// Package archive stores recorded sessions and geometry runs in SQLite
// (modernc.org/sqlite, no cgo). Bodies are kept as the exact JSON that
// was written to disk, so a session read back marshals byte for byte like
// the original.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/replaygeo/geometry"
	"github.com/hazyhaar/replaygeo/idgen"
	"github.com/hazyhaar/replaygeo/session"
)

// ErrNotFound is returned when a session or run is not archived.
var ErrNotFound = errors.New("archive: not found")

// Archive is a session and geometry store. Safe for concurrent use.
type Archive struct {
	db    *sql.DB
	now   func() time.Time
	newID idgen.Generator
}

// Open opens (creating if needed) the archive at path. ":memory:" opens a
// private in-memory archive.
func Open(path string) (*Archive, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &Archive{db: db, now: time.Now, newID: idgen.UUIDv7()}, nil
}

// Close closes the database.
func (a *Archive) Close() error { return a.db.Close() }

// SessionInfo describes an archived session.
type SessionInfo struct {
	ID         string
	StartedAt  int64
	EventCount int
	FirstTS    int64
	LastTS     int64
	SavedAt    time.Time
}

// SaveSession stores s, replacing any earlier copy with the same ID.
func (a *Archive) SaveSession(ctx context.Context, s *session.Session) error {
	body, err := s.MarshalIndent()
	if err != nil {
		return fmt.Errorf("archive: marshal session: %w", err)
	}
	var first, last sql.NullInt64
	if f, l, ok := session.TimeRange(s.Events); ok {
		first = sql.NullInt64{Int64: f, Valid: true}
		last = sql.NullInt64{Int64: l, Valid: true}
	}

	return runTx(ctx, a.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, started_at, event_count, first_ts, last_ts, body, saved_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				started_at = excluded.started_at,
				event_count = excluded.event_count,
				first_ts = excluded.first_ts,
				last_ts = excluded.last_ts,
				body = excluded.body,
				saved_at = excluded.saved_at`,
			s.SessionID, s.StartedAt, len(s.Events), first, last, body, a.now().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("archive: save session %s: %w", s.SessionID, err)
		}
		return nil
	})
}

// LoadSession returns the archived session id.
func (a *Archive) LoadSession(ctx context.Context, id string) (*session.Session, error) {
	var body []byte
	err := a.db.QueryRowContext(ctx, `SELECT body FROM sessions WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("archive: load session %s: %w", id, err)
	}
	s, err := session.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("archive: session %s: %w", id, err)
	}
	return s, nil
}

// ListSessions returns archived sessions, most recently started first.
// limit <= 0 returns all of them.
func (a *Archive) ListSessions(ctx context.Context, limit int) ([]SessionInfo, error) {
	q := `SELECT id, started_at, event_count, first_ts, last_ts, saved_at
		FROM sessions ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("archive: list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var si SessionInfo
		var first, last sql.NullInt64
		var saved int64
		if err := rows.Scan(&si.ID, &si.StartedAt, &si.EventCount, &first, &last, &saved); err != nil {
			return nil, fmt.Errorf("archive: scan session: %w", err)
		}
		si.FirstTS, si.LastTS = first.Int64, last.Int64
		si.SavedAt = time.UnixMilli(saved)
		out = append(out, si)
	}
	return out, rows.Err()
}

// GeometryRun is one archived extraction.
type GeometryRun struct {
	ID            string
	SessionID     string
	Recording     string
	StepMs        int64
	SnapshotCount int
	CreatedAt     time.Time
	Output        *geometry.Output
}

// SaveGeometry stores an extraction of an archived session and returns
// the run ID.
func (a *Archive) SaveGeometry(ctx context.Context, out *geometry.Output, stepMs int64) (string, error) {
	body, err := out.Marshal()
	if err != nil {
		return "", err
	}
	id := a.newID()
	err = runTx(ctx, a.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO geometry_runs (id, session_id, recording, step_ms, snapshot_count, body, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, out.SessionID, out.OriginalRecording, stepMs, len(out.Snapshots), body, a.now().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("archive: save geometry for %s: %w", out.SessionID, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// LatestGeometry returns the most recent run for sessionID.
func (a *Archive) LatestGeometry(ctx context.Context, sessionID string) (*GeometryRun, error) {
	var run GeometryRun
	var body []byte
	var created int64
	err := a.db.QueryRowContext(ctx, `
		SELECT id, session_id, recording, step_ms, snapshot_count, body, created_at
		FROM geometry_runs WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, sessionID,
	).Scan(&run.ID, &run.SessionID, &run.Recording, &run.StepMs, &run.SnapshotCount, &body, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: geometry for %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("archive: latest geometry for %s: %w", sessionID, err)
	}
	run.CreatedAt = time.UnixMilli(created)
	run.Output = &geometry.Output{}
	if err := json.Unmarshal(body, run.Output); err != nil {
		return nil, fmt.Errorf("archive: decode geometry %s: %w", run.ID, err)
	}
	return &run, nil
}
