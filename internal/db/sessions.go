package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/motionmatch/internal/motion/debug"
)

// ErrSessionNotFound is returned when no session has the requested ID.
var ErrSessionNotFound = errors.New("search session not found")

// Session is a stored run of recorded searches.
type Session struct {
	SessionID string        `json:"session_id"`
	Name      string        `json:"name"`
	CacheName string        `json:"cache_name,omitempty"`
	Summary   debug.Summary `json:"summary"`
	CreatedAt int64         `json:"created_at"`
}

// SaveSession stores the recorder's searches and their summary under a new
// session ID. Trajectories are not persisted.
func (db *DB) SaveSession(name, cacheName string, rec *debug.Recorder) (*Session, error) {
	s := &Session{
		SessionID: uuid.New().String(),
		Name:      name,
		CacheName: cacheName,
		Summary:   rec.Summarize(),
		CreatedAt: time.Now().UnixNano(),
	}
	records := rec.All()

	err := retryOnBusy(func() error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`
			INSERT INTO search_sessions (
				session_id, name, cache_name, searches, commits, clip_changes,
				mean_cost, median_cost, p95_cost, max_cost, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.SessionID, s.Name, nullString(s.CacheName), s.Summary.Searches, s.Summary.Commits, s.Summary.ClipChanges,
			s.Summary.MeanCost, s.Summary.MedianCost, s.Summary.P95Cost, s.Summary.MaxCost, s.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO search_records (
				session_id, seq, t, pose_index, from_clip, to_clip, to_clip_time,
				cost, current_cost, trajectory_cost, pose_cost, heading_cost, bias_cost,
				committed, reason, strafe_mode, required_tags
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range records {
			tags, err := json.Marshal(r.RequiredTags)
			if err != nil {
				return err
			}
			if _, err := stmt.Exec(
				s.SessionID, r.Seq, r.Time, r.PoseIndex, r.FromClip, r.ToClip, r.ToClipTime,
				nullFloat(r.Cost), nullFloat(r.CurrentCost), nullFloat(r.TrajectoryCost),
				nullFloat(r.PoseCost), nullFloat(r.HeadingCost), nullFloat(r.BiasCost),
				r.Committed, r.Reason, r.StrafeMode, string(tags),
			); err != nil {
				return fmt.Errorf("insert search %d: %w", r.Seq, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save session %q: %w", name, err)
	}
	return s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	var cache sql.NullString
	err := row.Scan(&s.SessionID, &s.Name, &cache, &s.Summary.Searches, &s.Summary.Commits, &s.Summary.ClipChanges,
		&s.Summary.MeanCost, &s.Summary.MedianCost, &s.Summary.P95Cost, &s.Summary.MaxCost, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.CacheName = cache.String
	if s.Summary.Searches > 0 {
		s.Summary.CommitRate = float64(s.Summary.Commits) / float64(s.Summary.Searches)
	}
	return &s, nil
}

const sessionColumns = `session_id, name, cache_name, searches, commits, clip_changes,
	mean_cost, median_cost, p95_cost, max_cost, created_at`

// GetSession returns the session with the given ID.
func (db *DB) GetSession(id string) (*Session, error) {
	s, err := scanSession(db.QueryRow(`SELECT `+sessionColumns+` FROM search_sessions WHERE session_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return s, err
}

// ListSessions returns the stored sessions, newest first.
func (db *DB) ListSessions() ([]*Session, error) {
	rows, err := db.Query(`SELECT ` + sessionColumns + ` FROM search_sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// SessionRecords returns a session's searches in sequence order. When
// committedOnly is set only the committed searches are returned.
func (db *DB) SessionRecords(id string, committedOnly bool) ([]debug.SearchRecord, error) {
	query := `
		SELECT seq, t, pose_index, from_clip, to_clip, to_clip_time,
			cost, current_cost, trajectory_cost, pose_cost, heading_cost, bias_cost,
			committed, reason, strafe_mode, required_tags
		FROM search_records WHERE session_id = ?`
	if committedOnly {
		query += ` AND committed = 1`
	}
	query += ` ORDER BY seq`

	rows, err := db.Query(query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []debug.SearchRecord
	for rows.Next() {
		var r debug.SearchRecord
		var cost, current, traj, pose, heading, bias sql.NullFloat64
		var tags sql.NullString
		if err := rows.Scan(&r.Seq, &r.Time, &r.PoseIndex, &r.FromClip, &r.ToClip, &r.ToClipTime,
			&cost, &current, &traj, &pose, &heading, &bias,
			&r.Committed, &r.Reason, &r.StrafeMode, &tags); err != nil {
			return nil, err
		}
		r.Cost = floatOrInf(cost)
		r.CurrentCost = floatOrInf(current)
		r.TrajectoryCost = floatOrInf(traj)
		r.PoseCost = floatOrInf(pose)
		r.HeadingCost = floatOrInf(heading)
		r.BiasCost = floatOrInf(bias)
		if tags.Valid && tags.String != "" {
			if err := json.Unmarshal([]byte(tags.String), &r.RequiredTags); err != nil {
				return nil, fmt.Errorf("decode tags for search %d: %w", r.Seq, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its searches.
func (db *DB) DeleteSession(id string) error {
	res, err := db.Exec(`DELETE FROM search_sessions WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}
	return nil
}
