package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/thesisgrey/internal/sessions"
)

// Session is a search_sessions row.
type Session struct {
	ID              string
	OwnerID         string
	Title           string
	Description     string
	Notes           string
	Status          sessions.Status
	TotalQueries    int
	TotalResults    int
	ReviewedResults int
	IncludedResults int
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const sessionColumns = `id, owner_id, title, description, notes, status, total_queries, total_results, reviewed_results, included_results, started_at, completed_at, created_at, updated_at`

func scanSession(row rowScanner) (Session, error) {
	var (
		s         Session
		status    string
		started   sql.NullTime
		completed sql.NullTime
	)
	err := row.Scan(&s.ID, &s.OwnerID, &s.Title, &s.Description, &s.Notes, &status,
		&s.TotalQueries, &s.TotalResults, &s.ReviewedResults, &s.IncludedResults,
		&started, &completed, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return Session{}, err
	}
	s.Status = sessions.Status(status)
	s.StartedAt = timePtr(started)
	s.CompletedAt = timePtr(completed)
	return s, nil
}

// CreateSession inserts a draft session and its "created" activity.
func (s *Store) CreateSession(ctx context.Context, ownerID, title, description string) (Session, error) {
	var out Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		id := uuid.NewString()
		row := tx.QueryRowContext(ctx, `INSERT INTO search_sessions (id, owner_id, title, description, status)
VALUES ($1,$2,$3,$4,$5)
RETURNING `+sessionColumns, id, ownerID, title, description, string(sessions.StatusDraft))
		sess, err := scanSession(row)
		if err != nil {
			return err
		}
		out = sess
		return insertActivity(ctx, tx, id, ownerID, sessions.ActivityCreated, "Session created", nil)
	})
	return out, err
}

// GetSession returns the session when it belongs to ownerID.
func (s *Store) GetSession(ctx context.Context, id, ownerID string) (Session, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM search_sessions WHERE id=$1 AND owner_id=$2`, id, ownerID)
	sess, err := scanSession(row)
	return sess, notFound(err)
}

// GetSessionByID skips the ownership check; for background jobs and the CLI.
func (s *Store) GetSessionByID(ctx context.Context, id string) (Session, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM search_sessions WHERE id=$1`, id)
	sess, err := scanSession(row)
	return sess, notFound(err)
}

// ListSessions returns the owner's sessions, most recently updated first.
// An empty status lists every status.
func (s *Store) ListSessions(ctx context.Context, ownerID string, status sessions.Status) ([]Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM search_sessions WHERE owner_id=$1`
	args := []any{ownerID}
	if status != "" {
		query += ` AND status=$2`
		args = append(args, string(status))
	}
	query += ` ORDER BY updated_at DESC`
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// UpdateSessionDetails changes the editable text fields.
func (s *Store) UpdateSessionDetails(ctx context.Context, id, ownerID, title, description, notes string) (Session, error) {
	var out Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `UPDATE search_sessions SET title=$3, description=$4, notes=$5, updated_at=NOW()
WHERE id=$1 AND owner_id=$2
RETURNING `+sessionColumns, id, ownerID, title, description, notes)
		sess, err := scanSession(row)
		if err != nil {
			return notFound(err)
		}
		out = sess
		return insertActivity(ctx, tx, id, ownerID, sessions.ActivityUpdated, "Session details updated", nil)
	})
	return out, err
}

// DeleteSession removes a draft session. Non-draft sessions are left alone
// and reported as not found.
func (s *Store) DeleteSession(ctx context.Context, id, ownerID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM search_sessions WHERE id=$1 AND owner_id=$2 AND status=$3`, id, ownerID, string(sessions.StatusDraft))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionSession moves a session to status `to` under a row lock. It
// returns the previous status. Same-status moves are accepted and record
// nothing.
func (s *Store) TransitionSession(ctx context.Context, id, userID string, to sessions.Status, reason string) (sessions.Status, error) {
	var from sessions.Status
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM search_sessions WHERE id=$1 FOR UPDATE`, id).Scan(&current); err != nil {
			return notFound(err)
		}
		from = sessions.Status(current)
		if err := sessions.Validate(from, to); err != nil {
			return err
		}
		if from == to {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE search_sessions SET
  status=$2,
  started_at = CASE WHEN $2 = 'executing' AND started_at IS NULL THEN NOW() ELSE started_at END,
  completed_at = CASE WHEN $2 = 'completed' THEN NOW() WHEN status = 'completed' THEN NULL ELSE completed_at END,
  updated_at=NOW()
WHERE id=$1`, id, string(to)); err != nil {
			return err
		}
		desc := sessions.StatusChangeDescription(from, to)
		if reason != "" {
			desc += ": " + reason
		}
		return insertActivity(ctx, tx, id, userID, sessions.ActivityStatusChanged, desc,
			map[string]any{"from": string(from), "to": string(to)})
	})
	return from, err
}

// StatusCount is one bucket of the dashboard breakdown.
type StatusCount struct {
	Status sessions.Status
	Count  int
}

// DashboardStats aggregates the owner's sessions.
type DashboardStats struct {
	ByStatus        []StatusCount
	TotalSessions   int
	TotalResults    int
	ReviewedResults int
	IncludedResults int
}

func (s *Store) DashboardStats(ctx context.Context, ownerID string) (DashboardStats, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*), COALESCE(SUM(total_results),0), COALESCE(SUM(reviewed_results),0), COALESCE(SUM(included_results),0)
FROM search_sessions WHERE owner_id=$1 GROUP BY status`, ownerID)
	if err != nil {
		return DashboardStats{}, err
	}
	defer rows.Close()
	counts := map[sessions.Status]int{}
	var out DashboardStats
	for rows.Next() {
		var (
			status                       string
			n, total, reviewed, included int
		)
		if err := rows.Scan(&status, &n, &total, &reviewed, &included); err != nil {
			return DashboardStats{}, err
		}
		counts[sessions.Status(status)] = n
		out.TotalSessions += n
		out.TotalResults += total
		out.ReviewedResults += reviewed
		out.IncludedResults += included
	}
	if err := rows.Err(); err != nil {
		return DashboardStats{}, err
	}
	for _, st := range sessions.All() {
		out.ByStatus = append(out.ByStatus, StatusCount{Status: st, Count: counts[st]})
	}
	return out, nil
}

// RefreshSessionCounters recomputes the denormalised counters from child rows.
func (s *Store) RefreshSessionCounters(ctx context.Context, sessionID string) error {
	return refreshCounters(ctx, s.DB, sessionID)
}

func refreshCounters(ctx context.Context, q querier, sessionID string) error {
	_, err := q.ExecContext(ctx, `UPDATE search_sessions s SET
  total_queries = (SELECT COUNT(*) FROM search_queries q WHERE q.session_id = s.id AND q.is_active),
  total_results = (SELECT COUNT(*) FROM processed_results pr WHERE pr.session_id = s.id),
  reviewed_results = (SELECT COUNT(*) FROM review_decisions d JOIN processed_results pr ON pr.id = d.result_id WHERE pr.session_id = s.id AND d.decision <> 'pending'),
  included_results = (SELECT COUNT(*) FROM review_decisions d JOIN processed_results pr ON pr.id = d.result_id WHERE pr.session_id = s.id AND d.decision = 'include'),
  updated_at = NOW()
WHERE s.id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("refresh counters: %w", err)
	}
	return nil
}

// Activity is one session_activities row.
type Activity struct {
	ID          string
	SessionID   string
	UserID      *string
	Type        sessions.ActivityType
	Description string
	Metadata    json.RawMessage
	CreatedAt   time.Time
}

// AddActivity appends an audit entry. userID may be empty for system actions.
func (s *Store) AddActivity(ctx context.Context, sessionID, userID string, typ sessions.ActivityType, description string, metadata map[string]any) error {
	return insertActivity(ctx, s.DB, sessionID, userID, typ, description, metadata)
}

func insertActivity(ctx context.Context, q querier, sessionID, userID string, typ sessions.ActivityType, description string, metadata map[string]any) error {
	meta, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO session_activities (id, session_id, user_id, type, description, metadata) VALUES ($1,$2,$3,$4,$5,$6)`,
		uuid.NewString(), sessionID, nullString(userID), string(typ), description, meta)
	return err
}

func (s *Store) ListActivities(ctx context.Context, sessionID string, limit int) ([]Activity, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, session_id, user_id, type, description, metadata, created_at
FROM session_activities WHERE session_id=$1 ORDER BY created_at DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Activity
	for rows.Next() {
		var (
			a    Activity
			user sql.NullString
			typ  string
			meta []byte
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &user, &typ, &a.Description, &meta, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.UserID = stringPtr(user)
		a.Type = sessions.ActivityType(typ)
		a.Metadata = json.RawMessage(meta)
		out = append(out, a)
	}
	return out, rows.Err()
}
