package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/thesisgrey/internal/results"
)

// Execution statuses.
const (
	ExecutionPending   = "pending"
	ExecutionRunning   = "running"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

// Execution is one provider call for one query.
type Execution struct {
	ID             string
	SessionID      string
	QueryID        *string
	QueryText      string
	ExecutionOrder int
	Status         string
	Engine         string
	ResultsCount   int
	CreditsUsed    int
	EstimatedCost  float64
	DurationMS     int64
	ErrorMessage   string
	RetryCount     int
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
}

// RawResult is a raw_search_results row.
type RawResult struct {
	ID           string
	ExecutionID  string
	Position     int
	Title        string
	Link         string
	Snippet      string
	DisplayLink  string
	RawData      json.RawMessage
	IsPDF        bool
	DetectedDate string
}

// ExecutionOutcome is what a finished provider call produced.
type ExecutionOutcome struct {
	Results  []RawResult
	Credits  int
	Cost     float64
	Duration time.Duration
	Err      string
}

const executionColumns = `e.id, e.session_id, e.query_id, e.query_text, e.execution_order, e.status, e.engine, e.results_count, e.credits_used,
  e.estimated_cost, e.duration_ms, e.error_message, e.retry_count, e.started_at, e.completed_at, e.created_at`

func scanExecution(row rowScanner) (Execution, error) {
	var (
		e                  Execution
		queryID            sql.NullString
		started, completed sql.NullTime
	)
	err := row.Scan(&e.ID, &e.SessionID, &queryID, &e.QueryText, &e.ExecutionOrder, &e.Status, &e.Engine, &e.ResultsCount, &e.CreditsUsed,
		&e.EstimatedCost, &e.DurationMS, &e.ErrorMessage, &e.RetryCount, &started, &completed, &e.CreatedAt)
	if err != nil {
		return Execution{}, err
	}
	e.QueryID = stringPtr(queryID)
	e.StartedAt = timePtr(started)
	e.CompletedAt = timePtr(completed)
	return e, nil
}

// CreateExecutions inserts one pending execution per query.
func (s *Store) CreateExecutions(ctx context.Context, sessionID, engine string, queries []QueryRecord) ([]Execution, error) {
	out := make([]Execution, 0, len(queries))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, q := range queries {
			row := tx.QueryRowContext(ctx, `INSERT INTO search_executions AS e (id, session_id, query_id, query_text, execution_order, status, engine)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING `+executionColumns,
				uuid.NewString(), sessionID, nullString(q.ID), q.Text, q.ExecutionOrder, ExecutionPending, engine)
			e, err := scanExecution(row)
			if err != nil {
				return fmt.Errorf("insert execution: %w", err)
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) MarkExecutionRunning(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE search_executions SET status=$2, started_at=NOW(), error_message='' WHERE id=$1`, id, ExecutionRunning)
	return err
}

// FinishExecution stores the outcome. A successful outcome replaces any raw
// results of a previous attempt.
func (s *Store) FinishExecution(ctx context.Context, id string, out ExecutionOutcome) error {
	status := ExecutionCompleted
	if out.Err != "" {
		status = ExecutionFailed
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if status == ExecutionCompleted {
			if _, err := tx.ExecContext(ctx, `DELETE FROM raw_search_results WHERE execution_id=$1`, id); err != nil {
				return err
			}
			for _, r := range out.Results {
				raw := r.RawData
				if len(raw) == 0 {
					raw = json.RawMessage(`{}`)
				}
				if _, err := tx.ExecContext(ctx, `INSERT INTO raw_search_results (id, execution_id, position, title, link, snippet, display_link, raw_data, is_pdf, detected_date)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
					uuid.NewString(), id, r.Position, r.Title, r.Link, r.Snippet, r.DisplayLink, []byte(raw), r.IsPDF, r.DetectedDate); err != nil {
					return fmt.Errorf("insert raw result: %w", err)
				}
			}
		}
		_, err := tx.ExecContext(ctx, `UPDATE search_executions SET status=$2, results_count=$3, credits_used=credits_used+$4,
  estimated_cost=estimated_cost+$5, duration_ms=$6, error_message=$7, completed_at=NOW()
WHERE id=$1`, id, status, len(out.Results), out.Credits, out.Cost, out.Duration.Milliseconds(), out.Err)
		return err
	})
}

// PrepareRetry resets a failed execution to pending and bumps retry_count.
func (s *Store) PrepareRetry(ctx context.Context, id string) (Execution, error) {
	row := s.DB.QueryRowContext(ctx, `UPDATE search_executions AS e SET status=$2, retry_count=retry_count+1, error_message='', completed_at=NULL
WHERE id=$1 AND status=$3
RETURNING `+executionColumns, id, ExecutionPending, ExecutionFailed)
	e, err := scanExecution(row)
	return e, notFound(err)
}

// GetExecution returns an execution visible to ownerID.
func (s *Store) GetExecution(ctx context.Context, id, ownerID string) (Execution, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+executionColumns+`
FROM search_executions e JOIN search_sessions s ON s.id = e.session_id
WHERE e.id=$1 AND s.owner_id=$2`, id, ownerID)
	e, err := scanExecution(row)
	return e, notFound(err)
}

func (s *Store) ListExecutions(ctx context.Context, sessionID string) ([]Execution, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+executionColumns+`
FROM search_executions e WHERE e.session_id=$1 ORDER BY e.created_at DESC, e.execution_order ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ExecutionStats summarises every execution of a session.
type ExecutionStats struct {
	Total           int
	Completed       int
	Failed          int
	Pending         int
	TotalResults    int
	TotalCredits    int
	TotalCost       float64
	TotalDurationMS int64
}

func (s *Store) ExecutionStats(ctx context.Context, sessionID string) (ExecutionStats, error) {
	var st ExecutionStats
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*),
  COUNT(*) FILTER (WHERE status='completed'),
  COUNT(*) FILTER (WHERE status='failed'),
  COUNT(*) FILTER (WHERE status IN ('pending','running')),
  COALESCE(SUM(results_count),0), COALESCE(SUM(credits_used),0), COALESCE(SUM(estimated_cost),0), COALESCE(SUM(duration_ms),0)
FROM search_executions WHERE session_id=$1`, sessionID).Scan(
		&st.Total, &st.Completed, &st.Failed, &st.Pending, &st.TotalResults, &st.TotalCredits, &st.TotalCost, &st.TotalDurationMS)
	return st, err
}

// ListRawInputs loads the raw hits of completed executions in processing order.
func (s *Store) ListRawInputs(ctx context.Context, sessionID string) ([]results.RawInput, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT r.id, e.execution_order, r.position, r.title, r.link, r.snippet, r.display_link, r.detected_date, r.raw_data
FROM raw_search_results r JOIN search_executions e ON e.id = r.execution_id
WHERE e.session_id=$1 AND e.status='completed'
ORDER BY e.execution_order ASC, e.created_at ASC, r.position ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []results.RawInput
	for rows.Next() {
		var r results.RawInput
		if err := rows.Scan(&r.ID, &r.ExecutionOrder, &r.Position, &r.Title, &r.Link, &r.Snippet, &r.DisplayLink, &r.Date, &r.Raw); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountRawResults is the number of raw hits stored for a session.
func (s *Store) CountRawResults(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_search_results r JOIN search_executions e ON e.id = r.execution_id WHERE e.session_id=$1`, sessionID).Scan(&n)
	return n, err
}
