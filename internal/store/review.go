package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/thesisgrey/internal/review"
	"github.com/mohammad-safakhou/thesisgrey/internal/sessions"
)

// Tag is a review_tags row. OwnerID is nil for system tags.
type Tag struct {
	ID          string
	Name        string
	Color       string
	Description string
	OwnerID     *string
	IsSystem    bool
	CreatedAt   time.Time
}

// TagAssignment is a review_tag_assignments row.
type TagAssignment struct {
	ID        string
	ResultID  string
	TagID     string
	UserID    string
	Notes     string
	CreatedAt time.Time
}

// Decision is a review_decisions row.
type Decision struct {
	ResultID        string
	ReviewerID      string
	Decision        review.Decision
	ExclusionReason review.ExclusionReason
	Notes           string
	ReviewedAt      time.Time
}

const tagColumns = `id, name, color, description, owner_id, is_system, created_at`

func scanTag(row rowScanner) (Tag, error) {
	var (
		t     Tag
		owner sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Color, &t.Description, &owner, &t.IsSystem, &t.CreatedAt); err != nil {
		return Tag{}, err
	}
	t.OwnerID = stringPtr(owner)
	return t, nil
}

// ListTags returns system tags followed by the user's own tags.
func (s *Store) ListTags(ctx context.Context, ownerID string) ([]Tag, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+tagColumns+` FROM review_tags
WHERE is_system OR owner_id=$1 ORDER BY is_system DESC, lower(name) ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTag returns a system tag or one owned by ownerID.
func (s *Store) GetTag(ctx context.Context, id, ownerID string) (Tag, error) {
	t, err := scanTag(s.DB.QueryRowContext(ctx, `SELECT `+tagColumns+` FROM review_tags WHERE id=$1 AND (is_system OR owner_id=$2)`, id, ownerID))
	return t, notFound(err)
}

func (s *Store) CreateTag(ctx context.Context, ownerID, name, color, description string) (Tag, error) {
	t, err := scanTag(s.DB.QueryRowContext(ctx, `INSERT INTO review_tags (id, name, color, description, owner_id, is_system)
VALUES ($1,$2,$3,$4,$5,FALSE) RETURNING `+tagColumns, uuid.NewString(), name, color, description, ownerID))
	return t, err
}

// DeleteTag removes a custom tag owned by ownerID. System tags are never deleted.
func (s *Store) DeleteTag(ctx context.Context, id, ownerID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM review_tags WHERE id=$1 AND owner_id=$2 AND NOT is_system`, id, ownerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignTag attaches a tag to a result, replacing the notes of an existing
// assignment.
func (s *Store) AssignTag(ctx context.Context, resultID, tagID, userID, notes string) (TagAssignment, error) {
	return assignTag(ctx, s.DB, resultID, tagID, userID, notes)
}

// AssignSystemTag attaches a system tag and records the decision it implies
// in one transaction. Any other system tag on the result is removed, so a
// result carries at most one of Include, Exclude and Maybe.
func (s *Store) AssignSystemTag(ctx context.Context, sessionID, resultID, tagID, userID, notes string, in review.DecisionInput) (TagAssignment, Decision, error) {
	var (
		a TagAssignment
		d Decision
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM review_tag_assignments
WHERE result_id=$1 AND tag_id<>$2 AND tag_id IN (SELECT id FROM review_tags WHERE is_system)`, resultID, tagID); err != nil {
			return fmt.Errorf("clear system tags: %w", err)
		}
		var err error
		if a, err = assignTag(ctx, tx, resultID, tagID, userID, notes); err != nil {
			return err
		}
		d, err = saveDecision(ctx, tx, sessionID, resultID, userID, in)
		return err
	})
	return a, d, err
}

func assignTag(ctx context.Context, q querier, resultID, tagID, userID, notes string) (TagAssignment, error) {
	var a TagAssignment
	err := q.QueryRowContext(ctx, `INSERT INTO review_tag_assignments (id, result_id, tag_id, user_id, notes)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (result_id, tag_id) DO UPDATE SET notes = EXCLUDED.notes, user_id = EXCLUDED.user_id
RETURNING id, result_id, tag_id, user_id, notes, created_at`,
		uuid.NewString(), resultID, tagID, userID, notes).Scan(&a.ID, &a.ResultID, &a.TagID, &a.UserID, &a.Notes, &a.CreatedAt)
	return a, err
}

func (s *Store) RemoveTag(ctx context.Context, resultID, tagID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM review_tag_assignments WHERE result_id=$1 AND tag_id=$2`, resultID, tagID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveDecision upserts a reviewer decision and refreshes the session
// counters. A ready_for_review session moves to under_review on its first
// decision. A completed session goes back to under_review when a result is
// reset to pending.
func (s *Store) SaveDecision(ctx context.Context, sessionID, resultID, reviewerID string, in review.DecisionInput) (Decision, error) {
	var d Decision
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		d, err = saveDecision(ctx, tx, sessionID, resultID, reviewerID, in)
		return err
	})
	return d, err
}

func saveDecision(ctx context.Context, tx *sql.Tx, sessionID, resultID, reviewerID string, in review.DecisionInput) (Decision, error) {
	d := Decision{ResultID: resultID, ReviewerID: reviewerID, Decision: in.Decision, ExclusionReason: in.ExclusionReason, Notes: in.Notes}
	if err := tx.QueryRowContext(ctx, `INSERT INTO review_decisions (result_id, reviewer_id, decision, exclusion_reason, notes, reviewed_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (result_id) DO UPDATE SET
  reviewer_id = EXCLUDED.reviewer_id,
  decision = EXCLUDED.decision,
  exclusion_reason = EXCLUDED.exclusion_reason,
  notes = EXCLUDED.notes,
  reviewed_at = NOW()
RETURNING reviewed_at`, resultID, reviewerID, string(in.Decision), string(in.ExclusionReason), in.Notes).Scan(&d.ReviewedAt); err != nil {
		return d, fmt.Errorf("upsert decision: %w", err)
	}

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM search_sessions WHERE id=$1 FOR UPDATE`, sessionID).Scan(&current); err != nil {
		return d, notFound(err)
	}
	from := sessions.Status(current)
	switch {
	case from == sessions.StatusReadyForReview && in.Decision != review.DecisionPending,
		from == sessions.StatusCompleted && in.Decision == review.DecisionPending:
		if err := reopenReview(ctx, tx, sessionID, reviewerID, from); err != nil {
			return d, err
		}
	}
	if err := refreshCounters(ctx, tx, sessionID); err != nil {
		return d, err
	}
	return d, insertActivity(ctx, tx, sessionID, reviewerID, sessions.ActivityReviewDecision,
		fmt.Sprintf("Result marked %s", in.Decision),
		map[string]any{"result_id": resultID, "decision": string(in.Decision), "exclusion_reason": string(in.ExclusionReason)})
}

// reopenReview moves a locked session from `from` to under_review.
func reopenReview(ctx context.Context, tx *sql.Tx, sessionID, userID string, from sessions.Status) error {
	to := sessions.StatusUnderReview
	if err := sessions.Validate(from, to); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE search_sessions SET status=$2, updated_at=NOW(),
  completed_at = CASE WHEN status = 'completed' THEN NULL ELSE completed_at END
WHERE id=$1`, sessionID, string(to)); err != nil {
		return err
	}
	return insertActivity(ctx, tx, sessionID, userID, sessions.ActivityStatusChanged,
		sessions.StatusChangeDescription(from, to),
		map[string]any{"from": string(from), "to": string(to)})
}

// ReviewCounts tallies decisions for a session's processed results.
func (s *Store) ReviewCounts(ctx context.Context, sessionID string) (review.Counts, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT COALESCE(d.decision, 'pending'), COALESCE(d.exclusion_reason, ''), COUNT(*)
FROM processed_results pr LEFT JOIN review_decisions d ON d.result_id = pr.id
WHERE pr.session_id=$1
GROUP BY 1, 2`, sessionID)
	if err != nil {
		return review.Counts{}, err
	}
	defer rows.Close()
	c := review.Counts{Reasons: map[review.ExclusionReason]int{}}
	for rows.Next() {
		var (
			decision, reason string
			n                int
		)
		if err := rows.Scan(&decision, &reason, &n); err != nil {
			return review.Counts{}, err
		}
		c.Total += n
		switch review.Decision(decision) {
		case review.DecisionInclude:
			c.Include += n
		case review.DecisionExclude:
			c.Exclude += n
			if reason != "" {
				c.Reasons[review.ExclusionReason(reason)] += n
			}
		case review.DecisionMaybe:
			c.Maybe += n
		default:
			c.Pending += n
		}
	}
	return c, rows.Err()
}
