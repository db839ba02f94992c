package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mohammad-safakhou/thesisgrey/internal/results"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// ProcessedResult is a deduplicated result joined with its review state.
type ProcessedResult struct {
	ID              string
	SessionID       string
	RawResultID     *string
	Title           string
	URL             string
	NormalizedURL   string
	Snippet         string
	Domain          string
	DocumentType    string
	PublicationYear *int
	IsPDF           bool
	DuplicateCount  int
	CreatedAt       time.Time

	Decision        string
	ExclusionReason string
	Notes           string
	ReviewedAt      *time.Time
	Tags            []string
}

// DuplicateRelationship links a dropped raw hit to the result it duplicates.
type DuplicateRelationship struct {
	ID             string
	OriginalID     string
	DuplicateRawID string
	Type           string
	Similarity     float64
}

// ResultFilter narrows ListProcessedResults. Zero values do not filter.
type ResultFilter struct {
	SessionID    string
	IDs          []string
	Domain       string
	DocumentType string
	Decision     string
	IsPDF        *bool
	YearFrom     int
	YearTo       int
	OrderBy      string
	Page         int
	PageSize     int
}

// ResultPage is one page of results and the unpaged total.
type ResultPage struct {
	Results []ProcessedResult
	Total   int
}

var resultOrderings = map[string]string{
	"created":    "pr.created_at ASC, pr.id ASC",
	"title":      "lower(pr.title) ASC, pr.id ASC",
	"domain":     "pr.domain ASC, pr.created_at ASC",
	"year":       "pr.publication_year DESC NULLS LAST, pr.created_at ASC",
	"-year":      "pr.publication_year ASC NULLS LAST, pr.created_at ASC",
	"duplicates": "pr.duplicate_count DESC, pr.created_at ASC",
}

// ValidResultOrdering reports whether name is accepted by OrderBy.
func ValidResultOrdering(name string) bool {
	_, ok := resultOrderings[name]
	return ok
}

func (f ResultFilter) apply(b sq.SelectBuilder) sq.SelectBuilder {
	b = b.Where(sq.Eq{"pr.session_id": f.SessionID})
	if f.IDs != nil {
		b = b.Where(sq.Eq{"pr.id": f.IDs})
	}
	if f.Domain != "" {
		b = b.Where(sq.Eq{"pr.domain": strings.ToLower(f.Domain)})
	}
	if f.DocumentType != "" {
		b = b.Where(sq.Eq{"pr.document_type": f.DocumentType})
	}
	if f.Decision != "" {
		b = b.Where(sq.Eq{"COALESCE(d.decision, 'pending')": f.Decision})
	}
	if f.IsPDF != nil {
		b = b.Where(sq.Eq{"pr.is_pdf": *f.IsPDF})
	}
	if f.YearFrom > 0 {
		b = b.Where(sq.GtOrEq{"pr.publication_year": f.YearFrom})
	}
	if f.YearTo > 0 {
		b = b.Where(sq.LtOrEq{"pr.publication_year": f.YearTo})
	}
	return b
}

const processedSelect = `pr.id, pr.session_id, pr.raw_result_id, pr.title, pr.url, pr.normalized_url, pr.snippet, pr.domain,
  pr.document_type, pr.publication_year, pr.is_pdf, pr.duplicate_count, pr.created_at,
  COALESCE(d.decision, 'pending'), COALESCE(d.exclusion_reason, ''), COALESCE(d.notes, ''), d.reviewed_at,
  COALESCE((SELECT array_agg(t.name ORDER BY t.name) FROM review_tag_assignments a JOIN review_tags t ON t.id = a.tag_id WHERE a.result_id = pr.id), '{}')`

func scanProcessed(row rowScanner) (ProcessedResult, error) {
	var (
		r        ProcessedResult
		rawID    sql.NullString
		year     sql.NullInt64
		reviewed sql.NullTime
		tags     pq.StringArray
	)
	err := row.Scan(&r.ID, &r.SessionID, &rawID, &r.Title, &r.URL, &r.NormalizedURL, &r.Snippet, &r.Domain,
		&r.DocumentType, &year, &r.IsPDF, &r.DuplicateCount, &r.CreatedAt,
		&r.Decision, &r.ExclusionReason, &r.Notes, &reviewed, &tags)
	if err != nil {
		return ProcessedResult{}, err
	}
	r.RawResultID = stringPtr(rawID)
	if year.Valid {
		y := int(year.Int64)
		r.PublicationYear = &y
	}
	r.ReviewedAt = timePtr(reviewed)
	r.Tags = []string(tags)
	return r, nil
}

// ListProcessedResults returns the filtered results. A PageSize of zero or
// less returns every match.
func (s *Store) ListProcessedResults(ctx context.Context, f ResultFilter) (ResultPage, error) {
	from := "processed_results pr"
	join := "review_decisions d ON d.result_id = pr.id"

	countSQL, countArgs, err := f.apply(psql.Select("COUNT(*)").From(from).LeftJoin(join)).ToSql()
	if err != nil {
		return ResultPage{}, fmt.Errorf("build count: %w", err)
	}
	var page ResultPage
	if err := s.DB.QueryRowContext(ctx, countSQL, countArgs...).Scan(&page.Total); err != nil {
		return ResultPage{}, err
	}

	order, ok := resultOrderings[f.OrderBy]
	if !ok {
		order = resultOrderings["created"]
	}
	b := f.apply(psql.Select(processedSelect).From(from).LeftJoin(join)).OrderBy(order)
	if f.PageSize > 0 {
		p := f.Page
		if p < 1 {
			p = 1
		}
		b = b.Limit(uint64(f.PageSize)).Offset(uint64((p - 1) * f.PageSize))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return ResultPage{}, fmt.Errorf("build select: %w", err)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return ResultPage{}, err
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanProcessed(rows)
		if err != nil {
			return ResultPage{}, err
		}
		page.Results = append(page.Results, r)
	}
	return page, rows.Err()
}

// GetProcessedResult returns a result whose session belongs to ownerID.
func (s *Store) GetProcessedResult(ctx context.Context, id, ownerID string) (ProcessedResult, error) {
	query, args, err := psql.Select(processedSelect).
		From("processed_results pr").
		LeftJoin("review_decisions d ON d.result_id = pr.id").
		Join("search_sessions s ON s.id = pr.session_id").
		Where(sq.Eq{"pr.id": id, "s.owner_id": ownerID}).
		ToSql()
	if err != nil {
		return ProcessedResult{}, err
	}
	r, err := scanProcessed(s.DB.QueryRowContext(ctx, query, args...))
	return r, notFound(err)
}

// ListIndexDocuments returns the fields the full-text index covers.
func (s *Store) ListIndexDocuments(ctx context.Context, sessionID string) ([]results.Document, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, title, snippet, domain FROM processed_results WHERE session_id=$1`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []results.Document
	for rows.Next() {
		var d results.Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Snippet, &d.Domain); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ResultsVersion changes whenever the session's processed results are replaced.
func (s *Store) ResultsVersion(ctx context.Context, sessionID string) (string, error) {
	var (
		n      int
		latest sql.NullTime
	)
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*), MAX(created_at) FROM processed_results WHERE session_id=$1`, sessionID).Scan(&n, &latest); err != nil {
		return "", err
	}
	if !latest.Valid {
		return fmt.Sprintf("%d", n), nil
	}
	return fmt.Sprintf("%d-%d", n, latest.Time.UnixNano()), nil
}

type savedReview struct {
	reviewerID string
	decision   string
	reason     string
	notes      string
	reviewedAt time.Time
}

type savedTag struct {
	tagID  string
	userID string
	notes  string
}

// ReplaceProcessedResults swaps the session's processed results for a fresh
// processing run. Decisions and tag assignments follow their normalised URL.
func (s *Store) ReplaceProcessedResults(ctx context.Context, sessionID string, kept []results.Processed, dups []results.Duplicate) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		decisions := map[string]savedReview{}
		rows, err := tx.QueryContext(ctx, `SELECT pr.normalized_url, d.reviewer_id, d.decision, d.exclusion_reason, d.notes, d.reviewed_at
FROM review_decisions d JOIN processed_results pr ON pr.id = d.result_id WHERE pr.session_id=$1`, sessionID)
		if err != nil {
			return fmt.Errorf("snapshot decisions: %w", err)
		}
		for rows.Next() {
			var (
				u string
				r savedReview
			)
			if err := rows.Scan(&u, &r.reviewerID, &r.decision, &r.reason, &r.notes, &r.reviewedAt); err != nil {
				rows.Close()
				return err
			}
			decisions[u] = r
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		tags := map[string][]savedTag{}
		rows, err = tx.QueryContext(ctx, `SELECT pr.normalized_url, a.tag_id, a.user_id, a.notes
FROM review_tag_assignments a JOIN processed_results pr ON pr.id = a.result_id WHERE pr.session_id=$1`, sessionID)
		if err != nil {
			return fmt.Errorf("snapshot tags: %w", err)
		}
		for rows.Next() {
			var (
				u string
				t savedTag
			)
			if err := rows.Scan(&u, &t.tagID, &t.userID, &t.notes); err != nil {
				rows.Close()
				return err
			}
			tags[u] = append(tags[u], t)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM processed_results WHERE session_id=$1`, sessionID); err != nil {
			return fmt.Errorf("clear results: %w", err)
		}

		byRaw := make(map[string]string, len(kept))
		for _, p := range kept {
			id := uuid.NewString()
			byRaw[p.RawResultID] = id
			var year any
			if p.PublicationYear != nil {
				year = *p.PublicationYear
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO processed_results (id, session_id, raw_result_id, title, url, normalized_url, snippet, domain,
  document_type, publication_year, is_pdf, duplicate_count) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
				id, sessionID, nullString(p.RawResultID), p.Title, p.URL, p.NormalizedURL, p.Snippet, p.Domain,
				p.DocumentType, year, p.IsPDF, p.DuplicateCount); err != nil {
				return fmt.Errorf("insert result: %w", err)
			}
			if r, ok := decisions[p.NormalizedURL]; ok {
				if _, err := tx.ExecContext(ctx, `INSERT INTO review_decisions (result_id, reviewer_id, decision, exclusion_reason, notes, reviewed_at)
VALUES ($1,$2,$3,$4,$5,$6)`, id, r.reviewerID, r.decision, r.reason, r.notes, r.reviewedAt); err != nil {
					return fmt.Errorf("restore decision: %w", err)
				}
			}
			for _, t := range tags[p.NormalizedURL] {
				if _, err := tx.ExecContext(ctx, `INSERT INTO review_tag_assignments (id, result_id, tag_id, user_id, notes) VALUES ($1,$2,$3,$4,$5)`,
					uuid.NewString(), id, t.tagID, t.userID, t.notes); err != nil {
					return fmt.Errorf("restore tag: %w", err)
				}
			}
		}

		for _, d := range dups {
			original, ok := byRaw[d.OriginalRawID]
			if !ok {
				continue
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO duplicate_relationships (id, session_id, original_id, duplicate_raw_id, type, similarity)
VALUES ($1,$2,$3,$4,$5,$6)`, uuid.NewString(), sessionID, original, d.DuplicateRawID, d.Type, d.Similarity); err != nil {
				return fmt.Errorf("insert duplicate: %w", err)
			}
		}
		return refreshCounters(ctx, tx, sessionID)
	})
}

// ListDuplicates returns the duplicate relationships recorded for a result.
func (s *Store) ListDuplicates(ctx context.Context, resultID string) ([]DuplicateRelationship, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, original_id, duplicate_raw_id, type, similarity
FROM duplicate_relationships WHERE original_id=$1 ORDER BY similarity DESC`, resultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DuplicateRelationship
	for rows.Next() {
		var d DuplicateRelationship
		if err := rows.Scan(&d.ID, &d.OriginalID, &d.DuplicateRawID, &d.Type, &d.Similarity); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DuplicateTotals counts duplicate relationships per type for a session.
func (s *Store) DuplicateTotals(ctx context.Context, sessionID string) (map[string]int, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT type, COUNT(*) FROM duplicate_relationships WHERE session_id=$1 GROUP BY type`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		out[typ] = n
	}
	return out, rows.Err()
}
