package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mohammad-safakhou/thesisgrey/internal/sessions"
	"github.com/mohammad-safakhou/thesisgrey/internal/strategy"
)

// StrategyRecord is a stored strategy with its bookkeeping columns.
type StrategyRecord struct {
	SessionID  string
	Strategy   strategy.Strategy
	IsComplete bool
	UpdatedAt  time.Time
}

// QueryRecord is a generated search_queries row.
type QueryRecord struct {
	ID             string
	SessionID      string
	Text           string
	Type           string
	TargetDomain   string
	FileTypes      []string
	ExecutionOrder int
	IsActive       bool
	CreatedAt      time.Time
}

func (s *Store) GetStrategy(ctx context.Context, sessionID string) (StrategyRecord, bool, error) {
	var (
		rec                                            StrategyRecord
		population, interest, contextTerms, domains, ft pq.StringArray
	)
	err := s.DB.QueryRowContext(ctx, `SELECT session_id, population_terms, interest_terms, context_terms, domains,
  include_general_search, file_types, search_type, max_results, is_complete, updated_at
FROM search_strategies WHERE session_id=$1`, sessionID).Scan(
		&rec.SessionID, &population, &interest, &contextTerms, &domains,
		&rec.Strategy.IncludeGeneralSearch, &ft, &rec.Strategy.SearchType, &rec.Strategy.MaxResults, &rec.IsComplete, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return StrategyRecord{}, false, nil
	}
	if err != nil {
		return StrategyRecord{}, false, err
	}
	rec.Strategy.PopulationTerms = []string(population)
	rec.Strategy.InterestTerms = []string(interest)
	rec.Strategy.ContextTerms = []string(contextTerms)
	rec.Strategy.Domains = []string(domains)
	rec.Strategy.FileTypes = []string(ft)
	return rec, true, nil
}

// SaveStrategy upserts the strategy, replaces its generated queries and
// refreshes the session counters in one transaction.
func (s *Store) SaveStrategy(ctx context.Context, sessionID, userID string, st strategy.Strategy, queries []strategy.Query) (StrategyRecord, error) {
	rec := StrategyRecord{SessionID: sessionID, Strategy: st, IsComplete: st.IsComplete()}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `INSERT INTO search_strategies (session_id, population_terms, interest_terms, context_terms, domains,
  include_general_search, file_types, search_type, max_results, is_complete, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
ON CONFLICT (session_id) DO UPDATE SET
  population_terms = EXCLUDED.population_terms,
  interest_terms = EXCLUDED.interest_terms,
  context_terms = EXCLUDED.context_terms,
  domains = EXCLUDED.domains,
  include_general_search = EXCLUDED.include_general_search,
  file_types = EXCLUDED.file_types,
  search_type = EXCLUDED.search_type,
  max_results = EXCLUDED.max_results,
  is_complete = EXCLUDED.is_complete,
  updated_at = NOW()
RETURNING updated_at`,
			sessionID, pq.Array(st.PopulationTerms), pq.Array(st.InterestTerms), pq.Array(st.ContextTerms), pq.Array(st.Domains),
			st.IncludeGeneralSearch, pq.Array(st.FileTypes), st.SearchType, st.MaxResults, rec.IsComplete).Scan(&rec.UpdatedAt); err != nil {
			return fmt.Errorf("upsert strategy: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM search_queries WHERE session_id=$1`, sessionID); err != nil {
			return fmt.Errorf("clear queries: %w", err)
		}
		for _, q := range queries {
			if _, err := tx.ExecContext(ctx, `INSERT INTO search_queries (id, session_id, query_text, query_type, target_domain, file_types, execution_order, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7,TRUE)`,
				uuid.NewString(), sessionID, q.Text, q.Type, q.TargetDomain, pq.Array(q.FileTypes), q.ExecutionOrder); err != nil {
				return fmt.Errorf("insert query: %w", err)
			}
		}
		if err := refreshCounters(ctx, tx, sessionID); err != nil {
			return err
		}
		return insertActivity(ctx, tx, sessionID, userID, sessions.ActivityStrategyUpdated,
			fmt.Sprintf("Search strategy saved with %d queries", len(queries)),
			map[string]any{"queries": len(queries), "complete": rec.IsComplete})
	})
	return rec, err
}

// ListQueries returns the session's queries in execution order.
func (s *Store) ListQueries(ctx context.Context, sessionID string, activeOnly bool) ([]QueryRecord, error) {
	query := `SELECT id, session_id, query_text, query_type, target_domain, file_types, execution_order, is_active, created_at
FROM search_queries WHERE session_id=$1`
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY execution_order ASC`
	rows, err := s.DB.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []QueryRecord
	for rows.Next() {
		var (
			q  QueryRecord
			ft pq.StringArray
		)
		if err := rows.Scan(&q.ID, &q.SessionID, &q.Text, &q.Type, &q.TargetDomain, &ft, &q.ExecutionOrder, &q.IsActive, &q.CreatedAt); err != nil {
			return nil, err
		}
		q.FileTypes = []string(ft)
		out = append(out, q)
	}
	return out, rows.Err()
}
