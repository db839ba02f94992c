package server

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mohammad-safakhou/thesisgrey/internal/sessions"
	"github.com/mohammad-safakhou/thesisgrey/internal/strategy"
	"github.com/mohammad-safakhou/thesisgrey/internal/sysconfig"
)

const completeStrategy = `{
	"population_terms": ["older adults", "seniors"],
	"interest_terms": ["telehealth"],
	"context_terms": ["rural"],
	"domains": ["https://www.WHO.int/", "cdc.gov"],
	"include_general_search": true
}`

func TestPreviewGeneratesQueries(t *testing.T) {
	st, mock := newMockStore(t)
	h := &StrategyHandler{Store: st, Settings: staticSettings{cfg: sysconfig.SystemConfig{MaxQueriesPerSession: 50}}}
	expectSession(mock, "sess-1", "user-1", sessions.StatusDraft)

	ctx, rec := newContext(http.MethodPost, "/api/sessions/sess-1/strategy/preview", completeStrategy, "id", "sess-1")
	if err := h.preview(ctx); err != nil {
		t.Fatalf("preview: %v", err)
	}
	var resp StrategyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.IsComplete || len(resp.Queries) != 3 {
		t.Fatalf("expected 3 queries for a complete strategy, got %#v", resp)
	}
	if resp.Queries[2].Type != strategy.QueryTypeGeneral {
		t.Fatalf("general query should come last: %#v", resp.Queries)
	}
}

func TestPreviewIncompleteStrategyHasNoQueries(t *testing.T) {
	st, mock := newMockStore(t)
	h := &StrategyHandler{Store: st, Settings: staticSettings{}}
	expectSession(mock, "sess-1", "user-1", sessions.StatusDraft)

	ctx, rec := newContext(http.MethodPost, "/api/sessions/sess-1/strategy/preview", `{"population_terms":["nurses"]}`, "id", "sess-1")
	if err := h.preview(ctx); err != nil {
		t.Fatalf("preview: %v", err)
	}
	var resp StrategyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.IsComplete || len(resp.Queries) != 0 || len(resp.MissingParts) == 0 {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestStrategyLockedWhileExecuting(t *testing.T) {
	st, mock := newMockStore(t)
	h := &StrategyHandler{Store: st, Settings: staticSettings{}}
	expectSession(mock, "sess-1", "user-1", sessions.StatusExecuting)

	ctx, rec := newContext(http.MethodPut, "/api/sessions/sess-1/strategy", completeStrategy, "id", "sess-1")
	if code := httpStatus(h.put(ctx), rec); code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", code)
	}
}

func TestPutStrategyMovesSessionStatus(t *testing.T) {
	cases := []struct {
		name    string
		from    sessions.Status
		body    string
		queries int
		to      sessions.Status
	}{
		{"complete readies draft", sessions.StatusDraft, completeStrategy, 3, sessions.StatusStrategyReady},
		{"complete readies failed", sessions.StatusFailed, completeStrategy, 3, sessions.StatusStrategyReady},
		{"incomplete returns ready to draft", sessions.StatusStrategyReady, `{"population_terms":["nurses"]}`, 0, sessions.StatusDraft},
		{"incomplete returns failed to draft", sessions.StatusFailed, `{"population_terms":["nurses"]}`, 0, sessions.StatusDraft},
		{"incomplete keeps draft", sessions.StatusDraft, `{"population_terms":["nurses"]}`, 0, ""},
		{"complete keeps ready for review", sessions.StatusReadyForReview, completeStrategy, 3, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st, mock := newMockStore(t)
			h := &StrategyHandler{Store: st, Settings: staticSettings{cfg: sysconfig.SystemConfig{MaxQueriesPerSession: 50}}}
			expectSession(mock, "sess-1", "user-1", tc.from)

			mock.ExpectBegin()
			mock.ExpectQuery(`INSERT INTO search_strategies`).
				WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))
			mock.ExpectExec(`DELETE FROM search_queries`).
				WithArgs("sess-1").
				WillReturnResult(sqlmock.NewResult(0, 0))
			for i := 0; i < tc.queries; i++ {
				mock.ExpectExec(`INSERT INTO search_queries`).
					WillReturnResult(sqlmock.NewResult(0, 1))
			}
			mock.ExpectExec(`UPDATE search_sessions s SET`).
				WithArgs("sess-1").
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectExec(`INSERT INTO session_activities`).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			final := tc.from
			if tc.to != "" {
				final = tc.to
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT status FROM search_sessions WHERE id=\$1 FOR UPDATE`).
					WithArgs("sess-1").
					WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(tc.from)))
				mock.ExpectExec(`UPDATE search_sessions SET`).
					WithArgs("sess-1", string(tc.to)).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(`INSERT INTO session_activities`).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			}
			expectSession(mock, "sess-1", "user-1", final)

			ctx, rec := newContext(http.MethodPut, "/api/sessions/sess-1/strategy", tc.body, "id", "sess-1")
			if err := h.put(ctx); err != nil {
				t.Fatalf("put: %v", err)
			}
			var resp StrategyResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Session == nil || resp.Session.Status != final {
				t.Fatalf("expected session %s, got %#v", final, resp.Session)
			}
			if len(resp.Queries) != tc.queries {
				t.Fatalf("expected %d queries, got %d", tc.queries, len(resp.Queries))
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("expectations: %v", err)
			}
		})
	}
}
