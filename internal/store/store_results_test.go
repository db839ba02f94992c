package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mohammad-safakhou/thesisgrey/internal/results"
	"github.com/mohammad-safakhou/thesisgrey/internal/review"
)

var processedRowColumns = []string{
	"id", "session_id", "raw_result_id", "title", "url", "normalized_url", "snippet", "domain",
	"document_type", "publication_year", "is_pdf", "duplicate_count", "created_at",
	"decision", "exclusion_reason", "notes", "reviewed_at", "tags",
}

func TestListProcessedResultsAppliesFilters(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()
	pdf := true

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM processed_results pr LEFT JOIN review_decisions d ON d.result_id = pr.id WHERE pr.session_id = $1 AND pr.domain = $2 AND pr.is_pdf = $3`)).
		WithArgs("sess-1", "who.int", true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE pr.session_id = $1 AND pr.domain = $2 AND pr.is_pdf = $3 ORDER BY lower(pr.title) ASC, pr.id ASC LIMIT 10 OFFSET 10`)).
		WithArgs("sess-1", "who.int", true).
		WillReturnRows(sqlmock.NewRows(processedRowColumns).AddRow(
			"res-1", "sess-1", "raw-1", "Rural telehealth report", "https://who.int/r.pdf", "https://who.int/r.pdf", "snippet", "who.int",
			"pdf", int64(2021), true, 2, now,
			"include", "", "", now, "{Include}"))

	page, err := st.ListProcessedResults(context.Background(), ResultFilter{
		SessionID: "sess-1",
		Domain:    "WHO.int",
		IsPDF:     &pdf,
		OrderBy:   "title",
		Page:      2,
		PageSize:  10,
	})
	if err != nil {
		t.Fatalf("ListProcessedResults: %v", err)
	}
	if page.Total != 11 || len(page.Results) != 1 {
		t.Fatalf("unexpected page: %#v", page)
	}
	r := page.Results[0]
	if r.PublicationYear == nil || *r.PublicationYear != 2021 || r.Decision != "include" || len(r.Tags) != 1 {
		t.Fatalf("unexpected result: %#v", r)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListProcessedResultsDecisionFilterDefaultsPending(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE pr.session_id = $1 AND COALESCE(d.decision, 'pending') = $2`)).
		WithArgs("sess-1", "pending").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY pr.created_at ASC, pr.id ASC`)).
		WithArgs("sess-1", "pending").
		WillReturnRows(sqlmock.NewRows(processedRowColumns))

	page, err := st.ListProcessedResults(context.Background(), ResultFilter{SessionID: "sess-1", Decision: "pending", OrderBy: "bogus"})
	if err != nil {
		t.Fatalf("ListProcessedResults: %v", err)
	}
	if page.Total != 0 || len(page.Results) != 0 {
		t.Fatalf("expected empty page, got %#v", page)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReplaceProcessedResultsRestoresReviewState(t *testing.T) {
	st, mock := newMockStore(t)
	reviewed := time.Now().Add(-time.Hour)
	year := 2020

	kept := []results.Processed{{
		RawResultID:     "raw-1",
		Title:           "Rural telehealth report",
		URL:             "https://who.int/r.pdf",
		NormalizedURL:   "https://who.int/r.pdf",
		Domain:          "who.int",
		DocumentType:    results.DocPDF,
		PublicationYear: &year,
		IsPDF:           true,
		DuplicateCount:  1,
	}}
	dups := []results.Duplicate{{OriginalRawID: "raw-1", DuplicateRawID: "raw-2", Type: results.DuplicateByURL, Similarity: 1}}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM review_decisions d JOIN processed_results pr`)).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"normalized_url", "reviewer_id", "decision", "exclusion_reason", "notes", "reviewed_at"}).
			AddRow("https://who.int/r.pdf", "user-1", "include", "", "key source", reviewed).
			AddRow("https://gone.org/x", "user-1", "exclude", "not_relevant", "", reviewed))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM review_tag_assignments a JOIN processed_results pr`)).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"normalized_url", "tag_id", "user_id", "notes"}).
			AddRow("https://who.int/r.pdf", "tag-1", "user-1", ""))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM processed_results WHERE session_id=$1`)).
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO processed_results`)).
		WithArgs(sqlmock.AnyArg(), "sess-1", "raw-1", "Rural telehealth report", "https://who.int/r.pdf", "https://who.int/r.pdf", "", "who.int",
			"pdf", 2020, true, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO review_decisions`)).
		WithArgs(sqlmock.AnyArg(), "user-1", "include", "", "key source", reviewed).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO review_tag_assignments`)).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "tag-1", "user-1", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO duplicate_relationships`)).
		WithArgs(sqlmock.AnyArg(), "sess-1", sqlmock.AnyArg(), "raw-2", "url", 1.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE search_sessions s SET`)).
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := st.ReplaceProcessedResults(context.Background(), "sess-1", kept, dups); err != nil {
		t.Fatalf("ReplaceProcessedResults: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveDecisionStartsReview(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()
	in := review.DecisionInput{Decision: review.DecisionExclude, ExclusionReason: review.ReasonWrongContext}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO review_decisions`)).
		WithArgs("res-1", "user-1", "exclude", "wrong_context", "").
		WillReturnRows(sqlmock.NewRows([]string{"reviewed_at"}).AddRow(now))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM search_sessions WHERE id=$1 FOR UPDATE`)).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("ready_for_review"))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE search_sessions SET status=$2, updated_at=NOW(),`)).
		WithArgs("sess-1", "under_review").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO session_activities`)).
		WithArgs(sqlmock.AnyArg(), "sess-1", "user-1", "status_changed", "Status changed from Ready for Review to Under Review", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE search_sessions s SET`)).
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO session_activities`)).
		WithArgs(sqlmock.AnyArg(), "sess-1", "user-1", "review_decision", "Result marked exclude", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	d, err := st.SaveDecision(context.Background(), "sess-1", "res-1", "user-1", in)
	if err != nil {
		t.Fatalf("SaveDecision: %v", err)
	}
	if !d.ReviewedAt.Equal(now) || d.Decision != review.DecisionExclude {
		t.Fatalf("unexpected decision: %#v", d)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPendingDecisionReopensCompletedReview(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO review_decisions`)).
		WithArgs("res-1", "user-1", "pending", "", "").
		WillReturnRows(sqlmock.NewRows([]string{"reviewed_at"}).AddRow(now))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM search_sessions WHERE id=$1 FOR UPDATE`)).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))
	mock.ExpectExec(regexp.QuoteMeta(`completed_at = CASE WHEN status = 'completed' THEN NULL`)).
		WithArgs("sess-1", "under_review").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO session_activities`)).
		WithArgs(sqlmock.AnyArg(), "sess-1", "user-1", "status_changed", "Status changed from Completed to Under Review", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE search_sessions s SET`)).
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO session_activities`)).
		WithArgs(sqlmock.AnyArg(), "sess-1", "user-1", "review_decision", "Result marked pending", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if _, err := st.SaveDecision(context.Background(), "sess-1", "res-1", "user-1", review.DecisionInput{Decision: review.DecisionPending}); err != nil {
		t.Fatalf("SaveDecision: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestIncludeOnCompletedReviewKeepsStatus(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO review_decisions`)).
		WillReturnRows(sqlmock.NewRows([]string{"reviewed_at"}).AddRow(time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM search_sessions WHERE id=$1 FOR UPDATE`)).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE search_sessions s SET`)).
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO session_activities`)).
		WithArgs(sqlmock.AnyArg(), "sess-1", "user-1", "review_decision", "Result marked include", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if _, err := st.SaveDecision(context.Background(), "sess-1", "res-1", "user-1", review.DecisionInput{Decision: review.DecisionInclude}); err != nil {
		t.Fatalf("SaveDecision: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAssignSystemTagReplacesOtherSystemTags(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()
	in := review.DecisionInput{Decision: review.DecisionInclude}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM review_tag_assignments`)).
		WithArgs("res-1", "tag-include").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO review_tag_assignments`)).
		WithArgs(sqlmock.AnyArg(), "res-1", "tag-include", "user-1", "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "result_id", "tag_id", "user_id", "notes", "created_at"}).
			AddRow("asg-1", "res-1", "tag-include", "user-1", "", now))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO review_decisions`)).
		WithArgs("res-1", "user-1", "include", "", "").
		WillReturnRows(sqlmock.NewRows([]string{"reviewed_at"}).AddRow(now))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM search_sessions WHERE id=$1 FOR UPDATE`)).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("under_review"))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE search_sessions s SET`)).
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO session_activities`)).
		WithArgs(sqlmock.AnyArg(), "sess-1", "user-1", "review_decision", "Result marked include", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	a, d, err := st.AssignSystemTag(context.Background(), "sess-1", "res-1", "tag-include", "user-1", "", in)
	if err != nil {
		t.Fatalf("AssignSystemTag: %v", err)
	}
	if a.ID != "asg-1" || d.Decision != review.DecisionInclude {
		t.Fatalf("unexpected result: %#v %#v", a, d)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAssignSystemTagRollsBackOnDecisionError(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM review_tag_assignments`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO review_tag_assignments`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "result_id", "tag_id", "user_id", "notes", "created_at"}).
			AddRow("asg-1", "res-1", "tag-exclude", "user-1", "", time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO review_decisions`)).
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	in := review.DecisionInput{Decision: review.DecisionExclude, ExclusionReason: review.ReasonNotRelevant}
	if _, _, err := st.AssignSystemTag(context.Background(), "sess-1", "res-1", "tag-exclude", "user-1", "", in); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReviewCountsTreatsMissingAsPending(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM processed_results pr LEFT JOIN review_decisions d`)).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"decision", "reason", "count"}).
			AddRow("pending", "", 4).
			AddRow("include", "", 3).
			AddRow("exclude", "not_relevant", 2).
			AddRow("exclude", "language", 1).
			AddRow("maybe", "", 1))

	c, err := st.ReviewCounts(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("ReviewCounts: %v", err)
	}
	if c.Total != 11 || c.Pending != 4 || c.Include != 3 || c.Exclude != 3 || c.Maybe != 1 {
		t.Fatalf("unexpected counts: %#v", c)
	}
	if c.Reasons[review.ReasonNotRelevant] != 2 || c.Reasons[review.ReasonLanguage] != 1 {
		t.Fatalf("unexpected reasons: %#v", c.Reasons)
	}
}

func TestDeleteTagKeepsSystemTags(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM review_tags WHERE id=$1 AND owner_id=$2 AND NOT is_system`)).
		WithArgs("00000000-0000-0000-0000-000000000001", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := st.DeleteTag(context.Background(), "00000000-0000-0000-0000-000000000001", "user-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFinishExecutionStoresRawResults(t *testing.T) {
	st, mock := newMockStore(t)
	out := ExecutionOutcome{
		Results: []RawResult{
			{Position: 1, Title: "A", Link: "https://a.org", RawData: []byte(`{"title":"A"}`)},
			{Position: 2, Title: "B", Link: "https://b.org/b.pdf", IsPDF: true},
		},
		Credits:  2,
		Cost:     0.002,
		Duration: 1500 * time.Millisecond,
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM raw_search_results WHERE execution_id=$1`)).
		WithArgs("exec-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO raw_search_results`)).
		WithArgs(sqlmock.AnyArg(), "exec-1", 1, "A", "https://a.org", "", "", []byte(`{"title":"A"}`), false, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO raw_search_results`)).
		WithArgs(sqlmock.AnyArg(), "exec-1", 2, "B", "https://b.org/b.pdf", "", "", []byte(`{}`), true, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE search_executions SET status=$2`)).
		WithArgs("exec-1", "completed", 2, 2, 0.002, int64(1500), "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := st.FinishExecution(context.Background(), "exec-1", out); err != nil {
		t.Fatalf("FinishExecution: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFinishExecutionFailureKeepsRawResults(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE search_executions SET status=$2`)).
		WithArgs("exec-1", "failed", 0, 0, 0.0, int64(0), "serp: status 500").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := st.FinishExecution(context.Background(), "exec-1", ExecutionOutcome{Err: "serp: status 500"}); err != nil {
		t.Fatalf("FinishExecution: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPrepareRetryRequiresFailedExecution(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE search_executions AS e SET status=$2, retry_count=retry_count+1`)).
		WithArgs("exec-1", "pending", "failed").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := st.PrepareRetry(context.Background(), "exec-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExecutionStats(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM search_executions WHERE session_id=$1`)).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"total", "completed", "failed", "pending", "results", "credits", "cost", "duration"}).
			AddRow(4, 3, 1, 0, 120, 6, 0.006, int64(9000)))

	stats, err := st.ExecutionStats(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("ExecutionStats: %v", err)
	}
	if stats.Total != 4 || stats.Failed != 1 || stats.TotalCredits != 6 || stats.TotalDurationMS != 9000 {
		t.Fatalf("unexpected stats: %#v", stats)
	}
}

func TestListExpiredExports(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE e.expires_at IS NOT NULL AND e.expires_at <= $1`)).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "report_type", "format", "file_path", "file_size", "created_by", "created_at", "expires_at"}).
			AddRow("exp-1", "sess-1", "results", "csv", "/reports/sess-1/exp-1.csv", int64(512), nil, now, now))

	list, err := st.ListExpiredExports(context.Background(), now)
	if err != nil {
		t.Fatalf("ListExpiredExports: %v", err)
	}
	if len(list) != 1 || list[0].CreatedBy != nil || list[0].ExpiresAt == nil {
		t.Fatalf("unexpected exports: %#v", list)
	}
}
