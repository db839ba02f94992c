package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/thesisgrey/internal/results"
	"github.com/mohammad-safakhou/thesisgrey/internal/runtime"
	"github.com/mohammad-safakhou/thesisgrey/internal/serp"
	"github.com/mohammad-safakhou/thesisgrey/internal/sessions"
	"github.com/mohammad-safakhou/thesisgrey/internal/store"
	"github.com/mohammad-safakhou/thesisgrey/internal/strategy"
	"github.com/mohammad-safakhou/thesisgrey/internal/sysconfig"
)

type fakeStore struct {
	mu          sync.Mutex
	session     store.Session
	strategy    *strategy.Strategy
	queries     []store.QueryRecord
	executions  map[string]*store.Execution
	outcomes    map[string]store.ExecutionOutcome
	transitions []sessions.Status
	rejectMove  map[sessions.Status]error
	activities  []sessions.ActivityType
	kept        []results.Processed
	dups        []results.Duplicate
}

func newFakeStore(status sessions.Status, queries ...string) *fakeStore {
	fs := &fakeStore{
		session:    store.Session{ID: "sess-1", OwnerID: "user-1", Status: status},
		executions: map[string]*store.Execution{},
		outcomes:   map[string]store.ExecutionOutcome{},
	}
	for i, q := range queries {
		fs.queries = append(fs.queries, store.QueryRecord{ID: fmt.Sprintf("q-%d", i), SessionID: "sess-1", Text: q, ExecutionOrder: i, IsActive: true})
	}
	return fs
}

func (f *fakeStore) GetSessionByID(_ context.Context, id string) (store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != f.session.ID {
		return store.Session{}, store.ErrNotFound
	}
	return f.session, nil
}

func (f *fakeStore) GetStrategy(context.Context, string) (store.StrategyRecord, bool, error) {
	if f.strategy == nil {
		return store.StrategyRecord{}, false, nil
	}
	return store.StrategyRecord{SessionID: "sess-1", Strategy: *f.strategy}, true, nil
}

func (f *fakeStore) ListQueries(context.Context, string, bool) ([]store.QueryRecord, error) {
	return f.queries, nil
}

func (f *fakeStore) TransitionSession(_ context.Context, _, _ string, to sessions.Status, _ string) (sessions.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	from := f.session.Status
	if err := f.rejectMove[to]; err != nil {
		return from, err
	}
	if err := sessions.Validate(from, to); err != nil {
		return from, err
	}
	f.session.Status = to
	f.transitions = append(f.transitions, to)
	return from, nil
}

func (f *fakeStore) CreateExecutions(_ context.Context, sessionID, engine string, queries []store.QueryRecord) ([]store.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Execution
	for _, q := range queries {
		id := "exec-" + q.ID
		e := store.Execution{ID: id, SessionID: sessionID, QueryText: q.Text, ExecutionOrder: q.ExecutionOrder, Engine: engine, Status: store.ExecutionPending}
		f.executions[id] = &e
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeStore) MarkExecutionRunning(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executions[id].Status = store.ExecutionRunning
	return nil
}

func (f *fakeStore) FinishExecution(_ context.Context, id string, out store.ExecutionOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.executions[id]
	if out.Err != "" {
		e.Status = store.ExecutionFailed
	} else {
		e.Status = store.ExecutionCompleted
		f.outcomes[id] = out
	}
	e.ErrorMessage = out.Err
	return nil
}

func (f *fakeStore) PrepareRetry(_ context.Context, id string) (store.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.executions[id]
	if !ok || e.Status != store.ExecutionFailed {
		return store.Execution{}, store.ErrNotFound
	}
	e.Status = store.ExecutionPending
	e.RetryCount++
	return *e, nil
}

func (f *fakeStore) GetExecution(_ context.Context, id, _ string) (store.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.executions[id]
	if !ok {
		return store.Execution{}, store.ErrNotFound
	}
	return *e, nil
}

func (f *fakeStore) ExecutionStats(context.Context, string) (store.ExecutionStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var st store.ExecutionStats
	for _, e := range f.executions {
		st.Total++
		switch e.Status {
		case store.ExecutionCompleted:
			st.Completed++
		case store.ExecutionFailed:
			st.Failed++
		}
	}
	return st, nil
}

func (f *fakeStore) ListRawInputs(context.Context, string) ([]results.RawInput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []results.RawInput
	for id, o := range f.outcomes {
		for _, r := range o.Results {
			out = append(out, results.RawInput{
				ID: fmt.Sprintf("%s-%d", id, r.Position), ExecutionOrder: f.executions[id].ExecutionOrder,
				Position: r.Position, Title: r.Title, Link: r.Link, Snippet: r.Snippet,
			})
		}
	}
	return out, nil
}

func (f *fakeStore) ReplaceProcessedResults(_ context.Context, _ string, kept []results.Processed, dups []results.Duplicate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kept, f.dups = kept, dups
	return nil
}

func (f *fakeStore) AddActivity(_ context.Context, _, _ string, typ sessions.ActivityType, _ string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activities = append(f.activities, typ)
	return nil
}

type fakeSearcher struct {
	mu       sync.Mutex
	fail     map[string]bool
	hits     map[string][]serp.Result
	requests []serp.Request
}

func (s *fakeSearcher) Name() string { return "fake" }

func (s *fakeSearcher) Search(_ context.Context, req serp.Request) (serp.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.fail[req.Query] {
		return serp.Response{}, &serp.StatusError{Code: 500, Body: "upstream down"}
	}
	if hits, ok := s.hits[req.Query]; ok {
		return serp.Response{Results: hits, Credits: 1}, nil
	}
	// synthesize a full page so callers can page through
	var out []serp.Result
	for i := 0; i < req.Num; i++ {
		out = append(out, serp.Result{Title: fmt.Sprintf("%s %d %d", req.Query, req.Page, i), Link: fmt.Sprintf("https://x.org/%s/%d/%d", strings.ReplaceAll(req.Query, " ", "-"), req.Page, i)})
	}
	return serp.Response{Results: out, Credits: 2}, nil
}

type staticSettings struct{ cfg sysconfig.SystemConfig }

func (s staticSettings) Get(context.Context) (sysconfig.SystemConfig, error) { return s.cfg, nil }

func settings(resultsPerQuery int) staticSettings {
	return staticSettings{cfg: sysconfig.SystemConfig{
		SerpResultsPerQuery: resultsPerQuery, SerpRequestsPerSecond: 100, SerpBurst: 10,
		SerpCreditCostUSD: 0.001, MaxQueriesPerSession: 50, TitleSimilarityThreshold: 0.9,
	}}
}

func newExecutor(fs *fakeStore, s serp.Searcher, resultsPerQuery int) *Executor {
	return New(fs, s, serp.NewRateLimiter(100, 10), settings(resultsPerQuery), NewLocalLocker(), runtime.NewMetrics(nil), nil, Options{Concurrency: 2})
}

func TestExecuteDeduplicatesAndReachesReview(t *testing.T) {
	fs := newFakeStore(sessions.StatusStrategyReady, "q one", "q two")
	searcher := &fakeSearcher{hits: map[string][]serp.Result{
		"q one": {
			{Title: "Telehealth in rural areas", Link: "https://who.int/report.pdf"},
			{Title: "Aging in place", Link: "https://example.org/aging"},
		},
		"q two": {
			{Title: "Telehealth in rural areas", Link: "https://www.who.int/report.pdf?utm_source=x"},
		},
	}}
	ex := newExecutor(fs, searcher, 10)

	sum, err := ex.ExecuteSync(context.Background(), "sess-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 3, sum.Results)
	assert.Equal(t, 2, sum.Credits)
	assert.InDelta(t, 0.002, sum.Cost, 1e-9)
	assert.Equal(t, sessions.StatusReadyForReview, sum.Status)
	require.NotNil(t, sum.Processing)
	assert.Equal(t, 2, sum.Processing.Processed)
	assert.Equal(t, 1, sum.Processing.Duplicates)

	assert.Equal(t, []sessions.Status{sessions.StatusExecuting, sessions.StatusProcessing, sessions.StatusReadyForReview}, fs.transitions)
	assert.Contains(t, fs.activities, sessions.ActivitySearchExecuted)
	assert.Contains(t, fs.activities, sessions.ActivityResultsProcessed)
	assert.Len(t, fs.kept, 2)
	assert.Len(t, fs.dups, 1)
}

func TestExecuteAllFailedMarksSessionFailed(t *testing.T) {
	fs := newFakeStore(sessions.StatusStrategyReady, "a", "b")
	searcher := &fakeSearcher{fail: map[string]bool{"a": true, "b": true}}
	ex := newExecutor(fs, searcher, 10)

	sum, err := ex.ExecuteSync(context.Background(), "sess-1", "user-1")
	require.ErrorIs(t, err, ErrAllQueriesFailed)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, sessions.StatusFailed, fs.session.Status)
	assert.Contains(t, fs.activities, sessions.ActivityExecutionFailed)
	for _, e := range fs.executions {
		assert.Equal(t, store.ExecutionFailed, e.Status)
		assert.Contains(t, e.ErrorMessage, "500")
	}
}

func TestExecuteFailsSessionWhenStatusMoveFails(t *testing.T) {
	for _, blocked := range []sessions.Status{sessions.StatusProcessing, sessions.StatusReadyForReview} {
		t.Run(string(blocked), func(t *testing.T) {
			fs := newFakeStore(sessions.StatusStrategyReady, "q one")
			fs.rejectMove = map[sessions.Status]error{blocked: errors.New("connection reset")}
			searcher := &fakeSearcher{hits: map[string][]serp.Result{
				"q one": {{Title: "Rural telehealth", Link: "https://who.int/r.pdf"}},
			}}
			ex := newExecutor(fs, searcher, 10)

			sum, err := ex.ExecuteSync(context.Background(), "sess-1", "user-1")
			require.Error(t, err)
			assert.Equal(t, sessions.StatusFailed, sum.Status)
			assert.Equal(t, sessions.StatusFailed, fs.session.Status)
		})
	}
}

func TestExecutePartialFailureStillProcesses(t *testing.T) {
	fs := newFakeStore(sessions.StatusStrategyReady, "good", "bad")
	searcher := &fakeSearcher{
		fail: map[string]bool{"bad": true},
		hits: map[string][]serp.Result{"good": {{Title: "Rural policy brief", Link: "https://gov.ca/brief"}}},
	}
	ex := newExecutor(fs, searcher, 10)

	sum, err := ex.ExecuteSync(context.Background(), "sess-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, sessions.StatusReadyForReview, fs.session.Status)

	failedID := "exec-q-1"
	require.Equal(t, store.ExecutionFailed, fs.executions[failedID].Status)

	searcher.fail = nil
	searcher.hits["bad"] = []serp.Result{{Title: "Recovered", Link: "https://gov.ca/recovered"}}
	run, err := ex.PrepareRetry(context.Background(), failedID, "user-1")
	require.NoError(t, err)
	require.Len(t, run.Executions, 1)
	assert.Equal(t, 1, run.Executions[0].RetryCount)

	_, err = ex.Execute(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, store.ExecutionCompleted, fs.executions[failedID].Status)
	assert.Len(t, fs.kept, 2)
}

func TestPrepareRejectsDraftSession(t *testing.T) {
	fs := newFakeStore(sessions.StatusDraft, "a")
	_, err := newExecutor(fs, &fakeSearcher{}, 10).Prepare(context.Background(), "sess-1", "user-1")
	assert.ErrorIs(t, err, ErrNotExecutable)
}

func TestPrepareRequiresQueries(t *testing.T) {
	fs := newFakeStore(sessions.StatusStrategyReady)
	_, err := newExecutor(fs, &fakeSearcher{}, 10).Prepare(context.Background(), "sess-1", "user-1")
	assert.ErrorIs(t, err, ErrNoQueries)
}

func TestPrepareHoldsSessionLock(t *testing.T) {
	fs := newFakeStore(sessions.StatusStrategyReady, "a")
	ex := newExecutor(fs, &fakeSearcher{}, 10)

	run, err := ex.Prepare(context.Background(), "sess-1", "user-1")
	require.NoError(t, err)

	fs.session.Status = sessions.StatusFailed
	_, err = ex.Prepare(context.Background(), "sess-1", "user-1")
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	fs.session.Status = sessions.StatusExecuting
	_, err = ex.Execute(context.Background(), run)
	require.NoError(t, err)
}

func TestRunQueryPagesBeyondProviderLimit(t *testing.T) {
	fs := newFakeStore(sessions.StatusStrategyReady, "deep query")
	fs.strategy = &strategy.Strategy{SearchType: strategy.SearchTypeScholar, MaxResults: 150}
	searcher := &fakeSearcher{}
	ex := newExecutor(fs, searcher, 500)

	sum, err := ex.ExecuteSync(context.Background(), "sess-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 150, sum.Results)
	assert.Equal(t, 4, sum.Credits)
	require.Len(t, searcher.requests, 2)
	assert.Equal(t, 1, searcher.requests[0].Page)
	assert.Equal(t, 2, searcher.requests[1].Page)
	assert.Equal(t, strategy.SearchTypeScholar, searcher.requests[0].Type)
}

func TestReprocessRequiresReviewableSession(t *testing.T) {
	fs := newFakeStore(sessions.StatusDraft)
	_, err := newExecutor(fs, &fakeSearcher{}, 10).Reprocess(context.Background(), "sess-1", "user-1")
	assert.ErrorIs(t, err, ErrNotProcessable)

	fs.session.Status = sessions.StatusUnderReview
	sum, err := newExecutor(fs, &fakeSearcher{}, 10).Reprocess(context.Background(), "sess-1", "user-1")
	require.NoError(t, err)
	assert.Zero(t, sum.TotalRaw)
	assert.Empty(t, fs.transitions)
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	release, ok, err := l.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = l.Acquire(context.Background(), "k", time.Minute)
	assert.False(t, ok)

	release()
	release()
	_, ok, _ = l.Acquire(context.Background(), "k", time.Minute)
	assert.True(t, ok)
}
