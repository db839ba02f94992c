// Package execution runs a session's search queries against the configured
// provider and turns the raw hits into processed results.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/thesisgrey/internal/results"
	"github.com/mohammad-safakhou/thesisgrey/internal/runtime"
	"github.com/mohammad-safakhou/thesisgrey/internal/serp"
	"github.com/mohammad-safakhou/thesisgrey/internal/sessions"
	"github.com/mohammad-safakhou/thesisgrey/internal/store"
	"github.com/mohammad-safakhou/thesisgrey/internal/strategy"
	"github.com/mohammad-safakhou/thesisgrey/internal/sysconfig"
)

var (
	ErrNotExecutable    = errors.New("session cannot be executed in its current status")
	ErrNoQueries        = errors.New("session has no active queries")
	ErrAlreadyRunning   = errors.New("session execution already in progress")
	ErrNotProcessable   = errors.New("session results cannot be processed in its current status")
	ErrAllQueriesFailed = errors.New("every search query failed")
)

// maxPageSize is the largest page the providers return per request.
const maxPageSize = 100

// Store is the persistence surface of the executor.
type Store interface {
	GetSessionByID(ctx context.Context, id string) (store.Session, error)
	GetStrategy(ctx context.Context, sessionID string) (store.StrategyRecord, bool, error)
	ListQueries(ctx context.Context, sessionID string, activeOnly bool) ([]store.QueryRecord, error)
	TransitionSession(ctx context.Context, id, userID string, to sessions.Status, reason string) (sessions.Status, error)
	CreateExecutions(ctx context.Context, sessionID, engine string, queries []store.QueryRecord) ([]store.Execution, error)
	MarkExecutionRunning(ctx context.Context, id string) error
	FinishExecution(ctx context.Context, id string, out store.ExecutionOutcome) error
	PrepareRetry(ctx context.Context, id string) (store.Execution, error)
	GetExecution(ctx context.Context, id, ownerID string) (store.Execution, error)
	ExecutionStats(ctx context.Context, sessionID string) (store.ExecutionStats, error)
	ListRawInputs(ctx context.Context, sessionID string) ([]results.RawInput, error)
	ReplaceProcessedResults(ctx context.Context, sessionID string, kept []results.Processed, dups []results.Duplicate) error
	AddActivity(ctx context.Context, sessionID, userID string, typ sessions.ActivityType, description string, metadata map[string]any) error
}

// Settings supplies the runtime-tunable limits.
type Settings interface {
	Get(ctx context.Context) (sysconfig.SystemConfig, error)
}

type Options struct {
	Concurrency int
	LockTTL     time.Duration
}

// Executor drives search runs. The rate limiter is the one attached to the
// searcher's HTTP client; the executor only keeps its limits current.
type Executor struct {
	store    Store
	searcher serp.Searcher
	limiter  *serp.RateLimiter
	settings Settings
	locker   Locker
	metrics  *runtime.Metrics
	logger   *zap.Logger
	opts     Options
	now      func() time.Time
}

func New(st Store, searcher serp.Searcher, limiter *serp.RateLimiter, settings Settings, locker Locker, metrics *runtime.Metrics, logger *zap.Logger, opts Options) *Executor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Minute
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{store: st, searcher: searcher, limiter: limiter, settings: settings, locker: locker,
		metrics: metrics, logger: logger, opts: opts, now: time.Now}
}

// Run is a prepared search run. It holds the session lock until Execute
// returns.
type Run struct {
	SessionID  string
	UserID     string
	Executions []store.Execution
	release    func()
}

// Summary reports what a run did.
type Summary struct {
	SessionID  string           `json:"session_id"`
	Executions int              `json:"executions"`
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	Results    int              `json:"results"`
	Credits    int              `json:"credits"`
	Cost       float64          `json:"estimated_cost"`
	DurationMS int64            `json:"duration_ms"`
	Status     sessions.Status  `json:"status"`
	Processing *results.Summary `json:"processing,omitempty"`
}

func lockKey(sessionID string) string { return "thesisgrey:execute:" + sessionID }

// Prepare validates the session, takes its lock, moves it to executing and
// creates one pending execution per active query.
func (e *Executor) Prepare(ctx context.Context, sessionID, userID string) (*Run, error) {
	sess, err := e.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Status.Executable() {
		return nil, fmt.Errorf("%w: %s", ErrNotExecutable, sess.Status)
	}
	queries, err := e.store.ListQueries(ctx, sessionID, true)
	if err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return nil, ErrNoQueries
	}
	release, err := e.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.TransitionSession(ctx, sessionID, userID, sessions.StatusExecuting, "search execution started"); err != nil {
		release()
		return nil, err
	}
	execs, err := e.store.CreateExecutions(ctx, sessionID, e.searcher.Name(), queries)
	if err != nil {
		e.fail(ctx, sessionID, userID, "could not create executions: "+err.Error())
		release()
		return nil, err
	}
	return &Run{SessionID: sessionID, UserID: userID, Executions: execs, release: release}, nil
}

// PrepareRetry resets one failed execution and prepares a run for it alone.
func (e *Executor) PrepareRetry(ctx context.Context, executionID, ownerID string) (*Run, error) {
	exec, err := e.store.GetExecution(ctx, executionID, ownerID)
	if err != nil {
		return nil, err
	}
	if exec.Status != store.ExecutionFailed {
		return nil, fmt.Errorf("%w: execution is %s", ErrNotExecutable, exec.Status)
	}
	sess, err := e.store.GetSessionByID(ctx, exec.SessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Status.Executable() {
		return nil, fmt.Errorf("%w: %s", ErrNotExecutable, sess.Status)
	}
	release, err := e.lock(ctx, exec.SessionID)
	if err != nil {
		return nil, err
	}
	reset, err := e.store.PrepareRetry(ctx, executionID)
	if err != nil {
		release()
		return nil, err
	}
	if _, err := e.store.TransitionSession(ctx, exec.SessionID, ownerID, sessions.StatusExecuting,
		fmt.Sprintf("retrying execution (attempt %d)", reset.RetryCount+1)); err != nil {
		release()
		return nil, err
	}
	return &Run{SessionID: exec.SessionID, UserID: ownerID, Executions: []store.Execution{reset}, release: release}, nil
}

func (e *Executor) lock(ctx context.Context, sessionID string) (func(), error) {
	release, ok, err := e.locker.Acquire(ctx, lockKey(sessionID), e.opts.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	return release, nil
}

// Execute runs every execution of r with bounded concurrency, then processes
// the session's results. A query failure never stops the other queries.
func (e *Executor) Execute(ctx context.Context, r *Run) (Summary, error) {
	defer r.release()
	start := e.now()
	sum := Summary{SessionID: r.SessionID, Executions: len(r.Executions)}

	cfg, err := e.settings.Get(ctx)
	if err != nil {
		e.fail(ctx, r.SessionID, r.UserID, "could not load settings: "+err.Error())
		return sum, err
	}
	e.limiter.Update(cfg.SerpRequestsPerSecond, cfg.SerpBurst)

	searchType, num := strategy.SearchTypeGoogle, cfg.SerpResultsPerQuery
	if rec, ok, err := e.store.GetStrategy(ctx, r.SessionID); err == nil && ok {
		if rec.Strategy.SearchType != "" {
			searchType = rec.Strategy.SearchType
		}
		if rec.Strategy.MaxResults > 0 && rec.Strategy.MaxResults < num {
			num = rec.Strategy.MaxResults
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for _, ex := range r.Executions {
		ex := ex
		g.Go(func() error {
			out := e.runQuery(gctx, ex, searchType, num, cfg.SerpCreditCostUSD)
			mu.Lock()
			defer mu.Unlock()
			sum.Credits += out.Credits
			sum.Cost += out.Cost
			if out.Err != "" {
				sum.Failed++
			} else {
				sum.Succeeded++
				sum.Results += len(out.Results)
			}
			return nil
		})
	}
	_ = g.Wait()
	elapsed := e.now().Sub(start)
	sum.DurationMS = elapsed.Milliseconds()
	e.metrics.ObserveExecution(elapsed)

	if err := ctx.Err(); err != nil {
		e.fail(context.WithoutCancel(ctx), r.SessionID, r.UserID, "execution cancelled")
		sum.Status = sessions.StatusFailed
		return sum, err
	}

	meta := map[string]any{"executions": sum.Executions, "succeeded": sum.Succeeded, "failed": sum.Failed,
		"results": sum.Results, "credits": sum.Credits}
	if sum.Failed == sum.Executions {
		stats, err := e.store.ExecutionStats(ctx, r.SessionID)
		if err != nil || stats.Completed == 0 {
			_ = e.store.AddActivity(ctx, r.SessionID, r.UserID, sessions.ActivityExecutionFailed,
				fmt.Sprintf("All %d search queries failed", sum.Executions), meta)
			e.fail(ctx, r.SessionID, r.UserID, "every search query failed")
			sum.Status = sessions.StatusFailed
			return sum, ErrAllQueriesFailed
		}
	}
	if err := e.store.AddActivity(ctx, r.SessionID, r.UserID, sessions.ActivitySearchExecuted,
		fmt.Sprintf("Executed %d queries: %d succeeded, %d failed, %d results", sum.Executions, sum.Succeeded, sum.Failed, sum.Results), meta); err != nil {
		e.logger.Warn("record execution activity", zap.String("session_id", r.SessionID), zap.Error(err))
	}

	if _, err := e.store.TransitionSession(ctx, r.SessionID, r.UserID, sessions.StatusProcessing, ""); err != nil {
		e.fail(ctx, r.SessionID, r.UserID, "could not start processing: "+err.Error())
		sum.Status = sessions.StatusFailed
		return sum, err
	}
	ps, err := e.process(ctx, r.SessionID, r.UserID, cfg.TitleSimilarityThreshold)
	if err != nil {
		e.fail(ctx, r.SessionID, r.UserID, "results processing failed: "+err.Error())
		sum.Status = sessions.StatusFailed
		return sum, err
	}
	sum.Processing = &ps
	if _, err := e.store.TransitionSession(ctx, r.SessionID, r.UserID, sessions.StatusReadyForReview, ""); err != nil {
		e.fail(ctx, r.SessionID, r.UserID, "could not open review: "+err.Error())
		sum.Status = sessions.StatusFailed
		return sum, err
	}
	sum.Status = sessions.StatusReadyForReview
	e.logger.Info("session executed",
		zap.String("session_id", r.SessionID),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("processed", ps.Processed),
		zap.Int("duplicates", ps.Duplicates),
		zap.Int64("duration_ms", sum.DurationMS))
	return sum, nil
}

// ExecuteSync prepares and runs a session in the caller's goroutine.
func (e *Executor) ExecuteSync(ctx context.Context, sessionID, userID string) (Summary, error) {
	r, err := e.Prepare(ctx, sessionID, userID)
	if err != nil {
		return Summary{}, err
	}
	return e.Execute(ctx, r)
}

// runQuery performs one execution, paging when more results are wanted than
// a single request returns, and stores the outcome.
func (e *Executor) runQuery(ctx context.Context, ex store.Execution, searchType string, num int, creditCost float64) store.ExecutionOutcome {
	log := e.logger.With(zap.String("session_id", ex.SessionID), zap.String("execution_id", ex.ID))
	if err := e.store.MarkExecutionRunning(ctx, ex.ID); err != nil {
		log.Warn("mark execution running", zap.Error(err))
	}
	start := e.now()
	var out store.ExecutionOutcome

	perPage := num
	if perPage > maxPageSize {
		perPage = maxPageSize
	}
	if perPage <= 0 {
		perPage = 10
	}
	position := 0
	for page := 1; position < num; page++ {
		resp, err := e.searcher.Search(ctx, serp.Request{Query: ex.QueryText, Num: perPage, Page: page, Type: searchType})
		if err != nil {
			e.metrics.ObserveSerpRequest(e.searcher.Name(), "error", 0)
			if page == 1 {
				out.Err = err.Error()
			} else {
				log.Warn("later result page failed", zap.Int("page", page), zap.Error(err))
			}
			break
		}
		e.metrics.ObserveSerpRequest(e.searcher.Name(), "ok", resp.Credits)
		out.Credits += resp.Credits
		for _, hit := range resp.Results {
			if position >= num {
				break
			}
			position++
			out.Results = append(out.Results, store.RawResult{
				Position:     position,
				Title:        hit.Title,
				Link:         hit.Link,
				Snippet:      hit.Snippet,
				DisplayLink:  hit.DisplayLink,
				RawData:      hit.Raw,
				IsPDF:        results.IsPDF(hit.Link),
				DetectedDate: hit.Date,
			})
		}
		if len(resp.Results) < perPage {
			break
		}
	}
	out.Cost = float64(out.Credits) * creditCost
	out.Duration = e.now().Sub(start)

	if err := e.store.FinishExecution(context.WithoutCancel(ctx), ex.ID, out); err != nil {
		log.Error("store execution outcome", zap.Error(err))
		if out.Err == "" {
			out.Err = err.Error()
		}
	}
	if out.Err != "" {
		log.Warn("search query failed", zap.String("error", out.Err))
	}
	return out
}

// Reprocess rebuilds the processed results of a session from its stored raw
// hits. Review state follows the normalised URL of each result.
func (e *Executor) Reprocess(ctx context.Context, sessionID, userID string) (results.Summary, error) {
	sess, err := e.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		return results.Summary{}, err
	}
	if sess.Status != sessions.StatusProcessing && !sess.Status.Reviewable() {
		return results.Summary{}, fmt.Errorf("%w: %s", ErrNotProcessable, sess.Status)
	}
	release, err := e.lock(ctx, sessionID)
	if err != nil {
		return results.Summary{}, err
	}
	defer release()
	cfg, err := e.settings.Get(ctx)
	if err != nil {
		return results.Summary{}, err
	}
	sum, err := e.process(ctx, sessionID, userID, cfg.TitleSimilarityThreshold)
	if err != nil {
		return sum, err
	}
	if sess.Status == sessions.StatusProcessing {
		if _, err := e.store.TransitionSession(ctx, sessionID, userID, sessions.StatusReadyForReview, ""); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

func (e *Executor) process(ctx context.Context, sessionID, userID string, threshold float64) (results.Summary, error) {
	raws, err := e.store.ListRawInputs(ctx, sessionID)
	if err != nil {
		return results.Summary{}, fmt.Errorf("load raw results: %w", err)
	}
	kept, dups, sum := results.Process(raws, results.Options{TitleSimilarityThreshold: threshold, Now: e.now()})
	if err := e.store.ReplaceProcessedResults(ctx, sessionID, kept, dups); err != nil {
		return sum, fmt.Errorf("store processed results: %w", err)
	}
	e.metrics.ObserveProcessing(sum.Processed, sum.Duplicates, len(sum.Errors))
	meta := map[string]any{"total_raw": sum.TotalRaw, "processed": sum.Processed, "duplicates": sum.Duplicates, "errors": len(sum.Errors)}
	if err := e.store.AddActivity(ctx, sessionID, userID, sessions.ActivityResultsProcessed,
		fmt.Sprintf("Processed %d raw results into %d unique results (%d duplicates)", sum.TotalRaw, sum.Processed, sum.Duplicates), meta); err != nil {
		e.logger.Warn("record processing activity", zap.String("session_id", sessionID), zap.Error(err))
	}
	return sum, nil
}

// fail moves the session to failed; errors are logged because the caller is
// already on an error path.
func (e *Executor) fail(ctx context.Context, sessionID, userID, reason string) {
	if _, err := e.store.TransitionSession(ctx, sessionID, userID, sessions.StatusFailed, reason); err != nil {
		e.logger.Error("mark session failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}
