package reporting

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/thesisgrey/internal/review"
	"github.com/mohammad-safakhou/thesisgrey/internal/runtime"
	"github.com/mohammad-safakhou/thesisgrey/internal/sessions"
	"github.com/mohammad-safakhou/thesisgrey/internal/store"
	"github.com/mohammad-safakhou/thesisgrey/internal/validate"
)

// DataStore is the read and write surface reporting needs.
type DataStore interface {
	GetStrategy(ctx context.Context, sessionID string) (store.StrategyRecord, bool, error)
	ListQueries(ctx context.Context, sessionID string, activeOnly bool) ([]store.QueryRecord, error)
	ListExecutions(ctx context.Context, sessionID string) ([]store.Execution, error)
	ExecutionStats(ctx context.Context, sessionID string) (store.ExecutionStats, error)
	CountRawResults(ctx context.Context, sessionID string) (int, error)
	DuplicateTotals(ctx context.Context, sessionID string) (map[string]int, error)
	ReviewCounts(ctx context.Context, sessionID string) (review.Counts, error)
	ListProcessedResults(ctx context.Context, f store.ResultFilter) (store.ResultPage, error)
	CreateExportReport(ctx context.Context, r store.ExportReport) (store.ExportReport, error)
	AddActivity(ctx context.Context, sessionID, userID string, typ sessions.ActivityType, description string, metadata map[string]any) error
}

// Service assembles reports and writes exports.
type Service struct {
	store   DataStore
	files   FileWriter
	metrics *runtime.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(st DataStore, files FileWriter, metrics *runtime.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, files: files, metrics: metrics, logger: logger, now: time.Now}
}

// Flow computes only the PRISMA numbers.
func (s *Service) Flow(ctx context.Context, sessionID string) (Flow, error) {
	identified, err := s.store.CountRawResults(ctx, sessionID)
	if err != nil {
		return Flow{}, err
	}
	dups, err := s.store.DuplicateTotals(ctx, sessionID)
	if err != nil {
		return Flow{}, err
	}
	counts, err := s.store.ReviewCounts(ctx, sessionID)
	if err != nil {
		return Flow{}, err
	}
	total := 0
	for _, n := range dups {
		total += n
	}
	return BuildFlow(identified, total, counts), nil
}

// Build gathers everything about sess into a Report.
func (s *Service) Build(ctx context.Context, sess store.Session) (Report, error) {
	r := Report{GeneratedAt: s.now(), Session: sess}

	rec, ok, err := s.store.GetStrategy(ctx, sess.ID)
	if err != nil {
		return Report{}, fmt.Errorf("load strategy: %w", err)
	}
	if ok {
		st := rec.Strategy
		r.Strategy = &st
	}
	if r.Queries, err = s.store.ListQueries(ctx, sess.ID, true); err != nil {
		return Report{}, fmt.Errorf("load queries: %w", err)
	}
	if r.Executions, err = s.store.ExecutionStats(ctx, sess.ID); err != nil {
		return Report{}, fmt.Errorf("load execution stats: %w", err)
	}
	execs, err := s.store.ListExecutions(ctx, sess.ID)
	if err != nil {
		return Report{}, fmt.Errorf("load executions: %w", err)
	}
	engines := map[string]struct{}{}
	for _, e := range execs {
		engines[e.Engine] = struct{}{}
		if e.StartedAt == nil {
			continue
		}
		if r.FirstSearch == nil || e.StartedAt.Before(*r.FirstSearch) {
			r.FirstSearch = e.StartedAt
		}
		if r.LastSearch == nil || e.StartedAt.After(*r.LastSearch) {
			r.LastSearch = e.StartedAt
		}
	}
	for e := range engines {
		r.Engines = append(r.Engines, e)
	}
	sort.Strings(r.Engines)

	if r.Flow, err = s.Flow(ctx, sess.ID); err != nil {
		return Report{}, fmt.Errorf("build prisma flow: %w", err)
	}
	counts, err := s.store.ReviewCounts(ctx, sess.ID)
	if err != nil {
		return Report{}, err
	}
	r.Progress = review.BuildProgress(counts)

	page, err := s.store.ListProcessedResults(ctx, store.ResultFilter{SessionID: sess.ID})
	if err != nil {
		return Report{}, fmt.Errorf("load results: %w", err)
	}
	r.Results = page.Results
	return r, nil
}

// Export renders a report to disk and records it. retention of zero keeps
// the file forever.
func (s *Service) Export(ctx context.Context, sess store.Session, userID, reportType, format string, retention time.Duration) (store.ExportReport, error) {
	errs := validate.Errors{}
	if !ValidReportType(reportType) {
		errs.Add("report_type", "must be prisma, results or full")
	}
	if !ValidFormat(format) {
		errs.Add("format", "must be csv, json, xlsx or pdf")
	}
	if err := errs.Err(); err != nil {
		return store.ExportReport{}, err
	}
	exporter, err := NewExporter(format)
	if err != nil {
		return store.ExportReport{}, err
	}
	report, err := s.Build(ctx, sess)
	if err != nil {
		return store.ExportReport{}, err
	}

	id := uuid.NewString()
	path, size, err := s.files.Write(sess.ID, id, format, func(w io.Writer) error {
		return exporter.Export(w, report, reportType)
	})
	if err != nil {
		return store.ExportReport{}, fmt.Errorf("write %s export: %w", format, err)
	}
	rec := store.ExportReport{ID: id, SessionID: sess.ID, ReportType: reportType, Format: format, FilePath: path, FileSize: size}
	if userID != "" {
		rec.CreatedBy = &userID
	}
	if retention > 0 {
		exp := s.now().Add(retention)
		rec.ExpiresAt = &exp
	}
	saved, err := s.store.CreateExportReport(ctx, rec)
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			s.logger.Warn("remove unrecorded export", zap.String("path", path), zap.Error(rmErr))
		}
		return store.ExportReport{}, err
	}
	s.metrics.ObserveExport(format)
	if err := s.store.AddActivity(ctx, sess.ID, userID, sessions.ActivityReportExported,
		fmt.Sprintf("Exported %s report as %s", reportType, format),
		map[string]any{"export_id": id, "report_type": reportType, "format": format, "size": size}); err != nil {
		s.logger.Warn("record export activity", zap.String("session_id", sess.ID), zap.Error(err))
	}
	return saved, nil
}
