package reporting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gorhill/cronexpr"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/thesisgrey/internal/store"
)

// ExpiredStore lists and deletes expired export rows.
type ExpiredStore interface {
	ListExpiredExports(ctx context.Context, now time.Time) ([]store.ExportReport, error)
	DeleteExportReport(ctx context.Context, id string) error
}

// Cleaner removes expired export files on a cron schedule.
type Cleaner struct {
	store  ExpiredStore
	expr   *cronexpr.Expression
	logger *zap.Logger
	now    func() time.Time
}

func NewCleaner(st ExpiredStore, cronSpec string, logger *zap.Logger) (*Cleaner, error) {
	expr, err := cronexpr.Parse(cronSpec)
	if err != nil {
		return nil, fmt.Errorf("parse cleanup cron %q: %w", cronSpec, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{store: st, expr: expr, logger: logger, now: time.Now}, nil
}

// Next is the first run strictly after t.
func (c *Cleaner) Next(t time.Time) time.Time { return c.expr.Next(t) }

// Start runs the cleaner until ctx is cancelled.
func (c *Cleaner) Start(ctx context.Context) {
	go func() {
		for {
			next := c.expr.Next(c.now())
			if next.IsZero() {
				c.logger.Warn("cleanup schedule has no future runs")
				return
			}
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				if n, err := c.RunOnce(ctx); err != nil {
					c.logger.Error("export cleanup failed", zap.Error(err))
				} else if n > 0 {
					c.logger.Info("expired exports removed", zap.Int("count", n))
				}
			}
		}
	}()
}

// RunOnce deletes every expired export file and its row. A file that is
// already gone still has its row removed.
func (c *Cleaner) RunOnce(ctx context.Context) (int, error) {
	expired, err := c.store.ListExpiredExports(ctx, c.now())
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range expired {
		if err := os.Remove(e.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("remove export file", zap.String("path", e.FilePath), zap.Error(err))
			continue
		}
		if err := c.store.DeleteExportReport(ctx, e.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
