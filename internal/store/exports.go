package store

import (
	"context"
	"database/sql"
	"time"
)

// ExportReport is an export_reports row.
type ExportReport struct {
	ID         string
	SessionID  string
	ReportType string
	Format     string
	FilePath   string
	FileSize   int64
	CreatedBy  *string
	CreatedAt  time.Time
	ExpiresAt  *time.Time
}

const exportColumns = `e.id, e.session_id, e.report_type, e.format, e.file_path, e.file_size, e.created_by, e.created_at, e.expires_at`

func scanExport(row rowScanner) (ExportReport, error) {
	var (
		e       ExportReport
		by      sql.NullString
		expires sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.SessionID, &e.ReportType, &e.Format, &e.FilePath, &e.FileSize, &by, &e.CreatedAt, &expires); err != nil {
		return ExportReport{}, err
	}
	e.CreatedBy = stringPtr(by)
	e.ExpiresAt = timePtr(expires)
	return e, nil
}

// CreateExportReport records a written export file. The caller picks the ID
// so it can be used in the file name.
func (s *Store) CreateExportReport(ctx context.Context, r ExportReport) (ExportReport, error) {
	var expires sql.NullTime
	if r.ExpiresAt != nil {
		expires = sql.NullTime{Time: *r.ExpiresAt, Valid: true}
	}
	var by string
	if r.CreatedBy != nil {
		by = *r.CreatedBy
	}
	row := s.DB.QueryRowContext(ctx, `INSERT INTO export_reports AS e (id, session_id, report_type, format, file_path, file_size, created_by, expires_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING `+exportColumns, r.ID, r.SessionID, r.ReportType, r.Format, r.FilePath, r.FileSize, nullString(by), expires)
	return scanExport(row)
}

// GetExportReport returns an export whose session belongs to ownerID.
func (s *Store) GetExportReport(ctx context.Context, id, ownerID string) (ExportReport, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+exportColumns+`
FROM export_reports e JOIN search_sessions s ON s.id = e.session_id
WHERE e.id=$1 AND s.owner_id=$2`, id, ownerID)
	r, err := scanExport(row)
	return r, notFound(err)
}

func (s *Store) ListExportReports(ctx context.Context, sessionID string) ([]ExportReport, error) {
	return s.listExports(ctx, `SELECT `+exportColumns+` FROM export_reports e WHERE e.session_id=$1 ORDER BY e.created_at DESC`, sessionID)
}

// ListExpiredExports returns exports whose expiry is at or before now.
func (s *Store) ListExpiredExports(ctx context.Context, now time.Time) ([]ExportReport, error) {
	return s.listExports(ctx, `SELECT `+exportColumns+` FROM export_reports e WHERE e.expires_at IS NOT NULL AND e.expires_at <= $1 ORDER BY e.expires_at ASC`, now)
}

func (s *Store) listExports(ctx context.Context, query string, args ...any) ([]ExportReport, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ExportReport
	for rows.Next() {
		r, err := scanExport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteExportReport(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM export_reports WHERE id=$1`, id)
	return err
}
