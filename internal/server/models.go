package server

import (
	"encoding/json"
	"time"

	"github.com/mohammad-safakhou/thesisgrey/internal/review"
	"github.com/mohammad-safakhou/thesisgrey/internal/sessions"
	"github.com/mohammad-safakhou/thesisgrey/internal/store"
	"github.com/mohammad-safakhou/thesisgrey/internal/strategy"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// ValidationErrorResponse carries field-level failures.
type ValidationErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// IDResponse is a generic id response wrapper.
type IDResponse struct {
	ID string `json:"id"`
}

// MeResponse describes the authenticated user.
type MeResponse struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	IsAdmin     bool      `json:"is_admin"`
	CreatedAt   time.Time `json:"created_at"`
}

type SessionRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Notes       string `json:"notes"`
}

type StatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type SessionResponse struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Notes           string          `json:"notes"`
	Status          sessions.Status `json:"status"`
	StatusLabel     string          `json:"status_label"`
	AllowedNext     []string        `json:"allowed_transitions"`
	TotalQueries    int             `json:"total_queries"`
	TotalResults    int             `json:"total_results"`
	ReviewedResults int             `json:"reviewed_results"`
	IncludedResults int             `json:"included_results"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func toSessionResponse(s store.Session) SessionResponse {
	next := make([]string, 0)
	for _, st := range s.Status.Next() {
		next = append(next, string(st))
	}
	return SessionResponse{
		ID:              s.ID,
		Title:           s.Title,
		Description:     s.Description,
		Notes:           s.Notes,
		Status:          s.Status,
		StatusLabel:     s.Status.Label(),
		AllowedNext:     next,
		TotalQueries:    s.TotalQueries,
		TotalResults:    s.TotalResults,
		ReviewedResults: s.ReviewedResults,
		IncludedResults: s.IncludedResults,
		StartedAt:       s.StartedAt,
		CompletedAt:     s.CompletedAt,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

type ActivityResponse struct {
	ID          string                `json:"id"`
	UserID      *string               `json:"user_id,omitempty"`
	Type        sessions.ActivityType `json:"type"`
	Description string                `json:"description"`
	Metadata    json.RawMessage       `json:"metadata,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
}

type DashboardResponse struct {
	ByStatus        map[sessions.Status]int `json:"by_status"`
	TotalSessions   int                     `json:"total_sessions"`
	TotalResults    int                     `json:"total_results"`
	ReviewedResults int                     `json:"reviewed_results"`
	IncludedResults int                     `json:"included_results"`
	Recent          []SessionResponse       `json:"recent_sessions"`
}

type StrategyResponse struct {
	strategy.Strategy
	IsComplete   bool             `json:"is_complete"`
	MissingParts []string         `json:"missing_parts,omitempty"`
	BaseQuery    string           `json:"base_query"`
	Queries      []strategy.Query `json:"queries"`
	UpdatedAt    *time.Time       `json:"updated_at,omitempty"`
	Session      *SessionResponse `json:"session,omitempty"`
}

type ExecutionResponse struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	QueryID        *string    `json:"query_id,omitempty"`
	QueryText      string     `json:"query_text"`
	ExecutionOrder int        `json:"execution_order"`
	Status         string     `json:"status"`
	Engine         string     `json:"engine"`
	ResultsCount   int        `json:"results_count"`
	CreditsUsed    int        `json:"credits_used"`
	EstimatedCost  float64    `json:"estimated_cost"`
	DurationMS     int64      `json:"duration_ms"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	RetryCount     int        `json:"retry_count"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toExecutionResponse(e store.Execution) ExecutionResponse {
	return ExecutionResponse{
		ID: e.ID, SessionID: e.SessionID, QueryID: e.QueryID, QueryText: e.QueryText,
		ExecutionOrder: e.ExecutionOrder, Status: e.Status, Engine: e.Engine,
		ResultsCount: e.ResultsCount, CreditsUsed: e.CreditsUsed, EstimatedCost: e.EstimatedCost,
		DurationMS: e.DurationMS, ErrorMessage: e.ErrorMessage, RetryCount: e.RetryCount,
		StartedAt: e.StartedAt, CompletedAt: e.CompletedAt, CreatedAt: e.CreatedAt,
	}
}

type ExecutionStatsResponse struct {
	Total           int     `json:"total"`
	Completed       int     `json:"completed"`
	Failed          int     `json:"failed"`
	Pending         int     `json:"pending"`
	SuccessRate     float64 `json:"success_rate"`
	TotalResults    int     `json:"total_results"`
	TotalCredits    int     `json:"total_credits"`
	TotalCost       float64 `json:"total_cost"`
	TotalDurationMS int64   `json:"total_duration_ms"`
}

// ExecuteResponse is returned when a run is accepted.
type ExecuteResponse struct {
	SessionID  string              `json:"session_id"`
	Status     sessions.Status     `json:"status"`
	Executions []ExecutionResponse `json:"executions"`
}

type ResultResponse struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"session_id"`
	Title           string     `json:"title"`
	URL             string     `json:"url"`
	NormalizedURL   string     `json:"normalized_url"`
	Snippet         string     `json:"snippet"`
	Domain          string     `json:"domain"`
	DocumentType    string     `json:"document_type"`
	PublicationYear *int       `json:"publication_year,omitempty"`
	IsPDF           bool       `json:"is_pdf"`
	DuplicateCount  int        `json:"duplicate_count"`
	Decision        string     `json:"decision"`
	ExclusionReason string     `json:"exclusion_reason,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	Tags            []string   `json:"tags"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toResultResponse(r store.ProcessedResult) ResultResponse {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	decision := r.Decision
	if decision == "" {
		decision = string(review.DecisionPending)
	}
	return ResultResponse{
		ID: r.ID, SessionID: r.SessionID, Title: r.Title, URL: r.URL, NormalizedURL: r.NormalizedURL,
		Snippet: r.Snippet, Domain: r.Domain, DocumentType: r.DocumentType, PublicationYear: r.PublicationYear,
		IsPDF: r.IsPDF, DuplicateCount: r.DuplicateCount, Decision: decision,
		ExclusionReason: r.ExclusionReason, Notes: r.Notes, ReviewedAt: r.ReviewedAt, Tags: tags, CreatedAt: r.CreatedAt,
	}
}

type ResultListResponse struct {
	Results  []ResultResponse `json:"results"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

type DuplicateResponse struct {
	DuplicateRawID string  `json:"duplicate_raw_id"`
	Type           string  `json:"type"`
	Similarity     float64 `json:"similarity"`
}

type ResultDetailResponse struct {
	ResultResponse
	Duplicates []DuplicateResponse `json:"duplicates"`
}

type TagRequest struct {
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

type TagResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Color       string    `json:"color"`
	Description string    `json:"description"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
}

func toTagResponse(t store.Tag) TagResponse {
	return TagResponse{ID: t.ID, Name: t.Name, Color: t.Color, Description: t.Description, IsSystem: t.IsSystem, CreatedAt: t.CreatedAt}
}

type AssignTagRequest struct {
	TagID string `json:"tag_id"`
	Notes string `json:"notes"`
}

type DecisionResponse struct {
	ResultID        string                 `json:"result_id"`
	Decision        review.Decision        `json:"decision"`
	ExclusionReason review.ExclusionReason `json:"exclusion_reason,omitempty"`
	Notes           string                 `json:"notes,omitempty"`
	ReviewedAt      time.Time              `json:"reviewed_at"`
}

// CompletionResponse reports why a review could not be completed, or the
// warnings it was completed with.
type CompletionResponse struct {
	Completed bool             `json:"completed"`
	Issues    []string         `json:"issues,omitempty"`
	Warnings  []string         `json:"warnings,omitempty"`
	Progress  review.Progress  `json:"progress"`
	Session   *SessionResponse `json:"session,omitempty"`
}

type ExportRequest struct {
	ReportType string `json:"report_type"`
	Format     string `json:"format"`
}

type ExportResponse struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	ReportType  string     `json:"report_type"`
	Format      string     `json:"format"`
	FileSize    int64      `json:"file_size"`
	DownloadURL string     `json:"download_url"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func toExportResponse(r store.ExportReport) ExportResponse {
	return ExportResponse{
		ID: r.ID, SessionID: r.SessionID, ReportType: r.ReportType, Format: r.Format, FileSize: r.FileSize,
		DownloadURL: "/api/exports/" + r.ID + "/download", CreatedAt: r.CreatedAt, ExpiresAt: r.ExpiresAt,
	}
}

type ConfigRequest struct {
	Value       json.RawMessage `json:"value"`
	Description string          `json:"description"`
}

type ConfigResponse struct {
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	Description string          `json:"description"`
	UpdatedBy   *string         `json:"updated_by,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
