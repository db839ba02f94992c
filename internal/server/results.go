package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/thesisgrey/internal/results"
	"github.com/mohammad-safakhou/thesisgrey/internal/review"
	"github.com/mohammad-safakhou/thesisgrey/internal/store"
	"github.com/mohammad-safakhou/thesisgrey/internal/validate"
)

const (
	defaultPageSize = 25
	maxPageSize     = 100
)

// ResultsHandler lists and searches the processed results of a session.
type ResultsHandler struct {
	Store  *store.Store
	Runner Runner
	Index  *results.IndexCache
}

func (h *ResultsHandler) Register(g *echo.Group) {
	g.GET("/sessions/:id/results", h.list)
	g.POST("/sessions/:id/process", h.process)
	g.GET("/results/:id", h.get)
}

// parseResultFilter reads the listing query string.
func parseResultFilter(c echo.Context) (store.ResultFilter, error) {
	f := store.ResultFilter{
		Domain:       strings.TrimSpace(c.QueryParam("domain")),
		DocumentType: strings.ToLower(strings.TrimSpace(c.QueryParam("document_type"))),
		Decision:     strings.ToLower(strings.TrimSpace(c.QueryParam("decision"))),
		OrderBy:      strings.TrimSpace(c.QueryParam("ordering")),
		Page:         1,
		PageSize:     defaultPageSize,
	}
	errs := validate.Errors{}
	ints := []struct {
		name string
		dst  *int
		min  int
	}{
		{"page", &f.Page, 1},
		{"page_size", &f.PageSize, 1},
		{"year_from", &f.YearFrom, 0},
		{"year_to", &f.YearTo, 0},
	}
	for _, p := range ints {
		raw := c.QueryParam(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < p.min {
			errs.Add(p.name, "must be an integer of at least "+strconv.Itoa(p.min))
			continue
		}
		*p.dst = n
	}
	if f.PageSize > maxPageSize {
		errs.Add("page_size", "must be at most 100")
	}
	if f.YearFrom > 0 && f.YearTo > 0 && f.YearFrom > f.YearTo {
		errs.Add("year_to", "must not be before year_from")
	}
	if raw := c.QueryParam("is_pdf"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			errs.Add("is_pdf", "must be true or false")
		} else {
			f.IsPDF = &b
		}
	}
	if f.Decision != "" && !review.Decision(f.Decision).Valid() {
		errs.Add("decision", "must be pending, include, exclude or maybe")
	}
	if f.OrderBy != "" && !store.ValidResultOrdering(f.OrderBy) {
		errs.Add("ordering", "unknown ordering")
	}
	return f, errs.Err()
}

// list applies the filters; q narrows the set through the session's
// full-text index first.
func (h *ResultsHandler) list(c echo.Context) error {
	sess, err := ownedSession(c, h.Store, "id")
	if err != nil {
		return err
	}
	f, err := parseResultFilter(c)
	if err != nil {
		return err
	}
	f.SessionID = sess.ID
	ctx := c.Request().Context()

	if q := strings.TrimSpace(c.QueryParam("q")); q != "" {
		version, err := h.Store.ResultsVersion(ctx, sess.ID)
		if err != nil {
			return err
		}
		idx, err := h.Index.Get(results.IndexKey(sess.ID, version), func() ([]results.Document, error) {
			return h.Store.ListIndexDocuments(ctx, sess.ID)
		})
		if err != nil {
			return err
		}
		ids, err := idx.Search(q, 0)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return c.JSON(http.StatusOK, ResultListResponse{Results: []ResultResponse{}, Page: f.Page, PageSize: f.PageSize})
		}
		f.IDs = ids
	}

	page, err := h.Store.ListProcessedResults(ctx, f)
	if err != nil {
		return err
	}
	out := ResultListResponse{Results: make([]ResultResponse, 0, len(page.Results)), Total: page.Total, Page: f.Page, PageSize: f.PageSize}
	for _, r := range page.Results {
		out.Results = append(out.Results, toResultResponse(r))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ResultsHandler) get(c echo.Context) error {
	ctx := c.Request().Context()
	r, err := h.Store.GetProcessedResult(ctx, c.Param("id"), userID(c))
	if err != nil {
		return err
	}
	dups, err := h.Store.ListDuplicates(ctx, r.ID)
	if err != nil {
		return err
	}
	out := ResultDetailResponse{ResultResponse: toResultResponse(r), Duplicates: make([]DuplicateResponse, 0, len(dups))}
	for _, d := range dups {
		out.Duplicates = append(out.Duplicates, DuplicateResponse{DuplicateRawID: d.DuplicateRawID, Type: d.Type, Similarity: d.Similarity})
	}
	return c.JSON(http.StatusOK, out)
}

// process rebuilds the processed results from the stored raw hits.
func (h *ResultsHandler) process(c echo.Context) error {
	sess, err := ownedSession(c, h.Store, "id")
	if err != nil {
		return err
	}
	sum, err := h.Runner.Reprocess(c.Request().Context(), sess.ID, userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sum)
}
