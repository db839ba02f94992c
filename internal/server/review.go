package server

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/thesisgrey/internal/review"
	"github.com/mohammad-safakhou/thesisgrey/internal/sessions"
	"github.com/mohammad-safakhou/thesisgrey/internal/store"
	"github.com/mohammad-safakhou/thesisgrey/internal/validate"
)

const (
	defaultTagColor  = "#6c757d"
	maxTagNameLength = 50
)

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// ReviewHandler records screening decisions and tags.
type ReviewHandler struct {
	Store *store.Store
}

func (h *ReviewHandler) Register(g *echo.Group) {
	g.GET("/tags", h.listTags)
	g.POST("/tags", h.createTag)
	g.DELETE("/tags/:id", h.deleteTag)
	g.POST("/results/:id/tags", h.assignTag)
	g.DELETE("/results/:id/tags/:tag_id", h.removeTag)
	g.PUT("/results/:id/decision", h.decide)
	g.GET("/sessions/:id/review/progress", h.progress)
	g.POST("/sessions/:id/review/complete", h.complete)
}

func (h *ReviewHandler) listTags(c echo.Context) error {
	tags, err := h.Store.ListTags(c.Request().Context(), userID(c))
	if err != nil {
		return err
	}
	out := make([]TagResponse, 0, len(tags))
	for _, t := range tags {
		out = append(out, toTagResponse(t))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ReviewHandler) createTag(c echo.Context) error {
	var req TagRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Color = strings.TrimSpace(req.Color)
	if req.Color == "" {
		req.Color = defaultTagColor
	}
	errs := validate.Errors{}
	switch {
	case req.Name == "":
		errs.Add("name", "required")
	case utf8.RuneCountInString(req.Name) > maxTagNameLength:
		errs.Add("name", "must be at most 50 characters")
	}
	if !hexColor.MatchString(req.Color) {
		errs.Add("color", "must be a hex colour like #1a2b3c")
	}
	if err := errs.Err(); err != nil {
		return err
	}
	t, err := h.Store.CreateTag(c.Request().Context(), userID(c), req.Name, req.Color, strings.TrimSpace(req.Description))
	if err != nil {
		if store.IsUniqueViolation(err) {
			return echo.NewHTTPError(http.StatusConflict, "tag name already in use")
		}
		return err
	}
	return c.JSON(http.StatusCreated, toTagResponse(t))
}

func (h *ReviewHandler) deleteTag(c echo.Context) error {
	if err := h.Store.DeleteTag(c.Request().Context(), c.Param("id"), userID(c)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// reviewableResult loads a result and checks its session accepts decisions.
func (h *ReviewHandler) reviewableResult(c echo.Context) (store.ProcessedResult, store.Session, error) {
	ctx := c.Request().Context()
	r, err := h.Store.GetProcessedResult(ctx, c.Param("id"), userID(c))
	if err != nil {
		return r, store.Session{}, err
	}
	sess, err := h.Store.GetSession(ctx, r.SessionID, userID(c))
	if err != nil {
		return r, sess, err
	}
	if !sess.Status.Reviewable() {
		return r, sess, echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("results cannot be reviewed while the session is %s", sess.Status))
	}
	return r, sess, nil
}

// assignTag attaches a tag. System tags also record the matching decision,
// so an Exclude tag needs an exclusion reason.
func (h *ReviewHandler) assignTag(c echo.Context) error {
	var req struct {
		AssignTagRequest
		ExclusionReason review.ExclusionReason `json:"exclusion_reason"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.TagID) == "" {
		return validate.Errors{"tag_id": "required"}
	}
	r, sess, err := h.reviewableResult(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	tag, err := h.Store.GetTag(ctx, req.TagID, userID(c))
	if err != nil {
		return err
	}

	notes := strings.TrimSpace(req.Notes)
	var a store.TagAssignment
	if d, ok := review.DecisionForTag(tag.Name); ok && tag.IsSystem {
		in := review.DecisionInput{Decision: d, ExclusionReason: req.ExclusionReason, Notes: req.Notes}
		if err := in.Normalize(); err != nil {
			return err
		}
		a, _, err = h.Store.AssignSystemTag(ctx, sess.ID, r.ID, tag.ID, userID(c), notes, in)
	} else {
		a, err = h.Store.AssignTag(ctx, r.ID, tag.ID, userID(c), notes)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"id":         a.ID,
		"result_id":  a.ResultID,
		"tag":        toTagResponse(tag),
		"notes":      a.Notes,
		"created_at": a.CreatedAt,
	})
}

func (h *ReviewHandler) removeTag(c echo.Context) error {
	r, _, err := h.reviewableResult(c)
	if err != nil {
		return err
	}
	if err := h.Store.RemoveTag(c.Request().Context(), r.ID, c.Param("tag_id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ReviewHandler) decide(c echo.Context) error {
	var in review.DecisionInput
	if err := bind(c, &in); err != nil {
		return err
	}
	if err := in.Normalize(); err != nil {
		return err
	}
	r, sess, err := h.reviewableResult(c)
	if err != nil {
		return err
	}
	d, err := h.Store.SaveDecision(c.Request().Context(), sess.ID, r.ID, userID(c), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, DecisionResponse{
		ResultID: d.ResultID, Decision: d.Decision, ExclusionReason: d.ExclusionReason, Notes: d.Notes, ReviewedAt: d.ReviewedAt,
	})
}

func (h *ReviewHandler) progress(c echo.Context) error {
	sess, err := ownedSession(c, h.Store, "id")
	if err != nil {
		return err
	}
	counts, err := h.Store.ReviewCounts(c.Request().Context(), sess.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, review.BuildProgress(counts))
}

// complete closes the review when nothing is pending. Unmet conditions come
// back as issues with a 409.
func (h *ReviewHandler) complete(c echo.Context) error {
	sess, err := ownedSession(c, h.Store, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	counts, err := h.Store.ReviewCounts(ctx, sess.ID)
	if err != nil {
		return err
	}
	issues, warnings := review.CheckCompletion(counts)
	if sess.Status != sessions.StatusUnderReview {
		issues = append(issues, fmt.Sprintf("session is %s, not under review", sess.Status))
	}
	resp := CompletionResponse{Issues: issues, Warnings: warnings, Progress: review.BuildProgress(counts)}
	if len(issues) > 0 {
		return c.JSON(http.StatusConflict, resp)
	}

	uid := userID(c)
	if _, err := h.Store.TransitionSession(ctx, sess.ID, uid, sessions.StatusCompleted, "review completed"); err != nil {
		return err
	}
	if err := h.Store.AddActivity(ctx, sess.ID, uid, sessions.ActivityReviewCompleted,
		fmt.Sprintf("Review completed: %d included, %d excluded, %d maybe", counts.Include, counts.Exclude, counts.Maybe),
		map[string]any{"included": counts.Include, "excluded": counts.Exclude, "maybe": counts.Maybe, "warnings": warnings}); err != nil {
		return err
	}
	updated, err := h.Store.GetSession(ctx, sess.ID, uid)
	if err != nil {
		return err
	}
	sr := toSessionResponse(updated)
	resp.Completed = true
	resp.Session = &sr
	return c.JSON(http.StatusOK, resp)
}
