// Package httpapi exposes the operator use cases over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/usecase"
)

// OperatorHeader carries the acting operator's id.
const OperatorHeader = "X-Operator-ID"

const operatorKey = "operator_id"

// Handler serves the operator API.
type Handler struct {
	op     *usecase.Operator
	ping   func(context.Context) error
	logger *slog.Logger
}

// NewHandler wires the operator service. ping backs the health check and may be nil.
func NewHandler(op *usecase.Operator, ping func(context.Context) error, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{op: op, ping: ping, logger: logger}
}

type replyRequest struct {
	Text string `json:"text" binding:"required"`
}

type noteRequest struct {
	Note string `json:"note" binding:"required"`
}

// Health reports liveness and database reachability.
func (h *Handler) Health(c *gin.Context) {
	if h.ping != nil {
		if err := h.ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListPosts handles GET /posts?status=&collection=&limit=.
func (h *Handler) ListPosts(c *gin.Context) {
	filter := domain.PostFilter{Collection: c.Query("collection")}
	if raw := c.Query("status"); raw != "" {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			h.fail(c, errors.Join(domain.ErrInvalidInput, err))
			return
		}
		filter.Status = status
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.fail(c, errors.Join(domain.ErrInvalidInput, errors.New("limit must be a non-negative integer")))
			return
		}
		filter.Limit = limit
	}

	posts, err := h.op.ListPosts(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	if posts == nil {
		posts = []domain.Post{}
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts, "count": len(posts)})
}

// History handles GET /posts/:id/history.
func (h *Handler) History(c *gin.Context) {
	id, ok := h.postID(c)
	if !ok {
		return
	}
	entries, err := h.op.History(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if entries == nil {
		entries = []domain.StatusLog{}
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

// Assign handles POST /posts/:id/assign.
func (h *Handler) Assign(c *gin.Context) {
	id, ok := h.postID(c)
	if !ok {
		return
	}
	post, err := h.op.Assign(c.Request.Context(), id, c.GetString(operatorKey))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

// Reply handles POST /posts/:id/reply.
func (h *Handler) Reply(c *gin.Context) {
	id, ok := h.postID(c)
	if !ok {
		return
	}
	var req replyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	res, err := h.op.Reply(c.Request.Context(), id, c.GetString(operatorKey), req.Text)
	if err != nil {
		var extra gin.H
		if res.CommentID != "" {
			extra = gin.H{"comment_id": res.CommentID}
		}
		h.failWith(c, err, extra)
		return
	}
	h.logger.Info("reply posted", "post_id", id, "operator", c.GetString(operatorKey), "comment_id", res.CommentID)
	c.JSON(http.StatusOK, res)
}

// Archive handles POST /posts/:id/archive.
func (h *Handler) Archive(c *gin.Context) {
	id, ok := h.postID(c)
	if !ok {
		return
	}
	post, err := h.op.Archive(c.Request.Context(), id, c.GetString(operatorKey))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

// Annotate handles POST /posts/:id/notes.
func (h *Handler) Annotate(c *gin.Context) {
	id, ok := h.postID(c)
	if !ok {
		return
	}
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	note, err := h.op.Annotate(c.Request.Context(), id, c.GetString(operatorKey), req.Note)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, note)
}

// TriggerRun handles POST /runs. It blocks until the run finishes; a client
// disconnect does not cancel the run.
func (h *Handler) TriggerRun(c *gin.Context) {
	res, err := h.op.TriggerRun(detached(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// LastRun handles GET /runs/last.
func (h *Handler) LastRun(c *gin.Context) {
	res, ok := h.op.LastRun()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run yet"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// SchedulerStatus handles GET /scheduler.
func (h *Handler) SchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.op.SchedulerStatus()})
}

// KeywordStats handles GET /keywords/stats.
func (h *Handler) KeywordStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.op.KeywordCounts())
}

// ReloadKeywords handles POST /keywords/reload.
func (h *Handler) ReloadKeywords(c *gin.Context) {
	counts, err := h.op.ReloadKeywords(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

// requireOperator rejects requests without an operator id.
func requireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		operator := strings.TrimSpace(c.GetHeader(OperatorHeader))
		if operator == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": OperatorHeader + " header is required"})
			return
		}
		c.Set(operatorKey, operator)
		c.Next()
	}
}

func (h *Handler) postID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid post id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
}

// detached keeps the request values but drops its cancellation.
func detached(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func (h *Handler) fail(c *gin.Context, err error) {
	h.failWith(c, err, nil)
}

func (h *Handler) failWith(c *gin.Context, err error, extra gin.H) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
	} else {
		h.logger.Debug("request rejected", "path", c.FullPath(), "status", status, "error", err)
	}

	body := gin.H{"error": err.Error()}
	for k, v := range extra {
		body[k] = v
	}
	var actionErr *domain.ActionError
	if errors.As(err, &actionErr) {
		body["allowed_actions"] = actionErr.Allowed
	}
	var rl *domain.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())))
	}
	c.JSON(status, body)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotAssignedToActor):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrActionNotAllowed),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAlreadyAssigned),
		errors.Is(err, domain.ErrJobRunning),
		errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrPostFailed), errors.Is(err, domain.ErrAuthFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrMissingField), errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
