package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/keywords"
	"LeadScanner/internal/lifecycle"
	"LeadScanner/internal/ports"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ReplyResult is returned after a reply was published upstream.
type ReplyResult struct {
	Post      domain.Post `json:"post"`
	CommentID string      `json:"comment_id"`
}

// KeywordCounts reports the size of the loaded keyword snapshot.
type KeywordCounts struct {
	Primary   int `json:"primary"`
	Secondary int `json:"secondary"`
}

// OperatorDeps wires the operator use cases.
type OperatorDeps struct {
	Posts     ports.PostRepository
	Lifecycle *lifecycle.Service
	Replies   ports.ReplyClient
	Scheduler *Scheduler
	Matcher   keywords.Matcher
	Logger    *slog.Logger
}

// Operator exposes the actions available to human operators.
type Operator struct {
	posts     ports.PostRepository
	lifecycle *lifecycle.Service
	replies   ports.ReplyClient
	scheduler *Scheduler
	matcher   keywords.Matcher
	logger    *slog.Logger
}

// NewOperator builds the operator service.
func NewOperator(deps OperatorDeps) *Operator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Operator{
		posts:     deps.Posts,
		lifecycle: deps.Lifecycle,
		replies:   deps.Replies,
		scheduler: deps.Scheduler,
		matcher:   deps.Matcher,
		logger:    logger,
	}
}

// ListPosts returns posts matching filter, newest first.
func (o *Operator) ListPosts(ctx context.Context, filter domain.PostFilter) ([]domain.Post, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("status %q: %w", filter.Status, domain.ErrInvalidInput)
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}

	posts, err := o.posts.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return posts, nil
}

// Assign claims a pending post for the operator.
func (o *Operator) Assign(ctx context.Context, postID int64, operatorID string) (domain.Post, error) {
	return o.lifecycle.Assign(ctx, postID, operatorID)
}

// Reply publishes text upstream on behalf of the assigned operator and marks
// the post replied. Ownership is checked before anything is sent. If the
// status update fails after the reply went out, the result still carries the
// comment id.
func (o *Operator) Reply(ctx context.Context, postID int64, operatorID, text string) (ReplyResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ReplyResult{}, fmt.Errorf("reply text: %w", domain.ErrMissingField)
	}
	if o.replies == nil {
		return ReplyResult{}, fmt.Errorf("no reply client configured: %w", domain.ErrPostFailed)
	}

	post, err := o.lifecycle.CheckReply(ctx, postID, operatorID)
	if err != nil {
		return ReplyResult{}, err
	}

	commentID, err := o.replies.PostReply(ctx, post.SourceID, text)
	if err != nil {
		return ReplyResult{}, fmt.Errorf("post reply to %s: %w", post.SourceID, err)
	}

	replied, err := o.lifecycle.MarkReplied(ctx, postID, operatorID)
	if err != nil {
		o.logger.Error("reply posted but status not updated",
			"post_id", postID, "comment_id", commentID, "operator", operatorID, "error", err)
		return ReplyResult{CommentID: commentID}, err
	}
	return ReplyResult{Post: replied, CommentID: commentID}, nil
}

// Archive closes a replied post.
func (o *Operator) Archive(ctx context.Context, postID int64, operatorID string) (domain.Post, error) {
	return o.lifecycle.Archive(ctx, postID, operatorID)
}

// Annotate attaches a note to a post.
func (o *Operator) Annotate(ctx context.Context, postID int64, operatorID, body string) (domain.Note, error) {
	return o.lifecycle.Annotate(ctx, postID, operatorID, body)
}

// History returns the post's status log.
func (o *Operator) History(ctx context.Context, postID int64) ([]domain.StatusLog, error) {
	if _, err := o.posts.Get(ctx, postID); err != nil {
		return nil, err
	}
	return o.lifecycle.History(ctx, postID)
}

// TriggerRun starts a pipeline run now.
func (o *Operator) TriggerRun(ctx context.Context) (domain.RunResult, error) {
	if o.scheduler == nil {
		return domain.RunResult{}, fmt.Errorf("scheduler not configured")
	}
	return o.scheduler.TriggerRun(ctx)
}

// SchedulerStatus reports every job's last and next run.
func (o *Operator) SchedulerStatus() map[string]domain.JobStatus {
	if o.scheduler == nil {
		return map[string]domain.JobStatus{}
	}
	return o.scheduler.Status()
}

// LastRun returns the most recent pipeline result.
func (o *Operator) LastRun() (domain.RunResult, bool) {
	if o.scheduler == nil {
		return domain.RunResult{}, false
	}
	return o.scheduler.LastRun()
}

// ReloadKeywords swaps in the current keyword set and returns its size.
func (o *Operator) ReloadKeywords(ctx context.Context) (KeywordCounts, error) {
	if err := o.matcher.Reload(ctx); err != nil {
		return KeywordCounts{}, fmt.Errorf("reload keywords: %w", err)
	}
	return o.KeywordCounts(), nil
}

// KeywordCounts returns the size of the loaded keyword set.
func (o *Operator) KeywordCounts() KeywordCounts {
	primary, secondary := o.matcher.Count()
	return KeywordCounts{Primary: primary, Secondary: secondary}
}
