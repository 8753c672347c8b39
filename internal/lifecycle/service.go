// Package lifecycle owns every post status change.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/ports"
)

// Reasons recorded in the status log.
const (
	ReasonIngested      = "ingested"
	ReasonManualAssign  = "manual-assign"
	ReasonReplyPosted   = "reply-posted"
	ReasonManualArchive = "manual-archive"
	ReasonAutoExpire    = "auto-expire"
	ReasonAutoUnassign  = "auto-unassign"
)

const defaultConflictRetries = 3

// Service applies validated transitions through the post repository.
type Service struct {
	repo     ports.PostRepository
	logger   *slog.Logger
	now      func() time.Time
	retries  int
	observer func(from, to domain.Status, actor string)
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the transition timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithConflictRetries bounds how often a lost compare-and-set is retried.
func WithConflictRetries(n int) Option {
	return func(s *Service) { s.retries = n }
}

// WithObserver registers a callback invoked after each committed transition.
func WithObserver(fn func(from, to domain.Status, actor string)) Option {
	return func(s *Service) { s.observer = fn }
}

// NewService wires the repository.
func NewService(repo ports.PostRepository, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{repo: repo, logger: logger, now: time.Now, retries: defaultConflictRetries}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transition moves the post to status to. The action is derived from the
// current status, the target and the actor, then validated.
func (s *Service) Transition(ctx context.Context, postID int64, to domain.Status, actor, reason string) (domain.Post, error) {
	if !to.Valid() {
		return domain.Post{}, fmt.Errorf("target %q: %w", to, domain.ErrInvalidTransition)
	}

	return s.mutate(ctx, postID, actor, func(p *domain.Post) (domain.Action, error) {
		action, ok := actionFor(p.Status, to, actor)
		if !ok {
			return "", fmt.Errorf("%s -> %s: %w", p.Status, to, domain.ErrInvalidTransition)
		}
		return action, nil
	}, reason)
}

// Apply performs an explicit action on the post.
func (s *Service) Apply(ctx context.Context, postID int64, action domain.Action, actor, reason string) (domain.Post, error) {
	return s.mutate(ctx, postID, actor, func(*domain.Post) (domain.Action, error) {
		return action, nil
	}, reason)
}

// Publish moves a freshly persisted post into the operator queue.
func (s *Service) Publish(ctx context.Context, postID int64) (domain.Post, error) {
	return s.Apply(ctx, postID, domain.ActionPublish, domain.SystemActor, ReasonIngested)
}

// Assign claims a pending post for operatorID.
func (s *Service) Assign(ctx context.Context, postID int64, operatorID string) (domain.Post, error) {
	if err := requireOperator(operatorID); err != nil {
		return domain.Post{}, err
	}

	return s.mutate(ctx, postID, operatorID, func(p *domain.Post) (domain.Action, error) {
		if p.Status != domain.StatusPending {
			return "", fmt.Errorf("post %d is %s: %w", p.ID, p.Status, domain.ErrAlreadyAssigned)
		}
		return domain.ActionAssign, nil
	}, ReasonManualAssign)
}

// MarkReplied records that operatorID answered the post they hold.
func (s *Service) MarkReplied(ctx context.Context, postID int64, operatorID string) (domain.Post, error) {
	if err := requireOperator(operatorID); err != nil {
		return domain.Post{}, err
	}

	return s.mutate(ctx, postID, operatorID, func(p *domain.Post) (domain.Action, error) {
		if err := Validate(p.Status, domain.ActionReply, operatorID); err != nil {
			return "", err
		}
		if p.AssignedTo != operatorID {
			return "", fmt.Errorf("post %d: %w", p.ID, domain.ErrNotAssignedToActor)
		}
		return domain.ActionReply, nil
	}, ReasonReplyPosted)
}

// CheckReply verifies, without mutating, that operatorID may reply to the post.
func (s *Service) CheckReply(ctx context.Context, postID int64, operatorID string) (domain.Post, error) {
	if err := requireOperator(operatorID); err != nil {
		return domain.Post{}, err
	}

	post, err := s.repo.Get(ctx, postID)
	if err != nil {
		return domain.Post{}, err
	}
	if err := Validate(post.Status, domain.ActionReply, operatorID); err != nil {
		return domain.Post{}, err
	}
	if post.AssignedTo != operatorID {
		return domain.Post{}, fmt.Errorf("post %d: %w", post.ID, domain.ErrNotAssignedToActor)
	}
	return post, nil
}

// Archive closes a replied post.
func (s *Service) Archive(ctx context.Context, postID int64, operatorID string) (domain.Post, error) {
	if err := requireOperator(operatorID); err != nil {
		return domain.Post{}, err
	}
	return s.Apply(ctx, postID, domain.ActionArchive, operatorID, ReasonManualArchive)
}

// Annotate attaches an internal note to a replied post. Notes do not change
// status and are not logged as transitions.
func (s *Service) Annotate(ctx context.Context, postID int64, operatorID, body string) (domain.Note, error) {
	if err := requireOperator(operatorID); err != nil {
		return domain.Note{}, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.Note{}, fmt.Errorf("note body: %w", domain.ErrMissingField)
	}

	post, err := s.repo.Get(ctx, postID)
	if err != nil {
		return domain.Note{}, err
	}
	if err := Validate(post.Status, domain.ActionAnnotate, operatorID); err != nil {
		return domain.Note{}, err
	}

	return s.repo.AddNote(ctx, domain.Note{
		PostID:    postID,
		Author:    operatorID,
		Body:      body,
		CreatedAt: s.now().UTC(),
	})
}

// AutoExpire archives a stale pending post on behalf of the system.
func (s *Service) AutoExpire(ctx context.Context, postID int64) (domain.Post, error) {
	return s.Apply(ctx, postID, domain.ActionAutoExpire, domain.SystemActor, ReasonAutoExpire)
}

// AutoUnassign returns a stale assigned post to the queue on behalf of the system.
func (s *Service) AutoUnassign(ctx context.Context, postID int64) (domain.Post, error) {
	return s.Apply(ctx, postID, domain.ActionAutoUnassign, domain.SystemActor, ReasonAutoUnassign)
}

// History returns the post's status log in chronological order.
func (s *Service) History(ctx context.Context, postID int64) ([]domain.StatusLog, error) {
	return s.repo.History(ctx, postID)
}

// decideFunc inspects the current post and names the action to apply.
type decideFunc func(p *domain.Post) (domain.Action, error)

func (s *Service) mutate(ctx context.Context, postID int64, actor string, decide decideFunc, reason string) (domain.Post, error) {
	var from domain.Status

	attempt := func(p *domain.Post) (*domain.StatusLog, error) {
		action, err := decide(p)
		if err != nil {
			return nil, err
		}
		if err := Validate(p.Status, action, actor); err != nil {
			return nil, err
		}
		to, ok := domain.Next(p.Status, action)
		if !ok {
			return nil, fmt.Errorf("%s on %s post: %w", action, p.Status, domain.ErrInvalidTransition)
		}

		from = p.Status
		now := s.now().UTC()
		p.Status = to
		p.StatusChangedAt = now
		p.AssignedTo = ""
		if to == domain.StatusAssigned {
			p.AssignedTo = actor
		}

		return &domain.StatusLog{
			PostID:    p.ID,
			SourceID:  p.SourceID,
			OldStatus: from,
			NewStatus: to,
			ChangedBy: actor,
			Reason:    reason,
			ChangedAt: now,
		}, nil
	}

	var lastErr error
	for i := 0; i <= s.retries; i++ {
		post, err := s.repo.Mutate(ctx, postID, attempt)
		if err == nil {
			s.committed(post, from, actor, reason)
			return post, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.Post{}, err
		}
		lastErr = err
		if s.logger != nil {
			s.logger.Debug("status changed concurrently, retrying", "post_id", postID, "attempt", i+1)
		}
	}
	return domain.Post{}, lastErr
}

func (s *Service) committed(post domain.Post, from domain.Status, actor, reason string) {
	if s.logger != nil {
		s.logger.Info("post transitioned", "post_id", post.ID, "source_id", post.SourceID,
			"from", from, "to", post.Status, "actor", actor, "reason", reason)
	}
	if s.observer != nil {
		s.observer(from, post.Status, actor)
	}
}

// actionFor maps a requested target status to the action that reaches it.
func actionFor(current, to domain.Status, actor string) (domain.Action, bool) {
	switch to {
	case domain.StatusAssigned:
		return domain.ActionAssign, true
	case domain.StatusReplied:
		return domain.ActionReply, true
	case domain.StatusArchived:
		if actor == domain.SystemActor {
			return domain.ActionAutoExpire, true
		}
		return domain.ActionArchive, true
	case domain.StatusPending:
		if current == domain.StatusFetched {
			return domain.ActionPublish, true
		}
		return domain.ActionAutoUnassign, true
	default:
		return "", false
	}
}

func requireOperator(operatorID string) error {
	if strings.TrimSpace(operatorID) == "" {
		return fmt.Errorf("operator id: %w", domain.ErrMissingField)
	}
	return nil
}
