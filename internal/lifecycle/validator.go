package lifecycle

import (
	"fmt"
	"slices"

	"LeadScanner/internal/domain"
)

var allowedActions = map[domain.Status][]domain.Action{
	domain.StatusFetched:  {domain.ActionView, domain.ActionPublish},
	domain.StatusPending:  {domain.ActionView, domain.ActionAssign, domain.ActionAutoExpire},
	domain.StatusAssigned: {domain.ActionView, domain.ActionReply, domain.ActionAutoUnassign},
	domain.StatusReplied:  {domain.ActionView, domain.ActionArchive, domain.ActionAnnotate},
	domain.StatusArchived: {domain.ActionView},
}

// blockedActions are the explicitly forbidden actions per status; they only
// change the wording of the rejection.
var blockedActions = map[domain.Status][]domain.Action{
	domain.StatusPending:  {domain.ActionReply, domain.ActionReassign},
	domain.StatusAssigned: {domain.ActionAssign},
	domain.StatusReplied:  {domain.ActionReplyAgain, domain.ActionEdit},
	domain.StatusArchived: {
		domain.ActionAssign, domain.ActionReply, domain.ActionArchive, domain.ActionAnnotate,
		domain.ActionAutoExpire, domain.ActionAutoUnassign, domain.ActionReassign,
		domain.ActionReplyAgain, domain.ActionEdit,
	},
}

// Allowed returns the actions permitted for posts in status.
func Allowed(status domain.Status) []domain.Action {
	return append([]domain.Action(nil), allowedActions[status]...)
}

// Validate checks that actor may perform action on a post in status. It
// returns a *domain.ActionError wrapping domain.ErrActionNotAllowed.
func Validate(status domain.Status, action domain.Action, actor string) error {
	allowed := allowedActions[status]
	if !slices.Contains(allowed, action) {
		return &domain.ActionError{
			Status:  status,
			Action:  action,
			Blocked: slices.Contains(blockedActions[status], action),
			Allowed: Allowed(status),
		}
	}

	if action.SystemOnly() && actor != domain.SystemActor {
		return &domain.ActionError{
			Status:  status,
			Action:  action,
			Allowed: Allowed(status),
			Detail:  fmt.Sprintf("action %q can only be performed by the %s", action, domain.SystemActor),
		}
	}
	return nil
}
