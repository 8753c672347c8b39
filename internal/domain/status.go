package domain

import (
	"fmt"
	"strings"
)

// Status enumerates the post lifecycle states.
type Status string

const (
	StatusFetched  Status = "fetched"
	StatusPending  Status = "pending"
	StatusAssigned Status = "assigned"
	StatusReplied  Status = "replied"
	StatusArchived Status = "archived"
)

// Statuses lists every lifecycle state in workflow order.
var Statuses = []Status{StatusFetched, StatusPending, StatusAssigned, StatusReplied, StatusArchived}

// ParseStatus accepts a case-insensitive status name.
func ParseStatus(value string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", value)
	}
	return s, nil
}

// Valid reports whether s is one of the lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusFetched, StatusPending, StatusAssigned, StatusReplied, StatusArchived:
		return true
	default:
		return false
	}
}

// Action is something an operator or the system can request on a post.
type Action string

const (
	ActionView         Action = "view"
	ActionPublish      Action = "publish"
	ActionAssign       Action = "assign"
	ActionReply        Action = "reply"
	ActionArchive      Action = "archive"
	ActionAnnotate     Action = "annotate"
	ActionAutoExpire   Action = "auto_expire"
	ActionAutoUnassign Action = "auto_unassign"
	ActionReassign     Action = "reassign"
	ActionReplyAgain   Action = "reply_again"
	ActionEdit         Action = "edit"
)

// SystemOnly reports whether the action may only be requested by SystemActor.
func (a Action) SystemOnly() bool {
	switch a {
	case ActionPublish, ActionAutoExpire, ActionAutoUnassign:
		return true
	default:
		return false
	}
}

// transitions is the complete (from, action) -> to table. Actions absent from
// a row do not change status.
var transitions = map[Status]map[Action]Status{
	StatusFetched: {
		ActionPublish: StatusPending,
	},
	StatusPending: {
		ActionAssign:     StatusAssigned,
		ActionAutoExpire: StatusArchived,
	},
	StatusAssigned: {
		ActionReply:        StatusReplied,
		ActionAutoUnassign: StatusPending,
	},
	StatusReplied: {
		ActionArchive: StatusArchived,
	},
	StatusArchived: {},
}

// Next returns the state reached by applying action in from.
func Next(from Status, action Action) (Status, bool) {
	to, ok := transitions[from][action]
	return to, ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}
