package domain

import "time"

// SystemActor marks status changes made by automated jobs.
const SystemActor = "system"

// DeletedAuthor is stored when the source reports no author.
const DeletedAuthor = "[deleted]"

// RawItem is a single item as returned by a source client, before normalization.
type RawItem struct {
	ID          string
	Collection  string
	Title       string
	Body        string
	BodyHTML    string
	Author      string
	Permalink   string
	URL         string
	Upvotes     int
	NumComments int
	Score       int
	CreatedAt   time.Time
}

// Post is a unique externally-sourced item tracked through the operator workflow.
type Post struct {
	ID              int64     `json:"id"`
	SourceID        string    `json:"source_id"`
	Permalink       string    `json:"permalink"`
	Collection      string    `json:"collection"`
	Title           string    `json:"title"`
	Body            string    `json:"body"`
	Author          string    `json:"author"`
	URL             string    `json:"url"`
	Upvotes         int       `json:"upvotes"`
	CommentCount    int       `json:"comment_count"`
	Score           int       `json:"score"`
	Status          Status    `json:"status"`
	AssignedTo      string    `json:"assigned_to,omitempty"`
	CreatedAtSource time.Time `json:"created_at_source"`
	FetchedAt       time.Time `json:"fetched_at"`
	StatusChangedAt time.Time `json:"status_changed_at"`
}

// Text returns the title and body joined for keyword matching.
func (p Post) Text() string {
	return p.Title + " " + p.Body
}

// StatusLog is an immutable audit row written for every status transition.
type StatusLog struct {
	ID        int64     `json:"id"`
	PostID    int64     `json:"post_id"`
	SourceID  string    `json:"source_id"`
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
	ChangedBy string    `json:"changed_by"`
	Reason    string    `json:"reason"`
	ChangedAt time.Time `json:"changed_at"`
}

// Note is an internal operator annotation on a replied post.
type Note struct {
	ID        int64     `json:"id"`
	PostID    int64     `json:"post_id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// PostFilter narrows post listings. Zero values mean "no filter".
type PostFilter struct {
	Status     Status
	Collection string
	Limit      int
}
