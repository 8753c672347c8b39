package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/ports"
)

const (
	postsTable = "posts"
	logTable   = "post_status_log"
	notesTable = "post_notes"

	// keeps IN lists below the SQLite bound-variable limit
	identityChunk = 500
)

var postColumns = []string{
	"id", "source_id", "permalink", "collection", "title", "body", "author", "url",
	"upvotes", "comment_count", "score", "status", "assigned_to",
	"created_at_source", "fetched_at", "status_changed_at",
}

// PostRepository persists posts, status history and notes.
type PostRepository struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ ports.PostRepository = (*PostRepository)(nil)

// NewPostRepository wires a sql.DB implementation for the given dialect.
func NewPostRepository(db *sql.DB, dialect Dialect) *PostRepository {
	return &PostRepository{db: db, sb: dialect.builder()}
}

// Count returns the number of stored posts.
func (r *PostRepository) Count(ctx context.Context) (int64, error) {
	query, args, err := r.sb.Select("COUNT(*)").From(postsTable).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}

	var n int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return n, nil
}

// DeleteOldest removes the n posts with the oldest fetched_at.
func (r *PostRepository) DeleteOldest(ctx context.Context, n int64) (int64, error) {
	if n <= 0 {
		return 0, nil
	}

	query, args, err := r.sb.Delete(postsTable).
		Where(sq.Expr("id IN (SELECT id FROM posts ORDER BY fetched_at ASC, id ASC LIMIT ?)", n)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete oldest: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete oldest: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return deleted, nil
}

// ExistingSourceIDs returns the subset of ids already stored.
func (r *PostRepository) ExistingSourceIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	return r.existing(ctx, "source_id", ids)
}

// ExistingPermalinks returns the subset of permalinks already stored.
func (r *PostRepository) ExistingPermalinks(ctx context.Context, permalinks []string) (map[string]bool, error) {
	return r.existing(ctx, "permalink", permalinks)
}

func (r *PostRepository) existing(ctx context.Context, column string, values []string) (map[string]bool, error) {
	result := make(map[string]bool)
	for start := 0; start < len(values); start += identityChunk {
		end := min(start+identityChunk, len(values))
		if err := r.existingChunk(ctx, column, values[start:end], result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (r *PostRepository) existingChunk(ctx context.Context, column string, values []string, into map[string]bool) (err error) {
	query, args, err := r.sb.Select(column).From(postsTable).Where(sq.Eq{column: values}).ToSql()
	if err != nil {
		return fmt.Errorf("build existing %s: %w", column, err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query existing %s: %w", column, err)
	}
	defer closeRows(rows, &err)

	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return fmt.Errorf("scan %s: %w", column, err)
		}
		into[v] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration: %w", err)
	}
	return nil
}

// Insert stores a new post and returns its id. A post whose source id or
// permalink already exists yields domain.ErrDuplicate.
func (r *PostRepository) Insert(ctx context.Context, post domain.Post) (int64, error) {
	query, args, err := r.sb.Insert(postsTable).
		Columns(postColumns[1:]...).
		Values(
			post.SourceID, nullString(post.Permalink), post.Collection, post.Title, post.Body,
			post.Author, post.URL, post.Upvotes, post.CommentCount, post.Score,
			string(post.Status), nullString(post.AssignedTo),
			post.CreatedAtSource.UTC(), post.FetchedAt.UTC(), post.StatusChangedAt.UTC(),
		).
		Suffix("ON CONFLICT DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert: %w", err)
	}

	var id int64
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows), isUniqueViolation(err):
		return 0, fmt.Errorf("insert %s: %w", post.SourceID, domain.ErrDuplicate)
	case err != nil:
		return 0, fmt.Errorf("insert %s: %w", post.SourceID, err)
	}
	return id, nil
}

// Get loads one post by id.
func (r *PostRepository) Get(ctx context.Context, id int64) (domain.Post, error) {
	return r.get(ctx, r.db, id)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *PostRepository) get(ctx context.Context, q rowQuerier, id int64) (domain.Post, error) {
	query, args, err := r.sb.Select(postColumns...).From(postsTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Post{}, fmt.Errorf("build get: %w", err)
	}

	post, err := scanPost(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Post{}, fmt.Errorf("post %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Post{}, fmt.Errorf("get post %d: %w", id, err)
	}
	return post, nil
}

// List returns posts matching filter, newest first.
func (r *PostRepository) List(ctx context.Context, filter domain.PostFilter) (posts []domain.Post, err error) {
	builder := r.sb.Select(postColumns...).From(postsTable).OrderBy("fetched_at DESC", "id DESC")
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.Collection != "" {
		builder = builder.Where(sq.Eq{"collection": filter.Collection})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer closeRows(rows, &err)

	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return posts, nil
}

// StaleIDs returns ids of posts in status whose last status change is before the cutoff.
func (r *PostRepository) StaleIDs(ctx context.Context, status domain.Status, before time.Time) (ids []int64, err error) {
	query, args, err := r.sb.Select("id").From(postsTable).
		Where(sq.Eq{"status": string(status)}).
		Where(sq.Lt{"status_changed_at": before.UTC()}).
		OrderBy("status_changed_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build stale: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stale: %w", err)
	}
	defer closeRows(rows, &err)

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return ids, nil
}

// Mutate reads the post, lets fn decide the change and applies it with a
// compare-and-set on the previous status, appending the returned log entry in
// the same transaction. A concurrent status change yields domain.ErrConflict.
func (r *PostRepository) Mutate(ctx context.Context, id int64, fn ports.MutateFunc) (post domain.Post, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Post{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	post, err = r.get(ctx, tx, id)
	if err != nil {
		return domain.Post{}, err
	}

	previous := post.Status
	entry, err := fn(&post)
	if err != nil {
		return domain.Post{}, err
	}
	if entry == nil {
		return domain.Post{}, fmt.Errorf("post %d: mutation produced no log entry", id)
	}

	update, args, err := r.sb.Update(postsTable).
		Set("status", string(post.Status)).
		Set("assigned_to", nullString(post.AssignedTo)).
		Set("status_changed_at", post.StatusChangedAt.UTC()).
		Where(sq.Eq{"id": id, "status": string(previous)}).
		ToSql()
	if err != nil {
		return domain.Post{}, fmt.Errorf("build update: %w", err)
	}

	res, err := tx.ExecContext(ctx, update, args...)
	if err != nil {
		return domain.Post{}, fmt.Errorf("update post %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Post{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.Post{}, fmt.Errorf("post %d: %w", id, domain.ErrConflict)
	}

	insert, args, err := r.sb.Insert(logTable).
		Columns("post_id", "source_id", "old_status", "new_status", "changed_by", "reason", "changed_at").
		Values(post.ID, post.SourceID, string(entry.OldStatus), string(entry.NewStatus),
			entry.ChangedBy, entry.Reason, entry.ChangedAt.UTC()).
		ToSql()
	if err != nil {
		return domain.Post{}, fmt.Errorf("build log insert: %w", err)
	}
	if _, err = tx.ExecContext(ctx, insert, args...); err != nil {
		return domain.Post{}, fmt.Errorf("append status log: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return domain.Post{}, fmt.Errorf("commit: %w", err)
	}
	return post, nil
}

// History returns status log rows for a post in chronological order.
func (r *PostRepository) History(ctx context.Context, id int64) (entries []domain.StatusLog, err error) {
	query, args, err := r.sb.
		Select("id", "post_id", "source_id", "old_status", "new_status", "changed_by", "reason", "changed_at").
		From(logTable).
		Where(sq.Eq{"post_id": id}).
		OrderBy("changed_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer closeRows(rows, &err)

	for rows.Next() {
		var (
			e        domain.StatusLog
			from, to string
		)
		if err := rows.Scan(&e.ID, &e.PostID, &e.SourceID, &from, &to, &e.ChangedBy, &e.Reason, &e.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		e.OldStatus, e.NewStatus = domain.Status(from), domain.Status(to)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return entries, nil
}

// AddNote stores an operator note.
func (r *PostRepository) AddNote(ctx context.Context, note domain.Note) (domain.Note, error) {
	query, args, err := r.sb.Insert(notesTable).
		Columns("post_id", "author", "body", "created_at").
		Values(note.PostID, note.Author, note.Body, note.CreatedAt.UTC()).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return domain.Note{}, fmt.Errorf("build note insert: %w", err)
	}

	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&note.ID); err != nil {
		return domain.Note{}, fmt.Errorf("insert note: %w", err)
	}
	return note, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (domain.Post, error) {
	var (
		p          domain.Post
		permalink  sql.NullString
		assignedTo sql.NullString
		status     string
	)
	err := row.Scan(
		&p.ID, &p.SourceID, &permalink, &p.Collection, &p.Title, &p.Body, &p.Author, &p.URL,
		&p.Upvotes, &p.CommentCount, &p.Score, &status, &assignedTo,
		&p.CreatedAtSource, &p.FetchedAt, &p.StatusChangedAt,
	)
	if err != nil {
		return domain.Post{}, err
	}
	p.Permalink = permalink.String
	p.AssignedTo = assignedTo.String
	p.Status = domain.Status(status)
	return p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
