// Package normalize converts raw source items into posts.
package normalize

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"LeadScanner/internal/domain"
)

// Normalizer turns source payloads into domain posts with status fetched.
type Normalizer struct {
	base   *url.URL
	now    func() time.Time
	logger *slog.Logger
}

// Option customizes a Normalizer.
type Option func(*Normalizer)

// WithClock overrides the fetch timestamp source.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// New builds a normalizer that resolves relative permalinks against baseURL.
func New(baseURL string, logger *slog.Logger, opts ...Option) (*Normalizer, error) {
	n := &Normalizer{now: time.Now, logger: logger}
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		n.base = u
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Normalize converts items in order, dropping the ones that cannot be
// identified. It returns the kept posts and the number dropped.
func (n *Normalizer) Normalize(items []domain.RawItem) ([]domain.Post, int) {
	posts := make([]domain.Post, 0, len(items))
	dropped := 0
	for _, item := range items {
		post, err := n.Post(item)
		if err != nil {
			dropped++
			if n.logger != nil {
				n.logger.Warn("drop raw item", "collection", item.Collection, "title", item.Title, "error", err)
			}
			continue
		}
		posts = append(posts, post)
	}
	return posts, dropped
}

// Post converts a single item. Items without a source id yield ErrMissingField.
func (n *Normalizer) Post(item domain.RawItem) (domain.Post, error) {
	sourceID := strings.TrimSpace(item.ID)
	if sourceID == "" {
		return domain.Post{}, fmt.Errorf("source id: %w", domain.ErrMissingField)
	}

	now := n.now().UTC()
	created := item.CreatedAt.UTC()
	if item.CreatedAt.IsZero() {
		created = now
	}

	author := strings.TrimSpace(item.Author)
	if author == "" {
		author = domain.DeletedAuthor
	}

	return domain.Post{
		SourceID:        sourceID,
		Permalink:       n.absolute(item.Permalink),
		Collection:      strings.TrimSpace(item.Collection),
		Title:           collapse(item.Title),
		Body:            bodyText(item),
		Author:          author,
		URL:             strings.TrimSpace(item.URL),
		Upvotes:         max(item.Upvotes, 0),
		CommentCount:    max(item.NumComments, 0),
		Score:           item.Score,
		Status:          domain.StatusFetched,
		CreatedAtSource: created,
		FetchedAt:       now,
		StatusChangedAt: now,
	}, nil
}

func (n *Normalizer) absolute(link string) string {
	link = strings.TrimSpace(link)
	if link == "" || n.base == nil {
		return link
	}
	ref, err := url.Parse(link)
	if err != nil || ref.IsAbs() {
		return link
	}
	return n.base.ResolveReference(ref).String()
}

func bodyText(item domain.RawItem) string {
	if strings.TrimSpace(item.Body) != "" {
		return strings.TrimSpace(item.Body)
	}
	if strings.TrimSpace(item.BodyHTML) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(item.BodyHTML))
	if err != nil {
		return collapse(item.BodyHTML)
	}
	var parts []string
	collectText(doc.Selection, &parts)
	return collapse(strings.Join(parts, " "))
}

// collectText gathers text nodes in document order. Joining them with spaces
// keeps block elements from running words together.
func collectText(s *goquery.Selection, parts *[]string) {
	s.Contents().Each(func(_ int, child *goquery.Selection) {
		if goquery.NodeName(child) == "#text" {
			*parts = append(*parts, child.Text())
			return
		}
		collectText(child, parts)
	})
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
