// Package filter decides which normalized posts are worth keeping.
package filter

import (
	"strings"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/keywords"
)

// DefaultAdIndicators flag promotional posts by phrases in title, body or author.
var DefaultAdIndicators = []string{
	"real estate agent", "realtor", "real estate company", "mortgage broker", "lender",
	"for sale by owner", "fsbo", "listing", "open house", "contact us", "call now",
	"visit our website", "www.", "http://", "https://", ".com", ".net", ".org", "email",
	"@", "dm me", "message me", "reach out", "professional", "licensed", "certified",
	"years of experience", "specializing in", "services", "we help", "we offer",
	"our team", "our company",
}

// DefaultBusinessAuthorMarkers flag author names that look like businesses.
var DefaultBusinessAuthorMarkers = []string{
	"realty", "properties", "homes", "estate", "group", "team", "llc", "inc",
}

// Keyword applies the two-category keep-worthy rule.
type Keyword struct {
	matcher keywords.Matcher
}

// NewKeyword wraps a matcher.
func NewKeyword(m keywords.Matcher) *Keyword {
	return &Keyword{matcher: m}
}

// Keep reports whether the post matches at least one primary and one
// secondary keyword.
func (f *Keyword) Keep(p domain.Post) (keywords.MatchResult, bool) {
	if f == nil || f.matcher == nil {
		return keywords.MatchResult{}, false
	}
	res := f.matcher.Match(p.Text())
	return res, res.KeepWorthy()
}

// Advertisement excludes promotional posts.
type Advertisement struct {
	indicators []string
	markers    []string
}

// NewAdvertisement lower-cases the configured indicator and author marker lists.
func NewAdvertisement(indicators, authorMarkers []string) *Advertisement {
	return &Advertisement{
		indicators: normalizeAll(indicators),
		markers:    normalizeAll(authorMarkers),
	}
}

// Match returns the first indicator found in the post and whether it is an ad.
// The deleted-author placeholder is never treated as a business name.
func (f *Advertisement) Match(p domain.Post) (string, bool) {
	if f == nil {
		return "", false
	}

	author := strings.ToLower(p.Author)
	if author == domain.DeletedAuthor {
		author = ""
	}
	combined := strings.ToLower(p.Title) + " " + strings.ToLower(p.Body) + " " + author

	for _, indicator := range f.indicators {
		if strings.Contains(combined, indicator) {
			return indicator, true
		}
	}
	for _, marker := range f.markers {
		if author != "" && strings.Contains(author, marker) {
			return "author:" + marker, true
		}
	}
	return "", false
}

// Engagement enforces minimum upvote and comment thresholds.
type Engagement struct {
	MinUpvotes  int
	MinComments int
}

// Keep reports whether the post meets both thresholds.
func (f Engagement) Keep(p domain.Post) bool {
	return p.Upvotes >= f.MinUpvotes && p.CommentCount >= f.MinComments
}

func normalizeAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
