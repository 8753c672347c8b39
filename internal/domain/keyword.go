package domain

import (
	"fmt"
	"strings"
)

// Category partitions keywords for the two-category intent rule.
type Category string

const (
	// CategoryPrimary holds intent terms ("buy a house").
	CategoryPrimary Category = "primary"
	// CategorySecondary holds topic or place terms ("los angeles").
	CategorySecondary Category = "secondary"
)

// ParseCategory accepts "primary"/"intent" and "secondary"/"topic".
func ParseCategory(value string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "primary", "intent":
		return CategoryPrimary, nil
	case "secondary", "topic":
		return CategorySecondary, nil
	default:
		return "", fmt.Errorf("unknown keyword category %q", value)
	}
}

// Keyword is a single classification term.
type Keyword struct {
	ID       int64
	Term     string
	Category Category
	TenantID string
	Enabled  bool
}

// NormalizeTerm lower-cases and trims a keyword term.
func NormalizeTerm(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}
