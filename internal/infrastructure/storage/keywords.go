package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/ports"
)

const keywordsTable = "keywords"

// KeywordStore persists classification keywords.
type KeywordStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ ports.KeywordRepository = (*KeywordStore)(nil)

// NewKeywordStore wires a sql.DB implementation for the given dialect.
func NewKeywordStore(db *sql.DB, dialect Dialect) *KeywordStore {
	return &KeywordStore{db: db, sb: dialect.builder()}
}

// Enabled returns enabled keywords visible to tenantID: its own rows plus
// global ones. An empty tenantID selects global rows only.
func (s *KeywordStore) Enabled(ctx context.Context, tenantID string) ([]domain.Keyword, error) {
	tenants := []string{""}
	if tenantID != "" {
		tenants = append(tenants, tenantID)
	}

	return s.query(ctx, s.sb.Select("id", "term", "category", "tenant_id", "enabled").
		From(keywordsTable).
		Where(sq.Eq{"enabled": true, "tenant_id": tenants}).
		OrderBy("id ASC"))
}

// List returns every keyword row.
func (s *KeywordStore) List(ctx context.Context) ([]domain.Keyword, error) {
	return s.query(ctx, s.sb.Select("id", "term", "category", "tenant_id", "enabled").
		From(keywordsTable).
		OrderBy("tenant_id ASC", "category ASC", "term ASC"))
}

// Upsert inserts the keyword or updates its enabled flag.
func (s *KeywordStore) Upsert(ctx context.Context, kw domain.Keyword) error {
	term := domain.NormalizeTerm(kw.Term)
	if term == "" {
		return fmt.Errorf("keyword term: %w", domain.ErrMissingField)
	}

	query, args, err := s.sb.Insert(keywordsTable).
		Columns("term", "category", "tenant_id", "enabled").
		Values(term, string(kw.Category), kw.TenantID, kw.Enabled).
		Suffix("ON CONFLICT (term, category, tenant_id) DO UPDATE SET enabled = excluded.enabled").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert keyword %q: %w", term, err)
	}
	return nil
}

func (s *KeywordStore) query(ctx context.Context, builder sq.SelectBuilder) (keywords []domain.Keyword, err error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build keyword query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query keywords: %w", err)
	}
	defer closeRows(rows, &err)

	for rows.Next() {
		var (
			kw       domain.Keyword
			category string
		)
		if err := rows.Scan(&kw.ID, &kw.Term, &category, &kw.TenantID, &kw.Enabled); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		kw.Category = domain.Category(category)
		keywords = append(keywords, kw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return keywords, nil
}
