package keywords

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/ports"
)

// File is the YAML layout accepted by the importer.
type File struct {
	Tenant    string   `yaml:"tenant"`
	Primary   []string `yaml:"primary"`
	Secondary []string `yaml:"secondary"`
	Disabled  []string `yaml:"disabled"`
}

// ImportStats summarizes one import.
type ImportStats struct {
	Primary   int
	Secondary int
	Disabled  int
}

// Importer upserts keyword lists into the repository.
type Importer struct {
	repo   ports.KeywordRepository
	logger *slog.Logger
}

// NewImporter wires the keyword repository.
func NewImporter(repo ports.KeywordRepository, logger *slog.Logger) *Importer {
	return &Importer{repo: repo, logger: logger}
}

// ImportFile reads a YAML keyword file from disk.
func (i *Importer) ImportFile(ctx context.Context, path string) (ImportStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImportStats{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return i.Import(ctx, f)
}

// Import decodes a YAML keyword document and upserts every term. Terms listed
// under "disabled" are stored with enabled=false in both categories.
func (i *Importer) Import(ctx context.Context, r io.Reader) (ImportStats, error) {
	var doc File
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return ImportStats{}, fmt.Errorf("decode keywords: %w", err)
	}
	return i.Apply(ctx, doc)
}

// Apply upserts the terms of doc.
func (i *Importer) Apply(ctx context.Context, doc File) (ImportStats, error) {
	var stats ImportStats

	upsert := func(term string, category domain.Category, enabled bool) (bool, error) {
		if domain.NormalizeTerm(term) == "" {
			return false, nil
		}
		err := i.repo.Upsert(ctx, domain.Keyword{
			Term:     term,
			Category: category,
			TenantID: doc.Tenant,
			Enabled:  enabled,
		})
		if err != nil {
			return false, fmt.Errorf("import %s %q: %w", category, term, err)
		}
		return true, nil
	}

	for _, term := range doc.Primary {
		ok, err := upsert(term, domain.CategoryPrimary, true)
		if err != nil {
			return stats, err
		}
		if ok {
			stats.Primary++
		}
	}
	for _, term := range doc.Secondary {
		ok, err := upsert(term, domain.CategorySecondary, true)
		if err != nil {
			return stats, err
		}
		if ok {
			stats.Secondary++
		}
	}
	for _, term := range doc.Disabled {
		for _, category := range []domain.Category{domain.CategoryPrimary, domain.CategorySecondary} {
			if _, err := upsert(term, category, false); err != nil {
				return stats, err
			}
		}
		stats.Disabled++
	}

	if i.logger != nil {
		i.logger.Info("keywords imported", "tenant", doc.Tenant,
			"primary", stats.Primary, "secondary", stats.Secondary, "disabled", stats.Disabled)
	}
	return stats, nil
}

// Seed imports doc only when the repository holds no keywords yet.
func (i *Importer) Seed(ctx context.Context, doc File) (bool, error) {
	existing, err := i.repo.List(ctx)
	if err != nil {
		return false, fmt.Errorf("list keywords: %w", err)
	}
	if len(existing) > 0 || (len(doc.Primary) == 0 && len(doc.Secondary) == 0) {
		return false, nil
	}

	if _, err := i.Apply(ctx, doc); err != nil {
		return false, err
	}
	return true, nil
}
