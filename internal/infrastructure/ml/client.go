// Package ml talks to an external lead classification service.
package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/ports"
)

// Classifier asks the service which posts are genuine buyer leads and drops
// the ones it rejects. Posts the service does not mention are kept.
type Classifier struct {
	endpoint string
	apiKey   string
	http     *http.Client
	logger   *slog.Logger
}

var _ ports.Enricher = (*Classifier)(nil)

// NewClassifier creates a reusable HTTP client.
func NewClassifier(endpoint, apiKey string, timeout time.Duration, logger *slog.Logger) *Classifier {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type classifyItem struct {
	SourceID   string `json:"source_id"`
	Collection string `json:"collection"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	Author     string `json:"author"`
}

type classifyResponse struct {
	Results []struct {
		SourceID string `json:"source_id"`
		Lead     bool   `json:"lead"`
		Reason   string `json:"reason"`
	} `json:"results"`
}

// Enrich implements ports.Enricher.
func (c *Classifier) Enrich(ctx context.Context, posts []domain.Post) ([]domain.Post, error) {
	if len(posts) == 0 {
		return posts, nil
	}

	payload := struct {
		Posts []classifyItem `json:"posts"`
	}{Posts: make([]classifyItem, len(posts))}
	for i, p := range posts {
		payload.Posts[i] = classifyItem{
			SourceID:   p.SourceID,
			Collection: p.Collection,
			Title:      p.Title,
			Body:       p.Body,
			Author:     p.Author,
		}
	}

	var resp classifyResponse
	if err := c.post(ctx, "/classify", payload, &resp); err != nil {
		return nil, err
	}

	rejected := make(map[string]string, len(resp.Results))
	for _, r := range resp.Results {
		if !r.Lead {
			rejected[r.SourceID] = r.Reason
		}
	}

	kept := posts[:0:0]
	for _, p := range posts {
		if reason, ok := rejected[p.SourceID]; ok {
			c.logger.Debug("post rejected by classifier", "source_id", p.SourceID, "reason", reason)
			continue
		}
		kept = append(kept, p)
	}
	return kept, nil
}

func (c *Classifier) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("classify: unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode classify response: %w", err)
	}
	return nil
}
