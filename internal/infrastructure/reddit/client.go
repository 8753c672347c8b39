// Package reddit implements the source and reply clients against the Reddit API.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/ports"
)

const (
	defaultBaseURL   = "https://oauth.reddit.com"
	defaultPublicURL = "https://www.reddit.com"
	defaultAuthURL   = "https://www.reddit.com/api/v1/access_token"
	defaultUserAgent = "LeadScanner/1.0"

	// listing pages are capped at 100 items by the API
	maxPageSize = 100
	// refresh the bearer token slightly before it expires
	tokenLeeway = time.Minute
)

// Config holds API endpoints, credentials and pacing.
type Config struct {
	BaseURL           string
	AuthURL           string
	ClientID          string
	ClientSecret      string
	Username          string
	Password          string
	UserAgent         string
	RequestsPerMinute int
}

// Client fetches subreddit listings and posts comments.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter

	mu      sync.Mutex
	token   string
	expires time.Time
}

var (
	_ ports.SourceClient = (*Client)(nil)
	_ ports.ReplyClient  = (*Client)(nil)
)

// NewClient builds a client. Without credentials it reads the public JSON
// listings and cannot post replies.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
		if !cfg.authenticated() {
			cfg.BaseURL = defaultPublicURL
		}
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	return &Client{cfg: cfg, http: httpClient, limiter: rate.NewLimiter(limit, 1)}
}

func (c Config) authenticated() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Fetch pages through /r/{collection}/new until it reaches items older than
// since or collects limit items.
func (c *Client) Fetch(ctx context.Context, collection string, since time.Time, limit int) ([]domain.RawItem, error) {
	var (
		items []domain.RawItem
		after string
	)
	for {
		pageSize := maxPageSize
		if limit > 0 {
			pageSize = min(maxPageSize, limit-len(items))
		}

		var page listing
		if err := c.do(ctx, http.MethodGet, buildListingURL(c.cfg.BaseURL, collection, after, pageSize), nil, &page); err != nil {
			return nil, fmt.Errorf("r/%s: %w", collection, err)
		}

		reachedOld := false
		for _, child := range page.Data.Children {
			item := child.Data.rawItem(collection)
			if !since.IsZero() && item.CreatedAt.Before(since) {
				reachedOld = true
				break
			}
			items = append(items, item)
		}

		after = page.Data.After
		if reachedOld || after == "" || len(page.Data.Children) == 0 || (limit > 0 && len(items) >= limit) {
			return items, nil
		}
	}
}

// PostReply comments on the submission identified by sourceID and returns
// the new comment's fullname.
func (c *Client) PostReply(ctx context.Context, sourceID, text string) (string, error) {
	if !c.cfg.authenticated() || c.cfg.Username == "" {
		return "", fmt.Errorf("replying needs user credentials: %w", domain.ErrAuthFailed)
	}

	thing := sourceID
	if !strings.HasPrefix(thing, "t3_") {
		thing = "t3_" + thing
	}
	form := url.Values{}
	form.Set("api_type", "json")
	form.Set("thing_id", thing)
	form.Set("text", text)

	var resp commentResponse
	if err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+"/api/comment", form, &resp); err != nil {
		if errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrAuthFailed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", domain.ErrPostFailed, err)
	}
	return resp.result()
}

func (c *Client) do(ctx context.Context, method, endpoint string, form url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.cfg.authenticated() {
		token, err := c.accessToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if err := classify(resp); err != nil {
		if errors.Is(err, domain.ErrAuthFailed) {
			c.dropToken()
		}
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", domain.ErrSourceUnavailable, err)
	}
	return nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.expires) {
		return c.token, nil
	}

	form := url.Values{}
	if c.cfg.Username != "" {
		form.Set("grant_type", "password")
		form.Set("username", c.cfg.Username)
		form.Set("password", c.cfg.Password)
	} else {
		form.Set("grant_type", "client_credentials")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %w", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()
	if err := classify(resp); err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("%w: decode token: %w", domain.ErrSourceUnavailable, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response: %s: %w", tok.Error, domain.ErrAuthFailed)
	}

	c.token = tok.AccessToken
	c.expires = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenLeeway)
	return c.token, nil
}

func (c *Client) dropToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// classify maps HTTP status codes onto domain errors.
func classify(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("reddit returned %s: %w", resp.Status, domain.ErrAuthFailed)
	case resp.StatusCode == http.StatusTooManyRequests:
		return &domain.RateLimitError{
			RetryAfter: retryAfter(resp.Header),
			Message:    "reddit returned " + resp.Status,
		}
	default:
		return fmt.Errorf("reddit returned %s: %w", resp.Status, domain.ErrSourceUnavailable)
	}
}

// retryAfter reads Retry-After, falling back to Reddit's x-ratelimit-reset.
func retryAfter(h http.Header) time.Duration {
	for _, key := range []string{"Retry-After", "X-Ratelimit-Reset"} {
		if v := strings.TrimSpace(h.Get(key)); v != "" {
			if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
				return time.Duration(secs * float64(time.Second))
			}
		}
	}
	return 0
}

func buildListingURL(base, collection, after string, limit int) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if after != "" {
		q.Set("after", after)
	}
	return fmt.Sprintf("%s/r/%s/new.json?%s", base, url.PathEscape(collection), q.Encode())
}

type listing struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Data submission `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type submission struct {
	ID           string  `json:"id"`
	Subreddit    string  `json:"subreddit"`
	Title        string  `json:"title"`
	Selftext     string  `json:"selftext"`
	SelftextHTML string  `json:"selftext_html"`
	Author       string  `json:"author"`
	Permalink    string  `json:"permalink"`
	URL          string  `json:"url"`
	Ups          int     `json:"ups"`
	NumComments  int     `json:"num_comments"`
	Score        int     `json:"score"`
	CreatedUTC   float64 `json:"created_utc"`
}

func (s submission) rawItem(collection string) domain.RawItem {
	if s.Subreddit != "" {
		collection = s.Subreddit
	}
	return domain.RawItem{
		ID:          s.ID,
		Collection:  collection,
		Title:       s.Title,
		Body:        s.Selftext,
		BodyHTML:    html.UnescapeString(s.SelftextHTML),
		Author:      s.Author,
		Permalink:   s.Permalink,
		URL:         s.URL,
		Upvotes:     s.Ups,
		NumComments: s.NumComments,
		Score:       s.Score,
		CreatedAt:   time.Unix(int64(s.CreatedUTC), 0).UTC(),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

type commentResponse struct {
	JSON struct {
		Errors [][]string `json:"errors"`
		Data   struct {
			Things []struct {
				Data struct {
					Name string `json:"name"`
				} `json:"data"`
			} `json:"things"`
		} `json:"data"`
	} `json:"json"`
}

func (r commentResponse) result() (string, error) {
	for _, e := range r.JSON.Errors {
		if len(e) == 0 {
			continue
		}
		msg := strings.Join(e, ": ")
		if e[0] == "RATELIMIT" {
			return "", &domain.RateLimitError{Message: msg}
		}
		return "", fmt.Errorf("%s: %w", msg, domain.ErrPostFailed)
	}
	if len(r.JSON.Data.Things) == 0 || r.JSON.Data.Things[0].Data.Name == "" {
		return "", fmt.Errorf("empty comment response: %w", domain.ErrPostFailed)
	}
	return r.JSON.Data.Things[0].Data.Name, nil
}
