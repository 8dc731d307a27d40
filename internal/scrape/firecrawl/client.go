// Package firecrawl scrapes websites through the Firecrawl hosted API, which
// renders JavaScript and returns the main content as markdown.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	"github.com/JakeFAU/reddit-leadgen/internal/metrics"
	"github.com/JakeFAU/reddit-leadgen/internal/retry"
)

// DefaultBaseURL is the hosted API.
const DefaultBaseURL = "https://api.firecrawl.dev/v1"

// Config configures a Client.
type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxContent int
}

// Client implements leadgen.Scraper.
type Client struct {
	cfg    Config
	http   *http.Client
	policy retry.Policy
	logger *zap.Logger
}

type scrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
	Timeout         int      `json:"timeout,omitempty"`
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		Markdown string `json:"markdown"`
		Metadata struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			SourceURL   string `json:"sourceURL"`
			StatusCode  int    `json:"statusCode"`
		} `json:"metadata"`
	} `json:"data"`
}

// New builds a Client.
func New(cfg Config, policy retry.Policy, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("firecrawl: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxContent <= 0 {
		cfg.MaxContent = 12000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout + 10*time.Second},
		policy: policy,
		logger: logger.Named("firecrawl"),
	}, nil
}

// Scrape returns the page's main content as markdown.
func (c *Client) Scrape(ctx context.Context, url string) (leadgen.Website, error) {
	body, err := json.Marshal(scrapeRequest{
		URL:             url,
		Formats:         []string{"markdown"},
		OnlyMainContent: true,
		Timeout:         int(c.cfg.Timeout / time.Millisecond),
	})
	if err != nil {
		return leadgen.Website{}, fmt.Errorf("marshal request: %w", err)
	}
	res, err := retry.DoValue(ctx, c.policy, func(ctx context.Context) (scrapeResponse, error) {
		return c.do(ctx, body)
	})
	metrics.ObserveExternalCall("firecrawl", err)
	if err != nil {
		return leadgen.Website{}, fmt.Errorf("firecrawl %s: %w", url, err)
	}
	if code := res.Data.Metadata.StatusCode; code >= 400 {
		return leadgen.Website{}, fmt.Errorf("firecrawl %s: site returned status %d", url, code)
	}
	site := leadgen.Website{
		URL:         url,
		Title:       strings.TrimSpace(res.Data.Metadata.Title),
		Description: strings.TrimSpace(res.Data.Metadata.Description),
		Content:     strings.TrimSpace(res.Data.Markdown),
		Rendered:    true,
	}
	if res.Data.Metadata.SourceURL != "" {
		site.URL = res.Data.Metadata.SourceURL
	}
	if len(site.Content) > c.cfg.MaxContent {
		site.Content = site.Content[:c.cfg.MaxContent]
	}
	return site, nil
}

func (c *Client) do(ctx context.Context, body []byte) (scrapeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/scrape", bytes.NewReader(body))
	if err != nil {
		return scrapeResponse{}, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return scrapeResponse{}, fmt.Errorf("scrape request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return scrapeResponse{}, fmt.Errorf("read response: %w", err)
	}
	var parsed scrapeResponse
	decodeErr := json.Unmarshal(raw, &parsed)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return scrapeResponse{}, fmt.Errorf("status %d: %s", resp.StatusCode, parsed.Error)
	case resp.StatusCode != http.StatusOK:
		return scrapeResponse{}, retry.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, parsed.Error))
	case decodeErr != nil:
		return scrapeResponse{}, retry.Permanent(fmt.Errorf("decode response: %w", decodeErr))
	case !parsed.Success:
		return scrapeResponse{}, retry.Permanent(fmt.Errorf("scrape failed: %s", parsed.Error))
	}
	return parsed, nil
}
