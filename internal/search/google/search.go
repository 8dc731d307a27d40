// Package google finds Reddit discussions through the Custom Search JSON API.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	"github.com/JakeFAU/reddit-leadgen/internal/metrics"
	"github.com/JakeFAU/reddit-leadgen/internal/retry"
)

// pageSize is the API's per-request maximum.
const pageSize = 10

// Config holds Custom Search credentials.
type Config struct {
	APIKey   string
	EngineID string
	// Endpoint overrides the API base URL (tests).
	Endpoint string
}

// Waiter throttles outbound requests.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Provider is a leadgen.SearchProvider restricted to reddit.com.
type Provider struct {
	svc     *customsearch.Service
	cx      string
	limiter Waiter
	policy  retry.Policy
	logger  *zap.Logger
}

// New creates a Provider.
func New(ctx context.Context, cfg Config, limiter Waiter, policy retry.Policy, logger *zap.Logger) (*Provider, error) {
	if cfg.APIKey == "" || cfg.EngineID == "" {
		return nil, errors.New("google search: api key and engine id are required")
	}
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create customsearch service: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{svc: svc, cx: cfg.EngineID, limiter: limiter, policy: policy, logger: logger.Named("google_search")}, nil
}

// Search returns up to limit reddit.com hits for keyword, paging ten at a time.
func (p *Provider) Search(ctx context.Context, keyword string, limit int) ([]leadgen.SearchHit, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = pageSize
	}
	query := keyword + " site:reddit.com"
	hits := make([]leadgen.SearchHit, 0, limit)
	for start := int64(1); len(hits) < limit && start <= 91; start += pageSize {
		num := int64(min(pageSize, limit-len(hits)))
		page, err := p.page(ctx, query, start, num)
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", keyword, err)
		}
		for _, item := range page.Items {
			hits = append(hits, leadgen.SearchHit{Title: item.Title, URL: item.Link, Snippet: item.Snippet})
		}
		if len(page.Items) < int(num) {
			break
		}
	}
	p.logger.Debug("search complete", zap.String("keyword", keyword), zap.Int("hits", len(hits)))
	return hits, nil
}

func (p *Provider) page(ctx context.Context, query string, start, num int64) (*customsearch.Search, error) {
	res, err := retry.DoValue(ctx, p.policy, func(ctx context.Context) (*customsearch.Search, error) {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx, "https://customsearch.googleapis.com"); err != nil {
				return nil, err
			}
		}
		res, err := p.svc.Cse.List().Q(query).Cx(p.cx).Start(start).Num(num).Context(ctx).Do()
		if err != nil {
			return nil, classify(err)
		}
		return res, nil
	})
	metrics.ObserveExternalCall("google_search", err)
	return res, err
}

func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			return err
		}
		return retry.Permanent(err)
	}
	return err
}
