// Package scrape turns a business website into readable text for the
// keyword and scoring prompts. A static fetch runs first; pages that look
// like client-rendered apps are promoted to a headless browser.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	"github.com/JakeFAU/reddit-leadgen/internal/retry"
)

// DefaultMinText is the extracted-text length below which a page is rendered headlessly.
const DefaultMinText = 500

// Page is a raw fetched document.
type Page struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}

// Fetcher retrieves a single page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Config tunes promotion to the headless renderer.
type Config struct {
	MinTextLength int
	// MaxContent caps the extracted text handed to the LLM.
	MaxContent int
	// Retry governs repeated static fetches. Nil fetches once.
	Retry retry.Policy
}

// Scraper implements leadgen.Scraper over a static fetcher and an optional renderer.
type Scraper struct {
	static   Fetcher
	renderer Fetcher
	detector *Heuristic
	cfg      Config
	logger   *zap.Logger
}

// New builds a Scraper. renderer may be nil to disable promotion.
func New(static, renderer Fetcher, cfg Config, logger *zap.Logger) (*Scraper, error) {
	if static == nil {
		return nil, errors.New("scrape: static fetcher is required")
	}
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = DefaultMinText
	}
	if cfg.MaxContent <= 0 {
		cfg.MaxContent = 12000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		static:   static,
		renderer: renderer,
		detector: NewHeuristic(0),
		cfg:      cfg,
		logger:   logger.Named("scrape"),
	}, nil
}

// Scrape fetches url and extracts its title, description and visible text.
func (s *Scraper) Scrape(ctx context.Context, url string) (leadgen.Website, error) {
	page, err := retry.DoValue(ctx, s.cfg.Retry, func(ctx context.Context) (Page, error) {
		return s.static.Fetch(ctx, url)
	})
	if err != nil && s.renderer == nil {
		return leadgen.Website{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	var site leadgen.Website
	if err == nil {
		if page.StatusCode >= 400 {
			return leadgen.Website{}, fmt.Errorf("fetch %s: status %d", url, page.StatusCode)
		}
		site, err = Extract(page, s.cfg.MaxContent)
		if err != nil {
			return leadgen.Website{}, err
		}
		if s.renderer == nil || !s.shouldRender(page, site) {
			return site, nil
		}
	} else {
		s.logger.Warn("static fetch failed, trying renderer", zap.String("url", url), zap.Error(err))
	}

	rendered, rerr := s.renderer.Fetch(ctx, url)
	if rerr != nil {
		if site.Content != "" {
			s.logger.Warn("headless render failed, keeping static content", zap.String("url", url), zap.Error(rerr))
			return site, nil
		}
		return leadgen.Website{}, fmt.Errorf("render %s: %w", url, errors.Join(err, rerr))
	}
	rendered.Rendered = true
	out, xerr := Extract(rendered, s.cfg.MaxContent)
	if xerr != nil {
		return leadgen.Website{}, xerr
	}
	if len(out.Content) < len(site.Content) {
		return site, nil
	}
	s.logger.Debug("page rendered headlessly", zap.String("url", url), zap.Int("chars", len(out.Content)))
	return out, nil
}

func (s *Scraper) shouldRender(page Page, site leadgen.Website) bool {
	return len(site.Content) < s.cfg.MinTextLength || s.detector.ShouldPromote(page)
}
