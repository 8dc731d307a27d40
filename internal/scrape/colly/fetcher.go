// Package collyscraper reads business websites with gocolly. It serves the
// static half of website analysis; pages that need JavaScript go to the
// headless renderer.
package collyscraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/reddit-leadgen/internal/metrics"
	"github.com/JakeFAU/reddit-leadgen/internal/scrape"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodySize   int
}

// Waiter throttles outbound requests.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher implements scrape.Fetcher. Each call clones a template collector
// so concurrent workflow runs do not share callbacks.
type Fetcher struct {
	cfg      Config
	template *colly.Collector
	limiter  Waiter
	logger   *zap.Logger
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Waiter, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 5 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("colly")

	var transport http.RoundTripper = siteTransport()
	if cfg.RespectRobots {
		transport = newRobotsTransport(transport, logger)
	}
	c := colly.NewCollector(colly.Async(false))
	c.ParseHTTPErrorResponse = true
	c.MaxBodySize = cfg.MaxBodySize
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.SetRequestTimeout(cfg.Timeout)
	c.WithTransport(transport)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Fetcher{cfg: cfg, template: c, limiter: limiter, logger: logger}
}

// Fetch GETs rawURL. Non-2xx responses are returned as pages, not errors, so
// the caller can decide whether a 404 homepage is worth rendering.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (scrape.Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return scrape.Page{}, fmt.Errorf("colly fetch: unsupported url %q", rawURL)
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return scrape.Page{}, err
		}
	}
	page, err := f.visit(ctx, rawURL)
	metrics.ObserveExternalCall("website", err)
	if err != nil {
		return scrape.Page{}, err
	}
	return page, nil
}

func (f *Fetcher) visit(ctx context.Context, rawURL string) (scrape.Page, error) {
	var (
		page    scrape.Page
		respErr error
		start   = time.Now()
	)
	c := f.template.Clone()
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")
	})
	c.OnResponse(func(r *colly.Response) {
		page = scrape.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
		if r.Headers != nil {
			page.Headers = r.Headers.Clone()
		}
	})
	c.OnError(func(_ *colly.Response, err error) {
		respErr = err
	})

	done := make(chan error, 1)
	go func() { done <- c.Visit(rawURL) }()
	select {
	case <-ctx.Done():
		return scrape.Page{}, fmt.Errorf("colly fetch %s: %w", rawURL, ctx.Err())
	case err := <-done:
		if err != nil {
			return scrape.Page{}, fmt.Errorf("colly visit %s: %w", rawURL, err)
		}
		if respErr != nil {
			return scrape.Page{}, fmt.Errorf("colly response %s: %w", rawURL, respErr)
		}
		f.logger.Debug("page fetched",
			zap.String("url", page.URL),
			zap.Int("status", page.StatusCode),
			zap.Int("bytes", len(page.Body)),
			zap.Duration("duration", page.Duration),
		)
		return page, nil
	}
}

func siteTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       60 * time.Second,
	}
}
