// Package headless renders business websites that build their content with
// JavaScript, using a shared headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/reddit-leadgen/internal/metrics"
	"github.com/JakeFAU/reddit-leadgen/internal/scrape"
)

// Config controls the renderer.
type Config struct {
	// MaxParallel caps concurrent tabs. Zero means no cap.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is how long to wait after the body is ready for late scripts.
	Settle time.Duration
}

// Renderer implements scrape.Fetcher. One browser process is shared and each
// Fetch opens its own tab.
type Renderer struct {
	cfg   Config
	slots *semaphore.Weighted

	browser context.Context
	stop    context.CancelFunc
}

// NewChromedp creates a renderer. Chrome starts lazily on the first Fetch.
func NewChromedp(cfg Config) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("headless: max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 500 * time.Millisecond
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.Flag("enable-automation", false),
	)
	browser, stop := chromedp.NewExecAllocator(context.Background(), opts...)
	r := &Renderer{cfg: cfg, browser: browser, stop: stop}
	if cfg.MaxParallel > 0 {
		r.slots = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	return r, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	r.stop()
}

// Fetch loads url in a new tab and returns the DOM after scripts have run.
func (r *Renderer) Fetch(ctx context.Context, url string) (scrape.Page, error) {
	if r.slots != nil {
		if err := r.slots.Acquire(ctx, 1); err != nil {
			return scrape.Page{}, fmt.Errorf("wait for headless tab: %w", err)
		}
		defer r.slots.Release(1)
	}

	tab, closeTab := chromedp.NewContext(r.browser)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, r.cfg.NavigationTimeout)
	defer cancel()
	// The tab descends from the browser, not ctx, so forward cancellation.
	unhook := context.AfterFunc(ctx, cancel)
	defer unhook()

	doc := &documentResponse{}
	chromedp.ListenTarget(tab, doc.observe)

	start := time.Now()
	var html, location string
	err := chromedp.Run(tab,
		r.prepare(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.Settle),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	metrics.ObserveExternalCall("headless", err)
	if err != nil {
		return scrape.Page{}, fmt.Errorf("render %s: %w", url, err)
	}
	page := doc.page(url, location)
	page.Body = []byte(html)
	page.Duration = time.Since(start)
	return page, nil
}

func (r *Renderer) prepare() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network events: %w", err)
		}
		if r.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("override user agent: %w", err)
		}
		return nil
	})
}

// documentResponse keeps the status and headers of the first document the tab
// receives. Iframes also produce document responses but arrive after the top
// level page, so later ones are ignored.
type documentResponse struct {
	mu      sync.Mutex
	seen    bool
	status  int
	url     string
	headers http.Header
}

func (d *documentResponse) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen {
		return
	}
	d.seen = true
	d.status = int(resp.Response.Status)
	d.url = resp.Response.URL
	d.headers = headersFrom(resp.Response.Headers)
}

// page fills URL, status and headers, falling back to the browser location
// and then the requested URL when no document response was seen.
func (d *documentResponse) page(requested, location string) scrape.Page {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := scrape.Page{
		URL:        d.url,
		StatusCode: d.status,
		Headers:    d.headers.Clone(),
		Rendered:   true,
	}
	if p.URL == "" {
		p.URL = location
	}
	if p.URL == "" {
		p.URL = requested
	}
	if p.StatusCode == 0 {
		p.StatusCode = http.StatusOK
	}
	if p.Headers == nil {
		p.Headers = http.Header{}
	}
	return p
}

func headersFrom(raw network.Headers) http.Header {
	out := make(http.Header, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			out.Add(key, v)
		case []any:
			for _, item := range v {
				out.Add(key, fmt.Sprint(item))
			}
		default:
			out.Add(key, fmt.Sprint(v))
		}
	}
	return out
}
