package collyscraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/reddit-leadgen/internal/retry"
)

const allowAllRobots = "User-agent: *\nAllow: /"

// robotsTransport retries robots.txt probes that time out. When the file
// stays unreachable it answers with an allow-all file, so a slow robots
// endpoint on a small business site does not hide the site's own pages.
// Other requests pass straight through.
type robotsTransport struct {
	next   http.RoundTripper
	policy retry.Policy
	logger *zap.Logger
}

func newRobotsTransport(next http.RoundTripper, logger *zap.Logger) *robotsTransport {
	return &robotsTransport{
		next: next,
		policy: timeoutPolicy{
			delays: []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second},
		},
		logger: logger,
	}
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots transport: nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		return t.next.RoundTrip(req)
	}
	resp, err := retry.DoValue(req.Context(), t.policy, func(ctx context.Context) (*http.Response, error) {
		resp, err := t.next.RoundTrip(req.Clone(ctx))
		if err != nil && !timedOut(err) {
			return nil, retry.Permanent(err)
		}
		return resp, err
	})
	switch {
	case err == nil:
		return resp, nil
	case retry.IsPermanent(err), req.Context().Err() != nil:
		return nil, fmt.Errorf("fetch robots.txt for %s: %w", req.URL.Host, err)
	}
	if t.logger != nil {
		t.logger.Warn("robots.txt unreachable, treating site as allow-all",
			zap.String("host", req.URL.Host), zap.Error(err))
	}
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Request:       req,
	}, nil
}

// timeoutPolicy retries timeouts once per entry in delays.
type timeoutPolicy struct {
	delays []time.Duration
	tries  int
}

func (p timeoutPolicy) ShouldRetry(err error, attempt int) bool {
	limit := len(p.delays)
	if p.tries > 0 {
		limit = p.tries
	}
	return attempt <= limit && timedOut(err)
}

func (p timeoutPolicy) Backoff(attempt int) time.Duration {
	if attempt-1 < len(p.delays) {
		return p.delays[attempt-1]
	}
	return 0
}

func timedOut(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
