// Package reddit is a small client for the Reddit OAuth API. The application
// account (password grant, or client credentials when no user is configured)
// reads threads and runs searches; warm-up accounts post with their own
// refresh tokens.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	"github.com/JakeFAU/reddit-leadgen/internal/metrics"
	"github.com/JakeFAU/reddit-leadgen/internal/retry"
)

// Default endpoints.
const (
	DefaultBaseURL  = "https://oauth.reddit.com"
	DefaultTokenURL = "https://www.reddit.com/api/v1/access_token"
)

// Config holds the Reddit application credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string
	BaseURL      string
	TokenURL     string
	Timeout      time.Duration
}

// Waiter throttles outbound requests.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Client talks to oauth.reddit.com.
type Client struct {
	cfg     Config
	oauth   *oauth2.Config
	app     *http.Client
	base    *http.Client
	limiter Waiter
	policy  retry.Policy
	logger  *zap.Logger

	mu       sync.Mutex
	accounts map[string]accountSource
}

type accountSource struct {
	refreshToken string
	client       *http.Client
}

// New builds a Client. Tokens are fetched lazily on first use.
func New(cfg Config, limiter Waiter, policy retry.Policy, logger *zap.Logger) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("reddit: client id and secret are required")
	}
	if cfg.UserAgent == "" {
		return nil, errors.New("reddit: user agent is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: userAgentTransport{agent: cfg.UserAgent, next: http.DefaultTransport},
	}
	endpoint := oauth2.Endpoint{TokenURL: cfg.TokenURL, AuthStyle: oauth2.AuthStyleInHeader}
	oauthCfg := &oauth2.Config{ClientID: cfg.ClientID, ClientSecret: cfg.ClientSecret, Endpoint: endpoint}

	// Token requests made by the oauth2 package go through base as well.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	var source oauth2.TokenSource
	if cfg.Username != "" {
		source = oauth2.ReuseTokenSource(nil, &passwordSource{
			ctx:      tokenCtx,
			cfg:      oauthCfg,
			username: cfg.Username,
			password: cfg.Password,
		})
	} else {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		}
		source = cc.TokenSource(tokenCtx)
	}

	return &Client{
		cfg:      cfg,
		oauth:    oauthCfg,
		app:      oauth2.NewClient(tokenCtx, source),
		base:     base,
		limiter:  limiter,
		policy:   policy,
		logger:   logger.Named("reddit"),
		accounts: make(map[string]accountSource),
	}, nil
}

// passwordSource performs the resource-owner password grant Reddit uses for script apps.
type passwordSource struct {
	ctx      context.Context
	cfg      *oauth2.Config
	username string
	password string
}

func (p *passwordSource) Token() (*oauth2.Token, error) {
	tok, err := p.cfg.PasswordCredentialsToken(p.ctx, p.username, p.password)
	if err != nil {
		return nil, fmt.Errorf("reddit password grant: %w", err)
	}
	return tok, nil
}

type userAgentTransport struct {
	agent string
	next  http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.next.RoundTrip(req)
}

// accountClient returns an HTTP client authorized as account.
func (c *Client) accountClient(account leadgen.WarmupAccount) (*http.Client, error) {
	if account.RefreshToken == "" {
		return nil, retry.Permanent(fmt.Errorf("account %s has no refresh token", account.Username))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if src, ok := c.accounts[account.ID]; ok && src.refreshToken == account.RefreshToken {
		return src.client, nil
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.base)
	ts := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: account.RefreshToken})
	client := oauth2.NewClient(ctx, ts)
	c.accounts[account.ID] = accountSource{refreshToken: account.RefreshToken, client: client}
	return client, nil
}

// apiError is a non-2xx answer from the API.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("reddit api status %d: %s", e.Status, e.Body)
}

// call performs one request with throttling and retries and decodes the JSON answer into out.
func (c *Client) call(
	ctx context.Context,
	hc *http.Client,
	method, path string,
	query url.Values,
	form url.Values,
	out any,
) error {
	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, endpoint); err != nil {
				return err
			}
		}
		var body io.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return retry.Permanent(fmt.Errorf("build request: %w", err))
		}
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		resp, err := hc.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 300 {
			apiErr := &apiError{Status: resp.StatusCode, Body: truncate(string(raw), 200)}
			switch {
			case resp.StatusCode == http.StatusNotFound:
				return retry.Permanent(fmt.Errorf("%w: %w", leadgen.ErrNotFound, apiErr))
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
				return apiErr
			default:
				return retry.Permanent(apiErr)
			}
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return retry.Permanent(fmt.Errorf("decode %s: %w", path, err))
		}
		return nil
	})
	metrics.ObserveExternalCall("reddit", err)
	return err
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
