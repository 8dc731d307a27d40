// Package gemini implements leadgen.Completer on Google's Gemini API through
// the genai SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/JakeFAU/reddit-leadgen/internal/metrics"
	"github.com/JakeFAU/reddit-leadgen/internal/retry"
)

// Config configures a Client.
type Config struct {
	APIKey      string
	Model       string
	Temperature float32
	// BaseURL overrides the API endpoint (tests, proxies).
	BaseURL string
}

// Client generates content with a Gemini model.
type Client struct {
	client *genai.Client
	cfg    Config
	policy retry.Policy
	logger *zap.Logger
}

// New creates a genai client for the Gemini API backend.
func New(ctx context.Context, cfg Config, policy retry.Policy, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{client: client, cfg: cfg, policy: policy, logger: logger.Named("gemini")}, nil
}

// Complete sends the system instruction and user prompt and returns the text reply.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(c.cfg.Temperature),
		ResponseMIMEType: "application/json",
	}
	if strings.TrimSpace(system) != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	contents := []*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}

	started := time.Now()
	out, err := retry.DoValue(ctx, c.policy, func(ctx context.Context) (string, error) {
		resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, contents, config)
		if err != nil {
			return "", classify(err)
		}
		text := strings.TrimSpace(resp.Text())
		if text == "" {
			return "", errors.New("gemini returned an empty response")
		}
		return text, nil
	})
	metrics.ObserveExternalCall("gemini", err)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	c.logger.Debug("completion finished",
		zap.String("model", c.cfg.Model),
		zap.Duration("took", time.Since(started)),
		zap.Int("response_len", len(out)))
	return out, nil
}

// classify marks client-side API errors as permanent; quota and server errors stay retryable.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code >= 500 {
			return err
		}
		return retry.Permanent(err)
	}
	return err
}
