package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	"github.com/JakeFAU/reddit-leadgen/internal/retry"
)

const siteURL = "https://www.reddit.com"

type listing struct {
	Kind string `json:"kind"`
	Data struct {
		Children []thing `json:"children"`
	} `json:"data"`
}

type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type linkData struct {
	ID          string  `json:"id"`
	Subreddit   string  `json:"subreddit"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Author      string  `json:"author"`
	Permalink   string  `json:"permalink"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
}

type commentData struct {
	ID     string `json:"id"`
	Author string `json:"author"`
	Body   string `json:"body"`
	Score  int    `json:"score"`
}

// jsonEnvelope is the api_type=json wrapper returned by write endpoints.
type jsonEnvelope struct {
	JSON struct {
		Errors [][]any `json:"errors"`
		Data   struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			URL    string `json:"url"`
			Things []struct {
				Data struct {
					ID        string `json:"id"`
					Name      string `json:"name"`
					Permalink string `json:"permalink"`
				} `json:"data"`
			} `json:"things"`
		} `json:"data"`
	} `json:"json"`
}

// Search finds submissions matching keyword across Reddit.
func (c *Client) Search(ctx context.Context, keyword string, limit int) ([]leadgen.SearchHit, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	q := url.Values{
		"q":        {keyword},
		"limit":    {strconv.Itoa(limit)},
		"sort":     {"relevance"},
		"type":     {"link"},
		"t":        {"year"},
		"raw_json": {"1"},
	}
	var out listing
	if err := c.call(ctx, c.app, http.MethodGet, "/search", q, nil, &out); err != nil {
		return nil, fmt.Errorf("search %q: %w", keyword, err)
	}
	hits := make([]leadgen.SearchHit, 0, len(out.Data.Children))
	for _, child := range out.Data.Children {
		if child.Kind != "t3" {
			continue
		}
		var d linkData
		if err := json.Unmarshal(child.Data, &d); err != nil {
			continue
		}
		hits = append(hits, leadgen.SearchHit{
			Title:   d.Title,
			URL:     siteURL + d.Permalink,
			Snippet: truncate(d.Selftext, 300),
		})
	}
	return hits, nil
}

// FetchThread loads a submission and up to commentLimit top-level comments.
func (c *Client) FetchThread(ctx context.Context, threadID string, commentLimit int) (leadgen.RedditThread, error) {
	threadID = strings.TrimPrefix(threadID, "t3_")
	if commentLimit <= 0 {
		commentLimit = 10
	}
	q := url.Values{
		"limit":    {strconv.Itoa(commentLimit)},
		"depth":    {"1"},
		"sort":     {"top"},
		"raw_json": {"1"},
	}
	var pages []listing
	if err := c.call(ctx, c.app, http.MethodGet, "/comments/"+url.PathEscape(threadID), q, nil, &pages); err != nil {
		return leadgen.RedditThread{}, fmt.Errorf("fetch thread %s: %w", threadID, err)
	}
	if len(pages) == 0 || len(pages[0].Data.Children) == 0 {
		return leadgen.RedditThread{}, retry.Permanent(fmt.Errorf("thread %s: %w", threadID, leadgen.ErrNotFound))
	}
	var link linkData
	if err := json.Unmarshal(pages[0].Data.Children[0].Data, &link); err != nil {
		return leadgen.RedditThread{}, retry.Permanent(fmt.Errorf("decode thread %s: %w", threadID, err))
	}
	thread := leadgen.RedditThread{
		RedditID:    link.ID,
		Subreddit:   link.Subreddit,
		Title:       link.Title,
		Body:        link.Selftext,
		Author:      link.Author,
		URL:         siteURL + link.Permalink,
		Score:       link.Score,
		NumComments: link.NumComments,
		PostedAt:    time.Unix(int64(link.CreatedUTC), 0).UTC(),
	}
	if len(pages) > 1 {
		for _, child := range pages[1].Data.Children {
			if child.Kind != "t1" || len(thread.Comments) >= commentLimit {
				continue
			}
			var cd commentData
			if err := json.Unmarshal(child.Data, &cd); err != nil {
				continue
			}
			if cd.Body == "[deleted]" || cd.Body == "[removed]" {
				continue
			}
			thread.Comments = append(thread.Comments, leadgen.ThreadComment{
				ID: cd.ID, Author: cd.Author, Body: cd.Body, Score: cd.Score,
			})
		}
	}
	return thread, nil
}

// Comment replies to a thread as account.
func (c *Client) Comment(ctx context.Context, account leadgen.WarmupAccount, threadID, text string) (leadgen.Submission, error) {
	hc, err := c.accountClient(account)
	if err != nil {
		return leadgen.Submission{}, err
	}
	if !strings.HasPrefix(threadID, "t3_") && !strings.HasPrefix(threadID, "t1_") {
		threadID = "t3_" + threadID
	}
	form := url.Values{"api_type": {"json"}, "thing_id": {threadID}, "text": {text}}
	var env jsonEnvelope
	if err := c.call(ctx, hc, http.MethodPost, "/api/comment", nil, form, &env); err != nil {
		return leadgen.Submission{}, fmt.Errorf("comment on %s: %w", threadID, err)
	}
	if err := envelopeError(env); err != nil {
		return leadgen.Submission{}, fmt.Errorf("comment on %s: %w", threadID, err)
	}
	var sub leadgen.Submission
	if things := env.JSON.Data.Things; len(things) > 0 {
		sub.ID = things[0].Data.Name
		if things[0].Data.Permalink != "" {
			sub.URL = siteURL + things[0].Data.Permalink
		}
	}
	return sub, nil
}

// Submit creates a self post in subreddit as account.
func (c *Client) Submit(
	ctx context.Context,
	account leadgen.WarmupAccount,
	subreddit, title, text string,
) (leadgen.Submission, error) {
	hc, err := c.accountClient(account)
	if err != nil {
		return leadgen.Submission{}, err
	}
	form := url.Values{
		"api_type": {"json"},
		"kind":     {"self"},
		"sr":       {subreddit},
		"title":    {title},
		"text":     {text},
	}
	var env jsonEnvelope
	if err := c.call(ctx, hc, http.MethodPost, "/api/submit", nil, form, &env); err != nil {
		return leadgen.Submission{}, fmt.Errorf("submit to r/%s: %w", subreddit, err)
	}
	if err := envelopeError(env); err != nil {
		return leadgen.Submission{}, fmt.Errorf("submit to r/%s: %w", subreddit, err)
	}
	return leadgen.Submission{ID: env.JSON.Data.Name, URL: env.JSON.Data.URL}, nil
}

// SendMessage sends a private message as account.
func (c *Client) SendMessage(
	ctx context.Context,
	account leadgen.WarmupAccount,
	to, subject, text string,
) (leadgen.Submission, error) {
	hc, err := c.accountClient(account)
	if err != nil {
		return leadgen.Submission{}, err
	}
	if subject == "" {
		subject = "Hello"
	}
	form := url.Values{"api_type": {"json"}, "to": {to}, "subject": {subject}, "text": {text}}
	var env jsonEnvelope
	if err := c.call(ctx, hc, http.MethodPost, "/api/compose", nil, form, &env); err != nil {
		return leadgen.Submission{}, fmt.Errorf("message u/%s: %w", to, err)
	}
	if err := envelopeError(env); err != nil {
		return leadgen.Submission{}, fmt.Errorf("message u/%s: %w", to, err)
	}
	return leadgen.Submission{}, nil
}

// envelopeError converts api_type=json errors. RATELIMIT stays retryable.
func envelopeError(env jsonEnvelope) error {
	if len(env.JSON.Errors) == 0 {
		return nil
	}
	parts := make([]string, 0, len(env.JSON.Errors))
	limited := false
	for _, e := range env.JSON.Errors {
		fields := make([]string, 0, len(e))
		for _, f := range e {
			if s, ok := f.(string); ok && s != "" {
				fields = append(fields, s)
			}
		}
		if len(fields) > 0 && fields[0] == "RATELIMIT" {
			limited = true
		}
		parts = append(parts, strings.Join(fields, ": "))
	}
	err := fmt.Errorf("reddit rejected request: %s", strings.Join(parts, "; "))
	if limited {
		return err
	}
	return retry.Permanent(err)
}
