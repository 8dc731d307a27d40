// Package generator turns LLM completions into keywords, relevance scores,
// tiered comments and direct messages.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	"github.com/JakeFAU/reddit-leadgen/internal/retry"
)

const (
	maxSiteChars    = 6000
	maxThreadChars  = 4000
	maxCommentChars = 400
	maxComments     = 10
)

// ErrMalformed is returned when a completion holds no parseable JSON.
var ErrMalformed = errors.New("malformed model output")

// Score is a thread relevance judgement.
type Score struct {
	Value     int    `json:"score"`
	Reasoning string `json:"reasoning"`
}

// Comments are the three reply tiers drafted for a thread.
type Comments struct {
	Micro   string `json:"micro"`
	Medium  string `json:"medium"`
	Verbose string `json:"verbose"`
}

// DM is a direct message draft.
type DM struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Post is a warm-up submission draft.
type Post struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Generator prompts a Completer and decodes its replies.
type Generator struct {
	llm    leadgen.Completer
	policy retry.Policy
	logger *zap.Logger
}

// New creates a Generator. A nil policy disables retries.
func New(llm leadgen.Completer, policy retry.Policy, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{llm: llm, policy: policy, logger: logger.Named("generator")}
}

// Keywords proposes up to limit search phrases for the business.
func (g *Generator) Keywords(ctx context.Context, site leadgen.Website, business string, limit int) ([]string, error) {
	var out struct {
		Keywords []string `json:"keywords"`
	}
	user := fmt.Sprintf("Business description:\n%s\n\nWebsite %s (%s):\n%s\n\nReturn at most %d keywords.",
		business, site.URL, site.Title, truncate(site.Content, maxSiteChars), limit)
	if err := g.complete(ctx, keywordsSystem, user, &out); err != nil {
		return nil, fmt.Errorf("generate keywords: %w", err)
	}
	keywords := Dedupe(out.Keywords)
	if limit > 0 && len(keywords) > limit {
		keywords = keywords[:limit]
	}
	return keywords, nil
}

// Score rates a thread's relevance to the business, clamped to 0..100.
func (g *Generator) Score(ctx context.Context, thread leadgen.RedditThread, business string) (Score, error) {
	var out Score
	user := fmt.Sprintf("Business:\n%s\n\n%s", business, describeThread(thread))
	if err := g.complete(ctx, scoreSystem, user, &out); err != nil {
		return Score{}, fmt.Errorf("score thread %s: %w", thread.RedditID, err)
	}
	out.Value = Clamp(out.Value)
	return out, nil
}

// Comments drafts the micro, medium and verbose replies for a thread.
func (g *Generator) Comments(ctx context.Context, thread leadgen.RedditThread, business string) (Comments, error) {
	var out Comments
	user := fmt.Sprintf("Business:\n%s\n\n%s", business, describeThread(thread))
	if err := g.complete(ctx, commentsSystem, user, &out); err != nil {
		return Comments{}, fmt.Errorf("generate comments for %s: %w", thread.RedditID, err)
	}
	if out.Micro == "" && out.Medium == "" && out.Verbose == "" {
		return Comments{}, fmt.Errorf("generate comments for %s: %w", thread.RedditID, ErrMalformed)
	}
	return out, nil
}

// DM drafts a direct message to the thread's author.
func (g *Generator) DM(ctx context.Context, thread leadgen.RedditThread, business string) (DM, error) {
	var out DM
	user := fmt.Sprintf("Business:\n%s\n\nAuthor: u/%s\n%s", business, thread.Author, describeThread(thread))
	if err := g.complete(ctx, dmSystem, user, &out); err != nil {
		return DM{}, fmt.Errorf("generate dm for %s: %w", thread.RedditID, err)
	}
	return out, nil
}

// WarmupPost drafts a non-promotional post for subreddit about topic.
func (g *Generator) WarmupPost(ctx context.Context, subreddit, topic string) (Post, error) {
	var out Post
	user := fmt.Sprintf("Subreddit: r/%s\nTopic: %s", subreddit, topic)
	if err := g.complete(ctx, warmupSystem, user, &out); err != nil {
		return Post{}, fmt.Errorf("generate warmup post: %w", err)
	}
	if strings.TrimSpace(out.Title) == "" {
		return Post{}, fmt.Errorf("generate warmup post: %w", ErrMalformed)
	}
	return out, nil
}

// complete asks again only when the reply does not decode. Transport failures
// were already retried by the completer and are returned as they are.
func (g *Generator) complete(ctx context.Context, system, user string, dest any) error {
	return retry.Do(ctx, g.policy, func(ctx context.Context) error {
		text, err := g.llm.Complete(ctx, system, user)
		if err != nil {
			return retry.Permanent(err)
		}
		if err := Decode(text, dest); err != nil {
			g.logger.Debug("discarding malformed completion", zap.Int("length", len(text)), zap.Error(err))
			return err
		}
		return nil
	})
}

// Decode extracts the first JSON object or array from text into dest. Code
// fences and surrounding prose are ignored.
func Decode(text string, dest any) error {
	body := extractJSON(text)
	if body == "" {
		return ErrMalformed
	}
	if err := json.Unmarshal([]byte(body), dest); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		text = strings.TrimSpace(rest)
	}
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if text[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(text, closer)
	if end < start {
		return ""
	}
	return text[start : end+1]
}

// Clamp bounds a score to 0..100.
func Clamp(score int) int {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}

// Dedupe trims keywords and drops case-insensitive duplicates and blanks,
// keeping first occurrences in order.
func Dedupe(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.Join(strings.Fields(k), " ")
		if k == "" {
			continue
		}
		key := strings.ToLower(k)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, k)
	}
	return out
}

func describeThread(t leadgen.RedditThread) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Thread in r/%s: %s\n\n%s\n", t.Subreddit, t.Title, truncate(t.Body, maxThreadChars))
	for i, c := range t.Comments {
		if i >= maxComments {
			break
		}
		fmt.Fprintf(&b, "\n- u/%s: %s", c.Author, truncate(c.Body, maxCommentChars))
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
