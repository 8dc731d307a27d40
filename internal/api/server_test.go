package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/reddit-leadgen/internal/clock/manual"
	"github.com/JakeFAU/reddit-leadgen/internal/generator"
	"github.com/JakeFAU/reddit-leadgen/internal/id/uuid"
	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	"github.com/JakeFAU/reddit-leadgen/internal/postqueue"
	"github.com/JakeFAU/reddit-leadgen/internal/schedule"
	"github.com/JakeFAU/reddit-leadgen/internal/storage/memory"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeRuns struct {
	mu        sync.Mutex
	submitted []leadgen.RunLimits
	submitErr error
	progress  map[string]leadgen.WorkflowProgress
	panicOn   string
}

func (f *fakeRuns) Submit(_ context.Context, orgID, campaignID string, limits leadgen.RunLimits) (leadgen.WorkflowProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return leadgen.WorkflowProgress{}, f.submitErr
	}
	f.submitted = append(f.submitted, limits)
	return leadgen.NewWorkflowProgress("run-1", campaignID, orgID, limits, testNow), nil
}

func (f *fakeRuns) Stop(_ context.Context, orgID, runID string) (leadgen.WorkflowProgress, error) {
	p, ok := f.progress[runID]
	if !ok || p.OrganizationID != orgID {
		return leadgen.WorkflowProgress{}, leadgen.ErrNotFound
	}
	p.Status = leadgen.RunStopped
	return p, nil
}

func (f *fakeRuns) Progress(_ context.Context, orgID, runID string) (leadgen.WorkflowProgress, error) {
	if runID == f.panicOn {
		panic("boom")
	}
	p, ok := f.progress[runID]
	if !ok || p.OrganizationID != orgID {
		return leadgen.WorkflowProgress{}, leadgen.ErrNotFound
	}
	return p, nil
}

type minJitter struct{}

func (minJitter) Int63n(int64) int64 { return 0 }

type harness struct {
	server *Server
	store  *memory.Store
	runs   *fakeRuns
}

func newHarness(t *testing.T, cfg Config, ready func(context.Context) error) *harness {
	t.Helper()
	store := memory.NewStore()
	clock := manual.New(testNow)
	ids := uuid.New()
	calc := schedule.NewWithSource(minJitter{})
	queue, err := postqueue.New(postqueue.Deps{
		Accounts:  store,
		Queue:     store,
		Campaigns: store,
		Results:   store,
		Schedule:  calc,
		Clock:     clock,
		IDs:       ids,
	}, postqueue.Config{}, zap.NewNop())
	require.NoError(t, err)
	runs := &fakeRuns{progress: map[string]leadgen.WorkflowProgress{}}
	srv, err := NewServer(Deps{
		Orgs:      store,
		Campaigns: store,
		Results:   store,
		Runs:      runs,
		Queue:     queue,
		Schedule:  calc,
		Clock:     clock,
		IDs:       ids,
		Ready:     ready,
	}, cfg, zap.NewNop())
	require.NoError(t, err)
	return &harness{server: srv, store: store, runs: runs}
}

type envelope struct {
	IsSuccess bool            `json:"isSuccess"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
}

func (h *harness) do(t *testing.T, method, path string, body any, header ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	var env envelope
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func TestNewServerValidates(t *testing.T) {
	t.Parallel()

	_, err := NewServer(Deps{}, Config{}, nil)
	require.Error(t, err)
}

func TestHealthReadyMetrics(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	rec, env := h.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.IsSuccess)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec, _ = h.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	down := newHarness(t, Config{}, func(context.Context) error { return errors.New("db down") })
	rec, env = down.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.False(t, env.IsSuccess)
}

func TestAPIKey(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{APIKey: "secret"}, nil)
	rec, env := h.do(t, http.MethodGet, "/v1/orgs/org-1/campaigns", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, env.IsSuccess)

	rec, _ = h.do(t, http.MethodGet, "/v1/orgs/org-1/campaigns", nil, "X-API-Key", "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = h.do(t, http.MethodGet, "/v1/orgs/org-1/campaigns", nil, "Authorization", "Bearer secret")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = h.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestOrganization(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	rec, _ := h.do(t, http.MethodGet, "/v1/orgs/org-1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = h.do(t, http.MethodPut, "/v1/orgs/org-1", organizationRequest{Name: "Acme", MonthlyThreadQuota: -1})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodPut, "/v1/orgs/org-1", organizationRequest{Name: "Acme", Plan: "pro", MonthlyThreadQuota: 500})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := h.do(t, http.MethodGet, "/v1/orgs/org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	org := decodeData[leadgen.Organization](t, env)
	require.Equal(t, "Acme", org.Name)
	require.Equal(t, 500, org.MonthlyThreadQuota)
	require.Equal(t, testNow, org.CreatedAt.UTC())
}

func TestCampaignLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	base := "/v1/orgs/org-1/campaigns"

	rec, env := h.do(t, http.MethodPost, base, campaignRequest{Name: "x", WebsiteURL: "ftp://acme"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, env.IsSuccess)

	rec, env = h.do(t, http.MethodPost, base, campaignRequest{
		Name:       "Acme CRM",
		WebsiteURL: "https://acme.example",
		Keywords:   []string{"crm", " CRM ", "", "sales"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeData[leadgen.Campaign](t, env)
	require.Equal(t, leadgen.CampaignDraft, created.Status)
	require.Equal(t, []string{"crm", "sales"}, created.Keywords)

	rec, env = h.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeData[[]leadgen.Campaign](t, env), 1)

	rec, _ = h.do(t, http.MethodGet, "/v1/orgs/org-2/campaigns/"+created.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = h.do(t, http.MethodPut, base+"/"+created.ID, campaignRequest{Name: "Acme", WebsiteURL: "https://acme.example/crm"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://acme.example/crm", decodeData[leadgen.Campaign](t, env).WebsiteURL)

	rec, env = h.do(t, http.MethodPost, base+"/"+created.ID+"/runs", leadgen.RunLimits{MaxThreads: 5})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, leadgen.RunQueued, decodeData[leadgen.WorkflowProgress](t, env).Status)

	rec, _ = h.do(t, http.MethodPost, base+"/"+created.ID+"/runs", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []leadgen.RunLimits{{MaxThreads: 5}, {}}, h.runs.submitted)

	rec, _ = h.do(t, http.MethodPost, base+"/"+created.ID+"/runs", leadgen.RunLimits{ScoreThreshold: 101})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodDelete, base+"/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = h.do(t, http.MethodGet, base+"/"+created.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitRunErrorMapping(t *testing.T) {
	t.Parallel()

	cases := map[error]int{
		leadgen.ErrQuotaExceeded:  http.StatusPaymentRequired,
		leadgen.ErrConflict:       http.StatusConflict,
		leadgen.ErrNotFound:       http.StatusNotFound,
		errors.New("queue broken"): http.StatusInternalServerError,
	}
	for cause, status := range cases {
		h := newHarness(t, Config{}, nil)
		h.runs.submitErr = cause
		rec, env := h.do(t, http.MethodPost, "/v1/orgs/org-1/campaigns/c1/runs", nil)
		require.Equal(t, status, rec.Code, cause.Error())
		require.False(t, env.IsSuccess)
		if status == http.StatusInternalServerError {
			require.Equal(t, "internal error", env.Message)
		}
	}
}

func TestRunProgressAndStop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.runs.progress["run-9"] = leadgen.NewWorkflowProgress("run-9", "c1", "org-1", leadgen.RunLimits{}, testNow)
	h.runs.panicOn = "run-panic"

	rec, env := h.do(t, http.MethodGet, "/v1/orgs/org-1/runs/run-9", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decodeData[leadgen.WorkflowProgress](t, env)
	require.Len(t, p.Stages, len(leadgen.Stages))

	rec, _ = h.do(t, http.MethodGet, "/v1/orgs/org-2/runs/run-9", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = h.do(t, http.MethodPost, "/v1/orgs/org-1/runs/run-9/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, leadgen.RunStopped, decodeData[leadgen.WorkflowProgress](t, env).Status)

	rec, env = h.do(t, http.MethodGet, "/v1/orgs/org-1/runs/run-panic", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.False(t, env.IsSuccess)
}

func TestCommentReviewAndQueue(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	require.NoError(t, h.store.CreateCampaign(ctx, leadgen.Campaign{ID: "c1", OrganizationID: "org-1", Name: "Acme"}))
	require.NoError(t, h.store.ReplaceResults(ctx, "c1", nil,
		[]leadgen.RedditThread{{ID: "t1", CampaignID: "c1", RedditID: "abc123", Relevance: 82}, {ID: "t2", CampaignID: "c1", Relevance: 20}},
		[]leadgen.GeneratedComment{{
			ID: "gc1", CampaignID: "c1", ThreadID: "t1", RedditID: "abc123", Subreddit: "smallbusiness",
			Author: "op", Micro: "Try Acme.", Medium: "We built Acme for this.", Status: leadgen.CommentDraft,
		}},
	))

	rec, env := h.do(t, http.MethodGet, "/v1/orgs/org-1/campaigns/c1/threads?min_relevance=70", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeData[[]leadgen.RedditThread](t, env), 1)

	rec, env = h.do(t, http.MethodGet, "/v1/orgs/org-1/campaigns/c1/comments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeData[[]leadgen.GeneratedComment](t, env), 1)

	rec, _ = h.do(t, http.MethodPatch, "/v1/orgs/org-2/comments/gc1", map[string]string{"status": "approved"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = h.do(t, http.MethodPatch, "/v1/orgs/org-1/comments/gc1", map[string]string{"status": "posted"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = h.do(t, http.MethodPatch, "/v1/orgs/org-1/comments/gc1", map[string]string{
		"status":        "approved",
		"micro_comment": "Acme does exactly this.",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	patched := decodeData[leadgen.GeneratedComment](t, env)
	require.Equal(t, leadgen.CommentApproved, patched.Status)
	require.Equal(t, "Acme does exactly this.", patched.Micro)
	require.Equal(t, "We built Acme for this.", patched.Medium)

	_, env = h.do(t, http.MethodPost, "/v1/orgs/org-1/accounts", accountRequest{Username: "u/acme_helper", RefreshToken: "rt"})
	account := decodeData[leadgen.WarmupAccount](t, env)

	rec, _ = h.do(t, http.MethodPost, "/v1/orgs/org-1/comments/gc1/queue", queueCommentRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = h.do(t, http.MethodPost, "/v1/orgs/org-1/comments/gc1/queue", queueCommentRequest{AccountID: account.ID, Tier: "micro"})
	require.Equal(t, http.StatusCreated, rec.Code)
	item := decodeData[leadgen.UnifiedQueueItem](t, env)
	require.Equal(t, leadgen.KindComment, item.Kind)
	require.Equal(t, "Acme does exactly this.", item.Body)
	require.Equal(t, "gc1", item.SourceID)

	rec, _ = h.do(t, http.MethodPatch, "/v1/orgs/org-1/comments/gc1", map[string]string{"micro_comment": "late edit"})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestAccountsAndQueue(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	base := "/v1/orgs/org-1/accounts"

	rec, _ := h.do(t, http.MethodPost, base, accountRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = h.do(t, http.MethodPost, base, accountRequest{Username: "bob", Settings: leadgen.PostingSettings{Mode: "turbo"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env := h.do(t, http.MethodPost, base, accountRequest{
		Username: "bob",
		Settings: leadgen.PostingSettings{Mode: leadgen.ModeAggressive},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	account := decodeData[leadgen.WarmupAccount](t, env)
	require.Equal(t, postqueue.DefaultDailyCap, account.DailyCap)
	require.NotContains(t, string(env.Data), "refresh_token")

	rec, env = h.do(t, http.MethodPost, base+"/"+account.ID+"/posts", postRequest{Subreddit: "r/Entrepreneur", Title: "Hello", Body: "First post"})
	require.Equal(t, http.StatusCreated, rec.Code)
	post := decodeData[leadgen.UnifiedQueueItem](t, env)
	require.Equal(t, "entrepreneur", post.Subreddit)
	require.Equal(t, testNow.Add(10*time.Minute), post.ScheduledFor.UTC())

	rec, env = h.do(t, http.MethodPost, base+"/"+account.ID+"/comments", warmupCommentRequest{
		ThreadURL: "https://www.reddit.com/r/smallbusiness/comments/abc123/need_a_crm/",
		Body:      "Great question",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	comment := decodeData[leadgen.UnifiedQueueItem](t, env)
	require.Equal(t, "abc123", comment.ThreadID)
	require.Equal(t, "smallbusiness", comment.Subreddit)
	require.True(t, comment.ScheduledFor.After(post.ScheduledFor))

	rec, _ = h.do(t, http.MethodPost, base+"/"+account.ID+"/comments", warmupCommentRequest{ThreadURL: "https://example.com", Body: "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = h.do(t, http.MethodGet, base+"/"+account.ID+"/queue?status=queued", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeData[[]leadgen.UnifiedQueueItem](t, env), 2)
	rec, _ = h.do(t, http.MethodGet, base+"/"+account.ID+"/queue?status=bogus", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = h.do(t, http.MethodPut, base+"/"+account.ID, accountRequest{Settings: leadgen.PostingSettings{Mode: leadgen.ModeSafe}, DailyCap: 4})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 4, decodeData[leadgen.WarmupAccount](t, env).DailyCap)

	rec, env = h.do(t, http.MethodPost, base+"/"+account.ID+"/reschedule", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rescheduled := decodeData[[]leadgen.UnifiedQueueItem](t, env)
	require.Len(t, rescheduled, 2)
	require.GreaterOrEqual(t, rescheduled[1].ScheduledFor.Sub(rescheduled[0].ScheduledFor), schedule.SafeProfile.MinGap)

	rec, env = h.do(t, http.MethodDelete, "/v1/orgs/org-1/queue/"+post.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, leadgen.QueueCanceled, decodeData[leadgen.UnifiedQueueItem](t, env).Status)
	rec, _ = h.do(t, http.MethodDelete, "/v1/orgs/org-2/queue/"+comment.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = h.do(t, http.MethodGet, "/v1/orgs/org-2/accounts/"+account.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = h.do(t, http.MethodDelete, base+"/"+account.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, env = h.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decodeData[[]leadgen.WarmupAccount](t, env))
}

func TestSchedulePreview(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	rec, env := h.do(t, http.MethodPost, "/v1/orgs/org-1/schedule/preview", previewRequest{
		Settings: leadgen.PostingSettings{Mode: leadgen.ModeSafe, ActiveStartHour: 9, ActiveEndHour: 17},
		Count:    8,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeData[previewResponse](t, env)
	require.Len(t, resp.Slots, 8)
	require.InDelta(t, 60, resp.Profile.IntervalMinutes, 0.001)
	for i, slot := range resp.Slots {
		require.True(t, schedule.InActiveHours(slot, leadgen.PostingSettings{ActiveStartHour: 9, ActiveEndHour: 17}))
		if i > 0 {
			require.GreaterOrEqual(t, slot.Sub(resp.Slots[i-1]), schedule.SafeProfile.MinGap)
		}
	}

	rec, env = h.do(t, http.MethodPost, "/v1/orgs/org-1/schedule/preview", previewRequest{Count: 500})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeData[previewResponse](t, env).Slots, maxPreviewSlots)

	rec, _ = h.do(t, http.MethodPost, "/v1/orgs/org-1/schedule/preview", previewRequest{
		Settings: leadgen.PostingSettings{Mode: leadgen.ModeCustom, IntervalMinutes: 10, JitterMinutes: 20},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeDrafts struct{ err error }

func (f fakeDrafts) WarmupPost(_ context.Context, subreddit, topic string) (generator.Post, error) {
	if f.err != nil {
		return generator.Post{}, f.err
	}
	return generator.Post{Title: topic + " in r/" + subreddit, Body: "thoughts?"}, nil
}

func TestDraftWarmupPost(t *testing.T) {
	t.Parallel()

	base := newHarness(t, Config{}, nil)
	rec, _ := base.do(t, http.MethodPost, "/v1/orgs/org-1/drafts/warmup-post", draftRequest{Subreddit: "x", Topic: "y"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	deps := base.server.deps
	deps.Drafts = fakeDrafts{}
	srv, err := NewServer(deps, Config{}, zap.NewNop())
	require.NoError(t, err)
	h := &harness{server: srv, store: base.store, runs: base.runs}

	rec, env := h.do(t, http.MethodPost, "/v1/orgs/org-1/drafts/warmup-post", draftRequest{Subreddit: "r/Breadit", Topic: "sourdough"})
	require.Equal(t, http.StatusOK, rec.Code)
	post := decodeData[generator.Post](t, env)
	require.Equal(t, "sourdough in r/Breadit", post.Title)

	rec, _ = h.do(t, http.MethodPost, "/v1/orgs/org-1/drafts/warmup-post", draftRequest{Subreddit: "Breadit"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	deps.Drafts = fakeDrafts{err: errors.New("llm down")}
	srv, err = NewServer(deps, Config{}, zap.NewNop())
	require.NoError(t, err)
	h.server = srv
	rec, _ = h.do(t, http.MethodPost, "/v1/orgs/org-1/drafts/warmup-post", draftRequest{Subreddit: "Breadit", Topic: "t"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
