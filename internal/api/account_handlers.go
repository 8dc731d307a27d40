package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	"github.com/JakeFAU/reddit-leadgen/internal/schedule"
)

const (
	defaultPreviewSlots = 5
	maxPreviewSlots     = 50
)

type accountRequest struct {
	Username     string                  `json:"username"`
	RefreshToken string                  `json:"refresh_token"`
	Settings     leadgen.PostingSettings `json:"settings"`
	DailyCap     int                     `json:"daily_cap"`
	Status       leadgen.AccountStatus   `json:"status"`
	Karma        int                     `json:"karma"`
}

func (a accountRequest) account() leadgen.WarmupAccount {
	return leadgen.WarmupAccount{
		Username:     a.Username,
		RefreshToken: a.RefreshToken,
		Settings:     a.Settings,
		DailyCap:     a.DailyCap,
		Status:       a.Status,
		Karma:        a.Karma,
	}
}

type postRequest struct {
	Subreddit string `json:"subreddit"`
	Title     string `json:"title"`
	Body      string `json:"body"`
}

// warmupCommentRequest names the thread by ID or by URL.
type warmupCommentRequest struct {
	ThreadID  string `json:"thread_id"`
	ThreadURL string `json:"thread_url"`
	Subreddit string `json:"subreddit"`
	Body      string `json:"body"`
}

type previewRequest struct {
	Settings leadgen.PostingSettings `json:"settings"`
	Count    int                     `json:"count"`
	Anchor   *time.Time              `json:"anchor"`
}

type previewResponse struct {
	Profile struct {
		IntervalMinutes float64 `json:"interval_minutes"`
		JitterMinutes   float64 `json:"jitter_minutes"`
		MinGapMinutes   float64 `json:"min_gap_minutes"`
	} `json:"profile"`
	Slots []time.Time `json:"slots"`
}

func accountID(r *http.Request) string {
	return chi.URLParam(r, "account_id")
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.deps.Queue.ListAccounts(r.Context(), orgID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []leadgen.WarmupAccount{}
	}
	writeOK(w, http.StatusOK, "", accounts)
}

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.deps.Queue.CreateAccount(r.Context(), orgID(r), req.account())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "account created", a)
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Queue.GetAccount(r.Context(), orgID(r), accountID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "", a)
}

func (s *Server) updateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	a := req.account()
	a.ID = accountID(r)
	updated, err := s.deps.Queue.UpdateAccount(r.Context(), orgID(r), a)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "account updated", updated)
}

func (s *Server) deleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Queue.DeleteAccount(r.Context(), orgID(r), accountID(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK[any](w, http.StatusOK, "account deleted", nil)
}

func (s *Server) enqueuePost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.deps.Queue.EnqueuePost(r.Context(), orgID(r), accountID(r), req.Subreddit, req.Title, req.Body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "post queued", item)
}

func (s *Server) enqueueWarmupComment(w http.ResponseWriter, r *http.Request) {
	var req warmupCommentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.ThreadID == "" && req.ThreadURL != "" {
		ref, ok := leadgen.ParseThreadURL(req.ThreadURL)
		if !ok {
			s.fail(w, r, fmt.Errorf("thread_url is not a Reddit thread: %w", leadgen.ErrInvalid))
			return
		}
		req.ThreadID = ref.ID
		if req.Subreddit == "" {
			req.Subreddit = ref.Subreddit
		}
	}
	item, err := s.deps.Queue.EnqueueWarmupComment(
		r.Context(), orgID(r), accountID(r), req.ThreadID, req.Subreddit, req.Body,
	)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "comment queued", item)
}

// listQueue returns the account's queue, optionally filtered by ?status=.
func (s *Server) listQueue(w http.ResponseWriter, r *http.Request) {
	status := leadgen.QueueStatus(r.URL.Query().Get("status"))
	switch status {
	case "", leadgen.QueueQueued, leadgen.QueuePosting, leadgen.QueuePosted, leadgen.QueueFailed, leadgen.QueueCanceled:
	default:
		s.fail(w, r, fmt.Errorf("unknown status %q: %w", status, leadgen.ErrInvalid))
		return
	}
	items, err := s.deps.Queue.List(r.Context(), orgID(r), accountID(r), status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if items == nil {
		items = []leadgen.UnifiedQueueItem{}
	}
	writeOK(w, http.StatusOK, "", items)
}

func (s *Server) reschedule(w http.ResponseWriter, r *http.Request) {
	items, err := s.deps.Queue.Reschedule(r.Context(), orgID(r), accountID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if items == nil {
		items = []leadgen.UnifiedQueueItem{}
	}
	writeOK(w, http.StatusOK, "queue rescheduled", items)
}

func (s *Server) cancelQueueItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.deps.Queue.Cancel(r.Context(), orgID(r), chi.URLParam(r, "item_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "queue item canceled", item)
}

// previewSchedule lays out upcoming slots for settings without touching any queue.
func (s *Server) previewSchedule(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Settings.Mode == "" {
		req.Settings.Mode = leadgen.ModeSafe
	}
	if err := schedule.Validate(req.Settings); err != nil {
		s.fail(w, r, fmt.Errorf("%s: %w", err.Error(), leadgen.ErrInvalid))
		return
	}
	switch {
	case req.Count <= 0:
		req.Count = defaultPreviewSlots
	case req.Count > maxPreviewSlots:
		req.Count = maxPreviewSlots
	}
	anchor := s.deps.Clock.Now()
	if req.Anchor != nil {
		anchor = *req.Anchor
	}
	profile, err := schedule.ProfileFor(req.Settings)
	if err != nil {
		s.fail(w, r, fmt.Errorf("%s: %w", err.Error(), leadgen.ErrInvalid))
		return
	}
	slots, err := s.deps.Schedule.Plan(anchor, req.Count, req.Settings)
	if err != nil {
		s.fail(w, r, fmt.Errorf("%s: %w", err.Error(), leadgen.ErrInvalid))
		return
	}
	var resp previewResponse
	resp.Profile.IntervalMinutes = profile.Interval.Minutes()
	resp.Profile.JitterMinutes = profile.Jitter.Minutes()
	resp.Profile.MinGapMinutes = profile.MinGap.Minutes()
	resp.Slots = slots
	writeOK(w, http.StatusOK, "", resp)
}

type draftRequest struct {
	Subreddit string `json:"subreddit"`
	Topic     string `json:"topic"`
}

func (s *Server) draftWarmupPost(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	sub := strings.TrimPrefix(strings.TrimSpace(req.Subreddit), "r/")
	if sub == "" || strings.TrimSpace(req.Topic) == "" {
		s.fail(w, r, fmt.Errorf("subreddit and topic are required: %w", leadgen.ErrInvalid))
		return
	}
	post, err := s.deps.Drafts.WarmupPost(r.Context(), sub, req.Topic)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "draft generated", post)
}
