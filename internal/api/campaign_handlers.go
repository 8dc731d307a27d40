package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
)

type organizationRequest struct {
	Name               string `json:"name"`
	Plan               string `json:"plan"`
	MonthlyThreadQuota int    `json:"monthly_thread_quota"`
}

type campaignRequest struct {
	Name                string   `json:"name"`
	WebsiteURL          string   `json:"website_url"`
	BusinessDescription string   `json:"business_description"`
	Keywords            []string `json:"keywords"`
}

func (c campaignRequest) validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("name is required: %w", leadgen.ErrInvalid)
	}
	u, err := url.Parse(strings.TrimSpace(c.WebsiteURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("website_url must be an absolute http(s) URL: %w", leadgen.ErrInvalid)
	}
	return nil
}

// commentPatch edits a generated comment. Nil fields are left unchanged.
type commentPatch struct {
	Micro     *string `json:"micro_comment"`
	Medium    *string `json:"medium_comment"`
	Verbose   *string `json:"verbose_comment"`
	DMSubject *string `json:"dm_subject"`
	DMBody    *string `json:"dm_body"`
	Status    *string `json:"status"`
}

type queueCommentRequest struct {
	AccountID string `json:"account_id"`
	Tier      string `json:"tier"`
}

func orgID(r *http.Request) string {
	return chi.URLParam(r, "org_id")
}

func (s *Server) getOrganization(w http.ResponseWriter, r *http.Request) {
	org, err := s.deps.Orgs.GetOrganization(r.Context(), orgID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "", org)
}

func (s *Server) putOrganization(w http.ResponseWriter, r *http.Request) {
	var req organizationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.MonthlyThreadQuota < 0 {
		s.fail(w, r, fmt.Errorf("monthly_thread_quota must be >= 0: %w", leadgen.ErrInvalid))
		return
	}
	now := s.deps.Clock.Now()
	org, err := s.deps.Orgs.GetOrganization(r.Context(), orgID(r))
	switch {
	case err == nil:
	case isNotFound(err):
		org = leadgen.Organization{ID: orgID(r), CreatedAt: now}
	default:
		s.fail(w, r, err)
		return
	}
	org.Name = req.Name
	org.Plan = req.Plan
	org.MonthlyThreadQuota = req.MonthlyThreadQuota
	org.UpdatedAt = now
	if err := s.deps.Orgs.PutOrganization(r.Context(), org); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "organization saved", org)
}

func (s *Server) listCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.deps.Campaigns.ListCampaigns(r.Context(), orgID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if campaigns == nil {
		campaigns = []leadgen.Campaign{}
	}
	writeOK(w, http.StatusOK, "", campaigns)
}

func (s *Server) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := s.deps.IDs.NewID()
	if err != nil {
		s.fail(w, r, fmt.Errorf("generate campaign id: %w", err))
		return
	}
	now := s.deps.Clock.Now()
	c := leadgen.Campaign{
		ID:                  id,
		OrganizationID:      orgID(r),
		Name:                strings.TrimSpace(req.Name),
		WebsiteURL:          strings.TrimSpace(req.WebsiteURL),
		BusinessDescription: req.BusinessDescription,
		Keywords:            cleanKeywords(req.Keywords),
		Status:              leadgen.CampaignDraft,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.deps.Campaigns.CreateCampaign(r.Context(), c); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "campaign created", c)
}

func (s *Server) campaign(ctx context.Context, r *http.Request) (leadgen.Campaign, error) {
	c, err := s.deps.Campaigns.GetCampaign(ctx, orgID(r), chi.URLParam(r, "campaign_id"))
	if err != nil {
		return leadgen.Campaign{}, fmt.Errorf("load campaign: %w", err)
	}
	return c, nil
}

func (s *Server) getCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.campaign(r.Context(), r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "", c)
}

func (s *Server) updateCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.campaign(r.Context(), r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if c.Status == leadgen.CampaignRunning {
		s.fail(w, r, fmt.Errorf("campaign is running: %w", leadgen.ErrConflict))
		return
	}
	c.Name = strings.TrimSpace(req.Name)
	c.WebsiteURL = strings.TrimSpace(req.WebsiteURL)
	c.BusinessDescription = req.BusinessDescription
	c.Keywords = cleanKeywords(req.Keywords)
	c.UpdatedAt = s.deps.Clock.Now()
	if err := s.deps.Campaigns.UpdateCampaign(r.Context(), c); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "campaign updated", c)
}

func (s *Server) deleteCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.campaign(r.Context(), r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if c.Status == leadgen.CampaignRunning {
		s.fail(w, r, fmt.Errorf("campaign is running: %w", leadgen.ErrConflict))
		return
	}
	if err := s.deps.Campaigns.DeleteCampaign(r.Context(), c.OrganizationID, c.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK[any](w, http.StatusOK, "campaign deleted", nil)
}

// listThreads returns the campaign's threads, optionally filtered by ?min_relevance=.
func (s *Server) listThreads(w http.ResponseWriter, r *http.Request) {
	c, err := s.campaign(r.Context(), r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	minRelevance := 0
	if raw := r.URL.Query().Get("min_relevance"); raw != "" {
		minRelevance, err = strconv.Atoi(raw)
		if err != nil {
			s.fail(w, r, fmt.Errorf("invalid min_relevance: %w", leadgen.ErrInvalid))
			return
		}
	}
	threads, err := s.deps.Results.ListThreads(r.Context(), c.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]leadgen.RedditThread, 0, len(threads))
	for _, t := range threads {
		if t.Relevance >= minRelevance {
			out = append(out, t)
		}
	}
	writeOK(w, http.StatusOK, "", out)
}

func (s *Server) listComments(w http.ResponseWriter, r *http.Request) {
	c, err := s.campaign(r.Context(), r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	comments, err := s.deps.Results.ListComments(r.Context(), c.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if comments == nil {
		comments = []leadgen.GeneratedComment{}
	}
	writeOK(w, http.StatusOK, "", comments)
}

// ownedComment loads a generated comment and checks its campaign belongs to the org.
func (s *Server) ownedComment(ctx context.Context, r *http.Request) (leadgen.GeneratedComment, error) {
	c, err := s.deps.Results.GetComment(ctx, chi.URLParam(r, "comment_id"))
	if err != nil {
		return leadgen.GeneratedComment{}, fmt.Errorf("load comment: %w", err)
	}
	if _, err := s.deps.Campaigns.GetCampaign(ctx, orgID(r), c.CampaignID); err != nil {
		return leadgen.GeneratedComment{}, fmt.Errorf("load comment campaign: %w", err)
	}
	return c, nil
}

func (s *Server) patchComment(w http.ResponseWriter, r *http.Request) {
	var req commentPatch
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.ownedComment(r.Context(), r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if c.Status == leadgen.CommentQueued || c.Status == leadgen.CommentPosted {
		s.fail(w, r, fmt.Errorf("comment is %s: %w", c.Status, leadgen.ErrConflict))
		return
	}
	setIf(&c.Micro, req.Micro)
	setIf(&c.Medium, req.Medium)
	setIf(&c.Verbose, req.Verbose)
	setIf(&c.DMSubject, req.DMSubject)
	setIf(&c.DMBody, req.DMBody)
	if req.Status != nil {
		switch st := leadgen.CommentStatus(*req.Status); st {
		case leadgen.CommentDraft, leadgen.CommentApproved:
			c.Status = st
		default:
			s.fail(w, r, fmt.Errorf("status must be draft or approved: %w", leadgen.ErrInvalid))
			return
		}
	}
	c.UpdatedAt = s.deps.Clock.Now()
	if err := s.deps.Results.UpdateComment(r.Context(), c); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "comment updated", c)
}

func (s *Server) queueComment(w http.ResponseWriter, r *http.Request) {
	var req queueCommentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.AccountID == "" {
		s.fail(w, r, fmt.Errorf("account_id is required: %w", leadgen.ErrInvalid))
		return
	}
	item, err := s.deps.Queue.QueueGenerated(r.Context(), orgID(r), chi.URLParam(r, "comment_id"), req.AccountID, req.Tier)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "comment queued", item)
}

func setIf(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func cleanKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, k := range in {
		k = strings.TrimSpace(k)
		key := strings.ToLower(k)
		if k == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, k)
	}
	return out
}
