package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
)

const progressTimeout = 3 * time.Second

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var limits leadgen.RunLimits
	if err := decodeJSON(w, r, &limits); err != nil && !errors.Is(err, errEmptyBody) {
		s.fail(w, r, err)
		return
	}
	if limits.MaxKeywords < 0 || limits.MaxResultsPerKeyword < 0 || limits.MaxThreads < 0 ||
		limits.ScoreConcurrency < 0 || limits.ScoreThreshold < 0 || limits.ScoreThreshold > 100 {
		s.fail(w, r, fmt.Errorf("limits must be non-negative and score_threshold <= 100: %w", leadgen.ErrInvalid))
		return
	}
	p, err := s.deps.Runs.Submit(r.Context(), orgID(r), chi.URLParam(r, "campaign_id"), limits)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusAccepted, "run queued", p)
}

// getRun reads a progress record; clients poll it while a run executes.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), progressTimeout)
	defer cancel()
	p, err := s.deps.Runs.Progress(ctx, orgID(r), chi.URLParam(r, "run_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "", p)
}

func (s *Server) stopRun(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), progressTimeout)
	defer cancel()
	p, err := s.deps.Runs.Stop(ctx, orgID(r), chi.URLParam(r, "run_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "stop requested", p)
}
