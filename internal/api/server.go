package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/reddit-leadgen/internal/generator"
	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	"github.com/JakeFAU/reddit-leadgen/internal/metrics"
	"github.com/JakeFAU/reddit-leadgen/internal/schedule"
)

const maxBodyBytes = 1 << 20

var errEmptyBody = fmt.Errorf("request body is empty: %w", leadgen.ErrInvalid)

// RunService submits, inspects and stops workflow runs.
type RunService interface {
	Submit(ctx context.Context, orgID, campaignID string, limits leadgen.RunLimits) (leadgen.WorkflowProgress, error)
	Stop(ctx context.Context, orgID, runID string) (leadgen.WorkflowProgress, error)
	Progress(ctx context.Context, orgID, runID string) (leadgen.WorkflowProgress, error)
}

// QueueService manages Reddit accounts and their posting queues.
type QueueService interface {
	CreateAccount(ctx context.Context, orgID string, a leadgen.WarmupAccount) (leadgen.WarmupAccount, error)
	GetAccount(ctx context.Context, orgID, accountID string) (leadgen.WarmupAccount, error)
	ListAccounts(ctx context.Context, orgID string) ([]leadgen.WarmupAccount, error)
	UpdateAccount(ctx context.Context, orgID string, a leadgen.WarmupAccount) (leadgen.WarmupAccount, error)
	DeleteAccount(ctx context.Context, orgID, accountID string) error
	EnqueuePost(ctx context.Context, orgID, accountID, subreddit, title, body string) (leadgen.UnifiedQueueItem, error)
	EnqueueWarmupComment(
		ctx context.Context,
		orgID, accountID, threadID, subreddit, body string,
	) (leadgen.UnifiedQueueItem, error)
	QueueGenerated(ctx context.Context, orgID, commentID, accountID, tier string) (leadgen.UnifiedQueueItem, error)
	Reschedule(ctx context.Context, orgID, accountID string) ([]leadgen.UnifiedQueueItem, error)
	Cancel(ctx context.Context, orgID, itemID string) (leadgen.UnifiedQueueItem, error)
	List(ctx context.Context, orgID, accountID string, status leadgen.QueueStatus) ([]leadgen.UnifiedQueueItem, error)
}

// DraftWriter drafts warm-up content with the LLM.
type DraftWriter interface {
	WarmupPost(ctx context.Context, subreddit, topic string) (generator.Post, error)
}

// Deps are the collaborators the handlers call.
type Deps struct {
	Orgs      leadgen.OrgStore
	Campaigns leadgen.CampaignStore
	Results   leadgen.ResultStore
	Runs      RunService
	Queue     QueueService
	Schedule  *schedule.Calculator
	Clock     leadgen.Clock
	IDs       leadgen.IDGenerator
	// Drafts enables the warm-up draft endpoint when set.
	Drafts DraftWriter
	// Ready reports whether downstream dependencies are reachable. Nil means always ready.
	Ready func(ctx context.Context) error
}

// Config controls server behavior.
type Config struct {
	// APIKey guards /v1 when non-empty.
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the services and stores.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg Config, logger *zap.Logger) (*Server, error) {
	if deps.Orgs == nil || deps.Campaigns == nil || deps.Results == nil {
		return nil, errors.New("api: stores are required")
	}
	if deps.Runs == nil || deps.Queue == nil {
		return nil, errors.New("api: run and queue services are required")
	}
	if deps.Clock == nil || deps.IDs == nil {
		return nil, errors.New("api: clock and id generator are required")
	}
	if deps.Schedule == nil {
		deps.Schedule = schedule.New()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/orgs/{org_id}", func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/", s.getOrganization)
		r.Put("/", s.putOrganization)

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.listCampaigns)
			r.Post("/", s.createCampaign)
			r.Route("/{campaign_id}", func(r chi.Router) {
				r.Get("/", s.getCampaign)
				r.Put("/", s.updateCampaign)
				r.Delete("/", s.deleteCampaign)
				r.Post("/runs", s.submitRun)
				r.Get("/threads", s.listThreads)
				r.Get("/comments", s.listComments)
			})
		})
		r.Route("/runs/{run_id}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Post("/stop", s.stopRun)
		})
		r.Route("/comments/{comment_id}", func(r chi.Router) {
			r.Patch("/", s.patchComment)
			r.Post("/queue", s.queueComment)
		})
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.listAccounts)
			r.Post("/", s.createAccount)
			r.Route("/{account_id}", func(r chi.Router) {
				r.Get("/", s.getAccount)
				r.Put("/", s.updateAccount)
				r.Delete("/", s.deleteAccount)
				r.Post("/posts", s.enqueuePost)
				r.Post("/comments", s.enqueueWarmupComment)
				r.Get("/queue", s.listQueue)
				r.Post("/reschedule", s.reschedule)
			})
		})
		r.Delete("/queue/{item_id}", s.cancelQueueItem)
		r.Post("/schedule/preview", s.previewSchedule)
		if deps.Drafts != nil {
			r.Post("/drafts/warmup-post", s.draftWarmupPost)
		}
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, http.StatusOK, "ok", map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeOK(w, http.StatusOK, "ready", map[string]string{"status": "ready"})
}

// fail maps service errors onto HTTP statuses. Unexpected errors are logged
// and reported without detail.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, leadgen.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, leadgen.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, leadgen.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, leadgen.ErrQuotaExceeded):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("invalid JSON: %w", leadgen.ErrInvalid)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, leadgen.ErrNotFound)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeOK[T any](w http.ResponseWriter, status int, message string, data T) {
	writeJSON(w, status, leadgen.OK(message, data))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, leadgen.Fail(msg))
}
