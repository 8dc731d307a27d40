// Package postqueue manages Reddit accounts and their unified posting queue:
// warm-up posts and comments, lead comments and DMs are scheduled per Reddit
// user (shared by every organization linking it) and posted by ProcessDue
// subject to the daily cap and the subreddit cooldown.
package postqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/reddit-leadgen/internal/cooldown"
	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	"github.com/JakeFAU/reddit-leadgen/internal/schedule"
)

// Defaults applied to a zero Config.
const (
	DefaultDailyCap     = 10
	DefaultMaxAttempts  = 3
	DefaultBatchSize    = 50
	DefaultRetryBackoff = 5 * time.Minute
	DefaultCapDeferral  = time.Hour
)

// Deps are the collaborators a Service needs.
type Deps struct {
	Accounts  leadgen.AccountStore
	Queue     leadgen.QueueStore
	Campaigns leadgen.CampaignStore
	Results   leadgen.ResultStore
	Cooldown  *cooldown.Limiter
	Reddit    leadgen.RedditClient
	Publisher leadgen.Publisher
	Schedule  *schedule.Calculator
	Clock     leadgen.Clock
	IDs       leadgen.IDGenerator
}

// Config tunes queue processing.
type Config struct {
	DefaultDailyCap int
	MaxAttempts     int
	BatchSize       int
	// RetryBackoff is doubled for every failed attempt.
	RetryBackoff time.Duration
	// CapDeferral is how far an item is pushed when its account hit the daily cap.
	CapDeferral time.Duration
}

// Service implements account management, enqueueing and processing.
type Service struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates deps and builds a Service.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Service, error) {
	if deps.Accounts == nil || deps.Queue == nil {
		return nil, errors.New("postqueue: account and queue stores are required")
	}
	if deps.Clock == nil || deps.IDs == nil {
		return nil, errors.New("postqueue: clock and id generator are required")
	}
	if deps.Schedule == nil {
		deps.Schedule = schedule.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultDailyCap <= 0 {
		cfg.DefaultDailyCap = DefaultDailyCap
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.CapDeferral <= 0 {
		cfg.CapDeferral = DefaultCapDeferral
	}
	return &Service{deps: deps, cfg: cfg, logger: logger.Named("postqueue")}, nil
}

// CreateAccount registers a Reddit account for orgID.
func (s *Service) CreateAccount(ctx context.Context, orgID string, a leadgen.WarmupAccount) (leadgen.WarmupAccount, error) {
	a.Username = strings.TrimPrefix(strings.TrimSpace(a.Username), "u/")
	if a.Username == "" {
		return leadgen.WarmupAccount{}, fmt.Errorf("username is required: %w", leadgen.ErrInvalid)
	}
	if err := s.normalizeAccount(&a); err != nil {
		return leadgen.WarmupAccount{}, err
	}
	id, err := s.deps.IDs.NewID()
	if err != nil {
		return leadgen.WarmupAccount{}, fmt.Errorf("generate account id: %w", err)
	}
	now := s.deps.Clock.Now()
	a.ID = id
	a.OrganizationID = orgID
	a.CreatedAt = now
	a.UpdatedAt = now
	if err := s.deps.Accounts.CreateAccount(ctx, a); err != nil {
		return leadgen.WarmupAccount{}, fmt.Errorf("create account: %w", err)
	}
	s.logger.Info("account created", zap.String("account_id", a.ID), zap.String("username", a.Username))
	return a, nil
}

// GetAccount returns an account owned by orgID.
func (s *Service) GetAccount(ctx context.Context, orgID, accountID string) (leadgen.WarmupAccount, error) {
	a, err := s.deps.Accounts.GetAccount(ctx, accountID)
	if err != nil {
		return leadgen.WarmupAccount{}, fmt.Errorf("load account: %w", err)
	}
	if a.OrganizationID != orgID {
		return leadgen.WarmupAccount{}, fmt.Errorf("account %s: %w", accountID, leadgen.ErrNotFound)
	}
	return a, nil
}

// ListAccounts returns the organization's accounts.
func (s *Service) ListAccounts(ctx context.Context, orgID string) ([]leadgen.WarmupAccount, error) {
	accounts, err := s.deps.Accounts.ListAccounts(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// UpdateAccount applies settings, cap, status and token changes. Pending items
// are rescheduled when the posting settings changed.
func (s *Service) UpdateAccount(ctx context.Context, orgID string, a leadgen.WarmupAccount) (leadgen.WarmupAccount, error) {
	existing, err := s.GetAccount(ctx, orgID, a.ID)
	if err != nil {
		return leadgen.WarmupAccount{}, err
	}
	if err := s.normalizeAccount(&a); err != nil {
		return leadgen.WarmupAccount{}, err
	}
	settingsChanged := existing.Settings != a.Settings
	existing.Settings = a.Settings
	existing.DailyCap = a.DailyCap
	existing.Status = a.Status
	existing.Karma = a.Karma
	if a.RefreshToken != "" {
		existing.RefreshToken = a.RefreshToken
	}
	existing.UpdatedAt = s.deps.Clock.Now()
	if err := s.deps.Accounts.UpdateAccount(ctx, existing); err != nil {
		return leadgen.WarmupAccount{}, fmt.Errorf("update account: %w", err)
	}
	if settingsChanged {
		if _, err := s.reschedule(ctx, existing); err != nil {
			return existing, err
		}
	}
	return existing, nil
}

// DeleteAccount removes an account and its queue.
func (s *Service) DeleteAccount(ctx context.Context, orgID, accountID string) error {
	if _, err := s.GetAccount(ctx, orgID, accountID); err != nil {
		return err
	}
	if err := s.deps.Accounts.DeleteAccount(ctx, accountID); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

func (s *Service) normalizeAccount(a *leadgen.WarmupAccount) error {
	if a.Settings.Mode == "" {
		a.Settings.Mode = leadgen.ModeSafe
	}
	if err := schedule.Validate(a.Settings); err != nil {
		return fmt.Errorf("%s: %w", err.Error(), leadgen.ErrInvalid)
	}
	if a.DailyCap <= 0 {
		a.DailyCap = s.cfg.DefaultDailyCap
	}
	switch a.Status {
	case "":
		a.Status = leadgen.AccountActive
	case leadgen.AccountActive, leadgen.AccountPaused:
	default:
		return fmt.Errorf("unknown account status %q: %w", a.Status, leadgen.ErrInvalid)
	}
	return nil
}
