// Package leadgen defines core types shared across subsystems.
package leadgen

import (
	"errors"
	"time"
)

// Sentinel errors returned by stores and services.
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("already exists")
	ErrInvalid       = errors.New("invalid request")
	ErrQuotaExceeded = errors.New("organization quota exceeded")
	ErrStopped       = errors.New("workflow stopped")
	ErrQueueClosed   = errors.New("queue closed")
)

// Result is the envelope every API response is wrapped in.
type Result[T any] struct {
	IsSuccess bool   `json:"isSuccess"`
	Message   string `json:"message"`
	Data      T      `json:"data,omitempty"`
}

// OK wraps data in a successful Result.
func OK[T any](message string, data T) Result[T] {
	return Result[T]{IsSuccess: true, Message: message, Data: data}
}

// Fail builds an unsuccessful Result.
func Fail(message string) Result[any] {
	return Result[any]{IsSuccess: false, Message: message}
}

// Organization owns campaigns and accounts and carries the plan limits.
type Organization struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Plan               string    `json:"plan"`
	MonthlyThreadQuota int       `json:"monthly_thread_quota"`
	ThreadsUsed        int       `json:"threads_used"`
	UsagePeriod        string    `json:"usage_period"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// RemainingThreads reports the unused part of the monthly quota for period.
// A zero quota means unlimited and returns -1.
func (o Organization) RemainingThreads(period string) int {
	if o.MonthlyThreadQuota <= 0 {
		return -1
	}
	used := o.ThreadsUsed
	if o.UsagePeriod != period {
		used = 0
	}
	if remaining := o.MonthlyThreadQuota - used; remaining > 0 {
		return remaining
	}
	return 0
}

// Profile is a member of an organization.
type Profile struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Email          string    `json:"email"`
	DisplayName    string    `json:"display_name"`
	CreatedAt      time.Time `json:"created_at"`
}

// CampaignStatus tracks the lifecycle of a campaign's most recent run.
type CampaignStatus string

// Campaign status values.
const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignRunning   CampaignStatus = "running"
	CampaignCompleted CampaignStatus = "completed"
	CampaignError     CampaignStatus = "error"
	CampaignStopped   CampaignStatus = "stopped"
)

// Campaign is a user-configured lead-generation job.
type Campaign struct {
	ID                  string         `json:"id"`
	OrganizationID      string         `json:"organization_id"`
	Name                string         `json:"name"`
	WebsiteURL          string         `json:"website_url"`
	BusinessDescription string         `json:"business_description"`
	Keywords            []string       `json:"keywords"`
	Status              CampaignStatus `json:"status"`
	StatusMessage       string         `json:"status_message,omitempty"`
	LastRunID           string         `json:"last_run_id,omitempty"`
	WebsiteSnapshotURI  string         `json:"website_snapshot_uri,omitempty"`
	ThreadsFound        int            `json:"threads_found"`
	CommentsGenerated   int            `json:"comments_generated"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// SearchResult is one hit returned by a SearchProvider for a keyword.
type SearchResult struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id"`
	Keyword    string    `json:"keyword"`
	Title      string    `json:"title"`
	URL        string    `json:"url"`
	Snippet    string    `json:"snippet"`
	ThreadID   string    `json:"thread_id"`
	Position   int       `json:"position"`
	CreatedAt  time.Time `json:"created_at"`
}

// ThreadComment is a top-level comment fetched alongside a thread.
type ThreadComment struct {
	ID     string `json:"id"`
	Author string `json:"author"`
	Body   string `json:"body"`
	Score  int    `json:"score"`
}

// RedditThread is a fetched and scored Reddit submission.
type RedditThread struct {
	ID          string          `json:"id"`
	CampaignID  string          `json:"campaign_id"`
	RedditID    string          `json:"reddit_id"`
	Subreddit   string          `json:"subreddit"`
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	Author      string          `json:"author"`
	URL         string          `json:"url"`
	Score       int             `json:"score"`
	NumComments int             `json:"num_comments"`
	Comments    []ThreadComment `json:"comments,omitempty"`
	Keyword     string          `json:"keyword"`
	Relevance   int             `json:"relevance"`
	Reasoning   string          `json:"reasoning"`
	Scored      bool            `json:"scored"`
	PostedAt    time.Time       `json:"posted_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

// CommentStatus tracks review and posting of generated content.
type CommentStatus string

// Generated comment status values.
const (
	CommentDraft    CommentStatus = "draft"
	CommentApproved CommentStatus = "approved"
	CommentQueued   CommentStatus = "queued"
	CommentPosted   CommentStatus = "posted"
)

// GeneratedComment holds the tiered replies and DM drafted for one thread.
type GeneratedComment struct {
	ID          string        `json:"id"`
	CampaignID  string        `json:"campaign_id"`
	ThreadID    string        `json:"thread_id"`
	RedditID    string        `json:"reddit_id"`
	Subreddit   string        `json:"subreddit"`
	Author      string        `json:"author"`
	Relevance   int           `json:"relevance"`
	Micro       string        `json:"micro_comment"`
	Medium      string        `json:"medium_comment"`
	Verbose     string        `json:"verbose_comment"`
	DMSubject   string        `json:"dm_subject"`
	DMBody      string        `json:"dm_body"`
	Status      CommentStatus `json:"status"`
	QueueItemID string        `json:"queue_item_id,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Tier picks one of the comment variants by name.
func (c GeneratedComment) Tier(name string) (string, bool) {
	switch name {
	case "micro":
		return c.Micro, true
	case "medium":
		return c.Medium, true
	case "verbose":
		return c.Verbose, true
	default:
		return "", false
	}
}

// StageName identifies one step of the lead-generation workflow.
type StageName string

// Workflow stages in execution order.
const (
	StageScrape   StageName = "scrape"
	StageKeywords StageName = "keywords"
	StageSearch   StageName = "search"
	StageFetch    StageName = "fetch"
	StageScore    StageName = "score"
	StageGenerate StageName = "generate"
	StagePersist  StageName = "persist"
)

// Stages lists every workflow stage in order.
var Stages = []StageName{
	StageScrape,
	StageKeywords,
	StageSearch,
	StageFetch,
	StageScore,
	StageGenerate,
	StagePersist,
}

// StageStatus is the state of an individual stage.
type StageStatus string

// Stage status values.
const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
	StageError      StageStatus = "error"
	StageSkipped    StageStatus = "skipped"
)

// RunStatus is the overall state of a workflow run.
type RunStatus string

// Run status values.
const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunError     RunStatus = "error"
	RunStopped   RunStatus = "stopped"
)

// Terminal reports whether no further transitions are expected.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunError, RunStopped:
		return true
	default:
		return false
	}
}

// StageProgress records one stage of a run.
type StageProgress struct {
	Name       StageName   `json:"name"`
	Status     StageStatus `json:"status"`
	Count      int         `json:"count"`
	Message    string      `json:"message,omitempty"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// WorkflowProgress is the progress record rendered by clients while a run executes.
type WorkflowProgress struct {
	RunID          string          `json:"run_id"`
	CampaignID     string          `json:"campaign_id"`
	OrganizationID string          `json:"organization_id"`
	Status         RunStatus       `json:"status"`
	CurrentStage   StageName       `json:"current_stage,omitempty"`
	Stages         []StageProgress `json:"stages"`
	Error          string          `json:"error,omitempty"`
	Limits         RunLimits       `json:"limits"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewWorkflowProgress builds a queued record with every stage pending.
func NewWorkflowProgress(runID, campaignID, orgID string, limits RunLimits, now time.Time) WorkflowProgress {
	stages := make([]StageProgress, len(Stages))
	for i, name := range Stages {
		stages[i] = StageProgress{Name: name, Status: StagePending}
	}
	return WorkflowProgress{
		RunID:          runID,
		CampaignID:     campaignID,
		OrganizationID: orgID,
		Status:         RunQueued,
		Stages:         stages,
		Limits:         limits,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Stage returns a pointer to the named stage entry, or nil.
func (p *WorkflowProgress) Stage(name StageName) *StageProgress {
	for i := range p.Stages {
		if p.Stages[i].Name == name {
			return &p.Stages[i]
		}
	}
	return nil
}

// RunLimits bounds how much work one run performs.
type RunLimits struct {
	MaxKeywords          int `json:"max_keywords"`
	MaxResultsPerKeyword int `json:"max_results_per_keyword"`
	MaxThreads           int `json:"max_threads"`
	ScoreThreshold       int `json:"score_threshold"`
	ScoreConcurrency     int `json:"score_concurrency"`
}

// RunRequest is placed on the RunQueue for workers.
type RunRequest struct {
	RunID          string
	CampaignID     string
	OrganizationID string
	Limits         RunLimits
	Submitted      time.Time
}

// AccountStatus toggles queue processing for an account.
type AccountStatus string

// Account status values.
const (
	AccountActive AccountStatus = "active"
	AccountPaused AccountStatus = "paused"
)

// PostingMode selects the spacing profile used by the schedule calculator.
type PostingMode string

// Posting modes.
const (
	ModeAggressive PostingMode = "aggressive"
	ModeSafe       PostingMode = "safe"
	ModeCustom     PostingMode = "custom"
)

// PostingSettings are the per-account knobs fed to the schedule calculator.
type PostingSettings struct {
	Mode            PostingMode `json:"mode" mapstructure:"mode"`
	IntervalMinutes int         `json:"interval_minutes,omitempty" mapstructure:"interval_minutes"`
	JitterMinutes   int         `json:"jitter_minutes,omitempty" mapstructure:"jitter_minutes"`
	ActiveStartHour int         `json:"active_start_hour" mapstructure:"active_start_hour"`
	ActiveEndHour   int         `json:"active_end_hour" mapstructure:"active_end_hour"`
	Timezone        string      `json:"timezone,omitempty" mapstructure:"timezone"`
}

// WarmupAccount is a Reddit account used for warm-up activity and lead posting.
type WarmupAccount struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	Username       string          `json:"username"`
	RefreshToken   string          `json:"-"`
	Settings       PostingSettings `json:"settings"`
	DailyCap       int             `json:"daily_cap"`
	Status         AccountStatus   `json:"status"`
	Karma          int             `json:"karma"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// WarmupPost is a warm-up submission authored for an account.
type WarmupPost struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	Subreddit   string    `json:"subreddit"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	QueueItemID string    `json:"queue_item_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// WarmupComment is a warm-up reply authored for an account.
type WarmupComment struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	Subreddit   string    `json:"subreddit"`
	ThreadID    string    `json:"thread_id"`
	Body        string    `json:"body"`
	QueueItemID string    `json:"queue_item_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// QueueKind is the kind of Reddit action a queue item performs.
type QueueKind string

// Queue item kinds.
const (
	KindPost    QueueKind = "post"
	KindComment QueueKind = "comment"
	KindDM      QueueKind = "dm"
)

// QueueStatus tracks a queue item's lifecycle.
type QueueStatus string

// Queue item statuses.
const (
	QueueQueued   QueueStatus = "queued"
	QueuePosting  QueueStatus = "posting"
	QueuePosted   QueueStatus = "posted"
	QueueFailed   QueueStatus = "failed"
	QueueCanceled QueueStatus = "canceled"
)

// Pending reports whether the item still waits to be posted.
func (s QueueStatus) Pending() bool {
	return s == QueueQueued
}

// QueueSource records what produced a queue item.
type QueueSource string

// Queue item sources.
const (
	SourceWarmup QueueSource = "warmup"
	SourceLead   QueueSource = "lead"
)

// UnifiedQueueItem is one scheduled Reddit action for an account.
type UnifiedQueueItem struct {
	ID             string      `json:"id"`
	AccountID      string      `json:"account_id"`
	OrganizationID string      `json:"organization_id"`
	Kind           QueueKind   `json:"kind"`
	Source         QueueSource `json:"source"`
	SourceID       string      `json:"source_id,omitempty"`
	Subreddit      string      `json:"subreddit,omitempty"`
	ThreadID       string      `json:"thread_id,omitempty"`
	Recipient      string      `json:"recipient,omitempty"`
	Title          string      `json:"title,omitempty"`
	Body           string      `json:"body"`
	ScheduledFor   time.Time   `json:"scheduled_for"`
	Status         QueueStatus `json:"status"`
	Attempts       int         `json:"attempts"`
	LastError      string      `json:"last_error,omitempty"`
	RedditID       string      `json:"reddit_id,omitempty"`
	PostedAt       *time.Time  `json:"posted_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// SubredditCooldown is the single record backing the per-(organization, subreddit) rate limiter.
type SubredditCooldown struct {
	OrganizationID string    `json:"organization_id"`
	Subreddit      string    `json:"subreddit"`
	LastPostedAt   time.Time `json:"last_posted_at"`
}

// Event topics published by the service.
const (
	TopicWorkflowCompleted = "workflow.completed"
	TopicWorkflowFailed    = "workflow.failed"
	TopicQueuePosted       = "queue.posted"
	TopicQueueFailed       = "queue.failed"
)

// Event is the payload published to a Publisher.
type Event struct {
	Type           string         `json:"type"`
	OrganizationID string         `json:"organization_id"`
	SubjectID      string         `json:"subject_id"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Data           map[string]any `json:"data,omitempty"`
}
