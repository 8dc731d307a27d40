package leadgen

import (
	"context"
	"time"
)

// OrgStore persists organizations and their plan usage.
type OrgStore interface {
	GetOrganization(ctx context.Context, orgID string) (Organization, error)
	PutOrganization(ctx context.Context, org Organization) error
	// AddUsage increments ThreadsUsed for period, resetting the counter when the period rolled over.
	AddUsage(ctx context.Context, orgID string, period string, threads int) error
}

// CampaignStore persists campaigns.
type CampaignStore interface {
	CreateCampaign(ctx context.Context, c Campaign) error
	GetCampaign(ctx context.Context, orgID, campaignID string) (Campaign, error)
	ListCampaigns(ctx context.Context, orgID string) ([]Campaign, error)
	UpdateCampaign(ctx context.Context, c Campaign) error
	DeleteCampaign(ctx context.Context, orgID, campaignID string) error
}

// ResultStore persists the output of workflow runs.
type ResultStore interface {
	// ReplaceResults atomically swaps every search result, thread and comment of a campaign.
	ReplaceResults(
		ctx context.Context,
		campaignID string,
		results []SearchResult,
		threads []RedditThread,
		comments []GeneratedComment,
	) error
	ListSearchResults(ctx context.Context, campaignID string) ([]SearchResult, error)
	ListThreads(ctx context.Context, campaignID string) ([]RedditThread, error)
	ListComments(ctx context.Context, campaignID string) ([]GeneratedComment, error)
	GetComment(ctx context.Context, commentID string) (GeneratedComment, error)
	UpdateComment(ctx context.Context, c GeneratedComment) error
}

// ProgressStore persists workflow progress records.
type ProgressStore interface {
	PutProgress(ctx context.Context, p WorkflowProgress) error
	GetProgress(ctx context.Context, runID string) (WorkflowProgress, error)
}

// AccountStore persists Reddit accounts and their warm-up content.
type AccountStore interface {
	CreateAccount(ctx context.Context, a WarmupAccount) error
	GetAccount(ctx context.Context, accountID string) (WarmupAccount, error)
	ListAccounts(ctx context.Context, orgID string) ([]WarmupAccount, error)
	// ListLinkedAccounts returns every organization's account for a Reddit
	// username, compared case-insensitively.
	ListLinkedAccounts(ctx context.Context, username string) ([]WarmupAccount, error)
	UpdateAccount(ctx context.Context, a WarmupAccount) error
	DeleteAccount(ctx context.Context, accountID string) error
	CreateWarmupPost(ctx context.Context, p WarmupPost) error
	CreateWarmupComment(ctx context.Context, c WarmupComment) error
}

// QueueStore persists the unified posting queue.
type QueueStore interface {
	CreateItem(ctx context.Context, item UnifiedQueueItem) error
	GetItem(ctx context.Context, itemID string) (UnifiedQueueItem, error)
	UpdateItem(ctx context.Context, item UnifiedQueueItem) error
	// ListItems returns the account's items ordered by ScheduledFor; an empty status matches all.
	ListItems(ctx context.Context, accountID string, status QueueStatus) ([]UnifiedQueueItem, error)
	// ClaimDue moves up to limit queued items scheduled at or before now into QueuePosting and returns them.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]UnifiedQueueItem, error)
	// CountPosted counts the account's items posted at or after since.
	CountPosted(ctx context.Context, accountID string, since time.Time) (int, error)
}

// CooldownStore backs the per-(organization, subreddit) rate limiter with one record per pair.
type CooldownStore interface {
	GetCooldown(ctx context.Context, orgID, subreddit string) (SubredditCooldown, error)
	PutCooldown(ctx context.Context, c SubredditCooldown) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunQueue provides enqueue/dequeue semantics for workflow runs.
type RunQueue interface {
	Enqueue(ctx context.Context, req RunRequest) error
	Dequeue(ctx context.Context) (RunRequest, error)
}

// Website is the scraped content of a business site.
type Website struct {
	URL         string
	Title       string
	Description string
	Content     string
	Rendered    bool
}

// Scraper extracts readable content from a website.
type Scraper interface {
	Scrape(ctx context.Context, url string) (Website, error)
}

// SearchHit is a raw result from a SearchProvider.
type SearchHit struct {
	Title   string
	URL     string
	Snippet string
}

// SearchProvider finds Reddit discussions for a keyword.
type SearchProvider interface {
	Search(ctx context.Context, keyword string, limit int) ([]SearchHit, error)
}

// Submission is the Reddit-side result of a post, comment or message.
type Submission struct {
	ID  string
	URL string
}

// RedditClient is the subset of the Reddit API the service uses.
type RedditClient interface {
	FetchThread(ctx context.Context, threadID string, commentLimit int) (RedditThread, error)
	Comment(ctx context.Context, account WarmupAccount, threadID string, text string) (Submission, error)
	Submit(ctx context.Context, account WarmupAccount, subreddit, title, text string) (Submission, error)
	SendMessage(ctx context.Context, account WarmupAccount, to, subject, text string) (Submission, error)
}

// Completer sends a system+user prompt to an LLM and returns the text reply.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
