package memory

import (
	"sync"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
)

// Store keeps every leadgen entity in maps guarded by one lock. It satisfies
// all of the leadgen store ports and is safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	orgs      map[string]leadgen.Organization
	campaigns map[string]leadgen.Campaign
	results   map[string][]leadgen.SearchResult
	threads   map[string][]leadgen.RedditThread
	comments  map[string]leadgen.GeneratedComment
	progress  map[string]leadgen.WorkflowProgress
	accounts  map[string]leadgen.WarmupAccount
	posts     map[string]leadgen.WarmupPost
	replies   map[string]leadgen.WarmupComment
	queue     map[string]leadgen.UnifiedQueueItem
	cooldowns map[string]leadgen.SubredditCooldown
}

var (
	_ leadgen.OrgStore      = (*Store)(nil)
	_ leadgen.CampaignStore = (*Store)(nil)
	_ leadgen.ResultStore   = (*Store)(nil)
	_ leadgen.ProgressStore = (*Store)(nil)
	_ leadgen.AccountStore  = (*Store)(nil)
	_ leadgen.QueueStore    = (*Store)(nil)
	_ leadgen.CooldownStore = (*Store)(nil)
)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		orgs:      make(map[string]leadgen.Organization),
		campaigns: make(map[string]leadgen.Campaign),
		results:   make(map[string][]leadgen.SearchResult),
		threads:   make(map[string][]leadgen.RedditThread),
		comments:  make(map[string]leadgen.GeneratedComment),
		progress:  make(map[string]leadgen.WorkflowProgress),
		accounts:  make(map[string]leadgen.WarmupAccount),
		posts:     make(map[string]leadgen.WarmupPost),
		replies:   make(map[string]leadgen.WarmupComment),
		queue:     make(map[string]leadgen.UnifiedQueueItem),
		cooldowns: make(map[string]leadgen.SubredditCooldown),
	}
}
