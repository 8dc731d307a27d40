package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/reddit-leadgen/internal/config"
	"github.com/JakeFAU/reddit-leadgen/internal/policy/ratelimit"
	"github.com/JakeFAU/reddit-leadgen/internal/reddit"
	"github.com/JakeFAU/reddit-leadgen/internal/retry"
	"github.com/JakeFAU/reddit-leadgen/internal/scrape"
	"github.com/JakeFAU/reddit-leadgen/internal/scrape/firecrawl"
	"github.com/JakeFAU/reddit-leadgen/internal/search/google"
	localstorage "github.com/JakeFAU/reddit-leadgen/internal/storage/local"
	memorystorage "github.com/JakeFAU/reddit-leadgen/internal/storage/memory"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Reddit.ClientID = "client"
	cfg.Reddit.ClientSecret = "secret"
	cfg.LLM.APIKey = "sk-test"
	return cfg
}

func TestBuildMemoryStack(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "k"

	app, err := build(context.Background(), cfg, zap.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	assert.IsType(t, &memorystorage.Store{}, app.store)
	assert.NotNil(t, app.memQueue)
	assert.Nil(t, app.pubsubQueue)
	assert.Nil(t, app.pg)
	assert.Nil(t, app.renderer)

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/orgs/acme/campaigns")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/orgs/acme/campaigns", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "k")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBuildMissingRedditCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.Reddit.ClientID = ""

	app, err := build(context.Background(), cfg, zap.NewNop(), prometheus.NewRegistry())
	require.ErrorContains(t, err, "reddit client init failed")
	require.NotNil(t, app)
	require.NoError(t, app.Close(context.Background()))
}

func TestSetupBlobStoreLocal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Blob.Backend = config.BackendLocal
	cfg.Blob.BaseDir = filepath.Join(t.TempDir(), "snapshots")

	app := &App{cfg: cfg, logger: zap.NewNop()}
	blobs, err := app.setupBlobStore(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &localstorage.BlobStore{}, blobs)
}

func TestSetupScraperAndSearch(t *testing.T) {
	cfg := testConfig(t)
	app := &App{cfg: cfg, logger: zap.NewNop()}
	limiter := ratelimit.New(ratelimit.Config{})
	policy := retry.NewExponentialPolicy()

	s, err := app.setupScraper(limiter, policy)
	require.NoError(t, err)
	assert.IsType(t, &scrape.Scraper{}, s)

	app.cfg.Scraper.Provider = config.ProviderFirecrawl
	app.cfg.Scraper.FirecrawlAPIKey = "fc"
	s, err = app.setupScraper(limiter, policy)
	require.NoError(t, err)
	assert.IsType(t, &firecrawl.Client{}, s)

	rc, err := reddit.New(reddit.Config{ClientID: "a", ClientSecret: "b", UserAgent: "ua"}, limiter, policy, nil)
	require.NoError(t, err)
	search, err := app.setupSearch(context.Background(), rc, limiter, policy)
	require.NoError(t, err)
	assert.Same(t, rc, search)

	app.cfg.Search.Provider = config.ProviderGoogle
	app.cfg.Search.GoogleAPIKey = "g"
	app.cfg.Search.GoogleEngineID = "cx"
	search, err = app.setupSearch(context.Background(), rc, limiter, policy)
	require.NoError(t, err)
	assert.IsType(t, &google.Provider{}, search)
}

func TestRedditHosts(t *testing.T) {
	assert.Nil(t, redditHosts(config.RedditConfig{}))

	hosts := redditHosts(config.RedditConfig{RPS: 1, Burst: 2, BaseURL: "http://localhost:9999"})
	assert.Len(t, hosts, 3)
	assert.Equal(t, ratelimit.Rule{RPS: 1, Burst: 2}, hosts["http://localhost:9999"])
}
