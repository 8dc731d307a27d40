package reddit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	"github.com/JakeFAU/reddit-leadgen/internal/policy/ratelimit"
	"github.com/JakeFAU/reddit-leadgen/internal/retry"
)

const threadJSON = `[
 {"kind":"Listing","data":{"children":[{"kind":"t3","data":{
   "id":"abc123","subreddit":"smallbusiness","title":"Which CRM?","selftext":"Need help",
   "author":"asker","permalink":"/r/smallbusiness/comments/abc123/which_crm/",
   "score":42,"num_comments":3,"created_utc":1715342400}}]}},
 {"kind":"Listing","data":{"children":[
   {"kind":"t1","data":{"id":"c1","author":"a","body":"Try Acme","score":10}},
   {"kind":"t1","data":{"id":"c2","author":"b","body":"[deleted]","score":1}},
   {"kind":"more","data":{"id":"m"}}]}}
]`

type server struct {
	*httptest.Server
	tokens   atomic.Int32
	lastAuth atomic.Value
	lastUA   atomic.Value
	lastForm atomic.Value
	status   atomic.Int32
}

func newServer(t *testing.T) *server {
	t.Helper()
	s := &server{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		s.tokens.Add(1)
		w.Header().Set("Content-Type", "application/json")
		tok := "app-token"
		if r.Form.Get("grant_type") == "refresh_token" {
			tok = "user-" + r.Form.Get("refresh_token")
		}
		_, _ = w.Write([]byte(`{"access_token":"` + tok + `","token_type":"bearer","expires_in":3600}`))
	})
	record := func(r *http.Request) {
		s.lastAuth.Store(r.Header.Get("Authorization"))
		s.lastUA.Store(r.Header.Get("User-Agent"))
	}
	mux.HandleFunc("/comments/abc123", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if code := s.status.Load(); code != 0 {
			s.status.Store(0)
			w.WriteHeader(int(code))
			return
		}
		_, _ = w.Write([]byte(threadJSON))
	})
	mux.HandleFunc("/comments/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		require.Equal(t, "crm software", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(`{"kind":"Listing","data":{"children":[
			{"kind":"t3","data":{"id":"abc123","title":"Which CRM?","selftext":"Need help","permalink":"/r/smallbusiness/comments/abc123/which_crm/"}},
			{"kind":"t5","data":{"id":"sub"}}]}}`))
	})
	mux.HandleFunc("/api/comment", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		require.NoError(t, r.ParseForm())
		s.lastForm.Store(r.PostForm.Encode())
		_, _ = w.Write([]byte(`{"json":{"errors":[],"data":{"things":[{"data":{"id":"c9","name":"t1_c9","permalink":"/r/x/comments/abc123/_/c9/"}}]}}}`))
	})
	mux.HandleFunc("/api/submit", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_, _ = w.Write([]byte(`{"json":{"errors":[["SUBREDDIT_NOTALLOWED","not allowed","sr"]]}}`))
	})
	mux.HandleFunc("/api/compose", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		require.NoError(t, r.ParseForm())
		s.lastForm.Store(r.PostForm.Encode())
		_, _ = w.Write([]byte(`{"json":{"errors":[]}}`))
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func newClient(t *testing.T, s *server, username string) *Client {
	t.Helper()
	c, err := New(Config{
		ClientID:     "id",
		ClientSecret: "secret",
		Username:     username,
		Password:     "pw",
		UserAgent:    "leadgen-test/1.0",
		BaseURL:      s.URL,
		TokenURL:     s.URL + "/api/v1/access_token",
	}, ratelimit.New(ratelimit.Config{}), retry.NewExponential(3, time.Millisecond, time.Millisecond), nil)
	require.NoError(t, err)
	return c
}

func TestFetchThread(t *testing.T) {
	t.Parallel()
	s := newServer(t)
	c := newClient(t, s, "bot")

	th, err := c.FetchThread(context.Background(), "t3_abc123", 5)
	require.NoError(t, err)
	require.Equal(t, "abc123", th.RedditID)
	require.Equal(t, "smallbusiness", th.Subreddit)
	require.Equal(t, "asker", th.Author)
	require.Equal(t, 42, th.Score)
	require.Equal(t, "https://www.reddit.com/r/smallbusiness/comments/abc123/which_crm/", th.URL)
	require.Equal(t, time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC), th.PostedAt)
	require.Len(t, th.Comments, 1)
	require.Equal(t, "Try Acme", th.Comments[0].Body)
	require.Equal(t, "Bearer app-token", s.lastAuth.Load())
	require.Equal(t, "leadgen-test/1.0", s.lastUA.Load())

	// The token is reused across calls.
	_, err = c.FetchThread(context.Background(), "abc123", 5)
	require.NoError(t, err)
	require.Equal(t, int32(1), s.tokens.Load())
}

func TestFetchThreadRetriesServerError(t *testing.T) {
	t.Parallel()
	s := newServer(t)
	s.status.Store(http.StatusBadGateway)
	c := newClient(t, s, "")

	th, err := c.FetchThread(context.Background(), "abc123", 5)
	require.NoError(t, err)
	require.Equal(t, "abc123", th.RedditID)
}

func TestFetchThreadNotFound(t *testing.T) {
	t.Parallel()
	s := newServer(t)
	c := newClient(t, s, "")

	_, err := c.FetchThread(context.Background(), "gone", 5)
	require.ErrorIs(t, err, leadgen.ErrNotFound)
	require.True(t, retry.IsPermanent(err))
}

func TestSearch(t *testing.T) {
	t.Parallel()
	s := newServer(t)
	c := newClient(t, s, "")

	hits, err := c.Search(context.Background(), "crm software", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "https://www.reddit.com/r/smallbusiness/comments/abc123/which_crm/", hits[0].URL)
	ref, ok := leadgen.ParseThreadURL(hits[0].URL)
	require.True(t, ok)
	require.Equal(t, "abc123", ref.ID)
}

func TestCommentUsesAccountToken(t *testing.T) {
	t.Parallel()
	s := newServer(t)
	c := newClient(t, s, "")
	account := leadgen.WarmupAccount{ID: "acc", Username: "poster", RefreshToken: "rt1"}

	sub, err := c.Comment(context.Background(), account, "abc123", "hello there")
	require.NoError(t, err)
	require.Equal(t, "t1_c9", sub.ID)
	require.Equal(t, "https://www.reddit.com/r/x/comments/abc123/_/c9/", sub.URL)
	require.Equal(t, "Bearer user-rt1", s.lastAuth.Load())
	require.Contains(t, s.lastForm.Load(), "thing_id=t3_abc123")

	_, err = c.Comment(context.Background(), leadgen.WarmupAccount{ID: "x"}, "abc123", "hi")
	require.True(t, retry.IsPermanent(err))
}

func TestSubmitRejected(t *testing.T) {
	t.Parallel()
	s := newServer(t)
	c := newClient(t, s, "")

	_, err := c.Submit(context.Background(), leadgen.WarmupAccount{ID: "acc", RefreshToken: "rt"}, "startups", "t", "b")
	require.ErrorContains(t, err, "SUBREDDIT_NOTALLOWED")
	require.True(t, retry.IsPermanent(err))
}

func TestSendMessage(t *testing.T) {
	t.Parallel()
	s := newServer(t)
	c := newClient(t, s, "")

	_, err := c.SendMessage(context.Background(), leadgen.WarmupAccount{ID: "acc", RefreshToken: "rt"}, "lead", "", "hi")
	require.NoError(t, err)
	require.Contains(t, s.lastForm.Load(), "subject=Hello")
	require.Contains(t, s.lastForm.Load(), "to=lead")
}

func TestEnvelopeErrorRateLimitIsRetryable(t *testing.T) {
	t.Parallel()
	var env jsonEnvelope
	env.JSON.Errors = [][]any{{"RATELIMIT", "you are doing that too much", "ratelimit"}}
	err := envelopeError(env)
	require.Error(t, err)
	require.False(t, retry.IsPermanent(err))
}

func TestNewValidates(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, nil, nil, nil)
	require.Error(t, err)
	_, err = New(Config{ClientID: "a", ClientSecret: "b"}, nil, nil, nil)
	require.Error(t, err)
}
