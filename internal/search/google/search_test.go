package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/reddit-leadgen/internal/retry"
)

func newProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := New(context.Background(), Config{APIKey: "key", EngineID: "cx", Endpoint: srv.URL + "/"},
		nil, retry.NewExponential(3, time.Millisecond, time.Millisecond), nil)
	require.NoError(t, err)
	return p
}

func TestSearchPages(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		q := r.URL.Query()
		require.Equal(t, "crm tools site:reddit.com", q.Get("q"))
		require.Equal(t, "cx", q.Get("cx"))
		start, _ := strconv.Atoi(q.Get("start"))
		num, _ := strconv.Atoi(q.Get("num"))
		items := make([]map[string]string, 0, num)
		for i := 0; i < num; i++ {
			n := start + i
			items = append(items, map[string]string{
				"title":   fmt.Sprintf("thread %d", n),
				"link":    fmt.Sprintf("https://www.reddit.com/r/crm/comments/t%d/x/", n),
				"snippet": "snippet",
			})
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"items": items}))
	})

	hits, err := p.Search(context.Background(), "crm tools", 15)
	require.NoError(t, err)
	require.Len(t, hits, 15)
	require.Equal(t, "thread 1", hits[0].Title)
	require.Equal(t, "https://www.reddit.com/r/crm/comments/t15/x/", hits[14].URL)
	require.Equal(t, int32(2), calls.Load())
}

func TestSearchStopsOnShortPage(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"title":"only","link":"https://www.reddit.com/r/a/comments/abc/x/"}]}`))
	})

	hits, err := p.Search(context.Background(), "crm", 30)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, int32(1), calls.Load())
}

func TestSearchClientErrorIsPermanent(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"quota"}}`))
	})

	_, err := p.Search(context.Background(), "crm", 5)
	require.Error(t, err)
	require.True(t, retry.IsPermanent(err))
	require.Equal(t, int32(1), calls.Load())
}

func TestSearchEmptyKeyword(t *testing.T) {
	t.Parallel()
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected request")
	})
	hits, err := p.Search(context.Background(), "  ", 5)
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), Config{APIKey: "k"}, nil, nil, nil)
	require.Error(t, err)
}
