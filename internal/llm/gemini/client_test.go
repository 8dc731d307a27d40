package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/reddit-leadgen/internal/retry"
)

const okBody = `{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"keywords\":[\"crm\"]}"}]},"finishReason":"STOP"}]}`

func TestComplete(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "models/test-model:generateContent"), r.URL.Path)
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		require.Contains(t, body, "systemInstruction")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c, err := New(context.Background(), Config{APIKey: "k", Model: "test-model", BaseURL: srv.URL}, nil, nil)
	require.NoError(t, err)
	out, err := c.Complete(context.Background(), "return json", "keywords please")
	require.NoError(t, err)
	require.Equal(t, `{"keywords":["crm"]}`, out)
}

func TestCompleteRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`))
			return
		}
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c, err := New(context.Background(), Config{APIKey: "k", Model: "test-model", BaseURL: srv.URL},
		retry.NewExponential(3, time.Millisecond, time.Millisecond), nil)
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), "", "hi")
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestNewRequiresKey(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), Config{}, nil, nil)
	require.Error(t, err)
}
