package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("hello")
	uri, err := store.PutObject(context.Background(), "snapshots/c1/abc.json", "application/json", payload)
	require.NoError(t, err)
	require.Equal(t, "memory://snapshots/c1/abc.json", uri)

	payload[0] = 'j'
	got, ct, ok := store.Object("snapshots/c1/abc.json")
	require.True(t, ok)
	require.Equal(t, "hello", string(got))
	require.Equal(t, "application/json", ct)

	_, err = store.PutObject(context.Background(), " ", "", nil)
	require.Error(t, err)
}

func TestBlobStoreWriteOnce(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.PutObject(context.Background(), "a.json", "application/json", []byte("one"))
	require.NoError(t, err)
	uri, err := store.PutObject(context.Background(), "a.json", "text/plain", []byte("two"))
	require.NoError(t, err)
	require.Equal(t, "memory://a.json", uri)

	got, ct, _ := store.Object("a.json")
	require.Equal(t, "one", string(got))
	require.Equal(t, "application/json", ct)
	require.Equal(t, 1, store.Len())
}
