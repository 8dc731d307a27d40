package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/reddit-leadgen/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: filepath.Join(t.TempDir(), "snapshots")})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})
	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})
	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	t.Run("NestedPath", func(t *testing.T) {
		data := []byte(`{"title":"Acme"}`)
		uri, err := store.PutObject(context.Background(), "snapshots/camp/run.json", "application/json", data)
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(dir, "snapshots/camp/run.json"), uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(filepath.Join(dir, "snapshots/camp/run.json"))
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})
	t.Run("ExistingKept", func(t *testing.T) {
		first, err := store.PutObject(context.Background(), "snapshots/camp/abc.json", "application/json", []byte("one"))
		require.NoError(t, err)
		second, err := store.PutObject(context.Background(), "snapshots/camp/abc.json", "application/json", []byte("two"))
		require.NoError(t, err)
		assert.Equal(t, first, second)

		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(filepath.Join(dir, "snapshots/camp/abc.json"))
		require.NoError(t, err)
		assert.Equal(t, "one", string(got))
	})
	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), " ", "text/plain", []byte("data"))
		assert.Error(t, err)
	})
	t.Run("Traversal", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "../escape.txt", "text/plain", []byte("data"))
		assert.ErrorContains(t, err, "traversal")
	})
}
