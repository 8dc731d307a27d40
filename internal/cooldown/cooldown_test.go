package cooldown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/reddit-leadgen/internal/clock/manual"
	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	"github.com/JakeFAU/reddit-leadgen/internal/storage/memory"
)

func TestLimiter_CheckAndRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clk := manual.New(now)
	l := New(memory.NewStore(), clk, 0)
	require.Equal(t, DefaultWindow, l.Window())

	d, err := l.Check(ctx, "org", "r/golang")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	require.NoError(t, l.Record(ctx, "org", "r/GoLang", now))

	clk.Advance(time.Hour)
	d, err = l.Check(ctx, "org", "golang")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, now.Add(24*time.Hour), d.RetryAt)

	// Other organizations and other subreddits are unaffected.
	d, err = l.Check(ctx, "other-org", "golang")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	d, err = l.Check(ctx, "org", "rust")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	clk.Set(now.Add(24 * time.Hour))
	d, err = l.Check(ctx, "org", "golang")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestLimiter_CustomWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clk := manual.New(now)
	l := New(memory.NewStore(), clk, 2*time.Hour)

	require.NoError(t, l.Record(ctx, "org", "golang", now))
	clk.Advance(119 * time.Minute)
	d, err := l.Check(ctx, "org", "golang")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	clk.Advance(time.Minute)
	d, err = l.Check(ctx, "org", "golang")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

type failingStore struct{}

func (failingStore) GetCooldown(context.Context, string, string) (leadgen.SubredditCooldown, error) {
	return leadgen.SubredditCooldown{}, errors.New("db down")
}

func (failingStore) PutCooldown(context.Context, leadgen.SubredditCooldown) error {
	return errors.New("db down")
}

func TestLimiter_StoreErrors(t *testing.T) {
	t.Parallel()

	l := New(failingStore{}, manual.New(time.Now()), time.Hour)
	_, err := l.Check(context.Background(), "org", "golang")
	require.Error(t, err)
	require.Error(t, l.Record(context.Background(), "org", "golang", time.Now()))

	// Empty subreddits (DMs) never touch the store.
	d, err := l.Check(context.Background(), "org", "")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestNormalizeSubreddit(t *testing.T) {
	t.Parallel()

	require.Equal(t, "golang", NormalizeSubreddit(" /r/GoLang/ "))
	require.Equal(t, "golang", NormalizeSubreddit("golang"))
	require.Equal(t, "", NormalizeSubreddit("  "))
}
