package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fastPolicy struct {
	max int
}

func (p fastPolicy) ShouldRetry(err error, attempt int) bool {
	return NewExponential(p.max, time.Millisecond, time.Millisecond).ShouldRetry(err, attempt)
}

func (fastPolicy) Backoff(int) time.Duration { return time.Millisecond }

func TestDo_SucceedsAfterTransientErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), fastPolicy{max: 3}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), fastPolicy{max: 3}, func(context.Context) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	t.Parallel()

	calls := 0
	bad := errors.New("bad request")
	err := Do(context.Background(), fastPolicy{max: 5}, func(context.Context) error {
		calls++
		return Permanent(bad)
	})
	require.ErrorIs(t, err, bad)
	require.Equal(t, 1, calls)
	require.True(t, IsPermanent(fmt.Errorf("wrapped: %w", err)))
	require.False(t, IsPermanent(bad))
}

func TestDo_NeverRetriesCancellation(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), fastPolicy{max: 5}, func(context.Context) error {
		calls++
		return context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestDo_ContextDoneDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	policy := NewExponential(5, time.Hour, time.Hour)
	err := Do(ctx, policy, func(context.Context) error {
		cancel()
		return errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDoValue(t *testing.T) {
	t.Parallel()

	calls := 0
	v, err := DoValue(context.Background(), fastPolicy{max: 2}, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestExponentialPolicy_Backoff(t *testing.T) {
	t.Parallel()

	p := NewExponentialPolicy()
	for attempt := 0; attempt < 10; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 5*time.Second)
	}
	d := p.Backoff(1)
	require.GreaterOrEqual(t, d, 250*time.Millisecond)
	require.LessOrEqual(t, d, 500*time.Millisecond)
	require.Equal(t, 3, p.MaxAttempts())
}
