package postqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
)

func TestProcessorTick(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, leadgen.WarmupAccount{})
	item, err := f.svc.EnqueueComment(ctx, "org", a.ID, "t1", "one", "a")
	require.NoError(t, err)
	f.clock.Set(item.ScheduledFor)

	p := NewProcessor(f.svc, "", 0, nil)
	require.Equal(t, DefaultSpec, p.spec)
	p.Tick()
	require.Equal(t, leadgen.QueuePosted, f.item(t, item.ID).Status)
}

func TestProcessorTickSkipsWhenBusy(t *testing.T) {
	f := newFixture(t)
	p := NewProcessor(f.svc, "", 0, nil)
	p.busy.Store(true)
	p.Tick()
	require.True(t, p.busy.Load())
}

func TestProcessorStartStop(t *testing.T) {
	f := newFixture(t)
	p := NewProcessor(f.svc, "@every 1h", time.Second, nil)
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Stop(ctx))

	bad := NewProcessor(f.svc, "not a spec", time.Second, nil)
	require.Error(t, bad.Start(ctx))
	require.NoError(t, bad.Stop(ctx))
}
