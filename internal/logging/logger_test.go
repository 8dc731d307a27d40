package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewTagsService(t *testing.T) {
	t.Parallel()

	for _, dev := range []bool{true, false} {
		core, logs := observer.New(zapcore.DebugLevel)
		logger, err := New(dev, zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))
		require.NoError(t, err)
		logger.Info("ready", zap.Bool("development", dev))

		entries := logs.All()
		require.Len(t, entries, 1)
		require.Equal(t, ServiceName, entries[0].ContextMap()["service"])
		require.Equal(t, dev, entries[0].ContextMap()["development"])
	}
}

func TestNewLevels(t *testing.T) {
	t.Parallel()

	dev, err := New(true)
	require.NoError(t, err)
	require.True(t, dev.Core().Enabled(zapcore.DebugLevel))

	prod, err := New(false)
	require.NoError(t, err)
	require.False(t, prod.Core().Enabled(zapcore.DebugLevel))
	require.True(t, prod.Core().Enabled(zapcore.InfoLevel))
}

func TestRedact(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                 "",
		"abc":              "****",
		"sk-live-123456":   "****3456",
		"  padded-key99  ": "****ey99",
	}
	for in, want := range cases {
		require.Equal(t, want, Redact("k", in).String, "input %q", in)
	}
}
