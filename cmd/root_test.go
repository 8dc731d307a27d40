package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestScheduleCommand(t *testing.T) {
	out, err := runCmd(t, "schedule", "--mode", "aggressive", "--count", "3", "--anchor", "2024-05-01T12:00:00Z")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "1\t2024-05-01T12:"))
}

func TestScheduleCommandRejectsBadInput(t *testing.T) {
	_, err := runCmd(t, "schedule", "--mode", "turbo")
	require.Error(t, err)

	_, err = runCmd(t, "schedule", "--count", "0")
	require.ErrorContains(t, err, "--count")

	_, err = runCmd(t, "schedule", "--anchor", "yesterday")
	require.ErrorContains(t, err, "--anchor")
}

func TestMigrateRequiresPostgres(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LEADGEN_STORE_BACKEND", "memory")
	_, err := runCmd(t, "migrate")
	require.ErrorContains(t, err, "store.backend=postgres")
}

func TestRootRegistersCommands(t *testing.T) {
	root := newRootCmd()
	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.Subset(t, names, []string{"serve", "migrate", "schedule"})
}
