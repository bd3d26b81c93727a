package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_ShowsHelp(t *testing.T) {
	out, err := execute(t, "--help")

	require.NoError(t, err)
	assert.Contains(t, out, "rankfuse")
	assert.Contains(t, out, "Usage:")
}

func TestRootCmd_ShowsVersion(t *testing.T) {
	out, err := execute(t, "--version")

	require.NoError(t, err)
	assert.Contains(t, out, "rankfuse version")
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	// Given: the root command
	root := NewRootCmd()

	// When: listing subcommands
	var names []string
	for _, sub := range root.Commands() {
		names = append(names, sub.Name())
	}

	// Then: every stage of the workflow is reachable
	for _, want := range []string{"index", "run", "eval", "inspect", "compare", "history", "config", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCmd_PersistentFlags(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"debug", "profile-cpu", "profile-mem", "profile-trace"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(name), name)
	}
}

func TestRootCmd_ProfilesWritten(t *testing.T) {
	// Given: CPU and heap profile paths
	isolate(t)
	dir := t.TempDir()
	cpu := filepath.Join(dir, "cpu.prof")
	heap := filepath.Join(dir, "heap.prof")
	t.Cleanup(func() { profileCPU, profileMem, profileTrace = "", "", "" })

	// When: running any subcommand with profiling
	_, err := execute(t, "--profile-cpu", cpu, "--profile-mem", heap, "version", "--short")

	// Then: both profiles exist
	require.NoError(t, err)
	for _, p := range []string{cpu, heap} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}
