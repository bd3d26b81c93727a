package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/rankfuse/pkg/version"
)

func TestVersionCmd_DefaultOutput(t *testing.T) {
	out, err := execute(t, "version")

	require.NoError(t, err)
	assert.Contains(t, out, "rankfuse")
	assert.Contains(t, out, version.Version)
	assert.Contains(t, out, "commit")
}

func TestVersionCmd_ShortOutput(t *testing.T) {
	out, err := execute(t, "version", "--short")

	require.NoError(t, err)
	assert.Equal(t, version.Version, strings.TrimSpace(out))
}

func TestVersionCmd_JSONOutput(t *testing.T) {
	// Given: the --json flag
	out, err := execute(t, "version", "--json")

	// Then: valid JSON with all build fields
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Version, info["version"])
	for _, key := range []string{"commit", "date", "go_version", "os", "arch"} {
		assert.Contains(t, info, key)
	}
}
