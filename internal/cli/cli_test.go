package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonforge/pkg/config"
	"lessonforge/pkg/version"
)

// writeConfig writes a config whose database lives in a temp dir.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := map[string]any{
		"database": map[string]any{"path": filepath.Join(dir, "lessonforge.db")},
		"storage":  map[string]any{"enabled": true, "blob_dir": filepath.Join(dir, "blobs")},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "lessonforge.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootListsCommands(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"generate", "serve", "worker", "jobs", "stats", "secrets"} {
		assert.Contains(t, out, name)
	}

	out, err = execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, version.String())
}

func TestGenerateValidatesArguments(t *testing.T) {
	_, err := execute(t, "generate")
	assert.Error(t, err)

	_, err = execute(t, "generate", "Circles", "--max-scenes", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--max-scenes")

	_, err = execute(t, "generate", "Circles", "--only-plan", "--only-combine")
	assert.Error(t, err)
}

func TestJobsSubmitListShow(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "--config", cfg, "jobs", "submit", "Pythagorean", "theorem", "--max-scenes", "3")
	require.NoError(t, err)
	fields := strings.Fields(out)
	require.Len(t, fields, 2)
	id := fields[1]

	out, err = execute(t, "--config", cfg, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "Pythagorean theorem")
	assert.Contains(t, out, "queued")

	out, err = execute(t, "--config", cfg, "jobs", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Pythagorean theorem")
	assert.Contains(t, out, "3")

	_, err = execute(t, "--config", cfg, "jobs", "show", "missing")
	assert.Error(t, err)
}

func TestStatsWithoutJob(t *testing.T) {
	cfg := writeConfig(t)
	out, err := execute(t, "--config", cfg, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Fix memory")
	assert.Contains(t, out, "error fixes")
}

func TestSecretsRoundTrip(t *testing.T) {
	cfg := writeConfig(t)
	t.Setenv(config.PasswordEnv, "correct horse battery staple")

	out, err := execute(t, "--config", cfg, "secrets", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no secrets file")

	_, err = execute(t, "--config", cfg, "secrets", "set", "GEMINI_API_KEY=g-123", "TAVILY_API_KEY=t-456")
	require.NoError(t, err)
	_, err = execute(t, "--config", cfg, "secrets", "set", "TAVILY_API_KEY=")
	require.NoError(t, err)

	out, err = execute(t, "--config", cfg, "secrets", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "GEMINI_API_KEY")
	assert.NotContains(t, out, "TAVILY_API_KEY")
	assert.NotContains(t, out, "g-123")

	_, err = execute(t, "--config", cfg, "secrets", "set", "novalue")
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "a b", truncate("a\n  b", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
