package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NotEmpty(t, cfg.Vendors["claude"].Model)
	assert.Equal(t, "default", cfg.Resilience.BreakerPreset)
	assert.Positive(t, cfg.Jury.PoolSize)
	assert.Equal(t, ".agents/context", cfg.Gather.Subdirectory)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Resilience.MaxAttempts, cfg.Resilience.MaxAttempts)
}

func TestLoad_OverridesMergeOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verdict.yaml")
	content := `
vendors:
  claude:
    model: claude-opus-4-1
resilience:
  breaker_preset: sensitive
  max_attempts: 5
jury:
  judge_timeout: 90s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "claude-opus-4-1", cfg.Vendors["claude"].Model)
	assert.Equal(t, "sensitive", cfg.Resilience.BreakerPreset)
	assert.Equal(t, 5, cfg.Resilience.MaxAttempts)
	// Untouched defaults survive the merge.
	assert.Equal(t, time.Second, cfg.Resilience.InitialDelay.Std())
	assert.NotEmpty(t, cfg.Vendors["gemini"].Model)
	// Duration strings parse.
	assert.Equal(t, 90*time.Second, cfg.Jury.JudgeTimeout.Std())
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_CLAUDE_BIN", "/opt/claude/bin/claude")
	path := filepath.Join(t.TempDir(), "verdict.yaml")
	content := `
vendors:
  claude:
    executable: ${TEST_CLAUDE_BIN}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/claude/bin/claude", cfg.Vendors["claude"].Executable)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad preset", "resilience:\n  breaker_preset: reckless\n"},
		{"broken yaml", "vendors: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "verdict.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	assert.Equal(t, "value: bar", string(ExpandEnv([]byte("value: ${FOO}"))))
	assert.Equal(t, "value: ", string(ExpandEnv([]byte("value: ${MISSING_VAR_XYZ}"))))
}

func TestConfig_Vendor(t *testing.T) {
	cfg := Default()
	assert.NotEmpty(t, cfg.Vendor("claude").Model)
	assert.Empty(t, cfg.Vendor("nope").Model)
}
