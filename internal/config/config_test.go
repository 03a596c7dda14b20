package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	// Run from a directory with no config.yaml.
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
	assert.Equal(t, "gpt-4o", cfg.Models.Vision.Model)
	assert.Equal(t, "gpt-4o-mini", cfg.Models.Quick.Model)
	assert.Equal(t, "gpt-4o", cfg.Models.Deep.Model)
	assert.Equal(t, 3, cfg.Tutoring.MaxRepliesPerStep)
	assert.Equal(t, 3, cfg.Tutoring.MinSteps)
	assert.Equal(t, 7, cfg.Tutoring.MaxSteps)
	assert.Equal(t, 100, cfg.Events.PendingBufferCap)
	assert.Equal(t, 2*time.Hour, cfg.Sessions.MaxAge)
	assert.NotEmpty(t, cfg.Tutoring.EscapePhrases)
	assert.NotEmpty(t, cfg.Tutoring.FeedbackPhrases)
}

func TestLoadYAMLFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
models:
  deep:
    model: my-deep-model
    api_key: test-key
tutoring:
  max_replies_per_step: 5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "my-deep-model", cfg.Models.Deep.Model)
	assert.Equal(t, "test-key", cfg.Models.Deep.APIKey)
	assert.Equal(t, 5, cfg.Tutoring.MaxRepliesPerStep)
	// Untouched sections keep their defaults.
	assert.Equal(t, "gpt-4o", cfg.Models.Vision.Model)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Skip("defaults unavailable in this environment")
	}

	bad := *cfg
	bad.Server.Port = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Tutoring.MinSteps = 5
	bad.Tutoring.MaxSteps = 3
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Events.PendingBufferCap = 0
	assert.Error(t, bad.Validate())
}

func TestForRole(t *testing.T) {
	models := ModelsConfig{
		Vision: ModelConfig{Model: "v"},
		Quick:  ModelConfig{Model: "q"},
		Deep:   ModelConfig{Model: "d"},
	}
	assert.Equal(t, "v", models.ForRole(RoleVision).Model)
	assert.Equal(t, "q", models.ForRole(RoleQuick).Model)
	assert.Equal(t, "d", models.ForRole(RoleDeep).Model)
}
