package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)

	assert.False(t, cfg.Learning.GlobalEnabled)
	assert.Equal(t, SensitivityConservative, cfg.Learning.Sensitivity)
	assert.InDelta(t, 0.7, cfg.Learning.MinConfidence(), 1e-9)
	assert.Equal(t, 3, cfg.Learning.MaxProposalsPerSession)
	assert.Equal(t, 7, cfg.Learning.CooldownDays)
	assert.Equal(t, 24, cfg.Learning.WarmupHours)
	assert.Equal(t, 5, cfg.Learning.CommitsPerTrigger)
	assert.Equal(t, "vexor", cfg.Retrieval.CodeBinary)
	assert.Equal(t, 3, cfg.Orchestration.MaxReviewIterations)
	assert.Equal(t, 4, cfg.Orchestration.StaleBusyHours)
}

func TestParseTypedSections(t *testing.T) {
	data := []byte(`{
		"learning": {"global_enabled": true, "sensitivity": "aggressive", "cooldown_days": 14},
		"retrieval": {"code_enabled": true, "code_binary": "/usr/local/bin/vexor"},
		"orchestration": {"max_review_iterations": 5}
	}`)
	cfg, err := Parse(data, FileName)
	require.NoError(t, err)

	assert.True(t, cfg.Learning.GlobalEnabled)
	assert.InDelta(t, 0.3, cfg.Learning.MinConfidence(), 1e-9)
	assert.Equal(t, 14, cfg.Learning.CooldownDays)
	assert.Equal(t, "/usr/local/bin/vexor", cfg.Retrieval.CodeBinary)
	assert.Equal(t, 5, cfg.Orchestration.MaxReviewIterations)
	// Untouched sections still get defaults.
	assert.Equal(t, 4, cfg.Orchestration.StaleBusyHours)
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse([]byte(`{"learning": `), FileName)
	require.Error(t, err)

	_, err = Parse([]byte(`{"learning": "not-an-object"}`), FileName)
	require.Error(t, err)
}

func TestSavePreservesUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	seed := []byte(`{
		"learning": {"global_enabled": false},
		"hooks": {"pre_tool_use": "scripts/redirect.py"},
		"terminal": {"max_sessions": 5}
	}`)
	require.NoError(t, os.WriteFile(path, seed, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	cfg.Learning.GlobalEnabled = true
	require.NoError(t, cfg.Save(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))

	assert.Contains(t, doc, "hooks")
	assert.Contains(t, doc, "terminal")

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, reloaded.Learning.GlobalEnabled)
}

func TestEnvOverridesLearningEnabled(t *testing.T) {
	t.Setenv("AI_FRAMEWORK_LEARNING_ENABLED", "true")
	cfg, err := Parse([]byte(`{"learning": {"global_enabled": false}}`), FileName)
	require.NoError(t, err)
	assert.True(t, cfg.Learning.GlobalEnabled)

	t.Setenv("AI_FRAMEWORK_LEARNING_ENABLED", "false")
	cfg, err = Parse([]byte(`{"learning": {"global_enabled": true}}`), FileName)
	require.NoError(t, err)
	assert.False(t, cfg.Learning.GlobalEnabled)
}

func TestNormalizeSensitivity(t *testing.T) {
	assert.Equal(t, SensitivityModerate, NormalizeSensitivity(" Moderate "))
	assert.Equal(t, Sensitivity(""), NormalizeSensitivity("bogus"))
}

func TestDataDirEnvOverride(t *testing.T) {
	t.Setenv("AI_FRAMEWORK_DATA_DIR", "/tmp/stratus-data")
	assert.Equal(t, "/tmp/stratus-data", DataDir())
}
