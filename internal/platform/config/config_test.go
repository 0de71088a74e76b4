package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, StoreBackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "exact", cfg.Store.SearchMode)
	assert.Equal(t, 1024, cfg.OpenAI.EmbeddingDimension)
	assert.Equal(t, LLMProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, 30*time.Second, cfg.OpenAI.EmbedTimeout)
	assert.Equal(t, 0.7, cfg.Scoring.LLMWeight)
	assert.Equal(t, 0.3, cfg.Scoring.EmbeddingWeight)
	assert.Equal(t, 80.0, cfg.Scoring.ExcellentThreshold)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("LLM_PROVIDER", "gemini")
	t.Setenv("IMPORT_WORKERS", "8")
	t.Setenv("SCORE_TIMEOUT", "15")
	t.Setenv("EXTRACT_TIMEOUT", "2m")
	t.Setenv("SCORING_LLM_WEIGHT", "0.5")
	t.Setenv("SCORING_EMBEDDING_WEIGHT", "0.5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, StoreBackendMemory, cfg.Store.Backend)
	assert.Equal(t, LLMProviderGemini, cfg.LLM.Provider)
	assert.Equal(t, 8, cfg.Import.Workers)
	assert.Equal(t, 15*time.Second, cfg.LLM.ScoreTimeout)
	assert.Equal(t, 2*time.Minute, cfg.LLM.ExtractTimeout)
	assert.Equal(t, 0.5, cfg.Scoring.LLMWeight)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("DB_NAME=from_file\n"), 0o644))
	t.Setenv("DB_NAME", "")
	require.NoError(t, os.Unsetenv("DB_NAME"))

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, "from_file", cfg.Database.DBName)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoad_ScoringPolicyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm_weight: 0.6\nembedding_weight: 0.4\ngood_threshold: 65\n"), 0o644))
	t.Setenv("SCORING_POLICY_FILE", path)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 0.6, cfg.Scoring.LLMWeight)
	assert.Equal(t, 0.4, cfg.Scoring.EmbeddingWeight)
	assert.Equal(t, 65.0, cfg.Scoring.GoodThreshold)
	assert.Equal(t, 80.0, cfg.Scoring.ExcellentThreshold)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("SCORING_LLM_WEIGHT", "-1")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_BACKEND")
	assert.Contains(t, err.Error(), "scoring policy")
}
