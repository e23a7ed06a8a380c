package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SEARCH_MAX_RESULTS", "")
	t.Setenv("DOCUMENT_CHAR_LIMIT", "")
	t.Setenv("LLM_PROVIDER", "")

	cfg := Load()
	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, 3, cfg.SearchMaxResults)
	assert.Equal(t, 5, cfg.DeepMaxResults)
	assert.Equal(t, 20000, cfg.DocumentCharLimit)
	assert.Equal(t, 5, cfg.TablePreviewRows)
	assert.True(t, cfg.AnalysisEnabled)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SEARCH_PROVIDER", "duckduckgo")
	t.Setenv("SEARCH_MAX_RESULTS", "4")
	t.Setenv("DEEP_MAX_RESULTS", "not-a-number")
	t.Setenv("ANALYSIS_ENABLED", "false")
	t.Setenv("SESSION_TTL", "15m")

	cfg := Load()
	assert.Equal(t, "duckduckgo", cfg.SearchProvider)
	assert.Equal(t, 4, cfg.SearchMaxResults)
	assert.Equal(t, 5, cfg.DeepMaxResults, "invalid ints fall back to the default")
	assert.False(t, cfg.AnalysisEnabled)
	assert.Equal(t, 15*time.Minute, cfg.SessionTTL)
}

func TestLoadFileOverlay(t *testing.T) {
	t.Setenv("CHAT_MODEL", "from-env")
	t.Setenv("TAVILY_API_KEY", "env-key")

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
chat_model: from-file
document_char_limit: 30000
analysis_enabled: false
analysis_timeout: 3s
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.ChatModel)
	assert.Equal(t, "env-key", cfg.TavilyApiKey, "unset file fields keep env values")
	assert.Equal(t, 30000, cfg.DocumentCharLimit)
	assert.False(t, cfg.AnalysisEnabled)
	assert.Equal(t, 3*time.Second, cfg.AnalysisTimeout)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chat_model: [unterminated"), 0o644))
	_, err = LoadFile(path)
	require.Error(t, err)
}
