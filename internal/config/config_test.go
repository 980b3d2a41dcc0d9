package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robot-rag/internal/models"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "pgdriver", cfg.Database.Driver)
	assert.Equal(t, models.DefaultWordsPerChunk, cfg.RAG.WordsPerChunk)
	assert.Equal(t, 3, cfg.RAG.TopK)
	assert.Equal(t, 10, cfg.RAG.HistoryTurns)
	assert.False(t, cfg.RAG.IncludeHistory)
	assert.Equal(t, models.DefaultApology, cfg.RAG.Apology)
	require.NotNil(t, cfg.ChatLLM.Temperature)
	assert.Equal(t, 0.3, *cfg.ChatLLM.Temperature)
	assert.Equal(t, 1024, cfg.ChatLLM.MaxTokens)
	assert.Equal(t, 1, cfg.EmbedLLM.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.EmbedLLM.Timeout())
	assert.Equal(t, "https://api.openai.com/v1", cfg.ChatLLM.BaseURL)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database:
  driver: sqlite
  dsn: "file::memory:"
embed_llm:
  provider: ollama
  model: nomic-embed-text
chat_llm:
  model: gpt-4o-mini
  temperature: 0.7
rag:
  words_per_chunk: 200
  include_history: true
crawler:
  branch_scoped_visits: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CHAT_API_KEY", "sk-chat")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "ollama", cfg.EmbedLLM.Provider)
	assert.Equal(t, "http://localhost:11434", cfg.EmbedLLM.BaseURL)
	assert.Equal(t, "sk-test", cfg.EmbedLLM.Key)
	assert.Equal(t, "sk-chat", cfg.ChatLLM.Key)
	assert.Equal(t, "gpt-4o-mini", cfg.ChatLLM.Model)
	require.NotNil(t, cfg.ChatLLM.Temperature)
	assert.Equal(t, 0.7, *cfg.ChatLLM.Temperature)
	assert.Equal(t, 200, cfg.RAG.WordsPerChunk)
	assert.True(t, cfg.RAG.IncludeHistory)
	assert.True(t, cfg.Crawler.BranchScopedVisits)
}

func TestLoadConfig_ZeroTemperatureIsKept(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chat_llm:\n  temperature: 0\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.ChatLLM.Temperature)
	assert.Equal(t, 0.0, *cfg.ChatLLM.Temperature)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rag: [unclosed"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
