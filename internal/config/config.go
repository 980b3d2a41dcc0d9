package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"robot-rag/internal/models"
)

type Config struct {
	LogLevel string         `yaml:"log_level"`
	Database DatabaseConfig `yaml:"database"`
	EmbedLLM LLMConfig      `yaml:"embed_llm"`
	ChatLLM  LLMConfig      `yaml:"chat_llm"`
	RAG      RAGConfig      `yaml:"rag"`
	Crawler  CrawlerConfig  `yaml:"crawler"`
}

// DatabaseConfig selects the relational store. Driver is one of
// "pgdriver" (default), "pq" or "sqlite".
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

// LLMConfig configures an OpenAI-compatible (or Ollama) endpoint.
type LLMConfig struct {
	Provider      string  `yaml:"provider"`
	BaseURL       string  `yaml:"base_url"`
	Key           string  `yaml:"key"`
	Model         string   `yaml:"model"`
	Temperature   *float64 `yaml:"temperature"` // nil means unset; 0 is a valid setting
	MaxTokens     int      `yaml:"max_tokens"`
	TimeoutSecs   int      `yaml:"timeout_secs"`
	MaxAttempts   int      `yaml:"max_attempts"`
	BackoffMillis int      `yaml:"backoff_millis"`
	Workers       int      `yaml:"workers"`
}

type RAGConfig struct {
	WordsPerChunk  int    `yaml:"words_per_chunk"`
	TopK           int    `yaml:"top_k"`
	HistoryTurns   int    `yaml:"history_turns"`
	IncludeHistory bool   `yaml:"include_history"`
	Apology        string `yaml:"apology"`
}

type CrawlerConfig struct {
	TimeoutSecs        int     `yaml:"timeout_secs"`
	MaxBodyBytes       int64   `yaml:"max_body_bytes"`
	RequestsPerSecond  float64 `yaml:"requests_per_second"`
	Burst              int     `yaml:"burst"`
	UserAgent          string  `yaml:"user_agent"`
	BranchScopedVisits bool    `yaml:"branch_scoped_visits"`
	FetchWorkers       int     `yaml:"fetch_workers"`
}

// Timeout returns the per-call timeout of the endpoint.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Backoff returns the base delay between retries.
func (c LLMConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMillis) * time.Millisecond
}

func (c CrawlerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// LoadConfig reads the yaml file at path, applies .env and environment
// overrides and fills defaults. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(&cfg)
	ApplyDefaults(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Database.DSN, "DATABASE_DSN")
	setString(&cfg.Database.Password, "DATABASE_PASSWORD")
	setString(&cfg.Database.Driver, "DATABASE_DRIVER")
	setString(&cfg.EmbedLLM.Key, "OPENAI_API_KEY")
	setString(&cfg.ChatLLM.Key, "OPENAI_API_KEY")
	setString(&cfg.EmbedLLM.Key, "EMBED_API_KEY")
	setString(&cfg.ChatLLM.Key, "CHAT_API_KEY")
	setString(&cfg.EmbedLLM.BaseURL, "EMBED_BASE_URL")
	setString(&cfg.ChatLLM.BaseURL, "CHAT_BASE_URL")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	if v, err := strconv.ParseBool(os.Getenv("DATABASE_DEBUG")); err == nil {
		cfg.Database.Debug = v
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// ApplyDefaults fills every zero setting with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "pgdriver"
	}

	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = "openai"
	}
	if cfg.EmbedLLM.Model == "" {
		cfg.EmbedLLM.Model = "text-embedding-ada-002"
	}
	applyLLMDefaults(&cfg.EmbedLLM)

	if cfg.ChatLLM.Provider == "" {
		cfg.ChatLLM.Provider = "openai"
	}
	if cfg.ChatLLM.Model == "" {
		cfg.ChatLLM.Model = "gpt-3.5-turbo-16k-0613"
	}
	if cfg.ChatLLM.Temperature == nil {
		t := 0.3
		cfg.ChatLLM.Temperature = &t
	}
	if cfg.ChatLLM.MaxTokens == 0 {
		cfg.ChatLLM.MaxTokens = 1024
	}
	applyLLMDefaults(&cfg.ChatLLM)

	if cfg.RAG.WordsPerChunk <= 0 {
		cfg.RAG.WordsPerChunk = models.DefaultWordsPerChunk
	}
	if cfg.RAG.TopK <= 0 {
		cfg.RAG.TopK = models.DefaultTopK
	}
	if cfg.RAG.HistoryTurns <= 0 {
		cfg.RAG.HistoryTurns = models.DefaultHistoryTurns
	}
	if cfg.RAG.Apology == "" {
		cfg.RAG.Apology = models.DefaultApology
	}

	if cfg.Crawler.TimeoutSecs <= 0 {
		cfg.Crawler.TimeoutSecs = 15
	}
	if cfg.Crawler.MaxBodyBytes <= 0 {
		cfg.Crawler.MaxBodyBytes = 5 << 20
	}
	if cfg.Crawler.RequestsPerSecond <= 0 {
		cfg.Crawler.RequestsPerSecond = 5
	}
	if cfg.Crawler.Burst <= 0 {
		cfg.Crawler.Burst = 5
	}
	if cfg.Crawler.UserAgent == "" {
		cfg.Crawler.UserAgent = "robot-rag-crawler/1.0"
	}
	if cfg.Crawler.FetchWorkers <= 0 {
		cfg.Crawler.FetchWorkers = 4
	}
}

func applyLLMDefaults(c *LLMConfig) {
	if c.BaseURL == "" && c.Provider == "openai" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.BaseURL == "" && c.Provider == "ollama" {
		c.BaseURL = "http://localhost:11434"
	}
	if c.TimeoutSecs <= 0 {
		c.TimeoutSecs = 60
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.BackoffMillis <= 0 {
		c.BackoffMillis = 500
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
}
