package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Completion provider: "openai" (any OpenAI-compatible endpoint, Groq by default) or "google".
	LLMProvider string  `yaml:"llm_provider"`
	LLMApiKey   string  `yaml:"llm_api_key"`
	LLMBaseURL  string  `yaml:"llm_base_url"`
	ChatModel   string  `yaml:"chat_model"`
	Temperature float64 `yaml:"temperature"`

	// Retrieval provider: "tavily", "duckduckgo", "arxiv" or "knowledge".
	SearchProvider   string `yaml:"search_provider"`
	TavilyApiKey     string `yaml:"tavily_api_key"`
	SearchMaxResults int    `yaml:"search_max_results"`
	DeepMaxResults   int    `yaml:"deep_max_results"`
	DeepQueries      int    `yaml:"deep_queries"`
	SearchParallel   int    `yaml:"search_parallel"`

	DocumentCharLimit int `yaml:"document_char_limit"`
	SnippetCharLimit  int `yaml:"snippet_char_limit"`
	TablePreviewRows  int `yaml:"table_preview_rows"`

	AnalysisEnabled bool          `yaml:"analysis_enabled"`
	AnalysisTimeout time.Duration `yaml:"analysis_timeout"`

	SessionTTL time.Duration `yaml:"session_ttl"`
	Port       string        `yaml:"port"`

	// Knowledge base; all optional.
	DatabaseURL    string `yaml:"database_url"`
	GoogleApiKey   string `yaml:"google_api_key"`
	EmbeddingModel string `yaml:"embedding_model"`
	CollectionName string `yaml:"collection_name"`
	ChunkSize      int    `yaml:"chunk_size"`
	ChunkOverlap   int    `yaml:"chunk_overlap"`
	MistralApiKey  string `yaml:"mistral_api_key"`
}

// Load reads the environment, after loading a .env file if one exists.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		LLMProvider: getEnv("LLM_PROVIDER", "openai"),
		LLMApiKey:   getEnv("LLM_API_KEY", os.Getenv("GROQ_API_KEY")),
		LLMBaseURL:  getEnv("LLM_BASE_URL", "https://api.groq.com/openai/v1"),
		ChatModel:   getEnv("CHAT_MODEL", "llama-3.1-8b-instant"),
		Temperature: getEnvAsFloat("TEMPERATURE", 0.7),

		SearchProvider:   getEnv("SEARCH_PROVIDER", "tavily"),
		TavilyApiKey:     getEnv("TAVILY_API_KEY", ""),
		SearchMaxResults: getEnvAsInt("SEARCH_MAX_RESULTS", 3),
		DeepMaxResults:   getEnvAsInt("DEEP_MAX_RESULTS", 5),
		DeepQueries:      getEnvAsInt("DEEP_QUERIES", 3),
		SearchParallel:   getEnvAsInt("SEARCH_PARALLEL", 3),

		DocumentCharLimit: getEnvAsInt("DOCUMENT_CHAR_LIMIT", 20000),
		SnippetCharLimit:  getEnvAsInt("SNIPPET_CHAR_LIMIT", 0),
		TablePreviewRows:  getEnvAsInt("TABLE_PREVIEW_ROWS", 5),

		AnalysisEnabled: getEnvAsBool("ANALYSIS_ENABLED", true),
		AnalysisTimeout: getEnvAsDuration("ANALYSIS_TIMEOUT", 10*time.Second),

		SessionTTL: getEnvAsDuration("SESSION_TTL", 2*time.Hour),
		Port:       getEnv("PORT", "8081"),

		DatabaseURL:    getEnv("DATABASE_URL", ""),
		GoogleApiKey:   getEnv("GOOGLE_API_KEY", ""),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "gemini-embedding-001"),
		CollectionName: getEnv("COLLECTION_NAME", "knowledge"),
		ChunkSize:      getEnvAsInt("CHUNK_SIZE", 1000),
		ChunkOverlap:   getEnvAsInt("CHUNK_OVERLAP", 200),
		MistralApiKey:  getEnv("MISTRAL_API_KEY", ""),
	}
}

// LoadFile loads the environment and then overlays every non-zero field
// found in the YAML file at path.
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.merge(&file)

	// analysis_enabled is a bool, so a zero value cannot be told apart from
	// "unset"; look for the key explicitly.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err == nil {
		if v, ok := raw["analysis_enabled"].(bool); ok {
			cfg.AnalysisEnabled = v
		}
	}

	return cfg, nil
}

func (c *Config) merge(o *Config) {
	setString(&c.LLMProvider, o.LLMProvider)
	setString(&c.LLMApiKey, o.LLMApiKey)
	setString(&c.LLMBaseURL, o.LLMBaseURL)
	setString(&c.ChatModel, o.ChatModel)
	if o.Temperature != 0 {
		c.Temperature = o.Temperature
	}

	setString(&c.SearchProvider, o.SearchProvider)
	setString(&c.TavilyApiKey, o.TavilyApiKey)
	setInt(&c.SearchMaxResults, o.SearchMaxResults)
	setInt(&c.DeepMaxResults, o.DeepMaxResults)
	setInt(&c.DeepQueries, o.DeepQueries)
	setInt(&c.SearchParallel, o.SearchParallel)

	setInt(&c.DocumentCharLimit, o.DocumentCharLimit)
	setInt(&c.SnippetCharLimit, o.SnippetCharLimit)
	setInt(&c.TablePreviewRows, o.TablePreviewRows)

	if o.AnalysisTimeout != 0 {
		c.AnalysisTimeout = o.AnalysisTimeout
	}
	if o.SessionTTL != 0 {
		c.SessionTTL = o.SessionTTL
	}
	setString(&c.Port, o.Port)

	setString(&c.DatabaseURL, o.DatabaseURL)
	setString(&c.GoogleApiKey, o.GoogleApiKey)
	setString(&c.EmbeddingModel, o.EmbeddingModel)
	setString(&c.CollectionName, o.CollectionName)
	setInt(&c.ChunkSize, o.ChunkSize)
	setInt(&c.ChunkOverlap, o.ChunkOverlap)
	setString(&c.MistralApiKey, o.MistralApiKey)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
