// internal/common/config/config.go
package config

import (
	"fmt"
	"net/url"
)

// Config is the main application configuration struct.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Matrix    MatrixConfig    `mapstructure:"matrix"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Intent    IntentConfig    `mapstructure:"intent"`
	Entity    EntityConfig    `mapstructure:"entity"`
	Dates     DatesConfig     `mapstructure:"dates"`
	Session   SessionConfig   `mapstructure:"session"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type HTTPConfig struct {
	Address         string `mapstructure:"address"`
	ReadTimeout     int    `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int    `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string.
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Addresses   []string `mapstructure:"addresses"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	EntityIndex string   `mapstructure:"entity_index"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EmbeddingConfig selects and configures the embedding backend.
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"` // hashing | ollama | genai | openai
	Dimensions int    `mapstructure:"dimensions"`
	Timeout    int    `mapstructure:"timeout"`   // milliseconds
	CacheTTL   int    `mapstructure:"cache_ttl"` // milliseconds, 0 disables the redis cache

	Ollama struct {
		Endpoint string `mapstructure:"endpoint"`
		Model    string `mapstructure:"model"`
	} `mapstructure:"ollama"`

	GenAI struct {
		APIKey   string `mapstructure:"api_key"`
		Model    string `mapstructure:"model"`
		TaskType string `mapstructure:"task_type"`
	} `mapstructure:"genai"`

	OpenAI struct {
		APIKey  string `mapstructure:"api_key"`
		BaseURL string `mapstructure:"base_url"`
		Model   string `mapstructure:"model"`
	} `mapstructure:"openai"`
}

// MatrixConfig configures the optional Matrix chat transport.
type MatrixConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Homeserver   string   `mapstructure:"homeserver"`
	UserID       string   `mapstructure:"user_id"`
	AccessToken  string   `mapstructure:"access_token"`
	Rooms        []string `mapstructure:"rooms"`
	SyncStoreDSN string   `mapstructure:"sync_store"` // sqlite path, empty keeps sync state in memory
}

type CatalogConfig struct {
	Path string `mapstructure:"path"` // empty uses the embedded catalog
}

type IntentConfig struct {
	AcceptanceThreshold float64 `mapstructure:"acceptance_threshold"`
	SwitchMargin        float64 `mapstructure:"switch_margin"`
	TopK                int     `mapstructure:"top_k"`
}

type EntityConfig struct {
	MinSimilarity   float64 `mapstructure:"min_similarity"`
	TieMargin       float64 `mapstructure:"tie_margin"`
	Source          string  `mapstructure:"source"`           // postgres | elasticsearch
	RefreshInterval int     `mapstructure:"refresh_interval"` // milliseconds
	CacheTTL        int     `mapstructure:"cache_ttl"`        // milliseconds
}

type DatesConfig struct {
	FiscalYearStartMonth int    `mapstructure:"fiscal_year_start_month"`
	Timezone             string `mapstructure:"timezone"`
}

type SessionConfig struct {
	Store       string `mapstructure:"store"`        // memory | redis
	IdleTimeout int    `mapstructure:"idle_timeout"` // milliseconds
}

type AssistantConfig struct {
	ExecutionTimeout      int `mapstructure:"execution_timeout"` // milliseconds
	RetryBackoff          int `mapstructure:"retry_backoff"`     // milliseconds
	MaxCollectionAttempts int `mapstructure:"max_collection_attempts"`
	MaxRows               int `mapstructure:"max_rows"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// validHomeserver reports whether s parses as an absolute http(s) URL.
func validHomeserver(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
