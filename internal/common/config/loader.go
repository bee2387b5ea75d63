// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, merges configs/config.<APP_ENVIRONMENT>.yaml
// when present and applies environment overrides (SESSION_IDLE_TIMEOUT
// overrides session.idle_timeout).
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // optional

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)
	return v
}

// bindEnvKeys registers every key that may only ever come from the
// environment, so AutomaticEnv picks it up during Unmarshal.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"database.postgres.user",
		"database.postgres.password",
		"database.redis.password",
		"embedding.provider",
		"embedding.genai.api_key",
		"embedding.openai.api_key",
		"matrix.access_token",
		"session.store",
		"session.idle_timeout",
		"logging.level",
	} {
		_ = v.BindEnv(key)
	}
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env"}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnvVars replaces ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			if expanded := os.ExpandEnv(strVal); expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig fills secrets from their conventional variable names
// when the yaml left them empty.
func overrideEmptyConfig(cfg *Config) {
	overrides := []struct {
		target *string
		env    string
	}{
		{&cfg.Database.Postgres.User, "DB_USER"},
		{&cfg.Database.Postgres.Password, "DB_PASSWORD"},
		{&cfg.Database.Redis.Password, "REDIS_PASSWORD"},
		{&cfg.Embedding.GenAI.APIKey, "GEMINI_API_KEY"},
		{&cfg.Embedding.OpenAI.APIKey, "OPENAI_API_KEY"},
		{&cfg.Matrix.AccessToken, "MATRIX_ACCESS_TOKEN"},
	}
	for _, o := range overrides {
		if *o.target == "" {
			if val := os.Getenv(o.env); val != "" {
				*o.target = val
			}
		}
	}
}

// applyDefaults sets default values for optional configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "sales-assistant"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}

	if cfg.HTTP.Address == "" {
		cfg.HTTP.Address = ":8080"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 10000
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 60000
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 10000
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.EntityIndex == "" {
		cfg.Database.Elasticsearch.EntityIndex = "sales_entities"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hashing"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1024
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30000
	}
	if cfg.Embedding.Ollama.Endpoint == "" {
		cfg.Embedding.Ollama.Endpoint = "http://localhost:11434"
	}
	if cfg.Embedding.Ollama.Model == "" {
		cfg.Embedding.Ollama.Model = "embeddinggemma"
	}
	if cfg.Embedding.GenAI.Model == "" {
		cfg.Embedding.GenAI.Model = "gemini-embedding-001"
	}
	if cfg.Embedding.GenAI.TaskType == "" {
		cfg.Embedding.GenAI.TaskType = "SEMANTIC_SIMILARITY"
	}
	if cfg.Embedding.OpenAI.Model == "" {
		cfg.Embedding.OpenAI.Model = "text-embedding-3-small"
	}

	if cfg.Intent.AcceptanceThreshold == 0 {
		cfg.Intent.AcceptanceThreshold = 0.55
	}
	if cfg.Intent.SwitchMargin == 0 {
		cfg.Intent.SwitchMargin = 0.10
	}
	if cfg.Intent.TopK == 0 {
		cfg.Intent.TopK = 3
	}

	if cfg.Entity.MinSimilarity == 0 {
		cfg.Entity.MinSimilarity = 0.75
	}
	if cfg.Entity.TieMargin == 0 {
		cfg.Entity.TieMargin = 0.05
	}
	if cfg.Entity.Source == "" {
		cfg.Entity.Source = "postgres"
	}
	if cfg.Entity.RefreshInterval == 0 {
		cfg.Entity.RefreshInterval = 15 * 60 * 1000
	}
	if cfg.Entity.CacheTTL == 0 {
		cfg.Entity.CacheTTL = 60 * 60 * 1000
	}

	if cfg.Dates.FiscalYearStartMonth == 0 {
		cfg.Dates.FiscalYearStartMonth = 4
	}
	if cfg.Dates.Timezone == "" {
		cfg.Dates.Timezone = "Asia/Kolkata"
	}

	if cfg.Session.Store == "" {
		cfg.Session.Store = "memory"
	}
	if cfg.Session.IdleTimeout == 0 {
		cfg.Session.IdleTimeout = 30 * 60 * 1000
	}

	if cfg.Assistant.ExecutionTimeout == 0 {
		cfg.Assistant.ExecutionTimeout = 15000
	}
	if cfg.Assistant.RetryBackoff == 0 {
		cfg.Assistant.RetryBackoff = 500
	}
	if cfg.Assistant.MaxCollectionAttempts == 0 {
		cfg.Assistant.MaxCollectionAttempts = 3
	}
	if cfg.Assistant.MaxRows == 0 {
		cfg.Assistant.MaxRows = 50
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields.
func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}

	if cfg.Session.Store == "redis" || cfg.Embedding.CacheTTL > 0 || cfg.Database.Redis.Enabled {
		if cfg.Database.Redis.Address == "" {
			return fmt.Errorf("database.redis.address is required when redis is used")
		}
	}
	switch cfg.Session.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("session.store must be memory or redis, got %q", cfg.Session.Store)
	}

	switch cfg.Entity.Source {
	case "postgres":
	case "elasticsearch":
		if len(cfg.Database.Elasticsearch.Addresses) == 0 {
			return fmt.Errorf("database.elasticsearch.addresses is required for entity.source=elasticsearch")
		}
	default:
		return fmt.Errorf("entity.source must be postgres or elasticsearch, got %q", cfg.Entity.Source)
	}

	switch cfg.Embedding.Provider {
	case "hashing", "ollama":
	case "genai":
		if cfg.Embedding.GenAI.APIKey == "" {
			return fmt.Errorf("embedding.genai.api_key is required for the genai provider")
		}
	case "openai":
		if cfg.Embedding.OpenAI.APIKey == "" {
			return fmt.Errorf("embedding.openai.api_key is required for the openai provider")
		}
	default:
		return fmt.Errorf("unsupported embedding provider: %s", cfg.Embedding.Provider)
	}

	if cfg.Intent.AcceptanceThreshold <= 0 || cfg.Intent.AcceptanceThreshold > 1 {
		return fmt.Errorf("intent.acceptance_threshold must be in (0, 1]")
	}
	if cfg.Entity.MinSimilarity <= 0 || cfg.Entity.MinSimilarity > 1 {
		return fmt.Errorf("entity.min_similarity must be in (0, 1]")
	}
	if cfg.Entity.TieMargin < 0 || cfg.Entity.TieMargin >= 1 {
		return fmt.Errorf("entity.tie_margin must be in [0, 1)")
	}
	if cfg.Dates.FiscalYearStartMonth < 1 || cfg.Dates.FiscalYearStartMonth > 12 {
		return fmt.Errorf("dates.fiscal_year_start_month must be between 1 and 12")
	}
	if _, err := time.LoadLocation(cfg.Dates.Timezone); err != nil {
		return fmt.Errorf("dates.timezone: %w", err)
	}

	if cfg.Matrix.Enabled {
		if !validHomeserver(cfg.Matrix.Homeserver) {
			return fmt.Errorf("matrix.homeserver must be an http(s) URL")
		}
		if cfg.Matrix.UserID == "" || cfg.Matrix.AccessToken == "" {
			return fmt.Errorf("matrix.user_id and matrix.access_token are required when matrix is enabled")
		}
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration.
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
