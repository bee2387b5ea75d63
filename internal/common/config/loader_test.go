package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
database:
  postgres:
    host: localhost
    database: sales
    user: assistant
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// clearEnv blanks the variables the loader reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	for _, key := range []string{
		"DB_USER", "DB_PASSWORD", "REDIS_PASSWORD", "GEMINI_API_KEY", "OPENAI_API_KEY",
		"MATRIX_ACCESS_TOKEN", "SESSION_STORE", "SESSION_IDLE_TIMEOUT", "LOGGING_LEVEL",
		"EMBEDDING_PROVIDER",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadFromFile_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromFile(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "sales-assistant", cfg.App.Name)
	assert.Equal(t, ":8080", cfg.HTTP.Address)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
	assert.Equal(t, "hashing", cfg.Embedding.Provider)
	assert.Equal(t, 0.55, cfg.Intent.AcceptanceThreshold)
	assert.Equal(t, 0.10, cfg.Intent.SwitchMargin)
	assert.Equal(t, 3, cfg.Intent.TopK)
	assert.Equal(t, 0.75, cfg.Entity.MinSimilarity)
	assert.Equal(t, 0.05, cfg.Entity.TieMargin)
	assert.Equal(t, "postgres", cfg.Entity.Source)
	assert.Equal(t, 4, cfg.Dates.FiscalYearStartMonth)
	assert.Equal(t, "Asia/Kolkata", cfg.Dates.Timezone)
	assert.Equal(t, "memory", cfg.Session.Store)
	assert.Equal(t, 30*time.Minute, GetDuration(cfg.Session.IdleTimeout))
	assert.Equal(t, 15*time.Second, GetDuration(cfg.Assistant.ExecutionTimeout))
	assert.Equal(t, 3, cfg.Assistant.MaxCollectionAttempts)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFile_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SESSION_IDLE_TIMEOUT", "600000")
	t.Setenv("DB_PASSWORD", "s3cret")
	t.Setenv("WAREHOUSE_HOST", "warehouse.internal")

	body := `
database:
  postgres:
    host: ${WAREHOUSE_HOST}
    database: sales
    user: assistant
session:
  idle_timeout: 1800000
`
	cfg, err := LoadFromFile(writeConfig(t, body))
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, GetDuration(cfg.Session.IdleTimeout))
	assert.Equal(t, "s3cret", cfg.Database.Postgres.Password)
	assert.Equal(t, "warehouse.internal", cfg.Database.Postgres.Host)
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadFromFile_RepositoryConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_USER", "assistant")

	cfg, err := LoadFromFile(filepath.Join("..", "..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Database.Postgres.Host)
	assert.Equal(t, "assistant", cfg.Database.Postgres.User)
}

func TestValidateConfig(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		cfg.Database.Postgres = PostgresConfig{Host: "localhost", Database: "sales", User: "assistant"}
		applyDefaults(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing host", func(c *Config) { c.Database.Postgres.Host = "" }, "database.postgres.host"},
		{"missing user", func(c *Config) { c.Database.Postgres.User = "" }, "database.postgres.user"},
		{"redis store without address", func(c *Config) { c.Session.Store = "redis" }, "database.redis.address"},
		{"redis store with address", func(c *Config) {
			c.Session.Store = "redis"
			c.Database.Redis.Address = "localhost:6379"
		}, ""},
		{"unknown store", func(c *Config) { c.Session.Store = "disk" }, "session.store"},
		{"elasticsearch without addresses", func(c *Config) { c.Entity.Source = "elasticsearch" }, "database.elasticsearch.addresses"},
		{"unknown entity source", func(c *Config) { c.Entity.Source = "csv" }, "entity.source"},
		{"genai without key", func(c *Config) { c.Embedding.Provider = "genai" }, "embedding.genai.api_key"},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "word2vec" }, "unsupported embedding provider"},
		{"threshold above one", func(c *Config) { c.Intent.AcceptanceThreshold = 1.5 }, "intent.acceptance_threshold"},
		{"tie margin of one", func(c *Config) { c.Entity.TieMargin = 1 }, "entity.tie_margin"},
		{"fiscal month thirteen", func(c *Config) { c.Dates.FiscalYearStartMonth = 13 }, "fiscal_year_start_month"},
		{"bad timezone", func(c *Config) { c.Dates.Timezone = "Mars/Olympus" }, "dates.timezone"},
		{"matrix without homeserver", func(c *Config) {
			c.Matrix.Enabled = true
			c.Matrix.UserID = "@sales:example.org"
			c.Matrix.AccessToken = "token"
		}, "matrix.homeserver"},
		{"matrix without token", func(c *Config) {
			c.Matrix.Enabled = true
			c.Matrix.Homeserver = "https://matrix.example.org"
			c.Matrix.UserID = "@sales:example.org"
		}, "matrix.access_token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "sales", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=sales sslmode=disable", p.GetDSN())
}
