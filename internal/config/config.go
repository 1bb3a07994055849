package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the capybara API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chat      ChatConfig      `yaml:"chat"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL              string `yaml:"url"`
	MaxConns         int    `yaml:"max_conns"`
	ReadinessTimeout int    `yaml:"readiness_timeout_sec"`
}

// CacheConfig holds embedding cache settings. Disabled when Addrs is empty.
type CacheConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	TTLSec   int      `yaml:"ttl_sec"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// ChatConfig holds chat model settings.
type ChatConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	MaxHistory     int    `yaml:"max_history"`
	MaxMessageLen  int    `yaml:"max_message_len"`
	MaxInfoLen     int    `yaml:"max_info_len"`
	MessagesPerMin int    `yaml:"messages_per_minute"`
}

// RetrievalConfig parameterizes the threshold ladder and the adaptive
// relevance cutoff so tuning does not require code changes.
type RetrievalConfig struct {
	Thresholds    []float64 `yaml:"thresholds"`      // descending ladder
	TopK          int       `yaml:"top_k"`           // default result budget
	CategoryShare float64   `yaml:"category_share"`  // budget fraction for the category stage
	MaxCutoff     float64   `yaml:"max_cutoff"`      // adaptive cutoff ceiling
	MaxShare      float64   `yaml:"max_share"`       // adaptive cutoff as a fraction of max similarity
	MinKeep       int       `yaml:"min_keep"`        // results kept when nothing clears the cutoff
	FallbackScore float64   `yaml:"fallback_score"`  // score stamped on degraded results
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 8
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Cache.TTLSec <= 0 {
		c.Cache.TTLSec = 7 * 24 * 3600
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-004"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 768
	}
	if c.Chat.Model == "" {
		c.Chat.Model = "gemini-2.0-flash"
	}
	if c.Chat.MaxHistory <= 0 {
		c.Chat.MaxHistory = 10
	}
	if c.Chat.MaxMessageLen <= 0 {
		c.Chat.MaxMessageLen = 2000
	}
	if c.Chat.MaxInfoLen <= 0 {
		c.Chat.MaxInfoLen = 5000
	}
	if c.Chat.MessagesPerMin <= 0 {
		c.Chat.MessagesPerMin = 10
	}
	if len(c.Retrieval.Thresholds) == 0 {
		c.Retrieval.Thresholds = []float64{0.6, 0.5, 0.4, 0.3}
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 5
	}
	if c.Retrieval.CategoryShare <= 0 {
		c.Retrieval.CategoryShare = 0.7
	}
	if c.Retrieval.MaxCutoff <= 0 {
		c.Retrieval.MaxCutoff = 0.15
	}
	if c.Retrieval.MaxShare <= 0 {
		c.Retrieval.MaxShare = 0.3
	}
	if c.Retrieval.MinKeep <= 0 {
		c.Retrieval.MinKeep = 2
	}
	if c.Retrieval.FallbackScore <= 0 {
		c.Retrieval.FallbackScore = 0.5
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	// database.url may be empty: the server then runs without retrieval
	// context. Missing chat credentials are fatal at startup.
	if c.Chat.APIKey == "" {
		return fmt.Errorf("chat.api_key is required")
	}
	for i := 1; i < len(c.Retrieval.Thresholds); i++ {
		if c.Retrieval.Thresholds[i] >= c.Retrieval.Thresholds[i-1] {
			return fmt.Errorf("retrieval.thresholds must be strictly descending")
		}
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
