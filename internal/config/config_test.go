package config

import (
	"os"
	"testing"
)

func validConfig() Config {
	return Config{
		HTTP:     HTTPConfig{Port: 8080},
		Database: DatabaseConfig{URL: "postgres://localhost:5432/capybara"},
		Chat:     ChatConfig{APIKey: "test-key"},
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_EmptyDatabaseURLAllowed(t *testing.T) {
	// No database means the server runs with retrieval disabled; startup
	// must not refuse the config.
	cfg := validConfig()
	cfg.Database.URL = ""

	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty database url should validate, got %v", err)
	}
}

func TestValidate_MissingChatAPIKey(t *testing.T) {
	cfg := validConfig()
	cfg.Chat.APIKey = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing chat api key")
	}
}

func TestValidate_NonDescendingThresholds(t *testing.T) {
	cfg := validConfig()
	cfg.Retrieval.Thresholds = []float64{0.4, 0.5}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-descending thresholds")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.Embedding.Dimensions != 768 {
		t.Errorf("expected Dimensions=768, got %d", cfg.Embedding.Dimensions)
	}
	if len(cfg.Retrieval.Thresholds) != 4 || cfg.Retrieval.Thresholds[0] != 0.6 {
		t.Errorf("unexpected default thresholds: %v", cfg.Retrieval.Thresholds)
	}
	if cfg.Retrieval.CategoryShare != 0.7 {
		t.Errorf("expected CategoryShare=0.7, got %v", cfg.Retrieval.CategoryShare)
	}
	if cfg.Retrieval.MinKeep != 2 {
		t.Errorf("expected MinKeep=2, got %d", cfg.Retrieval.MinKeep)
	}
	if cfg.Chat.MessagesPerMin != 10 {
		t.Errorf("expected MessagesPerMin=10, got %d", cfg.Chat.MessagesPerMin)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		HTTP:      HTTPConfig{ReadTimeoutSec: 30, WriteTimeoutSec: 120, ShutdownSec: 5},
		Embedding: EmbeddingConfig{Dimensions: 384},
		Retrieval: RetrievalConfig{Thresholds: []float64{0.5, 0.2}, TopK: 8},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 30 {
		t.Errorf("expected ReadTimeoutSec=30, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.Embedding.Dimensions != 384 {
		t.Errorf("expected Dimensions=384, got %d", cfg.Embedding.Dimensions)
	}
	if len(cfg.Retrieval.Thresholds) != 2 {
		t.Errorf("thresholds overridden: %v", cfg.Retrieval.Thresholds)
	}
	if cfg.Retrieval.TopK != 8 {
		t.Errorf("expected TopK=8, got %d", cfg.Retrieval.TopK)
	}
}

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("CAPY_TEST_VAR", "secret")
	defer os.Unsetenv("CAPY_TEST_VAR")

	got := string(expandEnvVars([]byte("key: ${CAPY_TEST_VAR}\nother: ${CAPY_UNSET:-fallback}")))
	want := "key: secret\nother: fallback"
	if got != want {
		t.Errorf("expandEnvVars:\ngot:  %q\nwant: %q", got, want)
	}
}
