// Quill - Memory layer for a personal command assistant
// License: MIT
//
// Copyright (c) 2026 Quill contributors

package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Workspace string         `json:"workspace" env:"QUILL_WORKSPACE"`
	Provider  ProviderConfig `json:"provider"`
	Ingest    IngestConfig   `json:"ingest"`
	Search    SearchConfig   `json:"search"`
	LogLevel  string         `json:"log_level" env:"QUILL_LOG_LEVEL"`
}

type ProviderConfig struct {
	APIKey         string `json:"api_key" env:"QUILL_PROVIDER_API_KEY"`
	APIBase        string `json:"api_base" env:"QUILL_PROVIDER_API_BASE"`
	Model          string `json:"model" env:"QUILL_PROVIDER_MODEL"`
	TimeoutSeconds int    `json:"timeout_seconds" env:"QUILL_PROVIDER_TIMEOUT_SECONDS"`
}

type IngestConfig struct {
	AllowedExtensions      []string `json:"allowed_extensions" env:"QUILL_INGEST_ALLOWED_EXTENSIONS"`
	ExcludePatterns        []string `json:"exclude_patterns" env:"QUILL_INGEST_EXCLUDE_PATTERNS"`
	MinFileBytes           int64    `json:"min_file_bytes" env:"QUILL_INGEST_MIN_FILE_BYTES"`
	MaxParseBytes          int64    `json:"max_parse_bytes" env:"QUILL_INGEST_MAX_PARSE_BYTES"`
	PriorityFileCount      int      `json:"priority_file_count" env:"QUILL_INGEST_PRIORITY_FILE_COUNT"`
	PriorityBatchSize      int      `json:"priority_batch_size" env:"QUILL_INGEST_PRIORITY_BATCH_SIZE"`
	BackgroundBatchSize    int      `json:"background_batch_size" env:"QUILL_INGEST_BACKGROUND_BATCH_SIZE"`
	PriorityBatchDelayMS   int      `json:"priority_batch_delay_ms" env:"QUILL_INGEST_PRIORITY_BATCH_DELAY_MS"`
	BackgroundBatchDelayMS int      `json:"background_batch_delay_ms" env:"QUILL_INGEST_BACKGROUND_BATCH_DELAY_MS"`
	SubBatchSize           int      `json:"sub_batch_size" env:"QUILL_INGEST_SUB_BATCH_SIZE"`
	MaxAttempts            int      `json:"max_attempts" env:"QUILL_INGEST_MAX_ATTEMPTS"`
}

type SearchConfig struct {
	MaxResults      int `json:"max_results" env:"QUILL_SEARCH_MAX_RESULTS"`
	CacheSize       int `json:"cache_size" env:"QUILL_SEARCH_CACHE_SIZE"`
	CacheTTLSeconds int `json:"cache_ttl_seconds" env:"QUILL_SEARCH_CACHE_TTL_SECONDS"`
}

func DefaultConfig() *Config {
	return &Config{
		Workspace: "~/.quill",
		Provider: ProviderConfig{
			APIBase:        "https://openrouter.ai/api/v1",
			Model:          "openai/gpt-5.2",
			TimeoutSeconds: 60,
		},
		Ingest: IngestConfig{
			AllowedExtensions:      []string{".txt", ".md", ".markdown", ".rst", ".org", ".csv", ".log"},
			ExcludePatterns:        []string{"node_modules", ".git", "dist", "build", "target", "__pycache__"},
			MinFileBytes:           32,
			MaxParseBytes:          2 << 20,
			PriorityFileCount:      5,
			PriorityBatchSize:      3,
			BackgroundBatchSize:    8,
			PriorityBatchDelayMS:   250,
			BackgroundBatchDelayMS: 1500,
			SubBatchSize:           4,
			MaxAttempts:            3,
		},
		Search: SearchConfig{
			MaxResults:      10,
			CacheSize:       256,
			CacheTTLSeconds: 20,
		},
		LogLevel: "info",
	}
}

// LoadConfig reads JSON config (missing file is fine) and applies QUILL_*
// environment overrides on top.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// WorkspacePath expands a leading ~ in the configured workspace directory.
func (c *Config) WorkspacePath() string {
	return expandHome(c.Workspace)
}

// StorePath is the SQLite database location inside the workspace.
func (c *Config) StorePath() string {
	return filepath.Join(c.WorkspacePath(), "state", "quill.db")
}

// VectorPath is the persistent vector index location inside the workspace.
func (c *Config) VectorPath() string {
	return filepath.Join(c.WorkspacePath(), "state", "vectors")
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
