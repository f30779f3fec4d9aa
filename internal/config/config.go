// Package config loads turnloop's configuration: built-in defaults, then
// an optional YAML file, then an optional .env file, then TURNLOOP_*
// environment variables. A double underscore in a variable name selects
// a nested key, so TURNLOOP_PIPELINE__MAX_RETRIES sets pipeline.max_retries.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "TURNLOOP_"

// Config is the full configuration.
type Config struct {
	DataDir  string         `koanf:"data_dir" yaml:"data_dir" validate:"required"`
	Log      LogConfig      `koanf:"log" yaml:"log"`
	Store    StoreConfig    `koanf:"store" yaml:"store"`
	Pipeline PipelineConfig `koanf:"pipeline" yaml:"pipeline"`
	Tools    ToolsConfig    `koanf:"tools" yaml:"tools"`
	Jobs     JobsConfig     `koanf:"jobs" yaml:"jobs"`
	HTTP     HTTPConfig     `koanf:"http" yaml:"http"`
	Tracing  TracingConfig  `koanf:"tracing" yaml:"tracing"`
	Search   SearchConfig   `koanf:"search" yaml:"search"`
}

// LogConfig configures the zap logger and its file rotation.
type LogConfig struct {
	Level string `koanf:"level" yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `koanf:"json" yaml:"json"`
	// File enables rotated file output when set.
	File       string `koanf:"file" yaml:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb" yaml:"max_size_mb" validate:"gte=1"`
	MaxBackups int    `koanf:"max_backups" yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `koanf:"max_age_days" yaml:"max_age_days" validate:"gte=0"`
	Compress   bool   `koanf:"compress" yaml:"compress"`
}

// StoreConfig configures the document store.
type StoreConfig struct {
	MaxContentLength int           `koanf:"max_content_length" yaml:"max_content_length" validate:"gte=256"`
	MaxSearchResults int           `koanf:"max_search_results" yaml:"max_search_results" validate:"gte=1"`
	PromoteAfter     int           `koanf:"promote_after" yaml:"promote_after" validate:"gte=1"`
	DemoteAfter      int           `koanf:"demote_after" yaml:"demote_after" validate:"gte=1"`
	ArchiveAfter     time.Duration `koanf:"archive_after" yaml:"archive_after" validate:"gte=1h"`
}

// PipelineConfig holds the per-turn budgets.
type PipelineConfig struct {
	MaxIterations       int     `koanf:"max_iterations" yaml:"max_iterations" validate:"gte=1"`
	MaxAttempts         int     `koanf:"max_attempts" yaml:"max_attempts" validate:"gte=1"`
	MaxRetries          int     `koanf:"max_retries" yaml:"max_retries" validate:"gte=0"`
	MaxRevisions        int     `koanf:"max_revisions" yaml:"max_revisions" validate:"gte=0"`
	WindowSize          int     `koanf:"window_size" yaml:"window_size" validate:"gte=1"`
	ContextBudgetTokens int     `koanf:"context_budget_tokens" yaml:"context_budget_tokens" validate:"gte=100"`
	ContextResults      int     `koanf:"context_results" yaml:"context_results" validate:"gte=1"`
	SufficientQuality   float64 `koanf:"sufficient_quality" yaml:"sufficient_quality" validate:"gt=0,lte=1"`
	MaxCitations        int     `koanf:"max_citations" yaml:"max_citations" validate:"gte=1"`
	MaxAnswerChars      int     `koanf:"max_answer_chars" yaml:"max_answer_chars" validate:"gte=200"`
}

// ToolsConfig configures the executor sandbox and built-in tools.
type ToolsConfig struct {
	// Root is the directory file tools are confined to.
	Root        string        `koanf:"root" yaml:"root" validate:"required"`
	Timeout     time.Duration `koanf:"timeout" yaml:"timeout" validate:"gte=100ms"`
	MaxParallel int           `koanf:"max_parallel" yaml:"max_parallel" validate:"gte=1"`
	Allow       []string      `koanf:"allow" yaml:"allow,omitempty"`
	Deny        []string      `koanf:"deny" yaml:"deny,omitempty"`
	// Paths are doublestar patterns file paths must match.
	Paths        []string `koanf:"paths" yaml:"paths" validate:"dive,required"`
	EvalPackages []string `koanf:"eval_packages" yaml:"eval_packages,omitempty"`
}

// JobsConfig bounds the job layer.
type JobsConfig struct {
	MaxConcurrent int64         `koanf:"max_concurrent" yaml:"max_concurrent" validate:"gte=1"`
	Retention     time.Duration `koanf:"retention" yaml:"retention" validate:"gte=1s"`
	Timeout       time.Duration `koanf:"timeout" yaml:"timeout" validate:"gte=0"`
	EventBuffer   int           `koanf:"event_buffer" yaml:"event_buffer" validate:"gte=1"`
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	Addr            string        `koanf:"addr" yaml:"addr" validate:"required,hostname_port"`
	AllowedOrigins  []string      `koanf:"allowed_origins" yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled" yaml:"enabled"`
	Endpoint    string  `koanf:"endpoint" yaml:"endpoint" validate:"required_if=Enabled true"`
	Insecure    bool    `koanf:"insecure" yaml:"insecure"`
	ServiceName string  `koanf:"service_name" yaml:"service_name" validate:"required"`
	SampleRatio float64 `koanf:"sample_ratio" yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// SearchConfig configures the web_search backend. An empty endpoint
// leaves web_search registered but failing with dependency_missing.
type SearchConfig struct {
	Endpoint string        `koanf:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	APIKey   string        `koanf:"api_key" yaml:"api_key"`
	Timeout  time.Duration `koanf:"timeout" yaml:"timeout" validate:"gte=0"`
}

// DefaultDataDir returns ~/.turnloop, or .turnloop when there is no home
// directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".turnloop"
	}
	return filepath.Join(home, ".turnloop")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

// Default returns the built-in configuration.
func Default() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		DataDir: dataDir,
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Store: StoreConfig{
			MaxContentLength: 8000,
			MaxSearchResults: 50,
			PromoteAfter:     3,
			DemoteAfter:      2,
			ArchiveAfter:     720 * time.Hour,
		},
		Pipeline: PipelineConfig{
			MaxIterations:       6,
			MaxAttempts:         3,
			MaxRetries:          2,
			MaxRevisions:        2,
			WindowSize:          5,
			ContextBudgetTokens: 2000,
			ContextResults:      20,
			SufficientQuality:   0.7,
			MaxCitations:        8,
			MaxAnswerChars:      4000,
		},
		Tools: ToolsConfig{
			Root:        filepath.Join(dataDir, "workspace"),
			Timeout:     20 * time.Second,
			MaxParallel: 4,
			Paths:       []string{"**"},
		},
		Jobs: JobsConfig{
			MaxConcurrent: 4,
			Retention:     time.Hour,
			Timeout:       5 * time.Minute,
			EventBuffer:   64,
		},
		HTTP: HTTPConfig{
			Addr:            "127.0.0.1:8787",
			AllowedOrigins:  []string{"http://localhost:*", "http://127.0.0.1:*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4318",
			Insecure:    true,
			ServiceName: "turnloop",
			SampleRatio: 1,
		},
		Search: SearchConfig{
			Timeout: 15 * time.Second,
		},
	}
}
