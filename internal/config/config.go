// Package config loads configuration from defaults, an optional YAML file
// and CLINSUM_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/rcliao/clinical-summary/internal/drafting"
	"github.com/rcliao/clinical-summary/internal/logging"
	"github.com/rcliao/clinical-summary/internal/retriever"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CLINSUM_"

const maxConfigFileSize = 1024 * 1024 // 1MB

// Config is the complete application configuration.
type Config struct {
	DB        DBConfig         `koanf:"db"`
	Retrieval retriever.Config `koanf:"retrieval"`
	Drafting  drafting.Config  `koanf:"drafting"`
	Logging   logging.Config   `koanf:"logging"`
	Lexicon   LexiconConfig    `koanf:"lexicon"`
	Pipeline  PipelineConfig   `koanf:"pipeline"`
}

// DBConfig locates the record store.
type DBConfig struct {
	Path string `koanf:"path"` // empty uses ~/.clinical-summary/records.db
}

// LexiconConfig points at an optional YAML lexicon override.
type LexiconConfig struct {
	Path string `koanf:"path"`
}

// PipelineConfig bounds batch processing.
type PipelineConfig struct {
	Workers int `koanf:"workers"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Retrieval: retriever.DefaultConfig(),
		Drafting:  drafting.DefaultConfig(),
		Logging:   logging.NewDefaultConfig(),
		Pipeline:  PipelineConfig{Workers: 4},
	}
}

// Load builds configuration. Precedence (highest first):
//  1. Environment variables (CLINSUM_RETRIEVAL_MAX_CHARS, CLINSUM_DRAFTING_API_KEY, ...)
//  2. YAML file at path, when path is non-empty
//  3. Defaults
//
// Environment keys split on the first underscore after the prefix:
//
//	CLINSUM_RETRIEVAL_HALF_LIFE_DAYS -> retrieval.half_life_days
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		content, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// loadDefaults seeds k with Default() so that file and env layers merge over
// it key by key.
func loadDefaults(k *koanf.Koanf) error {
	d := Default()
	defaults := []struct {
		key string
		val any
	}{
		{"db.path", d.DB.Path},
		{"retrieval.max_entries", d.Retrieval.MaxEntries},
		{"retrieval.max_chars", d.Retrieval.MaxChars},
		{"retrieval.recency_scale", d.Retrieval.RecencyScale},
		{"retrieval.half_life_days", d.Retrieval.HalfLifeDays},
		{"retrieval.category_match_weight", d.Retrieval.CategoryMatchWeight},
		{"retrieval.preferred_categories", d.Retrieval.PreferredCategories},
		{"retrieval.candidate_limit", d.Retrieval.CandidateLimit},
		{"drafting.provider", d.Drafting.Provider},
		{"drafting.base_url", d.Drafting.BaseURL},
		{"drafting.model", d.Drafting.Model},
		{"drafting.api_key", d.Drafting.APIKey},
		{"drafting.timeout", d.Drafting.Timeout},
		{"drafting.rate_per_second", d.Drafting.RatePerSecond},
		{"drafting.burst", d.Drafting.Burst},
		{"logging.level", d.Logging.Level},
		{"logging.format", d.Logging.Format},
		{"lexicon.path", d.Lexicon.Path},
		{"pipeline.workers", d.Pipeline.Workers},
	}
	for _, kv := range defaults {
		if err := k.Set(kv.key, kv.val); err != nil {
			return err
		}
	}
	return nil
}

func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, found := strings.Cut(lower, "_")
	if !found {
		return lower
	}
	return section + "." + field
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	return os.ReadFile(path)
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Retrieval.Validate(); err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}
	if err := c.Drafting.Validate(); err != nil {
		return fmt.Errorf("drafting: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline: workers must be >= 1")
	}
	return nil
}

// DBPath resolves the database location.
func (c *Config) DBPath() string {
	if c.DB.Path != "" {
		return c.DB.Path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".clinical-summary", "records.db")
}
