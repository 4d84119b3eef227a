// Package models defines data structures for job configuration and the
// key/value records that flow between pipeline stages.
package models

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied by DefaultJobConfig.
const (
	DefaultWorkers      = 4
	DefaultPartitions   = 1
	DefaultMaxRetries   = 3
	DefaultMinSplitSize = 1
	DefaultCacheTTL     = 24 * time.Hour
	DefaultFetchTimeout = 60 * time.Second
	DefaultTopKeywords  = 25
)

// JobConfig holds every parameter of a single map/reduce job.
// It is passed by value into each component and never mutated after Validate.
type JobConfig struct {
	Inputs       []string      `yaml:"inputs"`
	Output       string        `yaml:"output"`
	Workers      int           `yaml:"workers"`
	Partitions   int           `yaml:"partitions"`
	TargetSplits int           `yaml:"target_splits"` // 0 means one per worker
	MinSplitSize int64         `yaml:"min_split_size"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	Combiner     bool          `yaml:"combiner"`
	Overwrite    bool          `yaml:"overwrite"`
	Normalize    bool          `yaml:"normalize"` // lowercase, strip punctuation, drop stopwords
	Format       InputFormat   `yaml:"format"`

	// Shuffle storage: "memory" (default) or "sqlite".
	Spill    string `yaml:"spill"`
	SpillDir string `yaml:"spill_dir"`

	CacheDir        string        `yaml:"cache_dir"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"` // 0 means no timeout
	DetectLanguages bool          `yaml:"detect_languages"`
	TopKeywords     int           `yaml:"top_keywords"`
}

// DefaultJobConfig returns a config with the defaults used by the CLI.
func DefaultJobConfig() JobConfig {
	return JobConfig{
		Workers:      DefaultWorkers,
		Partitions:   DefaultPartitions,
		MinSplitSize: DefaultMinSplitSize,
		MaxRetries:   DefaultMaxRetries,
		RetryBackoff: 100 * time.Millisecond,
		Combiner:     true,
		Format:       InputFormatText,
		Spill:        SpillMemory,
		CacheTTL:     DefaultCacheTTL,
		FetchTimeout: DefaultFetchTimeout,
		TopKeywords:  DefaultTopKeywords,
	}
}

// Shuffle storage backends.
const (
	SpillMemory = "memory"
	SpillSQLite = "sqlite"
)

// LoadJobConfig reads a YAML job file on top of DefaultJobConfig.
// Fields missing from the file keep their defaults.
func LoadJobConfig(path string) (JobConfig, error) {
	cfg := DefaultJobConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read job config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse job config %s: %w", path, err)
	}
	return cfg, nil
}

// Splits returns the requested number of splits, defaulting to one per worker.
func (c JobConfig) Splits() int {
	if c.TargetSplits > 0 {
		return c.TargetSplits
	}
	return c.Workers
}

// Validate reports the first invalid field.
func (c JobConfig) Validate() error {
	if len(c.Inputs) == 0 {
		return errors.New("at least one input location is required")
	}
	if c.Output == "" {
		return errors.New("output location is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.Partitions < 1 {
		return fmt.Errorf("partitions must be >= 1, got %d", c.Partitions)
	}
	if c.TargetSplits < 0 {
		return fmt.Errorf("target_splits must be >= 0, got %d", c.TargetSplits)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry_backoff must be >= 0, got %s", c.RetryBackoff)
	}
	if c.FetchTimeout < 0 {
		return fmt.Errorf("fetch_timeout must be >= 0, got %s", c.FetchTimeout)
	}
	if c.MinSplitSize < 1 {
		return fmt.Errorf("min_split_size must be >= 1, got %d", c.MinSplitSize)
	}
	if _, err := ParseInputFormat(string(c.Format)); err != nil {
		return err
	}
	switch c.Spill {
	case SpillMemory, SpillSQLite:
	default:
		return fmt.Errorf("unknown spill backend %q (want %q or %q)", c.Spill, SpillMemory, SpillSQLite)
	}
	return nil
}
