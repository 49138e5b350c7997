// Package config provides configuration loading and management for Ragline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/ragline/slo"
)

// Config represents the complete Ragline configuration
type Config struct {
	Registry  RegistryConfig   `yaml:"registry"`
	Engine    EngineConfig     `yaml:"engine"`
	Batch     BatchConfig      `yaml:"batch"`
	SLO       SLOConfig        `yaml:"slo"`
	NATS      NATSConfig       `yaml:"nats"`
	Pipelines []PipelineConfig `yaml:"pipelines"`
}

// RegistryConfig configures the plugin registry
type RegistryConfig struct {
	// ContractsDir is the directory scanned for contract JSON files
	ContractsDir string `yaml:"contracts_dir"`
	// VerifySignatures enables manifest verification (nil = environment default)
	VerifySignatures *bool `yaml:"verify_signatures"`
	// FailClosed rejects registration on failed verification (nil = environment default)
	FailClosed *bool `yaml:"fail_closed"`
	// TrustedKeysPath points at the signer public-key file
	TrustedKeysPath string `yaml:"trusted_keys_path"`
	// DisableContractWarnings silences missing-contract warnings
	DisableContractWarnings bool `yaml:"disable_contract_warnings"`
	// ValidateContractSchema enables JSON-Schema validation of contracts
	ValidateContractSchema *bool `yaml:"validate_contract_schema"`
	// WatchContracts reloads contracts on file changes
	WatchContracts bool `yaml:"watch_contracts"`
}

// EngineConfig configures DAG execution
type EngineConfig struct {
	// MaxConcurrency bounds parallel node execution (0 = sequential)
	MaxConcurrency int `yaml:"max_concurrency"`
	// Timeout is the wall-clock limit per execution (0 = none)
	Timeout time.Duration `yaml:"timeout"`
	// MaxRetries is the per-node retry count when retries are enabled
	MaxRetries int `yaml:"max_retries"`
	// EnableCheckpoints snapshots state after each node
	EnableCheckpoints bool `yaml:"enable_checkpoints"`
}

// UnmarshalYAML accepts human-readable timeout values ("10m") as well
// as integer nanoseconds. Fields absent from the document keep their
// current values, so overlaying onto defaults works.
func (e *EngineConfig) UnmarshalYAML(value *yaml.Node) error {
	type rawEngine struct {
		MaxConcurrency    int    `yaml:"max_concurrency"`
		Timeout           string `yaml:"timeout"`
		MaxRetries        int    `yaml:"max_retries"`
		EnableCheckpoints bool   `yaml:"enable_checkpoints"`
	}
	raw := rawEngine{
		MaxConcurrency:    e.MaxConcurrency,
		MaxRetries:        e.MaxRetries,
		EnableCheckpoints: e.EnableCheckpoints,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	e.MaxConcurrency = raw.MaxConcurrency
	e.MaxRetries = raw.MaxRetries
	e.EnableCheckpoints = raw.EnableCheckpoints
	if raw.Timeout != "" {
		d, err := parseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("engine.timeout: %w", err)
		}
		e.Timeout = d
	}
	return nil
}

// BatchConfig configures the batch processor
type BatchConfig struct {
	// Model selects a preset for token and item limits
	Model string `yaml:"model"`
	// MaxTokensPerBatch caps the estimated token sum per batch
	MaxTokensPerBatch int `yaml:"max_tokens_per_batch"`
	// MaxItemsPerBatch caps the item count per batch
	MaxItemsPerBatch int `yaml:"max_items_per_batch"`
	// TargetUtilization scales the token budget (0 < u <= 1)
	TargetUtilization float64 `yaml:"target_utilization"`
	// AdaptiveSizing enables latency-based batch size tuning
	AdaptiveSizing bool `yaml:"adaptive_sizing"`
	// MaxMemoryMB enables RSS back-pressure when positive
	MaxMemoryMB int `yaml:"max_memory_mb"`
	// MaxRetries is the reattempt count per failed batch
	MaxRetries int `yaml:"max_retries"`
	// RetryDelay is the initial back-off interval
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// UnmarshalYAML accepts human-readable retry_delay values ("250ms") as
// well as integer nanoseconds.
func (b *BatchConfig) UnmarshalYAML(value *yaml.Node) error {
	type rawBatch struct {
		Model             string  `yaml:"model"`
		MaxTokensPerBatch int     `yaml:"max_tokens_per_batch"`
		MaxItemsPerBatch  int     `yaml:"max_items_per_batch"`
		TargetUtilization float64 `yaml:"target_utilization"`
		AdaptiveSizing    bool    `yaml:"adaptive_sizing"`
		MaxMemoryMB       int     `yaml:"max_memory_mb"`
		MaxRetries        int     `yaml:"max_retries"`
		RetryDelay        string  `yaml:"retry_delay"`
	}
	raw := rawBatch{
		Model:             b.Model,
		MaxTokensPerBatch: b.MaxTokensPerBatch,
		MaxItemsPerBatch:  b.MaxItemsPerBatch,
		TargetUtilization: b.TargetUtilization,
		AdaptiveSizing:    b.AdaptiveSizing,
		MaxMemoryMB:       b.MaxMemoryMB,
		MaxRetries:        b.MaxRetries,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	b.Model = raw.Model
	b.MaxTokensPerBatch = raw.MaxTokensPerBatch
	b.MaxItemsPerBatch = raw.MaxItemsPerBatch
	b.TargetUtilization = raw.TargetUtilization
	b.AdaptiveSizing = raw.AdaptiveSizing
	b.MaxMemoryMB = raw.MaxMemoryMB
	b.MaxRetries = raw.MaxRetries
	if raw.RetryDelay != "" {
		d, err := parseDuration(raw.RetryDelay)
		if err != nil {
			return fmt.Errorf("batch.retry_delay: %w", err)
		}
		b.RetryDelay = d
	}
	return nil
}

// parseDuration accepts Go duration strings and integer nanoseconds.
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(n), nil
}

// SLOConfig configures the SLO monitor
type SLOConfig struct {
	// DefineDefaults registers the standard operational SLOs
	DefineDefaults bool `yaml:"define_defaults"`
	// Objectives lists additional SLO definitions
	Objectives []slo.Definition `yaml:"objectives"`
}

// NATSConfig configures the event stream connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = event streaming disabled)
	URL string `yaml:"url"`
	// SubjectPrefix prefixes all published subjects (default: ragline)
	SubjectPrefix string `yaml:"subject_prefix"`
}

// PipelineConfig declares one named pipeline as a DAG of stage references
type PipelineConfig struct {
	Name   string        `yaml:"name"`
	Stages []StageConfig `yaml:"stages"`
}

// StageConfig references a registered plugin as one pipeline node
type StageConfig struct {
	// ID names the node within the pipeline
	ID string `yaml:"id"`
	// Category is the plugin category (loader, embedder, ...)
	Category string `yaml:"category"`
	// Plugin is the registered plugin name
	Plugin string `yaml:"plugin"`
	// DependsOn lists upstream node ids
	DependsOn []string `yaml:"depends_on"`
	// Options carries stage-specific settings
	Options map[string]any `yaml:"options"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Registry: RegistryConfig{
			ContractsDir: "contracts",
		},
		Engine: EngineConfig{
			MaxConcurrency: 4,
			Timeout:        10 * time.Minute,
			MaxRetries:     3,
		},
		Batch: BatchConfig{
			Model:             "text-embedding-3-small",
			TargetUtilization: 1.0,
			MaxRetries:        3,
			RetryDelay:        100 * time.Millisecond,
		},
		SLO: SLOConfig{
			DefineDefaults: true,
		},
		NATS: NATSConfig{
			URL:           "",
			SubjectPrefix: "ragline",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Engine.MaxConcurrency < 0 {
		return fmt.Errorf("engine.max_concurrency must not be negative")
	}
	if c.Batch.TargetUtilization < 0 || c.Batch.TargetUtilization > 1 {
		return fmt.Errorf("batch.target_utilization must be between 0 and 1")
	}
	for _, obj := range c.SLO.Objectives {
		if obj.Name == "" {
			return fmt.Errorf("slo.objectives: name is required")
		}
		if obj.Target <= 0 || obj.Target > 1 {
			return fmt.Errorf("slo.objectives[%s]: target must be in (0, 1]", obj.Name)
		}
	}
	for _, p := range c.Pipelines {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the pipeline's stage graph for structural errors.
func (p *PipelineConfig) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("pipeline %q has no stages", p.Name)
	}
	seen := make(map[string]bool, len(p.Stages))
	for _, s := range p.Stages {
		if s.ID == "" {
			return fmt.Errorf("pipeline %q: stage id is required", p.Name)
		}
		if seen[s.ID] {
			return fmt.Errorf("pipeline %q: duplicate stage id %q", p.Name, s.ID)
		}
		seen[s.ID] = true
		if s.Category == "" || s.Plugin == "" {
			return fmt.Errorf("pipeline %q: stage %q needs category and plugin", p.Name, s.ID)
		}
	}
	for _, s := range p.Stages {
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("pipeline %q: stage %q depends on unknown stage %q", p.Name, s.ID, dep)
			}
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Registry
	if other.Registry.ContractsDir != "" {
		c.Registry.ContractsDir = other.Registry.ContractsDir
	}
	if other.Registry.VerifySignatures != nil {
		c.Registry.VerifySignatures = other.Registry.VerifySignatures
	}
	if other.Registry.FailClosed != nil {
		c.Registry.FailClosed = other.Registry.FailClosed
	}
	if other.Registry.TrustedKeysPath != "" {
		c.Registry.TrustedKeysPath = other.Registry.TrustedKeysPath
	}
	if other.Registry.DisableContractWarnings {
		c.Registry.DisableContractWarnings = true
	}
	if other.Registry.ValidateContractSchema != nil {
		c.Registry.ValidateContractSchema = other.Registry.ValidateContractSchema
	}
	if other.Registry.WatchContracts {
		c.Registry.WatchContracts = true
	}

	// Engine
	if other.Engine.MaxConcurrency != 0 {
		c.Engine.MaxConcurrency = other.Engine.MaxConcurrency
	}
	if other.Engine.Timeout != 0 {
		c.Engine.Timeout = other.Engine.Timeout
	}
	if other.Engine.MaxRetries != 0 {
		c.Engine.MaxRetries = other.Engine.MaxRetries
	}
	if other.Engine.EnableCheckpoints {
		c.Engine.EnableCheckpoints = true
	}

	// Batch
	if other.Batch.Model != "" {
		c.Batch.Model = other.Batch.Model
	}
	if other.Batch.MaxTokensPerBatch != 0 {
		c.Batch.MaxTokensPerBatch = other.Batch.MaxTokensPerBatch
	}
	if other.Batch.MaxItemsPerBatch != 0 {
		c.Batch.MaxItemsPerBatch = other.Batch.MaxItemsPerBatch
	}
	if other.Batch.TargetUtilization != 0 {
		c.Batch.TargetUtilization = other.Batch.TargetUtilization
	}
	if other.Batch.AdaptiveSizing {
		c.Batch.AdaptiveSizing = true
	}
	if other.Batch.MaxMemoryMB != 0 {
		c.Batch.MaxMemoryMB = other.Batch.MaxMemoryMB
	}
	if other.Batch.MaxRetries != 0 {
		c.Batch.MaxRetries = other.Batch.MaxRetries
	}
	if other.Batch.RetryDelay != 0 {
		c.Batch.RetryDelay = other.Batch.RetryDelay
	}

	// SLO
	if other.SLO.DefineDefaults {
		c.SLO.DefineDefaults = true
	}
	if len(other.SLO.Objectives) > 0 {
		c.SLO.Objectives = other.SLO.Objectives
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.SubjectPrefix != "" {
		c.NATS.SubjectPrefix = other.NATS.SubjectPrefix
	}

	// Pipelines
	if len(other.Pipelines) > 0 {
		c.Pipelines = other.Pipelines
	}
}
