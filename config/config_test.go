package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadFromFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ragline.yaml")
	content := []byte(`
engine:
  max_concurrency: 8
batch:
  model: text-embedding-3-large
nats:
  url: nats://localhost:4222
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Engine.MaxConcurrency != 8 {
		t.Errorf("max_concurrency = %d, want 8", cfg.Engine.MaxConcurrency)
	}
	if cfg.Batch.Model != "text-embedding-3-large" {
		t.Errorf("batch model = %q", cfg.Batch.Model)
	}
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("nats url = %q", cfg.NATS.URL)
	}
	// Untouched sections keep their defaults.
	if cfg.Registry.ContractsDir != "contracts" {
		t.Errorf("contracts_dir = %q, want default", cfg.Registry.ContractsDir)
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Engine.Timeout = 42 * time.Second
	cfg.Registry.TrustedKeysPath = "/etc/ragline/keys.json"
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if loaded.Engine.Timeout != 42*time.Second {
		t.Errorf("timeout = %v, want 42s", loaded.Engine.Timeout)
	}
	if loaded.Registry.TrustedKeysPath != "/etc/ragline/keys.json" {
		t.Errorf("trusted keys = %q", loaded.Registry.TrustedKeysPath)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative concurrency", func(c *Config) { c.Engine.MaxConcurrency = -1 }},
		{"utilization above one", func(c *Config) { c.Batch.TargetUtilization = 1.5 }},
		{"pipeline without name", func(c *Config) {
			c.Pipelines = []PipelineConfig{{Stages: []StageConfig{{ID: "a", Category: "loader", Plugin: "file"}}}}
		}},
		{"pipeline without stages", func(c *Config) {
			c.Pipelines = []PipelineConfig{{Name: "p"}}
		}},
		{"duplicate stage id", func(c *Config) {
			c.Pipelines = []PipelineConfig{{Name: "p", Stages: []StageConfig{
				{ID: "a", Category: "loader", Plugin: "file"},
				{ID: "a", Category: "embedder", Plugin: "openai"},
			}}}
		}},
		{"unknown dependency", func(c *Config) {
			c.Pipelines = []PipelineConfig{{Name: "p", Stages: []StageConfig{
				{ID: "a", Category: "loader", Plugin: "file", DependsOn: []string{"ghost"}},
			}}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestMergePrecedence(t *testing.T) {
	base := DefaultConfig()
	verify := true
	base.Merge(&Config{
		Registry: RegistryConfig{VerifySignatures: &verify, ContractsDir: "/opt/contracts"},
		Engine:   EngineConfig{MaxConcurrency: 16},
		NATS:     NATSConfig{URL: "nats://remote:4222"},
	})

	if base.Registry.VerifySignatures == nil || !*base.Registry.VerifySignatures {
		t.Error("verify_signatures not merged")
	}
	if base.Registry.ContractsDir != "/opt/contracts" {
		t.Errorf("contracts_dir = %q", base.Registry.ContractsDir)
	}
	if base.Engine.MaxConcurrency != 16 {
		t.Errorf("max_concurrency = %d", base.Engine.MaxConcurrency)
	}
	if base.NATS.URL != "nats://remote:4222" {
		t.Errorf("nats url = %q", base.NATS.URL)
	}
	// Zero values never clobber existing settings.
	if base.Batch.Model != "text-embedding-3-small" {
		t.Errorf("batch model = %q, want default preserved", base.Batch.Model)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvNATSURL, "nats://env:4222")
	t.Setenv(EnvContractsDir, "/env/contracts")

	l := NewLoader(nil)
	cfg := DefaultConfig()
	l.applyEnv(cfg)

	if cfg.NATS.URL != "nats://env:4222" {
		t.Errorf("nats url = %q", cfg.NATS.URL)
	}
	if cfg.Registry.ContractsDir != "/env/contracts" {
		t.Errorf("contracts_dir = %q", cfg.Registry.ContractsDir)
	}
}

func TestPipelineConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipelines = []PipelineConfig{{
		Name: "ingest",
		Stages: []StageConfig{
			{ID: "load", Category: "loader", Plugin: "file"},
			{ID: "embed", Category: "embedder", Plugin: "openai", DependsOn: []string{"load"}},
			{ID: "store", Category: "retriever", Plugin: "memory", DependsOn: []string{"embed"}},
		},
	}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid pipeline rejected: %v", err)
	}
}

func TestDurationStringsInYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
engine:
  timeout: 10m
batch:
  retry_delay: 250ms
slo:
  objectives:
    - name: ingest-success
      target: 0.99
      window: 1h
      latency_threshold: 500ms
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Engine.Timeout != 10*time.Minute {
		t.Errorf("timeout = %v, want 10m", cfg.Engine.Timeout)
	}
	if cfg.Batch.RetryDelay != 250*time.Millisecond {
		t.Errorf("retry_delay = %v, want 250ms", cfg.Batch.RetryDelay)
	}
	if len(cfg.SLO.Objectives) != 1 {
		t.Fatalf("objectives = %d, want 1", len(cfg.SLO.Objectives))
	}
	obj := cfg.SLO.Objectives[0]
	if obj.Window != time.Hour {
		t.Errorf("window = %v, want 1h", obj.Window)
	}
	if obj.LatencyThreshold != 500*time.Millisecond {
		t.Errorf("latency_threshold = %v, want 500ms", obj.LatencyThreshold)
	}
	// Partial overlays keep defaults for absent keys.
	if cfg.Engine.MaxConcurrency != 4 {
		t.Errorf("max_concurrency = %d, want default 4", cfg.Engine.MaxConcurrency)
	}
	if cfg.Batch.Model != "text-embedding-3-small" {
		t.Errorf("batch model = %q, want default preserved", cfg.Batch.Model)
	}
}

func TestBadDurationRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("engine:\n  timeout: soon\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}
