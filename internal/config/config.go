package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const minAdvisoryTimeout = 3 * time.Second

// Config models otdops.yml.
type Config struct {
	SLA struct {
		Critical time.Duration `yaml:"critical" json:"critical"`
		Warning  time.Duration `yaml:"warning" json:"warning"`
		Default  time.Duration `yaml:"default" json:"default"`
	} `yaml:"sla" json:"sla"`
	Rules struct {
		EqualityEpsilon     float64 `yaml:"equality_epsilon" json:"equality_epsilon"`
		ValidateSopOnCreate bool    `yaml:"validate_sop_on_create" json:"validate_sop_on_create"`
	} `yaml:"rules" json:"rules"`
	Tasks struct {
		DefaultSop    string        `yaml:"default_sop" json:"default_sop"`
		TriggerBucket time.Duration `yaml:"trigger_bucket" json:"trigger_bucket"`
		RootCauses    []string      `yaml:"root_causes" json:"root_causes"`
	} `yaml:"tasks" json:"tasks"`
	SOPs struct {
		CacheSize int           `yaml:"cache_size" json:"cache_size"`
		CacheTTL  time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	} `yaml:"sops" json:"sops"`
	Evaluation struct {
		Schedule         string `yaml:"schedule" json:"schedule"`
		Parallelism      int    `yaml:"parallelism" json:"parallelism"`
		GenerateOnIngest bool   `yaml:"generate_on_ingest" json:"generate_on_ingest"`
	} `yaml:"evaluation" json:"evaluation"`
	Advisory Advisory        `yaml:"advisory" json:"advisory"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks"`
}

type Advisory struct {
	Provider  string        `yaml:"provider" json:"provider"`
	Model     string        `yaml:"model" json:"model"`
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env" json:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events"`
	Secret         string   `yaml:"secret" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// SLAFor returns the due-time window for a rule severity; the empty severity uses the default window.
func (c *Config) SLAFor(severity string) time.Duration {
	switch severity {
	case "critical":
		return c.SLA.Critical
	case "warning":
		return c.SLA.Warning
	default:
		return c.SLA.Default
	}
}

// KnownRootCause reports whether the root cause is allowed. An empty catalog allows anything non-empty.
func (c *Config) KnownRootCause(rc string) bool {
	if strings.TrimSpace(rc) == "" {
		return false
	}
	if len(c.Tasks.RootCauses) == 0 {
		return true
	}
	for _, known := range c.Tasks.RootCauses {
		if known == rc {
			return true
		}
	}
	return false
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.SLA.Critical <= 0 || c.SLA.Warning <= 0 || c.SLA.Default <= 0 {
		return fmt.Errorf("config.sla windows must be positive")
	}
	if c.Rules.EqualityEpsilon < 0 {
		return fmt.Errorf("config.rules.equality_epsilon must be >= 0")
	}
	if c.Tasks.TriggerBucket <= 0 {
		return fmt.Errorf("config.tasks.trigger_bucket must be positive")
	}
	for _, rc := range c.Tasks.RootCauses {
		if strings.TrimSpace(rc) == "" {
			return fmt.Errorf("config.tasks.root_causes contains an empty entry")
		}
	}
	if c.SOPs.CacheSize < 0 {
		return fmt.Errorf("config.sops.cache_size must be >= 0")
	}
	if c.Evaluation.Parallelism < 1 {
		return fmt.Errorf("config.evaluation.parallelism must be >= 1")
	}
	switch c.Advisory.Provider {
	case "", "none", "openai":
	default:
		return fmt.Errorf("config.advisory.provider %q unknown (supported: none, openai)", c.Advisory.Provider)
	}
	if c.Advisory.Timeout != 0 && c.Advisory.Timeout < minAdvisoryTimeout {
		return fmt.Errorf("config.advisory.timeout must be at least %s", minAdvisoryTimeout)
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "otdops.yml")
}

// Load reads and validates config from workspace, falling back to defaults when no file exists.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `sla:
  critical: 4h
  warning: 24h
  default: 24h

rules:
  # '=' compares exactly unless this is > 0
  equality_epsilon: 0
  validate_sop_on_create: false

tasks:
  default_sop: ""
  trigger_bucket: 1m
  root_causes:
    - supply-chain.chip-shortage
    - supply-chain.logistics-delay
    - production.equipment-failure
    - production.staffing-shortage
    - other

sops:
  cache_size: 256
  cache_ttl: 5m

evaluation:
  # cron spec, e.g. "@every 1m"; empty disables scheduled evaluation
  schedule: ""
  parallelism: 4
  generate_on_ingest: false

advisory:
  provider: none
  model: gemini-2.5-flash
  base_url: ""
  api_key_env: OTDOPS_ADVISORY_API_KEY
  timeout: 30s

webhooks: []
`
