package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	// Environment selects the active entry of Environments (e.g. "prod", "test").
	Environment  string                       `yaml:"environment"`
	Environments map[string]EnvironmentConfig `yaml:"environments"`
	Credentials  CredentialsConfig            `yaml:"credentials"`
	Pipeline     PipelineConfig               `yaml:"pipeline"`
	Supervisor   SupervisorConfig             `yaml:"supervisor"`
	Archive      ArchiveConfig                `yaml:"archive"`
	Report       ReportConfig                 `yaml:"report"`
	Session      SessionConfig                `yaml:"session"`
	Logging      LoggingConfig                `yaml:"logging"`
	Metrics      MetricsConfig                `yaml:"metrics"`
	Model        ModelConfig                  `yaml:"model"`
	Workers      []WorkerConfig               `yaml:"workers"`
}

// EnvironmentConfig holds the settings that differ between environments.
type EnvironmentConfig struct {
	AdmissionURL     string `yaml:"admission_url"`
	AdmissionToken   string `yaml:"admission_token"`
	AdmissionTimeout string `yaml:"admission_timeout"`
	// StorageDomain is the domain family output locations must live under.
	StorageDomain string `yaml:"storage_domain"`
	// EnvVars overrides credential environment variable names.
	EnvVars map[string]string `yaml:"env_vars"`
}

// CredentialsConfig configures credential fallbacks.
type CredentialsConfig struct {
	EnvVars     map[string]string `yaml:"env_vars"`
	SessionKeys map[string]string `yaml:"session_keys"`
	DotenvFiles []string          `yaml:"dotenv_files"`
}

// PipelineConfig configures the middleware pipeline.
type PipelineConfig struct {
	CallTimeout string `yaml:"call_timeout"`
	// ReferenceArgs are argument keys repaired against produced artifacts.
	ReferenceArgs []string `yaml:"reference_args"`
}

// SupervisorConfig configures the retry supervisor.
type SupervisorConfig struct {
	AcceptUnverifiedRetry bool `yaml:"accept_unverified_retry"`
}

// ArchiveConfig configures archive expansion.
type ArchiveConfig struct {
	Extension string `yaml:"extension"`
	// Extensions lists the member extensions kept during expansion; empty keeps all.
	Extensions       []string `yaml:"extensions"`
	MaxMembers       int      `yaml:"max_members"`
	UploadURL        string   `yaml:"upload_url"`
	PublicURL        string   `yaml:"public_url"`
	Token            string   `yaml:"token"`
	MaxDownloadBytes int64    `yaml:"max_download_bytes"`
}

// ReportConfig configures the merged report.
type ReportConfig struct {
	Sentinel string         `yaml:"sentinel"`
	Columns  []ColumnConfig `yaml:"columns"`
}

// ColumnConfig is one report column.
type ColumnConfig struct {
	Key       string `yaml:"key"`
	Header    string `yaml:"header"`
	Reference bool   `yaml:"reference"`
}

// SessionConfig selects the session store.
type SessionConfig struct {
	Driver string      `yaml:"driver"` // memory or redis
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis session store.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	TTL      string `yaml:"ttl"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// MetricsConfig configures Prometheus collectors.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// ModelConfig selects the model used by the model-assisted planner. An
// empty provider plans by capability only.
type ModelConfig struct {
	Provider    string  `yaml:"provider"` // "", openai or anthropic
	Name        string  `yaml:"name"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`
}

// WorkerConfig declares a worker served by a JSON-over-HTTP tool endpoint.
// Workers without an endpoint must be backed by a provider registered in code.
type WorkerConfig struct {
	Name         string            `yaml:"name"`
	Tool         string            `yaml:"tool"`
	Description  string            `yaml:"description"`
	Endpoint     string            `yaml:"endpoint"`
	Mode         string            `yaml:"mode"`
	Timeout      string            `yaml:"timeout"`
	Headers      map[string]string `yaml:"headers"`
	// RateLimit bounds calls per second to Endpoint; zero disables it.
	RateLimit    float64           `yaml:"rate_limit"`
	Burst        int               `yaml:"burst"`
	Priority     int               `yaml:"priority"`
	Capabilities []string          `yaml:"capabilities"`
	Contract     ContractConfig    `yaml:"contract"`
}

// ContractConfig is the structural contract of a worker result.
type ContractConfig struct {
	CountField     string          `yaml:"count_field"`
	DetailField    string          `yaml:"detail_field"`
	LocationField  string          `yaml:"location_field"`
	Location       *LocationConfig `yaml:"location"`
	RequiredFields []string        `yaml:"required_fields"`
}

// LocationConfig is the output location pattern of a contract. An empty
// domain family defaults to the active environment's storage domain.
type LocationConfig struct {
	Scheme       string   `yaml:"scheme"`
	DomainFamily string   `yaml:"domain_family"`
	Segments     []string `yaml:"segments"`
	Suffix       string   `yaml:"suffix"`
}

var (
	validModes   = []string{"none", "remote_profile", "environment"}
	validDrivers = []string{"memory", "redis"}
	validModels  = []string{"", "openai", "anthropic"}
)

// Load reads and parses the YAML configuration at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path must not be empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, filepath.Dir(path))
}

// Parse decodes YAML data, applies defaults and validates the result.
func Parse(data []byte, baseDir string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults("")
	return cfg
}

func (c *Config) applyDefaults(baseDir string) {
	if c.Environment == "" {
		c.Environment = "prod"
	}
	if c.Pipeline.CallTimeout == "" {
		c.Pipeline.CallTimeout = "5m"
	}
	if c.Archive.Extension == "" {
		c.Archive.Extension = ".zip"
	}
	if c.Archive.MaxMembers == 0 {
		c.Archive.MaxMembers = 256
	}
	if c.Report.Sentinel == "" {
		c.Report.Sentinel = "N/A"
	}
	if c.Session.Driver == "" {
		c.Session.Driver = "memory"
	}
	if c.Session.Redis.Prefix == "" {
		c.Session.Redis.Prefix = "toolmesh:session"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "toolmesh"
	}

	for i, f := range c.Credentials.DotenvFiles {
		if baseDir != "" && !filepath.IsAbs(f) {
			c.Credentials.DotenvFiles[i] = filepath.Join(baseDir, f)
		}
	}

	for i := range c.Workers {
		w := &c.Workers[i]
		if w.Tool == "" {
			w.Tool = w.Name
		}
		if w.Mode == "" {
			w.Mode = "none"
		}
		if loc := w.Contract.Location; loc != nil {
			if loc.Scheme == "" {
				loc.Scheme = "https"
			}
			if loc.DomainFamily == "" {
				loc.DomainFamily = c.Active().StorageDomain
			}
		}
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if len(c.Environments) > 0 {
		if _, ok := c.Environments[c.Environment]; !ok {
			return fmt.Errorf("environment %q is not configured", c.Environment)
		}
	}
	if !slices.Contains(validDrivers, c.Session.Driver) {
		return fmt.Errorf("unknown session driver %q", c.Session.Driver)
	}
	if c.Session.Driver == "redis" && c.Session.Redis.Address == "" {
		return errors.New("session.redis.address is required for the redis driver")
	}
	if !slices.Contains(validModels, c.Model.Provider) {
		return fmt.Errorf("unknown model provider %q", c.Model.Provider)
	}

	durations := map[string]string{
		"pipeline.call_timeout": c.Pipeline.CallTimeout,
		"session.redis.ttl":     c.Session.Redis.TTL,
		"admission_timeout":     c.Active().AdmissionTimeout,
	}
	for name, v := range durations {
		if _, err := ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	seen := map[string]bool{}
	for i, w := range c.Workers {
		if w.Name == "" {
			return fmt.Errorf("workers[%d]: name is required", i)
		}
		if seen[w.Name] {
			return fmt.Errorf("workers[%d]: duplicate worker %q", i, w.Name)
		}
		seen[w.Name] = true
		if !slices.Contains(validModes, w.Mode) {
			return fmt.Errorf("worker %s: unknown mode %q", w.Name, w.Mode)
		}
		if _, err := ParseDuration(w.Timeout); err != nil {
			return fmt.Errorf("worker %s: timeout: %w", w.Name, err)
		}
		if w.Contract.CountField != "" && w.Contract.DetailField == "" {
			return fmt.Errorf("worker %s: contract count_field requires detail_field", w.Name)
		}
		if loc := w.Contract.Location; loc != nil {
			if w.Contract.LocationField == "" {
				return fmt.Errorf("worker %s: contract location requires location_field", w.Name)
			}
			if len(loc.Segments) != 2 {
				return fmt.Errorf("worker %s: contract location requires exactly two segments", w.Name)
			}
			if loc.DomainFamily == "" {
				return fmt.Errorf("worker %s: contract location requires a domain family", w.Name)
			}
		}
	}
	return nil
}

// Active returns the settings of the selected environment.
func (c *Config) Active() EnvironmentConfig {
	return c.Environments[c.Environment]
}

// EnvVars merges the global credential env var names with the active
// environment's overrides.
func (c *Config) EnvVars() map[string]string {
	out := make(map[string]string, len(c.Credentials.EnvVars))
	for k, v := range c.Credentials.EnvVars {
		out[k] = v
	}
	for k, v := range c.Active().EnvVars {
		out[k] = v
	}
	return out
}

// ParseDuration parses a duration string; the empty string is zero.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
