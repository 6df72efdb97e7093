// Package config handles loading and validating credresolve configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for credresolve.
type Config struct {
	Backend       string               `json:"backend" yaml:"backend"`                                 // "env" (default) or "vault". Override: CREDRESOLVE_BACKEND.
	Secrets       []string             `json:"secrets,omitempty" yaml:"secrets,omitempty"`             // Names to resolve. Default: username, password, api_key. Override: CREDRESOLVE_SECRETS.
	CollectAll    bool                 `json:"collect_all" yaml:"collect_all"`                         // Report every failing name instead of stopping at the first.
	Env           EnvConfig            `json:"env" yaml:"env"`                                         // Environment backend settings.
	Vault         VaultConfig          `json:"vault" yaml:"vault"`                                     // Vault backend settings.
	Audit         *AuditConfig         `json:"audit,omitempty" yaml:"audit,omitempty"`                 // nil = audit trail disabled
	Probes        []ProbeConfig        `json:"probes,omitempty" yaml:"probes,omitempty"`               // Scheduled resolution probes (serve mode).
	HTTP          HTTPConfig           `json:"http" yaml:"http"`                                       // Status API (serve mode).
	Notify        *NotifyConfig        `json:"notify,omitempty" yaml:"notify,omitempty"`               // Probe transition alerts (serve mode). nil = disabled.
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Log           LogConfig            `json:"log" yaml:"log"`
}

// EnvConfig configures the environment backend's key/value store.
type EnvConfig struct {
	Files        []string `json:"files,omitempty" yaml:"files,omitempty"`                   // Dotenv files, later files win. Default: [".secrets"].
	IncludeOSEnv *bool    `json:"include_os_env,omitempty" yaml:"include_os_env,omitempty"` // Overlay process environment on top of files. Default: true.
	Prefix       string   `json:"prefix,omitempty" yaml:"prefix,omitempty"`                 // Prepended to every lookup, e.g. "APP_".
	Optional     bool     `json:"optional" yaml:"optional"`                                 // Skip dotenv files that do not exist.
	Uppercase    *bool    `json:"uppercase,omitempty" yaml:"uppercase,omitempty"`           // Upper-case names before lookup ("api_key" reads API_KEY). Default: true.
}

// OSEnvEnabled reports whether the process environment is merged into the store.
func (e EnvConfig) OSEnvEnabled() bool {
	return e.IncludeOSEnv == nil || *e.IncludeOSEnv
}

// UppercaseEnabled reports whether names are upper-cased before lookup.
func (e EnvConfig) UppercaseEnabled() bool {
	return e.Uppercase == nil || *e.Uppercase
}

// VaultConfig configures the remote secret store.
type VaultConfig struct {
	Provider       string          `json:"provider" yaml:"provider"`               // "azure" (default), "hashicorp" or "infisical".
	TimeoutSeconds int             `json:"timeout_seconds" yaml:"timeout_seconds"` // Per-fetch timeout. Default: 10. Negative disables.
	Azure          AzureConfig     `json:"azure" yaml:"azure"`
	HashiCorp      HashiCorpConfig `json:"hashicorp" yaml:"hashicorp"`
	Infisical      InfisicalConfig `json:"infisical" yaml:"infisical"`
}

// Timeout returns the per-fetch timeout, 0 when disabled.
func (v VaultConfig) Timeout() time.Duration {
	switch {
	case v.TimeoutSeconds < 0:
		return 0
	case v.TimeoutSeconds == 0:
		return 10 * time.Second
	default:
		return time.Duration(v.TimeoutSeconds) * time.Second
	}
}

// AzureConfig configures Azure Key Vault access.
type AzureConfig struct {
	Name string `json:"name" yaml:"name"` // Vault name; URI is https://{name}.vault.azure.net. Override: KEY_VAULT_NAME.
}

// HashiCorpConfig configures HashiCorp Vault KV v2 access.
// Address, token and namespace are overridden by VAULT_ADDR, VAULT_TOKEN, VAULT_NAMESPACE.
type HashiCorpConfig struct {
	Address       string `json:"address" yaml:"address"`
	Token         string `json:"token,omitempty" yaml:"token,omitempty"`
	Namespace     string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Mount         string `json:"mount" yaml:"mount"` // Default: "secret".
	Path          string `json:"path" yaml:"path"`   // Secret document holding one field per name.
	TLSSkipVerify bool   `json:"tls_skip_verify" yaml:"tls_skip_verify"`
}

// InfisicalConfig configures Infisical access.
// Overridden by INFISICAL_URL, INFISICAL_TOKEN, INFISICAL_PROJECT_ID, INFISICAL_ENVIRONMENT.
type InfisicalConfig struct {
	URL         string `json:"url" yaml:"url"`
	Token       string `json:"token,omitempty" yaml:"token,omitempty"`
	ProjectID   string `json:"project_id" yaml:"project_id"`
	Environment string `json:"environment" yaml:"environment"` // Default: "dev".
	Path        string `json:"path" yaml:"path"`               // Default: "/".
}

// AuditConfig configures the resolution audit trail.
type AuditConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`                 // "sqlite" (default) or "postgres".
	Path    string `json:"path,omitempty" yaml:"path,omitempty"` // SQLite file. Default: ~/.credresolve/audit.db.
	DSN     string `json:"dsn,omitempty" yaml:"dsn,omitempty"`   // PostgreSQL DSN. Override: CREDRESOLVE_AUDIT_DSN.
	Retain  int    `json:"retain_days" yaml:"retain_days"`       // Prune events older than this many days. 0 = keep forever.
}

// AuditDriver returns the configured driver, defaulting to "sqlite".
func (a *AuditConfig) AuditDriver() string {
	if a != nil && a.Driver != "" {
		return a.Driver
	}
	return "sqlite"
}

// ProbeConfig schedules a periodic resolution used for health reporting.
type ProbeConfig struct {
	Name     string   `json:"name" yaml:"name"`
	Schedule string   `json:"schedule" yaml:"schedule"`                   // Cron spec or descriptor, e.g. "*/5 * * * *" or "@every 5m".
	Secrets  []string `json:"secrets,omitempty" yaml:"secrets,omitempty"` // Default: top-level secrets.
}

// HTTPConfig configures the status API.
type HTTPConfig struct {
	ListenAddr  string   `json:"listen_addr" yaml:"listen_addr"`               // Default: ":9090".
	MetricsPath string   `json:"metrics_path" yaml:"metrics_path"`             // Default: "/metrics".
	APIKeys     []string `json:"api_keys,omitempty" yaml:"api_keys,omitempty"` // Bearer keys for /v1. Empty = open. Override: CREDRESOLVE_API_KEYS.

	// On-demand probe runs per caller. 0 = unlimited.
	RunsPerMinute int `json:"runs_per_minute" yaml:"runs_per_minute"`
	RunBurst      int `json:"run_burst" yaml:"run_burst"` // Default: runs_per_minute.
}

// NotifyConfig configures where probe transitions are reported.
type NotifyConfig struct {
	Webhooks     []string     `json:"webhooks,omitempty" yaml:"webhooks,omitempty"` // JSON POST targets.
	AllowPrivate bool         `json:"allow_private" yaml:"allow_private"`           // Permit webhook hosts on private networks.
	Slack        *SlackConfig `json:"slack,omitempty" yaml:"slack,omitempty"`
}

// SlackConfig configures the Slack notifier.
type SlackConfig struct {
	Token   string `json:"token" yaml:"token"` // Bot token. Override: CREDRESOLVE_SLACK_TOKEN.
	Channel string `json:"channel" yaml:"channel"`
}

// ObservabilityConfig configures metrics and tracing.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "credresolve"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// AnomalyConfig configures threshold-based detection of failing backends.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // e.g. 0.5 = 50% failed fetches
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Sliding window. Default: 300
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info (default), warn, error. Override: CREDRESOLVE_LOG_LEVEL.
	Format string `json:"format" yaml:"format"` // "json" (default) or "text".
}

// DefaultConfigPath returns the default config file path (~/.credresolve/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "credresolve.yaml"
	}
	return filepath.Join(home, ".credresolve", "config.yaml")
}

// Default returns a validated configuration with no file behind it:
// environment backend over ".secrets" plus the process environment.
func Default() (*Config, error) {
	var cfg Config
	cfg.Env.Optional = true
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads path, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default()
	}
	return cfg, err
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .json for JSON, everything else for YAML.
// Environment variables take precedence over values from the file.
func Load(path string) (*Config, error) {
	// Expand ~ in config path.
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", resolved, err)
	}
	return &cfg, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) {
	if v := os.Getenv("CREDRESOLVE_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("CREDRESOLVE_SECRETS"); v != "" {
		cfg.Secrets = splitList(v)
	}
	if v := os.Getenv("KEY_VAULT_NAME"); v != "" {
		cfg.Vault.Azure.Name = v
	}
	if v := os.Getenv("CREDRESOLVE_AUDIT_DSN"); v != "" {
		if cfg.Audit == nil {
			cfg.Audit = &AuditConfig{Enabled: true, Driver: "postgres"}
		}
		cfg.Audit.DSN = v
	}
	if v := os.Getenv("CREDRESOLVE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CREDRESOLVE_API_KEYS"); v != "" {
		cfg.HTTP.APIKeys = splitList(v)
	}
	if v := os.Getenv("CREDRESOLVE_SLACK_TOKEN"); v != "" && cfg.Notify != nil && cfg.Notify.Slack != nil {
		cfg.Notify.Slack.Token = v
	}
}

func (c *Config) validate() error {
	if c.Backend == "" {
		c.Backend = "env"
	}
	if len(c.Secrets) == 0 {
		c.Secrets = []string{"username", "password", "api_key"}
	}
	if err := validateNames("secrets", c.Secrets); err != nil {
		return err
	}

	switch c.Backend {
	case "env":
		if c.Env.Files == nil {
			c.Env.Files = []string{".secrets"}
		}
	case "vault":
		if err := c.validateVault(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("backend %q is not supported (use env or vault)", c.Backend)
	}

	if c.Audit != nil && c.Audit.Enabled {
		switch c.Audit.AuditDriver() {
		case "sqlite":
			if c.Audit.Path == "" {
				c.Audit.Path = filepath.Join(filepath.Dir(DefaultConfigPath()), "audit.db")
			}
		case "postgres":
			if c.Audit.DSN == "" {
				return fmt.Errorf("audit.dsn is required for the postgres driver (set CREDRESOLVE_AUDIT_DSN)")
			}
		default:
			return fmt.Errorf("audit.driver %q is not supported (use sqlite or postgres)", c.Audit.Driver)
		}
		if c.Audit.Retain < 0 {
			return fmt.Errorf("audit.retain_days must not be negative")
		}
	}

	probeNames := make(map[string]bool, len(c.Probes))
	for i := range c.Probes {
		p := &c.Probes[i]
		if p.Name == "" {
			return fmt.Errorf("probes[%d].name is required", i)
		}
		if probeNames[p.Name] {
			return fmt.Errorf("probes[%d]: duplicate probe name %q", i, p.Name)
		}
		probeNames[p.Name] = true
		if p.Schedule == "" {
			return fmt.Errorf("probes[%d] (%q): schedule is required", i, p.Name)
		}
		if len(p.Secrets) == 0 {
			p.Secrets = c.Secrets
		}
		if err := validateNames(fmt.Sprintf("probes[%d].secrets", i), p.Secrets); err != nil {
			return err
		}
	}

	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = ":9090"
	}
	if c.HTTP.MetricsPath == "" {
		c.HTTP.MetricsPath = "/metrics"
	}
	if c.Notify != nil {
		if c.Notify.Slack != nil && (c.Notify.Slack.Token == "" || c.Notify.Slack.Channel == "") {
			return fmt.Errorf("notify.slack requires token and channel")
		}
		for i, u := range c.Notify.Webhooks {
			if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
				return fmt.Errorf("notify.webhooks[%d]: %q is not an http(s) URL", i, u)
			}
		}
	}
	if c.HTTP.RunsPerMinute < 0 || c.HTTP.RunBurst < 0 {
		return fmt.Errorf("http.runs_per_minute and http.run_burst must not be negative")
	}

	switch strings.ToLower(c.Log.Level) {
	case "":
		c.Log.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not supported (use debug, info, warn or error)", c.Log.Level)
	}
	switch c.Log.Format {
	case "":
		c.Log.Format = "json"
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q is not supported (use json or text)", c.Log.Format)
	}
	return nil
}

// validateVault checks that the selected vault provider has the required fields.
// Credentials that may come from the environment are checked by the client constructors.
func (c *Config) validateVault() error {
	if c.Vault.Provider == "" {
		c.Vault.Provider = "azure"
	}
	switch c.Vault.Provider {
	case "azure":
		if c.Vault.Azure.Name == "" {
			return fmt.Errorf("vault.azure.name is required (set KEY_VAULT_NAME env var)")
		}
	case "hashicorp":
		if c.Vault.HashiCorp.Path == "" {
			return fmt.Errorf("vault.hashicorp.path is required")
		}
	case "infisical":
	default:
		return fmt.Errorf("vault.provider %q is not supported (use azure, hashicorp or infisical)", c.Vault.Provider)
	}
	return nil
}

func validateNames(field string, names []string) error {
	seen := make(map[string]bool, len(names))
	for i, n := range names {
		if n == "" {
			return fmt.Errorf("%s[%d] must not be empty", field, i)
		}
		if seen[n] {
			return fmt.Errorf("%s: duplicate name %q", field, n)
		}
		seen[n] = true
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
