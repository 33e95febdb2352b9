// Package config loads and validates the application configuration from a
// YAML (or JSON) file, with environment variables taking precedence for
// secrets. The loader keeps the last good configuration across failed
// reloads.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Normalize when the file leaves a field empty.
const (
	DefaultModelName      = "claude-sonnet-4-20250514"
	DefaultMaxTokens      = 4096
	DefaultRetries        = 2
	DefaultWindow         = 5
	DefaultSnippetTimeout = 5 * time.Second
	DefaultDeviceTimeout  = 2 * time.Second
	DefaultListenAddr     = ":8080"
)

// AppConfig is the declarative application definition.
type AppConfig struct {
	Model     ModelBlock     `json:"model" yaml:"model"`
	Devices   DeviceBlock    `json:"devices" yaml:"devices"`
	Memory    MemoryBlock    `json:"memory" yaml:"memory"`
	Pipeline  PipelineBlock  `json:"pipeline" yaml:"pipeline"`
	Server    ServerBlock    `json:"server" yaml:"server"`
	Telemetry TelemetryBlock `json:"telemetry" yaml:"telemetry"`
	SkillsDir string         `json:"skills_dir" yaml:"skills_dir"`
	AuditDir  string         `json:"audit_dir" yaml:"audit_dir"`

	SourcePath string `json:"-" yaml:"-"`
}

// ModelBlock selects and parameterizes the language-model backend. The
// provider is usually inferred from the model name; set it to override.
type ModelBlock struct {
	Provider  string `json:"provider" yaml:"provider"`
	Name      string `json:"name" yaml:"name"`
	APIKeyEnv string `json:"api_key_env" yaml:"api_key_env"`
	BaseURL   string `json:"base_url" yaml:"base_url"`
	MaxTokens int    `json:"max_tokens" yaml:"max_tokens"`
}

// DeviceBlock points at the device catalog and bounds gateway calls.
type DeviceBlock struct {
	CatalogPath string        `json:"catalog_path" yaml:"catalog_path"`
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout"`
	MaxInFlight int           `json:"max_in_flight" yaml:"max_in_flight"`
	Mock        bool          `json:"mock" yaml:"mock"`
}

// MemoryBlock selects the turn store backend.
type MemoryBlock struct {
	Backend string `json:"backend" yaml:"backend"` // "sqlite" or "inmem"
	Path    string `json:"path" yaml:"path"`
}

// PipelineBlock bounds the agent loop.
type PipelineBlock struct {
	Retries        int           `json:"retries" yaml:"retries"`
	Window         int           `json:"window" yaml:"window"`
	SnippetTimeout time.Duration `json:"snippet_timeout" yaml:"snippet_timeout"`
}

// ServerBlock configures the HTTP adapter.
type ServerBlock struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
}

// TelemetryBlock configures trace export. An empty endpoint disables export.
type TelemetryBlock struct {
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
	Environment string `json:"environment" yaml:"environment"`
}

// Provider names accepted in ModelBlock.Provider.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// ResolveProvider returns the explicit provider, or infers one from the
// model-name prefix (gpt-*/o* → openai, everything else → anthropic).
func (m ModelBlock) ResolveProvider() string {
	if p := strings.ToLower(strings.TrimSpace(m.Provider)); p != "" {
		return p
	}
	name := strings.ToLower(strings.TrimSpace(m.Name))
	if strings.HasPrefix(name, "gpt-") || strings.HasPrefix(name, "o1") || strings.HasPrefix(name, "o3") || strings.HasPrefix(name, "o4") {
		return ProviderOpenAI
	}
	return ProviderAnthropic
}

// APIKey reads the configured key variable, falling back to the provider's
// conventional one.
func (m ModelBlock) APIKey() string {
	if m.APIKeyEnv != "" {
		return os.Getenv(m.APIKeyEnv)
	}
	switch m.ResolveProvider() {
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	default:
		return os.Getenv("ANTHROPIC_API_KEY")
	}
}

// Normalize trims whitespace and fills defaults.
func (c *AppConfig) Normalize() {
	if c == nil {
		return
	}
	c.Model.Provider = strings.TrimSpace(c.Model.Provider)
	c.Model.Name = strings.TrimSpace(c.Model.Name)
	if c.Model.Name == "" {
		c.Model.Name = DefaultModelName
	}
	if c.Model.MaxTokens <= 0 {
		c.Model.MaxTokens = DefaultMaxTokens
	}
	if c.Devices.CatalogPath != "" {
		c.Devices.CatalogPath = filepath.Clean(c.Devices.CatalogPath)
	}
	if c.Devices.CallTimeout <= 0 {
		c.Devices.CallTimeout = DefaultDeviceTimeout
	}
	if c.Memory.Backend == "" {
		c.Memory.Backend = "inmem"
	}
	c.Memory.Backend = strings.ToLower(strings.TrimSpace(c.Memory.Backend))
	if c.Pipeline.Retries <= 0 {
		c.Pipeline.Retries = DefaultRetries
	}
	if c.Pipeline.Window <= 0 {
		c.Pipeline.Window = DefaultWindow
	}
	if c.Pipeline.SnippetTimeout <= 0 {
		c.Pipeline.SnippetTimeout = DefaultSnippetTimeout
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.AuditDir != "" {
		c.AuditDir = filepath.Clean(c.AuditDir)
	}
}

// Loader loads, validates, and caches config state.
type Loader struct {
	path      string
	validator Validator

	mu   sync.Mutex
	last atomic.Pointer[AppConfig]
}

// LoaderOption customizes loader behaviour.
type LoaderOption func(*Loader)

// WithValidator injects a custom Validator.
func WithValidator(v Validator) LoaderOption {
	return func(l *Loader) { l.validator = v }
}

// NewLoader wires a loader for the provided config file path.
func NewLoader(path string, opts ...LoaderOption) (*Loader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	loader := &Loader{path: abs, validator: NewDefaultValidator()}
	for _, opt := range opts {
		opt(loader)
	}
	if loader.validator == nil {
		loader.validator = NewDefaultValidator()
	}
	return loader, nil
}

// Path returns the absolute config file path.
func (l *Loader) Path() string { return l.path }

// Last returns the most recent valid configuration.
func (l *Loader) Last() (*AppConfig, bool) {
	cfg := l.last.Load()
	if cfg == nil {
		return nil, false
	}
	return cfg, true
}

// Load reads and validates the file. A missing file yields the defaults.
func (l *Loader) Load() (*AppConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, err := l.loadOnce()
	if err != nil {
		return nil, err
	}
	l.last.Store(cfg)
	return cfg, nil
}

// Reload attempts to refresh configuration keeping the last good state on error.
func (l *Loader) Reload() (*AppConfig, error) {
	prev, _ := l.Last()
	cfg, err := l.Load()
	if err != nil {
		if prev != nil {
			return prev, fmt.Errorf("reload failed, keeping last good config: %w", err)
		}
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) loadOnce() (*AppConfig, error) {
	raw, err := os.ReadFile(l.path)
	var cfg *AppConfig
	switch {
	case err == nil:
		cfg, err = decodeAppConfig(raw)
		if err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist):
		cfg = &AppConfig{}
		cfg.Normalize()
	default:
		return nil, err
	}
	cfg.SourcePath = l.path

	if l.validator != nil {
		if err := l.validator.Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func decodeAppConfig(raw []byte) (*AppConfig, error) {
	cfg := &AppConfig{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, errors.New("config payload is empty")
	}
	if err := decodeMixedYAMLJSON(raw, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

// ParseAppConfig parses yaml or json into AppConfig.
func ParseAppConfig(data []byte) (*AppConfig, error) {
	return decodeAppConfig(data)
}

func decodeMixedYAMLJSON(data []byte, out any) error {
	if err := yaml.Unmarshal(data, out); err == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err == nil {
		return nil
	}
	return errors.New("config decode failed: unsupported format")
}
