package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 6970
	DefaultHost           = "127.0.0.1"
	DefaultConfigFilename = "config.json"
	DefaultYAMLFilename   = "config.yaml"
)

type Provider struct {
	Name    string   `json:"name"         yaml:"name"`
	APIBase string   `json:"api_base_url" yaml:"api_base_url"`
	APIKey  string   `json:"api_key"      yaml:"api_key"`
	Models  []string `json:"models"       yaml:"models"`
}

// ResolveAPIKey returns the configured credential, falling back to the
// <NAME>_API_KEY environment variable when the config leaves it empty.
func (p *Provider) ResolveAPIKey() string {
	if p.APIKey != "" {
		return p.APIKey
	}

	return os.Getenv(strings.ToUpper(p.Name) + "_API_KEY")
}

type RouterConfig struct {
	Default     string `json:"default"               yaml:"default"`
	Background  string `json:"background,omitempty"  yaml:"background,omitempty"`
	LongContext string `json:"longContext,omitempty" yaml:"longContext,omitempty"`
	Think       string `json:"think,omitempty"       yaml:"think,omitempty"`
}

type Config struct {
	Host           string       `json:"HOST,omitempty"            yaml:"host,omitempty"`
	Port           int          `json:"PORT,omitempty"            yaml:"port,omitempty"`
	APIKey         string       `json:"APIKEY,omitempty"          yaml:"api_key,omitempty"`
	TimeoutSeconds int          `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	Providers      []Provider   `json:"Providers"                 yaml:"providers"`
	Router         RouterConfig `json:"Router"                    yaml:"router"`
}

// FindProvider looks up a provider entry by name.
func (c *Config) FindProvider(name string) (*Provider, bool) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], true
		}
	}

	return nil, false
}

// Manager loads and holds a config snapshot. Readers get a consistent view
// via atomic.Value; reloads swap the whole snapshot.
type Manager struct {
	baseDir     string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{baseDir: baseDir}
}

// Load reads the YAML config when present, otherwise the JSON one.
func (m *Manager) Load() (*Config, error) {
	var cfg Config

	yamlPath := filepath.Join(m.baseDir, DefaultYAMLFilename)
	if data, err := os.ReadFile(yamlPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml config: %w", err)
		}
	} else {
		data, err := os.ReadFile(filepath.Join(m.baseDir, DefaultConfigFilename))
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}

	m.configValue.Store(&cfg)

	return &cfg, nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		return &Config{
			Host: DefaultHost,
			Port: DefaultPort,
		}
	}

	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	path := filepath.Join(m.baseDir, DefaultConfigFilename)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)

	return nil
}

func (m *Manager) GetPath() string {
	yamlPath := filepath.Join(m.baseDir, DefaultYAMLFilename)
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath
	}

	return filepath.Join(m.baseDir, DefaultConfigFilename)
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.GetPath())
	return err == nil
}
