package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimeoutSeconds = 10
	defaultPollSeconds    = 2
	defaultNotifyPath     = "/Assignment/Notify"
)

// Config models stepline.yml.
type Config struct {
	Server struct {
		URL            string `yaml:"url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"server"`
	Notify struct {
		Path        string `yaml:"path"`
		PollSeconds int    `yaml:"poll_seconds"`
	} `yaml:"notify"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it or pass --server", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config pointing at the given server URL.
func Default(serverURL string) *Config {
	var cfg Config
	cfg.Server.URL = serverURL
	cfg.applyDefaults()
	return &cfg
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "stepline.yml")
}

func (c *Config) applyDefaults() {
	if c.Server.TimeoutSeconds <= 0 {
		c.Server.TimeoutSeconds = defaultTimeoutSeconds
	}
	if c.Notify.Path == "" {
		c.Notify.Path = defaultNotifyPath
	}
	if c.Notify.PollSeconds <= 0 {
		c.Notify.PollSeconds = defaultPollSeconds
	}
}

// Validate ensures the config meets required structure and fills defaults.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.URL) == "" {
		return fmt.Errorf("config.server.url is required")
	}
	c.applyDefaults()
	return nil
}

// Timeout returns the request timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// NotifyURL joins the server URL and the notify path.
func (c *Config) NotifyURL() string {
	return strings.TrimRight(c.Server.URL, "/") + "/" + strings.TrimLeft(c.Notify.Path, "/")
}
