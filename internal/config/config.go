package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"todoline/internal/logging"
)

const (
	InsertPrepend = "prepend"
	InsertAppend  = "append"
)

// Config models todoline.yml (or todoline.toml).
type Config struct {
	Storage struct {
		Namespace string `yaml:"namespace" toml:"namespace" json:"namespace"`
	} `yaml:"storage" toml:"storage" json:"storage"`
	List struct {
		Limit  int    `yaml:"limit" toml:"limit" json:"limit"`
		Insert string `yaml:"insert" toml:"insert" json:"insert"`
	} `yaml:"list" toml:"list" json:"list"`
	History struct {
		Limit int `yaml:"limit" toml:"limit" json:"limit"`
	} `yaml:"history" toml:"history" json:"history"`
	Log struct {
		Level  string `yaml:"level" toml:"level" json:"level"`
		Format string `yaml:"format" toml:"format" json:"format"`
	} `yaml:"log" toml:"log" json:"log"`
	Server struct {
		Addr      string `yaml:"addr" toml:"addr" json:"addr"`
		BasePath  string `yaml:"base_path" toml:"base_path" json:"base_path"`
		JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret" json:"-"`
	} `yaml:"server" toml:"server" json:"server"`
}

var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)*$`)

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Storage.Namespace == "" {
		return fmt.Errorf("config.storage.namespace is required")
	}
	if !namespacePattern.MatchString(c.Storage.Namespace) {
		return fmt.Errorf("config.storage.namespace %q may only contain letters, digits, '-', '_' and '.'", c.Storage.Namespace)
	}
	if c.List.Limit < 0 {
		return fmt.Errorf("config.list.limit must be >= 0 (0 means unbounded)")
	}
	switch c.List.Insert {
	case InsertPrepend, InsertAppend:
	default:
		return fmt.Errorf("config.list.insert must be %q or %q", InsertPrepend, InsertAppend)
	}
	if c.History.Limit < 0 {
		return fmt.Errorf("config.history.limit must be >= 0 (0 means unbounded)")
	}
	if err := logging.ValidateLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config.log.level: %w", err)
	}
	if err := logging.ValidateFormat(c.Log.Format); err != nil {
		return fmt.Errorf("config.log.format: %w", err)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with '/'")
	}
	return nil
}

// Path returns the YAML config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "todoline.yml")
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads and validates config from path. The format follows the file
// extension: .toml is decoded as TOML, anything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with td config init", path)
		}
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FromTOML(data)
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return Load(path)
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// the document keep their default values.
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

// FromTOML parses and validates config from raw TOML bytes.
func FromTOML(data []byte) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid config toml: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config key %s", undecoded[0])
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// YAML renders the config, omitting the JWT secret.
func (c *Config) YAML() (string, error) {
	redacted := *c
	if redacted.Server.JWTSecret != "" {
		redacted.Server.JWTSecret = "<redacted>"
	}
	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

const defaultTemplate = `storage:
  namespace: todoline

list:
  # 0 keeps every task
  limit: 0
  # where new tasks go: prepend | append
  insert: prepend

history:
  # number of snapshots kept for undo; 0 keeps every snapshot
  limit: 100

log:
  level: info   # debug | info | warn | error
  format: text  # text | json | logfmt

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  jwt_secret: ""
`
