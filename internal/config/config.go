package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigDir = "SEEDGRAPH_CONFIG_DIR"
	EnvServerURL = "SEEDGRAPH_URL"

	DefaultServerURL = "http://localhost:9090"
	DefaultLogMode   = "dev"
)

var ErrUnknownKey = errors.New("unknown config key")

// Config holds user settings. Zero values mean "use the default".
type Config struct {
	ServerURL  string `yaml:"server_url,omitempty"`
	TimeoutSec int    `yaml:"timeout_sec,omitempty"`
	DBPath     string `yaml:"db_path,omitempty"`
	LogMode    string `yaml:"log_mode,omitempty"`
	Verbose    bool   `yaml:"verbose,omitempty"`
	OutputDir  string `yaml:"output_dir,omitempty"`
}

// Store reads and writes config.yaml in the platform config directory.
type Store struct {
	configDir string
}

func NewStore() (*Store, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, err
	}
	return &Store{configDir: configDir}, nil
}

// NewStoreAt uses dir instead of the platform config directory.
func NewStoreAt(dir string) *Store {
	return &Store{configDir: dir}
}

// getConfigDir returns the platform-specific config directory
func getConfigDir() (string, error) {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir, nil
	}

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "seedgraph"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "seedgraph"), nil
	default:
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configHome = filepath.Join(home, ".config")
		}
		return filepath.Join(configHome, "seedgraph"), nil
	}
}

func (s *Store) Path() string {
	return filepath.Join(s.configDir, "config.yaml")
}

// Load reads the config file. A missing file yields an empty config.
func (s *Store) Load() (*Config, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config.yaml: %w", err)
	}
	return &cfg, nil
}

func (s *Store) Save(cfg *Config) error {
	if err := os.MkdirAll(s.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(s.Path(), data, 0600); err != nil {
		return fmt.Errorf("failed to write config.yaml: %w", err)
	}
	return nil
}

// Set updates one field by its yaml key and saves the file.
func (s *Store) Set(key, value string) error {
	cfg, err := s.Load()
	if err != nil {
		return err
	}
	if err := cfg.set(key, value); err != nil {
		return err
	}
	return s.Save(cfg)
}

func (s *Store) Get(key string) (string, error) {
	cfg, err := s.Load()
	if err != nil {
		return "", err
	}
	return cfg.get(key)
}

// Keys lists the settable keys.
func Keys() []string {
	keys := []string{"server_url", "timeout_sec", "db_path", "log_mode", "verbose", "output_dir"}
	sort.Strings(keys)
	return keys
}

func (c *Config) set(key, value string) error {
	switch key {
	case "server_url":
		c.ServerURL = value
	case "timeout_sec":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("timeout_sec must be a non-negative integer, got %q", value)
		}
		c.TimeoutSec = n
	case "db_path":
		c.DBPath = value
	case "log_mode":
		if value != "dev" && value != "prod" {
			return fmt.Errorf("log_mode must be dev or prod, got %q", value)
		}
		c.LogMode = value
	case "verbose":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("verbose must be true or false, got %q", value)
		}
		c.Verbose = b
	case "output_dir":
		c.OutputDir = value
	default:
		return fmt.Errorf("%w: %s (valid: %v)", ErrUnknownKey, key, Keys())
	}
	return nil
}

func (c *Config) get(key string) (string, error) {
	switch key {
	case "server_url":
		return c.ServerURL, nil
	case "timeout_sec":
		return strconv.Itoa(c.TimeoutSec), nil
	case "db_path":
		return c.DBPath, nil
	case "log_mode":
		return c.LogMode, nil
	case "verbose":
		return strconv.FormatBool(c.Verbose), nil
	case "output_dir":
		return c.OutputDir, nil
	default:
		return "", fmt.Errorf("%w: %s (valid: %v)", ErrUnknownKey, key, Keys())
	}
}

// ResolveServerURL picks the server URL using the priority order:
// 1. Explicit value (command-line flag)
// 2. Environment variable
// 3. Config file
// 4. Built-in default
// The second return value names the source.
func ResolveServerURL(explicit string, cfg *Config) (string, string) {
	if explicit != "" {
		return explicit, "command-line flag"
	}
	if env := os.Getenv(EnvServerURL); env != "" {
		return env, fmt.Sprintf("environment variable (%s)", EnvServerURL)
	}
	if cfg != nil && cfg.ServerURL != "" {
		return cfg.ServerURL, "config file"
	}
	return DefaultServerURL, "default"
}

// LogModeOrDefault returns the configured log mode or dev.
func (c *Config) LogModeOrDefault() string {
	if c.LogMode == "" {
		return DefaultLogMode
	}
	return c.LogMode
}
