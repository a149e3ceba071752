package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed config.toml.sample
var configTemplate string

type Config struct {
	DataDir string       `toml:"data_dir"`
	Web     WebConfig    `toml:"web"`
	Search  SearchConfig `toml:"search"`
}

// WebConfig holds the web server listen address.
type WebConfig struct {
	Host string `toml:"host"`
	Port string `toml:"port"`
}

// SearchConfig holds the remote Stract search API settings.
type SearchConfig struct {
	BaseURL    string   `toml:"base_url"`
	NumResults int      `toml:"num_results"`
	Timeout    Duration `toml:"timeout"`
}

type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func GetDefaultConfig() (*Config, error) {
	dataDir, err := GetDefaultDataDir()
	if err != nil {
		return nil, fmt.Errorf("getting default data directory: %w", err)
	}
	return &Config{
		DataDir: dataDir,
		Web: WebConfig{
			Host: "localhost",
			Port: "8080",
		},
		Search: SearchConfig{
			BaseURL:    "https://trystract.com",
			NumResults: 100,
			Timeout:    Duration{30 * time.Second},
		},
	}, nil
}

func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return GetDefaultConfig()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if config.DataDir == "" {
		dataDir, err := GetDefaultDataDir()
		if err != nil {
			return nil, fmt.Errorf("getting default data directory: %w", err)
		}
		config.DataDir = dataDir
	}

	if config.Web.Host == "" {
		config.Web.Host = "localhost"
	}
	if config.Web.Port == "" {
		config.Web.Port = "8080"
	}
	if config.Search.BaseURL == "" {
		config.Search.BaseURL = "https://trystract.com"
	}
	if config.Search.NumResults == 0 {
		config.Search.NumResults = 100
	}
	if config.Search.Timeout.Duration == 0 {
		config.Search.Timeout = Duration{30 * time.Second}
	}

	return &config, nil
}

func (c *Config) SaveConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}

func (c *Config) SaveTemplateConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	template, err := c.generateConfigTemplate()
	if err != nil {
		return fmt.Errorf("generating config template: %w", err)
	}
	return os.WriteFile(configPath, []byte(template), 0644)
}

func (c *Config) generateConfigTemplate() (string, error) {
	dataDir := c.DataDir
	if dataDir == "" {
		var err error
		dataDir, err = GetDefaultDataDir()
		if err != nil {
			return "", fmt.Errorf("getting default data directory: %w", err)
		}
	}

	// Replace the placeholder data_dir with the actual path
	template := strings.Replace(configTemplate, "/home/user/.local/share/stract", dataDir, 1)
	return template, nil
}

// DBPath returns the path of the SQLite database inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "stract.db")
}

// GetDefaultDataDir returns the default data directory for the database
func GetDefaultDataDir() (string, error) {
	// Use XDG_DATA_HOME if set, otherwise use ~/.local/share
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	stractDir := filepath.Join(dataDir, "stract")

	if err := os.MkdirAll(stractDir, 0755); err != nil {
		return "", fmt.Errorf("creating data directory %s: %w", stractDir, err)
	}

	return stractDir, nil
}

// GetConfigDir returns the configuration directory
func GetConfigDir() (string, error) {
	// Use XDG_CONFIG_HOME if set, otherwise use ~/.config
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	stractConfigDir := filepath.Join(configDir, "stract")

	if err := os.MkdirAll(stractConfigDir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory %s: %w", stractConfigDir, err)
	}

	return stractConfigDir, nil
}

// GetDefaultConfigPath returns the default configuration file path
func GetDefaultConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}
