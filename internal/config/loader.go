package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr        string   `json:"addr" yaml:"addr" toml:"addr"`
	HomeDir     string   `json:"home_dir" yaml:"home_dir" toml:"home_dir"`
	ModelsDir   string   `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	BinaryPath  string   `json:"binary_path" yaml:"binary_path" toml:"binary_path"`
	WorkerPath  string   `json:"worker_path" yaml:"worker_path" toml:"worker_path"`
	Host        string   `json:"host" yaml:"host" toml:"host"`
	BasePort    int      `json:"base_port" yaml:"base_port" toml:"base_port"`
	Model       string   `json:"model" yaml:"model" toml:"model"`
	StagingDirs []string `json:"staging_dirs" yaml:"staging_dirs" toml:"staging_dirs"`
	LogLevel    string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogJSON     bool     `json:"log_json" yaml:"log_json" toml:"log_json"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Merge overlays non-zero fields of b onto a and returns the result.
func Merge(a, b Config) Config {
	if b.Addr != "" {
		a.Addr = b.Addr
	}
	if b.HomeDir != "" {
		a.HomeDir = b.HomeDir
	}
	if b.ModelsDir != "" {
		a.ModelsDir = b.ModelsDir
	}
	if b.BinaryPath != "" {
		a.BinaryPath = b.BinaryPath
	}
	if b.WorkerPath != "" {
		a.WorkerPath = b.WorkerPath
	}
	if b.Host != "" {
		a.Host = b.Host
	}
	if b.BasePort != 0 {
		a.BasePort = b.BasePort
	}
	if b.Model != "" {
		a.Model = b.Model
	}
	if len(b.StagingDirs) > 0 {
		a.StagingDirs = b.StagingDirs
	}
	if b.LogLevel != "" {
		a.LogLevel = b.LogLevel
	}
	if b.LogJSON {
		a.LogJSON = true
	}
	return a
}
