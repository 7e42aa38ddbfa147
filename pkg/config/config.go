/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config controls how a skeletal B-tree map is constructed and how it
// talks to its archiver.
type Config struct {
	Tree     Tree     `yaml:"tree"`
	Archiver Archiver `yaml:"archiver"`
	Logging  Logging  `yaml:"logging"`
}

// Tree holds the structural parameters handed to skel.NewTree.
type Tree struct {
	// NodeMin is the B-tree minimum degree t (non-root nodes hold
	// [t-1, 2t-1] entries).
	NodeMin int `yaml:"node_min"`
}

// Archiver selects and configures the node-archiver backing a tree.
type Archiver struct {
	// Kind is one of "memory" or "pebble".
	Kind string `yaml:"kind"`
	// PebbleDir is the on-disk directory used when Kind == "pebble".
	PebbleDir string `yaml:"pebble_dir"`
	// Workers bounds the bulk-inflate scheduler's worker pool size.
	Workers int `yaml:"workers"`
	// TaskQueueCapacity is the configured capacity of the driver's
	// handoff queue to the scheduler (default 16). skel.Tree.BulkInflate
	// does not read it; its queue capacity is fixed at 16.
	TaskQueueCapacity int `yaml:"task_queue_capacity"`
}

// Logging contains logging configuration.
type Logging struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Tree: Tree{
			NodeMin: 16,
		},
		Archiver: Archiver{
			Kind:              "memory",
			PebbleDir:         "./data",
			Workers:           4,
			TaskQueueCapacity: 16,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from the specified path.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	// Validate path to prevent directory traversal.
	if !filepath.IsAbs(configPath) {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		configPath = absPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// SaveConfig saves the configuration to the specified path with secure
// permissions.
func SaveConfig(config *Config, configPath string) error {
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects configurations that would violate a tree invariant
// before they ever reach skel.NewTree.
func (c *Config) Validate() error {
	if c.Tree.NodeMin < 2 {
		return fmt.Errorf("tree.node_min must be >= 2, got %d", c.Tree.NodeMin)
	}
	switch c.Archiver.Kind {
	case "memory", "pebble":
	default:
		return fmt.Errorf("archiver.kind must be \"memory\" or \"pebble\", got %q", c.Archiver.Kind)
	}
	if c.Archiver.Kind == "pebble" && c.Archiver.PebbleDir == "" {
		return fmt.Errorf("archiver.pebble_dir is required when archiver.kind is \"pebble\"")
	}
	if c.Archiver.Workers < 1 {
		return fmt.Errorf("archiver.workers must be >= 1, got %d", c.Archiver.Workers)
	}
	if c.Archiver.TaskQueueCapacity < 1 {
		return fmt.Errorf("archiver.task_queue_capacity must be >= 1, got %d", c.Archiver.TaskQueueCapacity)
	}
	return nil
}

// BootstrapConfig writes a default configuration to configPath if one
// doesn't already exist there, returning the resulting config either way.
func BootstrapConfig(configPath string, nodeMin int) (*Config, error) {
	if ConfigExists(configPath) {
		return LoadConfig(configPath)
	}

	config := DefaultConfig()
	if nodeMin > 0 {
		config.Tree.NodeMin = nodeMin
	}

	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save bootstrap config: %w", err)
	}

	return config, nil
}

// GetDefaultConfigPath returns the default configuration path for the
// current platform.
func GetDefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./libindex.yaml"
	}

	configDir := filepath.Join(homeDir, ".config", "libindex")
	return filepath.Join(configDir, "config.yaml")
}

// ConfigExists checks if a configuration file exists.
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return !os.IsNotExist(err)
}
