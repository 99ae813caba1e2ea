package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

const (
	storeDriverSQLite = "sqlite"
	storeDriverFile   = "file"
)

// ServerConfig holds the configuration for the HTTP API and logging.
type ServerConfig struct {
	ApiAddr  string `json:"api_addr" yaml:"api_addr"`
	LogLevel string `json:"log_level" yaml:"log_level"`
	DataDir  string `json:"data_dir" yaml:"data_dir"`
}

// StoreConfig selects where models are persisted.
type StoreConfig struct {
	Driver       string `json:"driver" yaml:"driver"` // "sqlite" or "file"
	DatabasePath string `json:"database_path" yaml:"database_path"`
	FileDir      string `json:"file_dir" yaml:"file_dir"`
}

// PoolConfig holds settings for the in-memory model pool.
type PoolConfig struct {
	TTLSec             int    `json:"ttl_sec" yaml:"ttl_sec"`
	CheckpointSchedule string `json:"checkpoint_schedule" yaml:"checkpoint_schedule"`
}

// GenerationConfig holds settings for text generation.
type GenerationConfig struct {
	MaxGenerateSteps int `json:"max_generate_steps" yaml:"max_generate_steps"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server     *ServerConfig     `json:"server_config" yaml:"server_config"`
	Store      *StoreConfig      `json:"store_config" yaml:"store_config"`
	Pool       *PoolConfig       `json:"pool_config" yaml:"pool_config"`
	Generation *GenerationConfig `json:"generation_config" yaml:"generation_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ApiAddr:  ":7390",
		LogLevel: "info",
		DataDir:  "./data",
	}
}

// DefaultStoreConfig creates a store configuration with default values.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		Driver:       storeDriverSQLite,
		DatabasePath: "./data/mimicry.db",
		FileDir:      "./data/models",
	}
}

// DefaultPoolConfig creates a pool configuration with default values.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		TTLSec:             300,
		CheckpointSchedule: "@every 1m",
	}
}

// DefaultGenerationConfig creates a generation configuration with default values.
func DefaultGenerationConfig() *GenerationConfig {
	return &GenerationConfig{MaxGenerateSteps: 0}
}

// DefaultConfig returns a Config with every section set to its defaults.
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Store:      DefaultStoreConfig(),
		Pool:       DefaultPoolConfig(),
		Generation: DefaultGenerationConfig(),
	}
}

// TTL returns the pool TTL as a duration.
func (c *PoolConfig) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadConfig reads the configuration from a JSON or YAML file at the given
// path, picked by extension. If the file doesn't exist, it creates one with
// default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			var data []byte
			data, err = marshalConfig(path, config)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if dir := filepath.Dir(path); dir != "" {
				_ = os.MkdirAll(dir, 0o755)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// The process can still run with defaults.
				fmt.Fprintf(os.Stderr, "warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if isYAML(path) {
		err = yaml.Unmarshal(file, config)
	} else {
		err = json.Unmarshal(file, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.fillDefaults()

	if err = config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func marshalConfig(path string, config *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(config)
	}
	return json.MarshalIndent(config, "", "  ")
}

// fillDefaults restores sections a config file left out entirely.
func (c *Config) fillDefaults() {
	if c.Server == nil {
		c.Server = DefaultServerConfig()
	}
	if c.Store == nil {
		c.Store = DefaultStoreConfig()
	}
	if c.Pool == nil {
		c.Pool = DefaultPoolConfig()
	}
	if c.Generation == nil {
		c.Generation = DefaultGenerationConfig()
	}
}

// Validate rejects settings the process cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case storeDriverSQLite:
		if c.Store.DatabasePath == "" {
			return fmt.Errorf("invalid config: store_config.database_path is required for the %q driver", storeDriverSQLite)
		}
	case storeDriverFile:
		if c.Store.FileDir == "" {
			return fmt.Errorf("invalid config: store_config.file_dir is required for the %q driver", storeDriverFile)
		}
	default:
		return fmt.Errorf("invalid config: unknown store driver %q", c.Store.Driver)
	}
	if c.Pool.TTLSec <= 0 {
		return fmt.Errorf("invalid config: pool_config.ttl_sec must be positive, got %d", c.Pool.TTLSec)
	}
	if c.Generation.MaxGenerateSteps < 0 {
		return fmt.Errorf("invalid config: generation_config.max_generate_steps must not be negative")
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(config *ServerConfig) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(config.LogLevel)}))
}
