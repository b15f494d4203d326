package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/CTAG07/markovtext/pkg/markov"
	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds the configuration for the HTTP server and storage.
type ServerConfig struct {
	ApiAddr      string `json:"api_addr" yaml:"api_addr"`
	LogLevel     string `json:"log_level" yaml:"log_level"`
	DataDir      string `json:"data_dir" yaml:"data_dir"`
	DatabasePath string `json:"database_path" yaml:"database_path"`
	ExportDir    string `json:"export_dir" yaml:"export_dir"`
}

// MarkovConfig holds the defaults used when training and generating.
type MarkovConfig struct {
	StateSize       int     `json:"state_size" yaml:"state_size"`
	RejectPattern   string  `json:"reject_pattern" yaml:"reject_pattern"`
	Tries           int     `json:"tries" yaml:"tries"`
	MinWords        int     `json:"min_words" yaml:"min_words"`
	MaxWords        int     `json:"max_words" yaml:"max_words"`
	MaxOverlapRatio float64 `json:"max_overlap_ratio" yaml:"max_overlap_ratio"`
	MaxOverlapTotal int     `json:"max_overlap_total" yaml:"max_overlap_total"`
	// Corpora maps model names to corpus files trained at startup when the
	// model is not stored yet.
	Corpora map[string]string `json:"corpora" yaml:"corpora"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server *ServerConfig `json:"server_config" yaml:"server_config"`
	Markov *MarkovConfig `json:"markov_config" yaml:"markov_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ApiAddr:      ":7278",
		LogLevel:     "info",
		DataDir:      "./data",
		DatabasePath: "./data/markovtext.db?_journal_mode=WAL&_busy_timeout=5000",
		ExportDir:    "./data/exports",
	}
}

// DefaultMarkovConfig creates a markov configuration matching the library defaults.
func DefaultMarkovConfig() *MarkovConfig {
	return &MarkovConfig{
		StateSize:       markov.DefaultStateSize,
		RejectPattern:   markov.DefaultRejectPattern,
		Tries:           markov.DefaultTries,
		MinWords:        0,
		MaxWords:        markov.DefaultMaxWords,
		MaxOverlapRatio: markov.DefaultMaxOverlapRatio,
		MaxOverlapTotal: markov.DefaultMaxOverlapTotal,
		Corpora:         map[string]string{},
	}
}

// TextOptions converts the training settings into markov options.
func (c *MarkovConfig) TextOptions() []markov.TextOption {
	opts := []markov.TextOption{markov.WithTextStateSize(c.StateSize)}
	if c.RejectPattern == "" {
		opts = append(opts, markov.WithoutRejectPattern())
	} else {
		opts = append(opts, markov.WithRejectPattern(c.RejectPattern))
	}
	return opts
}

// GenerateOptions converts the generation settings into markov options.
func (c *MarkovConfig) GenerateOptions() []markov.GenerateOption {
	return []markov.GenerateOption{
		markov.WithTries(c.Tries),
		markov.WithMinWords(c.MinWords),
		markov.WithMaxWords(c.MaxWords),
		markov.WithMaxOverlapRatio(c.MaxOverlapRatio),
		markov.WithMaxOverlapTotal(c.MaxOverlapTotal),
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func marshalConfig(path string, config *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(config)
	}
	return json.MarshalIndent(config, "", "  ")
}

func unmarshalConfig(path string, data []byte, config *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, config)
	}
	return json.Unmarshal(data, config)
}

// LoadConfig reads the configuration from a JSON or YAML file at the given
// path, chosen by extension. If the file doesn't exist, it creates one with
// default values.
func LoadConfig(path string) (*Config, error) {
	// Initialize with default configurations
	config := &Config{
		Server: DefaultServerConfig(),
		Markov: DefaultMarkovConfig(),
	}

	file, err := os.ReadFile(path)
	if err != nil {
		// If the file doesn't exist, create it with the default config.
		if os.IsNotExist(err) {
			var data []byte
			data, err = marshalConfig(path, config)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// Log a warning instead of failing, as the server can still run with defaults.
				fmt.Printf("warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = unmarshalConfig(path, file, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if config.Server == nil {
		config.Server = DefaultServerConfig()
	}
	if config.Markov == nil {
		config.Markov = DefaultMarkovConfig()
	}
	if err = config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the settings that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	if c.Markov.StateSize < 1 || c.Markov.StateSize > markov.MaxStateSize {
		return fmt.Errorf("invalid config: state_size must be between 1 and %d, got %d", markov.MaxStateSize, c.Markov.StateSize)
	}
	if _, err := regexp.Compile(c.Markov.RejectPattern); err != nil {
		return fmt.Errorf("invalid config: reject_pattern: %w", err)
	}
	if c.Markov.MaxWords < c.Markov.MinWords {
		return fmt.Errorf("invalid config: max_words (%d) is below min_words (%d)", c.Markov.MaxWords, c.Markov.MinWords)
	}
	if c.Server.DatabasePath == "" {
		return fmt.Errorf("invalid config: database_path is empty")
	}
	return nil
}

// ConfigManager handles thread-safe access to the configuration.
type ConfigManager struct {
	config     *Config
	mu         sync.RWMutex
	configPath string
}

// NewConfigManager loads the config and initializes the manager.
func NewConfigManager(path string) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return &ConfigManager{config: cfg, configPath: path}, nil
}

// Get returns a thread-safe copy of the current configuration.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return *cm.config
}

// Markov returns a copy of the current markov settings.
func (cm *ConfigManager) Markov() MarkovConfig {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return *cm.config.Markov
}

// Update validates the configuration, saves it to disk and swaps it in.
// Server settings take effect on the next restart.
func (cm *ConfigManager) Update(newConfig Config) error {
	if newConfig.Server == nil || newConfig.Markov == nil {
		return fmt.Errorf("invalid config: server_config and markov_config are required")
	}
	if err := newConfig.Validate(); err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	data, err := marshalConfig(cm.configPath, &newConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err = atomic.WriteFile(cm.configPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	*cm.config = newConfig
	return nil
}
