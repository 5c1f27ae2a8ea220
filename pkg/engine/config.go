// ABOUTME: Engine configuration with yaml loading
// ABOUTME: Immutable once passed to Open

package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the engine's immutable configuration. The zero value is
// not usable; start from DefaultConfig.
type Config struct {
	// Path of the page file. Empty selects an in-memory page file.
	Path string `yaml:"path"`

	// BufferFrames is the number of frames in the buffer pool.
	BufferFrames int `yaml:"buffer_frames"`

	// Replacement names the victim selection policy: random, lru,
	// lru_k, lfu or clock.
	Replacement string `yaml:"replacement"`

	// LRUKDistance is the K of the lru_k policy.
	LRUKDistance int `yaml:"lru_k"`

	// DirectIO bypasses the OS page cache for the page file.
	DirectIO bool `yaml:"direct_io"`

	LogLevel  string `yaml:"log_level"`
	PrettyLog bool   `yaml:"pretty_log"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		BufferFrames: 64,
		Replacement:  "lru",
		LRUKDistance: 2,
		LogLevel:     "info",
	}
}

// LoadConfig reads a yaml config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("engine: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("engine: parse config %s: %w", path, err)
	}
	return cfg, nil
}
