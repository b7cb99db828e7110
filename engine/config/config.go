// Package config loads the renderer configuration from TOML or YAML and
// keeps it current while the file changes on disk.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	/** @brief One of debug, info, warn, error, fatal. */
	Level string `toml:"level" yaml:"level"`
}

type GraphConfig struct {
	/** @brief Largest value a pass may carry inline, in bytes. */
	MaxPassDataSize uint32 `toml:"max_pass_data_size" yaml:"max_pass_data_size"`
	/** @brief Wraps every pass in a debug marker named after it. */
	DebugMarkers bool `toml:"debug_markers" yaml:"debug_markers"`
}

type TransientConfig struct {
	/** @brief Free pooled allocations unused for longer than this are destroyed. */
	MaxIdleFrames uint64 `toml:"max_idle_frames" yaml:"max_idle_frames"`
}

type RendererConfig struct {
	/** @brief Device implementation: headless or vulkan. */
	Backend string `toml:"backend" yaml:"backend"`
	/** @brief Application name reported to the driver. */
	ApplicationName string `toml:"application_name" yaml:"application_name"`
	/** @brief Frames that may be queued on the render thread at once. */
	FramesInFlight int `toml:"frames_in_flight" yaml:"frames_in_flight"`
	/** @brief Capacity of the executor job queue. */
	ExecutorQueueSize int `toml:"executor_queue_size" yaml:"executor_queue_size"`
	/** @brief Initial slot count of each bindless table. */
	BindlessCapacity int `toml:"bindless_capacity" yaml:"bindless_capacity"`
}

type Config struct {
	Log       LogConfig       `toml:"log" yaml:"log"`
	Graph     GraphConfig     `toml:"graph" yaml:"graph"`
	Transient TransientConfig `toml:"transient" yaml:"transient"`
	Renderer  RendererConfig  `toml:"renderer" yaml:"renderer"`
}

func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Graph: GraphConfig{
			MaxPassDataSize: 256,
			DebugMarkers:    true,
		},
		Transient: TransientConfig{MaxIdleFrames: 8},
		Renderer: RendererConfig{
			Backend:           "headless",
			ApplicationName:   "Anima Framegraph",
			FramesInFlight:    2,
			ExecutorQueueSize: 4,
			BindlessCapacity:  1024,
		},
	}
}

// Load reads path over the defaults. The format follows the extension:
// .toml, .yaml or .yml.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := Decode(filepath.Ext(path), data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode unmarshals data in the format named by ext into cfg.
func Decode(ext string, data []byte, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".toml":
		return toml.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	}
	return fmt.Errorf("unsupported config format %q", ext)
}

func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Graph.MaxPassDataSize == 0 {
		return fmt.Errorf("graph.max_pass_data_size must be positive")
	}
	switch strings.ToLower(c.Renderer.Backend) {
	case "headless", "vulkan":
	default:
		return fmt.Errorf("renderer.backend must be headless or vulkan, got %q", c.Renderer.Backend)
	}
	if c.Renderer.FramesInFlight < 1 {
		return fmt.Errorf("renderer.frames_in_flight must be at least 1, got %d", c.Renderer.FramesInFlight)
	}
	if c.Renderer.ExecutorQueueSize < 0 {
		return fmt.Errorf("renderer.executor_queue_size must not be negative, got %d", c.Renderer.ExecutorQueueSize)
	}
	if c.Renderer.BindlessCapacity < 1 {
		return fmt.Errorf("renderer.bindless_capacity must be positive, got %d", c.Renderer.BindlessCapacity)
	}
	return nil
}
