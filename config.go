package rhi

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the file form of the RenderContext options.
//
//	backend = "vulkan"
//	frames_in_flight = 3
//	fence_timeout = "2s"
//
//	[shaders]
//	root = "assets/shaders"
//	hot_reload = true
type Config struct {
	Backend         string `toml:"backend"`
	Debug           bool   `toml:"debug"`
	DescriptorModel string `toml:"descriptor_model"`
	FramesInFlight  int    `toml:"frames_in_flight"`
	SwapchainFormat string `toml:"swapchain_format"`
	FenceTimeout    string `toml:"fence_timeout"`
	LogLevel        string `toml:"log_level"`

	Shaders     ShaderConfig     `toml:"shaders"`
	Descriptors DescriptorConfig `toml:"descriptors"`
}

// ShaderConfig configures shader loading.
type ShaderConfig struct {
	Root      string `toml:"root"`
	HotReload bool   `toml:"hot_reload"`
	BlobCache int    `toml:"blob_cache"`
}

// DescriptorConfig configures the descriptor allocator.
type DescriptorConfig struct {
	PageSize uint32 `toml:"page_size"`
}

// LoadConfig reads a TOML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rhi: load config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("rhi: load config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes TOML. Unknown keys are rejected.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return &cfg, nil
}

// Level returns the configured log level, Info when unset.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log level: %w", ErrInvalidArgument, err)
	}
	return l, nil
}

// Options converts the config to RenderContext options. Zero values leave
// the defaults in place.
func (c *Config) Options() ([]Option, error) {
	api, err := ParseGraphicsAPI(c.Backend)
	if err != nil {
		return nil, err
	}
	opts := []Option{WithBackend(api)}

	bc := BackendConfig{Label: "rhi", Debug: c.Debug}
	switch c.DescriptorModel {
	case "", "heap":
		bc.DescriptorModel = DescriptorModelHeap
	case "pool":
		bc.DescriptorModel = DescriptorModelPool
	default:
		return nil, fmt.Errorf("%w: descriptor model %q", ErrInvalidArgument, c.DescriptorModel)
	}
	opts = append(opts, WithBackendConfig(bc))

	if c.FramesInFlight != 0 {
		opts = append(opts, WithFramesInFlight(c.FramesInFlight))
	}
	if c.SwapchainFormat != "" {
		f, err := ParseFormat(c.SwapchainFormat)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithSwapchainFormat(f))
	}
	if c.FenceTimeout != "" {
		d, err := time.ParseDuration(c.FenceTimeout)
		if err != nil {
			return nil, fmt.Errorf("%w: fence timeout: %w", ErrInvalidArgument, err)
		}
		opts = append(opts, WithFenceTimeout(d))
	}
	if c.Shaders.Root != "" {
		opts = append(opts, WithShaderRoot(c.Shaders.Root))
	}
	if c.Shaders.HotReload {
		opts = append(opts, WithHotReload(true))
	}
	if c.Shaders.BlobCache > 0 {
		opts = append(opts, WithShaderBlobCache(c.Shaders.BlobCache))
	}
	if c.Descriptors.PageSize > 0 {
		opts = append(opts, WithDescriptorPageSize(c.Descriptors.PageSize))
	}
	return opts, nil
}
