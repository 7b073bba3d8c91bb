package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/alucardeht/code-fader/internal/fader"
	"github.com/alucardeht/code-fader/internal/index"
	"github.com/alucardeht/code-fader/internal/lsp"
	"github.com/alucardeht/code-fader/internal/watcher"
)

const dirName = ".codefader"

type DecorationConfig struct {
	Opacity         string `yaml:"opacity" json:"opacity"`
	BackgroundColor string `yaml:"background_color" json:"backgroundColor"`
}

type FaderConfig struct {
	Enabled    bool             `yaml:"enabled"`
	AutoUnfold bool             `yaml:"auto_unfold"`
	Decoration DecorationConfig `yaml:"decoration"`
	Exclude    []string         `yaml:"exclude"`
}

// Settings is the part of the fader config the coordinator reads per event.
func (f FaderConfig) Settings() fader.Settings {
	return fader.Settings{
		Enabled:    f.Enabled,
		AutoUnfold: f.AutoUnfold,
		Exclude:    f.Exclude,
	}
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	MemoryEntries int    `yaml:"memory_entries"`
}

type WarmerConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxFileSize     int64    `yaml:"max_file_size"`
	MaxQueueSize    int      `yaml:"max_queue_size"`
	WorkerCount     int      `yaml:"worker_count"`
	RateLimit       int      `yaml:"rate_limit"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
}

func (w WarmerConfig) Index() index.WarmerConfig {
	return index.WarmerConfig{
		WorkerCount:     w.WorkerCount,
		MaxQueueSize:    w.MaxQueueSize,
		RateLimit:       w.RateLimit,
		MaxFileSize:     w.MaxFileSize,
		ExcludePatterns: w.ExcludePatterns,
	}
}

type DaemonConfig struct {
	SocketPath string `yaml:"socket_path"`
	LockPath   string `yaml:"lock_path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Fader   FaderConfig           `yaml:"fader"`
	Store   StoreConfig           `yaml:"store"`
	Warmer  WarmerConfig          `yaml:"warmer"`
	Daemon  DaemonConfig          `yaml:"daemon"`
	Log     LogConfig             `yaml:"log"`
	LSP     lsp.ManagerConfig     `yaml:"lsp"`
	Watcher watcher.WatcherConfig `yaml:"watcher"`
}

// Dir is where state and the default config file live.
func Dir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.TempDir()
	}
	return filepath.Join(homeDir, dirName)
}

// DefaultPath is the config file read when no path is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

func Default() *Config {
	dir := Dir()
	warm := index.DefaultWarmerConfig()

	return &Config{
		Fader: FaderConfig{
			Enabled:    true,
			AutoUnfold: false,
			Decoration: DecorationConfig{
				Opacity:         "0.2",
				BackgroundColor: "transparent",
			},
		},
		Store: StoreConfig{
			Path:          filepath.Join(dir, "state.db"),
			MemoryEntries: index.DefaultMemoryEntries,
		},
		Warmer: WarmerConfig{
			Enabled:         true,
			MaxFileSize:     warm.MaxFileSize,
			MaxQueueSize:    warm.MaxQueueSize,
			WorkerCount:     warm.WorkerCount,
			RateLimit:       warm.RateLimit,
			ExcludePatterns: warm.ExcludePatterns,
		},
		Daemon: DaemonConfig{
			SocketPath: filepath.Join(dir, "daemon.sock"),
			LockPath:   filepath.Join(dir, "daemon.lock"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		LSP:     lsp.DefaultManagerConfig(),
		Watcher: watcher.DefaultWatcherConfig(),
	}
}

// Load overlays the YAML file at path on the defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.LSP.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Store.MemoryEntries <= 0 {
		return fmt.Errorf("store.memory_entries must be positive, got %d", c.Store.MemoryEntries)
	}
	if c.Watcher.DebounceWindow < 0 {
		return fmt.Errorf("watcher.debounce_window must not be negative")
	}
	if err := c.LSP.Validate(); err != nil {
		return fmt.Errorf("lsp.%w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// EnsureDirectories creates the parent directories of every path the
// daemon writes to.
func (c *Config) EnsureDirectories() error {
	for _, p := range []string{c.Store.Path, c.Daemon.SocketPath, c.Daemon.LockPath} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return err
		}
	}
	return nil
}
