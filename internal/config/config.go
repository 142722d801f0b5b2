package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// PlaybackMethod selects the execution strategy for remote tracks
type PlaybackMethod string

const (
	// MethodPipe streams downloader output directly into the player
	MethodPipe PlaybackMethod = "pipe"
	// MethodCache downloads to a local file before playback
	MethodCache PlaybackMethod = "cache"
)

// Config holds all application configuration
type Config struct {
	Playback PlaybackConfig `mapstructure:"playback"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Search   SearchConfig   `mapstructure:"search"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Debug    bool           `mapstructure:"debug"`

	// DataDir holds history, index and checkpoint files
	DataDir string `mapstructure:"data_dir"`
}

// PlaybackConfig holds playback behavior configuration
type PlaybackConfig struct {
	Method PlaybackMethod `mapstructure:"method"` // "pipe" or "cache"
	Video  bool           `mapstructure:"video"`  // video-capable player variant
}

// CacheConfig holds the bounded media cache configuration
type CacheConfig struct {
	Dir          string `mapstructure:"dir"`
	MaxFiles     int    `mapstructure:"max_files"`
	ForceRefresh bool   `mapstructure:"force_refresh"`
}

// SearchConfig holds remote search configuration
type SearchConfig struct {
	Limit       int    `mapstructure:"limit"`
	CookiesFile string `mapstructure:"cookies_file"`
}

// ToolsConfig names the external downloader and player commands
type ToolsConfig struct {
	Downloader string `mapstructure:"downloader"`
	Player     string `mapstructure:"player"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File       string `mapstructure:"file"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Playback: PlaybackConfig{
			Method: MethodPipe,
		},
		Cache: CacheConfig{
			Dir:      filepath.Join(defaultDataPath(), "cache"),
			MaxFiles: 25,
		},
		Search: SearchConfig{
			Limit:       10,
			CookiesFile: "cookies.txt",
		},
		Tools: ToolsConfig{
			Downloader: "yt-dlp",
			Player:     "ffplay",
		},
		Logging: LoggingConfig{
			File:       filepath.Join(defaultDataPath(), "logs", "player.log"),
			Level:      "WARN",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		DataDir: defaultDataPath(),
	}
}

// defaultDataPath returns the default data directory for the current OS
func defaultDataPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "tunecast")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "tunecast")
	}
}

// configDir is swapped in tests to keep writes out of the user's home
var configDir = defaultConfigPath

// defaultConfigPath returns the default config directory for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "tunecast")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "tunecast")
	}
}

// LoadConfig loads configuration from file and environment
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir())
	viper.AddConfigPath(".")

	// Environment variable overrides
	viper.SetEnvPrefix("TUNECAST")
	viper.AutomaticEnv()

	firstRun := false
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		firstRun = true
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if cfg.Debug {
		cfg.Logging.Level = "DEBUG"
	}
	if firstRun {
		// Write the defaults so the user has a file to edit. A
		// read-only config directory is not fatal.
		_ = SaveConfig(cfg)
	}
	return cfg, nil
}

// SaveConfig saves the current configuration to file
func SaveConfig(cfg *Config) error {
	configPath := configDir()
	if err := os.MkdirAll(configPath, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	viper.Set("playback.method", string(cfg.Playback.Method))
	viper.Set("playback.video", cfg.Playback.Video)

	viper.Set("cache.dir", cfg.Cache.Dir)
	viper.Set("cache.max_files", cfg.Cache.MaxFiles)
	viper.Set("cache.force_refresh", cfg.Cache.ForceRefresh)

	viper.Set("search.limit", cfg.Search.Limit)
	viper.Set("search.cookies_file", cfg.Search.CookiesFile)

	viper.Set("tools.downloader", cfg.Tools.Downloader)
	viper.Set("tools.player", cfg.Tools.Player)

	viper.Set("logging.file", cfg.Logging.File)
	viper.Set("logging.level", cfg.Logging.Level)
	viper.Set("logging.max_size_mb", cfg.Logging.MaxSizeMB)
	viper.Set("logging.max_backups", cfg.Logging.MaxBackups)

	viper.Set("debug", cfg.Debug)
	viper.Set("data_dir", cfg.DataDir)

	configFile := filepath.Join(configPath, "config.yaml")
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// HistoryPath returns the ledger file location
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history.json")
}

// IndexPath returns the play-count index file location
func (c *Config) IndexPath() string {
	return filepath.Join(c.DataDir, "history_index.json")
}

// CheckpointPath returns the playback checkpoint file location
func (c *Config) CheckpointPath() string {
	return filepath.Join(c.DataDir, "player_state.json")
}

// ExportDir returns the directory history exports are written to
func (c *Config) ExportDir() string {
	return filepath.Join(c.DataDir, "logs")
}
