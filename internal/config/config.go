package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/mmcdole/kiosk/internal/domain"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "KIOSK"
	configFileName = "config.yaml"
)

// Config holds all application configuration
type Config struct {
	Source  SourceConfig  `mapstructure:"source"`
	API     APIConfig     `mapstructure:"api"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Viewer  ViewerConfig  `mapstructure:"viewer"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SourceConfig selects where the catalog and artwork come from
type SourceConfig struct {
	Mode      string `mapstructure:"mode"`       // "remote" or "local"
	LocalPath string `mapstructure:"local_path"` // dataset root for local mode
	Manifest  string `mapstructure:"manifest"`   // catalog file under local_path
	Provider  string `mapstructure:"provider"`   // preferred download provider
}

// APIConfig holds the vendor API endpoints
type APIConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	CDNURL        string        `mapstructure:"cdn_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	OfflineStatus int           `mapstructure:"offline_status"`
	Secret        string        `mapstructure:"secret"`
	UserAgent     string        `mapstructure:"user_agent"`
}

// CacheConfig holds cache sizing and freshness policy
type CacheConfig struct {
	Dir               string        `mapstructure:"dir"`
	CatalogTTL        time.Duration `mapstructure:"catalog_ttl"`
	SettingsTTL       time.Duration `mapstructure:"settings_ttl"`
	LRUCapacity       int           `mapstructure:"lru_capacity"`
	Retries           int           `mapstructure:"retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	NotFoundThreshold int           `mapstructure:"not_found_threshold"`
	MaxConcurrent     int           `mapstructure:"max_concurrent"`
}

// ViewerConfig holds the external image viewer used by the CLI
type ViewerConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			Mode:     "remote",
			Manifest: "games.json",
		},
		API: APIConfig{
			BaseURL:       "https://api.kiosk.example",
			CDNURL:        "https://cdn.kiosk.example/catalog.json",
			Timeout:       30 * time.Second,
			OfflineStatus: 503,
			UserAgent:     "Kiosk/1.0",
		},
		Cache: CacheConfig{
			Dir:               defaultCachePath(),
			CatalogTTL:        time.Hour,
			SettingsTTL:       30 * time.Second,
			LRUCapacity:       200,
			Retries:           2,
			RetryDelay:        2 * time.Second,
			NotFoundThreshold: 4,
			MaxConcurrent:     6,
		},
		Viewer: ViewerConfig{
			Args: []string{},
		},
		Logging: LoggingConfig{
			File:  defaultLogPath(),
			Level: "INFO",
		},
	}
}

// Kind returns the configured source as a domain kind
func (c *SourceConfig) Kind() domain.SourceKind {
	if strings.EqualFold(c.Mode, "local") {
		return domain.SourceLocal
	}
	return domain.SourceRemote
}

// Settings converts the source section into the host settings snapshot
func (c *Config) Settings() domain.Settings {
	return domain.Settings{
		Mode:      c.Source.Kind(),
		LocalPath: ExpandHome(c.Source.LocalPath),
		Manifest:  c.Source.Manifest,
		Provider:  c.Source.Provider,
	}
}

// Validate reports configuration that would make the cache misbehave
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Source.Mode) {
	case "remote":
		if c.API.BaseURL == "" {
			errs = append(errs, errors.New("api.base_url is required in remote mode"))
		}
	case "local":
		if c.Source.LocalPath == "" {
			errs = append(errs, errors.New("source.local_path is required in local mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("source.mode must be remote or local, got %q", c.Source.Mode))
	}

	if c.Source.Manifest == "" {
		errs = append(errs, errors.New("source.manifest must not be empty"))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api.timeout must be positive"))
	}
	if c.API.OfflineStatus < 100 || c.API.OfflineStatus > 599 {
		errs = append(errs, fmt.Errorf("api.offline_status must be an HTTP status, got %d", c.API.OfflineStatus))
	}
	if c.Cache.CatalogTTL <= 0 {
		errs = append(errs, errors.New("cache.catalog_ttl must be positive"))
	}
	if c.Cache.SettingsTTL <= 0 {
		errs = append(errs, errors.New("cache.settings_ttl must be positive"))
	}
	if c.Cache.LRUCapacity <= 0 {
		errs = append(errs, errors.New("cache.lru_capacity must be positive"))
	}
	if c.Cache.Retries < 0 {
		errs = append(errs, errors.New("cache.retries must not be negative"))
	}
	if c.Cache.RetryDelay <= 0 {
		errs = append(errs, errors.New("cache.retry_delay must be positive"))
	}
	if c.Cache.NotFoundThreshold <= 0 {
		errs = append(errs, errors.New("cache.not_found_threshold must be positive"))
	}
	if c.Cache.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("cache.max_concurrent must be positive"))
	}

	return errors.Join(errs...)
}

// defaultLogPath returns the default log file path for the current OS
func defaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "kiosk", "kiosk.log")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "kiosk", "kiosk.log")
	}
}

// DefaultConfigPath returns the default config directory for the current OS
func DefaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "kiosk")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "kiosk")
	}
}

// defaultCachePath returns the default cache directory path for the current OS
func defaultCachePath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "kiosk", "cache")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "kiosk", "cache")
	}
}

// ExpandHome expands a leading ~ to the user's home directory
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	// Environment variable overrides, e.g. KIOSK_SOURCE_MODE
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())
	return v
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("source.mode", cfg.Source.Mode)
	v.SetDefault("source.local_path", cfg.Source.LocalPath)
	v.SetDefault("source.manifest", cfg.Source.Manifest)
	v.SetDefault("source.provider", cfg.Source.Provider)

	v.SetDefault("api.base_url", cfg.API.BaseURL)
	v.SetDefault("api.cdn_url", cfg.API.CDNURL)
	v.SetDefault("api.timeout", cfg.API.Timeout.String())
	v.SetDefault("api.offline_status", cfg.API.OfflineStatus)
	v.SetDefault("api.secret", cfg.API.Secret)
	v.SetDefault("api.user_agent", cfg.API.UserAgent)

	v.SetDefault("cache.dir", cfg.Cache.Dir)
	v.SetDefault("cache.catalog_ttl", cfg.Cache.CatalogTTL.String())
	v.SetDefault("cache.settings_ttl", cfg.Cache.SettingsTTL.String())
	v.SetDefault("cache.lru_capacity", cfg.Cache.LRUCapacity)
	v.SetDefault("cache.retries", cfg.Cache.Retries)
	v.SetDefault("cache.retry_delay", cfg.Cache.RetryDelay.String())
	v.SetDefault("cache.not_found_threshold", cfg.Cache.NotFoundThreshold)
	v.SetDefault("cache.max_concurrent", cfg.Cache.MaxConcurrent)

	v.SetDefault("viewer.command", cfg.Viewer.Command)
	v.SetDefault("viewer.args", cfg.Viewer.Args)

	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.level", cfg.Logging.Level)
}

// LoadConfig loads configuration from the default locations and environment
func LoadConfig() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.AddConfigPath(DefaultConfigPath())
	v.AddConfigPath(".")
	return load(v)
}

// LoadConfigFile loads configuration from an explicit file and environment
func LoadConfigFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to dir/config.yaml, creating dir if needed. An empty
// dir means the default config path.
func SaveConfig(cfg *Config, dir string) error {
	if dir == "" {
		dir = DefaultConfigPath()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	setDefaults(v, cfg)

	configFile := filepath.Join(dir, configFileName)
	if err := v.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// CachePath returns the configured cache directory with ~ expanded
func (c *Config) CachePath() string {
	return ExpandHome(c.Cache.Dir)
}
