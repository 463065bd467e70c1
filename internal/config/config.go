package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultCacheTTL is the fallback response-cache lifetime
const DefaultCacheTTL = time.Hour

// Config holds all configuration settings
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Analysis AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

type StorageConfig struct {
	Type         string `mapstructure:"type" yaml:"type"` // "sqlite", "postgres"
	Path         string `mapstructure:"path" yaml:"path"`
	DSN          string `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
}

type CacheConfig struct {
	Backend       string        `mapstructure:"backend" yaml:"backend"` // "sql", "bolt", "redis"
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl"`
	BoltPath      string        `mapstructure:"bolt_path" yaml:"bolt_path"`
	RedisAddr     string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" yaml:"redis_db"`
}

type AnalysisConfig struct {
	StatusRetention  time.Duration `mapstructure:"status_retention" yaml:"status_retention"`
	ProgressEvery    int           `mapstructure:"progress_every" yaml:"progress_every"`
	ProgressInterval time.Duration `mapstructure:"progress_interval" yaml:"progress_interval"`
	DefaultBranch    string        `mapstructure:"default_branch" yaml:"default_branch"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	JSON       bool   `mapstructure:"json" yaml:"json"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSize    int64  `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// Default returns default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Storage: StorageConfig{
			Type:         "sqlite",
			Path:         filepath.Join(homeDir, ".ctm", "ctm.db"),
			MaxOpenConns: 25,
		},
		Cache: CacheConfig{
			Backend:   "sql",
			TTL:       DefaultCacheTTL,
			BoltPath:  filepath.Join(homeDir, ".ctm", "cache.bolt"),
			RedisAddr: "localhost:6379",
		},
		Analysis: AnalysisConfig{
			StatusRetention:  time.Hour,
			ProgressEvery:    100,
			ProgressInterval: 10 * time.Second,
			DefaultBranch:    "main",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    10 * 1024 * 1024,
			MaxBackups: 3,
		},
	}
}

// Load loads configuration from file, environment and .env files
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("storage.type", cfg.Storage.Type)
	v.SetDefault("storage.path", cfg.Storage.Path)
	v.SetDefault("storage.max_open_conns", cfg.Storage.MaxOpenConns)
	v.SetDefault("cache.backend", cfg.Cache.Backend)
	v.SetDefault("cache.ttl", cfg.Cache.TTL)
	v.SetDefault("cache.bolt_path", cfg.Cache.BoltPath)
	v.SetDefault("cache.redis_addr", cfg.Cache.RedisAddr)
	v.SetDefault("analysis.status_retention", cfg.Analysis.StatusRetention)
	v.SetDefault("analysis.progress_every", cfg.Analysis.ProgressEvery)
	v.SetDefault("analysis.progress_interval", cfg.Analysis.ProgressInterval)
	v.SetDefault("analysis.default_branch", cfg.Analysis.DefaultBranch)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.max_size", cfg.Logging.MaxSize)
	v.SetDefault("logging.max_backups", cfg.Logging.MaxBackups)

	v.SetEnvPrefix("CTM")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".ctm")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".ctm"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// CacheTTL returns the configured response-cache TTL, falling back to
// DefaultCacheTTL when unset or non-positive
func (c *Config) CacheTTL() time.Duration {
	if c.Cache.TTL <= 0 {
		return DefaultCacheTTL
	}
	return c.Cache.TTL
}

// loadEnvFiles loads .env files in order of precedence
func loadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}

	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".ctm", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies plain (unprefixed) environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if storageType := os.Getenv("STORAGE_TYPE"); storageType != "" {
		cfg.Storage.Type = storageType
	}
	if path := os.Getenv("DATABASE_PATH"); path != "" {
		cfg.Storage.Path = expandPath(path)
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		cfg.Storage.DSN = dsn
	}

	if backend := os.Getenv("CACHE_BACKEND"); backend != "" {
		cfg.Cache.Backend = backend
	}
	if seconds := os.Getenv("CACHE_DURATION"); seconds != "" {
		if n, err := strconv.Atoi(seconds); err == nil {
			cfg.Cache.TTL = time.Duration(n) * time.Second
		}
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Cache.RedisAddr = addr
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("storage", c.Storage)
	v.Set("cache", c.Cache)
	v.Set("analysis", c.Analysis)
	v.Set("logging", c.Logging)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
