package offlinecache

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/always-cache/offline-cache/cache"
	responsetransformer "github.com/always-cache/offline-cache/pkg/response-transformer"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	ProviderSQLite  = "sqlite"
	ProviderLevelDB = "leveldb"
	ProviderMemory  = "memory"
)

// FileConfig is the deployment configuration, read from a YAML file and
// overridden by OFFLINE_* environment variables.
type FileConfig struct {
	Origin string `yaml:"origin" env:"OFFLINE_ORIGIN"`
	// Hostname of the origin, if the origin is given as an IP address.
	Host string `yaml:"host" env:"OFFLINE_HOST"`
	Port int    `yaml:"port" env:"OFFLINE_PORT"`
	// Listen address of the status, install and metrics endpoints.
	AdminAddr string   `yaml:"adminAddr" env:"OFFLINE_ADMIN_ADDR"`
	Version   string   `yaml:"version" env:"OFFLINE_VERSION"`
	Manifest  []string `yaml:"manifest" env:"OFFLINE_MANIFEST" envSeparator:","`
	// One of sqlite, leveldb or memory.
	Provider string `yaml:"provider" env:"OFFLINE_PROVIDER"`
	// Database file (sqlite) or directory (leveldb).
	DB              string                    `yaml:"db" env:"OFFLINE_DB"`
	KeepOldVersions bool                      `yaml:"keepOldVersions" env:"OFFLINE_KEEP_OLD_VERSIONS"`
	Rules           responsetransformer.Rules `yaml:"rules"`
}

// ReadConfig reads the YAML file at path, if any, and applies environment overrides.
// The result is not validated.
func ReadConfig(path string) (FileConfig, error) {
	var cfg FileConfig
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return FileConfig{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return FileConfig{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return FileConfig{}, err
	}
	return cfg, nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadConfig reads and validates the configuration.
func LoadConfig(path string) (FileConfig, error) {
	cfg, err := ReadConfig(path)
	if err != nil {
		return FileConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return FileConfig{}, err
	}
	return cfg, nil
}

// Validate applies defaults and checks required fields.
func (c *FileConfig) Validate() error {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.AdminAddr == "" {
		c.AdminAddr = "127.0.0.1:9090"
	}
	if c.Provider == "" {
		c.Provider = ProviderSQLite
	}
	if c.DB == "" {
		switch c.Provider {
		case ProviderSQLite:
			c.DB = "offline-cache.db"
		case ProviderLevelDB:
			c.DB = "offline-cache.leveldb"
		}
	}
	if c.Origin == "" {
		return errors.New("origin is required")
	}
	c.Origin = strings.TrimRight(c.Origin, "/")
	if u, err := url.Parse(c.Origin); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("origin %q is not an absolute URL", c.Origin)
	}
	if err := cache.CheckVersion(c.Version); err != nil {
		return fmt.Errorf("version: %w", err)
	}
	if len(c.Manifest) == 0 {
		return errors.New("manifest must not be empty")
	}
	for i, entry := range c.Manifest {
		if strings.TrimSpace(entry) == "" {
			return fmt.Errorf("manifest[%d] is empty", i)
		}
	}
	switch c.Provider {
	case ProviderSQLite, ProviderLevelDB, ProviderMemory:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	return nil
}

// OpenCache opens the configured cache provider.
// For sqlite, db "memory" opens an in-memory database.
func (c FileConfig) OpenCache() (cache.CacheProvider, error) {
	switch c.Provider {
	case ProviderSQLite:
		filename := c.DB
		if filename == "memory" {
			filename = ""
		}
		store, err := cache.NewSQLiteCache(filename)
		if err != nil {
			return nil, err
		}
		return store, nil
	case ProviderLevelDB:
		store, err := cache.NewLevelDBCache(c.DB)
		if err != nil {
			return nil, err
		}
		return store, nil
	case ProviderMemory:
		return cache.NewMemCache(), nil
	}
	return nil, fmt.Errorf("unknown provider %q", c.Provider)
}

// WorkerConfig builds the worker configuration for the given store.
func (c FileConfig) WorkerConfig(store cache.CacheProvider, logger *zerolog.Logger, metrics *Metrics) (Config, error) {
	originURL, err := url.Parse(c.Origin)
	if err != nil {
		return Config{}, fmt.Errorf("parse origin: %w", err)
	}
	return Config{
		Cache:           store,
		Version:         c.Version,
		Manifest:        c.Manifest,
		OriginURL:       *originURL,
		OriginHost:      c.Host,
		Rules:           c.Rules,
		KeepOldVersions: c.KeepOldVersions,
		Logger:          logger,
		Metrics:         metrics,
	}, nil
}
