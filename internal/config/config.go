// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"arbor/internal/errors"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`

	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	Cache struct {
		SpaceLimit int     `mapstructure:"space_limit"`
		LoadFactor float64 `mapstructure:"load_factor"`
	} `mapstructure:"cache"`

	Model struct {
		MaxDepth int      `mapstructure:"max_depth"` // 0 means unlimited
		Ignore   []string `mapstructure:"ignore"`
	} `mapstructure:"model"`

	Watch struct {
		Debounce time.Duration `mapstructure:"debounce"`
	} `mapstructure:"watch"`

	Environment string `mapstructure:"environment"` // dev, prod
	LogLevel    string `mapstructure:"log_level"`   // debug, info, warn, error
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7420)
	v.SetDefault("database.path", ".arbor")
	v.SetDefault("cache.space_limit", 1000)
	v.SetDefault("cache.load_factor", 1.0/3)
	v.SetDefault("model.max_depth", 0)
	v.SetDefault("model.ignore", []string{
		".git", ".arbor", "node_modules", "vendor", "dist", "build",
	})
	v.SetDefault("watch.debounce", 200*time.Millisecond)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
}

// Load reads defaults, then the JSON file at path (skipped when path is empty
// or missing), then ARBOR_ environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("json")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("reading config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("checking config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("ARBOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) Validate() error {
	if c.Cache.SpaceLimit <= 0 {
		return errors.ValidationError("cache.space_limit must be positive", c.Cache.SpaceLimit)
	}
	if c.Cache.LoadFactor <= 0 || c.Cache.LoadFactor > 1 {
		return errors.ValidationError("cache.load_factor must be in (0, 1]", c.Cache.LoadFactor)
	}
	if c.Model.MaxDepth < 0 {
		return errors.ValidationError("model.max_depth must not be negative", c.Model.MaxDepth)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.ValidationError("server.port out of range", c.Server.Port)
	}
	return nil
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
