// Package config loads and validates the tracker daemon's YAML
// configuration. It applies defaults so the daemon can rely on a fully
// populated value.
package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// StorageConfig holds Persistence Gateway connection settings, mirroring
// spec §6's storage_url / storage_user / storage_password fields.
type StorageConfig struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// HTTPConfig holds the tracker RPC transport's listen settings.
type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

// ReaperConfig holds the Reaper's sweep interval and eviction threshold,
// defaulting to spec §4.5's 60s / 120s.
type ReaperConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	TimeoutSeconds  int `yaml:"timeout_seconds"`
}

// Config mirrors the tracker's YAML schema.
type Config struct {
	Log      LogConfig     `yaml:"log"`
	Storage  StorageConfig `yaml:"storage"`
	MaxUsers int           `yaml:"max_users"`
	HTTP     HTTPConfig    `yaml:"http"`
	Reaper   ReaperConfig  `yaml:"reaper"`
}

// ReaperInterval returns the configured sweep interval as a time.Duration.
func (c Config) ReaperInterval() time.Duration {
	return time.Duration(c.Reaper.IntervalSeconds) * time.Second
}

// ReaperTimeout returns the configured eviction threshold as a
// time.Duration.
func (c Config) ReaperTimeout() time.Duration {
	return time.Duration(c.Reaper.TimeoutSeconds) * time.Second
}

// Load reads a YAML config file, overlays storage.password from
// TRACKER_STORAGE_PASSWORD in the .env file at envPath (when present) and
// then from a non-empty process environment variable of the same name (so
// the password never has to live in the checked-in YAML), applies
// defaults, and validates the result.
func Load(path, envPath string) (Config, error) {
	var c Config
	if path == "" {
		return c, errors.New("config path is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}

	if envPath != "" {
		vals, err := godotenv.Read(envPath)
		if err != nil && !os.IsNotExist(err) {
			return c, err
		}
		if v := vals["TRACKER_STORAGE_PASSWORD"]; v != "" {
			c.Storage.Password = v
		}
	}
	if v := os.Getenv("TRACKER_STORAGE_PASSWORD"); v != "" {
		c.Storage.Password = v
	}

	applyDefaults(&c)
	if err := validate(&c); err != nil {
		return Config{}, err
	}
	c.Storage.URL = strings.TrimSpace(c.Storage.URL)
	return c, nil
}

// applyDefaults populates zero-values with the defaults spec.md names.
func applyDefaults(c *Config) {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Storage.URL == "" {
		c.Storage.URL = "./data/tracker.db"
	}
	if c.MaxUsers == 0 {
		c.MaxUsers = 50
	}
	if c.HTTP.Bind == "" {
		c.HTTP.Bind = "127.0.0.1"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 7070
	}
	if c.Reaper.IntervalSeconds == 0 {
		c.Reaper.IntervalSeconds = 60
	}
	if c.Reaper.TimeoutSeconds == 0 {
		c.Reaper.TimeoutSeconds = 120
	}
}

// validate performs the sanity checks spec §6 names: length caps on the
// storage fields and the 1..100 range on max_users.
func validate(c *Config) error {
	if strings.TrimSpace(c.Log.Level) == "" {
		return errors.New("log.level is required")
	}
	if len(c.Storage.URL) > 200 {
		return errors.New("storage.url exceeds 200 characters")
	}
	if len(c.Storage.User) > 100 {
		return errors.New("storage.user exceeds 100 characters")
	}
	if len(c.Storage.Password) > 100 {
		return errors.New("storage.password exceeds 100 characters")
	}
	if c.MaxUsers < 1 || c.MaxUsers > 100 {
		return errors.New("max_users must be between 1 and 100")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port is invalid")
	}
	if c.Reaper.IntervalSeconds <= 0 {
		return errors.New("reaper.interval_seconds must be positive")
	}
	if c.Reaper.TimeoutSeconds <= 0 {
		return errors.New("reaper.timeout_seconds must be positive")
	}
	return nil
}
