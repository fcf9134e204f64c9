// Package config loads server configuration from a .env file, an optional
// YAML file and IB_* environment variables, in that order of precedence
// (later wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/evcraddock/incident-board/internal/db"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
	StoreRedis  = "redis"
)

const (
	defaultPort        = 3000
	defaultMongoDB     = "reporting"
	defaultMaxFailures = 10
)

// Config is the server configuration.
type Config struct {
	DBPath   string `yaml:"db_path"`
	Port     int    `yaml:"port"`
	DevMode  bool   `yaml:"dev_mode"`
	BaseURL  string `yaml:"base_url"`
	Store    string `yaml:"store"`
	MongoURI string `yaml:"mongo_uri"`
	MongoDB  string `yaml:"mongo_db"`

	SessionStore  string        `yaml:"session_store"`
	RedisURL      string        `yaml:"redis_url"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	SecureCookies bool          `yaml:"secure_cookies"`

	BcryptCost       int `yaml:"bcrypt_cost"`
	LoginMaxFailures int `yaml:"login_max_failures"`
}

// Default returns the built-in defaults.
func Default() Config {
	cfg := Config{
		Port:             defaultPort,
		Store:            StoreSQLite,
		MongoDB:          defaultMongoDB,
		SessionStore:     StoreSQLite,
		LoginMaxFailures: defaultMaxFailures,
	}
	if p, err := db.DefaultPath(); err == nil {
		cfg.DBPath = p
	}
	return cfg
}

// DefaultPath returns the default config file path: ~/.config/ib/config.yaml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".config", "ib", "config.yaml"), nil
}

// Load builds the configuration. An empty path reads DefaultPath if it
// exists; an explicit path must exist.
func Load(path string) (Config, error) {
	// .env never overrides variables already set in the environment.
	_ = godotenv.Load()

	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err == nil {
			path = p
		}
	}
	if path != "" {
		if err := cfg.loadFile(path, explicit); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !required {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.DBPath, "IB_DB_PATH")
	setString(&c.BaseURL, "IB_BASE_URL")
	setString(&c.Store, "IB_STORE")
	setString(&c.MongoURI, "IB_MONGO_URI")
	setString(&c.MongoDB, "IB_MONGO_DB")
	setString(&c.SessionStore, "IB_SESSION_STORE")
	setString(&c.RedisURL, "IB_REDIS_URL")

	if err := setInt(&c.Port, "IB_PORT"); err != nil {
		return err
	}
	if err := setInt(&c.BcryptCost, "IB_BCRYPT_COST"); err != nil {
		return err
	}
	if err := setInt(&c.LoginMaxFailures, "IB_LOGIN_MAX_FAILURES"); err != nil {
		return err
	}
	if err := setBool(&c.DevMode, "IB_DEV_MODE"); err != nil {
		return err
	}
	if err := setBool(&c.SecureCookies, "IB_SECURE_COOKIES"); err != nil {
		return err
	}

	if v := os.Getenv("IB_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("IB_SESSION_TTL: %w", err)
		}
		c.SessionTTL = d
	}
	return nil
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	switch c.Store {
	case StoreSQLite:
	case StoreMongo:
		if c.MongoURI == "" {
			return errors.New("mongo store requires IB_MONGO_URI")
		}
	default:
		return fmt.Errorf("unknown store %q (want %s or %s)", c.Store, StoreSQLite, StoreMongo)
	}

	switch c.SessionStore {
	case StoreSQLite:
	case StoreRedis:
		if c.RedisURL == "" {
			return errors.New("redis session store requires IB_REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown session store %q (want %s or %s)", c.SessionStore, StoreSQLite, StoreRedis)
	}

	if c.NeedsSQLite() && c.DBPath == "" {
		return errors.New("database path is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.BcryptCost != 0 && (c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost) {
		return fmt.Errorf("bcrypt cost %d out of range [%d, %d]", c.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("session ttl %s is negative", c.SessionTTL)
	}
	if c.LoginMaxFailures < 0 {
		return fmt.Errorf("login max failures %d is negative", c.LoginMaxFailures)
	}
	return nil
}

// NeedsSQLite reports whether any component is backed by the SQLite file.
func (c Config) NeedsSQLite() bool {
	return c.Store == StoreSQLite || c.SessionStore == StoreSQLite
}

// PasskeysEnabled reports whether WebAuthn login should be offered.
func (c Config) PasskeysEnabled() bool {
	return c.BaseURL != "" && c.Store == StoreSQLite
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
