package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	Env string `yaml:"env"` // "dev" | "prod"

	// Store
	Store   string `yaml:"store"`   // "sqlite" | "memory"
	DBPath  string `yaml:"db_path"` // e.g. "./data/keyway.db"
	SeedDev bool   `yaml:"seed_dev"`

	// Bearer tokens for /access and /audit (HS256)
	JWTSecret string `yaml:"jwt_secret"`

	// Redis backs the resource cache and the unlock limiter. Empty disables both.
	RedisURL          string        `yaml:"redis_url"`
	ResourceCacheTTL  time.Duration `yaml:"resource_cache_ttl"`
	UnlockMaxFailures int           `yaml:"unlock_max_failures"`
	UnlockCooldown    time.Duration `yaml:"unlock_cooldown"`

	// Lock actuator. An empty address selects the simulator.
	ActuatorAddr    string        `yaml:"actuator_addr"`
	ActuatorTimeout time.Duration `yaml:"actuator_timeout"`
	SimLatency      time.Duration `yaml:"sim_latency"`
	SimSuccessRate  float64       `yaml:"sim_success_rate"`

	// Expiry sweep; 0 disables
	SweepInterval time.Duration `yaml:"sweep_interval"`

	DefaultTimeZone string `yaml:"default_time_zone"`
	QRSize          int    `yaml:"qr_size"`
}

const devJWTSecret = "keyway-dev-secret"

// Default returns the built-in settings.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		Env:      "dev",
		Store:    "sqlite",
		DBPath:   "./data/keyway.db",
		SeedDev:  true,

		ResourceCacheTTL:  30 * time.Second,
		UnlockMaxFailures: 10,
		UnlockCooldown:    5 * time.Minute,

		ActuatorTimeout: time.Second,
		SimLatency:      200 * time.Millisecond,
		SimSuccessRate:  0.95,

		SweepInterval: time.Minute,

		DefaultTimeZone: "UTC",
		QRSize:          256,
	}
}

// FromEnv returns the defaults overlaid with KEYWAY_* environment variables.
func FromEnv() Config {
	c := Default()
	c.applyEnv()
	return c
}

// Load reads defaults, then the YAML file at path (if any), then the
// environment. An empty path falls back to KEYWAY_CONFIG_FILE.
func Load(path string) (Config, error) {
	c := Default()

	if path == "" {
		path = strings.TrimSpace(os.Getenv("KEYWAY_CONFIG_FILE"))
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	c.applyEnv()
	return c, nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getenvDefault("KEYWAY_HTTP_ADDR", c.HTTPAddr)
	c.Env = strings.ToLower(getenvDefault("KEYWAY_ENV", c.Env))
	c.Store = strings.ToLower(getenvDefault("KEYWAY_STORE", c.Store))
	c.DBPath = getenvDefault("KEYWAY_DB_PATH", c.DBPath)
	c.SeedDev = getenvBool("KEYWAY_SEED_DEV", c.SeedDev)
	c.JWTSecret = getenvDefault("KEYWAY_JWT_SECRET", c.JWTSecret)

	c.RedisURL = getenvDefault("KEYWAY_REDIS_URL", c.RedisURL)
	c.ResourceCacheTTL = getenvDuration("KEYWAY_RESOURCE_CACHE_TTL", c.ResourceCacheTTL)
	c.UnlockMaxFailures = getenvInt("KEYWAY_UNLOCK_MAX_FAILURES", c.UnlockMaxFailures)
	c.UnlockCooldown = getenvDuration("KEYWAY_UNLOCK_COOLDOWN", c.UnlockCooldown)

	c.ActuatorAddr = getenvDefault("KEYWAY_ACTUATOR_ADDR", c.ActuatorAddr)
	c.ActuatorTimeout = getenvDuration("KEYWAY_ACTUATOR_TIMEOUT", c.ActuatorTimeout)
	c.SimLatency = getenvDuration("KEYWAY_SIM_LATENCY", c.SimLatency)
	c.SimSuccessRate = getenvFloat("KEYWAY_SIM_SUCCESS_RATE", c.SimSuccessRate)

	c.SweepInterval = getenvDuration("KEYWAY_SWEEP_INTERVAL", c.SweepInterval)

	c.DefaultTimeZone = getenvDefault("KEYWAY_DEFAULT_TZ", c.DefaultTimeZone)
	c.QRSize = getenvInt("KEYWAY_QR_SIZE", c.QRSize)
}

// Normalize fixes up soft errors and reports hard ones.
func (c *Config) Normalize() error {
	if c.Env != "dev" && c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}
	if c.Store != "sqlite" && c.Store != "memory" {
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	if c.JWTSecret == "" {
		if c.Env == "prod" {
			return errors.New("config: KEYWAY_JWT_SECRET is required in prod")
		}
		c.JWTSecret = devJWTSecret
	}
	if c.SimSuccessRate < 0 || c.SimSuccessRate > 1 {
		return fmt.Errorf("config: sim success rate %v outside [0,1]", c.SimSuccessRate)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves DefaultTimeZone.
func (c Config) Location() (*time.Location, error) {
	if c.DefaultTimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.DefaultTimeZone)
	if err != nil {
		return nil, fmt.Errorf("config: time zone %q: %w", c.DefaultTimeZone, err)
	}
	return loc, nil
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}
