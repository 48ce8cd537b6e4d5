// config.go - Configuration management for the pool daemon
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
)

// Proof backends.
const (
	ProofDigest  = "digest"
	ProofGroth16 = "groth16"
)

// Config represents the daemon configuration
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Proof  ProofConfig  `yaml:"proof"`
	Events EventsConfig `yaml:"events"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	ReadTimeoutSec  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSec int    `yaml:"write_timeout_seconds"`
	// Token bucket per caller: RateBurst tokens, refilled RateRefill per second.
	RateBurst  int `yaml:"rate_burst"`
	RateRefill int `yaml:"rate_refill"`
	// EnableFaucet exposes /v1/faucet. Development only.
	EnableFaucet bool `yaml:"enable_faucet"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver"`
	BadgerDir   string `yaml:"badger_dir"`
	SyncWrites  bool   `yaml:"sync_writes"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type ProofConfig struct {
	Backend   string `yaml:"backend"`
	KeyDir    string `yaml:"key_dir"`
	MinLen    int    `yaml:"min_len"`
	CacheSize int    `yaml:"cache_size"`
}

type EventsConfig struct {
	Log          bool     `yaml:"log"`
	RedisAddr    string   `yaml:"redis_addr"`
	RedisStream  string   `yaml:"redis_stream"`
	RedisMaxLen  int64    `yaml:"redis_max_len"`
	KafkaBrokers []string `yaml:"kafka_brokers,omitempty"`
	KafkaTopic   string   `yaml:"kafka_topic"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	JSON       bool   `yaml:"json"`

	EnableAudit  bool   `yaml:"enable_audit"`
	AuditLogPath string `yaml:"audit_log_path"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeoutSec:  10,
			WriteTimeoutSec: 30,
			RateBurst:       20,
			RateRefill:      5,
		},
		Store: StoreConfig{
			Driver:    DriverBadger,
			BadgerDir: "data/badger",
		},
		Proof: ProofConfig{
			Backend:   ProofDigest,
			KeyDir:    "keys",
			MinLen:    64,
			CacheSize: 4096,
		},
		Events: EventsConfig{
			Log:         true,
			RedisStream: "shieldpool.events",
			RedisMaxLen: 100_000,
			KafkaTopic:  "shieldpool.events",
		},
		Log: LogConfig{
			Level:        "info",
			File:         "logs/poold.log",
			MaxSizeMB:    100,
			MaxBackups:   5,
			MaxAgeDays:   30,
			EnableAudit:  true,
			AuditLogPath: "logs/audit.log",
		},
	}
}

// Load reads path, creating it with defaults when it does not exist, and
// then applies SHIELDPOOL_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		if err := Save(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	flag := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("SHIELDPOOL_LISTEN_ADDR", &c.Server.ListenAddr)
	str("SHIELDPOOL_STORE_DRIVER", &c.Store.Driver)
	str("SHIELDPOOL_BADGER_DIR", &c.Store.BadgerDir)
	str("SHIELDPOOL_POSTGRES_DSN", &c.Store.PostgresDSN)
	str("SHIELDPOOL_PROOF_BACKEND", &c.Proof.Backend)
	str("SHIELDPOOL_KEY_DIR", &c.Proof.KeyDir)
	str("SHIELDPOOL_REDIS_ADDR", &c.Events.RedisAddr)
	str("SHIELDPOOL_KAFKA_TOPIC", &c.Events.KafkaTopic)
	str("SHIELDPOOL_LOG_LEVEL", &c.Log.Level)
	str("SHIELDPOOL_LOG_FILE", &c.Log.File)
	if v, ok := lookup("SHIELDPOOL_KAFKA_BROKERS"); ok {
		c.Events.KafkaBrokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Events.KafkaBrokers = append(c.Events.KafkaBrokers, b)
			}
		}
	}
	if err := num("SHIELDPOOL_RATE_BURST", &c.Server.RateBurst); err != nil {
		return err
	}
	if err := num("SHIELDPOOL_RATE_REFILL", &c.Server.RateRefill); err != nil {
		return err
	}
	return flag("SHIELDPOOL_ENABLE_FAUCET", &c.Server.EnableFaucet)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Server.ReadTimeoutSec <= 0 || c.Server.WriteTimeoutSec <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}
	if c.Server.RateBurst <= 0 {
		return fmt.Errorf("server.rate_burst must be positive")
	}
	if c.Server.RateRefill <= 0 {
		return fmt.Errorf("server.rate_refill must be positive")
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverBadger:
		if c.Store.BadgerDir == "" {
			return fmt.Errorf("store.badger_dir is required for the badger driver")
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	switch c.Proof.Backend {
	case ProofDigest:
		if c.Proof.MinLen <= 32 {
			return fmt.Errorf("proof.min_len must exceed 32")
		}
	case ProofGroth16:
		if c.Proof.KeyDir == "" {
			return fmt.Errorf("proof.key_dir is required for groth16")
		}
	default:
		return fmt.Errorf("unknown proof.backend %q", c.Proof.Backend)
	}
	if c.Proof.CacheSize < 0 {
		return fmt.Errorf("proof.cache_size must not be negative")
	}
	if len(c.Events.KafkaBrokers) > 0 && c.Events.KafkaTopic == "" {
		return fmt.Errorf("events.kafka_topic is required with kafka_brokers")
	}
	if c.Events.RedisAddr != "" && c.Events.RedisStream == "" {
		return fmt.Errorf("events.redis_stream is required with redis_addr")
	}
	if c.Log.EnableAudit && c.Log.AuditLogPath == "" {
		return fmt.Errorf("log.audit_log_path is required when auditing")
	}
	return nil
}
