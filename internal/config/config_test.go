package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "poold.yaml")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())

	_, err = os.Stat(path)
	require.NoError(t, err, "default config is written back")

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadMergesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poold.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: memory\nproof:\n  cache_size: 7\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 7, cfg.Proof.CacheSize)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr, "unset fields keep defaults")
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"SHIELDPOOL_STORE_DRIVER":  "postgres",
		"SHIELDPOOL_POSTGRES_DSN":  "postgres://localhost/pool",
		"SHIELDPOOL_KAFKA_BROKERS": "a:9092, b:9092,",
		"SHIELDPOOL_RATE_BURST":    "3",
		"SHIELDPOOL_ENABLE_FAUCET": "true",
	}
	cfg := Default()
	require.NoError(t, cfg.applyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok }))
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Events.KafkaBrokers)
	assert.Equal(t, 3, cfg.Server.RateBurst)
	assert.True(t, cfg.Server.EnableFaucet)
	require.NoError(t, cfg.Validate())

	env["SHIELDPOOL_RATE_BURST"] = "many"
	assert.Error(t, Default().applyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok }))
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"no listen addr":  func(c *Config) { c.Server.ListenAddr = "" },
		"zero burst":      func(c *Config) { c.Server.RateBurst = 0 },
		"unknown driver":  func(c *Config) { c.Store.Driver = "sqlite" },
		"postgres no dsn": func(c *Config) { c.Store.Driver = DriverPostgres },
		"badger no dir":   func(c *Config) { c.Store.BadgerDir = "" },
		"unknown backend": func(c *Config) { c.Proof.Backend = "stark" },
		"short min len":   func(c *Config) { c.Proof.MinLen = 32 },
		"kafka no topic":  func(c *Config) { c.Events.KafkaBrokers = []string{"k:9092"}; c.Events.KafkaTopic = "" },
		"audit no path":   func(c *Config) { c.Log.AuditLogPath = "" },
		"negative cache":  func(c *Config) { c.Proof.CacheSize = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
